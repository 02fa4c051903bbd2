package actor

import (
	"fmt"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
)

// skillAbility maps each skill to the ability it keys off.
var skillAbility = map[string]Ability{
	"Acrobatics":      Dexterity,
	"Animal Handling": Wisdom,
	"Arcana":          Intelligence,
	"Athletics":       Strength,
	"Deception":       Charisma,
	"History":         Intelligence,
	"Insight":         Wisdom,
	"Intimidation":    Charisma,
	"Investigation":   Intelligence,
	"Medicine":        Wisdom,
	"Nature":          Intelligence,
	"Perception":      Wisdom,
	"Performance":     Charisma,
	"Persuasion":      Charisma,
	"Religion":        Intelligence,
	"Sleight of Hand": Dexterity,
	"Stealth":         Dexterity,
	"Survival":        Wisdom,
}

// SkillAbility returns the ability a skill keys off.
func SkillAbility(skill string) (Ability, bool) {
	ab, ok := skillAbility[skill]
	return ab, ok
}

// Skill holds an actor's per-skill proficiency flag and optional modifier.
type Skill struct {
	Proficient bool `yaml:"proficient" json:"proficient"`
	// Bonus is added on top of the computed modifier.
	Bonus int `yaml:"bonus" json:"bonus"`
	// Override, when set, replaces the whole computation with a fixed value.
	Override *int `yaml:"override,omitempty" json:"override,omitempty"`
}

// CheckResult reports one d20 check. Roll is the TOTAL (d20 + modifiers),
// not the raw die; callers needing the raw die inspect the critical flags.
type CheckResult struct {
	Roll            int  `json:"roll"`
	CriticalSuccess bool `json:"criticalSuccess"` // raw d20 == 20
	CriticalFailure bool `json:"criticalFailure"` // raw d20 == 1
}

// AbilityCheck computes a d20 check total for a raw score.
// modifier = floor((score-10)/2) + (proficient ? proficiencyBonus : 0) + extra.
// When override is non-nil the whole modifier computation is replaced by the
// fixed override value.
func AbilityCheck(score int, proficient bool, proficiencyBonus, extra int, override *int, src dice.Source) CheckResult {
	raw := dice.D20(src)
	mod := Modifier(score)
	if proficient {
		mod += proficiencyBonus
	}
	mod += extra
	if override != nil {
		mod = *override
	}
	return CheckResult{
		Roll:            raw + mod,
		CriticalSuccess: raw == 20,
		CriticalFailure: raw == 1,
	}
}

// SavingThrow rolls d20 + ability modifier + proficiency bonus when the
// actor is proficient in that save.
func (a *Actor) SavingThrow(ab Ability, src dice.Source) CheckResult {
	a.mu.Lock()
	score := a.Abilities.Score(ab)
	proficient := a.SaveProficiencies[ab]
	pb := ProficiencyBonus(a.Level)
	a.mu.Unlock()

	return AbilityCheck(score, proficient, pb, 0, nil, src)
}

// InitiativeModifier is the actor's dexterity modifier.
func (a *Actor) InitiativeModifier() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Modifier(a.Abilities.Dexterity)
}

// SkillCheck rolls the named skill using its ability mapping and the actor's
// skill table. Unknown skill names return an error; a skill the actor has no
// entry for rolls unproficient with no extra modifier.
func (a *Actor) SkillCheck(skill string, src dice.Source) (CheckResult, error) {
	ab, ok := skillAbility[skill]
	if !ok {
		return CheckResult{}, fmt.Errorf("actor: unknown skill %q", skill)
	}

	a.mu.Lock()
	score := a.Abilities.Score(ab)
	entry := a.Skills[skill]
	pb := ProficiencyBonus(a.Level)
	a.mu.Unlock()

	return AbilityCheck(score, entry.Proficient, pb, entry.Bonus, entry.Override, src), nil
}

func errMismatch(name, kind string) error {
	return fmt.Errorf("actor: action %q has invalid kind/payload pairing (%s)", name, kind)
}
