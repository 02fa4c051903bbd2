// Package actor defines one combatant's sheet: ability scores, derived
// modifiers, hit points, conditions, equipment-derived armor class, skills,
// and the named actions available to it.
//
// Each Actor is a single-writer entity: all mutation goes through its own
// methods, which serialise on the actor's mutex. Cross-actor effects (an
// attack reducing a target's HP) must call into the target's methods rather
// than touching fields directly.
package actor

import (
	"sort"
	"sync"
)

// Team is the side a combatant fights for.
type Team string

const (
	TeamParty   Team = "Party"
	TeamEnemies Team = "Enemies"
)

// Ability identifies one of the six ability scores.
type Ability string

const (
	Strength     Ability = "strength"
	Dexterity    Ability = "dexterity"
	Constitution Ability = "constitution"
	Intelligence Ability = "intelligence"
	Wisdom       Ability = "wisdom"
	Charisma     Ability = "charisma"
)

// Abilities lists all six abilities in conventional order.
var Abilities = []Ability{Strength, Dexterity, Constitution, Intelligence, Wisdom, Charisma}

// AbilityScores holds the six ability score values for an actor.
type AbilityScores struct {
	Strength     int `yaml:"strength" json:"strength"`
	Dexterity    int `yaml:"dexterity" json:"dexterity"`
	Constitution int `yaml:"constitution" json:"constitution"`
	Intelligence int `yaml:"intelligence" json:"intelligence"`
	Wisdom       int `yaml:"wisdom" json:"wisdom"`
	Charisma     int `yaml:"charisma" json:"charisma"`
}

// Score returns the raw score for the given ability.
func (a AbilityScores) Score(ab Ability) int {
	switch ab {
	case Strength:
		return a.Strength
	case Dexterity:
		return a.Dexterity
	case Constitution:
		return a.Constitution
	case Intelligence:
		return a.Intelligence
	case Wisdom:
		return a.Wisdom
	case Charisma:
		return a.Charisma
	default:
		return 10
	}
}

// Modifier computes the ability modifier floor((score - 10) / 2), with
// correct flooring for negative values.
func Modifier(score int) int {
	diff := score - 10
	if diff < 0 {
		return (diff - 1) / 2
	}
	return diff / 2
}

// ProficiencyBonus returns the proficiency bonus for the given level:
// (level-1)/4 + 2.
//
// Postcondition: returns >= 2 for level >= 1.
func ProficiencyBonus(level int) int {
	return (level-1)/4 + 2
}

// Condition is a named status effect. Conditions form a set on the actor:
// adding a present condition is a no-op, never duplicated.
type Condition string

const (
	ConditionUnconscious Condition = "Unconscious"
	ConditionProne       Condition = "Prone"
	ConditionPoisoned    Condition = "Poisoned"
	ConditionHidden      Condition = "Hidden"
)

// ArmorCategory gates how much of the dexterity modifier applies to AC.
type ArmorCategory string

const (
	ArmorNone   ArmorCategory = "none"   // unarmored: full DEX
	ArmorLight  ArmorCategory = "light"  // full DEX
	ArmorMedium ArmorCategory = "medium" // DEX capped at +2
	ArmorHeavy  ArmorCategory = "heavy"  // no DEX
)

// Armor is the equipment descriptor AC derives from.
type Armor struct {
	BaseAC     int           `yaml:"base_ac" json:"baseAC"`
	Category   ArmorCategory `yaml:"category" json:"category"`
	Shield     bool          `yaml:"shield" json:"shield"`
	MagicBonus int           `yaml:"magic_bonus" json:"magicBonus"`
}

// shieldBonus is the flat AC bonus for carrying a shield.
const shieldBonus = 2

// Actor is one combatant's sheet. Fields are exported for snapshotting;
// mutate only through methods.
type Actor struct {
	mu sync.Mutex

	ID    string
	Name  string
	Team  Team
	Level int

	Abilities AbilityScores
	MaxHP     int
	CurrentHP int
	Speed     int // feet per turn

	Armor  Armor
	Skills map[string]Skill
	// SaveProficiencies marks the abilities this actor adds its proficiency
	// bonus to on saving throws.
	SaveProficiencies map[Ability]bool

	conditions   map[Condition]struct{}
	actions      []Action
	bonusActions []Action
}

// ProficiencyBonus returns the actor's proficiency bonus derived from level.
func (a *Actor) ProficiencyBonus() int {
	return ProficiencyBonus(a.Level)
}

// AbilityModifier returns the actor's modifier for the given ability.
func (a *Actor) AbilityModifier(ab Ability) int {
	return Modifier(a.Abilities.Score(ab))
}

// ArmorClass derives AC from the armor descriptor:
// base + category-gated DEX modifier + shield bonus + magic bonus.
// Medium armor caps the DEX contribution at +2; heavy armor ignores DEX.
func (a *Actor) ArmorClass() int {
	dex := Modifier(a.Abilities.Dexterity)
	switch a.Armor.Category {
	case ArmorMedium:
		if dex > 2 {
			dex = 2
		}
	case ArmorHeavy:
		dex = 0
	}
	ac := a.Armor.BaseAC + dex + a.Armor.MagicBonus
	if a.Armor.Shield {
		ac += shieldBonus
	}
	return ac
}

// ApplyHPDelta adjusts current HP by amount (negative for damage), clamping
// to [0, MaxHP]. Reaching 0 HP idempotently adds the Unconscious condition.
//
// Postcondition: 0 <= CurrentHP <= MaxHP; HasCondition(Unconscious) iff
// CurrentHP == 0 after a zero-crossing delta.
func (a *Actor) ApplyHPDelta(amount int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	hp := a.CurrentHP + amount
	if hp < 0 {
		hp = 0
	}
	if hp > a.MaxHP {
		hp = a.MaxHP
	}
	a.CurrentHP = hp
	if hp == 0 {
		a.addConditionLocked(ConditionUnconscious)
	}
	return hp
}

// HP returns the current hit points.
func (a *Actor) HP() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CurrentHP
}

// IsUnconscious reports whether the actor is at 0 HP.
func (a *Actor) IsUnconscious() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.conditions[ConditionUnconscious]
	return ok
}

// AddCondition adds c to the condition set. Idempotent.
func (a *Actor) AddCondition(c Condition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addConditionLocked(c)
}

func (a *Actor) addConditionLocked(c Condition) {
	if a.conditions == nil {
		a.conditions = make(map[Condition]struct{})
	}
	a.conditions[c] = struct{}{}
}

// RemoveCondition removes c from the condition set. No-op when absent.
func (a *Actor) RemoveCondition(c Condition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conditions, c)
}

// HasCondition reports whether c is active.
func (a *Actor) HasCondition(c Condition) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.conditions[c]
	return ok
}

// Conditions returns the active conditions sorted by name for stable output.
func (a *Actor) Conditions() []Condition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Condition, 0, len(a.conditions))
	for c := range a.conditions {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AddAction appends an action to the actor's action list. Actions are never
// removed automatically.
func (a *Actor) AddAction(act Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, act)
}

// AddBonusAction appends an action to the actor's bonus-action list.
func (a *Actor) AddBonusAction(act Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bonusActions = append(a.bonusActions, act)
}

// FindAction returns the named action from the action list.
func (a *Actor) FindAction(name string) (Action, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return findAction(a.actions, name)
}

// FindBonusAction returns the named action from the bonus-action list.
func (a *Actor) FindBonusAction(name string) (Action, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return findAction(a.bonusActions, name)
}

func findAction(list []Action, name string) (Action, bool) {
	for _, act := range list {
		if act.Name == name {
			return act, true
		}
	}
	return Action{}, false
}

// Actions returns a copy of the action list.
func (a *Actor) Actions() []Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Action, len(a.actions))
	copy(out, a.actions)
	return out
}

// BonusActions returns a copy of the bonus-action list.
func (a *Actor) BonusActions() []Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Action, len(a.bonusActions))
	copy(out, a.bonusActions)
	return out
}
