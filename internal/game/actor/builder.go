package actor

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
)

// scoreExpr is the standard generation roll: 4d6, drop the lowest.
var scoreExpr = dice.MustParse("4d6kh3")

// RollAbilityScores generates a full set of ability scores, rolling
// 4d6-drop-lowest once per score.
//
// Postcondition: every score is in [3, 18].
func RollAbilityScores(src dice.Source) AbilityScores {
	roll := func() int { return dice.Roll(scoreExpr, src).Total() }
	return AbilityScores{
		Strength:     roll(),
		Dexterity:    roll(),
		Constitution: roll(),
		Intelligence: roll(),
		Wisdom:       roll(),
		Charisma:     roll(),
	}
}

// Config carries everything needed to register a new actor. Abilities may be
// nil to generate scores randomly; MaxHP may be 0 to derive it from level
// and constitution.
type Config struct {
	Name              string
	Team              Team
	Level             int
	Speed             int
	Abilities         *AbilityScores
	MaxHP             int
	Armor             Armor
	Skills            map[string]Skill
	SaveProficiencies []Ability
	Actions           []Action
	BonusActions      []Action
}

// New builds an Actor from cfg, generating a UUID identity and rolling any
// unsupplied ability scores with src.
//
// Precondition: cfg.Name must be non-empty; src must be non-nil.
// Postcondition: CurrentHP == MaxHP >= 1; the condition set is empty.
func New(cfg Config, src dice.Source) (*Actor, error) {
	if cfg.Name == "" {
		return nil, errors.New("actor: name must not be empty")
	}
	if cfg.Team == "" {
		return nil, errors.New("actor: team must not be empty")
	}
	level := cfg.Level
	if level < 1 {
		level = 1
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = 30
	}

	var abilities AbilityScores
	if cfg.Abilities != nil {
		abilities = *cfg.Abilities
	} else {
		abilities = RollAbilityScores(src)
	}

	maxHP := cfg.MaxHP
	if maxHP <= 0 {
		conMod := Modifier(abilities.Constitution)
		maxHP = 8 + conMod + (level-1)*(5+conMod)
		if maxHP < 1 {
			maxHP = 1
		}
	}

	armor := cfg.Armor
	if armor.BaseAC == 0 {
		armor = Armor{BaseAC: 10, Category: ArmorNone}
	}
	if armor.Category == "" {
		armor.Category = ArmorNone
	}

	for _, act := range append(append([]Action{}, cfg.Actions...), cfg.BonusActions...) {
		if err := act.Validate(); err != nil {
			return nil, fmt.Errorf("actor %q: %w", cfg.Name, err)
		}
	}

	saves := make(map[Ability]bool, len(cfg.SaveProficiencies))
	for _, ab := range cfg.SaveProficiencies {
		saves[ab] = true
	}

	skills := make(map[string]Skill, len(cfg.Skills))
	for name, sk := range cfg.Skills {
		if _, ok := skillAbility[name]; !ok {
			return nil, fmt.Errorf("actor %q: unknown skill %q", cfg.Name, name)
		}
		skills[name] = sk
	}

	return &Actor{
		ID:                uuid.NewString(),
		Name:              cfg.Name,
		Team:              cfg.Team,
		Level:             level,
		Abilities:         abilities,
		MaxHP:             maxHP,
		CurrentHP:         maxHP,
		Speed:             speed,
		Armor:             armor,
		Skills:            skills,
		SaveProficiencies: saves,
		conditions:        make(map[Condition]struct{}),
		actions:           append([]Action{}, cfg.Actions...),
		bonusActions:      append([]Action{}, cfg.BonusActions...),
	}, nil
}
