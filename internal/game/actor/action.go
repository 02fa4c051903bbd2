package actor

import "github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"

// ActionKind tags the closed action variant. The resolution engine switches
// exhaustively on it; there is no duck-typed dispatch.
type ActionKind string

const (
	KindWeapon  ActionKind = "weapon"
	KindSpecial ActionKind = "special"
)

// WeaponAction is a weapon attack: attack bonus, reach or range, and a
// damage-roll spec.
type WeaponAction struct {
	AttackBonus int             `yaml:"attack_bonus" json:"attackBonus"`
	ReachFt     int             `yaml:"reach" json:"reachFt"` // melee reach in feet
	RangeFt     int             `yaml:"range" json:"rangeFt"` // ranged distance in feet; 0 = melee only
	Damage      dice.DamageSpec `yaml:"damage" json:"damage"`
}

// SaveSpec names the saving throw a special action forces.
type SaveSpec struct {
	Ability Ability `yaml:"ability" json:"ability"`
	DC      int     `yaml:"dc" json:"dc"`
}

// SpecialAction is a free-form action with an optional saving throw and an
// optional damage spec.
type SpecialAction struct {
	Description string           `yaml:"description" json:"description"`
	Save        *SaveSpec        `yaml:"save,omitempty" json:"save,omitempty"`
	Damage      *dice.DamageSpec `yaml:"damage,omitempty" json:"damage,omitempty"`
}

// Action is the tagged variant: exactly one of Weapon or Special is set,
// matching Kind.
type Action struct {
	Name    string         `yaml:"name" json:"name"`
	Kind    ActionKind     `yaml:"kind" json:"kind"`
	Weapon  *WeaponAction  `yaml:"weapon,omitempty" json:"weapon,omitempty"`
	Special *SpecialAction `yaml:"special,omitempty" json:"special,omitempty"`
}

// Validate checks the tag/payload pairing.
func (a Action) Validate() error {
	switch a.Kind {
	case KindWeapon:
		if a.Weapon == nil || a.Special != nil {
			return errMismatch(a.Name, "weapon")
		}
	case KindSpecial:
		if a.Special == nil || a.Weapon != nil {
			return errMismatch(a.Name, "special")
		}
	default:
		return errMismatch(a.Name, string(a.Kind))
	}
	if a.Name == "" {
		return errMismatch("", string(a.Kind))
	}
	return nil
}
