package dice

import (
	"fmt"
	"strings"
)

// DamageSpec describes a damage roll: dice count, die size, flat modifier,
// and damage type.
type DamageSpec struct {
	Count    int    `yaml:"count" json:"count"`
	Sides    int    `yaml:"sides" json:"sides"`
	Modifier int    `yaml:"modifier" json:"modifier"`
	Type     string `yaml:"type" json:"type"` // "slashing", "fire", ...
}

// String renders the spec as a dice expression with its damage type,
// e.g. "2d6+3 slashing".
func (s DamageSpec) String() string {
	expr := fmt.Sprintf("%dd%d", s.Count, s.Sides)
	if s.Modifier != 0 {
		expr += fmt.Sprintf("%+d", s.Modifier)
	}
	if s.Type != "" {
		expr += " " + s.Type
	}
	return expr
}

// ParseDamage parses a damage expression of the form "<dice> [type]",
// e.g. "2d6+3 slashing" or "1d8".
func ParseDamage(s string) (DamageSpec, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return DamageSpec{}, fmt.Errorf("dice: invalid damage expression %q", s)
	}
	expr, err := Parse(fields[0])
	if err != nil {
		return DamageSpec{}, err
	}
	if expr.KeepHighest != 0 {
		return DamageSpec{}, fmt.Errorf("dice: keep-highest is not valid in damage expression %q", s)
	}
	spec := DamageSpec{
		Count:    expr.Count,
		Sides:    expr.Sides,
		Modifier: expr.Modifier,
	}
	if len(fields) == 2 {
		spec.Type = strings.ToLower(fields[1])
	}
	return spec, nil
}

// DamageResult holds one resolved damage roll.
type DamageResult struct {
	Dice  []int  // individual die results
	Total int    // sum(Dice) + modifier, floored at 0
	Type  string // damage type carried over from the spec
}

// RollDamage resolves spec using src. A critical hit doubles the number of
// dice rolled (exactly 2 × spec.Count); the flat modifier is never doubled.
//
// Precondition: spec.Count >= 1 and spec.Sides >= 2; src must be non-nil.
// Postcondition: len(result.Dice) == spec.Count, or 2*spec.Count when
// critical; result.Total >= 0.
func RollDamage(spec DamageSpec, critical bool, src Source) DamageResult {
	count := spec.Count
	if critical {
		count *= 2
	}
	rolled := make([]int, count)
	total := spec.Modifier
	for i := range rolled {
		rolled[i] = src.Intn(spec.Sides) + 1
		total += rolled[i]
	}
	if total < 0 {
		total = 0
	}
	return DamageResult{Dice: rolled, Total: total, Type: spec.Type}
}
