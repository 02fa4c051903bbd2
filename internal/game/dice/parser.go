package dice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Expression represents a parsed dice expression ready to be rolled.
//
// Invariant: Count >= 1 and Sides >= 2 after a successful Parse.
type Expression struct {
	Raw         string // original input string
	Count       int    // number of dice
	Sides       int    // faces per die
	Modifier    int    // flat modifier (may be negative)
	KeepHighest int    // if > 0, keep only the N highest dice (e.g. 4d6kh3)
}

// exprPattern matches "d20", "2d6", "2d6+3", "4d8-2", and "4d6kh3".
var exprPattern = regexp.MustCompile(`^(\d*)d(\d+)(?:kh(\d+))?([+-]\d+)?$`)

// Parse parses a dice expression string into an Expression.
// Supported forms: "d20", "2d6", "2d6+3", "4d8-2", "4d6kh3".
//
// Postcondition: returns a valid Expression or a descriptive error.
func Parse(expr string) (Expression, error) {
	s := strings.ToLower(strings.TrimSpace(expr))
	m := exprPattern.FindStringSubmatch(s)
	if m == nil {
		return Expression{}, fmt.Errorf("dice: invalid expression %q", expr)
	}

	count := 1
	if m[1] != "" {
		count, _ = strconv.Atoi(m[1])
		if count < 1 {
			return Expression{}, fmt.Errorf("dice: die count must be >= 1 in %q", expr)
		}
	}
	sides, _ := strconv.Atoi(m[2])
	if sides < 2 {
		return Expression{}, fmt.Errorf("dice: die must have >= 2 sides in %q", expr)
	}

	keep := 0
	if m[3] != "" {
		keep, _ = strconv.Atoi(m[3])
		if keep < 1 || keep >= count {
			return Expression{}, fmt.Errorf("dice: kh value %d must be in [1, %d) in %q", keep, count, expr)
		}
	}

	modifier := 0
	if m[4] != "" {
		modifier, _ = strconv.Atoi(m[4])
	}

	return Expression{
		Raw:         expr,
		Count:       count,
		Sides:       sides,
		Modifier:    modifier,
		KeepHighest: keep,
	}, nil
}

// MustParse parses expr and panics on error. Useful for package-level values.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic("dice: MustParse: " + err.Error())
	}
	return e
}
