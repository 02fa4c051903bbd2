package dice

import "go.uber.org/zap"

// Roller wraps a Source and logger to provide logged dice rolling. Every roll
// is logged at debug level with expression, dice values, modifier, and total.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that rolls with src and logs each roll.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// Source returns the underlying randomness source.
func (r *Roller) Source() Source { return r.src }

// Roll evaluates expr and logs the result.
func (r *Roller) Roll(expr Expression) RollResult {
	result := Roll(expr, r.src)
	r.logger.Debug("dice roll",
		zap.String("expression", result.Expression),
		zap.Ints("dice", result.Dice),
		zap.Int("modifier", result.Modifier),
		zap.Int("total", result.Total()),
	)
	return result
}

// RollExpr parses expr and rolls it, logging the result.
func (r *Roller) RollExpr(expr string) (RollResult, error) {
	e, err := Parse(expr)
	if err != nil {
		return RollResult{}, err
	}
	return r.Roll(e), nil
}

// RollDamage resolves spec (doubling dice on critical) and logs the result.
func (r *Roller) RollDamage(spec DamageSpec, critical bool) DamageResult {
	result := RollDamage(spec, critical, r.src)
	r.logger.Debug("damage roll",
		zap.String("spec", spec.String()),
		zap.Bool("critical", critical),
		zap.Ints("dice", result.Dice),
		zap.Int("total", result.Total),
	)
	return result
}
