package encounter

import (
	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/actor"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/grid"
)

// AttackRoll reports one d20 attack roll. Total is raw + attack bonus; the
// hit-vs-AC judgment is deliberately NOT made here — the caller adjudicates
// (see ApplyAttackDamage).
type AttackRoll struct {
	Raw          int  `json:"raw"`
	Total        int  `json:"total"`
	CriticalHit  bool `json:"criticalHit"`  // raw == 20
	CriticalMiss bool `json:"criticalMiss"` // raw == 1
}

// ActionResult reports one resolved action or bonus action.
type ActionResult struct {
	ActorID    string           `json:"actorId"`
	ActionName string           `json:"actionName"`
	TargetID   string           `json:"targetId,omitempty"`
	Kind       actor.ActionKind `json:"kind"`

	// Weapon results.
	Attack *AttackRoll `json:"attack,omitempty"`

	// Special results: the saving throw the target must make, reported
	// without resolving the target's defense here.
	Save        *actor.SaveSpec `json:"save,omitempty"`
	Description string          `json:"description,omitempty"`

	// Damage is pre-rolled for the caller to apply conditionally. For
	// weapons it is present on any non-critical-miss; for specials whenever
	// the action carries a damage spec.
	Damage *dice.DamageResult `json:"damage,omitempty"`
}

// MoveResult reports a committed move.
type MoveResult struct {
	ActorID           string        `json:"actorId"`
	From              grid.Position `json:"from"`
	To                grid.Position `json:"to"`
	DistanceFt        int           `json:"distanceFt"`
	RemainingMovement int           `json:"remainingMovement"`
}

// requireTurn validates that the encounter is running and actorID owns the
// open turn. Callers must hold e.mu.
func (e *Encounter) requireTurnLocked(actorID string) (*TurnState, error) {
	if e.status != StatusInProgress {
		return nil, apperr.InvalidStatef("encounter is %s", e.status)
	}
	if _, err := e.actorLocked(actorID); err != nil {
		return nil, err
	}
	if e.turn == nil || e.turn.ActorID != actorID {
		return nil, apperr.NoActionAvailable("no active turn for this actor")
	}
	return e.turn, nil
}

// Move relocates the acting actor within its remaining movement budget.
// Rejects atomically with INSUFFICIENT_MOVEMENT or INVALID_POSITION; on
// success commits the move and decrements the budget by the consumed
// distance. Moving consumes neither the action nor the bonus-action slot.
func (e *Encounter) Move(actorID string, to grid.Position) (*MoveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	turn, err := e.requireTurnLocked(actorID)
	if err != nil {
		return nil, err
	}

	from, placed := e.gridMap.PositionOf(actorID)
	if !placed {
		return nil, apperr.ActorNotFound("actor %q is not placed on the map", actorID)
	}
	if !e.gridMap.IsValidPosition(to) {
		return nil, apperr.InvalidPosition("%s is out of bounds or a wall", to)
	}

	distance := grid.Distance(from, to)
	if distance > turn.RemainingMovement {
		return nil, apperr.InsufficientMovement("need %d ft, have %d ft", distance, turn.RemainingMovement)
	}
	if !e.gridMap.MoveActor(actorID, to) {
		return nil, apperr.InvalidPosition("move to %s failed", to)
	}

	turn.RemainingMovement -= distance
	return &MoveResult{
		ActorID:           actorID,
		From:              from,
		To:                to,
		DistanceFt:        distance,
		RemainingMovement: turn.RemainingMovement,
	}, nil
}

// PerformAction executes the named action from the acting actor's action
// list. The action slot is marked used BEFORE results are computed, so a
// crash mid-resolution still leaves the slot consumed (fail-closed).
func (e *Encounter) PerformAction(actorID, name, targetID string) (*ActionResult, error) {
	return e.perform(actorID, name, targetID, false)
}

// PerformBonusAction executes the named action from the bonus-action list,
// gated on the bonus-action slot.
func (e *Encounter) PerformBonusAction(actorID, name, targetID string) (*ActionResult, error) {
	return e.perform(actorID, name, targetID, true)
}

func (e *Encounter) perform(actorID, name, targetID string, bonus bool) (*ActionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	turn, err := e.requireTurnLocked(actorID)
	if err != nil {
		return nil, err
	}

	used := &turn.UsedAction
	if bonus {
		used = &turn.UsedBonusAction
	}
	if *used {
		slot := "action"
		if bonus {
			slot = "bonus action"
		}
		return nil, apperr.NoActionAvailable(slot + " already used this turn")
	}

	a := e.actors[actorID]
	var act actor.Action
	var found bool
	if bonus {
		act, found = a.FindBonusAction(name)
	} else {
		act, found = a.FindAction(name)
	}
	if !found {
		return nil, apperr.ActionNotFound("actor has no action named %q", name)
	}

	// Consume the slot before rolling: fail-closed on mid-resolution crash.
	*used = true

	result := &ActionResult{
		ActorID:    actorID,
		ActionName: name,
		TargetID:   targetID,
		Kind:       act.Kind,
	}

	switch act.Kind {
	case actor.KindWeapon:
		raw := dice.D20(e.src)
		roll := &AttackRoll{
			Raw:          raw,
			Total:        raw + act.Weapon.AttackBonus,
			CriticalHit:  raw == 20,
			CriticalMiss: raw == 1,
		}
		result.Attack = roll
		if !roll.CriticalMiss {
			dmg := dice.RollDamage(act.Weapon.Damage, roll.CriticalHit, e.src)
			result.Damage = &dmg
		}
	case actor.KindSpecial:
		result.Description = act.Special.Description
		result.Save = act.Special.Save
		if act.Special.Damage != nil {
			dmg := dice.RollDamage(*act.Special.Damage, false, e.src)
			result.Damage = &dmg
		}
	}

	return result, nil
}

// Dash trades the action slot for extra movement equal to the actor's base
// speed.
func (e *Encounter) Dash(actorID string) (*TurnState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	turn, err := e.requireTurnLocked(actorID)
	if err != nil {
		return nil, err
	}
	if turn.UsedAction {
		return nil, apperr.NoActionAvailable("action already used this turn")
	}
	turn.UsedAction = true
	turn.RemainingMovement += e.actors[actorID].Speed

	snapshot := *turn
	return &snapshot, nil
}

// Disengage consumes the action slot. The "no opportunity attacks" effect is
// narrative only: reactions are out of scope.
func (e *Encounter) Disengage(actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	turn, err := e.requireTurnLocked(actorID)
	if err != nil {
		return err
	}
	if turn.UsedAction {
		return apperr.NoActionAvailable("action already used this turn")
	}
	turn.UsedAction = true
	return nil
}

// Hide consumes the action slot and performs a Stealth check, returning the
// check result for the caller to judge.
func (e *Encounter) Hide(actorID string) (*actor.CheckResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	turn, err := e.requireTurnLocked(actorID)
	if err != nil {
		return nil, err
	}
	if turn.UsedAction {
		return nil, apperr.NoActionAvailable("action already used this turn")
	}
	turn.UsedAction = true

	check, err := e.actors[actorID].SkillCheck("Stealth", e.src)
	if err != nil {
		return nil, err
	}
	return &check, nil
}

// EndTurn clears the actor's turn state unconditionally (no slot gating).
// Advancing to the next actor is the scheduler's separate concern.
func (e *Encounter) EndTurn(actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.requireTurnLocked(actorID); err != nil {
		return err
	}
	e.turn = nil
	return nil
}

// ApplyAttackDamage is the caller-side adjudication the resolution engine
// deliberately leaves out: compare the attack total against the target's AC
// (a critical hit always lands, a critical miss never does) and, on a hit,
// apply the rolled damage into the target actor's own executor. Returns the
// target's new HP and whether the attack landed.
func (e *Encounter) ApplyAttackDamage(result *ActionResult, targetID string) (newHP int, hit bool, err error) {
	e.mu.Lock()
	if e.status != StatusInProgress {
		e.mu.Unlock()
		return 0, false, apperr.InvalidStatef("encounter is %s", e.status)
	}
	target, err := e.actorLocked(targetID)
	e.mu.Unlock()
	if err != nil {
		return 0, false, err
	}

	if result.Attack == nil || result.Damage == nil {
		return target.HP(), false, nil
	}
	switch {
	case result.Attack.CriticalMiss:
		return target.HP(), false, nil
	case result.Attack.CriticalHit:
		hit = true
	default:
		hit = result.Attack.Total >= target.ArmorClass()
	}
	if !hit {
		return target.HP(), false, nil
	}
	return target.ApplyHPDelta(-result.Damage.Total), true, nil
}
