package encounter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/actor"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/encounter"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/grid"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/testutil"
)

func TestMove_SpendsBudgetAndRejectsOverdraw(t *testing.T) {
	e, fighter, _ := startedPair(t)

	// 20 ft east out of a 30 ft budget.
	res, err := e.Move(fighter.ID, grid.Position{X: 4, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, 20, res.DistanceFt)
	assert.Equal(t, 10, res.RemainingMovement)

	// 15 ft more would overdraw: rejected, and nothing changes.
	_, err = e.Move(fighter.ID, grid.Position{X: 7, Y: 1})
	assert.True(t, apperr.IsKind(err, apperr.KindInsufficientMovement))

	turn, ok := e.Turn()
	require.True(t, ok)
	assert.Equal(t, 10, turn.RemainingMovement, "rejected move must not spend budget")
	pos, _ := e.Grid().PositionOf(fighter.ID)
	assert.Equal(t, grid.Position{X: 4, Y: 1}, pos)

	// 10 ft exactly drains the budget to zero.
	res, err = e.Move(fighter.ID, grid.Position{X: 4, Y: 3})
	require.NoError(t, err)
	assert.Zero(t, res.RemainingMovement)
}

func TestMove_RejectsWallsAndOutOfBounds(t *testing.T) {
	e, fighter, _ := startedPair(t)

	_, err := e.Move(fighter.ID, grid.Position{X: 5, Y: 5})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidPosition), "wall")
	_, err = e.Move(fighter.ID, grid.Position{X: -1, Y: 0})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidPosition), "out of bounds")

	turn, _ := e.Turn()
	assert.Equal(t, 30, turn.RemainingMovement)
}

func TestMove_DoesNotConsumeActionSlots(t *testing.T) {
	e, fighter, _ := startedPair(t)

	_, err := e.Move(fighter.ID, grid.Position{X: 1, Y: 0})
	require.NoError(t, err)

	turn, _ := e.Turn()
	assert.False(t, turn.UsedAction)
	assert.False(t, turn.UsedBonusAction)
}

func TestMove_OnlyActiveActor(t *testing.T) {
	e, _, goblin := startedPair(t)
	_, err := e.Move(goblin.ID, grid.Position{X: 3, Y: 1})
	assert.True(t, apperr.IsKind(err, apperr.KindNoActionAvailable))
	_, err = e.Move("nobody", grid.Position{X: 3, Y: 1})
	assert.True(t, apperr.IsKind(err, apperr.KindActorNotFound))
}

func TestPerformAction_SecondUseRejected(t *testing.T) {
	// Attack d20 face 10, damage d6 face 4.
	e, fighter, goblin := startedPair(t, 9, 3)

	res, err := e.PerformAction(fighter.ID, "Scimitar", goblin.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Attack)
	assert.Equal(t, 10, res.Attack.Raw)
	assert.Equal(t, 14, res.Attack.Total)
	require.NotNil(t, res.Damage)
	assert.Equal(t, 6, res.Damage.Total)
	assert.Equal(t, "slashing", res.Damage.Type)

	_, err = e.PerformAction(fighter.ID, "Scimitar", goblin.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNoActionAvailable),
		"one action per turn")
}

func TestPerformAction_UnknownNameKeepsSlot(t *testing.T) {
	e, fighter, goblin := startedPair(t, 9, 3)

	_, err := e.PerformAction(fighter.ID, "Greatsword", goblin.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindActionNotFound))

	turn, _ := e.Turn()
	assert.False(t, turn.UsedAction, "failed lookup must not burn the slot")

	_, err = e.PerformAction(fighter.ID, "Scimitar", goblin.ID)
	assert.NoError(t, err)
}

func TestPerformAction_CriticalHitDoublesDice(t *testing.T) {
	// Attack d20 face 20, then two d6 draws: faces 4 and 6.
	e, fighter, goblin := startedPair(t, 19, 3, 5)

	res, err := e.PerformAction(fighter.ID, "Scimitar", goblin.ID)
	require.NoError(t, err)
	assert.True(t, res.Attack.CriticalHit)
	assert.False(t, res.Attack.CriticalMiss)
	require.NotNil(t, res.Damage)
	assert.Equal(t, []int{4, 6}, res.Damage.Dice, "dice doubled, not the modifier")
	assert.Equal(t, 12, res.Damage.Total) // 4 + 6 + 2
}

func TestPerformAction_CriticalMissRollsNoDamage(t *testing.T) {
	// Attack d20 face 1.
	e, fighter, goblin := startedPair(t, 0)

	res, err := e.PerformAction(fighter.ID, "Scimitar", goblin.ID)
	require.NoError(t, err)
	assert.True(t, res.Attack.CriticalMiss)
	assert.Nil(t, res.Damage)

	turn, _ := e.Turn()
	assert.True(t, turn.UsedAction, "the slot is spent even on a whiff")
}

func TestPerformAction_SpecialReportsSave(t *testing.T) {
	// Two d6 draws for the breath damage: faces 3 and 5.
	e, fighter, goblin := startedPair(t, 2, 4)

	res, err := e.PerformAction(fighter.ID, "Fire Breath", goblin.ID)
	require.NoError(t, err)
	assert.Equal(t, actor.KindSpecial, res.Kind)
	assert.Nil(t, res.Attack)
	require.NotNil(t, res.Save)
	assert.Equal(t, actor.Dexterity, res.Save.Ability)
	assert.Equal(t, 13, res.Save.DC)
	require.NotNil(t, res.Damage)
	assert.Equal(t, 8, res.Damage.Total)
	assert.Equal(t, "fire", res.Damage.Type)
}

func TestPerformBonusAction_SeparateBudget(t *testing.T) {
	// Bonus attack face 10, d4 face 3; main attack face 10, d6 face 4.
	e, fighter, goblin := startedPair(t, 9, 2, 9, 3)

	res, err := e.PerformBonusAction(fighter.ID, "Offhand Dagger", goblin.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Damage.Total)

	turn, _ := e.Turn()
	assert.True(t, turn.UsedBonusAction)
	assert.False(t, turn.UsedAction, "bonus action must not spend the action slot")

	_, err = e.PerformAction(fighter.ID, "Scimitar", goblin.ID)
	require.NoError(t, err)

	_, err = e.PerformBonusAction(fighter.ID, "Offhand Dagger", goblin.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNoActionAvailable))
}

func TestPerformBonusAction_MainActionNotEligible(t *testing.T) {
	e, fighter, goblin := startedPair(t)
	_, err := e.PerformBonusAction(fighter.ID, "Scimitar", goblin.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindActionNotFound),
		"action lists are separate")
}

func TestDash_TradesActionForMovement(t *testing.T) {
	e, fighter, _ := startedPair(t)

	turn, err := e.Dash(fighter.ID)
	require.NoError(t, err)
	assert.True(t, turn.UsedAction)
	assert.Equal(t, 60, turn.RemainingMovement)

	_, err = e.Dash(fighter.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNoActionAvailable))

	res, err := e.Move(fighter.ID, grid.Position{X: 8, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, 20, res.RemainingMovement)
}

func TestDisengage_ConsumesAction(t *testing.T) {
	e, fighter, goblin := startedPair(t)

	require.NoError(t, e.Disengage(fighter.ID))
	_, err := e.PerformAction(fighter.ID, "Scimitar", goblin.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNoActionAvailable))
}

func TestHide_RollsStealth(t *testing.T) {
	// Stealth d20 face 15; fighter DEX +2, not proficient.
	e, fighter, _ := startedPair(t, 14)

	check, err := e.Hide(fighter.ID)
	require.NoError(t, err)
	assert.Equal(t, 17, check.Roll)

	turn, _ := e.Turn()
	assert.True(t, turn.UsedAction)
}

func TestEndTurn_ClosesTheTurn(t *testing.T) {
	e, fighter, goblin := startedPair(t)

	require.NoError(t, e.EndTurn(fighter.ID))
	_, ok := e.Turn()
	assert.False(t, ok)

	_, err := e.Move(fighter.ID, grid.Position{X: 1, Y: 0})
	assert.True(t, apperr.IsKind(err, apperr.KindNoActionAvailable),
		"no acting between turns")

	next, err := e.AdvanceTurn()
	require.NoError(t, err)
	assert.Equal(t, goblin.ID, next.ID)
}

func TestEndTurn_OnlyActiveActor(t *testing.T) {
	e, _, goblin := startedPair(t)
	err := e.EndTurn(goblin.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNoActionAvailable))
}

func TestApplyAttackDamage_AdjudicatesAgainstAC(t *testing.T) {
	e, _, goblin := startedPair(t) // goblin AC 13, HP 7

	hitRes := &encounter.ActionResult{
		Attack: &encounter.AttackRoll{Raw: 10, Total: 14},
		Damage: &dice.DamageResult{Dice: []int{4}, Total: 6, Type: "slashing"},
	}
	hp, hit, err := e.ApplyAttackDamage(hitRes, goblin.ID)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, hp)

	missRes := &encounter.ActionResult{
		Attack: &encounter.AttackRoll{Raw: 8, Total: 12},
		Damage: &dice.DamageResult{Dice: []int{4}, Total: 6},
	}
	hp, hit, err = e.ApplyAttackDamage(missRes, goblin.ID)
	require.NoError(t, err)
	assert.False(t, hit, "12 vs AC 13 misses")
	assert.Equal(t, 1, hp)

	critRes := &encounter.ActionResult{
		Attack: &encounter.AttackRoll{Raw: 20, Total: 5, CriticalHit: true},
		Damage: &dice.DamageResult{Dice: []int{1, 1}, Total: 4},
	}
	hp, hit, err = e.ApplyAttackDamage(critRes, goblin.ID)
	require.NoError(t, err)
	assert.True(t, hit, "a natural 20 lands regardless of AC")
	assert.Zero(t, hp)
	assert.True(t, goblin.IsUnconscious(), "dropping to 0 HP knocks the target out")

	_, _, err = e.ApplyAttackDamage(hitRes, "nobody")
	assert.True(t, apperr.IsKind(err, apperr.KindActorNotFound))
}

func TestApplyAttackDamage_CriticalMissNeverLands(t *testing.T) {
	e, _, goblin := startedPair(t)

	res := &encounter.ActionResult{
		Attack: &encounter.AttackRoll{Raw: 1, Total: 99, CriticalMiss: true},
		Damage: &dice.DamageResult{Dice: []int{6}, Total: 8},
	}
	hp, hit, err := e.ApplyAttackDamage(res, goblin.ID)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 7, hp)
}

func TestResolution_RejectedAfterCompletion(t *testing.T) {
	e, fighter, goblin := startedPair(t)
	require.NoError(t, e.End())

	_, err := e.Move(fighter.ID, grid.Position{X: 1, Y: 0})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))
	_, err = e.PerformAction(fighter.ID, "Scimitar", goblin.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))
	_, err = e.Dash(fighter.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))
	assert.True(t, apperr.IsKind(e.EndTurn(fighter.ID), apperr.KindInvalidState))
	_, _, err = e.ApplyAttackDamage(&encounter.ActionResult{}, goblin.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))
}

// TestTurnState_Monotone_Property: for any op sequence within one turn, slot
// flags never reset, movement only grows through Dash, and a rejected op
// leaves the turn state untouched.
func TestTurnState_Monotone_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		values := rapid.SliceOfN(rapid.IntRange(0, 19), 2, 40).Draw(rt, "dice")
		src := testutil.NewFixedSource(values...)

		e := encounter.New("p", newArena(t), src)
		fighter := newFighter(t, "Karlach", actor.TeamParty)
		goblin := newGoblin(t, "Snarl")
		require.NoError(rt, e.Register(fighter, grid.Position{X: 0, Y: 0}))
		require.NoError(rt, e.Register(goblin, grid.Position{X: 9, Y: 9}))
		require.NoError(rt, e.Start())

		active, err := e.ActiveActor()
		require.NoError(rt, err)
		id := active.ID

		ops := rapid.SliceOfN(rapid.IntRange(0, 4), 0, 15).Draw(rt, "ops")
		prev, ok := e.Turn()
		require.True(rt, ok)

		for _, op := range ops {
			var dashed bool
			var err error
			switch op {
			case 0:
				_, err = e.Move(id, grid.Position{
					X: rapid.IntRange(-1, 9).Draw(rt, "mx"),
					Y: rapid.IntRange(-1, 9).Draw(rt, "my"),
				})
			case 1:
				_, err = e.PerformAction(id, "Scimitar", "")
			case 2:
				_, err = e.PerformBonusAction(id, "Offhand Dagger", "")
			case 3:
				_, err = e.Dash(id)
				dashed = err == nil
			case 4:
				_, err = e.Hide(id)
			}

			cur, ok := e.Turn()
			require.True(rt, ok)
			if err != nil {
				assert.Equal(rt, prev, cur, "rejected op mutated the turn")
			} else {
				if prev.UsedAction {
					assert.True(rt, cur.UsedAction)
				}
				if prev.UsedBonusAction {
					assert.True(rt, cur.UsedBonusAction)
				}
				if dashed {
					assert.Greater(rt, cur.RemainingMovement, prev.RemainingMovement)
				} else {
					assert.LessOrEqual(rt, cur.RemainingMovement, prev.RemainingMovement)
				}
				assert.GreaterOrEqual(rt, cur.RemainingMovement, 0)
			}
			prev = cur
		}
	})
}
