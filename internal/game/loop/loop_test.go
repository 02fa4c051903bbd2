package loop_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/broadcast"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/actor"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/encounter"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/grid"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/loop"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/planner"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/testutil"
)

// stubPlanner replays a sequence of plan steps, each a function of the
// offered turn context.
type stubPlanner struct {
	mu       sync.Mutex
	steps    []func(tc planner.TurnContext) (*planner.Intent, error)
	contexts []planner.TurnContext
}

func (s *stubPlanner) PlanAction(_ context.Context, tc planner.TurnContext) (*planner.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts = append(s.contexts, tc)
	if len(s.steps) == 0 {
		return nil, nil
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step(tc)
}

func intentStep(action string, args map[string]any) func(planner.TurnContext) (*planner.Intent, error) {
	return func(tc planner.TurnContext) (*planner.Intent, error) {
		return &planner.Intent{ActorID: tc.ActorID, Action: action, Args: args}, nil
	}
}

type stubApprover struct {
	mu      sync.Mutex
	answers []func(loop.Proposal) (string, error)
}

func (s *stubApprover) Review(_ context.Context, p loop.Proposal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.answers) == 0 {
		return "yes", nil
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer(p)
}

func answer(text string) func(loop.Proposal) (string, error) {
	return func(loop.Proposal) (string, error) { return text, nil }
}

type stubNarrator struct{ line string }

func (s stubNarrator) Narrate(context.Context, string) (string, error) {
	if s.line == "" {
		return "", errors.New("muse is silent")
	}
	return s.line, nil
}

var scimitar = actor.Action{
	Name: "Scimitar",
	Kind: actor.KindWeapon,
	Weapon: &actor.WeaponAction{
		AttackBonus: 4,
		ReachFt:     5,
		Damage:      dice.DamageSpec{Count: 1, Sides: 6, Modifier: 2, Type: "slashing"},
	},
}

// arena builds a started two-actor encounter where the fighter acts first.
// Dice values: the first two draws decide initiative (faces 16 and 6), the
// rest feed attack and damage rolls.
func arena(t *testing.T, extra ...int) (*encounter.Encounter, *actor.Actor, *actor.Actor) {
	t.Helper()
	m, err := grid.NewMap("arena", 10, 10)
	require.NoError(t, err)

	src := testutil.NewFixedSource(append([]int{15, 5}, extra...)...)
	e := encounter.New("skirmish", m, src)

	fighter, err := actor.New(actor.Config{
		Name: "Karlach", Team: actor.TeamParty, Speed: 30,
		Abilities: &actor.AbilityScores{
			Strength: 16, Dexterity: 14, Constitution: 14,
			Intelligence: 10, Wisdom: 12, Charisma: 10,
		},
		MaxHP:   24,
		Armor:   actor.Armor{BaseAC: 13, Category: actor.ArmorLight},
		Actions: []actor.Action{scimitar},
	}, testutil.MinSource{})
	require.NoError(t, err)

	goblin, err := actor.New(actor.Config{
		Name: "Snarl", Team: actor.TeamEnemies, Speed: 30,
		Abilities: &actor.AbilityScores{
			Strength: 8, Dexterity: 10, Constitution: 10,
			Intelligence: 10, Wisdom: 8, Charisma: 8,
		},
		MaxHP:   7,
		Armor:   actor.Armor{BaseAC: 13, Category: actor.ArmorLight},
		Actions: []actor.Action{scimitar},
	}, testutil.MinSource{})
	require.NoError(t, err)

	require.NoError(t, e.Register(fighter, grid.Position{X: 0, Y: 0}))
	require.NoError(t, e.Register(goblin, grid.Position{X: 1, Y: 0}))
	require.NoError(t, e.Start())

	active, err := e.ActiveActor()
	require.NoError(t, err)
	require.Equal(t, fighter.ID, active.ID)
	return e, fighter, goblin
}

func controller(t *testing.T, p planner.Planner, a loop.Approver, n planner.Narrator, hub *broadcast.Hub) *loop.Controller {
	t.Helper()
	return loop.NewController(loop.Config{
		Planner:  p,
		Narrator: n,
		Approver: a,
		Hub:      hub,
		Logger:   zaptest.NewLogger(t),
	})
}

func kinds(entries []encounter.LogEntry) []encounter.EntryKind {
	out := make([]encounter.EntryKind, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Kind)
	}
	return out
}

func TestRunTurn_AttackThenEndTurn(t *testing.T) {
	// Attack d20 face 10 (hits AC 13), damage d6 face 4.
	e, _, goblin := arena(t, 9, 3)

	p := &stubPlanner{steps: []func(planner.TurnContext) (*planner.Intent, error){
		intentStep("use_scimitar", map[string]any{"target": goblin.ID}),
		intentStep("end_turn", nil),
	}}
	hub := broadcast.NewHub(zaptest.NewLogger(t))
	sub := hub.Subscribe(broadcast.EncounterChannel(e.ID()), 32)

	c := controller(t, p, loop.AutoApprover{}, stubNarrator{line: "Steel flashes."}, hub)
	require.NoError(t, c.RunTurn(context.Background(), e))

	assert.Equal(t, 1, goblin.HP(), "7 - (4+2)")
	_, open := e.Turn()
	assert.False(t, open, "approved end_turn closes the turn")

	entries := e.Log().Entries()[3:] // skip encounter/round/turn preamble
	assert.Equal(t, []encounter.EntryKind{
		encounter.EntryProposal,
		encounter.EntryApproval,
		encounter.EntryExecution,
		encounter.EntryNarration,
		encounter.EntryProposal,
		encounter.EntryApproval,
		encounter.EntryExecution,
		encounter.EntryNarration,
	}, kinds(entries))
	assert.Contains(t, entries[2].Message, "hits Snarl with Scimitar")
	assert.Contains(t, entries[2].Message, "1 HP left")

	// Every appended entry was mirrored to the hub.
	assert.Len(t, drain(sub), len(entries))
}

func drain(sub *broadcast.Subscriber) [][]byte {
	var out [][]byte
	for {
		select {
		case data := <-sub.Events():
			out = append(out, data)
		default:
			return out
		}
	}
}

func TestRunTurn_NilIntentIsImplicitEndTurn(t *testing.T) {
	e, _, _ := arena(t)
	p := &stubPlanner{} // no steps: always nil intent

	c := controller(t, p, loop.AutoApprover{}, nil, nil)
	require.NoError(t, c.RunTurn(context.Background(), e))

	_, open := e.Turn()
	assert.False(t, open)
	for _, entry := range e.Log().Entries() {
		assert.NotEqual(t, encounter.EntryProposal, entry.Kind, "nothing was proposed")
	}
}

func TestRunTurn_NonApprovalBecomesGuidance(t *testing.T) {
	e, _, _ := arena(t)

	p := &stubPlanner{steps: []func(planner.TurnContext) (*planner.Intent, error){
		intentStep("move", map[string]any{"x": 3, "y": 0}),
		intentStep("end_turn", nil),
	}}
	a := &stubApprover{answers: []func(loop.Proposal) (string, error){
		answer("hold your ground"),
		answer("yes"),
	}}

	c := controller(t, p, a, nil, nil)
	require.NoError(t, c.RunTurn(context.Background(), e))

	require.Len(t, p.contexts, 2)
	assert.Empty(t, p.contexts[0].Guidance)
	assert.Equal(t, "hold your ground", p.contexts[1].Guidance,
		"a non-yes answer is fed back as guidance")

	pos, _ := e.Grid().PositionOf(p.contexts[0].ActorID)
	assert.Equal(t, grid.Position{X: 0, Y: 0}, pos, "declined move must not execute")
}

func TestRunTurn_OffMenuIntentIsRejectedAndReplanned(t *testing.T) {
	e, _, goblin := arena(t)

	p := &stubPlanner{steps: []func(planner.TurnContext) (*planner.Intent, error){
		intentStep("cast_fireball", map[string]any{"target": goblin.ID}),
		intentStep("end_turn", nil),
	}}

	c := controller(t, p, loop.AutoApprover{}, nil, nil)
	require.NoError(t, c.RunTurn(context.Background(), e))

	assert.Equal(t, 7, goblin.HP(), "the overreach must not execute")
	require.Len(t, p.contexts, 2)
	assert.Contains(t, p.contexts[1].Guidance, "cast_fireball")

	var failures int
	for _, entry := range e.Log().Entries() {
		if entry.Kind == encounter.EntryFailure {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestRunTurn_OverBudgetMoveIsRejectedAndReplanned(t *testing.T) {
	// (9,9) is 45 ft away against a 30 ft budget. The move is on the menu and
	// survives validation, so the rejection has to come from the engine.
	e, fighter, _ := arena(t)

	p := &stubPlanner{steps: []func(planner.TurnContext) (*planner.Intent, error){
		intentStep("move", map[string]any{"x": 9, "y": 9}),
		intentStep("end_turn", nil),
	}}

	c := controller(t, p, loop.AutoApprover{}, nil, nil)
	require.NoError(t, c.RunTurn(context.Background(), e))

	pos, _ := e.Grid().PositionOf(fighter.ID)
	assert.Equal(t, grid.Position{X: 0, Y: 0}, pos, "the rejected move must not execute")

	require.Len(t, p.contexts, 2)
	assert.Contains(t, p.contexts[1].Guidance, "rejected",
		"the engine rejection is fed back as guidance")

	var failures int
	for _, entry := range e.Log().Entries() {
		if entry.Kind == encounter.EntryFailure {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestRunTurn_SpentSlotForcesReplan(t *testing.T) {
	// First attack consumes the action slot; the second identical proposal
	// is no longer on the rebuilt menu and must be rejected.
	e, _, goblin := arena(t, 9, 3, 9, 3)

	p := &stubPlanner{steps: []func(planner.TurnContext) (*planner.Intent, error){
		intentStep("use_scimitar", map[string]any{"target": goblin.ID}),
		intentStep("use_scimitar", map[string]any{"target": goblin.ID}),
		intentStep("end_turn", nil),
	}}

	c := controller(t, p, loop.AutoApprover{}, nil, nil)
	require.NoError(t, c.RunTurn(context.Background(), e))

	assert.Equal(t, 1, goblin.HP(), "exactly one attack landed")
	require.Len(t, p.contexts, 3)
	assert.Contains(t, p.contexts[2].Guidance, "use_scimitar")
}

func TestRunTurn_PlannerUnavailableEndsTurn(t *testing.T) {
	e, _, _ := arena(t)
	p := &stubPlanner{steps: []func(planner.TurnContext) (*planner.Intent, error){
		func(planner.TurnContext) (*planner.Intent, error) {
			return nil, apperr.PlannerUnavailable(errors.New("api down"), "planner request failed")
		},
	}}

	c := controller(t, p, loop.AutoApprover{}, nil, nil)
	require.NoError(t, c.RunTurn(context.Background(), e), "planner outage is non-fatal")

	_, open := e.Turn()
	assert.False(t, open)
}

func TestRunTurn_CompletedEncounterDiscardsResult(t *testing.T) {
	e, _, goblin := arena(t, 9, 3)

	p := &stubPlanner{steps: []func(planner.TurnContext) (*planner.Intent, error){
		intentStep("use_scimitar", map[string]any{"target": goblin.ID}),
	}}
	// The referee ends the encounter while the proposal sits in review.
	a := &stubApprover{answers: []func(loop.Proposal) (string, error){
		func(loop.Proposal) (string, error) {
			require.NoError(t, e.End())
			return "yes", nil
		},
	}}

	c := controller(t, p, a, nil, nil)
	require.NoError(t, c.RunTurn(context.Background(), e))

	assert.Equal(t, 7, goblin.HP(), "late result discarded after completion")
	for _, entry := range e.Log().Entries() {
		assert.NotEqual(t, encounter.EntryExecution, entry.Kind)
	}
}

func TestRunTurn_PlanBudgetExhausted(t *testing.T) {
	e, _, _ := arena(t)

	// A planner that always proposes something off-menu never converges.
	p := &stubPlanner{}
	for i := 0; i < 20; i++ {
		p.steps = append(p.steps, intentStep("cast_fireball", nil))
	}

	c := loop.NewController(loop.Config{
		Planner:         p,
		Approver:        loop.AutoApprover{},
		Logger:          zaptest.NewLogger(t),
		MaxPlansPerTurn: 3,
	})
	require.NoError(t, c.RunTurn(context.Background(), e))

	_, open := e.Turn()
	assert.False(t, open, "the loop must close the turn rather than spin")
	assert.Len(t, p.contexts, 3)
}

func TestRunTurn_NarratorFailureIsSwallowed(t *testing.T) {
	e, _, goblin := arena(t, 9, 3)

	p := &stubPlanner{steps: []func(planner.TurnContext) (*planner.Intent, error){
		intentStep("use_scimitar", map[string]any{"target": goblin.ID}),
		intentStep("end_turn", nil),
	}}

	c := controller(t, p, loop.AutoApprover{}, stubNarrator{}, nil) // narrator always errors
	require.NoError(t, c.RunTurn(context.Background(), e))

	for _, entry := range e.Log().Entries() {
		assert.NotEqual(t, encounter.EntryNarration, entry.Kind)
	}
	assert.Equal(t, 1, goblin.HP(), "combat is unaffected by narration failure")
}

func TestRunEncounter_StopsAtMaxRounds(t *testing.T) {
	e, _, _ := arena(t)
	p := &stubPlanner{} // every turn: nil intent, implicit end

	c := controller(t, p, loop.AutoApprover{}, nil, nil)
	require.NoError(t, c.RunEncounter(context.Background(), e, 2))

	assert.Equal(t, encounter.StatusInProgress, e.Status(),
		"the controller never ends the encounter on its own")
	assert.Equal(t, 3, e.Round())
}

func TestRunEncounter_ExitsWhenCompleted(t *testing.T) {
	e, _, _ := arena(t)
	require.NoError(t, e.End())

	c := controller(t, &stubPlanner{}, loop.AutoApprover{}, nil, nil)
	require.NoError(t, c.RunEncounter(context.Background(), e, 0))
	assert.Equal(t, encounter.StatusCompleted, e.Status())
}
