package gameserver_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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
	"github.com/deloreyj/dungeons-and-durable-objects/internal/gameserver"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/storage/redisrepo"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/testutil"
)

var goblinTemplate = &actor.Template{
	ID:    "goblin",
	Name:  "Goblin",
	Team:  actor.TeamEnemies,
	Speed: 30,
	Abilities: &actor.AbilityScores{
		Strength: 8, Dexterity: 14, Constitution: 10,
		Intelligence: 10, Wisdom: 8, Charisma: 8,
	},
	MaxHP: 7,
	Armor: actor.Armor{BaseAC: 13, Category: actor.ArmorLight},
	Actions: []actor.Action{{
		Name: "Scimitar",
		Kind: actor.KindWeapon,
		Weapon: &actor.WeaponAction{
			AttackBonus: 4,
			ReachFt:     5,
			Damage:      dice.DamageSpec{Count: 1, Sides: 6, Modifier: 2, Type: "slashing"},
		},
	}},
}

func fighterConfig() actor.Config {
	return actor.Config{
		Name: "Karlach", Team: actor.TeamParty, Speed: 30,
		Abilities: &actor.AbilityScores{
			Strength: 16, Dexterity: 14, Constitution: 14,
			Intelligence: 10, Wisdom: 12, Charisma: 10,
		},
		MaxHP: 24,
		Armor: actor.Armor{BaseAC: 13, Category: actor.ArmorLight},
		Actions: []actor.Action{{
			Name: "Longsword",
			Kind: actor.KindWeapon,
			Weapon: &actor.WeaponAction{
				AttackBonus: 5,
				ReachFt:     5,
				Damage:      dice.DamageSpec{Count: 1, Sides: 8, Modifier: 3, Type: "slashing"},
			},
		}},
	}
}

func newService(t *testing.T, opts ...func(*gameserver.Config)) *gameserver.Service {
	t.Helper()
	m, err := grid.NewMap("arena", 10, 10)
	require.NoError(t, err)

	cfg := gameserver.Config{
		Maps:      []*grid.Map{m},
		Templates: []*actor.Template{goblinTemplate},
		// Initiative: fighter rolls face 16, goblin face 6.
		Source: testutil.NewFixedSource(15, 5),
		Logger: zaptest.NewLogger(t),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := gameserver.NewService(cfg)
	require.NoError(t, err)
	return svc
}

func withStore(t *testing.T) func(*gameserver.Config) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return func(cfg *gameserver.Config) {
		logger := zaptest.NewLogger(t)
		cfg.Store = gameserver.RedisStore{
			Actors:     redisrepo.NewActorRepository(client, logger),
			Encounters: redisrepo.NewEncounterRepository(client, logger),
		}
	}
}

func TestCreateEncounter_UnknownMap(t *testing.T) {
	svc := newService(t)
	_, err := svc.CreateEncounter("skirmish", "the-abyss")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidPosition))
}

func TestEncounter_MissIsCoded(t *testing.T) {
	svc := newService(t)
	_, err := svc.Encounter("nope")
	assert.True(t, apperr.IsKind(err, apperr.KindEncounterNotFound))
}

func TestSpawnFromTemplate(t *testing.T) {
	svc := newService(t)
	e, err := svc.CreateEncounter("skirmish", "arena")
	require.NoError(t, err)

	a, err := svc.SpawnFromTemplate(e.ID(), "goblin", "", grid.Position{X: 1, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, "Goblin", a.Name)
	assert.Equal(t, actor.TeamEnemies, a.Team)

	ally, err := svc.SpawnFromTemplate(e.ID(), "goblin", actor.TeamParty, grid.Position{X: 2, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, actor.TeamParty, ally.Team, "team override")

	_, err = svc.SpawnFromTemplate(e.ID(), "dragon", "", grid.Position{X: 3, Y: 1})
	assert.True(t, apperr.IsKind(err, apperr.KindActorNotFound))
}

func TestLifecycleFlow(t *testing.T) {
	svc := newService(t)
	e, err := svc.CreateEncounter("skirmish", "arena")
	require.NoError(t, err)

	fighter, err := svc.Register(e.ID(), fighterConfig(), grid.Position{X: 0, Y: 0})
	require.NoError(t, err)
	goblin, err := svc.SpawnFromTemplate(e.ID(), "goblin", "", grid.Position{X: 5, Y: 5})
	require.NoError(t, err)

	require.NoError(t, svc.StartEncounter(e.ID()))
	active, err := e.ActiveActor()
	require.NoError(t, err)
	assert.Equal(t, fighter.ID, active.ID, "16+2 beats 6+2")

	next, err := svc.AdvanceTurn(e.ID())
	require.NoError(t, err)
	assert.Equal(t, goblin.ID, next.ID)

	require.NoError(t, svc.EndEncounter(e.ID()))
	assert.Equal(t, encounter.StatusCompleted, e.Status())
	assert.Error(t, svc.StartEncounter(e.ID()), "completed is terminal")
}

func TestLifecyclePublishesLogEntries(t *testing.T) {
	hub := broadcast.NewHub(zaptest.NewLogger(t))
	svc := newService(t, func(cfg *gameserver.Config) { cfg.Hub = hub })

	e, err := svc.CreateEncounter("skirmish", "arena")
	require.NoError(t, err)
	sub := hub.Subscribe(broadcast.EncounterChannel(e.ID()), 32)

	_, err = svc.Register(e.ID(), fighterConfig(), grid.Position{X: 0, Y: 0})
	require.NoError(t, err)
	_, err = svc.SpawnFromTemplate(e.ID(), "goblin", "", grid.Position{X: 5, Y: 5})
	require.NoError(t, err)
	require.NoError(t, svc.StartEncounter(e.ID()))

	var events int
	for {
		select {
		case <-sub.Events():
			events++
			continue
		default:
		}
		break
	}
	assert.Equal(t, 3, events, "start publishes encounter, round, and turn entries")
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, withStore(t))

	e, err := svc.CreateEncounter("skirmish", "arena")
	require.NoError(t, err)
	_, err = svc.Register(e.ID(), fighterConfig(), grid.Position{X: 0, Y: 0})
	require.NoError(t, err)
	_, err = svc.SpawnFromTemplate(e.ID(), "goblin", "", grid.Position{X: 5, Y: 5})
	require.NoError(t, err)
	require.NoError(t, svc.StartEncounter(e.ID()))
	require.NoError(t, svc.Save(ctx, e.ID()))

	want := e.Snapshot()

	restored, err := svc.Load(ctx, e.ID())
	require.NoError(t, err)
	got := restored.Snapshot()
	assert.Equal(t, want.Initiative, got.Initiative)
	assert.Equal(t, want.Round, got.Round)
	assert.Equal(t, want.Turn, got.Turn)
	assert.Len(t, got.Actors, 2)

	// The restored encounter replaces the live one under the same ID.
	live, err := svc.Encounter(e.ID())
	require.NoError(t, err)
	assert.Same(t, restored, live)
}

func TestSave_RequiresStore(t *testing.T) {
	svc := newService(t)
	e, err := svc.CreateEncounter("skirmish", "arena")
	require.NoError(t, err)
	assert.True(t, apperr.IsKind(svc.Save(context.Background(), e.ID()), apperr.KindInvalidState))
}

func TestLoad_MissIsCoded(t *testing.T) {
	svc := newService(t, withStore(t))
	_, err := svc.Load(context.Background(), "ghost")
	assert.True(t, apperr.IsKind(err, apperr.KindEncounterNotFound))
}

func TestManualResolutionFacade(t *testing.T) {
	svc := newService(t, func(cfg *gameserver.Config) {
		// Initiative 16/6, then attack d20 face 11 and damage d8 face 4.
		cfg.Source = testutil.NewFixedSource(15, 5, 10, 3)
	})
	e, err := svc.CreateEncounter("skirmish", "arena")
	require.NoError(t, err)
	fighter, err := svc.Register(e.ID(), fighterConfig(), grid.Position{X: 0, Y: 0})
	require.NoError(t, err)
	goblin, err := svc.SpawnFromTemplate(e.ID(), "goblin", "", grid.Position{X: 2, Y: 0})
	require.NoError(t, err)
	require.NoError(t, svc.StartEncounter(e.ID()))

	res, err := svc.Move(e.ID(), fighter.ID, grid.Position{X: 1, Y: 0})
	require.NoError(t, err)
	assert.Equal(t, 25, res.RemainingMovement)

	result, err := svc.PerformAction(e.ID(), fighter.ID, "Longsword", goblin.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Attack)
	assert.Equal(t, 16, result.Attack.Total)
	assert.Equal(t, 0, goblin.HP(), "16 vs AC 15 hits for 4+3")

	require.NoError(t, svc.EndTurn(e.ID(), fighter.ID))
	_, open := e.Turn()
	assert.False(t, open)

	snap, err := svc.Snapshot(e.ID())
	require.NoError(t, err)
	assert.Len(t, snap.Actors, 2)

	var executions int
	for _, entry := range e.Log().Entries() {
		if entry.Kind == encounter.EntryExecution {
			executions++
		}
	}
	assert.Equal(t, 3, executions, "move, attack, end turn")
}

type passPlanner struct{}

func (passPlanner) PlanAction(context.Context, planner.TurnContext) (*planner.Intent, error) {
	return nil, nil
}

func TestRunTurn_RequiresController(t *testing.T) {
	svc := newService(t)
	err := svc.RunTurn(context.Background(), "any")
	assert.True(t, apperr.IsKind(err, apperr.KindPlannerUnavailable))
}

func TestRunTurn_DelegatesToController(t *testing.T) {
	controller := loop.NewController(loop.Config{
		Planner:  passPlanner{},
		Approver: loop.AutoApprover{},
		Logger:   zaptest.NewLogger(t),
	})
	svc := newService(t, func(cfg *gameserver.Config) { cfg.Controller = controller })

	e, err := svc.CreateEncounter("skirmish", "arena")
	require.NoError(t, err)
	_, err = svc.Register(e.ID(), fighterConfig(), grid.Position{X: 0, Y: 0})
	require.NoError(t, err)
	_, err = svc.SpawnFromTemplate(e.ID(), "goblin", "", grid.Position{X: 5, Y: 5})
	require.NoError(t, err)
	require.NoError(t, svc.StartEncounter(e.ID()))

	require.NoError(t, svc.RunTurn(context.Background(), e.ID()))
	_, open := e.Turn()
	assert.False(t, open, "a planner with no intent ends the turn")
}
