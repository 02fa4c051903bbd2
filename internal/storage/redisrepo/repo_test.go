package redisrepo_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/actor"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/encounter"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/grid"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/storage/redisrepo"
)

func testClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func actorSnap(id, name string) encounter.ActorSnapshot {
	return encounter.ActorSnapshot{
		ID:    id,
		Name:  name,
		Team:  actor.TeamParty,
		Level: 3,
		Abilities: actor.AbilityScores{
			Strength: 16, Dexterity: 14, Constitution: 14,
			Intelligence: 10, Wisdom: 12, Charisma: 10,
		},
		MaxHP:      24,
		CurrentHP:  18,
		Speed:      30,
		Armor:      actor.Armor{BaseAC: 13, Category: actor.ArmorLight},
		Conditions: []actor.Condition{actor.ConditionHidden},
		Position:   grid.Position{X: 2, Y: 3},
		ArmorClass: 15,
	}
}

func TestActorRepository_Roundtrip(t *testing.T) {
	ctx := context.Background()
	repo := redisrepo.NewActorRepository(testClient(t), zaptest.NewLogger(t))

	want := actorSnap("a1", "Karlach")
	require.NoError(t, repo.Put(ctx, want))

	got, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Put replaces the whole record.
	want.CurrentHP = 5
	require.NoError(t, repo.Put(ctx, want))
	got, err = repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentHP)
}

func TestActorRepository_GetMissIsCoded(t *testing.T) {
	ctx := context.Background()
	repo := redisrepo.NewActorRepository(testClient(t), zaptest.NewLogger(t))

	_, err := repo.Get(ctx, "ghost")
	assert.True(t, apperr.IsKind(err, apperr.KindActorNotFound))
}

func TestActorRepository_PutRequiresID(t *testing.T) {
	ctx := context.Background()
	repo := redisrepo.NewActorRepository(testClient(t), zaptest.NewLogger(t))
	assert.Error(t, repo.Put(ctx, encounter.ActorSnapshot{Name: "nameless"}))
}

func TestActorRepository_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := redisrepo.NewActorRepository(testClient(t), zaptest.NewLogger(t))

	require.NoError(t, repo.Put(ctx, actorSnap("a1", "Karlach")))
	require.NoError(t, repo.Put(ctx, actorSnap("a2", "Snarl")))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Delete(ctx, "a1"))
	all, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a2", all[0].ID)

	err = repo.Delete(ctx, "a1")
	assert.True(t, apperr.IsKind(err, apperr.KindActorNotFound), "double delete")
}

func encounterSnap(id string) encounter.EncounterSnapshot {
	return encounter.EncounterSnapshot{
		ID:      id,
		Name:    "skirmish",
		Status:  encounter.StatusInProgress,
		MapName: "arena",
		Round:   2,
		Initiative: []encounter.InitiativeEntry{
			{ActorID: "a1", Roll: 18},
			{ActorID: "a2", Roll: 6},
		},
		Turn:   &encounter.TurnState{ActorID: "a1", RemainingMovement: 10, UsedAction: true},
		Actors: []encounter.ActorSnapshot{actorSnap("a1", "Karlach"), actorSnap("a2", "Snarl")},
		Log: []encounter.LogEntry{
			{Seq: 0, Kind: encounter.EntryEncounter, Message: "begins"},
		},
	}
}

func TestEncounterRepository_Roundtrip(t *testing.T) {
	ctx := context.Background()
	repo := redisrepo.NewEncounterRepository(testClient(t), zaptest.NewLogger(t))

	want := encounterSnap("e1")
	require.NoError(t, repo.Put(ctx, want))

	got, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Initiative, got.Initiative)
	require.NotNil(t, got.Turn)
	assert.True(t, got.Turn.UsedAction)
	assert.Len(t, got.Actors, 2)
}

func TestEncounterRepository_GetMissIsCoded(t *testing.T) {
	ctx := context.Background()
	repo := redisrepo.NewEncounterRepository(testClient(t), zaptest.NewLogger(t))

	_, err := repo.Get(ctx, "ghost")
	assert.True(t, apperr.IsKind(err, apperr.KindEncounterNotFound))
}

// Actor keys and encounter keys share one keyspace; each List must only see
// its own prefix.
func TestRepositories_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	client := testClient(t)
	logger := zaptest.NewLogger(t)
	actors := redisrepo.NewActorRepository(client, logger)
	encounters := redisrepo.NewEncounterRepository(client, logger)

	require.NoError(t, actors.Put(ctx, actorSnap("a1", "Karlach")))
	require.NoError(t, encounters.Put(ctx, encounterSnap("e1")))

	as, err := actors.List(ctx)
	require.NoError(t, err)
	assert.Len(t, as, 1)

	es, err := encounters.List(ctx)
	require.NoError(t, err)
	assert.Len(t, es, 1)

	require.NoError(t, encounters.Delete(ctx, "e1"))
	_, err = actors.Get(ctx, "a1")
	assert.NoError(t, err, "deleting an encounter must not touch actors")
}
