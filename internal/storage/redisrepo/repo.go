// Package redisrepo persists whole-record JSON snapshots of actors and
// encounters in Redis. Atomicity is per entity: one snapshot is written or
// read in a single command, and no cross-entity transaction is attempted.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/encounter"
)

const (
	actorKeyPrefix     = "actor:"
	encounterKeyPrefix = "encounter:"

	scanBatchSize = 100
)

// NewClient connects to Redis at addr and verifies the connection with a
// ping.
//
// Postcondition: the returned client is ready for use, or an error is
// returned and no client leaks.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisrepo: pinging %s: %w", addr, err)
	}
	return client, nil
}

// ActorRepository stores actor snapshots keyed "actor:<id>".
type ActorRepository struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewActorRepository creates an ActorRepository.
//
// Precondition: client and logger must be non-nil.
func NewActorRepository(client redis.UniversalClient, logger *zap.Logger) *ActorRepository {
	return &ActorRepository{client: client, logger: logger}
}

// Put writes the snapshot, replacing any previous record for the same ID.
func (r *ActorRepository) Put(ctx context.Context, snap encounter.ActorSnapshot) error {
	if snap.ID == "" {
		return apperr.ActorNotFound("cannot store an actor snapshot without an ID")
	}
	return put(ctx, r.client, actorKeyPrefix+snap.ID, snap)
}

// Get reads the snapshot for the given actor ID.
func (r *ActorRepository) Get(ctx context.Context, id string) (encounter.ActorSnapshot, error) {
	var snap encounter.ActorSnapshot
	found, err := get(ctx, r.client, actorKeyPrefix+id, &snap)
	if err != nil {
		return encounter.ActorSnapshot{}, err
	}
	if !found {
		return encounter.ActorSnapshot{}, apperr.ActorNotFound("no stored actor with id %q", id)
	}
	return snap, nil
}

// List returns every stored actor snapshot, scanning by key prefix.
func (r *ActorRepository) List(ctx context.Context) ([]encounter.ActorSnapshot, error) {
	var out []encounter.ActorSnapshot
	err := scan(ctx, r.client, actorKeyPrefix, func(data []byte) error {
		var snap encounter.ActorSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return err
		}
		out = append(out, snap)
		return nil
	})
	return out, err
}

// Delete removes the stored snapshot.
func (r *ActorRepository) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, actorKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("redisrepo: deleting actor %q: %w", id, err)
	}
	if n == 0 {
		return apperr.ActorNotFound("no stored actor with id %q", id)
	}
	return nil
}

// EncounterRepository stores encounter snapshots keyed "encounter:<id>".
type EncounterRepository struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewEncounterRepository creates an EncounterRepository.
//
// Precondition: client and logger must be non-nil.
func NewEncounterRepository(client redis.UniversalClient, logger *zap.Logger) *EncounterRepository {
	return &EncounterRepository{client: client, logger: logger}
}

// Put writes the snapshot, replacing any previous record for the same ID.
func (r *EncounterRepository) Put(ctx context.Context, snap encounter.EncounterSnapshot) error {
	if snap.ID == "" {
		return apperr.EncounterNotFound("cannot store an encounter snapshot without an ID")
	}
	r.logger.Debug("storing encounter snapshot",
		zap.String("encounter", snap.ID),
		zap.String("status", string(snap.Status)),
		zap.Int("round", snap.Round),
	)
	return put(ctx, r.client, encounterKeyPrefix+snap.ID, snap)
}

// Get reads the snapshot for the given encounter ID.
func (r *EncounterRepository) Get(ctx context.Context, id string) (encounter.EncounterSnapshot, error) {
	var snap encounter.EncounterSnapshot
	found, err := get(ctx, r.client, encounterKeyPrefix+id, &snap)
	if err != nil {
		return encounter.EncounterSnapshot{}, err
	}
	if !found {
		return encounter.EncounterSnapshot{}, apperr.EncounterNotFound("no stored encounter with id %q", id)
	}
	return snap, nil
}

// List returns every stored encounter snapshot, scanning by key prefix.
// Actor-private keys share the keyspace, so the scan match is anchored to
// the encounter prefix.
func (r *EncounterRepository) List(ctx context.Context) ([]encounter.EncounterSnapshot, error) {
	var out []encounter.EncounterSnapshot
	err := scan(ctx, r.client, encounterKeyPrefix, func(data []byte) error {
		var snap encounter.EncounterSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return err
		}
		out = append(out, snap)
		return nil
	})
	return out, err
}

// Delete removes the stored snapshot.
func (r *EncounterRepository) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, encounterKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("redisrepo: deleting encounter %q: %w", id, err)
	}
	if n == 0 {
		return apperr.EncounterNotFound("no stored encounter with id %q", id)
	}
	return nil
}

func put(ctx context.Context, client redis.UniversalClient, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redisrepo: marshaling %q: %w", key, err)
	}
	if err := client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redisrepo: writing %q: %w", key, err)
	}
	return nil
}

func get(ctx context.Context, client redis.UniversalClient, key string, out any) (bool, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redisrepo: reading %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("redisrepo: unmarshaling %q: %w", key, err)
	}
	return true, nil
}

func scan(ctx context.Context, client redis.UniversalClient, prefix string, visit func(data []byte) error) error {
	iter := client.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		data, err := client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // deleted between scan and get
			}
			return fmt.Errorf("redisrepo: reading %q: %w", key, err)
		}
		if err := visit(data); err != nil {
			return fmt.Errorf("redisrepo: decoding %q: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redisrepo: scanning %q: %w", prefix, err)
	}
	return nil
}
