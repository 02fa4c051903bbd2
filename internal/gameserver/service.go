// Package gameserver exposes the combat engine as an application service:
// content registries, encounter lifecycle, manual action resolution, the
// automated turn loop, and snapshot persistence.
//
// The service holds live encounters in memory. Redis repositories, when
// configured, persist whole-encounter snapshots on demand; they are never a
// write-through cache.
package gameserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/broadcast"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/actor"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/encounter"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/grid"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/loop"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/storage/redisrepo"
)

// Store abstracts the snapshot repositories so the service runs with or
// without Redis.
type Store interface {
	PutEncounter(ctx context.Context, snap encounter.EncounterSnapshot) error
	GetEncounter(ctx context.Context, id string) (encounter.EncounterSnapshot, error)
	ListEncounters(ctx context.Context) ([]encounter.EncounterSnapshot, error)
	PutActor(ctx context.Context, snap encounter.ActorSnapshot) error
}

// RedisStore adapts the redisrepo repositories to the Store interface.
type RedisStore struct {
	Actors     *redisrepo.ActorRepository
	Encounters *redisrepo.EncounterRepository
}

func (s RedisStore) PutEncounter(ctx context.Context, snap encounter.EncounterSnapshot) error {
	return s.Encounters.Put(ctx, snap)
}

func (s RedisStore) GetEncounter(ctx context.Context, id string) (encounter.EncounterSnapshot, error) {
	return s.Encounters.Get(ctx, id)
}

func (s RedisStore) ListEncounters(ctx context.Context) ([]encounter.EncounterSnapshot, error) {
	return s.Encounters.List(ctx)
}

func (s RedisStore) PutActor(ctx context.Context, snap encounter.ActorSnapshot) error {
	return s.Actors.Put(ctx, snap)
}

// Config assembles a Service.
type Config struct {
	Maps       []*grid.Map
	Templates  []*actor.Template
	Source     dice.Source // nil selects crypto randomness
	Hub        *broadcast.Hub
	Controller *loop.Controller // nil disables automated turns
	Store      Store            // nil disables persistence
	Logger     *zap.Logger
}

// Service is the application facade over encounters.
type Service struct {
	mu         sync.Mutex
	encounters map[string]*encounter.Encounter
	maps       map[string]*grid.Map
	templates  map[string]*actor.Template
	src        dice.Source
	hub        *broadcast.Hub
	controller *loop.Controller
	store      Store
	logger     *zap.Logger
}

// NewService creates a Service from cfg.
//
// Precondition: cfg.Logger must be non-nil, and map names and template IDs
// must be unique.
func NewService(cfg Config) (*Service, error) {
	src := cfg.Source
	if src == nil {
		src = dice.NewCryptoSource()
	}

	maps := make(map[string]*grid.Map, len(cfg.Maps))
	for _, m := range cfg.Maps {
		if _, dup := maps[m.Name()]; dup {
			return nil, fmt.Errorf("gameserver: duplicate map name %q", m.Name())
		}
		maps[m.Name()] = m
	}
	templates := make(map[string]*actor.Template, len(cfg.Templates))
	for _, t := range cfg.Templates {
		if _, dup := templates[t.ID]; dup {
			return nil, fmt.Errorf("gameserver: duplicate template ID %q", t.ID)
		}
		templates[t.ID] = t
	}

	return &Service{
		encounters: make(map[string]*encounter.Encounter),
		maps:       maps,
		templates:  templates,
		src:        src,
		hub:        cfg.Hub,
		controller: cfg.Controller,
		store:      cfg.Store,
		logger:     cfg.Logger,
	}, nil
}

// CreateEncounter opens a new PREPARING encounter over the named map.
func (s *Service) CreateEncounter(name, mapName string) (*encounter.Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.maps[mapName]
	if !ok {
		return nil, apperr.InvalidPosition("no map named %q", mapName)
	}
	e := encounter.New(name, m, s.src)
	s.encounters[e.ID()] = e
	s.logger.Info("encounter created",
		zap.String("encounter", e.ID()),
		zap.String("name", name),
		zap.String("map", mapName),
	)
	return e, nil
}

// Encounter returns the live encounter with the given ID.
func (s *Service) Encounter(id string) (*encounter.Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.encounters[id]
	if !ok {
		return nil, apperr.EncounterNotFound("no live encounter with id %q", id)
	}
	return e, nil
}

// Encounters returns every live encounter.
func (s *Service) Encounters() []*encounter.Encounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*encounter.Encounter, 0, len(s.encounters))
	for _, e := range s.encounters {
		out = append(out, e)
	}
	return out
}

// SpawnFromTemplate instantiates the named template into the encounter,
// overriding its team when team is non-empty.
func (s *Service) SpawnFromTemplate(encounterID, templateID string, team actor.Team, pos grid.Position) (*actor.Actor, error) {
	s.mu.Lock()
	tmpl, ok := s.templates[templateID]
	s.mu.Unlock()
	if !ok {
		return nil, apperr.ActorNotFound("no actor template with id %q", templateID)
	}
	return s.Register(encounterID, tmpl.Config(team), pos)
}

// Register builds an actor from an explicit sheet and places it into the
// encounter.
func (s *Service) Register(encounterID string, cfg actor.Config, pos grid.Position) (*actor.Actor, error) {
	e, err := s.Encounter(encounterID)
	if err != nil {
		return nil, err
	}
	a, err := actor.New(cfg, s.src)
	if err != nil {
		return nil, err
	}
	if err := e.Register(a, pos); err != nil {
		return nil, err
	}
	s.logger.Info("actor registered",
		zap.String("encounter", encounterID),
		zap.String("actor", a.ID),
		zap.String("name", a.Name),
		zap.String("team", string(a.Team)),
	)
	return a, nil
}

// StartEncounter rolls initiative and opens the first turn.
func (s *Service) StartEncounter(id string) error {
	e, err := s.Encounter(id)
	if err != nil {
		return err
	}
	mark := lastSeq(e)
	if err := e.Start(); err != nil {
		return err
	}
	s.publishSince(e, mark)
	return nil
}

// EndEncounter completes the encounter. Live state stays addressable for
// snapshotting until the process exits.
func (s *Service) EndEncounter(id string) error {
	e, err := s.Encounter(id)
	if err != nil {
		return err
	}
	mark := lastSeq(e)
	if err := e.End(); err != nil {
		return err
	}
	s.publishSince(e, mark)
	return nil
}

// AdvanceTurn hands the turn to the next actor in initiative order.
func (s *Service) AdvanceTurn(id string) (*actor.Actor, error) {
	e, err := s.Encounter(id)
	if err != nil {
		return nil, err
	}
	mark := lastSeq(e)
	next, err := e.AdvanceTurn()
	if err != nil {
		return nil, err
	}
	s.publishSince(e, mark)
	return next, nil
}

// Move walks the active actor to pos, spending movement budget.
func (s *Service) Move(id, actorID string, pos grid.Position) (*encounter.MoveResult, error) {
	e, err := s.Encounter(id)
	if err != nil {
		return nil, err
	}
	res, err := e.Move(actorID, pos)
	if err != nil {
		return nil, err
	}
	s.logExecution(e, actorID, fmt.Sprintf("moved %s -> %s (%d ft left)", res.From, res.To, res.RemainingMovement))
	return res, nil
}

// PerformAction resolves the named main action. Weapon attacks with a target
// are adjudicated against the target's armor class and damage is applied.
func (s *Service) PerformAction(id, actorID, actionName, targetID string) (*encounter.ActionResult, error) {
	return s.perform(id, actorID, actionName, targetID, false)
}

// PerformBonusAction is PerformAction against the bonus-action slot.
func (s *Service) PerformBonusAction(id, actorID, actionName, targetID string) (*encounter.ActionResult, error) {
	return s.perform(id, actorID, actionName, targetID, true)
}

func (s *Service) perform(id, actorID, actionName, targetID string, bonus bool) (*encounter.ActionResult, error) {
	e, err := s.Encounter(id)
	if err != nil {
		return nil, err
	}
	var result *encounter.ActionResult
	if bonus {
		result, err = e.PerformBonusAction(actorID, actionName, targetID)
	} else {
		result, err = e.PerformAction(actorID, actionName, targetID)
	}
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("used %s", result.ActionName)
	if result.Attack != nil && result.TargetID != "" {
		hp, hit, err := e.ApplyAttackDamage(result, result.TargetID)
		if err != nil {
			return nil, err
		}
		if hit {
			msg = fmt.Sprintf("hit %s with %s for %d damage (%d HP left)",
				result.TargetID, result.ActionName, result.Damage.Total, hp)
		} else {
			msg = fmt.Sprintf("missed %s with %s (%d to hit)",
				result.TargetID, result.ActionName, result.Attack.Total)
		}
	}
	s.logExecution(e, actorID, msg)
	return result, nil
}

// Dash trades the action slot for extra movement.
func (s *Service) Dash(id, actorID string) (*encounter.TurnState, error) {
	e, err := s.Encounter(id)
	if err != nil {
		return nil, err
	}
	turn, err := e.Dash(actorID)
	if err != nil {
		return nil, err
	}
	s.logExecution(e, actorID, fmt.Sprintf("dashed (%d ft available)", turn.RemainingMovement))
	return turn, nil
}

// Disengage consumes the action slot to move without provoking.
func (s *Service) Disengage(id, actorID string) error {
	e, err := s.Encounter(id)
	if err != nil {
		return err
	}
	if err := e.Disengage(actorID); err != nil {
		return err
	}
	s.logExecution(e, actorID, "disengaged")
	return nil
}

// Hide consumes the action slot for a Stealth check.
func (s *Service) Hide(id, actorID string) (*actor.CheckResult, error) {
	e, err := s.Encounter(id)
	if err != nil {
		return nil, err
	}
	check, err := e.Hide(actorID)
	if err != nil {
		return nil, err
	}
	s.logExecution(e, actorID, fmt.Sprintf("hid (Stealth %d)", check.Roll))
	return check, nil
}

// EndTurn closes the active actor's turn.
func (s *Service) EndTurn(id, actorID string) error {
	e, err := s.Encounter(id)
	if err != nil {
		return err
	}
	if err := e.EndTurn(actorID); err != nil {
		return err
	}
	s.logExecution(e, actorID, "ended their turn")
	return nil
}

// Snapshot returns the encounter's serializable whole-record state.
func (s *Service) Snapshot(id string) (encounter.EncounterSnapshot, error) {
	e, err := s.Encounter(id)
	if err != nil {
		return encounter.EncounterSnapshot{}, err
	}
	return e.Snapshot(), nil
}

// RunTurn drives the active actor's turn through the automated planning
// loop.
//
// Precondition: the service was configured with a loop controller.
func (s *Service) RunTurn(ctx context.Context, id string) error {
	if s.controller == nil {
		return apperr.PlannerUnavailable(nil, "no turn controller configured")
	}
	e, err := s.Encounter(id)
	if err != nil {
		return err
	}
	return s.controller.RunTurn(ctx, e)
}

// RunEncounter drives the whole encounter through the automated loop until
// it completes or maxRounds is exceeded.
func (s *Service) RunEncounter(ctx context.Context, id string, maxRounds int) error {
	if s.controller == nil {
		return apperr.PlannerUnavailable(nil, "no turn controller configured")
	}
	e, err := s.Encounter(id)
	if err != nil {
		return err
	}
	return s.controller.RunEncounter(ctx, e, maxRounds)
}

// Save persists the encounter snapshot and each actor snapshot.
//
// Precondition: the service was configured with a store.
func (s *Service) Save(ctx context.Context, id string) error {
	if s.store == nil {
		return apperr.InvalidState("no snapshot store configured")
	}
	e, err := s.Encounter(id)
	if err != nil {
		return err
	}
	snap := e.Snapshot()
	if err := s.store.PutEncounter(ctx, snap); err != nil {
		return err
	}
	for _, as := range snap.Actors {
		if err := s.store.PutActor(ctx, as); err != nil {
			return err
		}
	}
	s.logger.Info("encounter saved",
		zap.String("encounter", id),
		zap.Int("actors", len(snap.Actors)),
	)
	return nil
}

// Load restores a stored encounter into live memory, resolving its map by
// name and replacing any live encounter with the same ID.
func (s *Service) Load(ctx context.Context, id string) (*encounter.Encounter, error) {
	if s.store == nil {
		return nil, apperr.InvalidState("no snapshot store configured")
	}
	snap, err := s.store.GetEncounter(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[snap.MapName]
	if !ok {
		return nil, apperr.InvalidPosition("stored encounter %q references unknown map %q", id, snap.MapName)
	}
	e, err := encounter.FromSnapshot(snap, m, s.src)
	if err != nil {
		return nil, err
	}
	s.encounters[e.ID()] = e
	s.logger.Info("encounter loaded",
		zap.String("encounter", id),
		zap.String("map", snap.MapName),
		zap.Int("round", snap.Round),
	)
	return e, nil
}

// logExecution appends an execution entry for a manually driven operation
// and mirrors it to the hub. The loop controller appends its own entries as
// it runs.
func (s *Service) logExecution(e *encounter.Encounter, actorID, message string) {
	name := actorID
	if a, err := e.ActorByID(actorID); err == nil {
		name = a.Name
	}
	entry := e.Log().Append(encounter.EntryExecution, actorID, name+" "+message+".")
	if s.hub == nil {
		return
	}
	if data, err := json.Marshal(entry); err == nil {
		s.hub.Publish(broadcast.EncounterChannel(e.ID()), data)
		s.hub.Publish(broadcast.ActorChannel(actorID), data)
	}
}

// lastSeq returns the newest log sequence number, or -1 for an empty log.
func lastSeq(e *encounter.Encounter) int {
	tail := e.Log().Tail(1)
	if len(tail) == 0 {
		return -1
	}
	return tail[0].Seq
}

// publishSince mirrors log entries newer than the given sequence number to
// the encounter channel. The turn loop publishes its own entries as it
// appends them; this covers lifecycle transitions triggered through the
// service, which may append several entries at once.
func (s *Service) publishSince(e *encounter.Encounter, afterSeq int) {
	if s.hub == nil {
		return
	}
	for _, entry := range e.Log().Entries() {
		if entry.Seq <= afterSeq {
			continue
		}
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		s.hub.Publish(broadcast.EncounterChannel(e.ID()), data)
	}
}
