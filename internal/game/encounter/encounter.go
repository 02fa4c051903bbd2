// Package encounter implements the encounter aggregate: the actor roster,
// the initiative and turn scheduler, the per-turn budget state machine, and
// the action resolution engine.
//
// The Encounter is a single-writer aggregate: its mutex serialises every
// scheduler and turn-state mutation. Cross-actor effects go through the
// target actor's own methods, never through direct field access.
package encounter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/actor"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/grid"
)

// Status is the encounter lifecycle state.
type Status string

const (
	StatusPreparing  Status = "PREPARING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED" // terminal
)

// TurnState is the per-turn budget: one action, one bonus action, and a
// movement allowance. It exists for exactly one actor at a time.
//
// Invariant: within one turn UsedAction and UsedBonusAction only transition
// false→true, and RemainingMovement never goes negative.
type TurnState struct {
	ActorID           string `json:"actorId"`
	UsedAction        bool   `json:"usedAction"`
	UsedBonusAction   bool   `json:"usedBonusAction"`
	RemainingMovement int    `json:"remainingMovement"` // feet
}

// InitiativeEntry records one actor's initiative roll.
type InitiativeEntry struct {
	ActorID string `json:"actorId"`
	Roll    int    `json:"roll"` // d20 + dexterity modifier
}

// Encounter is one bounded combat scenario: a roster, a grid, and a log.
type Encounter struct {
	mu sync.Mutex

	id     string
	name   string
	status Status

	actors   map[string]*actor.Actor
	order    []string // registration order; initiative tiebreak
	gridMap  *grid.Map
	log      *Log
	src      dice.Source

	initiative []InitiativeEntry
	round      int
	turnIndex  int
	turn       *TurnState // non-nil for at most one actor, by construction
}

// New creates an encounter in PREPARING over the given map.
//
// Precondition: m and src must be non-nil.
func New(name string, m *grid.Map, src dice.Source) *Encounter {
	return &Encounter{
		id:      uuid.NewString(),
		name:    name,
		status:  StatusPreparing,
		actors:  make(map[string]*actor.Actor),
		gridMap: m,
		log:     &Log{},
		src:     src,
	}
}

// ID returns the encounter identifier.
func (e *Encounter) ID() string { return e.id }

// Name returns the encounter display name.
func (e *Encounter) Name() string { return e.name }

// Grid returns the encounter's battle map.
func (e *Encounter) Grid() *grid.Map { return e.gridMap }

// Log returns the append-only encounter log.
func (e *Encounter) Log() *Log { return e.log }

// Status returns the lifecycle state.
func (e *Encounter) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Round returns the current round number (0 before the encounter starts).
func (e *Encounter) Round() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// Register adds an actor to the roster and places it on the grid.
// Registration is only legal while PREPARING.
//
// Postcondition: the actor is retrievable by ID and occupies pos.
func (e *Encounter) Register(a *actor.Actor, pos grid.Position) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusPreparing {
		return apperr.InvalidStatef("cannot register actors while encounter is %s", e.status)
	}
	if _, exists := e.actors[a.ID]; exists {
		return apperr.InvalidStatef("actor %q is already registered", a.ID)
	}
	if err := e.gridMap.PlaceActor(a.ID, pos); err != nil {
		return apperr.InvalidPosition("placing %s at %s: %v", a.Name, pos, err)
	}
	e.actors[a.ID] = a
	e.order = append(e.order, a.ID)
	return nil
}

// ActorByID returns the registered actor with the given ID.
func (e *Encounter) ActorByID(id string) (*actor.Actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.actorLocked(id)
}

func (e *Encounter) actorLocked(id string) (*actor.Actor, error) {
	a, ok := e.actors[id]
	if !ok {
		return nil, apperr.ActorNotFound("no actor with id %q", id)
	}
	return a, nil
}

// Actors returns the roster in registration order.
func (e *Encounter) Actors() []*actor.Actor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*actor.Actor, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.actors[id])
	}
	return out
}

// Start rolls initiative for every registered actor (d20 + dexterity
// modifier), sorts descending with ties broken by registration order, sets
// round 1, and opens the first actor's turn.
//
// Precondition: status is PREPARING and the roster is non-empty.
func (e *Encounter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusPreparing {
		return apperr.InvalidStatef("cannot start encounter while %s", e.status)
	}
	if len(e.order) == 0 {
		return apperr.InvalidState("cannot start an encounter with no registered actors")
	}

	e.initiative = make([]InitiativeEntry, 0, len(e.order))
	for _, id := range e.order {
		a := e.actors[id]
		roll := dice.D20(e.src) + a.InitiativeModifier()
		e.initiative = append(e.initiative, InitiativeEntry{ActorID: id, Roll: roll})
	}
	// Stable sort over the registration-ordered slice: equal rolls keep
	// registration order, making the tiebreak deterministic.
	sort.SliceStable(e.initiative, func(i, j int) bool {
		return e.initiative[i].Roll > e.initiative[j].Roll
	})

	e.status = StatusInProgress
	e.round = 1
	e.turnIndex = 0

	first := e.actors[e.initiative[0].ActorID]
	e.turn = &TurnState{ActorID: first.ID, RemainingMovement: first.Speed}

	e.log.Append(EntryEncounter, "", fmt.Sprintf("Encounter %q begins with %d combatants.", e.name, len(e.order)))
	e.log.Append(EntryRound, "", "Round 1 begins.")
	e.log.Append(EntryTurn, first.ID, fmt.Sprintf("%s's turn.", first.Name))
	return nil
}

// Initiative returns a copy of the initiative order.
func (e *Encounter) Initiative() []InitiativeEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]InitiativeEntry, len(e.initiative))
	copy(out, e.initiative)
	return out
}

// ActiveActor returns the actor whose turn it is.
func (e *Encounter) ActiveActor() (*actor.Actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusInProgress {
		return nil, apperr.InvalidStatef("encounter is %s", e.status)
	}
	return e.actors[e.initiative[e.turnIndex].ActorID], nil
}

// Turn returns a copy of the active turn state, or false when no turn is
// open.
func (e *Encounter) Turn() (TurnState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.turn == nil {
		return TurnState{}, false
	}
	return *e.turn, true
}

// AdvanceTurn moves to the next actor in initiative order, incrementing the
// round number when the order wraps, and opens a fresh turn for the new
// actor. A log entry is appended on every advance.
//
// Postcondition: the returned actor owns the only open TurnState.
func (e *Encounter) AdvanceTurn() (*actor.Actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusInProgress {
		return nil, apperr.InvalidStatef("cannot advance turn while encounter is %s", e.status)
	}

	e.turnIndex++
	if e.turnIndex >= len(e.initiative) {
		e.turnIndex = 0
		e.round++
		e.log.Append(EntryRound, "", fmt.Sprintf("Round %d begins.", e.round))
	}

	next := e.actors[e.initiative[e.turnIndex].ActorID]
	e.turn = &TurnState{ActorID: next.ID, RemainingMovement: next.Speed}
	e.log.Append(EntryTurn, next.ID, fmt.Sprintf("%s's turn.", next.Name))
	return next, nil
}

// End completes the encounter. This is always an explicit external trigger:
// the engine never decides on its own that combat is over. After completion
// every resolution call is rejected, so late planner results are discarded.
func (e *Encounter) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusCompleted {
		return apperr.InvalidState("encounter is already completed")
	}
	e.status = StatusCompleted
	e.turn = nil
	e.log.Append(EntryEncounter, "", fmt.Sprintf("Encounter %q is over.", e.name))
	return nil
}
