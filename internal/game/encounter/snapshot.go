package encounter

import (
	"sort"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/actor"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/grid"
)

// ActorSnapshot is a self-contained copy of one combatant: the full sheet
// plus the mutable combat state, enough to rebuild the actor on load.
type ActorSnapshot struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Team  actor.Team `json:"team"`
	Level int        `json:"level"`

	Abilities         actor.AbilityScores    `json:"abilities"`
	MaxHP             int                    `json:"maxHp"`
	CurrentHP         int                    `json:"currentHp"`
	Speed             int                    `json:"speed"`
	Armor             actor.Armor            `json:"armor"`
	Skills            map[string]actor.Skill `json:"skills,omitempty"`
	SaveProficiencies []actor.Ability        `json:"saveProficiencies,omitempty"`

	Conditions   []actor.Condition `json:"conditions,omitempty"`
	Actions      []actor.Action    `json:"actions,omitempty"`
	BonusActions []actor.Action    `json:"bonusActions,omitempty"`

	Position grid.Position `json:"position"`

	// ArmorClass is derived, included so observers need no rules knowledge.
	ArmorClass int `json:"armorClass"`
}

// EncounterSnapshot is a point-in-time copy of the whole encounter, fit for
// persistence and for broadcasting to observers. It carries the map by name
// only; cells are content, not state.
type EncounterSnapshot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  Status `json:"status"`
	MapName string `json:"mapName"`

	Round      int               `json:"round"`
	TurnIndex  int               `json:"turnIndex"`
	Initiative []InitiativeEntry `json:"initiative,omitempty"`
	Turn       *TurnState        `json:"turn,omitempty"`

	Actors []ActorSnapshot `json:"actors"` // registration order
	Log    []LogEntry      `json:"log,omitempty"`
}

// Snapshot copies the current encounter state. The copy shares nothing with
// the live encounter and is safe to serialise or hand to observers.
func (e *Encounter) Snapshot() EncounterSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := EncounterSnapshot{
		ID:        e.id,
		Name:      e.name,
		Status:    e.status,
		MapName:   e.gridMap.Name(),
		Round:     e.round,
		TurnIndex: e.turnIndex,
	}
	if len(e.initiative) > 0 {
		snap.Initiative = make([]InitiativeEntry, len(e.initiative))
		copy(snap.Initiative, e.initiative)
	}
	if e.turn != nil {
		turn := *e.turn
		snap.Turn = &turn
	}
	snap.Actors = make([]ActorSnapshot, 0, len(e.order))
	for _, id := range e.order {
		pos, _ := e.gridMap.PositionOf(id)
		snap.Actors = append(snap.Actors, snapshotActor(e.actors[id], pos))
	}
	snap.Log = e.log.Entries()
	return snap
}

func snapshotActor(a *actor.Actor, pos grid.Position) ActorSnapshot {
	s := ActorSnapshot{
		ID:           a.ID,
		Name:         a.Name,
		Team:         a.Team,
		Level:        a.Level,
		Abilities:    a.Abilities,
		MaxHP:        a.MaxHP,
		CurrentHP:    a.HP(),
		Speed:        a.Speed,
		Armor:        a.Armor,
		Conditions:   a.Conditions(),
		Actions:      a.Actions(),
		BonusActions: a.BonusActions(),
		Position:     pos,
		ArmorClass:   a.ArmorClass(),
	}
	if len(a.Skills) > 0 {
		s.Skills = make(map[string]actor.Skill, len(a.Skills))
		for name, sk := range a.Skills {
			s.Skills[name] = sk
		}
	}
	for ab := range a.SaveProficiencies {
		s.SaveProficiencies = append(s.SaveProficiencies, ab)
	}
	sort.Slice(s.SaveProficiencies, func(i, j int) bool {
		return s.SaveProficiencies[i] < s.SaveProficiencies[j]
	})
	return s
}

// Restore rebuilds a live actor from the snapshot.
func (s ActorSnapshot) Restore() *actor.Actor {
	a := &actor.Actor{
		ID:        s.ID,
		Name:      s.Name,
		Team:      s.Team,
		Level:     s.Level,
		Abilities: s.Abilities,
		MaxHP:     s.MaxHP,
		CurrentHP: s.CurrentHP,
		Speed:     s.Speed,
		Armor:     s.Armor,
	}
	if len(s.Skills) > 0 {
		a.Skills = make(map[string]actor.Skill, len(s.Skills))
		for name, sk := range s.Skills {
			a.Skills[name] = sk
		}
	}
	if len(s.SaveProficiencies) > 0 {
		a.SaveProficiencies = make(map[actor.Ability]bool, len(s.SaveProficiencies))
		for _, ab := range s.SaveProficiencies {
			a.SaveProficiencies[ab] = true
		}
	}
	for _, c := range s.Conditions {
		a.AddCondition(c)
	}
	for _, act := range s.Actions {
		a.AddAction(act)
	}
	for _, act := range s.BonusActions {
		a.AddBonusAction(act)
	}
	return a
}

// FromSnapshot rebuilds a live encounter on the given map. The map is
// resolved by the caller from content (snapshots store the map name only);
// its dimensions must match the recorded actor positions.
func FromSnapshot(snap EncounterSnapshot, m *grid.Map, src dice.Source) (*Encounter, error) {
	e := &Encounter{
		id:        snap.ID,
		name:      snap.Name,
		status:    snap.Status,
		actors:    make(map[string]*actor.Actor, len(snap.Actors)),
		gridMap:   m,
		log:       &Log{entries: append([]LogEntry(nil), snap.Log...)},
		src:       src,
		round:     snap.Round,
		turnIndex: snap.TurnIndex,
	}
	for _, as := range snap.Actors {
		a := as.Restore()
		if err := m.PlaceActor(a.ID, as.Position); err != nil {
			return nil, apperr.InvalidPosition("restoring %s at %s: %v", a.Name, as.Position, err)
		}
		e.actors[a.ID] = a
		e.order = append(e.order, a.ID)
	}
	if len(snap.Initiative) > 0 {
		e.initiative = make([]InitiativeEntry, len(snap.Initiative))
		copy(e.initiative, snap.Initiative)
	}
	if snap.Turn != nil {
		turn := *snap.Turn
		if _, ok := e.actors[turn.ActorID]; !ok {
			return nil, apperr.ActorNotFound("turn state references unknown actor %q", turn.ActorID)
		}
		e.turn = &turn
	}
	return e, nil
}
