// Package grid implements the terrain map, per-cell passability and cover,
// the occupancy index, and grid distance math.
package grid

import (
	"fmt"
	"strings"
	"sync"
)

// FeetPerSquare is the distance one grid square represents.
const FeetPerSquare = 5

// Terrain classifies a cell's ground.
type Terrain string

const (
	TerrainNormal    Terrain = "normal"
	TerrainWall      Terrain = "wall"
	TerrainDifficult Terrain = "difficult"
	TerrainWater     Terrain = "water"
	TerrainLava      Terrain = "lava"
)

// Cover classifies the protection a cell offers.
type Cover string

const (
	CoverNone          Cover = "none"
	CoverHalf          Cover = "half"
	CoverThreeQuarters Cover = "three-quarters"
	CoverFull          Cover = "full"
)

// Position is an integer cell coordinate on a bounded grid.
type Position struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

// String renders the position as "(x,y)".
func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Distance returns the distance in feet between two cells: Chebyshev
// distance (diagonals cost the same as orthogonals) times FeetPerSquare.
func Distance(a, b Position) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dy > dx {
		dx = dy
	}
	return dx * FeetPerSquare
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Cell is one square of the map.
//
// Invariant: at most one occupant per cell.
type Cell struct {
	Terrain    Terrain `json:"terrain"`
	Cover      Cover   `json:"cover"`
	OccupantID string  `json:"occupantId,omitempty"`
}

// Map is a bounded battle map with an occupancy index. All methods are safe
// for concurrent use.
//
// Invariant: an actor has exactly one position once placed, and the cell at
// that position names the actor as occupant.
type Map struct {
	mu        sync.RWMutex
	name      string
	width     int
	height    int
	cells     [][]Cell // cells[y][x]
	positions map[string]Position
}

// NewMap creates a w×h map of normal terrain.
//
// Precondition: w and h must be >= 1.
func NewMap(name string, w, h int) (*Map, error) {
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("grid: map dimensions must be >= 1, got %dx%d", w, h)
	}
	cells := make([][]Cell, h)
	for y := range cells {
		cells[y] = make([]Cell, w)
		for x := range cells[y] {
			cells[y][x] = Cell{Terrain: TerrainNormal, Cover: CoverNone}
		}
	}
	return &Map{
		name:      name,
		width:     w,
		height:    h,
		cells:     cells,
		positions: make(map[string]Position),
	}, nil
}

// Name returns the map's display name.
func (m *Map) Name() string { return m.name }

// Width returns the map width in cells.
func (m *Map) Width() int { return m.width }

// Height returns the map height in cells.
func (m *Map) Height() int { return m.height }

// SetCell overwrites the terrain and cover at pos. Used by the loader and by
// setup tooling; out-of-bounds positions are rejected.
func (m *Map) SetCell(pos Position, terrain Terrain, cover Cover) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inBounds(pos) {
		return fmt.Errorf("grid: %s is out of bounds", pos)
	}
	c := &m.cells[pos.Y][pos.X]
	c.Terrain = terrain
	c.Cover = cover
	return nil
}

// CellAt returns a copy of the cell at pos.
func (m *Map) CellAt(pos Position) (Cell, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inBounds(pos) {
		return Cell{}, false
	}
	return m.cells[pos.Y][pos.X], true
}

func (m *Map) inBounds(pos Position) bool {
	return pos.X >= 0 && pos.X < m.width && pos.Y >= 0 && pos.Y < m.height
}

// IsValidPosition reports whether pos is inside bounds and not a wall.
// Occupancy is deliberately not a blocking condition here: two actors may
// both intend a cell, but only the mover that commits first occupies it.
func (m *Map) IsValidPosition(pos Position) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inBounds(pos) && m.cells[pos.Y][pos.X].Terrain != TerrainWall
}

// PlaceActor puts an unplaced actor onto the map.
//
// Postcondition: PositionOf(id) == pos and the cell names id as occupant.
func (m *Map) PlaceActor(id string, pos Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inBounds(pos) || m.cells[pos.Y][pos.X].Terrain == TerrainWall {
		return fmt.Errorf("grid: cannot place actor at %s", pos)
	}
	if _, placed := m.positions[id]; placed {
		return fmt.Errorf("grid: actor %q is already placed", id)
	}
	m.positions[id] = pos
	m.cells[pos.Y][pos.X].OccupantID = id
	return nil
}

// RemoveActor takes an actor off the map. No-op when not placed.
func (m *Map) RemoveActor(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.positions[id]; ok {
		if m.cells[pos.Y][pos.X].OccupantID == id {
			m.cells[pos.Y][pos.X].OccupantID = ""
		}
		delete(m.positions, id)
	}
}

// MoveActor relocates a placed actor to newPos. Returns false with no
// mutation when the target is out of bounds or a wall, or the actor is not
// placed. This primitive does not check movement budget — that is the
// caller's responsibility, enabling reuse for setup placement moves.
//
// Postcondition on success: the previous cell's occupancy is cleared, the
// new cell names the actor, and PositionOf(id) == newPos.
func (m *Map) MoveActor(id string, newPos Position) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, placed := m.positions[id]
	if !placed {
		return false
	}
	if !m.inBounds(newPos) || m.cells[newPos.Y][newPos.X].Terrain == TerrainWall {
		return false
	}

	if m.cells[old.Y][old.X].OccupantID == id {
		m.cells[old.Y][old.X].OccupantID = ""
	}
	m.cells[newPos.Y][newPos.X].OccupantID = id
	m.positions[id] = newPos
	return true
}

// PositionOf returns the actor's current position.
func (m *Map) PositionOf(id string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	return pos, ok
}

// AllDistances returns the distance in feet from the given actor to every
// other placed actor, computed fresh from current positions.
func (m *Map) AllDistances(id string) (map[string]int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]int, len(m.positions)-1)
	for other, pos := range m.positions {
		if other == id {
			continue
		}
		out[other] = Distance(from, pos)
	}
	return out, true
}

// terrainGlyphs maps terrain to its render character for unoccupied cells.
var terrainGlyphs = map[Terrain]byte{
	TerrainNormal:    '.',
	TerrainWall:      '#',
	TerrainDifficult: '~',
	TerrainWater:     'w',
	TerrainLava:      '!',
}

// Render draws the map as ASCII, one row per line. Occupied cells show the
// first letter of the marker the caller assigns via markers (actor ID →
// glyph); unmarked occupants render as '@'.
func (m *Map) Render(markers map[string]byte) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			c := m.cells[y][x]
			switch {
			case c.OccupantID != "":
				if g, ok := markers[c.OccupantID]; ok {
					b.WriteByte(g)
				} else {
					b.WriteByte('@')
				}
			default:
				b.WriteByte(terrainGlyphs[c.Terrain])
			}
		}
		if y < m.height-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
