package grid

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// mapFile is the YAML schema for a battle map: a character legend plus rows
// of glyphs, one string per row.
type mapFile struct {
	Name   string `yaml:"name"`
	Legend map[string]struct {
		Terrain Terrain `yaml:"terrain"`
		Cover   Cover   `yaml:"cover"`
	} `yaml:"legend"`
	Rows []string `yaml:"rows"`
}

// defaultLegend covers the render glyphs so simple maps need no legend block.
var defaultLegend = map[byte]Terrain{
	'.': TerrainNormal,
	'#': TerrainWall,
	'~': TerrainDifficult,
	'w': TerrainWater,
	'!': TerrainLava,
}

// LoadMap reads a battle map from a YAML file.
//
// Postcondition: all rows have equal width; every glyph resolves through the
// file legend or the default legend, or an error is returned.
func LoadMap(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("grid: reading map %q: %w", path, err)
	}
	var f mapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("grid: parsing map %q: %w", path, err)
	}
	if len(f.Rows) == 0 {
		return nil, fmt.Errorf("grid: map %q has no rows", path)
	}

	width := len(f.Rows[0])
	for i, row := range f.Rows {
		if len(row) != width {
			return nil, fmt.Errorf("grid: map %q row %d has width %d, want %d", path, i, len(row), width)
		}
	}

	m, err := NewMap(f.Name, width, len(f.Rows))
	if err != nil {
		return nil, err
	}

	for y, row := range f.Rows {
		for x := 0; x < len(row); x++ {
			glyph := row[x]
			terrain, cover, err := resolveGlyph(f, glyph)
			if err != nil {
				return nil, fmt.Errorf("grid: map %q cell (%d,%d): %w", path, x, y, err)
			}
			if err := m.SetCell(Position{X: x, Y: y}, terrain, cover); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func resolveGlyph(f mapFile, glyph byte) (Terrain, Cover, error) {
	if entry, ok := f.Legend[string(glyph)]; ok {
		cover := entry.Cover
		if cover == "" {
			cover = CoverNone
		}
		return entry.Terrain, cover, nil
	}
	if terrain, ok := defaultLegend[glyph]; ok {
		return terrain, CoverNone, nil
	}
	return "", "", fmt.Errorf("unknown glyph %q", string(glyph))
}
