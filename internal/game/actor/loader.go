package actor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is an actor sheet loaded from YAML content, ready to be
// instantiated into an encounter any number of times.
type Template struct {
	ID                string           `yaml:"id"`
	Name              string           `yaml:"name"`
	Team              Team             `yaml:"team"`
	Level             int              `yaml:"level"`
	Speed             int              `yaml:"speed"`
	Abilities         *AbilityScores   `yaml:"abilities"` // nil = roll 4d6kh3
	MaxHP             int              `yaml:"max_hp"`
	Armor             Armor            `yaml:"armor"`
	Skills            map[string]Skill `yaml:"skills"`
	SaveProficiencies []Ability        `yaml:"save_proficiencies"`
	Actions           []Action         `yaml:"actions"`
	BonusActions      []Action         `yaml:"bonus_actions"`
}

// Validate checks template invariants without instantiating.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("actor template: id must not be empty")
	}
	if t.Name == "" {
		return fmt.Errorf("actor template %q: name must not be empty", t.ID)
	}
	for _, act := range t.Actions {
		if err := act.Validate(); err != nil {
			return fmt.Errorf("actor template %q: %w", t.ID, err)
		}
	}
	for _, act := range t.BonusActions {
		if err := act.Validate(); err != nil {
			return fmt.Errorf("actor template %q: %w", t.ID, err)
		}
	}
	for _, ab := range t.SaveProficiencies {
		if !validAbility(ab) {
			return fmt.Errorf("actor template %q: unknown ability %q", t.ID, ab)
		}
	}
	for name := range t.Skills {
		if _, ok := skillAbility[name]; !ok {
			return fmt.Errorf("actor template %q: unknown skill %q", t.ID, name)
		}
	}
	return nil
}

// Config converts the template into a builder Config, applying team as an
// override when non-empty.
func (t *Template) Config(team Team) Config {
	effective := t.Team
	if team != "" {
		effective = team
	}
	return Config{
		Name:              t.Name,
		Team:              effective,
		Level:             t.Level,
		Speed:             t.Speed,
		Abilities:         t.Abilities,
		MaxHP:             t.MaxHP,
		Armor:             t.Armor,
		Skills:            t.Skills,
		SaveProficiencies: t.SaveProficiencies,
		Actions:           t.Actions,
		BonusActions:      t.BonusActions,
	}
}

func validAbility(ab Ability) bool {
	for _, known := range Abilities {
		if ab == known {
			return true
		}
	}
	return false
}

// LoadTemplates reads all *.yaml files in dir and returns the parsed
// templates sorted by ID.
//
// Postcondition: returns an error if any file fails to parse or validate;
// IDs are unique across the directory.
func LoadTemplates(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("actor: reading template dir %q: %w", dir, err)
	}

	seen := make(map[string]string)
	var templates []*Template
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("actor: reading %s: %w", e.Name(), err)
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("actor: parsing %s: %w", e.Name(), err)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("actor: %s: %w", e.Name(), err)
		}
		if prev, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("actor: duplicate template ID %q in %s (also in %s)", t.ID, e.Name(), prev)
		}
		seen[t.ID] = e.Name()
		templates = append(templates, &t)
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}
