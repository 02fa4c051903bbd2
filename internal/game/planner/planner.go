// Package planner defines the agentic collaborators of the combat loop: the
// Planner that proposes one intent per prompt and the Narrator that turns
// factual results into flavor text.
//
// Planner output is never executed directly. Every intent passes through
// ValidateIntent against the exact menu that was offered, and the loop
// dispatches only validated intents to the encounter's own resolution
// methods.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
)

// Built-in operations present in every turn menu alongside the actor's own
// sheet actions.
const (
	OpMove      = "move"
	OpDash      = "dash"
	OpDisengage = "disengage"
	OpHide      = "hide"
	OpEndTurn   = "end_turn"
)

// Descriptor is one entry of the per-turn action menu: a tool-safe name, a
// human description, and the parameters the entry requires. For sheet
// actions, ActionName carries the exact action to dispatch and Bonus marks
// bonus-action entries.
type Descriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Params      map[string]string `json:"params,omitempty"` // param name -> description
	ActionName  string            `json:"actionName,omitempty"`
	Bonus       bool              `json:"bonus,omitempty"`
}

// Intent is one planned operation: a menu entry name plus its arguments.
type Intent struct {
	ActorID string         `json:"actorId"`
	Action  string         `json:"action"`
	Args    map[string]any `json:"args,omitempty"`
}

// StringArg returns the named argument as a string.
func (i *Intent) StringArg(name string) (string, bool) {
	v, ok := i.Args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntArg returns the named argument as an int, accepting the float64 values
// JSON decoding produces.
func (i *Intent) IntArg(name string) (int, bool) {
	switch v := i.Args[name].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Budget mirrors the acting actor's remaining turn resources.
type Budget struct {
	UsedAction        bool `json:"usedAction"`
	UsedBonusAction   bool `json:"usedBonusAction"`
	RemainingMovement int  `json:"remainingMovement"`
}

// Combatant is the planner-visible summary of one other combatant.
type Combatant struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Team       string   `json:"team"`
	HP         int      `json:"hp"`
	MaxHP      int      `json:"maxHp"`
	Conditions []string `json:"conditions,omitempty"`
	X          int      `json:"x"`
	Y          int      `json:"y"`
	DistanceFt int      `json:"distanceFt"`
}

// TurnContext is everything a planner may consider for one prompt: the
// acting actor's situation, the rendered map, the other combatants, the
// recent log, referee guidance, and the exact action menu on offer.
type TurnContext struct {
	EncounterName string `json:"encounterName"`
	Round         int    `json:"round"`

	ActorID   string `json:"actorId"`
	ActorName string `json:"actorName"`
	Team      string `json:"team"`
	HP        int    `json:"hp"`
	MaxHP     int    `json:"maxHp"`
	X         int    `json:"x"`
	Y         int    `json:"y"`

	Budget     Budget       `json:"budget"`
	MapRender  string       `json:"mapRender"`
	Combatants []Combatant  `json:"combatants,omitempty"`
	LogTail    []string     `json:"logTail,omitempty"`
	Guidance   string       `json:"guidance,omitempty"`
	Menu       []Descriptor `json:"menu"`
}

// Planner proposes one intent for the acting actor's next step. A nil intent
// with a nil error means "no actionable intent"; the loop treats that as an
// implicit end of turn.
type Planner interface {
	PlanAction(ctx context.Context, tc TurnContext) (*Intent, error)
}

// Narrator turns a factual result line into flavor text. Failures are
// best-effort misses; callers log and move on.
type Narrator interface {
	Narrate(ctx context.Context, factual string) (string, error)
}

// ValidateIntent checks intent against the menu it was offered and returns
// the matched descriptor. Any action name or argument outside the menu is
// rejected; planner output is never trusted as directly executable.
func ValidateIntent(intent *Intent, menu []Descriptor) (*Descriptor, error) {
	if intent == nil {
		return nil, apperr.ActionNotFound("nil intent")
	}
	var match *Descriptor
	for i := range menu {
		if menu[i].Name == intent.Action {
			match = &menu[i]
			break
		}
	}
	if match == nil {
		return nil, apperr.ActionNotFound("%q is not on the offered menu", intent.Action)
	}
	for name := range intent.Args {
		if _, ok := match.Params[name]; !ok {
			return nil, apperr.ActionNotFound("argument %q is not accepted by %q", name, intent.Action)
		}
	}
	for name := range match.Params {
		if _, ok := intent.Args[name]; !ok {
			return nil, apperr.ActionNotFound("%q requires argument %q", intent.Action, name)
		}
	}
	return match, nil
}

// Prompt renders the turn context as the user message for a language-model
// planner.
func (tc TurnContext) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Encounter %q, round %d.\n", tc.EncounterName, tc.Round)
	fmt.Fprintf(&b, "You are %s (%s), HP %d/%d, at (%d,%d).\n",
		tc.ActorName, tc.Team, tc.HP, tc.MaxHP, tc.X, tc.Y)
	fmt.Fprintf(&b, "Turn budget: action used=%t, bonus action used=%t, movement left=%d ft.\n",
		tc.Budget.UsedAction, tc.Budget.UsedBonusAction, tc.Budget.RemainingMovement)

	if tc.MapRender != "" {
		b.WriteString("\nBattle map (one square = 5 ft):\n")
		b.WriteString(tc.MapRender)
		b.WriteString("\n")
	}

	if len(tc.Combatants) > 0 {
		b.WriteString("\nOther combatants:\n")
		for _, c := range tc.Combatants {
			fmt.Fprintf(&b, "- %s (%s) HP %d/%d at (%d,%d), %d ft away",
				c.Name, c.Team, c.HP, c.MaxHP, c.X, c.Y, c.DistanceFt)
			if len(c.Conditions) > 0 {
				fmt.Fprintf(&b, " [%s]", strings.Join(c.Conditions, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(tc.LogTail) > 0 {
		b.WriteString("\nRecent events:\n")
		for _, line := range tc.LogTail {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	if tc.Guidance != "" {
		fmt.Fprintf(&b, "\nReferee guidance: %s\n", tc.Guidance)
	}

	b.WriteString("\nChoose exactly one of the offered tools for your next step.")
	return b.String()
}
