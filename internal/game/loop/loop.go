// Package loop drives the agentic turn cycle: plan, propose, verify,
// execute, reflect. The controller asks a Planner for one intent at a time,
// validates it against the offered menu, waits for referee approval, and
// dispatches approved intents to the encounter's own resolution methods.
//
// The planner is a collaborator, not an authority: everything it proposes is
// re-checked, every rejection is tolerated, and a completed encounter
// silently discards whatever the planner still has in flight.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/broadcast"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/encounter"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/grid"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/planner"
)

// Proposal is one pending intent awaiting referee approval.
type Proposal struct {
	EncounterID string         `json:"encounterId"`
	ActorID     string         `json:"actorId"`
	ActorName   string         `json:"actorName"`
	Intent      planner.Intent `json:"intent"`
	Summary     string         `json:"summary"`
}

// Approver reviews pending proposals. The literal answer "yes" (case and
// surrounding space insensitive) approves; any other answer is taken as
// guidance for the next planning attempt.
type Approver interface {
	Review(ctx context.Context, proposal Proposal) (string, error)
}

// AutoApprover approves every proposal, for unattended simulation.
type AutoApprover struct{}

// Review returns "yes".
func (AutoApprover) Review(context.Context, Proposal) (string, error) { return "yes", nil }

// Config assembles a Controller.
type Config struct {
	Planner  planner.Planner
	Narrator planner.Narrator // optional; nil disables reflection
	Approver Approver
	Hub      *broadcast.Hub // optional; nil disables publishing
	Logger   *zap.Logger

	// PlanTimeout bounds each planner and narrator call. Zero selects 30s.
	PlanTimeout time.Duration
	// MaxPlansPerTurn bounds the plan/re-plan cycle within one turn. Zero
	// selects 8.
	MaxPlansPerTurn int
	// LogTailLen is how many recent log entries each prompt carries. Zero
	// selects 12.
	LogTailLen int
}

// Controller runs the planning loop for one actor's turn at a time.
type Controller struct {
	planner  planner.Planner
	narrator planner.Narrator
	approver Approver
	hub      *broadcast.Hub
	logger   *zap.Logger
	timeout  time.Duration
	maxPlans int
	tailLen  int
}

// NewController creates a Controller.
//
// Precondition: cfg.Planner, cfg.Approver, and cfg.Logger must be non-nil.
func NewController(cfg Config) *Controller {
	timeout := cfg.PlanTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxPlans := cfg.MaxPlansPerTurn
	if maxPlans <= 0 {
		maxPlans = 8
	}
	tailLen := cfg.LogTailLen
	if tailLen <= 0 {
		tailLen = 12
	}
	return &Controller{
		planner:  cfg.Planner,
		narrator: cfg.Narrator,
		approver: cfg.Approver,
		hub:      cfg.Hub,
		logger:   cfg.Logger,
		timeout:  timeout,
		maxPlans: maxPlans,
		tailLen:  tailLen,
	}
}

// RunTurn plans and executes the active actor's turn until the turn ends:
// explicitly through an approved end_turn, implicitly when the planner has
// no intent, or forcibly when the plan budget runs out.
//
// Precondition: the encounter is IN_PROGRESS with an open turn.
func (c *Controller) RunTurn(ctx context.Context, enc *encounter.Encounter) error {
	active, err := enc.ActiveActor()
	if err != nil {
		return err
	}
	actorID := active.ID

	guidance := ""
	for plans := 0; plans < c.maxPlans; plans++ {
		turn, open := enc.Turn()
		if !open || turn.ActorID != actorID {
			return nil // turn already closed
		}

		tc := c.turnContext(enc, actorID, turn, guidance)
		guidance = ""

		intent, err := c.plan(ctx, tc)
		if err != nil {
			if apperr.IsKind(err, apperr.KindPlannerUnavailable) {
				c.logger.Warn("loop: planner unavailable, ending turn",
					zap.String("actor", actorID),
					zap.Error(err),
				)
				return c.endTurn(enc, actorID)
			}
			return err
		}
		if intent == nil {
			// No actionable intent is an implicit end of turn.
			return c.endTurn(enc, actorID)
		}

		desc, err := planner.ValidateIntent(intent, tc.Menu)
		if err != nil {
			c.appendAndPublish(enc, encounter.EntryFailure, actorID,
				fmt.Sprintf("%s proposed %q, which is not on the menu.", tc.ActorName, intent.Action))
			guidance = fmt.Sprintf("your proposal %q was rejected: %v; choose from the offered menu", intent.Action, err)
			continue
		}

		proposal := Proposal{
			EncounterID: enc.ID(),
			ActorID:     actorID,
			ActorName:   tc.ActorName,
			Intent:      *intent,
			Summary:     summarize(tc.ActorName, intent, desc),
		}
		c.appendAndPublish(enc, encounter.EntryProposal, actorID, proposal.Summary)

		answer, err := c.approver.Review(ctx, proposal)
		if err != nil {
			return err
		}
		if !approved(answer) {
			c.appendAndPublish(enc, encounter.EntryApproval, actorID,
				fmt.Sprintf("Proposal declined: %s", answer))
			guidance = answer
			continue
		}
		c.appendAndPublish(enc, encounter.EntryApproval, actorID, "Proposal approved.")

		factual, execErr := c.execute(enc, intent, desc)
		if execErr != nil {
			if apperr.IsKind(execErr, apperr.KindInvalidState) {
				// The encounter completed underneath us; discard the result.
				c.logger.Info("loop: discarding result for completed encounter",
					zap.String("encounter", enc.ID()),
					zap.String("actor", actorID),
				)
				return nil
			}
			c.appendAndPublish(enc, encounter.EntryFailure, actorID,
				fmt.Sprintf("%s failed: %v", proposal.Summary, execErr))
			guidance = fmt.Sprintf("your last action was rejected: %v", execErr)
			continue
		}
		c.appendAndPublish(enc, encounter.EntryExecution, actorID, factual)

		c.reflect(ctx, enc, actorID, factual)

		if desc.Name == planner.OpEndTurn {
			return nil
		}
	}

	// Plan budget exhausted; close the turn rather than spin.
	c.logger.Warn("loop: plan budget exhausted, ending turn",
		zap.String("actor", actorID),
	)
	return c.endTurn(enc, actorID)
}

// RunEncounter runs turns and advances initiative until the encounter
// completes or maxRounds is exceeded. Ending the encounter stays an explicit
// external decision; the controller only stops driving it.
func (c *Controller) RunEncounter(ctx context.Context, enc *encounter.Encounter, maxRounds int) error {
	for enc.Status() == encounter.StatusInProgress {
		if maxRounds > 0 && enc.Round() > maxRounds {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.RunTurn(ctx, enc); err != nil {
			return err
		}
		if enc.Status() != encounter.StatusInProgress {
			return nil
		}
		if _, err := enc.AdvanceTurn(); err != nil {
			if apperr.IsKind(err, apperr.KindInvalidState) {
				return nil
			}
			return err
		}
	}
	return nil
}

// plan asks the planner for one intent under the configured timeout, with no
// engine locks held.
func (c *Controller) plan(ctx context.Context, tc planner.TurnContext) (*planner.Intent, error) {
	planCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	intent, err := c.planner.PlanAction(planCtx, tc)
	if err != nil {
		if planCtx.Err() != nil && ctx.Err() == nil {
			return nil, apperr.PlannerUnavailable(err, "planner timed out")
		}
		return nil, err
	}
	return intent, nil
}

func (c *Controller) execute(enc *encounter.Encounter, intent *planner.Intent, desc *planner.Descriptor) (string, error) {
	actorID := intent.ActorID
	a, err := enc.ActorByID(actorID)
	if err != nil {
		return "", err
	}

	if desc.ActionName != "" {
		target, _ := intent.StringArg("target")
		var result *encounter.ActionResult
		if desc.Bonus {
			result, err = enc.PerformBonusAction(actorID, desc.ActionName, target)
		} else {
			result, err = enc.PerformAction(actorID, desc.ActionName, target)
		}
		if err != nil {
			return "", err
		}
		return c.describeResult(enc, a.Name, result)
	}

	switch desc.Name {
	case planner.OpMove:
		x, _ := intent.IntArg("x")
		y, _ := intent.IntArg("y")
		res, err := enc.Move(actorID, grid.Position{X: x, Y: y})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s moves from %s to %s (%d ft, %d ft left).",
			a.Name, res.From, res.To, res.DistanceFt, res.RemainingMovement), nil
	case planner.OpDash:
		turn, err := enc.Dash(actorID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s dashes, gaining movement (%d ft available).",
			a.Name, turn.RemainingMovement), nil
	case planner.OpDisengage:
		if err := enc.Disengage(actorID); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s disengages, moving carefully out of reach.", a.Name), nil
	case planner.OpHide:
		check, err := enc.Hide(actorID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s hides, rolling a %d on Stealth.", a.Name, check.Roll), nil
	case planner.OpEndTurn:
		if err := enc.EndTurn(actorID); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s ends their turn.", a.Name), nil
	default:
		return "", apperr.ActionNotFound("no dispatch for menu entry %q", desc.Name)
	}
}

// describeResult turns an ActionResult into one factual log line, applying
// AC adjudication for weapon attacks with a named target.
func (c *Controller) describeResult(enc *encounter.Encounter, actorName string, result *encounter.ActionResult) (string, error) {
	targetName := result.TargetID
	if target, err := enc.ActorByID(result.TargetID); err == nil {
		targetName = target.Name
	}

	if result.Attack != nil {
		if result.TargetID == "" {
			return fmt.Sprintf("%s attacks with %s: rolled %d to hit, nobody targeted.",
				actorName, result.ActionName, result.Attack.Total), nil
		}
		hp, hit, err := enc.ApplyAttackDamage(result, result.TargetID)
		if err != nil {
			return "", err
		}
		switch {
		case result.Attack.CriticalMiss:
			return fmt.Sprintf("%s attacks %s with %s and fumbles (natural 1).",
				actorName, targetName, result.ActionName), nil
		case !hit:
			return fmt.Sprintf("%s attacks %s with %s: %d to hit, a miss.",
				actorName, targetName, result.ActionName, result.Attack.Total), nil
		case result.Attack.CriticalHit:
			return fmt.Sprintf("%s crits %s with %s for %d %s damage (%d HP left).",
				actorName, targetName, result.ActionName, result.Damage.Total, result.Damage.Type, hp), nil
		default:
			return fmt.Sprintf("%s hits %s with %s: %d to hit, %d %s damage (%d HP left).",
				actorName, targetName, result.ActionName, result.Attack.Total,
				result.Damage.Total, result.Damage.Type, hp), nil
		}
	}

	// Special action: report the forced save; damage application is the
	// referee's call once saves are resolved.
	msg := fmt.Sprintf("%s uses %s", actorName, result.ActionName)
	if targetName != "" {
		msg += " on " + targetName
	}
	if result.Save != nil {
		msg += fmt.Sprintf(" (DC %d %s save", result.Save.DC, result.Save.Ability)
		if result.Damage != nil {
			msg += fmt.Sprintf(", %d %s damage on a failure", result.Damage.Total, result.Damage.Type)
		}
		msg += ")"
	} else if result.Damage != nil {
		msg += fmt.Sprintf(" (%d %s damage)", result.Damage.Total, result.Damage.Type)
	}
	return msg + ".", nil
}

// reflect asks the narrator for flavor text. Failures are logged and
// swallowed; narration never gates the loop.
func (c *Controller) reflect(ctx context.Context, enc *encounter.Encounter, actorID, factual string) {
	if c.narrator == nil {
		return
	}
	narrateCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	line, err := c.narrator.Narrate(narrateCtx, factual)
	if err != nil {
		c.logger.Debug("loop: narration failed",
			zap.String("actor", actorID),
			zap.Error(err),
		)
		return
	}
	c.appendAndPublish(enc, encounter.EntryNarration, actorID, line)
}

func (c *Controller) endTurn(enc *encounter.Encounter, actorID string) error {
	if err := enc.EndTurn(actorID); err != nil {
		if apperr.IsKind(err, apperr.KindInvalidState) || apperr.IsKind(err, apperr.KindNoActionAvailable) {
			return nil // already closed or encounter over
		}
		return err
	}
	return nil
}

// turnContext assembles the planner's view of the world from snapshots; no
// engine locks are held while the planner runs.
func (c *Controller) turnContext(enc *encounter.Encounter, actorID string, turn encounter.TurnState, guidance string) planner.TurnContext {
	snap := enc.Snapshot()

	tc := planner.TurnContext{
		EncounterName: snap.Name,
		Round:         snap.Round,
		ActorID:       actorID,
		Guidance:      guidance,
		Budget: planner.Budget{
			UsedAction:        turn.UsedAction,
			UsedBonusAction:   turn.UsedBonusAction,
			RemainingMovement: turn.RemainingMovement,
		},
	}

	markers := make(map[string]byte, len(snap.Actors))
	for _, as := range snap.Actors {
		if len(as.Name) > 0 {
			markers[as.ID] = as.Name[0]
		}
	}
	tc.MapRender = enc.Grid().Render(markers)

	distances, _ := enc.Grid().AllDistances(actorID)
	for _, as := range snap.Actors {
		if as.ID == actorID {
			tc.ActorName = as.Name
			tc.Team = string(as.Team)
			tc.HP = as.CurrentHP
			tc.MaxHP = as.MaxHP
			tc.X = as.Position.X
			tc.Y = as.Position.Y
			continue
		}
		conditions := make([]string, 0, len(as.Conditions))
		for _, cond := range as.Conditions {
			conditions = append(conditions, string(cond))
		}
		tc.Combatants = append(tc.Combatants, planner.Combatant{
			ID:         as.ID,
			Name:       as.Name,
			Team:       string(as.Team),
			HP:         as.CurrentHP,
			MaxHP:      as.MaxHP,
			Conditions: conditions,
			X:          as.Position.X,
			Y:          as.Position.Y,
			DistanceFt: distances[as.ID],
		})
	}

	for _, entry := range enc.Log().Tail(c.tailLen) {
		tc.LogTail = append(tc.LogTail, entry.Message)
	}

	if a, err := enc.ActorByID(actorID); err == nil {
		tc.Menu = planner.BuildMenu(a, tc.Budget)
	}
	return tc
}

// appendAndPublish appends a log entry and mirrors it to the encounter's
// broadcast channel as JSON.
func (c *Controller) appendAndPublish(enc *encounter.Encounter, kind encounter.EntryKind, actorID, message string) {
	entry := enc.Log().Append(kind, actorID, message)
	if c.hub == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	c.hub.Publish(broadcast.EncounterChannel(enc.ID()), data)
	if actorID != "" {
		c.hub.Publish(broadcast.ActorChannel(actorID), data)
	}
}

func approved(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}

func summarize(actorName string, intent *planner.Intent, desc *planner.Descriptor) string {
	switch {
	case desc.ActionName != "":
		target, _ := intent.StringArg("target")
		if target != "" {
			return fmt.Sprintf("%s proposes %s on %s.", actorName, desc.ActionName, target)
		}
		return fmt.Sprintf("%s proposes %s.", actorName, desc.ActionName)
	case desc.Name == planner.OpMove:
		x, _ := intent.IntArg("x")
		y, _ := intent.IntArg("y")
		return fmt.Sprintf("%s proposes moving to (%d,%d).", actorName, x, y)
	default:
		return fmt.Sprintf("%s proposes %s.", actorName, desc.Name)
	}
}
