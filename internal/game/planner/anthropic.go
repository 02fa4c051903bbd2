package planner

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/apperr"
)

const plannerSystemPrompt = `You are a tactical combatant in a turn-based ` +
	`grid battle. Each prompt describes your situation and offers a menu of ` +
	`tools, one per legal operation. Pick the single most effective next ` +
	`step and call exactly one tool with its required arguments. Prefer ` +
	`attacking a reachable enemy over repositioning, and end your turn when ` +
	`nothing useful remains.`

const narratorSystemPrompt = `You are the narrator of a tabletop combat ` +
	`encounter. Rewrite the factual result you are given as one vivid ` +
	`sentence of battle narration. Never contradict the facts, never invent ` +
	`mechanical outcomes, and answer with the sentence only.`

// AnthropicPlanner asks the Anthropic Messages API for one intent per turn
// prompt, offering the action menu as tools. The first tool_use block in the
// response wins; a response without one is treated as no actionable intent.
type AnthropicPlanner struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *zap.Logger
}

// NewAnthropicPlanner creates an AnthropicPlanner.
//
// Precondition: model must be non-empty; logger must be non-nil.
func NewAnthropicPlanner(client anthropic.Client, model string, maxTokens int64, logger *zap.Logger) *AnthropicPlanner {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicPlanner{
		client:    client,
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// PlanAction sends one prompt and awaits one response. Transport and API
// errors come back as PLANNER_UNAVAILABLE; a malformed or tool-free response
// yields a nil intent.
func (p *AnthropicPlanner) PlanAction(ctx context.Context, tc TurnContext) (*Intent, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: plannerSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(tc.Prompt())),
		},
		Tools: menuTools(tc.Menu),
	})
	if err != nil {
		return nil, apperr.PlannerUnavailable(err, "anthropic planner request failed")
	}

	for _, block := range msg.Content {
		variant, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		args := map[string]any{}
		raw := variant.JSON.Input.Raw()
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				p.logger.Warn("planner: malformed tool input",
					zap.String("tool", variant.Name),
					zap.Error(err),
				)
				return nil, nil
			}
		}
		return &Intent{ActorID: tc.ActorID, Action: variant.Name, Args: args}, nil
	}

	p.logger.Debug("planner: response carried no tool use",
		zap.String("actor", tc.ActorID),
	)
	return nil, nil
}

// menuTools converts the action menu into one tool definition per entry.
func menuTools(menu []Descriptor) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(menu))
	for _, d := range menu {
		properties := make(map[string]any, len(d.Params))
		required := make([]string, 0, len(d.Params))
		for name, desc := range d.Params {
			properties[name] = map[string]any{
				"type":        paramType(name),
				"description": desc,
			}
			required = append(required, name)
		}
		sort.Strings(required)
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return tools
}

func paramType(name string) string {
	switch name {
	case "x", "y":
		return "integer"
	default:
		return "string"
	}
}

// AnthropicNarrator renders factual result lines as flavor text. Failures
// are expected to be swallowed by the caller; narration never gates combat.
type AnthropicNarrator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicNarrator creates an AnthropicNarrator.
func NewAnthropicNarrator(client anthropic.Client, model string, maxTokens int64) *AnthropicNarrator {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &AnthropicNarrator{
		client:    client,
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

// Narrate rewrites factual as one sentence of narration.
func (n *AnthropicNarrator) Narrate(ctx context.Context, factual string) (string, error) {
	msg, err := n.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     n.model,
		MaxTokens: n.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: narratorSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(factual)),
		},
	})
	if err != nil {
		return "", apperr.PlannerUnavailable(err, "anthropic narrator request failed")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", apperr.PlannerUnavailable(nil, "anthropic narrator returned no text")
	}
	return out, nil
}
