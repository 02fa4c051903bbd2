package planner

import (
	"context"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/scripting"
)

// selectActionHook is the Lua entry point a behavior script must define.
// It receives the turn context as a table and returns either a menu entry
// name, a table {action=..., args={...}}, or nil for no intent.
const selectActionHook = "select_action"

// ScriptedPlanner drives turn planning from sandboxed Lua behavior scripts.
// It is the offline fallback when no language-model planner is configured,
// and shares the validation path with every other Planner.
type ScriptedPlanner struct {
	scripts *scripting.Manager
	profile string
	logger  *zap.Logger
}

// NewScriptedPlanner creates a ScriptedPlanner dispatching to the named
// behavior profile.
//
// Precondition: scripts and logger must be non-nil.
func NewScriptedPlanner(scripts *scripting.Manager, profile string, logger *zap.Logger) *ScriptedPlanner {
	return &ScriptedPlanner{scripts: scripts, profile: profile, logger: logger}
}

// PlanAction calls the select_action hook with the turn context. A nil or
// unrecognized return is no actionable intent; script errors never surface
// past the sandbox.
func (p *ScriptedPlanner) PlanAction(ctx context.Context, tc TurnContext) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ret, err := p.scripts.CallHookWith(p.profile, selectActionHook, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{contextTable(L, tc)}
	})
	if err != nil {
		return nil, err
	}

	switch v := ret.(type) {
	case lua.LString:
		return &Intent{ActorID: tc.ActorID, Action: string(v)}, nil
	case *lua.LTable:
		action, ok := v.RawGetString("action").(lua.LString)
		if !ok {
			p.logger.Warn("planner: script returned table without action",
				zap.String("profile", p.profile),
				zap.String("actor", tc.ActorID),
			)
			return nil, nil
		}
		intent := &Intent{ActorID: tc.ActorID, Action: string(action)}
		if args, ok := v.RawGetString("args").(*lua.LTable); ok {
			intent.Args = map[string]any{}
			args.ForEach(func(key, value lua.LValue) {
				name, ok := key.(lua.LString)
				if !ok {
					return
				}
				switch val := value.(type) {
				case lua.LString:
					intent.Args[string(name)] = string(val)
				case lua.LNumber:
					intent.Args[string(name)] = float64(val)
				case lua.LBool:
					intent.Args[string(name)] = bool(val)
				}
			})
		}
		return intent, nil
	default:
		return nil, nil
	}
}

// contextTable converts tc into a Lua table:
//
//	{
//	  actor = {id, name, team, hp, max_hp, x, y},
//	  budget = {used_action, used_bonus_action, remaining_movement},
//	  round, guidance,
//	  combatants = { {id, name, team, hp, max_hp, x, y, distance}, ... },
//	  menu = { {name, action, bonus}, ... },
//	}
func contextTable(L *lua.LState, tc TurnContext) *lua.LTable {
	root := L.NewTable()

	self := L.NewTable()
	L.SetField(self, "id", lua.LString(tc.ActorID))
	L.SetField(self, "name", lua.LString(tc.ActorName))
	L.SetField(self, "team", lua.LString(tc.Team))
	L.SetField(self, "hp", lua.LNumber(tc.HP))
	L.SetField(self, "max_hp", lua.LNumber(tc.MaxHP))
	L.SetField(self, "x", lua.LNumber(tc.X))
	L.SetField(self, "y", lua.LNumber(tc.Y))
	L.SetField(root, "actor", self)

	budget := L.NewTable()
	L.SetField(budget, "used_action", lua.LBool(tc.Budget.UsedAction))
	L.SetField(budget, "used_bonus_action", lua.LBool(tc.Budget.UsedBonusAction))
	L.SetField(budget, "remaining_movement", lua.LNumber(tc.Budget.RemainingMovement))
	L.SetField(root, "budget", budget)

	L.SetField(root, "round", lua.LNumber(tc.Round))
	if tc.Guidance != "" {
		L.SetField(root, "guidance", lua.LString(tc.Guidance))
	}

	combatants := L.NewTable()
	for _, c := range tc.Combatants {
		entry := L.NewTable()
		L.SetField(entry, "id", lua.LString(c.ID))
		L.SetField(entry, "name", lua.LString(c.Name))
		L.SetField(entry, "team", lua.LString(c.Team))
		L.SetField(entry, "hp", lua.LNumber(c.HP))
		L.SetField(entry, "max_hp", lua.LNumber(c.MaxHP))
		L.SetField(entry, "x", lua.LNumber(c.X))
		L.SetField(entry, "y", lua.LNumber(c.Y))
		L.SetField(entry, "distance", lua.LNumber(c.DistanceFt))
		combatants.Append(entry)
	}
	L.SetField(root, "combatants", combatants)

	menu := L.NewTable()
	for _, d := range tc.Menu {
		entry := L.NewTable()
		L.SetField(entry, "name", lua.LString(d.Name))
		if d.ActionName != "" {
			L.SetField(entry, "action", lua.LString(d.ActionName))
		}
		L.SetField(entry, "bonus", lua.LBool(d.Bonus))
		menu.Append(entry)
	}
	L.SetField(root, "menu", menu)

	return root
}
