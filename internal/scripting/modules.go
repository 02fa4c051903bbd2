package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers the engine.* Lua table into L.
//
// engine.roll(expr) evaluates a dice expression ("2d6+1") and returns the
// total, or nil plus an error string on a malformed expression.
// engine.log(msg) writes msg to the manager's logger at debug level.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()

	L.SetField(engine, "roll", L.NewFunction(func(L *lua.LState) int {
		expr := L.CheckString(1)
		result, err := m.roller.RollExpr(expr)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LNumber(result.Total()))
		return 1
	}))

	L.SetField(engine, "log", L.NewFunction(func(L *lua.LState) int {
		m.logger.Debug("script log", zap.String("message", L.CheckString(1)))
		return 0
	}))

	L.SetGlobal("engine", engine)
}
