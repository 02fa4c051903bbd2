package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
)

// defaultProfile is the reserved key for shared scripts loaded via
// LoadDefault. CallHook falls back to this VM when no profile VM is found.
const defaultProfile = "__default__"

// Manager owns one sandboxed LState per behavior profile and exposes hook
// dispatch.
//
// Manager is safe for concurrent use. An LState is single-threaded, so a
// per-profile mutex serializes hook calls into the same VM while different
// profiles run concurrently; reloading a profile waits for its in-flight
// hooks.
type Manager struct {
	mu      sync.RWMutex
	states  map[string]*lua.LState
	cancels map[string]func()
	locks   map[string]*sync.Mutex
	roller  *dice.Roller
	logger  *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: roller and logger must be non-nil.
// Postcondition: Returns a non-nil Manager with an empty profile map.
func NewManager(roller *dice.Roller, logger *zap.Logger) *Manager {
	return &Manager{
		states:  make(map[string]*lua.LState),
		cancels: make(map[string]func()),
		locks:   make(map[string]*sync.Mutex),
		roller:  roller,
		logger:  logger,
	}
}

// LoadProfile creates a sandboxed VM for the named behavior profile,
// registers the engine.* modules, then executes every *.lua file in
// scriptDir in lexicographic order.
//
// Precondition: profile must be non-empty; scriptDir must be a readable
// directory.
// Postcondition: Profile VM is registered; returns error on Lua load failure.
func (m *Manager) LoadProfile(profile, scriptDir string, instLimit int) error {
	return m.loadInto(profile, scriptDir, instLimit)
}

// LoadDefault creates the fallback VM consulted by CallHook for any profile
// without its own scripts.
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: Default VM is registered; returns error on Lua load failure.
func (m *Manager) LoadDefault(scriptDir string, instLimit int) error {
	return m.loadInto(defaultProfile, scriptDir, instLimit)
}

func (m *Manager) loadInto(key, scriptDir string, instLimit int) error {
	L, cancel := NewSandboxedState(instLimit)
	m.RegisterModules(L)

	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, key, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		if err := L.DoFile(path); err != nil {
			cancel()
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, key, err)
		}
	}

	// Wait for in-flight hooks on this key before swapping the VM out.
	// Lock order is always per-key mutex first, then m.mu.
	lock := m.lockFor(key)
	lock.Lock()
	m.mu.Lock()
	if old, ok := m.states[key]; ok {
		if oldCancel := m.cancels[key]; oldCancel != nil {
			oldCancel()
		}
		old.Close()
	}
	m.states[key] = L
	m.cancels[key] = cancel
	m.mu.Unlock()
	lock.Unlock()
	return nil
}

// lockFor returns the mutex guarding the key's VM, creating it on first use.
func (m *Manager) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

// Close tears down every loaded VM, waiting for hooks already in flight.
func (m *Manager) Close() {
	m.mu.RLock()
	locks := make([]*sync.Mutex, 0, len(m.locks))
	for _, lock := range m.locks {
		locks = append(locks, lock)
	}
	m.mu.RUnlock()
	for _, lock := range locks {
		lock.Lock()
	}

	m.mu.Lock()
	for key, L := range m.states {
		if cancel := m.cancels[key]; cancel != nil {
			cancel()
		}
		L.Close()
	}
	m.states = make(map[string]*lua.LState)
	m.cancels = make(map[string]func())
	m.mu.Unlock()

	for _, lock := range locks {
		lock.Unlock()
	}
}

// CallHook calls the named Lua global function in the profile's VM. If the
// profile has no VM, the default VM is tried as a fallback. Returns
// (LNil, nil) if the hook is not defined or no VM exists. Lua runtime errors
// are logged at Warn level and never propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(profile, hook string, args ...lua.LValue) (lua.LValue, error) {
	return m.CallHookWith(profile, hook, func(*lua.LState) []lua.LValue { return args })
}

// CallHookWith is CallHook with lazily built arguments: build receives the
// profile's LState so callers can allocate tables in the right VM.
func (m *Manager) CallHookWith(profile, hook string, build func(L *lua.LState) []lua.LValue) (lua.LValue, error) {
	m.mu.RLock()
	key := profile
	if _, ok := m.states[key]; !ok {
		key = defaultProfile
	}
	m.mu.RUnlock()

	// Serialize calls into this VM; re-read the state under the lock in case
	// a concurrent reload swapped it.
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	L := m.states[key]
	m.mu.RUnlock()

	if L == nil {
		m.logger.Info("scripting: no VM for profile",
			zap.String("profile", profile),
			zap.String("hook", hook),
		)
		return lua.LNil, nil
	}

	fn := L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, build(L)...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("profile", profile),
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil, nil
	}

	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}
