// Package sandbox runs untrusted Lua scripts in isolated interpreter states.
//
// Every team and the stage get their own Context wrapping a private
// *lua.LState. Calls are metered by VM instruction count, so a runaway script
// is interrupted at the same point on every machine.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/Sophie-Williams/BerryBots/internal/config"
)

// Options configures a Context.
type Options struct {
	// Name identifies the script in errors and logs.
	Name string
	// Seed feeds the context's math.random generator.
	Seed int64
	// StepLimit bounds a single RUN call. Zero disables the bound.
	StepLimit int64
	// InitStepLimit bounds loading, INIT and VALIDATE calls.
	InitStepLimit int64
	CallStackSize int
	RegistrySize  int
	// MaxStringLen bounds every string a script builds, in bytes.
	MaxStringLen int
	// MaxMemory bounds the estimated size of everything a script keeps
	// reachable between calls.
	MaxMemory int64
	Logger    zerolog.Logger
}

// OptionsFrom copies the budgets from cfg. Name, Seed and Logger are left
// for the caller.
func OptionsFrom(cfg config.SandboxConfig) Options {
	return Options{
		StepLimit:     cfg.StepLimit,
		InitStepLimit: cfg.InitStepLimit,
		CallStackSize: cfg.CallStackSize,
		RegistrySize:  cfg.RegistrySize,
		MaxStringLen:  cfg.MaxStringLen,
		MaxMemory:     cfg.MaxMemory,
	}
}

// CallStats describes the cost of one or more calls.
type CallStats struct {
	Steps   int64
	Elapsed time.Duration
	Calls   int
}

func (s *CallStats) add(o CallStats) {
	s.Steps += o.Steps
	s.Elapsed += o.Elapsed
	s.Calls += o.Calls
}

// Context is one isolated script environment. It is not safe for concurrent
// use except for Abort, which may be called from any goroutine.
type Context struct {
	name    string
	opts    Options
	parent  context.Context
	state   *lua.LState
	rng     *rand.Rand
	logger  zerolog.Logger
	aborted atomic.Bool
	totals  CallStats
	closed  bool

	budget       *stepBudget
	concat       *lua.LFunction
	maxStringLen int
	maxMemory    int64
}

// New creates a context whose calls are cancelled together with parent.
func New(parent context.Context, opts Options) *Context {
	if parent == nil {
		parent = context.Background()
	}
	callStack := opts.CallStackSize
	if callStack <= 0 {
		callStack = lua.CallStackSize
	}
	registry := opts.RegistrySize
	if registry <= 0 {
		registry = lua.RegistrySize
	}

	maxStringLen := opts.MaxStringLen
	if maxStringLen <= 0 {
		maxStringLen = defaultMaxStringLen
	}
	maxMemory := opts.MaxMemory
	if maxMemory <= 0 {
		maxMemory = defaultMaxMemory
	}

	c := &Context{
		name:         opts.Name,
		opts:         opts,
		parent:       parent,
		rng:          rand.New(rand.NewSource(opts.Seed)),
		logger:       opts.Logger.With().Str("script", opts.Name).Logger(),
		maxStringLen: maxStringLen,
		maxMemory:    maxMemory,
		state: lua.NewState(lua.Options{
			SkipOpenLibs:  true,
			CallStackSize: callStack,
			RegistrySize:  registry,
		}),
	}
	c.openLibs()
	c.concat = c.state.NewFunction(c.luaConcat)
	return c
}

// Name returns the script name.
func (c *Context) Name() string { return c.name }

// State exposes the interpreter so callers can install API objects. It must
// only be used from the goroutine currently driving the context.
func (c *Context) State() *lua.LState { return c.state }

// Logger returns the context's logger.
func (c *Context) Logger() zerolog.Logger { return c.logger }

// Totals returns the accumulated cost of every call made so far.
func (c *Context) Totals() CallStats { return c.totals }

// Load compiles src and runs its top-level chunk in the INIT phase.
func (c *Context) Load(src Source) error {
	return c.load(src, PhaseInit)
}

func (c *Context) load(src Source, phase Phase) error {
	proto, err := compile(strings.NewReader(src.Code), src.Name)
	if err != nil {
		return &ScriptLoadError{Script: src.Name, Err: err}
	}
	fn := c.state.NewFunctionFromProto(proto)
	if _, _, err := c.invoke(phase, fn, 0, c.concat); err != nil {
		var timeout *ScriptTimeoutError
		if errors.As(err, &timeout) || errors.Is(err, ErrAborted) || errors.Is(err, ErrMemoryLimit) {
			return err
		}
		return &ScriptLoadError{Script: src.Name, Err: errors.Unwrap(err)}
	}
	return nil
}

// HasFunction reports whether the global name holds a function.
func (c *Context) HasFunction(name string) bool {
	return c.state.GetGlobal(name).Type() == lua.LTFunction
}

// Global returns the value of a global variable.
func (c *Context) Global(name string) lua.LValue {
	return c.state.GetGlobal(name)
}

// Call invokes the global function name with args and returns nret results.
// A missing function is not an error; it returns nil results.
func (c *Context) Call(phase Phase, name string, nret int, args ...lua.LValue) ([]lua.LValue, CallStats, error) {
	fn := c.state.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil, CallStats{}, nil
	}
	return c.invoke(phase, fn, nret, args...)
}

func (c *Context) invoke(phase Phase, fn lua.LValue, nret int, args ...lua.LValue) ([]lua.LValue, CallStats, error) {
	if c.closed {
		return nil, CallStats{}, &ScriptRuntimeError{Script: c.name, Phase: phase, Err: ErrAborted}
	}
	if c.parent.Err() != nil {
		c.aborted.Store(true)
	}

	limit := c.opts.InitStepLimit
	if phase == PhaseRun {
		limit = c.opts.StepLimit
	}
	budget := newStepBudget(c.parent, limit, &c.aborted)

	L := c.state
	top := L.GetTop()
	L.SetContext(budget)
	c.budget = budget
	start := time.Now()
	err := L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...)
	stats := CallStats{Steps: budget.steps, Elapsed: time.Since(start), Calls: 1}
	c.budget = nil
	L.RemoveContext()
	c.totals.add(stats)

	if budget.err == nil && err == nil {
		if used := footprint(L, c.maxMemory); used > c.maxMemory {
			budget.err = ErrMemoryLimit
			err = fmt.Errorf("%w: %d bytes reachable, limit %d", ErrMemoryLimit, used, c.maxMemory)
		}
	}

	switch {
	case errors.Is(budget.err, ErrStepLimit):
		L.SetTop(top)
		return nil, stats, &ScriptTimeoutError{Script: c.name, Phase: phase, Limit: limit}
	case errors.Is(budget.err, ErrMemoryLimit):
		L.SetTop(top)
		if !errors.Is(err, ErrMemoryLimit) {
			err = ErrMemoryLimit
		}
		return nil, stats, &ScriptRuntimeError{Script: c.name, Phase: phase, Err: err}
	case errors.Is(budget.err, ErrAborted):
		L.SetTop(top)
		return nil, stats, &ScriptRuntimeError{Script: c.name, Phase: phase, Err: ErrAborted}
	case err != nil:
		L.SetTop(top)
		return nil, stats, &ScriptRuntimeError{Script: c.name, Phase: phase, Err: err}
	}

	results := make([]lua.LValue, nret)
	for i := 0; i < nret; i++ {
		results[i] = L.Get(top + 1 + i)
	}
	L.SetTop(top)
	return results, stats, nil
}

// Abort interrupts the in-flight call, if any, at its next instruction and
// makes every later call fail with ErrAborted.
func (c *Context) Abort() {
	c.aborted.Store(true)
}

// Aborted reports whether Abort was called.
func (c *Context) Aborted() bool { return c.aborted.Load() }

// Close releases the interpreter. It is safe to call more than once.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.state.Close()
}
