// Package script runs JavaScript case behaviours and batch hooks using goja.
package script

import (
	"fmt"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/me/tickbatch/internal/batch"
	"github.com/me/tickbatch/internal/logging"
	"github.com/me/tickbatch/internal/testcase"
	"github.com/me/tickbatch/internal/world"
)

// Engine compiles scripts against a shared library of helper code.
type Engine struct {
	lib    []string
	logger *slog.Logger
}

// NewEngine creates an engine. Each lib entry is evaluated, in order, in
// every runtime before the script itself.
func NewEngine(lib []string, logger *slog.Logger) *Engine {
	return &Engine{lib: lib, logger: logging.Component(logger, "script")}
}

// compile wraps src in a function so scripts may use return.
func compile(name, src string) (*goja.Program, error) {
	prog, err := goja.Compile(name, "(function() {\n"+src+"\n})()", false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return prog, nil
}

// setupVM creates a runtime with the library loaded and log() bound.
func (e *Engine) setupVM(name string) (*goja.Runtime, error) {
	vm := goja.New()
	for i, lib := range e.lib {
		if _, err := vm.RunString(lib); err != nil {
			return nil, fmt.Errorf("lib[%d]: %w", i, err)
		}
	}
	logger := e.logger.With("script", name)
	if err := vm.Set("log", func(call goja.FunctionCall) goja.Value {
		logger.Info(call.Argument(0).String())
		return goja.Undefined()
	}); err != nil {
		return nil, fmt.Errorf("set log: %w", err)
	}
	return vm, nil
}

// Behavior compiles src into a per-tick case behaviour.
//
// The script runs once per evaluated tick with tick, attempt and name bound,
// plus a state object that persists across the ticks of one case instance. It
// concludes the case by calling pass() or fail(msg), or by returning true.
// A thrown exception fails the case.
func (e *Engine) Behavior(name, src string) (testcase.Behavior, error) {
	prog, err := compile(name, src)
	if err != nil {
		return nil, err
	}
	return &caseBehavior{engine: e, name: name, prog: prog}, nil
}

type caseBehavior struct {
	engine *Engine
	name   string
	prog   *goja.Program

	// one runtime per case instance; a definition has at most MaxAttempts
	vms map[string]*goja.Runtime
}

func (b *caseBehavior) runtime(caseID string) (*goja.Runtime, error) {
	if vm, ok := b.vms[caseID]; ok {
		return vm, nil
	}
	vm, err := b.engine.setupVM(b.name)
	if err != nil {
		return nil, err
	}
	if err := vm.Set("state", vm.NewObject()); err != nil {
		return nil, fmt.Errorf("set state: %w", err)
	}
	if b.vms == nil {
		b.vms = make(map[string]*goja.Runtime)
	}
	b.vms[caseID] = vm
	return vm, nil
}

func (b *caseBehavior) Step(ctx testcase.StepContext) (testcase.Verdict, error) {
	vm, err := b.runtime(ctx.CaseID)
	if err != nil {
		return testcase.Continue, err
	}

	verdict := testcase.Continue
	var failMsg string
	bindings := map[string]any{
		"tick":    ctx.Tick,
		"attempt": ctx.Attempt,
		"name":    ctx.Name,
		"pass": func(goja.FunctionCall) goja.Value {
			verdict = testcase.Pass
			return goja.Undefined()
		},
		"fail": func(call goja.FunctionCall) goja.Value {
			verdict = testcase.Fail
			if arg := call.Argument(0); !goja.IsUndefined(arg) {
				failMsg = arg.String()
			}
			return goja.Undefined()
		},
	}
	for k, v := range bindings {
		if err := vm.Set(k, v); err != nil {
			return testcase.Continue, fmt.Errorf("set %s: %w", k, err)
		}
	}

	val, err := vm.RunProgram(b.prog)
	if err != nil {
		return testcase.Continue, fmt.Errorf("script %s at tick %d: %w", b.name, ctx.Tick, err)
	}

	switch verdict {
	case testcase.Fail:
		if failMsg == "" {
			failMsg = "fail() called"
		}
		return testcase.Fail, fmt.Errorf("%s: %s", ctx.Name, failMsg)
	case testcase.Pass:
		return testcase.Pass, nil
	}
	if v, ok := val.Export().(bool); ok && v {
		return testcase.Pass, nil
	}
	return testcase.Continue, nil
}

// Hook compiles src into a batch hook for the named batch group. The script
// sees batch (the group name) and claims (the number of claimed regions).
// A thrown exception is returned as the hook's error.
func (e *Engine) Hook(group, name, src string) (batch.Hook, error) {
	prog, err := compile(name, src)
	if err != nil {
		return nil, err
	}
	return func(env world.Environment) error {
		vm, err := e.setupVM(name)
		if err != nil {
			return err
		}
		claims := 0
		if env != nil {
			claims = len(env.Claims())
		}
		if err := vm.Set("batch", group); err != nil {
			return fmt.Errorf("set batch: %w", err)
		}
		if err := vm.Set("claims", claims); err != nil {
			return fmt.Errorf("set claims: %w", err)
		}
		if _, err := vm.RunProgram(prog); err != nil {
			return fmt.Errorf("hook %s: %w", name, err)
		}
		return nil
	}, nil
}
