// Package plugin implements the named lifecycle hooks described in spec
// component C12: beforeInit, afterInit, beforeGenerate, afterGenerate,
// onToken, onStateChange, onError, beforeTeardown, afterTeardown.
//
// Grounded on the teacher's internal/executor package, whose
// invocation_log_batcher.go and executor_options.go register ordered,
// best-effort callbacks around an invocation's lifecycle; this package
// generalizes that registration/dispatch shape to the fixed hook set the
// spec names.
package plugin

import (
	"context"

	"github.com/nova-runtime/llmcore/internal/faults"
	"github.com/nova-runtime/llmcore/internal/fsm"
)

// AsyncHook is an async lifecycle hook, awaited serially in registration
// order. A hook that returns an error is logged and skipped — it never
// aborts the lifecycle (spec §4.11).
type AsyncHook func(ctx context.Context) error

// TokenHook is invoked inline (synchronously) for every emitted token.
type TokenHook func(token string, index int)

// StateChangeHook is invoked inline after every successful FSM transition.
type StateChangeHook func(rec fsm.Record)

// ErrorHook is invoked inline when a fault is raised anywhere in the
// lifecycle.
type ErrorHook func(f *faults.Fault)

// Logger is the minimal sink plugin uses to report a hook panic/error
// without aborting the caller's lifecycle.
type Logger func(hookName string, err error)

// Hooks is the registry of all nine named hook points. Each async slice
// is awaited serially in registration order; sync hooks execute inline
// in the same order.
type Hooks struct {
	log Logger

	beforeInit     []AsyncHook
	afterInit      []AsyncHook
	beforeGenerate []AsyncHook
	afterGenerate  []AsyncHook
	beforeTeardown []AsyncHook
	afterTeardown  []AsyncHook

	onToken       []TokenHook
	onStateChange []StateChangeHook
	onError       []ErrorHook
}

// New constructs an empty Hooks registry. log defaults to a no-op if nil.
func New(log Logger) *Hooks {
	if log == nil {
		log = func(string, error) {}
	}
	return &Hooks{log: log}
}

func (h *Hooks) OnBeforeInit(fn AsyncHook)     { h.beforeInit = append(h.beforeInit, fn) }
func (h *Hooks) OnAfterInit(fn AsyncHook)      { h.afterInit = append(h.afterInit, fn) }
func (h *Hooks) OnBeforeGenerate(fn AsyncHook) { h.beforeGenerate = append(h.beforeGenerate, fn) }
func (h *Hooks) OnAfterGenerate(fn AsyncHook)  { h.afterGenerate = append(h.afterGenerate, fn) }
func (h *Hooks) OnBeforeTeardown(fn AsyncHook) { h.beforeTeardown = append(h.beforeTeardown, fn) }
func (h *Hooks) OnAfterTeardown(fn AsyncHook)  { h.afterTeardown = append(h.afterTeardown, fn) }

func (h *Hooks) OnToken(fn TokenHook)             { h.onToken = append(h.onToken, fn) }
func (h *Hooks) OnStateChange(fn StateChangeHook) { h.onStateChange = append(h.onStateChange, fn) }
func (h *Hooks) OnError(fn ErrorHook)             { h.onError = append(h.onError, fn) }

func (h *Hooks) runAsync(ctx context.Context, name string, hooks []AsyncHook) {
	for _, fn := range hooks {
		h.safeCallAsync(ctx, name, fn)
	}
}

func (h *Hooks) safeCallAsync(ctx context.Context, name string, fn AsyncHook) {
	defer func() {
		if r := recover(); r != nil {
			h.log(name, faults.New(faults.CodeUnknown, "hook panicked"))
		}
	}()
	if err := fn(ctx); err != nil {
		h.log(name, err)
	}
}

func (h *Hooks) BeforeInit(ctx context.Context)     { h.runAsync(ctx, "beforeInit", h.beforeInit) }
func (h *Hooks) AfterInit(ctx context.Context)      { h.runAsync(ctx, "afterInit", h.afterInit) }
func (h *Hooks) BeforeGenerate(ctx context.Context) { h.runAsync(ctx, "beforeGenerate", h.beforeGenerate) }
func (h *Hooks) AfterGenerate(ctx context.Context)  { h.runAsync(ctx, "afterGenerate", h.afterGenerate) }
func (h *Hooks) BeforeTeardown(ctx context.Context) { h.runAsync(ctx, "beforeTeardown", h.beforeTeardown) }
func (h *Hooks) AfterTeardown(ctx context.Context)  { h.runAsync(ctx, "afterTeardown", h.afterTeardown) }

// Token dispatches onToken hooks inline. Each is isolated with recover so
// one misbehaving hook cannot interrupt decoding.
func (h *Hooks) Token(token string, index int) {
	for _, fn := range h.onToken {
		h.safeCallToken(fn, token, index)
	}
}

func (h *Hooks) safeCallToken(fn TokenHook, token string, index int) {
	defer func() {
		if r := recover(); r != nil {
			h.log("onToken", faults.New(faults.CodeUnknown, "hook panicked"))
		}
	}()
	fn(token, index)
}

// StateChange dispatches onStateChange hooks inline.
func (h *Hooks) StateChange(rec fsm.Record) {
	for _, fn := range h.onStateChange {
		h.safeCallStateChange(fn, rec)
	}
}

func (h *Hooks) safeCallStateChange(fn StateChangeHook, rec fsm.Record) {
	defer func() {
		if r := recover(); r != nil {
			h.log("onStateChange", faults.New(faults.CodeUnknown, "hook panicked"))
		}
	}()
	fn(rec)
}

// Error dispatches onError hooks inline.
func (h *Hooks) Error(f *faults.Fault) {
	for _, fn := range h.onError {
		h.safeCallError(fn, f)
	}
}

func (h *Hooks) safeCallError(fn ErrorHook, f *faults.Fault) {
	defer func() {
		if r := recover(); r != nil {
			h.log("onError", faults.New(faults.CodeUnknown, "hook panicked"))
		}
	}()
	fn(f)
}
