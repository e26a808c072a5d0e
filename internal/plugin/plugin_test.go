package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/nova-runtime/llmcore/internal/faults"
	"github.com/nova-runtime/llmcore/internal/fsm"
)

func TestAsyncHooksRunInRegistrationOrder(t *testing.T) {
	h := New(nil)
	var order []int
	h.OnBeforeInit(func(ctx context.Context) error { order = append(order, 1); return nil })
	h.OnBeforeInit(func(ctx context.Context) error { order = append(order, 2); return nil })

	h.BeforeInit(context.Background())

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected hooks to run in order [1,2], got %v", order)
	}
}

func TestAsyncHookErrorIsLoggedAndDoesNotAbortOthers(t *testing.T) {
	var logged []string
	h := New(func(name string, err error) { logged = append(logged, name) })

	ran := false
	h.OnBeforeInit(func(ctx context.Context) error { return errors.New("boom") })
	h.OnBeforeInit(func(ctx context.Context) error { ran = true; return nil })

	h.BeforeInit(context.Background())

	if !ran {
		t.Fatalf("expected second hook to run despite first hook's error")
	}
	if len(logged) != 1 || logged[0] != "beforeInit" {
		t.Fatalf("expected error logged once under beforeInit, got %v", logged)
	}
}

func TestPanickingHookIsRecoveredAndLogged(t *testing.T) {
	var logged []string
	h := New(func(name string, err error) { logged = append(logged, name) })
	h.OnAfterInit(func(ctx context.Context) error { panic("kaboom") })

	h.AfterInit(context.Background()) // must not panic

	if len(logged) != 1 {
		t.Fatalf("expected panic to be recovered and logged, got %v", logged)
	}
}

func TestOnTokenInlineDispatch(t *testing.T) {
	h := New(nil)
	var got []string
	h.OnToken(func(token string, index int) { got = append(got, token) })
	h.Token("hi", 0)
	if len(got) != 1 || got[0] != "hi" {
		t.Fatalf("expected token dispatched, got %v", got)
	}
}

func TestOnStateChangeInlineDispatch(t *testing.T) {
	h := New(nil)
	var got fsm.State
	h.OnStateChange(func(rec fsm.Record) { got = rec.State })
	h.StateChange(fsm.Record{State: fsm.Ready})
	if got != fsm.Ready {
		t.Fatalf("expected state change dispatched, got %s", got)
	}
}

func TestOnErrorInlineDispatch(t *testing.T) {
	h := New(nil)
	var got *faults.Fault
	h.OnError(func(f *faults.Fault) { got = f })
	f := faults.New(faults.CodeTimeout, "x")
	h.Error(f)
	if got != f {
		t.Fatalf("expected error hook dispatched with same fault")
	}
}

func TestPanickingTokenHookDoesNotStopOthers(t *testing.T) {
	h := New(nil)
	var second bool
	h.OnToken(func(token string, index int) { panic("boom") })
	h.OnToken(func(token string, index int) { second = true })
	h.Token("t", 0)
	if !second {
		t.Fatalf("expected second token hook to still run")
	}
}
