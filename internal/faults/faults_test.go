package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesOnCodeOnly(t *testing.T) {
	a := New(CodeTimeout, "state deadline exceeded")
	b := New(CodeTimeout, "a different message entirely")

	if !errors.Is(a, b) {
		t.Fatalf("expected faults with the same code to match via errors.Is")
	}

	c := New(CodeGenerationStalled, "stalled")
	if errors.Is(a, c) {
		t.Fatalf("did not expect faults with different codes to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	f := Wrap(CodeModelLoad, "failed to init provider", cause)

	if !errors.Is(f, cause) {
		t.Fatalf("expected Wrap to preserve the cause for errors.Is")
	}
	if f.Unwrap() != cause {
		t.Fatalf("expected Unwrap to return the cause")
	}
}

func TestRecoverabilityDefaults(t *testing.T) {
	cases := []struct {
		code Code
		want Recoverability
	}{
		{CodeTimeout, Recoverable},
		{CodeGenerationStalled, Recoverable},
		{CodeInvalidTransition, NonRecoverable},
		{CodePromptTooLargeAfterRetries, NonRecoverable},
	}
	for _, c := range cases {
		f := New(c.code, "")
		if f.Recoverability != c.want {
			t.Errorf("code %s: got recoverability %s, want %s", c.code, f.Recoverability, c.want)
		}
		if f.IsRecoverable() != (c.want == Recoverable) {
			t.Errorf("code %s: IsRecoverable() mismatch", c.code)
		}
	}
}

func TestWithStateAndActionsDoNotMutateOriginal(t *testing.T) {
	base := New(CodeTimeout, "deadline exceeded")
	annotated := base.WithState("GENERATING").WithActions("try again", "check watchdog logs")

	if base.AtState != "" {
		t.Fatalf("expected original fault to be unmodified, got AtState=%q", base.AtState)
	}
	if annotated.AtState != "GENERATING" {
		t.Fatalf("expected annotated fault to carry AtState")
	}
	if annotated.UserAction != "try again" || annotated.DevAction != "check watchdog logs" {
		t.Fatalf("expected annotated fault to carry actions, got %+v", annotated)
	}
}
