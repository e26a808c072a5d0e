package fsm

import (
	"errors"
	"testing"
	"time"

	"github.com/nova-runtime/llmcore/internal/faults"
)

func tickClock(start time.Time, stepMs int64) Clock {
	t := start
	first := true
	return func() time.Time {
		if !first {
			t = t.Add(time.Duration(stepMs) * time.Millisecond)
		}
		first = false
		return t
	}
}

func TestHappyPathTransitionSequence(t *testing.T) {
	m := New(Config{Clock: tickClock(time.Unix(0, 0), 10)})

	seq := []State{Booting, SelectingProvider, PreflightQuota, CheckingCache, WarmingUp, Ready, Generating, Ready}
	for _, s := range seq {
		if _, err := m.Transition(s, nil); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
	if m.Current().State != Ready {
		t.Fatalf("expected final state READY, got %s", m.Current().State)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := New(Config{})
	_, err := m.Transition(Generating, nil)
	var f *faults.Fault
	if !errors.As(err, &f) || f.Code != faults.CodeInvalidTransition {
		t.Fatalf("expected ERROR_INVALID_TRANSITION, got %v", err)
	}
}

func TestDeadlineComputedWithMultiplier(t *testing.T) {
	start := time.Unix(1000, 0)
	m := New(Config{Clock: tickClock(start, 0), TimeoutMultiplier: 2.0})
	rec, err := m.Transition(Booting, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.DeadlineMs != 20_000 {
		t.Fatalf("expected deadline 20000ms with 2x multiplier, got %d", rec.DeadlineMs)
	}
}

func TestReadyAndIdleHaveNoDeadline(t *testing.T) {
	m := New(Config{})
	if m.Current().DeadlineMs != 0 {
		t.Fatalf("IDLE must have no deadline")
	}
	for _, s := range []State{Booting, SelectingProvider, PreflightQuota, CheckingCache, WarmingUp, Ready} {
		if _, err := m.Transition(s, nil); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
	if m.Current().DeadlineMs != 0 {
		t.Fatalf("READY must have no deadline")
	}
}

func TestSubscribeReceivesEachTransition(t *testing.T) {
	m := New(Config{})
	var seen []State
	m.Subscribe(func(r Record) { seen = append(seen, r.State) })

	m.Transition(Booting, nil)
	m.Transition(SelectingProvider, nil)

	if len(seen) != 2 || seen[0] != Booting || seen[1] != SelectingProvider {
		t.Fatalf("expected listener to observe Booting,SelectingProvider; got %v", seen)
	}
}

func TestPanickingListenerIsSwallowed(t *testing.T) {
	var caught any
	m := New(Config{OnListenerError: func(err any) { caught = err }})
	m.Subscribe(func(r Record) { panic("listener exploded") })

	if _, err := m.Transition(Booting, nil); err != nil {
		t.Fatalf("transition must still succeed despite panicking listener: %v", err)
	}
	if caught == nil {
		t.Fatalf("expected onListenerError to be invoked")
	}
}

func TestResetGeneratingTimingNoopOutsideGenerating(t *testing.T) {
	m := New(Config{})
	m.ResetGeneratingTiming() // no-op in IDLE, must not panic
	if m.Current().State != Idle {
		t.Fatalf("expected state unchanged")
	}
}

func TestResetGeneratingTimingRestartsPrefillWindow(t *testing.T) {
	start := time.Unix(1000, 0)
	m := New(Config{Clock: tickClock(start, 1000)})
	for _, s := range []State{Booting, SelectingProvider, PreflightQuota, CheckingCache, WarmingUp, Ready, Generating} {
		m.Transition(s, nil)
	}
	m.RecordToken()
	before := m.Current()
	if before.LastTokenAtMs == 0 {
		t.Fatalf("expected LastTokenAtMs set after RecordToken")
	}

	m.ResetGeneratingTiming()
	after := m.Current()
	if after.LastTokenAtMs != 0 {
		t.Fatalf("expected LastTokenAtMs reset to 0, got %d", after.LastTokenAtMs)
	}
	if after.SinceMs <= before.SinceMs {
		t.Fatalf("expected SinceMs to advance after reset")
	}
}

func TestCanAbortPredicate(t *testing.T) {
	cases := map[State]bool{
		Downloading: true,
		WarmingUp:   true,
		Generating:  true,
		Ready:       false,
		Idle:        false,
	}
	for s, want := range cases {
		if got := CanAbort(s); got != want {
			t.Errorf("CanAbort(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestCanGeneratePredicate(t *testing.T) {
	if !CanGenerate(Ready) {
		t.Fatalf("expected CanGenerate(READY) true")
	}
	if CanGenerate(Generating) {
		t.Fatalf("expected CanGenerate(GENERATING) false")
	}
}

func TestMarkAbortingOnlyAffectsGenerating(t *testing.T) {
	m := New(Config{})
	m.MarkAborting()
	if m.Current().IsAborting {
		t.Fatalf("MarkAborting must no-op outside GENERATING")
	}
}

func TestDeadlineOverrideReplacesDefault(t *testing.T) {
	m := New(Config{DeadlineOverrides: map[string]int64{"BOOTING": 99_000}})
	rec, err := m.Transition(Booting, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.DeadlineMs != 99_000 {
		t.Fatalf("expected overridden deadline 99000, got %d", rec.DeadlineMs)
	}
}

func TestUpdateDownloadProgressOnlyAffectsDownloading(t *testing.T) {
	m := New(Config{})
	total := int64(1000)
	m.UpdateDownloadProgress(DownloadDeterminate, 500, &total)
	if m.Current().DownloadedBytes != 0 {
		t.Fatalf("UpdateDownloadProgress must no-op outside DOWNLOADING")
	}

	for _, s := range []State{Booting, SelectingProvider, PreflightQuota, CheckingCache, Downloading} {
		if _, err := m.Transition(s, nil); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
	m.UpdateDownloadProgress(DownloadDeterminate, 500, &total)
	rec := m.Current()
	if rec.DownloadedBytes != 500 || rec.TotalBytes == nil || *rec.TotalBytes != 1000 {
		t.Fatalf("expected download progress to update in place, got %+v", rec)
	}
}
