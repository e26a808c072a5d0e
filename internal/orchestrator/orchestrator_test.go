package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nova-runtime/llmcore/internal/chatmsg"
	"github.com/nova-runtime/llmcore/internal/config"
	"github.com/nova-runtime/llmcore/internal/faults"
	"github.com/nova-runtime/llmcore/internal/fsm"
	"github.com/nova-runtime/llmcore/internal/provider"
	"github.com/nova-runtime/llmcore/internal/provider/mock"
	"github.com/nova-runtime/llmcore/internal/watchdog"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ProviderPolicy.Order = []string{"mock"}
	return cfg
}

func testSpec() chatmsg.ModelSpec {
	return chatmsg.ModelSpec{ID: "tiny-test-model", SizeBytes: 1024, ContextWindow: 4096, AcceptsSystem: true}
}

func newTestOrchestrator(t *testing.T, p provider.Provider) *Orchestrator {
	t.Helper()
	reg := provider.NewRegistry(p)
	return New(testConfig(), reg)
}

func TestBootReachesReady(t *testing.T) {
	o := newTestOrchestrator(t, mock.New())
	if err := o.Boot(context.Background(), testSpec()); err != nil {
		t.Fatalf("unexpected boot error: %v", err)
	}
	if o.State() != "READY" {
		t.Fatalf("expected READY after boot, got %s", o.State())
	}
}

func TestGenerateHappyPathEmitsAllTokens(t *testing.T) {
	o := newTestOrchestrator(t, mock.New())
	if err := o.Boot(context.Background(), testSpec()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	var tokens []string
	result, err := o.Generate(context.Background(),
		[]chatmsg.Message{{Role: chatmsg.RoleUser, Content: "hi"}}, 100, 0.7,
		func(token string, index int) { tokens = append(tokens, token) })
	if err != nil {
		t.Fatalf("unexpected generate error: %v", err)
	}
	if len(tokens) == 0 || result.Text == "" {
		t.Fatalf("expected non-empty generation result")
	}
	if o.State() != "READY" {
		t.Fatalf("expected READY after generation completes, got %s", o.State())
	}
}

func TestGenerateRejectedOutsideReady(t *testing.T) {
	o := newTestOrchestrator(t, mock.New())
	_, err := o.Generate(context.Background(), []chatmsg.Message{{Role: chatmsg.RoleUser, Content: "hi"}}, 10, 0, nil)
	if err == nil {
		t.Fatalf("expected error generating from IDLE")
	}
}

func TestAbortDuringGenerateStopsTokenFlow(t *testing.T) {
	p := &mock.Provider{TokenDelay: 10 * time.Millisecond, Response: "one two three four five six seven eight nine ten"}
	o := newTestOrchestrator(t, p)
	if err := o.Boot(context.Background(), testSpec()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	done := make(chan struct{})
	var tokenCount int
	go func() {
		defer close(done)
		o.Generate(context.Background(), []chatmsg.Message{{Role: chatmsg.RoleUser, Content: "hi"}}, 100, 0.7,
			func(token string, index int) { tokenCount++ })
	}()

	time.Sleep(25 * time.Millisecond)
	o.Abort("")
	<-done

	if tokenCount >= 10 {
		t.Fatalf("expected abort to truncate token stream, got %d tokens", tokenCount)
	}
}

func TestTeardownReturnsToIdle(t *testing.T) {
	o := newTestOrchestrator(t, mock.New())
	if err := o.Boot(context.Background(), testSpec()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	if err := o.Teardown(context.Background()); err != nil {
		t.Fatalf("unexpected teardown error: %v", err)
	}
	if o.State() != "IDLE" {
		t.Fatalf("expected IDLE after teardown, got %s", o.State())
	}
}

func TestTeardownRejectedFromIdle(t *testing.T) {
	o := newTestOrchestrator(t, mock.New())
	if err := o.Teardown(context.Background()); err == nil {
		t.Fatalf("expected error tearing down from IDLE")
	}
}

func TestDiagnosticsReflectsSelection(t *testing.T) {
	o := newTestOrchestrator(t, mock.New())
	if err := o.Boot(context.Background(), testSpec()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	snap := o.Diagnostics()
	if snap.Selection.SelectedID != "mock" {
		t.Fatalf("expected diagnostics to report selected provider mock, got %q", snap.Selection.SelectedID)
	}
	if snap.State.State != "READY" {
		t.Fatalf("expected diagnostics state READY, got %s", snap.State.State)
	}
}

func TestBootFailsWithNoProviderAvailable(t *testing.T) {
	cfg := testConfig()
	cfg.ProviderPolicy.Order = []string{"nonexistent"}
	o := New(cfg, provider.NewRegistry(mock.New()))
	if err := o.Boot(context.Background(), testSpec()); err == nil {
		t.Fatalf("expected boot error when no configured provider is registered")
	}
	if o.State() != "ERROR" {
		t.Fatalf("expected ERROR state after failed boot, got %s", o.State())
	}
}

// fakeClock lets a test advance "now" deterministically across goroutines
// without sleeping in real time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestWatchdogStallInterruptsGenerate exercises the lock-free interrupt
// path: a watchdog tick detecting a GENERATING deadline overrun must be
// able to cancel an in-flight, indefinitely-blocked Generate call and
// drive the orchestrator through ERROR/REHYDRATING back to READY, rather
// than deadlocking against o.mu for as long as the provider blocks.
func TestWatchdogStallInterruptsGenerate(t *testing.T) {
	clock := newFakeClock(time.Unix(1_000_000, 0))
	p := &mock.Provider{TokenDelay: time.Hour, Response: "one two three"}
	o := New(testConfig(), provider.NewRegistry(p), WithClock(clock.Now))

	if err := o.Boot(context.Background(), testSpec()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	done := make(chan struct{})
	var genErr error
	go func() {
		defer close(done)
		_, genErr = o.Generate(context.Background(),
			[]chatmsg.Message{{Role: chatmsg.RoleUser, Content: "hi"}}, 100, 0.7, nil)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for o.State() != fsm.Generating && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if o.State() != fsm.Generating {
		t.Fatalf("generate never reached GENERATING, stuck at %s", o.State())
	}

	// Past the default 120s GENERATING deadline, with no token emitted yet
	// (TokenDelay blocks the first one indefinitely): the watchdog's rule-1
	// timeout check fires without needing the healthcheck-ping escalation.
	clock.Advance(121 * time.Second)
	if outcome := o.TickWatchdog(); outcome != watchdog.OutcomeTimeout {
		t.Fatalf("expected watchdog to report timeout, got %s", outcome)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("generate did not return after watchdog interrupt; stall recovery deadlocked")
	}

	if genErr == nil {
		t.Fatalf("expected generate to return the watchdog-detected stall fault")
	}
	f, ok := genErr.(*faults.Fault)
	if !ok || f.Code != faults.CodeTimeout {
		t.Fatalf("expected ERROR_TIMEOUT fault, got %v", genErr)
	}
	if o.State() != fsm.Ready {
		t.Fatalf("expected recoverable stall to rehydrate back to READY, got %s", o.State())
	}
}

func TestDiagnosticsDoesNotBlockOnInFlightGenerate(t *testing.T) {
	p := &mock.Provider{TokenDelay: 50 * time.Millisecond, Response: "one two three four five"}
	o := newTestOrchestrator(t, p)
	if err := o.Boot(context.Background(), testSpec()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Generate(context.Background(), []chatmsg.Message{{Role: chatmsg.RoleUser, Content: "hi"}}, 100, 0.7, nil)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for o.State() != fsm.Generating && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if o.State() != fsm.Generating {
		t.Fatalf("generate never reached GENERATING")
	}

	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		o.Diagnostics()
	}()

	select {
	case <-snapDone:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Diagnostics blocked on in-flight Generate")
	}

	<-done
}

func TestWithClockThreadsIntoFSM(t *testing.T) {
	fixed := time.Unix(5000, 0)
	o := New(testConfig(), provider.NewRegistry(mock.New()), WithClock(func() time.Time { return fixed }))
	rec := o.fsm.Current()
	if rec.SinceMs != fixed.UnixMilli() {
		t.Fatalf("expected fsm to use injected clock, got sinceMs=%d want=%d", rec.SinceMs, fixed.UnixMilli())
	}
}
