// Package watchdog implements the deadline/stall monitor and healthcheck
// escalation described in spec component C9. It ticks on a fixed
// interval, reads state snapshots pushed to it by the orchestrator, and
// publishes fault events through a callback — it never mutates FSM state
// directly, per the spec's inversion note in §9 ("watchdog receives
// read-only state snapshots via updateState, publishes events through a
// callback channel; no cyclic ownership").
//
// Grounded on the teacher's internal/circuitbreaker package for the
// periodic-check/sliding-outcome shape, generalized from request
// success/failure counting to deadline and token-flow monitoring.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/nova-runtime/llmcore/internal/faults"
	"github.com/nova-runtime/llmcore/internal/fsm"
)

// Outcome classifies one watchdog tick's verdict.
type Outcome string

const (
	OutcomeHealthy Outcome = "healthy"
	OutcomeTimeout Outcome = "timeout"
	OutcomeStuck   Outcome = "stuck"
)

// Event is published on every non-healthy tick (and, for callers that
// want full visibility, can also be emitted for healthy ticks — the
// default Watchdog only calls Publish on non-healthy outcomes).
type Event struct {
	Outcome Outcome
	Fault   *faults.Fault
}

// Defaults mirror spec §4.4's documented constants.
const (
	DefaultCheckIntervalMs           = 1_000
	DefaultIndeterminateStuckMs      = 120_000
	DefaultGenerationStalledMs       = 30_000
	DefaultPrefillWindowMs           = 60_000
	DefaultPingTimeoutMs             = 5_000
	DefaultPingTimeoutMultiplier     = 3
)

// Pinger is the subset of provider.Provider the healthcheck manager
// needs; kept narrow so this package does not depend on internal/provider.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures a Watchdog.
type Config struct {
	CheckInterval       time.Duration
	IndeterminateStuck  time.Duration
	GenerationStalled   time.Duration
	PrefillWindow       time.Duration
	PingTimeout         time.Duration
	PingTimeoutMultiplier int

	Clock   func() time.Time
	Publish func(Event)
}

func (c *Config) applyDefaults() {
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckIntervalMs * time.Millisecond
	}
	if c.IndeterminateStuck == 0 {
		c.IndeterminateStuck = DefaultIndeterminateStuckMs * time.Millisecond
	}
	if c.GenerationStalled == 0 {
		c.GenerationStalled = DefaultGenerationStalledMs * time.Millisecond
	}
	if c.PrefillWindow == 0 {
		c.PrefillWindow = DefaultPrefillWindowMs * time.Millisecond
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = DefaultPingTimeoutMs * time.Millisecond
	}
	if c.PingTimeoutMultiplier == 0 {
		c.PingTimeoutMultiplier = DefaultPingTimeoutMultiplier
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Publish == nil {
		c.Publish = func(Event) {}
	}
}

// Watchdog tracks the most recently pushed fsm.Record and evaluates the
// spec §4.4 tick rules against it. Callers drive ticking externally
// (Tick) or via Run, which loops on Config.CheckInterval until ctx is
// cancelled.
type Watchdog struct {
	cfg Config

	mu    sync.Mutex
	state fsm.Record
}

// New constructs a Watchdog with defaults applied for zero-value fields.
func New(cfg Config) *Watchdog {
	cfg.applyDefaults()
	return &Watchdog{cfg: cfg}
}

// UpdateState pushes the current FSM record into the watchdog. Per the
// ordering guarantee, this resets the local tracker so the watchdog
// never emits against a stale state.
func (w *Watchdog) UpdateState(rec fsm.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = rec
}

// Tick evaluates one watchdog cycle against the last-pushed state and
// returns the outcome (also published via Config.Publish if non-healthy).
func (w *Watchdog) Tick() Outcome {
	w.mu.Lock()
	rec := w.state
	w.mu.Unlock()

	now := w.cfg.Clock().UnixMilli()

	if rec.DeadlineMs > 0 && now-rec.SinceMs > rec.DeadlineMs {
		w.emit(OutcomeTimeout, faults.New(faults.CodeTimeout, "state deadline exceeded").WithState(string(rec.State)))
		return OutcomeTimeout
	}

	if rec.State == fsm.Downloading && rec.Variant == fsm.DownloadIndeterminate {
		if now-rec.SinceMs > w.cfg.IndeterminateStuck.Milliseconds() {
			w.emit(OutcomeStuck, faults.New(faults.CodeNativeDownloadStuck, "indeterminate download exceeded stuck window").WithState(string(rec.State)))
			return OutcomeStuck
		}
	}

	if rec.State == fsm.Generating {
		if rec.LastTokenAtMs > 0 && now-rec.LastTokenAtMs > w.cfg.GenerationStalled.Milliseconds() {
			w.emit(OutcomeStuck, faults.New(faults.CodeGenerationStalled, "token flow stalled").WithState(string(rec.State)))
			return OutcomeStuck
		}
		if rec.LastTokenAtMs == 0 && now-rec.SinceMs > w.cfg.PrefillWindow.Milliseconds() {
			w.emit(OutcomeStuck, faults.New(faults.CodeGenerationStalled, "prefill window exceeded").WithState(string(rec.State)))
			return OutcomeStuck
		}
	}

	return OutcomeHealthy
}

func (w *Watchdog) emit(o Outcome, f *faults.Fault) {
	w.cfg.Publish(Event{Outcome: o, Fault: f})
}

// Run ticks at Config.CheckInterval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick()
		}
	}
}

// HealthcheckManager implements the richer stall check from spec §4.4:
// when the Watchdog deems a state stalled, it pings the active provider
// before committing to a fault, so a slow-but-alive provider is given
// one more chance per cycle.
type HealthcheckManager struct {
	pingTimeout time.Duration
}

// NewHealthcheckManager constructs a manager with the default
// 5s * 3 ping timeout window unless overridden.
func NewHealthcheckManager(pingTimeout time.Duration) *HealthcheckManager {
	if pingTimeout == 0 {
		pingTimeout = DefaultPingTimeoutMs * DefaultPingTimeoutMultiplier * time.Millisecond
	}
	return &HealthcheckManager{pingTimeout: pingTimeout}
}

// Check pings p with the configured timeout. A successful ping overrides
// a stall verdict for this cycle (OutcomeHealthy); a ping error yields
// ERROR_GENERATION_STALLED; a ping that exceeds the timeout yields
// ERROR_HEALTHCHECK_TIMEOUT_DURING_GENERATION.
func (h *HealthcheckManager) Check(ctx context.Context, p Pinger) (Outcome, *faults.Fault) {
	ctx, cancel := context.WithTimeout(ctx, h.pingTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Ping(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			return OutcomeStuck, faults.New(faults.CodeGenerationStalled, "provider ping failed: "+err.Error())
		}
		return OutcomeHealthy, nil
	case <-ctx.Done():
		return OutcomeTimeout, faults.New(faults.CodeHealthcheckTimeoutDuringGeneration, "provider ping exceeded timeout")
	}
}
