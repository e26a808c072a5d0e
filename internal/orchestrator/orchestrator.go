// Package orchestrator implements the central driver of the orchestration
// core (spec component C11): it owns the FSM, the envelope factory, the
// watchdog, the retry budgeter, the model manager, and whichever provider
// is currently active, and maps incoming commands to FSM transitions and
// provider calls.
//
// Grounded on the teacher's internal/executor package (Executor,
// executor_options.go's functional-options constructor, and
// executor_snapshot.go's read-only status accessor): this package keeps
// that shape — a single struct wired together via With* options, a
// mutex-serialized command path, and a Diagnostics()-style snapshot
// accessor — generalized from invocation execution to the LLM request
// lifecycle.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nova-runtime/llmcore/internal/chatmsg"
	"github.com/nova-runtime/llmcore/internal/config"
	"github.com/nova-runtime/llmcore/internal/faults"
	"github.com/nova-runtime/llmcore/internal/fsm"
	"github.com/nova-runtime/llmcore/internal/logging"
	"github.com/nova-runtime/llmcore/internal/metrics"
	"github.com/nova-runtime/llmcore/internal/modelcache"
	"github.com/nova-runtime/llmcore/internal/modelmanager"
	"github.com/nova-runtime/llmcore/internal/plugin"
	"github.com/nova-runtime/llmcore/internal/protocol"
	"github.com/nova-runtime/llmcore/internal/provider"
	"github.com/nova-runtime/llmcore/internal/quota"
	"github.com/nova-runtime/llmcore/internal/watchdog"
)

// EventSink receives every envelope minted by the orchestrator, the Go
// analogue of the outer boundary spec §2 describes ("events... reach the
// outer boundary"). Must not block; callers that need to do real work
// should hand the envelope to a channel themselves.
type EventSink func(protocol.Envelope)

// Orchestrator is the single entry point a host integrates against.
type Orchestrator struct {
	cfg       *config.Config
	registry  *provider.Registry
	envelopes *protocol.Factory
	fsm       *fsm.Machine
	cache     *modelcache.Manager
	models    *modelmanager.Manager
	watchdog  *watchdog.Watchdog
	healthMgr *watchdog.HealthcheckManager
	hooks     *plugin.Hooks
	metrics   *metrics.Metrics
	eventLog  *logging.EventLog
	storage   quota.StorageSource
	sink      EventSink
	clock     func() time.Time

	// mu serializes the command-processing path (Boot/Generate/Teardown),
	// matching spec §5's "single-threaded cooperative" orchestrator model.
	// Abort is intentionally excluded: it must be able to interrupt an
	// in-flight Generate from another goroutine, so it only touches the
	// already-mutex-protected fsm.Machine and protocol.Factory.
	mu             sync.Mutex
	activeProvider provider.Provider
	lastSpec       chatmsg.ModelSpec

	// fieldsMu guards lastSelection/lastQuota independently of mu, so
	// Diagnostics never blocks on a long-running Boot/Generate call — it
	// only contends with the brief instant those fields are written.
	fieldsMu      sync.Mutex
	lastSelection provider.SelectionResult
	lastQuota     quota.Result

	// activeCancel holds the cancel func for whatever blocking provider
	// call Boot/Generate currently has in flight, and pendingStallFault
	// holds a fault a watchdog tick wants the command path to pick up.
	// Both are written/read without mu: they are how handleWatchdogEvent
	// (which must never block on mu) interrupts a stuck command and
	// hands it the fault to route, instead of deadlocking trying to
	// route the fault itself.
	activeCancel      atomic.Pointer[context.CancelFunc]
	pendingStallFault atomic.Pointer[faults.Fault]
}

// beginCancelable derives a cancelable context from parent and publishes
// its cancel func for handleWatchdogEvent to call. The returned done
// func must be deferred by the caller to clear the slot and release
// resources.
func (o *Orchestrator) beginCancelable(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	o.activeCancel.Store(&cancel)
	return ctx, func() {
		o.activeCancel.Store(nil)
		cancel()
	}
}

// takeStallFault consumes and returns a fault handed off by
// handleWatchdogEvent, or nil if no stall is pending.
func (o *Orchestrator) takeStallFault() *faults.Fault {
	return o.pendingStallFault.Swap(nil)
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithEventSink registers the outer boundary's envelope consumer.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithStorageSource supplies the platform storage API used by the quota
// preflight check (C5). Defaults to an always-unsupported source, which
// spec §4.7 treats as an optimistic ok=true.
func WithStorageSource(src quota.StorageSource) Option {
	return func(o *Orchestrator) { o.storage = src }
}

// WithHooks attaches a plugin.Hooks registry (C12).
func WithHooks(h *plugin.Hooks) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithMetrics attaches a Prometheus metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithEventLog attaches a bounded diagnostics ring buffer, overriding the
// default sized from cfg.Observability.Logging.EventLogSize.
func WithEventLog(l *logging.EventLog) Option {
	return func(o *Orchestrator) { o.eventLog = l }
}

// WithClock overrides the wall clock used by the FSM, model cache, and
// model manager. Tests use this for deterministic timing; production
// callers can omit it and get time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

type unsupportedStorage struct{}

func (unsupportedStorage) Estimate() (quota.StorageEstimate, error) {
	return quota.StorageEstimate{Supported: false}, nil
}

// New constructs an Orchestrator wired against cfg and reg.
func New(cfg *config.Config, reg *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		registry:  reg,
		envelopes: protocol.NewFactory(),
		storage:   unsupportedStorage{},
		hooks:     plugin.New(nil),
		eventLog:  logging.NewEventLog(cfg.Observability.Logging.EventLogSize),
	}

	for _, opt := range opts {
		opt(o)
	}

	var fsmClock fsm.Clock
	var cacheClock modelcache.Clock
	var modelsClock modelmanager.Clock
	if o.clock != nil {
		fsmClock = fsm.Clock(o.clock)
		cacheClock = modelcache.Clock(o.clock)
		modelsClock = modelmanager.Clock(o.clock)
	}

	o.fsm = fsm.New(fsm.Config{
		Clock:             fsmClock,
		TimeoutMultiplier: cfg.TimeoutMultiplier,
		DeadlineOverrides: cfg.Watchdog.DeadlineOverrides,
		OnListenerError: func(r any) {
			logging.Op().Error("fsm listener panicked", "panic", r)
		},
	})

	cacheCfg := modelcache.DefaultConfig(0)
	cacheCfg.MaxUsageRatio = cfg.Cache.MaxUsageRatio
	cacheCfg.MinFreeBytes = cfg.Cache.MinFreeBytes
	o.cache = modelcache.New(cacheCfg, cacheClock)

	o.models = modelmanager.New(modelmanager.Config{
		MaxLoadedModels: cfg.MaxLoadedModels,
		AutoUnload:      cfg.AutoUnload,
	}, o.cache, modelsClock)

	o.watchdog = watchdog.New(watchdog.Config{
		CheckInterval:         cfg.CheckInterval(),
		GenerationStalled:     time.Duration(cfg.Healthcheck.StalledThresholdMs) * time.Millisecond,
		PingTimeout:           time.Duration(cfg.Healthcheck.PingTimeoutMs) * time.Millisecond,
		PingTimeoutMultiplier: cfg.Healthcheck.StalledTimeoutMultiplier,
		Clock:                 o.clock,
		Publish:               o.handleWatchdogEvent,
	})
	o.healthMgr = watchdog.NewHealthcheckManager(
		time.Duration(cfg.Healthcheck.PingTimeoutMs) * time.Duration(cfg.Healthcheck.StalledTimeoutMultiplier) * time.Millisecond,
	)

	o.fsm.Subscribe(o.onTransition)

	return o
}

// onTransition is the single fsm listener wiring state changes into the
// watchdog, metrics, event log, and onStateChange plugin hook — the
// concrete implementation of spec §9's "watchdog receives read-only state
// snapshots via updateState" inversion.
func (o *Orchestrator) onTransition(rec fsm.Record) {
	o.watchdog.UpdateState(rec)
	if o.metrics != nil {
		o.metrics.RecordTransition(string(rec.State))
	}
	if o.eventLog != nil {
		o.eventLog.Record(logging.EventLogEntry{
			Epoch: rec.Epoch, Type: string(protocol.EventStateChange), State: string(rec.State),
		})
	}
	o.hooks.StateChange(rec)
	o.emit(protocol.EventStateChange, protocol.StateChangePayload{
		State: string(rec.State), SinceMs: rec.SinceMs, DeadlineMs: rec.DeadlineMs,
	})
}

// emit mints an envelope at the factory's current epoch and hands it to
// the registered sink, if any.
func (o *Orchestrator) emit(typ protocol.EventType, payload any) protocol.Envelope {
	env := o.envelopes.Create(string(typ), payload)
	if o.sink != nil {
		o.sink(env)
	}
	return env
}

// emitError publishes an EVENT_ERROR envelope, records it, and dispatches
// the onError plugin hook — the single path every fault flows through
// before being returned to the caller (spec §7: "All errors are surfaced
// as EVENT_ERROR and to the onError plugin hook").
func (o *Orchestrator) emitError(f *faults.Fault) {
	if o.eventLog != nil {
		o.eventLog.Record(logging.EventLogEntry{
			Epoch: o.envelopes.CurrentEpoch(), Type: string(protocol.EventError),
			State: f.AtState, Error: f.Error(),
		})
	}
	o.hooks.Error(f)
	o.emit(protocol.EventError, protocol.ErrorPayload{
		Code: string(f.Code), Message: f.Message,
		Recoverability: string(f.Recoverability), AtState: f.AtState,
	})
}

// State returns the orchestrator's current FSM state.
func (o *Orchestrator) State() fsm.State {
	return o.fsm.Current().State
}

// CurrentEpoch returns the envelope factory's current epoch.
func (o *Orchestrator) CurrentEpoch() uint32 {
	return o.envelopes.CurrentEpoch()
}

// RunWatchdog ticks the watchdog at its configured interval until ctx is
// cancelled. Host processes call this once alongside the orchestrator's
// lifetime; tests drive the watchdog directly via TickWatchdog instead.
func (o *Orchestrator) RunWatchdog(ctx context.Context) {
	o.watchdog.Run(ctx)
}

// TickWatchdog runs one watchdog cycle synchronously, for tests that need
// deterministic control over when a stall is evaluated.
func (o *Orchestrator) TickWatchdog() watchdog.Outcome {
	return o.watchdog.Tick()
}

// handleWatchdogEvent reacts to a non-healthy watchdog tick. Every
// deadlined state (not just GENERATING/DOWNLOADING — spec §4.1/§4.4's
// rule 1 applies to any state with a deadline: BOOTING, SELECTING_
// PROVIDER, PREFLIGHT_QUOTA, CHECKING_CACHE, WARMING_UP, GENERATING,
// and REHYDRATING) can stall, and every one of them is reached by a
// command that holds mu for its entire blocking duration. Acquiring mu
// here to call routeError directly would therefore deadlock against
// whatever command is stuck — a stalled provider call, by definition,
// never returns on its own to release it.
//
// Instead this hands the fault off via pendingStallFault and cancels the
// in-flight provider call's context via activeCancel, both lock-free.
// The stuck command's own goroutine — which still holds mu — notices the
// cancellation when its blocking call finally returns, picks the fault
// back up with takeStallFault, and routes it itself.
func (o *Orchestrator) handleWatchdogEvent(ev watchdog.Event) {
	if o.metrics != nil {
		o.metrics.RecordWatchdogStall(string(ev.Outcome))
	}
	rec := o.fsm.Current()
	if rec.State == fsm.Idle || rec.State == fsm.Ready {
		// Neither state has a deadline or a blocking call in flight.
		return
	}

	fault := ev.Fault
	if ev.Outcome == watchdog.OutcomeStuck && rec.State == fsm.Generating && o.activeProvider != nil {
		// A suspected stall during generation gets one confirmation ping
		// before the orchestrator commits to interrupting it — spec
		// §9's richer escalation path, distinct from a plain deadline
		// miss.
		outcome, pingFault := o.healthMgr.Check(context.Background(), o.activeProvider)
		if outcome == watchdog.OutcomeHealthy {
			return
		}
		fault = pingFault
	}

	o.pendingStallFault.Store(fault.WithState(string(rec.State)))
	if rec.State == fsm.Generating {
		// Bumps the epoch so any token the provider emits between now
		// and its call actually returning is dropped by the stale-token
		// check in generateWithRetry's onToken, the same defense Abort
		// relies on.
		o.envelopes.IncrementEpoch()
	}
	if cancel := o.activeCancel.Load(); cancel != nil {
		(*cancel)()
	}
}
