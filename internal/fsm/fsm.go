// Package fsm implements the runtime state machine (spec component C8):
// a tagged-variant state record, a guarded transition table, and an
// observer contract for listeners that want to react to every successful
// transition.
//
// Grounded on the teacher's internal/backend state handling is minimal;
// the transition-table shape here instead follows comalice-statechartx's
// core.Machine (other_examples) generalized from named chart states to
// this spec's fixed twelve-state orchestration lifecycle.
package fsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/nova-runtime/llmcore/internal/faults"
)

// State names the twelve cases of the runtime state machine (spec §3).
type State string

const (
	Idle               State = "IDLE"
	Booting            State = "BOOTING"
	SelectingProvider  State = "SELECTING_PROVIDER"
	PreflightQuota     State = "PREFLIGHT_QUOTA"
	CheckingCache      State = "CHECKING_CACHE"
	Downloading        State = "DOWNLOADING"
	WarmingUp          State = "WARMING_UP"
	Ready              State = "READY"
	Generating         State = "GENERATING"
	Error              State = "ERROR"
	Rehydrating        State = "REHYDRATING"
	Teardown           State = "TEARDOWN"
)

// DownloadVariant distinguishes a DOWNLOADING record with a known total
// from one tracked only by stuck-detection heuristics.
type DownloadVariant string

const (
	DownloadDeterminate   DownloadVariant = "determinate"
	DownloadIndeterminate DownloadVariant = "indeterminate"
)

// defaultDeadlinesMs holds the spec §4.1 default deadline per state. A
// zero value (absent key) means no deadline.
var defaultDeadlinesMs = map[State]int64{
	Booting:           10_000,
	SelectingProvider: 5_000,
	PreflightQuota:    5_000,
	CheckingCache:     5_000,
	WarmingUp:         60_000,
	Generating:        120_000,
	Rehydrating:       30_000,
}

// transitions is the spec §4.1 allowed-transition table. Any pair absent
// from this table is rejected with ERROR_INVALID_TRANSITION.
var transitions = map[State]map[State]bool{
	Idle:              {Booting: true},
	Booting:           {SelectingProvider: true, Error: true},
	SelectingProvider: {PreflightQuota: true, Error: true},
	PreflightQuota:    {CheckingCache: true, Error: true},
	CheckingCache:     {Downloading: true, WarmingUp: true, Error: true},
	Downloading:       {WarmingUp: true, Error: true},
	WarmingUp:         {Ready: true, Error: true},
	Ready:             {Generating: true, Teardown: true},
	Generating:        {Ready: true, Error: true, Rehydrating: true},
	Error:             {Rehydrating: true, Teardown: true},
	Rehydrating:       {SelectingProvider: true, Error: true},
	Teardown:          {Idle: true},
}

// Record is the current-state snapshot: a tagged variant plus the timing
// and generation/download fields the spec requires per state.
type Record struct {
	State       State
	SinceMs     int64
	DeadlineMs  int64 // 0 means no deadline
	DeadlineAtMs int64

	// GENERATING fields.
	Epoch          uint32
	RequestSeq     uint32
	IsAborting     bool
	TokensEmitted  int
	LastTokenAtMs  int64

	// DOWNLOADING fields.
	Variant         DownloadVariant
	DownloadedBytes int64
	TotalBytes      *int64
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Listener is invoked after each successful transition. Per the spec's
// observer contract, a Listener must never panic; Machine recovers and
// logs via onListenerError if it does.
type Listener func(Record)

// Machine owns the current Record and enforces the transition table.
// All mutation is serialized behind mu, matching the spec's "current-
// state record is replaced atomically" invariant; Current is safe to
// call concurrently with Transition.
type Machine struct {
	mu                sync.RWMutex
	current           Record
	clock             Clock
	timeoutMultiplier float64
	listeners         []Listener
	onListenerError   func(err any)
	deadlineOverrides map[State]int64
}

// Config configures a Machine.
type Config struct {
	Clock             Clock
	TimeoutMultiplier float64 // default 1.0
	OnListenerError   func(err any)
	// DeadlineOverrides replaces defaultDeadlinesMs for the named states
	// (spec §6's watchdog.deadlineOverrides config key).
	DeadlineOverrides map[string]int64
}

// New constructs a Machine in the IDLE state.
func New(cfg Config) *Machine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	mult := cfg.TimeoutMultiplier
	if mult == 0 {
		mult = 1.0
	}
	onErr := cfg.OnListenerError
	if onErr == nil {
		onErr = func(any) {}
	}
	overrides := make(map[State]int64, len(cfg.DeadlineOverrides))
	for k, v := range cfg.DeadlineOverrides {
		overrides[State(k)] = v
	}
	m := &Machine{
		clock:             clock,
		timeoutMultiplier: mult,
		onListenerError:   onErr,
		deadlineOverrides: overrides,
	}
	now := clock().UnixMilli()
	m.current = Record{State: Idle, SinceMs: now}
	return m
}

// Current returns a copy of the current state record.
func (m *Machine) Current() Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers fn to be invoked after each successful transition.
// Returns an unsubscribe function.
func (m *Machine) Subscribe(fn Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = nil
		}
	}
}

// CanAbort reports whether the given state permits CMD_ABORT (spec §4.1
// capability predicate).
func CanAbort(s State) bool {
	switch s {
	case Downloading, WarmingUp, Generating:
		return true
	default:
		return false
	}
}

// CanGenerate reports whether the given state permits CMD_GENERATE.
func CanGenerate(s State) bool {
	return s == Ready
}

// Transition attempts to move the machine to next, applying the
// transition table and stamping sinceMs/deadlineAtMs on success. mutate,
// if non-nil, is applied to the new Record before deadline computation
// and before listeners fire (used to seed GENERATING/DOWNLOADING fields).
func (m *Machine) Transition(next State, mutate func(*Record)) (Record, error) {
	m.mu.Lock()
	from := m.current.State
	allowed := transitions[from]
	if allowed == nil || !allowed[next] {
		m.mu.Unlock()
		return Record{}, faults.New(faults.CodeInvalidTransition,
			fmt.Sprintf("invalid transition %s -> %s", from, next)).WithState(string(from))
	}

	now := m.clock().UnixMilli()
	rec := Record{State: next, SinceMs: now}

	base, ok := m.deadlineOverrides[next]
	if !ok {
		base, ok = defaultDeadlinesMs[next]
	}
	if ok {
		deadline := int64(float64(base) * m.timeoutMultiplier)
		rec.DeadlineMs = deadline
		rec.DeadlineAtMs = now + deadline
	}

	if mutate != nil {
		mutate(&rec)
	}

	m.current = rec
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.notify(listeners, rec)
	return rec, nil
}

func (m *Machine) notify(listeners []Listener, rec Record) {
	for _, l := range listeners {
		if l == nil {
			continue
		}
		m.safeCall(l, rec)
	}
}

func (m *Machine) safeCall(l Listener, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			m.onListenerError(r)
		}
	}()
	l(rec)
}

// ResetGeneratingTiming implements the spec's special operation: if the
// current state is GENERATING, reset sinceMs/lastTokenAtMs and recompute
// deadlineAtMs; otherwise it is a no-op. Used after an engine recreation
// so the watchdog's prefill window restarts cleanly.
func (m *Machine) ResetGeneratingTiming() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.State != Generating {
		return
	}
	now := m.clock().UnixMilli()
	m.current.SinceMs = now
	m.current.LastTokenAtMs = 0
	if m.current.DeadlineMs > 0 {
		m.current.DeadlineAtMs = now + m.current.DeadlineMs
	}
}

// RecordToken updates GENERATING bookkeeping after a token is emitted.
// No-op outside GENERATING.
func (m *Machine) RecordToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.State != Generating {
		return
	}
	m.current.TokensEmitted++
	m.current.LastTokenAtMs = m.clock().UnixMilli()
}

// MarkAborting sets IsAborting on a GENERATING record. No-op otherwise.
func (m *Machine) MarkAborting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.State == Generating {
		m.current.IsAborting = true
	}
}

// UpdateDownloadProgress updates the DOWNLOADING record's byte counters in
// place. Unlike Transition this does not change state or notify listeners;
// it is a within-state bookkeeping update driven by a provider's
// OnProgress callback. No-op outside DOWNLOADING.
func (m *Machine) UpdateDownloadProgress(variant DownloadVariant, downloaded int64, total *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.State != Downloading {
		return
	}
	m.current.Variant = variant
	m.current.DownloadedBytes = downloaded
	m.current.TotalBytes = total
}
