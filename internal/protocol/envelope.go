// Package protocol implements the epoch/sequence envelope protocol that
// carries commands from the orchestrator to a provider-facing worker
// context and events back (spec component C1).
//
// The envelope factory is the single owner of a mutable (epoch, seq)
// pair. incrementEpoch is called exactly once per CMD_ABORT/CMD_TEARDOWN
// boundary; every envelope minted after that carries the new epoch, and
// every envelope minted before it becomes stale — the primary defense
// against races between an in-flight generate and a newer request.
package protocol

import "sync"

// CommandType enumerates Main->Worker commands.
type CommandType string

const (
	CmdInit           CommandType = "CMD_INIT"
	CmdSelectProvider CommandType = "CMD_SELECT_PROVIDER"
	CmdPreflightQuota CommandType = "CMD_PREFLIGHT_QUOTA"
	CmdCheckCache     CommandType = "CMD_CHECK_CACHE"
	CmdDownloadModel  CommandType = "CMD_DOWNLOAD_MODEL"
	CmdWarmup         CommandType = "CMD_WARMUP"
	CmdGenerate       CommandType = "CMD_GENERATE"
	CmdAbort          CommandType = "CMD_ABORT"
	CmdTeardown       CommandType = "CMD_TEARDOWN"
	CmdHealthcheck    CommandType = "CMD_HEALTHCHECK"
)

// EventType enumerates Worker->Main events.
type EventType string

const (
	EventStateChange         EventType = "EVENT_STATE_CHANGE"
	EventProviderSelected    EventType = "EVENT_PROVIDER_SELECTED"
	EventQuotaResult         EventType = "EVENT_QUOTA_RESULT"
	EventCacheResult         EventType = "EVENT_CACHE_RESULT"
	EventDownloadProgress    EventType = "EVENT_DOWNLOAD_PROGRESS"
	EventWarmupComplete      EventType = "EVENT_WARMUP_COMPLETE"
	EventToken               EventType = "EVENT_TOKEN"
	EventGenerationComplete  EventType = "EVENT_GENERATION_COMPLETE"
	EventError               EventType = "EVENT_ERROR"
	EventHealthcheckResponse EventType = "EVENT_HEALTHCHECK_RESPONSE"
	EventTeardownComplete    EventType = "EVENT_TEARDOWN_COMPLETE"
)

// Envelope is the wire shape shared by commands and events:
// {epoch, seq, type, payload}. Type is a CommandType or EventType; Payload
// is left as `any` so callers can tolerate unknown fields on the way in
// and attach any per-type payload struct on the way out.
type Envelope struct {
	Epoch   uint32 `json:"epoch"`
	Seq     uint32 `json:"seq"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Factory owns the mutable (epoch, seq) pair for one orchestrator
// instance. It is never shared across orchestrators and never exposed as
// a process-wide global (spec §9 design note: "no process-wide globals").
type Factory struct {
	mu    sync.Mutex
	epoch uint32
	seq   uint32
}

// NewFactory creates a Factory starting at epoch 0, seq 0.
func NewFactory() *Factory {
	return &Factory{}
}

// Create mints an envelope at the factory's current (epoch, seq), then
// increments seq. Safe for concurrent use, though in the run-to-completion
// orchestrator model described in spec §5 only one goroutine calls it at
// a time.
func (f *Factory) Create(typ string, payload any) Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	env := Envelope{Epoch: f.epoch, Seq: f.seq, Type: typ, Payload: payload}
	f.seq++
	return env
}

// IncrementEpoch bumps epoch and resets seq to 0. Called on CMD_ABORT and
// CMD_TEARDOWN. Returns the new epoch for convenience.
func (f *Factory) IncrementEpoch() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch++
	f.seq = 0
	return f.epoch
}

// CurrentEpoch returns the factory's current epoch.
func (f *Factory) CurrentEpoch() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

// IsStale reports whether env was minted before the most recent
// IncrementEpoch call, i.e. whether it should be dropped silently before
// any state mutation or listener notification (spec §4.2's stale-event
// rule and §5's ordering guarantee).
func (f *Factory) IsStale(env Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return env.Epoch != f.epoch
}
