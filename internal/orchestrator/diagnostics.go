package orchestrator

import (
	"github.com/nova-runtime/llmcore/internal/fsm"
	"github.com/nova-runtime/llmcore/internal/logging"
	"github.com/nova-runtime/llmcore/internal/modelcache"
	"github.com/nova-runtime/llmcore/internal/modelmanager"
	"github.com/nova-runtime/llmcore/internal/provider"
	"github.com/nova-runtime/llmcore/internal/quota"
)

// Snapshot is the read-only diagnostics view spec §4.12's CMD_DIAGNOSTICS
// returns: the current FSM record plus the most recent selection/quota
// reports, cache stats, and loaded-model bookkeeping.
//
// Grounded on the teacher's executor_snapshot.go (Executor.Diagnostics):
// this keeps the same "return a flattened read-only struct under the
// same lock used for mutation" shape.
type Snapshot struct {
	State         fsm.Record
	Selection     provider.SelectionResult
	Quota         quota.Result
	CacheStats    modelcache.Stats
	LoadedModels  map[string]modelmanager.LoadedModel
	EventLog      []logging.EventLogEntry
}

// Diagnostics implements CMD_DIAGNOSTICS: a point-in-time read-only view
// of everything the orchestrator is currently tracking. Safe to call at
// any time, including concurrently with an in-flight Generate: it reads
// lastSelection/lastQuota under fieldsMu rather than the command-path mu,
// so it never blocks on a long-running Boot/Generate call.
func (o *Orchestrator) Diagnostics() Snapshot {
	o.fieldsMu.Lock()
	sel := o.lastSelection
	q := o.lastQuota
	o.fieldsMu.Unlock()

	var entries []logging.EventLogEntry
	if o.eventLog != nil {
		entries = o.eventLog.Recent()
	}

	return Snapshot{
		State:        o.fsm.Current(),
		Selection:    sel,
		Quota:        q,
		CacheStats:   o.cache.GetStats(),
		LoadedModels: o.models.GetLoaded(),
		EventLog:     entries,
	}
}
