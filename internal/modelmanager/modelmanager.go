// Package modelmanager keeps a bounded set of loaded models warm,
// coordinating with the LRU cache manager for eviction and with a
// provider for the actual init/teardown work (spec component C10).
//
// Grounded on the teacher's internal/pool package (pool_lifecycle.go,
// pool_acquisition.go): a runtime pool that loads resources up to a
// capacity, waits on in-flight loads, and evicts idle entries under
// pressure. This package generalizes that shape from pooled runtime
// instances to named, provider-backed model slots.
package modelmanager

import (
	"context"
	"sync"
	"time"

	"github.com/nova-runtime/llmcore/internal/faults"
	"github.com/nova-runtime/llmcore/internal/modelcache"
	"github.com/nova-runtime/llmcore/internal/provider"
)

// Status is a loaded model's lifecycle status.
type Status string

const (
	StatusLoading   Status = "loading"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
	StatusUnloading Status = "unloading"
	StatusUnloaded  Status = "unloaded"
)

// LoadedModel is one tracked slot.
type LoadedModel struct {
	Spec         provider.InitParams
	Status       Status
	LastUsedAtMs int64
	Err          error
}

// Config configures a Manager.
type Config struct {
	MaxLoadedModels int  // default 2
	AutoUnload      bool // default true
}

func (c *Config) applyDefaults() {
	if c.MaxLoadedModels == 0 {
		c.MaxLoadedModels = 2
	}
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Manager owns the set of currently loaded models and the single active
// model id. All mutation is serialized behind mu; loadModel blocks
// concurrent callers loading the same id on a condition variable rather
// than letting a second init race the first.
type Manager struct {
	cfg   Config
	cache *modelcache.Manager
	clock Clock

	mu       sync.Mutex
	cond     *sync.Cond
	models   map[string]*LoadedModel
	loading  map[string]bool
	activeID string
}

// New constructs a Manager backed by cache for eviction bookkeeping.
func New(cfg Config, cache *modelcache.Manager, clock Clock) *Manager {
	cfg.applyDefaults()
	if clock == nil {
		clock = time.Now
	}
	m := &Manager{
		cfg:     cfg,
		cache:   cache,
		clock:   clock,
		models:  make(map[string]*LoadedModel),
		loading: make(map[string]bool),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// ActiveModelID returns the currently active model id, or "" if none.
func (m *Manager) ActiveModelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// GetLoaded returns a snapshot of all tracked models.
func (m *Manager) GetLoaded() map[string]LoadedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]LoadedModel, len(m.models))
	for id, lm := range m.models {
		out[id] = *lm
	}
	return out
}

// LoadModel implements the spec §4.9 loadModel operation: if already
// ready, touch and return; if loading, wait for the in-flight load; if
// over capacity and autoUnload, evict the LRU non-active ready model;
// then load via p.Init.
func (m *Manager) LoadModel(ctx context.Context, spec provider.InitParams, p provider.Provider) error {
	m.mu.Lock()
	for {
		if lm, ok := m.models[spec.ModelID]; ok {
			switch lm.Status {
			case StatusReady:
				lm.LastUsedAtMs = m.clock().UnixMilli()
				if m.cache != nil {
					m.cache.TouchModel(spec.ModelID, spec.SizeBytes)
				}
				if m.activeID == "" {
					m.activeID = spec.ModelID
				}
				m.mu.Unlock()
				return nil
			case StatusLoading:
				m.cond.Wait()
				continue
			case StatusError:
				// fall through to retry the load
			}
		}
		break
	}

	if len(m.models) >= m.cfg.MaxLoadedModels && m.cfg.AutoUnload {
		m.evictLRULocked()
	}

	m.models[spec.ModelID] = &LoadedModel{Spec: spec, Status: StatusLoading}
	m.mu.Unlock()

	err := p.Init(ctx, spec)

	m.mu.Lock()
	defer func() { m.cond.Broadcast(); m.mu.Unlock() }()

	lm := m.models[spec.ModelID]
	if err != nil {
		lm.Status = StatusError
		lm.Err = err
		return faults.Wrap(faults.CodeModelLoad, "model init failed", err)
	}

	lm.Status = StatusReady
	lm.LastUsedAtMs = m.clock().UnixMilli()
	if m.cache != nil {
		m.cache.TouchModel(spec.ModelID, spec.SizeBytes)
	}
	if m.activeID == "" {
		m.activeID = spec.ModelID
	}
	return nil
}

// evictLRULocked drops the least-recently-used ready, non-active model
// to make room for a new load. Callers must hold m.mu. This is the
// capacity-pressure path; UnloadModel is the caller-driven equivalent
// that also releases the provider's resources.
func (m *Manager) evictLRULocked() {
	var victim string
	var oldest int64
	first := true
	for id, lm := range m.models {
		if id == m.activeID || lm.Status != StatusReady {
			continue
		}
		if first || lm.LastUsedAtMs < oldest {
			victim = id
			oldest = lm.LastUsedAtMs
			first = false
		}
	}
	if victim != "" {
		m.models[victim].Status = StatusUnloaded
		delete(m.models, victim)
		if m.cache != nil {
			m.cache.DeleteModel(victim)
		}
	}
}

// UnloadModel releases a tracked model explicitly: it marks the slot
// unloading, tears it down via p, then removes it (and its cache entry)
// once released. Unlike evictLRULocked this always runs the provider's
// Teardown, since the caller (not capacity pressure) decided to let the
// model go.
func (m *Manager) UnloadModel(ctx context.Context, id string, p provider.Provider) error {
	m.mu.Lock()
	lm, ok := m.models[id]
	if !ok {
		m.mu.Unlock()
		return faults.New(faults.CodeInvalidState, "model is not loaded: "+id)
	}
	lm.Status = StatusUnloading
	m.mu.Unlock()

	var teardownErr error
	if p != nil {
		teardownErr = p.Teardown(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if teardownErr != nil {
		lm.Status = StatusError
		lm.Err = teardownErr
		return faults.Wrap(faults.CodeModelLoad, "model teardown failed", teardownErr)
	}

	lm.Status = StatusUnloaded
	delete(m.models, id)
	if m.activeID == id {
		m.activeID = ""
	}
	if m.cache != nil {
		m.cache.DeleteModel(id)
	}
	return nil
}

// SetActiveModel promotes id to active. id must already be ready.
func (m *Manager) SetActiveModel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lm, ok := m.models[id]
	if !ok || lm.Status != StatusReady {
		return faults.New(faults.CodeInvalidState, "model is not ready: "+id)
	}
	lm.LastUsedAtMs = m.clock().UnixMilli()
	m.activeID = id
	if m.cache != nil {
		m.cache.TouchModel(id, lm.Spec.SizeBytes)
	}
	return nil
}
