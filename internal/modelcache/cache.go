// Package modelcache implements the LRU cache manager that backs model
// storage on disk, tracking which models are cached and evicting by
// least-recently-used order to stay within a usage budget (spec
// component C6).
//
// Grounded on the teacher's internal/cache package (Cache interface with
// a default in-memory implementation, safe for concurrent use via a
// single mutex) generalized from a byte-value cache to a model-identity
// cache ordered by lastUsedAtMs rather than TTL.
package modelcache

import (
	"sort"
	"sync"
	"time"
)

// Entry is one cached model's bookkeeping record (data model §3).
type Entry struct {
	ID          string
	SizeBytes   int64
	LastUsedAtMs int64
}

// Stats summarizes the cache for diagnostics snapshots.
type Stats struct {
	Count      int
	TotalBytes int64
}

// EvictResult reports what evictForSpace/autoEvict removed.
type EvictResult struct {
	Evicted    []string
	FreedBytes int64
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Manager tracks {modelID -> (sizeBytes, lastUsedAtMs)} and evicts by LRU
// order. All writes (touch, delete, evict) are serialized through mu, a
// single-writer lock per spec §5; reads copy out from under a read lock
// and are otherwise lock-free.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	clock   Clock

	quotaBytes     int64
	maxUsageRatio  float64
	minFreeBytes   int64
}

// Config configures eviction thresholds (spec §6 cache.* defaults).
type Config struct {
	QuotaBytes    int64
	MaxUsageRatio float64 // default 0.8
	MinFreeBytes  int64   // default 200 MiB
}

// DefaultConfig returns the spec's documented defaults for a given
// device storage quota.
func DefaultConfig(quotaBytes int64) Config {
	return Config{
		QuotaBytes:    quotaBytes,
		MaxUsageRatio: 0.8,
		MinFreeBytes:  200 * 1024 * 1024,
	}
}

// New creates a Manager. clock defaults to time.Now if nil.
func New(cfg Config, clock Clock) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		entries:       make(map[string]*Entry),
		clock:         clock,
		quotaBytes:    cfg.QuotaBytes,
		maxUsageRatio: cfg.MaxUsageRatio,
		minFreeBytes:  cfg.MinFreeBytes,
	}
}

func (m *Manager) nowMs() int64 {
	return m.clock().UnixMilli()
}

// GetModels returns a snapshot of all cached entries, ordered oldest
// (least recently used) first.
func (m *Manager) GetModels() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAtMs < out[j].LastUsedAtMs })
	return out
}

// HasModel reports whether id is currently cached.
func (m *Manager) HasModel(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

// TouchModel records a cache hit/write for id, updating lastUsedAtMs and
// registering sizeBytes on first insertion.
func (m *Manager) TouchModel(id string, sizeBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &Entry{ID: id, SizeBytes: sizeBytes}
		m.entries[id] = e
	} else if sizeBytes > 0 {
		e.SizeBytes = sizeBytes
	}
	e.LastUsedAtMs = m.nowMs()
}

// DeleteModel removes id from the cache index. Not an error to delete a
// key that does not exist.
func (m *Manager) DeleteModel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// PurgeAll clears the entire cache index.
func (m *Manager) PurgeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*Entry)
}

// GetStats summarizes the current cache.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, e := range m.entries {
		total += e.SizeBytes
	}
	return Stats{Count: len(m.entries), TotalBytes: total}
}

// EvictForSpace evicts oldest entries until freed bytes >= required or
// the set is empty. protect, if non-empty, names an id that must never
// be evicted (the active model — spec §8 invariant "evictions never
// remove the active model").
func (m *Manager) EvictForSpace(required int64, protect string) EvictResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictForSpaceLocked(required, protect)
}

func (m *Manager) evictForSpaceLocked(required int64, protect string) EvictResult {
	ordered := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.ID == protect {
			continue
		}
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].LastUsedAtMs < ordered[j].LastUsedAtMs })

	res := EvictResult{}
	for _, e := range ordered {
		if res.FreedBytes >= required {
			break
		}
		delete(m.entries, e.ID)
		res.Evicted = append(res.Evicted, e.ID)
		res.FreedBytes += e.SizeBytes
	}
	return res
}

// AutoEvict evicts down to maxUsageRatio of quotaBytes, or until
// minFreeBytes is available, whichever requires more eviction. protect
// names the active model id, which is never evicted.
func (m *Manager) AutoEvict(protect string) EvictResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.quotaBytes <= 0 {
		return EvictResult{}
	}

	var used int64
	for _, e := range m.entries {
		used += e.SizeBytes
	}

	targetUsage := int64(float64(m.quotaBytes) * m.maxUsageRatio)
	free := m.quotaBytes - used

	var excess int64
	if used > targetUsage {
		excess = used - targetUsage
	}
	var shortfall int64
	if free < m.minFreeBytes {
		shortfall = m.minFreeBytes - free
	}

	required := excess
	if shortfall > required {
		required = shortfall
	}
	if required <= 0 {
		return EvictResult{}
	}

	return m.evictForSpaceLocked(required, protect)
}
