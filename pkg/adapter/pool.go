package adapter

import (
	"sync"
	"time"

	"github.com/baylabs/bay/pkg/metrics"
	"github.com/baylabs/bay/pkg/types"
)

const (
	// DefaultPoolSize bounds the number of cached adapters.
	DefaultPoolSize = 128
	// DefaultPoolTTL is how long an unused adapter stays cached.
	DefaultPoolTTL = 5 * time.Minute
)

type poolEntry struct {
	adapter  RuntimeAdapter
	lastUsed time.Time
}

// Pool caches adapters keyed by (container id, endpoint) so the meta probe
// and connection warmup are paid once per container, not per request.
// Entries expire after a TTL of disuse and the least recently used entry is
// evicted when the pool is full.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewPool creates a pool with the given bounds; zero values select the
// defaults.
func NewPool(maxSize int, ttl time.Duration) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultPoolSize
	}
	if ttl <= 0 {
		ttl = DefaultPoolTTL
	}
	return &Pool{
		entries: make(map[string]*poolEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func poolKey(containerID, endpoint string) string {
	return containerID + "|" + endpoint
}

// Get returns the cached adapter for a container, constructing one of the
// right kind on a miss. Insertion is idempotent under concurrency: the
// first stored adapter wins.
func (p *Pool) Get(containerID, endpoint string, kind types.RuntimeKind) RuntimeAdapter {
	key := poolKey(containerID, endpoint)
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[key]; ok {
		if now.Sub(entry.lastUsed) <= p.ttl {
			entry.lastUsed = now
			return entry.adapter
		}
		delete(p.entries, key)
	}

	var a RuntimeAdapter
	switch kind {
	case types.RuntimeKindHelm:
		a = NewHelmAdapter(endpoint)
	default:
		a = NewShipAdapter(endpoint)
	}

	p.evictLocked(now)
	p.entries[key] = &poolEntry{adapter: a, lastUsed: now}
	metrics.AdapterPoolSize.Set(float64(len(p.entries)))
	return a
}

// Invalidate removes a container's adapter, typically when its session
// leaves the running state.
func (p *Pool) Invalidate(containerID, endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, poolKey(containerID, endpoint))
	metrics.AdapterPoolSize.Set(float64(len(p.entries)))
}

// Len reports the current number of cached adapters.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// evictLocked drops expired entries, then the least recently used entry if
// the pool is still full. Caller holds the mutex.
func (p *Pool) evictLocked(now time.Time) {
	for key, entry := range p.entries {
		if now.Sub(entry.lastUsed) > p.ttl {
			delete(p.entries, key)
		}
	}
	if len(p.entries) < p.maxSize {
		return
	}

	var oldestKey string
	var oldest time.Time
	for key, entry := range p.entries {
		if oldestKey == "" || entry.lastUsed.Before(oldest) {
			oldestKey = key
			oldest = entry.lastUsed
		}
	}
	if oldestKey != "" {
		delete(p.entries, oldestKey)
	}
}
