package metrics

import (
	"hash/fnv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"

	"proxypool/internal/domain"
)

const shardCount = 64

// UpdateHook runs after every recorded result with a snapshot of the updated
// metrics. The quarantine manager hangs off this to evaluate transitions
// synchronously with the write.
type UpdateHook func(proxyID string, metrics domain.ProxyMetrics, success bool)

// Tracker is the only writer of ProxyMetrics. Updates for one proxy are
// serialized through a sharded lock table; different proxies proceed in
// parallel.
type Tracker struct {
	shards [shardCount]trackerShard
	clock  clock.Clock

	hookMu sync.RWMutex
	hook   UpdateHook
}

type trackerShard struct {
	mu      sync.Mutex
	metrics map[string]*domain.ProxyMetrics
}

func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	tracker := &Tracker{clock: clk}
	for i := range tracker.shards {
		tracker.shards[i].metrics = make(map[string]*domain.ProxyMetrics)
	}
	return tracker
}

// SetUpdateHook installs the post-record callback. The hook runs outside the
// shard lock so it may call back into the tracker.
func (t *Tracker) SetUpdateHook(hook UpdateHook) {
	t.hookMu.Lock()
	t.hook = hook
	t.hookMu.Unlock()
}

func (t *Tracker) shardFor(proxyID string) *trackerShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(proxyID))
	return &t.shards[h.Sum32()%shardCount]
}

// Record applies one request outcome. Concurrent calls for the same proxy
// never lose updates: after N calls, successful+failed == total == N.
func (t *Tracker) Record(proxyID string, success bool, responseTimeMs int64, errorCode string) {
	shard := t.shardFor(proxyID)
	now := t.clock.Now()

	shard.mu.Lock()
	m, ok := shard.metrics[proxyID]
	if !ok {
		m = &domain.ProxyMetrics{}
		shard.metrics[proxyID] = m
	}

	if success {
		m.RecordSuccess(responseTimeMs, now)
	} else {
		m.RecordFailure(now, errorCode)
	}
	snapshot := *m
	shard.mu.Unlock()

	if !success && errorCode != "" {
		log.Debug("proxy request failed", "proxy_id", proxyID, "error_code", errorCode,
			"consecutive_failures", snapshot.ConsecutiveFailures)
	}

	t.hookMu.RLock()
	hook := t.hook
	t.hookMu.RUnlock()
	if hook != nil {
		hook(proxyID, snapshot, success)
	}
}

// Score returns the availability score, 0..1. Unknown proxies score as a
// fresh, never-exercised record.
func (t *Tracker) Score(proxyID string) float64 {
	snapshot, _ := t.Snapshot(proxyID)
	return snapshot.AvailabilityScore()
}

// Snapshot returns a copy of the proxy's metrics and whether any were recorded.
func (t *Tracker) Snapshot(proxyID string) (domain.ProxyMetrics, bool) {
	shard := t.shardFor(proxyID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	m, ok := shard.metrics[proxyID]
	if !ok {
		return domain.ProxyMetrics{}, false
	}
	return *m, true
}

// Remove drops all counters for a proxy, typically after removal from the
// registry.
func (t *Tracker) Remove(proxyID string) {
	shard := t.shardFor(proxyID)

	shard.mu.Lock()
	delete(shard.metrics, proxyID)
	shard.mu.Unlock()
}
