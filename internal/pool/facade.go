package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"proxypool/internal/api/dto"
	"proxypool/internal/config"
	"proxypool/internal/domain"
	"proxypool/internal/events"
	"proxypool/internal/geo"
	"proxypool/internal/metrics"
	"proxypool/internal/quarantine"
	"proxypool/internal/registry"
	"proxypool/internal/selection"
	"proxypool/internal/support"
)

// ErrNoAvailableProxy is surfaced when no active proxy matches the
// caller's filters or every match is at capacity. Callers are expected
// to retry after a backoff.
var ErrNoAvailableProxy = selection.ErrNoAvailableProxy

// Prober runs one immediate health check against a proxy. The checker
// package provides the real implementation.
type Prober interface {
	Probe(ctx context.Context, proxy *domain.Proxy) domain.HealthCheckResult
}

// Lease is a time-bounded claim on one proxy slot. A caller must settle it
// through Report; the watchdog reclaims leases that never come back and
// counts them as failures.
type Lease struct {
	ID        string
	ProxyID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Pool is the single entry point callers use. It wires the registry,
// metrics tracker, quarantine manager and selection engine together and
// owns the in-flight lease table.
type Pool struct {
	registry   *registry.Registry
	tracker    *metrics.Tracker
	quarantine *quarantine.Manager
	engine     *selection.Engine
	geo        *geo.Resolver
	bus        *events.Bus
	prober     Prober
	clk        clock.Clock

	mu        sync.Mutex
	leases    map[string]*Lease
	inFlight  map[string]int32
	anonymity map[string]domain.AnonymityLevel
}

func New(reg *registry.Registry, tracker *metrics.Tracker, qm *quarantine.Manager,
	engine *selection.Engine, resolver *geo.Resolver, bus *events.Bus,
	prober Prober, clk clock.Clock) *Pool {
	if clk == nil {
		clk = clock.New()
	}
	return &Pool{
		registry:   reg,
		tracker:    tracker,
		quarantine: qm,
		engine:     engine,
		geo:        resolver,
		bus:        bus,
		prober:     prober,
		clk:        clk,
		leases:     make(map[string]*Lease),
		inFlight:   make(map[string]int32),
		anonymity:  make(map[string]domain.AnonymityLevel),
	}
}

// Filters narrows the candidate set before a strategy runs. Empty fields
// match everything; Tags requires every listed tag.
type Filters struct {
	Country  string
	Protocol domain.Protocol
	Tags     []string
}

// Acquire picks one active proxy matching the filters per the strategy and
// opens a lease on it. Proxies already running at their concurrency cap are
// skipped.
func (p *Pool) Acquire(filters Filters, strategy domain.SelectionStrategy) (*Lease, *domain.Proxy, error) {
	active := p.registry.Find(registry.Filter{
		Status:   domain.StatusActive,
		Country:  filters.Country,
		Protocol: filters.Protocol,
		Tags:     filters.Tags,
	}, 0, 0)
	if len(active) == 0 {
		return nil, nil, ErrNoAvailableProxy
	}

	byID := make(map[string]*domain.Proxy, len(active))
	for _, proxy := range active {
		byID[proxy.ID] = proxy
	}

	for {
		p.mu.Lock()
		candidates := make([]selection.Candidate, 0, len(active))
		for _, proxy := range active {
			if p.inFlight[proxy.ID] >= proxy.MaxConcurrent {
				continue
			}
			snapshot, _ := p.tracker.Snapshot(proxy.ID)
			candidates = append(candidates, selection.Candidate{
				ID:            proxy.ID,
				Country:       proxy.Country,
				Score:         snapshot.AvailabilityScore(),
				TotalRequests: snapshot.TotalRequests,
			})
		}
		p.mu.Unlock()

		picked, err := p.engine.Select(candidates, strategy, strategySignature(filters, strategy))
		if err != nil {
			return nil, nil, err
		}
		proxy := byID[picked.ID]

		now := p.clk.Now()
		lease := &Lease{
			ID:        uuid.NewString(),
			ProxyID:   picked.ID,
			IssuedAt:  now,
			ExpiresAt: now.Add(config.GetLeaseTimeout()),
		}

		p.mu.Lock()
		// A concurrent Acquire may have filled the last slot while the
		// strategy ran; claiming anyway would overshoot max_concurrent,
		// so drop the pick and select again from a fresh snapshot.
		if p.inFlight[picked.ID] >= proxy.MaxConcurrent {
			p.mu.Unlock()
			continue
		}
		p.leases[lease.ID] = lease
		p.inFlight[picked.ID]++
		p.mu.Unlock()

		p.bus.Publish(events.Event{
			Kind:     events.KindProxySelected,
			ProxyID:  picked.ID,
			Strategy: strategy.Kind,
			At:       now,
		})
		return lease, proxy, nil
	}
}

// strategySignature keys the round-robin cursor so distinct filter
// combinations cycle independently.
func strategySignature(filters Filters, strategy domain.SelectionStrategy) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%.2f",
		strategy.Kind, strings.ToUpper(strategy.PreferredCountry),
		strings.ToUpper(filters.Country), filters.Protocol,
		strings.Join(filters.Tags, ","), strategy.MinScore)
}

// Report settles a lease with the request outcome. An unknown or already
// reclaimed lease is a logged no-op: callers legitimately race watchdog
// reclaim and administrative removal, and the proxy has already been
// charged for the outcome in those cases.
func (p *Pool) Report(leaseID string, success bool, responseTimeMs int64, errorCode string) {
	p.mu.Lock()
	lease, ok := p.leases[leaseID]
	if !ok {
		p.mu.Unlock()
		log.Debug("Dropped result for unknown lease", "lease", leaseID)
		return
	}
	delete(p.leases, leaseID)
	p.releaseSlotLocked(lease.ProxyID)
	p.mu.Unlock()

	if _, ok := p.registry.Get(lease.ProxyID); !ok {
		log.Debug("Dropped result for removed proxy", "proxy", lease.ProxyID, "lease", leaseID)
		return
	}

	p.tracker.Record(lease.ProxyID, success, responseTimeMs, errorCode)
}

func (p *Pool) releaseSlotLocked(proxyID string) {
	if remaining := p.inFlight[proxyID] - 1; remaining > 0 {
		p.inFlight[proxyID] = remaining
	} else {
		delete(p.inFlight, proxyID)
	}
}

// ReclaimExpired settles every lease past its deadline as a failure. A
// caller that vanished most likely hit a hung or blackholed proxy.
func (p *Pool) ReclaimExpired() int {
	now := p.clk.Now()

	p.mu.Lock()
	var expired []*Lease
	for id, lease := range p.leases {
		if now.Before(lease.ExpiresAt) {
			continue
		}
		delete(p.leases, id)
		p.releaseSlotLocked(lease.ProxyID)
		expired = append(expired, lease)
	}
	p.mu.Unlock()

	for _, lease := range expired {
		log.Warn("Reclaimed expired lease", "lease", lease.ID, "proxy", lease.ProxyID,
			"age", now.Sub(lease.IssuedAt))
		if _, ok := p.registry.Get(lease.ProxyID); !ok {
			continue
		}
		p.tracker.Record(lease.ProxyID, false, -1, "lease_expired")
	}
	return len(expired)
}

// RunWatchdog reclaims expired leases until the context is cancelled.
func (p *Pool) RunWatchdog(ctx context.Context) {
	ticker := p.clk.Ticker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ReclaimExpired()
		}
	}
}

// AddProxy validates and registers a proxy, resolving its location first.
// New proxies enter as Active and earn their real standing through checks.
func (p *Pool) AddProxy(proxy *domain.Proxy) (string, error) {
	if err := proxy.Validate(); err != nil {
		return "", err
	}
	if p.geo != nil && proxy.Country == "" {
		location := p.geo.Resolve(proxy.Host)
		proxy.Country = location.Country
		proxy.City = location.City
	}
	return p.registry.Add(proxy)
}

// Import parses a host:port[:user:pass] list and registers every valid line.
func (p *Pool) Import(text string, protocol domain.Protocol) dto.ImportResult {
	parsed := support.ParseTextToProxies(text, protocol)
	result := dto.ImportResult{Added: []string{}}
	for _, proxy := range parsed {
		id, err := p.AddProxy(proxy)
		switch {
		case err == nil:
			result.Added = append(result.Added, id)
		case errors.Is(err, registry.ErrDuplicate):
			result.Duplicates++
		default:
			result.Rejected++
		}
	}
	return result
}

// RemoveProxy drops a proxy and every trace of it. Open leases on it stay
// in the table and settle as usual; their outcomes land in a tracker entry
// nobody reads again.
func (p *Pool) RemoveProxy(proxyID string) error {
	if err := p.registry.Remove(proxyID); err != nil {
		return err
	}
	p.tracker.Remove(proxyID)
	p.quarantine.Forget(proxyID)

	p.mu.Lock()
	delete(p.inFlight, proxyID)
	delete(p.anonymity, proxyID)
	p.mu.Unlock()
	return nil
}

// TestProxy runs one on-demand health check and feeds the outcome through
// the same path scheduled probes use, so a passing manual test can recover
// a quarantined proxy.
func (p *Pool) TestProxy(ctx context.Context, proxyID string) (domain.HealthCheckResult, error) {
	proxy, ok := p.registry.Get(proxyID)
	if !ok {
		return domain.HealthCheckResult{}, registry.ErrNotFound
	}
	result := p.prober.Probe(ctx, proxy)
	p.RecordProbe(result)
	return result, nil
}

// RecordProbe applies one probe outcome. The result counts toward the
// proxy's metrics like any request, then drives the quarantine transitions
// only probes are allowed to make.
func (p *Pool) RecordProbe(result domain.HealthCheckResult) {
	p.tracker.Record(result.ProxyID, result.Success, result.ResponseTimeMs, result.ErrorMessage)
	p.quarantine.HandleProbe(result.ProxyID, result)

	if result.Success {
		p.mu.Lock()
		p.anonymity[result.ProxyID] = result.Anonymity
		p.mu.Unlock()
	}

	p.bus.Publish(events.Event{
		Kind:           events.KindProbeCompleted,
		ProxyID:        result.ProxyID,
		Success:        result.Success,
		ResponseTimeMs: result.ResponseTimeMs,
		At:             result.CheckedAt,
	})
}

// DisableProxy takes a proxy out of rotation until EnableProxy is called.
func (p *Pool) DisableProxy(proxyID string) error {
	return p.quarantine.Disable(proxyID)
}

func (p *Pool) EnableProxy(proxyID string) error {
	return p.quarantine.Enable(proxyID)
}

// Describe returns the admin view of one proxy.
func (p *Pool) Describe(proxyID string) (dto.ProxyDetail, error) {
	proxy, ok := p.registry.Get(proxyID)
	if !ok {
		return dto.ProxyDetail{}, registry.ErrNotFound
	}
	snapshot, _ := p.tracker.Snapshot(proxyID)

	p.mu.Lock()
	inFlight := p.inFlight[proxyID]
	anonymity := p.anonymity[proxyID]
	p.mu.Unlock()

	return dto.ProxyDetailFrom(proxy, snapshot, anonymity, inFlight), nil
}

// List pages through the fleet, newest filters first.
func (p *Pool) List(filter registry.Filter, limit, offset int) dto.ProxyPage {
	proxies := p.registry.Find(filter, limit, offset)
	page := dto.ProxyPage{
		Proxies: make([]dto.ProxyDetail, 0, len(proxies)),
		Total:   p.registry.Len(),
	}
	for _, proxy := range proxies {
		if detail, err := p.Describe(proxy.ID); err == nil {
			page.Proxies = append(page.Proxies, detail)
		}
	}
	return page
}

// Statistics aggregates fleet composition and traffic counters.
func (p *Pool) Statistics() dto.PoolStatistics {
	proxies := p.registry.Find(registry.Filter{}, 0, 0)

	stats := dto.PoolStatistics{
		Total:      len(proxies),
		ByStatus:   make(map[string]int, len(domain.AllStatuses)),
		ByProtocol: make(map[string]int),
		ByCountry:  make(map[string]int),
	}

	byStatus := p.registry.CountByStatus()
	for _, status := range domain.AllStatuses {
		stats.ByStatus[string(status)] = byStatus[status]
	}

	var scoreSum, timeSum float64
	var scored int
	for _, proxy := range proxies {
		stats.ByProtocol[string(proxy.Protocol)]++
		if proxy.Country != "" {
			stats.ByCountry[proxy.Country]++
		}

		snapshot, ok := p.tracker.Snapshot(proxy.ID)
		if !ok {
			continue
		}
		stats.TotalRequests += snapshot.TotalRequests
		stats.SuccessfulRequests += snapshot.SuccessfulRequests
		stats.FailedRequests += snapshot.FailedRequests
		scoreSum += snapshot.AvailabilityScore()
		timeSum += snapshot.AvgResponseTimeMs
		scored++
	}
	if scored > 0 {
		stats.AvgAvailabilityScore = scoreSum / float64(scored)
		stats.AvgResponseTimeMs = timeSum / float64(scored)
	}

	p.mu.Lock()
	stats.ActiveLeases = len(p.leases)
	p.mu.Unlock()
	return stats
}

// ActiveLeases is a point-in-time count, exposed for the watchdog tests
// and the statistics endpoint.
func (p *Pool) ActiveLeases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leases)
}
