package quarantine

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"

	"proxypool/internal/config"
	"proxypool/internal/domain"
	"proxypool/internal/events"
	"proxypool/internal/registry"
)

// Manager owns every lifecycle transition of the fleet. All status writes
// funnel through here under one mutex, which keeps transitions idempotent and
// race-free against selection snapshots: a selection that filtered before a
// transition simply completes with the older snapshot.
type Manager struct {
	registry *registry.Registry
	bus      *events.Bus
	clock    clock.Clock

	mu            sync.Mutex
	quarantinedAt map[string]time.Time
}

func NewManager(reg *registry.Registry, bus *events.Bus, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		registry:      reg,
		bus:           bus,
		clock:         clk,
		quarantinedAt: make(map[string]time.Time),
	}
}

// HandleResult is wired as the metrics tracker's update hook. It only drives
// the Active → Quarantined edge; recovery is reserved for health probes.
func (m *Manager) HandleResult(proxyID string, metrics domain.ProxyMetrics, success bool) {
	if success {
		return
	}

	threshold := config.GetConfig().Quarantine.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}
	if metrics.ConsecutiveFailures < threshold {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantineLocked(proxyID, metrics.ConsecutiveFailures)
}

func (m *Manager) quarantineLocked(proxyID string, failures uint32) {
	proxy, ok := m.registry.Get(proxyID)
	if !ok || proxy.Status != domain.StatusActive {
		return
	}

	if _, err := m.registry.UpdateStatus(proxyID, domain.StatusQuarantined); err != nil {
		log.Error("quarantine transition failed", "proxy_id", proxyID, "error", err)
		return
	}
	m.quarantinedAt[proxyID] = m.clock.Now()

	log.Info("proxy quarantined", "proxy_id", proxyID, "consecutive_failures", failures)
	m.bus.Publish(events.Event{
		Kind:    events.KindProxyQuarantined,
		ProxyID: proxyID,
		From:    domain.StatusActive,
		To:      domain.StatusQuarantined,
	})
}

// HandleProbe evaluates a health-check outcome. A successful probe recovers a
// quarantined proxy; a failed one retires it once the quarantine TTL passed
// without any recovery.
func (m *Manager) HandleProbe(proxyID string, result domain.HealthCheckResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	proxy, ok := m.registry.Get(proxyID)
	if !ok || proxy.Status != domain.StatusQuarantined {
		return
	}

	if result.Success {
		if _, err := m.registry.UpdateStatus(proxyID, domain.StatusActive); err != nil {
			log.Error("recovery transition failed", "proxy_id", proxyID, "error", err)
			return
		}
		delete(m.quarantinedAt, proxyID)

		log.Info("proxy recovered", "proxy_id", proxyID, "response_time_ms", result.ResponseTimeMs)
		m.bus.Publish(events.Event{
			Kind:    events.KindProxyRecovered,
			ProxyID: proxyID,
			From:    domain.StatusQuarantined,
			To:      domain.StatusActive,
		})
		return
	}

	m.retireIfExpiredLocked(proxyID)
}

// SweepExpired retires every proxy whose quarantine outlived the TTL. The
// checker scheduler calls this periodically so retirement does not depend on
// a probe happening to run.
func (m *Manager) SweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for proxyID := range m.quarantinedAt {
		m.retireIfExpiredLocked(proxyID)
	}
}

func (m *Manager) retireIfExpiredLocked(proxyID string) {
	since, ok := m.quarantinedAt[proxyID]
	if !ok {
		return
	}
	if m.clock.Now().Sub(since) < config.GetQuarantineTTL() {
		return
	}

	if _, err := m.registry.UpdateStatus(proxyID, domain.StatusRetired); err != nil {
		log.Error("retire transition failed", "proxy_id", proxyID, "error", err)
		return
	}
	delete(m.quarantinedAt, proxyID)

	log.Info("proxy retired after quarantine ttl", "proxy_id", proxyID)
	m.bus.Publish(events.Event{
		Kind:    events.KindProxyRetired,
		ProxyID: proxyID,
		From:    domain.StatusQuarantined,
		To:      domain.StatusRetired,
	})
}

// Disable is the administrative off switch, valid from Active or Quarantined.
func (m *Manager) Disable(proxyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proxy, ok := m.registry.Get(proxyID)
	if !ok {
		return registry.ErrNotFound
	}

	switch proxy.Status {
	case domain.StatusDisabled:
		return nil
	case domain.StatusRetired:
		return nil
	}

	previous := proxy.Status
	if _, err := m.registry.UpdateStatus(proxyID, domain.StatusDisabled); err != nil {
		return err
	}
	delete(m.quarantinedAt, proxyID)

	m.bus.Publish(events.Event{
		Kind:    events.KindProxyDisabled,
		ProxyID: proxyID,
		From:    previous,
		To:      domain.StatusDisabled,
	})
	return nil
}

// Enable reverts an administrative disable back to Active.
func (m *Manager) Enable(proxyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proxy, ok := m.registry.Get(proxyID)
	if !ok {
		return registry.ErrNotFound
	}
	if proxy.Status != domain.StatusDisabled {
		return nil
	}

	if _, err := m.registry.UpdateStatus(proxyID, domain.StatusActive); err != nil {
		return err
	}

	m.bus.Publish(events.Event{
		Kind:    events.KindProxyEnabled,
		ProxyID: proxyID,
		From:    domain.StatusDisabled,
		To:      domain.StatusActive,
	})
	return nil
}

// Forget clears bookkeeping for a removed proxy.
func (m *Manager) Forget(proxyID string) {
	m.mu.Lock()
	delete(m.quarantinedAt, proxyID)
	m.mu.Unlock()
}

// QuarantinedSince reports when a proxy entered quarantine, if it is there.
func (m *Manager) QuarantinedSince(proxyID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since, ok := m.quarantinedAt[proxyID]
	return since, ok
}
