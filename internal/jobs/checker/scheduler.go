package checker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"proxypool/internal/config"
	"proxypool/internal/domain"
	probequeue "proxypool/internal/jobs/queue/probe"
	"proxypool/internal/registry"
)

// reconcileInterval paces the sweep that enrolls new proxies into the
// schedule and retires quarantine entries past their TTL.
const reconcileInterval = 30 * time.Second

// Prober runs one health check. HTTPProber is the production impl; tests
// swap in a stub.
type Prober interface {
	Probe(ctx context.Context, proxy *domain.Proxy) domain.HealthCheckResult
}

// ProbeSink receives every completed probe. The pool facade implements it.
type ProbeSink interface {
	RecordProbe(result domain.HealthCheckResult)
}

// Sweeper retires quarantined proxies whose TTL ran out.
type Sweeper interface {
	SweepExpired()
}

// Scheduler drives the background health checking: a bounded worker pool
// pulls due proxies off the schedule, probes them and requeues them at a
// cadence matching their status. Quarantined proxies back off exponentially
// with every failed recovery probe.
type Scheduler struct {
	registry *registry.Registry
	schedule probequeue.Schedule
	prober   Prober
	sink     ProbeSink
	sweeper  Sweeper
	clk      clock.Clock

	mu           sync.Mutex
	failedProbes map[string]uint32
}

func NewScheduler(reg *registry.Registry, schedule probequeue.Schedule, prober Prober,
	sink ProbeSink, sweeper Sweeper, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		registry:     reg,
		schedule:     schedule,
		prober:       prober,
		sink:         sink,
		sweeper:      sweeper,
		clk:          clk,
		failedProbes: make(map[string]uint32),
	}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	threads := int(config.GetConfig().Checker.Threads)
	if threads <= 0 {
		threads = 1
	}
	log.Info("Health check scheduler starting", "threads", threads)

	s.Reconcile()

	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < threads; i++ {
		group.Go(func() error {
			return s.worker(ctx)
		})
	}
	group.Go(func() error {
		return s.reconcileLoop(ctx)
	})
	group.Go(func() error {
		return s.watchIntervalUpdates(ctx)
	})
	return group.Wait()
}

// watchIntervalUpdates reschedules the active fleet when the check cadence
// is reconfigured, so a shorter interval takes effect without waiting out
// the old one.
func (s *Scheduler) watchIntervalUpdates(ctx context.Context) error {
	updates := config.CheckIntervalUpdates()

	// The subscription starts with the current value; only later
	// deliveries are changes.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-updates:
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case interval := <-updates:
			log.Info("Active check interval changed, rescheduling fleet", "interval", interval)
			s.RescheduleActive(interval)
		}
	}
}

// RescheduleActive moves every active proxy's next probe to one new-cadence
// interval from now. Quarantined proxies keep their backoff slots.
func (s *Scheduler) RescheduleActive(interval time.Duration) {
	due := s.clk.Now().Add(interval)
	for _, proxy := range s.registry.Find(registry.Filter{Status: domain.StatusActive}, 0, 0) {
		if err := s.schedule.Requeue(proxy.ID, due); err != nil {
			log.Error("Failed to reschedule proxy", "proxy", proxy.ID, "error", err)
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) error {
	for {
		proxyID, _, err := s.schedule.PopDue(ctx)
		if err != nil {
			return err
		}
		s.ProbeOne(ctx, proxyID)
	}
}

// ProbeOne checks a single proxy and requeues it. Retired and removed
// proxies fall out of the schedule here; disabled ones are skipped but kept
// on their cadence so re-enabling needs no extra bookkeeping.
func (s *Scheduler) ProbeOne(ctx context.Context, proxyID string) {
	proxy, ok := s.registry.Get(proxyID)
	if !ok || proxy.Status.IsTerminal() {
		s.forget(proxyID)
		return
	}
	if proxy.Status == domain.StatusDisabled {
		s.requeue(proxyID, config.GetActiveCheckInterval())
		return
	}

	result := s.prober.Probe(ctx, proxy)
	s.sink.RecordProbe(result)
	s.trackProbe(proxyID, result.Success)

	// Re-read: the probe outcome may have moved the proxy between
	// active and quarantined, which changes its cadence.
	updated, ok := s.registry.Get(proxyID)
	if !ok || updated.Status.IsTerminal() {
		s.forget(proxyID)
		return
	}
	s.requeue(proxyID, s.intervalFor(updated.Status, proxyID))
}

func (s *Scheduler) requeue(proxyID string, interval time.Duration) {
	if err := s.schedule.Requeue(proxyID, s.clk.Now().Add(interval)); err != nil {
		log.Error("Failed to requeue proxy for checking", "proxy", proxyID, "error", err)
	}
}

func (s *Scheduler) trackProbe(proxyID string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		delete(s.failedProbes, proxyID)
	} else {
		s.failedProbes[proxyID]++
	}
}

func (s *Scheduler) forget(proxyID string) {
	s.mu.Lock()
	delete(s.failedProbes, proxyID)
	s.mu.Unlock()
}

// intervalFor returns the next check cadence. Active proxies run on the
// regular interval; quarantined ones double their recovery interval with
// every failed probe up to the configured cap.
func (s *Scheduler) intervalFor(status domain.Status, proxyID string) time.Duration {
	if status != domain.StatusQuarantined {
		return config.GetActiveCheckInterval()
	}

	s.mu.Lock()
	failures := s.failedProbes[proxyID]
	s.mu.Unlock()

	interval := config.GetQuarantineCheckInterval()
	ceiling := config.GetProbeBackoffCap()
	for i := uint32(0); i < failures && interval < ceiling; i++ {
		interval *= 2
	}
	if interval > ceiling {
		interval = ceiling
	}
	return interval
}

// Reconcile enrolls every live proxy into the schedule and retires the
// quarantine entries whose TTL ran out. Enroll never moves an existing
// entry, so backed-off proxies keep their slot.
func (s *Scheduler) Reconcile() {
	s.sweeper.SweepExpired()

	now := s.clk.Now()
	for _, proxy := range s.registry.Find(registry.Filter{}, 0, 0) {
		if proxy.Status.IsTerminal() {
			continue
		}
		if err := s.schedule.Enroll(proxy.ID, now); err != nil {
			log.Error("Failed to enroll proxy into check schedule", "proxy", proxy.ID, "error", err)
		}
	}
}

func (s *Scheduler) reconcileLoop(ctx context.Context) error {
	ticker := s.clk.Ticker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Reconcile()
		}
	}
}
