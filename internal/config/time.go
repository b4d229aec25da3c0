package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultActiveCheckInterval     = 5 * time.Minute
	defaultQuarantineCheckInterval = 90 * time.Second
	defaultProbeBackoffCap         = 30 * time.Minute
	defaultQuarantineTTL           = 24 * time.Hour
	defaultLeaseTimeout            = time.Minute
)

var (
	activeCheckInterval     atomic.Value
	quarantineCheckInterval atomic.Value
	probeBackoffCap         atomic.Value
	quarantineTTL           atomic.Value
	leaseTimeout            atomic.Value

	checkIntervalListeners []chan time.Duration
	listenersMu            sync.Mutex
)

func init() {
	activeCheckInterval.Store(defaultActiveCheckInterval)
	quarantineCheckInterval.Store(defaultQuarantineCheckInterval)
	probeBackoffCap.Store(defaultProbeBackoffCap)
	quarantineTTL.Store(defaultQuarantineTTL)
	leaseTimeout.Store(defaultLeaseTimeout)
}

func refreshIntervals() {
	cfg := GetConfig()
	setActiveCheckInterval(timerOrDefault(cfg.Checker.ActiveTimer, defaultActiveCheckInterval))
	quarantineCheckInterval.Store(timerOrDefault(cfg.Checker.QuarantineTimer, defaultQuarantineCheckInterval))
	probeBackoffCap.Store(timerOrDefault(cfg.Checker.BackoffCapTimer, defaultProbeBackoffCap))
	quarantineTTL.Store(timerOrDefault(cfg.Quarantine.TTLTimer, defaultQuarantineTTL))
	leaseTimeout.Store(timerOrDefault(cfg.Pool.LeaseTimer, defaultLeaseTimeout))
}

// CalculateBetweenTime converts a Timer into a duration, floored at 1s so a
// zeroed timer can never produce a busy loop.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMilliseconds(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMilliseconds(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func timerOrDefault(timer Timer, fallback time.Duration) time.Duration {
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return fallback
	}
	return CalculateBetweenTime(timer)
}

func GetActiveCheckInterval() time.Duration {
	return activeCheckInterval.Load().(time.Duration)
}

func GetQuarantineCheckInterval() time.Duration {
	return quarantineCheckInterval.Load().(time.Duration)
}

func GetProbeBackoffCap() time.Duration {
	return probeBackoffCap.Load().(time.Duration)
}

func GetQuarantineTTL() time.Duration {
	return quarantineTTL.Load().(time.Duration)
}

func GetLeaseTimeout() time.Duration {
	return leaseTimeout.Load().(time.Duration)
}

// CheckIntervalUpdates delivers the current active-check interval immediately
// and every later change, so the scheduler can reschedule in place.
func CheckIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	checkIntervalListeners = append(checkIntervalListeners, ch)
	listenersMu.Unlock()

	ch <- GetActiveCheckInterval()
	return ch
}

func setActiveCheckInterval(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}

	if GetActiveCheckInterval() == interval {
		return
	}

	activeCheckInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range checkIntervalListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}
