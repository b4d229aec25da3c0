package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"proxypool/internal/domain"
)

type Kind string

const (
	KindProxySelected    Kind = "proxy_selected"
	KindProxyQuarantined Kind = "proxy_quarantined"
	KindProxyRecovered   Kind = "proxy_recovered"
	KindProxyRetired     Kind = "proxy_retired"
	KindProxyDisabled    Kind = "proxy_disabled"
	KindProxyEnabled     Kind = "proxy_enabled"
	KindProbeCompleted   Kind = "probe_completed"
)

// Event is a fire-and-forget notification about pool activity. Publishing
// never blocks the selection or reporting hot path.
type Event struct {
	Kind           Kind
	ProxyID        string
	Strategy       domain.StrategyKind
	From           domain.Status
	To             domain.Status
	Success        bool
	ResponseTimeMs int64
	At             time.Time
}

type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{buffer: buffer}
}

// Publish delivers the event to every subscriber that has room. Slow
// subscribers lose events instead of stalling the publisher.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
			if b.dropped.Add(1)%1000 == 1 {
				log.Debug("event bus dropping events for slow subscriber",
					"kind", event.Kind, "total_dropped", b.dropped.Load())
			}
		}
	}
}

func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}

// Dropped reports how many events were discarded due to full subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
