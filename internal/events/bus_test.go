package events

import (
	"testing"
	"time"

	"proxypool/internal/domain"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	first := bus.Subscribe()
	second := bus.Subscribe()

	bus.Publish(Event{Kind: KindProxySelected, ProxyID: "p1", Strategy: domain.StrategyBest})

	for _, sub := range []<-chan Event{first, second} {
		select {
		case event := <-sub:
			if event.ProxyID != "p1" {
				t.Fatalf("proxy id = %q, want p1", event.ProxyID)
			}
			if event.At.IsZero() {
				t.Fatal("event timestamp not stamped")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	_ = bus.Subscribe()

	// One fits the buffer, the rest must be dropped without blocking.
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: KindProbeCompleted})
	}

	if dropped := bus.Dropped(); dropped != 4 {
		t.Fatalf("dropped = %d, want 4", dropped)
	}
}

func TestBusCloseClosesSubscriptions(t *testing.T) {
	bus := NewBus(1)
	sub := bus.Subscribe()
	bus.Close()

	if _, ok := <-sub; ok {
		t.Fatal("subscription still open after bus close")
	}

	// Publishing after close is a no-op, not a panic.
	bus.Publish(Event{Kind: KindProxyRetired})
}
