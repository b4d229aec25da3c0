package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink consumes bus events and exposes them as Prometheus series. It
// runs on its own goroutine so scraping cost never touches the hot path.
type MetricsSink struct {
	selections  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	probes      *prometheus.CounterVec
	probeTime   prometheus.Histogram

	done chan struct{}
}

func NewMetricsSink(registerer prometheus.Registerer) *MetricsSink {
	sink := &MetricsSink{
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxypool_selections_total",
			Help: "Proxy selections served, labelled by strategy.",
		}, []string{"strategy"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxypool_status_transitions_total",
			Help: "Proxy lifecycle transitions, labelled by target status.",
		}, []string{"to"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proxypool_probes_total",
			Help: "Health-check probes, labelled by result.",
		}, []string{"result"}),
		probeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proxypool_probe_duration_seconds",
			Help:    "Round-trip time of successful health-check probes.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		done: make(chan struct{}),
	}

	registerer.MustRegister(sink.selections, sink.transitions, sink.probes, sink.probeTime)
	return sink
}

// Consume drains the subscription until the bus closes it.
func (s *MetricsSink) Consume(sub <-chan Event) {
	go func() {
		defer close(s.done)
		for event := range sub {
			s.observe(event)
		}
	}()
}

func (s *MetricsSink) observe(event Event) {
	switch event.Kind {
	case KindProxySelected:
		s.selections.WithLabelValues(string(event.Strategy)).Inc()
	case KindProxyQuarantined, KindProxyRecovered, KindProxyRetired, KindProxyDisabled, KindProxyEnabled:
		s.transitions.WithLabelValues(string(event.To)).Inc()
	case KindProbeCompleted:
		result := "failure"
		if event.Success {
			result = "success"
			s.probeTime.Observe(float64(event.ResponseTimeMs) / 1000)
		}
		s.probes.WithLabelValues(result).Inc()
	}
}

// Wait blocks until the sink goroutine has drained its subscription.
func (s *MetricsSink) Wait() {
	<-s.done
}
