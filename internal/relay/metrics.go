package relay

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmacdonaldsmith/logrelay/internal/processor"
)

// Metrics are the Prometheus collectors of one Loop. Every collector carries
// constant source and sink labels so several loops can share a registry.
type Metrics struct {
	consumed       prometheus.Counter
	emitted        prometheus.Counter
	skipped        *prometheus.CounterVec
	appendFailures prometheus.Counter
	lost           prometheus.Counter
	currentOffset  prometheus.Gauge
	state          prometheus.Gauge
}

// NewMetrics creates the collectors for a relay from source to sink and
// registers them on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer, source, sink string) (*Metrics, error) {
	labels := prometheus.Labels{"source": source, "sink": sink}

	m := &Metrics{
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "logrelay",
			Name:        "records_consumed_total",
			Help:        "Source records read by the relay.",
			ConstLabels: labels,
		}),
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "logrelay",
			Name:        "records_emitted_total",
			Help:        "Records appended to the sink log.",
			ConstLabels: labels,
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "logrelay",
			Name:        "records_skipped_total",
			Help:        "Source records that produced no sink record.",
			ConstLabels: labels,
		}, []string{"reason"}),
		appendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "logrelay",
			Name:        "append_failures_total",
			Help:        "Failed append attempts to the sink log.",
			ConstLabels: labels,
		}),
		lost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "logrelay",
			Name:        "records_lost_total",
			Help:        "Sink records dropped after a failed append.",
			ConstLabels: labels,
		}),
		currentOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "logrelay",
			Name:        "current_offset",
			Help:        "Next source offset the relay expects.",
			ConstLabels: labels,
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "logrelay",
			Name:        "state",
			Help:        "Relay state: 0 idle, 1 resolving, 2 connecting, 3 streaming, 4 terminated, 5 failed.",
			ConstLabels: labels,
		}),
	}

	// Pre-create the reason series so they export as zero
	for _, o := range []processor.Outcome{processor.SkippedDecode, processor.SkippedFilter, processor.SkippedTransform} {
		m.skipped.WithLabelValues(o.String())
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register relay metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.consumed, m.emitted, m.skipped, m.appendFailures, m.lost, m.currentOffset, m.state,
	}
}

// Unregister removes the collectors from reg
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

func (m *Metrics) setState(s State) {
	m.state.Set(float64(s))
}
