package pond

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by every pond and stage
// built with WithMetrics. A nil *Metrics records nothing.
type Metrics struct {
	fedBytes       prometheus.Counter
	deliveredBytes prometheus.Counter
	deliveries     prometheus.Counter
	deliverySize   prometheus.Histogram
	superseded     prometheus.Counter
	destroyed      prometheus.Counter
	buffered       prometheus.Gauge
	faults         prometheus.Counter
}

// NewMetrics registers the pond collectors with reg under namespace. A nil
// reg registers nothing, which is convenient in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		fedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pond",
			Name:      "fed_bytes_total",
			Help:      "Bytes fed into ponds.",
		}),
		deliveredBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pond",
			Name:      "delivered_bytes_total",
			Help:      "Bytes handed out to resolved reads.",
		}),
		deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pond",
			Name:      "deliveries_total",
			Help:      "Reads resolved.",
		}),
		deliverySize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pond",
			Name:      "delivery_size_bytes",
			Help:      "Size of resolved reads in bytes.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		superseded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pond",
			Name:      "superseded_reads_total",
			Help:      "Pending reads replaced by a newer read before resolving.",
		}),
		destroyed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pond",
			Name:      "destroyed_total",
			Help:      "Ponds destroyed.",
		}),
		buffered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pond",
			Name:      "buffered_bytes",
			Help:      "Bytes currently buffered across ponds.",
		}),
		faults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "faults_total",
			Help:      "Stages terminated by a generator or upstream error.",
		}),
	}
}

func (m *Metrics) fed(n int) {
	if m == nil {
		return
	}
	m.fedBytes.Add(float64(n))
	m.buffered.Add(float64(n))
}

func (m *Metrics) deliver(n int) {
	if m == nil {
		return
	}
	m.deliveredBytes.Add(float64(n))
	m.deliveries.Inc()
	m.deliverySize.Observe(float64(n))
	m.buffered.Sub(float64(n))
}

func (m *Metrics) buffer(delta int) {
	if m == nil {
		return
	}
	m.buffered.Add(float64(delta))
}

func (m *Metrics) supersede() {
	if m == nil {
		return
	}
	m.superseded.Inc()
}

func (m *Metrics) destroy() {
	if m == nil {
		return
	}
	m.destroyed.Inc()
}

func (m *Metrics) fault() {
	if m == nil {
		return
	}
	m.faults.Inc()
}
