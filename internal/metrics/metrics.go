package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons, the observability side of the ingestion error kinds.
const (
	ReasonMalformed         = "malformed"
	ReasonUnknownType       = "unknown_type"
	ReasonNonFinite         = "non_finite"
	ReasonUnknownInstrument = "unknown_instrument"
)

// Metrics carries the board's Prometheus instrumentation. A nil *Metrics
// is valid and drops every observation, so the state packages stay
// testable without a registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsIngested  *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	windowEvictions *prometheus.CounterVec
	rangeRescans    prometheus.Counter
	bboRecomputes   prometheus.Counter
	bboCacheHits    prometheus.Counter
	sseClients      prometheus.Gauge
	sseDropped      prometheus.Counter
	feedConnected   prometheus.Gauge
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "marketboard"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_ingested_total",
		Help:      "Events accepted by the engine, by event type.",
	}, []string{"type"})

	m.eventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_rejected_total",
		Help:      "Events dropped before ingestion, by reason.",
	}, []string{"reason"})

	m.windowEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "window_evictions_total",
		Help:      "Samples evicted from sliding windows, by series.",
	}, []string{"series"})

	m.rangeRescans = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "range_rescans_total",
		Help:      "Full price-range recomputes after eviction invalidated the cached bounds.",
	})

	m.bboRecomputes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bbo_recomputes_total",
		Help:      "BBO derivations that scanned the book.",
	})

	m.bboCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bbo_cache_hits_total",
		Help:      "BBO derivations served from the memoized sample.",
	})

	m.sseClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sse_clients",
		Help:      "Currently connected SSE subscribers.",
	})

	m.sseDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sse_dropped_total",
		Help:      "Messages dropped because a subscriber buffer was full.",
	})

	m.feedConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_connected",
		Help:      "1 when the upstream feed is connected.",
	})

	m.registry.MustRegister(
		m.eventsIngested,
		m.eventsRejected,
		m.windowEvictions,
		m.rangeRescans,
		m.bboRecomputes,
		m.bboCacheHits,
		m.sseClients,
		m.sseDropped,
		m.feedConnected,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventIngested(eventType string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) WindowEvicted(series string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.windowEvictions.WithLabelValues(series).Add(float64(n))
}

func (m *Metrics) RangeRescan() {
	if m == nil {
		return
	}
	m.rangeRescans.Inc()
}

func (m *Metrics) BBORecompute() {
	if m == nil {
		return
	}
	m.bboRecomputes.Inc()
}

func (m *Metrics) BBOCacheHit() {
	if m == nil {
		return
	}
	m.bboCacheHits.Inc()
}

func (m *Metrics) SSEConnected() {
	if m == nil {
		return
	}
	m.sseClients.Inc()
}

func (m *Metrics) SSEDisconnected() {
	if m == nil {
		return
	}
	m.sseClients.Dec()
}

func (m *Metrics) SSEDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sseDropped.Add(float64(n))
}

func (m *Metrics) FeedUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.feedConnected.Set(1)
	} else {
		m.feedConnected.Set(0)
	}
}
