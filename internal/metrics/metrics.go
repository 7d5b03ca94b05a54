package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jsherman999/openclaw_logfeed/internal/bus"
	"github.com/jsherman999/openclaw_logfeed/internal/socket"
)

// Metrics derives websocket metrics from bus events. Controllers know
// nothing about it apart from the refusal hook.
type Metrics struct {
	reg *prometheus.Registry

	// Events tracks every bus event by source and kind
	Events *prometheus.CounterVec
	// Connections tracks live connections per controller
	Connections *prometheus.GaugeVec
	// Refused tracks connections turned away at capacity
	Refused *prometheus.CounterVec
	// Errors tracks error events by category
	Errors *prometheus.CounterVec
	// Sessions tracks how long live connections lasted
	Sessions *prometheus.HistogramVec

	mu   sync.Mutex
	live map[string]time.Time
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logfeed_events_total",
			Help: "Total number of bus events by source and kind",
		}, []string{"source", "kind"}),
		Connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "logfeed_ws_connections",
			Help: "Number of live websocket connections",
		}, []string{"source"}),
		Refused: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logfeed_ws_refused_total",
			Help: "Total number of websocket connections refused at capacity",
		}, []string{"endpoint"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "logfeed_ws_errors_total",
			Help: "Total number of websocket errors by source and category",
		}, []string{"source", "category"}),
		Sessions: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logfeed_ws_session_seconds",
			Help:    "Duration of live websocket connections",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"source"}),
		live: make(map[string]time.Time),
	}
}

// Attach subscribes m to every event on b.
func (m *Metrics) Attach(b *bus.Bus) func() {
	return b.Subscribe(m.observe)
}

// RefusedAt counts a capacity refusal. It fits socket.Deps.OnRefuse.
func (m *Metrics) RefusedAt(endpoint string) {
	m.Refused.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) observe(ev bus.Event) error {
	m.Events.WithLabelValues(ev.Source, string(ev.Kind)).Inc()

	switch ev.Kind {
	case bus.KindConnect:
		if ev.Peer == nil {
			return nil
		}
		m.mu.Lock()
		m.live[ev.Peer.ID()] = ev.Time
		m.mu.Unlock()
		m.Connections.WithLabelValues(ev.Source).Inc()

	case bus.KindClose:
		if ev.Peer == nil {
			return nil
		}
		m.mu.Lock()
		since, ok := m.live[ev.Peer.ID()]
		delete(m.live, ev.Peer.ID())
		m.mu.Unlock()
		// rejected clients close without ever connecting
		if ok {
			m.Connections.WithLabelValues(ev.Source).Dec()
			m.Sessions.WithLabelValues(ev.Source).Observe(ev.Time.Sub(since).Seconds())
		}

	case bus.KindError:
		category := "transport"
		if e, ok := socket.AsError(ev.Err); ok {
			category = string(e.Category)
		}
		m.Errors.WithLabelValues(ev.Source, category).Inc()
	}
	return nil
}
