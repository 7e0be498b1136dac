// Package metrics holds the Prometheus instruments of the agent. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "filmqa"

// Metrics holds the agent's counters, gauges and histograms.
type Metrics struct {
	registry *prometheus.Registry

	questionsTotal  *prometheus.CounterVec
	queriesTotal    *prometheus.CounterVec
	answerDuration  *prometheus.HistogramVec
	messagesPosted  *prometheus.CounterVec
	reactionsTotal  *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	panicsRecovered prometheus.Counter
	activeRooms     prometheus.Gauge
	readiness       *prometheus.GaugeVec
	loadDuration    *prometheus.GaugeVec
}

// New creates the instruments and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		questionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "questions_total",
			Help:      "Natural language questions answered",
		}, []string{"intent", "confidence"}),

		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "structured_queries_total",
			Help:      "Structured graph queries run verbatim",
		}, []string{"result"}),

		answerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "answer_duration_seconds",
			Help:      "Time spent producing one reply",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),

		messagesPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_posted_total",
			Help:      "Messages posted to chat rooms",
		}, []string{"kind"}),

		reactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "reactions_total",
			Help:      "Reactions acknowledged",
		}, []string{"type"}),

		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "transport_errors_total",
			Help:      "Failed chat transport calls",
		}, []string{"operation"}),

		panicsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "panics_recovered_total",
			Help:      "Panics recovered while handling a message",
		}),

		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "active_rooms",
			Help:      "Rooms seen in the last poll",
		}),

		readiness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "ready",
			Help:      "1 once the resource is loaded",
		}, []string{"resource"}),

		loadDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loader",
			Name:      "load_duration_seconds",
			Help:      "Time the last load of each resource took",
		}, []string{"resource"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.questionsTotal,
		m.queriesTotal,
		m.answerDuration,
		m.messagesPosted,
		m.reactionsTotal,
		m.transportErrors,
		m.panicsRecovered,
		m.activeRooms,
		m.readiness,
		m.loadDuration,
	)
	m.readiness.WithLabelValues(ResourceGraph).Set(0)
	m.readiness.WithLabelValues(ResourceEmbeddings).Set(0)
	return m
}

// Resource label values.
const (
	ResourceGraph      = "graph"
	ResourceEmbeddings = "embeddings"
)

// Posted message kinds.
const (
	KindLifecycle = "lifecycle"
	KindAnswer    = "answer"
	KindQuery     = "query"
	KindReaction  = "reaction"
)

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveQuestion counts an answered question.
func (m *Metrics) ObserveQuestion(intent, confidence string, d time.Duration) {
	if m == nil {
		return
	}
	m.questionsTotal.WithLabelValues(intent, confidence).Inc()
	m.answerDuration.WithLabelValues(KindAnswer).Observe(d.Seconds())
}

// ObserveQuery counts a structured query. ok is false when it failed or
// returned no rows.
func (m *Metrics) ObserveQuery(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "rows"
	if !ok {
		result = "empty"
	}
	m.queriesTotal.WithLabelValues(result).Inc()
	m.answerDuration.WithLabelValues(KindQuery).Observe(d.Seconds())
}

// MessagePosted counts a message posted to a room.
func (m *Metrics) MessagePosted(kind string) {
	if m == nil {
		return
	}
	m.messagesPosted.WithLabelValues(kind).Inc()
}

// ReactionHandled counts an acknowledged reaction.
func (m *Metrics) ReactionHandled(reactionType string) {
	if m == nil {
		return
	}
	m.reactionsTotal.WithLabelValues(reactionType).Inc()
}

// TransportError counts a failed transport call.
func (m *Metrics) TransportError(operation string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(operation).Inc()
}

// PanicRecovered counts a recovered panic.
func (m *Metrics) PanicRecovered() {
	if m == nil {
		return
	}
	m.panicsRecovered.Inc()
}

// SetActiveRooms records the number of rooms seen in the last poll.
func (m *Metrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

// Breaker states reported by WatchBreaker.
var breakerStates = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// WatchBreaker exports the state of the circuit breaker called name as
// filmqa_circuit_breaker_state{breaker=name}: 0 closed, 1 half-open, 2 open.
// state is called on every scrape. Watching a name twice keeps the first.
func (m *Metrics) WatchBreaker(name string, state func() string) {
	if m == nil {
		return
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "circuit_breaker_state",
		Help:        "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		ConstLabels: prometheus.Labels{"breaker": name},
	}, func() float64 {
		v, ok := breakerStates[state()]
		if !ok {
			return -1
		}
		return v
	})
	if err := m.registry.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}

// ResourceLoaded marks resource ready and records how long it took.
func (m *Metrics) ResourceLoaded(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.readiness.WithLabelValues(resource).Set(1)
	m.loadDuration.WithLabelValues(resource).Set(d.Seconds())
}
