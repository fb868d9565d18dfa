// Package metrics records orchestration telemetry as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hyperjump/scribe/internal/models"
)

const namespace = "scribe"

// outcomeOK labels successful turns and attempts.
const outcomeOK = "ok"

// Metrics holds the collectors. Create one per registry.
type Metrics struct {
	TurnsTotal      *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	LLMAttempts     *prometheus.CounterVec
	LLMLatency      *prometheus.HistogramVec
	LLMTokens       *prometheus.CounterVec
	Assemblies      *prometheus.CounterVec
	References      prometheus.Counter
	Checkpoints     prometheus.Counter
	PhaseMovesTotal *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Conversation turns by operation and outcome (ok or error kind)",
			},
			[]string{"operation", "outcome"},
		),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of conversation turns in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LLMAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_attempts_total",
				Help:      "Model calls by model and outcome (ok or error kind)",
			},
			[]string{"model", "outcome"},
		),
		LLMLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_latency_seconds",
				Help:      "Latency of model calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"model"},
		),
		LLMTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Tokens consumed by model and direction",
			},
			[]string{"model", "direction"},
		),
		Assemblies: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "document_versions_total",
				Help:      "Document versions written by document type and status",
			},
			[]string{"document_type", "status"},
		),
		References: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_total",
			Help:      "Duplicate blocks replaced by references",
		}),
		Checkpoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Conversation checkpoints written",
		}),
		PhaseMovesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Conversations entering a phase",
			},
			[]string{"phase"},
		),
	}
}

func outcome(kind models.ErrorKind) string {
	if kind == "" {
		return outcomeOK
	}
	return string(kind)
}

// ObserveAttempt records one model call. An empty kind is a success.
func (m *Metrics) ObserveAttempt(model string, kind models.ErrorKind, latency time.Duration) {
	m.LLMAttempts.WithLabelValues(model, outcome(kind)).Inc()
	m.LLMLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// ObserveTokens records the tokens of a successful call.
func (m *Metrics) ObserveTokens(model string, input, output int) {
	m.LLMTokens.WithLabelValues(model, "input").Add(float64(input))
	m.LLMTokens.WithLabelValues(model, "output").Add(float64(output))
}

// ObserveTurn records a finished turn. err is nil on success.
func (m *Metrics) ObserveTurn(operation string, err error, d time.Duration) {
	kind := models.ErrorKind("")
	if err != nil {
		kind = models.KindOf(err)
	}
	m.TurnsTotal.WithLabelValues(operation, outcome(kind)).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

// ObserveDocument records a stored document version and its references.
func (m *Metrics) ObserveDocument(doc *models.Document) {
	m.Assemblies.WithLabelValues(string(doc.DocumentType), string(doc.Status)).Inc()
	for _, sec := range doc.Sections {
		for _, b := range sec.Blocks {
			if b.Ref != nil {
				m.References.Inc()
			}
		}
	}
}

// ObserveCheckpoint records a written checkpoint.
func (m *Metrics) ObserveCheckpoint() {
	m.Checkpoints.Inc()
}

// ObservePhase records a conversation entering phase.
func (m *Metrics) ObservePhase(phase models.Phase) {
	m.PhaseMovesTotal.WithLabelValues(string(phase)).Inc()
}
