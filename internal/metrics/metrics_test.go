package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hyperjump/scribe/internal/models"
)

func TestMetrics_Attempts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveAttempt("gpt-4o", models.KindTimeout, time.Second)
	m.ObserveAttempt("gpt-4o", "", 200*time.Millisecond)
	m.ObserveTokens("gpt-4o", 120, 30)

	if got := testutil.ToFloat64(m.LLMAttempts.WithLabelValues("gpt-4o", "timeout")); got != 1 {
		t.Errorf("timeout attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMAttempts.WithLabelValues("gpt-4o", "ok")); got != 1 {
		t.Errorf("ok attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("gpt-4o", "input")); got != 120 {
		t.Errorf("input tokens = %v", got)
	}
	if got := testutil.CollectAndCount(m.LLMLatency); got != 1 {
		t.Errorf("latency series = %d", got)
	}
}

func TestMetrics_Turns(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveTurn("answer", nil, 10*time.Millisecond)
	m.ObserveTurn("answer", models.BudgetExceededError(50000, 50000), time.Millisecond)
	m.ObserveTurn("answer", errors.New("boom"), time.Millisecond)

	for outcome, want := range map[string]float64{"ok": 1, "budget_exceeded": 1, "internal": 1} {
		if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("answer", outcome)); got != want {
			t.Errorf("turns{%s} = %v, want %v", outcome, got, want)
		}
	}
}

func TestMetrics_Documents(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveDocument(&models.Document{
		DocumentType: models.DocBRD,
		Status:       models.StatusDraft,
		Sections: []models.DocumentSection{{Blocks: []models.Block{
			{Content: "x"},
			{Ref: &models.Reference{TargetDoc: "prd"}},
		}}},
	})
	m.ObserveCheckpoint()
	m.ObservePhase(models.PhaseDefinition)

	if got := testutil.ToFloat64(m.Assemblies.WithLabelValues("brd", "draft")); got != 1 {
		t.Errorf("versions = %v", got)
	}
	if got := testutil.ToFloat64(m.References); got != 1 {
		t.Errorf("references = %v", got)
	}
	if got := testutil.ToFloat64(m.Checkpoints); got != 1 {
		t.Errorf("checkpoints = %v", got)
	}
	if got := testutil.ToFloat64(m.PhaseMovesTotal.WithLabelValues("definition")); got != 1 {
		t.Errorf("phase moves = %v", got)
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Each registry gets its own collectors; a second New must not panic.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
