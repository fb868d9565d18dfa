package conversation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hyperjump/scribe/internal/catalog"
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/selector"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func builtin(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

func start(t *testing.T, m *Machine, cat *catalog.Catalog, typ models.ConversationType) *models.Conversation {
	t.Helper()
	c, err := m.Start("conv-1", typ, nil, cat, nil, t0)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func answer(t *testing.T, m *Machine, cat *catalog.Catalog, c *models.Conversation, dt models.DocumentType, qid, value string) bool {
	t.Helper()
	target, err := m.Target(c, cat, dt, qid)
	if err != nil {
		t.Fatalf("Target(%s, %s): %v", dt, qid, err)
	}
	return m.Record(c, cat, target, models.Answer{ID: qid, Value: value, CreatedAt: t0})
}

func TestStart(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)

	if c.Phase != models.PhaseDiscovery || c.Status != models.StatusActive {
		t.Errorf("phase/status = %s/%s", c.Phase, c.Status)
	}
	want := []models.DocumentType{models.DocPRD, models.DocBRD, models.DocUXDD}
	if fmt.Sprint(c.DocumentTypes) != fmt.Sprint(want) {
		t.Errorf("DocumentTypes = %v, want %v", c.DocumentTypes, want)
	}
	if c.Current == nil || c.Current.Question.ID != "es_1" || c.Current.DocumentType != models.DocPRD {
		t.Errorf("first question = %+v, want prd/es_1", c.Current)
	}
	if c.TokenCeiling != 50000 {
		t.Errorf("TokenCeiling = %d", c.TokenCeiling)
	}

	if _, err := m.Start("x", "novel", nil, cat, nil, t0); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("unknown type error = %v", err)
	}
}

func TestStart_ToolSkipsDiscovery(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeTool)
	if c.Phase != models.PhaseDefinition {
		t.Errorf("phase = %s, want definition", c.Phase)
	}
	if c.Current == nil || c.Current.DocumentType != models.DocSRS || c.Current.Question.ID != "so_1" {
		t.Errorf("first question = %+v", c.Current)
	}
}

func TestStart_DisablesUnusableTypes(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	usable := func(tpl *models.Template) error {
		if tpl.DocumentType == models.DocUXDD {
			return models.UnroutableQuestionError(tpl.DocumentType, "personas")
		}
		return nil
	}
	c, err := m.Start("c", models.TypeIdea, nil, cat, usable, t0)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Progress[models.DocUXDD].Disabled {
		t.Fatal("uxdd should be disabled")
	}
	if got := c.ActiveDocumentTypes(); len(got) != 2 {
		t.Errorf("active types = %v", got)
	}
	if _, err := m.Target(c, cat, models.DocUXDD, "ux_p1"); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("answering a disabled type: %v", err)
	}

	none := func(*models.Template) error { return errors.New("broken") }
	if _, err := m.Start("d", models.TypeIdea, nil, cat, none, t0); err == nil {
		t.Error("expected error when every type is disabled")
	}
}

func TestRecord_SectionOrder(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	for i := 1; i <= 4; i++ {
		answer(t, m, cat, c, "", fmt.Sprintf("es_%d", i), fmt.Sprintf("answer %d", i))
	}
	if c.Current == nil || c.Current.Question.ID != "ps_1" {
		t.Fatalf("next question = %+v, want ps_1", c.Current)
	}
	if !c.Progress[models.DocPRD].IsClosed("executive_summary") {
		t.Error("executive_summary should be closed")
	}
}

func TestRecord_Idempotent(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	if !answer(t, m, cat, c, models.DocPRD, "es_1", "A budgeting app") {
		t.Fatal("first answer should change state")
	}
	before := c.Clone()
	if answer(t, m, cat, c, models.DocPRD, "es_1", "A budgeting app") {
		t.Error("identical answer should not change state")
	}
	if c.AnswerCount != before.AnswerCount || c.AnswersSinceCheckpoint != before.AnswersSinceCheckpoint {
		t.Errorf("counters moved: %d/%d", c.AnswerCount, c.AnswersSinceCheckpoint)
	}
	if c.Current.Question.ID != before.Current.Question.ID {
		t.Error("current question moved")
	}

	if !answer(t, m, cat, c, models.DocPRD, "es_1", "A shared budgeting app") {
		t.Error("a correction should change state")
	}
	if a, _ := c.Answer(models.DocPRD, "es_1"); a.Value != "A shared budgeting app" {
		t.Errorf("latest answer = %q", a.Value)
	}
}

func TestRecord_DynamicFanOut(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	answer(t, m, cat, c, models.DocPRD, "us_1", "sign up, export data")

	p := c.Progress[models.DocPRD]
	if len(p.Dynamic) != 2 {
		t.Fatalf("dynamic = %+v", p.Dynamic)
	}
	if p.Dynamic[0].ID != "us_ac#sign_up" || p.Dynamic[1].ID != "us_ac#export_data" {
		t.Errorf("instance ids = %s, %s", p.Dynamic[0].ID, p.Dynamic[1].ID)
	}

	answer(t, m, cat, c, models.DocPRD, "us_1", "sign up, export data, share")
	if got := len(c.Progress[models.DocPRD].Dynamic); got != 3 {
		t.Errorf("dynamic after correction = %d, want 3", got)
	}

	if _, err := m.Target(c, cat, models.DocPRD, "us_ac"); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("prototype should not be answerable: %v", err)
	}
	if _, err := m.Target(c, cat, "", "us_ac#share"); err != nil {
		t.Errorf("instance should be answerable: %v", err)
	}
}

func TestRecord_CorrectionRetiresRemovedItems(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	answer(t, m, cat, c, models.DocPRD, "us_1", "login, search, export")
	answer(t, m, cat, c, models.DocPRD, "us_ac#export", "a CSV downloads")

	answer(t, m, cat, c, models.DocPRD, "us_1", "login")
	p := c.Progress[models.DocPRD]
	var ids []string
	for _, q := range p.Dynamic {
		ids = append(ids, q.ID)
	}
	if fmt.Sprint(ids) != "[us_ac#login us_ac#export]" {
		t.Errorf("dynamic after correction = %v", ids)
	}
	if _, err := m.Target(c, cat, models.DocPRD, "us_ac#search"); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("retired instance still answerable: %v", err)
	}
	if c.Current != nil && c.Current.Question.ID == "us_ac#search" {
		t.Error("retired instance is still posed")
	}

	tpl, _ := cat.Get(models.DocPRD)
	answer(t, m, cat, c, models.DocPRD, "us_ac#login", "the dashboard opens")
	if failed := selector.FailedRules(tpl, View(c, models.DocPRD)); len(failed) != 0 {
		t.Errorf("failed rules = %v", failed)
	}
}

func TestSkip(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	target, _ := m.Target(c, cat, "", "")
	changed, err := m.Skip(c, cat, target, t0)
	if err != nil || !changed {
		t.Fatalf("Skip() = %v, %v", changed, err)
	}
	if c.Current.Question.ID != "es_2" {
		t.Errorf("after skip current = %s", c.Current.Question.ID)
	}
	if changed, _ := m.Skip(c, cat, target, t0); changed {
		t.Error("second skip should be a no-op")
	}

	answer(t, m, cat, c, models.DocPRD, "es_1", "late answer")
	if c.Progress[models.DocPRD].IsSkipped("es_1") {
		t.Error("answering should clear the skip")
	}
	target, _ = m.Target(c, cat, models.DocPRD, "es_1")
	if _, err := m.Skip(c, cat, target, t0); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("skipping an answered question: %v", err)
	}
}

func TestClarify(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	target, _ := m.Target(c, cat, "", "")
	m.Clarify(c, target, "Could you describe it in a sentence?", t0)

	if c.Current.Question.ID != "es_1#clarify" || c.Current.Question.Kind != models.KindClarifying {
		t.Fatalf("current = %+v", c.Current.Question)
	}
	reply, err := m.Target(c, cat, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if !reply.Clarifying || reply.Question.ID != "es_1" {
		t.Errorf("reply target = %+v", reply)
	}
	m.Record(c, cat, reply, models.Answer{Value: "A budgeting app"})
	if !c.Answered(models.DocPRD, "es_1") || c.Current.Question.ID != "es_2" {
		t.Errorf("clarified answer not recorded: current %s", c.Current.Question.ID)
	}
}

func TestTarget_Errors(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	tests := []struct {
		name string
		dt   models.DocumentType
		qid  string
		want error
	}{
		{"unknown question", "", "nope", models.ErrInvalidInput},
		{"type outside conversation", models.DocERD, "erd_ent_1", models.ErrInvalidInput},
		{"unknown instance", models.DocPRD, "us_ac#missing", models.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Target(c, cat, tt.dt, tt.qid); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	got, err := m.Target(c, cat, "", "bo_1")
	if err != nil || got.DocumentType != models.DocBRD {
		t.Errorf("bo_1 resolved to %+v, %v", got, err)
	}
}

func TestCheckTurn(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)

	c.TokensUsed = 49999
	if err := m.CheckTurn(c); err != nil {
		t.Errorf("below ceiling: %v", err)
	}
	c.TokensUsed = 50000
	err := m.CheckTurn(c)
	if !errors.Is(err, models.ErrBudgetExceeded) {
		t.Fatalf("at ceiling: %v", err)
	}
	if c.TokensUsed != 50000 {
		t.Errorf("tokens changed to %d", c.TokensUsed)
	}

	c.TokensUsed = 0
	c.Status = models.StatusPaused
	if err := m.CheckTurn(c); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("paused: %v", err)
	}
	c.Status = models.StatusCompleted
	if err := m.CheckTurn(c); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("completed: %v", err)
	}
}

func TestCheckpoint(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{CheckpointEvery: 2})
	c := start(t, m, cat, models.TypeIdea)
	answer(t, m, cat, c, "", "es_1", "a")
	if m.CheckpointDue(c) {
		t.Error("checkpoint due after one answer")
	}
	answer(t, m, cat, c, "", "es_2", "b")
	if !m.CheckpointDue(c) {
		t.Fatal("checkpoint should be due after two answers")
	}
	cp := m.Checkpoint(c, "cp-1", t0)
	if cp.Sequence != 1 || c.AnswersSinceCheckpoint != 0 || c.LastCheckpointAt == nil {
		t.Errorf("checkpoint = %+v, conversation counters %d", cp, c.AnswersSinceCheckpoint)
	}
	if len(cp.State.Answers) != 2 || cp.State.CheckpointCount != 1 {
		t.Errorf("snapshot = %+v", cp.State)
	}

	answer(t, m, cat, c, "", "es_3", "c")
	if len(cp.State.Answers) != 2 {
		t.Error("snapshot must not share state with the live conversation")
	}
}

func TestPauseResume(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	answer(t, m, cat, c, "", "es_1", "a")

	if err := m.Pause(c, t0); err != nil {
		t.Fatal(err)
	}
	if err := m.Pause(c, t0); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("double pause: %v", err)
	}
	cp := m.Checkpoint(c, "cp", t0)

	resumed, err := m.Resume(c, cat, cp, t0.Add(6*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != models.StatusActive || !resumed.Answered(models.DocPRD, "es_1") {
		t.Errorf("resumed = %s, answers %v", resumed.Status, resumed.Answers)
	}
	if resumed.Current == nil || resumed.Current.Question.ID != "es_2" {
		t.Errorf("resumed current = %+v", resumed.Current)
	}
}

func TestResume_Stale(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	answer(t, m, cat, c, "", "es_1", "a")
	_ = m.Pause(c, t0)
	cp := m.Checkpoint(c, "cp", t0)

	got, err := m.Resume(c, cat, cp, t0.Add(8*24*time.Hour))
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
	if got.Status != models.StatusCompleted || !got.Stale || got.Current != nil {
		t.Errorf("stale conversation = %s stale=%v", got.Status, got.Stale)
	}
	if err := m.CheckTurn(got); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("turn on stale conversation: %v", err)
	}
	if _, err := m.Resume(got, cat, cp, t0); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("resuming a stale conversation again: %v", err)
	}

	other := start(t, m, cat, models.TypeIdea)
	_ = m.Pause(other, t0)
	if _, err := m.Resume(other, cat, nil, t0); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("resume without checkpoint: %v", err)
	}
}

func TestResume_ActiveIgnoresWindow(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	answer(t, m, cat, c, "", "es_1", "a")
	cp := m.Checkpoint(c, "cp", t0)

	for _, latest := range []*models.Checkpoint{cp, nil} {
		got, err := m.Resume(c, cat, latest, t0.Add(30*24*time.Hour))
		if err != nil {
			t.Fatalf("resume active conversation: %v", err)
		}
		if got.Status != models.StatusActive || got.Stale || !got.Answered(models.DocPRD, "es_1") {
			t.Errorf("active conversation after resume = %s stale=%v", got.Status, got.Stale)
		}
	}
}

func TestComplete_OnlyFromReview(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	if err := m.Complete(c, t0); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("complete from discovery: %v", err)
	}
	if err := m.CheckReview(c); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("review from discovery: %v", err)
	}
}

// runToReview answers every posed question and marks each touched document the
// way the assembler would: generated once complete, draft otherwise.
func runToReview(t *testing.T, m *Machine, cat *catalog.Catalog, c *models.Conversation) []models.Phase {
	t.Helper()
	phases := []models.Phase{c.Phase}
	for i := 0; c.Current != nil; i++ {
		if i > 200 {
			t.Fatal("conversation did not converge")
		}
		dt, qid := c.Current.DocumentType, c.Current.Question.ID
		answer(t, m, cat, c, dt, qid, "value for "+qid)
		p := c.Progress[dt]
		status := models.StatusDraft
		if p.Complete {
			status = models.StatusGenerated
		}
		m.MarkDocument(c, cat, &models.Document{ID: "doc-" + string(dt), DocumentType: dt, Version: p.LatestVersion + 1, Status: status})
		phases = append(phases, c.Phase)
	}
	return phases
}

func TestPhaseMonotonic(t *testing.T) {
	cat := builtin(t)
	for _, typ := range []models.ConversationType{models.TypeIdea, models.TypeFeature, models.TypeTool} {
		t.Run(string(typ), func(t *testing.T) {
			m := NewMachine(Settings{})
			c := start(t, m, cat, typ)
			phases := runToReview(t, m, cat, c)
			for i := 1; i < len(phases); i++ {
				if phases[i].Rank() < phases[i-1].Rank() {
					t.Fatalf("phase went from %s to %s", phases[i-1], phases[i])
				}
			}
			if c.Phase != models.PhaseReview {
				t.Fatalf("final phase = %s, want review", c.Phase)
			}
			if err := m.Complete(c, t0); err != nil {
				t.Fatal(err)
			}
			if c.Phase != models.PhaseCompleted || c.Status != models.StatusCompleted {
				t.Errorf("after complete: %s/%s", c.Phase, c.Status)
			}
		})
	}
}

func TestPhase_DiscoveryBeforeDefinition(t *testing.T) {
	cat := builtin(t)
	m := NewMachine(Settings{})
	c := start(t, m, cat, models.TypeIdea)
	for c.Phase == models.PhaseDiscovery {
		if c.Current == nil {
			t.Fatal("stuck in discovery")
		}
		if c.Current.DocumentType == models.DocUXDD {
			t.Fatal("definition template asked during discovery")
		}
		answer(t, m, cat, c, c.Current.DocumentType, c.Current.Question.ID, "x")
	}
	for _, dt := range []models.DocumentType{models.DocPRD, models.DocBRD} {
		tpl, _ := cat.Get(dt)
		if got := selector.Unsatisfied(tpl, View(c, dt)); len(got) > 0 {
			t.Errorf("%s sections %v unsatisfied when discovery ended", dt, got)
		}
	}
}
