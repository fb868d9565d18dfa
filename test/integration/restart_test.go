// Package integration runs interviews against on-disk storage and search
// indexes and checks what survives a restart.
package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/agent"
	"github.com/hyperjump/scribe/internal/catalog"
	"github.com/hyperjump/scribe/internal/conversation"
	"github.com/hyperjump/scribe/internal/llm"
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/orchestrator"
	"github.com/hyperjump/scribe/internal/search"
	"github.com/hyperjump/scribe/internal/storage"
)

type process struct {
	store *storage.SQLiteStorage
	index *search.Index
	orch  *orchestrator.Orchestrator
}

func start(t *testing.T, dir string) *process {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "scribe.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := search.Open(filepath.Join(dir, "search"))
	if err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	client := llm.NewClient(llm.Echo{}, llm.Policy{Models: []string{"echo"}, MaxAttempts: 1, Timeout: 5 * time.Second})
	orch := orchestrator.New(
		orchestrator.Context{Catalog: catalog.NewStore(cat)},
		store,
		conversation.NewMachine(conversation.Settings{CheckpointEvery: 2}),
		agent.NewRouter(agent.DefaultSpecialists()),
		client,
		orchestrator.WithLogger(zap.NewNop()),
		orchestrator.WithIndexer(idx),
	)
	return &process{store: store, index: idx, orch: orch}
}

func (p *process) stop() {
	p.orch.Close()
	_ = p.index.Close()
	_ = p.store.Close()
}

func TestIntegration_PausedConversationSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p := start(t, dir)
	res, err := p.orch.Create(ctx, orchestrator.CreateRequest{Type: models.TypeIdea})
	if err != nil {
		t.Fatal(err)
	}
	id := res.Conversation.ID
	for _, value := range []string{"A budgeting app for households", "Help families save money", "Parents managing shared expenses"} {
		if _, err := p.orch.Answer(ctx, id, orchestrator.AnswerRequest{Value: value}); err != nil {
			t.Fatalf("answer %q: %v", value, err)
		}
	}
	paused, err := p.orch.Pause(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	docsBefore, err := p.orch.Documents(ctx, id)
	if err != nil || len(docsBefore) == 0 {
		t.Fatalf("documents before restart = %d, %v", len(docsBefore), err)
	}
	p.stop()

	p = start(t, dir)
	defer p.stop()

	conv, err := p.orch.Conversation(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Status != models.StatusPaused || conv.AnswerCount != 3 {
		t.Fatalf("reloaded conversation = %s with %d answers", conv.Status, conv.AnswerCount)
	}

	resumed, err := p.orch.Resume(ctx, id)
	if err != nil {
		t.Fatalf("resume after restart: %v", err)
	}
	if resumed.Conversation.Status != models.StatusActive {
		t.Errorf("status after resume = %s", resumed.Conversation.Status)
	}
	if resumed.Question == nil || paused.Current == nil || resumed.Question.Question.ID != paused.Current.Question.ID {
		t.Errorf("pending question after resume = %+v, before pause = %+v", resumed.Question, paused.Current)
	}

	docsAfter, err := p.orch.Documents(ctx, id)
	if err != nil || len(docsAfter) != len(docsBefore) {
		t.Errorf("documents after restart = %d, want %d (%v)", len(docsAfter), len(docsBefore), err)
	}

	hits, err := p.index.Search(ctx, search.Query{Text: "budgeting households", ConversationID: id})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Error("persisted search index lost the stored sections")
	}

	if _, err := p.orch.Answer(ctx, id, orchestrator.AnswerRequest{Value: "Monthly budget reports"}); err != nil {
		t.Errorf("answer after resume: %v", err)
	}
}
