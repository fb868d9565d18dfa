package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/orchestrator"
	"github.com/hyperjump/scribe/internal/search"
)

func sampleTurn() *orchestrator.TurnResult {
	conv := &models.Conversation{
		ID:            "c1",
		Type:          models.TypeIdea,
		Phase:         models.PhaseDiscovery,
		Status:        models.StatusActive,
		TokensUsed:    120,
		TokenCeiling:  50000,
		DocumentTypes: []models.DocumentType{models.DocPRD, models.DocBRD},
		Progress: map[models.DocumentType]*models.DocumentProgress{
			models.DocPRD: {DocumentID: "d1", LatestVersion: 2, LatestStatus: models.StatusDraft},
			models.DocBRD: {Disabled: true, DisabledReason: "no template"},
		},
		Current: &models.PendingQuestion{
			DocumentType: models.DocPRD,
			Question:     models.Question{ID: "es_2", Content: "Which business objective does this product serve?"},
		},
	}
	return &orchestrator.TurnResult{
		Conversation: conv,
		Question:     conv.Current,
		Documents:    []*models.Document{{DocumentType: models.DocPRD, Version: 2, Status: models.StatusDraft, Coverage: 0.25}},
		Recorded:     true,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"json", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteTurn_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTurn(&buf, sampleTurn(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Conversation c1", "tokens 120/50000", "Updated prd v2 (draft, 25% covered)", "[prd/es_2] Which business objective"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteTurn_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTurn(&buf, sampleTurn(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded orchestrator.TurnResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Conversation.ID != "c1" || decoded.Question.Question.ID != "es_2" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteConversation(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteConversation(&buf, sampleTurn().Conversation, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"phase:    discovery", "prd    v2 draft", "brd    disabled: no template"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSearchResults(t *testing.T) {
	var buf bytes.Buffer
	hits := []search.Hit{{DocumentID: "d1", Version: 3, DocumentType: models.DocPRD, SectionTitle: "Executive Summary", Snippet: "A budgeting app", Score: 1.5}}
	if err := WriteSearchResults(&buf, "budget", hits, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Found 1 results") || !strings.Contains(buf.String(), "d1 v3 (prd)") {
		t.Errorf("text output:\n%s", buf.String())
	}

	buf.Reset()
	_ = WriteSearchResults(&buf, "budgetting", nil, &search.Suggestion{Query: "budgeting"}, OutputText)
	if !strings.Contains(buf.String(), "Did you mean: budgeting") {
		t.Errorf("suggestion output:\n%s", buf.String())
	}
}

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/conversations":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"type": body["type"]})
		case "/api/v1/search":
			_, _ = w.Write([]byte(r.URL.Query().Get("q")))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"kind":"not_found","message":"conversation not found: x"}}`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL + "/")
	ctx := context.Background()

	var out map[string]string
	if err := c.Post(ctx, "/api/v1/conversations", map[string]string{"type": "idea"}, &out); err != nil || out["type"] != "idea" {
		t.Errorf("Post() = %v, %v", out, err)
	}

	var raw bytes.Buffer
	if err := c.Get(ctx, "/api/v1/search", url.Values{"q": {"a b"}}, &raw); err != nil || raw.String() != "a b" {
		t.Errorf("Get() = %q, %v", raw.String(), err)
	}

	err := c.Get(ctx, "/api/v1/conversations/x", nil, &out)
	if !errors.Is(err, models.ErrNotFound) || !strings.Contains(err.Error(), "conversation not found") {
		t.Errorf("error response = %v", err)
	}
}
