package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/config"
	"github.com/hyperjump/scribe/internal/llm"
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/server"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after positionals are moved first",
			args:     []string{"c1", "a budgeting app", "-skip"},
			expected: []string{"-skip", "c1", "a budgeting app"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-limit", "5", "budget"},
			expected: []string{"-limit", "5", "budget"},
		},
		{
			name:     "positionals only returns unchanged",
			args:     []string{"budget"},
			expected: []string{"budget"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		args     []string
		expected string
	}{
		{[]string{"budgeting"}, "budgeting"},
		{[]string{"a", "budgeting", "app"}, "a budgeting app"},
		{[]string{"a budgeting app"}, "a budgeting app"},
		{[]string{}, ""},
		{[]string{"  ", " "}, ""},
	}
	for _, tt := range tests {
		if got := joinArgs(tt.args); got != tt.expected {
			t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
		}
	}
}

func TestParseDocumentTypes(t *testing.T) {
	got := parseDocumentTypes("prd, brd,,uxdd")
	want := []models.DocumentType{models.DocPRD, models.DocBRD, models.DocUXDD}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseDocumentTypes() = %v, want %v", got, want)
	}
	if got := parseDocumentTypes(""); got != nil {
		t.Errorf("empty value = %v, want nil", got)
	}
}

func TestDocumentPath(t *testing.T) {
	if got := documentPath("d 1", 0); got != "/api/v1/documents/d%201" {
		t.Errorf("latest path = %q", got)
	}
	if got := documentPath("d1", 3); got != "/api/v1/documents/d1/versions/3" {
		t.Errorf("version path = %q", got)
	}
}

func TestSearchValues(t *testing.T) {
	v := searchValues("budget", 5, "c1", "", true)
	if v.Get("q") != "budget" || v.Get("limit") != "5" || v.Get("conversation_id") != "c1" || v.Get("fuzzy") != "true" {
		t.Errorf("searchValues() = %v", v)
	}
	if _, ok := v["document_type"]; ok {
		t.Error("empty document type should be omitted")
	}
}

func TestNewInvoker(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Provider = config.ProviderEcho
	inv, err := newInvoker(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := inv.(llm.Echo); !ok {
		t.Errorf("echo provider built %T", inv)
	}

	cfg.Provider = config.ProviderOpenAI
	cfg.APIKeyEnv = "SCRIBE_TEST_UNSET_KEY"
	t.Setenv("SCRIBE_TEST_UNSET_KEY", "")
	if _, err := newInvoker(&cfg); err == nil || !strings.Contains(err.Error(), "SCRIBE_TEST_UNSET_KEY") {
		t.Errorf("missing key error = %v", err)
	}

	cfg.Provider = "nope"
	if _, err := newInvoker(&cfg); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestMachineSettings(t *testing.T) {
	cfg := config.Default()
	s := machineSettings(&cfg.Conversation)
	if s.CheckpointEvery != 5 || s.ResumeWindow != 7*24*time.Hour || s.TokenCeiling != 50000 {
		t.Errorf("machineSettings() = %+v", s)
	}
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.yaml")
	data := "llm:\n  provider: echo\nstorage:\n  database_path: ./data/scribe.db\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, loaded, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded != path || cfg.LLM.Provider != config.ProviderEcho {
		t.Errorf("loadConfig() = %+v from %q", cfg.LLM, loaded)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "data", "scribe.db") {
		t.Errorf("database path = %q", cfg.Storage.DatabasePath)
	}
	if _, _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing explicit config should fail")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		t.Errorf("missing .env = %v, want nil", err)
	}

	good := filepath.Join(dir, "good.env")
	if err := os.WriteFile(good, []byte("SCRIBE_TEST_DOTENV=loaded\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCRIBE_TEST_DOTENV", "")
	os.Unsetenv("SCRIBE_TEST_DOTENV")
	if err := loadDotEnv(good); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("SCRIBE_TEST_DOTENV"); got != "loaded" {
		t.Errorf("SCRIBE_TEST_DOTENV = %q", got)
	}

	if err := loadDotEnv(dir); err == nil {
		t.Error("a directory in place of .env should fail")
	}
}

func copyBuiltinTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join("..", "..", "internal", "catalog", "templates")
	entries, err := os.ReadDir(src)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, e.Name()), data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestValidateTemplates(t *testing.T) {
	dir := copyBuiltinTemplates(t)
	var buf bytes.Buffer
	if err := validateTemplates(&buf, dir, filepath.Join(dir, "missing.yaml")); err != nil {
		t.Fatalf("validateTemplates() = %v\n%s", err, buf.String())
	}
	if !strings.Contains(buf.String(), "6 templates ok") {
		t.Errorf("output = %q", buf.String())
	}

	if err := os.WriteFile(filepath.Join(dir, "prd.yaml"), []byte("id: prd\nsections: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := validateTemplates(&buf, dir, ""); err == nil {
		t.Error("broken template directory should fail validation")
	}
}

func TestCommandsAgainstServer(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = config.ProviderEcho
	cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "data", "scribe.db")

	components, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(components.Close)
	srv := server.NewServer(components.Orchestrator, components.Storage, components.Search, components.Registry, cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	flags := []string{"--server", ts.URL, "--output", "json"}
	if err := runNew(append([]string{"idea"}, flags...)); err != nil {
		t.Fatalf("new: %v", err)
	}
	convs, err := components.Orchestrator.Conversations(context.Background(), 0, 10)
	if err != nil || len(convs) != 1 {
		t.Fatalf("conversations = %v, %v", convs, err)
	}
	id := convs[0].ID

	if err := runAnswer(append([]string{id, "A", "budgeting", "app"}, flags...)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := runShow(append([]string{id}, flags...)); err != nil {
		t.Fatalf("show: %v", err)
	}
	if err := runSearch(append([]string{"budgeting"}, flags...)); err != nil {
		t.Fatalf("search: %v", err)
	}
	if err := runLifecycle("pause", append([]string{id}, flags...)); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err = runAnswer(append([]string{id, "more"}, flags...))
	if err == nil || models.KindOf(err) != models.KindInvalidState {
		t.Errorf("answer while paused = %v", err)
	}
	if err := runLifecycle("resume", append([]string{id}, flags...)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := runStatus(flags); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := runShow(append([]string{"missing"}, flags...)); models.KindOf(err) != models.KindNotFound {
		t.Errorf("show missing = %v", err)
	}
}
