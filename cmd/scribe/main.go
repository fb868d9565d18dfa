// Package main is the Scribe CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/agent"
	"github.com/hyperjump/scribe/internal/catalog"
	"github.com/hyperjump/scribe/internal/config"
	"github.com/hyperjump/scribe/internal/conversation"
	"github.com/hyperjump/scribe/internal/llm"
	"github.com/hyperjump/scribe/internal/metrics"
	"github.com/hyperjump/scribe/internal/orchestrator"
	"github.com/hyperjump/scribe/internal/search"
	"github.com/hyperjump/scribe/internal/server"
	"github.com/hyperjump/scribe/internal/storage"
	"github.com/hyperjump/scribe/internal/watcher"
	"github.com/hyperjump/scribe/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/scribe/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default it prefers
// ./config.yaml, and when neither file exists it falls back to built-in
// defaults. Returns the config and the path actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// loadDotEnv loads provider keys from path, usually present only during
// development. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	var err error
	switch command {
	case "server":
		err = runServer(args)
	case "templates":
		err = runTemplates(args)
	case "new":
		err = runNew(args)
	case "answer":
		err = runAnswer(args)
	case "pause", "resume", "complete":
		err = runLifecycle(command, args)
	case "show":
		err = runShow(args)
	case "document":
		err = runDocument(args)
	case "search":
		err = runSearch(args)
	case "status":
		err = runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("scribe version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Templates.Watch && cfg.Templates.Directory != "" {
		w := watcher.New(cfg.Templates.Directory, components.Catalog,
			watcher.WithLogger(utils.Named(logger, "watcher")))
		if err := w.Start(watchCtx); err != nil {
			return fmt.Errorf("start template watcher: %w", err)
		}
		defer w.Stop()
	}

	srv := server.NewServer(
		components.Orchestrator,
		components.Storage,
		components.Search,
		components.Registry,
		cfg,
		utils.Named(logger, "server"),
	)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("shutting down")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

// Components holds the long-lived services of a server process.
type Components struct {
	Storage      *storage.SQLiteStorage
	Search       *search.Index
	Catalog      *catalog.Store
	Registry     *prometheus.Registry
	Orchestrator *orchestrator.Orchestrator
}

// Close waits for pending writes, then closes the index and the database.
func (c *Components) Close() {
	if c.Orchestrator != nil {
		c.Orchestrator.Close()
	}
	if c.Search != nil {
		_ = c.Search.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	cat, err := loadCatalog(cfg.Templates.Directory)
	if err != nil {
		return nil, err
	}
	specialists := agent.FromConfig(agent.DefaultSpecialists(), cfg.Agents)
	router := agent.NewRouter(specialists)
	for _, tpl := range cat.Templates() {
		for _, uerr := range router.Unroutable(tpl) {
			logger.Warn("template section has no specialist", zap.String("document_type", string(tpl.DocumentType)), zap.Error(uerr))
		}
	}

	invoker, err := newInvoker(&cfg.LLM)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	c := &Components{Storage: store, Catalog: catalog.NewStore(cat)}

	idx, err := search.Open(cfg.Storage.SearchIndexPath, search.WithLogger(utils.Named(logger, "search")))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Search = idx

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(c.Registry)

	client := llm.NewClient(invoker, llmPolicy(&cfg.LLM),
		llm.WithLogger(utils.Named(logger, "llm")),
		llm.WithObserver(m))

	c.Orchestrator = orchestrator.New(
		orchestrator.Context{Catalog: c.Catalog, Telemetry: m},
		store,
		conversation.NewMachine(machineSettings(&cfg.Conversation)),
		router,
		client,
		orchestrator.WithLogger(utils.Named(logger, "orchestrator")),
		orchestrator.WithIndexer(idx),
		orchestrator.WithMaxTokens(cfg.LLM.MaxTokens),
		orchestrator.WithEventBuffer(cfg.Conversation.EventBuffer),
	)
	return c, nil
}

// loadCatalog loads templates from dir, or the built-in set when dir is empty.
func loadCatalog(dir string) (*catalog.Catalog, error) {
	if dir == "" {
		return catalog.Builtin()
	}
	cat, err := catalog.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load templates from %s: %w", dir, err)
	}
	return cat, nil
}

func newInvoker(cfg *config.LLMConfig) (llm.Invoker, error) {
	switch cfg.Provider {
	case config.ProviderEcho:
		return llm.Echo{}, nil
	case config.ProviderOpenAI:
		inv, err := llm.NewOpenAI(cfg.APIKey(), cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w (set %s or use provider %q)", err, cfg.APIKeyEnv, config.ProviderEcho)
		}
		return inv, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func llmPolicy(cfg *config.LLMConfig) llm.Policy {
	return llm.Policy{
		Models:         append([]string(nil), cfg.Models...),
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		Timeout:        cfg.Timeout,
	}
}

func machineSettings(cfg *config.ConversationConfig) conversation.Settings {
	return conversation.Settings{
		CheckpointEvery: cfg.CheckpointEvery,
		ResumeWindow:    cfg.ResumeWindow,
		TokenCeiling:    cfg.TokenCeiling,
	}
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse sees them; the flag
// package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args so multi-word values work with or without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func printUsage() {
	fmt.Print(`Scribe - guided interviews that write product documents

Usage:
  scribe <command> [flags]

Commands:
  server                       Start the HTTP API server
  templates list [--dir DIR]   List document templates
  templates validate DIR       Validate a template directory
  new [--docs prd,brd] TYPE    Start a conversation (idea, feature or tool)
  answer ID [--question Q] [--skip] TEXT
                               Answer the pending (or named) question
  pause ID                     Pause a conversation
  resume ID                    Resume a paused conversation
  complete ID                  Finalize every document of a conversation
  show ID                      Show conversation state and the pending question
  document ID [--version N] [--output json]
                               Print a document version as markdown
  search [--limit N] QUERY     Search stored documents
  status                       Show server status
  version                      Print the version
  help                         Show this help

Commands other than server and templates talk to a running server (--server, default ` + defaultServerURL + `).
`)
}
