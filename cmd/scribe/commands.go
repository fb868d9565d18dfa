package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strconv"

	"github.com/hyperjump/scribe/internal/agent"
	"github.com/hyperjump/scribe/internal/catalog"
	"github.com/hyperjump/scribe/internal/cli"
	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/orchestrator"
	"github.com/hyperjump/scribe/internal/search"
	"github.com/hyperjump/scribe/internal/storage"
	"github.com/hyperjump/scribe/pkg/utils"
)

// clientFlags registers the flags shared by commands that call the server.
type clientFlags struct {
	server *string
	output *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		server: fs.String("server", defaultServerURL, "server URL"),
		output: fs.String("output", "text", "output format: text or json"),
	}
}

func (f clientFlags) client() *cli.Client {
	return cli.NewClient(*f.server)
}

func (f clientFlags) format() (cli.OutputFormat, error) {
	return cli.ParseFormat(*f.output)
}

func conversationPath(id, suffix string) string {
	return "/api/v1/conversations/" + url.PathEscape(id) + suffix
}

// parseDocumentTypes reads a comma separated --docs value.
func parseDocumentTypes(s string) []models.DocumentType {
	var out []models.DocumentType
	for _, item := range utils.SplitList(s) {
		out = append(out, models.DocumentType(item))
	}
	return out
}

func runNew(args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	docs := fs.String("docs", "", "comma separated document types (default: per conversation type)")
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: scribe new [--docs prd,brd] <idea|feature|tool>")
	}
	format, err := cf.format()
	if err != nil {
		return err
	}
	req := orchestrator.CreateRequest{
		Type:          models.ConversationType(fs.Arg(0)),
		DocumentTypes: parseDocumentTypes(*docs),
	}
	var res orchestrator.TurnResult
	if err := cf.client().Post(context.Background(), "/api/v1/conversations", req, &res); err != nil {
		return err
	}
	return cli.WriteTurn(os.Stdout, &res, format)
}

func runAnswer(args []string) error {
	fs := flag.NewFlagSet("answer", flag.ExitOnError)
	question := fs.String("question", "", "question id (default: the pending question)")
	docType := fs.String("doc", "", "document type of the question")
	skip := fs.Bool("skip", false, "skip an optional question")
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: scribe answer <conversation-id> [--question ID] [--skip] <answer>")
	}
	format, err := cf.format()
	if err != nil {
		return err
	}
	req := orchestrator.AnswerRequest{
		DocumentType: models.DocumentType(*docType),
		QuestionID:   *question,
		Value:        joinArgs(fs.Args()[1:]),
		Skip:         *skip,
	}
	if req.Value == "" && !req.Skip {
		return fmt.Errorf("answer text is required unless --skip is set")
	}
	var res orchestrator.TurnResult
	if err := cf.client().Post(context.Background(), conversationPath(fs.Arg(0), "/answers"), req, &res); err != nil {
		return err
	}
	return cli.WriteTurn(os.Stdout, &res, format)
}

// runLifecycle handles pause, resume and complete.
func runLifecycle(command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: scribe %s <conversation-id>", command)
	}
	format, err := cf.format()
	if err != nil {
		return err
	}
	path := conversationPath(fs.Arg(0), "/"+command)
	ctx := context.Background()
	if command == "pause" {
		var conv models.Conversation
		if err := cf.client().Post(ctx, path, nil, &conv); err != nil {
			return err
		}
		return cli.WriteConversation(os.Stdout, &conv, format)
	}
	var res orchestrator.TurnResult
	if err := cf.client().Post(ctx, path, nil, &res); err != nil {
		return err
	}
	return cli.WriteTurn(os.Stdout, &res, format)
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: scribe show <conversation-id>")
	}
	format, err := cf.format()
	if err != nil {
		return err
	}
	var conv models.Conversation
	if err := cf.client().Get(context.Background(), conversationPath(fs.Arg(0), ""), nil, &conv); err != nil {
		return err
	}
	return cli.WriteConversation(os.Stdout, &conv, format)
}

// documentPath addresses the latest version when version is 0.
func documentPath(id string, version int) string {
	p := "/api/v1/documents/" + url.PathEscape(id)
	if version > 0 {
		p += "/versions/" + strconv.Itoa(version)
	}
	return p
}

func runDocument(args []string) error {
	fs := flag.NewFlagSet("document", flag.ExitOnError)
	ver := fs.Int("version", 0, "document version (default: latest)")
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: scribe document <document-id> [--version N] [--output json]")
	}
	format, err := cf.format()
	if err != nil {
		return err
	}
	ctx := context.Background()
	path := documentPath(fs.Arg(0), *ver)
	if format == cli.OutputJSON {
		var doc models.Document
		if err := cf.client().Get(ctx, path, nil, &doc); err != nil {
			return err
		}
		return cli.WriteJSON(os.Stdout, &doc)
	}
	return cf.client().Get(ctx, path, url.Values{"format": {"markdown"}}, io.Writer(os.Stdout))
}

type searchResult struct {
	Query      string             `json:"query"`
	Hits       []search.Hit       `json:"hits"`
	Suggestion *search.Suggestion `json:"suggestion,omitempty"`
}

func searchValues(q string, limit int, conversationID, docType string, fuzzy bool) url.Values {
	v := url.Values{"q": {q}, "limit": {strconv.Itoa(limit)}}
	if conversationID != "" {
		v.Set("conversation_id", conversationID)
	}
	if docType != "" {
		v.Set("document_type", docType)
	}
	if fuzzy {
		v.Set("fuzzy", "true")
	}
	return v
}

func runSearch(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", 10, "number of results")
	conversationID := fs.String("conversation", "", "only search this conversation")
	docType := fs.String("type", "", "only search this document type")
	fuzzy := fs.Bool("fuzzy", false, "enable typo tolerance")
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(args))
	query := joinArgs(fs.Args())
	if query == "" {
		return fmt.Errorf("usage: scribe search [--limit N] [--fuzzy] <query>")
	}
	format, err := cf.format()
	if err != nil {
		return err
	}
	ctx := context.Background()
	client := cf.client()
	var res searchResult
	if err := client.Get(ctx, "/api/v1/search", searchValues(query, *limit, *conversationID, *docType, *fuzzy), &res); err != nil {
		return err
	}
	// Retry once with typo tolerance before reporting nothing.
	if len(res.Hits) == 0 && !*fuzzy {
		var retry searchResult
		if err := client.Get(ctx, "/api/v1/search", searchValues(query, *limit, *conversationID, *docType, true), &retry); err == nil && len(retry.Hits) > 0 {
			res = retry
		}
	}
	return cli.WriteSearchResults(os.Stdout, query, res.Hits, res.Suggestion, format)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (used with --server=\"\")")
	cf := addClientFlags(fs)
	_ = fs.Parse(args)
	format, err := cf.format()
	if err != nil {
		return err
	}

	var status map[string]interface{}
	if *cf.server != "" {
		if err := cf.client().Get(context.Background(), "/api/v1/status", nil, &status); err != nil {
			return err
		}
	} else {
		// Direct access only works while no server holds the database.
		status, err = statusDirect(*configPath)
		if err != nil {
			return err
		}
	}
	if format == cli.OutputJSON {
		return cli.WriteJSON(os.Stdout, status)
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("Scribe Status")
	fmt.Println("=============")
	for _, k := range keys {
		fmt.Printf("%-18s %v\n", k+":", status[k])
	}
	return nil
}

func statusDirect(configPath string) (map[string]interface{}, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	ctx := context.Background()
	convs, err := store.CountConversations(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := store.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"conversations": convs,
		"documents":     docs,
		"database_path": cfg.Storage.DatabasePath,
	}
	if n, err := storage.FootprintBytes(cfg.Storage.DatabasePath, cfg.Storage.SearchIndexPath); err == nil {
		out["disk_usage_bytes"] = n
	}
	return out, nil
}

func runTemplates(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: scribe templates <list|validate> [flags]")
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("templates list", flag.ExitOnError)
		dir := fs.String("dir", "", "template directory (default: built-in templates)")
		output := fs.String("output", "text", "output format: text or json")
		_ = fs.Parse(args[1:])
		format, err := cli.ParseFormat(*output)
		if err != nil {
			return err
		}
		cat, err := loadCatalog(*dir)
		if err != nil {
			return err
		}
		return cli.WriteTemplates(os.Stdout, cat.Templates(), format)
	case "validate":
		fs := flag.NewFlagSet("templates validate", flag.ExitOnError)
		configPath := fs.String("config", defaultConfigPath, "config file path, for configured agents")
		_ = fs.Parse(argsReorder(args[1:]))
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: scribe templates validate <dir>")
		}
		return validateTemplates(os.Stdout, fs.Arg(0), *configPath)
	}
	return fmt.Errorf("unknown templates command %q", args[0])
}

// validateTemplates loads dir and checks that a specialist can serve every
// section of every template.
func validateTemplates(w io.Writer, dir, configPath string) error {
	cat, err := catalog.LoadDir(dir)
	if err != nil {
		return err
	}
	specialists := agent.DefaultSpecialists()
	if cfg, _, err := loadConfig(configPath); err == nil {
		specialists = agent.FromConfig(specialists, cfg.Agents)
	}
	router := agent.NewRouter(specialists)
	var problems []error
	for _, tpl := range cat.Templates() {
		problems = append(problems, router.Unroutable(tpl)...)
	}
	for _, p := range problems {
		fmt.Fprintf(w, "  %v\n", p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d sections cannot be routed", len(problems))
	}
	fmt.Fprintf(w, "%s: %d templates ok\n", dir, len(cat.Types()))
	return nil
}
