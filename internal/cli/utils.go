// Package cli provides CLI utilities for Scribe.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/scribe/internal/models"
	"github.com/hyperjump/scribe/internal/orchestrator"
	"github.com/hyperjump/scribe/internal/search"
	"github.com/hyperjump/scribe/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteTurn writes the outcome of a turn: what was recorded and what to
// answer next.
func WriteTurn(w io.Writer, res *orchestrator.TurnResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	c := res.Conversation
	fmt.Fprintf(w, "Conversation %s  [%s, %s]  tokens %d/%d\n", c.ID, c.Phase, c.Status, c.TokensUsed, c.TokenCeiling)
	if res.Clarification != "" {
		fmt.Fprintf(w, "Follow-up: %s\n", res.Clarification)
	}
	for _, d := range res.Documents {
		fmt.Fprintf(w, "Updated %s v%d (%s, %.0f%% covered)\n", d.DocumentType, d.Version, d.Status, d.Coverage*100)
	}
	writeQuestion(w, res.Question)
	return nil
}

func writeQuestion(w io.Writer, q *models.PendingQuestion) {
	if q == nil {
		fmt.Fprintln(w, "No question pending.")
		return
	}
	fmt.Fprintf(w, "\n[%s/%s] %s\n", q.DocumentType, q.Question.ID, q.Question.Content)
	if len(q.Question.Options) > 0 {
		fmt.Fprintf(w, "Options: %s\n", strings.Join(q.Question.Options, ", "))
	}
}

// WriteConversation writes the state of a conversation and its per-document progress.
func WriteConversation(w io.Writer, c *models.Conversation, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, c)
	}
	fmt.Fprintf(w, "Conversation %s (%s)\n", c.ID, c.Type)
	fmt.Fprintf(w, "phase:    %s\n", c.Phase)
	fmt.Fprintf(w, "status:   %s\n", c.Status)
	fmt.Fprintf(w, "answers:  %d\n", c.AnswerCount)
	fmt.Fprintf(w, "tokens:   %d/%d\n", c.TokensUsed, c.TokenCeiling)
	if c.Stale {
		fmt.Fprintln(w, "stale:    true")
	}
	fmt.Fprintln(w)
	for _, dt := range c.DocumentTypes {
		p := c.Progress[dt]
		if p == nil {
			continue
		}
		switch {
		case p.Disabled:
			fmt.Fprintf(w, "  %-6s disabled: %s\n", dt, p.DisabledReason)
		case p.LatestVersion == 0:
			fmt.Fprintf(w, "  %-6s no document yet\n", dt)
		default:
			fmt.Fprintf(w, "  %-6s v%d %s  (%s)\n", dt, p.LatestVersion, p.LatestStatus, p.DocumentID)
		}
	}
	writeQuestion(w, c.Current)
	return nil
}

// WriteSearchResults writes search hits, and the suggested query when nothing matched.
func WriteSearchResults(w io.Writer, query string, hits []search.Hit, suggestion *search.Suggestion, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]interface{}{"query": query, "hits": hits, "suggestion": suggestion})
	}
	fmt.Fprintf(w, "\nFound %d results for %q\n\n", len(hits), query)
	if len(hits) == 0 && suggestion != nil {
		fmt.Fprintf(w, "Did you mean: %s\n", suggestion.Query)
		return nil
	}
	for i, h := range hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", i+1, h.Score)
		fmt.Fprintf(w, "Document: %s v%d (%s) | Conversation: %s\n", h.DocumentID, h.Version, h.DocumentType, h.ConversationID)
		fmt.Fprintf(w, "Section: %s\n", h.SectionTitle)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(h.Snippet, 200))
	}
	return nil
}

// WriteTemplates lists templates ordered by document type.
func WriteTemplates(w io.Writer, tpls []*models.Template, format OutputFormat) error {
	sorted := append([]*models.Template(nil), tpls...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DocumentType < sorted[j].DocumentType })
	if format == OutputJSON {
		return WriteJSON(w, sorted)
	}
	for _, t := range sorted {
		sections := t.OrderedSections()
		questions := 0
		for _, s := range sections {
			questions += len(s.Questions)
		}
		fmt.Fprintf(w, "%-6s %-36s v%-5s %-10s %d sections, %d questions\n",
			t.DocumentType, t.Title, t.Version, t.Phase, len(sections), questions)
	}
	return nil
}
