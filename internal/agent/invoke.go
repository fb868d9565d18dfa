package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/hyperjump/scribe/internal/llm"
	"github.com/hyperjump/scribe/internal/models"
)

// Completer runs a model request under the retry policy.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, []llm.Attempt, error)
}

// Turn is the input of one specialist call.
type Turn struct {
	DocumentType  models.DocumentType
	DocumentTitle string
	SectionTitle  string
	Question      models.Question
	Input         string
	Context       []string
}

// Extraction is what a specialist made of the user's answer.
type Extraction struct {
	Value        string `json:"value"`
	Clarify      string `json:"clarify,omitempty"`
	AgentID      string `json:"agent_id"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Tokens is the amount to charge for the extraction.
func (e *Extraction) Tokens() int {
	return e.InputTokens + e.OutputTokens
}

var funcs = template.FuncMap{"join": strings.Join}

// Prompt renders the specialist's prompt for turn.
func Prompt(s *Specialist, turn Turn) (string, error) {
	text := s.PromptTemplate
	if text == "" {
		text = DefaultPrompt
	}
	tmpl, err := template.New(s.ID).Funcs(funcs).Parse(text)
	if err != nil {
		return "", models.WrapError(models.KindInternal, err, "prompt template of %s", s.ID)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct {
		Agent *Specialist
		Turn  Turn
	}{s, turn}); err != nil {
		return "", models.WrapError(models.KindInternal, err, "render prompt of %s", s.ID)
	}
	return buf.String(), nil
}

// Invoke asks specialist s to extract the answer for turn. It fails with
// invalid_response when the model returns neither a value nor a follow-up.
func Invoke(ctx context.Context, c Completer, s *Specialist, turn Turn, maxTokens int) (*Extraction, error) {
	prompt, err := Prompt(s, turn)
	if err != nil {
		return nil, err
	}
	resp, _, err := c.Complete(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: maxTokens,
		Input:     turn.Input,
	})
	if err != nil {
		return nil, err
	}

	value, clarify := parseReply(resp.Text)
	ex := &Extraction{
		Value:        value,
		Clarify:      clarify,
		AgentID:      s.ID,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if len(turn.Question.Options) > 0 && ex.Value != "" {
		if opt, ok := MatchOption(ex.Value, turn.Question.Options); ok {
			ex.Value = opt
		} else {
			ex.Value = ""
			ex.Clarify = "Please choose one of: " + strings.Join(turn.Question.Options, ", ")
		}
	}
	if ex.Value == "" && ex.Clarify == "" {
		return ex, models.NewError(models.KindInvalidResponse, "%s returned an empty answer for %s", s.ID, turn.Question.ID)
	}
	return ex, nil
}

// parseReply reads {"value", "clarify"} JSON, optionally fenced, and falls back
// to treating the whole reply as the value.
func parseReply(text string) (value, clarify string) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}
	var reply struct {
		Value   json.RawMessage `json:"value"`
		Clarify string          `json:"clarify"`
	}
	if !strings.HasPrefix(body, "{") || json.Unmarshal([]byte(body), &reply) != nil {
		return body, ""
	}
	return strings.TrimSpace(rawValue(reply.Value)), strings.TrimSpace(reply.Clarify)
}

func rawValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, ", ")
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// MatchOption returns the option equal to value ignoring case and surrounding space.
func MatchOption(value string, options []string) (string, bool) {
	v := strings.TrimSpace(value)
	for _, o := range options {
		if strings.EqualFold(v, strings.TrimSpace(o)) {
			return o, true
		}
	}
	return "", false
}
