// Package llm wraps model invocation behind a small interface and applies the
// retry and model fallback policy.
package llm

import (
	"context"
	"time"

	"github.com/hyperjump/scribe/internal/models"
)

// Request is one model call.
type Request struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
	// Input is the raw user text the prompt was built from. Providers may ignore it.
	Input string
}

// Response is the result of a successful call.
type Response struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Latency      time.Duration `json:"latency"`
}

// TotalTokens is the amount charged against a conversation budget.
func (r *Response) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Invoker calls a model. Failures are *models.Error with kind rate_limited,
// timeout, invalid_response or context_overflow.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (*Response, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Policy is the retry and fallback policy. Models are tried in order; each gets
// up to MaxAttempts attempts when failures are retryable.
type Policy struct {
	Models         []string
	MaxAttempts    int
	InitialBackoff time.Duration
	Timeout        time.Duration
}

// Attempt records one call made under a policy.
type Attempt struct {
	Model   string           `json:"model"`
	Kind    models.ErrorKind `json:"kind,omitempty"`
	Err     error            `json:"-"`
	Latency time.Duration    `json:"latency"`
}

// ActionKind is what to do after a failed attempt.
type ActionKind string

const (
	ActionRetrySame   ActionKind = "retry_same"
	ActionSwitchModel ActionKind = "switch_model"
	ActionFail        ActionKind = "fail"
)

// Action is the decision returned by Decide.
type Action struct {
	Kind    ActionKind
	Model   string
	Backoff time.Duration
}

// Decide returns the next step given the attempts made so far. It is pure:
// the same policy and history always yield the same action.
//
// With no history the first model is selected. After a non-retryable failure
// it fails. A retryable failure is retried on the same model with exponential
// backoff until MaxAttempts is reached, then the next model in the chain is
// tried; when the chain is exhausted it fails.
func Decide(p Policy, history []Attempt) Action {
	if len(p.Models) == 0 {
		return Action{Kind: ActionFail}
	}
	if len(history) == 0 {
		return Action{Kind: ActionSwitchModel, Model: p.Models[0]}
	}
	last := history[len(history)-1]
	if last.Kind.Category() != models.CategoryTransient {
		return Action{Kind: ActionFail}
	}

	onModel := 0
	for i := len(history) - 1; i >= 0 && history[i].Model == last.Model; i-- {
		onModel++
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if onModel < maxAttempts {
		return Action{Kind: ActionRetrySame, Model: last.Model, Backoff: backoff(p.InitialBackoff, onModel)}
	}

	for i, m := range p.Models {
		if m == last.Model && i+1 < len(p.Models) {
			return Action{Kind: ActionSwitchModel, Model: p.Models[i+1]}
		}
	}
	return Action{Kind: ActionFail}
}

// backoff doubles initial for every failed attempt after the first.
func backoff(initial time.Duration, failures int) time.Duration {
	if initial <= 0 || failures <= 0 {
		return 0
	}
	return initial << uint(failures-1)
}
