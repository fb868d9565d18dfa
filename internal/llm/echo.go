package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hyperjump/scribe/internal/models"
)

// Echo is an offline Invoker that returns the user's input as the extracted
// value. It lets the interview run without a model provider.
type Echo struct{}

// Invoke returns {"value": req.Input}. Token counts are word counts.
func (Echo) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.WrapError(models.KindTimeout, err, "echo cancelled")
	}
	start := time.Now()
	body, err := json.Marshal(map[string]string{"value": strings.TrimSpace(req.Input)})
	if err != nil {
		return nil, models.WrapError(models.KindInvalidResponse, err, "echo encode")
	}
	return &Response{
		Text:         string(body),
		Model:        req.Model,
		InputTokens:  len(strings.Fields(req.System)) + len(strings.Fields(req.Prompt)),
		OutputTokens: len(strings.Fields(req.Input)),
		Latency:      time.Since(start),
	}, nil
}
