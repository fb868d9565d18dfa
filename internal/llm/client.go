package llm

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/scribe/internal/models"
	"go.uber.org/zap"
)

// Observer receives one notification per attempt. Used for metrics.
type Observer interface {
	ObserveAttempt(model string, kind models.ErrorKind, latency time.Duration)
	ObserveTokens(model string, input, output int)
}

// Client runs requests through an Invoker under a Policy.
type Client struct {
	invoker  Invoker
	policy   Policy
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
	observer Observer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithObserver sets an attempt observer.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) { c.observer = o }
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) { c.sleep = fn }
}

// NewClient returns a client for invoker.
func NewClient(invoker Invoker, policy Policy, opts ...ClientOption) *Client {
	c := &Client{
		invoker: invoker,
		policy:  policy,
		sleep:   sleepContext,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the client's policy.
func (c *Client) Policy() Policy {
	return c.policy
}

// Complete sends req (whose Model is ignored) and returns the first successful
// response with the attempts it took. On failure the error is the last attempt's.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, []Attempt, error) {
	var history []Attempt
	action := Decide(c.policy, nil)
	for {
		switch action.Kind {
		case ActionFail:
			if len(history) == 0 {
				return nil, nil, models.NewError(models.KindInternal, "no model configured")
			}
			return nil, history, history[len(history)-1].Err
		case ActionRetrySame:
			c.logger.Debug("retrying model call",
				zap.String("model", action.Model),
				zap.Duration("backoff", action.Backoff),
				zap.Int("attempt", len(history)+1))
			if err := c.sleep(ctx, action.Backoff); err != nil {
				return nil, history, err
			}
		case ActionSwitchModel:
			if len(history) > 0 {
				c.logger.Info("switching model", zap.String("model", action.Model))
			}
		}

		req.Model = action.Model
		resp, attempt := c.attempt(ctx, req)
		history = append(history, attempt)
		if attempt.Err == nil {
			return resp, history, nil
		}
		if ctx.Err() != nil {
			return nil, history, ctx.Err()
		}
		c.logger.Warn("model call failed",
			zap.String("model", attempt.Model),
			zap.String("kind", string(attempt.Kind)),
			zap.Error(attempt.Err))
		action = Decide(c.policy, history)
	}
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, Attempt) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if c.policy.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, c.policy.Timeout)
	}
	defer cancel()

	start := time.Now()
	resp, err := c.invoker.Invoke(actx, req)
	latency := time.Since(start)
	if err == nil && resp == nil {
		err = models.NewError(models.KindInvalidResponse, "empty response from %s", req.Model)
	}
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && models.KindOf(err) != models.KindTimeout {
		err = models.WrapError(models.KindTimeout, err, "model %s timed out after %s", req.Model, c.policy.Timeout)
	}

	a := Attempt{Model: req.Model, Err: err, Latency: latency}
	if err != nil {
		a.Kind = models.KindOf(err)
	}
	if c.observer != nil {
		c.observer.ObserveAttempt(req.Model, a.Kind, latency)
		if err == nil {
			c.observer.ObserveTokens(req.Model, resp.InputTokens, resp.OutputTokens)
		}
	}
	if resp != nil && resp.Latency == 0 {
		resp.Latency = latency
	}
	return resp, a
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
