package llm

import (
	"testing"
	"time"

	"github.com/hyperjump/scribe/internal/models"
)

func TestDecide(t *testing.T) {
	policy := Policy{
		Models:         []string{"primary", "fallback1", "fallback2"},
		MaxAttempts:    3,
		InitialBackoff: time.Second,
	}
	rl := func(model string) Attempt { return Attempt{Model: model, Kind: models.KindRateLimited} }
	to := func(model string) Attempt { return Attempt{Model: model, Kind: models.KindTimeout} }

	tests := []struct {
		name    string
		history []Attempt
		want    Action
	}{
		{"first call uses primary", nil, Action{Kind: ActionSwitchModel, Model: "primary"}},
		{"rate limit retries after 1s", []Attempt{rl("primary")}, Action{Kind: ActionRetrySame, Model: "primary", Backoff: time.Second}},
		{"second failure backs off 2s", []Attempt{rl("primary"), to("primary")}, Action{Kind: ActionRetrySame, Model: "primary", Backoff: 2 * time.Second}},
		{"exhausted primary switches", []Attempt{rl("primary"), rl("primary"), rl("primary")}, Action{Kind: ActionSwitchModel, Model: "fallback1"}},
		{"fallback retried with fresh backoff", []Attempt{rl("primary"), rl("primary"), rl("primary"), to("fallback1")}, Action{Kind: ActionRetrySame, Model: "fallback1", Backoff: time.Second}},
		{"invalid response fails immediately", []Attempt{{Model: "primary", Kind: models.KindInvalidResponse}}, Action{Kind: ActionFail}},
		{"context overflow fails immediately", []Attempt{rl("primary"), {Model: "primary", Kind: models.KindContextOverflow}}, Action{Kind: ActionFail}},
		{"chain exhausted fails", []Attempt{rl("fallback2"), rl("fallback2"), rl("fallback2")}, Action{Kind: ActionFail}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(policy, tt.history)
			if got != tt.want {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecide_NoModels(t *testing.T) {
	if got := Decide(Policy{}, nil); got.Kind != ActionFail {
		t.Errorf("Decide(no models) = %+v, want fail", got)
	}
}

func TestDecide_IsPure(t *testing.T) {
	policy := Policy{Models: []string{"a"}, MaxAttempts: 3, InitialBackoff: time.Second}
	history := []Attempt{{Model: "a", Kind: models.KindTimeout}}
	first := Decide(policy, history)
	for i := 0; i < 10; i++ {
		if got := Decide(policy, history); got != first {
			t.Fatalf("Decide() not deterministic: %+v vs %+v", got, first)
		}
	}
}
