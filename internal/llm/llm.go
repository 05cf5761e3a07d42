// Package llm is the single path by which the pipeline talks to the model:
// every call is rate limited, retried through a resilience policy and has
// its token usage logged.
package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/verifin/recon-cli/internal/resilience"
	"github.com/verifin/recon-cli/pkg/anthropic"
)

// Caller sends single-turn prompts to the model.
type Caller struct {
	client  anthropic.Client
	limiter *rate.Limiter
	policy  resilience.Policy
}

// NewCaller wraps client. requestsPerSecond <= 0 disables rate limiting.
func NewCaller(client anthropic.Client, requestsPerSecond float64, policy resilience.Policy) *Caller {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if policy.Retry.ShouldRetry == nil {
		policy.Retry.ShouldRetry = func(err error) bool {
			return anthropic.IsRetryable(err) || resilience.IsTransient(err)
		}
	}
	return &Caller{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		policy:  policy,
	}
}

// Prompt is one model request.
type Prompt struct {
	Model       string
	MaxTokens   int64
	System      string
	User        string
	Temperature float64
}

// Complete sends p and returns the response text. phase names the pipeline
// step in logs.
func (c *Caller) Complete(ctx context.Context, phase string, p Prompt) (string, error) {
	temp := p.Temperature
	req := anthropic.MessageRequest{
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		System:      p.System,
		Messages:    []anthropic.Message{{Role: "user", Content: p.User}},
		Temperature: &temp,
	}

	resp, err := resilience.Call(ctx, c.policy, phase, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "llm: rate limit wait")
		}
		return c.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return "", eris.Wrapf(err, "llm: %s", phase)
	}

	resp.Usage.LogCost(p.Model, phase)
	return strings.TrimSpace(resp.Text()), nil
}

// StripFences removes a surrounding markdown code fence (```lang ... ```).
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
		text = text[nl+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// CleanJSON strips fences and slices from the first '{' to the last '}'.
func CleanJSON(text string) string {
	text = StripFences(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
