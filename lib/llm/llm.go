package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("groupsync/llm")
var meter = otel.Meter("groupsync/llm")

var requestCounter, _ = meter.Int64Counter(
	"llm.requests",
	metric.WithDescription("Completions requested from a provider."),
)
var cacheHitCounter, _ = meter.Int64Counter(
	"llm.cache_hits",
	metric.WithDescription("Completions served from the prompt cache."),
)

var (
	ErrNoJSON        = errors.New("llm: no json object in response")
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrMissingApiKey = errors.New("llm: api key is required")
)

type Completion struct {
	Content string `json:"content"`
	// reasoning tokens for models that stream them separately
	Reasoning string `json:"reasoning,omitempty"`
	Model     string `json:"model"`
}

type Provider interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

var jsonObjectRegex = regexp.MustCompile(`\{[\s\S]*\}`)

// ExtractJSON returns the span from the first '{' to the last '}' of a
// model response, which drops markdown fences and chatter around it.
func ExtractJSON(text string) (string, error) {
	found := jsonObjectRegex.FindString(text)
	if found == "" {
		return "", ErrNoJSON
	}
	return found, nil
}

func DecodeJSON[T any](text string) (T, error) {
	var out T
	raw, err := ExtractJSON(text)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal([]byte(raw), &out)
	if err != nil {
		return out, fmt.Errorf("llm: decode response: %w", err)
	}
	return out, nil
}

// Ask completes a prompt and decodes the json object in the response.
func Ask[T any](ctx context.Context, provider Provider, prompt string) (T, Completion, error) {
	var out T
	completion, err := provider.Complete(ctx, prompt)
	if err != nil {
		return out, completion, err
	}
	out, err = DecodeJSON[T](completion.Content)
	return out, completion, err
}

type limitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// RateLimited paces calls to provider to at most perMinute requests per
// minute.
func RateLimited(provider Provider, perMinute float64) Provider {
	if perMinute <= 0 {
		return provider
	}
	return limitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(perMinute/60), 1),
	}
}

func (p limitedProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	err := p.limiter.Wait(ctx)
	if err != nil {
		return Completion{}, err
	}
	return p.provider.Complete(ctx, prompt)
}
