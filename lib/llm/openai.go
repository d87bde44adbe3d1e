package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultOpenAIBaseUrl = "https://api-inference.modelscope.cn/v1"
	DefaultOpenAIModel   = "deepseek-ai/DeepSeek-V3.1"
)

type OpenAIOptions struct {
	BaseUrl      string
	ApiKey       string
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// OpenAIProvider talks to any OpenAI compatible chat completions
// endpoint using streaming responses.
type OpenAIProvider struct {
	client  openai.Client
	options OpenAIOptions
}

func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.ApiKey == "" {
		return nil, ErrMissingApiKey
	}
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultOpenAIBaseUrl
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Minute
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}

	client := openai.NewClient(
		option.WithAPIKey(opts.ApiKey),
		option.WithBaseURL(opts.BaseUrl),
		option.WithRequestTimeout(opts.Timeout),
		// Complete retries whole streams, empty ones included
		option.WithMaxRetries(0),
	)
	return &OpenAIProvider{client: client, options: opts}, nil
}

func (p *OpenAIProvider) stream(ctx context.Context, prompt string) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: p.options.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if p.options.Temperature > 0 {
		params.Temperature = openai.Float(p.options.Temperature)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var content strings.Builder
	var reasoning strings.Builder
	completion := Completion{Model: p.options.Model}
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			completion.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		content.WriteString(delta.Content)
		// reasoning_content is not part of the openai schema
		reasoning.WriteString(gjson.Get(delta.RawJSON(), "reasoning_content").String())
	}
	err := stream.Err()
	if err != nil {
		return Completion{}, err
	}

	completion.Content = content.String()
	completion.Reasoning = reasoning.String()
	if strings.TrimSpace(completion.Content) == "" {
		return Completion{}, ErrEmptyResponse
	}
	return completion, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	ctx, span := tracer.Start(ctx, "OpenAIProvider.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", p.options.Model))
	requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", "openai")))

	backoff := p.options.RetryBackoff
	for attempt := 0; ; attempt++ {
		completion, err := p.stream(ctx, prompt)
		if err == nil {
			if completion.Reasoning != "" {
				slog.DebugContext(ctx, "llm reasoning", "reasoning", completion.Reasoning)
			}
			slog.DebugContext(ctx, "llm response", "model", completion.Model, "content", completion.Content)
			return completion, nil
		}
		if attempt >= p.options.MaxRetries || !retryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "completion failed")
			return Completion{}, err
		}

		slog.WarnContext(ctx, "llm request failed, retrying", "attempt", attempt+1, "backoff", backoff, "err", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "context done while backing off")
			return Completion{}, ctx.Err()
		}
		backoff *= 2
	}
}
