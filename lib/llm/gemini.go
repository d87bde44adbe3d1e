package llm

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float64
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, temperature float64) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, ErrMissingApiKey
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, temperature: temperature}, nil
}

func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	ctx, span := tracer.Start(ctx, "GeminiProvider.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", p.model))
	requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", "gemini")))

	var config *genai.GenerateContentConfig
	if p.temperature > 0 {
		config = &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(p.temperature))}
	}
	res, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate content failed")
		return Completion{}, err
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		span.SetStatus(codes.Error, "no candidates")
		return Completion{}, ErrEmptyResponse
	}

	var content strings.Builder
	var reasoning strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if part.Thought {
			reasoning.WriteString(part.Text)
			continue
		}
		content.WriteString(part.Text)
	}
	if strings.TrimSpace(content.String()) == "" {
		span.SetStatus(codes.Error, "empty response")
		return Completion{}, ErrEmptyResponse
	}

	model := p.model
	if res.ModelVersion != "" {
		model = res.ModelVersion
	}
	return Completion{Content: content.String(), Reasoning: reasoning.String(), Model: model}, nil
}
