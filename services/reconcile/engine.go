package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"groupsync/lib/llm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("groupsync/reconcile")
var meter = otel.Meter("groupsync/reconcile")

var bucketCounter, _ = meter.Int64Counter(
	"reconcile.buckets",
	metric.WithDescription("Listings sorted into each reconciliation bucket."),
)

var fallbackCounter, _ = meter.Int64Counter(
	"reconcile.llm_fallbacks",
	metric.WithDescription("Reconciliations that fell back to the heuristic engine."),
)

const (
	EngineLLM       = "llm"
	EngineHeuristic = "heuristic"
)

type Config struct {
	// "llm" or "heuristic", defaults to llm
	Engine          string   `json:"engine"`
	RetireUnmatched bool     `json:"retire_unmatched"`
	ProtectedNames  []string `json:"protected_names"`
}

func (c Config) WithDefaults() Config {
	if c.Engine == "" {
		c.Engine = EngineLLM
	}
	if c.ProtectedNames == nil {
		c.ProtectedNames = DefaultProtectedNames
	}
	return c
}

func (c Config) Validate() error {
	switch c.Engine {
	case "", EngineLLM, EngineHeuristic:
		return nil
	}
	return fmt.Errorf("reconcile: unknown engine %q", c.Engine)
}

func (c Config) options() Options {
	return Options{
		ProtectedNames:  c.ProtectedNames,
		RetireUnmatched: c.RetireUnmatched,
	}
}

type Engine struct {
	provider llm.Provider
	config   Config
}

// NewEngine creates an engine, provider may be nil in which case only
// the heuristic is used.
func NewEngine(provider llm.Provider, config Config) *Engine {
	return &Engine{provider: provider, config: config.WithDefaults()}
}

// WithEngine returns a copy of the engine that prefers the given engine.
func (e *Engine) WithEngine(engine string) *Engine {
	config := e.config
	config.Engine = engine
	return &Engine{provider: e.provider, config: config}
}

// Reconcile sorts own listings and references into buckets with the
// configured engine, falling back to the heuristic when the model is
// unavailable or fails.
// keepUnmatched moves the retires of a heuristic result standing in for the
// llm engine to untouched unless retire_unmatched is set.
func keepUnmatched(result Result, opts Options) Result {
	if opts.RetireUnmatched {
		return result
	}
	result.Untouched = append(result.Untouched, result.Retires...)
	result.Retires = nil
	return result
}

func (e *Engine) Reconcile(ctx context.Context, own []Own, refs []Reference) Result {
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.Int("own", len(own)),
		attribute.Int("references", len(refs)),
	)

	opts := e.config.options()

	var result Result
	switch {
	case len(refs) == 0:
		// an empty scrape retires nothing
		result = Result{Engine: e.config.Engine, Untouched: own}
	case e.config.Engine == EngineLLM && e.provider != nil:
		var err error
		result, err = MatchLLM(ctx, e.provider, own, refs, opts)
		if err != nil {
			span.RecordError(err)
			slog.WarnContext(ctx, "llm matching failed, falling back to heuristic", "err", err)
			fallbackCounter.Add(ctx, 1)
			result = keepUnmatched(MatchHeuristic(own, refs, opts), opts)
		}
	case e.config.Engine == EngineLLM:
		slog.InfoContext(ctx, "no llm provider configured, using heuristic")
		result = keepUnmatched(MatchHeuristic(own, refs, opts), opts)
	default:
		result = MatchHeuristic(own, refs, opts)
	}

	summary := result.Summary()
	span.SetAttributes(attribute.String("engine", result.Engine))
	for action, count := range map[string]int{
		"keep":      summary.Keep,
		"update":    summary.Update,
		"create":    summary.Create,
		"retire":    summary.Retire,
		"untouched": summary.Untouched,
	} {
		bucketCounter.Add(ctx, int64(count), metric.WithAttributes(
			attribute.String("engine", result.Engine),
			attribute.String("bucket", action),
		))
	}
	slog.InfoContext(ctx, "reconciled listings",
		"engine", result.Engine,
		"keep", summary.Keep,
		"update", summary.Update,
		"create", summary.Create,
		"retire", summary.Retire,
		"untouched", summary.Untouched,
	)
	return result
}
