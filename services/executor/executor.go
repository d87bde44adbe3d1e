package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"groupsync/lib/platforms/douyin"
	"groupsync/lib/platforms/douyinweb"
	"groupsync/services/instruct"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("groupsync/executor")
var meter = otel.Meter("groupsync/executor")

var operationCounter, _ = meter.Int64Counter(
	"executor.operations",
	metric.WithDescription("Operations executed against the platform, by mode and status."),
)

type Mode string

const (
	ModeKeep     Mode = "keep"
	ModeSkip     Mode = "skip"
	ModeUpdate   Mode = "update"
	ModeRetire   Mode = "retire"
	ModeRecreate Mode = "recreate"
	ModeCreate   Mode = "create"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeKeep, ModeSkip, ModeUpdate, ModeRetire, ModeRecreate, ModeCreate:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Operation is a single change to perform. ProductID is empty for
// creates.
type Operation struct {
	Mode      Mode
	ProductID string
	Draft     instruct.Draft
	Reason    string
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusPlanned Status = "planned"
)

type Result struct {
	Operation
	Status Status
	// id of the product created by create or recreate, also set when the
	// product was created but a later step failed
	NewProductID string
	Err          error
}

type Report struct {
	Success int
	Failed  int
	Skipped int
	Results []Result
}

var (
	ErrNoTemplate       = errors.New("no template product to create from")
	ErrWebUnavailable   = errors.New("douyin web api is not configured")
	ErrApprovalTimeout  = errors.New("timed out waiting for product approval")
	ErrMissingProductId = errors.New("operation has no product id")
)

type OpenAPI interface {
	AccountId() string
	Get(ctx context.Context, productId string) (douyin.Detail, error)
	Save(ctx context.Context, save douyin.SaveRequest) (string, error)
	Operate(ctx context.Context, productId string, op douyin.OpType) error
}

type WebAPI interface {
	GetTemplate(ctx context.Context, productId string) (map[string]any, error)
	Save(ctx context.Context, payload map[string]any) (string, error)
	PlaceholderPoiSetId() string
}

type Recorder interface {
	RecordOperation(ctx context.Context, runId string, result Result) error
}

type Config struct {
	DryRun                 bool    `json:"dry_run"`
	SkipPriceUpdate        bool    `json:"skip_price_update"`
	OperationsPerSecond    float64 `json:"operations_per_second"`
	ApprovalPollSeconds    int     `json:"approval_poll_seconds"`
	ApprovalTimeoutSeconds int     `json:"approval_timeout_seconds"`
	TemplateProductId      string  `json:"template_product_id"`
}

func (c Config) WithDefaults() Config {
	if c.OperationsPerSecond == 0 {
		c.OperationsPerSecond = 1
	}
	if c.ApprovalPollSeconds == 0 {
		c.ApprovalPollSeconds = 5
	}
	if c.ApprovalTimeoutSeconds == 0 {
		c.ApprovalTimeoutSeconds = 60
	}
	return c
}

func (c Config) Validate() error {
	if c.OperationsPerSecond < 0 {
		return fmt.Errorf("executor: operations_per_second must not be negative")
	}
	if c.ApprovalPollSeconds < 0 || c.ApprovalTimeoutSeconds < 0 {
		return fmt.Errorf("executor: approval durations must not be negative")
	}
	return nil
}

type Executor struct {
	open     OpenAPI
	web      WebAPI
	recorder Recorder
	config   Config
	limiter  *rate.Limiter
	poll     time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// New creates an executor, web and recorder may be nil.
func New(open OpenAPI, web WebAPI, recorder Recorder, config Config) *Executor {
	config = config.WithDefaults()
	return &Executor{
		open:     open,
		web:      web,
		recorder: recorder,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.OperationsPerSecond), 1),
		poll:     time.Duration(config.ApprovalPollSeconds) * time.Second,
		timeout:  time.Duration(config.ApprovalTimeoutSeconds) * time.Second,
		now:      time.Now,
	}
}

// ChooseTemplate picks the product new products are copied from: the
// first product being updated, else the first product operated on, else
// the fallback.
func ChooseTemplate(ops []Operation, fallback string) string {
	op, ok := lo.Find(ops, func(op Operation) bool {
		return op.Mode == ModeUpdate && op.ProductID != ""
	})
	if ok {
		return op.ProductID
	}
	op, ok = lo.Find(ops, func(op Operation) bool {
		return op.ProductID != ""
	})
	if ok {
		return op.ProductID
	}
	return fallback
}

func editFromDraft(d instruct.Draft, skipPrice bool) douyin.Edit {
	return douyin.Edit{
		Title:       d.Title,
		Price:       d.Price,
		OriginPrice: d.OriginPrice,
		Area:        d.Area,
		Limit:       d.Limit,
		Validity:    d.Validity,
		Notes:       d.Notes,
		SkipPrice:   skipPrice,
	}
}

// ApplyEdit updates an existing product through the open api and moves
// it onto poiId when given.
func (e *Executor) ApplyEdit(ctx context.Context, productId string, draft instruct.Draft, poiId string) error {
	ctx, span := tracer.Start(ctx, "ApplyEdit")
	defer span.End()
	span.SetAttributes(attribute.String("product_id", productId))

	detail, err := e.open.Get(ctx, productId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch product")
		return err
	}
	save, err := douyin.BuildUpdate(e.open.AccountId(), detail, editFromDraft(draft, e.config.SkipPriceUpdate), poiId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build update")
		return err
	}
	_, err = e.open.Save(ctx, save)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save product")
		return err
	}
	return nil
}

func (e *Executor) waitForApproval(ctx context.Context, productId string) (douyin.Detail, error) {
	ctx, span := tracer.Start(ctx, "waitForApproval")
	defer span.End()

	start := e.now()
	for attempt := 1; ; attempt++ {
		detail, err := e.open.Get(ctx, productId)
		if err == nil {
			return detail, nil
		}
		slog.DebugContext(ctx, "product not approved yet", "product_id", productId, "attempt", attempt, "err", err)

		if e.now().Sub(start)+e.poll >= e.timeout {
			span.SetStatus(codes.Error, "approval timed out")
			return nil, ErrApprovalTimeout
		}
		select {
		case <-time.After(e.poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Create makes a new product from a template through the web api, waits
// for it to pass review and moves it onto poiId. The new product id is
// returned even when a step after saving fails.
func (e *Executor) Create(ctx context.Context, templateId string, draft instruct.Draft, poiId string) (string, error) {
	ctx, span := tracer.Start(ctx, "Create")
	defer span.End()

	if e.web == nil {
		return "", ErrWebUnavailable
	}
	if templateId == "" {
		return "", ErrNoTemplate
	}

	template, err := e.web.GetTemplate(ctx, templateId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch template")
		return "", fmt.Errorf("fetch template %s: %w", templateId, err)
	}
	payload, err := douyinweb.BuildFromTemplate(template, douyinweb.NewProduct{
		Title:         draft.Title,
		Price:         draft.Price,
		OriginPrice:   draft.OriginPrice,
		CommodityType: draft.CommodityType,
		MemberType:    draft.MemberType,
	}, e.web.PlaceholderPoiSetId(), e.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build product")
		return "", err
	}
	newId, err := e.web.Save(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save product")
		return "", err
	}
	span.SetAttributes(attribute.String("new_product_id", newId))
	slog.InfoContext(ctx, "created product, waiting for approval", "product_id", newId, "title", draft.Title)

	detail, err := e.waitForApproval(ctx, newId)
	if err != nil {
		span.RecordError(err)
		return newId, err
	}
	save, err := douyin.BuildPOIPatch(e.open.AccountId(), detail, poiId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build poi patch")
		return newId, err
	}
	_, err = e.open.Save(ctx, save)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to move product onto store")
		return newId, fmt.Errorf("move product onto store: %w", err)
	}
	return newId, nil
}

func (e *Executor) describe(op Operation) string {
	switch op.Mode {
	case ModeRetire:
		return fmt.Sprintf("take %s (%s) offline", op.ProductID, op.Draft.Title)
	case ModeUpdate:
		return fmt.Sprintf("update %s to %q at %s/%s", op.ProductID, op.Draft.Title, op.Draft.Price, op.Draft.OriginPrice)
	default:
		return fmt.Sprintf("create %q at %s/%s", op.Draft.Title, op.Draft.Price, op.Draft.OriginPrice)
	}
}

func (e *Executor) execute(ctx context.Context, op Operation, poiId, templateId string) Result {
	result := Result{Operation: op}

	switch op.Mode {
	case ModeKeep, ModeSkip:
		result.Status = StatusSkipped
		return result
	case ModeRetire, ModeUpdate:
		if op.ProductID == "" {
			result.Status = StatusFailed
			result.Err = ErrMissingProductId
			return result
		}
	}
	if op.Mode != ModeRetire {
		err := instruct.ValidateDraft(op.Draft)
		if err != nil {
			result.Status = StatusFailed
			result.Err = err
			return result
		}
	}

	if e.config.DryRun {
		slog.InfoContext(ctx, "dry run: would "+e.describe(op))
		result.Status = StatusPlanned
		return result
	}

	err := e.limiter.Wait(ctx)
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	switch op.Mode {
	case ModeRetire:
		err = e.open.Operate(ctx, op.ProductID, douyin.OpOffline)
	case ModeUpdate:
		err = e.ApplyEdit(ctx, op.ProductID, op.Draft, poiId)
	case ModeRecreate, ModeCreate:
		result.NewProductID, err = e.Create(ctx, templateId, op.Draft, poiId)
	default:
		err = fmt.Errorf("unknown mode %q", op.Mode)
	}

	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}
	result.Status = StatusSuccess
	return result
}

// Run executes operations in order against the store poiId. Failures do
// not stop the run.
func (e *Executor) Run(ctx context.Context, runId, poiId string, ops []Operation) Report {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runId),
		attribute.String("poi_id", poiId),
		attribute.Int("operations", len(ops)),
	)

	templateId := ChooseTemplate(ops, e.config.TemplateProductId)

	var report Report
	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}
		result := e.execute(ctx, op, poiId, templateId)

		switch result.Status {
		case StatusSuccess:
			report.Success++
			slog.InfoContext(ctx, "operation succeeded", "mode", op.Mode, "product_id", op.ProductID, "title", op.Draft.Title, "new_product_id", result.NewProductID)
		case StatusFailed:
			report.Failed++
			slog.ErrorContext(ctx, "operation failed", "mode", op.Mode, "product_id", op.ProductID, "title", op.Draft.Title, "err", result.Err)
		default:
			report.Skipped++
		}
		operationCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mode", string(op.Mode)),
			attribute.String("status", string(result.Status)),
		))

		if e.recorder != nil && result.Status != StatusSkipped {
			err := e.recorder.RecordOperation(ctx, runId, result)
			if err != nil {
				slog.WarnContext(ctx, "failed to record operation", "run_id", runId, "err", err)
			}
		}
		report.Results = append(report.Results, result)
	}

	span.SetAttributes(
		attribute.Int("success", report.Success),
		attribute.Int("failed", report.Failed),
	)
	if report.Failed > 0 {
		span.SetStatus(codes.Error, "some operations failed")
	}
	return report
}
