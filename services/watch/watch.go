package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"groupsync/lib/platforms/douyin"
	"groupsync/lib/platforms/feishu"
	"groupsync/lib/platforms/meituan"
	"groupsync/lib/telemetry"
	"groupsync/services/executor"
	"groupsync/services/history"
	"groupsync/services/plan"
	"groupsync/services/reconcile"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("groupsync/watch")
var meter = otel.Meter("groupsync/watch")

var syncCounter, _ = meter.Int64Counter(
	"watch.syncs",
	metric.WithDescription("Store reconciliations run by the daemon, by result."),
)

type StoreSource interface {
	ListStores(ctx context.Context) ([]feishu.Store, error)
}

type ListingSource interface {
	QueryOnline(ctx context.Context, poiId string) ([]douyin.Product, error)
	FilterLive(ctx context.Context, products []douyin.Product) []douyin.Product
}

type DealSource interface {
	Deals(ctx context.Context, city, name string) (meituan.Shop, []meituan.Deal, error)
}

type Runner interface {
	Run(ctx context.Context, runId, poiId string, ops []executor.Operation) executor.Report
}

type RunHistory interface {
	StartRun(ctx context.Context, info history.RunInfo) (string, error)
	FinishRun(ctx context.Context, runId string, report executor.Report) error
}

type Config struct {
	IntervalMinutes int    `json:"interval_minutes"`
	PlanDir         string `json:"plan_dir"`
	// only update and retire operations are ever applied automatically
	AutoApply bool `json:"auto_apply"`
	// store names to watch, empty watches every store in the directory
	Stores           []string `json:"stores"`
	PerfStatsSeconds int      `json:"perf_stats_seconds"`
}

func (c Config) WithDefaults() Config {
	if c.IntervalMinutes == 0 {
		c.IntervalMinutes = 60
	}
	if c.PlanDir == "" {
		c.PlanDir = ".dev/plans"
	}
	if c.PerfStatsSeconds == 0 {
		c.PerfStatsSeconds = 30
	}
	return c
}

func (c Config) Validate() error {
	if c.IntervalMinutes < 0 {
		return fmt.Errorf("watch: interval_minutes must not be negative")
	}
	return nil
}

type Deps struct {
	Stores   StoreSource
	Listings ListingSource
	Deals    DealSource
	Engine   *reconcile.Engine
	// Runner is only needed with auto_apply. Every sync is recorded in
	// History when it is set.
	Runner  Runner
	History RunHistory
}

type Daemon struct {
	deps   Deps
	config Config
	now    func() time.Time
}

func New(deps Deps, config Config) *Daemon {
	return &Daemon{deps: deps, config: config.WithDefaults(), now: time.Now}
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

func (d *Daemon) planPath(store string) string {
	return filepath.Join(
		d.config.PlanDir,
		fmt.Sprintf("%s-%s.txt", sanitizeFilename(store), d.now().Format("20060102-150405")),
	)
}

// SyncStore reconciles one store, saves the plan and applies the safe
// part of it when auto_apply is set. It returns the path of the plan.
func (d *Daemon) SyncStore(ctx context.Context, store feishu.Store) (string, error) {
	ctx, span := tracer.Start(ctx, "SyncStore")
	defer span.End()
	span.SetAttributes(
		attribute.String("store", store.Name),
		attribute.String("poi_id", store.POIID),
	)

	products, err := d.deps.Listings.QueryOnline(ctx, store.POIID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch own listings")
		return "", fmt.Errorf("fetch listings: %w", err)
	}
	products = d.deps.Listings.FilterLive(ctx, products)

	_, deals, err := d.deps.Deals.Deals(ctx, store.City, store.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch reference deals")
		return "", fmt.Errorf("fetch deals: %w", err)
	}

	result := d.deps.Engine.Reconcile(ctx, reconcile.OwnFromProducts(products), reconcile.ReferencesFromDeals(deals))
	ops := result.Operations()

	path := d.planPath(store.Name)
	err = plan.Save(path, plan.File{Store: store.Name, PoiID: store.POIID, Operations: ops})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save plan")
		return "", err
	}
	summary := result.Summary()
	slog.InfoContext(ctx, "saved pending plan",
		"store", store.Name,
		"path", path,
		"update", summary.Update,
		"create", summary.Create,
		"retire", summary.Retire,
	)

	runId := ""
	if d.deps.History != nil {
		runId, err = d.deps.History.StartRun(ctx, history.RunInfo{
			Store:  store.Name,
			PoiID:  store.POIID,
			Engine: result.Engine,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to record run", "store", store.Name, "err", err)
		}
	}

	var report executor.Report
	if d.config.AutoApply && d.deps.Runner != nil {
		safe := lo.Filter(ops, func(op executor.Operation, _ int) bool {
			return op.Mode == executor.ModeUpdate || op.Mode == executor.ModeRetire
		})
		if len(safe) > 0 {
			report = d.deps.Runner.Run(ctx, runId, store.POIID, safe)
			slog.InfoContext(ctx, "applied plan",
				"store", store.Name,
				"success", report.Success,
				"failed", report.Failed,
			)
		}
	}

	// plan-only syncs finish with an empty report
	if d.deps.History != nil && runId != "" {
		err = d.deps.History.FinishRun(ctx, runId, report)
		if err != nil {
			slog.WarnContext(ctx, "failed to finish run", "run_id", runId, "err", err)
		}
	}
	return path, nil
}

func (d *Daemon) watched(stores []feishu.Store) []feishu.Store {
	return lo.Filter(stores, func(s feishu.Store, _ int) bool {
		if s.POIID == "" {
			return false
		}
		return len(d.config.Stores) == 0 || lo.Contains(d.config.Stores, s.Name)
	})
}

// RunOnce syncs every watched store in turn. A failing store does not
// stop the others.
func (d *Daemon) RunOnce(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "RunOnce")
	defer span.End()

	stores, err := d.deps.Stores.ListStores(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list stores")
		return err
	}

	// serially, the reference platform blocks bursts of requests
	for _, store := range d.watched(stores) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := d.SyncStore(ctx, store)
		status := "ok"
		if err != nil {
			status = "error"
			slog.ErrorContext(ctx, "sync store", "store", store.Name, "err", err)
		}
		syncCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
	return nil
}

// Run syncs immediately and then every interval until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	telemetry.InstrumentPerfStats(ctx, time.Duration(d.config.PerfStatsSeconds)*time.Second)

	err := d.RunOnce(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "sync stores", "err", err)
	}

	ticker := time.NewTicker(time.Duration(d.config.IntervalMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := d.RunOnce(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "sync stores", "err", err)
			}
		}
	}
}
