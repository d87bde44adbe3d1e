package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"groupsync/lib/money"
	"groupsync/lib/platforms/douyin"
	"groupsync/lib/platforms/feishu"
	"groupsync/lib/platforms/meituan"
	"groupsync/services/executor"
	"groupsync/services/history"
	"groupsync/services/plan"
	"groupsync/services/reconcile"

	"github.com/stretchr/testify/require"
)

type fakeStores []feishu.Store

func (f fakeStores) ListStores(ctx context.Context) ([]feishu.Store, error) {
	return f, nil
}

type fakeListings map[string][]douyin.Product

func (f fakeListings) QueryOnline(ctx context.Context, poiId string) ([]douyin.Product, error) {
	products, ok := f[poiId]
	if !ok {
		return nil, errors.New("unknown poi")
	}
	return products, nil
}

func (f fakeListings) FilterLive(ctx context.Context, products []douyin.Product) []douyin.Product {
	return products
}

type fakeDeals map[string][]meituan.Deal

func (f fakeDeals) Deals(ctx context.Context, city, name string) (meituan.Shop, []meituan.Deal, error) {
	deals, ok := f[name]
	if !ok {
		return meituan.Shop{}, nil, meituan.ErrStoreNotFound
	}
	return meituan.Shop{Name: name}, deals, nil
}

type fakeRunner struct {
	runs [][]executor.Operation
	ids  []string
}

func (f *fakeRunner) Run(ctx context.Context, runId, poiId string, ops []executor.Operation) executor.Report {
	f.runs = append(f.runs, ops)
	f.ids = append(f.ids, runId)
	return executor.Report{Success: len(ops)}
}

type fakeHistory struct {
	started  []history.RunInfo
	finished []executor.Report
}

func (f *fakeHistory) StartRun(ctx context.Context, info history.RunInfo) (string, error) {
	f.started = append(f.started, info)
	return "run-1", nil
}

func (f *fakeHistory) FinishRun(ctx context.Context, runId string, report executor.Report) error {
	f.finished = append(f.finished, report)
	return nil
}

func p(yuan float64) money.Price {
	return money.New(yuan)
}

var testStores = fakeStores{
	{Name: "竞潮玩 万达店", POIID: "7001", City: "上海"},
	{Name: "broken", POIID: "7002", City: "上海"},
	{Name: "no poi", City: "上海"},
}

var testListings = fakeListings{
	"7001": {
		{ID: "1", Name: "【新客】19.9得50网费", Price: p(19.9), OriginPrice: p(50)},
		{ID: "2", Name: "100元网费", Price: p(88), OriginPrice: p(100)},
		{ID: "3", Name: "通宵包房", Price: p(120), OriginPrice: p(360)},
	},
	"7002": {},
}

var testDeals = fakeDeals{
	"竞潮玩 万达店": {
		{Title: "【新客】19.9得50网费", Price: p(19.9), OriginalPrice: p(50)},
		{Title: "100元网费", Price: p(89), OriginalPrice: p(110)},
		{Title: "新游戏包段", Price: p(500), OriginalPrice: p(600)},
	},
}

func newTestDaemon(t *testing.T, config Config, runner Runner, hist RunHistory) *Daemon {
	config.PlanDir = t.TempDir()
	d := New(Deps{
		Stores:   testStores,
		Listings: testListings,
		Deals:    testDeals,
		Engine:   reconcile.NewEngine(nil, reconcile.Config{Engine: reconcile.EngineHeuristic}),
		Runner:   runner,
		History:  hist,
	}, config)
	d.now = func() time.Time {
		return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	}
	return d
}

func TestSyncStorePlan(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDaemon(t, Config{}, runner, nil)

	path, err := d.SyncStore(context.Background(), testStores[0])
	require.NoError(t, err)
	require.Equal(t, "竞潮玩_万达店-20261017-093000.txt", filepath.Base(path))

	file, err := plan.Load(path)
	require.NoError(t, err)
	require.Equal(t, "竞潮玩 万达店", file.Store)
	require.Equal(t, "7001", file.PoiID)

	modes := make([]executor.Mode, len(file.Operations))
	for i, op := range file.Operations {
		modes[i] = op.Mode
	}
	require.Equal(t, []executor.Mode{
		executor.ModeKeep,
		executor.ModeUpdate,
		executor.ModeCreate,
		executor.ModeRetire,
	}, modes)

	// nothing is applied without auto_apply
	require.Empty(t, runner.runs)
}

func TestSyncStorePlanRecordsRun(t *testing.T) {
	runner := &fakeRunner{}
	hist := &fakeHistory{}
	d := newTestDaemon(t, Config{}, runner, hist)

	_, err := d.SyncStore(context.Background(), testStores[0])
	require.NoError(t, err)

	require.Empty(t, runner.runs)
	require.Equal(t, []history.RunInfo{{Store: "竞潮玩 万达店", PoiID: "7001", Engine: reconcile.EngineHeuristic}}, hist.started)
	require.Equal(t, []executor.Report{{}}, hist.finished)
}

func TestSyncStoreAutoApply(t *testing.T) {
	runner := &fakeRunner{}
	hist := &fakeHistory{}
	d := newTestDaemon(t, Config{AutoApply: true}, runner, hist)

	_, err := d.SyncStore(context.Background(), testStores[0])
	require.NoError(t, err)

	require.Len(t, runner.runs, 1)
	applied := runner.runs[0]
	require.Len(t, applied, 2)
	require.Equal(t, executor.ModeUpdate, applied[0].Mode)
	require.Equal(t, "2", applied[0].ProductID)
	require.Equal(t, executor.ModeRetire, applied[1].Mode)
	require.Equal(t, "3", applied[1].ProductID)

	require.Equal(t, []string{"run-1"}, runner.ids)
	require.Equal(t, []history.RunInfo{{Store: "竞潮玩 万达店", PoiID: "7001", Engine: reconcile.EngineHeuristic}}, hist.started)
	require.Equal(t, []executor.Report{{Success: 2}}, hist.finished)
}

func TestRunOnce(t *testing.T) {
	d := newTestDaemon(t, Config{}, nil, nil)
	require.NoError(t, d.RunOnce(context.Background()))

	// the broken store fails without stopping the run and the store
	// without a poi is never synced
	entries, err := os.ReadDir(d.config.PlanDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	d = newTestDaemon(t, Config{Stores: []string{"broken"}}, nil, nil)
	require.NoError(t, d.RunOnce(context.Background()))
	entries, err = os.ReadDir(d.config.PlanDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunStopsOnCancel(t *testing.T) {
	d := newTestDaemon(t, Config{PerfStatsSeconds: 3600}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- d.Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestConfig(t *testing.T) {
	config := Config{}.WithDefaults()
	require.Equal(t, 60, config.IntervalMinutes)
	require.Equal(t, ".dev/plans", config.PlanDir)
	require.NoError(t, config.Validate())
	require.Error(t, Config{IntervalMinutes: -1}.Validate())
}
