package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"groupsync/lib/llm"
	"groupsync/lib/platforms/douyin"
	"groupsync/lib/platforms/douyinweb"
	"groupsync/lib/platforms/feishu"
	"groupsync/lib/platforms/meituan"
	"groupsync/lib/restyutil"
	"groupsync/services/executor"
	"groupsync/services/history"
	"groupsync/services/reconcile"
)

const restyDumpDir = ".dev/resty"

// App lazily builds the clients a command needs from the config.
type App struct {
	Config Config

	douyin    *douyin.Client
	douyinWeb *douyinweb.Client
	feishu    *feishu.Client
	meituan   *meituan.Client
	db        *sql.DB
	history   *history.Store
	cache     *llm.Cache
	provider  llm.Provider
}

func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// dumpHttp writes every http exchange of every platform client to
// .dev/resty/<client>/ when debug logging is enabled.
func dumpHttp() error {
	for name, set := range map[string]func(restyutil.InstrumentOutput){
		"douyin":     douyin.SetRestyInstrumentOutput,
		"douyin_web": douyinweb.SetRestyInstrumentOutput,
		"feishu":     feishu.SetRestyInstrumentOutput,
		"meituan":    meituan.SetRestyInstrumentOutput,
	} {
		out, err := restyutil.NewFilesystemOutput(filepath.Join(restyDumpDir, name))
		if err != nil {
			return err
		}
		set(out)
	}
	return nil
}

func (a *App) Douyin() (*douyin.Client, error) {
	if a.douyin != nil {
		return a.douyin, nil
	}
	client, err := douyin.NewClient(a.Config.Douyin)
	if err != nil {
		return nil, fmt.Errorf("douyin client: %w", err)
	}
	a.douyin = client
	return client, nil
}

// DouyinWeb returns nil without an error when the web api is not
// configured, creating products is then unavailable.
func (a *App) DouyinWeb() (*douyinweb.Client, error) {
	if a.douyinWeb != nil || !a.Config.webConfigured() {
		return a.douyinWeb, nil
	}
	client, err := douyinweb.NewClient(a.Config.DouyinWeb)
	if err != nil {
		return nil, fmt.Errorf("douyin web client: %w", err)
	}
	a.douyinWeb = client
	return client, nil
}

func (a *App) Feishu() (*feishu.Client, error) {
	if a.feishu != nil {
		return a.feishu, nil
	}
	client, err := feishu.NewClient(a.Config.Feishu)
	if err != nil {
		return nil, fmt.Errorf("feishu client: %w", err)
	}
	a.feishu = client
	return client, nil
}

func (a *App) Meituan() (*meituan.Client, error) {
	if a.meituan != nil {
		return a.meituan, nil
	}
	client, err := meituan.NewClient(a.Config.Meituan)
	if err != nil {
		return nil, fmt.Errorf("meituan client: %w", err)
	}
	a.meituan = client
	return client, nil
}

func (a *App) History() (*history.Store, error) {
	if a.history != nil {
		return a.history, nil
	}
	store, database, err := history.Open(a.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.history = store
	a.db = database
	return store, nil
}

func (a *App) Cache() (*llm.Cache, error) {
	if a.cache != nil {
		return a.cache, nil
	}
	_, err := a.History()
	if err != nil {
		return nil, err
	}
	cache, err := llm.NewCache(a.db, a.Config.LLM.CacheSize, a.Config.LLM.CacheTTL())
	if err != nil {
		return nil, fmt.Errorf("llm cache: %w", err)
	}
	a.cache = cache
	return cache, nil
}

// Provider returns nil without an error when no llm is configured.
func (a *App) Provider(ctx context.Context) (llm.Provider, error) {
	if a.provider != nil || !a.Config.LLM.Enabled() {
		return a.provider, nil
	}
	cache, err := a.Cache()
	if err != nil {
		return nil, err
	}
	provider, err := llm.New(ctx, a.Config.LLM, cache)
	if err != nil {
		return nil, err
	}
	a.provider = provider
	return provider, nil
}

// Engine builds the reconciliation engine, engine overrides the
// configured engine when non-empty.
func (a *App) Engine(ctx context.Context, engine string) (*reconcile.Engine, error) {
	provider, err := a.Provider(ctx)
	if err != nil {
		return nil, err
	}
	e := reconcile.NewEngine(provider, a.Config.Reconcile)
	if engine != "" {
		e = e.WithEngine(engine)
	}
	return e, nil
}

func (a *App) Executor(config executor.Config) (*executor.Executor, error) {
	open, err := a.Douyin()
	if err != nil {
		return nil, err
	}
	store, err := a.History()
	if err != nil {
		return nil, err
	}

	// a nil client must not end up as a non-nil interface
	var web executor.WebAPI
	webClient, err := a.DouyinWeb()
	if err != nil {
		return nil, err
	}
	if webClient != nil {
		web = webClient
	} else {
		slog.Debug("douyin web api not configured, create and recreate will fail")
	}

	return executor.New(open, web, store, config), nil
}

// FindStore looks a store up in the feishu store directory by name, poi
// id or a unique part of its name.
func (a *App) FindStore(ctx context.Context, query string) (feishu.Store, error) {
	client, err := a.Feishu()
	if err != nil {
		return feishu.Store{}, err
	}
	stores, err := client.ListStores(ctx)
	if err != nil {
		return feishu.Store{}, err
	}
	store, ok := feishu.NewStoreIndex(stores).Lookup(query)
	if !ok {
		return feishu.Store{}, fmt.Errorf("no store matches %q", query)
	}
	return store, nil
}

// LiveProducts lists the online listings of a poi, hidden listings are
// dropped unless all is set.
func (a *App) LiveProducts(ctx context.Context, poiId string, all bool) ([]douyin.Product, error) {
	client, err := a.Douyin()
	if err != nil {
		return nil, err
	}
	products, err := client.QueryOnline(ctx, poiId)
	if err != nil {
		return nil, err
	}
	if all {
		return products, nil
	}
	return client.FilterLive(ctx, products), nil
}
