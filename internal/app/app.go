// Package app 前台装配：轮询结果交给 Tracker，Tracker 的变化同步给后台，后台广播由 Tracker 采纳。
package app

import (
	"context"
	"time"

	"netnetWatch/internal/bus"
	"netnetWatch/internal/dataset"
	"netnetWatch/internal/model"
	"netnetWatch/internal/notify"
	"netnetWatch/internal/poller"
	"netnetWatch/internal/store"
	"netnetWatch/internal/trace"
)

const postTimeout = 2 * time.Second

type App struct {
	catalog *dataset.Catalog
	engine  *poller.Engine
	vis     *poller.Visibility
	tracker *notify.Tracker
	bus     *bus.Bus
	apiURL  string

	// OnBackground 后台广播到达且处理后回调（可为 nil）
	OnBackground func(m bus.Message)
}

func New(catalog *dataset.Catalog, engine *poller.Engine, vis *poller.Visibility, tracker *notify.Tracker, b *bus.Bus, apiURL string) *App {
	return &App{
		catalog: catalog,
		engine:  engine,
		vis:     vis,
		tracker: tracker,
		bus:     b,
		apiURL:  apiURL,
	}
}

// Run 启动轮询并处理后台广播，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	ctx = trace.WithTraceID(ctx, trace.NewTraceID())
	msgs, cancel := a.bus.Subscribe()
	defer cancel()

	a.tracker.OnChange(func(rec store.NotifiedRecord) {
		a.post(ctx, bus.Message{Type: bus.UpdateNotifiedStocks, NotifiedStocks: rec.Symbols, UpdatedAt: rec.UpdatedAt})
	})
	a.engine.OnResult(func(ctx context.Context, stocks []model.MergedStock) {
		a.tracker.Process(ctx, stocks)
	})
	if a.tracker.Enabled() {
		a.initBackground(ctx)
	}

	stop := a.engine.Start(ctx, a.catalog)
	defer stop()
	trace.Log(ctx, "app: 前台已启动 stocks=%d notifications=%v", a.catalog.Len(), a.tracker.Enabled())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			a.handle(ctx, m)
		}
	}
}

func (a *App) handle(ctx context.Context, m bus.Message) {
	switch m.Type {
	case bus.StockReachedNetNet, bus.StockRecovered:
		if a.tracker.Adopt(ctx, m.NotifiedStocks, m.UpdatedAt) {
			trace.Log(ctx, "app: 后台 %s %s notified=%v", m.Type, m.Symbol, m.NotifiedStocks)
		}
	default:
		return
	}
	if a.OnBackground != nil {
		a.OnBackground(m)
	}
}

func (a *App) initBackground(ctx context.Context) {
	rec := a.tracker.Record()
	a.post(ctx, bus.Message{
		Type:           bus.InitConfig,
		APIURL:         a.apiURL,
		Tracked:        a.catalog.Tracked(),
		NotifiedStocks: rec.Symbols,
		UpdatedAt:      rec.UpdatedAt,
	})
}

func (a *App) post(ctx context.Context, m bus.Message) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postTimeout)
	defer cancel()
	if err := a.bus.Post(pctx, m); err != nil {
		trace.Log(ctx, "app: 发送 %s 给后台失败 err=%v", m.Type, err)
	}
}

// EnableNotifications 用户开启通知；授权通过后把配置交给后台。
func (a *App) EnableNotifications(ctx context.Context) notify.Permission {
	p := a.tracker.Enable(ctx)
	if p == notify.PermissionGranted {
		a.initBackground(ctx)
	}
	return p
}

// DisableNotifications 关闭通知，清空前后台的已通知集合。
func (a *App) DisableNotifications(ctx context.Context) {
	a.tracker.Disable(ctx)
	a.post(ctx, bus.Message{Type: bus.DisableNotifications, UpdatedAt: a.tracker.Record().UpdatedAt})
}

func (a *App) Snapshot() poller.Snapshot { return a.engine.Snapshot() }

func (a *App) Retry() { a.engine.Retry() }

func (a *App) SetHidden(hidden bool) { a.vis.SetHidden(hidden) }

func (a *App) NotificationsEnabled() bool { return a.tracker.Enabled() }

func (a *App) Permission() notify.Permission { return a.tracker.Permission() }

func (a *App) Notified() []string { return a.tracker.Notified() }
