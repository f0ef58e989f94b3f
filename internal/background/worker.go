// Package background 后台通知器：独立于前台页面运行的 actor。收到 INIT_CONFIG 之前不做任何事；
// 之后每个间隔拉取一次行情，按与前台相同的规则判断跌破/回升，通知并广播给前台。
package background

import (
	"context"
	"time"

	"netnetWatch/internal/bus"
	"netnetWatch/internal/dataset"
	"netnetWatch/internal/merge"
	"netnetWatch/internal/model"
	"netnetWatch/internal/notify"
	"netnetWatch/internal/store"
	"netnetWatch/internal/trace"
)

const (
	defaultInterval = 60 * time.Second
	defaultTimeout  = 15 * time.Second
)

type Fetcher interface {
	GetQuotes(ctx context.Context, symbols string) ([]model.Quote, error)
}

// FetcherFactory 按 INIT_CONFIG 中的接口地址构造行情客户端。
type FetcherFactory func(apiURL string) Fetcher

type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: defaultInterval, Timeout: defaultTimeout}
}

// Worker 的状态只在 Run 所在 goroutine 内读写。
type Worker struct {
	bus        *bus.Bus
	store      *store.Store
	notifier   notify.Notifier
	newFetcher FetcherFactory
	cfg        Config
	now        func() time.Time

	apiURL    string
	tracked   []model.TrackedSymbol
	fetcher   Fetcher
	notified  notify.Set
	updatedAt time.Time
}

func New(b *bus.Bus, st *store.Store, n notify.Notifier, newFetcher FetcherFactory, cfg Config) *Worker {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Worker{
		bus:        b,
		store:      st,
		notifier:   n,
		newFetcher: newFetcher,
		cfg:        cfg,
		now:        time.Now,
		notified:   notify.Set{},
	}
}

// Run 处理收件箱与定时检查，直到 ctx 结束。可多次调用，状态保留在 Worker 与持久层中。
func (w *Worker) Run(ctx context.Context) error {
	ctx = trace.WithTraceID(ctx, trace.NewTraceID())
	trace.Log(ctx, "background: start interval=%s", w.cfg.Interval)
	t := time.NewTicker(w.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			trace.Log(ctx, "background: stop")
			return ctx.Err()
		case m := <-w.bus.Inbox():
			w.handle(ctx, m)
		case <-t.C:
			w.check(trace.New(ctx))
		}
	}
}

func (w *Worker) configured() bool {
	return w.apiURL != "" && len(w.tracked) > 0 && w.fetcher != nil
}

func (w *Worker) handle(ctx context.Context, m bus.Message) {
	switch m.Type {
	case bus.InitConfig:
		w.apiURL = m.APIURL
		w.tracked = append([]model.TrackedSymbol(nil), m.Tracked...)
		w.fetcher = nil
		if w.apiURL != "" && w.newFetcher != nil {
			w.fetcher = w.newFetcher(w.apiURL)
		}
		w.adopt(ctx, m.NotifiedStocks, m.UpdatedAt)
		trace.Log(ctx, "background: 配置完成 stocks=%d notified=%v", len(w.tracked), w.notified.List())
	case bus.UpdateNotifiedStocks:
		w.adopt(ctx, m.NotifiedStocks, m.UpdatedAt)
	case bus.DisableNotifications:
		w.notified = notify.Set{}
		if m.UpdatedAt.After(w.updatedAt) {
			w.updatedAt = m.UpdatedAt
		}
		w.apiURL = ""
		w.tracked = nil
		w.fetcher = nil
		trace.Log(ctx, "background: 通知已关闭，清空已通知列表并停止检查")
	default:
		trace.Log(ctx, "background: 忽略未知消息 type=%s", m.Type)
	}
}

// adopt 只接受不比当前旧的集合。
func (w *Worker) adopt(ctx context.Context, symbols []string, updatedAt time.Time) bool {
	if updatedAt.Before(w.updatedAt) {
		trace.Log(ctx, "background: 忽略过期集合 %v", symbols)
		return false
	}
	w.notified = notify.NewSet(symbols)
	w.updatedAt = updatedAt
	return true
}

// reload 以持久层为准。
func (w *Worker) reload(ctx context.Context) {
	rec := w.store.Notified()
	if rec.UpdatedAt.After(w.updatedAt) {
		w.notified = notify.NewSet(rec.Symbols)
		w.updatedAt = rec.UpdatedAt
		trace.Log(ctx, "background: 从持久层恢复 notified=%v", rec.Symbols)
	}
}

func (w *Worker) stamp() time.Time {
	ts := w.now()
	if !ts.After(w.updatedAt) {
		ts = w.updatedAt.Add(time.Nanosecond)
	}
	w.updatedAt = ts
	return ts
}

func (w *Worker) check(ctx context.Context) {
	if !w.configured() {
		trace.Log(ctx, "background: 未配置，跳过检查")
		return
	}
	w.reload(ctx)

	fctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	quotes, err := w.fetcher.GetQuotes(fctx, dataset.SymbolsCSV(w.tracked))
	cancel()
	if err != nil {
		trace.Log(ctx, "background: 拉取行情失败 err=%v", err)
		return
	}
	merged, rep := merge.Merge(w.tracked, quotes)
	rep.Log(ctx)

	trs := notify.Evaluate(w.notified, merged)
	if len(trs) == 0 {
		return
	}
	w.notified = notify.Apply(w.notified, trs)
	for len(trs) > 0 {
		rec, ok, err := w.store.SaveNotified(store.NotifiedRecord{Symbols: w.notified.List(), UpdatedAt: w.stamp()})
		if err != nil {
			trace.Log(ctx, "background: 保存已通知列表失败 err=%v", err)
			break
		}
		if ok {
			break
		}
		// 前台已写入更新的集合：在其上叠加剩余转换后重写
		trace.Log(ctx, "background: 持久层已有更新的记录 %v，采用之", rec.Symbols)
		w.updatedAt = rec.UpdatedAt
		w.notified, trs = notify.Rebase(notify.NewSet(rec.Symbols), trs)
	}

	list := w.notified.List()
	for _, tr := range trs {
		msg := bus.Message{Symbol: tr.Symbol(), NotifiedStocks: list, UpdatedAt: w.updatedAt}
		switch tr.Kind {
		case notify.Reached:
			trace.Log(ctx, "background: %s 已達殘值 price=%.2f low=%.2f", tr.Symbol(), tr.Stock.CurrentPrice(), tr.Stock.ValuationLow)
			if err := w.notifier.Notify(ctx, notify.Build(tr.Stock)); err != nil {
				trace.Log(ctx, "background: 发送失败 symbol=%s err=%v", tr.Symbol(), err)
			}
			msg.Type = bus.StockReachedNetNet
		case notify.Recovered:
			trace.Log(ctx, "background: %s 已回升", tr.Symbol())
			msg.Type = bus.StockRecovered
		}
		w.bus.Broadcast(msg)
	}
}
