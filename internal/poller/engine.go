// Package poller 前台行情轮询引擎：启动即拉取一次，之后按固定间隔拉取；页面隐藏时跳过，
// 重新可见时立即补拉。失败保留旧数据并记录错误，由序号保证旧周期的结果不会覆盖新周期。
package poller

import (
	"context"
	"sync"
	"time"

	"netnetWatch/internal/api"
	"netnetWatch/internal/dataset"
	"netnetWatch/internal/merge"
	"netnetWatch/internal/model"
	"netnetWatch/internal/trace"
)

const (
	defaultInterval      = 10 * time.Second
	defaultTimeout       = api.DefaultTimeout
	defaultPulseDuration = 1500 * time.Millisecond
)

// Fetcher 批量行情来源，*api.Client 实现之。
type Fetcher interface {
	GetQuotes(ctx context.Context, symbols string) ([]model.Quote, error)
}

type Config struct {
	Interval      time.Duration
	Timeout       time.Duration
	PulseDuration time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: defaultInterval, Timeout: defaultTimeout, PulseDuration: defaultPulseDuration}
}

// Snapshot 界面读取的只读快照。Stocks 不可修改。
type Snapshot struct {
	Stocks     []model.MergedStock
	LastUpdate time.Time
	Err        error
	Loading    bool
	Pulse      bool
	// Version 每次变化递增，订阅者据此丢弃乱序到达的旧快照
	Version uint64
}

// ResultFunc 每个成功并被采纳的周期调用一次。
type ResultFunc func(ctx context.Context, stocks []model.MergedStock)

type Engine struct {
	fetcher Fetcher
	vis     *Visibility
	cfg     Config

	mu       sync.Mutex
	snap     Snapshot
	issued   uint64
	applied  uint64
	running  bool
	stopped  bool
	runGen   uint64
	catalog  *dataset.Catalog
	baseCtx  context.Context
	stop     func()
	pulse    *time.Timer
	pulseGen uint64
	onResult ResultFunc
	subs     map[int]func(Snapshot)
	nextSub  int

	// deliverMu 串行化 onResult，delivered 为最后交付的序号
	deliverMu sync.Mutex
	delivered uint64

	inflight sync.WaitGroup
}

func New(f Fetcher, vis *Visibility, cfg Config) *Engine {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.PulseDuration <= 0 {
		cfg.PulseDuration = d.PulseDuration
	}
	if vis == nil {
		vis = NewVisibility()
	}
	return &Engine{
		fetcher: f,
		vis:     vis,
		cfg:     cfg,
		snap:    Snapshot{Loading: true},
		subs:    make(map[int]func(Snapshot)),
	}
}

// OnResult 设置结果回调，需在 Start 之前调用。
func (e *Engine) OnResult(fn ResultFunc) {
	e.mu.Lock()
	e.onResult = fn
	e.mu.Unlock()
}

// Subscribe 快照变化时回调，在锁外调用。
func (e *Engine) Subscribe(fn func(Snapshot)) (cancel func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Start 立即拉取一次并开始定时拉取。返回的 stop 可重复调用；
// 已在运行时直接返回当前的 stop。
func (e *Engine) Start(ctx context.Context, catalog *dataset.Catalog) (stop func()) {
	e.mu.Lock()
	if e.running {
		stop = e.stop
		e.mu.Unlock()
		trace.Log(ctx, "poller: 已在运行，忽略重复 Start")
		return stop
	}
	done := make(chan struct{})
	removeVis := e.vis.OnChange(func(hidden bool) {
		if !hidden {
			e.fetch("visible")
		}
	})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			close(done)
			removeVis()
			e.mu.Lock()
			e.stopped = true
			e.running = false
			e.stop = nil
			if e.pulse != nil {
				e.pulse.Stop()
				e.pulse = nil
			}
			e.snap.Pulse = false
			e.snap.Loading = false
			e.mu.Unlock()
			trace.Log(ctx, "poller: stopped")
		})
	}
	e.running = true
	e.stopped = false
	e.runGen++
	e.catalog = catalog
	e.baseCtx = ctx
	e.stop = stop
	e.mu.Unlock()

	trace.Log(ctx, "poller: start symbols=%d interval=%s", catalog.Len(), e.cfg.Interval)
	e.fetch("start")

	go func() {
		t := time.NewTicker(e.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				stop()
				return
			case <-t.C:
				e.tick()
			}
		}
	}()
	return stop
}

// tick 定时触发：页面隐藏时跳过。
func (e *Engine) tick() {
	if e.vis.Hidden() {
		return
	}
	e.fetch("tick")
}

// Retry 手动重试，与定时拉取走同一逻辑。
func (e *Engine) Retry() {
	e.fetch("retry")
}

// fetch 发起一个周期。周期之间允许重叠，结果由序号把关。
func (e *Engine) fetch(reason string) {
	e.mu.Lock()
	if e.stopped || !e.running {
		e.mu.Unlock()
		return
	}
	e.issued++
	seq := e.issued
	gen := e.runGen
	catalog := e.catalog
	ctx := trace.New(e.baseCtx)
	e.snap.Loading = true
	e.snap.Err = nil
	fns, snap := e.changedLocked()
	e.inflight.Add(1)
	e.mu.Unlock()
	publish(fns, snap)

	trace.Log(ctx, "poller: cycle seq=%d reason=%s", seq, reason)
	go e.run(ctx, gen, seq, catalog)
}

func (e *Engine) run(ctx context.Context, gen, seq uint64, catalog *dataset.Catalog) {
	defer e.inflight.Done()
	fctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	quotes, err := e.fetcher.GetQuotes(fctx, catalog.CSV())
	cancel()

	var merged []model.MergedStock
	if err == nil {
		var rep merge.Report
		merged, rep = merge.Merge(catalog.Tracked(), quotes)
		rep.Log(ctx)
	}

	e.mu.Lock()
	if e.stopped || gen != e.runGen {
		e.mu.Unlock()
		trace.Log(ctx, "poller: 已停止，丢弃 seq=%d 的结果", seq)
		return
	}
	if seq <= e.applied {
		e.mu.Unlock()
		trace.Log(ctx, "poller: 丢弃过期结果 seq=%d applied=%d", seq, e.applied)
		return
	}
	e.applied = seq
	e.snap.Loading = e.issued > e.applied
	if err != nil {
		// 保留旧数据
		e.snap.Err = err
		trace.Log(ctx, "poller: seq=%d err=%v，保留 %d 条旧数据", seq, err, len(e.snap.Stocks))
	} else {
		e.snap.Stocks = merged
		e.snap.LastUpdate = time.Now()
		e.snap.Err = nil
		e.startPulseLocked()
	}
	onResult := e.onResult
	fns, snap := e.changedLocked()
	e.mu.Unlock()
	publish(fns, snap)

	if err == nil {
		trace.Log(ctx, "poller: seq=%d ok stocks=%d", seq, len(merged))
		e.deliver(ctx, seq, merged, onResult)
	}
}

// deliver 按序号交付结果；释放 e.mu 之后被更新的周期抢先交付的旧结果直接丢弃。
func (e *Engine) deliver(ctx context.Context, seq uint64, merged []model.MergedStock, fn ResultFunc) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()
	if seq <= e.delivered {
		trace.Log(ctx, "poller: 丢弃过期交付 seq=%d delivered=%d", seq, e.delivered)
		return
	}
	e.delivered = seq
	if fn != nil {
		fn(ctx, merged)
	}
}

// startPulseLocked 亮起 pulse，到期自动熄灭；新的 pulse 会取代旧的定时器。caller 持有 e.mu。
func (e *Engine) startPulseLocked() {
	if e.pulse != nil {
		e.pulse.Stop()
	}
	e.pulseGen++
	gen := e.pulseGen
	e.snap.Pulse = true
	e.pulse = time.AfterFunc(e.cfg.PulseDuration, func() {
		e.mu.Lock()
		if e.stopped || gen != e.pulseGen {
			e.mu.Unlock()
			return
		}
		e.snap.Pulse = false
		e.pulse = nil
		fns, snap := e.changedLocked()
		e.mu.Unlock()
		publish(fns, snap)
	})
}

// changedLocked 递增版本并取出订阅者列表。caller 持有 e.mu。
func (e *Engine) changedLocked() ([]func(Snapshot), Snapshot) {
	e.snap.Version++
	fns := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	return fns, e.snap
}

func publish(fns []func(Snapshot), s Snapshot) {
	for _, fn := range fns {
		fn(s)
	}
}

// wait 等待在途周期结束，测试用。
func (e *Engine) wait() {
	e.inflight.Wait()
}
