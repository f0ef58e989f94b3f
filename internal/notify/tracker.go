package notify

import (
	"context"
	"sync"
	"time"

	"netnetWatch/internal/model"
	"netnetWatch/internal/store"
	"netnetWatch/internal/trace"
)

// ChangeFunc 已通知集合变化后回调（前台据此同步给后台）。
type ChangeFunc func(rec store.NotifiedRecord)

// Tracker 前台通知状态机。未启用时完全不动作；关闭时清空集合。
type Tracker struct {
	mu        sync.Mutex
	store     *store.Store
	notifier  Notifier
	prompter  *Prompter
	onChange  ChangeFunc
	now       func() time.Time
	enabled   bool
	notified  Set
	updatedAt time.Time
}

// NewTracker 从持久化状态恢复开关与已通知集合，刷新页面不会重复通知。
func NewTracker(st *store.Store, n Notifier, p *Prompter) *Tracker {
	if n == nil {
		n = LogNotifier{}
	}
	if p == nil {
		p = NewPrompter(AskAny(LogNotifier{}))
	}
	rec := st.Notified()
	return &Tracker{
		store:     st,
		notifier:  n,
		prompter:  p,
		now:       time.Now,
		enabled:   st.NotificationsEnabled(),
		notified:  NewSet(rec.Symbols),
		updatedAt: rec.UpdatedAt,
	}
}

// OnChange 只在 Process/Disable 引起变化时调用，Adopt 不回调。
func (t *Tracker) OnChange(fn ChangeFunc) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Tracker) Permission() Permission {
	return t.prompter.State()
}

// Notified 当前已通知代码（排序）。
func (t *Tracker) Notified() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notified.List()
}

// Record 当前集合及其更新时间。
func (t *Tracker) Record() store.NotifiedRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return store.NotifiedRecord{Symbols: t.notified.List(), UpdatedAt: t.updatedAt}
}

// stamp 单调递增的更新时间，墙钟回拨时也不倒退。caller 持有 t.mu。
func (t *Tracker) stamp() time.Time {
	ts := t.now()
	if !ts.After(t.updatedAt) {
		ts = t.updatedAt.Add(time.Nanosecond)
	}
	t.updatedAt = ts
	return ts
}

// persist 写入持久层；被更新的记录拒绝时采用持久层的版本并返回 false。caller 持有 t.mu。
func (t *Tracker) persist(ctx context.Context, rec store.NotifiedRecord) (store.NotifiedRecord, bool) {
	saved, ok, err := t.store.SaveNotified(rec)
	if err != nil {
		trace.Log(ctx, "notify: 保存已通知列表失败 err=%v", err)
		return rec, true
	}
	if !ok {
		trace.Log(ctx, "notify: 持久层已有更新的记录 %v，采用之", saved.Symbols)
		t.notified = NewSet(saved.Symbols)
		t.updatedAt = saved.UpdatedAt
	}
	return saved, ok
}

// Process 处理一批合并结果：先基于周期开始时的快照算出全部转换，再一次性应用并持久化。
// 跌破发送一条通知；回升只清状态不通知。
func (t *Tracker) Process(ctx context.Context, stocks []model.MergedStock) []Transition {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return nil
	}
	trs := Evaluate(t.notified, stocks)
	if len(trs) == 0 {
		t.mu.Unlock()
		return nil
	}
	t.notified = Apply(t.notified, trs)
	rec, ok := t.persist(ctx, store.NotifiedRecord{Symbols: t.notified.List(), UpdatedAt: t.stamp()})
	for !ok {
		// 后台已写入更新的集合：其中已有的代码说明后台已通知过，其余转换叠加在其上重新写入
		t.notified, trs = Rebase(t.notified, trs)
		if len(trs) == 0 {
			break
		}
		rec, ok = t.persist(ctx, store.NotifiedRecord{Symbols: t.notified.List(), UpdatedAt: t.stamp()})
	}
	onChange := t.onChange
	t.mu.Unlock()

	for _, tr := range trs {
		switch tr.Kind {
		case Reached:
			trace.Log(ctx, "notify: %s 已達殘值 price=%.2f low=%.2f", tr.Symbol(), tr.Stock.CurrentPrice(), tr.Stock.ValuationLow)
			if err := t.notifier.Notify(ctx, Build(tr.Stock)); err != nil {
				trace.Log(ctx, "notify: 发送失败 symbol=%s err=%v", tr.Symbol(), err)
			}
		case Recovered:
			trace.Log(ctx, "notify: %s 已回升至殘值之上 price=%.2f", tr.Symbol(), tr.Stock.CurrentPrice())
		}
	}
	if onChange != nil {
		onChange(rec)
	}
	return trs
}

// Enable 用户开启通知：每次调用恰好请求一次授权；被拒绝不是错误，保持关闭。
func (t *Tracker) Enable(ctx context.Context) Permission {
	p := t.prompter.Request(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if p != PermissionGranted {
		trace.Log(ctx, "notify: 通知授权=%s，保持关闭", p)
		return p
	}
	t.enabled = true
	if err := t.store.SetNotificationsEnabled(true); err != nil {
		trace.Log(ctx, "notify: 保存开关失败 err=%v", err)
	}
	trace.Log(ctx, "notify: 通知已开启")
	return p
}

// Disable 关闭并清空整个已通知集合，下次开启从零开始。
func (t *Tracker) Disable(ctx context.Context) {
	t.mu.Lock()
	t.enabled = false
	if err := t.store.SetNotificationsEnabled(false); err != nil {
		trace.Log(ctx, "notify: 保存开关失败 err=%v", err)
	}
	t.notified = Set{}
	rec, ok := t.persist(ctx, store.NotifiedRecord{Symbols: []string{}, UpdatedAt: t.stamp()})
	for !ok {
		// 被拒绝时 persist 已采用更新的记录，stamp 随之前移，直到空集合写入成功
		t.notified = Set{}
		rec, ok = t.persist(ctx, store.NotifiedRecord{Symbols: []string{}, UpdatedAt: t.stamp()})
	}
	onChange := t.onChange
	t.mu.Unlock()
	trace.Log(ctx, "notify: 通知已关闭，已清空已通知列表")
	if onChange != nil {
		onChange(rec)
	}
}

// Adopt 采纳后台广播的集合；比本地旧的广播忽略。
func (t *Tracker) Adopt(ctx context.Context, symbols []string, updatedAt time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if updatedAt.Before(t.updatedAt) {
		trace.Log(ctx, "notify: 忽略过期的后台集合 %v", symbols)
		return false
	}
	t.notified = NewSet(symbols)
	t.updatedAt = updatedAt
	t.persist(ctx, store.NotifiedRecord{Symbols: t.notified.List(), UpdatedAt: updatedAt})
	return true
}

// DropNotified 去掉 stored 中已有代码的跌破转换（对方已通知过）。
func DropNotified(trs []Transition, stored Set) []Transition {
	out := trs[:0:0]
	for _, tr := range trs {
		if tr.Kind == Reached && stored.Has(tr.Symbol()) {
			continue
		}
		out = append(out, tr)
	}
	return out
}

// Rebase 把本周期的转换叠加到持久层已有的集合上：对方已通知过的跌破丢弃，其余照常应用。
// 返回新集合与仍需处理的转换。
func Rebase(stored Set, trs []Transition) (Set, []Transition) {
	rest := DropNotified(trs, stored)
	return Apply(stored, rest), rest
}
