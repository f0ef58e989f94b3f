// Package notify 殘值通知状态机：每个代码独立的 Clear/Notified 两态，跌破估值下限通知一次，回升后清除。
// 前台 Tracker 与后台 Worker 共用 Evaluate。
package notify

import (
	"sort"

	"netnetWatch/internal/model"
)

// Set 已通知代码集合。
type Set map[string]struct{}

func NewSet(symbols []string) Set {
	s := make(Set, len(symbols))
	for _, sym := range symbols {
		if sym != "" {
			s[sym] = struct{}{}
		}
	}
	return s
}

func (s Set) Has(sym string) bool {
	_, ok := s[sym]
	return ok
}

func (s Set) Clone() Set {
	c := make(Set, len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}

// List 排序后的代码列表，持久化与消息使用。
func (s Set) List() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Kind int

const (
	// Reached Clear -> Notified：现价 ≤ 估值下限
	Reached Kind = iota + 1
	// Recovered Notified -> Clear：现价回到估值下限之上
	Recovered
)

func (k Kind) String() string {
	switch k {
	case Reached:
		return "reached"
	case Recovered:
		return "recovered"
	default:
		return "unknown"
	}
}

type Transition struct {
	Kind  Kind
	Stock model.MergedStock
}

func (t Transition) Symbol() string { return t.Stock.Symbol }

// Evaluate 全部基于周期开始时的 notified 快照计算，不修改入参。
// 同一批次内重复的代码只按第一次出现计算。
func Evaluate(notified Set, stocks []model.MergedStock) []Transition {
	var out []Transition
	seen := make(map[string]struct{}, len(stocks))
	for _, s := range stocks {
		if _, ok := seen[s.Symbol]; ok {
			continue
		}
		seen[s.Symbol] = struct{}{}
		at := s.AtNetNet()
		was := notified.Has(s.Symbol)
		switch {
		case at && !was:
			out = append(out, Transition{Kind: Reached, Stock: s})
		case !at && was:
			out = append(out, Transition{Kind: Recovered, Stock: s})
		}
	}
	return out
}

// Apply 在 notified 副本上一次性应用全部转换。
func Apply(notified Set, trs []Transition) Set {
	next := notified.Clone()
	for _, tr := range trs {
		switch tr.Kind {
		case Reached:
			next[tr.Symbol()] = struct{}{}
		case Recovered:
			delete(next, tr.Symbol())
		}
	}
	return next
}
