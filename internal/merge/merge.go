// Package merge 将参考列表与一批行情合并为 MergedStock。纯函数，不做 I/O；告警经 Report 交给调用方记录。
package merge

import (
	"context"
	"strings"

	"netnetWatch/internal/model"
	"netnetWatch/internal/trace"
)

// Report 合并过程中发现的数据完整性问题。
type Report struct {
	Missing         []string // 参考列表有、行情批次没有
	Unknown         []string // 行情批次有、参考列表没有
	DuplicateQuotes []string // 行情批次内重复，取最后一条
}

func (r Report) Empty() bool {
	return len(r.Missing) == 0 && len(r.Unknown) == 0 && len(r.DuplicateQuotes) == 0
}

// Log 逐条记录告警，不影响合并结果。
func (r Report) Log(ctx context.Context) {
	for _, s := range r.Missing {
		trace.Warn(ctx, "merge: 无行情 symbol=%q，已跳过", s)
	}
	if len(r.Unknown) > 0 {
		trace.Warn(ctx, "merge: 行情含未跟踪代码 %s", strings.Join(r.Unknown, ","))
	}
	if len(r.DuplicateQuotes) > 0 {
		trace.Warn(ctx, "merge: 行情批次内重复代码 %s，取最后一条", strings.Join(r.DuplicateQuotes, ","))
	}
}

// Merge 按参考列表顺序输出。行情重复时后到者覆盖（行情代表新鲜度），
// 与参考列表的先到先得相反。无行情的代码直接剔除，不补占位。
func Merge(tracked []model.TrackedSymbol, quotes []model.Quote) ([]model.MergedStock, Report) {
	var rep Report
	bySymbol := make(map[string]model.Quote, len(quotes))
	for _, q := range quotes {
		if _, ok := bySymbol[q.Symbol]; ok {
			rep.DuplicateQuotes = append(rep.DuplicateQuotes, q.Symbol)
		}
		bySymbol[q.Symbol] = q
	}

	trackedSet := make(map[string]struct{}, len(tracked))
	out := make([]model.MergedStock, 0, len(tracked))
	for _, t := range tracked {
		trackedSet[t.Symbol] = struct{}{}
		q, ok := bySymbol[t.Symbol]
		if !ok {
			rep.Missing = append(rep.Missing, t.Symbol)
			continue
		}
		out = append(out, build(t, q))
	}

	seenUnknown := make(map[string]struct{})
	for _, q := range quotes {
		if _, ok := trackedSet[q.Symbol]; ok {
			continue
		}
		if _, ok := seenUnknown[q.Symbol]; ok {
			continue
		}
		seenUnknown[q.Symbol] = struct{}{}
		rep.Unknown = append(rep.Unknown, q.Symbol)
	}
	return out, rep
}

func build(t model.TrackedSymbol, q model.Quote) model.MergedStock {
	return model.MergedStock{
		TrackedSymbol:       t,
		Quote:               q,
		ActivePrice:         pick(q.PreMarketPrice, q.PostMarketPrice, q.CurrentPrice),
		ActiveChange:        pick(q.PreMarketChange, q.PostMarketChange, q.Change),
		ActivePercentChange: pick(q.PreMarketChangePercent, q.PostMarketChangePercent, q.PercentChange),
	}
}

// pick 盘前 > 盘后 > 常规，每个字段单独回退。
func pick(pre, post *float64, regular float64) float64 {
	if pre != nil {
		return *pre
	}
	if post != nil {
		return *post
	}
	return regular
}
