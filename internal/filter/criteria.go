// Package filter 定义仪表盘的筛选条件（Criterion）与组合方式（And/Or），以及按距殘值远近排序。
package filter

import (
	"sort"

	"netnetWatch/internal/model"
	"netnetWatch/internal/store"
)

// Criterion 单条条件：入参为合并后的 MergedStock，返回是否通过。
type Criterion func(*model.MergedStock) bool

func And(cs ...Criterion) Criterion {
	return func(s *model.MergedStock) bool {
		if s == nil {
			return false
		}
		for _, c := range cs {
			if c == nil {
				continue
			}
			if !c(s) {
				return false
			}
		}
		return true
	}
}

func Or(cs ...Criterion) Criterion {
	return func(s *model.MergedStock) bool {
		if s == nil {
			return false
		}
		for _, c := range cs {
			if c == nil {
				continue
			}
			if c(s) {
				return true
			}
		}
		return false
	}
}

func MarketIs(m model.Market) Criterion {
	return func(s *model.MergedStock) bool { return s.Market == m }
}

func StatusIs(st model.Status) Criterion {
	return func(s *model.MergedStock) bool { return s.Status() == st }
}

func Undervalued(s *model.MergedStock) bool { return s.Status() == model.StatusUndervalued }
func Overvalued(s *model.MergedStock) bool  { return s.Status() == model.StatusOvervalued }

// AtNetNet 现价已跌至估值下限。
func AtNetNet(s *model.MergedStock) bool { return s.AtNetNet() }

// Apply 返回通过条件的新切片，不修改入参。
func Apply(stocks []model.MergedStock, c Criterion) []model.MergedStock {
	out := make([]model.MergedStock, 0, len(stocks))
	for i := range stocks {
		if c == nil || c(&stocks[i]) {
			out = append(out, stocks[i])
		}
	}
	return out
}

// Sort 按距估值下限的百分比排序（asc 最接近殘值的在前），稳定排序；返回新切片。
func Sort(stocks []model.MergedStock, order store.SortOrder) []model.MergedStock {
	out := append([]model.MergedStock(nil), stocks...)
	sort.SliceStable(out, func(i, j int) bool {
		if order == store.SortDesc {
			return out[i].Distance() > out[j].Distance()
		}
		return out[i].Distance() < out[j].Distance()
	})
	return out
}

// View 仪表盘默认视图：按市场筛选后排序。
func View(stocks []model.MergedStock, m model.Market, order store.SortOrder) []model.MergedStock {
	return Sort(Apply(stocks, MarketIs(m)), order)
}
