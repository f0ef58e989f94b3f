// Package model 定义估值区间、行情、合并后视图模型等数据结构。
package model

import "strings"

// Market 交易市场，决定货币符号。
type Market string

const (
	MarketUS Market = "US"
	MarketHK Market = "HK"
)

// ParseMarket 大小写不敏感；未知市场返回 false。
func ParseMarket(s string) (Market, bool) {
	switch Market(strings.ToUpper(strings.TrimSpace(s))) {
	case MarketUS:
		return MarketUS, true
	case MarketHK:
		return MarketHK, true
	default:
		return "", false
	}
}

// TrackedSymbol 参考列表单条：代码、市场、估值下限/上限（殘值即下限）。
type TrackedSymbol struct {
	Symbol        string  `json:"symbol" yaml:"symbol"`
	Market        Market  `json:"market" yaml:"market"`
	ValuationLow  float64 `json:"valuationLow" yaml:"valuationLow"`
	ValuationHigh float64 `json:"valuationHigh" yaml:"valuationHigh"`
	Name          string  `json:"name,omitempty" yaml:"name,omitempty"`
}

// DisplayName 有名称用名称，否则用代码。
func (t TrackedSymbol) DisplayName() string {
	if n := strings.TrimSpace(t.Name); n != "" {
		return n
	}
	return t.Symbol
}

// Quote 行情接口单条。盘前/盘后与基本面字段可能缺失，用指针表示。
type Quote struct {
	Symbol             string  `json:"symbol"`
	CurrentPrice       float64 `json:"currentPrice"`
	Change             float64 `json:"change"`
	PercentChange      float64 `json:"percentChange"`
	PreviousClosePrice float64 `json:"previousClosePrice"`
	RegularMarketTime  string  `json:"regularMarketTime,omitempty"`

	PreMarketPrice         *float64 `json:"preMarketPrice,omitempty"`
	PreMarketChange        *float64 `json:"preMarketChange,omitempty"`
	PreMarketChangePercent *float64 `json:"preMarketChangePercent,omitempty"`
	PreMarketTime          string   `json:"preMarketTime,omitempty"`

	PostMarketPrice         *float64 `json:"postMarketPrice,omitempty"`
	PostMarketChange        *float64 `json:"postMarketChange,omitempty"`
	PostMarketChangePercent *float64 `json:"postMarketChangePercent,omitempty"`
	PostMarketTime          string   `json:"postMarketTime,omitempty"`

	ForwardPE     *float64 `json:"forwardPE,omitempty"`
	PriceToBook   *float64 `json:"priceToBook,omitempty"`
	DividendYield *float64 `json:"dividendYield,omitempty"`
}

// MergedStock 参考列表 ⋈ 行情，仅在单次轮询内存在。
// Active* 为展示用价格三元组（盘前 > 盘后 > 常规，逐字段回退）。
type MergedStock struct {
	TrackedSymbol
	Quote Quote `json:"quote"`

	ActivePrice         float64 `json:"activePrice"`
	ActiveChange        float64 `json:"activeChange"`
	ActivePercentChange float64 `json:"activePercentChange"`
}

// CurrentPrice 常规盘现价，穿越判断与估值状态均以此为准。
func (s MergedStock) CurrentPrice() float64 { return s.Quote.CurrentPrice }

// Status 估值状态。
type Status string

const (
	StatusUndervalued Status = "undervalued"
	StatusFair        Status = "fair"
	StatusOvervalued  Status = "overvalued"
)

// ValuationStatus price ≤ low 低估，price ≥ high 高估，其余合理。
func ValuationStatus(price, low, high float64) Status {
	switch {
	case price <= low:
		return StatusUndervalued
	case price >= high:
		return StatusOvervalued
	default:
		return StatusFair
	}
}

func (s MergedStock) Status() Status {
	return ValuationStatus(s.CurrentPrice(), s.ValuationLow, s.ValuationHigh)
}

// AtNetNet 是否已达殘值（现价 ≤ 估值下限）。
func (s MergedStock) AtNetNet() bool {
	return s.CurrentPrice() <= s.ValuationLow
}

// Distance 现价距估值下限的百分比，排序用；现价非正时为 0。
func (s MergedStock) Distance() float64 {
	p := s.CurrentPrice()
	if p <= 0 {
		return 0
	}
	return (p - s.ValuationLow) / p * 100
}
