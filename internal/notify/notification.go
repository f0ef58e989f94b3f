package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"netnetWatch/internal/model"
	"netnetWatch/internal/trace"
)

// TagPrefix 同一代码的通知使用固定 tag，系统会合并而不是堆叠。
const TagPrefix = "netnet-"

type Notification struct {
	Title        string       `json:"title"`
	Body         string       `json:"body"`
	Tag          string       `json:"tag"`
	Symbol       string       `json:"symbol"`
	Market       model.Market `json:"market"`
	Price        float64      `json:"price"`
	ValuationLow float64      `json:"valuationLow"`
}

// FormatCurrency 港股 HK$，其余 $，保留两位小数。
func FormatCurrency(price float64, m model.Market) string {
	prefix := "$"
	if m == model.MarketHK {
		prefix = "HK$"
	}
	return prefix + decimal.NewFromFloat(price).StringFixed(2)
}

// Build 生成“已達殘值”通知。
func Build(s model.MergedStock) Notification {
	title := fmt.Sprintf("💎 %s 已達殘值！", s.Symbol)
	if s.Name != "" && s.Name != s.Symbol {
		title = fmt.Sprintf("💎 %s (%s) 已達殘值！", s.Name, s.Symbol)
	}
	return Notification{
		Title: title,
		Body: fmt.Sprintf("當前價格 %s 已跌至殘值 %s",
			FormatCurrency(s.CurrentPrice(), s.Market), FormatCurrency(s.ValuationLow, s.Market)),
		Tag:          TagPrefix + s.Symbol,
		Symbol:       s.Symbol,
		Market:       s.Market,
		Price:        s.CurrentPrice(),
		ValuationLow: s.ValuationLow,
	}
}

// Notifier 通知出口：日志、邮件、仪表盘 websocket。
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc 便于测试与简单适配。
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Multi 依次投递到每个出口，单个失败不影响其余。
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, x := range m {
		if x == nil {
			continue
		}
		if err := x.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 只写日志。
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	trace.Log(ctx, "notify: [%s] %s | %s", n.Tag, n.Title, n.Body)
	return nil
}

func (LogNotifier) Permission() Permission { return PermissionGranted }
