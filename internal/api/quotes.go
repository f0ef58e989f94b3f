// Package api 封装批量行情接口 GET <apiUrl>?symbols=<csv>，含重试、超时与 trace 日志。
// 响应按不可信处理：非 2xx、缺 quotes、空数组均视为错误。
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"netnetWatch/internal/model"
	"netnetWatch/internal/trace"
)

// 请求超时与重试
const (
	DefaultTimeout    = 15 * time.Second
	DefaultMaxRetries = 2
	retryDelay        = 500 * time.Millisecond
	retryDelay429     = 5 * time.Second
	maxRespLogLen     = 300
)

var (
	// ErrNoAPIURL 配置错误：未设置行情接口地址。
	ErrNoAPIURL = errors.New("api: 未配置行情接口地址")
	// ErrEmptyQuotes 接口返回缺 quotes 或为空。
	ErrEmptyQuotes = errors.New("api: 返回空數據")
)

// StatusError 非 2xx 响应。
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: http %d", e.Code)
}

// IsConfigError 区分配置错误与传输错误，供界面展示。
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoAPIURL)
}

// UserMessage 界面展示用的错误文案。
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoAPIURL):
		return "未設定行情接口地址，請檢查配置。"
	case errors.Is(err, ErrEmptyQuotes):
		return "API 返回空數據。請稍後再試。"
	default:
		return "無法載入股票數據。請檢查網絡連接。"
	}
}

type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	MaxRetries int
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimSpace(baseURL),
		MaxRetries: DefaultMaxRetries,
	}
}

// QuotesURL 拼接请求地址，symbols 做 URL 编码。
func QuotesURL(baseURL, symbols string) (string, error) {
	if strings.TrimSpace(baseURL) == "" {
		return "", ErrNoAPIURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("api: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("symbols", symbols)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GetQuotes 拉取一批行情。
func (c *Client) GetQuotes(ctx context.Context, symbols string) ([]model.Quote, error) {
	if c == nil {
		return nil, fmt.Errorf("api client is nil")
	}
	u, err := QuotesURL(c.BaseURL, symbols)
	if err != nil {
		return nil, err
	}
	body, err := c.doWithRetry(ctx, http.MethodGet, u)
	if err != nil {
		return nil, err
	}
	quotes, noPrice, err := parseQuotes(body)
	if len(noPrice) > 0 {
		trace.Log(ctx, "api: 缺少有效 currentPrice，跳过 %v", noPrice)
	}
	if err != nil {
		trace.Log(ctx, "api: parse err=%v body=%s", err, truncateForLog(body))
		return nil, err
	}
	trace.Log(ctx, "api: GetQuotes ok count=%d", len(quotes))
	return quotes, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, u string) ([]byte, error) {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	attempts := c.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	var lastStatus int
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := retryDelay
			if lastStatus == http.StatusTooManyRequests {
				backoff = retryDelay429
				trace.Log(ctx, "api: 429 限流，等待 %s 后重试", backoff)
			} else {
				trace.Log(ctx, "api: retry %d/%d %s", attempt, attempts-1, u)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return nil, fmt.Errorf("api: new request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		trace.Log(ctx, "api: req %s %s", method, u)
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("api: read body: %w", err)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			lastStatus = resp.StatusCode
			trace.Log(ctx, "api: resp status=%d len=%d body=%s", resp.StatusCode, len(body), truncateForLog(body))
			lastErr = &StatusError{Code: resp.StatusCode, Body: truncateForLog(body)}
			// 4xx 除 429 外重试无意义
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
			continue
		}
		lastStatus = 0
		return body, nil
	}
	trace.Log(ctx, "api: doWithRetry fail url=%s err=%v", u, lastErr)
	return nil, lastErr
}

// ParseQuotes 解析 {"quotes":[...]}。缺 symbol 或 currentPrice 不是数字的条目跳过，
// 由合并阶段按缺失处理；可选字段缺失或非数字时为 nil。
func ParseQuotes(body []byte) ([]model.Quote, error) {
	out, _, err := parseQuotes(body)
	return out, err
}

// parseQuotes 同 ParseQuotes，另返回因价格无效被跳过的代码。
func parseQuotes(body []byte) (out []model.Quote, noPrice []string, err error) {
	if !gjson.ValidBytes(bytes.TrimSpace(body)) {
		return nil, nil, fmt.Errorf("api: 响应不是合法 JSON")
	}
	arr := gjson.GetBytes(body, "quotes")
	if !arr.Exists() || !arr.IsArray() {
		return nil, nil, ErrEmptyQuotes
	}
	items := arr.Array()
	out = make([]model.Quote, 0, len(items))
	for _, v := range items {
		sym := strings.TrimSpace(v.Get("symbol").String())
		if sym == "" {
			continue
		}
		price := optFloat(v, "currentPrice")
		if price == nil {
			// 缺价格按 0 处理会被误判为跌破殘值
			noPrice = append(noPrice, sym)
			continue
		}
		out = append(out, model.Quote{
			Symbol:             sym,
			CurrentPrice:       *price,
			Change:             v.Get("change").Float(),
			PercentChange:      v.Get("percentChange").Float(),
			PreviousClosePrice: v.Get("previousClosePrice").Float(),
			RegularMarketTime:  v.Get("regularMarketTime").String(),

			PreMarketPrice:         optFloat(v, "preMarketPrice"),
			PreMarketChange:        optFloat(v, "preMarketChange"),
			PreMarketChangePercent: optFloat(v, "preMarketChangePercent"),
			PreMarketTime:          v.Get("preMarketTime").String(),

			PostMarketPrice:         optFloat(v, "postMarketPrice"),
			PostMarketChange:        optFloat(v, "postMarketChange"),
			PostMarketChangePercent: optFloat(v, "postMarketChangePercent"),
			PostMarketTime:          v.Get("postMarketTime").String(),

			ForwardPE:     optFloat(v, "forwardPE"),
			PriceToBook:   optFloat(v, "priceToBook"),
			DividendYield: optFloat(v, "dividendYield"),
		})
	}
	if len(out) == 0 {
		return nil, noPrice, ErrEmptyQuotes
	}
	return out, noPrice, nil
}

func optFloat(v gjson.Result, path string) *float64 {
	r := v.Get(path)
	if r.Type != gjson.Number {
		return nil
	}
	f := r.Float()
	return &f
}

func truncateForLog(b []byte) string {
	s := string(b)
	if len(b) > maxRespLogLen {
		s = s[:maxRespLogLen] + "..."
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r", " "), "\n", " ")
}
