// Package dataset 加载估值区间参考列表：按代码去重（先到先得）、校验区间，构造只读 Catalog。
package dataset

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"netnetWatch/internal/model"
	"netnetWatch/internal/trace"
)

//go:embed valuation.yaml
var defaultValuation []byte

// File 参考列表 YAML 文件结构。
type File struct {
	Stocks []model.TrackedSymbol `yaml:"stocks"`
}

// Load 去重并校验：同一代码只保留第一次出现，后续重复逐条告警；
// 空代码、未知市场、下限 > 上限的条目丢弃并告警。不返回错误，加载不能拖垮程序。
func Load(ctx context.Context, raw []model.TrackedSymbol) []model.TrackedSymbol {
	seen := make(map[string]int, len(raw))
	var dups []string
	out := make([]model.TrackedSymbol, 0, len(raw))
	for i, s := range raw {
		s.Symbol = strings.TrimSpace(s.Symbol)
		if s.Symbol == "" {
			trace.Warn(ctx, "dataset: index %d 代码为空，已丢弃", i)
			continue
		}
		if first, ok := seen[s.Symbol]; ok {
			trace.Warn(ctx, "dataset: 重复代码 %q 出现在 index %d 和 %d，保留第一次", s.Symbol, first, i)
			dups = append(dups, s.Symbol)
			continue
		}
		m, ok := model.ParseMarket(string(s.Market))
		if !ok {
			trace.Warn(ctx, "dataset: %s 市场 %q 无效，已丢弃", s.Symbol, s.Market)
			continue
		}
		s.Market = m
		if s.ValuationLow > s.ValuationHigh {
			trace.Warn(ctx, "dataset: %s 估值下限 %.2f > 上限 %.2f，已丢弃", s.Symbol, s.ValuationLow, s.ValuationHigh)
			continue
		}
		seen[s.Symbol] = i
		out = append(out, s)
	}
	if len(dups) > 0 {
		trace.Warn(ctx, "dataset: 共 %d 个重复代码: %s", len(dups), strings.Join(uniq(dups), ", "))
	}
	return out
}

// SymbolsCSV 去重后按首次出现顺序用逗号拼接，作为批量行情请求参数；空列表返回 ""。
func SymbolsCSV(list []model.TrackedSymbol) string {
	syms := make([]string, 0, len(list))
	for _, s := range list {
		syms = append(syms, s.Symbol)
	}
	return strings.Join(uniq(syms), ",")
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Parse 解析 YAML 参考列表（未去重）。
func Parse(b []byte) ([]model.TrackedSymbol, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("dataset: parse yaml: %w", err)
	}
	return f.Stocks, nil
}

// LoadFile 读取 path 指定的 YAML；path 为空时使用内置列表。
func LoadFile(ctx context.Context, path string) (*Catalog, error) {
	b := defaultValuation
	if strings.TrimSpace(path) != "" {
		var err error
		if b, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("dataset: read %s: %w", path, err)
		}
	}
	raw, err := Parse(b)
	if err != nil {
		return nil, err
	}
	c := NewCatalog(ctx, raw)
	trace.Log(ctx, "dataset: 载入 %d 条，去重校验后 %d 条", len(raw), c.Len())
	return c, nil
}

// Catalog 启动时构造一次的只读参考数据，注入轮询引擎与后台通知。
type Catalog struct {
	tracked []model.TrackedSymbol
	csv     string
	index   map[string]int
}

func NewCatalog(ctx context.Context, raw []model.TrackedSymbol) *Catalog {
	tracked := Load(ctx, raw)
	idx := make(map[string]int, len(tracked))
	for i, s := range tracked {
		idx[s.Symbol] = i
	}
	return &Catalog{tracked: tracked, csv: SymbolsCSV(tracked), index: idx}
}

// Tracked 返回副本，调用方改动不影响 Catalog。
func (c *Catalog) Tracked() []model.TrackedSymbol {
	if c == nil {
		return nil
	}
	out := make([]model.TrackedSymbol, len(c.tracked))
	copy(out, c.tracked)
	return out
}

func (c *Catalog) CSV() string {
	if c == nil {
		return ""
	}
	return c.csv
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tracked)
}

func (c *Catalog) Lookup(symbol string) (model.TrackedSymbol, bool) {
	if c == nil {
		return model.TrackedSymbol{}, false
	}
	i, ok := c.index[symbol]
	if !ok {
		return model.TrackedSymbol{}, false
	}
	return c.tracked[i], true
}
