package store

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"netnetWatch/internal/model"
)

// 键名沿用网页版 localStorage 的命名
const (
	KeySortOrder            = "stock-valuation-sort-order"
	KeyMarketFilter         = "stock-valuation-market-filter"
	KeyTheme                = "stock-valuation-theme"
	KeyNotificationsEnabled = "stock-valuation-notifications-enabled"
	KeyNotifiedStocks       = "stock-valuation-notified-stocks"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// 默认值
const (
	DefaultSortOrder    = SortAsc
	DefaultMarketFilter = model.MarketUS
	DefaultTheme        = ThemeDark
)

func ParseSortOrder(s string) (SortOrder, bool) {
	switch SortOrder(s) {
	case SortAsc, SortDesc:
		return SortOrder(s), true
	}
	return "", false
}

func ParseTheme(s string) (Theme, bool) {
	switch Theme(s) {
	case ThemeLight, ThemeDark:
		return Theme(s), true
	}
	return "", false
}

// NotifiedRecord 已通知代码集合及其更新时间，跨前台/后台按 UpdatedAt 最后写入者胜。
type NotifiedRecord struct {
	Symbols   []string  `json:"symbols"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Preferences 界面偏好快照。
type Preferences struct {
	SortOrder    SortOrder    `json:"sortOrder"`
	MarketFilter model.Market `json:"marketFilter"`
	Theme        Theme        `json:"theme"`
}

// Store 在 KV 之上提供带校验的读写。
type Store struct {
	kv KV
	// 通知记录的读-比较-写需要串行
	notifiedMu sync.Mutex
}

func New(kv KV) *Store {
	if kv == nil {
		kv = NewMemoryKV()
	}
	return &Store{kv: kv}
}

func (s *Store) SortOrder() SortOrder {
	if v, ok := s.kv.Get(KeySortOrder); ok {
		if o, ok := ParseSortOrder(v); ok {
			return o
		}
	}
	return DefaultSortOrder
}

func (s *Store) SetSortOrder(o SortOrder) error {
	if _, ok := ParseSortOrder(string(o)); !ok {
		o = DefaultSortOrder
	}
	return s.kv.Set(KeySortOrder, string(o))
}

func (s *Store) MarketFilter() model.Market {
	if v, ok := s.kv.Get(KeyMarketFilter); ok {
		if m, ok := model.ParseMarket(v); ok && string(m) == v {
			return m
		}
	}
	return DefaultMarketFilter
}

func (s *Store) SetMarketFilter(m model.Market) error {
	if _, ok := model.ParseMarket(string(m)); !ok {
		m = DefaultMarketFilter
	}
	return s.kv.Set(KeyMarketFilter, string(m))
}

func (s *Store) Theme() Theme {
	if v, ok := s.kv.Get(KeyTheme); ok {
		if t, ok := ParseTheme(v); ok {
			return t
		}
	}
	return DefaultTheme
}

func (s *Store) SetTheme(t Theme) error {
	if _, ok := ParseTheme(string(t)); !ok {
		t = DefaultTheme
	}
	return s.kv.Set(KeyTheme, string(t))
}

func (s *Store) Preferences() Preferences {
	return Preferences{SortOrder: s.SortOrder(), MarketFilter: s.MarketFilter(), Theme: s.Theme()}
}

// NotificationsEnabled 只认 "true"/"false"，其余按关闭处理。
func (s *Store) NotificationsEnabled() bool {
	v, ok := s.kv.Get(KeyNotificationsEnabled)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil || (v != "true" && v != "false") {
		return false
	}
	return b
}

func (s *Store) SetNotificationsEnabled(on bool) error {
	return s.kv.Set(KeyNotificationsEnabled, strconv.FormatBool(on))
}

// Notified 读取已通知记录；兼容旧格式（纯 JSON 字符串数组，UpdatedAt 视为零值）。
// 任何形状不符都回退为空记录。
func (s *Store) Notified() NotifiedRecord {
	v, ok := s.kv.Get(KeyNotifiedStocks)
	if !ok {
		return NotifiedRecord{}
	}
	var rec NotifiedRecord
	if err := json.Unmarshal([]byte(v), &rec); err == nil && rec.Symbols != nil {
		rec.Symbols = normalize(rec.Symbols)
		return rec
	}
	var legacy []string
	if err := json.Unmarshal([]byte(v), &legacy); err == nil {
		return NotifiedRecord{Symbols: normalize(legacy)}
	}
	return NotifiedRecord{}
}

// SaveNotified 按 UpdatedAt 最后写入者胜：比已存记录旧的写入被拒绝，返回已存记录与 false。
// 时间相同视为较新（同一写入者重复保存）。
func (s *Store) SaveNotified(rec NotifiedRecord) (NotifiedRecord, bool, error) {
	s.notifiedMu.Lock()
	defer s.notifiedMu.Unlock()
	cur := s.Notified()
	if rec.UpdatedAt.Before(cur.UpdatedAt) {
		return cur, false, nil
	}
	rec.Symbols = normalize(rec.Symbols)
	b, err := json.Marshal(rec)
	if err != nil {
		return cur, false, err
	}
	if err := s.kv.Set(KeyNotifiedStocks, string(b)); err != nil {
		return cur, false, err
	}
	return rec, true, nil
}

// normalize 去空、去重、排序，保证持久化形状稳定。
func normalize(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
