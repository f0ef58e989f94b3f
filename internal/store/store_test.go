package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"netnetWatch/internal/model"
)

func TestDefaultsOnGarbage(t *testing.T) {
	kv := NewMemoryKV()
	_ = kv.Set(KeySortOrder, "sideways")
	_ = kv.Set(KeyMarketFilter, "hk_market")
	_ = kv.Set(KeyTheme, "neon")
	_ = kv.Set(KeyNotificationsEnabled, "1")
	_ = kv.Set(KeyNotifiedStocks, `{"symbols":"AAPL"}`)
	s := New(kv)

	if s.SortOrder() != SortAsc {
		t.Errorf("SortOrder = %s", s.SortOrder())
	}
	if s.MarketFilter() != model.MarketUS {
		t.Errorf("MarketFilter = %s", s.MarketFilter())
	}
	if s.Theme() != ThemeDark {
		t.Errorf("Theme = %s", s.Theme())
	}
	if s.NotificationsEnabled() {
		t.Error("NotificationsEnabled should default to false")
	}
	if rec := s.Notified(); len(rec.Symbols) != 0 || !rec.UpdatedAt.IsZero() {
		t.Errorf("Notified = %+v", rec)
	}
}

func TestRoundTripPreferences(t *testing.T) {
	s := New(nil)
	_ = s.SetSortOrder(SortDesc)
	_ = s.SetMarketFilter(model.MarketHK)
	_ = s.SetTheme(ThemeLight)
	_ = s.SetNotificationsEnabled(true)
	want := Preferences{SortOrder: SortDesc, MarketFilter: model.MarketHK, Theme: ThemeLight}
	if got := s.Preferences(); got != want {
		t.Fatalf("Preferences = %+v", got)
	}
	if !s.NotificationsEnabled() {
		t.Fatal("enabled not persisted")
	}
}

func TestNotifiedLegacyArray(t *testing.T) {
	kv := NewMemoryKV()
	_ = kv.Set(KeyNotifiedStocks, `["MSFT","AAPL","AAPL"]`)
	rec := New(kv).Notified()
	if !reflect.DeepEqual(rec.Symbols, []string{"AAPL", "MSFT"}) {
		t.Fatalf("Symbols = %v", rec.Symbols)
	}
}

func TestSaveNotifiedLastWriteWins(t *testing.T) {
	s := New(nil)
	t0 := time.Unix(1000, 0)

	if _, ok, err := s.SaveNotified(NotifiedRecord{Symbols: []string{"AAPL"}, UpdatedAt: t0.Add(2 * time.Second)}); !ok || err != nil {
		t.Fatalf("first save ok=%v err=%v", ok, err)
	}
	cur, ok, err := s.SaveNotified(NotifiedRecord{Symbols: []string{"MSFT"}, UpdatedAt: t0.Add(time.Second)})
	if err != nil || ok {
		t.Fatalf("stale write accepted ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(cur.Symbols, []string{"AAPL"}) {
		t.Fatalf("returned %v", cur.Symbols)
	}
	if _, ok, _ := s.SaveNotified(NotifiedRecord{Symbols: nil, UpdatedAt: t0.Add(3 * time.Second)}); !ok {
		t.Fatal("newer write rejected")
	}
	if got := s.Notified(); len(got.Symbols) != 0 || !got.UpdatedAt.Equal(t0.Add(3*time.Second)) {
		t.Fatalf("Notified = %+v", got)
	}
}

func TestFileKVPersists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state", "netnet.json")
	kv, err := OpenFile(p)
	if err != nil {
		t.Fatal(err)
	}
	s := New(kv)
	_ = s.SetTheme(ThemeLight)
	if _, _, err := s.SaveNotified(NotifiedRecord{Symbols: []string{"AAPL"}, UpdatedAt: time.Unix(5, 0)}); err != nil {
		t.Fatal(err)
	}

	kv2, err := OpenFile(p)
	if err != nil {
		t.Fatal(err)
	}
	s2 := New(kv2)
	if s2.Theme() != ThemeLight {
		t.Errorf("theme not persisted")
	}
	if got := s2.Notified().Symbols; !reflect.DeepEqual(got, []string{"AAPL"}) {
		t.Errorf("notified = %v", got)
	}
}

func TestFileKVCorrupt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "netnet.json")
	if err := os.WriteFile(p, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	kv, err := OpenFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if New(kv).SortOrder() != SortAsc {
		t.Fatal("corrupt file should fall back to defaults")
	}
}
