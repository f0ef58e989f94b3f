package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"netnetWatch/internal/api"
	"netnetWatch/internal/dataset"
	"netnetWatch/internal/model"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) ([]model.Quote, error)
}

func (f *fakeFetcher) GetQuotes(ctx context.Context, symbols string) ([]model.Quote, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quotes(price float64) []model.Quote {
	return []model.Quote{{Symbol: "AAPL", CurrentPrice: price}}
}

func catalog() *dataset.Catalog {
	return dataset.NewCatalog(context.Background(), []model.TrackedSymbol{
		{Symbol: "AAPL", Market: model.MarketUS, ValuationLow: 189.52, ValuationHigh: 288.40},
	})
}

func testConfig() Config {
	return Config{Interval: time.Hour, Timeout: time.Second, PulseDuration: time.Hour}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartFetchesImmediately(t *testing.T) {
	f := &fakeFetcher{fn: func(int) ([]model.Quote, error) { return quotes(195), nil }}
	e := New(f, nil, testConfig())
	var got []model.MergedStock
	var mu sync.Mutex
	e.OnResult(func(_ context.Context, s []model.MergedStock) {
		mu.Lock()
		got = s
		mu.Unlock()
	})
	stop := e.Start(context.Background(), catalog())
	defer stop()
	e.wait()

	if f.count() != 1 {
		t.Fatalf("calls = %d", f.count())
	}
	s := e.Snapshot()
	if len(s.Stocks) != 1 || s.Stocks[0].CurrentPrice() != 195 || s.Loading || !s.Pulse || s.LastUpdate.IsZero() {
		t.Fatalf("snapshot = %+v", s)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Status() != model.StatusFair {
		t.Fatalf("OnResult got %+v", got)
	}
}

func TestVisibilityScenario(t *testing.T) {
	f := &fakeFetcher{fn: func(int) ([]model.Quote, error) { return quotes(195), nil }}
	vis := NewVisibility()
	e := New(f, vis, testConfig())
	stop := e.Start(context.Background(), catalog())
	defer stop()
	e.wait()

	vis.SetHidden(true)
	e.tick()
	e.tick()
	e.wait()
	if f.count() != 1 {
		t.Fatalf("hidden ticks fetched: calls = %d", f.count())
	}
	vis.SetHidden(false)
	e.wait()
	if f.count() != 2 {
		t.Fatalf("becoming visible should fetch once, calls = %d", f.count())
	}
	vis.SetHidden(false)
	e.tick()
	e.wait()
	if f.count() != 3 {
		t.Fatalf("calls = %d", f.count())
	}
}

func TestStaleDataKeptOnError(t *testing.T) {
	netErr := errors.New("connection refused")
	f := &fakeFetcher{fn: func(n int) ([]model.Quote, error) {
		if n == 2 {
			return nil, netErr
		}
		return quotes(float64(190 + n)), nil
	}}
	e := New(f, nil, testConfig())
	stop := e.Start(context.Background(), catalog())
	defer stop()
	e.wait()

	e.Retry()
	e.wait()
	s := e.Snapshot()
	if !errors.Is(s.Err, netErr) {
		t.Fatalf("err = %v", s.Err)
	}
	if len(s.Stocks) != 1 || s.Stocks[0].CurrentPrice() != 191 {
		t.Fatalf("stale stocks lost: %+v", s.Stocks)
	}

	e.tick()
	e.wait()
	s = e.Snapshot()
	if s.Err != nil || s.Stocks[0].CurrentPrice() != 193 {
		t.Fatalf("recovery snapshot = %+v", s)
	}
}

func TestConfigErrorSurfaces(t *testing.T) {
	f := &fakeFetcher{fn: func(int) ([]model.Quote, error) { return nil, api.ErrNoAPIURL }}
	e := New(f, nil, testConfig())
	stop := e.Start(context.Background(), catalog())
	defer stop()
	e.wait()
	if s := e.Snapshot(); !api.IsConfigError(s.Err) || s.Loading {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestOlderCycleNeverOverridesNewer(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{fn: func(n int) ([]model.Quote, error) {
		if n == 1 {
			<-release
			return quotes(100), nil
		}
		return quotes(200), nil
	}}
	e := New(f, nil, testConfig())
	stop := e.Start(context.Background(), catalog())
	defer stop()
	eventually(t, func() bool { return f.count() == 1 })

	e.Retry()
	eventually(t, func() bool {
		s := e.Snapshot()
		return len(s.Stocks) == 1
	})
	if s := e.Snapshot(); s.Stocks[0].CurrentPrice() != 200 {
		t.Fatalf("snapshot = %+v", s)
	}
	close(release)
	e.wait()
	s := e.Snapshot()
	if s.Stocks[0].CurrentPrice() != 200 {
		t.Fatalf("older cycle overrode newer: %v", s.Stocks[0].CurrentPrice())
	}
	if s.Loading {
		t.Fatal("loading should clear once every cycle settled")
	}
}

func TestResultsDeliveredInOrder(t *testing.T) {
	f := &fakeFetcher{fn: func(n int) ([]model.Quote, error) { return quotes(180 + float64(n)), nil }}
	e := New(f, nil, testConfig())

	var mu sync.Mutex
	var got []float64
	e.OnResult(func(_ context.Context, s []model.MergedStock) {
		mu.Lock()
		got = append(got, s[0].CurrentPrice())
		mu.Unlock()
	})
	// 第一个周期写入快照后、交付之前停住
	held := make(chan struct{})
	release := make(chan struct{})
	var first atomic.Bool
	e.Subscribe(func(s Snapshot) {
		if len(s.Stocks) == 1 && s.Stocks[0].CurrentPrice() == 181 && first.CompareAndSwap(false, true) {
			close(held)
			<-release
		}
	})
	stop := e.Start(context.Background(), catalog())
	defer stop()
	<-held

	e.Retry()
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	close(release)
	e.wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != 182 {
		t.Fatalf("delivered = %v", got)
	}
	if p := e.Snapshot().Stocks[0].CurrentPrice(); p != 182 {
		t.Fatalf("snapshot = %v", p)
	}
}

func TestStopDiscardsLateResults(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{fn: func(int) ([]model.Quote, error) {
		<-release
		return quotes(150), nil
	}}
	vis := NewVisibility()
	e := New(f, vis, testConfig())
	called := false
	e.OnResult(func(context.Context, []model.MergedStock) { called = true })
	stop := e.Start(context.Background(), catalog())
	eventually(t, func() bool { return f.count() == 1 })

	stop()
	stop()
	close(release)
	e.wait()
	if s := e.Snapshot(); len(s.Stocks) != 0 || s.Pulse {
		t.Fatalf("late result applied: %+v", s)
	}
	if called {
		t.Fatal("OnResult called after stop")
	}
	e.Retry()
	e.tick()
	e.wait()
	if f.count() != 1 {
		t.Fatalf("fetched after stop: %d", f.count())
	}
	if vis.listenerCount() != 0 {
		t.Fatal("visibility listener leaked")
	}
}

func TestStartTwiceReturnsSameStop(t *testing.T) {
	f := &fakeFetcher{fn: func(int) ([]model.Quote, error) { return quotes(195), nil }}
	e := New(f, nil, testConfig())
	stop := e.Start(context.Background(), catalog())
	e.Start(context.Background(), catalog())
	e.wait()
	if f.count() != 1 {
		t.Fatalf("second Start fetched: %d", f.count())
	}
	stop()

	stop2 := e.Start(context.Background(), catalog())
	defer stop2()
	e.wait()
	if f.count() != 2 {
		t.Fatalf("restart should fetch, calls = %d", f.count())
	}
}

func TestPulseExpires(t *testing.T) {
	f := &fakeFetcher{fn: func(int) ([]model.Quote, error) { return quotes(195), nil }}
	cfg := testConfig()
	cfg.PulseDuration = 20 * time.Millisecond
	e := New(f, nil, cfg)
	var versions []uint64
	var mu sync.Mutex
	e.Subscribe(func(s Snapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	})
	stop := e.Start(context.Background(), catalog())
	defer stop()
	e.wait()
	if !e.Snapshot().Pulse {
		t.Fatal("pulse not set after success")
	}
	eventually(t, func() bool { return !e.Snapshot().Pulse })

	mu.Lock()
	defer mu.Unlock()
	// loading -> 结果 -> pulse 熄灭
	if len(versions) != 3 {
		t.Fatalf("versions = %v", versions)
	}
}

func TestContextCancelStops(t *testing.T) {
	f := &fakeFetcher{fn: func(int) ([]model.Quote, error) { return quotes(195), nil }}
	vis := NewVisibility()
	e := New(f, vis, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx, catalog())
	e.wait()
	cancel()
	eventually(t, func() bool { return vis.listenerCount() == 0 })
	e.Retry()
	e.wait()
	if f.count() != 1 {
		t.Fatalf("fetched after cancel: %d", f.count())
	}
}
