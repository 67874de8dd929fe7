package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
)

var t0 = time.Unix(1_700_000_000, 0)

func newTestStore(mirror *fakeMirror) *MarketStore {
	cfg := models.MStoreConfig{Shards: 8, TTLSeconds: 600, FreshnessSeconds: 60}
	var s *MarketStore
	if mirror == nil {
		s = NewMarketStore(cfg, nil, logger.NewNop())
	} else {
		s = NewMarketStore(cfg, mirror, logger.NewNop())
	}
	s.SetClock(func() time.Time { return t0 })
	return s
}

func ticker(exchange, symbol string, price float64) models.MTicker {
	return models.MTicker{Exchange: exchange, Symbol: symbol, Price: price, Volume24h: 10, ChangePercent: 1.5, ObservedAt: t0}
}

// -----------------------------------------------------------------------------

type fakeMirror struct {
	mu      sync.Mutex
	written []models.MTicker
	fail    bool
}

func (f *fakeMirror) MirrorTickers(ctx context.Context, tickers []models.MTicker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("cache down")
	}
	f.written = append(f.written, tickers...)
	return nil
}

func (f *fakeMirror) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func (f *fakeMirror) Ping(ctx context.Context) error { return nil }
func (f *fakeMirror) Close() error                   { return nil }

// -----------------------------------------------------------------------------

func TestUpsertRejectsInvalidTickers(t *testing.T) {
	s := newTestStore(nil)

	bad := []models.MTicker{
		ticker("upbit", "btc", 1),
		ticker("upbit", "B", 1),
		ticker("upbit", "TOOLONGSYMBOL", 1),
		ticker("upbit", "BTC-KRW", 1),
		ticker("upbit", "BTC", 0),
		ticker("upbit", "BTC", -5),
		ticker("", "BTC", 5),
	}
	negVol := ticker("upbit", "ETH", 5)
	negVol.Volume24h = -1
	bad = append(bad, negVol)

	for _, tk := range bad {
		err := s.Upsert(tk)
		var ve *helpers.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("expected ValidationError for %+v, got %v", tk, err)
		}
	}
	if s.Len() != 0 {
		t.Errorf("invalid tickers must not be stored, have %d", s.Len())
	}

	for _, sym := range []string{"BTC", "1INCH", "AB", "ABCDEFGHIJ"} {
		if err := s.Upsert(ticker("upbit", sym, 1)); err != nil {
			t.Errorf("symbol %s should be accepted: %v", sym, err)
		}
	}
}

// -----------------------------------------------------------------------------

func TestUpsertIsIdempotent(t *testing.T) {
	s := newTestStore(nil)
	tk := ticker("upbit", "BTC", 100_000_000)

	if err := s.Upsert(tk); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	before := s.Snapshot()
	v := s.Version()

	if err := s.Upsert(tk); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	after := s.Snapshot()

	if s.Version() != v {
		t.Errorf("identical upsert bumped version %d -> %d", v, s.Version())
	}
	if len(before["upbit"]) != 1 || len(after["upbit"]) != 1 || before["upbit"][0] != after["upbit"][0] {
		t.Errorf("state changed: before=%v after=%v", before, after)
	}
}

// -----------------------------------------------------------------------------

func TestLastWriteWins(t *testing.T) {
	s := newTestStore(nil)
	s.Upsert(ticker("upbit", "BTC", 1))
	s.Upsert(ticker("upbit", "BTC", 2))

	got, ok := s.Get("upbit", "BTC")
	if !ok || got.Price != 2 {
		t.Errorf("expected price 2, got %+v", got)
	}
}

// -----------------------------------------------------------------------------

func TestCombinedViewAndQueries(t *testing.T) {
	s := newTestStore(nil)
	s.Upsert(ticker("upbit", "BTC", 100_000_000))
	s.Upsert(ticker("binance", "BTC", 70_000))
	s.Upsert(ticker("binance", "ETH", 3_000))

	view := s.CombinedView()
	if len(view) != 2 || view[0].Symbol != "BTC" || view[1].Symbol != "ETH" {
		t.Fatalf("unexpected combined view %+v", view)
	}
	if view[0].Exchanges["upbit"].Price != 100_000_000 || view[0].Exchanges["binance"].Price != 70_000 {
		t.Errorf("wrong prices in %+v", view[0])
	}

	all := s.GetAllForSymbol("BTC")
	if len(all) != 2 || all[0].Exchange != "binance" {
		t.Errorf("expected 2 BTC tickers sorted by exchange, got %+v", all)
	}

	// Mutating a returned copy must not leak into the store.
	all[0].Price = 1
	if again, _ := s.Get("binance", "BTC"); again.Price != 70_000 {
		t.Error("returned slice aliases store state")
	}

	if counts := s.CountByExchange(); counts["binance"] != 2 || counts["upbit"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
	if syms := s.Symbols(); len(syms) != 2 {
		t.Errorf("unexpected symbols %v", syms)
	}
	if dump := s.ByExchange("binance"); len(dump) != 2 || dump[0].Symbol != "BTC" {
		t.Errorf("unexpected dump %+v", dump)
	}
}

// -----------------------------------------------------------------------------

func TestFreshnessAndSweep(t *testing.T) {
	s := newTestStore(nil)
	s.Upsert(ticker("upbit", "BTC", 1))

	old := ticker("bithumb", "BTC", 1)
	old.ObservedAt = t0.Add(-2 * time.Minute)
	s.Upsert(old)

	fresh := s.FreshForSymbol("BTC", t0)
	if len(fresh) != 1 || fresh[0].Exchange != "upbit" {
		t.Errorf("expected only upbit fresh, got %+v", fresh)
	}
	if len(s.GetAllForSymbol("BTC")) != 2 {
		t.Error("stale tickers stay cached until swept")
	}

	now := t0.Add(11 * time.Minute)
	s.SetClock(func() time.Time { return now })
	if removed := s.Sweep(); removed != 2 {
		t.Errorf("expected sweep to remove 2, removed %d", removed)
	}
}

// -----------------------------------------------------------------------------

func TestConcurrentWritersAcrossExchanges(t *testing.T) {
	s := newTestStore(nil)
	var wg sync.WaitGroup

	for e := 0; e < 4; e++ {
		wg.Add(1)
		go func(e int) {
			defer wg.Done()
			ex := fmt.Sprintf("ex%d", e)
			for i := 0; i < 200; i++ {
				s.Upsert(ticker(ex, fmt.Sprintf("S%03d", i%50), float64(i+1)))
			}
		}(e)
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.CombinedView()
			}
		}()
	}
	wg.Wait()

	if s.Len() != 200 {
		t.Errorf("expected 4 exchanges x 50 symbols, got %d", s.Len())
	}
}

// -----------------------------------------------------------------------------

func TestMirrorIsBestEffort(t *testing.T) {
	mirror := &fakeMirror{}
	s := newTestStore(mirror)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	s.Start(ctx, &wg)

	s.Upsert(ticker("upbit", "BTC", 1))
	s.Upsert(ticker("upbit", "ETH", 1))

	deadline := time.Now().Add(2 * time.Second)
	for mirror.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if mirror.count() != 2 {
		t.Errorf("expected 2 mirrored tickers, got %d", mirror.count())
	}

	mirror.mu.Lock()
	mirror.fail = true
	mirror.mu.Unlock()

	if err := s.Upsert(ticker("upbit", "XRP", 1)); err != nil {
		t.Errorf("mirror failure must not surface to writers: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, failures := s.MirrorStats(); failures > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, failures := s.MirrorStats(); failures == 0 {
		t.Error("expected mirror failure to be counted")
	}

	cancel()
	wg.Wait()
}
