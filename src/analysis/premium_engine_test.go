package analysis

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
	"kimchi-observer/src/store"
)

var t0 = time.Unix(1_700_000_000, 0)

var groups = map[string]string{
	"upbit":   models.GroupDomestic,
	"bithumb": models.GroupDomestic,
	"binance": models.GroupGlobal,
	"luno":    models.GroupGlobal,
}

type fixedRate float64

func (r fixedRate) CurrentRate() models.MExchangeRate {
	return models.MExchangeRate{CurrencyPair: "USDKRW", Rate: float64(r), Source: models.RateSourcePrimary, UpdatedAt: t0}
}

func newStore(t *testing.T) *store.MarketStore {
	t.Helper()
	s := store.NewMarketStore(models.MStoreConfig{Shards: 4, TTLSeconds: 600, FreshnessSeconds: 60}, nil, logger.NewNop())
	s.SetClock(func() time.Time { return t0 })
	return s
}

func put(t *testing.T, s *store.MarketStore, exchange, symbol string, price float64, at time.Time) {
	t.Helper()
	if err := s.Upsert(models.MTicker{Exchange: exchange, Symbol: symbol, Price: price, ObservedAt: at}); err != nil {
		t.Fatalf("Upsert %s/%s: %v", exchange, symbol, err)
	}
}

func newEngine(s MarketReader, mode string, rate float64) *PremiumEngine {
	return NewPremiumEngine(models.MPremiumConfig{Mode: mode, IntervalMs: 10}, groups, s, fixedRate(rate), logger.NewNop())
}

// -----------------------------------------------------------------------------

func TestCycleComputesPremium(t *testing.T) {
	s := newStore(t)
	put(t, s, "upbit", "BTC", 100_000_000, t0)
	put(t, s, "binance", "BTC", 70_000, t0)

	e := newEngine(s, models.PremiumModeLive, 1400)
	records := e.RunCycle(t0)
	if len(records) != 1 {
		t.Fatalf("expected one record, got %+v", records)
	}

	r := records[0]
	if r.PremiumPercent != 2.04 {
		t.Errorf("premium = %v, want 2.04", r.PremiumPercent)
	}
	if r.GlobalAvgPriceConverted != 98_000_000 || r.Rate != 1400 || !r.CalculatedAt.Equal(t0) {
		t.Errorf("unexpected record %+v", r)
	}
	if r.DomesticPrices["upbit"] != 100_000_000 || r.GlobalPrices["binance"] != 70_000 {
		t.Errorf("raw prices not retained: %+v", r)
	}
	if e.Version() != 1 || e.Metrics().Emitted != 1 {
		t.Errorf("version %d, metrics %+v", e.Version(), e.Metrics())
	}
}

// -----------------------------------------------------------------------------

func TestBatchModeUsesFourDecimals(t *testing.T) {
	s := newStore(t)
	put(t, s, "upbit", "BTC", 100_000_000, t0)
	put(t, s, "binance", "BTC", 70_000, t0)

	records := newEngine(s, models.PremiumModeBatch, 1400).RunCycle(t0)
	if len(records) != 1 || records[0].PremiumPercent != 2.0408 {
		t.Errorf("records = %+v", records)
	}
}

// -----------------------------------------------------------------------------

func TestAveragesAcrossExchanges(t *testing.T) {
	s := newStore(t)
	put(t, s, "upbit", "ETH", 4_100_000, t0)
	put(t, s, "bithumb", "ETH", 4_120_000, t0)
	put(t, s, "binance", "ETH", 3_000, t0)
	put(t, s, "luno", "ETH", 3_010, t0)

	records := newEngine(s, models.PremiumModeLive, 1350).RunCycle(t0)
	if len(records) != 1 {
		t.Fatalf("records = %+v", records)
	}
	r := records[0]
	if r.DomesticAvgPrice != 4_110_000 || r.GlobalAvgPrice != 3_005 {
		t.Errorf("averages = %v / %v", r.DomesticAvgPrice, r.GlobalAvgPrice)
	}
	want := math.Round((4_110_000/(3_005*1350.0)-1)*100*100) / 100
	if r.PremiumPercent != want {
		t.Errorf("premium = %v, want %v", r.PremiumPercent, want)
	}
}

// -----------------------------------------------------------------------------

func TestSkipsAndRejects(t *testing.T) {
	s := newStore(t)
	put(t, s, "binance", "SOL", 150, t0)  // no domestic price
	put(t, s, "upbit", "XRP", 800, t0)    // no global price
	put(t, s, "upbit", "DOGE", 1_000, t0) // +400%
	put(t, s, "binance", "DOGE", 0.15, t0)
	put(t, s, "upbit", "ADA", 700, t0) // global too old
	put(t, s, "binance", "ADA", 0.5, t0.Add(-time.Hour))

	e := newEngine(s, models.PremiumModeLive, 1350)
	if records := e.RunCycle(t0); len(records) != 0 {
		t.Fatalf("expected no records, got %+v", records)
	}

	m := e.Metrics()
	if m.Skipped != 3 || m.Rejected != 1 || m.Emitted != 0 {
		t.Errorf("metrics = %+v", m)
	}
	if len(e.Latest()) != 0 {
		t.Errorf("Latest should be empty")
	}
}

// -----------------------------------------------------------------------------

func TestEmittedPremiumsStayWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	s := newStore(t)
	for i := 0; i < 200; i++ {
		sym := "S" + string(rune('A'+i%26)) + string(rune('A'+i/26))
		global := 1 + rng.Float64()*1000
		put(t, s, "binance", sym, global, t0)
		put(t, s, "upbit", sym, global*1350*(0.2+rng.Float64()*1.6), t0)
	}

	records := newEngine(s, models.PremiumModeLive, 1350).RunCycle(t0)
	if len(records) == 0 {
		t.Fatal("expected some records inside the band")
	}
	for _, r := range records {
		if math.Abs(r.PremiumPercent) > MaxAbsPremium || math.IsNaN(r.PremiumPercent) {
			t.Errorf("%s: premium %v escaped the bound", r.Symbol, r.PremiumPercent)
		}
	}
}

// -----------------------------------------------------------------------------

// panicky wraps a store and blows up for one symbol.
type panicky struct {
	*store.MarketStore
	symbol string
}

func (p panicky) FreshForSymbol(symbol string, now time.Time) []models.MTicker {
	if symbol == p.symbol {
		panic("corrupt shard")
	}
	return p.MarketStore.FreshForSymbol(symbol, now)
}

func TestSymbolPanicDoesNotAbortCycle(t *testing.T) {
	s := newStore(t)
	for _, sym := range []string{"BTC", "ETH"} {
		put(t, s, "upbit", sym, 1_400_000, t0)
		put(t, s, "binance", sym, 1_000, t0)
	}

	e := newEngine(panicky{s, "BTC"}, models.PremiumModeLive, 1400)
	records := e.RunCycle(t0)
	if len(records) != 1 || records[0].Symbol != "ETH" {
		t.Errorf("records = %+v", records)
	}
	if e.Metrics().Failed != 1 {
		t.Errorf("metrics = %+v", e.Metrics())
	}
}

// -----------------------------------------------------------------------------

func TestLatestReturnsCopies(t *testing.T) {
	s := newStore(t)
	put(t, s, "upbit", "BTC", 1_400_000, t0)
	put(t, s, "binance", "BTC", 1_000, t0)

	e := newEngine(s, models.PremiumModeLive, 1400)
	e.RunCycle(t0)

	got := e.Latest()
	got[0].DomesticPrices["upbit"] = 1
	if r, _ := e.LatestFor("BTC"); r.DomesticPrices["upbit"] != 1_400_000 {
		t.Error("Latest leaked internal state")
	}
}

// -----------------------------------------------------------------------------

func TestHistoryKeepsRecentCycles(t *testing.T) {
	s := newStore(t)
	put(t, s, "upbit", "BTC", 1_400_000, t0)
	put(t, s, "binance", "BTC", 1_000, t0)

	e := newEngine(s, models.PremiumModeLive, 1400)
	e.RunCycle(t0)
	e.RunCycle(t0.Add(time.Second))

	h := e.History("BTC", 10)
	if len(h) != 2 {
		t.Fatalf("history = %+v", h)
	}
	if !h[0].CalculatedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("newest first expected, got %v", h[0].CalculatedAt)
	}
	if got := e.History("BTC", 1); len(got) != 1 {
		t.Errorf("limit ignored: %d", len(got))
	}
	if got := e.History("ETH", 10); len(got) != 0 {
		t.Errorf("unknown symbol history = %+v", got)
	}
}

// -----------------------------------------------------------------------------

type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.MPremiumRecord
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) ConsumePremiums(ctx context.Context, records []models.MPremiumRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, records)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

type panickingSink struct{}

func (panickingSink) Name() string { return "broken" }
func (panickingSink) ConsumePremiums(ctx context.Context, records []models.MPremiumRecord) error {
	panic("boom")
}

func TestStartDeliversToSinks(t *testing.T) {
	s := store.NewMarketStore(models.MStoreConfig{Shards: 4, TTLSeconds: 600, FreshnessSeconds: 60}, nil, logger.NewNop())
	now := time.Now()
	s.Upsert(models.MTicker{Exchange: "upbit", Symbol: "BTC", Price: 1_400_000, ObservedAt: now})
	s.Upsert(models.MTicker{Exchange: "binance", Symbol: "BTC", Price: 1_000, ObservedAt: now})

	e := newEngine(s, models.PremiumModeLive, 1400)
	sink := &recordingSink{}
	e.AddSink(panickingSink{})
	e.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	e.Start(ctx, &wg)

	deadline := time.Now().Add(3 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if sink.count() == 0 {
		t.Fatal("sink received nothing")
	}
	if e.Version() == 0 {
		t.Error("no cycles recorded")
	}
}
