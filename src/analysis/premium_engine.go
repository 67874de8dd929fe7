package analysis

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"kimchi-observer/src/analysis/core"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
	"kimchi-observer/src/utils"
)

// MaxAbsPremium bounds accepted premiums; anything wider is an outlier.
const MaxAbsPremium = 50.0

// Rounding per mode.
const (
	LivePrecision  int32 = 2
	BatchPrecision int32 = 4
)

const (
	sinkQueueSize = 8
	sinkTimeout   = 10 * time.Second
)

// HistorySize is how many records per symbol stay in memory.
const HistorySize = 300

// MarketReader is the read side of the market store the engine needs.
type MarketReader interface {
	Symbols() []string
	FreshForSymbol(symbol string, now time.Time) []models.MTicker
}

type symbolOutcome int

const (
	outcomeEmitted symbolOutcome = iota
	outcomeSkipped
	outcomeRejected
	outcomeFailed
)

// PremiumEngine computes the domestic vs global premium for every tracked
// symbol once per cycle.
type PremiumEngine struct {
	Config models.MPremiumConfig
	Groups map[string]string
	Store  MarketReader
	Rates  interfaces.IRateProvider
	Logger *logger.Logger

	precision int32
	sinks     []interfaces.IPremiumSink
	queue     chan []models.MPremiumRecord

	mu      sync.RWMutex
	latest  map[string]models.MPremiumRecord
	history map[string]*utils.RingBuffer[models.MPremiumRecord]
	version atomic.Uint64
	metrics atomic.Pointer[models.MCycleMetrics]
	dropped atomic.Uint64
}

// -----------------------------------------------------------------------------

func NewPremiumEngine(cfg models.MPremiumConfig, groups map[string]string, store MarketReader, rates interfaces.IRateProvider, log *logger.Logger) *PremiumEngine {
	precision := LivePrecision
	if cfg.Mode == models.PremiumModeBatch {
		precision = BatchPrecision
	}
	e := &PremiumEngine{
		Config:    cfg,
		Groups:    groups,
		Store:     store,
		Rates:     rates,
		Logger:    log,
		precision: precision,
		queue:     make(chan []models.MPremiumRecord, sinkQueueSize),
		latest:    make(map[string]models.MPremiumRecord),
		history:   make(map[string]*utils.RingBuffer[models.MPremiumRecord]),
	}
	e.metrics.Store(&models.MCycleMetrics{})
	return e
}

// -----------------------------------------------------------------------------

// AddSink registers a consumer for every cycle's records. Call before Start.
func (e *PremiumEngine) AddSink(sink interfaces.IPremiumSink) {
	e.sinks = append(e.sinks, sink)
}

// -----------------------------------------------------------------------------

func (e *PremiumEngine) Interval() time.Duration {
	if e.Config.IntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(e.Config.IntervalMs) * time.Millisecond
}

// -----------------------------------------------------------------------------

func (e *PremiumEngine) trackedSymbols() []string {
	if len(e.Config.Symbols) > 0 {
		return e.Config.Symbols
	}
	return e.Store.Symbols()
}

// -----------------------------------------------------------------------------

// RunCycle computes one round of premiums at now and makes them the latest.
// A symbol that fails never aborts the cycle.
func (e *PremiumEngine) RunCycle(now time.Time) []models.MPremiumRecord {
	start := time.Now()
	rate := e.Rates.CurrentRate()
	symbols := e.trackedSymbols()

	m := models.MCycleMetrics{}
	records := make([]models.MPremiumRecord, 0, len(symbols))
	for _, sym := range symbols {
		rec, outcome := e.safeCompute(sym, rate, now)
		switch outcome {
		case outcomeEmitted:
			records = append(records, rec)
			m.Emitted++
		case outcomeSkipped:
			m.Skipped++
		case outcomeRejected:
			m.Rejected++
		case outcomeFailed:
			m.Failed++
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })

	latest := make(map[string]models.MPremiumRecord, len(records))
	for _, r := range records {
		latest[r.Symbol] = r
	}
	e.mu.Lock()
	e.latest = latest
	for _, r := range records {
		h, ok := e.history[r.Symbol]
		if !ok {
			h = utils.NewRingBuffer[models.MPremiumRecord](HistorySize)
			e.history[r.Symbol] = h
		}
		h.Append(r)
	}
	e.mu.Unlock()

	m.Cycles = e.version.Add(1)
	m.DurationMs = float64(time.Since(start).Microseconds()) / 1000
	m.LastCycleUnix = now.Unix()
	e.metrics.Store(&m)

	e.Logger.Debug("Cycle %d: %d emitted, %d skipped, %d rejected, %d failed at rate %.2f (%s)",
		m.Cycles, m.Emitted, m.Skipped, m.Rejected, m.Failed, rate.Rate, rate.Source)
	return records
}

// -----------------------------------------------------------------------------

func (e *PremiumEngine) safeCompute(sym string, rate models.MExchangeRate, now time.Time) (rec models.MPremiumRecord, outcome symbolOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("Premium for %s panicked: %v\n%s", sym, r, debug.Stack())
			outcome = outcomeFailed
		}
	}()
	return e.computeSymbol(sym, rate, now)
}

// -----------------------------------------------------------------------------

func (e *PremiumEngine) computeSymbol(sym string, rate models.MExchangeRate, now time.Time) (models.MPremiumRecord, symbolOutcome) {
	// 1. Partition fresh prices by group
	domestic := make(map[string]float64)
	global := make(map[string]float64)
	for _, t := range e.Store.FreshForSymbol(sym, now) {
		if !core.ValidPrice(t.Price) {
			continue
		}
		switch e.Groups[t.Exchange] {
		case models.GroupDomestic:
			domestic[t.Exchange] = t.Price
		case models.GroupGlobal:
			global[t.Exchange] = t.Price
		}
	}

	// 2. Averages
	domesticAvg, ok := core.Mean(values(domestic))
	if !ok {
		return models.MPremiumRecord{}, outcomeSkipped
	}
	globalAvg, ok := core.Mean(values(global))
	if !ok {
		return models.MPremiumRecord{}, outcomeSkipped
	}

	// 3. Premium
	converted := globalAvg * rate.Rate
	premium, ok := core.PremiumPercent(domesticAvg, converted, e.precision)
	if !ok {
		e.Logger.Warning("Rejected %s: premium not computable (domestic %.4f, global %.4f, rate %.2f)", sym, domesticAvg, globalAvg, rate.Rate)
		return models.MPremiumRecord{}, outcomeRejected
	}
	if math.Abs(premium) > MaxAbsPremium {
		e.Logger.Warning("Rejected %s: premium %.2f%% outside ±%.0f%%", sym, premium, MaxAbsPremium)
		return models.MPremiumRecord{}, outcomeRejected
	}

	return models.MPremiumRecord{
		Symbol:                  sym,
		DomesticAvgPrice:        domesticAvg,
		GlobalAvgPrice:          globalAvg,
		GlobalAvgPriceConverted: converted,
		Rate:                    rate.Rate,
		PremiumPercent:          premium,
		CalculatedAt:            now,
		DomesticPrices:          domestic,
		GlobalPrices:            global,
	}, outcomeEmitted
}

// -----------------------------------------------------------------------------

func values(m map[string]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// -----------------------------------------------------------------------------

// Latest returns a copy of the most recent cycle's records, ordered by symbol.
func (e *PremiumEngine) Latest() []models.MPremiumRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.MPremiumRecord, 0, len(e.latest))
	for _, r := range e.latest {
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// -----------------------------------------------------------------------------

// LatestFor returns the latest record of one symbol.
func (e *PremiumEngine) LatestFor(symbol string) (models.MPremiumRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.latest[symbol]
	if !ok {
		return models.MPremiumRecord{}, false
	}
	return copyRecord(r), true
}

// -----------------------------------------------------------------------------

func copyRecord(r models.MPremiumRecord) models.MPremiumRecord {
	out := r
	out.DomesticPrices = make(map[string]float64, len(r.DomesticPrices))
	for k, v := range r.DomesticPrices {
		out.DomesticPrices[k] = v
	}
	out.GlobalPrices = make(map[string]float64, len(r.GlobalPrices))
	for k, v := range r.GlobalPrices {
		out.GlobalPrices[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------

// Version counts completed cycles.
func (e *PremiumEngine) Version() uint64 {
	return e.version.Load()
}

// -----------------------------------------------------------------------------

func (e *PremiumEngine) Metrics() models.MCycleMetrics {
	return *e.metrics.Load()
}

// -----------------------------------------------------------------------------

// DroppedBatches counts cycles whose records never reached the sinks
// because delivery was behind.
func (e *PremiumEngine) DroppedBatches() uint64 {
	return e.dropped.Load()
}

// -----------------------------------------------------------------------------

// History returns up to limit recent records of symbol, newest first.
func (e *PremiumEngine) History(symbol string, limit int) []models.MPremiumRecord {
	e.mu.RLock()
	h, ok := e.history[symbol]
	e.mu.RUnlock()
	if !ok {
		return []models.MPremiumRecord{}
	}
	return h.GetLatest(limit)
}

// -----------------------------------------------------------------------------

// Start runs a cycle every interval and delivers records to the sinks on a
// separate goroutine so slow sinks never delay the next cycle.
func (e *PremiumEngine) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)
	go e.deliveryLoop(ctx, wg)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(e.Interval())
		defer ticker.Stop()
		e.Logger.Info("Premium engine started (%s mode, every %s)", e.modeName(), e.Interval())

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				records := e.RunCycle(now)
				if len(records) > 0 && len(e.sinks) > 0 {
					e.enqueue(records)
				}
			}
		}
	}()
}

// -----------------------------------------------------------------------------

func (e *PremiumEngine) modeName() string {
	if e.Config.Mode == "" {
		return models.PremiumModeLive
	}
	return e.Config.Mode
}

// -----------------------------------------------------------------------------

func (e *PremiumEngine) enqueue(records []models.MPremiumRecord) {
	select {
	case e.queue <- records:
	default:
		e.dropped.Add(1)
		e.Logger.Warning("Premium sinks are behind, dropped a batch of %d records", len(records))
	}
}

// -----------------------------------------------------------------------------

func (e *PremiumEngine) deliveryLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case records := <-e.queue:
			e.Deliver(ctx, records)
		}
	}
}

// -----------------------------------------------------------------------------

// Deliver hands records to every sink in turn. A failing sink is logged and
// does not stop the others.
func (e *PremiumEngine) Deliver(ctx context.Context, records []models.MPremiumRecord) {
	for _, sink := range e.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := e.consume(sctx, sink, records)
		cancel()
		if err != nil {
			e.Logger.Error("Sink %s failed: %v", sink.Name(), err)
		}
	}
}

// -----------------------------------------------------------------------------

func (e *PremiumEngine) consume(ctx context.Context, sink interfaces.IPremiumSink, records []models.MPremiumRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.ConsumePremiums(ctx, records)
}
