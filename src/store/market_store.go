package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
	"kimchi-observer/src/utils"
)

// SymbolPattern is the canonical symbol format.
var SymbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

const (
	mirrorQueueSize = 4096
	mirrorBatchSize = 256
	mirrorTimeout   = 2 * time.Second
)

// -----------------------------------------------------------------------------
// MarketStore holds the latest ticker per (exchange, symbol). Keys are spread
// over shards so writers of unrelated keys never share a lock.
// -----------------------------------------------------------------------------

type MarketStore struct {
	Logger    *logger.Logger
	shards    []*utils.TTLCache[string, models.MTicker]
	ttl       time.Duration
	freshness time.Duration
	version   atomic.Uint64
	now       func() time.Time

	mirror         interfaces.ICacheMirror
	mirrorQueue    chan models.MTicker
	mirrorDropped  atomic.Uint64
	mirrorFailures atomic.Uint64
}

// -----------------------------------------------------------------------------

func NewMarketStore(cfg models.MStoreConfig, mirror interfaces.ICacheMirror, log *logger.Logger) *MarketStore {
	shards := cfg.Shards
	if shards <= 0 {
		shards = 16
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	s := &MarketStore{
		Logger:    log,
		shards:    make([]*utils.TTLCache[string, models.MTicker], shards),
		ttl:       ttl,
		freshness: time.Duration(cfg.FreshnessSeconds) * time.Second,
		now:       time.Now,
		mirror:    mirror,
	}
	for i := range s.shards {
		s.shards[i] = utils.NewTTLCache[string, models.MTicker](ttl)
	}
	if mirror != nil {
		s.mirrorQueue = make(chan models.MTicker, mirrorQueueSize)
	}
	return s
}

// -----------------------------------------------------------------------------

// SetClock replaces the time source of the store and its shards.
func (s *MarketStore) SetClock(now func() time.Time) {
	s.now = now
	for _, sh := range s.shards {
		sh.SetClock(now)
	}
}

// -----------------------------------------------------------------------------

func (s *MarketStore) shardFor(key string) *utils.TTLCache[string, models.MTicker] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// -----------------------------------------------------------------------------

// Validate checks the canonical ticker invariants.
func Validate(t models.MTicker) error {
	if t.Exchange == "" {
		return helpers.NewValidationError("ticker without exchange")
	}
	if !SymbolPattern.MatchString(t.Symbol) {
		return helpers.NewValidationError(fmt.Sprintf("invalid symbol %q from %s", t.Symbol, t.Exchange))
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return helpers.NewValidationError(fmt.Sprintf("invalid price %v for %s/%s", t.Price, t.Exchange, t.Symbol))
	}
	if math.IsNaN(t.Volume24h) || math.IsInf(t.Volume24h, 0) || t.Volume24h < 0 {
		return helpers.NewValidationError(fmt.Sprintf("invalid volume %v for %s/%s", t.Volume24h, t.Exchange, t.Symbol))
	}
	if math.IsNaN(t.ChangePercent) || math.IsInf(t.ChangePercent, 0) {
		return helpers.NewValidationError(fmt.Sprintf("invalid change %v for %s/%s", t.ChangePercent, t.Exchange, t.Symbol))
	}
	return nil
}

// -----------------------------------------------------------------------------

func sameTicker(a, b models.MTicker) bool {
	return a.Exchange == b.Exchange &&
		a.Symbol == b.Symbol &&
		a.Price == b.Price &&
		a.Volume24h == b.Volume24h &&
		a.ChangePercent == b.ChangePercent &&
		a.ObservedAt.Equal(b.ObservedAt)
}

// -----------------------------------------------------------------------------

// Upsert validates and stores the ticker, last write wins. An identical
// ticker is a no-op.
func (s *MarketStore) Upsert(t models.MTicker) error {
	if err := Validate(t); err != nil {
		return err
	}
	if t.ObservedAt.IsZero() {
		t.ObservedAt = s.now()
	}

	changed := s.shardFor(t.Key()).Update(t.Key(), func(old models.MTicker, exists bool) (models.MTicker, bool) {
		if exists && sameTicker(old, t) {
			return old, false
		}
		return t, true
	})
	if !changed {
		return nil
	}

	s.version.Add(1)
	s.enqueueMirror(t)
	return nil
}

// -----------------------------------------------------------------------------

func (s *MarketStore) enqueueMirror(t models.MTicker) {
	if s.mirrorQueue == nil {
		return
	}
	select {
	case s.mirrorQueue <- t:
	default:
		s.mirrorDropped.Add(1)
	}
}

// -----------------------------------------------------------------------------

// Get returns one ticker.
func (s *MarketStore) Get(exchange, symbol string) (models.MTicker, bool) {
	key := exchange + "|" + symbol
	return s.shardFor(key).Get(key)
}

// -----------------------------------------------------------------------------

func (s *MarketStore) all() []models.MTicker {
	var out []models.MTicker
	for _, sh := range s.shards {
		sh.Range(func(_ string, t models.MTicker) bool {
			out = append(out, t)
			return true
		})
	}
	return out
}

// -----------------------------------------------------------------------------

// GetAllForSymbol returns a copy of every exchange's ticker for symbol.
func (s *MarketStore) GetAllForSymbol(symbol string) []models.MTicker {
	var out []models.MTicker
	for _, t := range s.all() {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

// -----------------------------------------------------------------------------

// FreshForSymbol is GetAllForSymbol limited to the freshness window.
func (s *MarketStore) FreshForSymbol(symbol string, now time.Time) []models.MTicker {
	all := s.GetAllForSymbol(symbol)
	out := all[:0]
	for _, t := range all {
		if t.IsFresh(now, s.freshness) {
			out = append(out, t)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// ByExchange dumps every ticker of one exchange, sorted by symbol.
func (s *MarketStore) ByExchange(exchange string) []models.MTicker {
	var out []models.MTicker
	for _, t := range s.all() {
		if t.Exchange == exchange {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// -----------------------------------------------------------------------------

// Snapshot returns every cached ticker grouped by exchange.
func (s *MarketStore) Snapshot() map[string][]models.MTicker {
	out := make(map[string][]models.MTicker)
	for _, t := range s.all() {
		out[t.Exchange] = append(out[t.Exchange], t)
	}
	for ex := range out {
		list := out[ex]
		sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
	}
	return out
}

// -----------------------------------------------------------------------------

// CombinedView groups tickers by symbol across exchanges.
func (s *MarketStore) CombinedView() []models.MCombinedTicker {
	bySymbol := make(map[string]*models.MCombinedTicker)
	for _, t := range s.all() {
		ct, ok := bySymbol[t.Symbol]
		if !ok {
			ct = &models.MCombinedTicker{Symbol: t.Symbol, Exchanges: make(map[string]models.MExchangePrice)}
			bySymbol[t.Symbol] = ct
		}
		ct.Exchanges[t.Exchange] = models.MExchangePrice{
			Price:         t.Price,
			Volume24h:     t.Volume24h,
			ChangePercent: t.ChangePercent,
			ObservedAt:    t.ObservedAt,
		}
		if t.ObservedAt.After(ct.UpdatedAt) {
			ct.UpdatedAt = t.ObservedAt
		}
	}

	out := make([]models.MCombinedTicker, 0, len(bySymbol))
	for _, ct := range bySymbol {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// -----------------------------------------------------------------------------

// Symbols lists every symbol with at least one cached ticker.
func (s *MarketStore) Symbols() []string {
	seen := make(map[string]struct{})
	for _, t := range s.all() {
		seen[t.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

// CountByExchange returns the number of cached symbols per exchange.
func (s *MarketStore) CountByExchange() map[string]int {
	out := make(map[string]int)
	for _, t := range s.all() {
		out[t.Exchange]++
	}
	return out
}

// -----------------------------------------------------------------------------

// Len is the total number of cached tickers.
func (s *MarketStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.Len()
	}
	return n
}

// -----------------------------------------------------------------------------

// Version increases on every effective write.
func (s *MarketStore) Version() uint64 {
	return s.version.Load()
}

// -----------------------------------------------------------------------------

// Freshness is the window used by FreshForSymbol.
func (s *MarketStore) Freshness() time.Duration {
	return s.freshness
}

// -----------------------------------------------------------------------------

// MirrorStats reports mirror writes dropped on a full queue and failed batches.
func (s *MarketStore) MirrorStats() (dropped, failures uint64) {
	return s.mirrorDropped.Load(), s.mirrorFailures.Load()
}

// -----------------------------------------------------------------------------
// Background workers
// -----------------------------------------------------------------------------

// Start launches the TTL sweep and, when configured, the cache mirror worker.
func (s *MarketStore) Start(ctx context.Context, wg *sync.WaitGroup) {
	if s.ttl > 0 {
		wg.Add(1)
		go s.sweepLoop(ctx, wg)
	}
	if s.mirror != nil {
		wg.Add(1)
		go s.mirrorLoop(ctx, wg)
	}
}

// -----------------------------------------------------------------------------

func (s *MarketStore) sweepLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	interval := s.ttl / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.Logger.Debug("Swept %d expired tickers", n)
			}
		}
	}
}

// -----------------------------------------------------------------------------

// Sweep removes expired entries from every shard.
func (s *MarketStore) Sweep() int {
	removed := 0
	for _, sh := range s.shards {
		removed += sh.Sweep()
	}
	return removed
}

// -----------------------------------------------------------------------------

func (s *MarketStore) mirrorLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	batch := make([]models.MTicker, 0, mirrorBatchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.mirrorQueue:
			batch = append(batch[:0], t)
		drain:
			for len(batch) < mirrorBatchSize {
				select {
				case next := <-s.mirrorQueue:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			s.flushMirror(ctx, batch)
		}
	}
}

// -----------------------------------------------------------------------------

func (s *MarketStore) flushMirror(ctx context.Context, batch []models.MTicker) {
	wctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	if err := s.mirror.MirrorTickers(wctx, batch); err != nil {
		s.mirrorFailures.Add(1)
		s.Logger.Warning("Cache mirror write of %d tickers failed: %v", len(batch), err)
	}
}
