package server

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
)

// Broadcast cadence bounds.
const (
	MinBroadcastInterval = 200 * time.Millisecond
	MaxBroadcastInterval = time.Second
)

// MarketView is the read side of the market store the hub publishes.
type MarketView interface {
	CombinedView() []models.MCombinedTicker
	Version() uint64
}

// PremiumView is the read side of the premium engine.
type PremiumView interface {
	Latest() []models.MPremiumRecord
	Version() uint64
}

// -----------------------------------------------------------------------------
// Hub
// -----------------------------------------------------------------------------

// Hub owns the subscriber set. Only its run loop sends to or closes a
// subscriber, so a slow consumer can never stall the others.
type Hub struct {
	Service  string
	Market   MarketView
	Premiums PremiumView
	Rates    interfaces.IRateProvider
	Logger   *logger.Logger

	interval   time.Duration
	clients    map[interfaces.ISubscriber]*models.MSubscriber
	lastResync map[interfaces.ISubscriber]time.Time
	register   chan interfaces.ISubscriber
	unregister chan interfaces.ISubscriber
	resync     chan interfaces.ISubscriber
	done       chan struct{}
	stopOnce   sync.Once

	// Read by the REST layer while the loop runs.
	subsMu sync.RWMutex
	subs   []models.MSubscriber

	seq                atomic.Uint64
	connections        atomic.Int64
	broadcasts         atomic.Uint64
	messagesSent       atomic.Uint64
	messagesDropped    atomic.Uint64
	subscribersRemoved atomic.Uint64
	snapshotsThrottled atomic.Uint64

	lastMarket  uint64
	lastPremium uint64
}

// -----------------------------------------------------------------------------

// ClampInterval keeps the cadence within [MinBroadcastInterval, MaxBroadcastInterval].
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d < MinBroadcastInterval:
		return MinBroadcastInterval
	case d > MaxBroadcastInterval:
		return MaxBroadcastInterval
	default:
		return d
	}
}

// -----------------------------------------------------------------------------

func NewHub(service string, market MarketView, premiums PremiumView, rates interfaces.IRateProvider, interval time.Duration, log *logger.Logger) *Hub {
	return &Hub{
		Service:    service,
		Market:     market,
		Premiums:   premiums,
		Rates:      rates,
		Logger:     log,
		interval:   ClampInterval(interval),
		clients:    make(map[interfaces.ISubscriber]*models.MSubscriber),
		lastResync: make(map[interfaces.ISubscriber]time.Time),
		register:   make(chan interfaces.ISubscriber),
		unregister: make(chan interfaces.ISubscriber),
		resync:     make(chan interfaces.ISubscriber),
		done:       make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// Register adds a subscriber; it receives a snapshot first. Returns false
// once the hub has stopped.
func (h *Hub) Register(sub interfaces.ISubscriber) bool {
	select {
	case h.register <- sub:
		return true
	case <-h.done:
		return false
	}
}

// -----------------------------------------------------------------------------

func (h *Hub) Unregister(sub interfaces.ISubscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// -----------------------------------------------------------------------------

// RequestSnapshot queues a fresh snapshot for one subscriber. At most one
// request per broadcast interval is honoured for each subscriber.
func (h *Hub) RequestSnapshot(sub interfaces.ISubscriber) {
	select {
	case h.resync <- sub:
	case <-h.done:
	}
}

// -----------------------------------------------------------------------------

// Run is the hub loop. It returns when ctx is cancelled, after closing
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-h.register:
			h.clients[sub] = &models.MSubscriber{ConnectionID: sub.ID(), ConnectedAt: time.Now()}
			h.connections.Store(int64(len(h.clients)))
			h.sendSnapshot(sub)
			h.publishSubscribers()

		case sub := <-h.unregister:
			if _, ok := h.clients[sub]; ok {
				h.remove(sub)
				h.publishSubscribers()
			}

		case sub := <-h.resync:
			h.resyncSubscriber(sub, time.Now())

		case <-ticker.C:
			h.broadcastIfChanged()
		}
	}
}

// -----------------------------------------------------------------------------

func (h *Hub) resyncSubscriber(sub interfaces.ISubscriber, now time.Time) {
	if _, ok := h.clients[sub]; !ok {
		return
	}
	if last, ok := h.lastResync[sub]; ok && now.Sub(last) < h.interval {
		h.snapshotsThrottled.Add(1)
		return
	}
	h.lastResync[sub] = now
	h.sendSnapshot(sub)
}

// -----------------------------------------------------------------------------

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		for sub := range h.clients {
			sub.Close()
			delete(h.clients, sub)
			delete(h.lastResync, sub)
		}
		h.connections.Store(0)
		h.publishSubscribers()
		h.Logger.Info("Hub stopped")
	})
}

// -----------------------------------------------------------------------------

func (h *Hub) remove(sub interfaces.ISubscriber) {
	delete(h.clients, sub)
	delete(h.lastResync, sub)
	sub.Close()
	h.subscribersRemoved.Add(1)
	h.connections.Store(int64(len(h.clients)))
}

// -----------------------------------------------------------------------------

// BuildState assembles the payload shared by snapshots and updates.
func (h *Hub) BuildState() models.MMarketState {
	premiums := h.Premiums.Latest()
	bySymbol := make(map[string]float64, len(premiums))
	for _, p := range premiums {
		bySymbol[p.Symbol] = p.PremiumPercent
	}

	tickers := h.Market.CombinedView()
	for i := range tickers {
		if p, ok := bySymbol[tickers[i].Symbol]; ok {
			tickers[i].Premium = &p
		}
	}

	state := models.MMarketState{Tickers: tickers, Premiums: premiums}
	if h.Rates != nil {
		rate := h.Rates.CurrentRate()
		state.ExchangeRate = &rate
	}
	return state
}

// -----------------------------------------------------------------------------

func (h *Hub) envelope(kind string, seq uint64) ([]byte, error) {
	return json.Marshal(models.MEnvelope{
		Type:      kind,
		Data:      h.BuildState(),
		Timestamp: time.Now().UnixMilli(),
		Service:   h.Service,
		Seq:       seq,
	})
}

// -----------------------------------------------------------------------------

func (h *Hub) sendSnapshot(sub interfaces.ISubscriber) {
	seq := h.seq.Load()
	msg, err := h.envelope(models.MessageSnapshot, seq)
	if err != nil {
		h.Logger.Error("Encoding snapshot failed: %v", err)
		return
	}
	h.deliver(sub, msg, seq)
}

// -----------------------------------------------------------------------------

// deliver enqueues without blocking; a full buffer drops the subscriber.
func (h *Hub) deliver(sub interfaces.ISubscriber, msg []byte, seq uint64) {
	info, ok := h.clients[sub]
	if !ok {
		return
	}
	if sub.Send(msg) {
		h.messagesSent.Add(1)
		info.LastDeliveredSeq = seq
		return
	}
	h.messagesDropped.Add(1)
	h.Logger.Warning("Subscriber %s is too slow, removing", sub.ID())
	h.remove(sub)
}

// -----------------------------------------------------------------------------

// broadcastIfChanged sends one coalesced update when the store or the
// premiums moved since the last one.
func (h *Hub) broadcastIfChanged() {
	market, premium := h.Market.Version(), h.Premiums.Version()
	if market == h.lastMarket && premium == h.lastPremium {
		return
	}
	h.lastMarket, h.lastPremium = market, premium

	seq := h.seq.Add(1)
	h.broadcasts.Add(1)
	if len(h.clients) == 0 {
		return
	}

	msg, err := h.envelope(models.MessageUpdate, seq)
	if err != nil {
		h.Logger.Error("Encoding update failed: %v", err)
		return
	}

	for sub := range h.clients {
		h.deliver(sub, msg, seq)
	}
	h.publishSubscribers()
}

// -----------------------------------------------------------------------------

func (h *Hub) publishSubscribers() {
	list := make([]models.MSubscriber, 0, len(h.clients))
	for _, info := range h.clients {
		list = append(list, *info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ConnectedAt.Before(list[j].ConnectedAt) })

	h.subsMu.Lock()
	h.subs = list
	h.subsMu.Unlock()
}

// -----------------------------------------------------------------------------

// Subscribers lists the connected subscribers as of the last broadcast.
func (h *Hub) Subscribers() []models.MSubscriber {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	return append([]models.MSubscriber(nil), h.subs...)
}

// -----------------------------------------------------------------------------

func (h *Hub) Metrics() models.MHubMetrics {
	return models.MHubMetrics{
		Connections:        int(h.connections.Load()),
		Broadcasts:         h.broadcasts.Load(),
		MessagesSent:       h.messagesSent.Load(),
		MessagesDropped:    h.messagesDropped.Load(),
		SubscribersRemoved: h.subscribersRemoved.Load(),
		SnapshotsThrottled: h.snapshotsThrottled.Load(),
		LastSeq:            h.seq.Load(),
	}
}

// -----------------------------------------------------------------------------

func (h *Hub) Done() <-chan struct{} {
	return h.done
}
