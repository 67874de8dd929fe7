package datasource

import (
	"sync/atomic"
	"time"

	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
)

// FeedStats is the lock-free counter set of one feed worker. It implements
// interfaces.IFeedReporter.
type FeedStats struct {
	exchange   string
	group      string
	capability models.FeedCapability
	log        *logger.Logger

	state       atomic.Int32
	lastUpdate  atomic.Int64
	updates     atomic.Int64
	errors      atomic.Int64
	parseErrors atomic.Int64
	restarts    atomic.Int64
	lastError   atomic.Pointer[string]
}

// -----------------------------------------------------------------------------

func NewFeedStats(exchange, group string, capability models.FeedCapability, log *logger.Logger) *FeedStats {
	return &FeedStats{exchange: exchange, group: group, capability: capability, log: log}
}

// -----------------------------------------------------------------------------

func (s *FeedStats) SetState(state models.FeedState) {
	prev := models.FeedState(s.state.Swap(int32(state)))
	if prev != state {
		s.log.Debug("%s: %s -> %s", s.exchange, prev, state)
	}
}

// -----------------------------------------------------------------------------

func (s *FeedStats) State() models.FeedState {
	return models.FeedState(s.state.Load())
}

// -----------------------------------------------------------------------------

func (s *FeedStats) MarkUpdate(count int) {
	s.updates.Add(int64(count))
	s.lastUpdate.Store(time.Now().UnixNano())
}

// -----------------------------------------------------------------------------

// LastUpdate returns the zero time if the feed never delivered.
func (s *FeedStats) LastUpdate() time.Time {
	ns := s.lastUpdate.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// -----------------------------------------------------------------------------

func (s *FeedStats) RecordError(err error) {
	s.errors.Add(1)
	msg := err.Error()
	s.lastError.Store(&msg)
	s.log.Warning("%s: %v", s.exchange, err)
}

// -----------------------------------------------------------------------------

func (s *FeedStats) RecordParseError(err error) {
	s.parseErrors.Add(1)
	s.log.Debug("%s: dropped message: %v", s.exchange, err)
}

// -----------------------------------------------------------------------------

func (s *FeedStats) RecordRestart() {
	s.restarts.Add(1)
}

// -----------------------------------------------------------------------------

// Snapshot copies the counters. symbols is the live count from the store.
func (s *FeedStats) Snapshot(symbols int) models.MFeedStats {
	out := models.MFeedStats{
		Exchange:    s.exchange,
		Group:       s.group,
		Capability:  s.capability.String(),
		State:       s.State().String(),
		Symbols:     symbols,
		LastUpdate:  s.LastUpdate(),
		Errors:      s.errors.Load(),
		ParseErrors: s.parseErrors.Load(),
		Restarts:    s.restarts.Load(),
	}
	if p := s.lastError.Load(); p != nil {
		out.LastError = *p
	}
	return out
}
