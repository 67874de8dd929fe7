package datasource

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
)

// SymbolCounter reports how many live symbols each exchange holds.
type SymbolCounter interface {
	CountByExchange() map[string]int
}

// rateLimited is implemented by feeds that carry their own penalty delay.
type rateLimited interface {
	RateLimitPenalty() time.Duration
}

type feedWorker struct {
	feed   interfaces.IExchangeFeed
	stats  *FeedStats
	cancel context.CancelFunc
	done   chan struct{}
}

// FeedSupervisor runs one worker per exchange feed and restarts it with
// backoff whenever a session fails or panics.
type FeedSupervisor struct {
	Store       interfaces.ITickerStore
	Counter     SymbolCounter
	Logger      *logger.Logger
	BackoffBase time.Duration
	BackoffMax  time.Duration

	mu      sync.RWMutex
	workers map[string]*feedWorker
	groups  map[string]string
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// -----------------------------------------------------------------------------

// NewFeedSupervisor takes the store twice over: once to write into and,
// when it can count, to report live symbols per exchange.
func NewFeedSupervisor(store interfaces.ITickerStore, groups map[string]string, log *logger.Logger) *FeedSupervisor {
	s := &FeedSupervisor{
		Store:       store,
		Logger:      log,
		BackoffBase: helpers.DefaultBackoffBase,
		BackoffMax:  helpers.DefaultBackoffMax,
		workers:     make(map[string]*feedWorker),
		groups:      make(map[string]string, len(groups)),
	}
	if counter, ok := store.(SymbolCounter); ok {
		s.Counter = counter
	}
	for name, group := range groups {
		s.groups[name] = group
	}
	return s
}

// -----------------------------------------------------------------------------

// AddFeed registers a feed and starts it if the supervisor is running.
func (s *FeedSupervisor) AddFeed(feed interfaces.IExchangeFeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := feed.Name()
	if _, exists := s.workers[name]; exists {
		return fmt.Errorf("feed %s already exists", name)
	}

	w := &feedWorker{
		feed:  feed,
		stats: NewFeedStats(name, s.groups[name], feed.Capability(), s.Logger),
	}
	s.workers[name] = w
	s.Logger.Info("Added feed: %s (%s)", name, feed.Capability())

	if s.ctx != nil {
		s.startWorker(w)
	}
	return nil
}

// -----------------------------------------------------------------------------

// RemoveFeed stops a feed and forgets it. It waits at most grace for the
// worker to exit.
func (s *FeedSupervisor) RemoveFeed(name string, grace time.Duration) error {
	s.mu.Lock()
	w, exists := s.workers[name]
	if exists {
		delete(s.workers, name)
	}
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("feed %s not found", name)
	}

	if w.cancel != nil {
		w.cancel()
		select {
		case <-w.done:
		case <-time.After(grace):
			s.Logger.Warning("Feed %s did not stop within %s", name, grace)
		}
	}
	s.Logger.Info("Removed feed: %s", name)
	return nil
}

// -----------------------------------------------------------------------------

// GetFeed retrieves a feed by name
func (s *FeedSupervisor) GetFeed(name string) (interfaces.IExchangeFeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.workers[name]
	if !exists {
		return nil, fmt.Errorf("feed %s not found", name)
	}
	return w.feed, nil
}

// -----------------------------------------------------------------------------

// ListFeeds returns the registered feed names in order.
func (s *FeedSupervisor) ListFeeds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -----------------------------------------------------------------------------

// Start launches a worker for every registered feed.
func (s *FeedSupervisor) Start(parentCtx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("FeedSupervisor is already running")
	}

	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	for _, w := range s.workers {
		s.startWorker(w)
	}
	s.Logger.Info("FeedSupervisor started with %d feeds", len(s.workers))
	return nil
}

// -----------------------------------------------------------------------------

// startWorker must be called with s.mu held and s.ctx set.
func (s *FeedSupervisor) startWorker(w *feedWorker) {
	ctx, cancel := context.WithCancel(s.ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	s.wg.Add(1)
	go s.runWorker(ctx, w)
}

// -----------------------------------------------------------------------------

// Stop cancels every worker and waits up to grace for them to exit.
// It reports whether all of them did.
func (s *FeedSupervisor) Stop(grace time.Duration) bool {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return true
	}
	s.Logger.Info("Stopping FeedSupervisor...")
	s.cancel()
	s.cancel = nil
	s.ctx = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.Logger.Info("FeedSupervisor stopped.")
		return true
	case <-time.After(grace):
		s.Logger.Warning("FeedSupervisor: workers still running after %s", grace)
		return false
	}
}

// -----------------------------------------------------------------------------

func (s *FeedSupervisor) runWorker(ctx context.Context, w *feedWorker) {
	defer s.wg.Done()
	defer close(w.done)
	defer w.stats.SetState(models.StateStopped)

	name := w.feed.Name()
	backoff := helpers.NewBackoff(s.BackoffBase, s.BackoffMax)

	for {
		started := time.Now()
		err := s.runOnce(ctx, w)
		if ctx.Err() != nil {
			return
		}

		// A session that survived past the cap counts as healthy.
		if time.Since(started) > backoff.Max {
			backoff.Reset()
		}
		if err == nil {
			err = helpers.NewTransientNetworkError(name+" session ended", nil)
		}
		w.stats.RecordError(err)

		delay := backoff.Next()
		if rl, ok := helpers.IsRateLimit(err); ok {
			penalty := rl.RetryAfter
			if penalty <= 0 {
				if p, ok := w.feed.(rateLimited); ok {
					penalty = p.RateLimitPenalty()
				}
			}
			if penalty > delay {
				delay = penalty
			}
		}

		w.stats.RecordRestart()
		s.Logger.Info("Restarting %s in %s (attempt %d)", name, delay.Round(time.Millisecond), backoff.Attempt())
		if !helpers.Sleep(ctx, delay) {
			return
		}
	}
}

// -----------------------------------------------------------------------------

// runOnce runs one session, turning a panic into an error.
func (s *FeedSupervisor) runOnce(ctx context.Context, w *feedWorker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("%s panicked: %v\n%s", w.feed.Name(), r, debug.Stack())
			err = helpers.NewUpstreamUnavailable(fmt.Sprintf("%s panicked: %v", w.feed.Name(), r), nil)
		}
	}()
	return w.feed.Run(ctx, s.Store, w.stats)
}

// -----------------------------------------------------------------------------

// Stats returns a snapshot of every feed, ordered by exchange.
func (s *FeedSupervisor) Stats() []models.MFeedStats {
	var counts map[string]int
	if s.Counter != nil {
		counts = s.Counter.CountByExchange()
	}

	s.mu.RLock()
	out := make([]models.MFeedStats, 0, len(s.workers))
	for name, w := range s.workers {
		out = append(out, w.stats.Snapshot(counts[name]))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}
