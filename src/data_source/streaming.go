package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultReadLimit = 1 << 20
	listAttempts     = 2
)

// StreamingFeed runs one websocket session per call to Run:
// Connecting -> Subscribing -> Streaming, back to Disconnected on any failure.
type StreamingFeed struct {
	Codec  interfaces.IStreamCodec
	Config models.MExchangeConfig
	Logger *logger.Logger

	limiter     *rate.Limiter
	idleTimeout time.Duration
	readLimit   int64
	now         func() time.Time
}

// -----------------------------------------------------------------------------

func NewStreamingFeed(codec interfaces.IStreamCodec, cfg models.MExchangeConfig, log *logger.Logger) *StreamingFeed {
	return &StreamingFeed{
		Codec:       codec,
		Config:      cfg,
		Logger:      log,
		limiter:     newLimiter(cfg),
		idleTimeout: time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		readLimit:   defaultReadLimit,
		now:         time.Now,
	}
}

// -----------------------------------------------------------------------------

func newLimiter(cfg models.MExchangeConfig) *rate.Limiter {
	interval := time.Duration(cfg.MinRequestIntervalMs) * time.Millisecond
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// -----------------------------------------------------------------------------

func (f *StreamingFeed) Name() string {
	return f.Codec.Name()
}

// -----------------------------------------------------------------------------

func (f *StreamingFeed) Capability() models.FeedCapability {
	return models.StreamingPush
}

// -----------------------------------------------------------------------------

func (f *StreamingFeed) RateLimitPenalty() time.Duration {
	return time.Duration(f.Config.RateLimitPenaltySeconds) * time.Second
}

// -----------------------------------------------------------------------------

func (f *StreamingFeed) Run(ctx context.Context, store interfaces.ITickerStore, reporter interfaces.IFeedReporter) error {
	defer reporter.SetState(models.StateDisconnected)

	// 1. Connect
	reporter.SetState(models.StateConnecting)
	if err := f.limiter.Wait(ctx); err != nil {
		return cancelled(ctx, err)
	}
	conn, resp, err := websocket.Dial(ctx, f.Codec.Endpoint(), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if resp != nil {
			if classified := helpers.ClassifyStatus(f.Name()+" dial", resp.StatusCode, resp.Header); classified != nil {
				return classified
			}
		}
		return helpers.NewTransientNetworkError(f.Name()+" dial failed", err)
	}
	defer conn.CloseNow()
	if f.readLimit > 0 {
		conn.SetReadLimit(f.readLimit)
	}

	// 2. Subscribe
	reporter.SetState(models.StateSubscribing)
	symbols := f.universe(ctx)
	if len(symbols) == 0 {
		return helpers.NewUpstreamUnavailable(f.Name()+" has no symbols to subscribe", nil)
	}
	frames, err := f.Codec.SubscribeMessages(symbols)
	if err != nil {
		return err
	}
	for _, frame := range frames {
		if err := f.limiter.Wait(ctx); err != nil {
			return cancelled(ctx, err)
		}
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return helpers.NewTransientNetworkError(f.Name()+" subscribe failed", err)
		}
	}
	f.Logger.Info("%s: subscribed to %d symbols", f.Name(), len(symbols))

	// 3. Stream
	reporter.SetState(models.StateStreaming)
	for {
		readCtx, cancel := f.readContext(ctx)
		_, data, err := conn.Read(readCtx)
		idle := readCtx.Err() != nil && ctx.Err() == nil
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "shutdown")
				return nil
			}
			if idle {
				return helpers.NewStaleDataError(fmt.Sprintf("%s idle for %s", f.Name(), f.idleTimeout))
			}
			return helpers.NewTransientNetworkError(f.Name()+" read failed", err)
		}

		tickers, err := f.Codec.Decode(data, f.now())
		if err != nil {
			if helpers.IsParse(err) {
				reporter.RecordParseError(err)
				continue
			}
			return err
		}
		stored := 0
		for _, t := range tickers {
			if err := store.Upsert(t); err != nil {
				reporter.RecordParseError(err)
				continue
			}
			stored++
		}
		if stored > 0 {
			reporter.MarkUpdate(stored)
		}
	}
}

// -----------------------------------------------------------------------------

func (f *StreamingFeed) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.idleTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.idleTimeout)
}

// -----------------------------------------------------------------------------

// universe enumerates the symbols for this connection. A listing that still
// fails after a retry falls back to the configured priority list.
func (f *StreamingFeed) universe(ctx context.Context) []string {
	listed, err := helpers.RetryWithBackoff(ctx, listAttempts, helpers.NewBackoff(250*time.Millisecond, time.Second),
		func(ctx context.Context) ([]string, error) {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return f.Codec.ListSymbols(ctx)
		})
	if err != nil {
		f.Logger.Warning("%s: symbol listing failed, using configured symbols: %v", f.Name(), err)
	}
	return BuildUniverse(f.Config.Symbols, listed, f.Config.MaxSymbols)
}

// -----------------------------------------------------------------------------

// cancelled maps a limiter or I/O failure caused by shutdown to a clean stop.
func cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return helpers.NewTransientNetworkError("rate limiter wait", err)
}
