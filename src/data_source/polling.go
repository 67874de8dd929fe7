package datasource

import (
	"context"
	"fmt"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	"golang.org/x/time/rate"
)

// DefaultMaxPollFailures is how many consecutive failed polls end a session.
const DefaultMaxPollFailures = 5

// PollingFeed fetches a full snapshot every interval and overwrites the store.
type PollingFeed struct {
	Codec       interfaces.IPollCodec
	Config      models.MExchangeConfig
	Logger      *logger.Logger
	MaxFailures int

	limiter  *rate.Limiter
	interval time.Duration
}

// -----------------------------------------------------------------------------

func NewPollingFeed(codec interfaces.IPollCodec, cfg models.MExchangeConfig, log *logger.Logger) *PollingFeed {
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingFeed{
		Codec:       codec,
		Config:      cfg,
		Logger:      log,
		MaxFailures: DefaultMaxPollFailures,
		limiter:     newLimiter(cfg),
		interval:    interval,
	}
}

// -----------------------------------------------------------------------------

func (f *PollingFeed) Name() string {
	return f.Codec.Name()
}

// -----------------------------------------------------------------------------

func (f *PollingFeed) Capability() models.FeedCapability {
	return models.PollingPull
}

// -----------------------------------------------------------------------------

func (f *PollingFeed) RateLimitPenalty() time.Duration {
	return time.Duration(f.Config.RateLimitPenaltySeconds) * time.Second
}

// -----------------------------------------------------------------------------

func (f *PollingFeed) Run(ctx context.Context, store interfaces.ITickerStore, reporter interfaces.IFeedReporter) error {
	defer reporter.SetState(models.StateDisconnected)
	reporter.SetState(models.StatePolling)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	failures := 0
	for {
		err := f.poll(ctx, store, reporter)
		if ctx.Err() != nil {
			return nil
		}

		switch rl, limited := helpers.IsRateLimit(err); {
		case err == nil:
			failures = 0
		case limited:
			reporter.RecordError(err)
			wait := rl.RetryAfter
			if wait <= 0 {
				wait = f.RateLimitPenalty()
			}
			f.Logger.Warning("%s: rate limited, pausing %s", f.Name(), wait)
			if !helpers.Sleep(ctx, wait) {
				return nil
			}
		default:
			failures++
			reporter.RecordError(err)
			if f.MaxFailures > 0 && failures >= f.MaxFailures {
				return helpers.NewUpstreamUnavailable(fmt.Sprintf("%s: %d consecutive poll failures", f.Name(), failures), err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// -----------------------------------------------------------------------------

func (f *PollingFeed) poll(ctx context.Context, store interfaces.ITickerStore, reporter interfaces.IFeedReporter) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return cancelled(ctx, err)
	}

	tickers, parseErrs, err := f.Codec.Fetch(ctx)
	if err != nil {
		return err
	}
	for _, pe := range parseErrs {
		reporter.RecordParseError(pe)
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
	return nil
}
