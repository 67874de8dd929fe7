package health

import (
	"context"
	"fmt"
	"time"

	"kimchi-observer/src/models"
)

// CheckFunc adapts a function into a named check.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) models.MCheckResult
}

func (c CheckFunc) Name() string { return c.CheckName }

func (c CheckFunc) Check(ctx context.Context) models.MCheckResult { return c.Fn(ctx) }

// -----------------------------------------------------------------------------
// Feed freshness
// -----------------------------------------------------------------------------

type FeedStatsSource interface {
	Stats() []models.MFeedStats
}

// FeedCheck reports one feed: healthy while it delivers within staleAfter,
// degraded up to three times that, unhealthy beyond.
type FeedCheck struct {
	Exchange   string
	Feeds      FeedStatsSource
	StaleAfter time.Duration
	now        func() time.Time
}

func NewFeedCheck(exchange string, feeds FeedStatsSource, staleAfter time.Duration) *FeedCheck {
	return &FeedCheck{Exchange: exchange, Feeds: feeds, StaleAfter: staleAfter, now: time.Now}
}

func (c *FeedCheck) Name() string { return "feed." + c.Exchange }

func (c *FeedCheck) Check(ctx context.Context) models.MCheckResult {
	var stats *models.MFeedStats
	for _, s := range c.Feeds.Stats() {
		if s.Exchange == c.Exchange {
			stats = &s
			break
		}
	}
	if stats == nil {
		return models.MCheckResult{Status: models.HealthUnknown, Message: "feed not registered"}
	}

	details := map[string]interface{}{
		"state":       stats.State,
		"symbols":     stats.Symbols,
		"errors":      stats.Errors,
		"parseErrors": stats.ParseErrors,
		"restarts":    stats.Restarts,
	}
	if stats.LastError != "" {
		details["lastError"] = stats.LastError
	}
	if stats.LastUpdate.IsZero() {
		return models.MCheckResult{Status: models.HealthUnhealthy, Message: "no data received yet", Details: details}
	}

	age := c.now().Sub(stats.LastUpdate)
	details["lastUpdateAgeSeconds"] = age.Seconds()
	switch {
	case age <= c.StaleAfter:
		return models.MCheckResult{Status: models.HealthHealthy, Details: details}
	case age <= 3*c.StaleAfter:
		return models.MCheckResult{Status: models.HealthDegraded, Message: fmt.Sprintf("last update %s ago", age.Round(time.Second)), Details: details}
	default:
		return models.MCheckResult{Status: models.HealthUnhealthy, Message: fmt.Sprintf("stale for %s", age.Round(time.Second)), Details: details}
	}
}

// -----------------------------------------------------------------------------
// Exchange rate
// -----------------------------------------------------------------------------

type RateSource interface {
	CurrentRate() models.MExchangeRate
}

// ExchangeRateCheck is healthy on a live rate younger than MaxAge.
type ExchangeRateCheck struct {
	Rates  RateSource
	MaxAge time.Duration
	now    func() time.Time
}

func NewExchangeRateCheck(rates RateSource, maxAge time.Duration) *ExchangeRateCheck {
	return &ExchangeRateCheck{Rates: rates, MaxAge: maxAge, now: time.Now}
}

func (c *ExchangeRateCheck) Name() string { return "exchange_rate" }

func (c *ExchangeRateCheck) Check(ctx context.Context) models.MCheckResult {
	r := c.Rates.CurrentRate()
	details := map[string]interface{}{"rate": r.Rate, "source": r.Source, "currencyPair": r.CurrencyPair}

	switch r.Source {
	case models.RateSourceDefault:
		return models.MCheckResult{Status: models.HealthUnhealthy, Message: "using built-in default rate", Details: details}
	case models.RateSourcePersisted:
		return models.MCheckResult{Status: models.HealthDegraded, Message: "live sources unavailable, using persisted rate", Details: details}
	}

	age := c.now().Sub(r.UpdatedAt)
	details["ageSeconds"] = age.Seconds()
	if age > c.MaxAge {
		return models.MCheckResult{Status: models.HealthDegraded, Message: fmt.Sprintf("rate is %s old", age.Round(time.Second)), Details: details}
	}
	return models.MCheckResult{Status: models.HealthHealthy, Details: details}
}

// -----------------------------------------------------------------------------
// Premium engine
// -----------------------------------------------------------------------------

type CycleSource interface {
	Metrics() models.MCycleMetrics
}

// PremiumEngineCheck watches that cycles keep completing and emit something.
type PremiumEngineCheck struct {
	Engine   CycleSource
	Interval time.Duration
	now      func() time.Time
}

func NewPremiumEngineCheck(engine CycleSource, interval time.Duration) *PremiumEngineCheck {
	return &PremiumEngineCheck{Engine: engine, Interval: interval, now: time.Now}
}

func (c *PremiumEngineCheck) Name() string { return "premium_engine" }

func (c *PremiumEngineCheck) Check(ctx context.Context) models.MCheckResult {
	m := c.Engine.Metrics()
	details := map[string]interface{}{
		"cycles":   m.Cycles,
		"emitted":  m.Emitted,
		"skipped":  m.Skipped,
		"rejected": m.Rejected,
		"failed":   m.Failed,
	}
	if m.Cycles == 0 {
		return models.MCheckResult{Status: models.HealthUnknown, Message: "no cycle completed yet", Details: details}
	}

	since := c.now().Sub(time.Unix(m.LastCycleUnix, 0))
	switch {
	case since > 3*c.Interval+time.Second:
		return models.MCheckResult{Status: models.HealthUnhealthy, Message: fmt.Sprintf("last cycle %s ago", since.Round(time.Second)), Details: details}
	case m.Emitted == 0:
		return models.MCheckResult{Status: models.HealthDegraded, Message: "last cycle emitted no premiums", Details: details}
	default:
		return models.MCheckResult{Status: models.HealthHealthy, Details: details}
	}
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

type StoreSource interface {
	Len() int
	Version() uint64
	MirrorStats() (dropped, failures uint64)
}

type StoreCheck struct {
	Store StoreSource
}

func (c StoreCheck) Name() string { return "store" }

func (c StoreCheck) Check(ctx context.Context) models.MCheckResult {
	dropped, failures := c.Store.MirrorStats()
	details := map[string]interface{}{
		"tickers":        c.Store.Len(),
		"version":        c.Store.Version(),
		"mirrorDropped":  dropped,
		"mirrorFailures": failures,
	}
	if c.Store.Len() == 0 {
		return models.MCheckResult{Status: models.HealthDegraded, Message: "store is empty", Details: details}
	}
	return models.MCheckResult{Status: models.HealthHealthy, Details: details}
}

// -----------------------------------------------------------------------------
// Connectivity
// -----------------------------------------------------------------------------

type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck is unhealthy while the dependency does not answer.
type PingCheck struct {
	CheckName string
	Target    Pinger
	Timeout   time.Duration
}

func (c PingCheck) Name() string { return c.CheckName }

func (c PingCheck) Check(ctx context.Context) models.MCheckResult {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := c.Target.Ping(ctx); err != nil {
		return models.MCheckResult{Status: models.HealthUnhealthy, Message: err.Error()}
	}
	return models.MCheckResult{
		Status:  models.HealthHealthy,
		Details: map[string]interface{}{"latencyMs": float64(time.Since(start).Microseconds()) / 1000},
	}
}
