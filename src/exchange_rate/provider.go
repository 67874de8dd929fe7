package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
)

// DefaultUSDKRW is the last-resort rate when no source has ever answered.
const DefaultUSDKRW = 1350.0

// -----------------------------------------------------------------------------

// HTTPRateSource reads {"rates":{"KRW":1350.5}} style responses.
type HTTPRateSource struct {
	SourceName string
	URL        string
	Currency   string
	Network    interfaces.INetworkManager
}

// -----------------------------------------------------------------------------

func NewHTTPRateSource(name, url, currency string, nm interfaces.INetworkManager) *HTTPRateSource {
	return &HTTPRateSource{SourceName: name, URL: url, Currency: currency, Network: nm}
}

// -----------------------------------------------------------------------------

func (s *HTTPRateSource) Name() string {
	return s.SourceName
}

// -----------------------------------------------------------------------------

func (s *HTTPRateSource) FetchRate(ctx context.Context) (float64, error) {
	body, err := s.Network.Get(ctx, s.URL, nil)
	if err != nil {
		return 0, err
	}

	var payload struct {
		Result     string             `json:"result"`
		ErrorType  string             `json:"error-type"`
		Rates      map[string]float64 `json:"rates"`
		Conversion map[string]float64 `json:"conversion_rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, helpers.NewParseError(s.SourceName+" rate response", err)
	}
	if payload.Result == "error" {
		return 0, helpers.NewUpstreamUnavailable(fmt.Sprintf("%s returned error %q", s.SourceName, payload.ErrorType), nil)
	}

	rate, ok := payload.Rates[s.Currency]
	if !ok {
		rate, ok = payload.Conversion[s.Currency]
	}
	if !ok {
		return 0, helpers.NewParseError(fmt.Sprintf("%s has no %s rate", s.SourceName, s.Currency), nil)
	}
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, helpers.NewParseError(fmt.Sprintf("%s returned invalid rate %v", s.SourceName, rate), nil)
	}
	return rate, nil
}

// -----------------------------------------------------------------------------

// Provider refreshes the conversion rate through an ordered fallback chain:
// live sources, the last persisted value, then DefaultUSDKRW.
type Provider struct {
	Config  models.MExchangeRateConfig
	Sources []interfaces.IRateSource
	DB      interfaces.IDatabase
	Logger  *logger.Logger

	current atomic.Pointer[models.MExchangeRate]
	now     func() time.Time
}

// -----------------------------------------------------------------------------

// NewProvider starts out on the default rate so CurrentRate is always valid.
// db may be nil.
func NewProvider(cfg models.MExchangeRateConfig, sources []interfaces.IRateSource, db interfaces.IDatabase, log *logger.Logger) *Provider {
	p := &Provider{Config: cfg, Sources: sources, DB: db, Logger: log, now: time.Now}
	p.current.Store(&models.MExchangeRate{
		CurrencyPair: cfg.CurrencyPair,
		Rate:         DefaultUSDKRW,
		Source:       models.RateSourceDefault,
	})
	return p
}

// -----------------------------------------------------------------------------

// NewProviderFromConfig wires the configured primary and secondary URLs.
func NewProviderFromConfig(cfg models.MExchangeRateConfig, nm interfaces.INetworkManager, db interfaces.IDatabase, log *logger.Logger) *Provider {
	var sources []interfaces.IRateSource
	if cfg.PrimaryURL != "" {
		sources = append(sources, NewHTTPRateSource(models.RateSourcePrimary, cfg.PrimaryURL, cfg.Currency, nm))
	}
	if cfg.SecondaryURL != "" {
		sources = append(sources, NewHTTPRateSource(models.RateSourceSecondary, cfg.SecondaryURL, cfg.Currency, nm))
	}
	return NewProvider(cfg, sources, db, log)
}

// -----------------------------------------------------------------------------

// CurrentRate returns the latest known rate, which may be stale.
func (p *Provider) CurrentRate() models.MExchangeRate {
	return *p.current.Load()
}

// -----------------------------------------------------------------------------

func tierName(i int) string {
	if i == 0 {
		return models.RateSourcePrimary
	}
	return models.RateSourceSecondary
}

// -----------------------------------------------------------------------------

// Refresh walks the chain once and returns the rate now in effect.
func (p *Provider) Refresh(ctx context.Context) models.MExchangeRate {
	// 1. Live sources, in order
	for i, src := range p.Sources {
		rate, err := src.FetchRate(ctx)
		if err != nil {
			p.Logger.Warning("Rate source %s failed: %v", src.Name(), err)
			continue
		}
		r := models.MExchangeRate{
			CurrencyPair: p.Config.CurrencyPair,
			Rate:         rate,
			Source:       tierName(i),
			UpdatedAt:    p.now(),
		}
		p.current.Store(&r)
		p.persist(ctx, r)
		return r
	}

	// 2. Last persisted good value
	if p.DB != nil {
		r, ok, err := p.DB.LoadExchangeRate(ctx, p.Config.CurrencyPair)
		switch {
		case err != nil:
			p.Logger.Error("Loading persisted rate failed: %v", err)
		case ok:
			r.Source = models.RateSourcePersisted
			p.current.Store(&r)
			p.Logger.Warning("All rate sources failed, using persisted %.2f from %s", r.Rate, r.UpdatedAt.Format(time.RFC3339))
			return r
		}
	}

	// 3. Keep whatever we already have; it is the default on a cold start.
	r := p.CurrentRate()
	p.Logger.Warning("All rate sources failed, keeping %s rate %.2f", r.Source, r.Rate)
	return r
}

// -----------------------------------------------------------------------------

// LoadPersisted replaces a default rate with the last persisted one. It
// reports whether a persisted rate is now in effect.
func (p *Provider) LoadPersisted(ctx context.Context) bool {
	if p.DB == nil || p.CurrentRate().Source != models.RateSourceDefault {
		return false
	}
	r, ok, err := p.DB.LoadExchangeRate(ctx, p.Config.CurrencyPair)
	if err != nil {
		p.Logger.Error("Loading persisted rate failed: %v", err)
		return false
	}
	if !ok {
		return false
	}
	r.Source = models.RateSourcePersisted
	p.current.Store(&r)
	p.Logger.Info("Starting from persisted rate %.2f from %s", r.Rate, r.UpdatedAt.Format(time.RFC3339))
	return true
}

// -----------------------------------------------------------------------------

func (p *Provider) persist(ctx context.Context, r models.MExchangeRate) {
	if p.DB == nil {
		return
	}
	if err := p.DB.SaveExchangeRate(ctx, r); err != nil {
		p.Logger.Error("Persisting rate failed: %v", err)
	}
}

// -----------------------------------------------------------------------------

// Age is the time since the current rate was fetched. A default rate has
// no age and reports the maximum duration.
func (p *Provider) Age() time.Duration {
	r := p.CurrentRate()
	if r.UpdatedAt.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return p.now().Sub(r.UpdatedAt)
}

// -----------------------------------------------------------------------------

func (p *Provider) Interval() time.Duration {
	if p.Config.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.Config.IntervalSeconds) * time.Second
}

// -----------------------------------------------------------------------------

// Start seeds the rate from the database before returning, then refreshes
// from the live sources immediately and on every interval until ctx is done.
func (p *Provider) Start(ctx context.Context, wg *sync.WaitGroup) {
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	p.LoadPersisted(lctx)
	cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()

		r := p.Refresh(ctx)
		p.Logger.Info("Exchange rate %s = %.2f (%s)", r.CurrencyPair, r.Rate, r.Source)

		ticker := time.NewTicker(p.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r := p.Refresh(ctx)
				p.Logger.Debug("Exchange rate %s = %.2f (%s)", r.CurrencyPair, r.Rate, r.Source)
			}
		}
	}()
}
