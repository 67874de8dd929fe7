package exchangerate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
	"kimchi-observer/src/network"
)

var cfg = models.MExchangeRateConfig{CurrencyPair: "USDKRW", Currency: "KRW", IntervalSeconds: 300}

type fakeSource struct {
	name string
	rate float64
	err  error
}

func (f fakeSource) Name() string                                   { return f.name }
func (f fakeSource) FetchRate(ctx context.Context) (float64, error) { return f.rate, f.err }

// fakeDB implements only the rate calls; anything else panics.
type fakeDB struct {
	interfaces.IDatabase
	mu      sync.Mutex
	saved   []models.MExchangeRate
	stored  *models.MExchangeRate
	loadErr error
}

func (f *fakeDB) SaveExchangeRate(ctx context.Context, r models.MExchangeRate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, r)
	f.stored = &r
	return nil
}

func (f *fakeDB) LoadExchangeRate(ctx context.Context, pair string) (models.MExchangeRate, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return models.MExchangeRate{}, false, f.loadErr
	}
	if f.stored == nil {
		return models.MExchangeRate{}, false, nil
	}
	return *f.stored, true, nil
}

var down = helpers.NewTransientNetworkError("down", nil)

// -----------------------------------------------------------------------------

func TestFallbackChain(t *testing.T) {
	db := &fakeDB{}
	at := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name       string
		sources    []interfaces.IRateSource
		wantSource string
		wantRate   float64
	}{
		{"primary", []interfaces.IRateSource{fakeSource{"a", 1380, nil}, fakeSource{"b", 1390, nil}}, models.RateSourcePrimary, 1380},
		{"secondary", []interfaces.IRateSource{fakeSource{"a", 0, down}, fakeSource{"b", 1390, nil}}, models.RateSourceSecondary, 1390},
		{"persisted", []interfaces.IRateSource{fakeSource{"a", 0, down}, fakeSource{"b", 0, down}}, models.RateSourcePersisted, 1390},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(cfg, tt.sources, db, logger.NewNop())
			p.now = func() time.Time { return at }

			got := p.Refresh(context.Background())
			if got.Source != tt.wantSource || got.Rate != tt.wantRate {
				t.Errorf("Refresh = %+v, want %s %v", got, tt.wantSource, tt.wantRate)
			}
			if p.CurrentRate() != got {
				t.Errorf("CurrentRate = %+v, want %+v", p.CurrentRate(), got)
			}
		})
	}

	if len(db.saved) != 2 {
		t.Errorf("expected two persisted successes, got %d", len(db.saved))
	}
}

// -----------------------------------------------------------------------------

func TestDefaultWhenNothingKnown(t *testing.T) {
	p := NewProvider(cfg, []interfaces.IRateSource{fakeSource{"a", 0, down}}, &fakeDB{loadErr: errors.New("db locked")}, logger.NewNop())

	got := p.Refresh(context.Background())
	if got.Source != models.RateSourceDefault || got.Rate != DefaultUSDKRW {
		t.Errorf("Refresh = %+v, want default", got)
	}
	if p.Age() < time.Hour {
		t.Errorf("default rate should report an unbounded age, got %s", p.Age())
	}
}

// -----------------------------------------------------------------------------

func TestKeepsLastLiveRateWithoutDatabase(t *testing.T) {
	src := &switchSource{rate: 1400}
	p := NewProvider(cfg, []interfaces.IRateSource{src}, nil, logger.NewNop())

	p.Refresh(context.Background())
	src.set(0, down)
	got := p.Refresh(context.Background())

	if got.Rate != 1400 || got.Source != models.RateSourcePrimary {
		t.Errorf("expected the last live rate to stick, got %+v", got)
	}
}

type switchSource struct {
	mu   sync.Mutex
	rate float64
	err  error
}

func (s *switchSource) Name() string { return "switch" }
func (s *switchSource) set(rate float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate, s.err = rate, err
}
func (s *switchSource) FetchRate(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate, s.err
}

// -----------------------------------------------------------------------------

func TestHTTPRateSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"result":"success","base_code":"USD","rates":{"KRW":1372.45,"JPY":150.1}}`))
		case "/v6":
			w.Write([]byte(`{"result":"success","conversion_rates":{"KRW":1371}}`))
		case "/err":
			w.Write([]byte(`{"result":"error","error-type":"invalid-key"}`))
		default:
			w.Write([]byte(`{"rates":{"JPY":150.1}}`))
		}
	}))
	defer srv.Close()

	nm := network.NewAsyncNetworkManager(&models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 2}}, logger.NewNop())

	rate, err := NewHTTPRateSource("primary", srv.URL+"/ok", "KRW", nm).FetchRate(context.Background())
	if err != nil || rate != 1372.45 {
		t.Errorf("ok: %v, %v", rate, err)
	}
	rate, err = NewHTTPRateSource("secondary", srv.URL+"/v6", "KRW", nm).FetchRate(context.Background())
	if err != nil || rate != 1371 {
		t.Errorf("v6: %v, %v", rate, err)
	}

	var up *helpers.UpstreamUnavailable
	if _, err := NewHTTPRateSource("x", srv.URL+"/err", "KRW", nm).FetchRate(context.Background()); !errors.As(err, &up) {
		t.Errorf("err: expected UpstreamUnavailable, got %v", err)
	}
	if _, err := NewHTTPRateSource("x", srv.URL+"/missing", "KRW", nm).FetchRate(context.Background()); !helpers.IsParse(err) {
		t.Errorf("missing: expected ParseError, got %v", err)
	}
}

// -----------------------------------------------------------------------------

func TestStartStopsOnCancel(t *testing.T) {
	p := NewProvider(cfg, []interfaces.IRateSource{fakeSource{"a", 1360, nil}}, nil, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	p.Start(ctx, &wg)

	deadline := time.Now().Add(2 * time.Second)
	for p.CurrentRate().Source != models.RateSourcePrimary && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if p.CurrentRate().Rate != 1360 {
		t.Errorf("rate = %+v", p.CurrentRate())
	}
}

// hangingSource blocks until its context is cancelled.
type hangingSource struct{}

func (hangingSource) Name() string { return "hanging" }
func (hangingSource) FetchRate(ctx context.Context) (float64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestStartServesPersistedRateWhileSourcesHang(t *testing.T) {
	saved := models.MExchangeRate{CurrencyPair: "USDKRW", Rate: 1450, Source: models.RateSourcePrimary, UpdatedAt: time.Unix(1_700_000_000, 0)}
	db := &fakeDB{stored: &saved}
	p := NewProvider(cfg, []interfaces.IRateSource{hangingSource{}}, db, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	p.Start(ctx, &wg)

	got := p.CurrentRate()
	if got.Rate != 1450 || got.Source != models.RateSourcePersisted {
		t.Errorf("rate after start = %+v, want persisted 1450", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := p.CurrentRate(); got.Rate != 1450 {
		t.Errorf("rate while source hangs = %+v", got)
	}

	cancel()
	wg.Wait()
}

func TestLoadPersistedKeepsLiveRate(t *testing.T) {
	saved := models.MExchangeRate{CurrencyPair: "USDKRW", Rate: 1450, UpdatedAt: time.Unix(1_700_000_000, 0)}
	db := &fakeDB{stored: &saved}
	p := NewProvider(cfg, []interfaces.IRateSource{fakeSource{"a", 1380, nil}}, db, logger.NewNop())

	p.Refresh(context.Background())
	if p.LoadPersisted(context.Background()) {
		t.Error("persisted rate replaced a live one")
	}
	if got := p.CurrentRate(); got.Rate != 1380 || got.Source != models.RateSourcePrimary {
		t.Errorf("rate = %+v", got)
	}
}
