package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
)

func fixed(status models.HealthStatus) CheckFunc {
	return CheckFunc{CheckName: string(status), Fn: func(context.Context) models.MCheckResult {
		return models.MCheckResult{Status: status}
	}}
}

func results(statuses ...models.HealthStatus) map[string]models.MCheckResult {
	out := make(map[string]models.MCheckResult, len(statuses))
	for i, s := range statuses {
		out[string(rune('a'+i))] = models.MCheckResult{Status: s}
	}
	return out
}

func TestAggregate(t *testing.T) {
	h, d, u, k := models.HealthHealthy, models.HealthDegraded, models.HealthUnhealthy, models.HealthUnknown
	cases := []struct {
		name string
		in   map[string]models.MCheckResult
		want models.HealthStatus
	}{
		{"no checks", results(), k},
		{"all healthy", results(h, h, h), h},
		{"one unhealthy", results(h, u, h), d},
		{"one degraded", results(h, d), k},
		{"all degraded", results(d, d), k},
		{"degraded and unhealthy", results(d, u), d},
		{"all unhealthy", results(u, u), k},
		{"unknown among healthy", results(h, k), k},
	}
	for _, tc := range cases {
		if got := Aggregate(tc.in); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestMonitorReportRecoversPanics(t *testing.T) {
	m := NewMonitor("kimchi", logger.NewNop())
	m.Register(fixed(models.HealthHealthy))
	m.Register(CheckFunc{CheckName: "boom", Fn: func(context.Context) models.MCheckResult {
		panic("bad check")
	}})

	report := m.Report(context.Background())
	if report.Service != "kimchi" {
		t.Fatalf("service = %q", report.Service)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("checks = %d", len(report.Checks))
	}
	if report.Checks["boom"].Status != models.HealthUnknown {
		t.Fatalf("panicking check = %s", report.Checks["boom"].Status)
	}
	if report.Status != models.HealthUnknown {
		t.Fatalf("overall = %s", report.Status)
	}

	m.Unregister("boom")
	if got := m.Report(context.Background()).Status; got != models.HealthHealthy {
		t.Fatalf("after unregister = %s", got)
	}
	if names := m.Names(); len(names) != 1 || names[0] != "healthy" {
		t.Fatalf("names = %v", names)
	}
}

type statsSource []models.MFeedStats

func (s statsSource) Stats() []models.MFeedStats { return s }

func TestFeedCheck(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	feeds := statsSource{
		{Exchange: "upbit", State: "streaming", LastUpdate: now.Add(-2 * time.Second)},
		{Exchange: "binance", State: "streaming", LastUpdate: now.Add(-20 * time.Second)},
		{Exchange: "bithumb", State: "polling", LastUpdate: now.Add(-5 * time.Minute), LastError: "timeout"},
		{Exchange: "luno", State: "connecting"},
	}
	want := map[string]models.HealthStatus{
		"upbit":   models.HealthHealthy,
		"binance": models.HealthDegraded,
		"bithumb": models.HealthUnhealthy,
		"luno":    models.HealthUnhealthy,
		"okx":     models.HealthUnknown,
	}
	for exchange, status := range want {
		c := NewFeedCheck(exchange, feeds, 10*time.Second)
		c.now = func() time.Time { return now }
		if got := c.Check(context.Background()); got.Status != status {
			t.Errorf("%s: got %s want %s", exchange, got.Status, status)
		}
	}
}

type rateSource models.MExchangeRate

func (r rateSource) CurrentRate() models.MExchangeRate { return models.MExchangeRate(r) }

func TestExchangeRateCheck(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		rate models.MExchangeRate
		want models.HealthStatus
	}{
		{models.MExchangeRate{Rate: 1400, Source: models.RateSourcePrimary, UpdatedAt: now.Add(-time.Minute)}, models.HealthHealthy},
		{models.MExchangeRate{Rate: 1400, Source: models.RateSourceSecondary, UpdatedAt: now.Add(-time.Hour)}, models.HealthDegraded},
		{models.MExchangeRate{Rate: 1400, Source: models.RateSourcePersisted, UpdatedAt: now}, models.HealthDegraded},
		{models.MExchangeRate{Rate: 1350, Source: models.RateSourceDefault}, models.HealthUnhealthy},
	}
	for _, tc := range cases {
		c := NewExchangeRateCheck(rateSource(tc.rate), 10*time.Minute)
		c.now = func() time.Time { return now }
		if got := c.Check(context.Background()).Status; got != tc.want {
			t.Errorf("source %s: got %s want %s", tc.rate.Source, got, tc.want)
		}
	}
}

type cycleSource models.MCycleMetrics

func (c cycleSource) Metrics() models.MCycleMetrics { return models.MCycleMetrics(c) }

func TestPremiumEngineCheck(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		m    models.MCycleMetrics
		want models.HealthStatus
	}{
		{"not started", models.MCycleMetrics{}, models.HealthUnknown},
		{"running", models.MCycleMetrics{Cycles: 5, Emitted: 3, LastCycleUnix: now.Unix()}, models.HealthHealthy},
		{"empty cycle", models.MCycleMetrics{Cycles: 5, LastCycleUnix: now.Unix()}, models.HealthDegraded},
		{"stalled", models.MCycleMetrics{Cycles: 5, Emitted: 3, LastCycleUnix: now.Add(-time.Minute).Unix()}, models.HealthUnhealthy},
	}
	for _, tc := range cases {
		c := NewPremiumEngineCheck(cycleSource(tc.m), time.Second)
		c.now = func() time.Time { return now }
		if got := c.Check(context.Background()).Status; got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

type storeSource struct{ n int }

func (s storeSource) Len() int                                { return s.n }
func (s storeSource) Version() uint64                         { return uint64(s.n) }
func (s storeSource) MirrorStats() (dropped, failures uint64) { return 1, 2 }

func TestStoreCheck(t *testing.T) {
	if got := (StoreCheck{Store: storeSource{}}).Check(context.Background()); got.Status != models.HealthDegraded {
		t.Fatalf("empty store = %s", got.Status)
	}
	got := (StoreCheck{Store: storeSource{n: 4}}).Check(context.Background())
	if got.Status != models.HealthHealthy {
		t.Fatalf("populated store = %s", got.Status)
	}
	if got.Details["mirrorFailures"] != uint64(2) {
		t.Fatalf("details = %v", got.Details)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	ok := PingCheck{CheckName: "redis", Target: pinger{}}
	if got := ok.Check(context.Background()); got.Status != models.HealthHealthy {
		t.Fatalf("ping ok = %s", got.Status)
	}
	bad := PingCheck{CheckName: "redis", Target: pinger{err: errors.New("connection refused")}}
	got := bad.Check(context.Background())
	if got.Status != models.HealthUnhealthy || got.Message != "connection refused" {
		t.Fatalf("ping failure = %+v", got)
	}
}
