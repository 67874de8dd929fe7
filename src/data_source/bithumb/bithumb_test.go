package bithumb

import (
	"context"
	"errors"
	"testing"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/models"
)

type fakeNetwork struct {
	body []byte
	err  error
	url  string
}

func (f *fakeNetwork) Get(ctx context.Context, url string, params map[string]string) ([]byte, error) {
	f.url = url
	return f.body, f.err
}

func newCodec(nm *fakeNetwork) *Codec {
	c := New(models.MExchangeConfig{Name: "bithumb", Group: models.GroupDomestic}, nm)
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c
}

// -----------------------------------------------------------------------------

func TestFetchNormalizesSnapshot(t *testing.T) {
	nm := &fakeNetwork{body: []byte(`{"status":"0000","data":{
		"BTC":{"closing_price":"95000000","units_traded_24H":"321.5","fluctate_rate_24H":"-1.25"},
		"ETH":{"closing_price":"not-a-number","units_traded_24H":"1"},
		"XRP":{"closing_price":"800"},
		"date":"1700000000000"}}`)}
	c := newCodec(nm)

	tickers, parseErrs, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if nm.url != DefaultRestURL+"/public/ticker/ALL_KRW" {
		t.Errorf("url = %s", nm.url)
	}
	if len(parseErrs) != 1 || !helpers.IsParse(parseErrs[0]) {
		t.Errorf("expected one parse error, got %v", parseErrs)
	}
	if len(tickers) != 2 {
		t.Fatalf("expected 2 tickers, got %+v", tickers)
	}

	btc := tickers[0]
	if btc.Symbol != "BTC" || btc.Price != 95000000 || btc.Volume24h != 321.5 || btc.ChangePercent != -1.25 {
		t.Errorf("unexpected BTC ticker %+v", btc)
	}
	if btc.Exchange != "bithumb" || btc.ObservedAt.Unix() != 1_700_000_000 {
		t.Errorf("unexpected metadata %+v", btc)
	}
	if tickers[1].Symbol != "XRP" || tickers[1].Volume24h != 0 {
		t.Errorf("unexpected XRP ticker %+v", tickers[1])
	}
}

// -----------------------------------------------------------------------------

func TestFetchBadStatus(t *testing.T) {
	c := newCodec(&fakeNetwork{body: []byte(`{"status":"5600","message":"maintenance"}`)})

	_, _, err := c.Fetch(context.Background())
	var up *helpers.UpstreamUnavailable
	if !errors.As(err, &up) {
		t.Errorf("expected UpstreamUnavailable, got %v", err)
	}
}

// -----------------------------------------------------------------------------

func TestFetchPropagatesNetworkErrors(t *testing.T) {
	want := helpers.NewRateLimitError("slow down", time.Second)
	c := newCodec(&fakeNetwork{err: want})

	if _, _, err := c.Fetch(context.Background()); !errors.Is(err, want) {
		t.Errorf("expected the network error, got %v", err)
	}
}
