package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/models"
)

type fakeNetwork struct {
	body []byte
	err  error
}

func (f *fakeNetwork) Get(ctx context.Context, url string, params map[string]string) ([]byte, error) {
	return f.body, f.err
}

func newCodec(nm *fakeNetwork) *Codec {
	return New(models.MExchangeConfig{Name: "binance", Group: models.GroupGlobal}, nm)
}

// -----------------------------------------------------------------------------

func TestDecodeTicker(t *testing.T) {
	c := newCodec(&fakeNetwork{})
	raw := []byte(`{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","p":"900.00","P":"1.40","c":"65000.12","v":"1234.5","C":1700000000000}`)

	got, err := c.Decode(raw, time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one ticker, got %d", len(got))
	}
	tk := got[0]
	if tk.Symbol != "BTC" || tk.Price != 65000.12 || tk.Volume24h != 1234.5 || tk.ChangePercent != 1.4 {
		t.Errorf("unexpected ticker %+v", tk)
	}
}

// -----------------------------------------------------------------------------

func TestDecodeIgnoresAcks(t *testing.T) {
	c := newCodec(&fakeNetwork{})
	got, err := c.Decode([]byte(`{"result":null,"id":1}`), time.Now())
	if err != nil || len(got) != 0 {
		t.Errorf("ack: got %v, %v", got, err)
	}
}

// -----------------------------------------------------------------------------

func TestDecodeErrors(t *testing.T) {
	c := newCodec(&fakeNetwork{})

	for name, raw := range map[string]string{
		"bad price":  `{"e":"24hrTicker","s":"BTCUSDT","c":"x","v":"1"}`,
		"wrong pair": `{"e":"24hrTicker","s":"BTCEUR","c":"1","v":"1"}`,
		"truncated":  `{"e":"24hr`,
	} {
		if _, err := c.Decode([]byte(raw), time.Now()); !helpers.IsParse(err) {
			t.Errorf("%s: expected ParseError, got %v", name, err)
		}
	}

	_, err := c.Decode([]byte(`{"error":{"code":2,"msg":"Invalid request"},"id":1}`), time.Now())
	var up *helpers.UpstreamUnavailable
	if !errors.As(err, &up) {
		t.Errorf("expected UpstreamUnavailable, got %v", err)
	}
}

// -----------------------------------------------------------------------------

func TestSubscribeMessagesChunks(t *testing.T) {
	c := newCodec(&fakeNetwork{})
	symbols := make([]string, paramsPerMethod+5)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%d", i)
	}

	frames, err := c.SubscribeMessages(symbols)
	if err != nil {
		t.Fatalf("SubscribeMessages: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}

	var first struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}
	if err := json.Unmarshal(frames[0], &first); err != nil {
		t.Fatal(err)
	}
	if first.Method != "SUBSCRIBE" || len(first.Params) != paramsPerMethod || first.Params[0] != "s0usdt@ticker" || first.ID != 1 {
		t.Errorf("unexpected first frame %s", frames[0])
	}
}

// -----------------------------------------------------------------------------

func TestListSymbols(t *testing.T) {
	c := newCodec(&fakeNetwork{body: []byte(`[{"symbol":"BTCUSDT","price":"1"},{"symbol":"ETHBTC","price":"1"},{"symbol":"XRPUSDT","price":"1"}]`)})
	got, err := c.ListSymbols(context.Background())
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(got) != 2 || got[0] != "BTC" || got[1] != "XRP" {
		t.Errorf("symbols = %v", got)
	}
}
