package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/models"

	"github.com/shopspring/decimal"
)

// Wire format:
//
//	subscribe: {"method":"SUBSCRIBE","params":["btcusdt@ticker",...],"id":1}
//	ack:       {"result":null,"id":1}
//	ticker:    {"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","c":"67000.10",
//	            "v":"1234.5","P":"1.23",...}
//	error:     {"error":{"code":2,"msg":"Invalid request"},"id":1}
//
// Prices and volumes are decimal strings.
const (
	DefaultURL      = "wss://stream.binance.com:9443/ws"
	DefaultRestURL  = "https://api.binance.com"
	DefaultQuote    = "USDT"
	paramsPerMethod = 100
)

type Codec struct {
	Config  models.MExchangeConfig
	Network interfaces.INetworkManager
	quote   string
}

// -----------------------------------------------------------------------------

func New(cfg models.MExchangeConfig, nm interfaces.INetworkManager) *Codec {
	quote := DefaultQuote
	if len(cfg.QuoteCurrencies) > 0 {
		quote = strings.ToUpper(cfg.QuoteCurrencies[0])
	}
	return &Codec{Config: cfg, Network: nm, quote: quote}
}

// -----------------------------------------------------------------------------

func (c *Codec) Name() string {
	return c.Config.Name
}

// -----------------------------------------------------------------------------

func (c *Codec) Endpoint() string {
	if c.Config.URL != "" {
		return c.Config.URL
	}
	return DefaultURL
}

// -----------------------------------------------------------------------------

func (c *Codec) restURL() string {
	if c.Config.RestURL != "" {
		return strings.TrimRight(c.Config.RestURL, "/")
	}
	return DefaultRestURL
}

// -----------------------------------------------------------------------------

// ListSymbols returns every base symbol traded against the quote currency.
func (c *Codec) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := c.Network.Get(ctx, c.restURL()+"/api/v3/ticker/price", nil)
	if err != nil {
		return nil, err
	}

	var prices []struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(body, &prices); err != nil {
		return nil, helpers.NewParseError("binance symbol list", err)
	}

	out := make([]string, 0, len(prices))
	for _, p := range prices {
		if base, ok := strings.CutSuffix(p.Symbol, c.quote); ok && base != "" {
			out = append(out, base)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// SubscribeMessages splits the stream list into several SUBSCRIBE calls.
func (c *Codec) SubscribeMessages(symbols []string) ([][]byte, error) {
	var out [][]byte
	quote := strings.ToLower(c.quote)

	for start, id := 0, 1; start < len(symbols); start, id = start+paramsPerMethod, id+1 {
		end := min(start+paramsPerMethod, len(symbols))
		params := make([]string, 0, end-start)
		for _, s := range symbols[start:end] {
			params = append(params, strings.ToLower(s)+quote+"@ticker")
		}
		data, err := json.Marshal(map[string]interface{}{
			"method": "SUBSCRIBE",
			"params": params,
			"id":     id,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// -----------------------------------------------------------------------------

// Upper and lower case keys collide under encoding/json's case-insensitive
// matching, so both are declared.
type tickerFrame struct {
	Event          string `json:"e"`
	EventTime      int64  `json:"E"`
	Symbol         string `json:"s"`
	LastPrice      string `json:"c"`
	CloseTime      int64  `json:"C"`
	PriceChange    string `json:"p"`
	PriceChangePct string `json:"P"`
	Volume         string `json:"v"`

	ID    *int64 `json:"id"`
	Error *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// -----------------------------------------------------------------------------

func (c *Codec) Decode(raw []byte, receivedAt time.Time) ([]models.MTicker, error) {
	var f tickerFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, helpers.NewParseError("binance frame", err)
	}
	if f.Error != nil {
		return nil, helpers.NewUpstreamUnavailable(fmt.Sprintf("binance error %d: %s", f.Error.Code, f.Error.Msg), nil)
	}
	if f.ID != nil || f.Event != "24hrTicker" {
		return nil, nil
	}

	sym, ok := strings.CutSuffix(f.Symbol, c.quote)
	if !ok || sym == "" {
		return nil, helpers.NewParseError(fmt.Sprintf("binance symbol %q is not a %s pair", f.Symbol, c.quote), nil)
	}

	price, err := decimal.NewFromString(f.LastPrice)
	if err != nil {
		return nil, helpers.NewParseError("binance price for "+f.Symbol, err)
	}
	volume, err := decimal.NewFromString(f.Volume)
	if err != nil {
		return nil, helpers.NewParseError("binance volume for "+f.Symbol, err)
	}
	change := decimal.Zero
	if f.PriceChangePct != "" {
		if change, err = decimal.NewFromString(f.PriceChangePct); err != nil {
			return nil, helpers.NewParseError("binance change for "+f.Symbol, err)
		}
	}

	return []models.MTicker{{
		Exchange:      c.Name(),
		Symbol:        sym,
		Price:         price.InexactFloat64(),
		Volume24h:     volume.InexactFloat64(),
		ChangePercent: change.InexactFloat64(),
		ObservedAt:    receivedAt,
	}}, nil
}
