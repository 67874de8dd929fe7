package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wire format:
//
//	subscribe: [{"ticket":"<uuid>"},{"type":"ticker","codes":["KRW-BTC",...]}]
//	ticker:    {"type":"ticker","code":"KRW-BTC","trade_price":1.0e8,
//	            "acc_trade_volume_24h":1234.5,"signed_change_rate":0.0123,...}
//	error:     {"error":{"name":"...","message":"..."}}
//
// Frames arrive as binary JSON.
const (
	DefaultURL     = "wss://api.upbit.com/websocket/v1"
	DefaultRestURL = "https://api.upbit.com"
	marketPrefix   = "KRW-"
)

type Codec struct {
	Config  models.MExchangeConfig
	Network interfaces.INetworkManager
}

// -----------------------------------------------------------------------------

func New(cfg models.MExchangeConfig, nm interfaces.INetworkManager) *Codec {
	return &Codec{Config: cfg, Network: nm}
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

// ListSymbols returns the base symbols of every KRW market.
func (c *Codec) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := c.Network.Get(ctx, c.restURL()+"/v1/market/all", nil)
	if err != nil {
		return nil, err
	}

	var markets []struct {
		Market string `json:"market"`
	}
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, helpers.NewParseError("upbit market list", err)
	}

	out := make([]string, 0, len(markets))
	for _, m := range markets {
		if sym, ok := strings.CutPrefix(m.Market, marketPrefix); ok {
			out = append(out, sym)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (c *Codec) SubscribeMessages(symbols []string) ([][]byte, error) {
	codes := make([]string, len(symbols))
	for i, s := range symbols {
		codes[i] = marketPrefix + s
	}

	msg := []map[string]interface{}{
		{"ticket": uuid.NewString()},
		{"type": "ticker", "codes": codes},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return [][]byte{data}, nil
}

// -----------------------------------------------------------------------------

type tickerFrame struct {
	Type              string   `json:"type"`
	Code              string   `json:"code"`
	TradePrice        *float64 `json:"trade_price"`
	AccTradeVolume24h float64  `json:"acc_trade_volume_24h"`
	SignedChangeRate  float64  `json:"signed_change_rate"`
	Error             *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// -----------------------------------------------------------------------------

func (c *Codec) Decode(raw []byte, receivedAt time.Time) ([]models.MTicker, error) {
	var f tickerFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, helpers.NewParseError("upbit frame", err)
	}
	if f.Error != nil {
		return nil, helpers.NewUpstreamUnavailable(fmt.Sprintf("upbit error %s: %s", f.Error.Name, f.Error.Message), nil)
	}
	if f.Type != "ticker" {
		return nil, nil
	}

	sym, ok := strings.CutPrefix(f.Code, marketPrefix)
	if !ok {
		return nil, helpers.NewParseError(fmt.Sprintf("upbit code %q is not a KRW market", f.Code), nil)
	}
	if f.TradePrice == nil {
		return nil, helpers.NewParseError("upbit ticker without trade_price for "+f.Code, nil)
	}

	change, _ := decimal.NewFromFloat(f.SignedChangeRate).Shift(2).Round(4).Float64()
	return []models.MTicker{{
		Exchange:      c.Name(),
		Symbol:        sym,
		Price:         *f.TradePrice,
		Volume24h:     f.AccTradeVolume24h,
		ChangePercent: change,
		ObservedAt:    receivedAt,
	}}, nil
}
