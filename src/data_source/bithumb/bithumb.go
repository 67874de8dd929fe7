package bithumb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/models"

	"github.com/shopspring/decimal"
)

// Wire format (GET /public/ticker/ALL_KRW):
//
//	{"status":"0000","data":{
//	    "BTC":{"closing_price":"100000000","units_traded_24H":"1234.5","fluctate_rate_24H":"1.23",...},
//	    ...,
//	    "date":"1700000000000"}}
//
// All numbers are strings; "date" is the only non-object entry.
const (
	DefaultRestURL = "https://api.bithumb.com"
	statusOK       = "0000"
)

type Codec struct {
	Config  models.MExchangeConfig
	Network interfaces.INetworkManager
	now     func() time.Time
}

// -----------------------------------------------------------------------------

func New(cfg models.MExchangeConfig, nm interfaces.INetworkManager) *Codec {
	return &Codec{Config: cfg, Network: nm, now: time.Now}
}

// -----------------------------------------------------------------------------

func (c *Codec) Name() string {
	return c.Config.Name
}

// -----------------------------------------------------------------------------

func (c *Codec) restURL() string {
	if c.Config.RestURL != "" {
		return strings.TrimRight(c.Config.RestURL, "/")
	}
	return DefaultRestURL
}

// -----------------------------------------------------------------------------

type envelope struct {
	Status  string                     `json:"status"`
	Message string                     `json:"message"`
	Data    map[string]json.RawMessage `json:"data"`
}

type entry struct {
	ClosingPrice    string `json:"closing_price"`
	UnitsTraded24H  string `json:"units_traded_24H"`
	FluctateRate24H string `json:"fluctate_rate_24H"`
}

// -----------------------------------------------------------------------------

func (c *Codec) Fetch(ctx context.Context) ([]models.MTicker, []error, error) {
	body, err := c.Network.Get(ctx, c.restURL()+"/public/ticker/ALL_KRW", nil)
	if err != nil {
		return nil, nil, err
	}
	tickers, parseErrs, err := c.Normalize(body, c.now())
	return tickers, parseErrs, err
}

// -----------------------------------------------------------------------------

// Normalize converts one ALL_KRW response. Entries that fail to parse are
// reported individually and skipped.
func (c *Codec) Normalize(body []byte, receivedAt time.Time) ([]models.MTicker, []error, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, helpers.NewParseError("bithumb envelope", err)
	}
	if env.Status != statusOK {
		return nil, nil, helpers.NewUpstreamUnavailable(fmt.Sprintf("bithumb status %s: %s", env.Status, env.Message), nil)
	}

	symbols := make([]string, 0, len(env.Data))
	for sym := range env.Data {
		if sym != "date" {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	var (
		out       []models.MTicker
		parseErrs []error
	)
	for _, sym := range symbols {
		t, err := c.parseEntry(sym, env.Data[sym], receivedAt)
		if err != nil {
			parseErrs = append(parseErrs, err)
			continue
		}
		out = append(out, t)
	}
	return out, parseErrs, nil
}

// -----------------------------------------------------------------------------

func (c *Codec) parseEntry(sym string, raw json.RawMessage, receivedAt time.Time) (models.MTicker, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return models.MTicker{}, helpers.NewParseError("bithumb entry "+sym, err)
	}

	price, err := decimal.NewFromString(e.ClosingPrice)
	if err != nil {
		return models.MTicker{}, helpers.NewParseError("bithumb price for "+sym, err)
	}
	volume := decimal.Zero
	if e.UnitsTraded24H != "" {
		if volume, err = decimal.NewFromString(e.UnitsTraded24H); err != nil {
			return models.MTicker{}, helpers.NewParseError("bithumb volume for "+sym, err)
		}
	}
	change := decimal.Zero
	if e.FluctateRate24H != "" {
		if change, err = decimal.NewFromString(e.FluctateRate24H); err != nil {
			return models.MTicker{}, helpers.NewParseError("bithumb change for "+sym, err)
		}
	}

	return models.MTicker{
		Exchange:      c.Name(),
		Symbol:        strings.ToUpper(sym),
		Price:         price.InexactFloat64(),
		Volume24h:     volume.InexactFloat64(),
		ChangePercent: change.InexactFloat64(),
		ObservedAt:    receivedAt,
	}, nil
}
