package luno

import (
	"context"
	"strings"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/models"

	"github.com/luno/luno-go"
)

// Pairs come back as e.g. "XBTUSDT"; Luno calls bitcoin XBT.
var symbolAliases = map[string]string{
	"XBT": "BTC",
}

var defaultQuotes = []string{"USDT", "USDC"}

// TickerLister is the part of the luno client the codec needs.
type TickerLister interface {
	GetTickers(ctx context.Context, req *luno.GetTickersRequest) (*luno.GetTickersResponse, error)
}

type Codec struct {
	Config models.MExchangeConfig
	Client TickerLister
	quotes []string
	now    func() time.Time
}

// -----------------------------------------------------------------------------

func New(cfg models.MExchangeConfig) *Codec {
	return NewWithClient(cfg, luno.NewClient())
}

// -----------------------------------------------------------------------------

func NewWithClient(cfg models.MExchangeConfig, client TickerLister) *Codec {
	quotes := defaultQuotes
	if len(cfg.QuoteCurrencies) > 0 {
		quotes = make([]string, len(cfg.QuoteCurrencies))
		for i, q := range cfg.QuoteCurrencies {
			quotes[i] = strings.ToUpper(q)
		}
	}
	return &Codec{Config: cfg, Client: client, quotes: quotes, now: time.Now}
}

// -----------------------------------------------------------------------------

func (c *Codec) Name() string {
	return c.Config.Name
}

// -----------------------------------------------------------------------------

func (c *Codec) Fetch(ctx context.Context) ([]models.MTicker, []error, error) {
	res, err := c.Client.GetTickers(ctx, &luno.GetTickersRequest{})
	if err != nil {
		return nil, nil, helpers.ClassifyMessage("luno GetTickers", err)
	}
	tickers, parseErrs := c.Normalize(res.Tickers, c.now())
	return tickers, parseErrs, nil
}

// -----------------------------------------------------------------------------

// Normalize keeps pairs quoted in one of the configured currencies. The
// first quote listed wins when a base trades against several.
func (c *Codec) Normalize(tickers []luno.Ticker, receivedAt time.Time) ([]models.MTicker, []error) {
	var parseErrs []error
	best := make(map[string]int)
	var out []models.MTicker

	for _, t := range tickers {
		base, rank, ok := c.splitPair(t.Pair)
		if !ok {
			continue
		}
		price := t.LastTrade.Float64()
		if price <= 0 {
			parseErrs = append(parseErrs, helpers.NewParseError("luno pair "+t.Pair+" without last trade", nil))
			continue
		}

		tk := models.MTicker{
			Exchange:   c.Name(),
			Symbol:     base,
			Price:      price,
			Volume24h:  t.Rolling24HourVolume.Float64(),
			ObservedAt: receivedAt,
		}
		if prev, seen := best[base]; seen {
			if rank >= prev {
				continue
			}
			for i := range out {
				if out[i].Symbol == base {
					out[i] = tk
				}
			}
			best[base] = rank
			continue
		}
		best[base] = rank
		out = append(out, tk)
	}
	return out, parseErrs
}

// -----------------------------------------------------------------------------

func (c *Codec) splitPair(pair string) (string, int, bool) {
	for rank, q := range c.quotes {
		if base, ok := strings.CutSuffix(pair, q); ok && base != "" {
			if alias, found := symbolAliases[base]; found {
				base = alias
			}
			return base, rank, true
		}
	}
	return "", 0, false
}
