package interfaces

import (
	"context"
	"kimchi-observer/src/models"
	"time"
)

// -----------------------------------------------------------------------------
// IExchangeFeed is one exchange adapter. Run owns a single connection or
// polling session and returns when it ends; the supervisor restarts it.
// -----------------------------------------------------------------------------

type IExchangeFeed interface {

	// Name returns the unique exchange identifier
	Name() string

	// -----------------------------------------------------------------------------

	// Capability tells whether the feed streams or polls
	Capability() models.FeedCapability

	// -----------------------------------------------------------------------------

	// Run ingests tickers into store until ctx is cancelled or the session fails.
	// A nil return after cancellation means a clean stop.
	Run(ctx context.Context, store ITickerStore, reporter IFeedReporter) error
}

// -----------------------------------------------------------------------------
// ITickerStore is the write side of the market store seen by feeds.
// -----------------------------------------------------------------------------

type ITickerStore interface {
	Upsert(ticker models.MTicker) error
}

// -----------------------------------------------------------------------------
// IFeedReporter receives feed progress for statistics and health.
// -----------------------------------------------------------------------------

type IFeedReporter interface {
	SetState(state models.FeedState)
	MarkUpdate(count int)
	RecordError(err error)
	RecordParseError(err error)
}

// -----------------------------------------------------------------------------
// IStreamCodec holds the wire format of one push exchange.
// -----------------------------------------------------------------------------

type IStreamCodec interface {
	Name() string

	// Endpoint is the websocket URL to dial
	Endpoint() string

	// ListSymbols returns every base symbol the exchange offers in the quote market
	ListSymbols(ctx context.Context) ([]string, error)

	// SubscribeMessages builds the frames that subscribe to symbols
	SubscribeMessages(symbols []string) ([][]byte, error)

	// Decode turns one frame into tickers. Control frames yield nothing.
	// A ParseError drops the frame; any other error ends the session.
	Decode(raw []byte, receivedAt time.Time) ([]models.MTicker, error)
}

// -----------------------------------------------------------------------------
// IPollCodec fetches a full ticker snapshot from one poll exchange.
// -----------------------------------------------------------------------------

type IPollCodec interface {
	Name() string

	// Fetch returns the tickers it could parse, the per-entry parse failures,
	// and an error when the request itself failed.
	Fetch(ctx context.Context) ([]models.MTicker, []error, error)
}
