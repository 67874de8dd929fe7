package interfaces

import (
	"context"
	"kimchi-observer/src/models"
)

// -----------------------------------------------------------------------------
// IRateSource fetches one conversion rate from one upstream provider.
// -----------------------------------------------------------------------------

type IRateSource interface {
	Name() string
	FetchRate(ctx context.Context) (float64, error)
}

// -----------------------------------------------------------------------------
// IRateProvider hands out the latest known rate without blocking.
// -----------------------------------------------------------------------------

type IRateProvider interface {
	CurrentRate() models.MExchangeRate
}
