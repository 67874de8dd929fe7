package interfaces

import (
	"context"
	"kimchi-observer/src/models"
)

// -----------------------------------------------------------------------------
// IPremiumSink receives every batch of records a premium cycle emits.
// -----------------------------------------------------------------------------

type IPremiumSink interface {
	Name() string
	ConsumePremiums(ctx context.Context, records []models.MPremiumRecord) error
}
