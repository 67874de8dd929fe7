package interfaces

import (
	"context"
	"kimchi-observer/src/models"
)

// -----------------------------------------------------------------------------
// IHealthCheck is a named, independently pluggable health check.
// -----------------------------------------------------------------------------

type IHealthCheck interface {
	Name() string
	Check(ctx context.Context) models.MCheckResult
}
