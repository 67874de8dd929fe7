package interfaces

import (
	"context"
	"kimchi-observer/src/models"
	"time"
)

// -----------------------------------------------------------------------------
// IDatabase defines the contract for storage operations.
// -----------------------------------------------------------------------------

type IDatabase interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SavePremiumRecords appends premium rows keyed by (symbol, calculatedAt).
	SavePremiumRecords(ctx context.Context, records []models.MPremiumRecord) error

	// -----------------------------------------------------------------------------

	// SaveTickerSnapshots stores tickers collected at one point in time.
	SaveTickerSnapshots(ctx context.Context, collectedAt time.Time, tickers []models.MTicker) error

	// -----------------------------------------------------------------------------

	// SaveExchangeRate upserts the latest rate for its currency pair.
	SaveExchangeRate(ctx context.Context, rate models.MExchangeRate) error

	// -----------------------------------------------------------------------------

	// LoadExchangeRate returns the last persisted rate, or ok=false when none exists.
	LoadExchangeRate(ctx context.Context, currencyPair string) (models.MExchangeRate, bool, error)

	// -----------------------------------------------------------------------------

	// RecentPremiums returns the newest persisted records for a symbol.
	RecentPremiums(ctx context.Context, symbol string, limit int) ([]models.MPremiumRecord, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes data older than the retention policy.
	CleanupOldData(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Ping checks connectivity for health reporting.
	Ping(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
