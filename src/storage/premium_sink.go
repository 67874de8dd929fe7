package storage

import (
	"context"
	"time"

	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/models"
)

// -----------------------------------------------------------------------------
// DatabaseSink persists premium cycles, plus the fresh tickers that produced
// them when snapshots are enabled.
// -----------------------------------------------------------------------------

type TickerSnapshotSource interface {
	FreshForSymbol(symbol string, now time.Time) []models.MTicker
}

type DatabaseSink struct {
	DB        interfaces.IDatabase
	Snapshots TickerSnapshotSource
}

// -----------------------------------------------------------------------------

func NewDatabaseSink(db interfaces.IDatabase, snapshots TickerSnapshotSource) *DatabaseSink {
	return &DatabaseSink{DB: db, Snapshots: snapshots}
}

// -----------------------------------------------------------------------------

func (s *DatabaseSink) Name() string {
	return "database"
}

// -----------------------------------------------------------------------------

func (s *DatabaseSink) ConsumePremiums(ctx context.Context, records []models.MPremiumRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.DB.SavePremiumRecords(ctx, records); err != nil {
		return err
	}
	if s.Snapshots == nil {
		return nil
	}

	collectedAt := records[0].CalculatedAt
	var tickers []models.MTicker
	for _, r := range records {
		tickers = append(tickers, s.Snapshots.FreshForSymbol(r.Symbol, collectedAt)...)
	}
	return s.DB.SaveTickerSnapshots(ctx, collectedAt, tickers)
}
