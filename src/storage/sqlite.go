package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return helpers.NewDatabaseError("open sqlite", err)
	}
	if err := db.Ping(); err != nil {
		return helpers.NewDatabaseError("ping sqlite", err)
	}

	// One connection: sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS premium_records (
			symbol TEXT NOT NULL,
			calculated_at INTEGER NOT NULL,
			domestic_avg_price REAL,
			global_avg_price REAL,
			global_avg_price_converted REAL,
			rate REAL,
			premium_percent REAL,
			domestic_prices TEXT,
			global_prices TEXT,
			PRIMARY KEY (symbol, calculated_at)
		);`,
		`CREATE TABLE IF NOT EXISTS exchange_rates (
			currency_pair TEXT PRIMARY KEY,
			rate REAL NOT NULL,
			source TEXT,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticker_snapshots (
			collected_at INTEGER NOT NULL,
			collection_bucket TEXT NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price REAL,
			volume_24h REAL,
			change_percent REAL,
			observed_at INTEGER,
			PRIMARY KEY (collected_at, exchange, symbol)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ticker_snapshots_bucket ON ticker_snapshots (collection_bucket);`,
	}
	for _, q := range queries {
		if _, err := d.DB.Exec(q); err != nil {
			return helpers.NewDatabaseError("create sqlite schema", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SavePremiumRecords(ctx context.Context, records []models.MPremiumRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin premium insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO premium_records (symbol, calculated_at, domestic_avg_price, global_avg_price,
			global_avg_price_converted, rate, premium_percent, domestic_prices, global_prices)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, calculated_at) DO NOTHING
	`)
	if err != nil {
		return helpers.NewDatabaseError("prepare premium insert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		domestic, global := encodePrices(r)
		_, err := stmt.ExecContext(ctx, r.Symbol, r.CalculatedAt.UnixMilli(), r.DomesticAvgPrice, r.GlobalAvgPrice,
			r.GlobalAvgPriceConverted, r.Rate, r.PremiumPercent, domestic, global)
		if err != nil {
			return helpers.NewDatabaseError("insert premium "+r.Symbol, err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveTickerSnapshots(ctx context.Context, collectedAt time.Time, tickers []models.MTicker) error {
	if len(tickers) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin snapshot insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ticker_snapshots (collected_at, collection_bucket, exchange, symbol, price, volume_24h, change_percent, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collected_at, exchange, symbol) DO UPDATE SET
			price = excluded.price,
			volume_24h = excluded.volume_24h,
			change_percent = excluded.change_percent,
			observed_at = excluded.observed_at
	`)
	if err != nil {
		return helpers.NewDatabaseError("prepare snapshot insert", err)
	}
	defer stmt.Close()

	bucket := CollectionBucket(collectedAt)
	for _, t := range tickers {
		_, err := stmt.ExecContext(ctx, collectedAt.UnixMilli(), bucket, t.Exchange, t.Symbol, t.Price, t.Volume24h, t.ChangePercent, t.ObservedAt.UnixMilli())
		if err != nil {
			return helpers.NewDatabaseError("insert snapshot "+t.Symbol, err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveExchangeRate(ctx context.Context, rate models.MExchangeRate) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO exchange_rates (currency_pair, rate, source, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (currency_pair) DO UPDATE SET
			rate = excluded.rate,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, rate.CurrencyPair, rate.Rate, rate.Source, rate.UpdatedAt.UnixMilli())
	if err != nil {
		return helpers.NewDatabaseError("upsert exchange rate", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LoadExchangeRate(ctx context.Context, currencyPair string) (models.MExchangeRate, bool, error) {
	var (
		rate      models.MExchangeRate
		updatedAt int64
	)
	err := d.DB.QueryRowContext(ctx,
		`SELECT currency_pair, rate, source, updated_at FROM exchange_rates WHERE currency_pair = ?`, currencyPair,
	).Scan(&rate.CurrencyPair, &rate.Rate, &rate.Source, &updatedAt)
	if err == sql.ErrNoRows {
		return models.MExchangeRate{}, false, nil
	}
	if err != nil {
		return models.MExchangeRate{}, false, helpers.NewDatabaseError("load exchange rate", err)
	}
	rate.UpdatedAt = time.UnixMilli(updatedAt)
	return rate, true, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) RecentPremiums(ctx context.Context, symbol string, limit int) ([]models.MPremiumRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, calculated_at, domestic_avg_price, global_avg_price, global_avg_price_converted,
			rate, premium_percent, domestic_prices, global_prices
		FROM premium_records WHERE symbol = ? ORDER BY calculated_at DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, helpers.NewDatabaseError("query premiums", err)
	}
	defer rows.Close()

	var out []models.MPremiumRecord
	for rows.Next() {
		var (
			r                models.MPremiumRecord
			calculatedAt     int64
			domestic, global string
		)
		if err := rows.Scan(&r.Symbol, &calculatedAt, &r.DomesticAvgPrice, &r.GlobalAvgPrice,
			&r.GlobalAvgPriceConverted, &r.Rate, &r.PremiumPercent, &domestic, &global); err != nil {
			return nil, helpers.NewDatabaseError("scan premium", err)
		}
		r.CalculatedAt = time.UnixMilli(calculatedAt)
		decodePrices(&r, domestic, global)
		out = append(out, r)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) CleanupOldData(ctx context.Context) error {
	retentionDays := d.Config.Storage.RetentionDays
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()

	d.Logger.Info("Cleaning up data older than %d days (timestamp < %d)...", retentionDays, cutoff)

	if _, err := d.DB.ExecContext(ctx, "DELETE FROM premium_records WHERE calculated_at < ?", cutoff); err != nil {
		d.Logger.Error("Cleanup premium_records error: %v", err)
	}
	if _, err := d.DB.ExecContext(ctx, "DELETE FROM ticker_snapshots WHERE collected_at < ?", cutoff); err != nil {
		d.Logger.Error("Cleanup ticker_snapshots error: %v", err)
	}

	d.Logger.Info("Cleanup completed")
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Ping(ctx context.Context) error {
	if d.DB == nil {
		return fmt.Errorf("sqlite not initialized")
	}
	return d.DB.PingContext(ctx)
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Shared helpers
// -----------------------------------------------------------------------------

// CollectionBucket is the hourly partition key of a ticker snapshot.
func CollectionBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

// -----------------------------------------------------------------------------

func encodePrices(r models.MPremiumRecord) (string, string) {
	domestic, _ := json.Marshal(r.DomesticPrices)
	global, _ := json.Marshal(r.GlobalPrices)
	return string(domestic), string(global)
}

// -----------------------------------------------------------------------------

func decodePrices(r *models.MPremiumRecord, domestic, global string) {
	_ = json.Unmarshal([]byte(domestic), &r.DomesticPrices)
	_ = json.Unmarshal([]byte(global), &r.GlobalPrices)
}
