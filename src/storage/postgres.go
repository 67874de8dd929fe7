package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kimchi-observer/src/helpers"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	// Schema is named after the executable so several deployments can share a database.
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, `"`, "")

	return &PostgresDB{
		Config: cfg,
		Schema: name,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) table(name string) string {
	return fmt.Sprintf(`"%s"."%s"`, d.Schema, name)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return helpers.NewDatabaseError("open postgres", err)
	}
	if err := db.Ping(); err != nil {
		return helpers.NewDatabaseError("ping postgres", err)
	}
	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}
	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			symbol TEXT NOT NULL,
			calculated_at TIMESTAMPTZ NOT NULL,
			domestic_avg_price DOUBLE PRECISION,
			global_avg_price DOUBLE PRECISION,
			global_avg_price_converted DOUBLE PRECISION,
			rate DOUBLE PRECISION,
			premium_percent DOUBLE PRECISION,
			domestic_prices JSONB,
			global_prices JSONB,
			PRIMARY KEY (symbol, calculated_at)
		);`, d.table("premium_records")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			currency_pair TEXT PRIMARY KEY,
			rate DOUBLE PRECISION NOT NULL,
			source TEXT,
			updated_at TIMESTAMPTZ NOT NULL
		);`, d.table("exchange_rates")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			collected_at TIMESTAMPTZ NOT NULL,
			collection_bucket TEXT NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price DOUBLE PRECISION,
			volume_24h DOUBLE PRECISION,
			change_percent DOUBLE PRECISION,
			observed_at TIMESTAMPTZ,
			PRIMARY KEY (collected_at, exchange, symbol)
		);`, d.table("ticker_snapshots")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ticker_snapshots_bucket_idx ON %s (collection_bucket);`, d.table("ticker_snapshots")),
	}
	for _, q := range queries {
		if _, err := d.DB.Exec(q); err != nil {
			return helpers.NewDatabaseError("create postgres schema", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SavePremiumRecords(ctx context.Context, records []models.MPremiumRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin premium insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (symbol, calculated_at, domestic_avg_price, global_avg_price,
			global_avg_price_converted, rate, premium_percent, domestic_prices, global_prices)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, calculated_at) DO NOTHING
	`, d.table("premium_records")))
	if err != nil {
		return helpers.NewDatabaseError("prepare premium insert", err)
	}
	defer stmt.Close()

	for _, r := range records {
		domestic, global := encodePrices(r)
		_, err := stmt.ExecContext(ctx, r.Symbol, r.CalculatedAt.UTC(), r.DomesticAvgPrice, r.GlobalAvgPrice,
			r.GlobalAvgPriceConverted, r.Rate, r.PremiumPercent, domestic, global)
		if err != nil {
			return helpers.NewDatabaseError("insert premium "+r.Symbol, err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveTickerSnapshots(ctx context.Context, collectedAt time.Time, tickers []models.MTicker) error {
	if len(tickers) == 0 {
		return nil
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return helpers.NewDatabaseError("begin snapshot insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (collected_at, collection_bucket, exchange, symbol, price, volume_24h, change_percent, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (collected_at, exchange, symbol) DO UPDATE SET
			price = EXCLUDED.price,
			volume_24h = EXCLUDED.volume_24h,
			change_percent = EXCLUDED.change_percent,
			observed_at = EXCLUDED.observed_at
	`, d.table("ticker_snapshots")))
	if err != nil {
		return helpers.NewDatabaseError("prepare snapshot insert", err)
	}
	defer stmt.Close()

	bucket := CollectionBucket(collectedAt)
	for _, t := range tickers {
		_, err := stmt.ExecContext(ctx, collectedAt.UTC(), bucket, t.Exchange, t.Symbol, t.Price, t.Volume24h, t.ChangePercent, t.ObservedAt.UTC())
		if err != nil {
			return helpers.NewDatabaseError("insert snapshot "+t.Symbol, err)
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveExchangeRate(ctx context.Context, rate models.MExchangeRate) error {
	_, err := d.DB.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (currency_pair, rate, source, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (currency_pair) DO UPDATE SET
			rate = EXCLUDED.rate,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at
	`, d.table("exchange_rates")), rate.CurrencyPair, rate.Rate, rate.Source, rate.UpdatedAt.UTC())
	if err != nil {
		return helpers.NewDatabaseError("upsert exchange rate", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LoadExchangeRate(ctx context.Context, currencyPair string) (models.MExchangeRate, bool, error) {
	var rate models.MExchangeRate
	err := d.DB.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT currency_pair, rate, source, updated_at FROM %s WHERE currency_pair = $1`, d.table("exchange_rates")),
		currencyPair,
	).Scan(&rate.CurrencyPair, &rate.Rate, &rate.Source, &rate.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.MExchangeRate{}, false, nil
	}
	if err != nil {
		return models.MExchangeRate{}, false, helpers.NewDatabaseError("load exchange rate", err)
	}
	return rate, true, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) RecentPremiums(ctx context.Context, symbol string, limit int) ([]models.MPremiumRecord, error) {
	rows, err := d.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT symbol, calculated_at, domestic_avg_price, global_avg_price, global_avg_price_converted,
			rate, premium_percent, domestic_prices, global_prices
		FROM %s WHERE symbol = $1 ORDER BY calculated_at DESC LIMIT $2
	`, d.table("premium_records")), symbol, limit)
	if err != nil {
		return nil, helpers.NewDatabaseError("query premiums", err)
	}
	defer rows.Close()

	var out []models.MPremiumRecord
	for rows.Next() {
		var (
			r                models.MPremiumRecord
			domestic, global string
		)
		if err := rows.Scan(&r.Symbol, &r.CalculatedAt, &r.DomesticAvgPrice, &r.GlobalAvgPrice,
			&r.GlobalAvgPriceConverted, &r.Rate, &r.PremiumPercent, &domestic, &global); err != nil {
			return nil, helpers.NewDatabaseError("scan premium", err)
		}
		decodePrices(&r, domestic, global)
		out = append(out, r)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) CleanupOldData(ctx context.Context) error {
	retentionDays := d.Config.Storage.RetentionDays
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	d.Logger.Info("Cleaning up data older than %d days (before %s)...", retentionDays, cutoff.Format(time.RFC3339))

	if _, err := d.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE calculated_at < $1`, d.table("premium_records")), cutoff); err != nil {
		d.Logger.Error("Cleanup premium_records error: %v", err)
	}
	if _, err := d.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE collected_at < $1`, d.table("ticker_snapshots")), cutoff); err != nil {
		d.Logger.Error("Cleanup ticker_snapshots error: %v", err)
	}

	d.Logger.Info("Cleanup completed")
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Ping(ctx context.Context) error {
	if d.DB == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return d.DB.PingContext(ctx)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
