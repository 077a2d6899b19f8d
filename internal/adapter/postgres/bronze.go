// Package postgres stores the Bronze layer and its ledger in PostgreSQL so a
// batch append and its ledger entry commit in one transaction.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/couchcryptid/climate-layers-etl/internal/domain"
)

// Schema creates the ledger and bronze tables. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS ingestion_ledger (
	batch_id    INTEGER PRIMARY KEY,
	row_count   INTEGER NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS bronze_records (
	batch_id     INTEGER NOT NULL REFERENCES ingestion_ledger (batch_id),
	batch_row    INTEGER NOT NULL,
	date         DATE NOT NULL,
	meantemp     DOUBLE PRECISION,
	humidity     DOUBLE PRECISION,
	wind_speed   DOUBLE PRECISION,
	meanpressure DOUBLE PRECISION,
	PRIMARY KEY (batch_id, batch_row)
);

CREATE INDEX IF NOT EXISTS idx_bronze_records_date ON bronze_records (date);
`

const insertChunk = 1000

type ledgerRow struct {
	BatchID    int       `db:"batch_id"`
	RowCount   int       `db:"row_count"`
	IngestedAt time.Time `db:"ingested_at"`
}

type bronzeRow struct {
	BatchID      int       `db:"batch_id"`
	BatchRow     int       `db:"batch_row"`
	Date         time.Time `db:"date"`
	MeanTemp     *float64  `db:"meantemp"`
	Humidity     *float64  `db:"humidity"`
	WindSpeed    *float64  `db:"wind_speed"`
	MeanPressure *float64  `db:"meanpressure"`
}

// BronzeStore implements the pipeline's Bronze persistence on PostgreSQL.
type BronzeStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*BronzeStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB, logger *slog.Logger) *BronzeStore {
	return &BronzeStore{db: db, logger: logger}
}

// Migrate applies Schema.
func (s *BronzeStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate bronze schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *BronzeStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BronzeStore) Close() error {
	return s.db.Close()
}

// ReadLedger returns every committed batch in ingestion order.
func (s *BronzeStore) ReadLedger(ctx context.Context) (domain.Ledger, error) {
	var rows []ledgerRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT batch_id, row_count, ingested_at FROM ingestion_ledger ORDER BY ingested_at, batch_id`)
	if err != nil {
		return domain.Ledger{}, fmt.Errorf("read ledger: %w", err)
	}
	entries := make([]domain.LedgerEntry, len(rows))
	for i, r := range rows {
		entries[i] = domain.LedgerEntry{BatchID: r.BatchID, RowCount: r.RowCount, IngestedAt: r.IngestedAt.UTC()}
	}
	return domain.Ledger{Entries: entries}, nil
}

// LoadBronze returns the ledger and all Bronze rows in origin order.
func (s *BronzeStore) LoadBronze(ctx context.Context) (domain.Bronze, error) {
	ledger, err := s.ReadLedger(ctx)
	if err != nil {
		return domain.Bronze{}, err
	}

	var rows []bronzeRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT batch_id, batch_row, date, meantemp, humidity, wind_speed, meanpressure
		FROM bronze_records
		ORDER BY batch_id, batch_row`)
	if err != nil {
		return domain.Bronze{}, fmt.Errorf("read bronze: %w", err)
	}

	records := make([]domain.BronzeRecord, len(rows))
	for i, r := range rows {
		y, m, d := r.Date.Date()
		records[i] = domain.BronzeRecord{
			Date:     time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
			BatchID:  r.BatchID,
			BatchRow: r.BatchRow,
			Measurements: domain.Measurements{
				MeanTemp:     r.MeanTemp,
				Humidity:     r.Humidity,
				WindSpeed:    r.WindSpeed,
				MeanPressure: r.MeanPressure,
			},
		}
	}
	return domain.Bronze{Ledger: ledger, Records: records}, nil
}

// AppendBatch inserts the ledger entry and the batch rows in one serializable
// transaction. A conflicting ledger key means another writer committed the
// batch first and yields domain.ErrBatchAlreadyIngested.
func (s *BronzeStore) AppendBatch(ctx context.Context, entry domain.LedgerEntry, records []domain.BronzeRecord) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ingestion_ledger (batch_id, row_count, ingested_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (batch_id) DO NOTHING`,
		entry.BatchID, entry.RowCount, entry.IngestedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	} else if n == 0 {
		return domain.ErrBatchAlreadyIngested
	}

	if len(records) > 0 {
		rows := make([]bronzeRow, len(records))
		for i, r := range records {
			rows[i] = bronzeRow{
				BatchID:      r.BatchID,
				BatchRow:     r.BatchRow,
				Date:         r.Date,
				MeanTemp:     r.MeanTemp,
				Humidity:     r.Humidity,
				WindSpeed:    r.WindSpeed,
				MeanPressure: r.MeanPressure,
			}
		}
		// Chunked to stay under the bind parameter limit.
		for chunk := range slices.Chunk(rows, insertChunk) {
			_, err := tx.NamedExecContext(ctx, `
				INSERT INTO bronze_records (batch_id, batch_row, date, meantemp, humidity, wind_speed, meanpressure)
				VALUES (:batch_id, :batch_row, :date, :meantemp, :humidity, :wind_speed, :meanpressure)`,
				chunk)
			if err != nil {
				return fmt.Errorf("insert bronze rows: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %d: %w", entry.BatchID, err)
	}
	s.logger.Debug("bronze batch committed", "batch_id", entry.BatchID, "rows", len(records))
	return nil
}
