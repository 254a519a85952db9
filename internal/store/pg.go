// Package store loads netted claims into Postgres for downstream reporting.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyeh/rx-netting/internal/claims"
)

// TableName is the table netted rows are copied into.
const TableName = "netted_claims"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS netted_claims (
    run_id           uuid        NOT NULL,
    row_id           integer     NOT NULL,
    source_record_id text,
    member_id        text        NOT NULL,
    ndc              text        NOT NULL,
    date_filled      date,
    date_filled_text text,
    quantity         numeric,
    logic            text,
    extra            jsonb,
    loaded_at        timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (run_id, row_id)
);
CREATE INDEX IF NOT EXISTS netted_claims_member_ndc_idx ON netted_claims (member_id, ndc);
`

var copyColumns = []string{
	"run_id", "row_id", "source_record_id", "member_id", "ndc",
	"date_filled", "date_filled_text", "quantity", "logic", "extra",
}

// Sink writes netted claim rows to Postgres.
type Sink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to connStr and checks the connection.
func Open(ctx context.Context, connStr string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection: %w", err)
	}
	poolConfig.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Sink{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

// EnsureSchema creates the netted_claims table when it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create %s: %w", TableName, err)
	}
	return nil
}

// Write copies every record of b into netted_claims under runID in a single
// transaction and returns the number of rows copied.
func (s *Sink) Write(ctx context.Context, runID uuid.UUID, b *claims.Block) (int64, error) {
	start := time.Now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	id := pgtype.UUID{Bytes: [16]byte(runID), Valid: true}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{TableName},
		copyColumns,
		pgx.CopyFromSlice(len(b.Records), func(i int) ([]any, error) {
			return copyRow(id, &b.Records[i]), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", TableName, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("stored netted claims",
		slog.String("run_id", runID.String()),
		slog.Int64("rows", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

// CountRun returns how many rows runID stored.
func (s *Sink) CountRun(ctx context.Context, runID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM netted_claims WHERE run_id = $1",
		pgtype.UUID{Bytes: [16]byte(runID), Valid: true},
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count run: %w", err)
	}
	return n, nil
}

func copyRow(runID pgtype.UUID, r *claims.Record) []any {
	var extra any
	if len(r.Extra) > 0 {
		extra = r.Extra
	}
	return []any{
		runID,
		int32(r.RowID),
		optText(r.SourceRecordID),
		r.SubjectID,
		r.DrugCode,
		toDate(r.DateFilled),
		optText(r.DateText()),
		toNumeric(r),
		optText(r.Status),
		extra,
	}
}

func toDate(d claims.Date) pgtype.Date {
	if !d.Valid() {
		return pgtype.Date{Valid: false}
	}
	y, m, day := d.Time().Date()
	return pgtype.Date{Time: time.Date(y, m, day, 0, 0, 0, 0, time.UTC), Valid: true}
}

func toNumeric(r *claims.Record) pgtype.Numeric {
	if r.RawQuantity == "" {
		return pgtype.Numeric{Valid: false}
	}
	var num pgtype.Numeric
	if err := num.Scan(r.Quantity.String()); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return num
}

func optText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}
