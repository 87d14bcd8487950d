package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"BarPulse/internal/domain/models"
	domrepo "BarPulse/internal/domain/repository"
)

// Schema statements for the snapshot tables, applied idempotently at startup.
var snapshotSchema = []string{
	`CREATE TABLE IF NOT EXISTS bp_ring_snapshots (
		at          DateTime,
		symbol      LowCardinality(String),
		timeframe   LowCardinality(String),
		write_index UInt64,
		wrap_count  UInt64,
		oldest_ts   Int64,
		newest_ts   Int64,
		last_close  Float32
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(at)
	ORDER BY (symbol, timeframe, at)
	TTL at + INTERVAL 30 DAY`,

	`CREATE TABLE IF NOT EXISTS bp_stage_latencies (
		at         DateTime,
		symbol     LowCardinality(String),
		stage      LowCardinality(String),
		elapsed_ns Int64,
		call_index UInt64
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(at)
	ORDER BY (symbol, stage, at)
	TTL at + INTERVAL 7 DAY`,

	`CREATE TABLE IF NOT EXISTS bp_path_transitions (
		at         DateTime,
		symbol     LowCardinality(String),
		from_path  LowCardinality(String),
		to_path    LowCardinality(String),
		reason     String
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMMDD(at)
	ORDER BY (symbol, at)
	TTL at + INTERVAL 90 DAY`,
}

// SchemaInitializer applies DDL statements (pkg/clickhouse Client).
type SchemaInitializer interface {
	InitSchema(ctx context.Context, stmts []string) error
}

// ClickHouseSnapshotStore persists pipeline snapshots into ClickHouse with
// chunked multi-row inserts.
type ClickHouseSnapshotStore struct {
	db     *sql.DB
	schema SchemaInitializer
}

var _ domrepo.SnapshotStore = (*ClickHouseSnapshotStore)(nil)

// NewClickHouseSnapshotStore wraps an open connection pool.
func NewClickHouseSnapshotStore(db *sql.DB, schema SchemaInitializer) *ClickHouseSnapshotStore {
	return &ClickHouseSnapshotStore{db: db, schema: schema}
}

func (s *ClickHouseSnapshotStore) Init(ctx context.Context) error {
	if s.schema == nil {
		return nil
	}
	return s.schema.InitSchema(ctx, snapshotSchema)
}

func (s *ClickHouseSnapshotStore) StoreRingSnapshots(ctx context.Context, rows []models.RingSnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	const cols = 8
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)
	for _, r := range rows {
		if r.Symbol == "" {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, r.At, r.Symbol, r.Timeframe, r.WriteIndex, r.WrapCount, r.OldestTime, r.NewestTime, r.LastClose)
	}
	if len(values) == 0 {
		return nil
	}
	q := "INSERT INTO bp_ring_snapshots (at, symbol, timeframe, write_index, wrap_count, oldest_ts, newest_ts, last_close) VALUES " +
		strings.Join(values, ",")
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store ring snapshots: %w", err)
	}
	return nil
}

func (s *ClickHouseSnapshotStore) StoreLatencies(ctx context.Context, rows []models.LatencyRow) error {
	if len(rows) == 0 {
		return nil
	}
	// Chunked to bound statement size on busy flush cycles.
	const chunkSize = 2000
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*5)
		for _, r := range rows[start:end] {
			values = append(values, "(?, ?, ?, ?, ?)")
			args = append(args, r.At, r.Symbol, r.Stage, r.ElapsedNs, r.CallIndex)
		}
		q := "INSERT INTO bp_stage_latencies (at, symbol, stage, elapsed_ns, call_index) VALUES " +
			strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store latencies: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseSnapshotStore) StoreTransitions(ctx context.Context, rows []models.TransitionRow) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)
	for _, r := range rows {
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, r.At, r.Symbol, r.From, r.To, r.Reason)
	}
	q := "INSERT INTO bp_path_transitions (at, symbol, from_path, to_path, reason) VALUES " +
		strings.Join(values, ",")
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store transitions: %w", err)
	}
	return nil
}

// QueryTransitions returns the most recent path transitions for a symbol,
// newest first. A zero since means no lower bound. Used by the status API.
func (s *ClickHouseSnapshotStore) QueryTransitions(ctx context.Context, symbol string, since time.Time, limit int) ([]models.TransitionRow, error) {
	q := "SELECT at, symbol, from_path, to_path, reason FROM bp_path_transitions WHERE symbol = ? AND at >= ? ORDER BY at DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, q, symbol, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []models.TransitionRow
	for rows.Next() {
		var r models.TransitionRow
		if err := rows.Scan(&r.At, &r.Symbol, &r.From, &r.To, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ClickHouseSnapshotStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseSnapshotStore) Close() error {
	return nil // pool owned by pkg/clickhouse client
}

// NoopSnapshotStore is used when persistence is disabled in config.
type NoopSnapshotStore struct{}

var _ domrepo.SnapshotStore = (*NoopSnapshotStore)(nil)

func (NoopSnapshotStore) Init(context.Context) error                              { return nil }
func (NoopSnapshotStore) StoreRingSnapshots(context.Context, []models.RingSnapshotRow) error { return nil }
func (NoopSnapshotStore) StoreLatencies(context.Context, []models.LatencyRow) error          { return nil }
func (NoopSnapshotStore) StoreTransitions(context.Context, []models.TransitionRow) error     { return nil }
func (NoopSnapshotStore) Health(context.Context) error                            { return nil }
func (NoopSnapshotStore) Close() error                                            { return nil }
