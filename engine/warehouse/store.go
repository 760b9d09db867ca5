// Package warehouse stores embedded law chunks in an analytical SQL
// warehouse and serves cosine-similarity search over them. Two dialects
// are supported through database/sql: BigQuery (ML.DISTANCE) and
// Postgres with the pgvector extension.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/viant/bigquery"
)

const (
	DriverBigQuery = "bigquery"
	DriverPostgres = "postgres"

	DefaultTable      = "laws_detailed"
	DefaultDimensions = 768
	defaultTopK       = 3
)

// Store is the sole owner of all warehouse SQL.
type Store struct {
	db     *sql.DB
	driver string
	table  string
	dims   int
}

// Config describes a warehouse connection.
type Config struct {
	// Driver is "bigquery" or "postgres". Detected from the DSN when empty.
	Driver     string
	DSN        string
	Table      string
	Dimensions int
}

// DetectDriver guesses the SQL driver from a DSN prefix.
func DetectDriver(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "bigquery://"), strings.HasPrefix(lower, "bq://"):
		return DriverBigQuery
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host="):
		return DriverPostgres
	}
	return ""
}

// Open connects to the warehouse described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DetectDriver(cfg.DSN)
	}
	switch driver {
	case DriverBigQuery, DriverPostgres:
	default:
		return nil, fmt.Errorf("warehouse: unsupported driver %q (dsn %q)", cfg.Driver, cfg.DSN)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("warehouse: open %s: %w", driver, err)
	}
	return &Store{db: db, driver: driver, table: cfg.Table, dims: cfg.Dimensions}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DriverName reports which SQL dialect the store speaks.
func (s *Store) DriverName() string {
	return s.driver
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the laws table (and, on Postgres, the pgvector
// extension) if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.driver == DriverPostgres {
		if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("warehouse: create extension: %w", err)
		}
	}
	for _, ddl := range buildSchema(s.driver, s.table, s.dims) {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("warehouse: ensure schema: %w", err)
		}
	}
	return nil
}

// Upsert writes embedded chunks, replacing any existing row with the same
// law number and chunk index. Re-running an ingest never duplicates rows.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	var (
		query string
		args  []any
	)
	if s.driver == DriverBigQuery {
		query, args = buildUpsertBigQuery(s.table, records)
	} else {
		query, args = buildUpsertPostgres(s.table, records)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("warehouse: upsert %d records: %w", len(records), err)
	}
	return nil
}

// DeleteByLawNo removes every chunk of one law. Used for re-ingestion.
func (s *Store) DeleteByLawNo(ctx context.Context, lawNo string) error {
	query := "DELETE FROM " + s.table + " WHERE law_no = ?"
	if s.driver == DriverPostgres {
		query = "DELETE FROM " + s.table + " WHERE law_no = $1"
	}
	if _, err := s.db.ExecContext(ctx, query, lawNo); err != nil {
		return fmt.Errorf("warehouse: delete law %s: %w", lawNo, err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("warehouse: count: %w", err)
	}
	return n, nil
}

// Search returns the topK chunks whose cosine similarity to the query
// embedding exceeds minSimilarity, most similar first.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, minSimilarity float64) ([]Hit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("warehouse: search with empty embedding")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	var (
		query string
		args  []any
	)
	if s.driver == DriverBigQuery {
		query = buildSearchBigQuery(s.table, embedding)
		args = []any{minSimilarity, topK}
	} else {
		query = buildSearchPostgres(s.table)
		args = []any{vectorLiteral(embedding), minSimilarity, topK}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("warehouse: search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.LawNo, &h.LawName, &h.ChunkIndex, &h.Content, &h.Similarity); err != nil {
			return nil, fmt.Errorf("warehouse: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: search rows: %w", err)
	}
	return hits, nil
}
