package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/wine-identify/internal/canonical"
	"github.com/sells-group/wine-identify/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlIsCanonical     = `SELECT 1 FROM canonical_producers WHERE name = $1`
	sqlLookupAlias     = `SELECT canonical FROM producer_aliases WHERE variant = $1`
	sqlSaveAlias       = `INSERT INTO producer_aliases (variant, canonical, created_at) VALUES ($1, $2, $3) ON CONFLICT (variant) DO UPDATE SET canonical = EXCLUDED.canonical`
	sqlCandidates      = `SELECT name, hits FROM canonical_producers WHERE hits >= $1 ORDER BY hits DESC, name LIMIT $2`
	sqlRecordCanonical = `INSERT INTO canonical_producers (name, hits, updated_at) VALUES ($1, 1, $2) ON CONFLICT (name) DO UPDATE SET hits = canonical_producers.hits + 1, updated_at = EXCLUDED.updated_at`
	sqlGetEntry        = `SELECT key, tier, value, stored_at, ttl_ns FROM cache_entries WHERE key = $1`
	sqlPutEntry        = `INSERT INTO cache_entries (key, tier, value, stored_at, ttl_ns, expires_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (key) DO UPDATE SET tier = EXCLUDED.tier, value = EXCLUDED.value, stored_at = EXCLUDED.stored_at, ttl_ns = EXCLUDED.ttl_ns, expires_at = EXCLUDED.expires_at`
	sqlInsertWine      = `INSERT INTO wines (id, request_id, canonical_producer, result, created_at) VALUES ($1, $2, $3, $4, $5)`
	sqlGetWine         = `SELECT id, request_id, COALESCE(canonical_producer, ''), result, created_at FROM wines WHERE id = $1`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot lookups.
var preparedStatements = map[string]string{
	"is_canonical":     sqlIsCanonical,
	"lookup_alias":     sqlLookupAlias,
	"record_canonical": sqlRecordCanonical,
	"get_entry":        sqlGetEntry,
	"put_entry":        sqlPutEntry,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS canonical_producers (
	name       TEXT PRIMARY KEY,
	hits       INTEGER NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS producer_aliases (
	variant    TEXT PRIMARY KEY,
	canonical  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	tier       TEXT NOT NULL,
	value      JSONB NOT NULL,
	stored_at  TIMESTAMPTZ NOT NULL,
	ttl_ns     BIGINT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS wines (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	request_id         TEXT NOT NULL,
	canonical_producer TEXT,
	result             JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_canonical_producers_hits ON canonical_producers(hits DESC);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_wines_canonical_producer ON wines(canonical_producer);
CREATE INDEX IF NOT EXISTS idx_wines_created_at ON wines(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Canonical names ---

func (s *PostgresStore) IsCanonical(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, sqlIsCanonical, name).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: is canonical %s", name)
	}
	return true, nil
}

func (s *PostgresStore) LookupAlias(ctx context.Context, variant string) (string, bool, error) {
	var c string
	err := s.pool.QueryRow(ctx, sqlLookupAlias, variant).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: lookup alias %s", variant)
	}
	return c, true, nil
}

func (s *PostgresStore) SaveAlias(ctx context.Context, variant, canonicalName string) error {
	_, err := s.pool.Exec(ctx, sqlSaveAlias, variant, canonicalName, time.Now().UTC())
	return eris.Wrapf(err, "postgres: save alias %s", variant)
}

func (s *PostgresStore) Candidates(ctx context.Context, minHits, limit int) ([]canonical.Candidate, error) {
	rows, err := s.pool.Query(ctx, sqlCandidates, minHits, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []canonical.Candidate
	for rows.Next() {
		var c canonical.Candidate
		if err := rows.Scan(&c.Name, &c.Hits); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list candidates iterate")
}

func (s *PostgresStore) RecordCanonical(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, sqlRecordCanonical, name, time.Now().UTC())
	return eris.Wrapf(err, "postgres: record canonical %s", name)
}

// --- Cache entries ---

func (s *PostgresStore) GetEntry(ctx context.Context, key string) (*model.CacheEntry, bool, error) {
	var (
		e     model.CacheEntry
		tier  string
		value []byte
		ttlNs int64
	)
	err := s.pool.QueryRow(ctx, sqlGetEntry, key).Scan(&e.Key, &tier, &value, &e.StoredAt, &ttlNs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: get cache entry %s", key)
	}
	e.Tier = model.Volatility(tier)
	e.Value = json.RawMessage(value)
	e.TTL = time.Duration(ttlNs)
	return &e, true, nil
}

func (s *PostgresStore) PutEntry(ctx context.Context, e model.CacheEntry) error {
	_, err := s.pool.Exec(ctx, sqlPutEntry,
		e.Key, string(e.Tier), []byte(e.Value), e.StoredAt.UTC(), int64(e.TTL), e.ExpiresAt().UTC(),
	)
	return eris.Wrapf(err, "postgres: put cache entry %s", e.Key)
}

func (s *PostgresStore) DeleteExpiredEntries(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired entries")
	}
	return int(tag.RowsAffected()), nil
}

// --- Wines ---

func (s *PostgresStore) PersistWine(ctx context.Context, rec model.WineRecord) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal wine")
	}
	var producer *string
	if rec.CanonicalProducer != "" {
		producer = &rec.CanonicalProducer
	}
	_, err = s.pool.Exec(ctx, sqlInsertWine, rec.ID, rec.RequestID, producer, resultJSON, rec.CreatedAt.UTC())
	return eris.Wrapf(err, "postgres: insert wine %s", rec.ID)
}

func (s *PostgresStore) GetWine(ctx context.Context, id string) (*model.WineRecord, error) {
	rec, err := scanPgWine(s.pool.QueryRow(ctx, sqlGetWine, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "wine %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get wine %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListWines(ctx context.Context, filter WineFilter) ([]model.WineRecord, error) {
	query := `SELECT id, request_id, COALESCE(canonical_producer, ''), result, created_at FROM wines WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CanonicalProducer != "" {
		query += fmt.Sprintf(` AND canonical_producer = $%d`, argIdx)
		args = append(args, filter.CanonicalProducer)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list wines")
	}
	defer rows.Close()

	var out []model.WineRecord
	for rows.Next() {
		rec, err := scanPgWine(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan wine")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list wines iterate")
}

func scanPgWine(row pgx.Row) (*model.WineRecord, error) {
	var (
		rec        model.WineRecord
		resultJSON []byte
	)
	if err := row.Scan(&rec.ID, &rec.RequestID, &rec.CanonicalProducer, &resultJSON, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resultJSON, &rec.Result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal wine")
	}
	return &rec, nil
}
