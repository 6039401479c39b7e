package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/wine-identify/internal/canonical"
	"github.com/sells-group/wine-identify/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS canonical_producers (
	name       TEXT PRIMARY KEY,
	hits       INTEGER NOT NULL DEFAULT 1,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS producer_aliases (
	variant    TEXT PRIMARY KEY,
	canonical  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	tier       TEXT NOT NULL,
	value      TEXT NOT NULL,
	stored_at  DATETIME NOT NULL,
	ttl_ns     INTEGER NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS wines (
	id                 TEXT PRIMARY KEY,
	request_id         TEXT NOT NULL,
	canonical_producer TEXT,
	result             TEXT NOT NULL,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_canonical_producers_hits ON canonical_producers(hits);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_wines_canonical_producer ON wines(canonical_producer);
CREATE INDEX IF NOT EXISTS idx_wines_created_at ON wines(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Canonical names ---

func (s *SQLiteStore) IsCanonical(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM canonical_producers WHERE name = ?`, name).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: is canonical %s", name)
	}
	return true, nil
}

func (s *SQLiteStore) LookupAlias(ctx context.Context, variant string) (string, bool, error) {
	var c string
	err := s.db.QueryRowContext(ctx, `SELECT canonical FROM producer_aliases WHERE variant = ?`, variant).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: lookup alias %s", variant)
	}
	return c, true, nil
}

func (s *SQLiteStore) SaveAlias(ctx context.Context, variant, canonicalName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO producer_aliases (variant, canonical, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(variant) DO UPDATE SET canonical = excluded.canonical`,
		variant, canonicalName, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save alias %s", variant)
}

func (s *SQLiteStore) Candidates(ctx context.Context, minHits, limit int) ([]canonical.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, hits FROM canonical_producers WHERE hits >= ? ORDER BY hits DESC, name LIMIT ?`,
		minHits, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []canonical.Candidate
	for rows.Next() {
		var c canonical.Candidate
		if err := rows.Scan(&c.Name, &c.Hits); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list candidates iterate")
}

func (s *SQLiteStore) RecordCanonical(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO canonical_producers (name, hits, updated_at) VALUES (?, 1, ?)
		 ON CONFLICT(name) DO UPDATE SET hits = hits + 1, updated_at = excluded.updated_at`,
		name, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record canonical %s", name)
}

// --- Cache entries ---

func (s *SQLiteStore) GetEntry(ctx context.Context, key string) (*model.CacheEntry, bool, error) {
	var (
		e     model.CacheEntry
		tier  string
		value string
		ttlNs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, tier, value, stored_at, ttl_ns FROM cache_entries WHERE key = ?`, key,
	).Scan(&e.Key, &tier, &value, &e.StoredAt, &ttlNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get cache entry %s", key)
	}
	e.Tier = model.Volatility(tier)
	e.Value = json.RawMessage(value)
	e.TTL = time.Duration(ttlNs)
	return &e, true, nil
}

func (s *SQLiteStore) PutEntry(ctx context.Context, e model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, tier, value, stored_at, ttl_ns, expires_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET tier = excluded.tier, value = excluded.value,
		   stored_at = excluded.stored_at, ttl_ns = excluded.ttl_ns, expires_at = excluded.expires_at`,
		e.Key, string(e.Tier), string(e.Value), e.StoredAt.UTC(), int64(e.TTL), e.ExpiresAt().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put cache entry %s", e.Key)
}

func (s *SQLiteStore) DeleteExpiredEntries(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired entries")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- Wines ---

func (s *SQLiteStore) PersistWine(ctx context.Context, rec model.WineRecord) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal wine")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO wines (id, request_id, canonical_producer, result, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, nullString(rec.CanonicalProducer), string(resultJSON), rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert wine %s", rec.ID)
}

func (s *SQLiteStore) GetWine(ctx context.Context, id string) (*model.WineRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request_id, COALESCE(canonical_producer, ''), result, created_at FROM wines WHERE id = ?`, id,
	)
	rec, err := scanWine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "wine %s", id)
	}
	return rec, err
}

func (s *SQLiteStore) ListWines(ctx context.Context, filter WineFilter) ([]model.WineRecord, error) {
	query := `SELECT id, request_id, COALESCE(canonical_producer, ''), result, created_at FROM wines WHERE 1=1`
	var args []any

	if filter.CanonicalProducer != "" {
		query += ` AND canonical_producer = ?`
		args = append(args, filter.CanonicalProducer)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list wines")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.WineRecord
	for rows.Next() {
		rec, err := scanWine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list wines iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanWine(row scannable) (*model.WineRecord, error) {
	var (
		rec        model.WineRecord
		resultJSON string
	)
	if err := row.Scan(&rec.ID, &rec.RequestID, &rec.CanonicalProducer, &resultJSON, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan wine")
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal wine")
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
