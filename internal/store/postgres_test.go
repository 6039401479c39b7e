package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/wine-identify/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS canonical_producers`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsCanonical(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT 1 FROM canonical_producers WHERE name = \$1`).
		WithArgs("ridge").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`SELECT 1 FROM canonical_producers WHERE name = \$1`).
		WithArgs("unknown").
		WillReturnError(pgx.ErrNoRows)

	ok, err := s.IsCanonical(context.Background(), "ridge")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsCanonical(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LookupAlias_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT canonical FROM producer_aliases`).
		WithArgs("ch margaux").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.LookupAlias(context.Background(), "ch margaux")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordCanonical_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(name\) DO UPDATE SET hits = canonical_producers.hits \+ 1`).
		WithArgs("ridge", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordCanonical(context.Background(), "ridge"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Candidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT name, hits FROM canonical_producers`).
		WithArgs(2, 100).
		WillReturnRows(pgxmock.NewRows([]string{"name", "hits"}).
			AddRow("chateau margaux", 9).
			AddRow("ridge", 3))

	cands, err := s.Candidates(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "chateau margaux", cands[0].Name)
	assert.Equal(t, 9, cands[0].Hits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEntry(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT key, tier, value, stored_at, ttl_ns FROM cache_entries`).
		WithArgs("style:ridge").
		WillReturnRows(pgxmock.NewRows([]string{"key", "tier", "value", "stored_at", "ttl_ns"}).
			AddRow("style:ridge", "semi_static", []byte(`{"body":"full"}`), stored, int64(time.Hour)))
	mock.ExpectQuery(`SELECT key, tier, value, stored_at, ttl_ns FROM cache_entries`).
		WithArgs("style:missing").
		WillReturnError(pgx.ErrNoRows)

	e, ok, err := s.GetEntry(context.Background(), "style:ridge")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.VolatilitySemiStatic, e.Tier)
	assert.Equal(t, time.Hour, e.TTL)
	assert.JSONEq(t, `{"body":"full"}`, string(e.Value))

	_, ok, err = s.GetEntry(context.Background(), "style:missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PutEntry_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`ON CONFLICT \(key\)`).
		WithArgs("price:ridge", "price", []byte(`42`), stored, int64(time.Hour), stored.Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutEntry(context.Background(), model.CacheEntry{
		Key: "price:ridge", Tier: model.VolatilityPrice, Value: json.RawMessage(`42`),
		StoredAt: stored, TTL: time.Hour,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM cache_entries WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpiredEntries(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PersistWine(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO wines`).
		WithArgs("wine-1", "req-1", pgxmock.AnyArg(), pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PersistWine(context.Background(), model.WineRecord{
		ID: "wine-1", RequestID: "req-1", CanonicalProducer: "ridge",
		Result:    model.IdentificationResult{Producer: "Ridge", WineName: "Monte Bello"},
		CreatedAt: created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetWine_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM wines WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetWine(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListWines_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM wines WHERE true AND canonical_producer = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("ridge", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "request_id", "canonical_producer", "result", "created_at"}).
			AddRow("wine-1", "req-1", "ridge", []byte(`{"producer":"Ridge","wineName":"Monte Bello","confidence":0.9}`), created))

	wines, err := s.ListWines(context.Background(), WineFilter{CanonicalProducer: "ridge", Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, wines, 1)
	assert.Equal(t, "Monte Bello", wines[0].Result.WineName)
	assert.Equal(t, "ridge", wines[0].CanonicalProducer)
	assert.NoError(t, mock.ExpectationsWereMet())
}
