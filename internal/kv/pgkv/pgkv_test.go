package pgkv

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/kv/kvtest"
)

const testTable = "mlog_records_test"

// newTestPostgres opens the backend against MLOG_TEST_POSTGRES_DSN with an
// empty table. The test is skipped when the variable is not set.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("MLOG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MLOG_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	p, err := Open(ctx, dsn, Options{Table: testTable})
	require.NoError(t, err)
	_, err = p.pool.Exec(ctx, `TRUNCATE `+p.table)
	require.NoError(t, err)
	return p
}

func TestConformance_Integration(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		return newTestPostgres(t)
	})
}

func TestUpsertKeepsSingleRow_Integration(t *testing.T) {
	ctx := context.Background()
	p := newTestPostgres(t)
	defer p.Close()

	require.NoError(t, p.Put(ctx, "profile:u1", []byte(`{"userId":"u1"}`)))
	require.NoError(t, p.Put(ctx, "profile:u1", []byte(`{"userId":"u1","bio":"hi"}`)))

	var n int
	require.NoError(t, p.pool.QueryRow(ctx, `SELECT count(*) FROM `+p.table).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestLikePrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "%"},
		{"musical:", "musical:%"},
		{"50%_off", `50\%\_off%`},
		{`a\b`, `a\\b%`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, likePrefix(tt.prefix), tt.prefix)
	}
}

func TestNulEscapeIsInvalidArgument_Integration(t *testing.T) {
	ctx := context.Background()
	p := newTestPostgres(t)
	s := kv.NewStore(p)
	defer s.Close()

	err := s.Set(ctx, "review:musical:m1:r1", []byte(`{"body":"a\u0000b"}`))
	assert.ErrorIs(t, err, kv.ErrInvalidArgument)
	assert.NotErrorIs(t, err, kv.ErrUnavailable)

	err = s.SetMany(ctx, []kv.Entry{
		{Key: "review:musical:m1:r2", Value: []byte(`{"body":"ok"}`)},
		{Key: "review:musical:m1:r3", Value: []byte(`{"body":"\u0000"}`)},
	})
	assert.ErrorIs(t, err, kv.ErrInvalidArgument)
}

func TestWriteErr(t *testing.T) {
	rejected := writeErr("put", "k", &pgconn.PgError{Code: "22P05", Message: "unsupported Unicode escape sequence"})
	assert.ErrorIs(t, rejected, kv.ErrInvalidArgument)

	down := writeErr("put", "k", &pgconn.PgError{Code: "57P01", Message: "terminating connection"})
	assert.NotErrorIs(t, down, kv.ErrInvalidArgument)

	other := writeErr("put many", "", errors.New("conn closed"))
	assert.EqualError(t, other, "put many: conn closed")

	wrapped := kv.NewStore(failingBackend{err: rejected})
	err := wrapped.Set(context.Background(), "k", []byte(`{}`))
	assert.ErrorIs(t, err, kv.ErrInvalidArgument)
	assert.NotErrorIs(t, err, kv.ErrUnavailable)
}

// failingBackend fails every write with err.
type failingBackend struct {
	kv.Backend
	err error
}

func (f failingBackend) Put(context.Context, string, []byte) error { return f.err }
func (f failingBackend) Close() error                              { return nil }
