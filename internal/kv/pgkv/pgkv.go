// Package pgkv implements kv.Backend on a PostgreSQL table with a text key
// and a JSONB value. JSONB normalises documents, so object member order and
// whitespace are not preserved across a round trip.
package pgkv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/logger"
)

// DefaultTable is the table used when Options.Table is empty.
const DefaultTable = "mlog_records"

const migration = `
CREATE TABLE IF NOT EXISTS %[1]s (
    key        TEXT        PRIMARY KEY,
    value      JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (key text_pattern_ops);
`

// Options configures the PostgreSQL backend.
type Options struct {
	Table    string
	MaxConns int32
}

// Postgres is a kv.Backend storing records in one table.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

var _ kv.Backend = (*Postgres)(nil)

// Open connects to dsn, verifies the connection and creates the table if
// needed.
func Open(ctx context.Context, dsn string, opts Options) (*Postgres, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	p := &Postgres{pool: pool, table: pgx.Identifier{opts.Table}.Sanitize()}
	index := pgx.Identifier{opts.Table + "_key_prefix_idx"}.Sanitize()
	if _, err := pool.Exec(ctx, fmt.Sprintf(migration, p.table, index)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Infof("Opened PostgreSQL table %s", p.table)
	return p, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM `+p.table+` WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (p *Postgres) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, value FROM `+p.table+` WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("get many: %w", err)
	}
	found := make(map[string][]byte, len(keys))
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		found[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = found[k]
	}
	return out, nil
}

func (p *Postgres) upsert() string {
	return `INSERT INTO ` + p.table + ` (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
}

// SQLSTATE codes for documents JSONB cannot hold, such as a \u0000 escape.
const (
	codeUnsupportedEscape = "22P05"
	codeBadCharacter      = "22021"
)

// writeErr marks values PostgreSQL refuses to store as invalid arguments so
// they are not reported as a storage outage.
func writeErr(op, key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == codeUnsupportedEscape || pgErr.Code == codeBadCharacter) {
		return &kv.Error{Op: op, Key: key, Kind: kv.ErrInvalidArgument, Err: err}
	}
	if key == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	if _, err := p.pool.Exec(ctx, p.upsert(), key, string(value)); err != nil {
		return writeErr("put", key, err)
	}
	return nil
}

// PutMany writes every entry in one transaction.
func (p *Postgres) PutMany(ctx context.Context, entries []kv.Entry) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	q := p.upsert()
	for _, e := range entries {
		batch.Queue(q, e.Key, string(e.Value))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return writeErr("put many", "", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM `+p.table+` WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) DeleteMany(ctx context.Context, keys []string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM `+p.table+` WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("delete many: %w", err)
	}
	return nil
}

func (p *Postgres) Scan(ctx context.Context, prefix string) ([]kv.Entry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, value FROM `+p.table+` WHERE key LIKE $1 ESCAPE '\' ORDER BY key COLLATE "C"`,
		likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []kv.Entry
	for rows.Next() {
		var e kv.Entry
		var value []byte
		if err := rows.Scan(&e.Key, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Value = value
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix turns a literal key prefix into a LIKE pattern.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
