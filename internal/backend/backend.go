// Package backend opens the record store medium named by the configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mlog-app/mlog-store/internal/config"
	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/kv/leveldbkv"
	"github.com/mlog-app/mlog-store/internal/kv/pgkv"
	"github.com/mlog-app/mlog-store/internal/kv/rediskv"
	"github.com/mlog-app/mlog-store/internal/logger"
)

// OpenBackend returns the raw medium for cfg.
func OpenBackend(ctx context.Context, cfg config.Store) (kv.Backend, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		return kv.OpenBolt(cfg.Path, kv.BoltOptions{Bucket: cfg.Bucket, Timeout: cfg.Timeout})
	case config.BackendMemory:
		logger.Warnf("Using the in-memory store; records are lost on exit")
		return kv.NewMemory(), nil
	case config.BackendLevelDB:
		return leveldbkv.Open(cfg.Path)
	case config.BackendRedis:
		return rediskv.Dial(ctx, rediskv.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Redis.Namespace,
		})
	case config.BackendPostgres:
		return pgkv.Open(ctx, cfg.Postgres.DSN, pgkv.Options{
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
	case config.BackendRemote:
		return kv.NewClient(cfg.Socket), nil
	default:
		return nil, fmt.Errorf("backend: unknown kind %q", cfg.Backend)
	}
}

// Open returns a Store over the configured medium. When cfg.Metrics is set and
// reg is not nil, every backend call is counted and timed on reg.
func Open(ctx context.Context, cfg config.Store, reg prometheus.Registerer) (*kv.Store, error) {
	b, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	if cfg.Metrics && reg != nil {
		b = kv.Instrument(b, kv.NewMetrics(reg))
	}
	logger.Infof("Record store ready (backend %s)", cfg.Backend)
	return kv.NewStore(b), nil
}
