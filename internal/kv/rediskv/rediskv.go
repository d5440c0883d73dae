// Package rediskv implements kv.Backend on Redis.
//
// Each record is a plain string key under <namespace>rec:. A sorted set at
// <namespace>idx holds every record key with score 0 so prefix scans are
// ZRANGEBYLEX range reads rather than glob matches.
package rediskv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/logger"
)

// DefaultNamespace prefixes every Redis key written by this package.
const DefaultNamespace = "mlog:"

// mgetChunk bounds the number of keys sent in one MGET during a scan.
const mgetChunk = 256

// Client is the subset of go-redis client methods used by Redis.
// Keeping it as an interface enables mocking in tests.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	ZRangeByLex(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Close() error
}

// Options configures the Redis backend.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Redis is a kv.Backend that stores records in a Redis database.
type Redis struct {
	client Client
	ns     string
}

var _ kv.Backend = (*Redis)(nil)

// Dial connects to the Redis server described by opts and verifies the
// connection with PING.
func Dial(ctx context.Context, opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: ping failed: %w", opts.Addr, err)
	}
	logger.Infof("Connected to Redis at %s (db %d)", opts.Addr, opts.DB)
	return New(client, opts.Namespace), nil
}

// New wraps an existing client. An empty namespace selects DefaultNamespace.
func New(client Client, namespace string) *Redis {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Redis{client: client, ns: namespace}
}

func (r *Redis) recordKey(key string) string { return r.ns + "rec:" + key }

func (r *Redis) indexKey() string { return r.ns + "idx" }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Redis) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = r.recordKey(k)
	}
	vals, err := r.client.MGet(ctx, rkeys...).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) != len(keys) {
		return nil, fmt.Errorf("redis: MGET returned %d values for %d keys", len(vals), len(keys))
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		out[i], err = bytesOf(v)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	return r.PutMany(ctx, []kv.Entry{{Key: key, Value: value}})
}

func (r *Redis) PutMany(ctx context.Context, entries []kv.Entry) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		members := make([]redis.Z, 0, len(entries))
		for _, e := range entries {
			p.Set(ctx, r.recordKey(e.Key), []byte(e.Value), 0)
			members = append(members, redis.Z{Member: e.Key})
		}
		p.ZAdd(ctx, r.indexKey(), members...)
		return nil
	})
	return err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.DeleteMany(ctx, []string{key})
}

func (r *Redis) DeleteMany(ctx context.Context, keys []string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		rkeys := make([]string, len(keys))
		members := make([]any, len(keys))
		for i, k := range keys {
			rkeys[i] = r.recordKey(k)
			members[i] = k
		}
		p.Del(ctx, rkeys...)
		p.ZRem(ctx, r.indexKey(), members...)
		return nil
	})
	return err
}

func (r *Redis) Scan(ctx context.Context, prefix string) ([]kv.Entry, error) {
	keys, err := r.client.ZRangeByLex(ctx, r.indexKey(), lexRange(prefix)).Result()
	if err != nil {
		return nil, err
	}

	var out []kv.Entry
	for start := 0; start < len(keys); start += mgetChunk {
		end := min(start+mgetChunk, len(keys))
		vals, err := r.GetMany(ctx, keys[start:end])
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			// Deleted between the index read and the MGET.
			if v == nil {
				continue
			}
			out = append(out, kv.Entry{Key: keys[start+i], Value: v})
		}
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// lexRange selects every index member starting with prefix. UTF-8 never
// contains the byte 0xff, so prefix+"\xff" bounds all such keys from above.
func lexRange(prefix string) *redis.ZRangeBy {
	if prefix == "" {
		return &redis.ZRangeBy{Min: "-", Max: "+"}
	}
	return &redis.ZRangeBy{Min: "[" + prefix, Max: "(" + prefix + "\xff"}
}

func bytesOf(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	default:
		return nil, fmt.Errorf("redis: unexpected MGET reply %T", v)
	}
}
