// Package kv implements the prefix-indexed record store: opaque JSON documents
// addressed by caller-chosen hierarchical string keys.
//
// Callers depend on the KV interface. Store implements it on top of any Backend
// (bbolt, memory, LevelDB, Redis, PostgreSQL or the kv-server daemon) and owns
// key validation, value normalisation and error classification.
package kv

import (
	"context"
	"encoding/json"
)

// Entry is one stored record.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// KV defines the record store contract.
// A nil value from Get or GetMany means the key does not exist.
// Implementations must be safe for concurrent use by multiple goroutines.
type KV interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	GetMany(ctx context.Context, keys []string) ([]json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	SetMany(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	GetByPrefix(ctx context.Context, prefix string) ([]json.RawMessage, error)
	Scan(ctx context.Context, prefix string) ([]Entry, error)
}

// Backend is a storage medium. Backends see keys and values that Store has
// already validated and report medium failures as plain errors.
//
// Get returns a nil slice for a missing key. GetMany returns one slot per key.
// PutMany and DeleteMany need not be atomic. Scan returns every record whose key
// starts with prefix.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	PutMany(ctx context.Context, entries []Entry) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}
