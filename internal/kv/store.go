package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxKeyLen is the longest key, in bytes, the store accepts.
const MaxKeyLen = 1024

var (
	errEmptyKey    = errors.New("empty key")
	errKeyTooLong  = errors.New("key too long")
	errKeyEncoding = errors.New("key is not valid UTF-8")
	errKeyNUL      = errors.New("key contains NUL")
	errEmptyValue  = errors.New("empty value")
	errBadJSON     = errors.New("value is not valid JSON")
)

var _ KV = (*Store)(nil)

// Store is the record store. It is safe for concurrent use; concurrent writes
// to the same key race and the last one to complete wins.
type Store struct {
	b Backend
}

// NewStore wraps a storage medium.
func NewStore(b Backend) *Store {
	return &Store{b: b}
}

// Close closes the underlying medium.
func (s *Store) Close() error {
	if s == nil || s.b == nil {
		return nil
	}
	return s.b.Close()
}

// Get returns the value stored under key, or nil if there is none.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if err := checkKey(key); err != nil {
		return nil, invalid("get", key, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, classify("get", key, err)
	}
	v, err := s.b.Get(ctx, key)
	if err != nil {
		return nil, classify("get", key, err)
	}
	if v == nil {
		return nil, nil
	}
	return json.RawMessage(v), nil
}

// GetMany looks up keys in one call. The result has one slot per key, in
// order; missing keys are nil.
func (s *Store) GetMany(ctx context.Context, keys []string) ([]json.RawMessage, error) {
	for _, k := range keys {
		if err := checkKey(k); err != nil {
			return nil, invalid("getMany", k, err)
		}
	}
	out := make([]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, classify("getMany", "", err)
	}
	vals, err := s.b.GetMany(ctx, keys)
	if err != nil {
		return nil, classify("getMany", "", err)
	}
	for i, v := range vals {
		if i < len(out) && v != nil {
			out[i] = json.RawMessage(v)
		}
	}
	return out, nil
}

// Set replaces the value stored under key.
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := checkKey(key); err != nil {
		return invalid("set", key, err)
	}
	v, err := normalize(value)
	if err != nil {
		return invalid("set", key, err)
	}
	if err := ctx.Err(); err != nil {
		return classify("set", key, err)
	}
	return classify("set", key, s.b.Put(ctx, key, v))
}

// SetMany writes every entry as if by independent Set calls. When a key
// repeats, the later entry wins. The whole batch is validated first.
func (s *Store) SetMany(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := make([]Entry, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		if err := checkKey(e.Key); err != nil {
			return invalid("setMany", e.Key, err)
		}
		v, err := normalize(e.Value)
		if err != nil {
			return invalid("setMany", e.Key, err)
		}
		if i, ok := seen[e.Key]; ok {
			batch[i].Value = v
			continue
		}
		seen[e.Key] = len(batch)
		batch = append(batch, Entry{Key: e.Key, Value: v})
	}
	if err := ctx.Err(); err != nil {
		return classify("setMany", "", err)
	}
	return classify("setMany", "", s.b.PutMany(ctx, batch))
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return invalid("delete", key, err)
	}
	if err := ctx.Err(); err != nil {
		return classify("delete", key, err)
	}
	return classify("delete", key, s.b.Delete(ctx, key))
}

// DeleteMany removes every key; missing keys are ignored.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := checkKey(k); err != nil {
			return invalid("deleteMany", k, err)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return classify("deleteMany", "", err)
	}
	return classify("deleteMany", "", s.b.DeleteMany(ctx, keys))
}

// GetByPrefix returns the value of every record whose key starts with prefix.
// The match is byte-wise, not a glob. No match yields an empty slice.
func (s *Store) GetByPrefix(ctx context.Context, prefix string) ([]json.RawMessage, error) {
	entries, err := s.scan(ctx, "getByPrefix", prefix)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out, nil
}

// Scan is GetByPrefix with keys.
func (s *Store) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	return s.scan(ctx, "scan", prefix)
}

func (s *Store) scan(ctx context.Context, op, prefix string) ([]Entry, error) {
	if prefix != "" {
		if err := checkKey(prefix); err != nil {
			return nil, invalid(op, prefix, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(op, prefix, err)
	}
	entries, err := s.b.Scan(ctx, prefix)
	if err != nil {
		return nil, classify(op, prefix, err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		// Postgres LIKE collation and Redis lex ranges are re-checked byte-wise.
		if !strings.HasPrefix(e.Key, prefix) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// GetJSON decodes the value under key into v. It reports whether the key exists.
func GetJSON(ctx context.Context, s KV, key string, v any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key. Values encoding/json cannot
// represent fail with ErrInvalidArgument.
func SetJSON(ctx context.Context, s KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return invalid("set", key, err)
	}
	return s.Set(ctx, key, raw)
}

func checkKey(key string) error {
	switch {
	case key == "":
		return errEmptyKey
	case len(key) > MaxKeyLen:
		return errKeyTooLong
	case !utf8.ValidString(key):
		return errKeyEncoding
	case strings.IndexByte(key, 0) >= 0:
		return errKeyNUL
	}
	return nil
}

func normalize(value json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(value)) == 0 {
		return nil, errEmptyValue
	}
	if !json.Valid(value) {
		return nil, errBadJSON
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return nil, errBadJSON
	}
	return buf.Bytes(), nil
}
