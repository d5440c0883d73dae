package kv_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlog-app/mlog-store/internal/kv"
)

// countingBackend records whether the store reached the medium.
type countingBackend struct {
	*kv.Memory
	calls int
}

func (c *countingBackend) Get(ctx context.Context, key string) ([]byte, error) {
	c.calls++
	return c.Memory.Get(ctx, key)
}

func (c *countingBackend) Put(ctx context.Context, key string, value []byte) error {
	c.calls++
	return c.Memory.Put(ctx, key, value)
}

func (c *countingBackend) PutMany(ctx context.Context, entries []kv.Entry) error {
	c.calls++
	return c.Memory.PutMany(ctx, entries)
}

func (c *countingBackend) Scan(ctx context.Context, prefix string) ([]kv.Entry, error) {
	c.calls++
	return c.Memory.Scan(ctx, prefix)
}

func TestInvalidArgumentsFailBeforeIO(t *testing.T) {
	ctx := context.Background()
	b := &countingBackend{Memory: kv.NewMemory()}
	s := kv.NewStore(b)

	cases := map[string]func() error{
		"empty key": func() error { _, err := s.Get(ctx, ""); return err },
		"nul key":   func() error { return s.Set(ctx, "musical:\x00", json.RawMessage(`{}`)) },
		"long key":  func() error { return s.Delete(ctx, strings.Repeat("k", kv.MaxKeyLen+1)) },
		"bad utf8":  func() error { _, err := s.GetByPrefix(ctx, "musical:\xff"); return err },
		"bad json":  func() error { return s.Set(ctx, "musical:1", json.RawMessage(`{"title":`)) },
		"no value":  func() error { return s.Set(ctx, "musical:1", nil) },
		"batch": func() error {
			return s.SetMany(ctx, []kv.Entry{
				{Key: "musical:1", Value: json.RawMessage(`{}`)},
				{Key: "", Value: json.RawMessage(`{}`)},
			})
		},
		"batch keys":   func() error { _, err := s.GetMany(ctx, []string{"a", ""}); return err },
		"unmarshalable": func() error { return kv.SetJSON(ctx, s, "musical:1", math.NaN()) },
	}
	for name, call := range cases {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.ErrorIs(t, err, kv.ErrInvalidArgument)
			assert.NotErrorIs(t, err, kv.ErrUnavailable)
		})
	}
	assert.Zero(t, b.calls)
}

func TestValuesAreCompacted(t *testing.T) {
	ctx := context.Background()
	s := kv.NewStore(kv.NewMemory())
	require.NoError(t, s.Set(ctx, "musical:1", json.RawMessage("{ \"title\" :\n \"Phantom\" }")))
	v, err := s.Get(ctx, "musical:1")
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Phantom"}`, string(v))
}

func TestEmptyBatchesSkipBackend(t *testing.T) {
	ctx := context.Background()
	b := &countingBackend{Memory: kv.NewMemory()}
	s := kv.NewStore(b)

	vals, err := s.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, vals)
	require.NoError(t, s.SetMany(ctx, nil))
	require.NoError(t, s.DeleteMany(ctx, []string{}))
	assert.Zero(t, b.calls)
}

func TestClosedMediumIsUnavailable(t *testing.T) {
	ctx := context.Background()
	b, err := kv.OpenBolt(filepath.Join(t.TempDir(), "closed.bbolt"), kv.BoltOptions{})
	require.NoError(t, err)
	s := kv.NewStore(b)
	require.NoError(t, s.Set(ctx, "musical:1", json.RawMessage(`{}`)))
	require.NoError(t, b.Close())

	_, err = s.Get(ctx, "musical:1")
	assert.ErrorIs(t, err, kv.ErrUnavailable)

	// A failed scan must not look like an empty result.
	vals, err := s.GetByPrefix(ctx, "musical:")
	assert.ErrorIs(t, err, kv.ErrUnavailable)
	assert.Nil(t, vals)

	var kerr *kv.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "getByPrefix", kerr.Op)
}

func TestUnreachableDaemonIsUnavailable(t *testing.T) {
	s := kv.NewStore(kv.NewClient(filepath.Join(t.TempDir(), "missing.sock")))
	_, err := s.Get(context.Background(), "musical:1")
	assert.ErrorIs(t, err, kv.ErrUnavailable)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := kv.NewStore(kv.NewMemory())

	err := s.Set(ctx, "musical:1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, kv.ErrUnavailable)

	v, err := s.Get(context.Background(), "musical:1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDaemonReportsInvalidArgument(t *testing.T) {
	// The client skips local validation, so the daemon's store must catch it.
	c := kv.NewClient(startDaemon(t, kv.NewMemory()))
	err := c.Put(context.Background(), "", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, kv.ErrInvalidArgument)

	s := kv.NewStore(c)
	_, err = s.Scan(context.Background(), "musical:")
	require.NoError(t, err)
}

func TestGetJSON(t *testing.T) {
	ctx := context.Background()
	s := kv.NewStore(kv.NewMemory())

	type musical struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, kv.SetJSON(ctx, s, "musical:1", musical{ID: "1", Title: "Wicked"}))

	var got musical
	found, err := kv.GetJSON(ctx, s, "musical:1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, musical{ID: "1", Title: "Wicked"}, got)

	found, err = kv.GetJSON(ctx, s, "musical:2", &got)
	require.NoError(t, err)
	assert.False(t, found)

	var wrong []int
	_, err = kv.GetJSON(ctx, s, "musical:1", &wrong)
	require.Error(t, err)
	assert.False(t, errors.Is(err, kv.ErrUnavailable))
}
