package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/kv/kvtest"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, "test:"), mr
}

func TestConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		r, _ := newTestRedis(t)
		return r
	})
}

func TestNamespaceIsApplied(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	defer r.Close()

	require.NoError(t, r.Put(ctx, "musical:1", []byte(`{"title":"Wicked"}`)))

	got, err := mr.Get("test:rec:musical:1")
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Wicked"}`, got)
	members, err := mr.ZMembers("test:idx")
	require.NoError(t, err)
	assert.Equal(t, []string{"musical:1"}, members)
}

func TestDeleteDropsIndexEntry(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	defer r.Close()

	require.NoError(t, r.Put(ctx, "actor:1", []byte(`{}`)))
	require.NoError(t, r.Delete(ctx, "actor:1"))

	assert.False(t, mr.Exists("test:rec:actor:1"))
	members, _ := mr.ZMembers("test:idx")
	assert.Empty(t, members)
}

func TestScanSkipsRecordsDeletedBehindIndex(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	defer r.Close()

	require.NoError(t, r.Put(ctx, "musical:1", []byte(`{}`)))
	require.NoError(t, r.Put(ctx, "musical:2", []byte(`{}`)))
	mr.Del("test:rec:musical:1")

	entries, err := r.Scan(ctx, "musical:")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "musical:2", entries[0].Key)
}

func TestScanSpansMGETChunks(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)
	s := kv.NewStore(r)
	defer s.Close()

	entries := make([]kv.Entry, mgetChunk+3)
	for i := range entries {
		entries[i] = kv.Entry{Key: fmt.Sprintf("seatview:theater-1:%04d", i), Value: json.RawMessage(`1`)}
	}
	require.NoError(t, s.SetMany(ctx, entries))

	got, err := s.GetByPrefix(ctx, "seatview:")
	require.NoError(t, err)
	assert.Len(t, got, len(entries))
}

func TestServerDownIsUnavailable(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	s := kv.NewStore(r)
	defer s.Close()
	mr.Close()

	_, err := s.Get(ctx, "musical:1")
	assert.ErrorIs(t, err, kv.ErrUnavailable)
}

func TestLexRange(t *testing.T) {
	assert.Equal(t, &redis.ZRangeBy{Min: "-", Max: "+"}, lexRange(""))
	assert.Equal(t, &redis.ZRangeBy{Min: "[review:", Max: "(review:\xff"}, lexRange("review:"))
}
