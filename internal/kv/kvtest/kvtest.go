// Package kvtest is a conformance suite for kv backends. Every backend test
// calls Run with a constructor for a fresh, empty backend.
package kvtest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlog-app/mlog-store/internal/kv"
)

// Factory returns an empty backend. The suite closes it.
type Factory func(t *testing.T) kv.Backend

// Run exercises the record store contract against backends made by newBackend.
func Run(t *testing.T, newBackend Factory) {
	open := func(t *testing.T) *kv.Store {
		t.Helper()
		s := kv.NewStore(newBackend(t))
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("ReadAfterWrite", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "musical:1", raw(`{"title":"Phantom"}`)))
		v, err := s.Get(ctx, "musical:1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"title":"Phantom"}`, string(v))
	})

	t.Run("GetMissingIsAbsent", func(t *testing.T) {
		v, err := open(t).Get(context.Background(), "musical:nope")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("SetReplacesWholeValue", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "actor:1", raw(`{"name":"A","age":30}`)))
		require.NoError(t, s.Set(ctx, "actor:1", raw(`{"name":"B"}`)))
		v, err := s.Get(ctx, "actor:1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"B"}`, string(v))
	})

	t.Run("SetIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "actor:1", raw(`{"name":"A"}`)))
		require.NoError(t, s.Set(ctx, "actor:1", raw(`{"name":"A"}`)))
		all, err := s.Scan(ctx, "actor:")
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "actor:1", all[0].Key)
		assert.JSONEq(t, `{"name":"A"}`, string(all[0].Value))
	})

	t.Run("DeleteThenGet", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "review:musical:1:a", raw(`{"rating":5}`)))
		require.NoError(t, s.Delete(ctx, "review:musical:1:a"))
		v, err := s.Get(ctx, "review:musical:1:a")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("DeleteMissingIsNoop", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Delete(context.Background(), "musical:ghost"))
		require.NoError(t, s.DeleteMany(context.Background(), []string{"musical:ghost", "actor:ghost"}))
	})

	t.Run("NullIsNotAbsent", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "user:profile:u1", raw(`null`)))
		v, err := s.Get(ctx, "user:profile:u1")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, "null", string(v))

		vals, err := s.GetMany(ctx, []string{"user:profile:u1", "user:profile:u2"})
		require.NoError(t, err)
		require.Len(t, vals, 2)
		assert.NotNil(t, vals[0])
		assert.Nil(t, vals[1])
	})

	t.Run("PrefixScenario", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "musical:1", raw(`{"title":"Phantom"}`)))
		require.NoError(t, s.Set(ctx, "musical:2", raw(`{"title":"Wicked"}`)))

		vals, err := s.GetByPrefix(ctx, "musical:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"Phantom", "Wicked"}, titles(t, vals))

		v, err := s.Get(ctx, "musical:1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"title":"Phantom"}`, string(v))

		require.NoError(t, s.Delete(ctx, "musical:1"))
		vals, err = s.GetByPrefix(ctx, "musical:")
		require.NoError(t, err)
		assert.Equal(t, []string{"Wicked"}, titles(t, vals))
	})

	t.Run("PrefixMatchesWholeSegment", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "performance:1:a", raw(`{"id":"a"}`)))
		require.NoError(t, s.Set(ctx, "performance:12:b", raw(`{"id":"b"}`)))

		vals, err := s.GetByPrefix(ctx, "performance:2:")
		require.NoError(t, err)
		assert.NotNil(t, vals)
		assert.Empty(t, vals)

		vals, err = s.GetByPrefix(ctx, "performance:1:")
		require.NoError(t, err)
		require.Len(t, vals, 1)
		assert.JSONEq(t, `{"id":"a"}`, string(vals[0]))
	})

	t.Run("PrefixIsExactSet", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		keys := []string{
			"user:watched:u1:a", "user:watched:u1:b", "user:watched:u10:c",
			"user:watched:u2:d", "user:profile:u1", "user:watched:u1",
			"seatview:v1:x", "musical:9",
		}
		rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		for _, k := range keys {
			require.NoError(t, s.Set(ctx, k, raw(fmt.Sprintf(`{"k":%q}`, k))))
		}
		for _, prefix := range []string{"user:watched:u1:", "user:", "user:watched:u1", "seatview:", "nothing:"} {
			entries, err := s.Scan(ctx, prefix)
			require.NoError(t, err)
			var got []string
			for _, e := range entries {
				got = append(got, e.Key)
				assert.JSONEq(t, fmt.Sprintf(`{"k":%q}`, e.Key), string(e.Value))
			}
			assert.ElementsMatch(t, matching(keys, prefix), got, "prefix %q", prefix)
		}
	})

	t.Run("PrefixIsLiteral", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "tag:a*b:1", raw(`1`)))
		require.NoError(t, s.Set(ctx, "tag:axb:2", raw(`2`)))
		require.NoError(t, s.Set(ctx, "tag:a%_[c]?:3", raw(`3`)))
		require.NoError(t, s.Set(ctx, "tag:a%x[c]?:4", raw(`4`)))

		vals, err := s.GetByPrefix(ctx, "tag:a*")
		require.NoError(t, err)
		require.Len(t, vals, 1)
		assert.Equal(t, "1", string(vals[0]))

		vals, err = s.GetByPrefix(ctx, "tag:a%_[c]?")
		require.NoError(t, err)
		require.Len(t, vals, 1)
		assert.Equal(t, "3", string(vals[0]))
	})

	t.Run("EmptyPrefixReturnsEverything", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.SetMany(ctx, []kv.Entry{
			{Key: "a:1", Value: raw(`1`)},
			{Key: "b:1", Value: raw(`2`)},
		}))
		vals, err := s.GetByPrefix(ctx, "")
		require.NoError(t, err)
		assert.Len(t, vals, 2)
	})

	t.Run("UnicodeKeys", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "musical:레미제라블", raw(`{"title":"레미제라블"}`)))
		require.NoError(t, s.Set(ctx, "musical:레베카", raw(`{"title":"레베카"}`)))
		vals, err := s.GetByPrefix(ctx, "musical:레")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"레미제라블", "레베카"}, titles(t, vals))
	})

	t.Run("GetManyKeepsOrder", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.Set(ctx, "actor:1", raw(`{"n":1}`)))
		require.NoError(t, s.Set(ctx, "actor:3", raw(`{"n":3}`)))
		vals, err := s.GetMany(ctx, []string{"actor:3", "actor:2", "actor:1", "actor:3"})
		require.NoError(t, err)
		require.Len(t, vals, 4)
		assert.JSONEq(t, `{"n":3}`, string(vals[0]))
		assert.Nil(t, vals[1])
		assert.JSONEq(t, `{"n":1}`, string(vals[2]))
		assert.JSONEq(t, `{"n":3}`, string(vals[3]))
	})

	t.Run("SetManyLaterDuplicateWins", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.SetMany(ctx, []kv.Entry{
			{Key: "musical:1", Value: raw(`{"v":1}`)},
			{Key: "musical:2", Value: raw(`{"v":2}`)},
			{Key: "musical:1", Value: raw(`{"v":3}`)},
		}))
		vals, err := s.GetMany(ctx, []string{"musical:1", "musical:2"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":3}`, string(vals[0]))
		assert.JSONEq(t, `{"v":2}`, string(vals[1]))
	})

	t.Run("DeleteMany", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.SetMany(ctx, []kv.Entry{
			{Key: "performance:1:a", Value: raw(`1`)},
			{Key: "performance:1:b", Value: raw(`2`)},
			{Key: "performance:2:c", Value: raw(`3`)},
		}))
		require.NoError(t, s.DeleteMany(ctx, []string{"performance:1:a", "performance:1:b", "performance:1:zz"}))
		entries, err := s.Scan(ctx, "performance:")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "performance:2:c", entries[0].Key)
	})

	t.Run("ConcurrentWritesLastWins", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Set(ctx, "musical:hot", raw(fmt.Sprintf(`{"writer":%d}`, i))))
			}(i)
		}
		wg.Wait()
		var got struct{ Writer int }
		found, err := kv.GetJSON(ctx, s, "musical:hot", &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.GreaterOrEqual(t, got.Writer, 0)
		assert.Less(t, got.Writer, writers)
	})
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func titles(t *testing.T, vals []json.RawMessage) []string {
	t.Helper()
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		var doc struct{ Title string }
		require.NoError(t, json.Unmarshal(v, &doc))
		out = append(out, doc.Title)
	}
	sort.Strings(out)
	return out
}

func matching(keys []string, prefix string) []string {
	var out []string
	for _, k := range keys {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out
}
