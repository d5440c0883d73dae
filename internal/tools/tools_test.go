package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlog-app/mlog-store/internal/importer"
	"github.com/mlog-app/mlog-store/internal/kv"
)

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func makeCallToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func newStore(t *testing.T) (*kv.Store, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	s := kv.NewStore(mem)
	t.Cleanup(func() { _ = s.Close() })
	return s, mem
}

func TestRecordToolsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	res, err := RecordSetHandler(s)(ctx, makeCallToolRequest(map[string]any{
		"key": "musical:1", "value": `{"title": "Phantom"}`,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError, extractText(t, res))

	res, err = RecordGetHandler(s)(ctx, makeCallToolRequest(map[string]any{"key": "musical:1"}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, res), `"title": "Phantom"`)

	res, err = RecordListHandler(s)(ctx, makeCallToolRequest(map[string]any{"prefix": "musical:"}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, res), `- musical:1: {"title":"Phantom"}`)

	res, err = RecordDeleteHandler(s)(ctx, makeCallToolRequest(map[string]any{"key": "musical:1"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = RecordGetHandler(s)(ctx, makeCallToolRequest(map[string]any{"key": "musical:1"}))
	require.NoError(t, err)
	assert.Equal(t, `No record at "musical:1".`, extractText(t, res))
}

func TestRecordToolErrors(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t)

	res, err := RecordGetHandler(s)(ctx, makeCallToolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = RecordSetHandler(s)(ctx, makeCallToolRequest(map[string]any{"key": "musical:1", "value": "{not json"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, extractText(t, res), "invalid argument")

	require.NoError(t, mem.Close())
	res, err = RecordListHandler(s)(ctx, makeCallToolRequest(map[string]any{"prefix": "actor:"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, extractText(t, res), "unavailable")
}

func TestRecordListLimit(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	for _, k := range []string{"actor:1", "actor:2", "actor:3"} {
		require.NoError(t, s.Set(ctx, k, []byte(`{}`)))
	}
	res, err := RecordListHandler(s)(ctx, makeCallToolRequest(map[string]any{"prefix": "actor:", "limit": 2}))
	require.NoError(t, err)
	text := extractText(t, res)
	assert.Contains(t, text, `3 records under "actor:" (showing 2)`)
	assert.NotContains(t, text, "actor:3")

	res, err = RecordListHandler(s)(ctx, makeCallToolRequest(map[string]any{"prefix": "musical:"}))
	require.NoError(t, err)
	assert.Equal(t, `No records under "musical:".`, extractText(t, res))
}

func TestMusicalImportTool(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<div itemscope itemtype="https://schema.org/TheaterEvent">
			<span itemprop="name">Les Misérables</span>
			<meta itemprop="startDate" content="2024-09-01">
			<meta itemprop="endDate" content="2024-12-31">
		</div>`))
	}))
	defer site.Close()

	s, _ := newStore(t)
	im := importer.New(s, importer.Options{Parallelism: 1})

	res, err := MusicalImportHandler(im)(context.Background(), makeCallToolRequest(map[string]any{
		"urls": site.URL + "/a, ftp://bad",
	}))
	require.NoError(t, err)
	text := extractText(t, res)
	assert.Contains(t, text, "Imported 1 musicals.")
	assert.Contains(t, text, "Les Misérables")
	assert.Contains(t, text, "2024-09-01 to 2024-12-31")
	assert.Contains(t, text, "1 pages failed")

	res, err = MusicalImportHandler(im)(context.Background(), makeCallToolRequest(map[string]any{"urls": " , "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
