package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mlog-app/mlog-store/internal/kv"
)

// DefaultListLimit caps record-list output when no limit is given.
const DefaultListLimit = 50

type handler = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// RecordGetHandler returns the MCP tool handler for the "record-get" tool.
func RecordGetHandler(store kv.KV) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		v, err := store.Get(ctx, key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if v == nil {
			return mcp.NewToolResultText(fmt.Sprintf("No record at %q.", key)), nil
		}
		return mcp.NewToolResultText(indent(v)), nil
	}
}

// RecordListHandler returns the MCP tool handler for the "record-list" tool.
func RecordListHandler(store kv.KV) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prefix := req.GetString("prefix", "")
		limit := req.GetInt("limit", DefaultListLimit)
		if limit <= 0 {
			limit = DefaultListLimit
		}
		entries, err := store.Scan(ctx, prefix)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatEntries(prefix, entries, limit)), nil
	}
}

// RecordSetHandler returns the MCP tool handler for the "record-set" tool.
func RecordSetHandler(store kv.KV) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := store.Set(ctx, key, json.RawMessage(value)); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Stored %q.", key)), nil
	}
}

// RecordDeleteHandler returns the MCP tool handler for the "record-delete" tool.
func RecordDeleteHandler(store kv.KV) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := store.Delete(ctx, key); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Deleted %q.", key)), nil
	}
}

func indent(v json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, v, "", "  "); err != nil {
		return string(v)
	}
	return buf.String()
}

// formatEntries renders one "key: value" line per record.
func formatEntries(prefix string, entries []kv.Entry, limit int) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No records under %q.", prefix)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d records under %q", len(entries), prefix)
	if len(entries) > limit {
		fmt.Fprintf(&sb, " (showing %d)", limit)
		entries = entries[:limit]
	}
	sb.WriteString("\n\n")
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.Key)
		sb.WriteString(": ")
		sb.Write(e.Value)
		sb.WriteString("\n")
	}
	return sb.String()
}
