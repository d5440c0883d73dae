package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mlog-app/mlog-store/internal/importer"
)

// MusicalImportHandler returns the MCP tool handler for the "musical-import" tool.
func MusicalImportHandler(im *importer.Importer) handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		raw, err := req.RequireString("urls")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		urls := strings.FieldsFunc(raw, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\n' || r == '\t'
		})
		if len(urls) == 0 {
			return mcp.NewToolResultError("no URLs given"), nil
		}

		res, err := im.Import(ctx, urls...)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatImport(res)), nil
	}
}

func formatImport(res importer.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Imported %d musicals.\n", len(res.Musicals))
	for _, m := range res.Musicals {
		fmt.Fprintf(&sb, "- %s (%s", m.Title, m.Key())
		if m.StartDate != "" {
			fmt.Fprintf(&sb, ", %s to %s", m.StartDate, m.EndDate)
		}
		sb.WriteString(")\n")
	}
	if len(res.Failed) > 0 {
		fmt.Fprintf(&sb, "\n%d pages failed:\n", len(res.Failed))
		for _, f := range res.Failed {
			fmt.Fprintf(&sb, "- %s\n", f.Error())
		}
	}
	return sb.String()
}
