// Package mcpvault exposes the rename engine as a single Model Context
// Protocol tool, rename_note, over mark3labs/mcp-go (spec §6.2).
//
// Grounded in the teacher's pkg/mcp/register.go (tool registration
// shape) and pkg/mcp/tools.go's RenameNoteTool handler (argument
// extraction, JSON response marshaling); the handler body is replaced
// end to end with the transactional Coordinator instead of the
// teacher's direct actions.RenameNote call.
package mcpvault

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/atomicobject/vault-rename/pkg/rename"
)

// Response is the JSON payload returned by the rename_note tool.
type Response struct {
	Success       bool              `json:"success"`
	OldPath       string            `json:"old_path,omitempty"`
	NewPath       string            `json:"new_path,omitempty"`
	CorrelationID string            `json:"correlation_id"`
	UpdatedCount  int               `json:"updated_count"`
	Warnings      []string          `json:"warnings,omitempty"`
	ErrorCode     string            `json:"error_code,omitempty"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"transaction_metadata,omitempty"`
}

// Register installs the rename_note tool on s, dispatching to coord.
func Register(s *server.MCPServer, coord *rename.Coordinator) {
	tool := mcp.NewTool("rename_note",
		mcp.WithDescription(`Atomically rename a Markdown note and rewrite every wikilink referencing
it across the vault. Runs as a two-phase transaction: either the note
moves and every referencing link updates, or nothing changes.

Required: old_path (existing note, vault-relative), new_path (desired
note path, vault-relative, must end in .md)
Optional: update_links (default true)`),
		mcp.WithString("old_path", mcp.Required(), mcp.Description("Existing note path, vault-relative")),
		mcp.WithString("new_path", mcp.Required(), mcp.Description("Desired new note path, vault-relative, must end in .md")),
		mcp.WithBoolean("update_links", mcp.Description("Rewrite wikilinks referencing the note (default true)")),
	)
	s.AddTool(tool, renameNoteHandler(coord))
}

func renameNoteHandler(coord *rename.Coordinator) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		oldPath, _ := args["old_path"].(string)
		newPath, _ := args["new_path"].(string)

		if strings.TrimSpace(oldPath) == "" || strings.TrimSpace(newPath) == "" {
			return mcp.NewToolResultError("old_path and new_path are required"), nil
		}

		input := rename.NewInput(oldPath, newPath)
		if v, ok := args["update_links"].(bool); ok {
			input = input.WithUpdateLinks(v)
		}

		out := coord.RenameNote(ctx, input)

		response := Response{
			Success:       out.Success,
			OldPath:       out.OldPath,
			NewPath:       out.NewPath,
			CorrelationID: out.CorrelationID,
			UpdatedCount:  out.UpdatedCount,
			Warnings:      out.Warnings,
			ErrorCode:     string(out.ErrorCode),
			Error:         out.Error,
			Metadata:      out.TransactionMetadata,
		}

		encoded, err := json.Marshal(response)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("error marshaling response: %s", err)), nil
		}

		return mcp.NewToolResultText(string(encoded)), nil
	}
}
