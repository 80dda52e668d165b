// Package tools provides shared helper utilities for MCP tool handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jamesprial/upswatch/internal/audit"
	"github.com/jamesprial/upswatch/internal/auth"
)

// JSONResult marshals v to indented JSON and returns an mcp.CallToolResult.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("error marshaling result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// ErrorResult returns an mcp.CallToolResult that describes an error condition.
func ErrorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultText(fmt.Sprintf("error: %s", msg))
}

// Authorize checks that the caller carried by ctx holds at least role. The
// returned result is non-nil when the call must be refused.
func Authorize(ctx context.Context, role auth.Role) *mcp.CallToolResult {
	if err := auth.Require(ctx, role); err != nil {
		return ErrorResult(auth.InsufficientRights)
	}
	return nil
}

// LogAudit logs a tool invocation to the audit logger, silently ignoring a nil
// logger. The actor is taken from the identity on ctx.
func LogAudit(ctx context.Context, a *audit.Logger, toolName string, params map[string]any, result string, start time.Time) {
	a.Record(toolName, auth.ActorFrom(ctx), params, result, start)
}
