package ups

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/upswatch/internal/audit"
	"github.com/jamesprial/upswatch/internal/auth"
	"github.com/jamesprial/upswatch/internal/config"
	"github.com/jamesprial/upswatch/internal/nut"
	"github.com/jamesprial/upswatch/internal/tools"
)

const (
	toolNameUPSStatus    = "ups_status"
	toolNameUPSListUnits = "ups_list_units"

	// ErrListUnits is the client-facing message when listing units fails.
	ErrListUnits = "Error getting UPS list"
)

// StatusSource is what the status surfaces read from. *Monitor implements it.
type StatusSource interface {
	Latest() Snapshot
	Settings() config.Settings
	ListUnits(ctx context.Context, cfg nut.Config) ([]string, error)
}

var _ StatusSource = (*Monitor)(nil)

// StatusResponse is the body of a status read.
type StatusResponse struct {
	Vars Snapshot `json:"vars"`
}

// ListResponse is the body of a unit listing.
type ListResponse struct {
	Result []string `json:"result"`
}

// ListRequest carries ad-hoc connection parameters for a unit listing.
// Empty host and zero port fall back to the current settings.
type ListRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Auth     bool   `json:"auth"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config resolves r against the current settings.
func (r ListRequest) Config(current config.Settings) nut.Config {
	s := config.Settings{
		Host:     r.Host,
		Port:     r.Port,
		Auth:     r.Auth,
		Username: r.Username,
		Password: r.Password,
		Timeout:  current.Timeout,
	}
	if s.Host == "" {
		s.Host = current.Host
	}
	if s.Port == 0 {
		s.Port = current.Port
	}
	return s.NUT()
}

// Status returns the latest snapshot, never nil.
func Status(src StatusSource) StatusResponse {
	vars := src.Latest()
	if vars == nil {
		vars = Snapshot{}
	}
	return StatusResponse{Vars: vars}
}

// UPSTools returns the MCP tool registrations for UPS status. Both tools
// require the viewer role.
func UPSTools(src StatusSource, a *audit.Logger) []tools.Registration {
	return []tools.Registration{
		upsStatus(src, a),
		upsListUnits(src, a),
	}
}

func upsStatus(src StatusSource, a *audit.Logger) tools.Registration {
	tool := mcp.NewTool(toolNameUPSStatus,
		mcp.WithDescription("Return the last polled UPS variables (ups.status, battery.charge, ...). ups.status is OFFLINE while the NUT server is unreachable."),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		params := map[string]any{}

		if denied := tools.Authorize(ctx, auth.RoleViewer); denied != nil {
			tools.LogAudit(ctx, a, toolNameUPSStatus, params, "denied", start)
			return denied, nil
		}

		tools.LogAudit(ctx, a, toolNameUPSStatus, params, "ok", start)
		return tools.JSONResult(Status(src)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func upsListUnits(src StatusSource, a *audit.Logger) tools.Registration {
	tool := mcp.NewTool(toolNameUPSListUnits,
		mcp.WithDescription("List the UPS units a NUT server exposes, using a one-off connection. Defaults to the configured server."),
		mcp.WithString("host",
			mcp.Description("NUT server host (default: configured host)"),
		),
		mcp.WithNumber("port",
			mcp.Description("NUT server port (default: configured port)"),
		),
		mcp.WithBoolean("auth",
			mcp.Description("Send username and password"),
		),
		mcp.WithString("username",
			mcp.Description("NUT username, used when auth is true"),
		),
		mcp.WithString("password",
			mcp.Description("NUT password, used when auth is true"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		lr := ListRequest{
			Host:     req.GetString("host", ""),
			Port:     req.GetInt("port", 0),
			Auth:     req.GetBool("auth", false),
			Username: req.GetString("username", ""),
			Password: req.GetString("password", ""),
		}
		params := map[string]any{"host": lr.Host, "port": lr.Port, "auth": lr.Auth}

		if denied := tools.Authorize(ctx, auth.RoleViewer); denied != nil {
			tools.LogAudit(ctx, a, toolNameUPSListUnits, params, "denied", start)
			return denied, nil
		}

		names, err := src.ListUnits(ctx, lr.Config(src.Settings()))
		if err != nil {
			tools.LogAudit(ctx, a, toolNameUPSListUnits, params, "error: "+err.Error(), start)
			return tools.ErrorResult(ErrListUnits), nil
		}

		tools.LogAudit(ctx, a, toolNameUPSListUnits, params, "ok", start)
		return tools.JSONResult(ListResponse{Result: names}), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
