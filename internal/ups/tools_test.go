package ups

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jamesprial/upswatch/internal/audit"
	"github.com/jamesprial/upswatch/internal/auth"
	"github.com/jamesprial/upswatch/internal/config"
	"github.com/jamesprial/upswatch/internal/nut"
	"github.com/jamesprial/upswatch/internal/tools"
)

type mockSource struct {
	latest    Snapshot
	settings  config.Settings
	listFunc  func(ctx context.Context, cfg nut.Config) ([]string, error)
	listCalls []nut.Config
}

var _ StatusSource = (*mockSource)(nil)

func (m *mockSource) Latest() Snapshot          { return m.latest }
func (m *mockSource) Settings() config.Settings { return m.settings }

func (m *mockSource) ListUnits(ctx context.Context, cfg nut.Config) ([]string, error) {
	m.listCalls = append(m.listCalls, cfg)
	if m.listFunc != nil {
		return m.listFunc(ctx, cfg)
	}
	return nil, nil
}

func newCallToolRequest(t *testing.T, args map[string]any) mcp.CallToolRequest {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func extractResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	if len(result.Content) == 0 {
		t.Fatal("result has no content entries")
	}
	tc, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("first content entry is not TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func findTool(t *testing.T, regs []tools.Registration, name string) tools.Registration {
	t.Helper()
	for _, r := range regs {
		if r.Tool.Name == name {
			return r
		}
	}
	t.Fatalf("tool %q not registered", name)
	return tools.Registration{}
}

func asRole(role auth.Role) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{Role: role, Subject: "tester"})
}

func Test_UPSTools_Registrations(t *testing.T) {
	regs := UPSTools(&mockSource{}, nil)
	if len(regs) != 2 {
		t.Fatalf("UPSTools() returned %d registrations, want 2", len(regs))
	}
	for _, name := range []string{toolNameUPSStatus, toolNameUPSListUnits} {
		r := findTool(t, regs, name)
		if r.Handler == nil {
			t.Errorf("tool %q has nil handler", name)
		}
		if r.Tool.Description == "" {
			t.Errorf("tool %q has empty description", name)
		}
	}
}

func Test_UPSStatus_Handler(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		latest   Snapshot
		wantDeny bool
		wantVars Snapshot
	}{
		{name: "viewer reads snapshot", ctx: asRole(auth.RoleViewer), latest: Snapshot{VarStatus: "OB", VarBatteryCharge: "55"}, wantVars: Snapshot{VarStatus: "OB", VarBatteryCharge: "55"}},
		{name: "no snapshot yet is empty object", ctx: asRole(auth.RoleAdmin), latest: nil, wantVars: Snapshot{}},
		{name: "anonymous is refused", ctx: context.Background(), wantDeny: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			reg := findTool(t, UPSTools(&mockSource{latest: tt.latest}, audit.NewLogger(&buf)), toolNameUPSStatus)

			result, err := reg.Handler(tt.ctx, newCallToolRequest(t, nil))
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			text := extractResultText(t, result)

			if tt.wantDeny {
				if !strings.Contains(text, auth.InsufficientRights) {
					t.Errorf("result = %q, want %q", text, auth.InsufficientRights)
				}
				if !strings.Contains(buf.String(), `"denied"`) {
					t.Errorf("audit = %q, want denied entry", buf.String())
				}
				return
			}

			var resp StatusResponse
			if err := json.Unmarshal([]byte(text), &resp); err != nil {
				t.Fatalf("result is not JSON: %v\n%s", err, text)
			}
			if len(resp.Vars) != len(tt.wantVars) {
				t.Fatalf("vars = %v, want %v", resp.Vars, tt.wantVars)
			}
			for k, v := range tt.wantVars {
				if resp.Vars[k] != v {
					t.Errorf("vars[%s] = %q, want %q", k, resp.Vars[k], v)
				}
			}
			if !strings.Contains(text, `"vars": {`) {
				t.Errorf("vars must serialize as an object, got %s", text)
			}
		})
	}
}

func Test_UPSListUnits_Handler(t *testing.T) {
	current := testSettings()
	current.Host = "configured"
	current.Port = 3493
	current.Timeout = 2 * time.Second

	t.Run("defaults to configured server", func(t *testing.T) {
		src := &mockSource{
			settings: current,
			listFunc: func(context.Context, nut.Config) ([]string, error) { return []string{"a", "b"}, nil },
		}
		reg := findTool(t, UPSTools(src, nil), toolNameUPSListUnits)

		result, err := reg.Handler(asRole(auth.RoleViewer), newCallToolRequest(t, map[string]any{}))
		if err != nil {
			t.Fatalf("handler error: %v", err)
		}

		var resp ListResponse
		if err := json.Unmarshal([]byte(extractResultText(t, result)), &resp); err != nil {
			t.Fatalf("result is not JSON: %v", err)
		}
		if len(resp.Result) != 2 || resp.Result[0] != "a" {
			t.Errorf("Result = %v, want [a b]", resp.Result)
		}
		if len(src.listCalls) != 1 {
			t.Fatalf("ListUnits called %d times, want 1", len(src.listCalls))
		}
		got := src.listCalls[0]
		if got.Host != "configured" || got.Port != 3493 || got.Timeout != 2*time.Second {
			t.Errorf("config = %+v, want configured:3493 with 2s timeout", got)
		}
	})

	t.Run("explicit parameters with auth", func(t *testing.T) {
		src := &mockSource{settings: current}
		reg := findTool(t, UPSTools(src, nil), toolNameUPSListUnits)

		args := map[string]any{"host": "other", "port": float64(4000), "auth": true, "username": "u", "password": "p"}
		if _, err := reg.Handler(asRole(auth.RoleViewer), newCallToolRequest(t, args)); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		got := src.listCalls[0]
		if got.Host != "other" || got.Port != 4000 || got.Username != "u" || got.Password != "p" {
			t.Errorf("config = %+v", got)
		}
	})

	t.Run("credentials dropped without auth", func(t *testing.T) {
		src := &mockSource{settings: current}
		reg := findTool(t, UPSTools(src, nil), toolNameUPSListUnits)

		args := map[string]any{"username": "u", "password": "p"}
		if _, err := reg.Handler(asRole(auth.RoleViewer), newCallToolRequest(t, args)); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if got := src.listCalls[0]; got.Username != "" || got.Password != "" {
			t.Errorf("credentials = (%q, %q), want empty", got.Username, got.Password)
		}
	})

	t.Run("failure returns fixed message", func(t *testing.T) {
		src := &mockSource{
			settings: current,
			listFunc: func(context.Context, nut.Config) ([]string, error) {
				return nil, errors.New("dial tcp: connection refused")
			},
		}
		var buf bytes.Buffer
		reg := findTool(t, UPSTools(src, audit.NewLogger(&buf)), toolNameUPSListUnits)

		result, err := reg.Handler(asRole(auth.RoleViewer), newCallToolRequest(t, nil))
		if err != nil {
			t.Fatalf("handler error: %v", err)
		}
		text := extractResultText(t, result)
		if !strings.Contains(text, ErrListUnits) {
			t.Errorf("result = %q, want %q", text, ErrListUnits)
		}
		if strings.Contains(text, "refused") {
			t.Errorf("result leaks the underlying error: %q", text)
		}
		if !strings.Contains(buf.String(), "connection refused") {
			t.Errorf("audit should record the cause, got %q", buf.String())
		}
	})

	t.Run("anonymous is refused without listing", func(t *testing.T) {
		src := &mockSource{settings: current}
		reg := findTool(t, UPSTools(src, nil), toolNameUPSListUnits)

		result, _ := reg.Handler(context.Background(), newCallToolRequest(t, nil))
		if !strings.Contains(extractResultText(t, result), auth.InsufficientRights) {
			t.Error("expected refusal")
		}
		if len(src.listCalls) != 0 {
			t.Error("ListUnits called for a refused caller")
		}
	})
}

func Test_Status_MonitorSource(t *testing.T) {
	logger, _ := observedLogger()
	m := NewMonitor(NewConnectionManager(nil, logger), &recordingPublisher{}, nil, testSettings(), time.Second, logger)

	if resp := Status(m); resp.Vars == nil || len(resp.Vars) != 0 {
		t.Errorf("Status() before first poll = %v, want empty non-nil", resp.Vars)
	}

	m.State().store(Snapshot{VarStatus: "OL"})
	if resp := Status(m); resp.Vars[VarStatus] != "OL" {
		t.Errorf("Status() = %v, want OL", resp.Vars)
	}
}
