// Package api serves the REST and push surface of upswatch.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jamesprial/upswatch/internal/audit"
	"github.com/jamesprial/upswatch/internal/auth"
	"github.com/jamesprial/upswatch/internal/config"
	"github.com/jamesprial/upswatch/internal/pause"
	"github.com/jamesprial/upswatch/internal/ups"
)

const (
	pathStatus   = "/api/v1/ups"
	pathList     = "/api/v1/ups/list"
	pathStream   = "/api/v1/ups/stream"
	pathSettings = "/api/v1/settings"
	pathScripts  = "/api/v1/scripts/"

	maxBodyBytes = 1 << 16
)

// SettingsService reads and updates the runtime settings.
type SettingsService interface {
	Settings() config.Settings
	UpdateSettings(u config.SettingsUpdate) (config.Settings, error)
}

// ScriptHooks answers the job runner's pause and resume hooks.
type ScriptHooks interface {
	ScriptContext(name string) (pause.ScriptContext, bool)
}

// Handler provides the upswatch HTTP endpoints.
type Handler struct {
	status   ups.StatusSource
	settings SettingsService
	scripts  ScriptHooks
	stream   http.Handler
	audit    *audit.Logger
	logger   *zap.SugaredLogger
}

// NewHandler constructs a handler. stream and a may be nil.
func NewHandler(status ups.StatusSource, settings SettingsService, scripts ScriptHooks, stream http.Handler, a *audit.Logger, logger *zap.SugaredLogger) (*Handler, error) {
	if status == nil {
		return nil, errors.New("api handler: nil status source")
	}
	if settings == nil {
		return nil, errors.New("api handler: nil settings service")
	}
	if scripts == nil {
		return nil, errors.New("api handler: nil script hooks")
	}
	return &Handler{
		status:   status,
		settings: settings,
		scripts:  scripts,
		stream:   stream,
		audit:    a,
		logger:   logger,
	}, nil
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(pathStatus, h.handleStatus)
	mux.HandleFunc(pathList, h.handleList)
	mux.HandleFunc(pathSettings, h.handleSettings)
	mux.HandleFunc(pathScripts, h.handleScript)
	if h.stream != nil {
		mux.Handle(pathStream, h.requireRole(auth.RoleViewer, h.stream))
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !authorize(w, r, auth.RoleViewer) {
		return
	}
	writeJSON(w, http.StatusOK, ups.Status(h.status))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !authorize(w, r, auth.RoleViewer) {
		return
	}

	var req ups.ListRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	names, err := h.status.ListUnits(r.Context(), req.Config(h.status.Settings()))
	if err != nil {
		h.logger.Warnw("listing UPS units failed", "host", req.Host, "error", err)
		http.Error(w, ups.ErrListUnits, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ups.ListResponse{Result: names})
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !authorize(w, r, auth.RoleAdmin) {
			return
		}
		writeJSON(w, http.StatusOK, h.settings.Settings().Redacted())
	case http.MethodPut:
		if !authorize(w, r, auth.RoleAdmin) {
			return
		}
		h.updateSettings(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var u config.SettingsUpdate
	if err := decodeBody(w, r, &u); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	next, err := h.settings.UpdateSettings(u)
	if err != nil {
		h.audit.Record("update_settings", auth.ActorFrom(r.Context()), nil, "error: "+err.Error(), start)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	redactedNext := next.Redacted()
	h.audit.Record("update_settings", auth.ActorFrom(r.Context()), map[string]any{
		"host":           redactedNext.Host,
		"port":           redactedNext.Port,
		"ups":            redactedNext.UPSName,
		"pause":          redactedNext.PauseEnabled,
		"pauseThreshold": redactedNext.PauseThreshold,
	}, "ok", start)
	writeJSON(w, http.StatusOK, redactedNext)
}

func (h *Handler) handleScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, pathScripts)
	if name == "" || strings.Contains(name, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !authorize(w, r, auth.RoleOperator) {
		return
	}

	sc, ok := h.scripts.ScriptContext(name)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (h *Handler) requireRole(role auth.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorize(w, r, role) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorize writes the refusal and returns false when the caller lacks role.
func authorize(w http.ResponseWriter, r *http.Request, role auth.Role) bool {
	err := auth.Require(r.Context(), role)
	if err == nil {
		return true
	}
	status := auth.StatusFor(err)
	msg := "unauthorized"
	if status == http.StatusForbidden {
		msg = auth.InsufficientRights
	}
	http.Error(w, msg, status)
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
