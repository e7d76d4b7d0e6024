package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/markd/internal/backend"
	"github.com/kalambet/markd/internal/rpc"
	"github.com/kalambet/markd/internal/transport/ws"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Host is the backend surface the HTTP layer serves.
type Host interface {
	rpc.Submitter
	Call(ctx context.Context, req rpc.Request) rpc.Response
	State() backend.State
	Router() *rpc.Router
}

type Deps struct {
	Host   Host
	Token  string
	Logger *slog.Logger
}

// NewHandler returns the markd HTTP API. Everything except /health requires
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/rpc", ws.Handler(deps.Host, deps.Logger))
		r.Post("/rpc", handleRPC(deps))
		r.Get("/routes", handleRoutes(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := deps.Host.State()
		code := http.StatusOK
		status := "ok"
		if state == backend.Degraded {
			code = http.StatusServiceUnavailable
			status = "degraded"
		}
		writeJSON(w, code, map[string]string{"status": status, "database": state.String()})
	}
}

func handleRPC(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req rpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Route == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "route is required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		writeJSON(w, http.StatusOK, deps.Host.Call(r.Context(), req))
	}
}

func handleRoutes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		router := deps.Host.Router()
		if router == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable_error", "database %s", deps.Host.State())
			return
		}
		writeJSON(w, http.StatusOK, router.Routes())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
