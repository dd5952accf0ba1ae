package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"mediagate/internal/auth"
	"mediagate/internal/blob"
	"mediagate/internal/observability/metrics"
	"mediagate/internal/queue"
	"mediagate/internal/storage"
)

// DefaultMaxUploadBytes caps multipart upload payloads when no limit is
// configured.
const DefaultMaxUploadBytes = 2 << 30

// Handler owns every HTTP endpoint of the gateway. All backend handles are
// constructed once at startup and passed in; nothing is ambient state.
type Handler struct {
	Store          storage.Repository
	Tokens         *auth.TokenService
	Videos         blob.Backend
	Tracks         blob.Backend
	Jobs           queue.Publisher
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// NewHandler wires the gateway endpoints to their backends.
func NewHandler(store storage.Repository, tokens *auth.TokenService) *Handler {
	return &Handler{
		Store:   store,
		Tokens:  tokens,
		Metrics: metrics.Default(),
		Logger:  slog.Default(),
	}
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics == nil {
		h.Metrics = metrics.Default()
	}
	return h.Metrics
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	return h.Logger
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}

// unauthorized counts the attempt and writes the 401 response. The sentinel
// error texts are stable and carry no backend detail, so they are safe to
// echo to the client.
func (h *Handler) unauthorized(w http.ResponseWriter, err error) {
	h.recorder().ObserveUnauthorized()
	writeError(w, http.StatusUnauthorized, err)
}

// requireAdmin enforces the gate on ingestion and egress: extract the bearer
// token, validate it, then check the admin claim. Any failure short-circuits
// before storage or the queue is touched.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	raw, err := auth.BearerFromRequest(r)
	if err != nil {
		h.unauthorized(w, err)
		return auth.Claims{}, false
	}
	claims, err := h.Tokens.Validate(raw)
	if err != nil {
		h.unauthorized(w, err)
		return auth.Claims{}, false
	}
	if !claims.Admin {
		h.unauthorized(w, auth.ErrForbidden)
		return auth.Claims{}, false
	}
	return claims, true
}
