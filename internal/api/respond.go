package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samhotchkiss/openclaw-hub/internal/admin"
	"github.com/samhotchkiss/openclaw-hub/internal/approval"
	"github.com/samhotchkiss/openclaw-hub/internal/channels"
	"github.com/samhotchkiss/openclaw-hub/internal/integration"
	"github.com/samhotchkiss/openclaw-hub/internal/onboard"
	"github.com/samhotchkiss/openclaw-hub/internal/org"
	"github.com/samhotchkiss/openclaw-hub/internal/registry"
	"github.com/samhotchkiss/openclaw-hub/internal/workspace"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a bounded JSON body into dst. It writes the error
// response itself and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, integration.ErrUnknownMethod),
		errors.Is(err, onboard.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrValidation),
		errors.Is(err, workspace.ErrInvalidPath),
		errors.Is(err, onboard.ErrInvalidModelRef):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrDuplicate),
		errors.Is(err, integration.ErrPluginExists),
		errors.Is(err, org.ErrInvalidState),
		errors.Is(err, approval.ErrInvalidState),
		errors.Is(err, approval.ErrAlreadyVoted),
		errors.Is(err, channels.ErrNotQueued):
		return http.StatusConflict
	case errors.Is(err, approval.ErrForbidden),
		errors.Is(err, errIdentityMismatch),
		errors.Is(err, integration.ErrPermissionDenied),
		errors.Is(err, channels.ErrForbidden),
		errors.Is(err, admin.ErrInactive):
		return http.StatusForbidden
	case errors.Is(err, admin.ErrInvalidCredentials),
		errors.Is(err, errNoSession),
		errors.Is(err, admin.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, channels.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, integration.ErrNoChannelPlugin),
		errors.Is(err, channels.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	sendJSON(w, status, errorResponse{Error: message})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return value, nil
}

func urlParam(r *http.Request, key string) string {
	return strings.TrimSpace(chi.URLParam(r, key))
}
