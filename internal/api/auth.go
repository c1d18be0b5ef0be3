package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/admin"
	"github.com/samhotchkiss/openclaw-hub/internal/middleware"
)

// AuthHandler serves admin login, logout and admin management.
type AuthHandler struct {
	Admin *admin.Manager
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Admin     admin.Admin `json:"admin"`
}

// Login opens an admin session.
// POST /api/admin/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "username and password are required"})
		return
	}

	session, err := h.Admin.Authenticate(req.Username, req.Password, requestIP(r))
	if err != nil {
		sendError(w, err)
		return
	}
	a, err := h.Admin.Get(session.AdminID)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, LoginResponse{Token: session.Token, ExpiresAt: session.ExpiresAt, Admin: a})
}

// Logout ends the calling session.
// POST /api/admin/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Admin.Logout(middleware.SessionTokenFromContext(r.Context())); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, okResponse{OK: true})
}

// Me returns the calling admin.
// GET /api/admin/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	a, ok := middleware.AdminFromContext(r.Context())
	if !ok {
		sendJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing session"})
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"admin":    a,
		"sessions": len(h.Admin.ActiveSessions(a.ID)),
	})
}

// ListAdmins returns every admin account.
// GET /api/admin/admins
func (h *AuthHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins := h.Admin.List()
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"admins": admins,
		"total":  len(admins),
	})
}

// CreateAdmin registers another admin. Only super admins may mint super
// admins.
// POST /api/admin/admins
func (h *AuthHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var input admin.CreateAdminInput
	if !decodeJSON(w, r, &input) {
		return
	}
	caller, _ := middleware.AdminFromContext(r.Context())
	if input.Role == admin.RoleSuperAdmin && caller.Role != admin.RoleSuperAdmin {
		sendJSON(w, http.StatusForbidden, errorResponse{Error: "only super admins can create super admins"})
		return
	}
	created, err := h.Admin.CreateAdmin(input)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, created)
}

// DeactivateAdmin disables an admin and ends its sessions.
// POST /api/admin/admins/{id}/deactivate
func (h *AuthHandler) DeactivateAdmin(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	caller, _ := middleware.AdminFromContext(r.Context())
	if id == caller.ID {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "cannot deactivate yourself"})
		return
	}
	if err := h.Admin.Deactivate(id); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, okResponse{OK: true})
}

type permissionRequest struct {
	Permission admin.Permission `json:"permission"`
}

// GrantPermission adds an explicit permission to an admin.
// POST /api/admin/admins/{id}/permissions
func (h *AuthHandler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(string(req.Permission)) == "" {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "permission is required"})
		return
	}
	updated, err := h.Admin.Grant(urlParam(r, "id"), req.Permission)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// RevokePermission removes an explicit permission.
// DELETE /api/admin/admins/{id}/permissions/{permission}
func (h *AuthHandler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	updated, err := h.Admin.Revoke(urlParam(r, "id"), admin.Permission(urlParam(r, "permission")))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

func requestIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}
