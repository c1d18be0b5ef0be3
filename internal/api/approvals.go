package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/approval"
	"github.com/samhotchkiss/openclaw-hub/internal/middleware"
)

// ApprovalHandler serves the approval workflow.
type ApprovalHandler struct {
	Approvals *approval.Manager
}

type createApprovalRequest struct {
	approval.CreateInput
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

type decideApprovalRequest struct {
	ApproverID string `json:"approver_id,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

type cancelApprovalRequest struct {
	RequesterID string `json:"requester_id,omitempty"`
}

var (
	errNoSession        = errors.New("missing admin session")
	errIdentityMismatch = errors.New("acting identity must match the session admin")
)

// actingAdmin returns the username of the session admin. A claimed id from
// the request body is accepted only when it names that same admin.
func actingAdmin(r *http.Request, claimed string) (string, error) {
	a, ok := middleware.AdminFromContext(r.Context())
	if !ok || a.Username == "" {
		return "", errNoSession
	}
	if claimed = strings.TrimSpace(claimed); claimed != "" && claimed != a.Username {
		return "", errIdentityMismatch
	}
	return a.Username, nil
}

// List GET /api/approvals?status=&type=&requester_id=&approver_id=&limit=
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && !approval.IsValidStatus(status) {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid status filter"})
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	requests := h.Approvals.List(approval.Filter{
		Status:      approval.Status(status),
		Type:        approval.Type(q.Get("type")),
		RequesterID: q.Get("requester_id"),
		ApproverID:  q.Get("approver_id"),
		Limit:       limit,
	})
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": requests,
		"total":     len(requests),
	})
}

// Pending lists requests the caller (or ?approver_id=) may still decide.
// GET /api/approvals/pending
func (h *ApprovalHandler) Pending(w http.ResponseWriter, r *http.Request) {
	approver := strings.TrimSpace(r.URL.Query().Get("approver_id"))
	if approver == "" {
		if a, ok := middleware.AdminFromContext(r.Context()); ok {
			approver = a.Username
		}
	}
	requests := h.Approvals.PendingFor(approver)
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"approver_id": approver,
		"approvals":   requests,
		"total":       len(requests),
	})
}

// Create POST /api/approvals
func (h *ApprovalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createApprovalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	input := req.CreateInput
	requester, err := actingAdmin(r, input.RequesterID)
	if err != nil {
		sendError(w, err)
		return
	}
	input.RequesterID = requester
	if req.TTLSeconds > 0 {
		input.TTL = time.Duration(req.TTLSeconds) * time.Second
	}
	created, err := h.Approvals.Create(r.Context(), input)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, created)
}

// Get GET /api/approvals/{id}
func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.Approvals.Get(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, req)
}

// Approve POST /api/approvals/{id}/approve
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.VerdictApprove)
}

// Reject POST /api/approvals/{id}/reject
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.VerdictReject)
}

func (h *ApprovalHandler) decide(w http.ResponseWriter, r *http.Request, verdict approval.Verdict) {
	var req decideApprovalRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	approver, err := actingAdmin(r, req.ApproverID)
	if err != nil {
		sendError(w, err)
		return
	}

	var updated approval.Request
	if verdict == approval.VerdictApprove {
		updated, err = h.Approvals.Approve(r.Context(), urlParam(r, "id"), approver, req.Comment)
	} else {
		updated, err = h.Approvals.Reject(r.Context(), urlParam(r, "id"), approver, req.Comment)
	}
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// Cancel POST /api/approvals/{id}/cancel
func (h *ApprovalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelApprovalRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	requester, err := actingAdmin(r, req.RequesterID)
	if err != nil {
		sendError(w, err)
		return
	}
	updated, err := h.Approvals.Cancel(r.Context(), urlParam(r, "id"), requester)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// Delete removes a resolved request.
// DELETE /api/approvals/{id}
func (h *ApprovalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Approvals.Delete(r.Context(), urlParam(r, "id")); err != nil {
		sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
