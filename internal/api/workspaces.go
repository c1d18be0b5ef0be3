package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/integration"
	"github.com/samhotchkiss/openclaw-hub/internal/workspace"
)

// WorkspaceHandler serves agent and group workspaces and file access checks.
type WorkspaceHandler struct {
	Platform *integration.Platform
}

// EnsureAgent creates the agent workspace if needed.
// POST /api/workspaces/agents/{agentID}
func (h *WorkspaceHandler) EnsureAgent(w http.ResponseWriter, r *http.Request) {
	dir, created, err := h.Platform.Workspace.EnsureAgent(urlParam(r, "agentID"))
	if err != nil {
		sendError(w, err)
		return
	}
	if created == nil {
		created = []string{}
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"dir": dir, "created": created})
}

// AgentContext renders the agent's bootstrap files into a prompt section.
// GET /api/workspaces/agents/{agentID}/context
func (h *WorkspaceHandler) AgentContext(w http.ResponseWriter, r *http.Request) {
	rendered, files, err := h.Platform.AgentContext(urlParam(r, "agentID"))
	if err != nil {
		sendError(w, err)
		return
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"context": rendered, "files": names})
}

// ListGroups GET /api/workspaces/groups
func (h *WorkspaceHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Platform.Workspace.ListGroupWorkspaces()
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"groups": groups, "total": len(groups)})
}

// CreateGroup POST /api/workspaces/groups
func (h *WorkspaceHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var info workspace.GroupInfo
	if !decodeJSON(w, r, &info) {
		return
	}
	group, err := h.Platform.Workspace.CreateGroupWorkspace(info)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, group)
}

// GetGroup GET /api/workspaces/groups/{groupID}
func (h *WorkspaceHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.Platform.Workspace.LoadGroupWorkspace(urlParam(r, "groupID"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, group)
}

// DeleteGroup DELETE /api/workspaces/groups/{groupID}
func (h *WorkspaceHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Platform.Workspace.DeleteGroupWorkspace(urlParam(r, "groupID")); err != nil {
		sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddGroupMember POST /api/workspaces/groups/{groupID}/members
func (h *WorkspaceHandler) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	var member workspace.GroupMember
	if !decodeJSON(w, r, &member) {
		return
	}
	group, err := h.Platform.Workspace.AddGroupMember(urlParam(r, "groupID"), member)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, group)
}

// RemoveGroupMember DELETE /api/workspaces/groups/{groupID}/members/{memberID}
func (h *WorkspaceHandler) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	group, err := h.Platform.Workspace.RemoveGroupMember(urlParam(r, "groupID"), urlParam(r, "memberID"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, group)
}

type groupDocRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// WriteGroupDoc PUT /api/workspaces/groups/{groupID}/docs
func (h *WorkspaceHandler) WriteGroupDoc(w http.ResponseWriter, r *http.Request) {
	var req groupDocRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	path, err := h.Platform.Workspace.WriteGroupDoc(urlParam(r, "groupID"), req.Name, req.Content)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"path": path})
}

type sedimentRequest struct {
	History []workspace.ChatEntry `json:"history,omitempty"`
}

// Sediment writes a knowledge document from the given history, or from the
// chat history buffered for the group.
// POST /api/workspaces/groups/{groupID}/sediment
func (h *WorkspaceHandler) Sediment(w http.ResponseWriter, r *http.Request) {
	var req sedimentRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	groupID := urlParam(r, "groupID")
	history := req.History
	if len(history) == 0 {
		history = h.Platform.ChatHistory(groupID)
	}
	doc, err := h.Platform.Workspace.Sediment(groupID, history, time.Now().UTC())
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, doc)
}

// ListPolicies GET /api/workspaces/access
func (h *WorkspaceHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.Platform.Access.ListPolicies()
	sendJSON(w, http.StatusOK, map[string]interface{}{"policies": policies, "total": len(policies)})
}

// SetPolicy PUT /api/workspaces/access/{agentID}
func (h *WorkspaceHandler) SetPolicy(w http.ResponseWriter, r *http.Request) {
	var policy workspace.AccessPolicy
	if !decodeJSON(w, r, &policy) {
		return
	}
	policy.AgentID = urlParam(r, "agentID")
	stored, err := h.Platform.Access.SetPolicy(policy)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, stored)
}

// GetPolicy returns the agent's policy; explicit is false when the default
// policy applies.
// GET /api/workspaces/access/{agentID}
func (h *WorkspaceHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, explicit := h.Platform.Access.Policy(urlParam(r, "agentID"))
	sendJSON(w, http.StatusOK, map[string]interface{}{"policy": policy, "explicit": explicit})
}

// RemovePolicy DELETE /api/workspaces/access/{agentID}
func (h *WorkspaceHandler) RemovePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.Platform.Access.RemovePolicy(urlParam(r, "agentID")); err != nil {
		sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckAccess GET /api/workspaces/access/{agentID}/check?path=&operation=
func (h *WorkspaceHandler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "path is required"})
		return
	}
	op, err := workspace.ParseOperation(r.URL.Query().Get("operation"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, h.Platform.Access.CheckAccess(urlParam(r, "agentID"), path, op))
}
