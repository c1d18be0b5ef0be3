package api

import (
	"net/http"
	"strings"

	"github.com/samhotchkiss/openclaw-hub/internal/org"
)

// OrgHandler serves organizations, teams, collaborations and mentorships.
type OrgHandler struct {
	Orgs *org.Service
}

// ListOrganizations returns organizations matching the query filter.
// GET /api/orgs?parent_id=&type=&agent_id=
func (h *OrgHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := org.OrganizationFilter{
		Type:    org.OrganizationType(q.Get("type")),
		AgentID: q.Get("agent_id"),
	}
	if q.Has("parent_id") {
		parent := q.Get("parent_id")
		filter.ParentID = &parent
	}
	orgs := h.Orgs.ListOrganizations(filter)
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"orgs":  orgs,
		"total": len(orgs),
	})
}

// CreateOrganization POST /api/orgs
func (h *OrgHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var input org.CreateOrganizationInput
	if !decodeJSON(w, r, &input) {
		return
	}
	created, err := h.Orgs.CreateOrganization(input)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, created)
}

// GetOrganization GET /api/orgs/{id}
func (h *OrgHandler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orgs.GetOrganization(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, o)
}

// UpdateOrganization PATCH /api/orgs/{id}
func (h *OrgHandler) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	var input org.UpdateOrganizationInput
	if !decodeJSON(w, r, &input) {
		return
	}
	updated, err := h.Orgs.UpdateOrganization(urlParam(r, "id"), input)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// DeleteOrganization DELETE /api/orgs/{id}
func (h *OrgHandler) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := h.Orgs.DeleteOrganization(urlParam(r, "id")); err != nil {
		sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddAgent PUT /api/orgs/{id}/agents/{agentID}
func (h *OrgHandler) AddAgent(w http.ResponseWriter, r *http.Request) {
	updated, err := h.Orgs.AddAgent(urlParam(r, "id"), urlParam(r, "agentID"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// RemoveAgent DELETE /api/orgs/{id}/agents/{agentID}
func (h *OrgHandler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	updated, err := h.Orgs.RemoveAgent(urlParam(r, "id"), urlParam(r, "agentID"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, updated)
}

// Tree returns the hierarchy under one organization, or the whole forest
// from /api/orgs/tree.
func (h *OrgHandler) Tree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Orgs.Tree(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"tree": tree})
}

// Ancestors GET /api/orgs/{id}/ancestors
func (h *OrgHandler) Ancestors(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.Orgs.Ancestors(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"orgs": orgs, "total": len(orgs)})
}

// Descendants GET /api/orgs/{id}/descendants
func (h *OrgHandler) Descendants(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.Orgs.Descendants(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"orgs": orgs, "total": len(orgs)})
}

// Path GET /api/orgs/{id}/path
func (h *OrgHandler) Path(w http.ResponseWriter, r *http.Request) {
	path, err := h.Orgs.Path(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"path": path})
}

// Stats GET /api/orgs/{id}/stats
func (h *OrgHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Orgs.Stats(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

// AgentOrganizations GET /api/agents/{agentID}/orgs
func (h *OrgHandler) AgentOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs := h.Orgs.AgentOrganizations(urlParam(r, "agentID"))
	sendJSON(w, http.StatusOK, map[string]interface{}{"orgs": orgs, "total": len(orgs)})
}

// ListTeams GET /api/teams?organization_id=&member_id=
func (h *OrgHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	teams := h.Orgs.ListTeams(org.TeamFilter{
		OrganizationID: r.URL.Query().Get("organization_id"),
		MemberID:       r.URL.Query().Get("member_id"),
	})
	sendJSON(w, http.StatusOK, map[string]interface{}{"teams": teams, "total": len(teams)})
}

// CreateTeam POST /api/teams
func (h *OrgHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var input org.CreateTeamInput
	if !decodeJSON(w, r, &input) {
		return
	}
	team, err := h.Orgs.CreateTeam(input)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, team)
}

// GetTeam GET /api/teams/{id}
func (h *OrgHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.Orgs.GetTeam(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, team)
}

// UpdateTeam PATCH /api/teams/{id}
func (h *OrgHandler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	var input org.UpdateTeamInput
	if !decodeJSON(w, r, &input) {
		return
	}
	team, err := h.Orgs.UpdateTeam(urlParam(r, "id"), input)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, team)
}

// DeleteTeam DELETE /api/teams/{id}
func (h *OrgHandler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	if err := h.Orgs.DeleteTeam(urlParam(r, "id")); err != nil {
		sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddTeamMember PUT /api/teams/{id}/members/{agentID}
func (h *OrgHandler) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	team, err := h.Orgs.AddTeamMember(urlParam(r, "id"), urlParam(r, "agentID"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, team)
}

// RemoveTeamMember DELETE /api/teams/{id}/members/{agentID}
func (h *OrgHandler) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	team, err := h.Orgs.RemoveTeamMember(urlParam(r, "id"), urlParam(r, "agentID"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, team)
}

// SetTeamLeader PUT /api/teams/{id}/leader/{agentID}
func (h *OrgHandler) SetTeamLeader(w http.ResponseWriter, r *http.Request) {
	team, err := h.Orgs.SetTeamLeader(urlParam(r, "id"), urlParam(r, "agentID"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, team)
}

// ListCollaborations GET /api/collaborations?agent_id=&type=&organization_id=
func (h *OrgHandler) ListCollaborations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rels := h.Orgs.ListCollaborations(org.CollaborationFilter{
		AgentID:        q.Get("agent_id"),
		Type:           org.CollaborationType(q.Get("type")),
		OrganizationID: q.Get("organization_id"),
	})
	sendJSON(w, http.StatusOK, map[string]interface{}{"collaborations": rels, "total": len(rels)})
}

// CreateCollaboration POST /api/collaborations
func (h *OrgHandler) CreateCollaboration(w http.ResponseWriter, r *http.Request) {
	var input org.CreateCollaborationInput
	if !decodeJSON(w, r, &input) {
		return
	}
	rel, err := h.Orgs.CreateCollaboration(input)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, rel)
}

// DeleteCollaboration DELETE /api/collaborations/{id}
func (h *OrgHandler) DeleteCollaboration(w http.ResponseWriter, r *http.Request) {
	if err := h.Orgs.DeleteCollaboration(urlParam(r, "id")); err != nil {
		sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Collaborators GET /api/agents/{agentID}/collaborators
func (h *OrgHandler) Collaborators(w http.ResponseWriter, r *http.Request) {
	agents := h.Orgs.Collaborators(urlParam(r, "agentID"))
	sendJSON(w, http.StatusOK, map[string]interface{}{"agents": agents, "total": len(agents)})
}

// CollaborationPath GET /api/collaborations/path?from=&to=&max_depth=
func (h *OrgHandler) CollaborationPath(w http.ResponseWriter, r *http.Request) {
	maxDepth, err := queryInt(r, "max_depth", 0)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	path, err := h.Orgs.FindCollaborationPath(r.URL.Query().Get("from"), r.URL.Query().Get("to"), maxDepth)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"path": path, "hops": len(path) - 1})
}

// ListMentorships GET /api/mentorships?status=&mentor_id=&mentee_id=
func (h *OrgHandler) ListMentorships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rels := h.Orgs.FindMentorships(org.MentorshipFilter{
		MentorID: strings.TrimSpace(q.Get("mentor_id")),
		MenteeID: strings.TrimSpace(q.Get("mentee_id")),
		Status:   org.MentorshipStatus(strings.TrimSpace(q.Get("status"))),
	})
	sendJSON(w, http.StatusOK, map[string]interface{}{"mentorships": rels, "total": len(rels)})
}

// CreateMentorship POST /api/mentorships
func (h *OrgHandler) CreateMentorship(w http.ResponseWriter, r *http.Request) {
	var input org.CreateMentorshipInput
	if !decodeJSON(w, r, &input) {
		return
	}
	rel, err := h.Orgs.CreateMentorship(input)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, rel)
}

// GetMentorship GET /api/mentorships/{id}
func (h *OrgHandler) GetMentorship(w http.ResponseWriter, r *http.Request) {
	rel, err := h.Orgs.GetMentorship(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, rel)
}

type mentorshipProgressRequest struct {
	Progress int    `json:"progress"`
	Notes    string `json:"notes,omitempty"`
}

// UpdateMentorshipProgress POST /api/mentorships/{id}/progress
func (h *OrgHandler) UpdateMentorshipProgress(w http.ResponseWriter, r *http.Request) {
	var req mentorshipProgressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rel, err := h.Orgs.UpdateMentorshipProgress(urlParam(r, "id"), req.Progress, req.Notes)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, rel)
}

type mentorshipStatusRequest struct {
	Status org.MentorshipStatus `json:"status"`
}

// SetMentorshipStatus POST /api/mentorships/{id}/status
func (h *OrgHandler) SetMentorshipStatus(w http.ResponseWriter, r *http.Request) {
	var req mentorshipStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rel, err := h.Orgs.SetMentorshipStatus(urlParam(r, "id"), req.Status)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, rel)
}
