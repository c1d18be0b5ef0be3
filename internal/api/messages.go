package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/samhotchkiss/openclaw-hub/internal/channels"
	"github.com/samhotchkiss/openclaw-hub/internal/integration"
)

// ChannelHandler serves bindings, inbound routing, moderation and agent
// inboxes.
type ChannelHandler struct {
	Platform *integration.Platform
}

// ListBindings GET /api/bindings?agent_id=&channel=
func (h *ChannelHandler) ListBindings(w http.ResponseWriter, r *http.Request) {
	bindings := h.Platform.Channels.ListBindings(channels.BindingFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Channel: r.URL.Query().Get("channel"),
	})
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"bindings": bindings,
		"total":    len(bindings),
	})
}

// CreateBinding binds an agent directly.
// POST /api/bindings
func (h *ChannelHandler) CreateBinding(w http.ResponseWriter, r *http.Request) {
	var input channels.BindingInput
	if !decodeJSON(w, r, &input) {
		return
	}
	binding, err := h.Platform.Channels.CreateBinding(input)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusCreated, binding)
}

type bindingRequestBody struct {
	RequesterID string                `json:"requester_id,omitempty"`
	Approvers   []string              `json:"approvers,omitempty"`
	Binding     channels.BindingInput `json:"binding"`
}

// RequestBinding opens a binding_change approval; the binding is created
// once the request is approved.
// POST /api/bindings/requests
func (h *ChannelHandler) RequestBinding(w http.ResponseWriter, r *http.Request) {
	var body bindingRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	requester, err := actingAdmin(r, body.RequesterID)
	if err != nil {
		sendError(w, err)
		return
	}
	req, err := h.Platform.RequestBinding(r.Context(), requester, body.Approvers, body.Binding)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, req)
}

// GetBinding GET /api/bindings/{id}
func (h *ChannelHandler) GetBinding(w http.ResponseWriter, r *http.Request) {
	binding, err := h.Platform.Channels.GetBinding(urlParam(r, "id"))
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, binding)
}

// UpdateBinding PATCH /api/bindings/{id}
func (h *ChannelHandler) UpdateBinding(w http.ResponseWriter, r *http.Request) {
	var update channels.BindingUpdate
	if !decodeJSON(w, r, &update) {
		return
	}
	binding, err := h.Platform.Channels.UpdateBinding(urlParam(r, "id"), update)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, binding)
}

// DeleteBinding DELETE /api/bindings/{id}
func (h *ChannelHandler) DeleteBinding(w http.ResponseWriter, r *http.Request) {
	if err := h.Platform.Channels.DeleteBinding(urlParam(r, "id")); err != nil {
		sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type routeResponse struct {
	MessageID string              `json:"message_id"`
	Decisions []channels.Decision `json:"decisions"`
}

// RouteMessage injects an inbound channel message, for channels without a
// plugin or for testing policies.
// POST /api/messages
func (h *ChannelHandler) RouteMessage(w http.ResponseWriter, r *http.Request) {
	var msg channels.Message
	if !decodeJSON(w, r, &msg) {
		return
	}
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = uuid.NewString()
	}
	decisions, err := h.Platform.Deliver(r.Context(), msg)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, routeResponse{MessageID: msg.ID, Decisions: decisions})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// SendAsAgent replies through every outbound binding of an agent.
// POST /api/agents/{agentID}/send
func (h *ChannelHandler) SendAsAgent(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}
	sent, err := h.Platform.SendAsAgent(r.Context(), urlParam(r, "agentID"), req.Text)
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"sent": sent})
}

// Inbox GET /api/agents/{agentID}/inbox?limit=
func (h *ChannelHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	deliveries := h.Platform.Channels.Inbox().List(urlParam(r, "agentID"), limit)
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
		"total":      len(deliveries),
	})
}

// ListPending GET /api/moderation?binding_id=
func (h *ChannelHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending := h.Platform.Channels.Moderation().ListPending(r.URL.Query().Get("binding_id"))
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"total":   len(pending),
	})
}

type moderationRequest struct {
	ModeratorID string `json:"moderator_id,omitempty"`
}

// ApproveMessage POST /api/moderation/{bindingID}/{messageID}/approve
func (h *ChannelHandler) ApproveMessage(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, true)
}

// RejectMessage POST /api/moderation/{bindingID}/{messageID}/reject
func (h *ChannelHandler) RejectMessage(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, false)
}

func (h *ChannelHandler) moderate(w http.ResponseWriter, r *http.Request, approve bool) {
	var req moderationRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	moderator, err := actingAdmin(r, req.ModeratorID)
	if err != nil {
		sendError(w, err)
		return
	}

	mod := h.Platform.Channels.Moderation()
	var res channels.Resolution
	if approve {
		res, err = mod.Approve(urlParam(r, "bindingID"), urlParam(r, "messageID"), moderator)
	} else {
		res, err = mod.Reject(urlParam(r, "bindingID"), urlParam(r, "messageID"), moderator)
	}
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, res)
}
