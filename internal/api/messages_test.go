package api

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/samhotchkiss/openclaw-hub/internal/channels"
	"github.com/samhotchkiss/openclaw-hub/internal/integration"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	mu   sync.Mutex
	sent []integration.OutboundMessage
}

func (c *recordingChannel) ID() string { return "slack" }

func (c *recordingChannel) Register(api integration.PluginAPI) error {
	return api.RegisterChannel(c)
}

func (c *recordingChannel) Start(ctx context.Context, _ integration.DeliverFunc) error {
	<-ctx.Done()
	return nil
}

func (c *recordingChannel) Send(_ context.Context, msg integration.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) messages() []integration.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]integration.OutboundMessage(nil), c.sent...)
}

type deliveryList struct {
	Deliveries []channels.Delivery `json:"deliveries"`
	Total      int                 `json:"total"`
}

func createBinding(t *testing.T, s *testServer, input channels.BindingInput) channels.Binding {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/bindings", s.root, input)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[channels.Binding](t, rec)
}

func TestOpenBindingDeliversToInbox(t *testing.T) {
	s := newTestServer(t)
	binding := createBinding(t, s, channels.BindingInput{AgentID: "nova", Channel: "slack", Policy: channels.Policy{Type: channels.PolicyOpen}})

	rec := s.do(http.MethodPost, "/api/messages", s.root, channels.Message{Channel: "slack", ChatID: "C1", SenderID: "u1", Text: "hello"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	routed := decodeBody[routeResponse](t, rec)
	require.NotEmpty(t, routed.MessageID)
	require.Len(t, routed.Decisions, 1)
	require.Equal(t, channels.ActionDeliver, routed.Decisions[0].Action)
	require.Equal(t, binding.ID, routed.Decisions[0].BindingID)

	rec = s.do(http.MethodGet, "/api/agents/nova/inbox", s.ops, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decodeBody[deliveryList](t, rec)
	require.Equal(t, 1, inbox.Total)
	require.Equal(t, "hello", inbox.Deliveries[0].Message.Text)
	require.Equal(t, routed.MessageID, inbox.Deliveries[0].Message.ID)

	rec = s.do(http.MethodGet, "/api/agents/nova/inbox?limit=nope", s.ops, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBindingCRUD(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/bindings", s.ops, channels.BindingInput{AgentID: "nova", Channel: "slack"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	binding := createBinding(t, s, channels.BindingInput{AgentID: "nova", Channel: "slack"})
	require.Equal(t, channels.PolicyOpen, binding.Policy.Type)

	rec = s.do(http.MethodPatch, "/api/bindings/"+binding.ID, s.root, map[string]any{"policy": channels.Policy{Type: channels.PolicyMonitor}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, channels.PolicyMonitor, decodeBody[channels.Binding](t, rec).Policy.Type)

	rec = s.do(http.MethodGet, "/api/bindings/"+binding.ID, s.ops, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/api/bindings/"+binding.ID, s.root, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/api/bindings/"+binding.ID, s.ops, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/messages", s.root, channels.Message{Channel: "slack", Text: "no sender"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModeratedMessageFlow(t *testing.T) {
	s := newTestServer(t)
	binding := createBinding(t, s, channels.BindingInput{
		AgentID: "nova",
		Channel: "slack",
		Policy:  channels.Policy{Type: channels.PolicyModerate},
	})

	rec := s.do(http.MethodPost, "/api/messages", s.root, channels.Message{ID: "m1", Channel: "slack", SenderID: "u1", Text: "please review"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, channels.ActionQueue, decodeBody[routeResponse](t, rec).Decisions[0].Action)

	rec = s.do(http.MethodGet, "/api/moderation?binding_id="+binding.ID, s.ops, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[struct {
		Pending []channels.PendingMessage `json:"pending"`
		Total   int                       `json:"total"`
	}](t, rec)
	require.Equal(t, 1, pending.Total)
	require.Equal(t, "m1", pending.Pending[0].Message.ID)

	rec = s.do(http.MethodGet, "/api/agents/nova/inbox", s.ops, nil)
	require.Equal(t, 0, decodeBody[deliveryList](t, rec).Total)

	rec = s.do(http.MethodPost, "/api/moderation/"+binding.ID+"/m1/approve", s.ops, map[string]string{"moderator_id": "root"})
	require.Equal(t, http.StatusForbidden, rec.Code, "moderator must be the session admin")

	rec = s.do(http.MethodPost, "/api/moderation/"+binding.ID+"/m1/approve", s.ops, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[channels.Resolution](t, rec)
	require.Equal(t, channels.VerdictApprove, res.Verdict)
	require.Equal(t, "ops", res.ModeratorID)

	rec = s.do(http.MethodGet, "/api/agents/nova/inbox", s.ops, nil)
	require.Equal(t, 1, decodeBody[deliveryList](t, rec).Total)

	rec = s.do(http.MethodPost, "/api/moderation/"+binding.ID+"/m1/reject", s.ops, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendAsAgentUsesChannelPlugin(t *testing.T) {
	ch := &recordingChannel{}
	s := newTestServer(t, withPlugin(ch))

	rec := s.do(http.MethodPost, "/api/agents/nova/send", s.root, map[string]string{"text": "hi"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	createBinding(t, s, channels.BindingInput{AgentID: "nova", Channel: "slack", ChatID: "C1"})

	rec = s.do(http.MethodPost, "/api/agents/nova/send", s.root, map[string]string{"text": " "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/agents/nova/send", s.root, map[string]string{"text": "status report"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, decodeBody[struct {
		Sent int `json:"sent"`
	}](t, rec).Sent)

	sent := ch.messages()
	require.Len(t, sent, 1)
	require.Equal(t, "C1", sent[0].ChatID)
	require.Equal(t, "nova", sent[0].AgentID)
	require.Equal(t, "status report", sent[0].Text)
}
