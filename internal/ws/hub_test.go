package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/approval"
	"github.com/samhotchkiss/openclaw-hub/internal/channels"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func mustReceiveMessage(t *testing.T, ch <-chan []byte, timeout time.Duration) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for websocket payload")
		return nil
	}
}

func mustNotReceiveMessage(t *testing.T, ch <-chan []byte, timeout time.Duration) {
	t.Helper()
	select {
	case payload := <-ch:
		t.Fatalf("expected no payload, got %q", string(payload))
	case <-time.After(timeout):
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func TestHubBroadcastFiltersByTopic(t *testing.T) {
	hub := startHub(t)

	approvals := NewClient(hub, nil)
	approvals.SubscribeTopic(TopicApprovals)
	messages := NewClient(hub, nil)
	messages.SubscribeTopic(TopicMessages)
	everything := NewClient(hub, nil)
	everything.SubscribeTopic(TopicAll)

	hub.Register(approvals)
	hub.Register(messages)
	hub.Register(everything)

	hub.Broadcast([]byte("approval-update"), TopicApprovals)
	require.Equal(t, "approval-update", string(mustReceiveMessage(t, approvals.Send, 200*time.Millisecond)))
	require.Equal(t, "approval-update", string(mustReceiveMessage(t, everything.Send, 200*time.Millisecond)))
	mustNotReceiveMessage(t, messages.Send, 80*time.Millisecond)

	hub.Broadcast([]byte("agent-update"), TopicModeration, AgentTopic("nova"))
	mustNotReceiveMessage(t, approvals.Send, 80*time.Millisecond)
	messages.SubscribeTopic(AgentTopic("nova"))
	hub.Broadcast([]byte("agent-update-2"), TopicModeration, AgentTopic("nova"))
	require.Equal(t, "agent-update-2", string(mustReceiveMessage(t, messages.Send, 200*time.Millisecond)))
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := startHub(t)

	client := NewClient(hub, nil)
	client.SubscribeTopic(TopicApprovals)
	hub.Register(client)

	client.UnsubscribeTopic(TopicApprovals)
	require.False(t, client.IsSubscribedToTopic(TopicApprovals))
	hub.Broadcast([]byte("x"), TopicApprovals)
	mustNotReceiveMessage(t, client.Send, 80*time.Millisecond)
}

func TestHubRunStopsAndClosesClients(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	client := NewClient(hub, nil)
	hub.Register(client)
	cancel()
	require.NoError(t, <-done)

	_, open := <-client.Send
	require.False(t, open)

	// Calls after shutdown must not block.
	hub.Broadcast([]byte("late"), TopicAll)
	hub.Unregister(client)
}

func TestApprovalListenerPublishesEnvelope(t *testing.T) {
	hub := startHub(t)

	client := NewClient(hub, nil)
	client.SubscribeTopic(AgentTopic("root"))
	hub.Register(client)

	ApprovalListener(hub)(approval.Event{
		Kind:    approval.EventCreated,
		Request: approval.Request{ID: "req-1", RequesterID: "nova", Approvers: []string{"root"}},
	})

	var evt struct {
		Type  EventType        `json:"type"`
		Topic string           `json:"topic"`
		Data  approval.Request `json:"data"`
	}
	require.NoError(t, json.Unmarshal(mustReceiveMessage(t, client.Send, 200*time.Millisecond), &evt))
	require.Equal(t, EventApprovalCreated, evt.Type)
	require.Equal(t, TopicApprovals, evt.Topic)
	require.Equal(t, "req-1", evt.Data.ID)
}

func TestChannelListenerPublishesRoutingAndModeration(t *testing.T) {
	hub := startHub(t)

	client := NewClient(hub, nil)
	client.SubscribeTopic(TopicAll)
	hub.Register(client)

	listener := ChannelListener(hub)
	listener(channels.Event{Kind: channels.EventMessageRouted})
	listener(channels.Event{
		Kind:     channels.EventMessageRouted,
		Message:  &channels.Message{ID: "m1", Channel: "slack", SenderID: "u1", Text: "hi"},
		Decision: &channels.Decision{Action: channels.ActionDeliver, AgentID: "nova"},
	})
	listener(channels.Event{
		Kind:    channels.EventModerationQueued,
		Pending: &channels.PendingMessage{BindingID: "b1", AgentID: "nova"},
	})

	var routed, queued Event
	require.NoError(t, json.Unmarshal(mustReceiveMessage(t, client.Send, 200*time.Millisecond), &routed))
	require.Equal(t, EventMessageRouted, routed.Type)
	require.NoError(t, json.Unmarshal(mustReceiveMessage(t, client.Send, 200*time.Millisecond), &queued))
	require.Equal(t, EventModerationQueued, queued.Type)
	require.Equal(t, TopicModeration, queued.Topic)
	mustNotReceiveMessage(t, client.Send, 50*time.Millisecond)
}
