package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType names a hub payload.
type EventType string

const (
	EventApprovalCreated    EventType = "ApprovalCreated"
	EventApprovalDecided    EventType = "ApprovalDecided"
	EventApprovalResolved   EventType = "ApprovalResolved"
	EventModerationQueued   EventType = "ModerationQueued"
	EventModerationResolved EventType = "ModerationResolved"
	EventMessageRouted      EventType = "MessageRouted"
)

// Topics clients may subscribe to. Agent scoped events also go to
// "agent:<id>"; "*" receives everything.
const (
	TopicApprovals  = "approvals"
	TopicModeration = "moderation"
	TopicMessages   = "messages"
	TopicAll        = "*"
)

// AgentTopic is the topic carrying one agent's events.
func AgentTopic(agentID string) string {
	return "agent:" + agentID
}

// Event is the JSON envelope sent to clients.
type Event struct {
	Type  EventType `json:"type"`
	Topic string    `json:"topic"`
	Data  any       `json:"data"`
	At    time.Time `json:"at"`
}

// BroadcastMessage packages a payload for every client subscribed to one of
// Topics.
type BroadcastMessage struct {
	Topics  []string
	Payload []byte
}

// Hub manages active clients and topic broadcasts.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan BroadcastMessage
	done       chan struct{}
	stopOnce   sync.Once

	logger *zap.Logger
}

// NewHub builds a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub loop and returns when ctx is cancelled, closing every
// client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			return nil
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(message.Topics) {
					continue
				}
				select {
				case client.Send <- message.Payload:
				default:
					h.logger.Warn("dropping slow websocket client")
					delete(h.clients, client)
					close(client.Send)
				}
			}
		}
	}
}

// Broadcast sends a raw payload to subscribers of any of topics. It returns
// immediately once the hub has stopped.
func (h *Hub) Broadcast(payload []byte, topics ...string) {
	select {
	case h.broadcast <- BroadcastMessage{Topics: topics, Payload: payload}:
	case <-h.done:
	}
}

// Publish wraps data in an Event envelope and broadcasts it to topic plus
// any extra topics.
func (h *Hub) Publish(eventType EventType, topic string, data any, extra ...string) {
	payload, err := json.Marshal(Event{Type: eventType, Topic: topic, Data: data, At: time.Now().UTC()})
	if err != nil {
		h.logger.Warn("failed to encode websocket event", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	h.Broadcast(payload, append([]string{topic}, extra...)...)
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Client represents a websocket connection.
type Client struct {
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan []byte
	mu     sync.RWMutex
	topics map[string]struct{}
}

// NewClient returns a client ready for registration.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan []byte, 256),
		topics: make(map[string]struct{}),
	}
}

// SubscribeTopic adds topic to the client's subscriptions.
func (c *Client) SubscribeTopic(topic string) {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

// UnsubscribeTopic removes topic from the client's subscriptions.
func (c *Client) UnsubscribeTopic(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

// IsSubscribedToTopic reports whether the client subscribed to topic.
func (c *Client) IsSubscribedToTopic(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) wants(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.topics[TopicAll]; ok {
		return true
	}
	for _, topic := range topics {
		if _, ok := c.topics[topic]; ok {
			return true
		}
	}
	return false
}
