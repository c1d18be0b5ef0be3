package channels

import (
	"sync"
	"time"
)

const defaultInboxSize = 200

// Delivery is a message handed to an agent, either to act on or only to observe.
type Delivery struct {
	AgentID     string    `json:"agent_id"`
	BindingID   string    `json:"binding_id"`
	Action      Action    `json:"action"`
	Message     Message   `json:"message"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Inbox keeps the most recent deliveries per agent.
type Inbox struct {
	mu      sync.Mutex
	size    int
	byAgent map[string][]Delivery
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = defaultInboxSize
	}
	return &Inbox{size: size, byAgent: make(map[string][]Delivery)}
}

func (in *Inbox) Push(d Delivery) {
	in.mu.Lock()
	defer in.mu.Unlock()
	items := append(in.byAgent[d.AgentID], d)
	if len(items) > in.size {
		items = append([]Delivery(nil), items[len(items)-in.size:]...)
	}
	in.byAgent[d.AgentID] = items
}

// List returns up to limit deliveries for agentID, newest first.
func (in *Inbox) List(agentID string, limit int) []Delivery {
	in.mu.Lock()
	defer in.mu.Unlock()
	items := in.byAgent[agentID]
	out := make([]Delivery, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Drain removes and returns every delivery for agentID, oldest first.
func (in *Inbox) Drain(agentID string) []Delivery {
	in.mu.Lock()
	defer in.mu.Unlock()
	items := in.byAgent[agentID]
	delete(in.byAgent, agentID)
	if items == nil {
		return []Delivery{}
	}
	return items
}
