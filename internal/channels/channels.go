// Package channels binds agents to chat channels and decides, per binding
// policy, what happens to each inbound message.
package channels

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/registry"
)

var (
	ErrNotFound     = registry.ErrNotFound
	ErrDuplicate    = registry.ErrDuplicate
	ErrValidation   = registry.ErrValidation
	ErrForbidden    = errors.New("not a moderator for this binding")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrQueueClosed  = errors.New("moderation queue closed")
	ErrNotQueued    = errors.New("message is not awaiting moderation")
	ErrUnknownRoute = errors.New("no handler for policy")
)

// PolicyType selects how a binding treats inbound messages.
type PolicyType string

const (
	PolicyOpen      PolicyType = "open"
	PolicyPrivate   PolicyType = "private"
	PolicyMonitor   PolicyType = "monitor"
	PolicyFilter    PolicyType = "filter"
	PolicyModerate  PolicyType = "moderate"
	PolicyBroadcast PolicyType = "broadcast"
)

// IsValidPolicyType reports whether t names a known policy.
func IsValidPolicyType(t PolicyType) bool {
	switch t {
	case PolicyOpen, PolicyPrivate, PolicyMonitor, PolicyFilter, PolicyModerate, PolicyBroadcast:
		return true
	}
	return false
}

// Action is what the router does with a message for one binding.
type Action string

const (
	ActionDeliver Action = "deliver"
	ActionDrop    Action = "drop"
	ActionObserve Action = "observe"
	ActionQueue   Action = "queue"
)

// Verdict is a moderation outcome.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// Duration is a time.Duration that reads "10m" strings or plain seconds from
// JSON and writes the string form.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		if text == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("invalid duration %q", text)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}

// Policy configures a binding's handler. Only the fields relevant to Type
// are consulted.
type Policy struct {
	Type              PolicyType `json:"type"`
	AllowedSenders    []string   `json:"allowed_senders,omitempty"`
	Keywords          []string   `json:"keywords,omitempty"`
	BlockKeywords     []string   `json:"block_keywords,omitempty"`
	Patterns          []string   `json:"patterns,omitempty"`
	BlockPatterns     []string   `json:"block_patterns,omitempty"`
	ModerationTimeout Duration   `json:"moderation_timeout,omitempty"`
	DefaultAction     Verdict    `json:"default_action,omitempty"`
	Moderators        []string   `json:"moderators,omitempty"`
}

func clonePolicy(p Policy) Policy {
	p.AllowedSenders = append([]string(nil), p.AllowedSenders...)
	p.Keywords = append([]string(nil), p.Keywords...)
	p.BlockKeywords = append([]string(nil), p.BlockKeywords...)
	p.Patterns = append([]string(nil), p.Patterns...)
	p.BlockPatterns = append([]string(nil), p.BlockPatterns...)
	p.Moderators = append([]string(nil), p.Moderators...)
	return p
}

// Binding attaches an agent to a channel account, optionally scoped to one chat.
type Binding struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Channel   string    `json:"channel"`
	AccountID string    `json:"account_id,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	Policy    Policy    `json:"policy"`
	Enabled   bool      `json:"enabled"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b Binding) routeKey() string {
	return b.Channel + "|" + b.AccountID + "|" + b.ChatID + "|" + b.AgentID
}

func (b Binding) matches(msg Message) bool {
	if !b.Enabled || b.Channel != msg.Channel {
		return false
	}
	if b.AccountID != "" && b.AccountID != msg.AccountID {
		return false
	}
	return b.ChatID == "" || b.ChatID == msg.ChatID
}

// Message is one inbound chat message.
type Message struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	AccountID  string    `json:"account_id,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Decision is the routing outcome for one binding.
type Decision struct {
	Action    Action     `json:"action"`
	Reason    string     `json:"reason,omitempty"`
	BindingID string     `json:"binding_id,omitempty"`
	AgentID   string     `json:"agent_id,omitempty"`
	Policy    PolicyType `json:"policy,omitempty"`
}

func deliver(reason string) Decision { return Decision{Action: ActionDeliver, Reason: reason} }
func drop(reason string) Decision    { return Decision{Action: ActionDrop, Reason: reason} }
