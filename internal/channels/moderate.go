package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultModerationTimeout = 10 * time.Minute
	defaultMaxPending        = 100
	timeoutModerator         = "timeout"
)

// PendingMessage is a message held for a moderator.
type PendingMessage struct {
	BindingID  string    `json:"binding_id"`
	AgentID    string    `json:"agent_id"`
	Message    Message   `json:"message"`
	Moderators []string  `json:"moderators,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Resolution is the final outcome of a pending message.
type Resolution struct {
	Pending     PendingMessage `json:"pending"`
	Verdict     Verdict        `json:"verdict"`
	ModeratorID string         `json:"moderator_id"`
	TimedOut    bool           `json:"timed_out"`
	ResolvedAt  time.Time      `json:"resolved_at"`
}

// ModerationConfig holds the fallbacks used when a binding leaves them unset.
type ModerationConfig struct {
	Timeout       time.Duration
	DefaultAction Verdict
	MaxPending    int
}

type pendingEntry struct {
	item  PendingMessage
	timer *time.Timer
}

// ModerateHandler queues messages per binding until a moderator approves or
// rejects them. Each message carries a timer that applies the binding's
// default action on expiry; resolving early stops the timer.
type ModerateHandler struct {
	mu      sync.Mutex
	config  ModerationConfig
	pending map[string]map[string]*pendingEntry
	closed  bool

	onQueue   func(PendingMessage)
	onResolve func(Resolution)

	Now func() time.Time
}

// NewModerateHandler builds an empty queue.
func NewModerateHandler(config ModerationConfig) *ModerateHandler {
	if config.Timeout <= 0 {
		config.Timeout = defaultModerationTimeout
	}
	if config.DefaultAction == "" {
		config.DefaultAction = VerdictReject
	}
	if config.MaxPending <= 0 {
		config.MaxPending = defaultMaxPending
	}
	return &ModerateHandler{
		config:  config,
		pending: make(map[string]map[string]*pendingEntry),
		Now:     time.Now,
	}
}

// OnQueue sets the callback run after a message is queued.
func (h *ModerateHandler) OnQueue(fn func(PendingMessage)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onQueue = fn
}

// OnResolve sets the callback run after every resolution, including timeouts.
func (h *ModerateHandler) OnResolve(fn func(Resolution)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onResolve = fn
}

// Handle queues msg for b and arms its timer.
func (h *ModerateHandler) Handle(_ context.Context, b Binding, msg Message) (Decision, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Decision{}, ErrQueueClosed
	}
	queue, ok := h.pending[b.ID]
	if !ok {
		queue = make(map[string]*pendingEntry)
		h.pending[b.ID] = queue
	}
	if _, exists := queue[msg.ID]; exists {
		h.mu.Unlock()
		return drop("message already awaiting moderation"), nil
	}
	if len(queue) >= h.config.MaxPending {
		h.mu.Unlock()
		return drop(fmt.Sprintf("moderation queue full (%d pending)", h.config.MaxPending)), nil
	}

	timeout := time.Duration(b.Policy.ModerationTimeout)
	if timeout <= 0 {
		timeout = h.config.Timeout
	}
	now := h.Now()
	item := PendingMessage{
		BindingID:  b.ID,
		AgentID:    b.AgentID,
		Message:    msg,
		Moderators: append([]string(nil), b.Policy.Moderators...),
		QueuedAt:   now,
		ExpiresAt:  now.Add(timeout),
	}
	verdict := b.Policy.DefaultAction
	if verdict == "" {
		verdict = h.config.DefaultAction
	}
	bindingID, messageID := b.ID, msg.ID
	entry := &pendingEntry{item: item}
	entry.timer = time.AfterFunc(timeout, func() {
		h.expire(bindingID, messageID, entry, verdict)
	})
	queue[msg.ID] = entry
	onQueue := h.onQueue
	h.mu.Unlock()

	if onQueue != nil {
		onQueue(item)
	}
	return Decision{Action: ActionQueue, Reason: fmt.Sprintf("awaiting moderation until %s", item.ExpiresAt.Format(time.RFC3339))}, nil
}

// Approve releases a pending message.
func (h *ModerateHandler) Approve(bindingID, messageID, moderatorID string) (Resolution, error) {
	return h.decide(bindingID, messageID, moderatorID, VerdictApprove)
}

// Reject discards a pending message.
func (h *ModerateHandler) Reject(bindingID, messageID, moderatorID string) (Resolution, error) {
	return h.decide(bindingID, messageID, moderatorID, VerdictReject)
}

func (h *ModerateHandler) decide(bindingID, messageID, moderatorID string, verdict Verdict) (Resolution, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return Resolution{}, ErrQueueClosed
	}
	entry, ok := h.pending[bindingID][messageID]
	if !ok {
		h.mu.Unlock()
		return Resolution{}, fmt.Errorf("%w: %s/%s", ErrNotQueued, bindingID, messageID)
	}
	if len(entry.item.Moderators) > 0 && !containsString(entry.item.Moderators, moderatorID) {
		h.mu.Unlock()
		return Resolution{}, fmt.Errorf("%w: %s", ErrForbidden, moderatorID)
	}
	entry.timer.Stop()
	h.removeLocked(bindingID, messageID)
	res := Resolution{
		Pending:     entry.item,
		Verdict:     verdict,
		ModeratorID: moderatorID,
		ResolvedAt:  h.Now(),
	}
	onResolve := h.onResolve
	h.mu.Unlock()

	if onResolve != nil {
		onResolve(res)
	}
	return res, nil
}

func (h *ModerateHandler) expire(bindingID, messageID string, entry *pendingEntry, verdict Verdict) {
	h.mu.Lock()
	current, ok := h.pending[bindingID][messageID]
	if !ok || current != entry {
		h.mu.Unlock()
		return
	}
	h.removeLocked(bindingID, messageID)
	res := Resolution{
		Pending:     entry.item,
		Verdict:     verdict,
		ModeratorID: timeoutModerator,
		TimedOut:    true,
		ResolvedAt:  h.Now(),
	}
	onResolve := h.onResolve
	h.mu.Unlock()

	if onResolve != nil {
		onResolve(res)
	}
}

func (h *ModerateHandler) removeLocked(bindingID, messageID string) {
	queue := h.pending[bindingID]
	delete(queue, messageID)
	if len(queue) == 0 {
		delete(h.pending, bindingID)
	}
}

// ListPending returns queued messages, oldest first. An empty bindingID lists
// every binding.
func (h *ModerateHandler) ListPending(bindingID string) []PendingMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]PendingMessage, 0)
	for id, queue := range h.pending {
		if bindingID != "" && id != bindingID {
			continue
		}
		for _, entry := range queue {
			out = append(out, entry.item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].Message.ID < out[j].Message.ID
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// PendingCount returns the queue length for one binding.
func (h *ModerateHandler) PendingCount(bindingID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending[bindingID])
}

// DropBinding discards every message queued for bindingID without resolving
// them and returns how many were dropped.
func (h *ModerateHandler) DropBinding(bindingID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	queue := h.pending[bindingID]
	for _, entry := range queue {
		entry.timer.Stop()
	}
	delete(h.pending, bindingID)
	return len(queue)
}

// Close stops every timer and refuses further messages.
func (h *ModerateHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, queue := range h.pending {
		for _, entry := range queue {
			entry.timer.Stop()
		}
	}
	h.pending = make(map[string]map[string]*pendingEntry)
	h.closed = true
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
