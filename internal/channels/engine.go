package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samhotchkiss/openclaw-hub/internal/metrics"
	"github.com/samhotchkiss/openclaw-hub/internal/ratelimit"
	"github.com/samhotchkiss/openclaw-hub/internal/registry"
	"go.uber.org/zap"
)

// EventKind names a routing notification.
type EventKind string

const (
	EventMessageRouted      EventKind = "message.routed"
	EventModerationQueued   EventKind = "moderation.queued"
	EventModerationResolved EventKind = "moderation.resolved"
)

// Event is delivered to engine listeners.
type Event struct {
	Kind       EventKind       `json:"kind"`
	Message    *Message        `json:"message,omitempty"`
	Decision   *Decision       `json:"decision,omitempty"`
	Pending    *PendingMessage `json:"pending,omitempty"`
	Resolution *Resolution     `json:"resolution,omitempty"`
}

// BindingInput defines a new binding. Enabled defaults to true and an empty
// policy type to open.
type BindingInput struct {
	AgentID   string `json:"agent_id"`
	Channel   string `json:"channel"`
	AccountID string `json:"account_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	Policy    Policy `json:"policy"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// BindingUpdate changes the mutable parts of a binding.
type BindingUpdate struct {
	Policy   *Policy `json:"policy,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

// BindingFilter narrows ListBindings.
type BindingFilter struct {
	AgentID string `json:"agent_id,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// EngineOptions wires the engine's collaborators. Zero values are usable.
type EngineOptions struct {
	Limiter    ratelimit.Limiter
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
	Moderation ModerationConfig
	InboxSize  int
}

// Engine owns bindings and routes inbound messages through policy handlers.
type Engine struct {
	bindings   *registry.Repository[Binding]
	handlers   map[PolicyType]Handler
	handlersMu sync.RWMutex
	moderation *ModerateHandler
	inbox      *Inbox
	limiter    ratelimit.Limiter
	metrics    *metrics.Recorder
	logger     *zap.Logger

	listenersMu sync.RWMutex
	listeners   []func(Event)

	Now func() time.Time
}

// NewEngine builds an engine with the built-in handler for every policy type.
func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	e := &Engine{
		bindings: registry.New(func(b Binding) string { return b.ID }, registry.WithClone(func(b Binding) Binding {
			b.Policy = clonePolicy(b.Policy)
			return b
		})),
		moderation: NewModerateHandler(opts.Moderation),
		inbox:      NewInbox(opts.InboxSize),
		limiter:    limiter,
		metrics:    opts.Metrics,
		logger:     logger,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	e.bindings.AddIndex("route", func(b Binding) []string { return []string{b.routeKey()} })
	e.bindings.AddIndex("agent", func(b Binding) []string { return []string{b.AgentID} })
	e.bindings.AddIndex("channel", func(b Binding) []string { return []string{b.Channel} })

	e.handlers = map[PolicyType]Handler{
		PolicyOpen:      HandlerFunc(openHandler),
		PolicyPrivate:   HandlerFunc(privateHandler),
		PolicyMonitor:   HandlerFunc(monitorHandler),
		PolicyBroadcast: HandlerFunc(broadcastHandler),
		PolicyFilter:    newFilterHandler(),
		PolicyModerate:  e.moderation,
	}

	e.moderation.OnQueue(func(p PendingMessage) {
		e.metrics.ModerationPending(p.BindingID, e.moderation.PendingCount(p.BindingID))
		e.emit(Event{Kind: EventModerationQueued, Pending: &p})
	})
	e.moderation.OnResolve(e.handleResolution)
	return e
}

// RegisterHandler replaces the handler for a policy type.
func (e *Engine) RegisterHandler(policy PolicyType, h Handler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[policy] = h
}

// Subscribe registers a listener called synchronously for every event.
func (e *Engine) Subscribe(fn func(Event)) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) emit(evt Event) {
	e.listenersMu.RLock()
	listeners := append(([]func(Event))(nil), e.listeners...)
	e.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(evt)
	}
}

// Moderation exposes the moderation queue.
func (e *Engine) Moderation() *ModerateHandler {
	return e.moderation
}

// Inbox exposes delivered messages per agent.
func (e *Engine) Inbox() *Inbox {
	return e.inbox
}

// CreateBinding registers a binding. Channel, account, chat and agent
// together must be unique.
func (e *Engine) CreateBinding(input BindingInput) (Binding, error) {
	agentID := strings.TrimSpace(input.AgentID)
	channel := strings.ToLower(strings.TrimSpace(input.Channel))
	if agentID == "" {
		return Binding{}, fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if channel == "" {
		return Binding{}, fmt.Errorf("%w: channel is required", ErrValidation)
	}
	policy := input.Policy
	if policy.Type == "" {
		policy.Type = PolicyOpen
	}
	if err := validatePolicy(policy); err != nil {
		return Binding{}, err
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}
	now := e.Now()
	b := Binding{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Channel:   channel,
		AccountID: strings.TrimSpace(input.AccountID),
		ChatID:    strings.TrimSpace(input.ChatID),
		Policy:    policy,
		Enabled:   enabled,
		Priority:  input.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.bindings.InsertUnique(b, "route"); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Binding{}, fmt.Errorf("%w: agent %s is already bound to %s", ErrDuplicate, agentID, channel)
		}
		return Binding{}, err
	}
	e.logger.Info("binding created",
		zap.String("binding_id", b.ID),
		zap.String("agent_id", agentID),
		zap.String("channel", channel),
		zap.String("policy", string(policy.Type)))
	return b, nil
}

// GetBinding returns one binding.
func (e *Engine) GetBinding(id string) (Binding, error) {
	return e.bindings.Get(id)
}

// ListBindings returns bindings in creation order.
func (e *Engine) ListBindings(filter BindingFilter) []Binding {
	var base []Binding
	switch {
	case filter.AgentID != "":
		base, _ = e.bindings.Lookup("agent", filter.AgentID)
	case filter.Channel != "":
		base, _ = e.bindings.Lookup("channel", strings.ToLower(filter.Channel))
	default:
		return e.bindings.List()
	}
	out := base[:0]
	for _, b := range base {
		if filter.Channel != "" && b.Channel != strings.ToLower(filter.Channel) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// UpdateBinding changes policy, enabled flag or priority.
func (e *Engine) UpdateBinding(id string, update BindingUpdate) (Binding, error) {
	if update.Policy != nil {
		if update.Policy.Type == "" {
			update.Policy.Type = PolicyOpen
		}
		if err := validatePolicy(*update.Policy); err != nil {
			return Binding{}, err
		}
	}
	updated, err := e.bindings.Update(id, func(b *Binding) error {
		if update.Policy != nil {
			b.Policy = clonePolicy(*update.Policy)
		}
		if update.Enabled != nil {
			b.Enabled = *update.Enabled
		}
		if update.Priority != nil {
			b.Priority = *update.Priority
		}
		b.UpdatedAt = e.Now()
		return nil
	})
	if err != nil {
		return Binding{}, err
	}
	if updated.Policy.Type != PolicyModerate || !updated.Enabled {
		if dropped := e.moderation.DropBinding(id); dropped > 0 {
			e.logger.Warn("dropped pending moderation after binding change",
				zap.String("binding_id", id), zap.Int("count", dropped))
			e.metrics.ModerationPending(id, 0)
		}
	}
	return updated, nil
}

// DeleteBinding removes a binding and discards its moderation queue.
func (e *Engine) DeleteBinding(id string) error {
	if _, err := e.bindings.Delete(id); err != nil {
		return err
	}
	if dropped := e.moderation.DropBinding(id); dropped > 0 {
		e.metrics.ModerationPending(id, 0)
	}
	return nil
}

// OutboundTargets lists the enabled bindings an agent may send through.
// Monitor bindings never reply.
func (e *Engine) OutboundTargets(agentID string) []Binding {
	bindings, _ := e.bindings.Lookup("agent", agentID)
	out := bindings[:0]
	for _, b := range bindings {
		if b.Enabled && b.Policy.Type != PolicyMonitor {
			out = append(out, b)
		}
	}
	return out
}

// Route applies every matching binding's policy to msg, highest priority
// first. Bindings with an empty chat scope match every chat.
func (e *Engine) Route(ctx context.Context, msg Message) ([]Decision, error) {
	msg.Channel = strings.ToLower(strings.TrimSpace(msg.Channel))
	msg.SenderID = strings.TrimSpace(msg.SenderID)
	if msg.Channel == "" || msg.SenderID == "" {
		return nil, fmt.Errorf("%w: channel and sender_id are required", ErrValidation)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = e.Now()
	}

	allowed, err := e.limiter.Allow(ctx, msg.Channel+":"+msg.SenderID)
	if err != nil {
		e.logger.Warn("rate limiter failed", zap.Error(err))
	} else if !allowed {
		e.metrics.RateLimited(msg.Channel)
		return nil, fmt.Errorf("%w: %s:%s", ErrRateLimited, msg.Channel, msg.SenderID)
	}

	candidates, _ := e.bindings.Lookup("channel", msg.Channel)
	matched := make([]Binding, 0, len(candidates))
	for _, b := range candidates {
		if b.matches(msg) {
			matched = append(matched, b)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	decisions := make([]Decision, 0, len(matched))
	for _, b := range matched {
		decision := e.apply(ctx, b, msg)
		decisions = append(decisions, decision)

		e.metrics.PolicyDecision(msg.Channel, string(b.Policy.Type), string(decision.Action))
		e.logger.Debug("message routed",
			zap.String("message_id", msg.ID),
			zap.String("binding_id", b.ID),
			zap.String("action", string(decision.Action)),
			zap.String("reason", decision.Reason))

		switch decision.Action {
		case ActionDeliver, ActionObserve:
			e.deliver(b.AgentID, b.ID, decision.Action, msg)
		}
		routed, d := msg, decision
		e.emit(Event{Kind: EventMessageRouted, Message: &routed, Decision: &d})
	}
	return decisions, nil
}

func (e *Engine) apply(ctx context.Context, b Binding, msg Message) Decision {
	e.handlersMu.RLock()
	h, ok := e.handlers[b.Policy.Type]
	e.handlersMu.RUnlock()

	var (
		decision Decision
		err      error
	)
	if !ok {
		err = fmt.Errorf("%w %q", ErrUnknownRoute, b.Policy.Type)
	} else {
		decision, err = h.Handle(ctx, b, msg)
	}
	if err != nil {
		e.logger.Error("policy handler failed",
			zap.String("binding_id", b.ID),
			zap.String("policy", string(b.Policy.Type)),
			zap.Error(err))
		decision = drop(err.Error())
	}
	decision.BindingID = b.ID
	decision.AgentID = b.AgentID
	decision.Policy = b.Policy.Type
	return decision
}

func (e *Engine) deliver(agentID, bindingID string, action Action, msg Message) {
	e.inbox.Push(Delivery{
		AgentID:     agentID,
		BindingID:   bindingID,
		Action:      action,
		Message:     msg,
		DeliveredAt: e.Now(),
	})
}

func (e *Engine) handleResolution(res Resolution) {
	e.metrics.ModerationPending(res.Pending.BindingID, e.moderation.PendingCount(res.Pending.BindingID))
	if res.Verdict == VerdictApprove {
		e.deliver(res.Pending.AgentID, res.Pending.BindingID, ActionDeliver, res.Pending.Message)
	}
	e.logger.Info("moderation resolved",
		zap.String("binding_id", res.Pending.BindingID),
		zap.String("message_id", res.Pending.Message.ID),
		zap.String("verdict", string(res.Verdict)),
		zap.Bool("timed_out", res.TimedOut))
	e.emit(Event{Kind: EventModerationResolved, Resolution: &res})
}

// Close stops moderation timers.
func (e *Engine) Close() {
	e.moderation.Close()
}
