// Package approval implements the multi-approver request workflow used for
// sensitive platform changes (agent creation, binding changes, grants).
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samhotchkiss/openclaw-hub/internal/registry"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = registry.ErrNotFound
	ErrValidation   = registry.ErrValidation
	ErrInvalidState = errors.New("approval request is not pending")
	ErrForbidden    = errors.New("not allowed to decide this request")
	ErrAlreadyVoted = errors.New("approver already decided")
)

// Type classifies what an approval request gates.
type Type string

const (
	TypeAgentCreate     Type = "agent_create"
	TypeAgentDelete     Type = "agent_delete"
	TypeBindingChange   Type = "binding_change"
	TypePermissionGrant Type = "permission_grant"
	TypeConfigChange    Type = "config_change"
	TypeCustom          Type = "custom"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsValidStatus reports whether s names a known status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Verdict is one approver's answer.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

// Decision records one approver's verdict.
type Decision struct {
	ApproverID string    `json:"approver_id"`
	Verdict    Verdict   `json:"verdict"`
	Comment    string    `json:"comment,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Request is an approval request and its decisions so far.
type Request struct {
	ID                string          `json:"id"`
	Type              Type            `json:"type"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	RequesterID       string          `json:"requester_id"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Approvers         []string        `json:"approvers,omitempty"`
	RequiredApprovals int             `json:"required_approvals"`
	Decisions         []Decision      `json:"decisions"`
	Status            Status          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}

// Approvals counts approve verdicts.
func (r Request) Approvals() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Verdict == VerdictApprove {
			n++
		}
	}
	return n
}

func (r Request) decidedBy(approverID string) bool {
	for _, d := range r.Decisions {
		if d.ApproverID == approverID {
			return true
		}
	}
	return false
}

func (r Request) canDecide(approverID string) bool {
	if len(r.Approvers) == 0 {
		return true
	}
	for _, a := range r.Approvers {
		if a == approverID {
			return true
		}
	}
	return false
}

func cloneRequest(r Request) Request {
	r.Approvers = append([]string(nil), r.Approvers...)
	r.Decisions = append([]Decision(nil), r.Decisions...)
	r.Payload = append(json.RawMessage(nil), r.Payload...)
	if r.ResolvedAt != nil {
		resolved := *r.ResolvedAt
		r.ResolvedAt = &resolved
	}
	return r
}

// CreateInput defines a new request. TTL falls back to the manager default.
type CreateInput struct {
	Type              Type            `json:"type"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	RequesterID       string          `json:"requester_id"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	Approvers         []string        `json:"approvers,omitempty"`
	RequiredApprovals int             `json:"required_approvals,omitempty"`
	TTL               time.Duration   `json:"ttl,omitempty"`
}

// Filter narrows List.
type Filter struct {
	Status      Status `json:"status,omitempty"`
	Type        Type   `json:"type,omitempty"`
	RequesterID string `json:"requester_id,omitempty"`
	ApproverID  string `json:"approver_id,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// EventKind names a lifecycle notification.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventDecided  EventKind = "decided"
	EventResolved EventKind = "resolved"
)

// Event is delivered to listeners after every state change.
type Event struct {
	Kind    EventKind `json:"kind"`
	Request Request   `json:"request"`
}

// Store persists requests. Writes are best-effort: the manager keeps its
// in-memory state authoritative and only logs persistence failures.
type Store interface {
	Save(ctx context.Context, req Request) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]Request, error)
}

const fallbackTTL = 24 * time.Hour

// Manager owns approval requests.
type Manager struct {
	mu        sync.Mutex
	writeMu   sync.Mutex // orders each mutation with its store write
	requests  *registry.Repository[Request]
	store     Store
	listeners []func(Event)

	DefaultTTL time.Duration
	Now        func() time.Time
	Logger     *zap.Logger
}

// NewManager builds a manager persisting through store, which may be nil.
func NewManager(store Store, defaultTTL time.Duration, logger *zap.Logger) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = fallbackTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		requests:   registry.New(func(r Request) string { return r.ID }, registry.WithClone(cloneRequest)),
		store:      store,
		DefaultTTL: defaultTTL,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		Logger: logger,
	}
	m.requests.AddIndex("requester", func(r Request) []string { return []string{r.RequesterID} })
	m.requests.AddIndex("status", func(r Request) []string { return []string{string(r.Status)} })
	return m
}

// Subscribe registers a listener called synchronously after each change.
func (m *Manager) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now()
}

// Load restores persisted requests. Requests already present are skipped.
func (m *Manager) Load(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	stored, err := m.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load approval requests: %w", err)
	}
	loaded := 0
	for _, req := range stored {
		if m.requests.Has(req.ID) {
			continue
		}
		if err := m.requests.Insert(req); err != nil {
			m.Logger.Warn("skipping persisted approval request", zap.String("request_id", req.ID), zap.Error(err))
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Create opens a pending request.
func (m *Manager) Create(ctx context.Context, input CreateInput) (Request, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Request{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	requester := strings.TrimSpace(input.RequesterID)
	if requester == "" {
		return Request{}, fmt.Errorf("%w: requester is required", ErrValidation)
	}
	kind := input.Type
	if kind == "" {
		kind = TypeCustom
	}
	if len(input.Payload) > 0 && !json.Valid(input.Payload) {
		return Request{}, fmt.Errorf("%w: payload must be valid JSON", ErrValidation)
	}

	approvers := make([]string, 0, len(input.Approvers))
	for _, a := range input.Approvers {
		if trimmed := strings.TrimSpace(a); trimmed != "" {
			approvers = append(approvers, trimmed)
		}
	}
	required := input.RequiredApprovals
	if required <= 0 {
		required = 1
	}
	if len(approvers) > 0 && required > len(approvers) {
		return Request{}, fmt.Errorf("%w: required approvals %d exceeds %d approvers", ErrValidation, required, len(approvers))
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = m.DefaultTTL
	}

	now := m.now()
	req := Request{
		ID:                uuid.NewString(),
		Type:              kind,
		Title:             title,
		Description:       strings.TrimSpace(input.Description),
		RequesterID:       requester,
		Payload:           input.Payload,
		Approvers:         approvers,
		RequiredApprovals: required,
		Decisions:         make([]Decision, 0),
		Status:            StatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
	}
	m.writeMu.Lock()
	if err := m.requests.Insert(req); err != nil {
		m.writeMu.Unlock()
		return Request{}, err
	}
	m.persist(ctx, req)
	m.writeMu.Unlock()
	m.Logger.Info("approval request created",
		zap.String("request_id", req.ID),
		zap.String("type", string(kind)),
		zap.String("requester_id", requester))
	m.emit(Event{Kind: EventCreated, Request: req})
	return req, nil
}

// Get returns one request.
func (m *Manager) Get(id string) (Request, error) {
	return m.requests.Get(id)
}

// List returns requests matching filter, newest first.
func (m *Manager) List(filter Filter) []Request {
	var base []Request
	switch {
	case filter.Status != "":
		base, _ = m.requests.Lookup("status", string(filter.Status))
	case filter.RequesterID != "":
		base, _ = m.requests.Lookup("requester", filter.RequesterID)
	default:
		base = m.requests.List()
	}

	out := make([]Request, 0, len(base))
	for i := len(base) - 1; i >= 0; i-- {
		req := base[i]
		if filter.Type != "" && req.Type != filter.Type {
			continue
		}
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			continue
		}
		if filter.ApproverID != "" && !req.canDecide(filter.ApproverID) {
			continue
		}
		out = append(out, req)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// PendingFor lists pending requests the approver may still decide.
func (m *Manager) PendingFor(approverID string) []Request {
	pending := m.List(Filter{Status: StatusPending, ApproverID: approverID})
	out := pending[:0]
	for _, req := range pending {
		if !req.decidedBy(approverID) && req.RequesterID != approverID {
			out = append(out, req)
		}
	}
	return out
}

// Approve records an approve verdict; the request is approved once it has
// RequiredApprovals approvals.
func (m *Manager) Approve(ctx context.Context, id, approverID, comment string) (Request, error) {
	return m.decide(ctx, id, approverID, VerdictApprove, comment)
}

// Reject records a reject verdict and resolves the request immediately.
func (m *Manager) Reject(ctx context.Context, id, approverID, comment string) (Request, error) {
	return m.decide(ctx, id, approverID, VerdictReject, comment)
}

func (m *Manager) decide(ctx context.Context, id, approverID string, verdict Verdict, comment string) (Request, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return Request{}, fmt.Errorf("%w: approver is required", ErrValidation)
	}

	now := m.now()
	resolved := false
	updated, err := m.update(ctx, id, func(r *Request) error {
		if r.Status != StatusPending {
			return fmt.Errorf("%w: request is %s", ErrInvalidState, r.Status)
		}
		if !now.Before(r.ExpiresAt) {
			return fmt.Errorf("%w: request expired", ErrInvalidState)
		}
		if r.RequesterID == approverID {
			return fmt.Errorf("%w: requester cannot decide own request", ErrForbidden)
		}
		if !r.canDecide(approverID) {
			return fmt.Errorf("%w: %s is not an approver", ErrForbidden, approverID)
		}
		if r.decidedBy(approverID) {
			return ErrAlreadyVoted
		}

		r.Decisions = append(r.Decisions, Decision{
			ApproverID: approverID,
			Verdict:    verdict,
			Comment:    strings.TrimSpace(comment),
			DecidedAt:  now,
		})
		switch {
		case verdict == VerdictReject:
			r.Status = StatusRejected
		case r.Approvals() >= r.RequiredApprovals:
			r.Status = StatusApproved
		}
		if r.Status != StatusPending {
			r.ResolvedAt = &now
			resolved = true
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	m.Logger.Info("approval decision recorded",
		zap.String("request_id", id),
		zap.String("approver_id", approverID),
		zap.String("verdict", string(verdict)),
		zap.String("status", string(updated.Status)))
	if resolved {
		m.emit(Event{Kind: EventResolved, Request: updated})
	} else {
		m.emit(Event{Kind: EventDecided, Request: updated})
	}
	return updated, nil
}

// Cancel withdraws a pending request. Only the requester may cancel.
func (m *Manager) Cancel(ctx context.Context, id, requesterID string) (Request, error) {
	now := m.now()
	updated, err := m.update(ctx, id, func(r *Request) error {
		if r.Status != StatusPending {
			return fmt.Errorf("%w: request is %s", ErrInvalidState, r.Status)
		}
		if r.RequesterID != requesterID {
			return fmt.Errorf("%w: only the requester can cancel", ErrForbidden)
		}
		r.Status = StatusCancelled
		r.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	m.emit(Event{Kind: EventResolved, Request: updated})
	return updated, nil
}

// ExpireDue moves every pending request past its deadline to expired.
func (m *Manager) ExpireDue(ctx context.Context, now time.Time) int {
	due := m.requests.Filter(func(r Request) bool {
		return r.Status == StatusPending && !now.Before(r.ExpiresAt)
	})

	expired := 0
	for _, candidate := range due {
		updated, err := m.update(ctx, candidate.ID, func(r *Request) error {
			if r.Status != StatusPending {
				return ErrInvalidState
			}
			r.Status = StatusExpired
			resolved := now
			r.ResolvedAt = &resolved
			return nil
		})
		if err != nil {
			continue
		}
		expired++
		m.emit(Event{Kind: EventResolved, Request: updated})
	}
	if expired > 0 {
		m.Logger.Info("approval requests expired", zap.Int("count", expired))
	}
	return expired
}

// Delete removes a resolved request from memory and the store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	req, err := m.requests.Get(id)
	if err != nil {
		return err
	}
	if req.Status == StatusPending {
		return fmt.Errorf("%w: cancel the request before deleting it", ErrInvalidState)
	}
	if _, err := m.requests.Delete(id); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil {
			m.Logger.Warn("failed to delete persisted approval request", zap.String("request_id", id), zap.Error(err))
		}
	}
	return nil
}

// update applies fn and saves the result before releasing writeMu, so the
// store never ends on an older snapshot than memory.
func (m *Manager) update(ctx context.Context, id string, fn func(*Request) error) (Request, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	updated, err := m.requests.Update(id, fn)
	if err != nil {
		return Request{}, err
	}
	m.persist(ctx, updated)
	return updated, nil
}

func (m *Manager) persist(ctx context.Context, req Request) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, req); err != nil {
		m.Logger.Warn("failed to persist approval request", zap.String("request_id", req.ID), zap.Error(err))
	}
}

func (m *Manager) emit(evt Event) {
	m.mu.Lock()
	listeners := append(([]func(Event))(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(evt)
	}
}
