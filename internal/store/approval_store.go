package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/samhotchkiss/openclaw-hub/internal/approval"
)

// ApprovalStore persists approval requests in the approval_requests table.
type ApprovalStore struct {
	db Querier
}

// NewApprovalStore creates an ApprovalStore with a database connection.
func NewApprovalStore(db Querier) *ApprovalStore {
	return &ApprovalStore{db: db}
}

const upsertApprovalSQL = `INSERT INTO approval_requests (
		id, type, title, description, requester_id, payload, approvers,
		required_approvals, decisions, status, created_at, expires_at, resolved_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		payload = EXCLUDED.payload,
		approvers = EXCLUDED.approvers,
		required_approvals = EXCLUDED.required_approvals,
		decisions = EXCLUDED.decisions,
		status = EXCLUDED.status,
		expires_at = EXCLUDED.expires_at,
		resolved_at = EXCLUDED.resolved_at`

const selectApprovalsSQL = `SELECT id, type, title, description, requester_id, payload, approvers,
		required_approvals, decisions, status, created_at, expires_at, resolved_at
	FROM approval_requests
	ORDER BY created_at ASC, id ASC`

// Save inserts or replaces one request.
func (s *ApprovalStore) Save(ctx context.Context, req approval.Request) error {
	if strings.TrimSpace(req.ID) == "" {
		return fmt.Errorf("%w: request id is required", ErrValidation)
	}
	decisions := req.Decisions
	if decisions == nil {
		decisions = []approval.Decision{}
	}
	decisionsJSON, err := json.Marshal(decisions)
	if err != nil {
		return fmt.Errorf("failed to encode decisions: %w", err)
	}
	approvers := req.Approvers
	if approvers == nil {
		approvers = []string{}
	}

	if _, err := s.db.ExecContext(ctx, upsertApprovalSQL,
		req.ID,
		string(req.Type),
		req.Title,
		req.Description,
		req.RequesterID,
		nullableJSON(req.Payload),
		pq.Array(approvers),
		req.RequiredApprovals,
		string(decisionsJSON),
		string(req.Status),
		req.CreatedAt,
		req.ExpiresAt,
		req.ResolvedAt,
	); err != nil {
		return fmt.Errorf("failed to save approval request: %w", err)
	}
	return nil
}

// Delete removes one request. Deleting a missing request is not an error.
func (s *ApprovalStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM approval_requests WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete approval request: %w", err)
	}
	return nil
}

// LoadAll returns every stored request ordered by creation time.
func (s *ApprovalStore) LoadAll(ctx context.Context) ([]approval.Request, error) {
	rows, err := s.db.QueryContext(ctx, selectApprovalsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	requests := make([]approval.Request, 0)
	for rows.Next() {
		req, err := scanApprovalRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read approval requests: %w", err)
	}
	return requests, nil
}

func scanApprovalRequest(rows *sql.Rows) (approval.Request, error) {
	var (
		req        approval.Request
		kind       string
		status     string
		payload    []byte
		approvers  []string
		decisions  []byte
		resolvedAt sql.NullTime
		createdAt  time.Time
		expiresAt  time.Time
	)
	if err := rows.Scan(
		&req.ID,
		&kind,
		&req.Title,
		&req.Description,
		&req.RequesterID,
		&payload,
		pq.Array(&approvers),
		&req.RequiredApprovals,
		&decisions,
		&status,
		&createdAt,
		&expiresAt,
		&resolvedAt,
	); err != nil {
		return approval.Request{}, fmt.Errorf("failed to scan approval request: %w", err)
	}

	req.Type = approval.Type(kind)
	req.Status = approval.Status(status)
	req.Approvers = approvers
	req.CreatedAt = createdAt.UTC()
	req.ExpiresAt = expiresAt.UTC()
	if len(payload) > 0 {
		req.Payload = json.RawMessage(payload)
	}
	req.Decisions = make([]approval.Decision, 0)
	if len(decisions) > 0 {
		if err := json.Unmarshal(decisions, &req.Decisions); err != nil {
			return approval.Request{}, fmt.Errorf("failed to decode decisions for %s: %w", req.ID, err)
		}
	}
	if resolvedAt.Valid {
		resolved := resolvedAt.Time.UTC()
		req.ResolvedAt = &resolved
	}
	return req, nil
}
