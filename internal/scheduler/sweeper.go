// Package scheduler runs the platform's periodic housekeeping.
package scheduler

import (
	"context"
	"fmt"
	"time"
)

const defaultSweepInterval = time.Minute

// ApprovalExpirer expires pending approval requests past their deadline.
type ApprovalExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) int
}

// SessionPruner drops admin sessions expired at now.
type SessionPruner interface {
	PruneSessions(now time.Time) int
}

type SweeperConfig struct {
	Interval time.Duration
}

// SweepResult counts what one pass removed.
type SweepResult struct {
	ExpiredApprovals int
	PrunedSessions   int
}

// Sweeper expires due approvals and prunes stale admin sessions on a fixed
// interval.
type Sweeper struct {
	Approvals ApprovalExpirer
	Sessions  SessionPruner
	Config    SweeperConfig
	Now       func() time.Time
	Logf      func(string, ...any)
}

func NewSweeper(approvals ApprovalExpirer, sessions SessionPruner, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	return &Sweeper{
		Approvals: approvals,
		Sessions:  sessions,
		Config:    cfg,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start sweeps until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	for {
		result, err := s.RunOnce(ctx)
		if err != nil && s.Logf != nil {
			s.Logf("sweeper run failed: %v", err)
		} else if s.Logf != nil && (result.ExpiredApprovals > 0 || result.PrunedSessions > 0) {
			s.Logf("sweeper expired %d approvals, pruned %d sessions", result.ExpiredApprovals, result.PrunedSessions)
		}
		if err := sleepWithContext(ctx, s.Config.Interval); err != nil {
			return
		}
	}
}

// RunOnce performs a single pass.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	if s == nil || (s.Approvals == nil && s.Sessions == nil) {
		return SweepResult{}, fmt.Errorf("sweeper is not configured")
	}
	if err := ctx.Err(); err != nil {
		return SweepResult{}, err
	}

	now := s.now()
	var result SweepResult
	if s.Approvals != nil {
		result.ExpiredApprovals = s.Approvals.ExpireDue(ctx, now)
	}
	if s.Sessions != nil {
		result.PrunedSessions = s.Sessions.PruneSessions(now)
	}
	return result, nil
}

func (s *Sweeper) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
