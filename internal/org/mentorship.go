package org

import (
	"fmt"
	"strings"
	"time"
)

// MentorshipStatus is the lifecycle state of a mentorship.
type MentorshipStatus string

const (
	MentorshipActive    MentorshipStatus = "active"
	MentorshipPaused    MentorshipStatus = "paused"
	MentorshipCompleted MentorshipStatus = "completed"
	MentorshipCancelled MentorshipStatus = "cancelled"
)

var mentorshipTransitions = map[MentorshipStatus][]MentorshipStatus{
	MentorshipActive: {MentorshipPaused, MentorshipCompleted, MentorshipCancelled},
	MentorshipPaused: {MentorshipActive, MentorshipCompleted, MentorshipCancelled},
}

// MentorshipRelation pairs a mentor agent with a mentee agent.
type MentorshipRelation struct {
	ID        string           `json:"id"`
	MentorID  string           `json:"mentor_id"`
	MenteeID  string           `json:"mentee_id"`
	Status    MentorshipStatus `json:"status"`
	Goals     []string         `json:"goals,omitempty"`
	Progress  int              `json:"progress"`
	Notes     string           `json:"notes,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
}

// CreateMentorshipInput defines a new mentorship.
type CreateMentorshipInput struct {
	ID       string   `json:"id,omitempty"`
	MentorID string   `json:"mentor_id"`
	MenteeID string   `json:"mentee_id"`
	Goals    []string `json:"goals,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

func cloneMentorship(m MentorshipRelation) MentorshipRelation {
	m.Goals = append([]string(nil), m.Goals...)
	if m.EndedAt != nil {
		ended := *m.EndedAt
		m.EndedAt = &ended
	}
	return m
}

func (m MentorshipRelation) open() bool {
	return m.Status == MentorshipActive || m.Status == MentorshipPaused
}

// CreateMentorship starts an active mentorship. Only one open mentorship may
// exist per mentor/mentee pair.
func (s *Service) CreateMentorship(input CreateMentorshipInput) (MentorshipRelation, error) {
	mentor := strings.TrimSpace(input.MentorID)
	mentee := strings.TrimSpace(input.MenteeID)
	if mentor == "" || mentee == "" {
		return MentorshipRelation{}, fmt.Errorf("%w: mentor and mentee are required", ErrValidation)
	}
	if mentor == mentee {
		return MentorshipRelation{}, fmt.Errorf("%w: agent cannot mentor itself", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range mustLookup(s.mentorships, mentorIndexMentor, mentor) {
		if existing.MenteeID == mentee && existing.open() {
			return MentorshipRelation{}, fmt.Errorf("%w: open mentorship %s already exists", ErrDuplicate, existing.ID)
		}
	}

	rel := MentorshipRelation{
		ID:        s.newID(input.ID),
		MentorID:  mentor,
		MenteeID:  mentee,
		Status:    MentorshipActive,
		Goals:     input.Goals,
		Notes:     strings.TrimSpace(input.Notes),
		StartedAt: s.now(),
	}
	if err := s.mentorships.Insert(rel); err != nil {
		return MentorshipRelation{}, err
	}
	return s.mentorships.Get(rel.ID)
}

// GetMentorship returns one mentorship.
func (s *Service) GetMentorship(id string) (MentorshipRelation, error) {
	return s.mentorships.Get(id)
}

// UpdateMentorshipProgress records progress in percent. Reaching 100 does not
// complete the mentorship; that is an explicit status change.
func (s *Service) UpdateMentorshipProgress(id string, progress int, notes string) (MentorshipRelation, error) {
	if progress < 0 || progress > 100 {
		return MentorshipRelation{}, fmt.Errorf("%w: progress must be between 0 and 100", ErrValidation)
	}
	return s.mentorships.Update(id, func(m *MentorshipRelation) error {
		if !m.open() {
			return fmt.Errorf("%w: mentorship is %s", ErrInvalidState, m.Status)
		}
		m.Progress = progress
		if trimmed := strings.TrimSpace(notes); trimmed != "" {
			m.Notes = trimmed
		}
		return nil
	})
}

// SetMentorshipStatus moves a mentorship through its lifecycle. Completed and
// cancelled are terminal.
func (s *Service) SetMentorshipStatus(id string, status MentorshipStatus) (MentorshipRelation, error) {
	return s.mentorships.Update(id, func(m *MentorshipRelation) error {
		allowed := false
		for _, next := range mentorshipTransitions[m.Status] {
			if next == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: cannot move mentorship from %s to %s", ErrInvalidState, m.Status, status)
		}
		m.Status = status
		if status == MentorshipCompleted || status == MentorshipCancelled {
			ended := s.now()
			m.EndedAt = &ended
		}
		if status == MentorshipCompleted {
			m.Progress = 100
		}
		return nil
	})
}

// MentorshipsByMentor lists every mentorship where agentID mentors.
func (s *Service) MentorshipsByMentor(agentID string) []MentorshipRelation {
	return mustLookup(s.mentorships, mentorIndexMentor, agentID)
}

// MentorshipsByMentee lists every mentorship where agentID is mentored.
func (s *Service) MentorshipsByMentee(agentID string) []MentorshipRelation {
	return mustLookup(s.mentorships, mentorIndexMentee, agentID)
}

// ListMentorships returns every mentorship, optionally by status.
func (s *Service) ListMentorships(status MentorshipStatus) []MentorshipRelation {
	if status == "" {
		return s.mentorships.List()
	}
	return s.mentorships.Filter(func(m MentorshipRelation) bool { return m.Status == status })
}

// MentorshipFilter narrows FindMentorships. Empty fields match everything.
type MentorshipFilter struct {
	MentorID string           `json:"mentor_id,omitempty"`
	MenteeID string           `json:"mentee_id,omitempty"`
	Status   MentorshipStatus `json:"status,omitempty"`
}

// FindMentorships returns mentorships matching every set field of filter.
func (s *Service) FindMentorships(filter MentorshipFilter) []MentorshipRelation {
	var base []MentorshipRelation
	switch {
	case filter.MentorID != "":
		base = s.MentorshipsByMentor(filter.MentorID)
	case filter.MenteeID != "":
		base = s.MentorshipsByMentee(filter.MenteeID)
	default:
		base = s.ListMentorships(filter.Status)
	}
	out := base[:0]
	for _, m := range base {
		if filter.MenteeID != "" && m.MenteeID != filter.MenteeID {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		out = append(out, m)
	}
	return out
}
