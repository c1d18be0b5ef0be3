// Package org manages organizations, teams, collaboration and mentorship
// relations between agents.
package org

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samhotchkiss/openclaw-hub/internal/registry"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = registry.ErrNotFound
	// ErrDuplicate is returned when an entity or relation already exists.
	ErrDuplicate = registry.ErrDuplicate
	// ErrValidation is returned for malformed input.
	ErrValidation = registry.ErrValidation
	// ErrInvalidState is returned when an operation conflicts with current state.
	ErrInvalidState = errors.New("invalid state")
)

const (
	orgIndexParent = "parent"
	orgIndexAgent  = "agent"

	teamIndexOrg    = "organization"
	teamIndexMember = "member"

	collabIndexAgent = "agent"
	collabIndexPair  = "pair"

	mentorIndexMentor = "mentor"
	mentorIndexMentee = "mentee"
)

// Service owns every organization-side repository. Cross-entity invariants
// (parent existence, child checks on delete) are serialised through mu.
type Service struct {
	mu sync.Mutex

	orgs           *registry.Repository[Organization]
	teams          *registry.Repository[Team]
	collaborations *registry.Repository[CollaborationRelation]
	mentorships    *registry.Repository[MentorshipRelation]

	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

// NewService builds an empty organization service.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		orgs:           registry.New(func(o Organization) string { return o.ID }, registry.WithClone(cloneOrganization)),
		teams:          registry.New(func(t Team) string { return t.ID }, registry.WithClone(cloneTeam)),
		collaborations: registry.New(func(c CollaborationRelation) string { return c.ID }),
		mentorships:    registry.New(func(m MentorshipRelation) string { return m.ID }, registry.WithClone(cloneMentorship)),
		Now: func() time.Time {
			return time.Now().UTC()
		},
		NewID:  uuid.NewString,
		Logger: logger,
	}

	s.orgs.AddIndex(orgIndexParent, func(o Organization) []string { return []string{o.ParentID} })
	s.orgs.AddIndex(orgIndexAgent, func(o Organization) []string { return o.AgentIDs })

	s.teams.AddIndex(teamIndexOrg, func(t Team) []string { return []string{t.OrganizationID} })
	s.teams.AddIndex(teamIndexMember, func(t Team) []string { return t.MemberIDs })

	s.collaborations.AddIndex(collabIndexAgent, func(c CollaborationRelation) []string {
		return []string{c.FromAgentID, c.ToAgentID}
	})
	s.collaborations.AddIndex(collabIndexPair, func(c CollaborationRelation) []string {
		return []string{pairKey(c.FromAgentID, c.ToAgentID, string(c.Type))}
	})

	s.mentorships.AddIndex(mentorIndexMentor, func(m MentorshipRelation) []string { return []string{m.MentorID} })
	s.mentorships.AddIndex(mentorIndexMentee, func(m MentorshipRelation) []string { return []string{m.MenteeID} })

	return s
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func (s *Service) newID(requested string) string {
	if id := strings.TrimSpace(requested); id != "" {
		return id
	}
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func mustLookup[T any](repo *registry.Repository[T], index, key string) []T {
	items, err := repo.Lookup(index, key)
	if err != nil {
		// index names are package constants
		panic(err)
	}
	return items
}

func pairKey(from, to, kind string) string {
	return from + "|" + to + "|" + kind
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}
