package org

import (
	"fmt"
	"strings"
	"time"
)

// CollaborationType is the kind of working relation between two agents.
type CollaborationType string

const (
	CollaborationSupervisor   CollaborationType = "supervisor"
	CollaborationColleague    CollaborationType = "colleague"
	CollaborationCollaborator CollaborationType = "collaborator"
	CollaborationAdvisor      CollaborationType = "advisor"
)

// CollaborationRelation links two agents. Relations are directed for display
// but path finding treats them as undirected.
type CollaborationRelation struct {
	ID             string            `json:"id"`
	FromAgentID    string            `json:"from_agent_id"`
	ToAgentID      string            `json:"to_agent_id"`
	Type           CollaborationType `json:"type"`
	OrganizationID string            `json:"organization_id,omitempty"`
	Description    string            `json:"description,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// CreateCollaborationInput defines a new relation.
type CreateCollaborationInput struct {
	ID             string            `json:"id,omitempty"`
	FromAgentID    string            `json:"from_agent_id"`
	ToAgentID      string            `json:"to_agent_id"`
	Type           CollaborationType `json:"type,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	Description    string            `json:"description,omitempty"`
}

// CollaborationFilter narrows ListCollaborations.
type CollaborationFilter struct {
	AgentID        string            `json:"agent_id,omitempty"`
	Type           CollaborationType `json:"type,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
}

func validCollaborationType(t CollaborationType) bool {
	switch t {
	case CollaborationSupervisor, CollaborationColleague, CollaborationCollaborator, CollaborationAdvisor:
		return true
	}
	return false
}

// CreateCollaboration stores a relation between two distinct agents.
func (s *Service) CreateCollaboration(input CreateCollaborationInput) (CollaborationRelation, error) {
	from := strings.TrimSpace(input.FromAgentID)
	to := strings.TrimSpace(input.ToAgentID)
	if from == "" || to == "" {
		return CollaborationRelation{}, fmt.Errorf("%w: both agent ids are required", ErrValidation)
	}
	if from == to {
		return CollaborationRelation{}, fmt.Errorf("%w: agent cannot collaborate with itself", ErrValidation)
	}
	kind := input.Type
	if kind == "" {
		kind = CollaborationColleague
	}
	if !validCollaborationType(kind) {
		return CollaborationRelation{}, fmt.Errorf("%w: invalid collaboration type %q", ErrValidation, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orgID := strings.TrimSpace(input.OrganizationID)
	if orgID != "" && !s.orgs.Has(orgID) {
		return CollaborationRelation{}, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	if existing := mustLookup(s.collaborations, collabIndexPair, pairKey(from, to, string(kind))); len(existing) > 0 {
		return CollaborationRelation{}, fmt.Errorf("%w: %s relation %s -> %s", ErrDuplicate, kind, from, to)
	}

	rel := CollaborationRelation{
		ID:             s.newID(input.ID),
		FromAgentID:    from,
		ToAgentID:      to,
		Type:           kind,
		OrganizationID: orgID,
		Description:    strings.TrimSpace(input.Description),
		CreatedAt:      s.now(),
	}
	if err := s.collaborations.Insert(rel); err != nil {
		return CollaborationRelation{}, err
	}
	return rel, nil
}

// DeleteCollaboration removes a relation.
func (s *Service) DeleteCollaboration(id string) error {
	_, err := s.collaborations.Delete(id)
	return err
}

// ListCollaborations returns relations matching filter.
func (s *Service) ListCollaborations(filter CollaborationFilter) []CollaborationRelation {
	base := s.collaborations.List()
	if filter.AgentID != "" {
		base = mustLookup(s.collaborations, collabIndexAgent, filter.AgentID)
	}
	out := make([]CollaborationRelation, 0, len(base))
	for _, rel := range base {
		if filter.Type != "" && rel.Type != filter.Type {
			continue
		}
		if filter.OrganizationID != "" && rel.OrganizationID != filter.OrganizationID {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// Collaborators returns the distinct agents related to agentID.
func (s *Service) Collaborators(agentID string) []string {
	out := make([]string, 0)
	for _, rel := range mustLookup(s.collaborations, collabIndexAgent, agentID) {
		other := rel.ToAgentID
		if other == agentID {
			other = rel.FromAgentID
		}
		if !containsID(out, other) {
			out = append(out, other)
		}
	}
	return out
}

// FindCollaborationPath returns the shortest chain of agents linking from and
// to. maxDepth bounds the number of hops; zero or less means unbounded.
func (s *Service) FindCollaborationPath(from, to string, maxDepth int) ([]string, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: both agent ids are required", ErrValidation)
	}
	if from == to {
		return []string{from}, nil
	}

	adjacency := make(map[string][]string)
	for _, rel := range s.collaborations.List() {
		adjacency[rel.FromAgentID] = append(adjacency[rel.FromAgentID], rel.ToAgentID)
		adjacency[rel.ToAgentID] = append(adjacency[rel.ToAgentID], rel.FromAgentID)
	}

	type step struct {
		agent string
		depth int
	}
	previous := map[string]string{from: ""}
	queue := []step{{agent: from}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if maxDepth > 0 && current.depth >= maxDepth {
			continue
		}
		for _, next := range adjacency[current.agent] {
			if _, visited := previous[next]; visited {
				continue
			}
			previous[next] = current.agent
			if next == to {
				return unwindPath(previous, to), nil
			}
			queue = append(queue, step{agent: next, depth: current.depth + 1})
		}
	}
	return nil, fmt.Errorf("collaboration path %s -> %s: %w", from, to, ErrNotFound)
}

func unwindPath(previous map[string]string, end string) []string {
	path := []string{end}
	for node := previous[end]; node != ""; node = previous[node] {
		path = append(path, node)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
