package org

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TeamType describes how long a team is expected to live.
type TeamType string

const (
	TeamTypePermanent TeamType = "permanent"
	TeamTypeProject   TeamType = "project"
	TeamTypeTemporary TeamType = "temporary"
)

// Team is a working group of agents inside an organization.
type Team struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Type           TeamType  `json:"type"`
	LeaderID       string    `json:"leader_id,omitempty"`
	MemberIDs      []string  `json:"member_ids"`
	Objectives     []string  `json:"objectives,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateTeamInput defines a new team. The leader is added to members.
type CreateTeamInput struct {
	ID             string   `json:"id,omitempty"`
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Type           TeamType `json:"type,omitempty"`
	LeaderID       string   `json:"leader_id,omitempty"`
	MemberIDs      []string `json:"member_ids,omitempty"`
	Objectives     []string `json:"objectives,omitempty"`
}

// UpdateTeamInput holds optional team field changes.
type UpdateTeamInput struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Type        *TeamType `json:"type,omitempty"`
	Objectives  []string  `json:"objectives,omitempty"`
}

// TeamFilter narrows ListTeams.
type TeamFilter struct {
	OrganizationID string `json:"organization_id,omitempty"`
	MemberID       string `json:"member_id,omitempty"`
}

func cloneTeam(t Team) Team {
	t.MemberIDs = append([]string(nil), t.MemberIDs...)
	t.Objectives = append([]string(nil), t.Objectives...)
	return t
}

func validTeamType(t TeamType) bool {
	switch t {
	case TeamTypePermanent, TeamTypeProject, TeamTypeTemporary:
		return true
	}
	return false
}

// CreateTeam validates and stores a team.
func (s *Service) CreateTeam(input CreateTeamInput) (Team, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Team{}, fmt.Errorf("%w: team name is required", ErrValidation)
	}
	teamType := input.Type
	if teamType == "" {
		teamType = TeamTypePermanent
	}
	if !validTeamType(teamType) {
		return Team{}, fmt.Errorf("%w: invalid team type %q", ErrValidation, teamType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orgID := strings.TrimSpace(input.OrganizationID)
	if !s.orgs.Has(orgID) {
		return Team{}, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}

	members := normalizeIDs(input.MemberIDs)
	leader := strings.TrimSpace(input.LeaderID)
	if leader != "" && !containsID(members, leader) {
		members = append([]string{leader}, members...)
	}

	now := s.now()
	team := Team{
		ID:             s.newID(input.ID),
		OrganizationID: orgID,
		Name:           name,
		Description:    strings.TrimSpace(input.Description),
		Type:           teamType,
		LeaderID:       leader,
		MemberIDs:      members,
		Objectives:     input.Objectives,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.teams.Insert(team); err != nil {
		return Team{}, err
	}
	s.Logger.Info("team created",
		zap.String("team_id", team.ID),
		zap.String("organization_id", orgID),
		zap.Int("members", len(members)))
	return s.teams.Get(team.ID)
}

// GetTeam returns one team.
func (s *Service) GetTeam(id string) (Team, error) {
	return s.teams.Get(strings.TrimSpace(id))
}

// ListTeams returns teams matching filter.
func (s *Service) ListTeams(filter TeamFilter) []Team {
	var base []Team
	switch {
	case filter.OrganizationID != "":
		base = mustLookup(s.teams, teamIndexOrg, filter.OrganizationID)
	case filter.MemberID != "":
		base = mustLookup(s.teams, teamIndexMember, filter.MemberID)
	default:
		base = s.teams.List()
	}
	if filter.OrganizationID == "" || filter.MemberID == "" {
		return base
	}
	out := make([]Team, 0, len(base))
	for _, t := range base {
		if containsID(t.MemberIDs, filter.MemberID) {
			out = append(out, t)
		}
	}
	return out
}

// UpdateTeam applies field changes.
func (s *Service) UpdateTeam(id string, input UpdateTeamInput) (Team, error) {
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return Team{}, fmt.Errorf("%w: team name is required", ErrValidation)
	}
	if input.Type != nil && !validTeamType(*input.Type) {
		return Team{}, fmt.Errorf("%w: invalid team type %q", ErrValidation, *input.Type)
	}
	return s.teams.Update(id, func(t *Team) error {
		if input.Name != nil {
			t.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			t.Description = strings.TrimSpace(*input.Description)
		}
		if input.Type != nil {
			t.Type = *input.Type
		}
		if input.Objectives != nil {
			t.Objectives = append([]string(nil), input.Objectives...)
		}
		t.UpdatedAt = s.now()
		return nil
	})
}

// AddTeamMember adds an agent to a team.
func (s *Service) AddTeamMember(teamID, agentID string) (Team, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return Team{}, fmt.Errorf("%w: agent id is required", ErrValidation)
	}
	return s.teams.Update(teamID, func(t *Team) error {
		if containsID(t.MemberIDs, agentID) {
			return fmt.Errorf("%w: agent %s already in team", ErrDuplicate, agentID)
		}
		t.MemberIDs = append(t.MemberIDs, agentID)
		t.UpdatedAt = s.now()
		return nil
	})
}

// RemoveTeamMember removes an agent. The team leader cannot be removed; assign
// another leader first.
func (s *Service) RemoveTeamMember(teamID, agentID string) (Team, error) {
	return s.teams.Update(teamID, func(t *Team) error {
		if !containsID(t.MemberIDs, agentID) {
			return fmt.Errorf("team member %s: %w", agentID, ErrNotFound)
		}
		if t.LeaderID == agentID {
			return fmt.Errorf("%w: cannot remove team leader", ErrInvalidState)
		}
		t.MemberIDs = removeID(t.MemberIDs, agentID)
		t.UpdatedAt = s.now()
		return nil
	})
}

// SetTeamLeader promotes an existing member to leader.
func (s *Service) SetTeamLeader(teamID, agentID string) (Team, error) {
	return s.teams.Update(teamID, func(t *Team) error {
		if !containsID(t.MemberIDs, agentID) {
			return fmt.Errorf("%w: leader must be a team member", ErrInvalidState)
		}
		t.LeaderID = agentID
		t.UpdatedAt = s.now()
		return nil
	})
}

// DeleteTeam removes a team.
func (s *Service) DeleteTeam(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.teams.Delete(id)
	return err
}
