package org

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OrganizationType classifies an organization node.
type OrganizationType string

const (
	OrganizationTypeCompany    OrganizationType = "company"
	OrganizationTypeDivision   OrganizationType = "division"
	OrganizationTypeDepartment OrganizationType = "department"
	OrganizationTypeGroup      OrganizationType = "group"
)

var validOrganizationTypes = map[OrganizationType]struct{}{
	OrganizationTypeCompany:    {},
	OrganizationTypeDivision:   {},
	OrganizationTypeDepartment: {},
	OrganizationTypeGroup:      {},
}

// Organization is a node in the agent organization hierarchy.
type Organization struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Type           OrganizationType  `json:"type"`
	ParentID       string            `json:"parent_id,omitempty"`
	Level          int               `json:"level"`
	ManagerAgentID string            `json:"manager_agent_id,omitempty"`
	AgentIDs       []string          `json:"agent_ids"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// CreateOrganizationInput defines the input for creating an organization.
// Level is optional; when set it must be greater than the parent's level.
type CreateOrganizationInput struct {
	ID             string            `json:"id,omitempty"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Type           OrganizationType  `json:"type,omitempty"`
	ParentID       string            `json:"parent_id,omitempty"`
	Level          *int              `json:"level,omitempty"`
	ManagerAgentID string            `json:"manager_agent_id,omitempty"`
	AgentIDs       []string          `json:"agent_ids,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// UpdateOrganizationInput holds optional field changes. A non-nil ParentID
// re-parents the organization; an empty string makes it a root.
type UpdateOrganizationInput struct {
	Name           *string           `json:"name,omitempty"`
	Description    *string           `json:"description,omitempty"`
	Type           *OrganizationType `json:"type,omitempty"`
	ManagerAgentID *string           `json:"manager_agent_id,omitempty"`
	ParentID       *string           `json:"parent_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// OrganizationFilter narrows ListOrganizations.
type OrganizationFilter struct {
	ParentID *string          `json:"parent_id,omitempty"`
	Type     OrganizationType `json:"type,omitempty"`
	AgentID  string           `json:"agent_id,omitempty"`
}

func cloneOrganization(o Organization) Organization {
	o.AgentIDs = append([]string(nil), o.AgentIDs...)
	if o.Metadata != nil {
		meta := make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			meta[k] = v
		}
		o.Metadata = meta
	}
	return o
}

// CreateOrganization validates and stores a new organization.
func (s *Service) CreateOrganization(input CreateOrganizationInput) (Organization, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrValidation)
	}
	orgType := input.Type
	if orgType == "" {
		orgType = OrganizationTypeDepartment
	}
	if _, ok := validOrganizationTypes[orgType]; !ok {
		return Organization{}, fmt.Errorf("%w: invalid organization type %q", ErrValidation, orgType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	level := 0
	parentID := strings.TrimSpace(input.ParentID)
	if parentID != "" {
		parent, err := s.orgs.Get(parentID)
		if err != nil {
			return Organization{}, fmt.Errorf("parent organization %s: %w", parentID, ErrNotFound)
		}
		level = parent.Level + 1
		if input.Level != nil {
			if *input.Level <= parent.Level {
				return Organization{}, fmt.Errorf("%w: level %d must be greater than parent level %d", ErrValidation, *input.Level, parent.Level)
			}
			level = *input.Level
		}
	} else if input.Level != nil {
		if *input.Level < 0 {
			return Organization{}, fmt.Errorf("%w: level must not be negative", ErrValidation)
		}
		level = *input.Level
	}

	now := s.now()
	org := Organization{
		ID:             s.newID(input.ID),
		Name:           name,
		Description:    strings.TrimSpace(input.Description),
		Type:           orgType,
		ParentID:       parentID,
		Level:          level,
		ManagerAgentID: strings.TrimSpace(input.ManagerAgentID),
		AgentIDs:       normalizeIDs(input.AgentIDs),
		Metadata:       input.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if org.ManagerAgentID != "" && !containsID(org.AgentIDs, org.ManagerAgentID) {
		org.AgentIDs = append(org.AgentIDs, org.ManagerAgentID)
	}

	if err := s.orgs.Insert(org); err != nil {
		return Organization{}, err
	}
	s.Logger.Info("organization created",
		zap.String("organization_id", org.ID),
		zap.String("parent_id", org.ParentID),
		zap.Int("level", org.Level))
	return s.orgs.Get(org.ID)
}

// GetOrganization returns one organization.
func (s *Service) GetOrganization(id string) (Organization, error) {
	return s.orgs.Get(strings.TrimSpace(id))
}

// ListOrganizations returns organizations matching filter in creation order.
func (s *Service) ListOrganizations(filter OrganizationFilter) []Organization {
	var base []Organization
	switch {
	case filter.ParentID != nil && strings.TrimSpace(*filter.ParentID) == "":
		base = s.Roots()
	case filter.ParentID != nil:
		base = mustLookup(s.orgs, orgIndexParent, strings.TrimSpace(*filter.ParentID))
	case filter.AgentID != "":
		base = mustLookup(s.orgs, orgIndexAgent, filter.AgentID)
	default:
		base = s.orgs.List()
	}

	out := make([]Organization, 0, len(base))
	for _, o := range base {
		if filter.Type != "" && o.Type != filter.Type {
			continue
		}
		if filter.AgentID != "" && !containsID(o.AgentIDs, filter.AgentID) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// UpdateOrganization applies field changes, re-parenting and shifting the
// levels of the whole subtree when ParentID changes.
func (s *Service) UpdateOrganization(id string, input UpdateOrganizationInput) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.orgs.Get(id)
	if err != nil {
		return Organization{}, err
	}

	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrValidation)
	}
	if input.Type != nil {
		if _, ok := validOrganizationTypes[*input.Type]; !ok {
			return Organization{}, fmt.Errorf("%w: invalid organization type %q", ErrValidation, *input.Type)
		}
	}

	levelDelta := 0
	newParent := current.ParentID
	if input.ParentID != nil {
		newParent = strings.TrimSpace(*input.ParentID)
		newLevel := 0
		if newParent != "" {
			if newParent == id {
				return Organization{}, fmt.Errorf("%w: organization cannot be its own parent", ErrInvalidState)
			}
			parent, err := s.orgs.Get(newParent)
			if err != nil {
				return Organization{}, fmt.Errorf("parent organization %s: %w", newParent, ErrNotFound)
			}
			if s.isAncestorLocked(id, newParent) {
				return Organization{}, fmt.Errorf("%w: re-parenting would create a cycle", ErrInvalidState)
			}
			newLevel = parent.Level + 1
		}
		levelDelta = newLevel - current.Level
	}

	now := s.now()
	updated, err := s.orgs.Update(id, func(o *Organization) error {
		if input.Name != nil {
			o.Name = strings.TrimSpace(*input.Name)
		}
		if input.Description != nil {
			o.Description = strings.TrimSpace(*input.Description)
		}
		if input.Type != nil {
			o.Type = *input.Type
		}
		if input.ManagerAgentID != nil {
			o.ManagerAgentID = strings.TrimSpace(*input.ManagerAgentID)
			if o.ManagerAgentID != "" && !containsID(o.AgentIDs, o.ManagerAgentID) {
				o.AgentIDs = append(o.AgentIDs, o.ManagerAgentID)
			}
		}
		if input.Metadata != nil {
			if o.Metadata == nil {
				o.Metadata = make(map[string]string, len(input.Metadata))
			}
			for k, v := range input.Metadata {
				if v == "" {
					delete(o.Metadata, k)
					continue
				}
				o.Metadata[k] = v
			}
		}
		o.ParentID = newParent
		o.Level += levelDelta
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Organization{}, err
	}

	if levelDelta != 0 {
		for _, descendant := range s.descendantsLocked(id) {
			if _, err := s.orgs.Update(descendant.ID, func(o *Organization) error {
				o.Level += levelDelta
				o.UpdatedAt = now
				return nil
			}); err != nil {
				return Organization{}, err
			}
		}
	}
	return updated, nil
}

// DeleteOrganization removes an organization that has no sub-organizations and
// no teams.
func (s *Service) DeleteOrganization(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.orgs.Has(id) {
		return fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	if children := mustLookup(s.orgs, orgIndexParent, id); len(children) > 0 {
		return fmt.Errorf("%w: organization has %d sub-organizations", ErrInvalidState, len(children))
	}
	if teams := mustLookup(s.teams, teamIndexOrg, id); len(teams) > 0 {
		return fmt.Errorf("%w: organization has %d teams", ErrInvalidState, len(teams))
	}
	if _, err := s.orgs.Delete(id); err != nil {
		return err
	}
	s.Logger.Info("organization deleted", zap.String("organization_id", id))
	return nil
}

// AddAgent attaches an agent to an organization.
func (s *Service) AddAgent(orgID, agentID string) (Organization, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return Organization{}, fmt.Errorf("%w: agent id is required", ErrValidation)
	}
	return s.orgs.Update(orgID, func(o *Organization) error {
		if containsID(o.AgentIDs, agentID) {
			return fmt.Errorf("%w: agent %s already in organization", ErrDuplicate, agentID)
		}
		o.AgentIDs = append(o.AgentIDs, agentID)
		o.UpdatedAt = s.now()
		return nil
	})
}

// RemoveAgent detaches an agent. The organization manager cannot be removed.
func (s *Service) RemoveAgent(orgID, agentID string) (Organization, error) {
	return s.orgs.Update(orgID, func(o *Organization) error {
		if !containsID(o.AgentIDs, agentID) {
			return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
		}
		if o.ManagerAgentID == agentID {
			return fmt.Errorf("%w: cannot remove organization manager", ErrInvalidState)
		}
		o.AgentIDs = removeID(o.AgentIDs, agentID)
		o.UpdatedAt = s.now()
		return nil
	})
}
