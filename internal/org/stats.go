package org

// OrganizationStats aggregates counts for one organization.
type OrganizationStats struct {
	OrganizationID     string `json:"organization_id"`
	DirectAgents       int    `json:"direct_agents"`
	TotalAgents        int    `json:"total_agents"`
	SubOrganizations   int    `json:"sub_organizations"`
	Teams              int    `json:"teams"`
	TeamMembers        int    `json:"team_members"`
	Collaborations     int    `json:"collaborations"`
	ActiveMentorships  int    `json:"active_mentorships"`
	MaxDescendantLevel int    `json:"max_descendant_level"`
}

// Stats counts members, teams and relations for orgID and its subtree.
// TotalAgents counts distinct agents across the subtree.
func (s *Service) Stats(orgID string) (OrganizationStats, error) {
	self, err := s.GetOrganization(orgID)
	if err != nil {
		return OrganizationStats{}, err
	}
	descendants, err := s.Descendants(orgID)
	if err != nil {
		return OrganizationStats{}, err
	}

	stats := OrganizationStats{
		OrganizationID:     orgID,
		DirectAgents:       len(self.AgentIDs),
		SubOrganizations:   len(descendants),
		MaxDescendantLevel: self.Level,
	}

	agents := make(map[string]struct{})
	for _, id := range self.AgentIDs {
		agents[id] = struct{}{}
	}
	for _, d := range descendants {
		for _, id := range d.AgentIDs {
			agents[id] = struct{}{}
		}
		if d.Level > stats.MaxDescendantLevel {
			stats.MaxDescendantLevel = d.Level
		}
	}
	stats.TotalAgents = len(agents)

	members := make(map[string]struct{})
	for _, team := range s.ListTeams(TeamFilter{OrganizationID: orgID}) {
		stats.Teams++
		for _, id := range team.MemberIDs {
			members[id] = struct{}{}
		}
	}
	stats.TeamMembers = len(members)

	stats.Collaborations = len(s.ListCollaborations(CollaborationFilter{OrganizationID: orgID}))

	for _, m := range s.ListMentorships(MentorshipActive) {
		_, mentorIn := agents[m.MentorID]
		_, menteeIn := agents[m.MenteeID]
		if mentorIn || menteeIn {
			stats.ActiveMentorships++
		}
	}
	return stats, nil
}
