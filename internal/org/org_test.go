package org

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	s := NewService(nil)
	counter := 0
	s.NewID = func() string {
		counter++
		return fmt.Sprintf("id-%03d", counter)
	}
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return fixed }
	return s
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestCreateOrganizationRequiresExistingParent(t *testing.T) {
	s := newTestService()

	_, err := s.CreateOrganization(CreateOrganizationInput{Name: "Orphan", ParentID: "missing"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.CreateOrganization(CreateOrganizationInput{Name: "   "})
	require.ErrorIs(t, err, ErrValidation)

	_, err = s.CreateOrganization(CreateOrganizationInput{Name: "Bad", Type: "guild"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestHierarchyLevelsStrictlyIncreaseWithDepth(t *testing.T) {
	s := newTestService()

	root, err := s.CreateOrganization(CreateOrganizationInput{Name: "Claw Inc", Type: OrganizationTypeCompany})
	require.NoError(t, err)
	require.Equal(t, 0, root.Level)

	division, err := s.CreateOrganization(CreateOrganizationInput{Name: "Research", ParentID: root.ID, Type: OrganizationTypeDivision})
	require.NoError(t, err)
	require.Equal(t, 1, division.Level)

	dept, err := s.CreateOrganization(CreateOrganizationInput{Name: "NLP", ParentID: division.ID, Level: intPtr(5)})
	require.NoError(t, err)
	require.Equal(t, 5, dept.Level)

	_, err = s.CreateOrganization(CreateOrganizationInput{Name: "Flat", ParentID: division.ID, Level: intPtr(1)})
	require.ErrorIs(t, err, ErrValidation)

	_, err = s.CreateOrganization(CreateOrganizationInput{Name: "Upside", ParentID: dept.ID, Level: intPtr(2)})
	require.ErrorIs(t, err, ErrValidation)

	for _, o := range s.ListOrganizations(OrganizationFilter{}) {
		if o.ParentID == "" {
			continue
		}
		parent, err := s.GetOrganization(o.ParentID)
		require.NoError(t, err)
		require.Greater(t, o.Level, parent.Level, o.Name)
	}
}

func TestReparentShiftsSubtreeAndRejectsCycles(t *testing.T) {
	s := newTestService()

	a, err := s.CreateOrganization(CreateOrganizationInput{Name: "A"})
	require.NoError(t, err)
	b, err := s.CreateOrganization(CreateOrganizationInput{Name: "B", ParentID: a.ID})
	require.NoError(t, err)
	c, err := s.CreateOrganization(CreateOrganizationInput{Name: "C", ParentID: b.ID})
	require.NoError(t, err)
	other, err := s.CreateOrganization(CreateOrganizationInput{Name: "Other"})
	require.NoError(t, err)
	deep, err := s.CreateOrganization(CreateOrganizationInput{Name: "Deep", ParentID: other.ID, Level: intPtr(3)})
	require.NoError(t, err)

	_, err = s.UpdateOrganization(a.ID, UpdateOrganizationInput{ParentID: strPtr(c.ID)})
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = s.UpdateOrganization(a.ID, UpdateOrganizationInput{ParentID: strPtr(a.ID)})
	require.ErrorIs(t, err, ErrInvalidState)

	moved, err := s.UpdateOrganization(b.ID, UpdateOrganizationInput{ParentID: strPtr(deep.ID)})
	require.NoError(t, err)
	require.Equal(t, 4, moved.Level)

	child, err := s.GetOrganization(c.ID)
	require.NoError(t, err)
	require.Equal(t, 5, child.Level)

	path, err := s.Path(c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"Other", "Deep", "B", "C"}, path)

	root, err := s.UpdateOrganization(b.ID, UpdateOrganizationInput{ParentID: strPtr("")})
	require.NoError(t, err)
	require.Equal(t, 0, root.Level)
	child, err = s.GetOrganization(c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, child.Level)
}

func TestAncestorsDescendantsAndTree(t *testing.T) {
	s := newTestService()

	root, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Root"})
	left, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Left", ParentID: root.ID})
	right, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Right", ParentID: root.ID})
	leaf, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Leaf", ParentID: left.ID})

	ancestors, err := s.Ancestors(leaf.ID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	require.Equal(t, root.ID, ancestors[0].ID)
	require.Equal(t, left.ID, ancestors[1].ID)

	descendants, err := s.Descendants(root.ID)
	require.NoError(t, err)
	ids := []string{}
	for _, d := range descendants {
		ids = append(ids, d.ID)
	}
	require.Equal(t, []string{left.ID, right.ID, leaf.ID}, ids)

	require.True(t, s.IsAncestor(root.ID, leaf.ID))
	require.False(t, s.IsAncestor(right.ID, leaf.ID))

	depth, err := s.Depth(leaf.ID)
	require.NoError(t, err)
	require.Equal(t, 2, depth)

	tree, err := s.Tree("")
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Children, 2)
	require.Equal(t, "Leaf", tree[0].Children[0].Children[0].Organization.Name)

	roots := s.ListOrganizations(OrganizationFilter{ParentID: strPtr("")})
	require.Len(t, roots, 1)
	children := s.ListOrganizations(OrganizationFilter{ParentID: strPtr(root.ID)})
	require.Len(t, children, 2)
}

func TestDeleteOrganizationRejectsChildrenAndTeams(t *testing.T) {
	s := newTestService()

	root, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Root"})
	child, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Child", ParentID: root.ID})
	team, err := s.CreateTeam(CreateTeamInput{OrganizationID: child.ID, Name: "Ops"})
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteOrganization(root.ID), ErrInvalidState)
	require.ErrorIs(t, s.DeleteOrganization(child.ID), ErrInvalidState)

	require.NoError(t, s.DeleteTeam(team.ID))
	require.NoError(t, s.DeleteOrganization(child.ID))
	require.NoError(t, s.DeleteOrganization(root.ID))
	require.ErrorIs(t, s.DeleteOrganization(root.ID), ErrNotFound)
}

func TestOrganizationAgentMembership(t *testing.T) {
	s := newTestService()

	o, err := s.CreateOrganization(CreateOrganizationInput{Name: "Ops", ManagerAgentID: "boss"})
	require.NoError(t, err)
	require.Equal(t, []string{"boss"}, o.AgentIDs)

	_, err = s.AddAgent(o.ID, "nova")
	require.NoError(t, err)
	_, err = s.AddAgent(o.ID, "nova")
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = s.RemoveAgent(o.ID, "boss")
	require.ErrorIs(t, err, ErrInvalidState)

	require.Len(t, s.AgentOrganizations("nova"), 1)
	_, err = s.RemoveAgent(o.ID, "nova")
	require.NoError(t, err)
	require.Empty(t, s.AgentOrganizations("nova"))
}

func TestRemovingTeamLeaderIsRejected(t *testing.T) {
	s := newTestService()
	o, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Eng"})

	team, err := s.CreateTeam(CreateTeamInput{
		OrganizationID: o.ID,
		Name:           "Platform",
		LeaderID:       "derek",
		MemberIDs:      []string{"stone", "nova"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"derek", "stone", "nova"}, team.MemberIDs)

	_, err = s.RemoveTeamMember(team.ID, "derek")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = s.SetTeamLeader(team.ID, "outsider")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = s.SetTeamLeader(team.ID, "stone")
	require.NoError(t, err)
	updated, err := s.RemoveTeamMember(team.ID, "derek")
	require.NoError(t, err)
	require.Equal(t, []string{"stone", "nova"}, updated.MemberIDs)

	_, err = s.AddTeamMember(team.ID, "nova")
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateTeamRequiresOrganization(t *testing.T) {
	s := newTestService()
	_, err := s.CreateTeam(CreateTeamInput{OrganizationID: "missing", Name: "Ghost"})
	require.ErrorIs(t, err, ErrNotFound)

	o, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Eng"})
	_, err = s.CreateTeam(CreateTeamInput{OrganizationID: o.ID, Name: "Bad", Type: "forever"})
	require.ErrorIs(t, err, ErrValidation)

	team, err := s.CreateTeam(CreateTeamInput{OrganizationID: o.ID, Name: "Good", MemberIDs: []string{"a"}})
	require.NoError(t, err)
	require.Len(t, s.ListTeams(TeamFilter{MemberID: "a"}), 1)
	require.Len(t, s.ListTeams(TeamFilter{OrganizationID: o.ID, MemberID: "b"}), 0)

	renamed, err := s.UpdateTeam(team.ID, UpdateTeamInput{Name: strPtr("Better")})
	require.NoError(t, err)
	require.Equal(t, "Better", renamed.Name)
}

func TestCollaborationRelationsAndPath(t *testing.T) {
	s := newTestService()

	_, err := s.CreateCollaboration(CreateCollaborationInput{FromAgentID: "a", ToAgentID: "a"})
	require.ErrorIs(t, err, ErrValidation)

	links := [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"a", "e"}, {"e", "d"}}
	for _, link := range links {
		_, err := s.CreateCollaboration(CreateCollaborationInput{FromAgentID: link[0], ToAgentID: link[1]})
		require.NoError(t, err)
	}

	_, err = s.CreateCollaboration(CreateCollaborationInput{FromAgentID: "a", ToAgentID: "b"})
	require.ErrorIs(t, err, ErrDuplicate)
	_, err = s.CreateCollaboration(CreateCollaborationInput{FromAgentID: "a", ToAgentID: "b", Type: CollaborationSupervisor})
	require.NoError(t, err)

	path, err := s.FindCollaborationPath("a", "d", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "e", "d"}, path)

	reverse, err := s.FindCollaborationPath("d", "a", 0)
	require.NoError(t, err)
	require.Len(t, reverse, 3)

	_, err = s.FindCollaborationPath("a", "d", 1)
	require.ErrorIs(t, err, ErrNotFound)

	self, err := s.FindCollaborationPath("a", "a", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, self)

	_, err = s.FindCollaborationPath("a", "zed", 0)
	require.ErrorIs(t, err, ErrNotFound)

	require.ElementsMatch(t, []string{"b", "e"}, s.Collaborators("a"))
	require.Len(t, s.ListCollaborations(CollaborationFilter{AgentID: "a", Type: CollaborationSupervisor}), 1)
}

func TestMentorshipLifecycle(t *testing.T) {
	s := newTestService()

	_, err := s.CreateMentorship(CreateMentorshipInput{MentorID: "sage", MenteeID: "sage"})
	require.ErrorIs(t, err, ErrValidation)

	m, err := s.CreateMentorship(CreateMentorshipInput{MentorID: "sage", MenteeID: "pup", Goals: []string{"write tests"}})
	require.NoError(t, err)
	require.Equal(t, MentorshipActive, m.Status)

	_, err = s.CreateMentorship(CreateMentorshipInput{MentorID: "sage", MenteeID: "pup"})
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = s.UpdateMentorshipProgress(m.ID, 101, "")
	require.ErrorIs(t, err, ErrValidation)

	m, err = s.UpdateMentorshipProgress(m.ID, 100, "nearly there")
	require.NoError(t, err)
	require.Equal(t, MentorshipActive, m.Status)

	m, err = s.SetMentorshipStatus(m.ID, MentorshipPaused)
	require.NoError(t, err)
	m, err = s.SetMentorshipStatus(m.ID, MentorshipCompleted)
	require.NoError(t, err)
	require.NotNil(t, m.EndedAt)

	_, err = s.SetMentorshipStatus(m.ID, MentorshipActive)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = s.UpdateMentorshipProgress(m.ID, 10, "")
	require.ErrorIs(t, err, ErrInvalidState)

	again, err := s.CreateMentorship(CreateMentorshipInput{MentorID: "sage", MenteeID: "pup"})
	require.NoError(t, err)
	require.Len(t, s.MentorshipsByMentor("sage"), 2)
	require.Len(t, s.MentorshipsByMentee("pup"), 2)
	require.Len(t, s.ListMentorships(MentorshipActive), 1)
	require.Equal(t, again.ID, s.ListMentorships(MentorshipActive)[0].ID)

	_, err = s.CreateMentorship(CreateMentorshipInput{MentorID: "sage", MenteeID: "kit"})
	require.NoError(t, err)
	active := s.FindMentorships(MentorshipFilter{MentorID: "sage", Status: MentorshipActive})
	require.Len(t, active, 2)
	for _, rel := range active {
		require.Equal(t, MentorshipActive, rel.Status)
	}
	require.Len(t, s.FindMentorships(MentorshipFilter{MentorID: "sage", MenteeID: "pup"}), 2)
	require.Len(t, s.FindMentorships(MentorshipFilter{MentorID: "sage", MenteeID: "pup", Status: MentorshipCompleted}), 1)
	require.Len(t, s.FindMentorships(MentorshipFilter{MenteeID: "kit", Status: MentorshipCompleted}), 0)
	require.Len(t, s.FindMentorships(MentorshipFilter{}), 3)
}

func TestStatsAggregatesSubtree(t *testing.T) {
	s := newTestService()

	root, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Root", AgentIDs: []string{"a", "b"}})
	child, _ := s.CreateOrganization(CreateOrganizationInput{Name: "Child", ParentID: root.ID, AgentIDs: []string{"b", "c"}})
	_, err := s.CreateOrganization(CreateOrganizationInput{Name: "Grandchild", ParentID: child.ID, Level: intPtr(4)})
	require.NoError(t, err)
	_, err = s.CreateTeam(CreateTeamInput{OrganizationID: root.ID, Name: "T", MemberIDs: []string{"a", "b"}})
	require.NoError(t, err)
	_, err = s.CreateCollaboration(CreateCollaborationInput{FromAgentID: "a", ToAgentID: "c", OrganizationID: root.ID})
	require.NoError(t, err)
	_, err = s.CreateMentorship(CreateMentorshipInput{MentorID: "c", MenteeID: "z"})
	require.NoError(t, err)

	stats, err := s.Stats(root.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stats.DirectAgents)
	require.Equal(t, 3, stats.TotalAgents)
	require.Equal(t, 2, stats.SubOrganizations)
	require.Equal(t, 1, stats.Teams)
	require.Equal(t, 2, stats.TeamMembers)
	require.Equal(t, 1, stats.Collaborations)
	require.Equal(t, 1, stats.ActiveMentorships)
	require.Equal(t, 4, stats.MaxDescendantLevel)
}
