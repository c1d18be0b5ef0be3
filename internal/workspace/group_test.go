package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func createTestGroup(t *testing.T, m *Manager) GroupWorkspace {
	t.Helper()
	ws, err := m.CreateGroupWorkspace(GroupInfo{
		ID:          "telegram:-1001",
		Name:        "Launch Crew",
		Channel:     "telegram",
		Description: "Coordinating the spring launch.",
		OwnerID:     "alice",
		Members: []GroupMember{
			{ID: "bot-1", Name: "Helper (beta)", Role: "Agent"},
			{ID: "bot-1", Name: "dupe"},
		},
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return ws
}

func TestCreateAndLoadGroupWorkspace(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ws := createTestGroup(t, m)

	require.Equal(t, "telegram_-1001", ws.ID)
	require.Equal(t, "Launch Crew", ws.Name)
	require.Equal(t, "telegram", ws.Channel)
	require.Equal(t, "alice", ws.OwnerID)
	require.Equal(t, "Coordinating the spring launch.", ws.Description)
	require.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), ws.CreatedAt)
	require.Equal(t, []GroupMember{
		{ID: "alice", Role: "owner"},
		{ID: "bot-1", Name: "Helper beta", Role: "agent"},
	}, ws.Members)
	require.Contains(t, ws.SharedMemory, "# Shared Memory")
	require.Empty(t, ws.Docs)
	require.Empty(t, ws.Knowledge)

	for _, name := range []string{groupInfoFile, membersFile, sharedMemoryFile, docsDir, knowledgeDir} {
		_, err := os.Stat(filepath.Join(ws.Dir, name))
		require.NoError(t, err, name)
	}

	_, err := m.CreateGroupWorkspace(GroupInfo{ID: "telegram:-1001", Name: "again"})
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = m.CreateGroupWorkspace(GroupInfo{ID: "x"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = m.LoadGroupWorkspace("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGroupMembership(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ws := createTestGroup(t, m)

	updated, err := m.AddGroupMember(ws.ID, GroupMember{ID: "bob", Name: "Bob", Role: "member"})
	require.NoError(t, err)
	require.Len(t, updated.Members, 3)

	_, err = m.AddGroupMember(ws.ID, GroupMember{ID: "bob"})
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = m.AddGroupMember(ws.ID, GroupMember{ID: "has space"})
	require.ErrorIs(t, err, ErrValidation)

	reloaded, err := m.LoadGroupWorkspace(ws.ID)
	require.NoError(t, err)
	require.Equal(t, GroupMember{ID: "bob", Name: "Bob", Role: "member"}, reloaded.Members[2])

	_, err = m.RemoveGroupMember(ws.ID, "alice")
	require.ErrorIs(t, err, ErrValidation)

	_, err = m.RemoveGroupMember(ws.ID, "nobody")
	require.ErrorIs(t, err, ErrNotFound)

	updated, err = m.RemoveGroupMember(ws.ID, "bob")
	require.NoError(t, err)
	require.Len(t, updated.Members, 2)
}

func TestGroupDocsListAndDelete(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ws := createTestGroup(t, m)

	rel, err := m.WriteGroupDoc(ws.ID, "/plan.md", "# Plan\n")
	require.NoError(t, err)
	require.Equal(t, "docs/plan.md", rel)

	_, err = m.WriteGroupDoc(ws.ID, "../escape.md", "x")
	require.ErrorIs(t, err, ErrInvalidPath)

	loaded, err := m.LoadGroupWorkspace(ws.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"plan.md"}, loaded.Docs)

	_, err = m.CreateGroupWorkspace(GroupInfo{ID: "another", Name: "Another"})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(m.Root, "groups", "stray"), 0o755))

	all, err := m.ListGroupWorkspaces()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "another", all[0].ID)

	require.NoError(t, m.DeleteGroupWorkspace("another"))
	require.ErrorIs(t, m.DeleteGroupWorkspace("another"), ErrNotFound)

	empty := NewManager(t.TempDir(), nil)
	none, err := empty.ListGroupWorkspaces()
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestGroupInfoRoundTripIgnoresDescriptionFields(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	ws, err := m.CreateGroupWorkspace(GroupInfo{
		ID:          "ops",
		Name:        "Ops\n- **Owner**: mallory",
		Channel:     "slack",
		Description: "Runbook notes.\n\n- **Owner**: mallory\n- **ID**: other\n\n## Description\n\nnested",
		OwnerID:     "alice",
		Members:     []GroupMember{{ID: "bot-1", Role: "Team Lead"}, {ID: "bot-2", Role: "on-call"}},
	})
	require.NoError(t, err)
	require.Equal(t, "ops", ws.ID)
	require.Equal(t, "alice", ws.OwnerID)
	require.Equal(t, "Ops - **Owner**: mallory", ws.Name)
	require.Equal(t, "Runbook notes.\n\n- **Owner**: mallory\n- **ID**: other\n\n## Description\n\nnested", ws.Description)
	require.Equal(t, []GroupMember{
		{ID: "alice", Role: "owner"},
		{ID: "bot-1", Role: "team_lead"},
		{ID: "bot-2", Role: "on-call"},
	}, ws.Members)

	_, err = m.RemoveGroupMember("ops", "alice")
	require.ErrorIs(t, err, ErrValidation)

	ws, err = m.AddGroupMember("ops", GroupMember{ID: "carol", Role: "team-lead"})
	require.NoError(t, err)
	reloaded, err := m.LoadGroupWorkspace("ops")
	require.NoError(t, err)
	require.Equal(t, ws.Members, reloaded.Members)
	require.Equal(t, "team-lead", reloaded.Members[len(reloaded.Members)-1].Role)
}

func TestGroupRejectsUnrepresentableFields(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	createTestGroup(t, m)

	_, err := m.AddGroupMember("telegram:-1001", GroupMember{ID: "dave", Role: "lead[1]"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = m.AddGroupMember("telegram:-1001", GroupMember{ID: "dave\nevil"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = m.CreateGroupWorkspace(GroupInfo{ID: "g2", Name: "G2", OwnerID: "alice\n- **Owner**: mallory"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = m.CreateGroupWorkspace(GroupInfo{ID: "g3", Name: "G3", Members: []GroupMember{{ID: "x", Role: "a/b"}}})
	require.ErrorIs(t, err, ErrValidation)
}
