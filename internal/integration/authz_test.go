package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/samhotchkiss/openclaw-hub/internal/admin"
	"github.com/samhotchkiss/openclaw-hub/internal/approval"
	"github.com/stretchr/testify/require"
)

func TestRequiredPermission(t *testing.T) {
	cases := map[string]admin.Permission{
		"approval.approve":       admin.PermApprove,
		"approval.reject":        admin.PermApprove,
		"org.create":             admin.PermManageOrganizations,
		"mentor.progress":        admin.PermManageOrganizations,
		"binding.update":         admin.PermManageChannels,
		"message.send":           admin.PermManageChannels,
		"moderation.list":        admin.PermModerate,
		"moderation.approve":     admin.PermModerate,
		"workspace.group.list":   admin.PermManageWorkspaces,
		"workspace.access.check": admin.PermManageWorkspaces,
		"echo.ping":              admin.PermManageAgents,
	}
	for method, want := range cases {
		t.Run(method, func(t *testing.T) {
			got, ok := RequiredPermission(method)
			require.True(t, ok)
			require.Equal(t, want, got)
		})
	}

	for _, method := range []string{"org.get", "org.path", "team.list", "collab.collaborators", "approval.create", "binding.list", "inbox.list"} {
		_, ok := RequiredPermission(method)
		require.False(t, ok, method)
	}
}

func TestCallWithCallerEnforcesPermissions(t *testing.T) {
	p := newTestPlatform(t)
	req, err := p.Approvals.Create(context.Background(), approval.CreateInput{Title: "Grant access", RequesterID: "nova"})
	require.NoError(t, err)

	agentsOnly := admin.Admin{Username: "smith", Role: admin.RoleOperator, Permissions: []admin.Permission{admin.PermManageAgents}, Active: true}
	ctx := WithCaller(context.Background(), agentsOnly)

	_, err = p.Call(ctx, "approval.approve", json.RawMessage(`{"id":"`+req.ID+`"}`))
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = p.ExecCLI(ctx, []string{"approval", "approve", req.ID})
	require.ErrorIs(t, err, ErrPermissionDenied)

	got, err := p.Approvals.Get(req.ID)
	require.NoError(t, err)
	require.Equal(t, approval.StatusPending, got.Status)

	_, err = p.Call(ctx, "org.list", nil)
	require.NoError(t, err)

	inactive := agentsOnly
	inactive.Active = false
	_, err = p.Call(WithCaller(context.Background(), inactive), "org.list", nil)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCallWithCallerBindsActingIdentity(t *testing.T) {
	p := newTestPlatform(t)
	req, err := p.Approvals.Create(context.Background(), approval.CreateInput{Title: "Grant access", RequesterID: "nova", Approvers: []string{"root", "bob"}})
	require.NoError(t, err)
	ctx := WithCaller(context.Background(), admin.Admin{Username: "root", Role: admin.RoleSuperAdmin, Active: true})

	_, err = p.Call(ctx, "approval.approve", json.RawMessage(`{"id":"`+req.ID+`","approver_id":"bob"}`))
	require.ErrorIs(t, err, ErrPermissionDenied)

	out, err := p.Call(ctx, "approval.approve", json.RawMessage(`{"id":"`+req.ID+`"}`))
	require.NoError(t, err)
	decided := out.(approval.Request)
	require.Len(t, decided.Decisions, 1)
	require.Equal(t, "root", decided.Decisions[0].ApproverID)

	created, err := p.Call(ctx, "approval.create", json.RawMessage(`{"title":"Deploy"}`))
	require.NoError(t, err)
	require.Equal(t, "root", created.(approval.Request).RequesterID)
}
