package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestManager(now *time.Time) *Manager {
	m := NewManager(time.Hour, nil)
	m.BcryptCost = bcrypt.MinCost
	m.Now = func() time.Time { return *now }
	return m
}

func TestCreateAdminValidatesAndRejectsDuplicates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(&now)

	_, err := m.CreateAdmin(CreateAdminInput{Username: "", Password: "password123"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = m.CreateAdmin(CreateAdminInput{Username: "sam", Password: "short"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = m.CreateAdmin(CreateAdminInput{Username: "sam", Password: "password123", Role: "god"})
	require.ErrorIs(t, err, ErrValidation)

	a, err := m.CreateAdmin(CreateAdminInput{Username: "sam", Password: "password123"})
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, a.Role)
	require.True(t, a.Active)
	require.NotEmpty(t, a.PasswordHash)

	_, err = m.CreateAdmin(CreateAdminInput{Username: "SAM", Password: "password123"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestAuthenticateAndValidateSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(&now)

	_, err := m.CreateAdmin(CreateAdminInput{Username: "sam", Password: "password123"})
	require.NoError(t, err)

	_, err = m.Authenticate("sam", "wrong-password", "127.0.0.1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Authenticate("nobody", "password123", "127.0.0.1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	session, err := m.Authenticate("sam", "password123", "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Hour), session.ExpiresAt)

	a, err := m.ValidateSession(session.Token)
	require.NoError(t, err)
	require.Equal(t, "sam", a.Username)
	require.NotNil(t, a.LastLoginAt)

	now = now.Add(2 * time.Hour)
	_, err = m.ValidateSession(session.Token)
	require.ErrorIs(t, err, ErrSessionExpired)
	_, err = m.ValidateSession(session.Token)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogoutPruneAndDeactivate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(&now)

	a, err := m.CreateAdmin(CreateAdminInput{Username: "ops", Password: "password123", Role: RoleOperator})
	require.NoError(t, err)

	first, err := m.Authenticate("ops", "password123", "")
	require.NoError(t, err)
	_, err = m.Authenticate("ops", "password123", "")
	require.NoError(t, err)
	require.Len(t, m.ActiveSessions(a.ID), 2)

	require.NoError(t, m.Logout(first.Token))
	require.Len(t, m.ActiveSessions(a.ID), 1)

	require.Equal(t, 0, m.PruneSessions(now))
	require.Equal(t, 1, m.PruneSessions(now.Add(time.Hour)))
	require.Empty(t, m.ActiveSessions(a.ID))

	third, err := m.Authenticate("ops", "password123", "")
	require.NoError(t, err)
	require.NoError(t, m.Deactivate(a.ID))
	_, err = m.ValidateSession(third.Token)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Authenticate("ops", "password123", "")
	require.ErrorIs(t, err, ErrInactive)
}

func TestPermissions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(&now)

	root, err := m.CreateAdmin(CreateAdminInput{Username: "root", Password: "password123", Role: RoleSuperAdmin})
	require.NoError(t, err)
	require.True(t, root.HasPermission(PermManageAdmins))

	op, err := m.CreateAdmin(CreateAdminInput{Username: "op", Password: "password123", Role: RoleOperator})
	require.NoError(t, err)
	require.True(t, op.HasPermission(PermModerate))
	require.False(t, op.HasPermission(PermApprove))

	op, err = m.Grant(op.ID, PermApprove)
	require.NoError(t, err)
	require.True(t, op.HasPermission(PermApprove))

	op, err = m.Revoke(op.ID, PermApprove)
	require.NoError(t, err)
	require.False(t, op.HasPermission(PermApprove))

	op, err = m.Revoke(op.ID, PermModerate)
	require.NoError(t, err)
	require.True(t, op.HasPermission(PermModerate))
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(&now)

	created, err := m.EnsureBootstrapAdmin("", "password123")
	require.NoError(t, err)
	require.False(t, created)

	created, err = m.EnsureBootstrapAdmin("owner", "password123")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, RoleSuperAdmin, m.List()[0].Role)

	created, err = m.EnsureBootstrapAdmin("second", "password123")
	require.NoError(t, err)
	require.False(t, created)
}
