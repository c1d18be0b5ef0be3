// Package admin keeps the super-admin registry, login sessions and the
// permission model guarding platform management routes.
package admin

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samhotchkiss/openclaw-hub/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = registry.ErrNotFound
	ErrDuplicate          = registry.ErrDuplicate
	ErrValidation         = registry.ErrValidation
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
	ErrInactive           = errors.New("admin is inactive")
)

// Role is an admin's coarse privilege level.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleOperator   Role = "operator"
)

// Permission names a guarded capability.
type Permission string

const (
	PermManageAgents        Permission = "agents:manage"
	PermManageChannels      Permission = "channels:manage"
	PermManageOrganizations Permission = "organizations:manage"
	PermManageAdmins        Permission = "admins:manage"
	PermApprove             Permission = "approvals:decide"
	PermViewAudit           Permission = "audit:view"
	PermModerate            Permission = "messages:moderate"
	PermManageWorkspaces    Permission = "workspaces:manage"
)

var roleDefaults = map[Role][]Permission{
	RoleAdmin: {
		PermManageAgents, PermManageChannels, PermManageOrganizations,
		PermApprove, PermViewAudit, PermModerate, PermManageWorkspaces,
	},
	RoleOperator: {PermModerate, PermViewAudit},
}

const defaultSessionTTL = 12 * time.Hour

// Admin is a platform administrator account.
type Admin struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	DisplayName  string       `json:"display_name,omitempty"`
	Role         Role         `json:"role"`
	Permissions  []Permission `json:"permissions,omitempty"`
	PasswordHash []byte       `json:"-"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
	LastLoginAt  *time.Time   `json:"last_login_at,omitempty"`
}

// Session is an authenticated admin login.
type Session struct {
	Token      string    `json:"token"`
	AdminID    string    `json:"admin_id"`
	IP         string    `json:"ip,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// CreateAdminInput defines a new admin account.
type CreateAdminInput struct {
	Username    string       `json:"username"`
	Password    string       `json:"password"`
	DisplayName string       `json:"display_name,omitempty"`
	Role        Role         `json:"role,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Manager owns admins and their sessions.
type Manager struct {
	mu       sync.Mutex
	admins   *registry.Repository[Admin]
	sessions *registry.Repository[Session]

	SessionTTL time.Duration
	BcryptCost int
	Now        func() time.Time
	Logger     *zap.Logger
}

// NewManager builds an empty admin manager.
func NewManager(sessionTTL time.Duration, logger *zap.Logger) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		admins: registry.New(func(a Admin) string { return a.ID }, registry.WithClone(func(a Admin) Admin {
			a.Permissions = append([]Permission(nil), a.Permissions...)
			return a
		})),
		sessions:   registry.New(func(s Session) string { return s.Token }),
		SessionTTL: sessionTTL,
		BcryptCost: bcrypt.DefaultCost,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		Logger: logger,
	}
	m.admins.AddIndex("username", func(a Admin) []string { return []string{strings.ToLower(a.Username)} })
	m.sessions.AddIndex("admin", func(s Session) []string { return []string{s.AdminID} })
	return m
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now()
}

func validRole(r Role) bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleOperator:
		return true
	}
	return false
}

// CreateAdmin registers an admin with a bcrypt password hash.
func (m *Manager) CreateAdmin(input CreateAdminInput) (Admin, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return Admin{}, fmt.Errorf("%w: username is required", ErrValidation)
	}
	if len(input.Password) < 8 {
		return Admin{}, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	role := input.Role
	if role == "" {
		role = RoleAdmin
	}
	if !validRole(role) {
		return Admin{}, fmt.Errorf("%w: invalid role %q", ErrValidation, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), m.BcryptCost)
	if err != nil {
		return Admin{}, fmt.Errorf("failed to hash password: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, _ := m.admins.Lookup("username", strings.ToLower(username)); len(existing) > 0 {
		return Admin{}, fmt.Errorf("%w: username %s", ErrDuplicate, username)
	}

	a := Admin{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		Role:         role,
		Permissions:  input.Permissions,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    m.now(),
	}
	if err := m.admins.Insert(a); err != nil {
		return Admin{}, err
	}
	m.Logger.Info("admin created", zap.String("admin_id", a.ID), zap.String("role", string(role)))
	return m.admins.Get(a.ID)
}

// Count returns the number of registered admins.
func (m *Manager) Count() int {
	return m.admins.Count()
}

// Get returns one admin.
func (m *Manager) Get(id string) (Admin, error) {
	return m.admins.Get(id)
}

// List returns every admin.
func (m *Manager) List() []Admin {
	return m.admins.List()
}

// Authenticate checks credentials and opens a session.
func (m *Manager) Authenticate(username, password, ip string) (Session, error) {
	matches, _ := m.admins.Lookup("username", strings.ToLower(strings.TrimSpace(username)))
	if len(matches) == 0 {
		return Session{}, ErrInvalidCredentials
	}
	a := matches[0]
	if err := bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)); err != nil {
		m.Logger.Warn("admin login failed", zap.String("username", a.Username), zap.String("ip", ip))
		return Session{}, ErrInvalidCredentials
	}
	if !a.Active {
		return Session{}, ErrInactive
	}

	now := m.now()
	session := Session{
		Token:      uuid.NewString(),
		AdminID:    a.ID,
		IP:         ip,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.SessionTTL),
		LastSeenAt: now,
	}
	if err := m.sessions.Insert(session); err != nil {
		return Session{}, err
	}
	_, _ = m.admins.Update(a.ID, func(stored *Admin) error {
		stored.LastLoginAt = &now
		return nil
	})
	m.Logger.Info("admin logged in", zap.String("admin_id", a.ID), zap.String("ip", ip))
	return session, nil
}

// ValidateSession returns the admin behind token, touching LastSeenAt.
// Expired sessions are removed.
func (m *Manager) ValidateSession(token string) (Admin, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Admin{}, ErrInvalidCredentials
	}
	now := m.now()
	session, err := m.sessions.Update(token, func(s *Session) error {
		if !now.Before(s.ExpiresAt) {
			return ErrSessionExpired
		}
		s.LastSeenAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			_, _ = m.sessions.Delete(token)
			return Admin{}, ErrSessionExpired
		}
		return Admin{}, ErrInvalidCredentials
	}

	a, err := m.admins.Get(session.AdminID)
	if err != nil {
		return Admin{}, ErrInvalidCredentials
	}
	if !a.Active {
		return Admin{}, ErrInactive
	}
	return a, nil
}

// Logout ends a session.
func (m *Manager) Logout(token string) error {
	_, err := m.sessions.Delete(token)
	return err
}

// PruneSessions drops every session expired at now and returns the count.
func (m *Manager) PruneSessions(now time.Time) int {
	expired := m.sessions.Filter(func(s Session) bool { return !now.Before(s.ExpiresAt) })
	for _, s := range expired {
		_, _ = m.sessions.Delete(s.Token)
	}
	return len(expired)
}

// ActiveSessions lists open sessions for one admin.
func (m *Manager) ActiveSessions(adminID string) []Session {
	sessions, _ := m.sessions.Lookup("admin", adminID)
	return sessions
}

// Deactivate disables an admin and drops its sessions.
func (m *Manager) Deactivate(adminID string) error {
	if _, err := m.admins.Update(adminID, func(a *Admin) error {
		a.Active = false
		return nil
	}); err != nil {
		return err
	}
	for _, s := range m.ActiveSessions(adminID) {
		_, _ = m.sessions.Delete(s.Token)
	}
	return nil
}

// HasPermission reports whether the admin may use perm. Super admins hold
// every permission.
func (a Admin) HasPermission(perm Permission) bool {
	if !a.Active {
		return false
	}
	if a.Role == RoleSuperAdmin {
		return true
	}
	for _, p := range roleDefaults[a.Role] {
		if p == perm {
			return true
		}
	}
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Grant adds an explicit permission.
func (m *Manager) Grant(adminID string, perm Permission) (Admin, error) {
	return m.admins.Update(adminID, func(a *Admin) error {
		for _, p := range a.Permissions {
			if p == perm {
				return nil
			}
		}
		a.Permissions = append(a.Permissions, perm)
		return nil
	})
}

// Revoke removes an explicit permission. Role defaults are unaffected.
func (m *Manager) Revoke(adminID string, perm Permission) (Admin, error) {
	return m.admins.Update(adminID, func(a *Admin) error {
		kept := a.Permissions[:0]
		for _, p := range a.Permissions {
			if p != perm {
				kept = append(kept, p)
			}
		}
		a.Permissions = kept
		return nil
	})
}

// EnsureBootstrapAdmin creates a super admin when none exist yet.
func (m *Manager) EnsureBootstrapAdmin(username, password string) (bool, error) {
	if m.Count() > 0 || strings.TrimSpace(username) == "" || password == "" {
		return false, nil
	}
	if _, err := m.CreateAdmin(CreateAdminInput{
		Username:    username,
		Password:    password,
		DisplayName: "Bootstrap admin",
		Role:        RoleSuperAdmin,
	}); err != nil {
		return false, err
	}
	return true, nil
}
