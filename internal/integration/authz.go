package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samhotchkiss/openclaw-hub/internal/admin"
)

var ErrPermissionDenied = errors.New("permission denied")

// methodPermissions maps a method prefix to the permission its mutations
// need. Longer prefixes win.
var methodPermissions = map[string]admin.Permission{
	"org.":        admin.PermManageOrganizations,
	"team.":       admin.PermManageOrganizations,
	"collab.":     admin.PermManageOrganizations,
	"mentor.":     admin.PermManageOrganizations,
	"binding.":    admin.PermManageChannels,
	"message.":    admin.PermManageChannels,
	"moderation.": admin.PermModerate,
	"workspace.":  admin.PermManageWorkspaces,
}

// exactPermissions override the prefix table for single methods.
var exactPermissions = map[string]admin.Permission{
	"approval.approve": admin.PermApprove,
	"approval.reject":  admin.PermApprove,
	"moderation.list":  admin.PermModerate,
}

// openMethods need nothing beyond access to the RPC surface itself.
var openMethods = map[string]bool{
	"approval.create":  true,
	"approval.get":     true,
	"approval.list":    true,
	"approval.pending": true,
	"approval.cancel":  true,
	"binding.request":  true,
	"binding.get":      true,
	"binding.list":     true,
	"inbox.list":       true,
}

var readVerbs = map[string]bool{
	"get":           true,
	"list":          true,
	"tree":          true,
	"ancestors":     true,
	"descendants":   true,
	"path":          true,
	"stats":         true,
	"collaborators": true,
}

// RequiredPermission reports the permission a caller needs for method, and
// false when the method needs none. Workspace reads stay gated because the
// REST surface gates them too. Plugin methods need PermManageAgents.
func RequiredPermission(method string) (admin.Permission, bool) {
	if perm, ok := exactPermissions[method]; ok {
		return perm, true
	}
	if openMethods[method] {
		return "", false
	}
	best := ""
	for prefix := range methodPermissions {
		if strings.HasPrefix(method, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return admin.PermManageAgents, true
	}
	if best != "workspace." {
		verb := method[strings.LastIndex(method, ".")+1:]
		if readVerbs[verb] {
			return "", false
		}
	}
	return methodPermissions[best], true
}

// Authorize checks that a may invoke method.
func Authorize(a admin.Admin, method string) error {
	perm, ok := RequiredPermission(method)
	if !ok {
		if !a.Active {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, method)
		}
		return nil
	}
	if !a.HasPermission(perm) {
		return fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, method, perm)
	}
	return nil
}

type callerKey struct{}

// WithCaller marks ctx as acting for a. Call then enforces per-method
// permissions and binds acting identities to a.Username. Contexts without a
// caller are trusted in-process callers.
func WithCaller(ctx context.Context, a admin.Admin) context.Context {
	return context.WithValue(ctx, callerKey{}, a)
}

// CallerFromContext returns the admin set by WithCaller.
func CallerFromContext(ctx context.Context) (admin.Admin, bool) {
	a, ok := ctx.Value(callerKey{}).(admin.Admin)
	return a, ok
}

// actingID resolves an acting identity param. With a caller on ctx an empty
// claim defaults to the caller and a different claim is refused.
func actingID(ctx context.Context, claimed string) (string, error) {
	claimed = strings.TrimSpace(claimed)
	a, ok := CallerFromContext(ctx)
	if !ok {
		return claimed, nil
	}
	if claimed != "" && claimed != a.Username {
		return "", fmt.Errorf("%w: acting identity must match the caller", ErrPermissionDenied)
	}
	return a.Username, nil
}
