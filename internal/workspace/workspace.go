// Package workspace manages agent and group workspaces on disk: bootstrap
// files injected into agent context, shared group folders, per-agent path
// access rules and knowledge documents distilled from group chat.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/samhotchkiss/openclaw-hub/internal/registry"
	"go.uber.org/zap"
)

var (
	ErrNotFound    = registry.ErrNotFound
	ErrDuplicate   = registry.ErrDuplicate
	ErrValidation  = registry.ErrValidation
	ErrInvalidPath = errors.New("invalid workspace path")
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Manager roots agent and group workspaces under one directory.
type Manager struct {
	Root   string
	Logger *zap.Logger
}

// NewManager returns a manager rooted at root.
func NewManager(root string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{Root: root, Logger: logger}
}

// AgentDir returns the workspace directory of one agent.
func (m *Manager) AgentDir(agentID string) (string, error) {
	id, err := sanitizeID(agentID)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.Root, "agents", id), nil
}

// EnsureAgent creates an agent workspace with default bootstrap files and
// returns the files it had to create.
func (m *Manager) EnsureAgent(agentID string) (string, []string, error) {
	dir, err := m.AgentDir(agentID)
	if err != nil {
		return "", nil, err
	}
	created, err := EnsureAgentWorkspace(dir)
	if err != nil {
		return "", nil, err
	}
	if len(created) > 0 {
		m.Logger.Info("agent workspace initialised", zap.String("agent_id", agentID), zap.Strings("created", created))
	}
	return dir, created, nil
}

// sanitizeID maps an external id (chat ids often contain ':' or '@') onto a
// single safe path segment.
func sanitizeID(id string) (string, error) {
	cleaned := unsafeIDChars.ReplaceAllString(strings.TrimSpace(id), "_")
	if strings.Trim(cleaned, "_-") == "" {
		return "", fmt.Errorf("%w: invalid id %q", ErrValidation, id)
	}
	return cleaned, nil
}

// normalizePath converts input to a clean slash-separated path relative to the
// workspace root. Traversal, NUL bytes and the root itself are rejected.
func normalizePath(input string) (string, error) {
	value := strings.TrimSpace(strings.ReplaceAll(input, "\\", "/"))
	if value == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(value, 0) {
		return "", fmt.Errorf("%w: invalid characters", ErrInvalidPath)
	}
	for _, segment := range strings.Split(value, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: traversal is not allowed", ErrInvalidPath)
		}
	}

	cleaned := path.Clean("/" + value)
	if cleaned == "/" {
		return "", fmt.Errorf("%w: root path is not allowed", ErrInvalidPath)
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

// resolvePath joins a normalised relative path onto root.
func resolvePath(root, input string) (string, string, error) {
	normalized, err := normalizePath(input)
	if err != nil {
		return "", "", err
	}
	return normalized, filepath.Join(root, filepath.FromSlash(normalized)), nil
}

func writeFileAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}
