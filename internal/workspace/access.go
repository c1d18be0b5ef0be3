package workspace

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/registry"
)

// Operation is the kind of file access being checked.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// ParseOperation normalizes op. Empty means read.
func ParseOperation(op string) (Operation, error) {
	switch parsed := Operation(strings.ToLower(strings.TrimSpace(op))); parsed {
	case "":
		return OpRead, nil
	case OpRead, OpWrite:
		return parsed, nil
	default:
		return "", fmt.Errorf("%w: operation must be read or write, got %q", ErrValidation, op)
	}
}

// AccessPolicy lists glob rules for one agent. Deny rules win over allow
// rules; an empty Allow list allows everything not denied.
type AccessPolicy struct {
	AgentID   string    `json:"agent_id"`
	Allow     []string  `json:"allow,omitempty"`
	Deny      []string  `json:"deny,omitempty"`
	ReadOnly  bool      `json:"read_only"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultAccessPolicy applies to agents without an explicit policy.
var DefaultAccessPolicy = AccessPolicy{
	Deny: []string{"**/.env", "**/*.key", ".git/**"},
}

// AccessDecision explains a CheckAccess result.
type AccessDecision struct {
	Allowed        bool   `json:"allowed"`
	Path           string `json:"path"`
	Reason         string `json:"reason"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}

// AccessControl evaluates per-agent path policies.
type AccessControl struct {
	policies *registry.Repository[AccessPolicy]

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp

	Now func() time.Time
}

// NewAccessControl returns a controller with no explicit policies.
func NewAccessControl() *AccessControl {
	return &AccessControl{
		policies: registry.New(func(p AccessPolicy) string { return p.AgentID }, registry.WithClone(func(p AccessPolicy) AccessPolicy {
			p.Allow = append([]string(nil), p.Allow...)
			p.Deny = append([]string(nil), p.Deny...)
			return p
		})),
		compiled: make(map[string]*regexp.Regexp),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetPolicy installs or replaces an agent's policy.
func (ac *AccessControl) SetPolicy(policy AccessPolicy) (AccessPolicy, error) {
	policy.AgentID = strings.TrimSpace(policy.AgentID)
	if policy.AgentID == "" {
		return AccessPolicy{}, fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	for _, pattern := range append(append([]string(nil), policy.Allow...), policy.Deny...) {
		if strings.TrimSpace(pattern) == "" {
			return AccessPolicy{}, fmt.Errorf("%w: empty pattern", ErrValidation)
		}
		if _, err := ac.compile(pattern); err != nil {
			return AccessPolicy{}, err
		}
	}
	policy.UpdatedAt = ac.Now()

	if ac.policies.Has(policy.AgentID) {
		return ac.policies.Update(policy.AgentID, func(stored *AccessPolicy) error {
			*stored = policy
			return nil
		})
	}
	if err := ac.policies.Insert(policy); err != nil {
		return AccessPolicy{}, err
	}
	return policy, nil
}

// Policy returns the policy in force for an agent and whether it is explicit.
func (ac *AccessControl) Policy(agentID string) (AccessPolicy, bool) {
	policy, err := ac.policies.Get(agentID)
	if err != nil {
		fallback := DefaultAccessPolicy
		fallback.AgentID = agentID
		return fallback, false
	}
	return policy, true
}

// RemovePolicy reverts an agent to the default policy.
func (ac *AccessControl) RemovePolicy(agentID string) error {
	_, err := ac.policies.Delete(agentID)
	return err
}

// ListPolicies returns every explicit policy.
func (ac *AccessControl) ListPolicies() []AccessPolicy {
	return ac.policies.List()
}

// CheckAccess decides whether agentID may perform op on a workspace-relative
// path. Unknown operations are denied.
func (ac *AccessControl) CheckAccess(agentID, filePath string, op Operation) AccessDecision {
	op, err := ParseOperation(string(op))
	if err != nil {
		return AccessDecision{Allowed: false, Path: filePath, Reason: err.Error()}
	}
	normalized, err := normalizePath(filePath)
	if err != nil {
		return AccessDecision{Allowed: false, Path: filePath, Reason: err.Error()}
	}
	policy, _ := ac.Policy(agentID)

	for _, pattern := range policy.Deny {
		if ac.matches(pattern, normalized) {
			return AccessDecision{Path: normalized, Reason: "denied by rule", MatchedPattern: pattern}
		}
	}
	if op == OpWrite && policy.ReadOnly {
		return AccessDecision{Path: normalized, Reason: "workspace is read-only for this agent"}
	}
	if len(policy.Allow) == 0 {
		return AccessDecision{Allowed: true, Path: normalized, Reason: "no allow rules configured"}
	}
	for _, pattern := range policy.Allow {
		if ac.matches(pattern, normalized) {
			return AccessDecision{Allowed: true, Path: normalized, Reason: "allowed by rule", MatchedPattern: pattern}
		}
	}
	return AccessDecision{Path: normalized, Reason: "no allow rule matched"}
}

func (ac *AccessControl) matches(pattern, normalized string) bool {
	re, err := ac.compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(normalized)
}

func (ac *AccessControl) compile(pattern string) (*regexp.Regexp, error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if re, ok := ac.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(globToRegexp(pattern))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pattern %q", ErrValidation, pattern)
	}
	ac.compiled[pattern] = re
	return re, nil
}

// globToRegexp translates a workspace glob. "**" spans directories, "*"
// stays within one segment, "?" is one non-separator character and every
// other character is literal.
func globToRegexp(pattern string) string {
	pattern = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(pattern), "\\", "/"), "/")

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 3
		case strings.HasPrefix(pattern[i:], "/**") && i+3 == len(pattern):
			b.WriteString("(?:/.*)?")
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			b.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			b.WriteString("[^/]")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}
	b.WriteString("$")
	return b.String()
}
