package workspace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	groupInfoFile    = "GROUP_INFO.md"
	membersFile      = "MEMBERS.md"
	sharedMemoryFile = "SHARED_MEMORY.md"
	docsDir          = "docs"
	knowledgeDir     = "knowledge"
)

var (
	infoFieldPattern  = regexp.MustCompile(`(?m)^- \*\*([A-Za-z ]+)\*\*: ?(.*)$`)
	infoTitlePattern  = regexp.MustCompile(`(?m)^# Group: (.+)$`)
	memberLinePattern = regexp.MustCompile(`^- (\S+)(?: \(([^)]*)\))?(?: \[([a-z0-9_-]+)\])?\s*$`)
	memberRolePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

const descriptionHeading = "\n## Description\n"

// GroupMember is one participant of a group workspace.
type GroupMember struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// GroupInfo describes a group chat that has a shared workspace.
type GroupInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Channel     string        `json:"channel,omitempty"`
	Description string        `json:"description,omitempty"`
	OwnerID     string        `json:"owner_id,omitempty"`
	Members     []GroupMember `json:"members,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// GroupWorkspace is a group's parsed state plus its location on disk.
type GroupWorkspace struct {
	GroupInfo
	Dir          string   `json:"dir"`
	SharedMemory string   `json:"shared_memory,omitempty"`
	Docs         []string `json:"docs"`
	Knowledge    []string `json:"knowledge"`
}

func (m *Manager) groupsRoot() string {
	return filepath.Join(m.Root, "groups")
}

// GroupDir returns the directory of a group workspace.
func (m *Manager) GroupDir(groupID string) (string, error) {
	id, err := sanitizeID(groupID)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.groupsRoot(), id), nil
}

// CreateGroupWorkspace scaffolds <root>/groups/<id>/ with its Markdown files
// and docs/ and knowledge/ folders.
func (m *Manager) CreateGroupWorkspace(info GroupInfo) (GroupWorkspace, error) {
	if strings.TrimSpace(info.Name) == "" {
		return GroupWorkspace{}, fmt.Errorf("%w: group name is required", ErrValidation)
	}
	id, err := sanitizeID(info.ID)
	if err != nil {
		return GroupWorkspace{}, err
	}
	dir := filepath.Join(m.groupsRoot(), id)
	if _, err := os.Stat(dir); err == nil {
		return GroupWorkspace{}, fmt.Errorf("%w: group workspace %s", ErrDuplicate, id)
	}

	info.ID = id
	info.Name = singleLine(info.Name)
	info.Channel = singleLine(info.Channel)
	info.OwnerID = singleLine(info.OwnerID)
	if strings.ContainsAny(info.OwnerID, " \t\r\n") {
		return GroupWorkspace{}, fmt.Errorf("%w: owner id must not contain spaces", ErrValidation)
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	for _, member := range info.Members {
		if err := validateRole(cleanMember(member).Role); err != nil {
			return GroupWorkspace{}, err
		}
	}
	info.Members = dedupeMembers(info.Members)
	if info.OwnerID != "" && findMember(info.Members, info.OwnerID) < 0 {
		info.Members = append([]GroupMember{{ID: info.OwnerID, Role: "owner"}}, info.Members...)
	}

	for _, sub := range []string{docsDir, knowledgeDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return GroupWorkspace{}, fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}
	if err := writeFileAtomic(filepath.Join(dir, groupInfoFile), []byte(renderGroupInfo(info))); err != nil {
		return GroupWorkspace{}, err
	}
	if err := writeFileAtomic(filepath.Join(dir, membersFile), []byte(renderMembers(info.Members))); err != nil {
		return GroupWorkspace{}, err
	}
	sharedMemory := "# Shared Memory\n\nFacts and decisions this group wants every agent to remember.\n"
	if err := writeFileAtomic(filepath.Join(dir, sharedMemoryFile), []byte(sharedMemory)); err != nil {
		return GroupWorkspace{}, err
	}

	m.Logger.Info("group workspace created",
		zap.String("group_id", id),
		zap.Int("members", len(info.Members)))
	return m.LoadGroupWorkspace(id)
}

// LoadGroupWorkspace parses a group's Markdown files back into a GroupWorkspace.
func (m *Manager) LoadGroupWorkspace(groupID string) (GroupWorkspace, error) {
	dir, err := m.GroupDir(groupID)
	if err != nil {
		return GroupWorkspace{}, err
	}
	infoData, err := os.ReadFile(filepath.Join(dir, groupInfoFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return GroupWorkspace{}, fmt.Errorf("%w: group workspace %s", ErrNotFound, groupID)
		}
		return GroupWorkspace{}, err
	}
	info := parseGroupInfo(string(infoData))

	membersData, err := os.ReadFile(filepath.Join(dir, membersFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return GroupWorkspace{}, err
	}
	info.Members = parseMembers(string(membersData))

	ws := GroupWorkspace{GroupInfo: info, Dir: dir}
	if shared, err := os.ReadFile(filepath.Join(dir, sharedMemoryFile)); err == nil {
		ws.SharedMemory = string(shared)
	}
	ws.Docs = listMarkdown(filepath.Join(dir, docsDir))
	ws.Knowledge = listMarkdown(filepath.Join(dir, knowledgeDir))
	return ws, nil
}

// ListGroupWorkspaces loads every group workspace, sorted by id. Unparseable
// folders are skipped.
func (m *Manager) ListGroupWorkspaces() ([]GroupWorkspace, error) {
	entries, err := os.ReadDir(m.groupsRoot())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []GroupWorkspace{}, nil
		}
		return nil, err
	}
	out := make([]GroupWorkspace, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ws, err := m.LoadGroupWorkspace(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, ws)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddGroupMember appends a member and rewrites MEMBERS.md.
func (m *Manager) AddGroupMember(groupID string, member GroupMember) (GroupWorkspace, error) {
	member = cleanMember(member)
	if member.ID == "" || strings.ContainsAny(member.ID, " \t\r\n") {
		return GroupWorkspace{}, fmt.Errorf("%w: member id is required and must not contain spaces", ErrValidation)
	}
	if err := validateRole(member.Role); err != nil {
		return GroupWorkspace{}, err
	}
	ws, err := m.LoadGroupWorkspace(groupID)
	if err != nil {
		return GroupWorkspace{}, err
	}
	if findMember(ws.Members, member.ID) >= 0 {
		return GroupWorkspace{}, fmt.Errorf("%w: %s is already a member", ErrDuplicate, member.ID)
	}
	ws.Members = append(ws.Members, member)
	if err := writeFileAtomic(filepath.Join(ws.Dir, membersFile), []byte(renderMembers(ws.Members))); err != nil {
		return GroupWorkspace{}, err
	}
	return ws, nil
}

// RemoveGroupMember drops a member and rewrites MEMBERS.md. The owner cannot
// be removed.
func (m *Manager) RemoveGroupMember(groupID, memberID string) (GroupWorkspace, error) {
	ws, err := m.LoadGroupWorkspace(groupID)
	if err != nil {
		return GroupWorkspace{}, err
	}
	idx := findMember(ws.Members, memberID)
	if idx < 0 {
		return GroupWorkspace{}, fmt.Errorf("%w: member %s", ErrNotFound, memberID)
	}
	if ws.OwnerID != "" && ws.OwnerID == memberID {
		return GroupWorkspace{}, fmt.Errorf("%w: cannot remove group owner", ErrValidation)
	}
	ws.Members = append(ws.Members[:idx], ws.Members[idx+1:]...)
	if err := writeFileAtomic(filepath.Join(ws.Dir, membersFile), []byte(renderMembers(ws.Members))); err != nil {
		return GroupWorkspace{}, err
	}
	return ws, nil
}

// DeleteGroupWorkspace removes a group folder and everything in it.
func (m *Manager) DeleteGroupWorkspace(groupID string) error {
	dir, err := m.GroupDir(groupID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, groupInfoFile)); err != nil {
		return fmt.Errorf("%w: group workspace %s", ErrNotFound, groupID)
	}
	return os.RemoveAll(dir)
}

// WriteGroupDoc stores a document under the group's docs/ folder.
func (m *Manager) WriteGroupDoc(groupID, name, content string) (string, error) {
	dir, err := m.GroupDir(groupID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(dir, groupInfoFile)); err != nil {
		return "", fmt.Errorf("%w: group workspace %s", ErrNotFound, groupID)
	}
	normalized, target, err := resolvePath(filepath.Join(dir, docsDir), name)
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(target, []byte(content)); err != nil {
		return "", err
	}
	return path.Join(docsDir, normalized), nil
}

func renderGroupInfo(info GroupInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Group: %s\n\n", info.Name)
	fmt.Fprintf(&b, "- **ID**: %s\n", info.ID)
	fmt.Fprintf(&b, "- **Channel**: %s\n", info.Channel)
	fmt.Fprintf(&b, "- **Owner**: %s\n", info.OwnerID)
	fmt.Fprintf(&b, "- **Created**: %s\n", info.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString("\n## Description\n\n")
	b.WriteString(strings.TrimSpace(info.Description))
	b.WriteString("\n")
	return b.String()
}

// parseGroupInfo reads fields from the header only, so description text can
// never override them.
func parseGroupInfo(content string) GroupInfo {
	var info GroupInfo
	content = strings.ReplaceAll(content, "\r\n", "\n")
	header, description, _ := strings.Cut(content, descriptionHeading)
	if match := infoTitlePattern.FindStringSubmatch(header); match != nil {
		info.Name = strings.TrimSpace(match[1])
	}
	seen := make(map[string]bool)
	for _, match := range infoFieldPattern.FindAllStringSubmatch(header, -1) {
		key := strings.ToLower(strings.TrimSpace(match[1]))
		if seen[key] {
			continue
		}
		seen[key] = true
		value := strings.TrimSpace(match[2])
		switch key {
		case "id":
			info.ID = value
		case "channel":
			info.Channel = value
		case "owner":
			info.OwnerID = value
		case "created":
			if parsed, err := time.Parse(time.RFC3339, value); err == nil {
				info.CreatedAt = parsed
			}
		}
	}
	info.Description = strings.TrimSpace(description)
	return info
}

func renderMembers(members []GroupMember) string {
	var b strings.Builder
	b.WriteString("# Members\n\n")
	for _, member := range members {
		b.WriteString("- ")
		b.WriteString(member.ID)
		if member.Name != "" {
			fmt.Fprintf(&b, " (%s)", member.Name)
		}
		if member.Role != "" {
			fmt.Fprintf(&b, " [%s]", member.Role)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func parseMembers(content string) []GroupMember {
	members := make([]GroupMember, 0)
	for _, line := range strings.Split(content, "\n") {
		match := memberLinePattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if match == nil {
			continue
		}
		members = append(members, GroupMember{ID: match[1], Name: match[2], Role: match[3]})
	}
	return members
}

func dedupeMembers(members []GroupMember) []GroupMember {
	out := make([]GroupMember, 0, len(members))
	for _, member := range members {
		member = cleanMember(member)
		if member.ID == "" || strings.ContainsAny(member.ID, " \t\r\n") || findMember(out, member.ID) >= 0 {
			continue
		}
		out = append(out, member)
	}
	return out
}

var memberNameCleaner = strings.NewReplacer("(", "", ")", "", "\n", " ")

func cleanMember(member GroupMember) GroupMember {
	member.ID = strings.TrimSpace(member.ID)
	member.Name = strings.TrimSpace(memberNameCleaner.Replace(member.Name))
	member.Role = strings.Join(strings.Fields(strings.ToLower(member.Role)), "_")
	return member
}

// validateRole accepts roles that survive the MEMBERS.md round trip.
func validateRole(role string) error {
	if role != "" && !memberRolePattern.MatchString(role) {
		return fmt.Errorf("%w: member role %q may only use a-z, 0-9, '_' and '-'", ErrValidation, role)
	}
	return nil
}

func singleLine(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func findMember(members []GroupMember, id string) int {
	for i, member := range members {
		if member.ID == id {
			return i
		}
	}
	return -1
}

func listMarkdown(dir string) []string {
	out := make([]string, 0)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			out = append(out, entry.Name())
		}
	}
	sort.Strings(out)
	return out
}
