package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultBootstrapMaxChars = 20000

	headRatio = 0.7
	tailRatio = 0.2
)

// BootstrapFileNames lists the files injected into an agent's context, in
// injection order.
var BootstrapFileNames = []string{
	"AGENTS.md",
	"SOUL.md",
	"TOOLS.md",
	"IDENTITY.md",
	"USER.md",
	"HEARTBEAT.md",
	"BOOTSTRAP.md",
	"MEMORY.md",
}

var defaultTemplates = map[string]string{
	"AGENTS.md": `# AGENTS.md - Your Workspace

This folder is home. Treat it that way.

## Every Session

1. Read SOUL.md: this is who you are.
2. Read USER.md: this is who you're helping.
3. Read MEMORY.md for long-term context.

## Safety

- Don't exfiltrate private data.
- Ask before running anything destructive.
`,
	"SOUL.md": `# SOUL.md - Who You Are

Be genuinely helpful, not performatively helpful.
Have opinions. Be resourceful before asking.
Earn trust through competence.
`,
	"TOOLS.md": `# TOOLS.md - Local Notes

Record environment specifics here: hosts, devices, preferred voices, anything
unique to this setup.
`,
	"IDENTITY.md": `# IDENTITY.md - Who Am I?

- **Name:**
- **Creature:**
- **Vibe:**
- **Emoji:**
`,
	"USER.md": `# USER.md - About Your Human

- **Name:**
- **What to call them:**
- **Timezone:**
- **Notes:**
`,
	"HEARTBEAT.md": `# HEARTBEAT.md

# Keep this file empty to skip heartbeat work.
# Add short checklist items below when something should be checked periodically.
`,
	"BOOTSTRAP.md": `# BOOTSTRAP.md - Hello, World

You just woke up. Figure out who you are with your human, fill in
IDENTITY.md and USER.md, then delete this file.
`,
	"MEMORY.md": `# MEMORY.md - Long-Term Memory

Curated notes worth keeping across sessions.
`,
}

// BootstrapFile is one bootstrap file as read from an agent workspace.
type BootstrapFile struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Missing bool   `json:"missing"`
}

// DefaultTemplate returns the template for a bootstrap file name.
func DefaultTemplate(name string) (string, bool) {
	content, ok := defaultTemplates[name]
	return content, ok
}

// EnsureAgentWorkspace creates dir and writes default templates for every
// missing bootstrap file. Existing files are never overwritten. It returns the
// names of the files it created.
func EnsureAgentWorkspace(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: workspace dir is required", ErrValidation)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	created := make([]string, 0)
	for _, name := range BootstrapFileNames {
		target := filepath.Join(dir, name)
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return created, fmt.Errorf("failed to create %s: %w", name, err)
		}
		_, writeErr := f.WriteString(defaultTemplates[name])
		closeErr := f.Close()
		if writeErr != nil {
			return created, fmt.Errorf("failed to write %s: %w", name, writeErr)
		}
		if closeErr != nil {
			return created, closeErr
		}
		created = append(created, name)
	}
	return created, nil
}

// LoadBootstrapFiles reads every bootstrap file from dir. Absent files are
// returned with Missing set.
func LoadBootstrapFiles(dir string) ([]BootstrapFile, error) {
	files := make([]BootstrapFile, 0, len(BootstrapFileNames))
	for _, name := range BootstrapFileNames {
		target := filepath.Join(dir, name)
		data, err := os.ReadFile(target)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				files = append(files, BootstrapFile{Name: name, Path: target, Missing: true})
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		files = append(files, BootstrapFile{Name: name, Path: target, Content: string(data)})
	}
	return files, nil
}

// BuildContext renders bootstrap files into one prompt section. Files longer
// than maxChars keep their first 70% and last 20% around a truncation marker.
func BuildContext(files []BootstrapFile, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultBootstrapMaxChars
	}

	var b strings.Builder
	for i, file := range files {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## ")
		b.WriteString(file.Name)
		b.WriteString("\n\n")
		if file.Missing {
			b.WriteString("[MISSING] Expected at: ")
			b.WriteString(file.Path)
			b.WriteString("\n")
			continue
		}
		b.WriteString(trimContent(file.Name, strings.TrimRight(file.Content, "\n"), maxChars))
		b.WriteString("\n")
	}
	return b.String()
}

func trimContent(name, content string, maxChars int) string {
	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}
	head := int(float64(maxChars) * headRatio)
	tail := int(float64(maxChars) * tailRatio)
	marker := fmt.Sprintf("\n\n[...truncated, read %s for full content...]\n\n", name)
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:])
}
