package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	defaultSedimentWindow = 50
	maxKeyPoints          = 8
	maxTitleRunes         = 60
)

var triggerPhrases = []string{
	"remember this",
	"save this",
	"write this down",
	"summarize",
	"summarise",
	"记住",
	"总结",
	"沉淀",
	"记录一下",
}

var keyPointMarkers = []string{
	"decided", "decision", "agreed", "todo", "action item", "conclusion", "must",
	"决定", "结论", "待办", "共识",
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// ChatEntry is one line of group chat history.
type ChatEntry struct {
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
}

// KnowledgeDoc is a distilled document written to a group's knowledge folder.
type KnowledgeDoc struct {
	GroupID      string    `json:"group_id"`
	Title        string    `json:"title"`
	File         string    `json:"file"`
	Path         string    `json:"path"`
	Participants []string  `json:"participants"`
	KeyPoints    []string  `json:"key_points"`
	CreatedAt    time.Time `json:"created_at"`
}

// DetectTrigger reports whether text asks for the conversation to be kept,
// returning the matched phrase.
func DetectTrigger(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, phrase := range triggerPhrases {
		if strings.Contains(lower, phrase) {
			return phrase, true
		}
	}
	return "", false
}

// Sediment distils the trailing window of history into a Markdown document
// under <group>/knowledge/YYYY-MM-DD-<slug>.md. Name collisions get a numeric
// suffix.
func (m *Manager) Sediment(groupID string, history []ChatEntry, now time.Time) (KnowledgeDoc, error) {
	dir, err := m.GroupDir(groupID)
	if err != nil {
		return KnowledgeDoc{}, err
	}
	if _, err := os.Stat(filepath.Join(dir, groupInfoFile)); err != nil {
		return KnowledgeDoc{}, fmt.Errorf("%w: group workspace %s", ErrNotFound, groupID)
	}

	window := history
	if len(window) > defaultSedimentWindow {
		window = window[len(window)-defaultSedimentWindow:]
	}
	content := make([]ChatEntry, 0, len(window))
	for _, entry := range window {
		if strings.TrimSpace(entry.Text) == "" {
			continue
		}
		if _, trigger := DetectTrigger(entry.Text); trigger && len(strings.TrimSpace(entry.Text)) < 40 {
			continue
		}
		content = append(content, entry)
	}
	if len(content) == 0 {
		return KnowledgeDoc{}, fmt.Errorf("%w: nothing to sediment", ErrValidation)
	}

	doc := KnowledgeDoc{
		GroupID:      groupID,
		Title:        deriveTitle(content),
		Participants: participants(content),
		KeyPoints:    keyPoints(content),
		CreatedAt:    now.UTC(),
	}

	knowledge := filepath.Join(dir, knowledgeDir)
	if err := os.MkdirAll(knowledge, 0o755); err != nil {
		return KnowledgeDoc{}, err
	}
	base := fmt.Sprintf("%s-%s", now.UTC().Format("2006-01-02"), slugify(doc.Title))
	target, name, err := reserveName(knowledge, base)
	if err != nil {
		return KnowledgeDoc{}, err
	}
	if err := os.WriteFile(target, []byte(renderKnowledge(doc, content)), 0o644); err != nil {
		return KnowledgeDoc{}, err
	}
	doc.File = name
	doc.Path = target

	m.Logger.Info("knowledge sedimented",
		zap.String("group_id", groupID),
		zap.String("file", name),
		zap.Int("entries", len(content)))
	return doc, nil
}

func reserveName(dir, base string) (string, string, error) {
	for i := 1; i < 1000; i++ {
		name := base + ".md"
		if i > 1 {
			name = fmt.Sprintf("%s-%d.md", base, i)
		}
		target := filepath.Join(dir, name)
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return "", "", err
		}
		if err := f.Close(); err != nil {
			return "", "", err
		}
		return target, name, nil
	}
	return "", "", fmt.Errorf("%w: too many documents named %s", ErrDuplicate, base)
}

func deriveTitle(entries []ChatEntry) string {
	title := strings.TrimSpace(strings.SplitN(entries[0].Text, "\n", 2)[0])
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return title
}

func slugify(title string) string {
	slug := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(slug) > 48 {
		slug = strings.Trim(slug[:48], "-")
	}
	if slug == "" {
		return "notes"
	}
	return slug
}

func participants(entries []ChatEntry) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, entry := range entries {
		name := entry.SenderName
		if name == "" {
			name = entry.SenderID
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// keyPoints prefers messages carrying decision markers and falls back to the
// last few messages.
func keyPoints(entries []ChatEntry) []string {
	points := make([]string, 0)
	for _, entry := range entries {
		lower := strings.ToLower(entry.Text)
		for _, marker := range keyPointMarkers {
			if strings.Contains(lower, marker) {
				points = append(points, strings.TrimSpace(entry.Text))
				break
			}
		}
	}
	if len(points) == 0 {
		start := len(entries) - 5
		if start < 0 {
			start = 0
		}
		for _, entry := range entries[start:] {
			points = append(points, strings.TrimSpace(entry.Text))
		}
	}
	if len(points) > maxKeyPoints {
		points = points[len(points)-maxKeyPoints:]
	}
	return points
}

func renderKnowledge(doc KnowledgeDoc, entries []ChatEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	fmt.Fprintf(&b, "- **Date**: %s\n", doc.CreatedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "- **Group**: %s\n", doc.GroupID)
	fmt.Fprintf(&b, "- **Participants**: %s\n\n", strings.Join(doc.Participants, ", "))
	b.WriteString("## Key Points\n\n")
	for _, point := range doc.KeyPoints {
		fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(point, "\n", " "))
	}
	b.WriteString("\n## Transcript\n\n")
	for _, entry := range entries {
		name := entry.SenderName
		if name == "" {
			name = entry.SenderID
		}
		stamp := ""
		if !entry.At.IsZero() {
			stamp = entry.At.UTC().Format("15:04") + " "
		}
		fmt.Fprintf(&b, "> %s**%s**: %s\n", stamp, name, strings.ReplaceAll(strings.TrimSpace(entry.Text), "\n", " "))
	}
	return b.String()
}
