package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "notes/today.md", want: "notes/today.md"},
		{name: "leading slash", input: "/notes/today.md", want: "notes/today.md"},
		{name: "backslashes", input: `docs\plan.md`, want: "docs/plan.md"},
		{name: "dot segments", input: "./docs/./plan.md", want: "docs/plan.md"},
		{name: "traversal", input: "../etc/passwd", wantErr: true},
		{name: "nested traversal", input: "docs/../../x", wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
		{name: "root", input: "/", wantErr: true},
		{name: "nul", input: "a\x00b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizePath(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeID(t *testing.T) {
	id, err := sanitizeID("telegram:-100123@chat")
	require.NoError(t, err)
	require.Equal(t, "telegram_-100123_chat", id)

	id, err = sanitizeID("../../etc")
	require.NoError(t, err)
	require.NotContains(t, id, "/")
	require.NotContains(t, id, "..")

	_, err = sanitizeID("///")
	require.ErrorIs(t, err, ErrValidation)
}

func TestEnsureAgentWorkspaceKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte("custom soul"), 0o644))

	created, err := EnsureAgentWorkspace(dir)
	require.NoError(t, err)
	require.Len(t, created, len(BootstrapFileNames)-1)
	require.NotContains(t, created, "SOUL.md")

	soul, err := os.ReadFile(filepath.Join(dir, "SOUL.md"))
	require.NoError(t, err)
	require.Equal(t, "custom soul", string(soul))

	again, err := EnsureAgentWorkspace(dir)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestLoadBootstrapFilesAndBuildContext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("agent rules\n"), 0o644))

	files, err := LoadBootstrapFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, len(BootstrapFileNames))
	require.False(t, files[0].Missing)
	require.Equal(t, "agent rules\n", files[0].Content)
	require.True(t, files[1].Missing)

	ctx := BuildContext(files, 0)
	require.Contains(t, ctx, "## AGENTS.md\n\nagent rules\n")
	require.Contains(t, ctx, "## SOUL.md\n\n[MISSING] Expected at: "+filepath.Join(dir, "SOUL.md"))
	require.Less(t, strings.Index(ctx, "## AGENTS.md"), strings.Index(ctx, "## MEMORY.md"))
}

func TestBuildContextTruncatesHeadAndTail(t *testing.T) {
	content := strings.Repeat("a", 700) + strings.Repeat("m", 300) + strings.Repeat("z", 200)
	files := []BootstrapFile{{Name: "MEMORY.md", Path: "/ws/MEMORY.md", Content: content}}

	out := BuildContext(files, 1000)
	require.Contains(t, out, "[...truncated, read MEMORY.md for full content...]")
	require.Contains(t, out, strings.Repeat("a", 700))
	require.NotContains(t, out, "mm")
	require.Contains(t, out, strings.Repeat("z", 200))
}

func TestManagerEnsureAgent(t *testing.T) {
	m := NewManager(t.TempDir(), nil)

	dir, created, err := m.EnsureAgent("support-bot")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(m.Root, "agents", "support-bot"), dir)
	require.Len(t, created, len(BootstrapFileNames))

	template, ok := DefaultTemplate("IDENTITY.md")
	require.True(t, ok)
	data, err := os.ReadFile(filepath.Join(dir, "IDENTITY.md"))
	require.NoError(t, err)
	require.Equal(t, template, string(data))

	_, created, err = m.EnsureAgent("support-bot")
	require.NoError(t, err)
	require.Empty(t, created)
}

func TestLoaderInvalidatesOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	_, err := EnsureAgentWorkspace(dir)
	require.NoError(t, err)

	loader, err := NewLoader(nil)
	require.NoError(t, err)
	defer loader.Close()

	files, err := loader.Load(dir)
	require.NoError(t, err)
	require.True(t, loader.Cached(dir))
	first := files[1].Content

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	time.Sleep(50 * time.Millisecond)
	require.True(t, loader.Cached(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte("rewritten"), 0o644))
	require.Eventually(t, func() bool {
		return !loader.Cached(dir)
	}, 2*time.Second, 10*time.Millisecond)

	files, err = loader.Load(dir)
	require.NoError(t, err)
	require.NotEqual(t, first, files[1].Content)
	require.Equal(t, "rewritten", files[1].Content)

	loader.Invalidate(dir)
	require.False(t, loader.Cached(dir))
	require.NoError(t, loader.Close())
}

func TestLoaderSkipsCacheWhenInvalidatedDuringRead(t *testing.T) {
	dir := t.TempDir()
	_, err := EnsureAgentWorkspace(dir)
	require.NoError(t, err)

	loader, err := NewLoader(nil)
	require.NoError(t, err)
	defer loader.Close()

	loader.beforeStore = func(abs string) {
		loader.beforeStore = nil
		require.NoError(t, os.WriteFile(filepath.Join(abs, "SOUL.md"), []byte("newer"), 0o644))
		loader.Invalidate(abs)
	}
	files, err := loader.Load(dir)
	require.NoError(t, err)
	require.NotEqual(t, "newer", files[1].Content)
	require.False(t, loader.Cached(dir), "stale read must not be cached")

	files, err = loader.Load(dir)
	require.NoError(t, err)
	require.Equal(t, "newer", files[1].Content)
}
