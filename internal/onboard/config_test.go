package onboard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestApplyProviderConfigMergesModels(t *testing.T) {
	input := Config{
		Models: ModelsConfig{Providers: map[string]Provider{
			"deepseek": {
				BaseURL: "https://old.example/v1",
				APIKey:  "sk-keep",
				Models: []Model{
					{ID: "deepseek-chat", Name: "stale"},
					{ID: "custom-tune", Name: "My Tune"},
				},
			},
		}},
		Agents: AgentsConfig{Defaults: AgentDefaults{Models: map[string]ModelAlias{
			"deepseek/deepseek-chat": {Alias: "mine"},
		}}},
	}
	preset, ok := LookupPreset("DeepSeek")
	require.True(t, ok)

	out := ApplyProviderConfig(input, preset)

	provider := out.Models.Providers["deepseek"]
	require.Equal(t, "https://api.deepseek.com/v1", provider.BaseURL)
	require.Equal(t, "sk-keep", provider.APIKey)
	ids := make([]string, 0, len(provider.Models))
	for _, model := range provider.Models {
		ids = append(ids, model.ID)
	}
	if diff := cmp.Diff([]string{"deepseek-chat", "deepseek-reasoner", "custom-tune"}, ids); diff != "" {
		t.Fatalf("model ids mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "DeepSeek Chat", provider.Models[0].Name)

	want := map[string]ModelAlias{
		"deepseek/deepseek-chat":     {Alias: "mine"},
		"deepseek/deepseek-reasoner": {Alias: "DeepSeek R"},
	}
	if diff := cmp.Diff(want, out.Agents.Defaults.Models); diff != "" {
		t.Fatalf("aliases mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "merge", out.Models.Mode)

	require.Equal(t, "https://old.example/v1", input.Models.Providers["deepseek"].BaseURL)
	require.Len(t, input.Models.Providers["deepseek"].Models, 2)
	require.Len(t, input.Agents.Defaults.Models, 1)
}

func TestApplyDefaultModelKeepsFallbacks(t *testing.T) {
	input := Config{Agents: AgentsConfig{Defaults: AgentDefaults{Model: ModelSelection{
		Primary:   "openrouter/auto",
		Fallbacks: []string{"zai/glm-4.7", "qwen/qwen3-max"},
	}}}}

	out, err := ApplyDefaultModel(input, "zai/glm-4.7")
	require.NoError(t, err)
	require.Equal(t, "zai/glm-4.7", out.Agents.Defaults.Model.Primary)
	require.Equal(t, []string{"qwen/qwen3-max"}, out.Agents.Defaults.Model.Fallbacks)
	require.Contains(t, out.Agents.Defaults.Models, "zai/glm-4.7")
	require.Equal(t, []string{"zai/glm-4.7", "qwen/qwen3-max"}, input.Agents.Defaults.Model.Fallbacks)

	_, err = ApplyDefaultModel(input, "no-slash")
	require.ErrorIs(t, err, ErrInvalidModelRef)
}

func TestApplyProvider(t *testing.T) {
	out, err := ApplyProvider(Config{}, "moonshot", " sk-moon ", true)
	require.NoError(t, err)
	require.Equal(t, "sk-moon", out.Models.Providers["moonshot"].APIKey)
	require.Equal(t, "moonshot/kimi-k2-0905-preview", out.Agents.Defaults.Model.Primary)
	require.Equal(t, AuthProfile{Provider: "moonshot", Mode: "api_key"}, out.Auth.Profiles["moonshot:default"])
	require.Equal(t, []string{"moonshot"}, out.ProviderIDs())

	again, err := ApplyProvider(out, "moonshot", "", false)
	require.NoError(t, err)
	require.Equal(t, "sk-moon", again.Models.Providers["moonshot"].APIKey)

	_, err = ApplyProvider(Config{}, "nope", "", false)
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestApplyAuthProfileKeepsEmail(t *testing.T) {
	cfg := ApplyAuthProfile(Config{}, "anthropic:me", AuthProfile{Provider: "anthropic", Mode: "oauth", Email: "me@example.com"})
	cfg = ApplyAuthProfile(cfg, "anthropic:me", AuthProfile{Provider: "anthropic", Mode: "token"})
	require.Equal(t, AuthProfile{Provider: "anthropic", Mode: "token", Email: "me@example.com"}, cfg.Auth.Profiles["anthropic:me"])
}

func TestPresets(t *testing.T) {
	require.Equal(t, []string{"deepseek", "minimax", "moonshot", "openrouter", "qwen", "zai"}, PresetIDs())
	for _, id := range PresetIDs() {
		preset, ok := LookupPreset(id)
		require.True(t, ok)
		require.NotEmpty(t, preset.BaseURL, id)
		found := false
		for _, model := range preset.Models {
			if model.ID == preset.DefaultModel {
				found = true
			}
		}
		require.True(t, found, "default model of %s must be listed", id)
	}

	preset, _ := LookupPreset("qwen")
	preset.Models[0].Input[0] = "mutated"
	fresh, _ := LookupPreset("qwen")
	require.Equal(t, "text", fresh.Models[0].Input[0])
}

func TestSplitModelRef(t *testing.T) {
	provider, model, err := SplitModelRef("openrouter/anthropic/claude-sonnet")
	require.NoError(t, err)
	require.Equal(t, "openrouter", provider)
	require.Equal(t, "anthropic/claude-sonnet", model)

	_, _, err = SplitModelRef("/x")
	require.ErrorIs(t, err, ErrInvalidModelRef)
}

func TestLoadSaveConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := ApplyProvider(Config{}, "zai", "sk-z", true)
	require.NoError(t, err)

	for _, name := range []string{"openclaw.json", "openclaw.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveConfig(path, cfg))

		loaded, err := LoadConfig(path)
		require.NoError(t, err)
		if diff := cmp.Diff(cfg, loaded); diff != "" {
			t.Fatalf("%s round trip mismatch (-want +got):\n%s", name, diff)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "openclaw.json"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "{"))
	require.Contains(t, string(data), `"baseUrl": "https://api.z.ai/api/paas/v4"`)

	missing, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Config{}, missing)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("models: [unterminated"), 0o644))
	_, err = LoadConfig(filepath.Join(dir, "bad.yaml"))
	require.Error(t, err)
}
