package onboard

import (
	"sort"
	"strings"
)

// Preset is a built-in provider definition.
type Preset struct {
	ID           string
	Label        string
	BaseURL      string
	API          string
	DefaultModel string
	Models       []Model
	Aliases      map[string]string
}

var textInput = []string{"text"}

var presets = map[string]Preset{
	"openrouter": {
		ID:           "openrouter",
		Label:        "OpenRouter",
		BaseURL:      "https://openrouter.ai/api/v1",
		API:          "openai-completions",
		DefaultModel: "auto",
		Models: []Model{
			{ID: "auto", Name: "OpenRouter Auto", Input: []string{"text", "image"}, ContextWindow: 200000, MaxTokens: 8192},
		},
		Aliases: map[string]string{"auto": "OpenRouter"},
	},
	"moonshot": {
		ID:           "moonshot",
		Label:        "Moonshot AI (Kimi)",
		BaseURL:      "https://api.moonshot.ai/v1",
		API:          "openai-completions",
		DefaultModel: "kimi-k2-0905-preview",
		Models: []Model{
			{ID: "kimi-k2-0905-preview", Name: "Kimi K2 0905 Preview", Input: textInput, ContextWindow: 256000, MaxTokens: 8192},
		},
		Aliases: map[string]string{"kimi-k2-0905-preview": "Kimi K2"},
	},
	"minimax": {
		ID:           "minimax",
		Label:        "MiniMax",
		BaseURL:      "https://api.minimax.io/anthropic",
		API:          "anthropic-messages",
		DefaultModel: "MiniMax-M2.1",
		Models: []Model{
			{ID: "MiniMax-M2.1", Name: "MiniMax M2.1", Input: textInput, ContextWindow: 200000, MaxTokens: 8192},
			{ID: "MiniMax-M2.1-lightning", Name: "MiniMax M2.1 Lightning", Input: textInput, ContextWindow: 200000, MaxTokens: 8192},
		},
		Aliases: map[string]string{"MiniMax-M2.1": "Minimax"},
	},
	"zai": {
		ID:           "zai",
		Label:        "Z.AI (GLM)",
		BaseURL:      "https://api.z.ai/api/paas/v4",
		API:          "openai-completions",
		DefaultModel: "glm-4.7",
		Models: []Model{
			{ID: "glm-4.7", Name: "GLM 4.7", Reasoning: true, Input: textInput, ContextWindow: 204800, MaxTokens: 131072},
		},
		Aliases: map[string]string{"glm-4.7": "GLM"},
	},
	"qwen": {
		ID:           "qwen",
		Label:        "Qwen (DashScope)",
		BaseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
		API:          "openai-completions",
		DefaultModel: "qwen3-max",
		Models: []Model{
			{ID: "qwen3-max", Name: "Qwen3 Max", Input: textInput, ContextWindow: 262144, MaxTokens: 65536},
			{ID: "qwen3-coder-plus", Name: "Qwen3 Coder Plus", Input: textInput, ContextWindow: 1000000, MaxTokens: 65536},
		},
		Aliases: map[string]string{"qwen3-max": "Qwen", "qwen3-coder-plus": "Qwen Coder"},
	},
	"deepseek": {
		ID:           "deepseek",
		Label:        "DeepSeek",
		BaseURL:      "https://api.deepseek.com/v1",
		API:          "openai-completions",
		DefaultModel: "deepseek-chat",
		Models: []Model{
			{ID: "deepseek-chat", Name: "DeepSeek Chat", Input: textInput, ContextWindow: 128000, MaxTokens: 8192},
			{ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", Reasoning: true, Input: textInput, ContextWindow: 128000, MaxTokens: 65536},
		},
		Aliases: map[string]string{"deepseek-chat": "DeepSeek", "deepseek-reasoner": "DeepSeek R"},
	},
}

// LookupPreset finds a preset by case-insensitive id. The returned preset
// does not share slices with the registry.
func LookupPreset(id string) (Preset, bool) {
	preset, ok := presets[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Preset{}, false
	}
	models := make([]Model, len(preset.Models))
	for i, model := range preset.Models {
		model.Input = cloneStrings(model.Input)
		models[i] = model
	}
	preset.Models = models
	aliases := make(map[string]string, len(preset.Aliases))
	for k, v := range preset.Aliases {
		aliases[k] = v
	}
	preset.Aliases = aliases
	return preset, true
}

// PresetIDs lists the built-in presets, sorted.
func PresetIDs() []string {
	ids := make([]string, 0, len(presets))
	for id := range presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
