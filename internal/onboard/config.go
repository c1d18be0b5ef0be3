// Package onboard builds and persists the model-provider configuration an
// OpenClaw gateway reads at startup. Every Apply function is pure: it returns
// a new Config and leaves its input untouched.
package onboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownProvider = errors.New("unknown provider preset")
	ErrInvalidModelRef = errors.New("model reference must look like provider/model")
)

// Config is the persisted gateway configuration. Unknown sections are not
// preserved.
type Config struct {
	Models ModelsConfig `json:"models" yaml:"models"`
	Agents AgentsConfig `json:"agents" yaml:"agents"`
	Auth   AuthConfig   `json:"auth" yaml:"auth"`
}

type ModelsConfig struct {
	Mode      string              `json:"mode,omitempty" yaml:"mode,omitempty"`
	Providers map[string]Provider `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// Provider is one OpenAI- or Anthropic-compatible endpoint.
type Provider struct {
	BaseURL string  `json:"baseUrl" yaml:"baseUrl"`
	API     string  `json:"api,omitempty" yaml:"api,omitempty"`
	APIKey  string  `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Models  []Model `json:"models" yaml:"models"`
}

type Model struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	Reasoning     bool     `json:"reasoning" yaml:"reasoning"`
	Input         []string `json:"input,omitempty" yaml:"input,omitempty"`
	ContextWindow int      `json:"contextWindow,omitempty" yaml:"contextWindow,omitempty"`
	MaxTokens     int      `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults" yaml:"defaults"`
}

type AgentDefaults struct {
	Model  ModelSelection        `json:"model" yaml:"model"`
	Models map[string]ModelAlias `json:"models,omitempty" yaml:"models,omitempty"`
}

// ModelSelection names the primary model ref and its ordered fallbacks.
type ModelSelection struct {
	Primary   string   `json:"primary,omitempty" yaml:"primary,omitempty"`
	Fallbacks []string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

type ModelAlias struct {
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

type AuthConfig struct {
	Profiles map[string]AuthProfile `json:"profiles,omitempty" yaml:"profiles,omitempty"`
}

type AuthProfile struct {
	Provider string `json:"provider" yaml:"provider"`
	Mode     string `json:"mode" yaml:"mode"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Clone deep-copies cfg.
func (cfg Config) Clone() Config {
	out := cfg
	if cfg.Models.Providers != nil {
		out.Models.Providers = make(map[string]Provider, len(cfg.Models.Providers))
		for id, provider := range cfg.Models.Providers {
			out.Models.Providers[id] = cloneProvider(provider)
		}
	}
	out.Agents.Defaults.Model.Fallbacks = cloneStrings(cfg.Agents.Defaults.Model.Fallbacks)
	if cfg.Agents.Defaults.Models != nil {
		out.Agents.Defaults.Models = make(map[string]ModelAlias, len(cfg.Agents.Defaults.Models))
		for ref, alias := range cfg.Agents.Defaults.Models {
			out.Agents.Defaults.Models[ref] = alias
		}
	}
	if cfg.Auth.Profiles != nil {
		out.Auth.Profiles = make(map[string]AuthProfile, len(cfg.Auth.Profiles))
		for id, profile := range cfg.Auth.Profiles {
			out.Auth.Profiles[id] = profile
		}
	}
	return out
}

func cloneProvider(p Provider) Provider {
	out := p
	if p.Models != nil {
		out.Models = make([]Model, len(p.Models))
		for i, model := range p.Models {
			model.Input = cloneStrings(model.Input)
			out.Models[i] = model
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// ModelRef joins a provider id and model id.
func ModelRef(providerID, modelID string) string {
	return providerID + "/" + modelID
}

// SplitModelRef splits "provider/model". Model ids may themselves contain
// slashes (openrouter uses "vendor/model").
func SplitModelRef(ref string) (string, string, error) {
	providerID, modelID, ok := strings.Cut(strings.TrimSpace(ref), "/")
	if !ok || providerID == "" || modelID == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidModelRef, ref)
	}
	return providerID, modelID, nil
}

// ApplyAuthProfile records an auth profile. An existing email is kept when the
// new profile has none.
func ApplyAuthProfile(cfg Config, profileID string, profile AuthProfile) Config {
	out := cfg.Clone()
	if out.Auth.Profiles == nil {
		out.Auth.Profiles = make(map[string]AuthProfile)
	}
	if existing, ok := out.Auth.Profiles[profileID]; ok && profile.Email == "" {
		profile.Email = existing.Email
	}
	out.Auth.Profiles[profileID] = profile
	return out
}

// ApplyProviderConfig merges a preset's provider entry and model aliases into
// cfg. Existing api keys and user-added models survive; preset models replace
// same-id entries. User aliases are never overwritten.
func ApplyProviderConfig(cfg Config, preset Preset) Config {
	out := cfg.Clone()
	if out.Models.Providers == nil {
		out.Models.Providers = make(map[string]Provider)
	}
	if out.Models.Mode == "" {
		out.Models.Mode = "merge"
	}

	existing, had := out.Models.Providers[preset.ID]
	merged := Provider{
		BaseURL: preset.BaseURL,
		API:     preset.API,
		Models:  mergeModels(existing.Models, preset.Models),
	}
	if had {
		merged.APIKey = existing.APIKey
	}
	out.Models.Providers[preset.ID] = merged

	if out.Agents.Defaults.Models == nil {
		out.Agents.Defaults.Models = make(map[string]ModelAlias)
	}
	for _, model := range preset.Models {
		ref := ModelRef(preset.ID, model.ID)
		current, ok := out.Agents.Defaults.Models[ref]
		if ok && current.Alias != "" {
			continue
		}
		alias := preset.Aliases[model.ID]
		if alias == "" && ok {
			continue
		}
		out.Agents.Defaults.Models[ref] = ModelAlias{Alias: alias}
	}
	return out
}

func mergeModels(existing, preset []Model) []Model {
	out := make([]Model, 0, len(existing)+len(preset))
	seen := make(map[string]bool, len(preset))
	for _, model := range preset {
		model.Input = cloneStrings(model.Input)
		out = append(out, model)
		seen[model.ID] = true
	}
	for _, model := range existing {
		if seen[model.ID] {
			continue
		}
		model.Input = cloneStrings(model.Input)
		out = append(out, model)
	}
	return out
}

// ApplyDefaultModel makes ref the primary model, keeping fallbacks except ref
// itself.
func ApplyDefaultModel(cfg Config, ref string) (Config, error) {
	if _, _, err := SplitModelRef(ref); err != nil {
		return Config{}, err
	}
	out := cfg.Clone()
	out.Agents.Defaults.Model.Primary = ref
	if len(out.Agents.Defaults.Model.Fallbacks) > 0 {
		fallbacks := make([]string, 0, len(out.Agents.Defaults.Model.Fallbacks))
		for _, fallback := range out.Agents.Defaults.Model.Fallbacks {
			if fallback != ref {
				fallbacks = append(fallbacks, fallback)
			}
		}
		out.Agents.Defaults.Model.Fallbacks = fallbacks
	}
	if out.Agents.Defaults.Models == nil {
		out.Agents.Defaults.Models = make(map[string]ModelAlias)
	}
	if _, ok := out.Agents.Defaults.Models[ref]; !ok {
		out.Agents.Defaults.Models[ref] = ModelAlias{}
	}
	return out, nil
}

// ApplyProvider looks up a preset by id, merges it, optionally stores apiKey
// and optionally promotes its default model to primary.
func ApplyProvider(cfg Config, presetID, apiKey string, setDefault bool) (Config, error) {
	preset, ok := LookupPreset(presetID)
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownProvider, presetID)
	}
	out := ApplyProviderConfig(cfg, preset)
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		provider := out.Models.Providers[preset.ID]
		provider.APIKey = apiKey
		out.Models.Providers[preset.ID] = provider
	}
	out = ApplyAuthProfile(out, preset.ID+":default", AuthProfile{Provider: preset.ID, Mode: "api_key"})
	if setDefault {
		return ApplyDefaultModel(out, ModelRef(preset.ID, preset.DefaultModel))
	}
	return out, nil
}

// ProviderIDs returns configured provider ids, sorted.
func (cfg Config) ProviderIDs() []string {
	ids := make([]string, 0, len(cfg.Models.Providers))
	for id := range cfg.Models.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadConfig reads a YAML or JSON config file. A missing file yields an empty
// config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes JSON when path ends in .json and YAML otherwise.
func SaveConfig(path string, cfg Config) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
