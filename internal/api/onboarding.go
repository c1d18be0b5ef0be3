package api

import (
	"net/http"
	"strings"
	"sync"

	"github.com/samhotchkiss/openclaw-hub/internal/onboard"
)

// OnboardingHandler edits the provider configuration file the gateway reads.
type OnboardingHandler struct {
	ConfigPath string

	mu sync.Mutex
}

type PresetResponse struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	BaseURL      string   `json:"base_url"`
	API          string   `json:"api"`
	DefaultModel string   `json:"default_model"`
	Models       []string `json:"models"`
}

// Presets GET /api/onboard/presets
func (h *OnboardingHandler) Presets(w http.ResponseWriter, r *http.Request) {
	out := make([]PresetResponse, 0)
	for _, id := range onboard.PresetIDs() {
		preset, _ := onboard.LookupPreset(id)
		models := make([]string, 0, len(preset.Models))
		for _, m := range preset.Models {
			models = append(models, m.ID)
		}
		out = append(out, PresetResponse{
			ID:           preset.ID,
			Label:        preset.Label,
			BaseURL:      preset.BaseURL,
			API:          preset.API,
			DefaultModel: preset.DefaultModel,
			Models:       models,
		})
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"presets": out, "total": len(out)})
}

// Config returns the stored configuration with API keys redacted.
// GET /api/onboard/config
func (h *OnboardingHandler) Config(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	h.mu.Lock()
	cfg, err := onboard.LoadConfig(h.ConfigPath)
	h.mu.Unlock()
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, redactConfig(cfg))
}

type applyProviderRequest struct {
	Preset     string `json:"preset"`
	APIKey     string `json:"api_key,omitempty"`
	SetDefault bool   `json:"set_default,omitempty"`
}

// ApplyProvider merges a preset into the stored configuration.
// POST /api/onboard/provider
func (h *OnboardingHandler) ApplyProvider(w http.ResponseWriter, r *http.Request) {
	var req applyProviderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.update(w, func(cfg onboard.Config) (onboard.Config, error) {
		return onboard.ApplyProvider(cfg, req.Preset, req.APIKey, req.SetDefault)
	})
}

type defaultModelRequest struct {
	Ref string `json:"ref"`
}

// SetDefaultModel POST /api/onboard/default-model
func (h *OnboardingHandler) SetDefaultModel(w http.ResponseWriter, r *http.Request) {
	var req defaultModelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.update(w, func(cfg onboard.Config) (onboard.Config, error) {
		return onboard.ApplyDefaultModel(cfg, req.Ref)
	})
}

type authProfileRequest struct {
	ID string `json:"id"`
	onboard.AuthProfile
}

// SetAuthProfile POST /api/onboard/auth-profiles
func (h *OnboardingHandler) SetAuthProfile(w http.ResponseWriter, r *http.Request) {
	var req authProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Provider) == "" {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "id and provider are required"})
		return
	}
	h.update(w, func(cfg onboard.Config) (onboard.Config, error) {
		return onboard.ApplyAuthProfile(cfg, strings.TrimSpace(req.ID), req.AuthProfile), nil
	})
}

func (h *OnboardingHandler) update(w http.ResponseWriter, apply func(onboard.Config) (onboard.Config, error)) {
	if !h.configured(w) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	cfg, err := onboard.LoadConfig(h.ConfigPath)
	if err != nil {
		sendError(w, err)
		return
	}
	next, err := apply(cfg)
	if err != nil {
		sendError(w, err)
		return
	}
	if err := onboard.SaveConfig(h.ConfigPath, next); err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, redactConfig(next))
}

func (h *OnboardingHandler) configured(w http.ResponseWriter) bool {
	if strings.TrimSpace(h.ConfigPath) == "" {
		sendJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "provider config path not configured"})
		return false
	}
	return true
}

func redactConfig(cfg onboard.Config) onboard.Config {
	out := cfg.Clone()
	for id, provider := range out.Models.Providers {
		if provider.APIKey != "" {
			provider.APIKey = "***"
			out.Models.Providers[id] = provider
		}
	}
	return out
}
