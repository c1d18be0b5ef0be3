// Package integration wires the platform's subsystems into one façade and
// exposes it through an RPC method map, a CLI command map and the channel
// plugin contract.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/admin"
	"github.com/samhotchkiss/openclaw-hub/internal/approval"
	"github.com/samhotchkiss/openclaw-hub/internal/channels"
	"github.com/samhotchkiss/openclaw-hub/internal/config"
	"github.com/samhotchkiss/openclaw-hub/internal/metrics"
	"github.com/samhotchkiss/openclaw-hub/internal/org"
	"github.com/samhotchkiss/openclaw-hub/internal/ratelimit"
	"github.com/samhotchkiss/openclaw-hub/internal/registry"
	"github.com/samhotchkiss/openclaw-hub/internal/workspace"
	"go.uber.org/zap"
)

var (
	ErrNotFound   = registry.ErrNotFound
	ErrValidation = registry.ErrValidation
)

const chatHistorySize = 50

// Options configures New. Zero values fall back to package defaults.
type Options struct {
	Logger            *zap.Logger
	Metrics           *metrics.Recorder
	Limiter           ratelimit.Limiter
	ApprovalStore     approval.Store
	ApprovalTTL       time.Duration
	SessionTTL        time.Duration
	Moderation        channels.ModerationConfig
	WorkspaceRoot     string
	BootstrapMaxChars int
	// WatchBootstrap caches bootstrap files and invalidates them through
	// fsnotify.
	WatchBootstrap bool
}

// OptionsFromConfig maps service configuration onto platform options. The
// caller still supplies the logger, limiter, metrics and approval store.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ApprovalTTL: cfg.Approvals.DefaultTTL,
		SessionTTL:  cfg.Admin.SessionTTL,
		Moderation: channels.ModerationConfig{
			Timeout:       cfg.Moderation.Timeout,
			DefaultAction: channels.Verdict(cfg.Moderation.DefaultAction),
			MaxPending:    cfg.Moderation.MaxPending,
		},
		WorkspaceRoot:     cfg.WorkspaceRoot,
		BootstrapMaxChars: cfg.BootstrapMaxChars,
		WatchBootstrap:    true,
	}
}

// Platform is the façade over every subsystem.
type Platform struct {
	Orgs      *org.Service
	Admin     *admin.Manager
	Approvals *approval.Manager
	Channels  *channels.Engine
	Workspace *workspace.Manager
	Access    *workspace.AccessControl
	Loader    *workspace.Loader
	Metrics   *metrics.Recorder

	logger            *zap.Logger
	bootstrapMaxChars int

	mu             sync.RWMutex
	rpc            map[string]RPCMethod
	plugins        map[string]Plugin
	channelPlugins map[string]ChannelPlugin
	routes         []PluginRoute

	historyMu sync.Mutex
	history   map[string][]chatLine
}

type chatLine struct {
	messageID string
	entry     workspace.ChatEntry
}

// New builds a platform and restores persisted approval requests.
func New(ctx context.Context, opts Options) (*Platform, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(opts.WorkspaceRoot) == "" {
		return nil, fmt.Errorf("%w: workspace root is required", ErrValidation)
	}

	p := &Platform{
		Orgs:      org.NewService(logger.Named("org")),
		Admin:     admin.NewManager(opts.SessionTTL, logger.Named("admin")),
		Approvals: approval.NewManager(opts.ApprovalStore, opts.ApprovalTTL, logger.Named("approval")),
		Channels: channels.NewEngine(channels.EngineOptions{
			Limiter:    opts.Limiter,
			Metrics:    opts.Metrics,
			Logger:     logger.Named("channels"),
			Moderation: opts.Moderation,
		}),
		Workspace:         workspace.NewManager(opts.WorkspaceRoot, logger.Named("workspace")),
		Access:            workspace.NewAccessControl(),
		Metrics:           opts.Metrics,
		logger:            logger,
		bootstrapMaxChars: opts.BootstrapMaxChars,
		rpc:               make(map[string]RPCMethod),
		plugins:           make(map[string]Plugin),
		channelPlugins:    make(map[string]ChannelPlugin),
		history:           make(map[string][]chatLine),
	}

	if opts.WatchBootstrap {
		loader, err := workspace.NewLoader(logger.Named("bootstrap"))
		if err != nil {
			logger.Warn("bootstrap watcher unavailable; reading from disk", zap.Error(err))
		} else {
			p.Loader = loader
		}
	}

	loaded, err := p.Approvals.Load(ctx)
	if err != nil {
		p.Close()
		return nil, err
	}
	if loaded > 0 {
		logger.Info("approval requests restored", zap.Int("count", loaded))
	}

	p.Approvals.Subscribe(p.onApprovalEvent)
	p.Channels.Subscribe(p.onChannelEvent)
	p.registerBuiltinRPC()
	return p, nil
}

// Close releases timers and watchers.
func (p *Platform) Close() {
	p.Channels.Close()
	if p.Loader != nil {
		if err := p.Loader.Close(); err != nil {
			p.logger.Warn("failed to close bootstrap loader", zap.Error(err))
		}
	}
}

// Logger returns the platform logger.
func (p *Platform) Logger() *zap.Logger {
	return p.logger
}

// AgentContext ensures the agent workspace exists and renders its bootstrap
// files into a prompt section.
func (p *Platform) AgentContext(agentID string) (string, []workspace.BootstrapFile, error) {
	dir, _, err := p.Workspace.EnsureAgent(agentID)
	if err != nil {
		return "", nil, err
	}
	var files []workspace.BootstrapFile
	if p.Loader != nil {
		files, err = p.Loader.Load(dir)
	} else {
		files, err = workspace.LoadBootstrapFiles(dir)
	}
	if err != nil {
		return "", nil, err
	}
	return workspace.BuildContext(files, p.bootstrapMaxChars), files, nil
}

// BindingChangePayload is the payload of a binding_change approval request.
type BindingChangePayload struct {
	Binding channels.BindingInput `json:"binding"`
}

// RequestBinding opens an approval that creates the binding once approved.
func (p *Platform) RequestBinding(ctx context.Context, requesterID string, approvers []string, input channels.BindingInput) (approval.Request, error) {
	payload, err := json.Marshal(BindingChangePayload{Binding: input})
	if err != nil {
		return approval.Request{}, err
	}
	return p.Approvals.Create(ctx, approval.CreateInput{
		Type:        approval.TypeBindingChange,
		Title:       fmt.Sprintf("Bind %s to %s", input.AgentID, input.Channel),
		RequesterID: requesterID,
		Payload:     payload,
		Approvers:   approvers,
	})
}

func (p *Platform) onApprovalEvent(evt approval.Event) {
	if evt.Kind != approval.EventResolved {
		return
	}
	p.Metrics.ApprovalResolved(string(evt.Request.Type), string(evt.Request.Status))

	if evt.Request.Type != approval.TypeBindingChange || evt.Request.Status != approval.StatusApproved {
		return
	}
	var payload BindingChangePayload
	if err := json.Unmarshal(evt.Request.Payload, &payload); err != nil {
		p.logger.Warn("approved binding change has an unreadable payload",
			zap.String("request_id", evt.Request.ID), zap.Error(err))
		return
	}
	binding, err := p.Channels.CreateBinding(payload.Binding)
	if err != nil {
		p.logger.Warn("approved binding change could not be applied",
			zap.String("request_id", evt.Request.ID), zap.Error(err))
		return
	}
	p.logger.Info("binding created from approval",
		zap.String("request_id", evt.Request.ID),
		zap.String("binding_id", binding.ID))
}

// onChannelEvent keeps a short per-chat history and sediments it into the
// chat's group workspace when a message asks for it.
func (p *Platform) onChannelEvent(evt channels.Event) {
	if evt.Kind != channels.EventMessageRouted || evt.Message == nil || evt.Message.ChatID == "" {
		return
	}
	msg := *evt.Message
	groupID := GroupIDForChat(msg.Channel, msg.ChatID)

	p.historyMu.Lock()
	lines := p.history[groupID]
	if n := len(lines); n > 0 && lines[n-1].messageID == msg.ID {
		p.historyMu.Unlock()
		return
	}
	lines = append(lines, chatLine{messageID: msg.ID, entry: workspace.ChatEntry{
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		At:         msg.ReceivedAt,
	}})
	if len(lines) > chatHistorySize {
		lines = lines[len(lines)-chatHistorySize:]
	}
	p.history[groupID] = lines
	entries := make([]workspace.ChatEntry, len(lines))
	for i, line := range lines {
		entries[i] = line.entry
	}
	p.historyMu.Unlock()

	if _, triggered := workspace.DetectTrigger(msg.Text); !triggered {
		return
	}
	doc, err := p.Workspace.Sediment(groupID, entries, msg.ReceivedAt)
	if err != nil {
		if !errors.Is(err, workspace.ErrNotFound) {
			p.logger.Warn("knowledge sedimentation failed", zap.String("group_id", groupID), zap.Error(err))
		}
		return
	}
	p.logger.Info("chat sedimented", zap.String("group_id", groupID), zap.String("file", doc.File))
}

// ChatHistory returns the buffered history of a group chat, oldest first.
func (p *Platform) ChatHistory(groupID string) []workspace.ChatEntry {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()
	lines := p.history[groupID]
	out := make([]workspace.ChatEntry, len(lines))
	for i, line := range lines {
		out[i] = line.entry
	}
	return out
}

// GroupIDForChat is the group workspace id of a channel chat.
func GroupIDForChat(channel, chatID string) string {
	return strings.ToLower(strings.TrimSpace(channel)) + "-" + strings.TrimSpace(chatID)
}
