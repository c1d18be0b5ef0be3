package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/samhotchkiss/openclaw-hub/internal/channels"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPluginExists    = errors.New("plugin already registered")
	ErrNoChannelPlugin = errors.New("no plugin serves channel")
)

// DeliverFunc hands an inbound message to the routing engine.
type DeliverFunc func(ctx context.Context, msg channels.Message) ([]channels.Decision, error)

// OutboundMessage is a reply an agent sends through a channel plugin.
type OutboundMessage struct {
	Channel   string `json:"channel"`
	AccountID string `json:"account_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Text      string `json:"text"`
	Markdown  bool   `json:"markdown,omitempty"`
	Title     string `json:"title,omitempty"`
}

// ChannelPlugin connects one messaging surface. Start blocks until ctx is
// cancelled.
type ChannelPlugin interface {
	ID() string
	Start(ctx context.Context, deliver DeliverFunc) error
	Send(ctx context.Context, msg OutboundMessage) error
}

// Plugin is the registration entry point of an extension.
type Plugin interface {
	ID() string
	Register(api PluginAPI) error
}

// PluginAPI is what a plugin may touch during Register.
type PluginAPI interface {
	RegisterChannel(ch ChannelPlugin) error
	RegisterRPCMethod(name string, fn RPCMethod) error
	RegisterHTTPHandler(path string, h http.Handler) error
	Logger() *zap.Logger
}

// PluginRoute is an HTTP handler a plugin mounts under /plugins/{id}.
type PluginRoute struct {
	PluginID string
	Path     string
	Handler  http.Handler
}

type pluginAPI struct {
	platform *Platform
	pluginID string
	logger   *zap.Logger
}

func (a *pluginAPI) RegisterChannel(ch ChannelPlugin) error {
	id := strings.ToLower(strings.TrimSpace(ch.ID()))
	if id == "" {
		return fmt.Errorf("%w: channel id is required", ErrValidation)
	}
	a.platform.mu.Lock()
	defer a.platform.mu.Unlock()
	if _, exists := a.platform.channelPlugins[id]; exists {
		return fmt.Errorf("%w: channel %s", ErrPluginExists, id)
	}
	a.platform.channelPlugins[id] = ch
	return nil
}

func (a *pluginAPI) RegisterRPCMethod(name string, fn RPCMethod) error {
	return a.platform.registerRPC(name, fn)
}

func (a *pluginAPI) RegisterHTTPHandler(path string, h http.Handler) error {
	path = "/" + strings.Trim(strings.TrimSpace(path), "/")
	if h == nil {
		return fmt.Errorf("%w: handler is required", ErrValidation)
	}
	a.platform.mu.Lock()
	defer a.platform.mu.Unlock()
	for _, route := range a.platform.routes {
		if route.PluginID == a.pluginID && route.Path == path {
			return fmt.Errorf("%w: route %s", ErrPluginExists, path)
		}
	}
	a.platform.routes = append(a.platform.routes, PluginRoute{PluginID: a.pluginID, Path: path, Handler: h})
	return nil
}

func (a *pluginAPI) Logger() *zap.Logger {
	return a.logger
}

// RegisterPlugin runs a plugin's Register hook against the platform.
func (p *Platform) RegisterPlugin(plugin Plugin) error {
	id := strings.TrimSpace(plugin.ID())
	if id == "" {
		return fmt.Errorf("%w: plugin id is required", ErrValidation)
	}
	p.mu.Lock()
	if _, exists := p.plugins[id]; exists {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginExists, id)
	}
	p.plugins[id] = plugin
	p.mu.Unlock()

	api := &pluginAPI{platform: p, pluginID: id, logger: p.logger.Named("plugin." + id)}
	if err := plugin.Register(api); err != nil {
		p.mu.Lock()
		delete(p.plugins, id)
		p.mu.Unlock()
		return fmt.Errorf("plugin %s: %w", id, err)
	}
	p.logger.Info("plugin registered", zap.String("plugin", id))
	return nil
}

// Plugins lists registered plugin ids, sorted.
func (p *Platform) Plugins() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.plugins))
	for id := range p.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PluginRoutes returns the HTTP handlers plugins registered.
func (p *Platform) PluginRoutes() []PluginRoute {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PluginRoute(nil), p.routes...)
}

// RunChannels starts every channel plugin and blocks until ctx is cancelled
// or one of them fails.
func (p *Platform) RunChannels(ctx context.Context) error {
	p.mu.RLock()
	plugins := make([]ChannelPlugin, 0, len(p.channelPlugins))
	for _, ch := range p.channelPlugins {
		plugins = append(plugins, ch)
	}
	p.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, ch := range plugins {
		ch := ch
		g.Go(func() error {
			if err := ch.Start(ctx, p.Deliver); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("channel %s: %w", ch.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Deliver routes an inbound message from any channel plugin.
func (p *Platform) Deliver(ctx context.Context, msg channels.Message) ([]channels.Decision, error) {
	return p.Channels.Route(ctx, msg)
}

// Send forwards msg to the plugin serving msg.Channel.
func (p *Platform) Send(ctx context.Context, msg OutboundMessage) error {
	channel := strings.ToLower(strings.TrimSpace(msg.Channel))
	p.mu.RLock()
	ch, ok := p.channelPlugins[channel]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChannelPlugin, channel)
	}
	return ch.Send(ctx, msg)
}

// SendAsAgent sends text through every outbound-capable binding of agentID
// and returns how many sends succeeded.
func (p *Platform) SendAsAgent(ctx context.Context, agentID, text string) (int, error) {
	targets := p.Channels.OutboundTargets(agentID)
	if len(targets) == 0 {
		return 0, fmt.Errorf("%w: agent %s has no outbound bindings", ErrNotFound, agentID)
	}
	sent := 0
	var errs []error
	for _, b := range targets {
		err := p.Send(ctx, OutboundMessage{
			Channel:   b.Channel,
			AccountID: b.AccountID,
			ChatID:    b.ChatID,
			AgentID:   agentID,
			Text:      text,
		})
		if err != nil {
			p.logger.Warn("outbound send failed",
				zap.String("agent_id", agentID),
				zap.String("binding_id", b.ID),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return 0, errors.Join(errs...)
	}
	return sent, nil
}
