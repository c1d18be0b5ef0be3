package dingtalk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samhotchkiss/openclaw-hub/internal/channels"
	"github.com/samhotchkiss/openclaw-hub/internal/config"
	"github.com/samhotchkiss/openclaw-hub/internal/integration"
	"go.uber.org/zap"
)

const (
	ChannelID = "dingtalk"

	maxCallbackBytes = 1 << 20
)

// Options configures the plugin. AppSecret is required.
type Options struct {
	AppSecret     string
	CallbackToken string
	RobotWebhook  string
	RobotSecret   string
	HTTPClient    *http.Client
}

// OptionsFromConfig maps service configuration onto plugin options.
func OptionsFromConfig(cfg config.DingTalkConfig) Options {
	return Options{
		AppSecret:     cfg.AppSecret,
		CallbackToken: cfg.CallbackToken,
		RobotWebhook:  cfg.RobotWebhook,
		RobotSecret:   cfg.RobotSecret,
	}
}

// Callback is the JSON body DingTalk posts for a robot @-mention.
type Callback struct {
	MsgID                     string       `json:"msgId"`
	MsgType                   string       `json:"msgtype"`
	Text                      CallbackText `json:"text"`
	CreateAt                  int64        `json:"createAt"`
	ConversationType          string       `json:"conversationType"`
	ConversationID            string       `json:"conversationId"`
	ConversationTitle         string       `json:"conversationTitle,omitempty"`
	SenderID                  string       `json:"senderId"`
	SenderStaffID             string       `json:"senderStaffId,omitempty"`
	SenderNick                string       `json:"senderNick,omitempty"`
	ChatbotUserID             string       `json:"chatbotUserId,omitempty"`
	SessionWebhook            string       `json:"sessionWebhook,omitempty"`
	SessionWebhookExpiredTime int64        `json:"sessionWebhookExpiredTime,omitempty"`
}

type CallbackText struct {
	Content string `json:"content"`
}

type sessionWebhook struct {
	url       string
	expiresAt time.Time
}

// Plugin is the DingTalk channel plugin.
type Plugin struct {
	opts   Options
	auth   *CallbackAuthenticator
	robot  *RobotClient
	logger *zap.Logger

	mu       sync.RWMutex
	deliver  integration.DeliverFunc
	sessions map[string]sessionWebhook

	Now func() time.Time
}

// New builds the plugin.
func New(opts Options) (*Plugin, error) {
	if strings.TrimSpace(opts.AppSecret) == "" {
		return nil, errors.New("dingtalk: app secret is required")
	}
	return &Plugin{
		opts:     opts,
		auth:     NewCallbackAuthenticator(opts.AppSecret, opts.CallbackToken),
		robot:    &RobotClient{HTTPClient: opts.HTTPClient},
		logger:   zap.NewNop(),
		sessions: make(map[string]sessionWebhook),
		Now:      time.Now,
	}, nil
}

func (p *Plugin) ID() string { return ChannelID }

// Register mounts the callback endpoint, the channel and a send method.
func (p *Plugin) Register(api integration.PluginAPI) error {
	p.logger = api.Logger()
	if err := api.RegisterChannel(p); err != nil {
		return err
	}
	if err := api.RegisterHTTPHandler("/callback", http.HandlerFunc(p.handleCallback)); err != nil {
		return err
	}
	return api.RegisterRPCMethod("dingtalk.send", p.sendRPC)
}

// Start accepts callbacks until ctx is cancelled.
func (p *Plugin) Start(ctx context.Context, deliver integration.DeliverFunc) error {
	p.mu.Lock()
	p.deliver = deliver
	p.mu.Unlock()
	p.logger.Info("dingtalk channel started")

	<-ctx.Done()

	p.mu.Lock()
	p.deliver = nil
	p.mu.Unlock()
	return ctx.Err()
}

// Send replies through the chat's session webhook when one is still valid,
// otherwise through the configured robot webhook.
func (p *Plugin) Send(ctx context.Context, msg integration.OutboundMessage) error {
	target, secret, err := p.webhookFor(msg.ChatID)
	if err != nil {
		return err
	}
	signed, err := p.robot.SignedURL(target, secret)
	if err != nil {
		return err
	}

	payload := textMessage(msg.Text)
	if msg.Markdown {
		payload = markdownMessage(msg.Title, msg.Text)
	}
	if err := p.robot.post(ctx, signed, payload); err != nil {
		return err
	}
	p.logger.Debug("dingtalk message sent", zap.String("chat_id", msg.ChatID), zap.String("agent_id", msg.AgentID))
	return nil
}

func (p *Plugin) webhookFor(chatID string) (string, string, error) {
	if chatID != "" {
		p.mu.RLock()
		session, ok := p.sessions[chatID]
		p.mu.RUnlock()
		if ok && p.Now().Before(session.expiresAt) {
			return session.url, "", nil
		}
	}
	if p.opts.RobotWebhook == "" {
		return "", "", fmt.Errorf("%w: %s", ErrNoWebhook, chatID)
	}
	return p.opts.RobotWebhook, p.opts.RobotSecret, nil
}

type sendParams struct {
	ChatID   string `json:"chat_id,omitempty"`
	Text     string `json:"text"`
	Markdown bool   `json:"markdown,omitempty"`
	Title    string `json:"title,omitempty"`
}

func (p *Plugin) sendRPC(ctx context.Context, raw json.RawMessage) (any, error) {
	var params sendParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: invalid params: %v", integration.ErrValidation, err)
	}
	if strings.TrimSpace(params.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", integration.ErrValidation)
	}
	err := p.Send(ctx, integration.OutboundMessage{
		Channel:  ChannelID,
		ChatID:   params.ChatID,
		Text:     params.Text,
		Markdown: params.Markdown,
		Title:    params.Title,
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type callbackResponse struct {
	MessageID string              `json:"message_id"`
	Decisions []channels.Decision `json:"decisions"`
}

func (p *Plugin) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	if err := p.auth.Verify(r.Header.Get(TimestampHeader), r.Header.Get(SignatureHeader), r.Header.Get(TokenHeader)); err != nil {
		p.logger.Warn("rejected dingtalk callback", zap.Error(err))
		sendJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		sendJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid callback body"})
		return
	}

	p.mu.RLock()
	deliver := p.deliver
	p.mu.RUnlock()
	if deliver == nil {
		sendJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "dingtalk channel is not running"})
		return
	}

	p.rememberSession(cb)
	msg := p.toMessage(cb)
	decisions, err := deliver(r.Context(), msg)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, channels.ErrRateLimited):
			status = http.StatusTooManyRequests
		case errors.Is(err, channels.ErrValidation):
			status = http.StatusBadRequest
		}
		sendJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	sendJSON(w, http.StatusOK, callbackResponse{MessageID: msg.ID, Decisions: decisions})
}

func (p *Plugin) toMessage(cb Callback) channels.Message {
	sender := cb.SenderStaffID
	if sender == "" {
		sender = cb.SenderID
	}
	received := p.Now().UTC()
	if cb.CreateAt > 0 {
		received = time.UnixMilli(cb.CreateAt).UTC()
	}
	id := cb.MsgID
	if id == "" {
		id = uuid.NewString()
	}
	return channels.Message{
		ID:         id,
		Channel:    ChannelID,
		AccountID:  cb.ChatbotUserID,
		ChatID:     cb.ConversationID,
		SenderID:   sender,
		SenderName: cb.SenderNick,
		Text:       strings.TrimSpace(cb.Text.Content),
		ReceivedAt: received,
	}
}

func (p *Plugin) rememberSession(cb Callback) {
	if cb.ConversationID == "" || cb.SessionWebhook == "" || cb.SessionWebhookExpiredTime <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[cb.ConversationID] = sessionWebhook{
		url:       cb.SessionWebhook,
		expiresAt: time.UnixMilli(cb.SessionWebhookExpiredTime),
	}
}

func sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
