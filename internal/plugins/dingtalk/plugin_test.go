package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/channels"
	"github.com/samhotchkiss/openclaw-hub/internal/integration"
	"github.com/stretchr/testify/require"
)

type robotServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []*http.Request
	bodies   []robotMessage
}

func newRobotServer(t *testing.T, response string) *robotServer {
	t.Helper()
	rs := &robotServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg robotMessage
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &msg)
		rs.mu.Lock()
		rs.requests = append(rs.requests, r)
		rs.bodies = append(rs.bodies, msg)
		rs.mu.Unlock()
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *robotServer) received() ([]*http.Request, []robotMessage) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]*http.Request(nil), rs.requests...), append([]robotMessage(nil), rs.bodies...)
}

func newRunningPlatform(t *testing.T, plugin *Plugin) *integration.Platform {
	t.Helper()
	p, err := integration.New(context.Background(), integration.Options{WorkspaceRoot: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	require.NoError(t, p.RegisterPlugin(plugin))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.RunChannels(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		plugin.mu.RLock()
		defer plugin.mu.RUnlock()
		return plugin.deliver != nil
	}, time.Second, 5*time.Millisecond)
	return p
}

func callbackRequest(t *testing.T, secret string, at time.Time, cb Callback) *http.Request {
	t.Helper()
	body, err := json.Marshal(cb)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	timestamp := strconv.FormatInt(at.UnixMilli(), 10)
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(SignatureHeader, Sign(timestamp, secret))
	return req
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestCallbackRoutesMessage(t *testing.T) {
	plugin, err := New(Options{AppSecret: "app-secret"})
	require.NoError(t, err)
	p := newRunningPlatform(t, plugin)

	_, err = p.Channels.CreateBinding(channels.BindingInput{AgentID: "nova", Channel: ChannelID, ChatID: "cid-1"})
	require.NoError(t, err)

	routes := p.PluginRoutes()
	require.Len(t, routes, 1)
	require.Equal(t, "/callback", routes[0].Path)

	created := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	cb := Callback{
		MsgID:          "msg-1",
		MsgType:        "text",
		Text:           CallbackText{Content: "  hello nova  "},
		CreateAt:       created.UnixMilli(),
		ConversationID: "cid-1",
		SenderID:       "$:LWCP_v1:$abc",
		SenderStaffID:  "staff-7",
		SenderNick:     "Alice",
	}
	rec := httptest.NewRecorder()
	routes[0].Handler.ServeHTTP(rec, callbackRequest(t, "app-secret", time.Now(), cb))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp callbackResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "msg-1", resp.MessageID)
	require.Len(t, resp.Decisions, 1)
	require.Equal(t, channels.ActionDeliver, resp.Decisions[0].Action)

	inbox := p.Channels.Inbox().List("nova", 0)
	require.Len(t, inbox, 1)
	require.Equal(t, "staff-7", inbox[0].Message.SenderID)
	require.Equal(t, "hello nova", inbox[0].Message.Text)
	require.True(t, created.Equal(inbox[0].Message.ReceivedAt))
}

func TestCallbackRejectsBadSignature(t *testing.T) {
	plugin, err := New(Options{AppSecret: "app-secret"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	plugin.handleCallback(rec, callbackRequest(t, "wrong", time.Now(), Callback{MsgID: "m"}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	plugin.handleCallback(rec, httptest.NewRequest(http.MethodGet, "/callback", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCallbackBeforeStartIsUnavailable(t *testing.T) {
	plugin, err := New(Options{AppSecret: "app-secret"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	plugin.handleCallback(rec, callbackRequest(t, "app-secret", time.Now(), Callback{MsgID: "m", SenderID: "u"}))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSendUsesSignedRobotWebhook(t *testing.T) {
	robot := newRobotServer(t, `{"errcode":0,"errmsg":"ok"}`)
	plugin, err := New(Options{AppSecret: "app-secret", RobotWebhook: robot.URL + "/robot/send?access_token=tok", RobotSecret: "robot-secret"})
	require.NoError(t, err)
	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	plugin.robot.Now = func() time.Time { return now }

	err = plugin.Send(context.Background(), integration.OutboundMessage{Channel: ChannelID, Text: "deploy finished"})
	require.NoError(t, err)

	requests, bodies := robot.received()
	require.Len(t, requests, 1)
	query := requests[0].URL.Query()
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	require.Equal(t, "tok", query.Get("access_token"))
	require.Equal(t, timestamp, query.Get("timestamp"))
	require.Equal(t, Sign(timestamp, "robot-secret"), query.Get("sign"))
	require.Equal(t, "text", bodies[0].MsgType)
	require.Equal(t, "deploy finished", bodies[0].Text.Content)
}

func TestSendPrefersSessionWebhook(t *testing.T) {
	session := newRobotServer(t, `{"errcode":0}`)
	plugin, err := New(Options{AppSecret: "app-secret"})
	require.NoError(t, err)
	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	plugin.Now = func() time.Time { return now }

	err = plugin.Send(context.Background(), integration.OutboundMessage{ChatID: "cid-1", Text: "hi"})
	require.ErrorIs(t, err, ErrNoWebhook)

	plugin.rememberSession(Callback{
		ConversationID:            "cid-1",
		SessionWebhook:            session.URL + "/session",
		SessionWebhookExpiredTime: now.Add(time.Hour).UnixMilli(),
	})
	err = plugin.Send(context.Background(), integration.OutboundMessage{ChatID: "cid-1", Text: "**done**", Markdown: true, Title: "Build"})
	require.NoError(t, err)

	requests, bodies := session.received()
	require.Len(t, requests, 1)
	require.Equal(t, "/session", requests[0].URL.Path)
	require.Empty(t, requests[0].URL.Query().Get("sign"))
	require.Equal(t, "markdown", bodies[0].MsgType)
	require.Equal(t, "Build", bodies[0].Markdown.Title)

	plugin.Now = func() time.Time { return now.Add(2 * time.Hour) }
	err = plugin.Send(context.Background(), integration.OutboundMessage{ChatID: "cid-1", Text: "late"})
	require.ErrorIs(t, err, ErrNoWebhook)
}

func TestSendSurfacesRobotErrors(t *testing.T) {
	robot := newRobotServer(t, `{"errcode":310000,"errmsg":"sign not match"}`)
	plugin, err := New(Options{AppSecret: "app-secret", RobotWebhook: robot.URL})
	require.NoError(t, err)

	err = plugin.Send(context.Background(), integration.OutboundMessage{Text: "hi"})
	require.ErrorContains(t, err, "sign not match")
}

func TestSendRPCThroughPlatform(t *testing.T) {
	robot := newRobotServer(t, `{"errcode":0}`)
	plugin, err := New(Options{AppSecret: "app-secret", RobotWebhook: robot.URL})
	require.NoError(t, err)
	p := newRunningPlatform(t, plugin)

	_, err = p.Call(context.Background(), "dingtalk.send", json.RawMessage(`{"text":""}`))
	require.ErrorIs(t, err, integration.ErrValidation)

	out, err := p.Call(context.Background(), "dingtalk.send", json.RawMessage(`{"text":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"ok": true}, out)

	_, bodies := robot.received()
	require.Len(t, bodies, 1)
}

func TestSignedURLWithoutSecret(t *testing.T) {
	client := &RobotClient{}
	signed, err := client.SignedURL("https://oapi.dingtalk.com/robot/send?access_token=abc", "")
	require.NoError(t, err)
	parsed, err := url.Parse(signed)
	require.NoError(t, err)
	require.Empty(t, parsed.Query().Get("sign"))
}
