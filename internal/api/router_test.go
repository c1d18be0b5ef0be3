package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samhotchkiss/openclaw-hub/internal/admin"
	"github.com/samhotchkiss/openclaw-hub/internal/integration"
	"github.com/samhotchkiss/openclaw-hub/internal/metrics"
	"github.com/samhotchkiss/openclaw-hub/internal/ratelimit"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	t        *testing.T
	platform *integration.Platform
	handler  http.Handler
	root     string
	ops      string
}

type serverConfig struct {
	limiter     ratelimit.Limiter
	plugins     []integration.Plugin
	onboardPath string
}

type serverOption func(*serverConfig)

func withLimiter(l ratelimit.Limiter) serverOption {
	return func(c *serverConfig) { c.limiter = l }
}

func withOnboardConfig(path string) serverOption {
	return func(c *serverConfig) { c.onboardPath = path }
}

func withPlugin(p integration.Plugin) serverOption {
	return func(c *serverConfig) { c.plugins = append(c.plugins, p) }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	var cfg serverConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p, err := integration.New(context.Background(), integration.Options{
		Limiter:           cfg.limiter,
		WorkspaceRoot:     t.TempDir(),
		BootstrapMaxChars: 4000,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	for _, plugin := range cfg.plugins {
		require.NoError(t, p.RegisterPlugin(plugin))
	}
	p.Admin.BcryptCost = bcrypt.MinCost

	_, err = p.Admin.CreateAdmin(admin.CreateAdminInput{Username: "root", Password: "hunter22", Role: admin.RoleSuperAdmin})
	require.NoError(t, err)
	_, err = p.Admin.CreateAdmin(admin.CreateAdminInput{Username: "ops", Password: "hunter22", Role: admin.RoleOperator})
	require.NoError(t, err)

	s := &testServer{
		t:        t,
		platform: p,
		handler: NewRouter(RouterOptions{
			Platform:          p,
			Metrics:           metrics.New(),
			OnboardConfigPath: cfg.onboardPath,
		}),
	}
	s.root = s.login("root", "hunter22")
	s.ops = s.login("ops", "hunter22")
	return s
}

func (s *testServer) login(username, password string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/admin/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LoginResponse
	require.NoError(s.t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(s.t, resp.Token)
	return resp.Token
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[HealthResponse](t, rec)
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "dev", health.Version)
}

func TestCORSMiddleware(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/orgs", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Contains(t, []int{http.StatusOK, http.StatusNoContent}, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
}

func TestCORSOriginsFallback(t *testing.T) {
	require.Equal(t, []string{"*"}, corsOrigins(nil))
	require.Equal(t, []string{"https://a.example"}, corsOrigins([]string{" ", "https://a.example"}))
}

func TestAdminSessionLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/orgs", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/login", "", LoginRequest{Username: "root", Password: "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/login", "", `{"username":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	token := s.login("root", "hunter22")
	rec = s.do(http.MethodGet, "/api/admin/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[struct {
		Admin    admin.Admin `json:"admin"`
		Sessions int         `json:"sessions"`
	}](t, rec)
	require.Equal(t, "root", me.Admin.Username)
	require.Equal(t, 2, me.Sessions)

	rec = s.do(http.MethodPost, "/api/admin/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/admin/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminManagementRequiresPermission(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/admin/admins", s.ops, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/admins", s.root, admin.CreateAdminInput{
		Username: "mod",
		Password: "hunter22",
		Role:     admin.RoleOperator,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[admin.Admin](t, rec)

	rec = s.do(http.MethodPost, "/api/admin/admins/"+created.ID+"/permissions", s.root, map[string]string{"permission": string(admin.PermManageChannels)})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, decodeBody[admin.Admin](t, rec).Permissions, admin.PermManageChannels)

	rec = s.do(http.MethodDelete, "/api/admin/admins/"+created.ID+"/permissions/"+string(admin.PermManageChannels), s.root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeBody[admin.Admin](t, rec).Permissions)

	rec = s.do(http.MethodPost, "/api/admin/admins", s.root, admin.CreateAdminInput{Username: "mod", Password: "hunter22"})
	require.Equal(t, http.StatusConflict, rec.Code)

	modToken := s.login("mod", "hunter22")
	rec = s.do(http.MethodPost, "/api/admin/admins/"+created.ID+"/deactivate", s.root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/admin/me", modToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/admin/admins", s.root, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, decodeBody[struct {
		Total int `json:"total"`
	}](t, rec).Total)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	s := newTestServer(t)

	s.do(http.MethodGet, "/health", "", nil)
	rec := s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `route="/health"`)
}

type routePlugin struct{}

func (routePlugin) ID() string { return "echo" }

func (routePlugin) Register(api integration.PluginAPI) error {
	return api.RegisterHTTPHandler("/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
}

func TestPluginRoutesArePublic(t *testing.T) {
	s := newTestServer(t, withPlugin(routePlugin{}))

	rec := s.do(http.MethodGet, "/plugins/echo/ping", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pong", rec.Body.String())

	rec = s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, []string{"echo"}, decodeBody[HealthResponse](t, rec).Plugins)
}

func TestRateLimitedMessagesReturn429(t *testing.T) {
	s := newTestServer(t, withLimiter(ratelimit.NewMemoryLimiter(1, time.Minute)))

	msg := map[string]string{"channel": "slack", "sender_id": "u1", "text": "hi"}
	rec := s.do(http.MethodPost, "/api/messages", s.root, msg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/messages", s.root, msg)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "rate limit"))
}
