package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samhotchkiss/openclaw-hub/internal/clawcli"
	"github.com/samhotchkiss/openclaw-hub/internal/onboard"
)

func newTestApp(cfg clawcli.Config) (*app, *clawcli.Config) {
	saved := cfg
	a := &app{
		loadConfig: func() (clawcli.Config, error) { return saved, nil },
		saveConfig: func(next clawcli.Config) error {
			saved = next
			return nil
		},
		stdin: strings.NewReader(""),
	}
	return a, &saved
}

func runCLI(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := a.rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLoginSavesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/admin/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok_9","expires_at":"2026-02-11T00:00:00Z","admin":{"id":"a1","username":"root","role":"super_admin","active":true}}`))
	}))
	defer srv.Close()

	a, saved := newTestApp(clawcli.Config{})
	out, err := runCLI(t, a, "--api", srv.URL, "login", "-u", "root", "-p", "hunter22")
	if err != nil {
		t.Fatalf("login error = %v", err)
	}
	if !strings.Contains(out, "logged in as") {
		t.Fatalf("unexpected output %q", out)
	}
	if saved.Token != "tok_9" || saved.Username != "root" || saved.APIBaseURL != srv.URL {
		t.Fatalf("config not saved: %#v", *saved)
	}
}

func TestExecPassesFlagsThrough(t *testing.T) {
	var gotPath string
	var gotBody struct {
		Args []string `json:"args"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"created org acme"}`))
	}))
	defer srv.Close()

	a, _ := newTestApp(clawcli.Config{APIBaseURL: srv.URL, Token: "tok"})
	out, err := runCLI(t, a, "exec", "org", "create", "--name", "Acme")
	if err != nil {
		t.Fatalf("exec error = %v", err)
	}
	if gotPath != "/api/cli/org" {
		t.Fatalf("path = %q", gotPath)
	}
	if strings.Join(gotBody.Args, " ") != "create --name Acme" {
		t.Fatalf("args = %#v", gotBody.Args)
	}
	if out != "created org acme\n" {
		t.Fatalf("output = %q", out)
	}
}

func TestCallRejectsInvalidParams(t *testing.T) {
	a, _ := newTestApp(clawcli.Config{APIBaseURL: "http://127.0.0.1:1", Token: "tok"})
	_, err := runCLI(t, a, "call", "org.create", "{not json")
	if err == nil || !strings.Contains(err.Error(), "valid JSON") {
		t.Fatalf("expected JSON validation error, got %v", err)
	}
}

func TestWhoamiWithoutSession(t *testing.T) {
	a, _ := newTestApp(clawcli.Config{APIBaseURL: "http://127.0.0.1:1"})
	_, err := runCLI(t, a, "whoami")
	if err == nil {
		t.Fatal("expected error without token")
	}
	if msg := formatCLIError(err); !strings.Contains(msg, loginCommand) {
		t.Fatalf("formatCLIError() = %q", msg)
	}
}

func TestFormatCLIErrorUnauthorized(t *testing.T) {
	err := &clawcli.RequestError{StatusCode: http.StatusUnauthorized, Detail: "session expired"}
	msg := formatCLIError(err)
	if !strings.Contains(msg, "session expired") || !strings.Contains(msg, loginCommand) {
		t.Fatalf("formatCLIError() = %q", msg)
	}
	if got := formatCLIError(errors.New("boom")); got != "boom" {
		t.Fatalf("formatCLIError() = %q", got)
	}
}

func TestOnboardProviderWritesConfig(t *testing.T) {
	t.Setenv("OPENCLAW_CONFIG_PATH", "")
	path := filepath.Join(t.TempDir(), "openclaw.json")
	a, _ := newTestApp(clawcli.Config{OnboardConfig: path})

	if _, err := runCLI(t, a, "onboard", "provider", "moonshot", "--api-key", "sk-secret", "--default"); err != nil {
		t.Fatalf("onboard provider error = %v", err)
	}
	cfg, err := onboard.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got := cfg.Models.Providers["moonshot"].APIKey; got != "sk-secret" {
		t.Fatalf("api key = %q", got)
	}
	if got := cfg.Agents.Defaults.Model.Primary; got != "moonshot/kimi-k2-0905-preview" {
		t.Fatalf("primary = %q", got)
	}

	out, err := runCLI(t, a, "onboard", "show")
	if err != nil {
		t.Fatalf("onboard show error = %v", err)
	}
	if strings.Contains(out, "sk-secret") || !strings.Contains(out, `"***"`) {
		t.Fatalf("show did not mask key: %s", out)
	}
}

func TestOnboardDefaultModelRejectsBadRef(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openclaw.json")
	a, _ := newTestApp(clawcli.Config{})

	_, err := runCLI(t, a, "onboard", "--config", path, "default-model", "no-slash")
	if !errors.Is(err, onboard.ErrInvalidModelRef) {
		t.Fatalf("expected ErrInvalidModelRef, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("config should not be written, stat err = %v", statErr)
	}
}
