package clawcli

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizeAPIBaseURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"http://localhost:8080", "http://localhost:8080"},
		{"http://localhost:8080/", "http://localhost:8080"},
		{"https://hub.example.com/api", "https://hub.example.com"},
		{"https://hub.example.com/api/?x=1", "https://hub.example.com"},
		{"localhost:8080/api", "localhost:8080"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := normalizeAPIBaseURL(tt.input); got != tt.want {
			t.Errorf("normalizeAPIBaseURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestClientLoginStoresToken(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/admin/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok_1","expires_at":"2026-02-11T00:00:00Z","admin":{"id":"a1","username":"root","role":"super_admin","active":true}}`))
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	session, err := client.Login(" root ", "hunter22")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if gotBody["username"] != "root" || gotBody["password"] != "hunter22" {
		t.Fatalf("unexpected login body: %#v", gotBody)
	}
	if session.Token != "tok_1" || client.Token != "tok_1" {
		t.Fatalf("token not stored: session=%q client=%q", session.Token, client.Token)
	}
	if session.Admin.Role != "super_admin" {
		t.Fatalf("role = %q", session.Admin.Role)
	}
}

func TestClientRequiresToken(t *testing.T) {
	client := &Client{BaseURL: "http://localhost:1"}
	if _, err := client.Call("org.list", nil); err == nil || !strings.Contains(err.Error(), "claw login") {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := client.Methods(); err == nil {
		t.Fatal("expected auth error from Methods")
	}
}

func TestClientCallPostsParams(t *testing.T) {
	var gotPath, gotAuth string
	var gotParams map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotParams)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"method":"org.get","result":{"id":"acme","name":"Acme"}}`))
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, Token: "tok_1", HTTP: srv.Client()}
	raw, err := client.Call("org.get", map[string]string{"id": "acme"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if gotPath != "/api/rpc/org.get" || gotAuth != "Bearer tok_1" {
		t.Fatalf("request = %s auth=%q", gotPath, gotAuth)
	}
	if gotParams["id"] != "acme" {
		t.Fatalf("params = %#v", gotParams)
	}
	var result struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &result); err != nil || result.Name != "Acme" {
		t.Fatalf("result = %s (%v)", raw, err)
	}
}

func TestClientExecSplitsCommand(t *testing.T) {
	var gotPath string
	var gotBody struct {
		Args []string `json:"args"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"output":"{\n  \"id\": \"acme\"\n}"}`))
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, Token: "tok_1", HTTP: srv.Client()}
	out, err := client.Exec([]string{"org", "create", "--name", "Acme"})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if gotPath != "/api/cli/org" {
		t.Fatalf("path = %q", gotPath)
	}
	if strings.Join(gotBody.Args, " ") != "create --name Acme" {
		t.Fatalf("args = %#v", gotBody.Args)
	}
	if !strings.Contains(out, `"id": "acme"`) {
		t.Fatalf("output = %q", out)
	}
}

func TestClientSurfacesErrorResponses(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		status      int
		body        string
		wantDetail  string
	}{
		{name: "json error", contentType: "application/json", status: http.StatusForbidden, body: `{"error":"permission denied: agents:manage"}`, wantDetail: "permission denied: agents:manage"},
		{name: "html", contentType: "text/html", status: http.StatusBadGateway, body: "<html><body>bad gateway</body></html>", wantDetail: "html response body omitted"},
		{name: "plain text", contentType: "text/plain", status: http.StatusInternalServerError, body: "  boom \n happened ", wantDetail: "boom happened"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := &Client{BaseURL: srv.URL, Token: "tok", HTTP: srv.Client()}
			_, err := client.Methods()
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("expected RequestError, got %T %v", err, err)
			}
			if reqErr.Detail != tt.wantDetail {
				t.Fatalf("detail = %q, want %q", reqErr.Detail, tt.wantDetail)
			}
			if status, ok := HTTPStatusCode(err); !ok || status != tt.status {
				t.Fatalf("HTTPStatusCode = %d, %v", status, ok)
			}
		})
	}
}

func TestClientRejectsNonJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<!doctype html><p>login</p>")
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := client.Health()
	var decodeErr *ResponseDecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected ResponseDecodeError, got %T %v", err, err)
	}
	if decodeErr.Detail != "expected JSON response but received HTML" {
		t.Fatalf("detail = %q", decodeErr.Detail)
	}
}
