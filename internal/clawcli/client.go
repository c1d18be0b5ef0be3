// Package clawcli is the HTTP client behind the claw command line tool.
package clawcli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

const maxClientResponseBodyBytes = 1 << 20

type RequestError struct {
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	if e == nil {
		return "request failed"
	}
	if strings.TrimSpace(e.Detail) == "" {
		return fmt.Sprintf("request failed (%d)", e.StatusCode)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Detail)
}

func (e *RequestError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type ResponseDecodeError struct {
	StatusCode int
	Detail     string
}

func (e *ResponseDecodeError) Error() string {
	if e == nil {
		return "invalid response"
	}
	if strings.TrimSpace(e.Detail) == "" {
		return fmt.Sprintf("invalid response (%d)", e.StatusCode)
	}
	return fmt.Sprintf("invalid response (%d): %s", e.StatusCode, e.Detail)
}

func (e *ResponseDecodeError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// HTTPStatusCode returns the HTTP status carried by typed client errors.
func HTTPStatusCode(err error) (int, bool) {
	var statusErr interface {
		HTTPStatusCode() int
	}
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	status := statusErr.HTTPStatusCode()
	if status <= 0 {
		return 0, false
	}
	return status, true
}

func NewClient(cfg Config, apiOverride string) *Client {
	base := strings.TrimSpace(apiOverride)
	if base == "" {
		base = cfg.APIBaseURL
	}
	return &Client{
		BaseURL: normalizeAPIBaseURL(base),
		Token:   strings.TrimSpace(cfg.Token),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) requireAuth() error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("missing session token; run `claw login --username <name>`")
	}
	return nil
}

func (c *Client) newRequest(method, path string, body any) (*http.Request, error) {
	baseURL := normalizeAPIBaseURL(c.BaseURL)
	if baseURL == "" {
		return nil, errors.New("missing API base URL")
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(c.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxClientResponseBodyBytes))
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode >= 400 {
		return &RequestError{
			StatusCode: resp.StatusCode,
			Detail:     summarizeResponseBody(resp.Header.Get("Content-Type"), payload),
		}
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return io.EOF
	}
	if err := json.Unmarshal(payload, out); err != nil {
		detail := classifyDecodeErrorDetail(resp.Header.Get("Content-Type"), payload)
		if detail == "" {
			detail = fmt.Sprintf("invalid JSON response: %v", err)
		}
		return &ResponseDecodeError{
			StatusCode: resp.StatusCode,
			Detail:     detail,
		}
	}
	return nil
}

func (c *Client) send(method, path string, body, out any) error {
	req, err := c.newRequest(method, path, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func summarizeResponseBody(contentType string, payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return ""
	}
	if isLikelyHTMLResponse(contentType, trimmed) {
		return "html response body omitted"
	}
	if msg, ok := extractJSONErrorSummary(payload, contentType); ok {
		return msg
	}
	return truncateResponseText(trimmed, 200)
}

func classifyDecodeErrorDetail(contentType string, payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return "empty response body"
	}
	if isLikelyHTMLResponse(contentType, trimmed) {
		return "expected JSON response but received HTML"
	}
	if !looksLikeJSONContent(contentType, trimmed) {
		return "expected JSON response but received non-JSON body"
	}
	return ""
}

func extractJSONErrorSummary(payload []byte, contentType string) (string, bool) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || !looksLikeJSONContent(contentType, trimmed) {
		return "", false
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", false
	}
	if msg := strings.TrimSpace(body.Error); msg != "" {
		return truncateResponseText(msg, 200), true
	}
	return "", false
}

func looksLikeJSONContent(contentType, body string) bool {
	value := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if value == "application/json" || strings.HasSuffix(value, "+json") {
		return true
	}
	return strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[")
}

func isLikelyHTMLResponse(contentType, body string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	lowerBody := strings.ToLower(strings.TrimSpace(body))
	return strings.HasPrefix(lowerBody, "<!doctype html") || strings.HasPrefix(lowerBody, "<html")
}

func truncateResponseText(value string, max int) string {
	collapsed := strings.Join(strings.Fields(value), " ")
	if len(collapsed) <= max {
		return collapsed
	}
	if max <= 3 {
		return collapsed[:max]
	}
	return collapsed[:max-3] + "..."
}

func normalizeAPIBaseURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return strings.TrimSuffix(strings.TrimRight(value, "/"), "/api")
	}
	parsed.Path = strings.TrimSuffix(strings.TrimRight(parsed.Path, "/"), "/api")
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/")
}

// Session is an admin session returned by Login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Admin     Admin     `json:"admin"`
}

type Admin struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	Active      bool     `json:"active"`
}

type Health struct {
	Status  string   `json:"status"`
	Uptime  string   `json:"uptime"`
	Version string   `json:"version"`
	Plugins []string `json:"plugins"`
}

func (c *Client) Health() (Health, error) {
	var out Health
	err := c.send(http.MethodGet, "/health", nil, &out)
	return out, err
}

// Login opens an admin session. The client keeps the returned token.
func (c *Client) Login(username, password string) (Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return Session{}, errors.New("username and password are required")
	}
	var out Session
	body := map[string]string{"username": strings.TrimSpace(username), "password": password}
	if err := c.send(http.MethodPost, "/api/admin/login", body, &out); err != nil {
		return Session{}, err
	}
	c.Token = out.Token
	return out, nil
}

func (c *Client) Logout() error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	return c.send(http.MethodPost, "/api/admin/logout", nil, nil)
}

type WhoAmI struct {
	Admin    Admin `json:"admin"`
	Sessions int   `json:"sessions"`
}

func (c *Client) WhoAmI() (WhoAmI, error) {
	if err := c.requireAuth(); err != nil {
		return WhoAmI{}, err
	}
	var out WhoAmI
	err := c.send(http.MethodGet, "/api/admin/me", nil, &out)
	return out, err
}

// Methods lists the server's RPC methods.
func (c *Client) Methods() ([]string, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	var out struct {
		Methods []string `json:"methods"`
	}
	if err := c.send(http.MethodGet, "/api/rpc", nil, &out); err != nil {
		return nil, err
	}
	return out.Methods, nil
}

// Call invokes an RPC method and returns its raw result.
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, errors.New("method is required")
	}
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.send(http.MethodPost, "/api/rpc/"+url.PathEscape(method), params, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// Exec runs a server-side CLI command such as ["org", "create", "--name",
// "Acme"] and returns its output.
func (c *Client) Exec(args []string) (string, error) {
	if err := c.requireAuth(); err != nil {
		return "", err
	}
	if len(args) == 0 {
		return c.Usage()
	}
	var out struct {
		Output string `json:"output"`
	}
	body := map[string][]string{"args": args[1:]}
	if err := c.send(http.MethodPost, "/api/cli/"+url.PathEscape(args[0]), body, &out); err != nil {
		return "", err
	}
	return out.Output, nil
}

func (c *Client) Usage() (string, error) {
	if err := c.requireAuth(); err != nil {
		return "", err
	}
	var out struct {
		Output string `json:"output"`
	}
	if err := c.send(http.MethodGet, "/api/cli", nil, &out); err != nil {
		return "", err
	}
	return out.Output, nil
}
