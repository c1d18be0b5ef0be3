package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var ErrNoWebhook = errors.New("no robot webhook for chat")

// RobotClient posts messages to DingTalk robot webhooks.
type RobotClient struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

type robotText struct {
	Content string `json:"content"`
}

type robotMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type robotMessage struct {
	MsgType  string         `json:"msgtype"`
	Text     *robotText     `json:"text,omitempty"`
	Markdown *robotMarkdown `json:"markdown,omitempty"`
}

type robotResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func textMessage(content string) robotMessage {
	return robotMessage{MsgType: "text", Text: &robotText{Content: content}}
}

func markdownMessage(title, text string) robotMessage {
	if title == "" {
		title = "OpenClaw"
	}
	return robotMessage{MsgType: "markdown", Markdown: &robotMarkdown{Title: title, Text: text}}
}

// SignedURL appends timestamp and sign query parameters when secret is set.
func (c *RobotClient) SignedURL(webhook, secret string) (string, error) {
	u, err := url.Parse(webhook)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	if secret == "" {
		return u.String(), nil
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	timestamp := strconv.FormatInt(now().UnixMilli(), 10)
	q := u.Query()
	q.Set("timestamp", timestamp)
	q.Set("sign", Sign(timestamp, secret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *RobotClient) post(ctx context.Context, target string, msg robotMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("robot webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read robot webhook response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("robot webhook returned status %d", resp.StatusCode)
	}
	var result robotResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("invalid robot webhook response: %w", err)
		}
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("robot webhook error %d: %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}
