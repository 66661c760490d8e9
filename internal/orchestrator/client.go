// Package orchestrator re-enters the agent orchestrator with a stored
// prompt. Requests are JSON-RPC 2.0 "message/send" calls in the A2A
// message shape, threaded by contextId.
package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"chime/pkg/logx"
)

var ErrAgent = errors.New("agent error")

type Config struct {
	URL     string
	Timeout time.Duration // default 30s
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: hc, log: log}
}

// Replay sends prompt (with optional context appended) as a user message
// in conversation correlationID and discards the agent's reply.
func (c *Client) Replay(ctx context.Context, correlationID, prompt, contextText string) error {
	text := prompt
	if strings.TrimSpace(contextText) != "" {
		text = prompt + "\n\nContext: " + contextText
	}
	reply, err := c.Send(ctx, correlationID, text)
	if err != nil {
		return err
	}
	c.log.Debug("replay answered", logx.String("context_id", correlationID), logx.Int("reply_len", len(reply)))
	return nil
}

// Send posts one message and returns the concatenated text parts of the
// result.
func (c *Client) Send(ctx context.Context, contextID, text string) (string, error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return "", errors.New("orchestrator url is not configured")
	}
	if contextID == "" {
		contextID = uuid.NewString()
	}
	body, err := buildRequest(contextID, text)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("orchestrator: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("orchestrator: read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("orchestrator: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return parseResponse(raw)
}

func buildRequest(contextID, text string) ([]byte, error) {
	body := []byte(`{"jsonrpc":"2.0","method":"message/send","id":1}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			body, err = sjson.SetBytes(body, path, v)
		}
	}
	set("id", uuid.NewString())
	set("params.message.kind", "message")
	set("params.message.role", "user")
	set("params.message.parts.0.kind", "text")
	set("params.message.parts.0.text", text)
	set("params.message.messageId", uuid.NewString())
	set("params.message.contextId", contextID)
	return body, err
}

func parseResponse(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("orchestrator: invalid json response")
	}
	res := gjson.ParseBytes(raw)
	if e := res.Get("error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("%w: %s", ErrAgent, msg)
	}
	var sb strings.Builder
	res.Get("result.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("kind").String() == "text" {
			sb.WriteString(part.Get("text").String())
		}
		return true
	})
	return sb.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
