// Package hub talks to the Home Assistant REST API: it speaks and plays
// sounds on media players and resolves spoken locations to entities.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chime/pkg/logx"
)

var ErrUnresolved = errors.New("location not resolved")

type Config struct {
	URL   string
	Token string
	// TTSEntity is the tts.* entity used to speak on plain media players.
	// Assist satellites announce natively and do not need it.
	TTSEntity  string
	Timeout    time.Duration     // per request, default 10s
	RatePerSec int               // default 5
	Locations  map[string]string // spoken location -> entity id
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	return c
}

type Client struct {
	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter

	http *http.Client
	log  logx.Logger
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{http: hc, log: log}
	c.Apply(cfg)
	return c
}

// Apply swaps the configuration. Calls already in flight keep the old one.
func (c *Client) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	c.cfg = cfg
	// burst = rate so a ringing alarm's volume+play pair never waits
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	c.mu.Unlock()
}

func (c *Client) snapshot() (Config, *rate.Limiter) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.limiter
}

// CallService posts to /api/services/<domain>/<service>.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, "/api/services/"+domain+"/"+service, body)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", domain, service, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	cfg, limiter := c.snapshot()
	if cfg.URL == "" {
		return nil, errors.New("hub url is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	c.log.Debug("hub call", logx.String("method", method), logx.String("path", path),
		logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}
	return raw, nil
}
