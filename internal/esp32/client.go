// Package esp32 talks to the network-attached door controller. Every call is
// a single HTTP attempt with a hard deadline; outcomes are classified into a
// typed reason so callers decide retry and escalation policy themselves.
package esp32

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Reason classifies the outcome of a dispatch.
type Reason string

const (
	ReasonSuccess       Reason = "success"
	ReasonTimeout       Reason = "timeout"
	ReasonError         Reason = "error"
	ReasonNotConfigured Reason = "not_configured"
	// ReasonInactive is used by callers that decide not to dispatch at all
	// (e.g. inactive subscription); the client itself never returns it.
	ReasonInactive     Reason = "inactive"
	ReasonUnauthorized Reason = "unauthorized"
)

// Result is the classified outcome of one dispatch. Status is 0 when no HTTP
// status was received (timeout, transport failure, missing configuration).
type Result struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Reason Reason `json:"reason"`
}

const (
	// DefaultDoorTimeout bounds a door command round trip.
	DefaultDoorTimeout = 5 * time.Second
	// DefaultHealthTimeout bounds a health probe round trip.
	DefaultHealthTimeout = 3 * time.Second

	apiKeyHeader = "X-ESP32-KEY"
	doorPath     = "/door"
	healthPath   = "/health"
)

// Config is the immutable client configuration, resolved once at construction.
type Config struct {
	BaseURL       string
	APIKey        string
	DoorTimeout   time.Duration
	HealthTimeout time.Duration
}

// Client dispatches door commands to the ESP32 controller.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a dispatcher. An empty BaseURL is allowed; every call
// then reports not_configured without touching the network.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DoorTimeout <= 0 {
		cfg.DoorTimeout = DefaultDoorTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
	}
}

// joinURL joins base and path with exactly one slash between them.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// doorBody is the command payload sent to the controller.
type doorBody struct {
	Active bool `json:"active"`
}

// deviceReply is the optional JSON body a 2xx response may carry. OK stays
// nil when the field is absent, so a bare 2xx is still a success.
type deviceReply struct {
	OK     *bool  `json:"ok"`
	Reason string `json:"reason"`
}

// SendDoorDecision sends the open/close decision to the controller:
// POST {base}/door with {"active": active}. Exactly one network attempt.
func (c *Client) SendDoorDecision(ctx context.Context, active bool) Result {
	if c.cfg.BaseURL == "" {
		return Result{OK: false, Reason: ReasonNotConfigured}
	}

	payload, _ := json.Marshal(doorBody{Active: active})
	res := c.dispatch(ctx, http.MethodPost, joinURL(c.cfg.BaseURL, doorPath), payload, c.cfg.DoorTimeout, true)
	c.logger.Debug("door decision dispatched",
		zap.Bool("active", active),
		zap.Bool("ok", res.OK),
		zap.Int("status", res.Status),
		zap.String("reason", string(res.Reason)),
	)
	return res
}

// CheckHealth probes GET {base}/health. Success is purely HTTP-status based.
func (c *Client) CheckHealth(ctx context.Context) Result {
	if c.cfg.BaseURL == "" {
		return Result{OK: false, Reason: ReasonNotConfigured}
	}
	return c.dispatch(ctx, http.MethodGet, joinURL(c.cfg.BaseURL, healthPath), nil, c.cfg.HealthTimeout, false)
}

func (c *Client) dispatch(ctx context.Context, method, url string, body []byte, timeout time.Duration, inspectBody bool) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Result{OK: false, Reason: ReasonError}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{OK: false, Reason: ReasonTimeout}
		}
		return Result{OK: false, Reason: ReasonError}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{OK: false, Status: resp.StatusCode, Reason: ReasonUnauthorized}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{OK: false, Status: resp.StatusCode, Reason: ReasonError}
	}

	if !inspectBody {
		return Result{OK: true, Status: resp.StatusCode, Reason: ReasonSuccess}
	}

	// The device may override HTTP-level success with {"ok": false}. An
	// empty or malformed body degrades to trusting the 2xx.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return Result{OK: true, Status: resp.StatusCode, Reason: ReasonSuccess}
	}
	var reply deviceReply
	if err := json.Unmarshal(raw, &reply); err != nil || reply.OK == nil {
		return Result{OK: true, Status: resp.StatusCode, Reason: ReasonSuccess}
	}
	if *reply.OK {
		return Result{OK: true, Status: resp.StatusCode, Reason: ReasonSuccess}
	}
	return Result{OK: false, Status: resp.StatusCode, Reason: ReasonError}
}
