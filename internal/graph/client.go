// Package graph is a minimal Microsoft Graph client for listing and
// downloading Teams meeting recordings via application (client-credentials)
// auth.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	loginBase = "https://login.microsoftonline.com"
	graphBase = "https://graph.microsoft.com/v1.0"

	tokenCacheKey    = "graph:token"
	tokenCacheMargin = 60 * time.Second

	pageTimeout  = 20 * time.Second
	pageSize     = 50
	tokenTimeout = 15 * time.Second
)

// Recording is one Teams meeting recording as returned by getAllRecordings.
// MeetingID is the opaque base64-encoded id; CreatedDateTime may be empty.
type Recording struct {
	MeetingID           string `json:"meetingId"`
	RecordingContentURL string `json:"recordingContentUrl,omitempty"`
	CreatedDateTime     string `json:"createdDateTime,omitempty"`
}

type recordingsPage struct {
	Value    []Recording `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// StatusError is a non-2xx Graph response. 502/503 are transient.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// Transient reports whether the status is safe to retry.
func (e *StatusError) Transient() bool {
	return e.Status == http.StatusBadGateway || e.Status == http.StatusServiceUnavailable
}

// Config holds the Entra application credentials.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Client calls Microsoft Graph. The access token is cached in Redis (when a
// client is provided) until shortly before expiry.
type Client struct {
	cfg      Config
	http     *http.Client
	rdb      *redis.Client
	logger   *zap.Logger
	loginURL string
	baseURL  string
}

// NewClient creates a Graph client. rdb may be nil to disable token caching.
func NewClient(cfg Config, rdb *redis.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{},
		rdb:      rdb,
		logger:   logger,
		loginURL: loginBase,
		baseURL:  graphBase,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// Token returns a client-credentials access token, from cache when possible.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.rdb != nil {
		if cached, err := c.rdb.Get(ctx, tokenCacheKey).Result(); err == nil && cached != "" {
			return cached, nil
		}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("scope", "https://graph.microsoft.com/.default")

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginURL, c.cfg.TenantID)
	reqCtx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Op: "graph token", Status: resp.StatusCode, Body: string(raw)}
	}
	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("graph token: empty access_token (error=%q)", tok.Error)
	}

	if c.rdb != nil && tok.ExpiresIn > 0 {
		ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenCacheMargin
		if ttl > 0 {
			if err := c.rdb.Set(ctx, tokenCacheKey, tok.AccessToken, ttl).Err(); err != nil {
				c.logger.Warn("cache graph token failed", zap.Error(err))
			}
		}
	}
	return tok.AccessToken, nil
}

// ListAllRecordings fetches every recording for the organizer, following all
// @odata.nextLink pages before returning.
func (c *Client) ListAllRecordings(ctx context.Context, token, organizerID string) ([]Recording, error) {
	var all []Recording
	next := fmt.Sprintf(
		"%s/users/%s/onlineMeetings/getAllRecordings(meetingOrganizerUserId='%s')?$top=%d",
		c.baseURL, organizerID, organizerID, pageSize,
	)

	for next != "" {
		page, err := c.fetchPage(ctx, token, next)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
		next = page.NextLink
	}
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, token, pageURL string) (*recordingsPage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("recordings page request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recordings page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Op: "getAllRecordings", Status: resp.StatusCode, Body: string(raw)}
	}
	var page recordingsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode recordings page: %w", err)
	}
	return &page, nil
}

// OpenRecording starts an authorized download of a recording content URL.
// The caller owns the returned body. contentLength is -1 when unknown.
func (c *Client) OpenRecording(ctx context.Context, token, contentURL string) (body io.ReadCloser, contentType string, contentLength int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, "", 0, fmt.Errorf("recording download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("recording download: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, "", 0, &StatusError{Op: "recording download", Status: resp.StatusCode}
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "video/mp4"
	}
	return resp.Body, ct, resp.ContentLength, nil
}
