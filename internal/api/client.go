package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradefloor/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultProbeTimeout = 3 * time.Second

type Config struct {
	BaseURL      string
	Token        string
	ProbeTimeout time.Duration
}

// Client talks to the community backend. It only depends on the
// request/response shapes; everything behind the endpoints is the
// backend's business.
type Client struct {
	baseURL      string
	token        string
	probeTimeout time.Duration
	http         *http.Client
}

func NewClient(cfg Config) *Client {
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		probeTimeout: probeTimeout,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

// Claims is the subset of the session token's payload the client
// needs: the viewer's identity. Verification is the backend's job;
// the client only decodes.
type Claims struct {
	UserID   string
	Username string
	Avatar   string
	Role     models.Role
}

// CurrentUser decodes the bearer token's claims to learn the viewer's
// identity without an extra round trip.
func (c *Client) CurrentUser() (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		return Claims{}, fmt.Errorf("failed to decode session token: %w", err)
	}

	str := func(key string) string {
		if v, ok := claims[key].(string); ok {
			return v
		}
		return ""
	}

	out := Claims{
		UserID:   str("userId"),
		Username: str("username"),
		Avatar:   str("avatar"),
		Role:     models.Role(str("role")),
	}
	if out.UserID == "" {
		out.UserID = str("sub")
	}
	if out.UserID == "" || out.Username == "" {
		return Claims{}, fmt.Errorf("session token missing identity claims")
	}
	if out.Role == "" {
		out.Role = models.RoleMember
	}
	return out, nil
}

// Channels fetches the ordered channel list. Capability flags in the
// response reflect the viewer the token belongs to.
func (c *Client) Channels(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	if err := c.do(ctx, http.MethodGet, "/api/channels", nil, &channels); err != nil {
		return nil, fmt.Errorf("failed to fetch channels: %w", err)
	}
	return channels, nil
}

// Messages fetches the full ordered message list for a channel.
func (c *Client) Messages(ctx context.Context, channelID string) ([]models.Message, error) {
	var messages []models.Message
	path := "/api/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, fmt.Errorf("failed to fetch messages for %s: %w", channelID, err)
	}
	return messages, nil
}

type SendRequest struct {
	ChannelID string             `json:"channelId"`
	Content   string             `json:"content"`
	File      *models.Attachment `json:"file,omitempty"`
}

// Send posts a message and returns the server-confirmed record with
// its final id and timestamp.
func (c *Client) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	var confirmed models.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &confirmed); err != nil {
		return models.Message{}, fmt.Errorf("failed to send message: %w", err)
	}
	return confirmed, nil
}

type deleteRequest struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

type deleteResponse struct {
	DeletedAt time.Time `json:"deletedAt"`
}

// Delete removes a message and returns the server's deletion timestamp.
func (c *Client) Delete(ctx context.Context, messageID, channelID string) (time.Time, error) {
	var resp deleteResponse
	req := deleteRequest{MessageID: messageID, ChannelID: channelID}
	if err := c.do(ctx, http.MethodPost, "/api/messages/delete", req, &resp); err != nil {
		return time.Time{}, fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return resp.DeletedAt, nil
}

// Entitlement fetches the viewer's current plan and subscription status.
func (c *Client) Entitlement(ctx context.Context) (models.Entitlement, error) {
	var ent models.Entitlement
	if err := c.do(ctx, http.MethodGet, "/api/subscription", nil, &ent); err != nil {
		return models.Entitlement{}, fmt.Errorf("failed to fetch entitlement: %w", err)
	}
	return ent, nil
}

// Probe issues a bounded-timeout request against a lightweight
// endpoint. It is the reachability signal for the connectivity
// estimator, so its timeout is deliberately short.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	if err := c.do(ctx, http.MethodGet, "/api/health", nil, nil); err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
