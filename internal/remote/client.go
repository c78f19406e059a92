// Package remote is the HTTP client for the greenhouse device control API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// ErrNetworkUnavailable means the request never produced an HTTP response.
	ErrNetworkUnavailable = errors.New("remote: network unavailable")
	// ErrRemoteRejected means the device answered with a non-success status.
	ErrRemoteRejected = errors.New("remote: request rejected")
)

// Paths holds the endpoint paths of the device API.
type Paths struct {
	Automation string
	Status     string
	Manual     string
}

// Client talks to the device control API.
type Client struct {
	baseURL    string
	paths      Paths
	httpClient *http.Client

	// Writes are rate limited; reads are not
	limiter *rate.Limiter
}

// NewClient creates a new device API client
func NewClient(baseURL string, paths Paths, timeout time.Duration, rateLimitRPS float64) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if rateLimitRPS == 0 {
		rateLimitRPS = 5.0
	}
	burst := int(rateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    baseURL,
		paths:      paths,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rateLimitRPS), burst),
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// BaseURL returns the device API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AutomationConfig fetches the current automation flags
func (c *Client) AutomationConfig(ctx context.Context) (*AutomationConfig, error) {
	var cfg AutomationConfig
	if err := c.getJSON(ctx, c.paths.Automation, &cfg); err != nil {
		return nil, fmt.Errorf("fetch automation config: %w", err)
	}
	return &cfg, nil
}

// SystemStatus fetches the current sensor/actuator status
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var status SystemStatus
	if err := c.getJSON(ctx, c.paths.Status, &status); err != nil {
		return nil, fmt.Errorf("fetch system status: %w", err)
	}
	return &status, nil
}

// SetAutomation enables or disables automation for a subsystem
func (c *Client) SetAutomation(ctx context.Context, system System, active bool) error {
	if err := c.postJSON(ctx, c.paths.Automation, automationWrite{System: system, Active: active}); err != nil {
		return fmt.Errorf("set automation %s=%t: %w", system, active, err)
	}
	return nil
}

// ManualControl switches a subsystem's actuator on or off
func (c *Client) ManualControl(ctx context.Context, system System, turnOn bool) error {
	if err := c.postJSON(ctx, c.paths.Manual, manualWrite{System: system, TurnOn: turnOn}); err != nil {
		return fmt.Errorf("manual control %s=%t: %w", system, turnOn, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRemoteRejected, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// do sends the request and classifies failures into the two remote error
// kinds. On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		log.Debug().
			Str("method", method).
			Str("path", path).
			Str("request_id", requestID).
			Int("status", resp.StatusCode).
			Msg("Device API rejected request")
		return nil, fmt.Errorf("%w: status %d: %s", ErrRemoteRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}

	return resp, nil
}
