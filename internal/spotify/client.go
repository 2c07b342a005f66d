package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcclowes/soundcheck/internal/reliability"
)

var (
	ErrUnauthorized = errors.New("spotify: unauthorized")
	ErrNoDevice     = errors.New("spotify: no active device")
)

// Client is a thin authenticated client for the provider's playback endpoints.
// The bearer token is supplied per call; the caller owns the token lifecycle.
type Client struct {
	baseURL string
	client  *http.Client

	// One retry on retryable statuses mirrors what the browser playback SDK
	// does internally; there is no broader retry policy.
	retryBase time.Duration
	retryCap  time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		retryBase: 250 * time.Millisecond,
		retryCap:  2 * time.Second,
	}
}

// Devices lists the playback devices visible to the token's account.
func (c *Client) Devices(ctx context.Context, accessToken string) ([]Device, error) {
	body, err := c.do(ctx, accessToken, http.MethodGet, "/v1/me/player/devices", nil)
	if err != nil {
		return nil, err
	}
	var res devicesResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return res.Devices, nil
}

// Play starts playback of a track on a device from the given offset.
func (c *Client) Play(ctx context.Context, accessToken, deviceID, trackURI string, positionMS int64) error {
	if strings.TrimSpace(trackURI) == "" {
		return errors.New("spotify: track uri is required")
	}
	path := "/v1/me/player/play"
	if deviceID != "" {
		path += "?device_id=" + deviceID
	}
	payload := map[string]any{
		"uris":        []string{trackURI},
		"position_ms": positionMS,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal play request: %w", err)
	}
	_, err = c.do(ctx, accessToken, http.MethodPut, path, raw)
	return err
}

// Pause stops playback on a device.
func (c *Client) Pause(ctx context.Context, accessToken, deviceID string) error {
	path := "/v1/me/player/pause"
	if deviceID != "" {
		path += "?device_id=" + deviceID
	}
	_, err := c.do(ctx, accessToken, http.MethodPut, path, nil)
	return err
}

func (c *Client) do(ctx context.Context, accessToken, method, path string, body []byte) ([]byte, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrUnauthorized
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
		payload, readErr := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read response: %w", readErr)
		}

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return payload, nil
		}
		if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
			return nil, ErrUnauthorized
		}
		if res.StatusCode == http.StatusNotFound {
			return nil, ErrNoDevice
		}
		if reliability.IsRetryableHTTPStatus(res.StatusCode) && attempt == 0 {
			delay := reliability.RetryAfter(res.Header, reliability.ExponentialBackoff(attempt, c.retryBase, c.retryCap))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			continue
		}

		return nil, statusError(res.StatusCode, payload)
	}
}

func statusError(code int, body []byte) error {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Errorf("spotify status %d: %s", code, parsed.Error.Message)
	}
	return fmt.Errorf("spotify status %d", code)
}
