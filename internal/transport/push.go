package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/habitloop/notifier/internal/models"
)

// PushClient delivers notifications through the mobile push gateway's HTTP
// API.
type PushClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewPushClient(baseURL, apiKey string) *PushClient {
	return &PushClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *PushClient) Supports(channel string) bool {
	return channel == models.ChannelPush
}

type pushRequest struct {
	DeviceToken string            `json:"device_token"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Type        string            `json:"type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type pushErrorResponse struct {
	Error string `json:"error"`
}

func (c *PushClient) Deliver(ctx context.Context, rec *models.Recipient, payload *Payload) error {
	if rec.DeviceToken == "" {
		return fmt.Errorf("recipient %s has no device token", rec.ID)
	}

	body, err := json.Marshal(pushRequest{
		DeviceToken: rec.DeviceToken,
		Title:       payload.Title,
		Message:     payload.Message,
		Type:        payload.Type,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp pushErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("push gateway returned HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("push gateway error: %s", errResp.Error)
	}

	// Drain so the connection can be reused
	io.Copy(io.Discard, resp.Body)
	return nil
}
