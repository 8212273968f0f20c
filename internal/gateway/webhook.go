package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookEvent is the JSON body posted to a tenant's webhook URL for each
// inbound message.
type WebhookEvent struct {
	Sender      string    `json:"sender"`
	MessageType string    `json:"messageType"`
	Content     string    `json:"content"`
	Caption     *string   `json:"caption,omitempty"`
	MessageID   string    `json:"messageId"`
	Timestamp   time.Time `json:"timestamp"`
}

// TestResult is what a manual webhook test reports back to the caller.
type TestResult struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Deliverer posts webhook notifications. Delivery is best-effort: one attempt,
// bounded by the client timeout, with the outcome logged and counted but never
// surfaced to the message path.
type Deliverer struct {
	Client *http.Client
	Log    zerolog.Logger
}

// NewDeliverer builds a Deliverer with the given per-attempt timeout.
func NewDeliverer(timeout time.Duration, log zerolog.Logger) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Deliverer{
		Client: &http.Client{Timeout: timeout},
		Log:    log,
	}
}

// Deliver posts one inbound-message event to url. The receiving end can
// authenticate the call via the X-API-Key header, which carries the session's
// own key.
func (d *Deliverer) Deliver(ctx context.Context, url, apiKey string, ev WebhookEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		d.Log.Error().Err(err).Msg("encode webhook payload")
		webhookDeliveries.WithLabelValues("failed").Inc()
		return
	}

	resp, err := d.post(ctx, url, apiKey, body, nil)
	if err != nil {
		d.Log.Warn().Err(err).Str("url", url).Msg("webhook delivery failed")
		webhookDeliveries.WithLabelValues("failed").Inc()
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		d.Log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("webhook delivery rejected")
		webhookDeliveries.WithLabelValues("rejected").Inc()
		return
	}
	webhookDeliveries.WithLabelValues("delivered").Inc()
}

// Test posts a synthetic event to url so a tenant can verify its endpoint
// before real traffic arrives. Unlike Deliver, the outcome is returned to the
// caller, including the endpoint's status code and (truncated) body.
func (d *Deliverer) Test(ctx context.Context, url, apiKey, sessionID string) (*TestResult, error) {
	payload := map[string]any{
		"event":     "test",
		"sessionId": sessionID,
		"timestamp": time.Now().UTC(),
		"message":   "This is a test webhook message",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := d.post(ctx, url, apiKey, body, map[string]string{"X-Webhook-Test": "true"})
	if err != nil {
		webhookDeliveries.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("webhook test request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		webhookDeliveries.WithLabelValues("rejected").Inc()
	} else {
		webhookDeliveries.WithLabelValues("delivered").Inc()
	}
	return &TestResult{StatusCode: resp.StatusCode, Body: string(raw)}, nil
}

func (d *Deliverer) post(ctx context.Context, url, apiKey string, body []byte, extra map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return d.Client.Do(req)
}
