package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type webhookPayload struct {
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
}

// WebhookChannel POSTs a JSON body to the recipient URL.
type WebhookChannel struct {
	httpClient *http.Client
}

func NewWebhookChannel(timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{httpClient: &http.Client{Timeout: timeout}}
}

func (w *WebhookChannel) Deliver(ctx context.Context, recipient, message string) error {
	body, err := json.Marshal(webhookPayload{Recipient: recipient, Content: message, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
