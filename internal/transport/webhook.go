package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/roach88/vigil/internal/domain"
)

// WebhookSender POSTs payloads as JSON to the recipient's contact URL.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender builds a webhook transport. The client timeout is a
// backstop; the per-attempt context deadline is the primary bound.
func NewWebhookSender(timeout time.Duration) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: timeout},
	}
}

type webhookBody struct {
	Kind      string `json:"kind"`
	MessageID string `json:"message_id"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
}

// Deliver implements Transport. Any non-2xx response is a failed attempt.
func (w *WebhookSender) Deliver(ctx context.Context, r *domain.Recipient, p Payload) error {
	body, err := json.Marshal(webhookBody{
		Kind:      string(p.Kind),
		MessageID: p.MessageID,
		Title:     p.Title,
		Body:      string(p.Body),
	})
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Contact, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post to %s: %w", r.Contact, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook post to %s: status %d", r.Contact, resp.StatusCode)
	}
	return nil
}
