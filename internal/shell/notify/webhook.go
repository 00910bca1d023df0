package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/artpar/hostdeploy/internal/core/domain"
	"github.com/hashicorp/go-retryablehttp"
)

// WebhookConfig configures webhook delivery.
type WebhookConfig struct {
	URL      string
	RetryMax int
	Timeout  time.Duration
}

// WebhookPayload is the JSON body posted to the webhook.
type WebhookPayload struct {
	Event       string    `json:"event"`
	RunID       string    `json:"run_id"`
	App         string    `json:"app"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	Reason      string    `json:"reason"`
	RolledBack  bool      `json:"rolled_back"`
	OccurredAt  time.Time `json:"occurred_at"`
	Text        string    `json:"text"`
}

// Webhook posts failure reports as JSON.
type Webhook struct {
	url    string
	client *retryablehttp.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(config WebhookConfig, logger *slog.Logger) *Webhook {
	if config.RetryMax == 0 {
		config.RetryMax = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = config.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = config.Timeout
	client.Logger = logger.With("component", "webhook")

	return &Webhook{url: config.URL, client: client}
}

// Notify posts the record.
func (w *Webhook) Notify(ctx context.Context, record domain.FailureRecord) error {
	body, err := json.Marshal(WebhookPayload{
		Event:       "deployment.failed",
		RunID:       record.RunID,
		App:         record.App,
		Version:     record.Version,
		Environment: record.Environment,
		Reason:      record.Reason,
		RolledBack:  record.RolledBack,
		OccurredAt:  record.OccurredAt,
		Text:        record.Subject() + ": " + record.Reason,
	})
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
