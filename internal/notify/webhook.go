package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"options-risk-engine/internal/config"
	"options-risk-engine/pkg/utils"
)

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
	retry   utils.RetryConfig
}

// NewWebhookNotifier creates a new WebhookNotifier. Server errors and
// transport failures are retried; 4xx responses are not.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	retry := utils.DefaultRetryConfig()
	retry.Retryable = func(err error) bool {
		_, rejected := err.(*statusError)
		return !rejected
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: retry,
	}
}

// WithRetry replaces the retry policy.
func (w *WebhookNotifier) WithRetry(cfg utils.RetryConfig) *WebhookNotifier {
	retryable := w.retry.Retryable
	w.retry = cfg
	if w.retry.Retryable == nil {
		w.retry.Retryable = retryable
	}
	return w
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// statusError is a non-retryable 4xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.code)
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}
	if _, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, nil); err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	return utils.Retry(ctx, w.retry, func(ctx context.Context) error {
		return w.post(ctx, body)
	})
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "OptionsRiskEngine/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &statusError{code: resp.StatusCode}
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
