package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookConfig holds configuration for the webhook alerter.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// WebhookAlerter posts alerts as JSON to an HTTP endpoint.
type WebhookAlerter struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookAlerter creates a new webhook alerter.
func NewWebhookAlerter(cfg WebhookConfig) *WebhookAlerter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookAlerter{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the name of the alerter.
func (w *WebhookAlerter) Name() string {
	return "webhook"
}

// webhookPayload is the posted message format.
type webhookPayload struct {
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alert posts the alert to the configured endpoint. Any non-2xx
// response is an error.
func (w *WebhookAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	payload := webhookPayload{
		Severity:  severity.String(),
		Message:   message,
		Details:   fieldsToMap(fields...),
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// SendSummary posts an end-of-session report.
func (w *WebhookAlerter) SendSummary(ctx context.Context, summary ExecutionSummary) error {
	return w.Alert(ctx, SeverityInfo, summary.FormatText(),
		"orders_submitted", summary.OrdersSubmitted,
		"fill_rate_pct", fmt.Sprintf("%.1f", summary.FillRatePct()),
		"realized_pnl", summary.RealizedPnL.StringFixed(2),
	)
}

// fieldsToMap converts variadic key-value pairs to a JSON-friendly map.
func fieldsToMap(fields ...any) map[string]any {
	if len(fields) < 2 {
		return nil
	}
	out := make(map[string]any, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		out[key] = fields[i+1]
	}
	return out
}

var _ Alerter = (*WebhookAlerter)(nil)
