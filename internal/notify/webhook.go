// Package notify delivers escalation and takeover notifications to the
// operations webhook. Delivery is best-effort: one retry after a short
// backoff, then the failure is logged and dropped. The call path never
// waits on this package beyond the caller-supplied context.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const retryBackoff = 500 * time.Millisecond

// Webhook posts JSON events to a single configured endpoint.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook builds a notifier for the given endpoint URL.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url: url,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type escalationEvent struct {
	Event  string `json:"event"`
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

type takeoverEvent struct {
	Event      string `json:"event"`
	CallID     string `json:"call_id"`
	OperatorID string `json:"operator_id,omitempty"`
}

// NotifyEscalation reports an unacknowledged critical call.
func (w *Webhook) NotifyEscalation(ctx context.Context, callID, reason string) error {
	return w.post(ctx, escalationEvent{Event: "escalation", CallID: callID, Reason: reason})
}

// NotifyTakeover reports a transfer of control to a human operator.
func (w *Webhook) NotifyTakeover(ctx context.Context, callID, operatorID string) error {
	return w.post(ctx, takeoverEvent{Event: "takeover", CallID: callID, OperatorID: operatorID})
}

func (w *Webhook) post(ctx context.Context, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	err = w.send(ctx, body)
	if err == nil {
		return nil
	}

	w.logger.Warn("notification delivery failed, retrying once",
		slog.String("url", w.url),
		slog.String("error", err.Error()))

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := w.send(ctx, body); err != nil {
		return fmt.Errorf("notification delivery failed after retry: %w", err)
	}
	return nil
}

func (w *Webhook) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Nop discards all notifications. Used when no webhook is configured.
type Nop struct{}

func (Nop) NotifyEscalation(context.Context, string, string) error { return nil }
func (Nop) NotifyTakeover(context.Context, string, string) error   { return nil }
