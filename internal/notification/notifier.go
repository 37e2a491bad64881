// Package notification delivers order phase changes to interested parties.
// Delivery is best effort and never feeds back into the workflow.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type Notification struct {
	EventID     string    `json:"event_id"`
	OrderNumber string    `json:"order_number"`
	FromPhase   string    `json:"from_phase"`
	ToPhase     string    `json:"to_phase"`
	ActorID     int64     `json:"actor_id"`
	AssignedTo  *int64    `json:"assigned_to,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// WebhookNotifier POSTs each notification as JSON to a fixed URL.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	jsonData, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", note.EventID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.DebugContext(ctx, "webhook notification delivered",
		"order_number", note.OrderNumber,
		"status_code", resp.StatusCode)
	return nil
}

// LogNotifier writes notifications to the log. Used when no webhook is
// configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.InfoContext(ctx, "order phase changed",
		"order_number", note.OrderNumber,
		"from", note.FromPhase,
		"to", note.ToPhase,
		"actor_id", note.ActorID)
	return nil
}
