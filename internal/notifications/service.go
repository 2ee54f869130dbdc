package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clipforge/internal/config"
)

const userAgent = "clipforge/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventCriticalError Event = "critical_error"
	EventHealthWarning Event = "health_warning"
	EventJobCompleted  Event = "job_completed"
	EventJobFailed     Event = "job_failed"
	EventTest          Event = "test"
)

// Payload carries event-specific values. Unknown keys are ignored.
type Payload map[string]any

// Service publishes events to an operator-facing channel.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		critical: cfg.Notifications.CriticalErrors,
		health:   cfg.Notifications.HealthWarnings,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	critical bool
	health   bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil {
		return nil
	}
	switch event {
	case EventCriticalError:
		if !n.critical {
			return nil
		}
	case EventHealthWarning:
		if !n.health {
			return nil
		}
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventCriticalError:
		body := fmt.Sprintf("❌ %s error: %s", valueOr(payload, "type", "internal"), valueOr(payload, "message", "unknown"))
		if id := payloadString(payload, "error_id"); id != "" {
			body += "\nID: " + id
		}
		return message{
			title:    "clipforge - Critical Error",
			body:     body,
			tags:     []string{"clipforge", "error", "critical"},
			priority: "high",
		}, true
	case EventHealthWarning:
		return message{
			title: "clipforge - Health Warning",
			body:  fmt.Sprintf("⚠️ %s: %s", valueOr(payload, "check", "health"), valueOr(payload, "detail", "threshold exceeded")),
			tags:  []string{"clipforge", "health", "warning"},
		}, true
	case EventJobCompleted:
		return message{
			title: "clipforge - Job Complete",
			body:  fmt.Sprintf("✅ Job %s produced %s clips", valueOr(payload, "job_id", "?"), valueOr(payload, "clips", "0")),
			tags:  []string{"clipforge", "job", "completed"},
		}, true
	case EventJobFailed:
		return message{
			title: "clipforge - Job Failed",
			body:  fmt.Sprintf("Job %s failed: %s", valueOr(payload, "job_id", "?"), valueOr(payload, "error", "unknown")),
			tags:  []string{"clipforge", "job", "failed"},
		}, true
	case EventTest:
		return message{
			title:    "clipforge - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"clipforge", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func valueOr(payload Payload, key, fallback string) string {
	if value := payloadString(payload, key); value != "" {
		return value
	}
	return fallback
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
