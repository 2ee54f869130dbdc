package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"clipforge/internal/config"
	"clipforge/internal/notifications"
)

type captured struct {
	title    string
	body     string
	tags     string
	priority string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), requests...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventCriticalError, notifications.Payload{"message": "boom"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectBody     string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "critical error",
			event:          notifications.EventCriticalError,
			payload:        notifications.Payload{"type": "datastore", "message": "disk I/O error", "error_id": "abc"},
			expectTitle:    "clipforge - Critical Error",
			expectBody:     "❌ datastore error: disk I/O error\nID: abc",
			expectTags:     "clipforge,error,critical",
			expectPriority: "high",
		},
		{
			name:        "health warning",
			event:       notifications.EventHealthWarning,
			payload:     notifications.Payload{"check": "disk", "detail": "95% used"},
			expectTitle: "clipforge - Health Warning",
			expectBody:  "⚠️ disk: 95% used",
			expectTags:  "clipforge,health,warning",
		},
		{
			name:        "job completed",
			event:       notifications.EventJobCompleted,
			payload:     notifications.Payload{"job_id": "j1", "clips": 2},
			expectTitle: "clipforge - Job Complete",
			expectBody:  "✅ Job j1 produced 2 clips",
			expectTags:  "clipforge,job,completed",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "clipforge - Test",
			expectBody:     "🧪 Notification system test",
			expectTags:     "clipforge,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, requests := newCaptureServer(t)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = srv.URL
			svc := notifications.NewService(&cfg)

			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
			got := requests()
			if len(got) != 1 {
				t.Fatalf("expected 1 request, got %d", len(got))
			}
			if got[0].title != tc.expectTitle {
				t.Fatalf("title = %q, want %q", got[0].title, tc.expectTitle)
			}
			if got[0].body != tc.expectBody {
				t.Fatalf("body = %q, want %q", got[0].body, tc.expectBody)
			}
			if got[0].tags != tc.expectTags {
				t.Fatalf("tags = %q, want %q", got[0].tags, tc.expectTags)
			}
			if got[0].priority != tc.expectPriority {
				t.Fatalf("priority = %q, want %q", got[0].priority, tc.expectPriority)
			}
		})
	}
}

func TestNtfyServiceRespectsMutedEvents(t *testing.T) {
	srv, requests := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.CriticalErrors = false
	cfg.Notifications.HealthWarnings = false
	svc := notifications.NewService(&cfg)

	ctx := context.Background()
	_ = svc.Publish(ctx, notifications.EventCriticalError, nil)
	_ = svc.Publish(ctx, notifications.EventHealthWarning, nil)
	if got := requests(); len(got) != 0 {
		t.Fatalf("expected muted events to be dropped, got %d requests", len(got))
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
