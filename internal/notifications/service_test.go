package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"contentflow/internal/config"
	"contentflow/internal/events"
	"contentflow/internal/logging"
	"contentflow/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []captured
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		mu.Lock()
		seen = append(seen, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		out := make([]captured, len(seen))
		copy(out, seen)
		return out
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyWorkflowCompleted(context.Background(), "wf", "demo", ""); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "completed",
			send: func(s notifications.Service) error {
				return s.NotifyWorkflowCompleted(context.Background(), "0123456789abcdef", "demo", "https://cdn/post/1")
			},
			expectTitle:   "contentflow - Completed",
			expectMessage: "✅ Published for demo: workflow 01234567\nResult: https://cdn/post/1",
			expectTags:    "contentflow,demo,completed",
		},
		{
			name: "failed",
			send: func(s notifications.Service) error {
				return s.NotifyWorkflowFailed(context.Background(), "wf-1", "demo", "caption", "caption: bad video")
			},
			expectTitle:    "contentflow - Failed",
			expectMessage:  "❌ Workflow wf-1 for demo failed during caption: caption: bad video",
			expectTags:     "contentflow,demo,error",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "contentflow - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "contentflow,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, seen := newCaptureServer(t)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			if err := tc.send(notifications.NewService(&cfg)); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			got := seen()
			if len(got) != 1 {
				t.Fatalf("expected 1 request, got %d", len(got))
			}
			if got[0].title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got[0].title)
			}
			if got[0].body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got[0].body)
			}
			if got[0].tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got[0].tags)
			}
			if got[0].priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got[0].priority)
			}
		})
	}
}

func TestNtfyServiceHonoursToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for disabled notification")
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completed = false
	cfg.Notifications.Failed = false

	svc := notifications.NewService(&cfg)
	if err := svc.NotifyWorkflowCompleted(context.Background(), "wf", "demo", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.NotifyWorkflowFailed(context.Background(), "wf", "demo", "render", "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic disabled", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if err := notifications.NewService(&cfg).TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestListenForwardsTerminalTransitions(t *testing.T) {
	server, seen := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	bus := events.NewBus(logging.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	subscribed := make(chan struct{})
	go func() {
		done <- notifications.Listen(ctx, subscribeSignal{bus, subscribed}, notifications.NewService(&cfg), logging.NewNop())
	}()
	<-subscribed

	for _, tr := range []events.Transition{
		{WorkflowID: "wf-1", Brand: "demo", From: "queued", To: "rendering"},
		{WorkflowID: "wf-1", Brand: "demo", From: "distributing", To: "completed"},
		{WorkflowID: "wf-2", Brand: "demo", Stage: "render", From: "rendering", To: "failed", Error: "render: boom"},
	} {
		if err := bus.Publish(tr); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(seen()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("listen returned error: %v", err)
	}

	got := seen()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	titles := map[string]bool{got[0].title: true, got[1].title: true}
	if !titles["contentflow - Completed"] || !titles["contentflow - Failed"] {
		t.Fatalf("unexpected notifications: %+v", got)
	}
}

type subscribeSignal struct {
	bus   *events.Bus
	ready chan struct{}
}

func (s subscribeSignal) Subscribe(ctx context.Context) (<-chan events.Transition, error) {
	ch, err := s.bus.Subscribe(ctx)
	close(s.ready)
	return ch, err
}
