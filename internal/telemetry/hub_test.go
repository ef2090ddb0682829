package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestHub_BroadcastsObserverEvents(t *testing.T) {
	hub := NewHub(8, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Observer("run-1")(50, 100, "processed 2024-03-01")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.RunID != "run-1" || ev.Step != 50 || ev.Total != 100 {
		t.Errorf("event = %+v", ev)
	}
}

func TestHub_PublishDropsWhenFull(t *testing.T) {
	hub := NewHub(1, quiet)
	if !hub.Publish(Event{Step: 1}) {
		t.Fatal("first publish should be queued")
	}
	if hub.Publish(Event{Step: 2}) {
		t.Error("second publish should be dropped")
	}
	if hub.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", hub.Dropped())
	}
}

func TestHub_ServeWSChecksOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string // "self" means the test server's own URL
		wantOK  bool
	}{
		{"same origin by default", nil, "self", true},
		{"foreign origin rejected by default", nil, "https://evil.example", false},
		{"listed origin", []string{"https://app.example.com/"}, "https://app.example.com", true},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example", false},
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"no origin header", []string{"https://app.example.com"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(8, quiet, tt.origins...)
			srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
			defer srv.Close()

			header := http.Header{}
			switch tt.origin {
			case "":
			case "self":
				header.Set("Origin", srv.URL)
			default:
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
			if conn != nil {
				defer conn.Close()
			}
			if tt.wantOK {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("dial succeeded, want rejection")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("response = %v, want 403", resp)
			}
		})
	}
}
