package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNotifyPostsJSONPayload(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decoding webhook payload: %v", err)
		}
		received <- p.Text
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	w.Notify("provider switched to http://example.com")

	select {
	case text := <-received:
		if text != "provider switched to http://example.com" {
			t.Errorf("payload text = %q, want the notified message", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the webhook request")
	}
}

func TestNotifyWithEmptyURLIsNoOp(t *testing.T) {
	w := NewWebhook("")
	// Should not panic or block; there is nothing listening on this notifier.
	w.Notify("should be dropped")
}

func TestStringReflectsConfiguredURL(t *testing.T) {
	if got := NewWebhook("").String(); got != "monitor.Webhook(disabled)" {
		t.Errorf("String() for empty url = %q", got)
	}
	if got := NewWebhook("http://example.com").String(); got != "monitor.Webhook(http://example.com)" {
		t.Errorf("String() = %q, want monitor.Webhook(http://example.com)", got)
	}
}
