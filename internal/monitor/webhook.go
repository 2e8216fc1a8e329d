// Package monitor pushes operational notices (provider switches, handler
// panics) to an external webhook, implementing the failover.Notifier
// interface by structural typing; the scanner also uses it as the notifier
// for handler panics reported through registry.Invoke's onPanic callback.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Webhook posts a JSON {"text": msg} body to a configured URL. A zero-value
// Webhook (empty URL) silently drops notifications, so wiring one in via
// monitor.webhook_url is entirely optional.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook builds a Webhook notifier posting to url. An empty url yields
// a no-op notifier.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type payload struct {
	Text string `json:"text"`
}

// Notify posts msg to the webhook URL in the background; delivery failures
// are logged, not returned, since a monitor outage must never block
// scanning.
func (w *Webhook) Notify(msg string) {
	if w.url == "" {
		return
	}
	go w.send(msg)
}

func (w *Webhook) send(msg string) {
	body, err := json.Marshal(payload{Text: msg})
	if err != nil {
		logrus.Errorf("monitor: encoding notification: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		logrus.Errorf("monitor: building request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		logrus.Warnf("monitor: webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logrus.Warnf("monitor: webhook responded with %s", resp.Status)
	}
}

// String renders the notifier's target for diagnostics/logging.
func (w *Webhook) String() string {
	if w.url == "" {
		return "monitor.Webhook(disabled)"
	}
	return fmt.Sprintf("monitor.Webhook(%s)", w.url)
}
