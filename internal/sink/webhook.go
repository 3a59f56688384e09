package sink

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookSink POSTs events as JSON to a configured endpoint. Delivery is
// best-effort: failures are logged, never surfaced to the pipeline.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook sink for the given URL.
func NewWebhook(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Type  string      `json:"type"` // stage | final
	Stage *StageEvent `json:"stage,omitempty"`
	Final *FinalEvent `json:"final,omitempty"`
}

// Stage delivers a stage transition event.
func (w *WebhookSink) Stage(ev StageEvent) {
	w.post(webhookPayload{Type: "stage", Stage: &ev})
}

// Final delivers a terminal outcome event.
func (w *WebhookSink) Final(ev FinalEvent) {
	w.post(webhookPayload{Type: "final", Final: &ev})
}

func (w *WebhookSink) post(payload webhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		zap.L().Warn("sink: marshal webhook payload", zap.Error(err))
		return
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		zap.L().Warn("sink: webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		zap.L().Warn("sink: webhook returned non-2xx",
			zap.Int("status", resp.StatusCode),
		)
	}
}
