package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// webhookTimeout caps a single delivery attempt so a dead endpoint cannot
// pile up goroutines.
const webhookTimeout = 10 * time.Second

// webhookPayload is the JSON envelope POSTed to the configured URL.
type webhookPayload struct {
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Webhook returns a Sink that POSTs a JSON envelope to url. A nil client
// uses a dedicated one with a delivery timeout. Delivery failures are logged
// at warning and otherwise swallowed.
func Webhook(url string, client *http.Client, logger *slog.Logger) Sink {
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	log := logger.With(slog.String("component", "alert.Webhook"))

	return func(ctx context.Context, subject, body string) {
		payload, err := json.Marshal(webhookPayload{
			Subject:   subject,
			Body:      body,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			log.Warn("marshal webhook payload", slog.String("error", err.Error()))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			log.Warn("build webhook request", slog.String("error", err.Error()))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			log.Warn("webhook delivery failed", slog.String("error", err.Error()))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			log.Warn("webhook endpoint rejected alert",
				slog.Int("status", resp.StatusCode),
				slog.String("subject", subject),
			)
		}
	}
}
