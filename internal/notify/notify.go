// Package notify dispatches fire-and-forget notifications to the customer
// and the production team. Failures are logged and never propagate into the
// workflow.
package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"storybook-backend/internal/logger"
)

type Notifier struct {
	slackWebhookURL string
	emailWebhookURL string
	httpClient      *http.Client
	log             *logger.Logger
}

func New(slackWebhookURL, emailWebhookURL string, log *logger.Logger) *Notifier {
	return &Notifier{
		slackWebhookURL: slackWebhookURL,
		emailWebhookURL: emailWebhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// TeamMessage posts to the team chat webhook in the background.
func (n *Notifier) TeamMessage(text string) {
	if n.slackWebhookURL == "" {
		return
	}
	go n.post(n.slackWebhookURL, map[string]interface{}{"text": text})
}

// CustomerEmail posts to the email-provider webhook in the background.
func (n *Notifier) CustomerEmail(to, subject, body string) {
	if n.emailWebhookURL == "" {
		return
	}
	go n.post(n.emailWebhookURL, map[string]interface{}{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
}

func (n *Notifier) post(url string, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn("notification payload marshal failed", "error", err)
		return
	}

	resp, err := n.httpClient.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		n.log.Warn("notification dispatch failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn("notification rejected", "status", resp.StatusCode)
	}
}
