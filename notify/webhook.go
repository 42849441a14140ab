// Package notify posts meal events to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"mealsense"
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type WebhookClient struct {
	webhookURL string
	httpClient doer
}

var _ mealsense.Notifier = (*WebhookClient)(nil)

func NewWebhookClient(webhookURL string, httpClient doer) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: httpClient,
	}
}

func (c *WebhookClient) Notify(ctx context.Context, subject string, message string) error {
	payload, err := json.Marshal(map[string]any{
		"subject": subject,
		"text":    message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to post notification: %s", resp.Status)
	}

	return nil
}
