package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"threatops/internal/schema"
)

// WebhookChannel POSTs the full alert as JSON to a generic webhook endpoint.
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a webhook channel with the given delivery timeout.
// headers are added to every request, for endpoints that want auth tokens.
func NewWebhookChannel(url string, headers map[string]string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return "webhook" }

// webhookPayload is the wire shape posted to generic webhooks.
type webhookPayload struct {
	Alert   *schema.Alert   `json:"alert"`
	Actions []schema.Action `json:"actions,omitempty"`
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, alert *schema.Alert, actions []schema.Action) error {
	body, err := json.Marshal(webhookPayload{Alert: alert, Actions: actions})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel posts a formatted summary to a Slack incoming webhook.
type SlackChannel struct {
	url     string
	channel string
	client  *http.Client
}

// NewSlackChannel creates a Slack channel with the given delivery timeout.
// channel optionally overrides the webhook's default destination.
func NewSlackChannel(url, channel string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		url:     url,
		channel: channel,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Channel.
func (c *SlackChannel) Name() string { return "slack" }

var severityEmoji = map[schema.Severity]string{
	schema.SeverityCritical: ":rotating_light:",
	schema.SeverityHigh:     ":warning:",
	schema.SeverityMedium:   ":large_orange_diamond:",
	schema.SeverityLow:      ":information_source:",
}

// Send implements Channel.
func (c *SlackChannel) Send(ctx context.Context, alert *schema.Alert, actions []schema.Action) error {
	emoji, ok := severityEmoji[alert.Severity]
	if !ok {
		emoji = ":bell:"
	}

	text := fmt.Sprintf("%s *%s* [%s]\n%s", emoji, alert.Title, alert.Severity, alert.Description)
	if len(actions) > 0 {
		text += "\nActions:"
		for _, a := range actions {
			text += fmt.Sprintf("\n  - %s %s (%s)", a.Type, a.Target, a.Status)
		}
	}
	if alert.Recommendation != "" {
		text += "\nRecommendation: " + alert.Recommendation
	}

	payload := map[string]string{"text": text}
	if c.channel != "" {
		payload["channel"] = c.channel
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
