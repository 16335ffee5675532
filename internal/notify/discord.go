package notify

import (
	"context"
	"fmt"
)

// DiscordSender delivers engine alerts via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	http       *httpPoster
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		http:       newHTTPPoster(),
	}
}

// Send posts the alert to the webhook, title in bold. Discord answers 204 on
// success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	}
	if err := d.http.postJSON(ctx, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
