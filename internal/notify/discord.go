package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/memebattle/internal/domain"
)

// Embed colours per event family.
const (
	colorInfo    = 0x5865F2
	colorSuccess = 0x57F287
	colorWarning = 0xFEE75C
	colorDanger  = 0xED4245
)

// DiscordSender delivers notifications via a Discord webhook. Battle events
// are sent as embeds; plain notifications as message content.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultSendTimeout},
	}
}

// Send posts a plain message with the title in bold.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]string{
		"content": "**" + title + "**\n" + message,
	})
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// SendEvent posts evt as a single embed.
func (d *DiscordSender) SendEvent(ctx context.Context, evt domain.BattleEvent) error {
	title, message := Render(evt)
	embed := discordEmbed{Title: title, Description: message, Color: embedColor(evt.Type)}
	if !evt.At.IsZero() {
		embed.Timestamp = evt.At.UTC().Format(time.RFC3339)
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"embeds": []discordEmbed{embed},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }

func embedColor(eventType string) int {
	switch eventType {
	case domain.EventBattleCompleted, domain.EventRefundIssued:
		return colorSuccess
	case domain.EventBattleExpired, domain.EventBattleRefunded, domain.EventOrphanQueued:
		return colorWarning
	case domain.EventRefundFailed:
		return colorDanger
	default:
		return colorInfo
	}
}
