// Package notifier delivers burn-rate alerts.
package notifier

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Color is a Discord embed color.
type Color int

const (
	ColorGreen  Color = 0x57f287
	ColorYellow Color = 0xfee75c
	ColorOrange Color = 0xe67e22
	ColorRed    Color = 0xed4245
)

// Field is a name/value pair shown with an alert.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notifier sends notifications.
type Notifier interface {
	Send(title, message string, color Color, fields []Field) error
}

// ErrInvalidWebhook is returned for webhook URLs that do not name an id and token.
var ErrInvalidWebhook = errors.New("invalid discord webhook url")

// webhookExecutor is the slice of *discordgo.Session the notifier needs.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts embeds to a Discord webhook.
type DiscordNotifier struct {
	id       string
	token    string
	username string
	exec     webhookExecutor
	now      func() time.Time
}

// Option configures DiscordNotifier.
type Option func(*DiscordNotifier)

// WithExecutor replaces the discordgo session, for tests.
func WithExecutor(e webhookExecutor) Option {
	return func(n *DiscordNotifier) {
		n.exec = e
	}
}

// WithUsername overrides the display name of the webhook.
func WithUsername(name string) Option {
	return func(n *DiscordNotifier) {
		n.username = name
	}
}

// NewDiscordNotifier parses webhookURL (https://discord.com/api/webhooks/<id>/<token>).
func NewDiscordNotifier(webhookURL string, opts ...Option) (*DiscordNotifier, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	n := &DiscordNotifier{
		id:       id,
		token:    token,
		username: "burnwatch",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.exec == nil {
		// Webhook execution needs no bot token.
		s, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("discord session: %w", err)
		}
		n.exec = s
	}
	return n, nil
}

// ParseWebhookURL extracts the webhook id and token.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrInvalidWebhook, raw)
}

// Send posts a single embed.
func (d *DiscordNotifier) Send(title, message string, color Color, fields []Field) error {
	embedFields := make([]*discordgo.MessageEmbedField, len(fields))
	for i, f := range fields {
		embedFields[i] = &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline}
	}

	params := &discordgo.WebhookParams{
		Username: d.username,
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: message,
			Color:       int(color),
			Fields:      embedFields,
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	}
	if _, err := d.exec.WebhookExecute(d.id, d.token, false, params); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
