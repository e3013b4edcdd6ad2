package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stemsi/forms-backend/internal/model"
)

const (
	embedColor       = 7506394
	defaultUsername  = "Forms"
	anonymousMention = "A user"
	userMentionToken = "_USER_MENTION_"
	avatarURLFormat  = "https://cdn.discordapp.com/avatars/%s/%s.png"
)

// WebhookMessage is the JSON body of a webhook execution.
type WebhookMessage struct {
	Content         string          `json:"content,omitempty"`
	Username        string          `json:"username"`
	Embeds          []Embed         `json:"embeds"`
	AllowedMentions AllowedMentions `json:"allowed_mentions"`
}

type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	Timestamp   string       `json:"timestamp"`
	Color       int          `json:"color"`
	Author      *EmbedAuthor `json:"author,omitempty"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type AllowedMentions struct {
	Parse []string `json:"parse"`
}

// Notifier delivers the side effects of an accepted response.
type Notifier struct {
	client      *Client
	frontendURL string
	apiBaseURL  string
	guild       string
}

// NewNotifier creates a Notifier. frontendURL prefixes response links and
// apiBaseURL/guild address role grants.
func NewNotifier(client *Client, frontendURL, apiBaseURL, guild string) *Notifier {
	return &Notifier{
		client:      client,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		apiBaseURL:  strings.TrimRight(apiBaseURL, "/"),
		guild:       guild,
	}
}

// SendWebhook renders and posts the form's submission notification.
func (n *Notifier) SendWebhook(ctx context.Context, form *model.Form, resp *model.FormResponse) error {
	if form.Webhook == nil || form.Webhook.URL == "" {
		return errors.New("form has no webhook configured")
	}
	msg := RenderWebhook(form, resp, n.frontendURL)
	if err := n.client.Post(ctx, form.Webhook.URL, msg); err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	return nil
}

// RenderWebhook builds the notification for resp. The author block is only
// present when the response carries an identity.
func RenderWebhook(form *model.Form, resp *model.FormResponse, frontendURL string) *WebhookMessage {
	mention := anonymousMention
	if resp.User != nil {
		mention = resp.User.Mention()
	}
	timestamp := resp.Timestamp.UTC().Format(time.RFC3339)

	embed := Embed{
		Title:       "New Form Response",
		Description: fmt.Sprintf("%s submitted a response to `%s`.", mention, form.Name),
		URL:         fmt.Sprintf("%s/forms/%s/responses/%s", frontendURL, form.ID, resp.ID),
		Timestamp:   timestamp,
		Color:       embedColor,
	}
	if resp.User != nil {
		embed.Author = &EmbedAuthor{Name: resp.User.DisplayName()}
		if resp.User.Avatar != nil && *resp.User.Avatar != "" {
			embed.Author.IconURL = fmt.Sprintf(avatarURLFormat, resp.User.ID, *resp.User.Avatar)
		}
	}

	msg := &WebhookMessage{
		Username:        form.Name,
		Embeds:          []Embed{embed},
		AllowedMentions: AllowedMentions{Parse: []string{"users", "roles"}},
	}
	if msg.Username == "" {
		msg.Username = defaultUsername
	}

	if form.Webhook != nil && form.Webhook.Message != nil && *form.Webhook.Message != "" {
		vars := strings.NewReplacer(
			"{user}", mention,
			"{response_id}", resp.ID.String(),
			"{form}", form.Name,
			"{form_id}", form.ID,
			"{time}", timestamp,
			userMentionToken, mention,
		)
		msg.Content = vars.Replace(*form.Webhook.Message)
	}
	return msg
}
