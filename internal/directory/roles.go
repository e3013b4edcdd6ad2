package directory

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/stemsi/forms-backend/internal/model"
)

// AssignRole grants the form's configured role to the responding member.
func (n *Notifier) AssignRole(ctx context.Context, form *model.Form, user *model.Identity) error {
	if form.DiscordRole == nil || *form.DiscordRole == "" {
		return errors.New("form has no role configured")
	}
	if user == nil || user.ID == "" {
		return errors.New("role grant needs an identity")
	}

	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s",
		n.apiBaseURL,
		url.PathEscape(n.guild),
		url.PathEscape(user.ID),
		url.PathEscape(*form.DiscordRole),
	)
	if err := n.client.Put(ctx, endpoint); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}
