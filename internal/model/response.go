package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Identity is the snapshot of an authenticated caller taken at submit time.
type Identity struct {
	ID            string  `json:"id" validate:"required"`
	Username      string  `json:"username" validate:"required"`
	Discriminator string  `json:"discriminator"`
	Avatar        *string `json:"avatar,omitempty"`
	Email         *string `json:"email,omitempty" validate:"omitempty,email"`
	Verified      *bool   `json:"verified,omitempty"`
	Admin         bool    `json:"admin"`
}

// DisplayName renders "username#discriminator", or just the username for
// accounts without a discriminator.
func (i *Identity) DisplayName() string {
	if i.Discriminator == "" || i.Discriminator == "0" {
		return i.Username
	}
	return fmt.Sprintf("%s#%s", i.Username, i.Discriminator)
}

// Mention is the chat mention markup for the identity.
func (i *Identity) Mention() string {
	return fmt.Sprintf("<@%s>", i.ID)
}

// HasVerifiedEmail reports whether the provider returned an email and
// marked it verified.
func (i *Identity) HasVerifiedEmail() bool {
	return i.Email != nil && *i.Email != "" && i.Verified != nil && *i.Verified
}

// AntiSpam holds the anti-abuse evidence attached to a response.
type AntiSpam struct {
	IPHash        string `json:"ip_hash" validate:"required,len=64,hexadecimal"`
	UserAgentHash string `json:"user_agent_hash" validate:"required,len=64,hexadecimal"`
	CaptchaPass   bool   `json:"captcha_pass"`
}

// SubmitRequest is the inbound payload of a submission.
type SubmitRequest struct {
	Response map[string]json.RawMessage `json:"response" binding:"required"`
	Captcha  *string                    `json:"captcha"`
}

// FormResponse is a persisted, accepted submission.
type FormResponse struct {
	ID        uuid.UUID      `json:"id" validate:"required"`
	FormID    string         `json:"form_id" validate:"required"`
	Timestamp time.Time      `json:"timestamp" validate:"required"`
	User      *Identity      `json:"user,omitempty" validate:"omitempty"`
	AntiSpam  *AntiSpam      `json:"antispam,omitempty" validate:"omitempty"`
	Response  map[string]any `json:"response" validate:"required"`
}

// CodeAnswer replaces a code answer once it has been graded.
type CodeAnswer struct {
	Value    string   `json:"value"`
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures"`
}

// ResponseEvent is the compact notice published for each accepted response.
type ResponseEvent struct {
	ResponseID uuid.UUID `json:"response_id"`
	FormID     string    `json:"form_id"`
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id,omitempty"`
}
