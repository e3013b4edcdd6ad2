package websocket

import "github.com/stemsi/forms-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventSubscribed Event = "subscribed"
	EventResponse   Event = "response"
	EventPong       Event = "pong"
)

// SubscribedResponse confirms the feed is live.
type SubscribedResponse struct {
	Event  Event  `json:"event"`
	FormID string `json:"form_id"`
}

// ResponseNotice announces one accepted response.
type ResponseNotice struct {
	Event Event               `json:"event"`
	Data  model.ResponseEvent `json:"data"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
