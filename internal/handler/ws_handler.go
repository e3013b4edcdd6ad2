package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/middleware"
	"github.com/stemsi/forms-backend/internal/model"
	"github.com/stemsi/forms-backend/internal/response"
	"github.com/stemsi/forms-backend/internal/service"
	ws "github.com/stemsi/forms-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// FeedSubscriber streams accepted-response events of a form.
type FeedSubscriber interface {
	Subscribe(ctx context.Context, formID string) (<-chan model.ResponseEvent, func() error, error)
}

// WSHandler streams the live response feed to admins.
type WSHandler struct {
	forms    FormViewer
	feed     FeedSubscriber
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(forms FormViewer, feed FeedSubscriber, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		forms:    forms,
		feed:     feed,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ResponseFeed godoc
// WS /ws/v1/admin/forms/:form_id/responses
// Upgrades to WebSocket and pushes one frame per accepted response.
func (h *WSHandler) ResponseFeed(c *gin.Context) {
	admin := middleware.GetIdentity(c)
	if admin == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	formID := c.Param("form_id")

	if _, err := h.forms.GetForm(c.Request.Context(), formID, admin); err != nil {
		if errors.Is(err, service.ErrFormNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Str("form_id", formID).Msg("Form lookup failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop, err := h.feed.Subscribe(ctx, formID)
	if err != nil {
		h.log.Error().Err(err).Str("form_id", formID).Msg("Feed subscription failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrServiceUnavailable)
		return
	}
	defer stop()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("admin_id", admin.ID).
		Str("form_id", formID).
		Logger()
	wsLog.Info().Msg("Admin attached to response feed")

	if err := ws.WriteTyped(conn, ws.SubscribedResponse{Event: ws.EventSubscribed, FormID: formID}); err != nil {
		return
	}

	// The reader owns the read side; pings it receives are answered by the
	// writer loop below so only one goroutine writes data frames.
	pings := make(chan struct{}, 1)
	go h.readLoop(conn, wsLog, cancel, pings)

	ticker := time.NewTicker(ws.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wsLog.Info().Msg("Admin detached from response feed")
			return

		case ev, ok := <-events:
			if !ok {
				wsLog.Warn().Msg("Response feed closed")
				_ = ws.WriteError(conn, "response feed closed")
				return
			}
			if err := ws.WriteTyped(conn, ws.ResponseNotice{Event: ws.EventResponse, Data: ev}); err != nil {
				wsLog.Debug().Err(err).Msg("Feed write failed")
				return
			}

		case <-pings:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}

		case <-ticker.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(conn *websocket.Conn, wsLog zerolog.Logger, cancel context.CancelFunc, pings chan<- struct{}) {
	defer cancel()
	ws.KeepAlive(conn)

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			select {
			case pings <- struct{}{}:
			default:
			}
		default:
			wsLog.Debug().Str("action", string(msg.Action)).Msg("Ignoring client action")
		}
	}
}
