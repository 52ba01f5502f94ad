package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/flowra/backend/internal/middleware"
	"github.com/flowra/backend/internal/services"
	"github.com/flowra/backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const sseHeartbeat = 25 * time.Second

// SSEHandler streams the caller's new notifications
type SSEHandler struct {
	hub *services.NotificationHub
}

func NewSSEHandler(hub *services.NotificationHub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

// StreamNotifications
// GET /api/notifications/stream?token=
func (h *SSEHandler) StreamNotifications(c *gin.Context) {
	userID := middleware.GetUserID(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	streamID := uuid.New().String()
	events := h.hub.Subscribe(userID, streamID)
	defer h.hub.Unsubscribe(userID, streamID)

	logger.Info().Str("user_id", userID).Str("stream_id", streamID).Int("total", h.hub.StreamCount()).Msg("SSE client connected")

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	fmt.Fprint(c.Writer, ": connected\n\n")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case n, ok := <-events:
			if !ok {
				return false
			}
			data, err := json.Marshal(n)
			if err != nil {
				logger.Error().Err(err).Msg("SSE marshal error")
				return true
			}
			fmt.Fprintf(w, "event: notification\nid: %s\ndata: %s\n\n", n.ID, data)
			return true
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			return true
		case <-c.Request.Context().Done():
			logger.Info().Str("stream_id", streamID).Msg("SSE client disconnected")
			return false
		}
	})
}
