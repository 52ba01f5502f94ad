package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/flowra/backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler reports database, queue and stream status.
type HealthHandler struct {
	db    *gorm.DB
	queue services.DeliveryQueue
	hub   *services.NotificationHub
	bot   func() bool
}

func NewHealthHandler(db *gorm.DB, queue services.DeliveryQueue, hub *services.NotificationHub, botOnline func() bool) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, hub: hub, bot: botOnline}
}

// CheckHealth
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	discord := "offline"
	if h.bot != nil && h.bot() {
		discord = "online"
	}

	streams := 0
	if h.hub != nil {
		streams = h.hub.StreamCount()
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "flowra",
		"components": gin.H{
			"database":    dbStatus,
			"queue_mode":  queueMode,
			"sse_streams": streams,
			"discord_bot": discord,
		},
	})
}
