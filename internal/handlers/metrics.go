package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var startTime = time.Now()

// MetricsHandler serves Prometheus text format gauges.
type MetricsHandler struct {
	db    *gorm.DB
	queue services.DeliveryQueue
	hub   *services.NotificationHub
}

func NewMetricsHandler(db *gorm.DB, queue services.DeliveryQueue, hub *services.NotificationHub) *MetricsHandler {
	return &MetricsHandler{db: db, queue: queue, hub: hub}
}

// Metrics
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "flowra_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "flowra_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "flowra_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))

	if h.hub != nil {
		writeGauge(&b, "flowra_sse_streams", "Number of open notification streams", float64(h.hub.StreamCount()))
	}

	queueAsync := 0.0
	if h.queue != nil && h.queue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "flowra_queue_async_enabled", "Whether the Redis delivery queue is enabled (1=yes, 0=no)", queueAsync)

	if h.db != nil {
		ctx := c.Request.Context()
		if sqlDB, err := h.db.DB(); err == nil {
			stats := sqlDB.Stats()
			writeGauge(&b, "flowra_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
			writeGauge(&b, "flowra_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
		}

		for _, status := range []string{
			models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusCompleted,
			models.TaskStatusCancelled, models.TaskStatusOnHold,
		} {
			var n int64
			h.db.WithContext(ctx).Model(&models.Task{}).Where("status = ?", status).Count(&n)
			writeGauge(&b, "flowra_tasks_"+status, "Number of tasks with status "+status, float64(n))
		}

		var overdue int64
		h.db.WithContext(ctx).Model(&models.Task{}).
			Where("status NOT IN ? AND due_date < ?", []string{models.TaskStatusCompleted, models.TaskStatusCancelled}, time.Now().UTC()).
			Count(&overdue)
		writeGauge(&b, "flowra_tasks_overdue", "Number of open tasks past their due date", float64(overdue))

		var teams, users, unread int64
		h.db.WithContext(ctx).Model(&models.Team{}).Count(&teams)
		h.db.WithContext(ctx).Model(&models.User{}).Where("is_active = ?", true).Count(&users)
		h.db.WithContext(ctx).Model(&models.Notification{}).Where("is_read = ?", false).Count(&unread)
		writeGauge(&b, "flowra_teams_total", "Total number of teams", float64(teams))
		writeGauge(&b, "flowra_users_active", "Number of active users", float64(users))
		writeGauge(&b, "flowra_notifications_unread", "Number of unread notifications", float64(unread))
	}

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
