package handlers

import (
	"github.com/flowra/backend/internal/middleware"
	"github.com/flowra/backend/internal/services"
	"github.com/flowra/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
	preferenceService   *services.NotificationPreferenceService
	pushService         *services.PushService
}

func NewNotificationHandler(notifications *services.NotificationService, prefs *services.NotificationPreferenceService, push *services.PushService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notifications,
		preferenceService:   prefs,
		pushService:         push,
	}
}

// List
// GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	var req services.NotificationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	resp, err := h.notificationService.List(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// Create
// POST /api/notifications
func (h *NotificationHandler) Create(c *gin.Context) {
	var req services.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	n, err := h.notificationService.CreateFromRequest(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, n)
}

type markReadRequest struct {
	IsRead *bool `json:"is_read" binding:"required"`
}

// MarkRead
// PATCH /api/notifications/:id
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	n, err := h.notificationService.MarkRead(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), *req.IsRead)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, n)
}

// MarkAllRead
// PATCH /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	updated, err := h.notificationService.MarkAllRead(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"updated": updated})
}

// Delete
// DELETE /api/notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.notificationService.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetPreferences returns every type, stored or default
// GET /api/notifications/preferences
func (h *NotificationHandler) GetPreferences(c *gin.Context) {
	prefs, err := h.preferenceService.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, prefs)
}

// SavePreference
// POST /api/notifications/preferences
func (h *NotificationHandler) SavePreference(c *gin.Context) {
	var req services.UpsertPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	pref, err := h.preferenceService.Upsert(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, pref)
}

// ResetPreferences resets one type, or all when type is omitted
// DELETE /api/notifications/preferences?type=
func (h *NotificationHandler) ResetPreferences(c *gin.Context) {
	if err := h.preferenceService.Reset(c.Request.Context(), middleware.GetUserID(c), c.Query("type")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// VAPIDPublicKey
// GET /api/notifications/push/vapid-public-key
func (h *NotificationHandler) VAPIDPublicKey(c *gin.Context) {
	if !h.pushService.Enabled() {
		response.Error(c, response.NewServiceUnavailable("웹 푸시가 설정되지 않았습니다"))
		return
	}
	response.Success(c, gin.H{"public_key": h.pushService.VAPIDPublicKey()})
}

// Subscribe
// POST /api/notifications/push/subscribe
func (h *NotificationHandler) Subscribe(c *gin.Context) {
	var req services.PushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	sub, err := h.pushService.Subscribe(c.Request.Context(), middleware.GetUserID(c), c.Request.UserAgent(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// Unsubscribe
// DELETE /api/notifications/push/subscribe
func (h *NotificationHandler) Unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, bindingMessage(err))
		return
	}

	if err := h.pushService.Unsubscribe(c.Request.Context(), middleware.GetUserID(c), req.Endpoint); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
