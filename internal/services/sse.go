package services

import (
	"sync"

	"github.com/flowra/backend/internal/models"
)

const streamBuffer = 32

// NotificationHub fans created notifications out to the owning user's open streams.
// A user may hold several streams (tabs); each gets its own buffered channel.
type NotificationHub struct {
	mu      sync.RWMutex
	streams map[string]map[string]chan *models.Notification // user id -> stream id -> ch
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		streams: make(map[string]map[string]chan *models.Notification),
	}
}

// Subscribe registers a stream for userID.
func (h *NotificationHub) Subscribe(userID, streamID string) <-chan *models.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan *models.Notification, streamBuffer)
	if h.streams[userID] == nil {
		h.streams[userID] = make(map[string]chan *models.Notification)
	}
	if old, ok := h.streams[userID][streamID]; ok {
		close(old)
	}
	h.streams[userID][streamID] = ch
	return ch
}

func (h *NotificationHub) Unsubscribe(userID, streamID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userStreams, ok := h.streams[userID]
	if !ok {
		return
	}
	if ch, ok := userStreams[streamID]; ok {
		close(ch)
		delete(userStreams, streamID)
	}
	if len(userStreams) == 0 {
		delete(h.streams, userID)
	}
}

// Publish delivers n to the owner's streams. Slow streams drop the event.
func (h *NotificationHub) Publish(n *models.Notification) {
	if n == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.streams[n.UserID] {
		select {
		case ch <- n:
		default:
		}
	}
}

// StreamCount returns the number of open streams across all users.
func (h *NotificationHub) StreamCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, s := range h.streams {
		total += len(s)
	}
	return total
}
