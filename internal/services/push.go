package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/flowra/backend/internal/config"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type pushTransport func(ctx context.Context, message []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// PushService stores browser subscriptions and sends web push messages.
type PushService struct {
	db      *gorm.DB
	cfg     config.PushConfig
	baseURL string
	send    pushTransport
}

func NewPushService(db *gorm.DB, cfg config.PushConfig, app config.AppConfig) *PushService {
	return &PushService{
		db:      db,
		cfg:     cfg,
		baseURL: strings.TrimRight(app.BaseURL, "/"),
		send:    webpush.SendNotificationWithContext,
	}
}

func (s *PushService) Enabled() bool {
	return s.cfg.Enabled && s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

func (s *PushService) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

type PushSubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

// Subscribe stores the endpoint for userID, moving it over if another user owned it.
func (s *PushService) Subscribe(ctx context.Context, userID, userAgent string, req *PushSubscribeRequest) (*models.PushSubscription, error) {
	sub := &models.PushSubscription{
		UserID:    userID,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		UserAgent: truncate(userAgent, 255),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth", "user_agent"}),
	}).Create(sub).Error
	if err != nil {
		return nil, response.NewServerError(err)
	}
	return sub, nil
}

func (s *PushService) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if err := s.db.WithContext(ctx).Where("user_id = ? AND endpoint = ?", userID, endpoint).Delete(&models.PushSubscription{}).Error; err != nil {
		return response.NewServerError(err)
	}
	return nil
}

type pushPayload struct {
	NotificationID string `json:"notification_id"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Body           string `json:"body,omitempty"`
	URL            string `json:"url,omitempty"`
}

// SendNotification pushes n to every subscription of its owner. Endpoints the push
// service reports gone (404/410) are deleted. The last other failure is returned.
func (s *PushService) SendNotification(ctx context.Context, n *models.Notification) error {
	if !s.Enabled() {
		return nil
	}

	var subs []models.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", n.UserID).Find(&subs).Error; err != nil {
		return fmt.Errorf("load push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload := pushPayload{NotificationID: n.ID, Type: n.Type, Title: n.Title, URL: notificationLink(s.baseURL, n)}
	if n.Content != nil {
		payload.Body = *n.Content
	}
	message, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	opts := &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         webpush.UrgencyNormal,
		HTTPClient:      &http.Client{Timeout: 10 * time.Second},
	}

	var lastErr error
	for i := range subs {
		sub := &subs[i]
		err := s.sendOne(ctx, message, sub, opts)
		if errors.Is(err, errPushGone) {
			logger.Infof("[Push] removing stale subscription %d for user %s", sub.ID, sub.UserID)
			if err := s.db.WithContext(ctx).Delete(&models.PushSubscription{}, sub.ID).Error; err != nil {
				logger.Warn().Err(err).Uint("subscription_id", sub.ID).Msg("[Push] failed to delete stale subscription")
			}
			continue
		}
		if err != nil {
			logger.Warn().Err(err).Uint("subscription_id", sub.ID).Msg("[Push] send failed")
			lastErr = err
		}
	}
	return lastErr
}

var errPushGone = errors.New("push subscription gone")

func (s *PushService) sendOne(ctx context.Context, message []byte, sub *models.PushSubscription, opts *webpush.Options) error {
	resp, err := s.send(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return errPushGone
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
