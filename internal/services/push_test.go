package services

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/flowra/backend/internal/config"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/testutil"
)

func newTestPushService(t *testing.T, statusByEndpoint map[string]int) (*PushService, *[]string) {
	t.Helper()
	s := NewPushService(testutil.NewTestDB(t), config.PushConfig{
		Enabled:         true,
		VAPIDPublicKey:  "pub",
		VAPIDPrivateKey: "priv",
		Subscriber:      "mailto:ops@flowra.test",
	}, config.AppConfig{BaseURL: "https://flowra.test/"})

	var sent []string
	s.send = func(_ context.Context, message []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		sent = append(sent, sub.Endpoint)
		status, ok := statusByEndpoint[sub.Endpoint]
		if !ok {
			status = http.StatusCreated
		}
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	return s, &sent
}

func subscribeReq(endpoint string) *PushSubscribeRequest {
	req := &PushSubscribeRequest{Endpoint: endpoint}
	req.Keys.P256dh = "p256"
	req.Keys.Auth = "auth"
	return req
}

func TestPushService_SubscribeMovesEndpoint(t *testing.T) {
	s, _ := newTestPushService(t, nil)
	ctx := context.Background()

	if _, err := s.Subscribe(ctx, "u1", "Firefox", subscribeReq("https://push.test/a")); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	if _, err := s.Subscribe(ctx, "u2", "Chrome", subscribeReq("https://push.test/a")); err != nil {
		t.Fatalf("re-Subscribe error = %v", err)
	}

	var subs []models.PushSubscription
	s.db.Find(&subs)
	if len(subs) != 1 || subs[0].UserID != "u2" || subs[0].UserAgent != "Chrome" {
		t.Fatalf("subscriptions = %+v", subs)
	}

	if err := s.Unsubscribe(ctx, "u1", "https://push.test/a"); err != nil {
		t.Fatal(err)
	}
	var count int64
	s.db.Model(&models.PushSubscription{}).Count(&count)
	if count != 1 {
		t.Error("another user's unsubscribe must not remove the endpoint")
	}
}

func TestPushService_SendRemovesGoneEndpoints(t *testing.T) {
	s, sent := newTestPushService(t, map[string]int{
		"https://push.test/gone":   http.StatusGone,
		"https://push.test/broken": http.StatusInternalServerError,
	})
	ctx := context.Background()
	for _, ep := range []string{"https://push.test/ok", "https://push.test/gone", "https://push.test/broken"} {
		if _, err := s.Subscribe(ctx, "u1", "", subscribeReq(ep)); err != nil {
			t.Fatal(err)
		}
	}

	err := s.SendNotification(ctx, &models.Notification{ID: "n1", UserID: "u1", Type: models.NotificationSystem, Title: "hello"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected the broken endpoint error, got %v", err)
	}
	if len(*sent) != 3 {
		t.Errorf("sent to %d endpoints, want 3", len(*sent))
	}

	var remaining []models.PushSubscription
	s.db.Order("endpoint").Find(&remaining)
	if len(remaining) != 2 {
		t.Fatalf("remaining = %+v", remaining)
	}
	for _, sub := range remaining {
		if sub.Endpoint == "https://push.test/gone" {
			t.Error("gone endpoint should be deleted")
		}
	}
}

func TestPushService_DisabledSendsNothing(t *testing.T) {
	s, sent := newTestPushService(t, nil)
	s.cfg.VAPIDPrivateKey = ""
	if _, err := s.Subscribe(context.Background(), "u1", "", subscribeReq("https://push.test/a")); err != nil {
		t.Fatal(err)
	}
	if err := s.SendNotification(context.Background(), &models.Notification{ID: "n1", UserID: "u1", Title: "x"}); err != nil {
		t.Fatal(err)
	}
	if len(*sent) != 0 {
		t.Error("disabled push must not send")
	}
}
