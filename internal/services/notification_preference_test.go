package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/testutil"
)

func TestDefaultPreference(t *testing.T) {
	tests := []struct {
		typ                          string
		email, push, discord, inApp bool
	}{
		{models.NotificationTaskAssigned, true, true, true, true},
		{models.NotificationTaskCompleted, false, true, true, true},
		{models.NotificationTeamInvitation, true, true, false, true},
		{models.NotificationMemberLeft, false, false, false, true},
		{"something_new", true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			p := DefaultPreference("u1", tt.typ)
			if p.EmailEnabled != tt.email || p.PushEnabled != tt.push || p.DiscordEnabled != tt.discord || p.InAppEnabled != tt.inApp {
				t.Errorf("DefaultPreference(%s) = %+v", tt.typ, p)
			}
			if p.UserID != "u1" || p.Type != tt.typ {
				t.Error("default should carry user and type")
			}
		})
	}
}

func TestInQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 5, 1, h, m, 0, 0, time.UTC) }
	window := func(start, end string) models.NotificationPreference {
		return models.NotificationPreference{QuietHoursStart: &start, QuietHoursEnd: &end}
	}

	tests := []struct {
		name string
		pref models.NotificationPreference
		t    time.Time
		want bool
	}{
		{"no window", models.NotificationPreference{}, at(23, 0), false},
		{"inside same-day window", window("12:00", "13:00"), at(12, 30), true},
		{"end is exclusive", window("12:00", "13:00"), at(13, 0), false},
		{"wraps midnight late", window("22:00", "07:00"), at(23, 15), true},
		{"wraps midnight early", window("22:00", "07:00"), at(6, 59), true},
		{"outside wrapped window", window("22:00", "07:00"), at(12, 0), false},
		{"empty window", window("09:00", "09:00"), at(9, 0), false},
		{"malformed", window("9am", "10am"), at(9, 30), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InQuietHours(tt.pref, tt.t); got != tt.want {
				t.Errorf("InQuietHours() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotificationPreferenceService_UpsertMergesAndResets(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewNotificationPreferenceService(db)
	ctx := context.Background()

	off := false
	saved, err := svc.Upsert(ctx, "u1", &UpsertPreferenceRequest{Type: models.NotificationTaskAssigned, EmailEnabled: &off})
	if err != nil {
		t.Fatalf("Upsert error = %v", err)
	}
	if saved.EmailEnabled || !saved.PushEnabled || !saved.DiscordEnabled || !saved.InAppEnabled {
		t.Errorf("omitted flags should keep defaults, got %+v", saved)
	}

	// second upsert only touches push and keeps email off
	saved, err = svc.Upsert(ctx, "u1", &UpsertPreferenceRequest{Type: models.NotificationTaskAssigned, PushEnabled: &off})
	if err != nil {
		t.Fatalf("Upsert error = %v", err)
	}
	if saved.EmailEnabled || saved.PushEnabled {
		t.Errorf("expected email and push off, got %+v", saved)
	}

	var count int64
	db.Model(&models.NotificationPreference{}).Where("user_id = ?", "u1").Count(&count)
	if count != 1 {
		t.Errorf("upsert should keep one row per type, got %d", count)
	}

	views, err := svc.List(ctx, "u1")
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(views) != len(models.NotificationTypes) {
		t.Fatalf("List returned %d types, want %d", len(views), len(models.NotificationTypes))
	}
	for _, v := range views {
		if v.Type == models.NotificationTaskAssigned && v.IsDefault {
			t.Error("stored preference reported as default")
		}
		if v.Type == models.NotificationSystem && !v.IsDefault {
			t.Error("untouched type should be default")
		}
	}

	if err := svc.Reset(ctx, "u1", models.NotificationTaskAssigned); err != nil {
		t.Fatalf("Reset error = %v", err)
	}
	p, _ := svc.Resolve(ctx, "u1", models.NotificationTaskAssigned)
	if !p.EmailEnabled || !p.PushEnabled {
		t.Error("reset should restore defaults")
	}

	assertStatus(t, svc.Reset(ctx, "u1", "bogus"), http.StatusBadRequest)
}

func TestNotificationPreferenceService_QuietHoursNeedBothEnds(t *testing.T) {
	svc := NewNotificationPreferenceService(testutil.NewTestDB(t))
	start := "22:00"
	_, err := svc.Upsert(context.Background(), "u1", &UpsertPreferenceRequest{Type: models.NotificationSystem, QuietHoursStart: &start})
	assertStatus(t, err, http.StatusBadRequest)
}

func TestNotificationPreferenceService_ResolveMany(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewNotificationPreferenceService(db)
	ctx := context.Background()

	off := false
	if _, err := svc.Upsert(ctx, "u2", &UpsertPreferenceRequest{Type: models.NotificationTaskDue, PushEnabled: &off}); err != nil {
		t.Fatal(err)
	}

	prefs, err := svc.ResolveMany(ctx, []string{"u1", "u2"}, models.NotificationTaskDue)
	if err != nil {
		t.Fatalf("ResolveMany error = %v", err)
	}
	if !prefs["u1"].PushEnabled {
		t.Error("u1 should fall back to the default")
	}
	if prefs["u2"].PushEnabled {
		t.Error("u2 stored preference should win")
	}
}
