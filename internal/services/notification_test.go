package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/flowra/backend/internal/config"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/testutil"
	"gorm.io/gorm"
)

func newTestNotificationService(t *testing.T) (*NotificationService, *gorm.DB, *recordingQueue, *NotificationHub) {
	t.Helper()
	db := testutil.NewTestDB(t)
	queue := &recordingQueue{}
	hub := NewNotificationHub()
	svc := NewNotificationService(db, NotificationDeps{
		Queue:   queue,
		Hub:     hub,
		Email:   NewEmailService(config.EmailConfig{Enabled: true, Host: "smtp.flowra.test"}, config.AppConfig{Name: "Flowra"}),
		Push:    NewPushService(db, config.PushConfig{Enabled: true, VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}, config.AppConfig{}),
		Discord: NewDiscordService(db, newFakeDiscord(), "", time.UTC),
	})
	return svc, db, queue, hub
}

func TestNotificationIntent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		intent  NotificationIntent
		wantErr bool
	}{
		{"valid task", NotificationIntent{UserID: "u1", Type: models.NotificationTaskAssigned, Title: "t", Payload: TaskPayload{TaskID: "t1", TeamID: "team"}}, false},
		{"system without payload", NotificationIntent{UserID: "u1", Type: models.NotificationSystem, Title: "t"}, false},
		{"missing user", NotificationIntent{Type: models.NotificationSystem, Title: "t"}, true},
		{"unknown type", NotificationIntent{UserID: "u1", Type: "task_exploded", Title: "t"}, true},
		{"blank title", NotificationIntent{UserID: "u1", Type: models.NotificationSystem, Title: "   "}, true},
		{"task without payload", NotificationIntent{UserID: "u1", Type: models.NotificationTaskDue, Title: "t"}, true},
		{"wrong family", NotificationIntent{UserID: "u1", Type: models.NotificationTaskDue, Title: "t", Payload: TeamPayload{TeamID: "team"}}, true},
		{"task payload missing ids", NotificationIntent{UserID: "u1", Type: models.NotificationTaskDue, Title: "t", Payload: TaskPayload{TaskID: "t1"}}, true},
		{"bad severity", NotificationIntent{UserID: "u1", Type: models.NotificationSystem, Title: "t", Payload: SystemPayload{Severity: "meh"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.intent.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(models.NotificationTaskAssigned, map[string]interface{}{"task_id": "t1", "team_id": "team1"})
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	tp, ok := p.(TaskPayload)
	if !ok || tp.TaskID != "t1" || tp.TeamID != "team1" {
		t.Errorf("unexpected payload %#v", p)
	}

	if _, err := DecodePayload(models.NotificationTaskAssigned, map[string]interface{}{"task_id": 42}); err == nil {
		t.Error("numeric task_id should be rejected")
	}
	if _, err := DecodePayload("nope", nil); err == nil {
		t.Error("unknown type should be rejected")
	}
}

func TestNotificationService_CreateSchedulesChannels(t *testing.T) {
	svc, db, queue, hub := newTestNotificationService(t)
	owner := seedUser(t, db, "owner")
	assignee := seedUser(t, db, "assignee")
	team := seedTeam(t, db, owner)
	task := seedTask(t, db, team, owner, nil)

	stream := hub.Subscribe(assignee.ID, "s1")

	n, err := svc.CreateTaskAssignedNotification(context.Background(), task, assignee.ID, owner.ID)
	if err != nil {
		t.Fatalf("create error = %v", err)
	}
	if n == nil || n.ID == "" {
		t.Fatal("expected stored notification")
	}
	if n.Data["task_id"] != task.ID || n.Data["actor_id"] != owner.ID {
		t.Errorf("payload not stored: %v", n.Data)
	}
	if n.ExpiresAt == nil || n.ExpiresAt.Sub(time.Now()) < 29*24*time.Hour {
		t.Errorf("assigned notification should expire in ~30 days, got %v", n.ExpiresAt)
	}

	select {
	case got := <-stream:
		if got.ID != n.ID {
			t.Errorf("streamed %s, want %s", got.ID, n.ID)
		}
	default:
		t.Error("notification was not published to the hub")
	}

	// task_assigned defaults: email, push, discord all on
	types := queue.types()
	if len(types) != 3 {
		t.Fatalf("expected 3 delivery jobs, got %v", types)
	}
}

func TestNotificationService_PreferencesGateChannels(t *testing.T) {
	svc, db, queue, _ := newTestNotificationService(t)
	user := seedUser(t, db, "u")
	ctx := context.Background()

	off := false
	if _, err := svc.prefs.Upsert(ctx, user.ID, &UpsertPreferenceRequest{
		Type:         models.NotificationSystem,
		EmailEnabled: &off,
	}); err != nil {
		t.Fatalf("upsert error = %v", err)
	}

	if _, err := svc.CreateSystemNotification(ctx, user.ID, "점검 안내", "", SystemPayload{}, nil); err != nil {
		t.Fatalf("create error = %v", err)
	}
	types := queue.types()
	if len(types) != 1 || types[0] != JobNotificationPush {
		t.Errorf("expected only push job, got %v", types)
	}
}

func TestNotificationService_InAppDisabledSuppressesRow(t *testing.T) {
	svc, db, queue, _ := newTestNotificationService(t)
	user := seedUser(t, db, "u")
	ctx := context.Background()

	off := false
	if _, err := svc.prefs.Upsert(ctx, user.ID, &UpsertPreferenceRequest{Type: models.NotificationSystem, InAppEnabled: &off}); err != nil {
		t.Fatalf("upsert error = %v", err)
	}

	n, err := svc.CreateSystemNotification(ctx, user.ID, "hello", "", SystemPayload{}, nil)
	if err != nil {
		t.Fatalf("create error = %v", err)
	}
	if n != nil {
		t.Error("suppressed notification should return nil")
	}

	var count int64
	db.Model(&models.Notification{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no rows, got %d", count)
	}
	if len(queue.types()) != 0 {
		t.Error("suppressed notification should not schedule delivery")
	}
}

func TestNotificationService_QuietHoursSkipPush(t *testing.T) {
	svc, db, queue, _ := newTestNotificationService(t)
	user := seedUser(t, db, "u")
	ctx := context.Background()
	svc.now = func() time.Time { return time.Date(2026, 3, 4, 23, 30, 0, 0, time.UTC) }

	start, end := "22:00", "07:00"
	if _, err := svc.prefs.Upsert(ctx, user.ID, &UpsertPreferenceRequest{
		Type: models.NotificationSystem, QuietHoursStart: &start, QuietHoursEnd: &end,
	}); err != nil {
		t.Fatalf("upsert error = %v", err)
	}

	if _, err := svc.CreateSystemNotification(ctx, user.ID, "late", "", SystemPayload{}, nil); err != nil {
		t.Fatalf("create error = %v", err)
	}
	for _, typ := range queue.types() {
		if typ == JobNotificationPush {
			t.Error("push must not be scheduled during quiet hours")
		}
	}
}

func TestNotificationService_CreateRejectsInvalid(t *testing.T) {
	svc, _, _, _ := newTestNotificationService(t)
	_, err := svc.Create(context.Background(), NotificationIntent{UserID: "u1", Type: models.NotificationTaskDue, Title: "x"})
	assertStatus(t, err, http.StatusBadRequest)
}

func TestNotificationService_CreateBatch(t *testing.T) {
	svc, db, queue, _ := newTestNotificationService(t)
	a := seedUser(t, db, "a")
	b := seedUser(t, db, "b")
	ctx := context.Background()

	intents := []NotificationIntent{
		{UserID: a.ID, Type: models.NotificationSystem, Title: "one"},
		{UserID: b.ID, Type: models.NotificationSystem, Title: "two"},
	}
	rows, err := svc.CreateBatch(ctx, intents, false)
	if err != nil {
		t.Fatalf("CreateBatch error = %v", err)
	}
	if len(rows) != 2 || rows[0].ID == "" || rows[1].ID == "" {
		t.Fatalf("expected 2 stored rows, got %+v", rows)
	}
	if len(queue.types()) != 0 {
		t.Error("batch without side effects should not schedule delivery")
	}

	if _, err := svc.CreateBatch(ctx, intents, true); err != nil {
		t.Fatalf("CreateBatch error = %v", err)
	}
	if len(queue.types()) == 0 {
		t.Error("batch with side effects should schedule delivery")
	}

	bad := append(intents, NotificationIntent{UserID: a.ID, Type: "bogus", Title: "x"})
	_, err = svc.CreateBatch(ctx, bad, false)
	assertStatus(t, err, http.StatusBadRequest)
}

func TestNotificationService_CreateBatchHonorsStoredPreferences(t *testing.T) {
	svc, db, queue, _ := newTestNotificationService(t)
	a := seedUser(t, db, "a")
	b := seedUser(t, db, "b")
	ctx := context.Background()

	off := false
	if _, err := svc.prefs.Upsert(ctx, b.ID, &UpsertPreferenceRequest{Type: models.NotificationReminder, InAppEnabled: &off}); err != nil {
		t.Fatalf("upsert error = %v", err)
	}

	rows, err := svc.CreateBatch(ctx, []NotificationIntent{
		{UserID: a.ID, Type: models.NotificationReminder, Title: "standup"},
		{UserID: b.ID, Type: models.NotificationReminder, Title: "standup"},
		{UserID: b.ID, Type: models.NotificationSystem, Title: "maintenance"},
	}, false)
	if err != nil {
		t.Fatalf("CreateBatch error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, n := range rows {
		if n.UserID == b.ID && n.Type == models.NotificationReminder {
			t.Error("b disabled in-app reminders")
		}
	}
	if len(queue.types()) != 0 {
		t.Error("batch without side effects should not schedule delivery")
	}
}

func TestNotificationService_TypedExpiries(t *testing.T) {
	svc, db, _, _ := newTestNotificationService(t)
	owner := seedUser(t, db, "owner")
	team := seedTeam(t, db, owner)
	due := time.Now().Add(6 * time.Hour).UTC().Truncate(time.Second)
	task := seedTask(t, db, team, owner, func(t *models.Task) { t.DueDate = &due })
	ctx := context.Background()

	dueN, err := svc.CreateTaskDueNotification(ctx, task, owner.ID)
	if err != nil {
		t.Fatalf("due error = %v", err)
	}
	if dueN.ExpiresAt == nil || !dueN.ExpiresAt.Equal(due) {
		t.Errorf("due notification should expire at the due date, got %v", dueN.ExpiresAt)
	}

	overdue, err := svc.CreateTaskOverdueNotification(ctx, task, owner.ID)
	if err != nil {
		t.Fatalf("overdue error = %v", err)
	}
	if d := overdue.ExpiresAt.Sub(time.Now()); d < 6*24*time.Hour || d > 7*24*time.Hour+time.Minute {
		t.Errorf("overdue expiry = %v, want ~7 days", d)
	}

	inv := &models.TeamInvitation{ID: "inv-1", TeamID: team.ID, Email: "x@flowra.test", Role: models.RoleMember, InvitedBy: owner.ID, ExpiresAt: due.Add(48 * time.Hour)}
	invN, err := svc.CreateTeamInvitationNotification(ctx, inv, team, owner.ID, owner.Name)
	if err != nil {
		t.Fatalf("invitation error = %v", err)
	}
	if !invN.ExpiresAt.Equal(inv.ExpiresAt) {
		t.Errorf("invitation notification should expire with the invitation")
	}

	sys, err := svc.CreateSystemNotification(ctx, owner.ID, "공지", "내용", SystemPayload{Severity: "info"}, nil)
	if err != nil {
		t.Fatalf("system error = %v", err)
	}
	if sys.ExpiresAt != nil {
		t.Error("system notification without expiry should never expire")
	}
}

func TestNotificationService_ListAndRead(t *testing.T) {
	svc, db, _, _ := newTestNotificationService(t)
	user := seedUser(t, db, "u")
	other := seedUser(t, db, "other")
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UTC()
	testutil.Fixture(t, db, &models.Notification{UserID: user.ID, Type: models.NotificationSystem, Title: "expired", ExpiresAt: &past, CreatedAt: time.Now()})
	first, _ := svc.CreateSystemNotification(ctx, user.ID, "first", "", SystemPayload{}, nil)
	if _, err := svc.CreateSystemNotification(ctx, user.ID, "second", "", SystemPayload{}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateSystemNotification(ctx, other.ID, "not mine", "", SystemPayload{}, nil); err != nil {
		t.Fatal(err)
	}

	list, err := svc.List(ctx, user.ID, &NotificationListRequest{})
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if list.Total != 2 || list.UnreadCount != 2 {
		t.Errorf("total=%d unread=%d, want 2/2", list.Total, list.UnreadCount)
	}
	if list.Page != 1 || list.PageSize != 20 {
		t.Errorf("unexpected paging defaults %d/%d", list.Page, list.PageSize)
	}

	read, err := svc.MarkRead(ctx, user.ID, first.ID, true)
	if err != nil {
		t.Fatalf("MarkRead error = %v", err)
	}
	if !read.IsRead || read.ReadAt == nil {
		t.Error("read notification should carry read_at")
	}

	unread, err := svc.MarkRead(ctx, user.ID, first.ID, false)
	if err != nil {
		t.Fatalf("MarkRead(false) error = %v", err)
	}
	if unread.IsRead || unread.ReadAt != nil {
		t.Error("unread notification should clear read_at")
	}

	_, err = svc.MarkRead(ctx, other.ID, first.ID, true)
	assertStatus(t, err, http.StatusNotFound)

	affected, err := svc.MarkAllRead(ctx, user.ID)
	if err != nil {
		t.Fatalf("MarkAllRead error = %v", err)
	}
	if affected < 2 {
		t.Errorf("MarkAllRead affected %d rows, want at least 2", affected)
	}

	isRead := false
	list, _ = svc.List(ctx, user.ID, &NotificationListRequest{IsRead: &isRead})
	if list.Total != 0 || list.UnreadCount != 0 {
		t.Errorf("expected nothing unread, got total=%d unread=%d", list.Total, list.UnreadCount)
	}

	if err := svc.Delete(ctx, user.ID, first.ID); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	assertStatus(t, svc.Delete(ctx, user.ID, first.ID), http.StatusNotFound)
}

func TestNotificationService_CleanupExpired(t *testing.T) {
	svc, db, _, _ := newTestNotificationService(t)
	user := seedUser(t, db, "u")

	past := time.Now().Add(-time.Minute).UTC()
	future := time.Now().Add(time.Hour).UTC()
	testutil.Fixture(t, db, &models.Notification{UserID: user.ID, Type: models.NotificationSystem, Title: "old", ExpiresAt: &past})
	testutil.Fixture(t, db, &models.Notification{UserID: user.ID, Type: models.NotificationSystem, Title: "new", ExpiresAt: &future})
	testutil.Fixture(t, db, &models.Notification{UserID: user.ID, Type: models.NotificationSystem, Title: "forever"})

	removed, err := svc.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpired error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
}

func TestNotificationService_CreateFromRequest(t *testing.T) {
	svc, db, _, _ := newTestNotificationService(t)
	owner := seedUser(t, db, "owner")
	mate := seedUser(t, db, "mate")
	stranger := seedUser(t, db, "stranger")
	team := seedTeam(t, db, owner)
	addMember(t, db, team, mate, models.RoleMember)
	ctx := context.Background()

	n, err := svc.CreateFromRequest(ctx, owner.ID, &CreateNotificationRequest{
		UserID: mate.ID,
		Type:   models.NotificationTaskUpdated,
		Title:  "확인 부탁",
		Data:   map[string]interface{}{"task_id": "t1", "team_id": team.ID},
	})
	if err != nil {
		t.Fatalf("CreateFromRequest error = %v", err)
	}
	if n.UserID != mate.ID {
		t.Errorf("notification for %s, want %s", n.UserID, mate.ID)
	}

	_, err = svc.CreateFromRequest(ctx, owner.ID, &CreateNotificationRequest{
		UserID: stranger.ID, Type: models.NotificationSystem, Title: "hi",
	})
	assertStatus(t, err, http.StatusForbidden)

	_, err = svc.CreateFromRequest(ctx, owner.ID, &CreateNotificationRequest{
		UserID: owner.ID, Type: models.NotificationTaskUpdated, Title: "no payload",
	})
	assertStatus(t, err, http.StatusBadRequest)
}

func TestNotificationService_ProcessDeliveryDiscordDM(t *testing.T) {
	db := testutil.NewTestDB(t)
	bot := newFakeDiscord()
	svc := NewNotificationService(db, NotificationDeps{Discord: NewDiscordService(db, bot, "https://flowra.test", time.UTC)})

	discordID := "123456789"
	user := testutil.Fixture(t, db, &models.User{Email: "dm@flowra.test", Name: "dm", DiscordUserID: &discordID, IsActive: true})
	team := seedTeam(t, db, user)
	task := seedTask(t, db, team, user, nil)

	n, err := svc.CreateTaskAssignedNotification(context.Background(), task, user.ID, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ProcessDelivery(context.Background(), &DeliveryJob{Type: JobNotificationDiscord, NotificationID: n.ID}); err != nil {
		t.Fatalf("ProcessDelivery error = %v", err)
	}
	if len(bot.dms[discordID]) != 1 {
		t.Fatalf("expected one DM, got %d", len(bot.dms[discordID]))
	}
	if len(bot.dms[discordID][0].Components) == 0 {
		t.Error("task DM should carry action buttons")
	}

	// deleted before delivery is not an error
	if err := svc.ProcessDelivery(context.Background(), &DeliveryJob{Type: JobNotificationDiscord, NotificationID: "missing"}); err != nil {
		t.Errorf("missing notification should be skipped, got %v", err)
	}
}
