package services

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/testutil"
	"gorm.io/gorm"
)

type taskFixture struct {
	db       *gorm.DB
	svc      *TaskService
	owner    *models.User
	member   *models.User
	viewer   *models.User
	team     *models.Team
	clock    time.Time
	notifier *NotificationService
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	notifier := NewNotificationService(db, NotificationDeps{Queue: &recordingQueue{}})
	f := &taskFixture{
		db:       db,
		notifier: notifier,
		svc:      NewTaskService(db, notifier, InlineRunner, time.UTC),
		owner:    seedUser(t, db, "owner"),
		member:   seedUser(t, db, "member"),
		viewer:   seedUser(t, db, "viewer"),
		clock:    time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc.now = func() time.Time { return f.clock }
	f.team = seedTeam(t, db, f.owner)
	addMember(t, db, f.team, f.member, models.RoleMember)
	addMember(t, db, f.team, f.viewer, models.RoleViewer)
	return f
}

func (f *taskFixture) notifications(userID, typ string) int64 {
	var n int64
	f.db.Model(&models.Notification{}).Where("user_id = ? AND type = ?", userID, typ).Count(&n)
	return n
}

func TestIsStatusOnlyUpdate(t *testing.T) {
	tests := []struct {
		keys []string
		want bool
	}{
		{[]string{"team_id", "status"}, true},
		{[]string{"status"}, true},
		{[]string{"team_id", "title"}, false},
		{[]string{"team_id", "status", "title"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsStatusOnlyUpdate(tt.keys); got != tt.want {
			t.Errorf("IsStatusOnlyUpdate(%v) = %v, want %v", tt.keys, got, tt.want)
		}
	}
}

func TestTaskService_CreateDefaultsAndSideEffects(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	blocker := seedTask(t, f.db, f.team, f.owner, nil)
	points := 3
	view, err := f.svc.Create(ctx, f.owner.ID, &CreateTaskRequest{
		TeamID:     f.team.ID,
		Title:      "  Ship v2  ",
		AssigneeID: &f.member.ID,
		DueDate:    "2026-03-12",
		Metadata: &models.TaskMetadata{
			Tags:         []string{"release", "release", ""},
			Dependencies: []string{blocker.ID, "not-a-task"},
			StoryPoints:  &points,
		},
	})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if view.Title != "Ship v2" || view.Status != models.TaskStatusPending || view.Priority != models.TaskPriorityMedium {
		t.Errorf("defaults not applied: %+v", view.Task)
	}
	if view.CompletedAt != nil {
		t.Error("pending task must not have completed_at")
	}
	if view.AssigneeSummary == nil || view.AssigneeSummary.ID != f.member.ID {
		t.Error("assignee summary missing")
	}
	if view.CreatorSummary == nil || view.CreatorSummary.ID != f.owner.ID {
		t.Error("creator summary missing")
	}
	if view.DueDate == nil || !view.DueDate.Equal(time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("due date = %v", view.DueDate)
	}

	var tags, deps, history int64
	f.db.Model(&models.TaskTag{}).Where("task_id = ?", view.ID).Count(&tags)
	f.db.Model(&models.TaskDependency{}).Where("task_id = ?", view.ID).Count(&deps)
	f.db.Model(&models.TaskHistory{}).Where("task_id = ? AND action = ?", view.ID, models.HistoryCreated).Count(&history)
	if tags != 1 || deps != 1 || history != 1 {
		t.Errorf("side effects tags=%d deps=%d history=%d, want 1/1/1", tags, deps, history)
	}
	if n := f.notifications(f.member.ID, models.NotificationTaskAssigned); n != 1 {
		t.Errorf("expected exactly one task_assigned, got %d", n)
	}
}

func TestTaskService_CreateSelfAssignedDoesNotNotify(t *testing.T) {
	f := newTaskFixture(t)
	if _, err := f.svc.Create(context.Background(), f.member.ID, &CreateTaskRequest{
		TeamID: f.team.ID, Title: "Mine", AssigneeID: &f.member.ID,
	}); err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if n := f.notifications(f.member.ID, models.NotificationTaskAssigned); n != 0 {
		t.Errorf("self assignment should not notify, got %d", n)
	}
}

func TestTaskService_CreateCompleted(t *testing.T) {
	f := newTaskFixture(t)
	view, err := f.svc.Create(context.Background(), f.owner.ID, &CreateTaskRequest{
		TeamID: f.team.ID, Title: "Done already", Status: models.TaskStatusCompleted,
	})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if view.CompletedAt == nil || !view.CompletedAt.Equal(f.clock) {
		t.Errorf("completed task should get completed_at=now, got %v", view.CompletedAt)
	}
}

func TestTaskService_CreateErrors(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	stranger := seedUser(t, f.db, "stranger")

	_, err := f.svc.Create(ctx, f.viewer.ID, &CreateTaskRequest{TeamID: f.team.ID, Title: "x"})
	assertStatus(t, err, http.StatusForbidden)

	_, err = f.svc.Create(ctx, stranger.ID, &CreateTaskRequest{TeamID: f.team.ID, Title: "x"})
	assertStatus(t, err, http.StatusForbidden)

	_, err = f.svc.Create(ctx, f.owner.ID, &CreateTaskRequest{TeamID: f.team.ID, Title: "x", AssigneeID: &stranger.ID})
	assertStatus(t, err, http.StatusBadRequest)

	missing := "no-such-project"
	_, err = f.svc.Create(ctx, f.owner.ID, &CreateTaskRequest{TeamID: f.team.ID, Title: "x", ProjectID: &missing})
	assertStatus(t, err, http.StatusBadRequest)
}

func TestTaskService_UpdateCompletedAtLifecycle(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := seedTask(t, f.db, f.team, f.owner, func(t *models.Task) { t.AssigneeID = &f.member.ID })

	completed := models.TaskStatusCompleted
	view, err := f.svc.Update(ctx, f.member.ID, task.ID, (&StatusUpdateRequest{TeamID: f.team.ID, Status: completed}).AsUpdate())
	if err != nil {
		t.Fatalf("status update error = %v", err)
	}
	if view.CompletedAt == nil || !view.CompletedAt.Equal(f.clock) {
		t.Fatalf("completed_at = %v, want %v", view.CompletedAt, f.clock)
	}
	if n := f.notifications(f.owner.ID, models.NotificationTaskCompleted); n != 1 {
		t.Errorf("creator should be told about completion, got %d", n)
	}

	// staying completed keeps the original timestamp
	f.clock = f.clock.Add(2 * time.Hour)
	title := "Renamed"
	view, err = f.svc.Update(ctx, f.owner.ID, task.ID, &UpdateTaskRequest{TeamID: f.team.ID, Title: &title, Status: &completed})
	if err != nil {
		t.Fatalf("update error = %v", err)
	}
	if !view.CompletedAt.Equal(f.clock.Add(-2 * time.Hour)) {
		t.Errorf("completed_at changed to %v", view.CompletedAt)
	}

	reopened := models.TaskStatusInProgress
	view, err = f.svc.Update(ctx, f.owner.ID, task.ID, &UpdateTaskRequest{TeamID: f.team.ID, Status: &reopened})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if view.CompletedAt != nil {
		t.Error("leaving completed must clear completed_at")
	}

	var history []models.TaskHistory
	f.db.Where("task_id = ?", task.ID).Find(&history)
	if len(history) != 3 {
		t.Errorf("expected 3 history rows (status, title, status), got %d", len(history))
	}
}

func TestTaskService_UpdatePermissions(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := seedTask(t, f.db, f.team, f.owner, func(t *models.Task) { t.AssigneeID = &f.viewer.ID })

	// viewer assignee may change status only
	_, err := f.svc.Update(ctx, f.viewer.ID, task.ID, (&StatusUpdateRequest{TeamID: f.team.ID, Status: models.TaskStatusInProgress}).AsUpdate())
	if err != nil {
		t.Fatalf("assignee status update error = %v", err)
	}

	title := "x"
	_, err = f.svc.Update(ctx, f.viewer.ID, task.ID, &UpdateTaskRequest{TeamID: f.team.ID, Title: &title})
	assertStatus(t, err, http.StatusForbidden)

	other := seedTeam(t, f.db, seedUser(t, f.db, "other-owner"))
	addMember(t, f.db, other, f.owner, models.RoleMember)
	_, err = f.svc.Update(ctx, f.owner.ID, task.ID, &UpdateTaskRequest{TeamID: other.ID, Title: &title})
	assertStatus(t, err, http.StatusNotFound)
}

func TestTaskService_UpdateReassignNotifies(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task := seedTask(t, f.db, f.team, f.owner, nil)

	view, err := f.svc.Update(ctx, f.owner.ID, task.ID, &UpdateTaskRequest{TeamID: f.team.ID, AssigneeID: &f.member.ID, DueDate: strPtr("2026-04-01")})
	if err != nil {
		t.Fatalf("update error = %v", err)
	}
	if view.AssigneeID == nil || *view.AssigneeID != f.member.ID {
		t.Error("assignee not updated")
	}
	if n := f.notifications(f.member.ID, models.NotificationTaskAssigned); n != 1 {
		t.Errorf("expected one task_assigned, got %d", n)
	}

	// clearing with empty strings
	view, err = f.svc.Update(ctx, f.owner.ID, task.ID, &UpdateTaskRequest{TeamID: f.team.ID, AssigneeID: strPtr(""), DueDate: strPtr("")})
	if err != nil {
		t.Fatalf("clear error = %v", err)
	}
	if view.AssigneeID != nil || view.DueDate != nil {
		t.Errorf("assignee and due date should be cleared, got %v %v", view.AssigneeID, view.DueDate)
	}
}

func TestTaskService_ListGetDelete(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	a := seedTask(t, f.db, f.team, f.owner, func(t *models.Task) { t.Position = 1; t.AssigneeID = &f.member.ID })
	seedTask(t, f.db, f.team, f.owner, func(t *models.Task) { t.Position = 2; t.Status = models.TaskStatusInProgress })
	testutil.Fixture(t, f.db, &models.TaskTag{TaskID: a.ID, Name: "x"})
	testutil.Fixture(t, f.db, &models.TaskHistory{TaskID: a.ID, Action: models.HistoryCreated})

	list, err := f.svc.List(ctx, f.viewer.ID, &TaskListRequest{TeamID: f.team.ID})
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if list.Total != 2 || list.Page != 1 || list.PageSize != 10 || list.Items[0].ID != a.ID {
		t.Errorf("unexpected list %+v", list)
	}

	list, _ = f.svc.List(ctx, f.viewer.ID, &TaskListRequest{TeamID: f.team.ID, AssigneeID: f.member.ID})
	if list.Total != 1 {
		t.Errorf("assignee filter total = %d", list.Total)
	}
	list, _ = f.svc.List(ctx, f.viewer.ID, &TaskListRequest{TeamID: f.team.ID, Status: models.TaskStatusInProgress})
	if list.Total != 1 {
		t.Errorf("status filter total = %d", list.Total)
	}

	got, err := f.svc.Get(ctx, f.viewer.ID, a.ID, f.team.ID)
	if err != nil || got.AssigneeSummary == nil {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	_, err = f.svc.Get(ctx, f.viewer.ID, a.ID, "")
	assertStatus(t, err, http.StatusBadRequest)

	history, err := f.svc.History(ctx, f.viewer.ID, a.ID, f.team.ID)
	if err != nil || len(history) != 1 {
		t.Errorf("History = %v, %v", history, err)
	}

	assertStatus(t, f.svc.Delete(ctx, f.viewer.ID, a.ID, f.team.ID), http.StatusForbidden)
	if err := f.svc.Delete(ctx, f.owner.ID, a.ID, f.team.ID); err != nil {
		t.Fatalf("Delete error = %v", err)
	}
	var leftovers int64
	f.db.Model(&models.TaskTag{}).Where("task_id = ?", a.ID).Count(&leftovers)
	if leftovers != 0 {
		t.Error("tags should be deleted with the task")
	}
	_, err = f.svc.Get(ctx, f.owner.ID, a.ID, f.team.ID)
	assertStatus(t, err, http.StatusNotFound)
}

func TestTaskService_FailedHistoryDoesNotRepeatNotifications(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	if err := f.db.Migrator().DropTable(&models.TaskHistory{}); err != nil {
		t.Fatalf("drop history table: %v", err)
	}

	view, err := f.svc.Create(ctx, f.owner.ID, &CreateTaskRequest{
		TeamID:     f.team.ID,
		Title:      "History is down",
		AssigneeID: &f.viewer.ID,
		Metadata:   &models.TaskMetadata{Tags: []string{"ops"}},
	})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if n := f.notifications(f.viewer.ID, models.NotificationTaskAssigned); n != 1 {
		t.Errorf("task_assigned rows after create = %d, want 1", n)
	}
	var tags int64
	f.db.Model(&models.TaskTag{}).Where("task_id = ?", view.ID).Count(&tags)
	if tags != 1 {
		t.Errorf("tags should still be written, got %d", tags)
	}

	if _, err := f.svc.Update(ctx, f.owner.ID, view.ID, &UpdateTaskRequest{
		TeamID: f.team.ID, AssigneeID: &f.member.ID,
	}); err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if n := f.notifications(f.member.ID, models.NotificationTaskAssigned); n != 1 {
		t.Errorf("task_assigned rows after reassignment = %d, want 1", n)
	}
}

func TestTaskService_CreateFailsWhenPositionLookupFails(t *testing.T) {
	f := newTaskFixture(t)
	failReads(t, f.db, func(st *gorm.Statement) bool {
		return st.Table == "tasks" && len(st.Selects) > 0 && strings.Contains(st.Selects[0], "MAX(position)")
	})

	_, err := f.svc.Create(context.Background(), f.owner.ID, &CreateTaskRequest{TeamID: f.team.ID, Title: "No position"})
	assertStatus(t, err, http.StatusInternalServerError)

	var stored int64
	f.db.Model(&models.Task{}).Count(&stored)
	if stored != 0 {
		t.Errorf("task should not be inserted, got %d", stored)
	}
}
