package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/testutil"
)

func TestProjectService_CreateAndList(t *testing.T) {
	db := testutil.NewTestDB(t)
	notifier := NewNotificationService(db, NotificationDeps{Queue: &recordingQueue{}})
	svc := NewProjectService(db, notifier, InlineRunner)
	owner := seedUser(t, db, "owner")
	member := seedUser(t, db, "member")
	team := seedTeam(t, db, owner)
	addMember(t, db, team, member, models.RoleMember)
	ctx := context.Background()

	project, err := svc.Create(ctx, owner.ID, team.ID, &CreateProjectRequest{Name: "  Backend  "})
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if project.Name != "Backend" || project.Color != defaultProjectColor {
		t.Errorf("unexpected project %+v", project)
	}

	var notified int64
	db.Model(&models.Notification{}).Where("user_id = ? AND type = ?", member.ID, models.NotificationProjectCreated).Count(&notified)
	if notified != 1 {
		t.Errorf("member should be told about the project, got %d", notified)
	}

	_, err = svc.Create(ctx, member.ID, team.ID, &CreateProjectRequest{Name: "Nope"})
	assertStatus(t, err, http.StatusForbidden)

	projects, err := svc.List(ctx, member.ID, team.ID, &ProjectListRequest{})
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("expected 1 project, got %d", len(projects))
	}

	filtered, _ := svc.List(ctx, member.ID, team.ID, &ProjectListRequest{Name: "front"})
	if len(filtered) != 0 {
		t.Errorf("name filter should exclude Backend, got %d", len(filtered))
	}

	_, err = svc.List(ctx, "stranger", team.ID, nil)
	assertStatus(t, err, http.StatusForbidden)
}
