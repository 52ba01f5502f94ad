package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/flowra/backend/internal/models"
	"github.com/gin-gonic/gin"
)

func newTaskRouter(app *testApp) *gin.Engine {
	h := NewTaskHandler(app.tasks)
	r := gin.New()
	r.Use(asUser(app.owner.ID))
	r.POST("/api/tasks/create", h.Create)
	r.POST("/api/tasks", h.Create)
	r.GET("/api/tasks", h.List)
	r.GET("/api/tasks/:id", h.Get)
	r.PATCH("/api/tasks/:id", h.Update)
	r.DELETE("/api/tasks/:id", h.Delete)
	return r
}

func TestTaskHandler_CreateAndStatusUpdate(t *testing.T) {
	app := newTestApp(t, "")
	r := newTaskRouter(app)

	w, env := doJSON(t, r, http.MethodPost, "/api/tasks/create", map[string]interface{}{
		"team_id": app.team.ID, "title": "Ship it", "due_date": "2026-04-01",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body.String())
	}
	var created models.Task
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if created.Status != models.TaskStatusPending || created.Priority != models.TaskPriorityMedium {
		t.Errorf("defaults not applied: %+v", created)
	}

	w, env = doJSON(t, r, http.MethodPatch, "/api/tasks/"+created.ID, map[string]string{
		"team_id": app.team.ID, "status": "completed",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status update = %d body=%s", w.Code, w.Body.String())
	}
	var updated models.Task
	_ = json.Unmarshal(env.Data, &updated)
	if updated.Status != models.TaskStatusCompleted || updated.CompletedAt == nil {
		t.Errorf("completion not applied: %+v", updated)
	}

	w, env = doJSON(t, r, http.MethodPatch, "/api/tasks/"+created.ID, map[string]string{
		"team_id": app.team.ID, "status": "pending",
	})
	_ = json.Unmarshal(env.Data, &updated)
	if w.Code != http.StatusOK || updated.CompletedAt != nil {
		t.Errorf("leaving completed should clear completed_at: %d %+v", w.Code, updated)
	}
}

func TestTaskHandler_UpdateValidation(t *testing.T) {
	app := newTestApp(t, "")
	r := newTaskRouter(app)
	task := testutilTask(t, app)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
		wantMsg  string
	}{
		{"status only without team", map[string]string{"status": "completed"}, http.StatusBadRequest, "team_id"},
		{"bad status value", map[string]string{"team_id": app.team.ID, "status": "done"}, http.StatusBadRequest, "status"},
		{"general schema without team", map[string]string{"title": "x", "priority": "high"}, http.StatusBadRequest, "team_id"},
		{"bad due date", map[string]string{"team_id": app.team.ID, "title": "x", "due_date": "next week"}, http.StatusBadRequest, "due_date"},
		{"not json", "{", http.StatusBadRequest, "JSON"},
		{"other team", map[string]string{"team_id": "nope", "status": "completed"}, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := doJSON(t, r, http.MethodPatch, "/api/tasks/"+task.ID, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantMsg != "" && !strings.Contains(env.Message, tt.wantMsg) {
				t.Errorf("message %q should mention %q", env.Message, tt.wantMsg)
			}
		})
	}
}

func TestTaskHandler_GetRequiresTeam(t *testing.T) {
	app := newTestApp(t, "")
	r := newTaskRouter(app)
	task := testutilTask(t, app)

	w, _ := doJSON(t, r, http.MethodGet, "/api/tasks/"+task.ID, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing team_id = %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodGet, "/api/tasks/"+task.ID+"?team_id="+app.team.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get = %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodDelete, "/api/tasks/"+task.ID+"?team_id="+app.team.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete = %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodGet, "/api/tasks/"+task.ID+"?team_id="+app.team.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
}

func testutilTask(t *testing.T, app *testApp) *models.Task {
	t.Helper()
	task := &models.Task{
		TeamID:    app.team.ID,
		Title:     "Existing",
		Status:    models.TaskStatusPending,
		Priority:  models.TaskPriorityMedium,
		CreatorID: app.owner.ID,
	}
	if err := app.db.Create(task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}
