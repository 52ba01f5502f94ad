package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowra/backend/internal/middleware"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/services"
	"github.com/flowra/backend/internal/testutil"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// testApp wires real services over an in-memory database. Side effects run inline.
type testApp struct {
	db           *gorm.DB
	tasks        *services.TaskService
	teams        *services.TeamService
	interactions *services.InteractionService
	notifier     *services.NotificationService
	linker       *services.InteractionLinker
	owner        *models.User
	team         *services.TeamView
}

func newTestApp(t *testing.T, linkSecret string) *testApp {
	t.Helper()
	db := testutil.NewTestDB(t)
	notifier := services.NewNotificationService(db, services.NotificationDeps{})
	tasks := services.NewTaskService(db, notifier, services.InlineRunner, time.UTC)
	teams := services.NewTeamService(db, notifier, services.InlineRunner)
	linker := services.NewInteractionLinker("https://api.flowra.test", linkSecret)

	app := &testApp{
		db:           db,
		tasks:        tasks,
		teams:        teams,
		interactions: services.NewInteractionService(db, tasks, notifier, linker, true),
		notifier:     notifier,
		linker:       linker,
		owner:        testutil.Fixture(t, db, &models.User{Email: "owner@flowra.test", Name: "owner", IsActive: true}),
	}
	team, err := teams.Create(context.Background(), app.owner.ID, &services.CreateTeamRequest{Name: "Core"})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	app.team = team
	return app
}

// asUser stands in for AuthRequired.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	}
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, env
}
