package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/testutil"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/gorm"
)

// recordingQueue captures enqueued jobs instead of running them.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []DeliveryJob
}

func (q *recordingQueue) Enqueue(job *DeliveryJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, *job)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return false }
func (q *recordingQueue) Close() error  { return nil }

func (q *recordingQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Type)
	}
	return out
}

// fakeDiscord records messages sent through the bot.
type fakeDiscord struct {
	mu       sync.Mutex
	offline  bool
	channels map[string][]*discordgo.MessageSend
	dms      map[string][]*discordgo.MessageSend
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		channels: map[string][]*discordgo.MessageSend{},
		dms:      map[string][]*discordgo.MessageSend{},
	}
}

func (f *fakeDiscord) Online() bool { return !f.offline }

func (f *fakeDiscord) SendChannelMessage(channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[channelID] = append(f.channels[channelID], msg)
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", len(f.channels[channelID])), ChannelID: channelID}, nil
}

func (f *fakeDiscord) SendDirectMessage(discordUserID string, msg *discordgo.MessageSend) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms[discordUserID] = append(f.dms[discordUserID], msg)
	return nil
}

func seedUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	return testutil.Fixture(t, db, &models.User{
		Email:    name + "@flowra.test",
		Name:     name,
		IsActive: true,
	})
}

// seedTeam creates a team owned by owner with an active owner membership.
func seedTeam(t *testing.T, db *gorm.DB, owner *models.User) *models.Team {
	t.Helper()
	team := testutil.Fixture(t, db, &models.Team{Name: owner.Name + "'s team", OwnerID: owner.ID})
	addMember(t, db, team, owner, models.RoleOwner)
	return team
}

func addMember(t *testing.T, db *gorm.DB, team *models.Team, user *models.User, role string) *models.TeamMember {
	t.Helper()
	return testutil.Fixture(t, db, &models.TeamMember{
		TeamID:      team.ID,
		UserID:      user.ID,
		Role:        role,
		Permissions: permissionsColumn(role),
		IsActive:    true,
		JoinedAt:    time.Now().UTC(),
	})
}

func seedTask(t *testing.T, db *gorm.DB, team *models.Team, creator *models.User, mutate func(*models.Task)) *models.Task {
	t.Helper()
	task := &models.Task{
		TeamID:    team.ID,
		Title:     "Write release notes",
		Status:    models.TaskStatusPending,
		Priority:  models.TaskPriorityMedium,
		CreatorID: creator.ID,
	}
	if mutate != nil {
		mutate(task)
	}
	return testutil.Fixture(t, db, task)
}

// assertStatus fails unless err is an AppError with the given HTTP status.
func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	var appErr *response.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError with status %d, got %v", status, err)
	}
	if appErr.HTTPStatus != status {
		t.Fatalf("expected status %d, got %d (%s)", status, appErr.HTTPStatus, appErr.Message)
	}
}

var errDBDown = errors.New("database unavailable")

// failReads makes every read on db whose statement matches fail with errDBDown.
func failReads(t *testing.T, db *gorm.DB, match func(st *gorm.Statement) bool) {
	t.Helper()
	fail := func(tx *gorm.DB) {
		if match(tx.Statement) {
			_ = tx.AddError(errDBDown)
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("test:fail_query", fail); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("test:fail_row", fail); err != nil {
		t.Fatalf("register row callback: %v", err)
	}
}
