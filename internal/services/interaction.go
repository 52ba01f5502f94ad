package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/gorm"
)

// InteractionRequest is the body of POST /api/discord/interactions.
type InteractionRequest struct {
	TaskID string           `json:"taskId" binding:"required"`
	Action string           `json:"action" binding:"required,oneof=complete extend reschedule view"`
	UserID string           `json:"userId" binding:"required"`
	TeamID string           `json:"teamId"`
	Data   *InteractionData `json:"data"`
	Sig    string           `json:"sig"`
}

type InteractionData struct {
	Days       *int   `json:"days" binding:"omitempty,min=1,max=365"`
	NewDueDate string `json:"new_due_date"`
}

type InteractionResult struct {
	Success    bool             `json:"success"`
	Action     string           `json:"action"`
	Message    string           `json:"message"`
	Task       *models.TaskView `json:"task"`
	IsTestMode bool             `json:"is_test_mode"`
}

// IsTestTaskID reports whether id names a fabricated test task.
func IsTestTaskID(id string) bool {
	if strings.HasPrefix(id, "test-") {
		return true
	}
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type InteractionService struct {
	db       *gorm.DB
	tasks    *TaskService
	notifier *NotificationService
	async    Runner
	linker   *InteractionLinker
	testMode bool
	loc      *time.Location
	now      func() time.Time
}

func NewInteractionService(db *gorm.DB, tasks *TaskService, notifier *NotificationService, linker *InteractionLinker, allowTestMode bool) *InteractionService {
	return &InteractionService{
		db:       db,
		tasks:    tasks,
		notifier: notifier,
		async:    tasks.async,
		linker:   linker,
		testMode: allowTestMode,
		loc:      tasks.loc,
		now:      time.Now,
	}
}

// VerifySignature checks req.Sig for callers that are not authenticated otherwise.
// Test-mode requests touch no data and need no signature.
func (s *InteractionService) VerifySignature(req *InteractionRequest) error {
	if s.testMode && IsTestTaskID(req.TaskID) {
		return nil
	}
	if !s.linker.Verify(req.TaskID, req.Action, req.UserID, req.TeamID, req.Sig) {
		return response.NewForbidden("링크 서명이 올바르지 않습니다")
	}
	return nil
}

func (req *InteractionRequest) action() TaskAction {
	a := TaskAction{Kind: req.Action}
	if req.Data != nil {
		a.Days = req.Data.Days
		a.NewDueDate = req.Data.NewDueDate
	}
	return a
}

// Handle runs one task action on behalf of req.UserID.
func (s *InteractionService) Handle(ctx context.Context, req *InteractionRequest) (*InteractionResult, error) {
	if s.testMode && IsTestTaskID(req.TaskID) {
		return s.handleTest(req)
	}
	if req.TeamID == "" {
		return nil, response.NewBadRequest("teamId가 필요합니다")
	}

	task, err := s.tasks.find(ctx, req.TaskID, req.TeamID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, task, req.UserID); err != nil {
		return nil, err
	}

	result, err := ApplyTaskAction(task, req.action(), s.now().In(s.loc))
	if err != nil {
		return nil, err
	}

	if result.Mutated() {
		if err := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", task.ID).Updates(result.Updates).Error; err != nil {
			return nil, response.NewServerError(fmt.Errorf("apply %s: %w", req.Action, err))
		}
		if err := s.tasks.writeHistory(ctx, task.ID, req.UserID, result.Events); err != nil {
			logger.Warn().Err(err).Str("task_id", task.ID).Msg("[Interaction] history write failed")
		}
		s.notifyChange(result.Task, req.UserID, req.Action, result.Message)
	}

	view, err := s.tasks.loadView(ctx, task.ID, task.TeamID)
	if err != nil {
		return nil, err
	}
	logger.Infof("[Interaction] %s on task %s by %s", req.Action, task.ID, req.UserID)
	return &InteractionResult{Success: true, Action: req.Action, Message: result.Message, Task: view}, nil
}

func (s *InteractionService) handleTest(req *InteractionRequest) (*InteractionResult, error) {
	now := s.now().In(s.loc)
	due := now.Add(24 * time.Hour)
	teamID := req.TeamID
	if teamID == "" {
		teamID = "test-team"
	}
	dummy := &models.Task{
		ID:        req.TaskID,
		TeamID:    teamID,
		Title:     "테스트 업무",
		Status:    models.TaskStatusPending,
		Priority:  models.TaskPriorityMedium,
		CreatorID: req.UserID,
		DueDate:   &due,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := ApplyTaskAction(dummy, req.action(), now)
	if err != nil {
		return nil, err
	}
	return &InteractionResult{
		Success:    true,
		Action:     req.Action,
		Message:    result.Message,
		Task:       result.Task.View(),
		IsTestMode: true,
	}, nil
}

// authorize allows the assignee and active owners or admins.
func (s *InteractionService) authorize(ctx context.Context, task *models.Task, userID string) error {
	if task.AssigneeID != nil && *task.AssigneeID == userID {
		return nil
	}
	var member models.TeamMember
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND user_id = ? AND is_active = ?", task.TeamID, userID, true).
		First(&member).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return response.NewServerError(err)
	}
	if err == nil && IsManagerRole(member.Role) {
		return nil
	}
	return response.NewForbidden("업무 담당자 또는 팀 관리자만 처리할 수 있습니다")
}

// notifyChange tells the assignee (or the creator of an unassigned task) what happened.
func (s *InteractionService) notifyChange(task *models.Task, actorID, action, message string) {
	if s.notifier == nil {
		return
	}
	recipient := recipientOf(task)
	snapshot := *task

	s.async("interaction notification", func(ctx context.Context) error {
		var err error
		if action == ActionComplete {
			_, err = s.notifier.CreateTaskCompletedNotification(ctx, &snapshot, recipient, actorID)
		} else {
			change := fmt.Sprintf("%s (마감일 %s)", message, formatDueForHumans(snapshot.DueDate, s.loc))
			_, err = s.notifier.CreateTaskUpdatedNotification(ctx, &snapshot, recipient, actorID, change)
		}
		return err
	})
}

// --- signed GET links ---

// InteractionLinker builds and checks GET interaction links. With an empty secret
// links are unsigned and every signature is accepted.
type InteractionLinker struct {
	apiURL string
	secret []byte
}

func NewInteractionLinker(apiURL, secret string) *InteractionLinker {
	return &InteractionLinker{apiURL: strings.TrimRight(apiURL, "/"), secret: []byte(secret)}
}

func (l *InteractionLinker) Enabled() bool {
	return l != nil && len(l.secret) > 0
}

// Sign returns hex HMAC-SHA256 over "taskId|action|userId|teamId".
func (l *InteractionLinker) Sign(taskID, action, userID, teamID string) string {
	if !l.Enabled() {
		return ""
	}
	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(taskID + "|" + action + "|" + userID + "|" + teamID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *InteractionLinker) Verify(taskID, action, userID, teamID, sig string) bool {
	if !l.Enabled() {
		return true
	}
	expected := l.Sign(taskID, action, userID, teamID)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// URL returns the GET interaction link for task and action on behalf of userID.
func (l *InteractionLinker) URL(task *models.Task, action, userID string) string {
	q := url.Values{}
	q.Set("taskId", task.ID)
	q.Set("action", action)
	q.Set("userId", userID)
	q.Set("teamId", task.TeamID)
	if action == ActionExtend {
		q.Set("days", "1")
	}
	if sig := l.Sign(task.ID, action, userID, task.TeamID); sig != "" {
		q.Set("sig", sig)
	}
	return l.apiURL + "/api/discord/interactions?" + q.Encode()
}

// --- native Discord interactions ---

// HandleDiscordInteraction answers a verified interaction from Discord.
func (s *InteractionService) HandleDiscordInteraction(ctx context.Context, i *discordgo.Interaction) *discordgo.InteractionResponse {
	switch i.Type {
	case discordgo.InteractionPing:
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong}
	case discordgo.InteractionMessageComponent:
		return s.handleButton(ctx, i)
	case discordgo.InteractionApplicationCommand:
		return s.handleCommand(ctx, i)
	}
	return ephemeral("지원하지 않는 요청입니다", nil)
}

func (s *InteractionService) handleButton(ctx context.Context, i *discordgo.Interaction) *discordgo.InteractionResponse {
	action, taskID, ok := ParseTaskCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return ephemeral("알 수 없는 버튼입니다", nil)
	}
	user, resp := s.linkedUser(ctx, i)
	if resp != nil {
		return resp
	}

	var task models.Task
	if err := s.db.WithContext(ctx).Select("id", "team_id").First(&task, "id = ?", taskID).Error; err != nil {
		return ephemeral("업무를 찾을 수 없습니다", nil)
	}

	return s.respond(ctx, &InteractionRequest{TaskID: task.ID, Action: action, UserID: user.ID, TeamID: task.TeamID})
}

func (s *InteractionService) handleCommand(ctx context.Context, i *discordgo.Interaction) *discordgo.InteractionResponse {
	user, resp := s.linkedUser(ctx, i)
	if resp != nil {
		return resp
	}

	data := i.ApplicationCommandData()
	switch data.Name {
	case "tasks":
		return s.myTasks(ctx, user)
	case "task":
		var taskID string
		for _, opt := range data.Options {
			if opt.Name == "id" {
				taskID = opt.StringValue()
			}
		}
		var task models.Task
		if err := s.db.WithContext(ctx).Select("id", "team_id").First(&task, "id = ?", taskID).Error; err != nil {
			return ephemeral("업무를 찾을 수 없습니다", nil)
		}
		if _, err := findActiveMember(ctx, s.db, task.TeamID, user.ID); err != nil {
			return ephemeral(errorMessage(err), nil)
		}
		view, err := s.tasks.loadView(ctx, task.ID, task.TeamID)
		if err != nil {
			return ephemeral(errorMessage(err), nil)
		}
		return ephemeral("", []*discordgo.MessageEmbed{BuildTaskEmbed(view.Task, EmbedReminder, s.loc)})
	}
	return ephemeral("알 수 없는 명령입니다", nil)
}

func (s *InteractionService) respond(ctx context.Context, req *InteractionRequest) *discordgo.InteractionResponse {
	res, err := s.Handle(ctx, req)
	if err != nil {
		return ephemeral(errorMessage(err), nil)
	}
	kind := EmbedReminder
	if res.Task.Status == models.TaskStatusCompleted {
		kind = EmbedCompleted
	}
	return ephemeral(res.Message, []*discordgo.MessageEmbed{BuildTaskEmbed(res.Task.Task, kind, s.loc)})
}

const maxCommandTasks = 10

func (s *InteractionService) myTasks(ctx context.Context, user *models.User) *discordgo.InteractionResponse {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("assignee_id = ? AND status IN ?", user.ID,
			[]string{models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusOnHold}).
		Order("due_date IS NULL, due_date ASC").Limit(maxCommandTasks).Find(&tasks).Error
	if err != nil {
		logger.Error().Err(err).Msg("[Interaction] list tasks failed")
		return ephemeral(response.MsgServerError, nil)
	}
	if len(tasks) == 0 {
		return ephemeral("진행 중인 업무가 없습니다 🎉", nil)
	}

	var sb strings.Builder
	for idx, t := range tasks {
		sb.WriteString(strconv.Itoa(idx+1))
		sb.WriteString(". **")
		sb.WriteString(t.Title)
		sb.WriteString("** · ")
		sb.WriteString(labelOr(statusLabels, t.Status))
		sb.WriteString(" · ")
		sb.WriteString(formatDueForHumans(t.DueDate, s.loc))
		sb.WriteString("\n`")
		sb.WriteString(t.ID)
		sb.WriteString("`\n")
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("📋 내 업무 (%d)", len(tasks)),
		Description: sb.String(),
		Color:       embedColors[EmbedReminder],
	}
	return ephemeral("", []*discordgo.MessageEmbed{embed})
}

// linkedUser maps the Discord caller to a Flowra account.
func (s *InteractionService) linkedUser(ctx context.Context, i *discordgo.Interaction) (*models.User, *discordgo.InteractionResponse) {
	var discordUser *discordgo.User
	if i.Member != nil && i.Member.User != nil {
		discordUser = i.Member.User
	} else {
		discordUser = i.User
	}
	if discordUser == nil {
		return nil, ephemeral("사용자를 확인할 수 없습니다", nil)
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("discord_user_id = ? AND is_active = ?", discordUser.ID, true).First(&user).Error
	if err != nil {
		return nil, ephemeral("Flowra 계정에 Discord가 연결되어 있지 않습니다. 프로필에서 Discord ID를 등록해주세요.", nil)
	}
	return &user, nil
}

func ephemeral(content string, embeds []*discordgo.MessageEmbed) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Embeds:  embeds,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func errorMessage(err error) string {
	var appErr *response.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return response.MsgServerError
}
