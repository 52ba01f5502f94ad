package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxTasksPerDispatch = 5

// DiscordService posts task embeds to team channels and notification DMs to users.
type DiscordService struct {
	db      *gorm.DB
	client  DiscordClient
	baseURL string
	loc     *time.Location
	links   *InteractionLinker
	now     func() time.Time
}

func NewDiscordService(db *gorm.DB, client DiscordClient, baseURL string, loc *time.Location) *DiscordService {
	if loc == nil {
		loc = time.UTC
	}
	return &DiscordService{db: db, client: client, baseURL: baseURL, loc: loc, now: time.Now}
}

// WithLinks makes DMs carry signed interaction links instead of component buttons.
func (s *DiscordService) WithLinks(l *InteractionLinker) *DiscordService {
	s.links = l
	return s
}

// Online reports whether the bot can currently post.
func (s *DiscordService) Online() bool {
	return s.client != nil && s.client.Online()
}

type DispatchRequest struct {
	TeamID string `json:"team_id" binding:"required"`
	Type   string `json:"type" binding:"required,oneof=reminder due_date overdue completed"`
	TaskID string `json:"task_id"`
}

type DispatchResult struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	TaskCount int    `json:"task_count"`
}

// Dispatch sends one message with an embed and buttons per selected task.
func (s *DiscordService) Dispatch(ctx context.Context, userID string, req *DispatchRequest) (*DispatchResult, error) {
	if _, err := findActiveMember(ctx, s.db, req.TeamID, userID); err != nil {
		return nil, err
	}

	setting, err := s.enabledSetting(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	if !s.Online() {
		return nil, response.NewServiceUnavailable("Discord 봇이 오프라인 상태입니다")
	}

	var tasks []models.Task
	if req.TaskID != "" {
		var task models.Task
		err := s.db.WithContext(ctx).Preload("Assignee").Preload("Project").
			Where("id = ? AND team_id = ?", req.TaskID, req.TeamID).First(&task).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, response.NewNotFound("업무를 찾을 수 없습니다")
			}
			return nil, response.NewServerError(err)
		}
		tasks = append(tasks, task)
	} else {
		tasks, err = s.selectTasks(ctx, req.TeamID, req.Type)
		if err != nil {
			return nil, response.NewServerError(err)
		}
	}

	msg := s.buildMessage(tasks, req.Type)
	sent, err := s.client.SendChannelMessage(setting.ChannelID, msg)
	if err != nil {
		return nil, response.NewServerError(fmt.Errorf("send discord message: %w", err))
	}

	logger.Infof("[Discord] Dispatched %s message with %d task(s) to channel %s", req.Type, len(tasks), setting.ChannelID)
	return &DispatchResult{ChannelID: setting.ChannelID, MessageID: sent.ID, TaskCount: len(tasks)}, nil
}

func (s *DiscordService) enabledSetting(ctx context.Context, teamID string) (*models.TeamDiscordSetting, error) {
	var setting models.TeamDiscordSetting
	err := s.db.WithContext(ctx).Where("team_id = ?", teamID).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewBadRequest("팀에 Discord가 설정되지 않았습니다")
		}
		return nil, response.NewServerError(err)
	}
	if !setting.Enabled || setting.ChannelID == "" {
		return nil, response.NewBadRequest("팀에 Discord가 설정되지 않았습니다")
	}
	return &setting, nil
}

// selectTasks picks up to five tasks matching the dispatch type.
func (s *DiscordService) selectTasks(ctx context.Context, teamID, kind string) ([]models.Task, error) {
	now := s.now().In(s.loc)
	query := s.db.WithContext(ctx).Preload("Assignee").Preload("Project").
		Where("team_id = ?", teamID)

	openStatuses := []string{models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusOnHold}
	switch kind {
	case EmbedReminder:
		query = query.Where("status IN ? AND due_date >= ? AND due_date <= ?", openStatuses, now.UTC(), now.Add(24*time.Hour).UTC()).
			Order("due_date ASC")
	case EmbedDueDate:
		start := startOfDay(now)
		query = query.Where("status IN ? AND due_date >= ? AND due_date < ?", openStatuses, start.UTC(), start.AddDate(0, 0, 1).UTC()).
			Order("due_date ASC")
	case EmbedOverdue:
		query = query.Where("status IN ? AND due_date < ?", openStatuses, now.UTC()).
			Order("due_date ASC")
	case EmbedCompleted:
		query = query.Where("status = ? AND completed_at >= ?", models.TaskStatusCompleted, now.Add(-24*time.Hour).UTC()).
			Order("completed_at DESC")
	default:
		return nil, fmt.Errorf("unknown dispatch type %q", kind)
	}

	var tasks []models.Task
	err := query.Limit(maxTasksPerDispatch).Find(&tasks).Error
	return tasks, err
}

func (s *DiscordService) buildMessage(tasks []models.Task, kind string) *discordgo.MessageSend {
	if len(tasks) == 0 {
		return &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{{
				Title:       embedTitles[kind],
				Description: "해당하는 업무가 없습니다 🎉",
				Color:       embedColors[kind],
			}},
		}
	}

	msg := &discordgo.MessageSend{}
	for i := range tasks {
		msg.Embeds = append(msg.Embeds, BuildTaskEmbed(&tasks[i], kind, s.loc))
		// one action row per task, Discord allows five
		msg.Components = append(msg.Components, BuildTaskButtons(&tasks[i], s.baseURL)...)
	}
	return msg
}

// PostReminder posts the reminder embed for tasks to the team channel, if enabled.
func (s *DiscordService) PostReminder(ctx context.Context, setting *models.TeamDiscordSetting, tasks []models.Task) error {
	if len(tasks) == 0 || !s.Online() {
		return nil
	}
	if len(tasks) > maxTasksPerDispatch {
		tasks = tasks[:maxTasksPerDispatch]
	}
	_, err := s.client.SendChannelMessage(setting.ChannelID, s.buildMessage(tasks, EmbedReminder))
	return err
}

// SendNotificationDM delivers n to the owner's linked Discord account.
func (s *DiscordService) SendNotificationDM(ctx context.Context, n *models.Notification) error {
	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "discord_user_id").First(&user, "id = ?", n.UserID).Error; err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.DiscordUserID == nil || *user.DiscordUserID == "" {
		return nil
	}
	if !s.Online() {
		return fmt.Errorf("discord bot offline")
	}

	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{BuildNotificationEmbed(n)}}
	if taskID, ok := n.Data["task_id"].(string); ok && taskID != "" {
		var task models.Task
		if err := s.db.WithContext(ctx).First(&task, "id = ?", taskID).Error; err == nil {
			if s.links.Enabled() {
				msg.Components = BuildTaskLinkButtons(&task, n.UserID, s.links)
			} else {
				msg.Components = BuildTaskButtons(&task, s.baseURL)
			}
		}
	}
	return s.client.SendDirectMessage(*user.DiscordUserID, msg)
}

// --- team settings ---

type DiscordSettingRequest struct {
	GuildID         string `json:"guild_id" binding:"omitempty,numeric"`
	ChannelID       string `json:"channel_id" binding:"required,numeric"`
	Enabled         *bool  `json:"enabled"`
	ReminderEnabled *bool  `json:"reminder_enabled"`
}

func (s *DiscordService) GetSetting(ctx context.Context, userID, teamID string) (*models.TeamDiscordSetting, error) {
	if _, err := findActiveMember(ctx, s.db, teamID, userID); err != nil {
		return nil, err
	}
	var setting models.TeamDiscordSetting
	err := s.db.WithContext(ctx).Where("team_id = ?", teamID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.TeamDiscordSetting{TeamID: teamID}, nil
	}
	if err != nil {
		return nil, response.NewServerError(err)
	}
	return &setting, nil
}

func (s *DiscordService) SaveSetting(ctx context.Context, userID, teamID string, req *DiscordSettingRequest) (*models.TeamDiscordSetting, error) {
	if _, err := requirePermission(ctx, s.db, teamID, userID, canManageTeam); err != nil {
		return nil, err
	}

	setting := &models.TeamDiscordSetting{
		TeamID:          teamID,
		GuildID:         req.GuildID,
		ChannelID:       req.ChannelID,
		Enabled:         req.Enabled == nil || *req.Enabled,
		ReminderEnabled: req.ReminderEnabled != nil && *req.ReminderEnabled,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "team_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"guild_id", "channel_id", "enabled", "reminder_enabled", "updated_at"}),
	}).Create(setting).Error
	if err != nil {
		return nil, response.NewServerError(err)
	}

	var saved models.TeamDiscordSetting
	if err := s.db.WithContext(ctx).Where("team_id = ?", teamID).First(&saved).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	return &saved, nil
}
