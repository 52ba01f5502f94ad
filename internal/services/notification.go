package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/gorm"
)

// Expiry policy per notification type
const (
	expireAssigned  = 30 * 24 * time.Hour
	expireCompleted = 30 * 24 * time.Hour
	expireUpdated   = 30 * 24 * time.Hour
	expireJoined    = 30 * 24 * time.Hour
	expireOverdue   = 7 * 24 * time.Hour
)

// NotificationIntent is a request to notify one user.
type NotificationIntent struct {
	UserID    string
	Type      string
	Title     string
	Content   *string
	Payload   NotificationPayload
	ExpiresAt *time.Time
}

func (in *NotificationIntent) validate() error {
	if in.UserID == "" {
		return errors.New("user id is required")
	}
	if !models.IsNotificationType(in.Type) {
		return fmt.Errorf("unknown notification type %q", in.Type)
	}
	if strings.TrimSpace(in.Title) == "" {
		return errors.New("title is required")
	}
	family := payloadFamily(in.Type)
	if in.Payload == nil {
		if family == payloadSystem {
			return nil
		}
		return fmt.Errorf("%s notification requires a %s payload", in.Type, family)
	}
	if in.Payload.family() != family {
		return fmt.Errorf("%s notification cannot carry a %s payload", in.Type, in.Payload.family())
	}
	return in.Payload.validate()
}

// NotificationService writes notification rows and schedules their email, push and
// Discord deliveries.
type NotificationService struct {
	db      *gorm.DB
	prefs   *NotificationPreferenceService
	queue   DeliveryQueue
	hub     *NotificationHub
	email   *EmailService
	push    *PushService
	discord *DiscordService
	loc     *time.Location
	now     func() time.Time
}

// NotificationDeps are the optional delivery channels. Nil channels are skipped.
type NotificationDeps struct {
	Queue    DeliveryQueue
	Hub      *NotificationHub
	Email    *EmailService
	Push     *PushService
	Discord  *DiscordService
	Location *time.Location
}

func NewNotificationService(db *gorm.DB, deps NotificationDeps) *NotificationService {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &NotificationService{
		db:      db,
		prefs:   NewNotificationPreferenceService(db),
		queue:   deps.Queue,
		hub:     deps.Hub,
		email:   deps.Email,
		push:    deps.Push,
		discord: deps.Discord,
		loc:     loc,
		now:     time.Now,
	}
}

// Create validates the intent, inserts the row and schedules side effects.
// It returns (nil, nil) when the user disabled in-app notifications for the type.
func (s *NotificationService) Create(ctx context.Context, intent NotificationIntent) (*models.Notification, error) {
	if err := intent.validate(); err != nil {
		return nil, response.NewBadRequest("알림 요청이 올바르지 않습니다: " + err.Error())
	}

	pref, err := s.prefs.Resolve(ctx, intent.UserID, intent.Type)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", intent.UserID).Msg("[Notification] preference lookup failed, using defaults")
		pref = DefaultPreference(intent.UserID, intent.Type)
	}
	if !pref.InAppEnabled {
		return nil, nil
	}

	n, err := s.buildRow(intent)
	if err != nil {
		return nil, response.NewBadRequest("알림 데이터가 올바르지 않습니다")
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, response.NewServerError(fmt.Errorf("insert notification: %w", err))
	}

	s.afterCreate(n, pref)
	return n, nil
}

// CreateBatch inserts all intents in one statement. Side effects are scheduled only
// when fireSideEffects is set.
func (s *NotificationService) CreateBatch(ctx context.Context, intents []NotificationIntent, fireSideEffects bool) ([]models.Notification, error) {
	if len(intents) == 0 {
		return nil, nil
	}

	usersByType := make(map[string][]string)
	for i := range intents {
		if err := intents[i].validate(); err != nil {
			return nil, response.NewBadRequest(fmt.Sprintf("알림 요청이 올바르지 않습니다 (%d): %s", i, err.Error()))
		}
		usersByType[intents[i].Type] = append(usersByType[intents[i].Type], intents[i].UserID)
	}
	resolved := make(map[string]map[string]models.NotificationPreference, len(usersByType))
	for typ, users := range usersByType {
		byUser, err := s.prefs.ResolveMany(ctx, users, typ)
		if err != nil {
			logger.Warn().Err(err).Str("type", typ).Msg("[Notification] preference lookup failed, using defaults")
		}
		resolved[typ] = byUser
	}

	rows := make([]models.Notification, 0, len(intents))
	prefs := make([]models.NotificationPreference, 0, len(intents))
	for i := range intents {
		pref, ok := resolved[intents[i].Type][intents[i].UserID]
		if !ok {
			pref = DefaultPreference(intents[i].UserID, intents[i].Type)
		}
		if !pref.InAppEnabled {
			continue
		}
		n, err := s.buildRow(intents[i])
		if err != nil {
			return nil, response.NewBadRequest("알림 데이터가 올바르지 않습니다")
		}
		rows = append(rows, *n)
		prefs = append(prefs, pref)
	}
	if len(rows) == 0 {
		return rows, nil
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, response.NewServerError(fmt.Errorf("insert notifications: %w", err))
	}

	for i := range rows {
		if fireSideEffects {
			s.afterCreate(&rows[i], prefs[i])
		} else if s.hub != nil {
			s.hub.Publish(&rows[i])
		}
	}
	return rows, nil
}

func (s *NotificationService) buildRow(intent NotificationIntent) (*models.Notification, error) {
	data, err := payloadToJSONMap(intent.Payload)
	if err != nil {
		return nil, err
	}
	return &models.Notification{
		UserID:    intent.UserID,
		Type:      intent.Type,
		Title:     strings.TrimSpace(intent.Title),
		Content:   intent.Content,
		Data:      data,
		ExpiresAt: intent.ExpiresAt,
		CreatedAt: s.now().UTC(),
	}, nil
}

// afterCreate publishes the row and enqueues one delivery job per enabled channel.
func (s *NotificationService) afterCreate(n *models.Notification, pref models.NotificationPreference) {
	if s.hub != nil {
		s.hub.Publish(n)
	}
	if s.queue == nil {
		return
	}

	var jobs []string
	if pref.EmailEnabled && s.email != nil && s.email.Enabled() {
		jobs = append(jobs, JobNotificationEmail)
	}
	if pref.PushEnabled && s.push != nil && s.push.Enabled() && !InQuietHours(pref, s.now().In(s.loc)) {
		jobs = append(jobs, JobNotificationPush)
	}
	if pref.DiscordEnabled && s.discord != nil {
		jobs = append(jobs, JobNotificationDiscord)
	}

	for _, jobType := range jobs {
		if err := s.queue.Enqueue(&DeliveryJob{Type: jobType, NotificationID: n.ID}); err != nil {
			logger.Warn().Err(err).Str("type", jobType).Str("notification_id", n.ID).Msg("[Notification] enqueue failed")
		}
	}
}

// ProcessDelivery is the DeliveryProcessor for notification jobs.
func (s *NotificationService) ProcessDelivery(ctx context.Context, job *DeliveryJob) error {
	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, "id = ?", job.NotificationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// deleted before delivery
			return nil
		}
		return err
	}

	switch job.Type {
	case JobNotificationEmail:
		var user models.User
		if err := s.db.WithContext(ctx).Select("id", "email").First(&user, "id = ?", n.UserID).Error; err != nil {
			return fmt.Errorf("load recipient: %w", err)
		}
		if user.Email == "" {
			return nil
		}
		return s.email.Send([]string{user.Email}, s.email.NotificationSubject(&n), s.email.NotificationBody(&n))
	case JobNotificationPush:
		return s.push.SendNotification(ctx, &n)
	case JobNotificationDiscord:
		return s.discord.SendNotificationDM(ctx, &n)
	}
	return fmt.Errorf("unknown delivery job %q", job.Type)
}

// --- typed constructors ---

func (s *NotificationService) expiresIn(d time.Duration) *time.Time {
	t := s.now().Add(d).UTC()
	return &t
}

func strPtr(v string) *string { return &v }

func (s *NotificationService) CreateTaskAssignedNotification(ctx context.Context, task *models.Task, assigneeID, actorID string) (*models.Notification, error) {
	payload := taskPayload(task)
	payload.ActorID = actorID
	return s.Create(ctx, NotificationIntent{
		UserID:    assigneeID,
		Type:      models.NotificationTaskAssigned,
		Title:     "새 업무가 배정되었습니다",
		Content:   strPtr(fmt.Sprintf("'%s' 업무가 배정되었습니다.", task.Title)),
		Payload:   payload,
		ExpiresAt: s.expiresIn(expireAssigned),
	})
}

// CreateTaskDueNotification expires at the task's due date.
func (s *NotificationService) CreateTaskDueNotification(ctx context.Context, task *models.Task, userID string) (*models.Notification, error) {
	content := fmt.Sprintf("'%s' 업무의 마감이 다가옵니다.", task.Title)
	if task.DueDate != nil {
		content = fmt.Sprintf("'%s' 업무가 %s에 마감됩니다.", task.Title, task.DueDate.In(s.loc).Format("01월 02일 15:04"))
	}
	return s.Create(ctx, NotificationIntent{
		UserID:    userID,
		Type:      models.NotificationTaskDue,
		Title:     "업무 마감이 다가옵니다",
		Content:   &content,
		Payload:   taskPayload(task),
		ExpiresAt: task.DueDate,
	})
}

func (s *NotificationService) CreateTaskOverdueNotification(ctx context.Context, task *models.Task, userID string) (*models.Notification, error) {
	return s.Create(ctx, NotificationIntent{
		UserID:    userID,
		Type:      models.NotificationTaskOverdue,
		Title:     "업무 마감일이 지났습니다",
		Content:   strPtr(fmt.Sprintf("'%s' 업무의 마감일이 지났습니다. 일정을 확인해주세요.", task.Title)),
		Payload:   taskPayload(task),
		ExpiresAt: s.expiresIn(expireOverdue),
	})
}

// CreateTeamInvitationNotification expires together with the invitation.
func (s *NotificationService) CreateTeamInvitationNotification(ctx context.Context, inv *models.TeamInvitation, team *models.Team, userID, inviterName string) (*models.Notification, error) {
	expires := inv.ExpiresAt
	return s.Create(ctx, NotificationIntent{
		UserID:  userID,
		Type:    models.NotificationTeamInvitation,
		Title:   "팀 초대가 도착했습니다",
		Content: strPtr(fmt.Sprintf("%s님이 '%s' 팀에 초대했습니다.", inviterName, team.Name)),
		Payload: InvitationPayload{
			InvitationID: inv.ID,
			TeamID:       team.ID,
			TeamName:     team.Name,
			Role:         inv.Role,
			InvitedBy:    inv.InvitedBy,
		},
		ExpiresAt: &expires,
	})
}

func (s *NotificationService) CreateTaskCompletedNotification(ctx context.Context, task *models.Task, recipientID, actorID string) (*models.Notification, error) {
	payload := taskPayload(task)
	payload.ActorID = actorID
	return s.Create(ctx, NotificationIntent{
		UserID:    recipientID,
		Type:      models.NotificationTaskCompleted,
		Title:     "업무가 완료되었습니다",
		Content:   strPtr(fmt.Sprintf("'%s' 업무가 완료되었습니다.", task.Title)),
		Payload:   payload,
		ExpiresAt: s.expiresIn(expireCompleted),
	})
}

// CreateTaskUpdatedNotification describes a change such as a new due date.
func (s *NotificationService) CreateTaskUpdatedNotification(ctx context.Context, task *models.Task, recipientID, actorID, change string) (*models.Notification, error) {
	payload := taskPayload(task)
	payload.ActorID = actorID
	payload.Change = change
	return s.Create(ctx, NotificationIntent{
		UserID:    recipientID,
		Type:      models.NotificationTaskUpdated,
		Title:     "업무가 변경되었습니다",
		Content:   strPtr(fmt.Sprintf("'%s' 업무: %s", task.Title, change)),
		Payload:   payload,
		ExpiresAt: s.expiresIn(expireUpdated),
	})
}

func (s *NotificationService) CreateMemberJoinedNotification(ctx context.Context, team *models.Team, recipientID, joinedUserID, joinedName string) (*models.Notification, error) {
	return s.Create(ctx, NotificationIntent{
		UserID:    recipientID,
		Type:      models.NotificationMemberJoined,
		Title:     "새 멤버가 팀에 참여했습니다",
		Content:   strPtr(fmt.Sprintf("%s님이 '%s' 팀에 참여했습니다.", joinedName, team.Name)),
		Payload:   TeamPayload{TeamID: team.ID, TeamName: team.Name, UserID: joinedUserID},
		ExpiresAt: s.expiresIn(expireJoined),
	})
}

// CreateSystemNotification uses the caller's expiry; nil never expires.
func (s *NotificationService) CreateSystemNotification(ctx context.Context, userID, title, content string, payload SystemPayload, expiresAt *time.Time) (*models.Notification, error) {
	var c *string
	if content != "" {
		c = &content
	}
	return s.Create(ctx, NotificationIntent{
		UserID:    userID,
		Type:      models.NotificationSystem,
		Title:     title,
		Content:   c,
		Payload:   payload,
		ExpiresAt: expiresAt,
	})
}

// --- REST operations ---

type NotificationListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Type     string `form:"type" binding:"omitempty,notification_type"`
	IsRead   *bool  `form:"is_read"`
}

type NotificationListResponse struct {
	Total       int64                 `json:"total"`
	Page        int                   `json:"page"`
	PageSize    int                   `json:"page_size"`
	UnreadCount int64                 `json:"unread_count"`
	Items       []models.Notification `json:"items"`
}

func (s *NotificationService) notExpired(q *gorm.DB) *gorm.DB {
	return q.Where("expires_at IS NULL OR expires_at > ?", s.now().UTC())
}

// List returns the caller's unexpired notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, req *NotificationListRequest) (*NotificationListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	base := s.notExpired(s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID))

	var unread int64
	if err := base.Session(&gorm.Session{}).Where("is_read = ?", false).Count(&unread).Error; err != nil {
		return nil, response.NewServerError(err)
	}

	query := base.Session(&gorm.Session{})
	if req.Type != "" {
		query = query.Where("type = ?", req.Type)
	}
	if req.IsRead != nil {
		query = query.Where("is_read = ?", *req.IsRead)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, response.NewServerError(err)
	}

	items := []models.Notification{}
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, response.NewServerError(err)
	}

	return &NotificationListResponse{
		Total:       total,
		Page:        req.Page,
		PageSize:    req.PageSize,
		UnreadCount: unread,
		Items:       items,
	}, nil
}

type CreateNotificationRequest struct {
	UserID    string                 `json:"user_id" binding:"required"`
	Type      string                 `json:"type" binding:"required,notification_type"`
	Title     string                 `json:"title" binding:"required,max=255"`
	Content   *string                `json:"content" binding:"omitempty,max=2000"`
	Data      map[string]interface{} `json:"data"`
	ExpiresAt *time.Time             `json:"expires_at"`
}

// CreateFromRequest lets a user notify themselves or someone sharing a team.
func (s *NotificationService) CreateFromRequest(ctx context.Context, callerID string, req *CreateNotificationRequest) (*models.Notification, error) {
	if req.UserID != callerID {
		shared, err := s.shareTeam(ctx, callerID, req.UserID)
		if err != nil {
			return nil, response.NewServerError(err)
		}
		if !shared {
			return nil, response.NewForbidden("같은 팀 멤버에게만 알림을 보낼 수 있습니다")
		}
	}

	var payload NotificationPayload
	if len(req.Data) > 0 || payloadFamily(req.Type) != payloadSystem {
		p, err := DecodePayload(req.Type, req.Data)
		if err != nil {
			return nil, response.NewBadRequest("알림 데이터 형식이 올바르지 않습니다")
		}
		payload = p
	}

	return s.Create(ctx, NotificationIntent{
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Content:   req.Content,
		Payload:   payload,
		ExpiresAt: req.ExpiresAt,
	})
}

func (s *NotificationService) shareTeam(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.TeamMember{}).
		Where("user_id = ? AND is_active = ?", b, true).
		Where("team_id IN (?)", s.db.Model(&models.TeamMember{}).Select("team_id").Where("user_id = ? AND is_active = ?", a, true)).
		Count(&count).Error
	return count > 0, err
}

func (s *NotificationService) findOwn(ctx context.Context, userID, id string) (*models.Notification, error) {
	var n models.Notification
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("알림을 찾을 수 없습니다")
		}
		return nil, response.NewServerError(err)
	}
	return &n, nil
}

// MarkRead sets the read flag; read_at follows it.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string, isRead bool) (*models.Notification, error) {
	n, err := s.findOwn(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	var readAt *time.Time
	if isRead {
		readAt = n.ReadAt
		if readAt == nil {
			t := s.now().UTC()
			readAt = &t
		}
	}
	if err := s.db.WithContext(ctx).Model(n).Updates(map[string]interface{}{"is_read": isRead, "read_at": readAt}).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	n.IsRead = isRead
	n.ReadAt = readAt
	return n, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": s.now().UTC()})
	if result.Error != nil {
		return 0, response.NewServerError(result.Error)
	}
	return result.RowsAffected, nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.findOwn(ctx, userID, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{}).Error; err != nil {
		return response.NewServerError(err)
	}
	return nil
}

// CleanupExpired deletes notifications past their expiry.
func (s *NotificationService) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}
