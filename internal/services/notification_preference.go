package services

import (
	"context"
	"time"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// channelDefaults is the per-type fallback when a user has saved nothing.
type channelDefaults struct {
	Email, Push, Discord, InApp bool
}

var defaultPreferences = map[string]channelDefaults{
	models.NotificationTaskAssigned:      {Email: true, Push: true, Discord: true, InApp: true},
	models.NotificationTaskDue:           {Email: true, Push: true, Discord: true, InApp: true},
	models.NotificationTaskOverdue:       {Email: true, Push: true, Discord: true, InApp: true},
	models.NotificationTaskCompleted:     {Email: false, Push: true, Discord: true, InApp: true},
	models.NotificationTaskUpdated:       {Email: false, Push: true, Discord: false, InApp: true},
	models.NotificationTaskCommented:     {Email: false, Push: true, Discord: false, InApp: true},
	models.NotificationTaskStatusChanged: {Email: false, Push: true, Discord: false, InApp: true},
	models.NotificationTeamInvitation:    {Email: true, Push: true, Discord: false, InApp: true},
	models.NotificationMemberJoined:      {Email: false, Push: true, Discord: false, InApp: true},
	models.NotificationMemberLeft:        {Email: false, Push: false, Discord: false, InApp: true},
	models.NotificationProjectCreated:    {Email: false, Push: false, Discord: false, InApp: true},
	models.NotificationSystem:            {Email: true, Push: true, Discord: false, InApp: true},
	models.NotificationReminder:          {Email: false, Push: true, Discord: true, InApp: true},
}

// DefaultPreference returns the built-in preference for (userID, type).
// Unknown types get every channel on.
func DefaultPreference(userID, notificationType string) models.NotificationPreference {
	d, ok := defaultPreferences[notificationType]
	if !ok {
		d = channelDefaults{Email: true, Push: true, Discord: true, InApp: true}
	}
	return models.NotificationPreference{
		UserID:         userID,
		Type:           notificationType,
		EmailEnabled:   d.Email,
		PushEnabled:    d.Push,
		DiscordEnabled: d.Discord,
		InAppEnabled:   d.InApp,
	}
}

type NotificationPreferenceService struct {
	db *gorm.DB
}

func NewNotificationPreferenceService(db *gorm.DB) *NotificationPreferenceService {
	return &NotificationPreferenceService{db: db}
}

// PreferenceView is one row of the preferences screen.
type PreferenceView struct {
	models.NotificationPreference
	IsDefault bool `json:"is_default"`
}

// Resolve returns the stored preference or the type default.
func (s *NotificationPreferenceService) Resolve(ctx context.Context, userID, notificationType string) (models.NotificationPreference, error) {
	var prefs []models.NotificationPreference
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND type = ?", userID, notificationType).
		Limit(1).Find(&prefs).Error
	if err != nil {
		return models.NotificationPreference{}, err
	}
	if len(prefs) == 0 {
		return DefaultPreference(userID, notificationType), nil
	}
	return prefs[0], nil
}

// ResolveMany loads preferences for several users of one type in one query.
func (s *NotificationPreferenceService) ResolveMany(ctx context.Context, userIDs []string, notificationType string) (map[string]models.NotificationPreference, error) {
	var stored []models.NotificationPreference
	if err := s.db.WithContext(ctx).Where("user_id IN ? AND type = ?", userIDs, notificationType).Find(&stored).Error; err != nil {
		return nil, err
	}
	result := make(map[string]models.NotificationPreference, len(userIDs))
	for _, id := range userIDs {
		result[id] = DefaultPreference(id, notificationType)
	}
	for _, p := range stored {
		result[p.UserID] = p
	}
	return result, nil
}

// List returns every notification type for the user, stored or default.
func (s *NotificationPreferenceService) List(ctx context.Context, userID string) ([]PreferenceView, error) {
	var stored []models.NotificationPreference
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&stored).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	byType := make(map[string]models.NotificationPreference, len(stored))
	for _, p := range stored {
		byType[p.Type] = p
	}

	views := make([]PreferenceView, 0, len(models.NotificationTypes))
	for _, t := range models.NotificationTypes {
		if p, ok := byType[t]; ok {
			views = append(views, PreferenceView{NotificationPreference: p})
			continue
		}
		views = append(views, PreferenceView{NotificationPreference: DefaultPreference(userID, t), IsDefault: true})
	}
	return views, nil
}

type UpsertPreferenceRequest struct {
	Type            string  `json:"type" binding:"required,notification_type"`
	EmailEnabled    *bool   `json:"email_enabled"`
	PushEnabled     *bool   `json:"push_enabled"`
	DiscordEnabled  *bool   `json:"discord_enabled"`
	InAppEnabled    *bool   `json:"in_app_enabled"`
	QuietHoursStart *string `json:"quiet_hours_start" binding:"omitempty,datetime=15:04"`
	QuietHoursEnd   *string `json:"quiet_hours_end" binding:"omitempty,datetime=15:04"`
}

// Upsert saves the preference for (user, type). Omitted flags keep the current value.
func (s *NotificationPreferenceService) Upsert(ctx context.Context, userID string, req *UpsertPreferenceRequest) (*models.NotificationPreference, error) {
	if (req.QuietHoursStart == nil) != (req.QuietHoursEnd == nil) {
		return nil, response.NewBadRequest("방해 금지 시간은 시작과 종료를 함께 입력해야 합니다")
	}

	current, err := s.Resolve(ctx, userID, req.Type)
	if err != nil {
		return nil, response.NewServerError(err)
	}

	pref := &models.NotificationPreference{
		UserID:          userID,
		Type:            req.Type,
		EmailEnabled:    boolOr(req.EmailEnabled, current.EmailEnabled),
		PushEnabled:     boolOr(req.PushEnabled, current.PushEnabled),
		DiscordEnabled:  boolOr(req.DiscordEnabled, current.DiscordEnabled),
		InAppEnabled:    boolOr(req.InAppEnabled, current.InAppEnabled),
		QuietHoursStart: req.QuietHoursStart,
		QuietHoursEnd:   req.QuietHoursEnd,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email_enabled", "push_enabled", "discord_enabled", "in_app_enabled",
			"quiet_hours_start", "quiet_hours_end", "updated_at",
		}),
	}).Create(pref).Error
	if err != nil {
		return nil, response.NewServerError(err)
	}

	saved, err := s.Resolve(ctx, userID, req.Type)
	if err != nil {
		return nil, response.NewServerError(err)
	}
	return &saved, nil
}

// Reset deletes the stored preference for one type, or all types when notificationType is empty.
func (s *NotificationPreferenceService) Reset(ctx context.Context, userID, notificationType string) error {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if notificationType != "" {
		if !models.IsNotificationType(notificationType) {
			return response.NewBadRequest("알 수 없는 알림 유형입니다")
		}
		query = query.Where("type = ?", notificationType)
	}
	if err := query.Delete(&models.NotificationPreference{}).Error; err != nil {
		return response.NewServerError(err)
	}
	return nil
}

// InQuietHours reports whether t (already in the app timezone) falls inside the
// preference's quiet window. Windows may wrap midnight; an empty window never matches.
func InQuietHours(pref models.NotificationPreference, t time.Time) bool {
	if pref.QuietHoursStart == nil || pref.QuietHoursEnd == nil {
		return false
	}
	start, err1 := time.Parse("15:04", *pref.QuietHoursStart)
	end, err2 := time.Parse("15:04", *pref.QuietHoursEnd)
	if err1 != nil || err2 != nil {
		return false
	}

	minute := t.Hour()*60 + t.Minute()
	s := start.Hour()*60 + start.Minute()
	e := end.Hour()*60 + end.Minute()
	switch {
	case s == e:
		return false
	case s < e:
		return minute >= s && minute < e
	default:
		return minute >= s || minute < e
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
