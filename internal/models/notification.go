package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification types
const (
	NotificationTaskAssigned      = "task_assigned"
	NotificationTaskDue           = "task_due"
	NotificationTaskOverdue       = "task_overdue"
	NotificationTaskCompleted     = "task_completed"
	NotificationTaskUpdated       = "task_updated"
	NotificationTaskStatusChanged = "task_status_changed"
	NotificationTaskCommented     = "task_commented"
	NotificationTeamInvitation    = "team_invitation"
	NotificationMemberJoined      = "team_member_joined"
	NotificationMemberLeft        = "team_member_left"
	NotificationProjectCreated    = "project_created"
	NotificationReminder          = "reminder"
	NotificationSystem            = "system"
)

// NotificationTypes is the closed set, in display order.
var NotificationTypes = []string{
	NotificationTaskAssigned,
	NotificationTaskDue,
	NotificationTaskOverdue,
	NotificationTaskCompleted,
	NotificationTaskUpdated,
	NotificationTaskStatusChanged,
	NotificationTaskCommented,
	NotificationTeamInvitation,
	NotificationMemberJoined,
	NotificationMemberLeft,
	NotificationProjectCreated,
	NotificationReminder,
	NotificationSystem,
}

func IsNotificationType(t string) bool {
	for _, v := range NotificationTypes {
		if v == t {
			return true
		}
	}
	return false
}

type Notification struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	UserID    string            `gorm:"size:36;index:idx_notification_user_read;not null" json:"user_id"`
	Type      string            `gorm:"size:40;index;not null" json:"type"`
	Title     string            `gorm:"size:255;not null" json:"title"`
	Content   *string           `gorm:"type:text" json:"content"`
	Data      datatypes.JSONMap `json:"data"`
	IsRead    bool              `gorm:"index:idx_notification_user_read" json:"is_read"`
	ReadAt    *time.Time        `json:"read_at"`
	ExpiresAt *time.Time        `gorm:"index" json:"expires_at"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	newID(&n.ID)
	return nil
}

// NotificationPreference overrides the per-type defaults for one user.
type NotificationPreference struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	UserID          string    `gorm:"uniqueIndex:idx_pref_user_type;size:36;not null" json:"user_id"`
	Type            string    `gorm:"uniqueIndex:idx_pref_user_type;size:40;not null" json:"type"`
	EmailEnabled    bool      `json:"email_enabled"`
	PushEnabled     bool      `json:"push_enabled"`
	DiscordEnabled  bool      `json:"discord_enabled"`
	InAppEnabled    bool      `json:"in_app_enabled"`
	QuietHoursStart *string   `gorm:"size:5" json:"quiet_hours_start"` // HH:MM
	QuietHoursEnd   *string   `gorm:"size:5" json:"quiet_hours_end"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (NotificationPreference) TableName() string { return "notification_preferences" }

// PushSubscription is a browser web push endpoint.
type PushSubscription struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:36;index;not null" json:"user_id"`
	Endpoint  string    `gorm:"uniqueIndex;size:700;not null" json:"endpoint"`
	P256dh    string    `gorm:"size:255;not null" json:"-"`
	Auth      string    `gorm:"size:255;not null" json:"-"`
	UserAgent string    `gorm:"size:255" json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}

func (PushSubscription) TableName() string { return "push_subscriptions" }
