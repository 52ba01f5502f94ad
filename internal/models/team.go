package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Team roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

type Team struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Name        string         `gorm:"size:100;not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	OwnerID     string         `gorm:"size:36;index;not null" json:"owner_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Team) TableName() string { return "teams" }

func (t *Team) BeforeCreate(tx *gorm.DB) error {
	newID(&t.ID)
	return nil
}

// MemberPermissions are capability flags stored beside the role.
type MemberPermissions struct {
	CanManageTeam     bool `json:"can_manage_team"`
	CanManageMembers  bool `json:"can_manage_members"`
	CanManageProjects bool `json:"can_manage_projects"`
	CanManageTasks    bool `json:"can_manage_tasks"`
	CanView           bool `json:"can_view"`
}

// TeamMember rows are deactivated, never hard-deleted.
type TeamMember struct {
	ID          string                                `gorm:"primaryKey;size:36" json:"id"`
	TeamID      string                                `gorm:"uniqueIndex:idx_team_user;size:36;not null" json:"team_id"`
	UserID      string                                `gorm:"uniqueIndex:idx_team_user;size:36;not null;index" json:"user_id"`
	Role        string                                `gorm:"size:20;not null" json:"role"`
	Permissions datatypes.JSONType[MemberPermissions] `json:"permissions"`
	IsActive    bool                                  `json:"is_active"`
	JoinedAt    time.Time                             `json:"joined_at"`
	User        *User                                 `gorm:"foreignKey:UserID" json:"user,omitempty"`
	CreatedAt   time.Time                             `json:"created_at"`
	UpdatedAt   time.Time                             `json:"updated_at"`
}

func (TeamMember) TableName() string { return "team_members" }

func (m *TeamMember) BeforeCreate(tx *gorm.DB) error {
	newID(&m.ID)
	return nil
}

// TeamInvitation is pending until AcceptedAt is set. Expiry is evaluated on read.
type TeamInvitation struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	TeamID     string     `gorm:"size:36;index;not null" json:"team_id"`
	Team       *Team      `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	Email      string     `gorm:"size:255;index;not null" json:"email"`
	Role       string     `gorm:"size:20;not null" json:"role"`
	InvitedBy  string     `gorm:"size:36;not null" json:"invited_by"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (TeamInvitation) TableName() string { return "team_invitations" }

func (i *TeamInvitation) BeforeCreate(tx *gorm.DB) error {
	newID(&i.ID)
	return nil
}

// IsExpired reports whether a still-pending invitation is past its expiry.
func (i *TeamInvitation) IsExpired(now time.Time) bool {
	return i.AcceptedAt == nil && now.After(i.ExpiresAt)
}

// TeamDiscordSetting binds a team to one Discord channel.
type TeamDiscordSetting struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	TeamID          string    `gorm:"uniqueIndex;size:36;not null" json:"team_id"`
	GuildID         string    `gorm:"size:32" json:"guild_id"`
	ChannelID       string    `gorm:"size:32;not null" json:"channel_id"`
	Enabled         bool      `json:"enabled"`
	ReminderEnabled bool      `json:"reminder_enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (TeamDiscordSetting) TableName() string { return "team_discord_settings" }

func (s *TeamDiscordSetting) BeforeCreate(tx *gorm.DB) error {
	newID(&s.ID)
	return nil
}

// TeamTag is the team's tag palette; tasks reference tags by name.
type TeamTag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TeamID    string    `gorm:"uniqueIndex:idx_team_tag;size:36;not null" json:"team_id"`
	Name      string    `gorm:"uniqueIndex:idx_team_tag;size:50;not null" json:"name"`
	Color     string    `gorm:"size:20" json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

func (TeamTag) TableName() string { return "team_tags" }
