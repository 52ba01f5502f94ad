package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a Flowra account. DiscordUserID links button presses and slash
// commands back to the account.
type User struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	Email         string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password      string         `gorm:"size:255" json:"-"`
	Name          string         `gorm:"size:100" json:"name"`
	AvatarURL     string         `gorm:"size:500" json:"avatar_url"`
	DiscordUserID *string        `gorm:"uniqueIndex;size:32" json:"discord_user_id"`
	IsActive      bool           `json:"is_active"`
	LastLogin     *time.Time     `json:"last_login"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	newID(&u.ID)
	return nil
}

// UserSummary is the shape embedded in task and member responses.
type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Name: u.Name, Email: u.Email, AvatarURL: u.AvatarURL}
}
