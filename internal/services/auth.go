package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/flowra/backend/internal/config"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/utils"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/gorm"
)

type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
	now       func() time.Time
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig) *AuthService {
	return &AuthService{
		db:        db,
		jwtConfig: jwtCfg,
		now:       time.Now,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"required,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	ExpireAt time.Time    `json:"expire_at"`
}

// Register creates a local account and signs the user in.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	email := normalizeEmail(req.Email)

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	if count > 0 {
		return nil, response.NewConflict("이미 가입된 이메일입니다")
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, response.NewBadRequest("사용할 수 없는 비밀번호입니다")
	}

	user := models.User{
		Email:    email,
		Password: hashed,
		Name:     strings.TrimSpace(req.Name),
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	return s.issue(ctx, &user)
}

// Login checks the credentials and returns a JWT
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(req.Email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("이메일 또는 비밀번호가 올바르지 않습니다")
		}
		return nil, response.NewServerError(err)
	}
	if !user.IsActive {
		return nil, response.NewForbidden("비활성화된 계정입니다")
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, response.NewUnauthorized("이메일 또는 비밀번호가 올바르지 않습니다")
	}
	return s.issue(ctx, &user)
}

func (s *AuthService) issue(ctx context.Context, user *models.User) (*LoginResponse, error) {
	hours := s.jwtConfig.ExpireHour
	if hours <= 0 {
		hours = 24
	}
	token, err := utils.GenerateToken(user.ID, user.Email, user.Name, hours)
	if err != nil {
		return nil, response.NewServerError(err)
	}

	now := s.now()
	user.LastLogin = &now
	s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Update("last_login", now)

	return &LoginResponse{
		Token:    token,
		User:     user,
		ExpireAt: now.Add(time.Duration(hours) * time.Hour),
	}, nil
}

// GetUserByID loads an active account
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("사용자를 찾을 수 없습니다")
		}
		return nil, response.NewServerError(err)
	}
	if !user.IsActive {
		return nil, response.NewForbidden("비활성화된 계정입니다")
	}
	return &user, nil
}

// UpdateProfileRequest changes the caller's name or Discord link. An empty
// discord_user_id unlinks the account.
type UpdateProfileRequest struct {
	Name          *string `json:"name" binding:"omitempty,min=1,max=100"`
	AvatarURL     *string `json:"avatar_url" binding:"omitempty,max=500"`
	DiscordUserID *string `json:"discord_user_id" binding:"omitempty,numeric,max=32"`
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*models.User, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, response.NewBadRequest("이름을 입력해주세요")
		}
		updates["name"] = name
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = strings.TrimSpace(*req.AvatarURL)
	}
	if req.DiscordUserID != nil {
		discordID := strings.TrimSpace(*req.DiscordUserID)
		if discordID == "" {
			updates["discord_user_id"] = nil
		} else {
			var taken int64
			if err := s.db.WithContext(ctx).Model(&models.User{}).
				Where("discord_user_id = ? AND id <> ?", discordID, userID).Count(&taken).Error; err != nil {
				return nil, response.NewServerError(err)
			}
			if taken > 0 {
				return nil, response.NewConflict("이미 다른 계정에 연결된 Discord 계정입니다")
			}
			updates["discord_user_id"] = discordID
		}
	}

	if len(updates) == 0 {
		return user, nil
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	return s.GetUserByID(ctx, userID)
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=72"`
}

func (s *AuthService) ChangePassword(ctx context.Context, userID string, req *ChangePasswordRequest) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return response.NewBadRequest("현재 비밀번호가 올바르지 않습니다")
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return response.NewBadRequest("사용할 수 없는 비밀번호입니다")
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("password", hashed).Error; err != nil {
		return response.NewServerError(err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
