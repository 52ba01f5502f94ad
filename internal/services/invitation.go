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

const invitationTTL = 7 * 24 * time.Hour

type InvitationService struct {
	db       *gorm.DB
	notifier *NotificationService
	async    Runner
	now      func() time.Time
}

func NewInvitationService(db *gorm.DB, notifier *NotificationService, async Runner) *InvitationService {
	if async == nil {
		async = GoRunner
	}
	return &InvitationService{db: db, notifier: notifier, async: async, now: time.Now}
}

type CreateInvitationRequest struct {
	Email string `json:"email" binding:"required,email,max=255"`
	Role  string `json:"role" binding:"required,oneof=admin member viewer"`
}

// Create invites email to the team. Existing users also get an in-app notification.
func (s *InvitationService) Create(ctx context.Context, userID, teamID string, req *CreateInvitationRequest) (*models.TeamInvitation, error) {
	if _, err := requirePermission(ctx, s.db, teamID, userID, canManageMembers); err != nil {
		return nil, err
	}

	var team models.Team
	if err := s.db.WithContext(ctx).First(&team, "id = ?", teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("팀을 찾을 수 없습니다")
		}
		return nil, response.NewServerError(err)
	}

	email := strings.TrimSpace(req.Email)
	var invitee models.User
	lookup := s.db.WithContext(ctx).Where("email = ?", email).Limit(1).Find(&invitee)
	if lookup.Error != nil {
		return nil, response.NewServerError(fmt.Errorf("lookup invitee: %w", lookup.Error))
	}
	found := lookup.RowsAffected > 0
	var inviter models.User
	if found {
		var active int64
		if err := s.db.WithContext(ctx).Model(&models.TeamMember{}).
			Where("team_id = ? AND user_id = ? AND is_active = ?", teamID, invitee.ID, true).
			Count(&active).Error; err != nil {
			return nil, response.NewServerError(fmt.Errorf("count memberships: %w", err))
		}
		if active > 0 {
			return nil, response.NewConflict("이미 팀에 속한 사용자입니다")
		}
		if err := s.db.WithContext(ctx).Select("id", "name").First(&inviter, "id = ?", userID).Error; err != nil {
			return nil, response.NewServerError(fmt.Errorf("load inviter: %w", err))
		}
	}

	inv := &models.TeamInvitation{
		TeamID:    teamID,
		Email:     email,
		Role:      req.Role,
		InvitedBy: userID,
		ExpiresAt: s.now().Add(invitationTTL).UTC(),
	}
	if err := s.db.WithContext(ctx).Create(inv).Error; err != nil {
		return nil, response.NewServerError(err)
	}

	if found && s.notifier != nil {
		inviteeID, inviterName := invitee.ID, inviter.Name
		s.async("notify invitation", func(ctx context.Context) error {
			_, err := s.notifier.CreateTeamInvitationNotification(ctx, inv, &team, inviteeID, inviterName)
			return err
		})
	}

	logger.Infof("[Invitation] %s invited %s to team %s as %s", userID, email, teamID, req.Role)
	return inv, nil
}

// ListMine returns the caller's pending, unexpired invitations.
func (s *InvitationService) ListMine(ctx context.Context, userID string) ([]models.TeamInvitation, error) {
	email, err := s.userEmail(ctx, userID)
	if err != nil {
		return nil, err
	}
	invitations := []models.TeamInvitation{}
	err = s.db.WithContext(ctx).Preload("Team").
		Where("email = ? AND accepted_at IS NULL AND expires_at > ?", email, s.now().UTC()).
		Order("created_at DESC").Find(&invitations).Error
	if err != nil {
		return nil, response.NewServerError(err)
	}
	return invitations, nil
}

type AcceptInvitationRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type AcceptInvitationResult struct {
	TeamID        string             `json:"team_id"`
	Role          string             `json:"role"`
	AlreadyMember bool               `json:"already_member"`
	Member        *models.TeamMember `json:"member"`
}

// Accept joins the caller to the invitation's team. The membership write and the
// accepted_at write are separate statements.
func (s *InvitationService) Accept(ctx context.Context, userID, invitationID string, req *AcceptInvitationRequest) (*AcceptInvitationResult, error) {
	callerEmail, err := s.userEmail(ctx, userID)
	if err != nil {
		return nil, err
	}
	if callerEmail != req.Email {
		return nil, response.NewForbidden("초대받은 이메일과 로그인한 계정이 일치하지 않습니다")
	}

	var inv models.TeamInvitation
	err = s.db.WithContext(ctx).Preload("Team").Where("id = ? AND email = ?", invitationID, req.Email).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("초대를 찾을 수 없습니다")
		}
		return nil, response.NewServerError(err)
	}

	now := s.now().UTC()
	if inv.IsExpired(now) {
		return nil, response.NewBadRequest("만료된 초대입니다")
	}

	var existing models.TeamMember
	hasRow := s.db.WithContext(ctx).Where("team_id = ? AND user_id = ?", inv.TeamID, userID).Limit(1).Find(&existing).RowsAffected > 0

	if hasRow && existing.IsActive {
		if inv.AcceptedAt == nil {
			if err := s.markAccepted(ctx, &inv, now); err != nil {
				return nil, err
			}
		}
		return &AcceptInvitationResult{TeamID: inv.TeamID, Role: existing.Role, AlreadyMember: true, Member: &existing}, nil
	}

	if inv.AcceptedAt != nil {
		return nil, response.NewGone("이미 사용된 초대입니다")
	}

	member := &existing
	if hasRow {
		updates := map[string]interface{}{
			"role":        inv.Role,
			"permissions": permissionsColumn(inv.Role),
			"is_active":   true,
			"joined_at":   now,
		}
		if err := s.db.WithContext(ctx).Model(member).Updates(updates).Error; err != nil {
			return nil, response.NewServerError(fmt.Errorf("reactivate membership: %w", err))
		}
		member.Role = inv.Role
		member.Permissions = permissionsColumn(inv.Role)
		member.IsActive = true
		member.JoinedAt = now
	} else {
		member = &models.TeamMember{
			TeamID:      inv.TeamID,
			UserID:      userID,
			Role:        inv.Role,
			Permissions: permissionsColumn(inv.Role),
			IsActive:    true,
			JoinedAt:    now,
		}
		if err := s.db.WithContext(ctx).Create(member).Error; err != nil {
			return nil, response.NewServerError(fmt.Errorf("insert membership: %w", err))
		}
	}

	if err := s.markAccepted(ctx, &inv, now); err != nil {
		return nil, err
	}

	if s.notifier != nil && inv.Team != nil && inv.InvitedBy != userID {
		var joined models.User
		s.db.WithContext(ctx).Select("id", "name").First(&joined, "id = ?", userID)
		team := inv.Team
		inviter := inv.InvitedBy
		s.async("notify member joined", func(ctx context.Context) error {
			_, err := s.notifier.CreateMemberJoinedNotification(ctx, team, inviter, userID, joined.Name)
			return err
		})
	}

	logger.Infof("[Invitation] User %s joined team %s as %s", userID, inv.TeamID, inv.Role)
	return &AcceptInvitationResult{TeamID: inv.TeamID, Role: inv.Role, Member: member}, nil
}

func (s *InvitationService) markAccepted(ctx context.Context, inv *models.TeamInvitation, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.TeamInvitation{}).Where("id = ?", inv.ID).Update("accepted_at", now).Error
	if err != nil {
		return response.NewServerError(fmt.Errorf("mark invitation accepted: %w", err))
	}
	inv.AcceptedAt = &now
	return nil
}

func (s *InvitationService) userEmail(ctx context.Context, userID string) (string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "email").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", response.NewUnauthorized("사용자를 찾을 수 없습니다")
		}
		return "", response.NewServerError(err)
	}
	return user.Email, nil
}
