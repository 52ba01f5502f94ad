package services

import (
	"context"
	"errors"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PermissionsForRole derives the capability flags stored on a membership.
func PermissionsForRole(role string) models.MemberPermissions {
	switch role {
	case models.RoleOwner, models.RoleAdmin:
		return models.MemberPermissions{
			CanManageTeam:     true,
			CanManageMembers:  true,
			CanManageProjects: true,
			CanManageTasks:    true,
			CanView:           true,
		}
	case models.RoleMember:
		return models.MemberPermissions{CanManageTasks: true, CanView: true}
	case models.RoleViewer:
		return models.MemberPermissions{CanView: true}
	default:
		return models.MemberPermissions{}
	}
}

func permissionsColumn(role string) datatypes.JSONType[models.MemberPermissions] {
	return datatypes.NewJSONType(PermissionsForRole(role))
}

// IsManagerRole reports whether the role may act on any task of the team.
func IsManagerRole(role string) bool {
	return role == models.RoleOwner || role == models.RoleAdmin
}

// findActiveMember loads the caller's active membership or returns a 403.
func findActiveMember(ctx context.Context, db *gorm.DB, teamID, userID string) (*models.TeamMember, error) {
	var member models.TeamMember
	err := db.WithContext(ctx).
		Where("team_id = ? AND user_id = ? AND is_active = ?", teamID, userID, true).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewForbidden("팀 멤버만 접근할 수 있습니다")
		}
		return nil, response.NewServerError(err)
	}
	return &member, nil
}

// requirePermission is findActiveMember plus a capability check.
func requirePermission(ctx context.Context, db *gorm.DB, teamID, userID string, allowed func(models.MemberPermissions) bool) (*models.TeamMember, error) {
	member, err := findActiveMember(ctx, db, teamID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed(member.Permissions.Data()) {
		return nil, response.NewForbidden("권한이 없습니다")
	}
	return member, nil
}

func canManageTasks(p models.MemberPermissions) bool    { return p.CanManageTasks }
func canManageMembers(p models.MemberPermissions) bool  { return p.CanManageMembers }
func canManageProjects(p models.MemberPermissions) bool { return p.CanManageProjects }
func canManageTeam(p models.MemberPermissions) bool     { return p.CanManageTeam }
