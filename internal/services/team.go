package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultProjectName  = "일반"
	defaultProjectColor = "#6366F1"
)

var defaultTeamTags = []models.TeamTag{
	{Name: "버그", Color: "#EF4444"},
	{Name: "기능", Color: "#3B82F6"},
	{Name: "개선", Color: "#22C55E"},
	{Name: "문서", Color: "#A855F7"},
}

type TeamService struct {
	db       *gorm.DB
	notifier *NotificationService
	async    Runner
	now      func() time.Time
}

func NewTeamService(db *gorm.DB, notifier *NotificationService, async Runner) *TeamService {
	if async == nil {
		async = GoRunner
	}
	return &TeamService{db: db, notifier: notifier, async: async, now: time.Now}
}

type CreateTeamRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description" binding:"max=1000"`
}

// TeamView is a team as seen by one member.
type TeamView struct {
	models.Team
	Role        string `json:"role"`
	MemberCount int64  `json:"member_count"`
}

// Create inserts the team and its owner membership atomically, then seeds a
// default project and tag palette in the background.
func (s *TeamService) Create(ctx context.Context, userID string, req *CreateTeamRequest) (*TeamView, error) {
	team := &models.Team{Name: req.Name, Description: req.Description, OwnerID: userID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(team).Error; err != nil {
			return fmt.Errorf("create team: %w", err)
		}
		owner := &models.TeamMember{
			TeamID:      team.ID,
			UserID:      userID,
			Role:        models.RoleOwner,
			Permissions: permissionsColumn(models.RoleOwner),
			IsActive:    true,
			JoinedAt:    s.now().UTC(),
		}
		if err := tx.Create(owner).Error; err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, response.NewServerError(err)
	}

	teamID := team.ID
	s.async("seed team defaults", func(ctx context.Context) error {
		return s.seedDefaults(ctx, teamID, userID)
	})

	logger.Infof("[Team] Created team %s (%s) by %s", team.ID, team.Name, userID)
	return &TeamView{Team: *team, Role: models.RoleOwner, MemberCount: 1}, nil
}

func (s *TeamService) seedDefaults(ctx context.Context, teamID, userID string) error {
	project := &models.Project{
		TeamID:    teamID,
		Name:      defaultProjectName,
		Color:     defaultProjectColor,
		CreatedBy: userID,
	}
	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return fmt.Errorf("seed project: %w", err)
	}

	tags := make([]models.TeamTag, len(defaultTeamTags))
	for i, tag := range defaultTeamTags {
		tags[i] = models.TeamTag{TeamID: teamID, Name: tag.Name, Color: tag.Color}
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&tags).Error
}

// List returns teams the user actively belongs to.
func (s *TeamService) List(ctx context.Context, userID string) ([]TeamView, error) {
	var memberships []models.TeamMember
	if err := s.db.WithContext(ctx).Where("user_id = ? AND is_active = ?", userID, true).Find(&memberships).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	if len(memberships) == 0 {
		return []TeamView{}, nil
	}

	roles := make(map[string]string, len(memberships))
	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		roles[m.TeamID] = m.Role
		ids = append(ids, m.TeamID)
	}

	var teams []models.Team
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at ASC").Find(&teams).Error; err != nil {
		return nil, response.NewServerError(err)
	}

	type countRow struct {
		TeamID string
		Count  int64
	}
	var counts []countRow
	s.db.WithContext(ctx).Model(&models.TeamMember{}).
		Select("team_id, COUNT(*) as count").
		Where("team_id IN ? AND is_active = ?", ids, true).
		Group("team_id").Scan(&counts)
	byTeam := make(map[string]int64, len(counts))
	for _, c := range counts {
		byTeam[c.TeamID] = c.Count
	}

	views := make([]TeamView, 0, len(teams))
	for _, t := range teams {
		views = append(views, TeamView{Team: t, Role: roles[t.ID], MemberCount: byTeam[t.ID]})
	}
	return views, nil
}

// Members lists active members with their user summaries.
func (s *TeamService) Members(ctx context.Context, userID, teamID string) ([]models.TeamMember, error) {
	if _, err := findActiveMember(ctx, s.db, teamID, userID); err != nil {
		return nil, err
	}
	members := []models.TeamMember{}
	err := s.db.WithContext(ctx).Preload("User").
		Where("team_id = ? AND is_active = ?", teamID, true).
		Order("joined_at ASC").Find(&members).Error
	if err != nil {
		return nil, response.NewServerError(err)
	}
	return members, nil
}

type UpdateMemberRequest struct {
	Role string `json:"role" binding:"required,oneof=admin member viewer"`
}

// UpdateMemberRole changes a member's role and resets their permissions to the role's.
func (s *TeamService) UpdateMemberRole(ctx context.Context, userID, teamID, targetUserID string, req *UpdateMemberRequest) (*models.TeamMember, error) {
	if _, err := requirePermission(ctx, s.db, teamID, userID, canManageMembers); err != nil {
		return nil, err
	}
	target, err := s.activeTarget(ctx, teamID, targetUserID)
	if err != nil {
		return nil, err
	}
	if target.Role == models.RoleOwner {
		return nil, response.NewForbidden("팀 소유자의 역할은 변경할 수 없습니다")
	}

	updates := map[string]interface{}{
		"role":        req.Role,
		"permissions": permissionsColumn(req.Role),
	}
	if err := s.db.WithContext(ctx).Model(target).Updates(updates).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	target.Role = req.Role
	target.Permissions = permissionsColumn(req.Role)
	return target, nil
}

// RemoveMember deactivates a membership. Members may remove themselves; the owner cannot be removed.
func (s *TeamService) RemoveMember(ctx context.Context, userID, teamID, targetUserID string) error {
	if userID == targetUserID {
		if _, err := findActiveMember(ctx, s.db, teamID, userID); err != nil {
			return err
		}
	} else if _, err := requirePermission(ctx, s.db, teamID, userID, canManageMembers); err != nil {
		return err
	}

	target, err := s.activeTarget(ctx, teamID, targetUserID)
	if err != nil {
		return err
	}
	if target.Role == models.RoleOwner {
		return response.NewBadRequest("팀 소유자는 제거할 수 없습니다")
	}

	if err := s.db.WithContext(ctx).Model(target).Update("is_active", false).Error; err != nil {
		return response.NewServerError(err)
	}

	var team models.Team
	if err := s.db.WithContext(ctx).First(&team, "id = ?", teamID).Error; err == nil && s.notifier != nil {
		var user models.User
		s.db.WithContext(ctx).Select("id", "name").First(&user, "id = ?", targetUserID)
		s.async("notify member left", func(ctx context.Context) error {
			_, err := s.notifier.Create(ctx, NotificationIntent{
				UserID:    team.OwnerID,
				Type:      models.NotificationMemberLeft,
				Title:     "멤버가 팀을 떠났습니다",
				Content:   strPtr(fmt.Sprintf("%s님이 '%s' 팀에서 나갔습니다.", user.Name, team.Name)),
				Payload:   TeamPayload{TeamID: team.ID, TeamName: team.Name, UserID: targetUserID},
				ExpiresAt: s.notifier.expiresIn(expireJoined),
			})
			return err
		})
	}

	logger.Infof("[Team] Member %s removed from team %s by %s", targetUserID, teamID, userID)
	return nil
}

func (s *TeamService) activeTarget(ctx context.Context, teamID, targetUserID string) (*models.TeamMember, error) {
	var target models.TeamMember
	err := s.db.WithContext(ctx).Where("team_id = ? AND user_id = ? AND is_active = ?", teamID, targetUserID, true).First(&target).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("멤버를 찾을 수 없습니다")
		}
		return nil, response.NewServerError(err)
	}
	return &target, nil
}

// Tags returns the team's tag palette.
func (s *TeamService) Tags(ctx context.Context, userID, teamID string) ([]models.TeamTag, error) {
	if _, err := findActiveMember(ctx, s.db, teamID, userID); err != nil {
		return nil, err
	}
	tags := []models.TeamTag{}
	if err := s.db.WithContext(ctx).Where("team_id = ?", teamID).Order("id ASC").Find(&tags).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	return tags, nil
}
