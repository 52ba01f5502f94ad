package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/gorm"
)

type ProjectService struct {
	db       *gorm.DB
	notifier *NotificationService
	async    Runner
}

func NewProjectService(db *gorm.DB, notifier *NotificationService, async Runner) *ProjectService {
	if async == nil {
		async = GoRunner
	}
	return &ProjectService{db: db, notifier: notifier, async: async}
}

type ProjectListRequest struct {
	Name string `form:"name"`
}

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
	Color       string `json:"color" binding:"omitempty,hexcolor"`
}

// List returns the team's projects, oldest first.
func (s *ProjectService) List(ctx context.Context, userID, teamID string, req *ProjectListRequest) ([]models.Project, error) {
	if _, err := findActiveMember(ctx, s.db, teamID, userID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("team_id = ?", teamID)
	if req != nil && req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}

	projects := []models.Project{}
	if err := query.Order("created_at ASC").Find(&projects).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	return projects, nil
}

// Create adds a project and tells the rest of the team about it.
func (s *ProjectService) Create(ctx context.Context, userID, teamID string, req *CreateProjectRequest) (*models.Project, error) {
	if _, err := requirePermission(ctx, s.db, teamID, userID, canManageProjects); err != nil {
		return nil, err
	}

	project := &models.Project{
		TeamID:      teamID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Color:       req.Color,
		CreatedBy:   userID,
	}
	if project.Color == "" {
		project.Color = defaultProjectColor
	}
	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return nil, response.NewServerError(err)
	}

	if s.notifier != nil {
		s.async("notify project created", func(ctx context.Context) error {
			return s.notifyTeam(ctx, userID, project)
		})
	}

	logger.Infof("[Project] Created project %s in team %s", project.ID, teamID)
	return project, nil
}

func (s *ProjectService) notifyTeam(ctx context.Context, actorID string, project *models.Project) error {
	var team models.Team
	if err := s.db.WithContext(ctx).First(&team, "id = ?", project.TeamID).Error; err != nil {
		return err
	}
	var recipients []string
	if err := s.db.WithContext(ctx).Model(&models.TeamMember{}).
		Where("team_id = ? AND is_active = ? AND user_id <> ?", project.TeamID, true, actorID).
		Pluck("user_id", &recipients).Error; err != nil {
		return err
	}

	intents := make([]NotificationIntent, 0, len(recipients))
	for _, id := range recipients {
		intents = append(intents, NotificationIntent{
			UserID:    id,
			Type:      models.NotificationProjectCreated,
			Title:     "새 프로젝트가 생성되었습니다",
			Content:   strPtr(fmt.Sprintf("'%s' 팀에 '%s' 프로젝트가 추가되었습니다.", team.Name, project.Name)),
			Payload:   TeamPayload{TeamID: team.ID, TeamName: team.Name, ProjectID: project.ID},
			ExpiresAt: s.notifier.expiresIn(expireJoined),
		})
	}
	_, err := s.notifier.CreateBatch(ctx, intents, true)
	return err
}
