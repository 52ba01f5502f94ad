package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
	"github.com/flowra/backend/pkg/response"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TaskService struct {
	db       *gorm.DB
	notifier *NotificationService
	async    Runner
	loc      *time.Location
	now      func() time.Time
}

func NewTaskService(db *gorm.DB, notifier *NotificationService, async Runner, loc *time.Location) *TaskService {
	if async == nil {
		async = GoRunner
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TaskService{db: db, notifier: notifier, async: async, loc: loc, now: time.Now}
}

type CreateTaskRequest struct {
	TeamID         string               `json:"team_id" binding:"required"`
	Title          string               `json:"title" binding:"required,max=500"`
	Description    *string              `json:"description" binding:"omitempty,max=10000"`
	ProjectID      *string              `json:"project_id"`
	Status         string               `json:"status" binding:"omitempty,oneof=pending in_progress completed cancelled on_hold"`
	Priority       string               `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
	AssigneeID     *string              `json:"assignee_id"`
	DueDate        string               `json:"due_date" binding:"omitempty,isodate"`
	EstimatedHours *float64             `json:"estimated_hours" binding:"omitempty,min=0"`
	Metadata       *models.TaskMetadata `json:"metadata"`
}

// UpdateTaskRequest carries only the fields present in the body. An empty string
// clears project_id, assignee_id or due_date.
type UpdateTaskRequest struct {
	TeamID         string               `json:"team_id" binding:"required"`
	Title          *string              `json:"title" binding:"omitempty,min=1,max=500"`
	Description    *string              `json:"description" binding:"omitempty,max=10000"`
	ProjectID      *string              `json:"project_id"`
	Status         *string              `json:"status" binding:"omitempty,oneof=pending in_progress completed cancelled on_hold"`
	Priority       *string              `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
	AssigneeID     *string              `json:"assignee_id"`
	DueDate        *string              `json:"due_date" binding:"omitempty,isodate"`
	EstimatedHours *float64             `json:"estimated_hours" binding:"omitempty,min=0"`
	ActualHours    *float64             `json:"actual_hours" binding:"omitempty,min=0"`
	Position       *int                 `json:"position" binding:"omitempty,min=0"`
	Metadata       *models.TaskMetadata `json:"metadata"`

	// StatusOnly marks a body validated by the narrow status schema.
	StatusOnly bool `json:"-"`
}

// StatusUpdateRequest is the narrow schema for bodies with at most team_id and status.
type StatusUpdateRequest struct {
	TeamID string `json:"team_id" binding:"required"`
	Status string `json:"status" binding:"required,oneof=pending in_progress completed cancelled on_hold"`
}

// IsStatusOnlyUpdate reports whether a body's keys select the narrow status schema.
func IsStatusOnlyUpdate(keys []string) bool {
	if len(keys) > 2 {
		return false
	}
	for _, k := range keys {
		if k == "status" {
			return true
		}
	}
	return false
}

func (r *StatusUpdateRequest) AsUpdate() *UpdateTaskRequest {
	status := r.Status
	return &UpdateTaskRequest{TeamID: r.TeamID, Status: &status, StatusOnly: true}
}

type TaskListRequest struct {
	TeamID     string `form:"team_id" binding:"required"`
	ProjectID  string `form:"project_id"`
	Status     string `form:"status" binding:"omitempty,oneof=pending in_progress completed cancelled on_hold"`
	AssigneeID string `form:"assignee_id"`
	Page       int    `form:"page" binding:"omitempty,min=1"`
	PageSize   int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

type TaskListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []*models.TaskView `json:"items"`
}

// Create inserts a task. Tags, dependencies, history and the assignment
// notification follow in the background and never fail the request.
func (s *TaskService) Create(ctx context.Context, userID string, req *CreateTaskRequest) (*models.TaskView, error) {
	if _, err := requirePermission(ctx, s.db, req.TeamID, userID, canManageTasks); err != nil {
		return nil, err
	}

	assigneeID := emptyToNil(req.AssigneeID)
	if assigneeID != nil {
		if err := s.requireTeamMember(ctx, req.TeamID, *assigneeID); err != nil {
			return nil, err
		}
	}
	projectID := emptyToNil(req.ProjectID)
	if projectID != nil {
		if err := s.requireTeamProject(ctx, req.TeamID, *projectID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	task := &models.Task{
		TeamID:         req.TeamID,
		ProjectID:      projectID,
		Title:          strings.TrimSpace(req.Title),
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		AssigneeID:     assigneeID,
		CreatorID:      userID,
		EstimatedHours: req.EstimatedHours,
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.Priority == "" {
		task.Priority = models.TaskPriorityMedium
	}
	task.CompletedAt = ResolveCompletedAt("", task.Status, nil, now)
	if req.DueDate != "" {
		due, err := ParseDueDate(req.DueDate, s.loc)
		if err != nil {
			return nil, response.NewBadRequest("마감일 형식이 올바르지 않습니다")
		}
		due = due.UTC()
		task.DueDate = &due
	}
	var meta models.TaskMetadata
	if req.Metadata != nil {
		meta = *req.Metadata
	}
	task.Metadata = datatypes.NewJSONType(meta)

	var maxPos struct{ Max int }
	if err := s.db.WithContext(ctx).Model(&models.Task{}).Select("COALESCE(MAX(position), 0) as max").
		Where("team_id = ?", req.TeamID).Scan(&maxPos).Error; err != nil {
		return nil, response.NewServerError(fmt.Errorf("next task position: %w", err))
	}
	task.Position = maxPos.Max + 1

	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, response.NewServerError(fmt.Errorf("insert task: %w", err))
	}

	s.afterCreate(*task, meta)

	logger.Infof("[Task] Created task %s in team %s by %s", task.ID, task.TeamID, userID)
	return s.loadView(ctx, task.ID, task.TeamID)
}

// afterCreate schedules each creation side effect on its own. Tag and dependency
// inserts ignore conflicts and may be retried; history and notification rows run once.
func (s *TaskService) afterCreate(task models.Task, meta models.TaskMetadata) {
	if tags := uniqueNonEmpty(meta.Tags); len(tags) > 0 {
		s.async("task tags", Retried("task tags", func(ctx context.Context) error {
			return s.insertTags(ctx, task.ID, tags)
		}))
	}
	if deps := uniqueNonEmpty(meta.Dependencies); len(deps) > 0 {
		s.async("task dependencies", Retried("task dependencies", func(ctx context.Context) error {
			return s.insertDependencies(ctx, &task, deps)
		}))
	}

	s.async("task created history", func(ctx context.Context) error {
		return s.writeHistory(ctx, task.ID, task.CreatorID, []TaskEvent{{Action: models.HistoryCreated, NewValue: task.Title}})
	})

	if task.AssigneeID != nil && *task.AssigneeID != task.CreatorID && s.notifier != nil {
		s.async("task assigned notification", func(ctx context.Context) error {
			_, err := s.notifier.CreateTaskAssignedNotification(ctx, &task, *task.AssigneeID, task.CreatorID)
			return err
		})
	}
}

func (s *TaskService) insertTags(ctx context.Context, taskID string, tags []string) error {
	rows := make([]models.TaskTag, 0, len(tags))
	for _, name := range tags {
		rows = append(rows, models.TaskTag{TaskID: taskID, Name: name})
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	return nil
}

// insertDependencies links task to the listed tasks of the same team; unknown ids are skipped.
func (s *TaskService) insertDependencies(ctx context.Context, task *models.Task, deps []string) error {
	var existing []string
	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("id IN ? AND team_id = ? AND id <> ?", deps, task.TeamID, task.ID).
		Pluck("id", &existing).Error; err != nil {
		return fmt.Errorf("load dependencies: %w", err)
	}
	if len(existing) == 0 {
		return nil
	}
	rows := make([]models.TaskDependency, 0, len(existing))
	for _, id := range existing {
		rows = append(rows, models.TaskDependency{TaskID: task.ID, DependsOnTaskID: id})
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("dependencies: %w", err)
	}
	return nil
}

// Update applies the present fields. Assignees may change the status of their own
// task; everything else needs task management permission.
func (s *TaskService) Update(ctx context.Context, userID, taskID string, req *UpdateTaskRequest) (*models.TaskView, error) {
	member, err := findActiveMember(ctx, s.db, req.TeamID, userID)
	if err != nil {
		return nil, err
	}
	task, err := s.find(ctx, taskID, req.TeamID)
	if err != nil {
		return nil, err
	}

	isAssignee := task.AssigneeID != nil && *task.AssigneeID == userID
	if !member.Permissions.Data().CanManageTasks && !(req.StatusOnly && isAssignee) {
		return nil, response.NewForbidden("권한이 없습니다")
	}

	now := s.now().UTC()
	updates := map[string]interface{}{}
	var events []TaskEvent
	changed := func(field, oldValue, newValue string, value interface{}) {
		updates[field] = value
		events = append(events, TaskEvent{Action: models.HistoryUpdated, Field: field, OldValue: oldValue, NewValue: newValue})
	}

	before := *task

	if req.Title != nil && strings.TrimSpace(*req.Title) != task.Title {
		title := strings.TrimSpace(*req.Title)
		changed("title", task.Title, title, title)
		task.Title = title
	}
	if req.Description != nil && derefOr(task.Description, "") != *req.Description {
		changed("description", derefOr(task.Description, ""), *req.Description, *req.Description)
		task.Description = req.Description
	}
	if req.ProjectID != nil && derefOr(task.ProjectID, "") != *req.ProjectID {
		projectID := emptyToNil(req.ProjectID)
		if projectID != nil {
			if err := s.requireTeamProject(ctx, task.TeamID, *projectID); err != nil {
				return nil, err
			}
		}
		changed("project_id", derefOr(task.ProjectID, ""), *req.ProjectID, projectID)
		task.ProjectID = projectID
	}
	if req.AssigneeID != nil && derefOr(task.AssigneeID, "") != *req.AssigneeID {
		assigneeID := emptyToNil(req.AssigneeID)
		if assigneeID != nil {
			if err := s.requireTeamMember(ctx, task.TeamID, *assigneeID); err != nil {
				return nil, err
			}
		}
		changed("assignee_id", derefOr(task.AssigneeID, ""), *req.AssigneeID, assigneeID)
		task.AssigneeID = assigneeID
	}
	if req.Priority != nil && *req.Priority != task.Priority {
		changed("priority", task.Priority, *req.Priority, *req.Priority)
		task.Priority = *req.Priority
	}
	if req.DueDate != nil {
		var due *time.Time
		if *req.DueDate != "" {
			parsed, err := ParseDueDate(*req.DueDate, s.loc)
			if err != nil {
				return nil, response.NewBadRequest("마감일 형식이 올바르지 않습니다")
			}
			parsed = parsed.UTC()
			due = &parsed
		}
		if !sameTime(task.DueDate, due) {
			changed("due_date", formatDue(task.DueDate), formatDue(due), due)
			task.DueDate = due
		}
	}
	if req.EstimatedHours != nil && !sameFloat(task.EstimatedHours, req.EstimatedHours) {
		changed("estimated_hours", formatFloat(task.EstimatedHours), formatFloat(req.EstimatedHours), *req.EstimatedHours)
		task.EstimatedHours = req.EstimatedHours
	}
	if req.ActualHours != nil && !sameFloat(task.ActualHours, req.ActualHours) {
		changed("actual_hours", formatFloat(task.ActualHours), formatFloat(req.ActualHours), *req.ActualHours)
		task.ActualHours = req.ActualHours
	}
	if req.Position != nil && *req.Position != task.Position {
		changed("position", strconv.Itoa(task.Position), strconv.Itoa(*req.Position), *req.Position)
		task.Position = *req.Position
	}
	if req.Metadata != nil {
		task.Metadata = datatypes.NewJSONType(*req.Metadata)
		updates["metadata"] = task.Metadata
	}
	if req.Status != nil && *req.Status != task.Status {
		action := models.HistoryUpdated
		if *req.Status == models.TaskStatusCompleted {
			action = models.HistoryCompleted
		}
		updates["status"] = *req.Status
		events = append(events, TaskEvent{Action: action, Field: "status", OldValue: task.Status, NewValue: *req.Status})
		task.CompletedAt = ResolveCompletedAt(task.Status, *req.Status, task.CompletedAt, now)
		updates["completed_at"] = task.CompletedAt
		task.Status = *req.Status
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
			return nil, response.NewServerError(fmt.Errorf("update task: %w", err))
		}
		s.afterUpdate(before, *task, userID, events)
	}

	return s.loadView(ctx, task.ID, task.TeamID)
}

// afterUpdate schedules history and notifications separately so that one failure
// never repeats the others.
func (s *TaskService) afterUpdate(before, after models.Task, actorID string, events []TaskEvent) {
	s.async("task updated history", func(ctx context.Context) error {
		return s.writeHistory(ctx, after.ID, actorID, events)
	})
	if s.notifier == nil {
		return
	}

	if after.AssigneeID != nil && derefOr(before.AssigneeID, "") != *after.AssigneeID && *after.AssigneeID != actorID {
		s.async("task assigned notification", func(ctx context.Context) error {
			_, err := s.notifier.CreateTaskAssignedNotification(ctx, &after, *after.AssigneeID, actorID)
			return err
		})
	}
	if before.Status != models.TaskStatusCompleted && after.Status == models.TaskStatusCompleted && after.CreatorID != actorID {
		s.async("task completed notification", func(ctx context.Context) error {
			_, err := s.notifier.CreateTaskCompletedNotification(ctx, &after, after.CreatorID, actorID)
			return err
		})
	}
}

func (s *TaskService) writeHistory(ctx context.Context, taskID, userID string, events []TaskEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]models.TaskHistory, 0, len(events))
	for _, e := range events {
		rows = append(rows, models.TaskHistory{
			TaskID:   taskID,
			UserID:   userID,
			Action:   e.Action,
			Field:    e.Field,
			OldValue: e.OldValue,
			NewValue: e.NewValue,
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// List returns team tasks matching the filters, ordered by position.
func (s *TaskService) List(ctx context.Context, userID string, req *TaskListRequest) (*TaskListResponse, error) {
	if _, err := findActiveMember(ctx, s.db, req.TeamID, userID); err != nil {
		return nil, err
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	query := s.db.WithContext(ctx).Model(&models.Task{}).Where("team_id = ?", req.TeamID)
	if req.ProjectID != "" {
		query = query.Where("project_id = ?", req.ProjectID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.AssigneeID != "" {
		query = query.Where("assignee_id = ?", req.AssigneeID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, response.NewServerError(err)
	}

	var tasks []models.Task
	offset := (req.Page - 1) * req.PageSize
	err := query.Preload("Assignee").Preload("Creator").Preload("Project").
		Order("position ASC, created_at ASC").Offset(offset).Limit(req.PageSize).Find(&tasks).Error
	if err != nil {
		return nil, response.NewServerError(err)
	}

	items := make([]*models.TaskView, 0, len(tasks))
	for i := range tasks {
		items = append(items, tasks[i].View())
	}
	return &TaskListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

func (s *TaskService) Get(ctx context.Context, userID, taskID, teamID string) (*models.TaskView, error) {
	if teamID == "" {
		return nil, response.NewBadRequest("team_id가 필요합니다")
	}
	if _, err := findActiveMember(ctx, s.db, teamID, userID); err != nil {
		return nil, err
	}
	return s.loadView(ctx, taskID, teamID)
}

// History returns the task's change log, newest first.
func (s *TaskService) History(ctx context.Context, userID, taskID, teamID string) ([]models.TaskHistory, error) {
	if teamID == "" {
		return nil, response.NewBadRequest("team_id가 필요합니다")
	}
	if _, err := findActiveMember(ctx, s.db, teamID, userID); err != nil {
		return nil, err
	}
	if _, err := s.find(ctx, taskID, teamID); err != nil {
		return nil, err
	}
	history := []models.TaskHistory{}
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("created_at DESC, id DESC").Find(&history).Error; err != nil {
		return nil, response.NewServerError(err)
	}
	return history, nil
}

// Delete removes the task with its tags, dependencies and history.
func (s *TaskService) Delete(ctx context.Context, userID, taskID, teamID string) error {
	if teamID == "" {
		return response.NewBadRequest("team_id가 필요합니다")
	}
	if _, err := requirePermission(ctx, s.db, teamID, userID, canManageTasks); err != nil {
		return err
	}
	if _, err := s.find(ctx, taskID, teamID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&models.TaskTag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ? OR depends_on_task_id = ?", taskID, taskID).Delete(&models.TaskDependency{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", taskID).Delete(&models.TaskHistory{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", taskID).Delete(&models.Task{}).Error
	})
	if err != nil {
		return response.NewServerError(fmt.Errorf("delete task: %w", err))
	}

	logger.Infof("[Task] Deleted task %s from team %s by %s", taskID, teamID, userID)
	return nil
}

func (s *TaskService) find(ctx context.Context, taskID, teamID string) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).Where("id = ? AND team_id = ?", taskID, teamID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("업무를 찾을 수 없습니다")
		}
		return nil, response.NewServerError(err)
	}
	return &task, nil
}

func (s *TaskService) loadView(ctx context.Context, taskID, teamID string) (*models.TaskView, error) {
	var task models.Task
	err := s.db.WithContext(ctx).Preload("Assignee").Preload("Creator").Preload("Project").
		Where("id = ? AND team_id = ?", taskID, teamID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("업무를 찾을 수 없습니다")
		}
		return nil, response.NewServerError(err)
	}
	return task.View(), nil
}

func (s *TaskService) requireTeamMember(ctx context.Context, teamID, userID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.TeamMember{}).
		Where("team_id = ? AND user_id = ? AND is_active = ?", teamID, userID, true).
		Count(&count).Error; err != nil {
		return response.NewServerError(err)
	}
	if count == 0 {
		return response.NewBadRequest("담당자는 팀 멤버여야 합니다")
	}
	return nil
}

func (s *TaskService) requireTeamProject(ctx context.Context, teamID, projectID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("id = ? AND team_id = ?", projectID, teamID).Count(&count).Error; err != nil {
		return response.NewServerError(err)
	}
	if count == 0 {
		return response.NewBadRequest("프로젝트를 찾을 수 없습니다")
	}
	return nil
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
