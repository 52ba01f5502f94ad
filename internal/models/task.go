package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Task status
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
	TaskStatusOnHold     = "on_hold"
)

// Task priority
const (
	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
	TaskPriorityUrgent = "urgent"
)

// TaskMetadata is the typed shape of tasks.metadata.
type TaskMetadata struct {
	Tags         []string `json:"tags,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	StoryPoints  *int     `json:"story_points,omitempty"`
}

// Task is a unit of work inside a team. CompletedAt is set iff Status is completed;
// the task service keeps the two in step.
type Task struct {
	ID             string                           `gorm:"primaryKey;size:36" json:"id"`
	TeamID         string                           `gorm:"size:36;index;not null" json:"team_id"`
	ProjectID      *string                          `gorm:"size:36;index" json:"project_id"`
	Title          string                           `gorm:"size:500;not null" json:"title"`
	Description    *string                          `gorm:"type:text" json:"description"`
	Status         string                           `gorm:"size:20;index;not null" json:"status"`
	Priority       string                           `gorm:"size:20;not null" json:"priority"`
	AssigneeID     *string                          `gorm:"size:36;index" json:"assignee_id"`
	CreatorID      string                           `gorm:"size:36;not null" json:"creator_id"`
	DueDate        *time.Time                       `gorm:"index" json:"due_date"`
	EstimatedHours *float64                         `json:"estimated_hours"`
	ActualHours    *float64                         `json:"actual_hours"`
	Position       int                              `json:"position"`
	CompletedAt    *time.Time                       `json:"completed_at"`
	Metadata       datatypes.JSONType[TaskMetadata] `json:"metadata"`
	Assignee       *User                            `gorm:"foreignKey:AssigneeID" json:"-"`
	Creator        *User                            `gorm:"foreignKey:CreatorID" json:"-"`
	Project        *Project                         `gorm:"foreignKey:ProjectID" json:"-"`
	CreatedAt      time.Time                        `json:"created_at"`
	UpdatedAt      time.Time                        `json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	newID(&t.ID)
	return nil
}

// IsOpen reports whether the task still needs work.
func (t *Task) IsOpen() bool {
	return t.Status != TaskStatusCompleted && t.Status != TaskStatusCancelled
}

type TaskTag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TaskID    string    `gorm:"uniqueIndex:idx_task_tag;size:36;not null" json:"task_id"`
	Name      string    `gorm:"uniqueIndex:idx_task_tag;size:50;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (TaskTag) TableName() string { return "task_tags" }

type TaskDependency struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	TaskID          string    `gorm:"uniqueIndex:idx_task_dep;size:36;not null" json:"task_id"`
	DependsOnTaskID string    `gorm:"uniqueIndex:idx_task_dep;size:36;not null" json:"depends_on_task_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func (TaskDependency) TableName() string { return "task_dependencies" }

// Task history actions
const (
	HistoryCreated   = "created"
	HistoryUpdated   = "updated"
	HistoryCompleted = "completed"
	HistoryExtended  = "extended"
	HistoryResched   = "rescheduled"
)

type TaskHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TaskID    string    `gorm:"size:36;index;not null" json:"task_id"`
	UserID    string    `gorm:"size:36" json:"user_id"`
	Action    string    `gorm:"size:30;not null" json:"action"`
	Field     string    `gorm:"size:50" json:"field,omitempty"`
	OldValue  string    `gorm:"type:text" json:"old_value,omitempty"`
	NewValue  string    `gorm:"type:text" json:"new_value,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (TaskHistory) TableName() string { return "task_histories" }

// TaskView is a task joined with its assignee, creator and project summaries.
type TaskView struct {
	*Task
	AssigneeSummary *UserSummary    `json:"assignee"`
	CreatorSummary  *UserSummary    `json:"creator"`
	ProjectSummary  *ProjectSummary `json:"project"`
}

func (t *Task) View() *TaskView {
	return &TaskView{
		Task:            t,
		AssigneeSummary: t.Assignee.Summary(),
		CreatorSummary:  t.Creator.Summary(),
		ProjectSummary:  t.Project.Summary(),
	}
}
