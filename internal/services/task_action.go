package services

import (
	"strings"
	"time"

	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/response"
)

// Task actions available from Discord buttons and commands.
const (
	ActionComplete   = "complete"
	ActionExtend     = "extend"
	ActionReschedule = "reschedule"
	ActionView       = "view"
)

const maxExtendDays = 365

func IsTaskAction(a string) bool {
	switch a {
	case ActionComplete, ActionExtend, ActionReschedule, ActionView:
		return true
	}
	return false
}

// TaskAction is one requested change. Days applies to extend, NewDueDate to reschedule.
type TaskAction struct {
	Kind       string
	Days       *int
	NewDueDate string
}

// TaskEvent describes one field change produced by an action.
type TaskEvent struct {
	Action   string // history action, e.g. models.HistoryCompleted
	Field    string
	OldValue string
	NewValue string
}

// TaskActionResult is the outcome of ApplyTaskAction. Updates holds the columns
// to persist; it is empty for view and for no-op actions.
type TaskActionResult struct {
	Task    *models.Task
	Updates map[string]interface{}
	Events  []TaskEvent
	Message string
}

// Mutated reports whether anything needs to be written.
func (r *TaskActionResult) Mutated() bool {
	return len(r.Updates) > 0
}

// ResolveCompletedAt keeps completed_at in step with status: set on entering
// completed, kept while staying completed, cleared otherwise.
func ResolveCompletedAt(oldStatus, newStatus string, current *time.Time, now time.Time) *time.Time {
	if newStatus != models.TaskStatusCompleted {
		return nil
	}
	if oldStatus == models.TaskStatusCompleted && current != nil {
		return current
	}
	t := now
	return &t
}

// ApplyTaskAction applies action to a copy of task. The caller persists
// result.Updates; the input task is not modified.
func ApplyTaskAction(task *models.Task, action TaskAction, now time.Time) (*TaskActionResult, error) {
	updated := *task
	result := &TaskActionResult{Task: &updated, Updates: map[string]interface{}{}}

	switch action.Kind {
	case ActionView:
		result.Message = "업무 정보를 불러왔습니다"

	case ActionComplete:
		if task.Status == models.TaskStatusCompleted {
			result.Message = "이미 완료된 업무입니다"
			return result, nil
		}
		updated.Status = models.TaskStatusCompleted
		updated.CompletedAt = ResolveCompletedAt(task.Status, updated.Status, task.CompletedAt, now)
		result.Updates["status"] = updated.Status
		result.Updates["completed_at"] = updated.CompletedAt
		result.Events = append(result.Events, TaskEvent{
			Action:   models.HistoryCompleted,
			Field:    "status",
			OldValue: task.Status,
			NewValue: updated.Status,
		})
		result.Message = "업무를 완료했습니다"

	case ActionExtend:
		days := 1
		if action.Days != nil {
			days = *action.Days
		}
		if days < 1 || days > maxExtendDays {
			return nil, response.NewBadRequest("연장 일수는 1일에서 365일 사이여야 합니다")
		}
		// calendar days in the app timezone; stored due dates are UTC
		base := startOfDay(now)
		if task.DueDate != nil {
			base = task.DueDate.In(now.Location())
		}
		due := base.AddDate(0, 0, days).UTC()
		updated.DueDate = &due
		result.Updates["due_date"] = due
		result.Events = append(result.Events, TaskEvent{
			Action:   models.HistoryExtended,
			Field:    "due_date",
			OldValue: formatDue(task.DueDate),
			NewValue: formatDue(&due),
		})
		result.Message = "마감일을 연장했습니다"

	case ActionReschedule:
		if strings.TrimSpace(action.NewDueDate) == "" {
			return nil, response.NewBadRequest("새 마감일(new_due_date)이 필요합니다")
		}
		due, err := ParseDueDate(action.NewDueDate, now.Location())
		if err != nil {
			return nil, response.NewBadRequest("마감일 형식이 올바르지 않습니다")
		}
		due = due.UTC()
		updated.DueDate = &due
		result.Updates["due_date"] = due
		result.Events = append(result.Events, TaskEvent{
			Action:   models.HistoryResched,
			Field:    "due_date",
			OldValue: formatDue(task.DueDate),
			NewValue: formatDue(&due),
		})
		result.Message = "마감일을 변경했습니다"

	default:
		return nil, response.NewBadRequest("지원하지 않는 작업입니다")
	}

	return result, nil
}

// ParseDueDate accepts YYYY-MM-DD (midnight in loc) or RFC 3339.
func ParseDueDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func formatDue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
