package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowra/backend/internal/models"
	"gorm.io/datatypes"
)

// Payload families. Every notification type maps to exactly one.
const (
	payloadTask       = "task"
	payloadInvitation = "invitation"
	payloadTeam       = "team"
	payloadSystem     = "system"
)

func payloadFamily(notificationType string) string {
	switch notificationType {
	case models.NotificationTaskAssigned, models.NotificationTaskDue, models.NotificationTaskOverdue,
		models.NotificationTaskCompleted, models.NotificationTaskUpdated, models.NotificationTaskStatusChanged,
		models.NotificationTaskCommented, models.NotificationReminder:
		return payloadTask
	case models.NotificationTeamInvitation:
		return payloadInvitation
	case models.NotificationMemberJoined, models.NotificationMemberLeft, models.NotificationProjectCreated:
		return payloadTeam
	case models.NotificationSystem:
		return payloadSystem
	}
	return ""
}

// NotificationPayload is the typed body of notifications.data.
type NotificationPayload interface {
	family() string
	validate() error
}

type TaskPayload struct {
	TaskID    string     `json:"task_id"`
	TaskTitle string     `json:"task_title"`
	TeamID    string     `json:"team_id"`
	ProjectID *string    `json:"project_id,omitempty"`
	ActorID   string     `json:"actor_id,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	Status    string     `json:"status,omitempty"`
	Change    string     `json:"change,omitempty"`
}

func (TaskPayload) family() string { return payloadTask }

func (p TaskPayload) validate() error {
	if p.TaskID == "" || p.TeamID == "" {
		return fmt.Errorf("task payload requires task_id and team_id")
	}
	return nil
}

func taskPayload(task *models.Task) TaskPayload {
	return TaskPayload{
		TaskID:    task.ID,
		TaskTitle: task.Title,
		TeamID:    task.TeamID,
		ProjectID: task.ProjectID,
		DueDate:   task.DueDate,
		Status:    task.Status,
	}
}

type InvitationPayload struct {
	InvitationID string `json:"invitation_id"`
	TeamID       string `json:"team_id"`
	TeamName     string `json:"team_name"`
	Role         string `json:"role"`
	InvitedBy    string `json:"invited_by"`
}

func (InvitationPayload) family() string { return payloadInvitation }

func (p InvitationPayload) validate() error {
	if p.InvitationID == "" || p.TeamID == "" {
		return fmt.Errorf("invitation payload requires invitation_id and team_id")
	}
	return nil
}

type TeamPayload struct {
	TeamID    string `json:"team_id"`
	TeamName  string `json:"team_name"`
	UserID    string `json:"user_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

func (TeamPayload) family() string { return payloadTeam }

func (p TeamPayload) validate() error {
	if p.TeamID == "" {
		return fmt.Errorf("team payload requires team_id")
	}
	return nil
}

type SystemPayload struct {
	ActionURL string `json:"action_url,omitempty"`
	Severity  string `json:"severity,omitempty"` // info, warning, critical
}

func (SystemPayload) family() string { return payloadSystem }

func (p SystemPayload) validate() error {
	switch p.Severity {
	case "", "info", "warning", "critical":
		return nil
	}
	return fmt.Errorf("unknown severity %q", p.Severity)
}

// DecodePayload turns client JSON into the payload shape for notificationType.
func DecodePayload(notificationType string, data map[string]interface{}) (NotificationPayload, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload NotificationPayload
	switch payloadFamily(notificationType) {
	case payloadTask:
		var p TaskPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case payloadInvitation:
		var p InvitationPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case payloadTeam:
		var p TeamPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case payloadSystem:
		var p SystemPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown notification type %q", notificationType)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func payloadToJSONMap(p NotificationPayload) (datatypes.JSONMap, error) {
	if p == nil {
		return datatypes.JSONMap{}, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m datatypes.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
