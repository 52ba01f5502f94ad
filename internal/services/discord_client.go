package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
)

// DiscordClient is the subset of the Discord REST API the service uses.
type DiscordClient interface {
	// Online reports whether the bot token is usable.
	Online() bool
	SendChannelMessage(channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	SendDirectMessage(discordUserID string, msg *discordgo.MessageSend) error
}

const onlineCacheTTL = time.Minute

// discordBot talks to Discord over REST only; interactions arrive by webhook.
type discordBot struct {
	session *discordgo.Session

	mu        sync.Mutex
	online    bool
	checkedAt time.Time
}

// NewDiscordClient returns a client for token. With an empty token the client is
// permanently offline.
func NewDiscordClient(token string) (DiscordClient, error) {
	if token == "" {
		return &discordBot{}, nil
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Client.Timeout = 10 * time.Second
	return &discordBot{session: session}, nil
}

func (b *discordBot) Online() bool {
	if b.session == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if time.Since(b.checkedAt) < onlineCacheTTL {
		return b.online
	}

	_, err := b.session.User("@me")
	if err != nil {
		logger.Warn().Err(err).Msg("[Discord] bot user lookup failed")
	}
	b.online = err == nil
	b.checkedAt = time.Now()
	return b.online
}

func (b *discordBot) SendChannelMessage(channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	if b.session == nil {
		return nil, fmt.Errorf("discord bot not configured")
	}
	return b.session.ChannelMessageSendComplex(channelID, msg)
}

func (b *discordBot) SendDirectMessage(discordUserID string, msg *discordgo.MessageSend) error {
	if b.session == nil {
		return fmt.Errorf("discord bot not configured")
	}
	channel, err := b.session.UserChannelCreate(discordUserID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	_, err = b.session.ChannelMessageSendComplex(channel.ID, msg)
	return err
}

// RegisterCommands overwrites the bot's global slash commands.
func RegisterCommands(token, applicationID string) error {
	if token == "" || applicationID == "" {
		return nil
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return err
	}
	_, err = session.ApplicationCommandBulkOverwrite(applicationID, "", SlashCommands())
	return err
}

// SlashCommands served by the interaction webhook.
func SlashCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "tasks",
			Description: "나에게 배정된 진행 중인 업무를 보여줍니다",
		},
		{
			Name:        "task",
			Description: "업무 상세 정보를 보여줍니다",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "id",
					Description: "업무 ID",
					Required:    true,
				},
			},
		},
	}
}

// --- embeds & components ---

// Embed kinds for bot-with-buttons
const (
	EmbedReminder  = "reminder"
	EmbedDueDate   = "due_date"
	EmbedOverdue   = "overdue"
	EmbedCompleted = "completed"
)

var embedColors = map[string]int{
	EmbedReminder:  0x3B82F6,
	EmbedDueDate:   0xF59E0B,
	EmbedOverdue:   0xEF4444,
	EmbedCompleted: 0x22C55E,
}

var embedTitles = map[string]string{
	EmbedReminder:  "⏰ 업무 리마인더",
	EmbedDueDate:   "📅 오늘 마감",
	EmbedOverdue:   "🚨 마감 지남",
	EmbedCompleted: "✅ 완료된 업무",
}

var statusLabels = map[string]string{
	models.TaskStatusPending:    "대기",
	models.TaskStatusInProgress: "진행 중",
	models.TaskStatusCompleted:  "완료",
	models.TaskStatusCancelled:  "취소",
	models.TaskStatusOnHold:     "보류",
}

var priorityLabels = map[string]string{
	models.TaskPriorityLow:    "🟢 낮음",
	models.TaskPriorityMedium: "🟡 보통",
	models.TaskPriorityHigh:   "🟠 높음",
	models.TaskPriorityUrgent: "🔴 긴급",
}

const customIDPrefix = "flowra"

// TaskCustomID builds the component id "flowra:<action>:<taskId>".
func TaskCustomID(action, taskID string) string {
	return customIDPrefix + ":" + action + ":" + taskID
}

// ParseTaskCustomID is the inverse of TaskCustomID.
func ParseTaskCustomID(customID string) (action, taskID string, ok bool) {
	parts := strings.SplitN(customID, ":", 3)
	if len(parts) != 3 || parts[0] != customIDPrefix || !IsTaskAction(parts[1]) || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// BuildTaskEmbed renders one task for a channel post or DM.
func BuildTaskEmbed(task *models.Task, kind string, loc *time.Location) *discordgo.MessageEmbed {
	color, ok := embedColors[kind]
	if !ok {
		color = embedColors[EmbedReminder]
	}
	title := embedTitles[kind]
	if title == "" {
		title = embedTitles[EmbedReminder]
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("**%s**", task.Title),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "상태", Value: labelOr(statusLabels, task.Status), Inline: true},
			{Name: "우선순위", Value: labelOr(priorityLabels, task.Priority), Inline: true},
			{Name: "마감일", Value: formatDueForHumans(task.DueDate, loc), Inline: true},
		},
		Footer:    &discordgo.MessageEmbedFooter{Text: "Flowra · " + task.ID},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if task.Assignee != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "담당자", Value: task.Assignee.Name, Inline: true})
	}
	if task.Project != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "프로젝트", Value: task.Project.Name, Inline: true})
	}
	if task.Description != nil && *task.Description != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "설명", Value: truncate(*task.Description, 200)})
	}
	return embed
}

// BuildTaskButtons returns Complete, +1 day and View buttons plus a link to the web app.
// Completed tasks only get View and the link.
func BuildTaskButtons(task *models.Task, baseURL string) []discordgo.MessageComponent {
	var buttons []discordgo.MessageComponent
	if task.Status != models.TaskStatusCompleted {
		buttons = append(buttons,
			discordgo.Button{Label: "완료", Style: discordgo.SuccessButton, CustomID: TaskCustomID(ActionComplete, task.ID)},
			discordgo.Button{Label: "+1일", Style: discordgo.PrimaryButton, CustomID: TaskCustomID(ActionExtend, task.ID)},
		)
	}
	buttons = append(buttons,
		discordgo.Button{Label: "보기", Style: discordgo.SecondaryButton, CustomID: TaskCustomID(ActionView, task.ID)},
	)
	if baseURL != "" {
		buttons = append(buttons, discordgo.Button{
			Label: "Flowra에서 열기",
			Style: discordgo.LinkButton,
			URL:   fmt.Sprintf("%s/tasks/%s", strings.TrimRight(baseURL, "/"), task.ID),
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

// BuildTaskLinkButtons is BuildTaskButtons with signed GET links bound to userID,
// for places where Discord cannot route component clicks back to us.
func BuildTaskLinkButtons(task *models.Task, userID string, links *InteractionLinker) []discordgo.MessageComponent {
	var buttons []discordgo.MessageComponent
	if task.Status != models.TaskStatusCompleted {
		buttons = append(buttons,
			discordgo.Button{Label: "완료", Style: discordgo.LinkButton, URL: links.URL(task, ActionComplete, userID)},
			discordgo.Button{Label: "+1일", Style: discordgo.LinkButton, URL: links.URL(task, ActionExtend, userID)},
		)
	}
	buttons = append(buttons,
		discordgo.Button{Label: "보기", Style: discordgo.LinkButton, URL: links.URL(task, ActionView, userID)},
	)
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

// BuildNotificationEmbed renders a notification for a DM.
func BuildNotificationEmbed(n *models.Notification) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     n.Title,
		Color:     notificationColor(n.Type),
		Footer:    &discordgo.MessageEmbedFooter{Text: "Flowra 알림"},
		Timestamp: n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.Content != nil {
		embed.Description = *n.Content
	}
	return embed
}

func notificationColor(t string) int {
	switch t {
	case models.NotificationTaskOverdue:
		return embedColors[EmbedOverdue]
	case models.NotificationTaskDue:
		return embedColors[EmbedDueDate]
	case models.NotificationTaskCompleted, models.NotificationMemberJoined:
		return embedColors[EmbedCompleted]
	default:
		return embedColors[EmbedReminder]
	}
}

func labelOr(labels map[string]string, key string) string {
	if v, ok := labels[key]; ok {
		return v
	}
	return key
}

func formatDueForHumans(due *time.Time, loc *time.Location) string {
	if due == nil {
		return "없음"
	}
	if loc == nil {
		loc = time.UTC
	}
	return due.In(loc).Format("2006-01-02 15:04")
}
