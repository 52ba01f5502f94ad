package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/flowra/backend/internal/config"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	lockReminderDue     = "reminder_due"
	lockReminderOverdue = "reminder_overdue"
	lockReminderTeam    = "reminder_team"
	lockTTL             = 48 * time.Hour

	cleanupSchedule = "@hourly"
)

// ReminderService runs the daily reminder job and the hourly notification sweep.
type ReminderService struct {
	db       *gorm.DB
	notifier *NotificationService
	discord  *DiscordService
	holidays *HolidayService
	cfg      config.ReminderConfig
	loc      *time.Location
	now      func() time.Time
	instance string

	cronScheduler *cron.Cron
}

func NewReminderService(db *gorm.DB, notifier *NotificationService, discord *DiscordService, holidays *HolidayService, cfg config.ReminderConfig, loc *time.Location) *ReminderService {
	if loc == nil {
		loc = time.UTC
	}
	if holidays == nil {
		holidays = NewHolidayService()
	}
	host, _ := os.Hostname()
	return &ReminderService{
		db:       db,
		notifier: notifier,
		discord:  discord,
		holidays: holidays,
		cfg:      cfg,
		loc:      loc,
		now:      time.Now,
		instance: fmt.Sprintf("%s-%d", host, os.Getpid()),
	}
}

// StartScheduler registers both jobs. The reminder job is skipped when
// reminders are disabled; the sweep always runs.
func (s *ReminderService) StartScheduler() error {
	moduleLog := logger.Module("cron")
	cronLog := cron.PrintfLogger(&moduleLog)
	s.cronScheduler = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	if s.cfg.Enabled {
		schedule := s.cfg.Cron
		if schedule == "" {
			schedule = "0 9 * * *"
		}
		if _, err := s.cronScheduler.AddFunc(schedule, func() {
			s.RunReminders(context.Background())
		}); err != nil {
			return fmt.Errorf("add reminder job: %w", err)
		}
		logger.Infof("[Reminder] Scheduled (cron: %s, holidays: %s)", schedule, s.cfg.HolidayCountry)
	}

	if _, err := s.cronScheduler.AddFunc(cleanupSchedule, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("add cleanup job: %w", err)
	}

	s.cronScheduler.Start()
	return nil
}

func (s *ReminderService) StopScheduler() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

// ReminderRun summarizes one reminder pass.
type ReminderRun struct {
	Skipped     bool `json:"skipped"`
	DueSent     int  `json:"due_sent"`
	OverdueSent int  `json:"overdue_sent"`
	TeamPosts   int  `json:"team_posts"`
}

// RunReminders notifies assignees of tasks due within 24h and of overdue
// tasks. Each task is notified at most once per kind per day.
func (s *ReminderService) RunReminders(ctx context.Context) *ReminderRun {
	now := s.now().In(s.loc)
	run := &ReminderRun{}

	country := s.cfg.HolidayCountry
	if country == "" {
		country = "NONE"
	}
	if !s.holidays.IsWorkday(now, country) {
		logger.Infof("[Reminder] %s is not a workday in %s, skipping", now.Format("2006-01-02"), country)
		run.Skipped = true
		return run
	}

	day := now.Format("2006-01-02")
	openStatuses := []string{models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusOnHold}

	var dueSoon []models.Task
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND due_date >= ? AND due_date <= ?", openStatuses, now.UTC(), now.Add(24*time.Hour).UTC()).
		Find(&dueSoon).Error; err != nil {
		logger.Errorf("[Reminder] Failed to load due tasks: %v", err)
	}
	for i := range dueSoon {
		task := &dueSoon[i]
		if !s.acquire(ctx, lockReminderDue, task.ID+":"+day) {
			continue
		}
		if _, err := s.notifier.CreateTaskDueNotification(ctx, task, recipientOf(task)); err != nil {
			logger.Warnf("[Reminder] Due notification for task %s failed: %v", task.ID, err)
			continue
		}
		run.DueSent++
	}

	var overdue []models.Task
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND due_date < ?", openStatuses, now.UTC()).
		Find(&overdue).Error; err != nil {
		logger.Errorf("[Reminder] Failed to load overdue tasks: %v", err)
	}
	for i := range overdue {
		task := &overdue[i]
		if !s.acquire(ctx, lockReminderOverdue, task.ID+":"+day) {
			continue
		}
		if _, err := s.notifier.CreateTaskOverdueNotification(ctx, task, recipientOf(task)); err != nil {
			logger.Warnf("[Reminder] Overdue notification for task %s failed: %v", task.ID, err)
			continue
		}
		run.OverdueSent++
	}

	run.TeamPosts = s.postTeamReminders(ctx, day)

	logger.Infof("[Reminder] Run %s: due=%d overdue=%d team_posts=%d", day, run.DueSent, run.OverdueSent, run.TeamPosts)
	return run
}

func (s *ReminderService) postTeamReminders(ctx context.Context, day string) int {
	if s.discord == nil || !s.discord.Online() {
		return 0
	}

	var settings []models.TeamDiscordSetting
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND reminder_enabled = ? AND channel_id <> ''", true, true).
		Find(&settings).Error; err != nil {
		logger.Errorf("[Reminder] Failed to load discord settings: %v", err)
		return 0
	}

	posted := 0
	for i := range settings {
		setting := &settings[i]
		tasks, err := s.discord.selectTasks(ctx, setting.TeamID, EmbedReminder)
		if err != nil {
			logger.Warnf("[Reminder] Task selection for team %s failed: %v", setting.TeamID, err)
			continue
		}
		if len(tasks) == 0 || !s.acquire(ctx, lockReminderTeam, setting.TeamID+":"+day) {
			continue
		}
		if err := s.discord.PostReminder(ctx, setting, tasks); err != nil {
			logger.Warnf("[Reminder] Post to team %s failed: %v", setting.TeamID, err)
			continue
		}
		posted++
	}
	return posted
}

// acquire inserts a lock row and reports whether this call created it.
func (s *ReminderService) acquire(ctx context.Context, name, key string) bool {
	now := s.now()
	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  s.instance,
		LockedAt:  now,
		ExpiresAt: now.Add(lockTTL),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if result.Error != nil {
		logger.Warnf("[Reminder] Lock %s/%s failed: %v", name, key, result.Error)
		return false
	}
	return result.RowsAffected == 1
}

// Sweep deletes expired notifications and stale scheduler locks.
func (s *ReminderService) Sweep(ctx context.Context) {
	removed, err := s.notifier.CleanupExpired(ctx)
	if err != nil {
		logger.Errorf("[Reminder] Notification cleanup failed: %v", err)
	} else if removed > 0 {
		logger.Infof("[Reminder] Removed %d expired notifications", removed)
	}

	if err := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.SchedulerLock{}).Error; err != nil {
		logger.Errorf("[Reminder] Lock cleanup failed: %v", err)
	}
}

// recipientOf is the assignee, or the creator when nobody is assigned.
func recipientOf(task *models.Task) string {
	if task.AssigneeID != nil && *task.AssigneeID != "" {
		return *task.AssigneeID
	}
	return task.CreatorID
}
