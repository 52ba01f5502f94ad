package main

import (
	"github.com/flowra/backend/internal/config"
	"github.com/flowra/backend/internal/handlers"
	"github.com/flowra/backend/internal/models"
	"github.com/flowra/backend/internal/services"
	"github.com/flowra/backend/internal/utils"
	"github.com/flowra/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg      *config.Config
	queue    services.DeliveryQueue
	worker   *services.Worker
	reminder *services.ReminderService

	authHandler         *handlers.AuthHandler
	teamHandler         *handlers.TeamHandler
	projectHandler      *handlers.ProjectHandler
	taskHandler         *handlers.TaskHandler
	notificationHandler *handlers.NotificationHandler
	discordHandler      *handlers.DiscordHandler
	sseHandler          *handlers.SSEHandler
	healthHandler       *handlers.HealthHandler
	metricsHandler      *handlers.MetricsHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database, cfg.Server.Mode == "debug"); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()
	loc := cfg.App.Location()

	// Delivery queue (uses Redis if enabled, otherwise sync mode)
	queue := services.NewDeliveryQueue(&cfg.Redis)
	hub := services.NewNotificationHub()

	bot, err := services.NewDiscordClient(cfg.Discord.BotToken)
	if err != nil {
		logger.Fatalf("Failed to create Discord client: %v", err)
	}
	if err := services.RegisterCommands(cfg.Discord.BotToken, cfg.Discord.ApplicationID); err != nil {
		logger.Warn().Err(err).Msg("Failed to register Discord slash commands")
	}

	linker := services.NewInteractionLinker(cfg.App.APIURL, cfg.Discord.LinkSecret)
	discord := services.NewDiscordService(db, bot, cfg.App.BaseURL, loc).WithLinks(linker)
	email := services.NewEmailService(cfg.Email, cfg.App)
	push := services.NewPushService(db, cfg.Push, cfg.App)

	notifier := services.NewNotificationService(db, services.NotificationDeps{
		Queue:    queue,
		Hub:      hub,
		Email:    email,
		Push:     push,
		Discord:  discord,
		Location: loc,
	})
	if syncQueue, ok := queue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(notifier.ProcessDelivery)
	}

	var worker *services.Worker
	if queue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(notifier.ProcessDelivery)
			if err := worker.Start(); err != nil {
				logger.Errorf("Failed to start delivery worker: %v", err)
			}
		}
	}

	tasks := services.NewTaskService(db, notifier, services.GoRunner, loc)
	interactions := services.NewInteractionService(db, tasks, notifier, linker, cfg.Discord.AllowTestMode)
	teams := services.NewTeamService(db, notifier, services.GoRunner)
	invitations := services.NewInvitationService(db, notifier, services.GoRunner)
	projects := services.NewProjectService(db, notifier, services.GoRunner)

	reminder := services.NewReminderService(db, notifier, discord, services.NewHolidayService(), cfg.Reminders, loc)
	if err := reminder.StartScheduler(); err != nil {
		logger.Errorf("Failed to start reminder scheduler: %v", err)
	}

	return &appServices{
		cfg:      cfg,
		queue:    queue,
		worker:   worker,
		reminder: reminder,

		authHandler:         handlers.NewAuthHandler(services.NewAuthService(db, &cfg.JWT)),
		teamHandler:         handlers.NewTeamHandler(teams, invitations, discord),
		projectHandler:      handlers.NewProjectHandler(projects),
		taskHandler:         handlers.NewTaskHandler(tasks),
		notificationHandler: handlers.NewNotificationHandler(notifier, services.NewNotificationPreferenceService(db), push),
		discordHandler:      handlers.NewDiscordHandler(discord, interactions, cfg.Discord.PublicKey),
		sseHandler:          handlers.NewSSEHandler(hub),
		healthHandler:       handlers.NewHealthHandler(db, queue, hub, discord.Online),
		metricsHandler:      handlers.NewMetricsHandler(db, queue, hub),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.reminder.StopScheduler()
	logger.Info().Msg("Reminder scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.queue != nil {
		if syncQueue, ok := s.queue.(*services.SyncQueue); ok {
			syncQueue.Wait()
		}
		s.queue.Close()
	}
}
