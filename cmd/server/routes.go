package main

import (
	"github.com/flowra/backend/internal/middleware"
	"github.com/flowra/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.App.BaseURL))

	// Discord calls these without a user token
	discordLimiter := middleware.NewRateLimiter(5, 20)
	authLimiter := middleware.NewRateLimiter(2, 10)
	userLimiter := middleware.NewRateLimiter(20, 60).ByUser()

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", svc.metricsHandler.Metrics)

	api := r.Group("/api")
	{
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/login", svc.authHandler.Login)
		}

		discord := api.Group("/discord", discordLimiter.Middleware())
		{
			discord.POST("/interactions", svc.discordHandler.Interact)
			discord.GET("/interactions", svc.discordHandler.InteractLink)
			discord.POST("/webhook", svc.discordHandler.Webhook)
		}

		// EventSource cannot send headers
		api.GET("/notifications/stream", middleware.QueryTokenAuth(), svc.sseHandler.StreamNotifications)

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), userLimiter.Middleware())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.PUT("/auth/me", svc.authHandler.UpdateCurrentUser)
			protected.PUT("/auth/password", svc.authHandler.ChangePassword)

			// Teams
			protected.POST("/teams", svc.teamHandler.Create)
			protected.GET("/teams", svc.teamHandler.List)
			protected.GET("/teams/invitations", svc.teamHandler.MyInvitations)
			protected.POST("/teams/invitations/:id/accept", svc.teamHandler.AcceptInvitation)
			protected.POST("/teams/:id/invitations", svc.teamHandler.Invite)
			protected.GET("/teams/:id/members", svc.teamHandler.Members)
			protected.PATCH("/teams/:id/members/:userId", svc.teamHandler.UpdateMember)
			protected.DELETE("/teams/:id/members/:userId", svc.teamHandler.RemoveMember)
			protected.GET("/teams/:id/tags", svc.teamHandler.Tags)
			protected.GET("/teams/:id/discord", svc.teamHandler.GetDiscordSetting)
			protected.PUT("/teams/:id/discord", svc.teamHandler.SaveDiscordSetting)
			protected.GET("/teams/:id/projects", svc.projectHandler.List)
			protected.POST("/teams/:id/projects", svc.projectHandler.Create)

			// Tasks
			protected.POST("/tasks/create", svc.taskHandler.Create)
			protected.POST("/tasks", svc.taskHandler.Create)
			protected.GET("/tasks", svc.taskHandler.List)
			protected.GET("/tasks/:id", svc.taskHandler.Get)
			protected.GET("/tasks/:id/history", svc.taskHandler.History)
			protected.PATCH("/tasks/:id", svc.taskHandler.Update)
			protected.DELETE("/tasks/:id", svc.taskHandler.Delete)

			// Notifications
			protected.GET("/notifications", svc.notificationHandler.List)
			protected.POST("/notifications", svc.notificationHandler.Create)
			protected.PATCH("/notifications/read-all", svc.notificationHandler.MarkAllRead)
			protected.PATCH("/notifications/:id", svc.notificationHandler.MarkRead)
			protected.DELETE("/notifications/:id", svc.notificationHandler.Delete)
			protected.GET("/notifications/preferences", svc.notificationHandler.GetPreferences)
			protected.POST("/notifications/preferences", svc.notificationHandler.SavePreference)
			protected.DELETE("/notifications/preferences", svc.notificationHandler.ResetPreferences)
			protected.GET("/notifications/push/vapid-public-key", svc.notificationHandler.VAPIDPublicKey)
			protected.POST("/notifications/push/subscribe", svc.notificationHandler.Subscribe)
			protected.DELETE("/notifications/push/subscribe", svc.notificationHandler.Unsubscribe)

			// Discord bot
			protected.POST("/discord/bot-with-buttons", svc.discordHandler.Dispatch)
		}
	}
}
