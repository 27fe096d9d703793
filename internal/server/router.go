package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/arena-backend/internal/handlers"
	"github.com/yungbote/arena-backend/internal/middleware"
)

const serviceName = "arena-backend"

type RouterConfig struct {
	IdentityMiddleware *middleware.IdentityMiddleware
	ChatHandler        *handlers.ChatHandler
	LearningHandler    *handlers.LearningHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware(serviceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-User-ID", "X-Request-ID"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.IdentityMiddleware.RequireUser())
	{
		// Chat / arena
		api.POST("/chats", cfg.ChatHandler.CreateChat)
		api.GET("/chats", cfg.ChatHandler.ListChats)
		api.GET("/chats/:id/messages", cfg.ChatHandler.ListMessages)
		api.POST("/chats/:id/messages", cfg.ChatHandler.SendMessage)

		// Learning
		api.POST("/learning/events", cfg.LearningHandler.RecordEvent)
		api.GET("/learning/patterns", cfg.LearningHandler.ListPatterns)
		api.GET("/learning/proposals", cfg.LearningHandler.ListProposals)
		api.POST("/learning/proposals/:id/approve", cfg.LearningHandler.ApproveProposal)
		api.POST("/learning/proposals/:id/reject", cfg.LearningHandler.RejectProposal)
		api.GET("/learning/rules", cfg.LearningHandler.ListActiveRules)
		api.POST("/learning/rules/:id/deactivate", cfg.LearningHandler.DeactivateRule)
		api.GET("/learning/stats", cfg.LearningHandler.Stats)
	}

	return router
}
