package main

import (
	"context"
	"fmt"
	"os"
	"time"

	redisclient "github.com/yungbote/arena-backend/internal/clients/redis"
	"github.com/yungbote/arena-backend/internal/db"
	"github.com/yungbote/arena-backend/internal/handlers"
	"github.com/yungbote/arena-backend/internal/middleware"
	"github.com/yungbote/arena-backend/internal/observability"
	"github.com/yungbote/arena-backend/internal/platform/logger"
	"github.com/yungbote/arena-backend/internal/repos"
	"github.com/yungbote/arena-backend/internal/server"
	"github.com/yungbote/arena-backend/internal/services"
	"github.com/yungbote/arena-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownTracing := observability.InitTracing(context.Background(), log, observability.TracingConfig{
		ServiceName: "arena-backend",
		Environment: os.Getenv("APP_ENV"),
	})
	if shutdownTracing != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	chatRepo := repos.NewChatRepo(thePG, log)
	chatMessageRepo := repos.NewChatMessageRepo(thePG, log)
	learningEventRepo := repos.NewLearningEventRepo(thePG, log)
	errorPatternRepo := repos.NewErrorPatternRepo(thePG, log)
	proposedRuleRepo := repos.NewProposedRuleRepo(thePG, log)
	activeRuleRepo := repos.NewActiveRuleRepo(thePG, log)

	// Rule cache: redis when configured, in-process otherwise.
	var ruleCache services.RuleCache
	if os.Getenv("REDIS_ADDR") != "" {
		ruleCache, err = redisclient.NewRuleCache(log)
		if err != nil {
			log.Warn("Redis rule cache unavailable, falling back to in-memory", "error", err)
			ruleCache = services.NewMemoryRuleCache()
		}
	} else {
		ruleCache = services.NewMemoryRuleCache()
	}

	// Services
	log.Info("Setting up services...")
	modelCatalog, err := services.NewModelCatalog(log)
	if err != nil {
		log.Error("Could not init ModelCatalog", "error", err)
		os.Exit(1)
	}
	modelClient, err := services.NewModelClient(log)
	if err != nil {
		log.Error("Could not init ModelClient", "error", err)
		os.Exit(1)
	}
	rulePromptService := services.NewRulePromptService(log, activeRuleRepo, ruleCache)
	orchestratorService := services.NewOrchestrator(log, modelCatalog, modelClient, chatMessageRepo, rulePromptService)
	chatService := services.NewChatService(thePG, log, chatRepo, chatMessageRepo, orchestratorService)
	learningService := services.NewLearningService(thePG, log, learningEventRepo, errorPatternRepo, proposedRuleRepo, activeRuleRepo, rulePromptService)
	defer learningService.Close()
	statsService := services.NewStatsService(log, learningEventRepo, errorPatternRepo, proposedRuleRepo, activeRuleRepo)

	// Handlers
	log.Info("Setting up handlers...")
	chatHandler := handlers.NewChatHandler(chatService)
	learningHandler := handlers.NewLearningHandler(learningService, statsService)

	// Middleware
	identityMiddleware := middleware.NewIdentityMiddleware(log)

	// Router
	router := server.NewRouter(server.RouterConfig{
		IdentityMiddleware: identityMiddleware,
		ChatHandler:        chatHandler,
		LearningHandler:    learningHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
