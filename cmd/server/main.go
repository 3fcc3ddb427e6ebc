package main

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"storybook-backend/internal/config"
	"storybook-backend/internal/database"
	"storybook-backend/internal/extraction"
	"storybook-backend/internal/gemini"
	"storybook-backend/internal/handlers"
	"storybook-backend/internal/logger"
	"storybook-backend/internal/middleware"
	"storybook-backend/internal/notify"
	"storybook-backend/internal/orchestrator"
	"storybook-backend/internal/pipeline"
	"storybook-backend/internal/store"
	"storybook-backend/internal/supabase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Run migrations before anything touches the schema.
	migrator, err := database.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		logg.Fatal("failed to initialize migrator", "error", err)
	}
	if err := migrator.Run(); err != nil {
		logg.Fatal("migration failed", "error", err)
	}
	migrator.Close()

	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		logg.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	geminiClient := gemini.NewClient(cfg.GeminiAPIBaseURL, cfg.GeminiAPIKey, cfg.GeminiTextModel, cfg.GeminiImageModel)

	supabaseClient, err := supabase.NewClient(cfg)
	if err != nil {
		logg.Fatal("failed to initialize Supabase client", "error", err)
	}
	storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabasePublishableKey, cfg.SupabaseStorageBucket)
	if err != nil {
		logg.Fatal("failed to initialize storage client", "error", err)
	}
	realtimeClient := supabase.NewRealtimeClient(supabaseClient.Supabase)

	notifier := notify.New(cfg.SlackWebhookURL, cfg.EmailWebhookURL, logg)

	imagePipeline := pipeline.New(geminiClient, pipeline.NewHTTPFetcher(), storageClient, logg)
	engine := extraction.NewEngine(geminiClient, db, logg)
	orch := orchestrator.New(db, imagePipeline, realtimeClient, logg)

	projectsHandler := handlers.NewProjectsHandler(db, storageClient, logg)
	manuscriptHandler := handlers.NewManuscriptHandler(db, engine, orch, realtimeClient, logg)
	charactersHandler := handlers.NewCharactersHandler(db, imagePipeline, orch, notifier, realtimeClient, storageClient, cfg.BaseURL, logg)
	pagesHandler := handlers.NewPagesHandler(db, imagePipeline, orch, notifier, realtimeClient, storageClient, cfg.BaseURL, logg)
	reviewHandler := handlers.NewReviewHandler(db, orch, notifier, logg)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Health check (no auth)
	router.GET("/health", handlers.HealthHandler)

	// Admin API, JWT-authenticated.
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))

	api.POST("/projects", projectsHandler.CreateProject)
	api.GET("/projects", projectsHandler.ListProjects)
	api.GET("/projects/:project_id", projectsHandler.GetProject)
	api.DELETE("/projects/:project_id", projectsHandler.DeleteProject)
	api.GET("/projects/:project_id/status", projectsHandler.GetStatus)

	api.POST("/projects/:project_id/manuscript", manuscriptHandler.SubmitManuscript)

	api.POST("/projects/:project_id/characters/generate", charactersHandler.GenerateCharacters)
	api.POST("/projects/:project_id/characters/send", charactersHandler.SendCharacters)
	api.POST("/projects/:project_id/characters/:character_id/regenerate", charactersHandler.RegenerateCharacter)

	api.POST("/projects/:project_id/illustrations/generate", pagesHandler.GenerateIllustrations)
	api.POST("/projects/:project_id/illustrations/send", pagesHandler.SendIllustrations)
	api.POST("/projects/:project_id/pages/:page_id/regenerate", pagesHandler.RegeneratePage)
	api.POST("/projects/:project_id/pages/:page_id/illustration/decision", pagesHandler.DecideIllustration)
	api.POST("/projects/:project_id/complete", pagesHandler.CompleteProject)

	// Customer review surface, authenticated by the per-project token.
	review := router.Group("/api/v1/review/:token")
	review.GET("", reviewHandler.GetProject)
	review.POST("/characters", reviewHandler.SubmitCharacterReview)
	review.POST("/illustrations", reviewHandler.SubmitIllustrationReview)

	logg.Info("server starting", "port", cfg.Port, "environment", cfg.Environment)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		logg.Fatal("server exited", "error", err)
	}
}
