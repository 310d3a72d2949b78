package main

import (
	"fmt"
	"os"

	"github.com/carequest/questmap-backend/internal/db"
	"github.com/carequest/questmap-backend/internal/handlers"
	"github.com/carequest/questmap-backend/internal/media"
	"github.com/carequest/questmap-backend/internal/platform/envutil"
	"github.com/carequest/questmap-backend/internal/platform/logger"
	"github.com/carequest/questmap-backend/internal/platform/openai"
	"github.com/carequest/questmap-backend/internal/render"
	"github.com/carequest/questmap-backend/internal/repos"
	"github.com/carequest/questmap-backend/internal/server"
	"github.com/carequest/questmap-backend/internal/services"
	"github.com/carequest/questmap-backend/internal/theme"
)

func main() {
	// Logger
	logMode := envutil.Str("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	mapRepo := repos.NewMapRepo(thePG, log)
	templateRepo := repos.NewThemeTemplateRepo(thePG, log)

	// OpenAI client is optional; without it the procedural pipeline runs.
	var aiClient openai.Client
	if c, err := openai.NewClient(log); err != nil {
		log.Warn("Could not init OpenAI client; AI generation disabled", "error", err)
	} else {
		aiClient = c
	}

	// Media + rendering
	store, err := media.NewDiskStore(log)
	if err != nil {
		log.Error("Could not init media store", "error", err)
		os.Exit(1)
	}
	renderer := render.NewRenderer(log)

	// Services
	log.Info("Setting up Services from main...")
	detector := theme.NewDetector(log, aiClient)
	generationService := services.NewMapGenerationService(log, mapRepo, templateRepo, detector, aiClient, store, renderer)
	mapService := services.NewMapService(log, mapRepo)

	// Handlers
	log.Info("Setting up handlers from main...")
	mapsHandler := handlers.NewMapsHandler(generationService, mapService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		MapsHandler: mapsHandler,
		MapsDir:     store.Dir(),
	})

	port := envutil.Str("PORT", "8080")
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
