package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/carequest/questmap-backend/internal/handlers"
	"github.com/carequest/questmap-backend/internal/platform/envutil"
)

type RouterConfig struct {
	MapsHandler *handlers.MapsHandler

	// MapsDir is served at /maps so generated artwork URLs resolve.
	MapsDir string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)
	if cfg.MapsDir != "" {
		router.Static("/maps", cfg.MapsDir)
	}

	api := router.Group("/api")
	{
		api.POST("/consultations/:id/maps", cfg.MapsHandler.Generate)
		api.GET("/consultations/:id/maps", cfg.MapsHandler.List)
		api.GET("/consultations/:id/maps/:mapIndex", cfg.MapsHandler.GetByIndex)
		api.GET("/consultations/:id/maps/:mapIndex/next", cfg.MapsHandler.Next)
		api.GET("/consultations/:id/maps/:mapIndex/prev", cfg.MapsHandler.Prev)
	}

	return router
}

func allowedOrigins() []string {
	raw := envutil.Str("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
