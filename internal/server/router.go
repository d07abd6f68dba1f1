package server

import (
  "github.com/gin-gonic/gin"
  "github.com/gin-contrib/cors"
  "github.com/shinyadventure/coverletter-backend/internal/handlers"
)

type RouterConfig struct {
  ApplicationHandler  *handlers.ApplicationHandler
  StorageRoot         string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  // Cors
  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:80",
      "http://localhost:3000",
      "http://localhost:5173",
    },
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

  router.GET("/healthcheck", handlers.HealthCheck)

  // Uploaded assets and generated artifacts are served straight from disk so
  // prompt URLs and mail links resolve.
  router.Static("/storage", cfg.StorageRoot)

  api := router.Group("/api")
  {
    api.POST("/applications", cfg.ApplicationHandler.Submit)
    api.GET("/applications", cfg.ApplicationHandler.List)
    api.GET("/applications/:id", cfg.ApplicationHandler.Get)
    api.GET("/applications/:id/download/:kind", cfg.ApplicationHandler.Download)
    api.DELETE("/applications/:id", cfg.ApplicationHandler.Delete)
  }

  return router
}
