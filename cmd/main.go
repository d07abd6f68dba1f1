package main

import (
  "context"
  "fmt"
  "os"
  "github.com/shinyadventure/coverletter-backend/internal/platform/envutil"
  "github.com/shinyadventure/coverletter-backend/internal/platform/logger"
  "github.com/shinyadventure/coverletter-backend/internal/platform/openai"
  "github.com/shinyadventure/coverletter-backend/internal/platform/sendgrid"
  "github.com/shinyadventure/coverletter-backend/internal/db"
  "github.com/shinyadventure/coverletter-backend/internal/repos"
  "github.com/shinyadventure/coverletter-backend/internal/services"
  "github.com/shinyadventure/coverletter-backend/internal/handlers"
  "github.com/shinyadventure/coverletter-backend/internal/server"
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

  // Postgres
  postgresService, err := db.NewPostgresService(log)
  if err != nil {
    log.Error("Postgres init failed", "error", err)
    os.Exit(1)
  }
  if err = postgresService.AutoMigrateAll(); err != nil {
    log.Warn("Postgres auto migration failed", "error", err)
  }
  thePG := postgresService.DB()

  // Repos
  log.Info("Setting up Repos from main...")
  applicationRepo := repos.NewApplicationRepo(thePG, log)

  // Services
  log.Info("Setting up Services from main...")
  storageService, err := services.NewStorageService(log)
  if err != nil {
    log.Error("Could not init StorageService", "error", err)
    os.Exit(1)
  }

  // The OpenAI and SendGrid clients are optional: without them the worker
  // still produces fallback letters and skips delivery.
  openaiClient, err := openai.NewFromEnv(log)
  if err != nil {
    log.Warn("Could not init OpenAI client, generation will use fallback letters", "error", err)
  }
  sendgridClient, err := sendgrid.NewFromEnv(log)
  if err != nil {
    log.Warn("Could not init SendGrid client, mail delivery disabled", "error", err)
  }

  templateStore, err := services.NewRedisTemplateStore(log)
  if err != nil {
    log.Warn("Redis template store unavailable, using in-process cache", "error", err)
    templateStore = services.NewMemoryTemplateStore()
  }
  templateCacheService := services.NewTemplateCacheService(log, openaiClient, templateStore)

  mailerService := services.NewMailerService(log, sendgridClient)
  applicationService := services.NewApplicationService(log, applicationRepo, storageService, openaiClient)
  generationService := services.NewGenerationService(
    thePG,
    log,
    applicationRepo,
    storageService,
    openaiClient,
    templateCacheService,
    mailerService,
    services.GenerationConfigFromEnv(),
  )
  generationService.StartWorker(context.Background())

  // Handlers
  log.Info("Setting up handlers from main...")
  applicationHandler := handlers.NewApplicationHandler(log, applicationService)

  // Router
  log.Info("Setting up router from main...")
  router := server.NewRouter(server.RouterConfig{
    ApplicationHandler: applicationHandler,
    StorageRoot:        storageService.Root(),
  })

  port := envutil.Str("PORT", "8080")
  fmt.Printf("Server listening on :%s\n", port)
  if err := router.Run(":" + port); err != nil {
    log.Warn("Server failed", "error", err)
  }
}
