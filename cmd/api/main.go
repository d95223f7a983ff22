package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/storyquest/storyquest-api/internal/config"
	"github.com/storyquest/storyquest-api/internal/domain/user"
	"github.com/storyquest/storyquest-api/internal/middleware"
	"github.com/storyquest/storyquest-api/internal/pkg/aiagent"
	"github.com/storyquest/storyquest-api/internal/pkg/database"
	"github.com/storyquest/storyquest-api/internal/pkg/idempotency"
	"github.com/storyquest/storyquest-api/internal/pkg/jwt"
	"github.com/storyquest/storyquest-api/internal/pkg/logger"
	"github.com/storyquest/storyquest-api/internal/pkg/storage"
	"github.com/storyquest/storyquest-api/internal/store/memory"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "storyquest-api",
	})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("store", cfg.StoreDriver).
		Msg("Starting StoryQuest API")

	// ---------- Storage backend ----------
	var repos repositories
	if cfg.UseMemoryStore() {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		repos = memoryRepositories(memory.New())
		if cfg.IsDevelopment() {
			seedDevAccount(cfg, repos.users)
		}
	} else {
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres(db)

		if err := database.Migrate(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		repos = postgresRepositories(db)
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	var idem idempotency.Store
	if redis != nil {
		idem = idempotency.NewRedisStore(redis, cfg.IdempotencyTTL)
	} else {
		log.Warn().Msg("Idempotency keys kept in process memory")
		idem = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}

	objects, err := newObjectStorage(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create media storage")
	}

	if cfg.AIAgentBaseURL == "" {
		log.Warn().Msg("AI_AGENT_BASE_URL not set, analysis and generation will fail")
	}
	agent := aiagent.NewClient(cfg.AIAgentBaseURL, cfg.AIAgentToken, cfg.AIAgentTimeout, "storyquest-api/1.0")

	app := newApplication(cfg, repos, agent, objects, idem)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     app.router,
		ReadTimeout: 15 * time.Second,
		// media generation holds the request open for the whole collaborator call
		WriteTimeout: cfg.VideoTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// credited operations keep running after their request is gone; let them
	// commit or refund before the database closes
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.VideoTimeout+time.Minute)
	defer waitCancel()
	if err := app.orch.Wait(waitCtx); err != nil {
		log.Error().Err(err).Msg("In-flight credited operations did not finish")
	}

	log.Info().Msg("Server exited properly")
}

func newObjectStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "r2":
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		})
	case "local", "":
		return storage.NewLocalStorage(cfg.LocalStoragePath, cfg.LocalStorageURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// seedDevAccount creates a funded account for the in-memory store and logs a
// token for it, since there is no sign-up endpoint.
func seedDevAccount(cfg *config.Config, users user.Repository) {
	acc := &user.Account{
		ID:          uuid.New(),
		Email:       "dev@storyquest.local",
		DisplayName: "Dev Student",
		AgeGroup:    "7-11",
		Credits:     1000,
	}
	if err := users.Create(context.Background(), acc); err != nil {
		log.Error().Err(err).Msg("Failed to seed dev account")
		return
	}

	token, err := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL).GenerateAccessToken(acc.ID, middleware.RoleAdmin)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue dev token")
		return
	}
	log.Info().Str("user_id", acc.ID.String()).Str("token", token).Msg("Seeded dev account")
}
