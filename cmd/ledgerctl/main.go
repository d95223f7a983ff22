// Command ledgerctl inspects and repairs credit balances and score
// aggregates directly against the database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/storyquest/storyquest-api/internal/config"
	"github.com/storyquest/storyquest-api/internal/domain/credit"
	"github.com/storyquest/storyquest-api/internal/domain/scoring"
	"github.com/storyquest/storyquest-api/internal/domain/user"
	"github.com/storyquest/storyquest-api/internal/pkg/database"
	"github.com/storyquest/storyquest-api/internal/pkg/jwt"
	"github.com/storyquest/storyquest-api/internal/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		Service:     "ledgerctl",
		Output:      os.Stderr,
	})

	root := newRootCmd(func() (*backend, error) { return openPostgres(cfg) })
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// backend is what the commands operate on.
type backend struct {
	users   user.Repository
	credits credit.Service
	scores  *scoring.Aggregator
	jwt     *jwt.Service
	migrate func(ctx context.Context) error
	close   func()
}

func openPostgres(cfg *config.Config) (*backend, error) {
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &backend{
		users:   user.NewRepository(db),
		credits: credit.NewService(credit.NewRepository(db)),
		scores: scoring.NewAggregator(scoring.NewRepository(db), scoring.Config{
			QualifyingThreshold: cfg.QualifyingThreshold,
			LevelSize:           cfg.LevelSize,
		}),
		jwt: jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL),
		migrate: func(ctx context.Context) error {
			log.Info().Msg("applying migrations")
			return database.Migrate(ctx, db)
		},
		close: func() { database.ClosePostgres(db) },
	}, nil
}
