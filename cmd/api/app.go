package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storyquest/storyquest-api/internal/config"
	"github.com/storyquest/storyquest-api/internal/domain/achievement"
	"github.com/storyquest/storyquest-api/internal/domain/credit"
	"github.com/storyquest/storyquest-api/internal/domain/media"
	"github.com/storyquest/storyquest-api/internal/domain/scoring"
	"github.com/storyquest/storyquest-api/internal/domain/submission"
	"github.com/storyquest/storyquest-api/internal/domain/user"
	"github.com/storyquest/storyquest-api/internal/middleware"
	"github.com/storyquest/storyquest-api/internal/pkg/aiagent"
	"github.com/storyquest/storyquest-api/internal/pkg/idempotency"
	"github.com/storyquest/storyquest-api/internal/pkg/imaging"
	"github.com/storyquest/storyquest-api/internal/pkg/jwt"
	pkgresponse "github.com/storyquest/storyquest-api/internal/pkg/response"
	"github.com/storyquest/storyquest-api/internal/pkg/storage"
	"github.com/storyquest/storyquest-api/internal/store/memory"
)

// repositories is the storage backend the services run on.
type repositories struct {
	users        user.Repository
	credits      credit.Repository
	scores       scoring.Repository
	achievements achievement.Repository
	submissions  submission.Repository
	media        media.Repository
}

func postgresRepositories(db *sqlx.DB) repositories {
	ledger := credit.NewRepository(db)
	return repositories{
		users:        user.NewRepository(db),
		credits:      ledger,
		scores:       scoring.NewRepository(db),
		achievements: achievement.NewRepository(db, ledger),
		submissions:  submission.NewRepository(db),
		media:        media.NewRepository(db, ledger),
	}
}

func memoryRepositories(st *memory.Store) repositories {
	return repositories{
		users:        st.Users(),
		credits:      st.Credits(),
		scores:       st.Scores(),
		achievements: st.Achievements(),
		submissions:  st.Submissions(),
		media:        st.Media(),
	}
}

// application is the wired HTTP surface plus the orchestrator shutdown waits on.
type application struct {
	router http.Handler
	orch   *media.Orchestrator
}

func mediaConfig(cfg *config.Config) media.Config {
	return media.Config{
		Costs: map[media.OperationKind]int{
			media.OperationImage: cfg.ImageCost,
			media.OperationVideo: cfg.VideoCost,
		},
		Timeouts: map[media.OperationKind]time.Duration{
			media.OperationImage: cfg.ImageTimeout,
			media.OperationVideo: cfg.VideoTimeout,
		},
	}
}

func newApplication(cfg *config.Config, repos repositories, agent *aiagent.Client, objects storage.Storage, idem idempotency.Store) *application {
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Services ----------
	creditService := credit.NewService(repos.credits)
	aggregator := scoring.NewAggregator(repos.scores, scoring.Config{
		QualifyingThreshold: cfg.QualifyingThreshold,
		LevelSize:           cfg.LevelSize,
	})
	rewards := achievement.NewEngine(repos.achievements, achievement.DefaultConfig())
	workflow := submission.NewWorkflow(repos.submissions, aggregator, rewards, agent, agent)

	orch := media.NewOrchestrator(repos.media, mediaConfig(cfg))
	publisher := media.NewPublisher(objects, imaging.NewProcessor(imaging.DefaultConfig()))
	mediaService := media.NewService(orch, repos.submissions, agent, publisher)

	// ---------- Handlers ----------
	creditHandler := credit.NewHandler(creditService)
	scoringHandler := scoring.NewHandler(aggregator)
	achievementHandler := achievement.NewHandler(rewards)
	submissionHandler := submission.NewHandler(workflow)
	mediaHandler := media.NewHandler(mediaService, idem)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	if cfg.StorageDriver != "r2" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.LocalStoragePath))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/credits", creditHandler.Routes(authMiddleware))
		r.Mount("/submissions", submissionHandler.Routes(authMiddleware))
		r.Mount("/media", mediaHandler.Routes(authMiddleware))
		r.Mount("/achievements", achievementHandler.Routes(authMiddleware))
		r.Mount("/scores", scoringHandler.Routes(authMiddleware))
		r.With(authMiddleware).Get("/progress", scoringHandler.Progress)

		r.Route("/admin", func(r chi.Router) {
			r.Mount("/credits", creditHandler.AdminRoutes(authMiddleware))
			r.Mount("/scores", scoringHandler.AdminRoutes(authMiddleware))
		})
	})

	return &application{router: r, orch: orch}
}
