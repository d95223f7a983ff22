package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storyquest/storyquest-api/internal/config"
	"github.com/storyquest/storyquest-api/internal/domain/media"
	"github.com/storyquest/storyquest-api/internal/domain/user"
	"github.com/storyquest/storyquest-api/internal/pkg/aiagent"
	"github.com/storyquest/storyquest-api/internal/pkg/idempotency"
	"github.com/storyquest/storyquest-api/internal/pkg/jwt"
	"github.com/storyquest/storyquest-api/internal/pkg/storage"
	"github.com/storyquest/storyquest-api/internal/store/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:                 "test",
		StoreDriver:         "memory",
		JWTSecret:           "router-test-secret",
		JWTAccessTTL:        time.Hour,
		QualifyingThreshold: 51,
		LevelSize:           300,
		ImageCost:           100,
		VideoCost:           500,
		ImageTimeout:        time.Second,
		VideoTimeout:        2 * time.Second,
		StorageDriver:       "local",
		LocalStoragePath:    t.TempDir(),
		LocalStorageURL:     "http://localhost:8080/uploads",
	}
}

func TestApplicationRoutes(t *testing.T) {
	cfg := testConfig(t)
	st := memory.New()
	repos := memoryRepositories(st)

	acc := &user.Account{Email: "router@test.com", Credits: 120}
	if err := repos.users.Create(context.Background(), acc); err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL).GenerateAccessToken(acc.ID, "student")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	objects, err := newObjectStorage(cfg)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	agent := aiagent.NewClient("http://127.0.0.1:1", "", time.Second, "test")
	app := newApplication(cfg, repos, agent, objects, idempotency.NewMemoryStore(time.Minute))

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"balance requires auth", http.MethodGet, "/api/v1/credits/balance", "", http.StatusUnauthorized},
		{"balance", http.MethodGet, "/api/v1/credits/balance", token, http.StatusOK},
		{"progress", http.MethodGet, "/api/v1/progress", token, http.StatusOK},
		{"achievements", http.MethodGet, "/api/v1/achievements/", token, http.StatusOK},
		{"media list", http.MethodGet, "/api/v1/media/", token, http.StatusOK},
		{"admin grant requires admin", http.MethodPost, "/api/v1/admin/credits/grant", token, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			app.router.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}

	if err := app.orch.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestMediaConfigFromEnv(t *testing.T) {
	cfg := testConfig(t)
	mc := mediaConfig(cfg)
	if mc.Costs[media.OperationImage] != 100 || mc.Costs[media.OperationVideo] != 500 {
		t.Fatalf("unexpected costs %+v", mc.Costs)
	}
	if mc.Timeouts[media.OperationVideo] != 2*time.Second {
		t.Fatalf("unexpected timeouts %+v", mc.Timeouts)
	}
}

func TestNewObjectStorage(t *testing.T) {
	cfg := testConfig(t)
	s, err := newObjectStorage(cfg)
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	if _, ok := s.(*storage.LocalStorage); !ok {
		t.Fatalf("expected local storage, got %T", s)
	}

	cfg.StorageDriver = "ftp"
	if _, err := newObjectStorage(cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
