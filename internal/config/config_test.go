package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MEDIA_COST_IMAGE", "")
	t.Setenv("MEDIA_TIMEOUT_VIDEO", "not-a-duration")

	cfg := Load()
	if cfg.ImageCost != 100 || cfg.VideoCost != 500 {
		t.Fatalf("unexpected costs %d/%d", cfg.ImageCost, cfg.VideoCost)
	}
	if cfg.VideoTimeout != 6*time.Minute {
		t.Fatalf("expected 6m video timeout, got %s", cfg.VideoTimeout)
	}
	if cfg.QualifyingThreshold != 51 || cfg.LevelSize != 300 {
		t.Fatalf("unexpected scoring constants %d/%d", cfg.QualifyingThreshold, cfg.LevelSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEDGER_QUALIFYING_THRESHOLD", "60")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ALLOWED_ORIGINS", "https://a.test,,https://b.test")

	cfg := Load()
	if cfg.QualifyingThreshold != 60 || !cfg.UseMemoryStore() {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.test" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}
