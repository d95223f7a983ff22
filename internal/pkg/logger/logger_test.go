package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitJSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Environment: "production", Service: "storyquest-api", Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log.Info().Int("amount", 100).Msg("credits reserved")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "storyquest-api" || entry["message"] != "credits reserved" || entry["amount"] != float64(100) {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Environment: "production", Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	l := zerolog.New(nil).With().Str("request_id", "abc").Logger()
	ctx := WithContext(context.Background(), &l)

	if FromContext(ctx) != &l {
		t.Fatal("expected logger from context")
	}
	if FromContext(context.Background()) != &log.Logger {
		t.Fatal("expected global logger fallback")
	}
}
