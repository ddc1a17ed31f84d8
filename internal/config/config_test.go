package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvPort, "")
	t.Setenv(EnvRecommender, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort || cfg.LogFormat() != "json" || cfg.Recommender() != RecommenderOff {
		t.Errorf("defaults = port %d, format %s, recommender %s", cfg.Port(), cfg.LogFormat(), cfg.Recommender())
	}
	if cfg.MaxAttempts() != 3 || cfg.RetryDelay() != 60*time.Second || cfg.PollInterval() != 5*time.Second {
		t.Errorf("runner defaults = %d, %v, %v", cfg.MaxAttempts(), cfg.RetryDelay(), cfg.PollInterval())
	}
	if cfg.MaxPeopleInKitchen() != 10 || cfg.FrameConcurrency() != 4 {
		t.Errorf("analyzer defaults = %d, %d", cfg.MaxPeopleInKitchen(), cfg.FrameConcurrency())
	}
	if cfg.CoachingRetention() != 168*time.Hour || cfg.RetentionSchedule() != "@hourly" {
		t.Errorf("retention defaults = %v, %s", cfg.CoachingRetention(), cfg.RetentionSchedule())
	}
	if cfg.RekognitionEnabled() || cfg.VisionURL() != "" || cfg.DatabaseURL() != "" {
		t.Error("providers should be off by default")
	}
	if !strings.HasSuffix(cfg.DBPath(), DBFilename) {
		t.Errorf("DBPath = %s", cfg.DBPath())
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvLogFormat, "TEXT")
	t.Setenv(EnvDataDir, "/tmp/inspect")
	t.Setenv(EnvRekognition, "true")
	t.Setenv(EnvVisionURL, "http://127.0.0.1:9100")
	t.Setenv(EnvRecommender, "bedrock")
	t.Setenv(EnvMaxPeople, "6")
	t.Setenv(EnvRetryDelay, "30s")
	t.Setenv(EnvCoachingRetention, "48h")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 || cfg.LogFormat() != "text" || cfg.DBPath() != filepath.Join("/tmp/inspect", DBFilename) {
		t.Errorf("cfg = %d %s %s", cfg.Port(), cfg.LogFormat(), cfg.DBPath())
	}
	if !cfg.RekognitionEnabled() || cfg.VisionURL() != "http://127.0.0.1:9100" || cfg.Recommender() != RecommenderBedrock {
		t.Errorf("providers = %v %s %s", cfg.RekognitionEnabled(), cfg.VisionURL(), cfg.Recommender())
	}
	if cfg.MaxPeopleInKitchen() != 6 || cfg.RetryDelay() != 30*time.Second || cfg.CoachingRetention() != 48*time.Hour {
		t.Errorf("tuning = %d %v %v", cfg.MaxPeopleInKitchen(), cfg.RetryDelay(), cfg.CoachingRetention())
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name, env, value, want string
	}{
		{"port not a number", EnvPort, "abc", EnvPort},
		{"port out of range", EnvPort, "70000", EnvPort},
		{"bad bool", EnvRekognition, "maybe", EnvRekognition},
		{"bad duration", EnvRetryDelay, "soon", EnvRetryDelay},
		{"bad recommender", EnvRecommender, "gemini", EnvRecommender},
		{"openai without key", EnvRecommender, "openai", EnvOpenAIKey},
		{"zero concurrency", EnvFrameConcurrency, "0", EnvFrameConcurrency},
		{"bad format", EnvLogFormat, "xml", EnvLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvOpenAIKey, "")
			t.Setenv(tt.env, tt.value)
			_, err := New()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestNew_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inspect.yaml")
	yamlDoc := `
analyzer:
  max_people_in_kitchen: 14
  frame_concurrency: 8
runner:
  max_attempts: 5
  retry_delay: 2m
retention:
  coaching: 24h
  schedule: "0 3 * * *"
providers:
  rekognition: true
  recommender: openai
  openai_model: gpt-4o
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvOpenAIKey, "sk-test")
	// Environment wins over the file.
	t.Setenv(EnvMaxAttempts, "2")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxPeopleInKitchen() != 14 || cfg.FrameConcurrency() != 8 {
		t.Errorf("analyzer = %d, %d", cfg.MaxPeopleInKitchen(), cfg.FrameConcurrency())
	}
	if cfg.MaxAttempts() != 2 || cfg.RetryDelay() != 2*time.Minute {
		t.Errorf("runner = %d, %v", cfg.MaxAttempts(), cfg.RetryDelay())
	}
	if cfg.CoachingRetention() != 24*time.Hour || cfg.RetentionSchedule() != "0 3 * * *" {
		t.Errorf("retention = %v, %s", cfg.CoachingRetention(), cfg.RetentionSchedule())
	}
	if !cfg.RekognitionEnabled() || cfg.Recommender() != RecommenderOpenAI || cfg.OpenAIModel() != "gpt-4o" {
		t.Errorf("providers = %v, %s, %s", cfg.RekognitionEnabled(), cfg.Recommender(), cfg.OpenAIModel())
	}
}

func TestNew_FileErrors(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := New(); err == nil {
		t.Error("expected error for missing config file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("runner:\n  retry_delay: later\n"), 0o600)
	t.Setenv(EnvConfigFile, bad)
	if _, err := New(); err == nil || !strings.Contains(err.Error(), "runner.retry_delay") {
		t.Errorf("error = %v", err)
	}
}
