package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("BACKEND_BASE_URL", "")
	os.Setenv("TTS_BACKEND", "")
	os.Setenv("SILENCE_WINDOW_MS", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.BackendBaseURL == "" {
		t.Fatalf("expected default backend base url")
	}
	if cfg.ICEServersJSON == "" {
		t.Fatalf("expected default ice servers json")
	}
	if cfg.TTSBackend != "gateway" {
		t.Fatalf("expected gateway tts backend default, got %q", cfg.TTSBackend)
	}
	if cfg.SilenceWindowMs != 2000 {
		t.Fatalf("expected 2000ms silence window default, got %d", cfg.SilenceWindowMs)
	}
	if cfg.QuestionSeconds != 120 {
		t.Fatalf("expected 120s question duration default, got %d", cfg.QuestionSeconds)
	}
}

func TestEnvInt_RejectsGarbage(t *testing.T) {
	os.Setenv("SILENCE_WINDOW_MS", "nope")
	defer os.Unsetenv("SILENCE_WINDOW_MS")
	if got := envInt("SILENCE_WINDOW_MS", 2000); got != 2000 {
		t.Fatalf("expected fallback 2000, got %d", got)
	}
	os.Setenv("SILENCE_WINDOW_MS", "-5")
	if got := envInt("SILENCE_WINDOW_MS", 2000); got != 2000 {
		t.Fatalf("expected fallback on negative, got %d", got)
	}
}
