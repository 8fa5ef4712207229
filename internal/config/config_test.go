package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr != ":5000" {
		t.Fatalf("expected default addr :5000, got %q", cfg.Addr)
	}
	if !cfg.SimulatorEnabled {
		t.Fatal("expected simulator enabled by default")
	}
	if cfg.SimulatorInterval != 10*time.Second {
		t.Fatalf("expected 10s simulator interval, got %v", cfg.SimulatorInterval)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("expected 30s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Fatalf("expected 3s reconnect delay, got %v", cfg.ReconnectDelay)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":8080")
	t.Setenv("SIMULATOR_ENABLED", "false")
	t.Setenv("SIMULATOR_INTERVAL_SECONDS", "30")

	cfg := Load()
	if cfg.Addr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Addr)
	}
	if cfg.SimulatorEnabled {
		t.Fatal("expected simulator disabled")
	}
	if cfg.SimulatorInterval != 30*time.Second {
		t.Fatalf("expected 30s interval, got %v", cfg.SimulatorInterval)
	}
}

func TestGetIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SIMULATOR_INTERVAL_SECONDS", "soon")
	if got := GetInt("SIMULATOR_INTERVAL_SECONDS", 10); got != 10 {
		t.Fatalf("expected fallback 10, got %d", got)
	}
}
