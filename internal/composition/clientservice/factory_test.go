package clientservice

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"velgo-hub/client-core/internal/config"
	"velgo-hub/client-core/internal/contracts"
)

var _ contracts.ClientService = (*Service)(nil)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Backend.URL = "https://edo.example.com"
	cfg.Backend.AnonKey = "anon-key"
	cfg.Backend.RealtimeURL = "wss://edo.example.com/realtime/v1"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(strings.Builder), nil))
}

func TestBuildRequiresBackendURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.URL = ""
	if _, err := Build(cfg, quietLogger()); err == nil {
		t.Fatal("build succeeded without a backend URL")
	}
}

func TestBuildWiresTheFullGraph(t *testing.T) {
	t.Setenv("VELGO_ENV", "test")
	cfg := testConfig(t)

	svc, err := Build(cfg, quietLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if svc.MetricsRegistry() == nil {
		t.Fatal("metrics registry not wired")
	}
	status, err := svc.CacheStatus()
	if err != nil {
		t.Fatalf("cache status: %v", err)
	}
	if status.Static.Name != cfg.Cache.StaticPartition || status.Dynamic.Name != cfg.Cache.DynamicPartition {
		t.Fatalf("cache partitions = %+v", status)
	}

	// The view starts on the landing screen while the probe runs.
	state := svc.UIState()
	if state.View != "landing" || !state.Loading {
		t.Fatalf("initial state = %+v", state)
	}

	if _, err := os.Stat(filepath.Join(cfg.DataDir, "cache")); err != nil {
		t.Fatalf("cache dir not created: %v", err)
	}
}

func TestServiceStartStop(t *testing.T) {
	t.Setenv("VELGO_ENV", "test")
	cfg := testConfig(t)

	svc, err := Build(cfg, quietLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Probe fails against the unreachable backend but must settle quietly.
	deadline := time.Now().Add(5 * time.Second)
	for svc.UIState().Loading {
		if time.Now().After(deadline) {
			t.Fatal("probe never settled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
