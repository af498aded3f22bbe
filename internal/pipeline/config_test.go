package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PIPELINE_CONFIG", "")
	t.Setenv("MANUFACTURER_QUEUE", "")
	t.Setenv("MODEL_QUEUE", "")
	t.Setenv("PRICED_ROW_QUEUE", "")
	t.Setenv("DEV_BRAND_CAP", "")
	t.Setenv("LISTER_INTERVAL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ManufacturerQueue != "fipe_manufacturer_tasks" {
		t.Fatalf("unexpected manufacturer queue %q", cfg.ManufacturerQueue)
	}
	if cfg.CatalogPause() != time.Second {
		t.Fatalf("unexpected catalog pause %v", cfg.CatalogPause())
	}
	if cfg.Retry().Attempts != 2 || cfg.Retry().BaseDelay != 5*time.Second {
		t.Fatalf("unexpected retry policy %+v", cfg.Retry())
	}
	every, err := cfg.ListerEvery()
	if err != nil || every != 24*time.Hour {
		t.Fatalf("unexpected lister interval %v (%v)", every, err)
	}
}

func TestLoadConfigYAMLOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	content := []byte("catalog_pause_ms: 250\nbatch_size: 5\nworkers: 4\ndev_brand_cap: 2\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PIPELINE_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.CatalogPause() != 250*time.Millisecond {
		t.Fatalf("yaml override ignored: %v", cfg.CatalogPause())
	}
	if cfg.BatchSize != 5 || cfg.Workers != 4 || cfg.DevBrandCap != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigYAMLWinsOverEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte("manufacturer_queue: from_yaml\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PIPELINE_CONFIG", path)
	t.Setenv("MANUFACTURER_QUEUE", "from_env")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ManufacturerQueue != "from_yaml" {
		t.Fatalf("expected file value to win, got %q", cfg.ManufacturerQueue)
	}
}

func TestLoadConfigRejectsBadBatchSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte("batch_size: 11\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PIPELINE_CONFIG", path)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for batch size over the queue maximum")
	}
}
