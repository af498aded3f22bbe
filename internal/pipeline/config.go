package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the pipeline-wide tuning knobs. Values start from
// defaults with environment fallbacks; an optional YAML file
// (PIPELINE_CONFIG) is applied last and wins over both.
type Config struct {
	ManufacturerQueue string `yaml:"manufacturer_queue"`
	ModelQueue        string `yaml:"model_queue"`
	PricedRowQueue    string `yaml:"priced_row_queue"`

	CatalogPauseMS int `yaml:"catalog_pause_ms"`
	SendPauseMS    int `yaml:"send_pause_ms"`

	RetryAttempts    int `yaml:"retry_attempts"`
	RetryBaseDelayMS int `yaml:"retry_base_delay_ms"`

	BatchSize     int `yaml:"batch_size"`
	BatchWindowMS int `yaml:"batch_window_ms"`
	Workers       int `yaml:"workers"`

	// DevBrandCap truncates the brand list per vehicle type to bound
	// fan-out in development; zero disables the cap.
	DevBrandCap int `yaml:"dev_brand_cap"`

	ListerInterval string `yaml:"lister_interval"`
}

// LoadConfig resolves the pipeline configuration.
func LoadConfig() (Config, error) {
	cfg := Config{
		ManufacturerQueue: getenvDefault("MANUFACTURER_QUEUE", "fipe_manufacturer_tasks"),
		ModelQueue:        getenvDefault("MODEL_QUEUE", "fipe_model_tasks"),
		PricedRowQueue:    getenvDefault("PRICED_ROW_QUEUE", "fipe_priced_row_tasks"),
		CatalogPauseMS:    1000,
		SendPauseMS:       500,
		RetryAttempts:     2,
		RetryBaseDelayMS:  5000,
		BatchSize:         10,
		BatchWindowMS:     2000,
		Workers:           2,
		DevBrandCap:       getenvIntDefault("DEV_BRAND_CAP", 0),
		ListerInterval:    getenvDefault("LISTER_INTERVAL", "24h"),
	}

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.ManufacturerQueue == "" || cfg.ModelQueue == "" || cfg.PricedRowQueue == "" {
		return cfg, errors.New("pipeline: queue names required")
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > 10 {
		return cfg, fmt.Errorf("pipeline: batch size out of range: %d", cfg.BatchSize)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return cfg, nil
}

// CatalogPause is the fixed inter-request delay before catalog calls.
func (c Config) CatalogPause() time.Duration {
	return time.Duration(c.CatalogPauseMS) * time.Millisecond
}

// SendPause is the pacing delay between flushed outgoing chunks.
func (c Config) SendPause() time.Duration {
	return time.Duration(c.SendPauseMS) * time.Millisecond
}

// RetryBaseDelay is the initial backoff before the second upstream attempt.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// BatchWindow is how long the runner waits to fill a batch.
func (c Config) BatchWindow() time.Duration {
	return time.Duration(c.BatchWindowMS) * time.Millisecond
}

// Retry builds the stage retry policy from the configured knobs.
func (c Config) Retry() RetryPolicy {
	return RetryPolicy{Attempts: c.RetryAttempts, BaseDelay: c.RetryBaseDelay()}
}

// ListerEvery parses the lister schedule interval; zero disables it.
func (c Config) ListerEvery() (time.Duration, error) {
	if c.ListerInterval == "" || c.ListerInterval == "0" {
		return 0, nil
	}
	return time.ParseDuration(c.ListerInterval)
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
