package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fipe-pipeline/internal/pipeline"
	queuepg "fipe-pipeline/internal/queue/infrastructure/postgres"
)

// Seeds the stage queues with synthetic tasks so the pipeline can be
// load-tested without hitting the upstream catalog.

type config struct {
	dsn               string
	manufacturerQueue string
	modelQueue        string
	manufacturers     int
	modelsPerBrand    int
	referenceTable    int
	referenceMonth    string
	vehicleType       int
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.manufacturers <= 0 {
		log.Fatal("manufacturers must be > 0")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := queuepg.NewStore(db)
	ctx := context.Background()

	manufacturerBodies := make([][]byte, 0, cfg.manufacturers)
	for i := 1; i <= cfg.manufacturers; i++ {
		task := pipeline.ManufacturerTask{
			ReferenceTableCode:  cfg.referenceTable,
			ReferenceMonthLabel: cfg.referenceMonth,
			ManufacturerCode:    fmt.Sprintf("9%03d", i),
			ManufacturerName:    fmt.Sprintf("Perf Brand %03d", i),
			VehicleTypeCode:     cfg.vehicleType,
		}
		body, err := json.Marshal(task)
		if err != nil {
			log.Fatalf("marshal manufacturer task: %v", err)
		}
		manufacturerBodies = append(manufacturerBodies, body)
	}
	if err := sendAll(ctx, store, cfg.manufacturerQueue, manufacturerBodies); err != nil {
		log.Fatalf("seed manufacturer queue: %v", err)
	}
	log.Printf("seeded %d manufacturer tasks into %s", len(manufacturerBodies), cfg.manufacturerQueue)

	if cfg.modelsPerBrand > 0 {
		modelBodies := make([][]byte, 0, cfg.manufacturers*cfg.modelsPerBrand)
		for i := 1; i <= cfg.manufacturers; i++ {
			for j := 1; j <= cfg.modelsPerBrand; j++ {
				task := pipeline.ModelTask{
					Manufacturer:        fmt.Sprintf("Perf Brand %03d", i),
					ManufacturerCode:    fmt.Sprintf("9%03d", i),
					Model:               fmt.Sprintf("Perf Model %03d-%03d", i, j),
					ModelCode:           fmt.Sprintf("8%03d%03d", i, j),
					VehicleTypeCode:     cfg.vehicleType,
					ReferenceMonthLabel: cfg.referenceMonth,
					ReferenceTableCode:  cfg.referenceTable,
				}
				body, err := json.Marshal(task)
				if err != nil {
					log.Fatalf("marshal model task: %v", err)
				}
				modelBodies = append(modelBodies, body)
			}
		}
		if err := sendAll(ctx, store, cfg.modelQueue, modelBodies); err != nil {
			log.Fatalf("seed model queue: %v", err)
		}
		log.Printf("seeded %d model tasks into %s", len(modelBodies), cfg.modelQueue)
	}

	log.Printf("perf seed completed")
}

func sendAll(ctx context.Context, store *queuepg.Store, queue string, bodies [][]byte) error {
	for offset := 0; offset < len(bodies); offset += 10 {
		end := offset + 10
		if end > len(bodies) {
			end = len(bodies)
		}
		failed, err := store.Send(ctx, queue, bodies[offset:end])
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d items failed to enqueue", len(failed))
		}
	}
	return nil
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.manufacturerQueue, "manufacturer-queue", envOrDefault("MANUFACTURER_QUEUE", "fipe_manufacturer_tasks"), "manufacturer task queue")
	flag.StringVar(&cfg.modelQueue, "model-queue", envOrDefault("MODEL_QUEUE", "fipe_model_tasks"), "model task queue")
	flag.IntVar(&cfg.manufacturers, "manufacturers", envOrInt("MANUFACTURERS", 10), "number of synthetic brands")
	flag.IntVar(&cfg.modelsPerBrand, "models-per-brand", envOrInt("MODELS_PER_BRAND", 0), "synthetic models per brand, zero skips the model queue")
	flag.IntVar(&cfg.referenceTable, "reference-table", envOrInt("REFERENCE_TABLE", 320), "reference table code")
	flag.StringVar(&cfg.referenceMonth, "reference-month", envOrDefault("REFERENCE_MONTH", "março/2026"), "reference month label")
	flag.IntVar(&cfg.vehicleType, "vehicle-type", envOrInt("VEHICLE_TYPE", 1), "vehicle type code")
	flag.Parse()
	return cfg
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
