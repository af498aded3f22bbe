package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Checks the warehouse for holes left by partial pipeline runs and writes
// the findings as CSV: models that never got a price fact for the month,
// facts with a zero value, and manufacturers with no models at all.

type config struct {
	dsn            string
	referenceTable int
	outDir         string
}

type finding struct {
	kind   string
	entity string
	detail string
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.referenceTable <= 0 {
		log.Fatal("reference-table must be > 0")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	var findings []finding

	modelsWithoutFacts, err := queryPairs(ctx, db, `
SELECT md.code, md.name
FROM fipe_vehicle_model md
WHERE NOT EXISTS (
	SELECT 1 FROM fipe_vehicle_model_value v
	WHERE v.model_id = md.id AND v.reference_month_code = $1
)
ORDER BY md.name`, cfg.referenceTable)
	if err != nil {
		log.Fatalf("models without facts: %v", err)
	}
	for _, pair := range modelsWithoutFacts {
		findings = append(findings, finding{kind: "model_without_facts", entity: pair[0], detail: pair[1]})
	}

	zeroValueFacts, err := queryPairs(ctx, db, `
SELECT v.fipe_code, v.name
FROM fipe_vehicle_model_value v
WHERE v.reference_month_code = $1 AND v.fipe_value = 0
ORDER BY v.name`, cfg.referenceTable)
	if err != nil {
		log.Fatalf("zero value facts: %v", err)
	}
	for _, pair := range zeroValueFacts {
		findings = append(findings, finding{kind: "zero_value_fact", entity: pair[0], detail: pair[1]})
	}

	emptyManufacturers, err := queryPairs(ctx, db, `
SELECT mf.code, mf.name
FROM fipe_vehicle_manufacturer mf
WHERE NOT EXISTS (
	SELECT 1 FROM fipe_vehicle_model md WHERE md.manufacturer_id = mf.id
)
ORDER BY mf.name`, nil)
	if err != nil {
		log.Fatalf("empty manufacturers: %v", err)
	}
	for _, pair := range emptyManufacturers {
		findings = append(findings, finding{kind: "manufacturer_without_models", entity: pair[0], detail: pair[1]})
	}

	outPath := filepath.Join(cfg.outDir, fmt.Sprintf("reconcile-%d.csv", cfg.referenceTable))
	if err := writeFindings(outPath, findings); err != nil {
		log.Fatalf("write findings: %v", err)
	}
	log.Printf("reconcile completed: %d findings written to %s", len(findings), outPath)
}

func queryPairs(ctx context.Context, db *sql.DB, query string, arg any) ([][2]string, error) {
	var rows *sql.Rows
	var err error
	if arg != nil {
		rows, err = db.QueryContext(ctx, query, arg)
	} else {
		rows, err = db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var pair [2]string
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

func writeFindings(path string, findings []finding) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"kind", "code", "name"}); err != nil {
		return err
	}
	for _, f := range findings {
		if err := writer.Write([]string{f.kind, f.entity, f.detail}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.IntVar(&cfg.referenceTable, "reference-table", envOrInt("REFERENCE_TABLE", 0), "reference table code to check")
	flag.StringVar(&cfg.outDir, "out-dir", envOrDefault("OUT_DIR", "."), "output directory")
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
