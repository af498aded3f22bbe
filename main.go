package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fipe-pipeline/internal/auth"
	"fipe-pipeline/internal/catalog"
	"fipe-pipeline/internal/collector"
	"fipe-pipeline/internal/expander"
	"fipe-pipeline/internal/ingest"
	ingestpg "fipe-pipeline/internal/ingest/infrastructure/postgres"
	"fipe-pipeline/internal/lister"
	"fipe-pipeline/internal/observability/metrics"
	"fipe-pipeline/internal/pipeline"
	"fipe-pipeline/internal/queue"
	queuepg "fipe-pipeline/internal/queue/infrastructure/postgres"
	"fipe-pipeline/internal/report"
	reportpg "fipe-pipeline/internal/report/infrastructure/postgres"
	"fipe-pipeline/internal/secrets"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogFile)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	pipeCfg, err := pipeline.LoadConfig()
	if err != nil {
		logger.Fatalf("pipeline config error: %v", err)
	}

	newCatalogClient := func() (*catalog.Client, error) {
		return catalog.NewClient(cfg.FipeBaseURL,
			catalog.WithPause(pipeCfg.CatalogPause()),
			catalog.WithLogger(logger),
		)
	}
	// Shared client for the ops surface; stage handlers build their own.
	client, err := newCatalogClient()
	if err != nil {
		logger.Fatalf("catalog client error: %v", err)
	}

	store := queuepg.NewStore(db,
		queuepg.WithVisibilityTimeout(cfg.VisibilityTimeout),
		queuepg.WithMaxReceive(cfg.QueueMaxReceive),
	)
	ingestStore, err := ingestpg.NewStore(db)
	if err != nil {
		logger.Fatalf("ingest store error: %v", err)
	}
	priceReader, err := reportpg.NewReader(db)
	if err != nil {
		logger.Fatalf("report reader error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	newSender := func(queueName string) *queue.BatchSender {
		return queue.NewBatchSender(store, queueName,
			queue.WithSendPause(pipeCfg.SendPause()),
			queue.WithSenderLogger(logger),
		)
	}

	stages := []queue.RunnerConfig{
		{
			Stage: "expander",
			Queue: pipeCfg.ManufacturerQueue,
			Factory: func() (pipeline.Handler, error) {
				c, err := newCatalogClient()
				if err != nil {
					return nil, err
				}
				return expander.NewHandler(c, newSender(pipeCfg.ModelQueue), pipeCfg.Retry(), logger)
			},
		},
		{
			Stage: "collector",
			Queue: pipeCfg.ModelQueue,
			Factory: func() (pipeline.Handler, error) {
				c, err := newCatalogClient()
				if err != nil {
					return nil, err
				}
				return collector.NewHandler(c, newSender(pipeCfg.PricedRowQueue), pipeCfg.Retry(), logger)
			},
		},
		{
			Stage: "ingestor",
			Queue: pipeCfg.PricedRowQueue,
			Factory: func() (pipeline.Handler, error) {
				return ingest.NewHandler(ingestStore, logger)
			},
		},
	}
	for _, stageCfg := range stages {
		stageCfg.Receiver = store
		stageCfg.BatchSize = pipeCfg.BatchSize
		stageCfg.Window = pipeCfg.BatchWindow()
		stageCfg.Workers = pipeCfg.Workers
		stageCfg.Logger = logger
		runner, err := queue.NewRunner(stageCfg)
		if err != nil {
			logger.Fatalf("%s runner error: %v", stageCfg.Stage, err)
		}
		go func(stage string) {
			if err := runner.Run(ctx); err != nil {
				logger.Printf("%s runner stopped: %v", stage, err)
			}
		}(stageCfg.Stage)
	}

	runLister := func(ctx context.Context) (lister.Result, error) {
		table, err := client.CurrentReferenceTable(ctx, catalog.Period{})
		if err != nil {
			return lister.Result{}, fmt.Errorf("resolve reference table: %w", err)
		}
		metrics.SetReferenceTableCode(table.Code)
		logger.Printf("lister: using reference table code=%d month=%s", table.Code, table.MonthLabel)
		l, err := lister.New(client, newSender(pipeCfg.ManufacturerQueue), table, pipeCfg.DevBrandCap, logger)
		if err != nil {
			return lister.Result{}, err
		}
		return l.Run(ctx)
	}

	if every, err := pipeCfg.ListerEvery(); err != nil {
		logger.Fatalf("lister interval error: %v", err)
	} else if every > 0 {
		go func() {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := runLister(ctx); err != nil {
						logger.Printf("lister run error: %v", err)
					}
				}
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/run/lister", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		go func() {
			if _, err := runLister(ctx); err != nil {
				logger.Printf("lister run error: %v", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("lister started"))
	})
	mux.HandleFunc("/exports/prices.xlsx", exportHandler(client, priceReader, cfg.ExportRowLimit, "xlsx", logger))
	mux.HandleFunc("/exports/prices.pdf", exportHandler(client, priceReader, cfg.ExportRowLimit, "pdf", logger))

	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), "/healthz", "/metrics")
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("http server error: %v", err)
	}
}

func exportHandler(client *catalog.Client, reader *reportpg.Reader, limit int, format string, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		table, err := client.CurrentReferenceTable(r.Context(), catalog.Period{})
		if err != nil {
			logger.Printf("export: resolve reference table: %v", err)
			http.Error(w, "reference table unavailable", http.StatusBadGateway)
			return
		}
		rows, err := reader.ListPrices(r.Context(), table.Code, limit)
		if err != nil {
			logger.Printf("export: list prices: %v", err)
			http.Error(w, "price query failed", http.StatusInternalServerError)
			return
		}
		summary := report.Summary{
			ReferenceMonth:     table.MonthLabel,
			ReferenceTableCode: table.Code,
			GeneratedAt:        time.Now().UTC(),
			RowCount:           len(rows),
		}

		var payload []byte
		var contentType string
		switch format {
		case "pdf":
			payload, err = report.BuildPriceTablePDF(summary, rows)
			contentType = "application/pdf"
		default:
			payload, err = report.BuildPriceTableXLSX(summary, rows)
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}
		if err != nil {
			logger.Printf("export: build %s: %v", format, err)
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", "attachment; filename=prices."+format)
		_, _ = w.Write(payload)
	}
}

type config struct {
	DatabaseURL       string
	FipeBaseURL       string
	HTTPAddr          string
	JWTSecret         string
	LogFile           string
	VisibilityTimeout time.Duration
	QueueMaxReceive   int
	ExportRowLimit    int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		FipeBaseURL:       getenvDefault("FIPE_BASE_URL", ""),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		LogFile:           getenvDefault("LOG_FILE", ""),
		VisibilityTimeout: getenvDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
		QueueMaxReceive:   getenvIntDefault("QUEUE_MAX_RECEIVE", 5),
		ExportRowLimit:    getenvIntDefault("EXPORT_ROW_LIMIT", 0),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = buildDatabaseURL()
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL, PG_DSN or PG_HOST is required")
	}
	if cfg.FipeBaseURL == "" {
		log.Fatal("FIPE_BASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

// buildDatabaseURL assembles a DSN from PG_* variables with the password
// resolved through a secret reference, for deployments that do not inject
// a full DSN.
func buildDatabaseURL() string {
	host := os.Getenv("PG_HOST")
	if host == "" {
		return ""
	}
	password, err := secrets.Resolve(context.Background(), getenvDefault("PG_PASSWORD_REF", "PG_PASSWORD"))
	if err != nil {
		log.Fatalf("db password error: %v", err)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(getenvDefault("PG_USER", "postgres")),
		url.QueryEscape(password),
		host,
		getenvDefault("PG_PORT", "5432"),
		getenvDefault("PG_DATABASE", "fipe"),
	)
}

func newLogger(logFile string) *log.Logger {
	if logFile == "" {
		return log.New(os.Stdout, "", log.LstdFlags)
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    getenvIntDefault("LOG_MAX_SIZE_MB", 100),
		MaxBackups: getenvIntDefault("LOG_MAX_BACKUPS", 5),
		MaxAge:     getenvIntDefault("LOG_MAX_AGE_DAYS", 30),
		Compress:   true,
	}
	return log.New(io.MultiWriter(os.Stdout, rotator), "", log.LstdFlags)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
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

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
