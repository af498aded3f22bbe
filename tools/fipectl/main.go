package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/urfave/cli/v2"

	"fipe-pipeline/internal/catalog"
	queuepg "fipe-pipeline/internal/queue/infrastructure/postgres"
	"fipe-pipeline/internal/report"
	reportpg "fipe-pipeline/internal/report/infrastructure/postgres"
)

func main() {
	app := &cli.App{
		Name:  "fipectl",
		Usage: "operate the vehicle price pipeline",
		Commands: []*cli.Command{
			runListerCommand(),
			exportCommand(),
			dlqCommand(),
			migrateCheckCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runListerCommand() *cli.Command {
	return &cli.Command{
		Name:  "run-lister",
		Usage: "trigger a lister run on a running service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "http://localhost:8080", Usage: "service base URL"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"FIPECTL_TOKEN"}, Usage: "ops bearer token"},
		},
		Action: func(c *cli.Context) error {
			req, err := http.NewRequestWithContext(c.Context, http.MethodPost, c.String("addr")+"/run/lister", nil)
			if err != nil {
				return err
			}
			if token := c.String("token"); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("run-lister: %s: %s", resp.Status, body)
			}
			fmt.Printf("lister started: %s\n", body)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "export the current price table to XLSX or PDF",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", EnvVars: []string{"DATABASE_URL", "PG_DSN"}, Required: true},
			&cli.StringFlag{Name: "fipe-url", EnvVars: []string{"FIPE_BASE_URL"}, Usage: "catalog base URL, used to resolve the reference table"},
			&cli.IntFlag{Name: "reference-table", Usage: "reference table code, skips catalog lookup"},
			&cli.StringFlag{Name: "format", Value: "xlsx", Usage: "xlsx or pdf"},
			&cli.StringFlag{Name: "out", Value: "", Usage: "output file, defaults to prices.<format>"},
			&cli.IntFlag{Name: "limit", Value: 0, Usage: "row limit, zero for all"},
		},
		Action: func(c *cli.Context) error {
			db, err := sql.Open("pgx", c.String("dsn"))
			if err != nil {
				return err
			}
			defer db.Close()

			table := catalog.ReferenceTable{Code: c.Int("reference-table")}
			if table.Code == 0 {
				if c.String("fipe-url") == "" {
					return fmt.Errorf("export: --reference-table or --fipe-url required")
				}
				client, err := catalog.NewClient(c.String("fipe-url"))
				if err != nil {
					return err
				}
				table, err = client.CurrentReferenceTable(c.Context, catalog.Period{})
				if err != nil {
					return err
				}
			}

			reader, err := reportpg.NewReader(db)
			if err != nil {
				return err
			}
			rows, err := reader.ListPrices(c.Context, table.Code, c.Int("limit"))
			if err != nil {
				return err
			}
			summary := report.Summary{
				ReferenceMonth:     table.MonthLabel,
				ReferenceTableCode: table.Code,
				GeneratedAt:        time.Now().UTC(),
				RowCount:           len(rows),
			}

			format := c.String("format")
			var payload []byte
			switch format {
			case "pdf":
				payload, err = report.BuildPriceTablePDF(summary, rows)
			case "xlsx":
				payload, err = report.BuildPriceTableXLSX(summary, rows)
			default:
				return fmt.Errorf("export: unknown format %q", format)
			}
			if err != nil {
				return err
			}

			out := c.String("out")
			if out == "" {
				out = "prices." + format
			}
			if err := os.WriteFile(out, payload, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %d rows to %s\n", len(rows), out)
			return nil
		},
	}
}

func dlqCommand() *cli.Command {
	dsnFlag := &cli.StringFlag{Name: "dsn", EnvVars: []string{"DATABASE_URL", "PG_DSN"}, Required: true}
	queueFlag := &cli.StringFlag{Name: "queue", Required: true, Usage: "queue name"}
	limitFlag := &cli.IntFlag{Name: "limit", Value: 50}

	return &cli.Command{
		Name:  "dlq",
		Usage: "inspect and requeue dead-lettered messages",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list dead-lettered messages for a queue",
				Flags: []cli.Flag{dsnFlag, queueFlag, limitFlag},
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *queuepg.Store) error {
						letters, err := store.ListDeadLetters(ctx, c.String("queue"), c.Int("limit"))
						if err != nil {
							return err
						}
						for _, dl := range letters {
							fmt.Printf("%s attempts=%d last_seen=%s body=%s\n",
								dl.MessageID, dl.Attempts, dl.LastSeenAt.Format(time.RFC3339), dl.Body)
						}
						fmt.Printf("%d dead-lettered messages\n", len(letters))
						return nil
					})
				},
			},
			{
				Name:  "requeue",
				Usage: "move dead-lettered messages back onto their queue",
				Flags: []cli.Flag{dsnFlag, queueFlag, limitFlag},
				Action: func(c *cli.Context) error {
					return withStore(c, func(ctx context.Context, store *queuepg.Store) error {
						moved, err := store.RequeueDeadLetters(ctx, c.String("queue"), c.Int("limit"))
						if err != nil {
							return err
						}
						fmt.Printf("requeued %d messages\n", moved)
						return nil
					})
				},
			},
		},
	}
}

func migrateCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate-check",
		Usage: "verify the expected tables exist",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dsn", EnvVars: []string{"DATABASE_URL", "PG_DSN"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			db, err := sql.Open("pgx", c.String("dsn"))
			if err != nil {
				return err
			}
			defer db.Close()

			tables := []string{
				"queue_messages",
				"dead_letter_messages",
				"fipe_vehicle_manufacturer",
				"fipe_vehicle_model",
				"fipe_vehicle_model_value",
			}
			missing := 0
			for _, table := range tables {
				var exists bool
				err := db.QueryRowContext(c.Context,
					`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
				).Scan(&exists)
				if err != nil {
					return err
				}
				if exists {
					fmt.Printf("ok      %s\n", table)
				} else {
					fmt.Printf("missing %s\n", table)
					missing++
				}
			}
			if missing > 0 {
				return fmt.Errorf("migrate-check: %d tables missing", missing)
			}
			return nil
		},
	}
}

func withStore(c *cli.Context, fn func(ctx context.Context, store *queuepg.Store) error) error {
	db, err := sql.Open("pgx", c.String("dsn"))
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(c.Context, queuepg.NewStore(db))
}
