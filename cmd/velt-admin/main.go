// Package main implements the velt-admin binary, the operator tool for
// a velt store: integrity checks, statistics, maintenance, and schema
// migrations.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/veltworks/velt/internal/app"
	"github.com/veltworks/velt/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile     string
		dataDir        string
		check          bool
		stats          bool
		optimize       bool
		migrateVersion string
		rollbackVer    string
		listMigrations bool
		slowQueries    int
		showVersion    bool
		showHelp       bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.BoolVar(&check, "check", false, "Verify store integrity (repairs on corruption)")
	flag.BoolVar(&stats, "stats", false, "Print store statistics as JSON")
	flag.BoolVar(&optimize, "optimize", false, "Run ANALYZE and VACUUM")
	flag.StringVar(&migrateVersion, "migrate", "", "Apply the migration with this version")
	flag.StringVar(&rollbackVer, "rollback", "", "Roll back the migration with this version")
	flag.BoolVar(&listMigrations, "list-migrations", false, "List registered migrations and applied state")
	flag.IntVar(&slowQueries, "slow-queries", 0, "Print the N slowest recorded queries")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "velt-admin - Operator tool for the velt persistence layer\n\n")
		fmt.Fprintf(os.Stderr, "Usage: velt-admin [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  velt-admin --data-dir /data/velt --check\n")
		fmt.Fprintf(os.Stderr, "  velt-admin --config /etc/velt/config.yaml --stats\n")
		fmt.Fprintf(os.Stderr, "  velt-admin --migrate v2\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  VELT_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  VELT_DATA_VOLUME     Preferred mount for the store file\n")
		fmt.Fprintf(os.Stderr, "  VELT_DATABASE_PATH   Explicit store file path\n")
		fmt.Fprintf(os.Stderr, "  VELT_ARCHIVE_TYPE    Quarantine archive type (none, local, s3)\n")
		fmt.Fprintf(os.Stderr, "  VELT_ENCRYPTION_KEY  Optional 32-byte column encryption key\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("velt-admin version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer application.Stop()

	switch {
	case check:
		// Start already ran the integrity pass; re-verify to report state.
		if err := application.Guardian().Verify(ctx); err != nil {
			log.Fatalf("Integrity check failed after repair: %v", err)
		}
		fmt.Println("integrity: ok")
	case stats:
		s, err := application.Executor().Stats(ctx)
		if err != nil {
			log.Fatalf("Failed to collect statistics: %v", err)
		}
		printJSON(s)
	case optimize:
		res, err := application.Executor().Optimize(ctx)
		if err != nil {
			log.Fatalf("Optimize failed: %v", err)
		}
		printJSON(res)
	case migrateVersion != "":
		if err := application.Migrations().Apply(ctx, migrateVersion); err != nil {
			log.Fatalf("Migration %s failed: %v", migrateVersion, err)
		}
		fmt.Printf("applied: %s\n", migrateVersion)
	case rollbackVer != "":
		if err := application.Migrations().Rollback(ctx, rollbackVer); err != nil {
			log.Fatalf("Rollback %s failed: %v", rollbackVer, err)
		}
		fmt.Printf("rolled back: %s\n", rollbackVer)
	case listMigrations:
		if err := printMigrations(ctx, application); err != nil {
			log.Fatalf("Failed to list migrations: %v", err)
		}
	case slowQueries > 0:
		if application.Recorder() == nil {
			log.Fatalf("Telemetry is disabled")
		}
		rows, err := application.Recorder().SlowQueries(ctx, slowQueries)
		if err != nil {
			log.Fatalf("Failed to read slow queries: %v", err)
		}
		printJSON(rows)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func loadConfig(configFile, dataDir string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func printMigrations(ctx context.Context, application *app.App) error {
	list, err := application.Migrations().List(ctx)
	if err != nil {
		return err
	}
	applied, err := application.Migrations().Applied(ctx)
	if err != nil {
		return err
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, a := range applied {
		appliedSet[a.Version] = true
	}

	for _, m := range list {
		state := "pending"
		if appliedSet[m.Version] {
			state = "applied"
		}
		fmt.Printf("%-12s %-8s %s\n", m.Version, state, m.Description)
	}
	if len(list) == 0 {
		fmt.Println("no migrations registered")
	}
	return nil
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}
