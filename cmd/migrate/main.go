package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/repository/sqlite"
	"github.com/zpskt/keen/internal/service/storage"
)

var opts struct {
	configPath string
	storageDir string
	dbPath     string
}

var rootCmd = &cobra.Command{
	Use:   "keen-migrate",
	Short: "Index snapshot files that have no event row yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run()
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", os.Getenv("KEEN_CONFIG"), "YAML or JSON config file")
	f.StringVar(&opts.storageDir, "storage", "", "Override storage.root")
	f.StringVar(&opts.dbPath, "db", "", "Override storage.database")
}

func run() error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.storageDir != "" {
		cfg.Storage.Root = opts.storageDir
	}
	if opts.dbPath != "" {
		cfg.Storage.Database = opts.dbPath
	}
	cfg.Logging.Enabled = false
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	fmt.Printf("Migrating snapshots from %s to database %s\n", cfg.Storage.Root, cfg.Storage.Database)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Database), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}
	db, err := sqlite.New(cfg.Storage.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	events := sqlite.NewEventRepository(db)

	stats, err := storage.Migrate(cfg.Storage.Root, events, log)
	if err != nil {
		return err
	}

	fmt.Printf("✅ Inserted %d events, %d already indexed\n", stats.Inserted, stats.Existing)
	if stats.Skipped > 0 {
		fmt.Printf("⚠️  Skipped %d files (invalid name or errors)\n", stats.Skipped)
	}

	cameras, err := events.GetCameras()
	if err != nil {
		return nil
	}
	fmt.Printf("\n📊 Database Statistics:\n")
	for _, camera := range cameras {
		count, err := events.Count(&model.EventFilter{CameraID: camera})
		if err != nil {
			continue
		}
		fmt.Printf("   - %s: %d events\n", camera, count)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
