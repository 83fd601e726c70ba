package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/tracker/internal/blob"
	"github.com/marcus/tracker/internal/config"
	"github.com/marcus/tracker/internal/db"
	"github.com/marcus/tracker/internal/logging"
	"github.com/marcus/tracker/internal/models"
	"github.com/marcus/tracker/internal/service"
)

var (
	version   = "dev"
	cfg       *config.Config
	logger    = slog.Default()
	logCloser io.Closer
)

// operator is the principal used by maintenance commands run from the
// server host.
var operator = models.Principal{ID: "system", Active: true, IsAdministrator: true}

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Project and issue tracking server",
	Long: `tracker - a multi-user project and issue tracker with a JSON REST API.

Run 'tracker migrate' once to create the database, then 'tracker serve'.
Settings come from flags, TRACKER_* environment variables and an optional
tracker.yaml in the working directory or ~/.config/tracker.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// flagKeys maps flag names to the config keys they override. Commands
// declare only the flags that apply to them.
var flagKeys = map[string]string{
	"db":          config.KeyDBPath,
	"db-driver":   config.KeyDBDriver,
	"blob-dir":    config.KeyBlobDir,
	"log-level":   config.KeyLogLevel,
	"log-file":    config.KeyLogFile,
	"addr":        config.KeyListenAddr,
	"cors":        config.KeyCORSOrigin,
	"max-upload":  config.KeyMaxUploadBytes,
	"shutdown-in": config.KeyShutdownTimeout,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "system", Title: "Server Commands:"},
		&cobra.Group{ID: "admin", Title: "Administration Commands:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.String("db", "", "Path to the SQLite database")
	pf.String("db-driver", "", "SQLite driver: sqlite (pure Go) or sqlite3 (cgo)")
	pf.String("blob-dir", "", "Directory for attachment files")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-file", "", "Write logs to this file with rotation instead of stderr")
}

func setup(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(); err != nil {
		return err
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := config.BindFlag(key, f); err != nil {
				return err
			}
		}
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}
	logger, logCloser, err = logging.Setup(cfg)
	if err != nil {
		return err
	}
	if path := config.ConfigFileUsed(); path != "" {
		logger.Debug("loaded config", "path", path)
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// openDB opens the configured database. It fails when the database has not
// been created with 'tracker migrate'.
func openDB() (*db.DB, error) {
	database, err := db.Open(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	return database, nil
}

// newService builds the mutation service over database with the configured
// blob store.
func newService(database *db.DB) (*service.Service, error) {
	blobs, err := blob.NewFS(cfg.BlobDir)
	if err != nil {
		return nil, err
	}
	return service.New(database, service.Options{Blobs: blobs, Logger: logger}), nil
}

// contextOrBackground returns the command context, which is nil when a
// command runs outside Execute.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
