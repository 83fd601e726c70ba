package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/tracker/internal/aggregate"
	"github.com/marcus/tracker/internal/auth"
	"github.com/marcus/tracker/internal/serve"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server that exposes projects, issues, comments, labels,
attachments and reports over a JSON REST API under /v1.

Clients authenticate with a bearer token from POST /v1/auth/login. The
server stops gracefully on SIGINT or SIGTERM, letting in-flight requests
finish within the shutdown timeout.`,
	GroupID: "system",
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on (default localhost:8080)")
	serveCmd.Flags().String("cors", "", "Allowed CORS origin (optional, e.g. http://localhost:3000)")
	serveCmd.Flags().Int64("max-upload", 0, "Maximum attachment size in bytes")
	serveCmd.Flags().Duration("shutdown-in", 0, "Graceful shutdown timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	svc, err := newService(database)
	if err != nil {
		return err
	}

	srv := serve.NewServer(serve.Deps{
		DB:        database,
		Service:   svc,
		Aggregate: aggregate.New(database, nil),
		Auth:      auth.New(database, 0),
	}, serve.Config{
		Addr:            cfg.ListenAddr,
		CORSOrigin:      cfg.CORSOrigin,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "tracker serve listening on http://%s\n", cfg.ListenAddr)
	fmt.Fprintf(os.Stderr, "  database:   %s (%s)\n", cfg.DBPath, cfg.DBDriver)
	fmt.Fprintf(os.Stderr, "  blobs:      %s\n", cfg.BlobDir)

	started := time.Now()
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("server stopped", "uptime", time.Since(started).Round(time.Second).String())
	fmt.Fprintf(os.Stderr, "tracker serve stopped\n")
	return nil
}
