package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mark3labs/specforge/internal/generation"
	"github.com/mark3labs/specforge/internal/logging"
	"github.com/mark3labs/specforge/internal/pipeline"
	"github.com/mark3labs/specforge/internal/server"
	"github.com/mark3labs/specforge/internal/store"
)

type ServeConfig struct {
	Addr       string
	Model      string
	UploadTTL  time.Duration
	ArchiveTTL time.Duration
	MaxBytes   int64
	Verbose    bool
}

var serveRunner = runServe

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve document upload, generation and download over HTTP",
		Long: "Serve the HTTP adapter: POST /v1/specs, GET /v1/specs/{id}, POST /v1/specs/{id}/generate, " +
			"GET /v1/downloads/{id} and GET /healthz. Requires " + generation.EnvAPIKey + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			cfg := &ServeConfig{}
			var err error
			if cfg.Addr, err = flags.GetString("addr"); err != nil {
				return err
			}
			if cfg.Model, err = flags.GetString("model"); err != nil {
				return err
			}
			if cfg.UploadTTL, err = flags.GetDuration("upload-ttl"); err != nil {
				return err
			}
			if cfg.ArchiveTTL, err = flags.GetDuration("archive-ttl"); err != nil {
				return err
			}
			if cfg.MaxBytes, err = flags.GetInt64("max-store-bytes"); err != nil {
				return err
			}
			if cfg.Verbose, err = flags.GetBool("verbose"); err != nil {
				return err
			}
			cfg.Addr = strings.TrimSpace(cfg.Addr)
			if cfg.Addr == "" {
				return newUsageError("serve: --addr must not be empty")
			}
			if cfg.UploadTTL <= 0 || cfg.ArchiveTTL <= 0 {
				return newUsageError("serve: --upload-ttl and --archive-ttl must be positive")
			}
			return serveRunner(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("addr", ":8080", "Listen address")
	cmd.Flags().String("model", "", "Model name; overrides "+generation.EnvModel)
	cmd.Flags().Duration("upload-ttl", store.DefaultTTL, "How long uploaded documents are kept")
	cmd.Flags().Duration("archive-ttl", store.DefaultTTL, "How long generated archives are kept")
	cmd.Flags().Int64("max-store-bytes", store.DefaultMaxBytes, "Upper bound on stored bytes")

	return cmd
}

func runServe(ctx context.Context, cfg *ServeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logging.New(os.Stderr, cfg.Verbose)

	gcfg, err := generation.ConfigFromEnv()
	if err != nil {
		return err
	}
	if cfg.Model != "" {
		gcfg.Model = cfg.Model
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	blobs := store.New(store.Options{MaxBytes: cfg.MaxBytes, Logger: log})
	go blobs.Run(ctx, store.DefaultSweepPeriod)

	srv, err := server.New(server.Config{
		Store: blobs,
		NewGenerator: func(ctx context.Context) (pipeline.Generator, error) {
			client, err := generation.New(ctx, gcfg, generation.WithLogger(log))
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		UploadTTL:  cfg.UploadTTL,
		ArchiveTTL: cfg.ArchiveTTL,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
		return fmt.Errorf("serve %s: %w", cfg.Addr, err)
	}
	return nil
}
