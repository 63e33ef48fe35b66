package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/eteran/stagegate/pkg/auth"
	"github.com/eteran/stagegate/pkg/core"
	"github.com/eteran/stagegate/pkg/metrics"
	"github.com/eteran/stagegate/pkg/multipart"
	"github.com/eteran/stagegate/pkg/storage"
)

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "stagegate",
		Short:         "stagegate accepts S3 multipart uploads, stages parts in object storage and hands completed objects to a content store",
		SilenceErrors: true,
		Example: `
  # In-memory staging with a single static key (development only)
  stagegate --static-access-key dev --static-secret-key dev-secret

  # MinIO staging, credentials in SQLite
  STAGEGATE_STAGING=s3 STAGEGATE_STAGING_ENDPOINT=http://localhost:9000 \
  STAGEGATE_STAGING_ACCESS_KEY=minioadmin STAGEGATE_STAGING_SECRET_KEY=minioadmin \
    stagegate --access-registry sqlite:///var/lib/stagegate/registry.db

  # AWS staging, secret keys in Secrets Manager
  stagegate --staging aws --staging-bucket my-staging --staging-region eu-west-1 \
    --access-registry sqlite:///var/lib/stagegate/registry.db \
    --secret-registry secretsmanager://eu-west-1/stagegate/
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			configFile, err := loadConfigFile(v)
			if err != nil {
				return err
			}
			settings, err := loadSettings(v)
			if err != nil {
				return err
			}

			level, err := log.ParseLevel(settings.LogLevel)
			if err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			handler := log.NewWithOptions(os.Stdout, log.Options{
				Level:           level,
				TimeFormat:      time.RFC3339,
				ReportTimestamp: true,
				TimeFunction:    log.NowUTC,
				ReportCaller:    level == log.DebugLevel,
			})
			slog.SetDefault(slog.New(handler))

			if configFile != "" {
				slog.Info("Loaded config file", "path", configFile)
			}
			return Run(cmd.Context(), settings)
		},
	}

	registerFlags(cmd.Flags())
	if err := bindFlags(v, cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}

// Run serves the gateway until ctx is cancelled.
func Run(ctx context.Context, s Settings) error {
	absDataDir, err := filepath.Abs(s.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	stagingStore, err := openStaging(ctx, s)
	if err != nil {
		return fmt.Errorf("staging backend %q: %w", s.Staging, err)
	}

	regs, err := openRegistries(ctx, s)
	if err != nil {
		return err
	}
	defer regs.Close()

	policy, err := bucketPolicy(s, regs)
	if err != nil {
		return err
	}

	manager := multipart.NewManager(stagingStore, storage.NewLocalFileStorage(absDataDir),
		multipart.WithRetention(s.Retention),
	)
	resolver := auth.NewResolver(regs.access, regs.secrets, auth.WithBucketWritePolicy(policy))
	m := metrics.New()

	cfg := core.NewConfig(
		core.WithUploads(manager),
		core.WithAuthorizer(resolver),
		core.WithMetrics(m),
	)
	server, err := core.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	sweeper := multipart.NewSweeper(manager, s.SweepInterval,
		multipart.WithSweepObserver(cfg.MultipartMetrics.ObserveSweep),
	)

	httpServer := &http.Server{
		Addr:              s.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
	}

	var metricsServer *http.Server
	if s.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{
			Addr:              s.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownGrace)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			err = errors.Join(err, metricsServer.Shutdown(shutdownCtx))
		}
		return err
	})

	eg.Go(func() error {
		slog.Info("Starting stagegate HTTP server", "addr", s.Listen, "staging", s.Staging, "bucket", s.StagingBucket)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if metricsServer != nil {
		eg.Go(func() error {
			slog.Info("Starting metrics server", "addr", s.MetricsListen)
			err := metricsServer.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	eg.Go(func() error {
		slog.Info("Starting cleanup sweeper", "interval", s.SweepInterval, "retention", s.Retention)
		return sweeper.Run(ctx)
	})

	slog.Info("Stagegate started")
	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("Stagegate exited with error", "error", err)
		os.Exit(1)
	}
}
