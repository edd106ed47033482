package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/cf-feed/internal/config"
	"github.com/rickgao/cf-feed/internal/connection"
	"github.com/rickgao/cf-feed/internal/database"
	"github.com/rickgao/cf-feed/internal/logging"
	"github.com/rickgao/cf-feed/internal/metrics"
	"github.com/rickgao/cf-feed/internal/model"
	"github.com/rickgao/cf-feed/internal/router"
	"github.com/rickgao/cf-feed/internal/telemetry"
	"github.com/rickgao/cf-feed/internal/version"
	"github.com/rickgao/cf-feed/internal/writer"
)

func newStreamCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Subscribe to the configured feeds and stream until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := runStream(ctx, configPath); err != nil {
				return fail(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "configs/cfws.yaml", "path to config file")
	return cmd
}

func runStream(ctx context.Context, configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("starting cfws",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"ws_url", cfg.API.WSURL,
	)

	metrics.Register(nil)

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, version.Version, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	// Failures are logged by the shutdown function itself.
	defer func() { _ = shutdownTracing(context.Background()) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// abort stops whatever has been started and waits for it.
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	var recorder *writer.EventWriter
	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		logger.Info("database connected", "host", cfg.Database.Host, "database", cfg.Database.Name)

		recorder = writer.NewEventWriter(writer.WriterConfig{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger)
		g.Go(func() error { return recorder.Run(gctx) })
	}

	mgr := connection.NewManager(managerConfig(cfg), logger)
	if err := mgr.Connect(ctx); err != nil {
		return abort(err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHTTPHandler(mgr, recorder, cfg.Metrics.Path, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := mgr.Wait(gctx)
		if err != nil {
			logger.Error("connection lost", "error", err)
		}
		return err
	})

	if err := subscribeAll(gctx, mgr, cfg.Subscriptions, recorder, logger); err != nil {
		mgr.Exit()
		return abort(err)
	}

	logger.Info("cfws running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	err = g.Wait()
	logger.Info("cfws stopped")
	return err
}

func managerConfig(cfg *config.Config) connection.ManagerConfig {
	return connection.ManagerConfig{
		URL:               cfg.API.WSURL,
		Exchange:          cfg.API.Exchange,
		Credentials:       cfg.Credentials(),
		ConnectTimeout:    cfg.Connection.ConnectTimeout,
		AuthTimeout:       cfg.Connection.AuthTimeout,
		WriteTimeout:      cfg.Connection.WriteTimeout,
		PingInterval:      cfg.Connection.PingInterval,
		BufferSize:        cfg.Connection.BufferSize,
		CommandBufferSize: cfg.Connection.CommandBufferSize,
	}
}

// feedClient is the part of the Connection Manager used at startup.
type feedClient interface {
	Subscribe(ctx context.Context, feed model.Feed, productIDs ...string) error
	AddCallback(ctx context.Context, feed model.Feed, productIDs []string, name string, fn router.Callback, kwargs map[string]any) (router.Handle, error)
}

// subscribeAll registers callbacks before subscribing so the first frames
// of each feed are not missed.
func subscribeAll(ctx context.Context, c feedClient, subs config.SubscriptionsConfig, recorder *writer.EventWriter, logger *slog.Logger) error {
	register := func(feed model.Feed, ids []string) error {
		kwargs := map[string]any{"feed": feed.String()}
		if _, err := c.AddCallback(ctx, feed, ids, "log", logCallback(logger), kwargs); err != nil {
			return err
		}
		if recorder != nil {
			if _, err := c.AddCallback(ctx, feed, ids, "recorder", recorder.Callback(), kwargs); err != nil {
				return err
			}
		}
		return nil
	}

	for _, s := range subs.Public {
		feed := model.Feed(s.Feed)
		if err := register(feed, s.ProductIDs); err != nil {
			return err
		}
		if err := c.Subscribe(ctx, feed, s.ProductIDs...); err != nil {
			return err
		}
	}

	for _, name := range subs.Private {
		feed := model.Feed(name)
		if err := register(feed, nil); err != nil {
			return err
		}
		if err := c.Subscribe(ctx, feed); err != nil {
			return err
		}
	}
	return nil
}

// logCallback logs each dispatched payload at debug level.
func logCallback(logger *slog.Logger) router.Callback {
	return func(exchange string, payload json.RawMessage, kwargs map[string]any) {
		logger.Debug("feed message",
			"exchange", exchange,
			"feed", kwargs["feed"],
			"payload", string(payload),
		)
	}
}

var _ feedClient = (*connection.Manager)(nil)
