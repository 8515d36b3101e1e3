package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/alfredjeanlab/sessions/internal/attribution"
	"github.com/alfredjeanlab/sessions/internal/cache"
	"github.com/alfredjeanlab/sessions/internal/codec"
	"github.com/alfredjeanlab/sessions/internal/config"
	"github.com/alfredjeanlab/sessions/internal/events"
	"github.com/alfredjeanlab/sessions/internal/resolver"
	"github.com/alfredjeanlab/sessions/internal/retry"
	"github.com/alfredjeanlab/sessions/internal/server"
	sessionsync "github.com/alfredjeanlab/sessions/internal/sync"
	"github.com/alfredjeanlab/sessions/internal/telemetry"
	"github.com/alfredjeanlab/sessions/internal/worker"
)

const (
	instrumentationName = "github.com/alfredjeanlab/sessions"
	healthInterval      = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the session resolution server",
	GroupID: "system",
	// Override PersistentPreRunE so we don't build an HTTP client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tel := telemetry.Setup(ctx, cfg.TracingEnabled, cfg.ServiceName, logger)
		meter := otel.Meter(instrumentationName)

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		logger.Info("store opened", "backend", cfg.Store)

		// Identity cache: in-process LRU first, then Redis when configured.
		var tiers cache.Tiered
		if cfg.CacheSize > 0 {
			tiers = append(tiers, cache.NewLocal(cfg.CacheSize, cfg.CacheTTL))
		}
		var redisCache *cache.Redis
		if cfg.RedisURL != "" {
			redisCache, err = cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL, logger)
			if err != nil {
				logger.Error("redis cache disabled", "err", err)
			} else {
				tiers = append(tiers, redisCache)
				logger.Info("redis cache enabled")
			}
		}
		var identityCache cache.IdentityCache = cache.Noop{}
		if len(tiers) > 0 {
			identityCache = tiers
		}

		res := resolver.New(st,
			resolver.WithLogger(logger),
			resolver.WithTracer(tel.Tracer("resolver")),
			resolver.WithMeter(meter),
			resolver.WithEndExtension(cfg.ExtendEnd),
		)
		attr := attribution.New(st, res,
			attribution.WithLogger(logger),
			attribution.WithCache(identityCache),
			attribution.WithRetryPolicy(retry.Policy{
				Attempts:  cfg.RetryAttempts,
				BaseDelay: cfg.RetryBaseDelay,
				MaxDelay:  retry.DefaultPolicy.MaxDelay,
			}),
			attribution.WithShouldDefault(cfg.ShouldDefault),
			attribution.WithTracer(tel.Tracer("attribution")),
			attribution.WithMeter(meter),
		)

		sessionServer := server.NewSessionServer(st, attr, cfg.ShouldDefault, logger)
		go sessionServer.WatchHealth(ctx, healthInterval)

		// Start gRPC listener.
		grpcServer := sessionServer.NewGRPCServer(cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			st.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           sessionServer.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Start the fragment worker if NATS is available.
		var publisher events.Publisher = &events.NoopPublisher{}
		var workerDone chan struct{}
		if cfg.NATSURL != "" {
			payloadCodec := codec.JSON
			if cfg.NATSCompress {
				payloadCodec = codec.Zstd
			}
			pub, err := events.NewNATSPublisher(cfg.NATSURL, payloadCodec)
			if err != nil {
				logger.Error("failed to create publisher", "err", err)
			} else {
				publisher = pub
			}
			sub, err := events.NewNATSSubscriber(cfg.NATSURL, cfg.NATSQueue)
			if err != nil {
				logger.Error("failed to create fragment subscriber", "err", err)
			} else {
				w := worker.New(attr, publisher, payloadCodec, logger)
				workerDone = make(chan struct{})
				go func() {
					defer close(workerDone)
					if err := w.Run(ctx, sub); err != nil {
						logger.Error("fragment worker error", "err", err)
					}
					sub.Close()
				}()
				logger.Info("fragment worker started", "nats_url", cfg.NATSURL, "queue", cfg.NATSQueue)
			}
		} else {
			logger.Info("fragment worker disabled (SESSIONS_NATS_URL not set)")
		}

		scheduler := startSync(ctx, cfg, st, logger)

		logger.Info("sessiond started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"should_default", cfg.ShouldDefault,
		)

		<-ctx.Done()
		logger.Info("received signal, shutting down")

		// Graceful shutdown.
		if workerDone != nil {
			<-workerDone
			logger.Info("fragment worker stopped")
		}
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if redisCache != nil {
			if err := redisCache.Close(); err != nil {
				logger.Error("error closing redis cache", "err", err)
			}
		}
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("error flushing traces", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// startSync starts the export scheduler when an interval and at least one
// destination are configured.
func startSync(ctx context.Context, cfg *config.Config, src sessionsync.Source, logger *slog.Logger) *sessionsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	dests := syncDestinations(ctx, cfg, logger)
	if len(dests) == 0 {
		return nil
	}
	scheduler := sessionsync.NewScheduler(src, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}

func syncDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []sessionsync.Destination {
	var dests []sessionsync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := sessionsync.NewS3Destination(ctx, sessionsync.S3Options{
			Bucket:   cfg.SyncS3Bucket,
			Key:      cfg.SyncS3Key,
			Region:   cfg.SyncS3Region,
			Endpoint: cfg.SyncS3Endpoint,
			Compress: cfg.SyncCompress,
		})
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
		}
	}
	if cfg.SyncFile != "" {
		dests = append(dests, sessionsync.NewFileDestination(cfg.SyncFile, cfg.SyncCompress))
	}
	for _, d := range dests {
		logger.Info("sync destination enabled", "destination", d.Name(), "compress", cfg.SyncCompress)
	}
	return dests
}
