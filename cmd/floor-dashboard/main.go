package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/floor-ops/internal/config"
	"github.com/dmehra2102/floor-ops/internal/floor/application"
	floorhttp "github.com/dmehra2102/floor-ops/internal/floor/infrastructure/http"
	floorkafka "github.com/dmehra2102/floor-ops/internal/floor/infrastructure/kafka"
	floorpg "github.com/dmehra2102/floor-ops/internal/floor/infrastructure/postgres"
	"github.com/dmehra2102/floor-ops/internal/floor/infrastructure/rest"
	"github.com/dmehra2102/floor-ops/internal/floor/infrastructure/ws"
	"github.com/dmehra2102/floor-ops/pkg/idempotency"
	"github.com/dmehra2102/floor-ops/pkg/logging"
	"github.com/dmehra2102/floor-ops/pkg/shutdown"
	"github.com/dmehra2102/floor-ops/pkg/tracing"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "floor-dashboard",
		Short:        "Live floor operations view for restaurant staff",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./floor.yaml)")
	cmd.AddCommand(newTokenCommand(&configPath))
	return cmd
}

// newTokenCommand issues a staff token signed with the configured secret,
// for local testing and kiosk provisioning.
func newTokenCommand(configPath *string) *cobra.Command {
	var (
		staffID string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed staff token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			switch role {
			case floorhttp.RoleManager, floorhttp.RoleWaiter, floorhttp.RoleKitchen:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := floorhttp.SignToken(cfg.HTTP.JWTSecret, staffID, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&staffID, "staff", "", "staff id")
	cmd.Flags().StringVar(&role, "role", floorhttp.RoleWaiter, "manager, waiter or kitchen")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("staff")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(ctx, log)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.Service, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
	if err != nil {
		log.Error("otel init failed", "err", err)
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Backend gateway, also the default snapshot source
	client, err := rest.NewClient(log, cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout)
	if err != nil {
		log.Error("backend client setup failed", "err", err)
		return err
	}

	var source application.SnapshotSource = client
	if cfg.Snapshot.Source == config.SourcePostgres {
		pool, err := pgxpool.New(ctx, cfg.Snapshot.PostgresDSN)
		if err != nil {
			log.Error("pg connect failed", "err", err)
			return err
		}
		defer pool.Close()

		pgSource := floorpg.NewSnapshotSource(log, pool)
		if err := pgSource.Ping(ctx); err != nil {
			log.Warn("snapshot database not reachable yet", "err", err)
		}
		source = pgSource
	}

	var guard application.CommandGuard
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		guard = idempotency.NewStore(rdb, "floor", cfg.Redis.GuardTTL)
	}

	reconciler := application.NewReconciler(log)
	refresher := application.NewRefresher(log, application.NewFetcher(log, source), reconciler)
	scheduler := application.NewScheduler(log, refresher, cfg.Snapshot.Interval)
	dispatcher := application.NewDispatcher(log, client, refresher, reconciler, guard)

	stream, err := newStream(log, cfg, reconciler, scheduler.Trigger)
	if err != nil {
		return err
	}

	handler := floorhttp.NewHandler(log, reconciler, dispatcher)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Routes(floorhttp.JWTMiddleware(cfg.HTTP.JWTSecret)),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return stream.Run(gctx) })
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("floor-dashboard shutdown complete")
	return err
}

type runner interface {
	Run(ctx context.Context) error
}

func newStream(log *slog.Logger, cfg *config.Config, sink application.EventSink, onConnect func()) (runner, error) {
	switch cfg.Stream.Transport {
	case config.TransportKafka:
		return floorkafka.NewConsumer(log, sink, floorkafka.Options{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			GroupPrefix:    cfg.Kafka.GroupPrefix,
			Backoff:        cfg.Stream.BackoffMin,
			HealthInterval: cfg.Stream.PingInterval,
			OnConnect:      onConnect,
		}), nil
	case config.TransportWebsocket:
		return ws.NewStream(log, sink, ws.Options{
			URL:          cfg.Stream.URL,
			Token:        ws.StaticToken(cfg.Backend.Token),
			PingInterval: cfg.Stream.PingInterval,
			PongWait:     cfg.Stream.PongWait,
			BackoffMin:   cfg.Stream.BackoffMin,
			BackoffMax:   cfg.Stream.BackoffMax,
			OnConnect:    onConnect,
		}), nil
	}
	return nil, fmt.Errorf("unknown stream transport %q", cfg.Stream.Transport)
}
