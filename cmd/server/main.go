package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"creddd/internal/addressindex"
	groupstore "creddd/internal/group/store"
	"creddd/internal/membership"
	"creddd/internal/platform/config"
	"creddd/internal/platform/ethrpc"
	"creddd/internal/platform/events"
	"creddd/internal/platform/gate"
	"creddd/internal/platform/httpserver"
	"creddd/internal/platform/logger"
	"creddd/internal/platform/metrics"
	"creddd/internal/platform/postgres"
	redisclient "creddd/internal/platform/redis"
	"creddd/internal/query"
	"creddd/internal/syncer"
	treestore "creddd/internal/tree/store"
)

const shutdownTimeout = 10 * time.Second

// main wires the shared stores and clients, starts one sync engine per active
// group and serves the query endpoint until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("creddd exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("creddd stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	rpc, err := ethrpc.Dial(ctx, cfg.RPC.Endpoints)
	if err != nil {
		return err
	}
	defer rpc.Close()
	log.Info("rpc endpoints configured", "chains", rpc.Chains())

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer kp.Close()
		publisher = kp
		log.Info("publishing tree commits", "topic", cfg.Kafka.Topic)
	}

	m := metrics.New()
	permits := gate.New(cfg.Sync.Concurrency)
	groups := groupstore.NewPostgres(db)
	trees := treestore.NewPostgres(db)
	index := addressindex.NewRedis(rdb.Client, addressindex.WithMetrics(m))

	supervisor := syncer.NewSupervisor(groups, membership.DefaultRegistry(),
		membership.Resources{
			DB:         db,
			RPC:        rpc,
			SyncWindow: cfg.Sync.SyncWindow,
		},
		syncer.Resources{
			Heads:     rpc,
			Trees:     trees,
			Index:     index,
			Groups:    groups,
			Gate:      permits,
			Publisher: publisher,
			Metrics:   m,
		},
		syncer.WithSupervisorLogger(log),
		syncer.WithEngineOptions(syncer.WithSyncConfig(cfg.Sync)),
	)

	handler := query.New(trees, index,
		query.WithLogger(log),
		query.WithHealthCheck("postgres", db.PingContext),
		query.WithHealthCheck("redis", rdb.Health),
	)
	srv := httpserver.New(ctx, cfg.Addr, query.NewRouter(handler, prometheus.DefaultGatherer, log), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting query server", "addr", cfg.Addr)
		if err := httpserver.ListenAndServe(srv); err != nil {
			return fmt.Errorf("query server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return supervisor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		permits.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
