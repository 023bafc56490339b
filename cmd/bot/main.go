package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tg_link_relay_bot/internal/config"
	"tg_link_relay_bot/internal/dispatch"
	"tg_link_relay_bot/internal/domain"
	"tg_link_relay_bot/internal/feature/admin"
	"tg_link_relay_bot/internal/feature/group"
	"tg_link_relay_bot/internal/feature/membership"
	"tg_link_relay_bot/internal/feature/rewrite"
	"tg_link_relay_bot/internal/health"
	"tg_link_relay_bot/internal/linkfix"
	"tg_link_relay_bot/internal/logging"
	"tg_link_relay_bot/internal/store"
	"tg_link_relay_bot/internal/telegram"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoIndexTimeout      = 5 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	dispatchDrainTimeout   = 15 * time.Second
)

var processStart = time.Now()

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	table, err := linkfix.LoadTable(cfg.DomainMapFile)
	if err != nil {
		logger.WithError(err).Error("domain map error")
		fmt.Fprintf(os.Stderr, "domain map error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		for _, m := range table.Mappings() {
			fmt.Printf("domain_map: %s -> %s\n", m.Original, m.Replacement)
		}
		return
	}

	logger.WithFields(logging.Fields{
		"event":           "startup",
		"mongo_db":        cfg.MongoDB,
		"domain_mappings": table.Len(),
		"max_concurrency": cfg.MaxConcurrency,
		"event_timeout":   cfg.EventTimeout.String(),
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	registry := group.NewRegistry(
		domain.NewGroupRepository(mongoManager.Groups()),
		domain.NewAttemptRepository(mongoManager.Attempts()),
		logger,
	)
	statsProvider := store.NewStatsProvider(mongoManager.Groups(), mongoManager.Attempts())

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}
	transport := tgClient.Transport()

	dispatcher := dispatch.New(dispatch.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		Timeout:        cfg.EventTimeout,
	}, logger)

	tgClient.Route(telegram.NewRouter(telegram.RouterDeps{
		Tasks:      dispatcher,
		Membership: membership.NewMachine(cfg.AdminID, registry, transport, logger),
		Rewrite:    rewrite.NewPipeline(registry, linkfix.NewNormalizer(table), transport, logger),
		Admin: admin.NewCommands(cfg.AdminID, registry, transport, admin.Options{
			Stats:     statsProvider,
			Pinger:    mongoManager,
			StartedAt: processStart,
		}, logger),
		Replies: transport,
	}, logger))

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, logger)

	g, runCtx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		tgClient.Start(runCtx)
		if signalCtx.Err() == nil {
			return errors.New("telegram polling stopped before shutdown signal")
		}
		return nil
	})
	g.Go(func() error {
		return healthServer.Run(runCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithField("event", "run_error").WithError(err).Error("service stopped unexpectedly")
	} else {
		logger.WithField("event", "shutdown_signal").Info("received termination signal")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), dispatchDrainTimeout)
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.WithField("event", "dispatch_drain_timeout").WithError(err).Warn("timed out waiting for in-flight updates")
	}
	cancelDrain()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
