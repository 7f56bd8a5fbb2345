package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"membify/internal/api"
	"membify/internal/config"
	"membify/internal/domain"
	"membify/internal/feature/code"
	"membify/internal/feature/community"
	"membify/internal/feature/verification"
	"membify/internal/health"
	"membify/internal/logging"
	"membify/internal/store"
	"membify/internal/telegram"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoIndexTimeout      = 5 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	httpShutdownTimeout    = 10 * time.Second
)

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

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
		"port":     cfg.HTTPPort,
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

	accounts := domain.NewAccountRepository(mongoManager.Accounts())
	communities := domain.NewCommunityRepository(mongoManager.Communities())
	statsProvider := store.NewStatsProvider(mongoManager.Accounts(), mongoManager.Communities())

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	verifier, err := verification.NewService(verification.Deps{
		Accounts:     accounts,
		Communities:  communities,
		Resolver:     community.NewResolver(communities),
		Provisioner:  community.NewProvisioner(communities, logger),
		Telegram:     tgClient,
		Validator:    telegram.NewTokenValidator(tgClient, cfg.ProbeChannels, logger),
		DefaultToken: cfg.TelegramToken,
		Logger:       logger,
	})
	if err != nil {
		logger.WithError(err).Error("verification service setup error")
		fmt.Fprintf(os.Stderr, "verification service setup error: %v\n", err)
		os.Exit(1)
	}

	if cfg.AppEnv != config.EnvDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	router, err := api.NewRouter(api.Deps{
		Codes:        code.NewIssuer(accounts, cfg.CodePrefix, logger),
		Verification: verifier,
		Health:       health.NewHandler(mongoManager, statsProvider, logger),
		Logger:       logger,
	})
	if err != nil {
		logger.WithError(err).Error("http router setup error")
		fmt.Fprintf(os.Stderr, "http router setup error: %v\n", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg.HTTPPort, router, logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping http server")
	case err := <-serverErr:
		if err != nil {
			logger.WithField("event", "http_stopped_early").WithError(err).Error("http server stopped before shutdown signal")
		}
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := server.Shutdown(httpCtx); err != nil {
		logger.WithField("event", "http_shutdown_timeout").WithError(err).Warn("http server did not stop cleanly")
	}
	cancelHTTP()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
