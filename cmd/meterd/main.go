package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fablemind/companion-metering/internal/admin"
	"github.com/fablemind/companion-metering/internal/auth"
	"github.com/fablemind/companion-metering/internal/config"
	"github.com/fablemind/companion-metering/internal/database"
	"github.com/fablemind/companion-metering/internal/export"
	"github.com/fablemind/companion-metering/internal/fingerprint"
	"github.com/fablemind/companion-metering/internal/gateway"
	"github.com/fablemind/companion-metering/internal/ledger"
	"github.com/fablemind/companion-metering/internal/notify"
	"github.com/fablemind/companion-metering/internal/repository"
	"github.com/fablemind/companion-metering/internal/service"
	"github.com/fablemind/companion-metering/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(os.Getenv("LOG_LEVEL"))

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	var tokens auth.TokenSource
	if cfg.LedgerTokenFile != "" {
		refreshing := auth.NewRefreshingTokenSource(
			auth.FileRefresher(cfg.LedgerTokenFile, os.ReadFile),
			cfg.AuthRefreshInterval,
			logr,
		)
		go refreshing.Run(ctx)
		tokens = refreshing
	} else {
		tokens = auth.NewStaticTokenSource(cfg.LedgerIDToken)
	}

	ledgerClient := ledger.NewClient(cfg, tokens, logr)

	dispatch := notify.NewDispatcher(cfg.NotifyBuffer, cfg.NotifyTimeout, logr)
	defer dispatch.Close()

	sessionRepo := repository.NewSessionRepository(db)
	resolver := fingerprint.NewResolver(logr)

	quotaService := service.NewQuotaService(logr, sessionRepo, ledgerClient, dispatch, resolver)
	migrationService := service.NewMigrationService(logr, sessionRepo, ledgerClient)

	var archiver admin.Archiver
	if cfg.ExportEnabled() {
		a, err := export.NewArchiver(cfg)
		if err != nil {
			log.Fatalf("export archiver: %v", err)
		}
		archiver = a
	}

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, ledgerClient, tokens, archiver)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin console stopped", "err", err)
		}
	}()

	gatewayServer := gateway.NewServer(cfg.ListenAddr, cfg.AllowedOrigins, logr, quotaService, migrationService, ledgerClient)
	if err := gatewayServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("gateway stopped", "err", err)
	}
}
