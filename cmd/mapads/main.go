// Package main runs the map advertising service: paid facility markers,
// reaction-driven approval through a Discord channel, and pin maintenance on
// the public web map.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/inecat/mapads/internal/app"
	"github.com/inecat/mapads/internal/app/discord"
	"github.com/inecat/mapads/internal/app/dynmap"
	"github.com/inecat/mapads/internal/app/httpapi"
	ledgersvc "github.com/inecat/mapads/internal/app/services/ledger"
	"github.com/inecat/mapads/internal/app/services/markers"
	filestore "github.com/inecat/mapads/internal/app/storage/file"
	"github.com/inecat/mapads/internal/app/storage/memory"
	"github.com/inecat/mapads/internal/app/storage/postgres"
	"github.com/inecat/mapads/internal/config"
	"github.com/inecat/mapads/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("service failed")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func run(cfg *config.Config, log *logger.Logger) error {
	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	gateways, err := buildGateways(cfg, log)
	if err != nil {
		return err
	}

	admins := make(map[string]struct{}, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = struct{}{}
	}

	inbox := httpapi.NewInbox(0)

	application, err := app.New(stores, gateways, app.Options{
		Workflow: markers.Config{
			CreationFee:       cfg.Economy.CreationFee,
			FeaturedFeePerDay: cfg.Economy.FeaturedFeePerDay,
			CurrencyName:      cfg.Economy.CurrencyName,
			CommercialSet:     cfg.Dynmap.CommercialSet,
			FeaturedSet:       cfg.Dynmap.FeaturedSet,
		},
		PollInterval:      time.Duration(cfg.Reconcile.PollIntervalSeconds) * time.Second,
		ExpirySchedule:    cfg.Reconcile.ExpirySchedule,
		ApprovalChannelID: cfg.Discord.ApprovalChannelID,
		Notifier:          inbox,
		Authorizer: func(userID string) bool {
			_, ok := admins[userID]
			return ok
		},
	}, log)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	// Catch up on runs that lapsed while the service was down.
	application.Sweeper.Sweep(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewHandler(application.Markers, inbox, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop application: %w", err)
	}
	return nil
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, func(), error) {
	cleanup := func() {}

	switch cfg.Storage.Driver {
	case "memory":
		mem := memory.New()
		return app.Stores{Markers: mem, Ledger: mem}, cleanup, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.DSN)
		if err != nil {
			return app.Stores{}, cleanup, fmt.Errorf("open postgres: %w", err)
		}
		store := postgres.New(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return app.Stores{}, cleanup, fmt.Errorf("ensure schema: %w", err)
		}
		return app.Stores{Markers: store, Ledger: store}, func() { db.Close() }, nil

	default: // "file"
		store, err := filestore.New(cfg.Storage.Path, log)
		if err != nil {
			return app.Stores{}, cleanup, fmt.Errorf("open file store: %w", err)
		}
		return app.Stores{Markers: store, Ledger: store}, cleanup, nil
	}
}

func buildGateways(cfg *config.Config, log *logger.Logger) (app.Gateways, error) {
	var gateways app.Gateways
	if cfg.Discord.Token != "" {
		channel, err := discord.New(discord.Config{
			Token:             cfg.Discord.Token,
			ApprovalChannelID: cfg.Discord.ApprovalChannelID,
			AdsChannelID:      cfg.Discord.AdsChannelID,
			MapURLFormat:      cfg.Discord.MapURLFormat,
		}, log)
		if err != nil {
			return gateways, fmt.Errorf("configure discord: %w", err)
		}
		gateways.Channel = channel
		gateways.Feed = channel
	} else {
		log.Warn("discord.token not set; approval channel disabled")
	}

	if cfg.Dynmap.Endpoint != "" {
		mapClient, err := dynmap.New(nil, cfg.Dynmap.Endpoint, cfg.Dynmap.APIKey, log)
		if err != nil {
			return gateways, fmt.Errorf("configure dynmap: %w", err)
		}
		gateways.Map = mapClient
	} else {
		log.Warn("dynmap.endpoint not set; pin maintenance disabled")
	}

	if cfg.Economy.LedgerEndpoint != "" {
		ledgerClient, err := ledgersvc.NewClient(nil, cfg.Economy.LedgerEndpoint, cfg.Economy.LedgerAPIKey, log)
		if err != nil {
			return gateways, fmt.Errorf("configure ledger client: %w", err)
		}
		gateways.Ledger = ledgerClient
	}

	return gateways, nil
}
