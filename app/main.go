package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castpoll/castpoll/app/api"
	"github.com/castpoll/castpoll/app/cfg"
	"github.com/castpoll/castpoll/app/database"
	"github.com/castpoll/castpoll/app/feed"
	"github.com/castpoll/castpoll/app/tasks"
	"github.com/castpoll/castpoll/app/websub"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting castpoll", "version", appCfg.Version)

	db, err := database.NewConnection(
		appCfg.DBHost, appCfg.DBPort, appCfg.DBUser,
		appCfg.DBPassword, appCfg.DBName)
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}
	slog.Info("Database migrations applied", "version", version, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	episodeRepo := database.NewEpisodeRepository(db)
	categoryRepo := database.NewCategoryRepository(db)
	subscriptionRepo := database.NewSubscriptionRepository(db)

	ctx := context.Background()

	seeds, err := feed.LoadSeeds(appCfg.SeedFile)
	if err != nil {
		log.Fatal("Failed to load seed feeds: ", err)
	}
	if err := feed.RegisterSeeds(ctx, feedRepo, seeds); err != nil {
		log.Fatal("Failed to register seed feeds: ", err)
	}

	// Snapshot of the taxonomy table, loaded once per run and passed
	// explicitly instead of living in package state.
	taxonomy, err := categoryRepo.GetCategories(ctx)
	if err != nil {
		log.Fatal("Failed to load categories: ", err)
	}
	categories := feed.NewCategoryLookup(taxonomy)
	slog.Info("Loaded category taxonomy", "count", len(taxonomy))

	fetcher := feed.NewFetcher(
		time.Duration(appCfg.FetchTimeout)*time.Second,
		appCfg.UserAgent, appCfg.Version, appCfg.ContactUrl)

	ingestor := feed.NewIngestor(feedRepo, episodeRepo, subscriptionRepo,
		fetcher, feed.DefaultScheduleConfig(), categories, appCfg.MaxRetries)

	// The subscriber enqueues through the task scheduler; the scheduler is
	// created after it and attached before anything runs.
	scheduler := &tasks.SchedulerHandle{}
	subscriber := websub.NewSubscriber(subscriptionRepo, scheduler,
		appCfg.BaseUrl, appCfg.LeaseSeconds,
		time.Duration(appCfg.FetchTimeout)*time.Second)
	scheduler.Attach(tasks.NewScheduler(feedRepo, ingestor, subscriber))

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount)
	scheduler.Start()
	defer scheduler.Stop()

	apiHandler := api.NewHandler(feedRepo, episodeRepo, subscriptionRepo, subscriber, scheduler)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
