package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/windfall/voicecoach_service/internal/client"
	"github.com/windfall/voicecoach_service/internal/config"
	"github.com/windfall/voicecoach_service/internal/handler/http"
	"github.com/windfall/voicecoach_service/internal/handler/ws"
	"github.com/windfall/voicecoach_service/internal/history"
	"github.com/windfall/voicecoach_service/internal/logger"
	"github.com/windfall/voicecoach_service/internal/metrics"
	"github.com/windfall/voicecoach_service/internal/repository"
	"github.com/windfall/voicecoach_service/internal/server"
	"github.com/windfall/voicecoach_service/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("env", cfg.Environment).Msg("Starting voicecoach_service")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(nil)
	store := history.NewStore(logger.Component(log, "history"))

	// Initialize clients
	analyser, err := client.NewAnalyserClient(cfg.AnalyserBaseURL, cfg.AnalyserUploadTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize analyser client")
	}

	// Initialize Redis client
	var redisClient *client.RedisClient
	var relay service.OutcomeRelay
	deps := map[string]http.Pinger{}
	if cfg.RedisURL != "" {
		redisClient, err = client.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Redis client, outcomes stay local")
		} else {
			relay = redisClient
			deps["redis"] = redisClient
			log.Info().Msg("Redis client initialized")
		}
	}

	// Initialize the audio archive: Cloudflare R2 (S3 protocol) or GCS
	var archiveService *service.ArchiveService
	var storageClient *client.StorageClient
	if cfg.ArchiveEnabled() {
		var objects service.ObjectStore
		switch cfg.ArchiveBackend {
		case config.ArchiveGCS:
			storageClient, err = client.NewStorageClient(ctx, cfg.GCSBucketName)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize GCS client")
			} else {
				objects = storageClient
				log.Info().Str("bucket", cfg.GCSBucketName).Msg("GCS client initialized")
			}
		default:
			cloudflareClient, err := client.NewCloudflareClient(ctx,
				cfg.CloudflareAccessKeyID,
				cfg.CloudflareSecretKey,
				cfg.CloudflareR2Endpoint,
				cfg.CloudflareBucketName,
				cfg.CloudflarePublicURL,
			)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize Cloudflare client")
			} else {
				objects = cloudflareClient
				log.Info().Msg("Cloudflare R2 client initialized")
			}
		}
		if objects != nil {
			archiveService = service.NewArchiveService(objects, m, logger.Component(log, "archive"))
		}
	} else {
		log.Warn().Str("backend", cfg.ArchiveBackend).Msg("Archive configuration missing, skipping audio archive")
	}

	// Initialize the Postgres journal
	var postgresClient *client.PostgresClient
	var journalService *service.JournalService
	var journal http.Journal
	if cfg.JournalEnabled() {
		if cfg.DatabaseAutoMigrate {
			version, err := repository.MigrateUp(cfg.DatabaseURL)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to migrate database")
			}
			log.Info().Uint("version", version).Msg("Database schema up to date")
		}

		postgresClient, err = client.NewPostgresClient(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to Postgres, journal disabled")
		} else {
			journalService = service.NewJournalService(
				repository.NewPostgresJournalRepository(postgresClient), m, logger.Component(log, "journal"))
			journal = journalService
			deps["postgres"] = postgresClient
			log.Info().Msg("Postgres client initialized")
		}
	}

	// Initialize the Pub/Sub event publisher
	var pubsubClient *client.PubSubClient
	var eventService *service.EventService
	if cfg.EventsEnabled() {
		pubsubClient, err = client.NewPubSubClient(ctx, cfg.PubSubProjectID, cfg.PubSubTopicID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Pub/Sub client, events disabled")
		} else {
			eventService = service.NewEventService(pubsubClient, m, logger.Component(log, "events"))
			deps["pubsub"] = pubsubClient
			log.Info().Str("topic", cfg.PubSubTopicID).Msg("Pub/Sub client initialized")
		}
	}

	// Initialize services
	analysisService := service.NewAnalysisService(analyser, store, relay, m, service.AnalysisConfig{
		ResultTimeout:   cfg.AnalyserResultTimeout,
		FailedRetention: cfg.FailedRetention,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		OutcomeTTL:      cfg.RedisOutcomeTTL,
	}, logger.Component(log, "analysis"))
	rephraseService := service.NewRephraseService(analyser, logger.Component(log, "rephrase"))

	// Initialize handlers
	healthHandler := http.NewHealthHandler(deps)
	hub := server.NewWebSocketHub(ws.NewHandler(store, log), m, logger.Component(log, "ws"))
	recordHandler := ws.NewRecordHandler(analysisService, m, cfg.RecordMaxDuration, cfg.MaxUploadBytes, cfg.AnalyserResultTimeout, logger.Component(log, "record"))

	httpServer := server.NewHTTPServer(cfg, log, m, server.Handlers{
		Health:   healthHandler,
		Analysis: http.NewAnalysisHandler(log, analysisService, cfg.MaxUploadBytes, cfg.MaxWaitTimeout),
		History:  http.NewHistoryHandler(log, store, archiveService),
		Rephrase: http.NewRephraseHandler(log, rephraseService),
		Journal:  http.NewJournalHandler(log, journal),
		Hub:      hub,
		Record:   recordHandler,
	})

	// Start background workers
	var workers sync.WaitGroup
	hubEvents, unsubscribeHub := store.Subscribe(64)
	workers.Add(1)
	go func() {
		defer workers.Done()
		hub.Run(ctx, hubEvents)
	}()

	var unsubscribers []func()
	sink := func(run func(context.Context, <-chan history.Event)) {
		events, unsubscribe := store.Subscribe(64)
		unsubscribers = append(unsubscribers, unsubscribe)
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(ctx, events)
		}()
	}
	if archiveService != nil {
		sink(archiveService.Run)
	}
	if journalService != nil {
		sink(journalService.Run)
	}
	if eventService != nil {
		sink(eventService.Run)
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	log.Info().
		Str("http_addr", cfg.HTTPAddress()).
		Str("analyser", cfg.AnalyserBaseURL).
		Bool("relay", relay != nil).
		Bool("archive", archiveService != nil).
		Bool("journal", journalService != nil).
		Bool("events", eventService != nil).
		Msg("Servers started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down servers...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Abandon outstanding correlations before stopping the workers
	analysisService.Close()

	cancel()
	unsubscribeHub()
	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}
	workers.Wait()

	// Close clients
	if redisClient != nil {
		redisClient.Close()
	}
	if postgresClient != nil {
		postgresClient.Close()
	}
	if pubsubClient != nil {
		pubsubClient.Close()
	}
	if storageClient != nil {
		storageClient.Close()
	}

	log.Info().Msg("Server stopped")
}
