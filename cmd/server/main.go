// Package main provides the entry point for the interaction discovery service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/interaction-discovery-service/internal/config"
	"github.com/helixir/interaction-discovery-service/internal/database"
	"github.com/helixir/interaction-discovery-service/internal/discovery"
	"github.com/helixir/interaction-discovery-service/internal/fulltext"
	"github.com/helixir/interaction-discovery-service/internal/literature/pubmed"
	"github.com/helixir/interaction-discovery-service/internal/llm"
	"github.com/helixir/interaction-discovery-service/internal/observability"
	"github.com/helixir/interaction-discovery-service/internal/outbox"
	"github.com/helixir/interaction-discovery-service/internal/repository"
	httpserver "github.com/helixir/interaction-discovery-service/internal/server/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("interaction-discovery-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Create metrics.
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("discovery")
	}

	// Create repositories.
	jobRepo := repository.NewPgJobRepository(db)
	interactionRepo := repository.NewPgInteractionRepository(db)

	// Create the LLM chat client shared by composition, classification and
	// extraction.
	llmClient, err := llm.NewClient(llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		OpenAI: llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			Model:   cfg.LLM.OpenAI.Model,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		},
		Anthropic: llm.AnthropicConfig{
			APIKey:  cfg.LLM.Anthropic.APIKey,
			Model:   cfg.LLM.Anthropic.Model,
			BaseURL: cfg.LLM.Anthropic.BaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	logger.Info().Str("provider", cfg.LLM.Provider).Msg("LLM client created")

	// Create the PubMed searcher.
	searcher := pubmed.New(pubmed.Config{
		BaseURL:       cfg.PubMed.BaseURL,
		APIKey:        cfg.PubMed.APIKey,
		Email:         cfg.PubMed.Email,
		Tool:          cfg.PubMed.Tool,
		SearchTimeout: cfg.PubMed.SearchTimeout,
		FetchTimeout:  cfg.PubMed.FetchTimeout,
		RateLimit:     cfg.PubMed.RateLimit,
	})

	// Create the full-text acquisition chain.
	acquirer, err := fulltext.New(fulltext.Config{
		UnpaywallBaseURL:     cfg.FullText.UnpaywallBaseURL,
		UnpaywallEmail:       cfg.FullText.UnpaywallEmail,
		UnpaywallTimeout:     cfg.FullText.UnpaywallTimeout,
		ProxyURL:             cfg.FullText.ProxyBaseURL,
		ProxyZone:            cfg.FullText.ProxyZone,
		ProxyAPIKey:          cfg.FullText.ProxyAPIKey,
		ProxyTimeout:         cfg.FullText.ProxyTimeout,
		DirectTimeout:        cfg.FullText.DirectTimeout,
		MaxDownloadSize:      cfg.FullText.MaxDownloadSize,
		ArtifactDir:          cfg.FullText.ArtifactDir,
		KeepArtifacts:        cfg.FullText.KeepArtifacts,
		ConverterCommand:     cfg.FullText.ConverterCommand,
		ConverterTimeout:     cfg.FullText.ConverterTimeout,
		AllowPrivateNetworks: cfg.FullText.AllowPrivateNetworks,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("create full-text acquirer: %w", err)
	}

	// Create the outbox. Events are always staged; the dispatcher that drains
	// them to Kafka only runs when publishing is enabled.
	outboxRepo := outbox.NewRepository(db)
	emitter := outbox.NewEmitter(outboxRepo, logger)

	// Create the discovery pipeline and its job manager.
	manager := discovery.NewManager(discovery.Dependencies{
		Jobs:         jobRepo,
		Interactions: interactionRepo,
		Searcher:     searcher,
		Acquirer:     acquirer,
		Composer:     discovery.NewComposer(llmClient, logger, metrics),
		Classifier:   discovery.NewClassifier(llmClient, logger, metrics),
		Extractor: discovery.NewExtractor(llmClient, discovery.ExtractorConfig{
			MaxIterations: cfg.Discovery.MaxExtractionIterations,
			TextBudget:    cfg.Discovery.TextBudget,
		}, logger, metrics),
		Emitter: emitter,
		Metrics: metrics,
	}, discovery.Config{
		StepBudget:         cfg.Discovery.StepBudget,
		MaxQueries:         cfg.Discovery.MaxQueries,
		MaxSearchResults:   cfg.PubMed.MaxResults,
		CancelPollInterval: cfg.Discovery.CancelPollInterval,
		MaxConcurrentJobs:  cfg.Discovery.MaxConcurrentJobs,
	}, logger)

	// Start the outbox dispatcher when Kafka publishing is enabled. It runs
	// on its own context so it can keep draining while the job manager shuts
	// down; events left unpublished are picked up on the next start.
	var (
		dispatcherDone   chan struct{}
		dispatcherCancel context.CancelFunc
	)
	if cfg.Kafka.Enabled {
		writer := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			RequiredAcks: kafka.RequireAll,
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close kafka writer")
			}
		}()

		dispatcher := outbox.NewDispatcher(outboxRepo, db, writer, outbox.DispatcherConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
		}, logger, metrics)

		var dispatcherCtx context.Context
		dispatcherCtx, dispatcherCancel = context.WithCancel(context.Background())
		defer dispatcherCancel()
		dispatcherDone = make(chan struct{})
		go func() {
			defer close(dispatcherDone)
			if err := dispatcher.Run(dispatcherCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("outbox dispatcher error")
			}
		}()

		logger.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Msg("outbox dispatcher started")
	} else {
		logger.Info().Msg("kafka publishing disabled; outbox events will stay staged")
	}

	// Create the HTTP REST API server.
	httpCfg := httpserver.Config{
		Address:            cfg.Server.HTTPAddress(),
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       5 * time.Minute, // Long timeout for SSE streaming.
		IdleTimeout:        2 * time.Minute,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		DefaultTargetCount: cfg.Discovery.DefaultTargetCount,
	}
	httpSrv := httpserver.NewServer(httpCfg, jobRepo, interactionRepo, manager, db, logger, metrics)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	// Start HTTP REST API server in background.
	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("interaction-discovery-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down interaction-discovery-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first, then drain running jobs. The job
	// manager's terminal writes and outbox events must land before the
	// dispatcher and database go away.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("job manager drain incomplete; running jobs left for stuck-job recovery")
	}

	if dispatcherDone != nil {
		dispatcherCancel()
		<-dispatcherDone
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("interaction-discovery-service shutdown complete")
	return nil
}
