package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/atiendo/backend/internal/auth"
	"github.com/atiendo/backend/internal/battery"
	"github.com/atiendo/backend/internal/config"
	"github.com/atiendo/backend/internal/dispatch"
	"github.com/atiendo/backend/internal/drafts"
	"github.com/atiendo/backend/internal/generation"
	"github.com/atiendo/backend/internal/intake"
	"github.com/atiendo/backend/internal/operator"
	"github.com/atiendo/backend/internal/orchestrator"
	"github.com/atiendo/backend/internal/router"
	"github.com/atiendo/backend/internal/tools"
	"github.com/atiendo/backend/internal/webhooks"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// AI battery: today's totals are primed from the ledger so a restart
	// doesn't reset the daily limit.
	ledgerRepo := battery.NewRepository(pool)
	bat := battery.New(cfg.Battery.DailyLimit, ledgerRepo, logger)
	if err := bat.Prime(ctx); err != nil {
		slog.Warn("Battery prime failed, starting from zero", "error", err)
	}

	queue := drafts.NewQueue(logger)

	senders := make(map[string]dispatch.Sender, len(cfg.ChannelEndpoints))
	for channel, endpoint := range cfg.ChannelEndpoints {
		senders[channel] = dispatch.NewHTTPSender(endpoint)
	}
	dispatcher := dispatch.New(senders, queue, logger)

	executor := tools.NewHTTPExecutor(cfg.ToolEndpoints, cfg.DefaultToolEndpoint, logger)

	// Generation enqueue is set after the River client exists (breaks the
	// orchestrator <-> worker init cycle).
	var insertMu sync.Mutex
	var insertFn orchestrator.EnqueueGenerationFunc
	enqueueGeneration := func(ctx context.Context, taskID uuid.UUID) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, taskID)
	}

	taskRepo := orchestrator.NewRepository(pool)
	orch := orchestrator.New(taskRepo, queue, enqueueGeneration, executor, dispatcher, cfg.SLA, logger)

	engine := generation.NewHTTPEngine(cfg.EngineURL)
	workers := river.NewWorkers()
	river.AddWorker(workers, generation.NewGenerateReplyWorker(orch, bat, engine, queue, cfg.Battery.CallEstimate, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, taskID uuid.UUID) error {
		_, err := riverClient.Insert(ctx, generation.GenerateReplyJobArgs{TaskID: taskID}, nil)
		return err
	}
	insertMu.Unlock()

	// Operator auth and API keys
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo)
	authHandler := auth.NewHandler(authSvc, logger)
	apiKeyRepo := auth.NewAPIKeyRepository(pool)

	webhookRepo := webhooks.NewRepository(pool)

	opHandler := operator.NewHandler(bat, ledgerRepo, queue, orch, dispatcher, apiKeyRepo, webhookRepo, cfg.SLAWarning, logger)
	apiV1Router := router.New(authHandler, opHandler, authSvc)

	validator, err := intake.NewValidator(cfg.SchemaDir)
	if err != nil {
		slog.Warn("Schema validator init failed (v1 task routes disabled)", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiV1Router)

	if validator != nil {
		RegisterV1Routes(mux, orch, validator, apiKeyRepo, bat, logger)
	}

	// Payment webhooks
	processor := webhooks.NewHTTPProcessor(cfg.PaymentProcessorURL)
	verifiers := map[string]webhooks.Verifier{
		"stripe":  webhooks.NewTimestampedVerifier("Stripe-Signature", 0),
		"paypal":  webhooks.NewHeaderAssertionVerifier([]string{"Paypal-Transmission-Id", "Paypal-Transmission-Sig"}, cfg.Production(), logger),
		"generic": webhooks.NewHMACVerifier("X-Signature"),
	}
	ingress := webhooks.NewIngress(verifiers, cfg.WebhookSecrets, cfg.Production(), webhookRepo, processor, logger)
	mux.HandleFunc("POST /v1/webhooks/{provider}", ingress.Handle)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes generation jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr, "env", cfg.Env)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
