package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dosada05/format-engine/brackets"
	"github.com/Dosada05/format-engine/config"
	"github.com/Dosada05/format-engine/db"
	"github.com/Dosada05/format-engine/events"
	"github.com/Dosada05/format-engine/handlers"
	"github.com/Dosada05/format-engine/notify"
	"github.com/Dosada05/format-engine/repositories"
	"github.com/Dosada05/format-engine/roster"
	api "github.com/Dosada05/format-engine/routes"
	"github.com/Dosada05/format-engine/services"
	"github.com/Dosada05/format-engine/storage"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
)

const autoConfirmBatchSize = 100

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}()
	logger.Info("database connection established")

	proofStore, err := storage.NewCloudflareR2Store(storage.CloudflareR2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		BucketName:      cfg.R2BucketName,
		PublicBaseURL:   cfg.R2PublicBaseURL,
	})
	if err != nil {
		logger.Error("failed to initialize proof store", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("proof store initialized")

	var rosterProvider roster.Provider
	if cfg.RosterBaseURL != "" {
		rosterProvider = roster.NewHTTPProvider(cfg.RosterBaseURL)
	} else {
		logger.Warn("ROSTER_BASE_URL not set, using empty static roster")
		rosterProvider = roster.NewStaticProvider()
	}

	var notifier notify.Notifier
	if cfg.SendGridAPIKey != "" {
		resolve := func(ctx context.Context, participantID int) (string, string, error) {
			p, err := rosterProvider.GetParticipant(ctx, participantID)
			if err != nil {
				return "", "", err
			}
			if p.Email == "" {
				return "", "", fmt.Errorf("participant %d has no email on the roster", p.ID)
			}
			return p.Email, p.DisplayName, nil
		}
		notifier = notify.NewSendGridNotifier(cfg.SendGridAPIKey, cfg.MailFromEmail, cfg.MailFromName, resolve, logger)
	} else {
		notifier = &notify.LogNotifier{Logger: logger}
	}

	wsHub := brackets.NewHub(logger)
	go wsHub.Run()
	logger.Info("websocket hub started")

	stageRepo := repositories.NewPostgresStageRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	groupRepo := repositories.NewPostgresGroupRepository(dbConn)
	submissionRepo := repositories.NewPostgresSubmissionRepository(dbConn)
	disputeRepo := repositories.NewPostgresDisputeRepository(dbConn)
	transitionRepo := repositories.NewPostgresTransitionRepository(dbConn)
	txRunner := &repositories.SQLTxRunner{DB: dbConn}
	logger.Info("repositories initialized")

	propagator := events.NewPropagator(logger,
		&events.HubBridge{Hub: wsHub},
		&events.NotifierBridge{Notifier: notifier},
	)

	stageService := services.NewStageService(txRunner, stageRepo, matchRepo, groupRepo, rosterProvider, logger)
	progressionService := services.NewProgressionService(stageRepo, matchRepo, groupRepo, rosterProvider, stageService, logger)
	verificationService := services.NewVerificationService(
		txRunner,
		stageRepo,
		matchRepo,
		submissionRepo,
		disputeRepo,
		transitionRepo,
		progressionService,
		propagator,
		notifier,
		logger,
	)
	standingsService := services.NewStandingsService(stageRepo, matchRepo, groupRepo, logger)
	logger.Info("services initialized")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go propagator.Run(rootCtx)
	logger.Info("event propagator started")

	sweepInterval := time.Duration(cfg.AutoConfirmSweepSeconds) * time.Second
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		logger.Info("auto-confirm sweep started", slog.Duration("interval", sweepInterval))
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				n, err := verificationService.RunAutoConfirmSweep(rootCtx, autoConfirmBatchSize)
				if err != nil {
					logger.Error("auto-confirm sweep failed", slog.Any("error", err))
					continue
				}
				if n > 0 {
					logger.Info("auto-confirm sweep finished", slog.Int("confirmed", n))
				}
			}
		}
	}()

	stageHandler := handlers.NewStageHandler(stageService, standingsService)
	resultHandler := handlers.NewResultHandler(verificationService, proofStore)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub)
	logger.Info("http handlers initialized")

	router := chi.NewRouter()
	api.SetupRoutes(router, cfg.JWTSecretKey, stageHandler, resultHandler, webSocketHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
	logger.Info("server stopped")
}
