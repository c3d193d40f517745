// Package main is the entry point for the Civic Pulse API server.
// It serves the REST API for citizen issue reports: submission with a
// photo, listing by owner or proximity, status updates, analytics and the
// one-time-code login.
//
// Reports live in memory and every change is snapshotted to the configured
// state backend (memory, sqlite, redis or postgres), then restored on start.
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

	"github.com/civicpulse/civicpulse-server/internal/config"
	"github.com/civicpulse/civicpulse-server/internal/handlers"
	"github.com/civicpulse/civicpulse-server/internal/router"
	"github.com/civicpulse/civicpulse-server/internal/services"
	"github.com/civicpulse/civicpulse-server/internal/state"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		logger.Sugar().Fatalf("Failed to load config: %v", err)
	}
	if cfg.Environment == "development" {
		logger, _ = zap.NewDevelopment()
	}
	sugar := logger.Sugar()

	sugar.Infow("Starting Civic Pulse API",
		"port", cfg.Port,
		"env", cfg.Environment,
		"state", cfg.StateDriver,
		"version", version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the state backend the report snapshot is written to
	st, err := state.Open(ctx, state.Options{
		Driver:      cfg.StateDriver,
		SQLitePath:  cfg.StateSQLitePath,
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		sugar.Fatalf("Failed to open state backend: %v", err)
	}
	defer st.Close()

	// Initialize services
	reportSvc := services.NewReportService(st, sugar)
	if err := reportSvc.Restore(ctx); err != nil {
		sugar.Fatalf("Failed to restore reports: %v", err)
	}
	activitySvc := services.NewActivityLogService(st, sugar)
	if err := activitySvc.Restore(ctx); err != nil {
		sugar.Fatalf("Failed to restore activity: %v", err)
	}

	issuer, err := services.NewFixedCodeIssuer(cfg.OTPCode, bcrypt.DefaultCost, sugar)
	if err != nil {
		sugar.Fatalf("Failed to set up login codes: %v", err)
	}
	sessionSvc := services.NewSessionService(issuer, cfg.JWTSecret, cfg.SessionTTL, sugar)

	photoStore, err := services.NewPhotoStore(cfg.UploadDir, sugar)
	if err != nil {
		sugar.Fatalf("Failed to prepare upload directory: %v", err)
	}

	handler := router.New(router.Deps{
		Reports:        reportSvc,
		Activity:       activitySvc,
		Sessions:       sessionSvc,
		Photos:         photoStore,
		State:          st,
		Version:        version,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPM:   cfg.RateLimitRPM,
		Report: handlers.ReportOptions{
			NearbyRadiusKm:   cfg.NearbyRadiusKm,
			MaxUploadBytes:   int64(cfg.MaxUploadMB) << 20,
			SimulatedLatency: cfg.SimulatedLatency,
		},
		AuthLatency: cfg.SimulatedLatency,
		Logger:      logger,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	// Drop expired sessions periodically
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := sessionSvc.PurgeExpired(); n > 0 {
					sugar.Infow("Expired sessions purged", "count", n)
				}
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		sugar.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("Server stopped with error", "error", err)
		os.Exit(1)
	}
	sugar.Info("Server stopped")
}
