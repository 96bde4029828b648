package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/erazemk/najdeno/internal/api"
	"github.com/erazemk/najdeno/internal/cache"
	"github.com/erazemk/najdeno/internal/claims"
	"github.com/erazemk/najdeno/internal/config"
	"github.com/erazemk/najdeno/internal/db"
	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/media"
	"github.com/erazemk/najdeno/internal/payment"
	"github.com/erazemk/najdeno/internal/store"
)

// purgeInterval is how often expired token revocations are dropped.
const purgeInterval = time.Hour

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				log.Error().Err(err).Msg("invalid configuration")
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("server error")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "listen address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Check if DB exists, auto-init if not.
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		database, password, err := initDatabase(ctx, cfg.DBPath, "admin")
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		database.Close()

		printInitResult(cfg.DBPath, "admin", password)
		fmt.Println()
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	// Ensure schema exists (idempotent).
	if err := db.EnsureSchema(database); err != nil {
		return fmt.Errorf("ensuring database schema: %w", err)
	}
	log.Info().Str("path", cfg.DBPath).Msg("database ready")

	jwtSecret, err := store.GetOrCreateSecret(ctx, database, store.SettingJWTSecret)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}

	callbackSecret := cfg.Mpesa.CallbackSecret
	if callbackSecret == "" {
		callbackSecret, err = store.GetOrCreateSecret(ctx, database, store.SettingCallbackSecret)
		if err != nil {
			return fmt.Errorf("loading callback secret: %w", err)
		}
	}

	hub := events.NewHub()
	items := cache.NewItems(database)
	pub := events.Multi{hub, items}
	checks := map[string]api.HealthCheck{}

	if cfg.RabbitMQ.Enabled() {
		rmq, err := events.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return fmt.Errorf("connecting to RabbitMQ: %w", err)
		}
		defer rmq.Close()
		pub = append(pub, rmq)
		checks["rabbitmq"] = func(context.Context) error { return rmq.HealthCheck() }
	}

	dbImages := &media.DBStore{DB: database}
	library := media.NewLibrary(dbImages)
	if cfg.MinIO.Enabled() {
		objects, err := media.NewMinIOStore(ctx, media.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("connecting to MinIO: %w", err)
		}
		// Images uploaded before MinIO was configured stay readable.
		library = media.NewLibrary(objects, dbImages)
		checks["storage"] = objects.HealthCheck
	}

	var gateway payment.Gateway = payment.Disabled{}
	if cfg.Mpesa.Enabled() {
		gateway = payment.NewDarajaClient(payment.DarajaConfig{
			BaseURL:        cfg.Mpesa.BaseURL,
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			ShortCode:      cfg.Mpesa.ShortCode,
			Passkey:        cfg.Mpesa.Passkey,
			CallbackURL:    cfg.Mpesa.CallbackURL,
			Timeout:        cfg.Mpesa.Timeout,
		})
		log.Info().Str("base_url", cfg.Mpesa.BaseURL).Msg("M-Pesa tips enabled")
	} else {
		log.Warn().Msg("M-Pesa credentials not set, tips are disabled")
	}

	claimsSvc := claims.NewService(database, pub)
	router := api.NewRouter(api.Deps{
		DB:             database,
		JWTSecret:      jwtSecret,
		CallbackSecret: callbackSecret,
		Claims:         claimsSvc,
		Payments:       payment.NewOrchestrator(database, gateway, claimsSvc, pub),
		Cache:          items,
		Media:          library,
		Hub:            hub,
		Events:         pub,
		HealthChecks:   checks,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Event streams never finish on their own.
	server.RegisterOnShutdown(hub.Close)

	go purgeRevocations(ctx, database)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server started")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
	}

	log.Info().Msg("server stopped, closing database")
	return nil
}

// purgeRevocations drops revoked tokens that have expired on their own.
func purgeRevocations(ctx context.Context, database *sql.DB) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeExpiredRevocations(ctx, database, now)
			if err != nil {
				log.Error().Err(err).Msg("purging token revocations")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired token revocations purged")
			}
		}
	}
}
