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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/event-registration/internal/auth"
	"github.com/Shivanand-hulikatti/event-registration/internal/codec"
	"github.com/Shivanand-hulikatti/event-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-registration/internal/handler"
	"github.com/Shivanand-hulikatti/event-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-registration/internal/outbox"
	"github.com/Shivanand-hulikatti/event-registration/internal/payments"
	"github.com/Shivanand-hulikatti/event-registration/internal/service"
	"github.com/Shivanand-hulikatti/event-registration/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var withRelay bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until SIGINT or SIGTERM.

With --relay the outbox relay runs in the same process, which is
convenient for local development. Production deployments run
"event-registration relay" separately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, withRelay)
		},
	}
	cmd.Flags().BoolVar(&withRelay, "relay", false, "also run the outbox relay (requires KAFKA_BROKERS)")
	return cmd
}

func serve(parent context.Context, cfg config.Config, withRelay bool) error {
	log := newLogger(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "event-registration", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// ── 1. Store ─────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── 2. Wire up layers ────────────────────────────────────────────────
	codes, err := codec.New(cfg.CodeCohort)
	if err != nil {
		return err
	}
	m := metrics.New(prometheus.DefaultRegisterer)
	provider, err := payments.NewProvider(cfg)
	if err != nil {
		return err
	}
	verifier := auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, nil)

	regs := service.NewRegistrationService(store, codes, m, log)
	pays := service.NewPaymentService(store, provider, cfg.PaymentWebhookSecret, m, log)
	router := handler.NewRouter(handler.New(regs, pays), verifier, promhttp.Handler())

	if withRelay {
		if len(cfg.KafkaBrokers) == 0 {
			return errors.New("--relay requires KAFKA_BROKERS")
		}
		writer := outbox.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer writer.Close()
		relay := outbox.NewRelay(store, writer, outbox.Options{
			BatchSize:    cfg.OutboxBatchSize,
			PollInterval: cfg.OutboxPollInterval,
			Metrics:      m,
			Logger:       log,
		})
		go func() { _ = relay.Run(ctx) }()
	}

	// ── 3. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}
