package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/event-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-registration/internal/outbox"
)

func newRelayCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Publish outbox messages to Kafka",
		Long: `Poll the outbox table and publish committed domain events to
KAFKA_TOPIC. Several relays may run at once; each claims its own batch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if len(cfg.KafkaBrokers) == 0 {
				return errors.New("KAFKA_BROKERS is required")
			}
			if cfg.StoreDriver != config.DriverPostgres {
				return errors.New("relay needs the postgres store")
			}
			log := newLogger(cfg, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			m := metrics.New(prometheus.DefaultRegisterer)
			if metricsAddr != "" {
				go func() {
					if err := http.ListenAndServe(metricsAddr, promhttp.Handler()); err != nil {
						log.Error("metrics listener", "error", err)
					}
				}()
			}

			writer := outbox.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
			defer writer.Close()

			log.Info("outbox relay started", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
			err = outbox.NewRelay(store, writer, outbox.Options{
				BatchSize:    cfg.OutboxBatchSize,
				PollInterval: cfg.OutboxPollInterval,
				Metrics:      m,
				Logger:       log,
			}).Run(ctx)
			log.Info("outbox relay stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address")
	return cmd
}
