// Command event-registration runs the registration and payment service and
// its supporting tools.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/event-registration/internal/config"
)

// Build information injected via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "event-registration",
		Short:         "Event registration and payment orchestration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			// A missing .env is normal outside local development.
			_ = godotenv.Load()
		},
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newRelayCmd(),
		newCodeCmd(),
		newTokenCmd(),
	)
	return root
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	log := slog.New(h).With("service", "event-registration")
	slog.SetDefault(log)
	return log
}
