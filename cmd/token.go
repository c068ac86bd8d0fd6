package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/event-registration/internal/auth"
	"github.com/Shivanand-hulikatti/event-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
)

// newTokenCmd mints session tokens for local testing. Production sessions
// come from the identity provider.
func newTokenCmd() *cobra.Command {
	var (
		identity model.Identity
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed session token for a participant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if cfg.AuthJWTSecret == "" {
				return errors.New("AUTH_JWT_SECRET is required")
			}
			if identity.ParticipantID <= 0 {
				return errors.New("--pid must be positive")
			}
			token, err := auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, nil).Issue(identity, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&identity.ParticipantID, "pid", 0, "participant id")
	cmd.Flags().StringVar(&identity.Name, "name", "", "display name")
	cmd.Flags().StringVar(&identity.Email, "email", "", "email address")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
