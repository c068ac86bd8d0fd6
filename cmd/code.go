package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/event-registration/internal/codec"
	"github.com/Shivanand-hulikatti/event-registration/internal/config"
)

func newCodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Encode and decode participant and team codes",
	}
	cmd.AddCommand(newCodeEncodeCmd(), newCodeDecodeCmd())
	return cmd
}

func loadCodec() (*codec.Codec, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	return codec.New(cfg.CodeCohort)
}

func newCodeEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <participant|team> <id>",
		Short: "Print the code for a numeric id",
		Example: `  event-registration code encode participant 1   # INC23-0001
  event-registration code encode team 42         # T23-00042`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := codec.ParseKind(args[0])
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || id < 0 {
				return fmt.Errorf("id %q: want a non-negative integer", args[1])
			}
			c, err := loadCodec()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.Encode(kind, id))
			return nil
		},
	}
}

func newCodeDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <code>",
		Short: "Print the kind and numeric id behind a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCodec()
			if err != nil {
				return err
			}
			kind, id, err := c.Decode(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", kind, id)
			return nil
		},
	}
}
