package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cutline/internal/logging"
	"cutline/internal/mockbackend"
)

// newBackendCommand runs the reference backend on stdin/stdout. It is what
// play launches when no external backend command is configured.
func newBackendCommand() *cobra.Command {
	var logLevel string
	var tick time.Duration

	cmd := &cobra.Command{
		Use:         "backend",
		Short:       "Run the built-in reference playback backend",
		Hidden:      true,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Options{Level: logLevel, Format: "console", Output: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b := mockbackend.New(cmd.OutOrStdout(),
				mockbackend.WithLogger(logger),
				mockbackend.WithTickInterval(tick),
			)
			logger.Info("reference backend ready", logging.Int("pid", os.Getpid()))
			if err := b.Serve(ctx, cmd.InOrStdin()); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level for stderr output")
	cmd.Flags().DurationVar(&tick, "tick", mockbackend.DefaultTickInterval, "Position report interval while playing")
	return cmd
}
