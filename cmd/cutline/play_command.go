package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"cutline/internal/config"
	"cutline/internal/journal"
	"cutline/internal/logging"
	"cutline/internal/metrics"
	"cutline/internal/spool"
	"cutline/internal/supervisor"
	"cutline/internal/timeline"
	"cutline/internal/transport"
)

type playOptions struct {
	timelinePath  string
	metricsListen string
	autoplay      bool
	allPositions  bool
}

func newPlayCommand(ctx *commandContext) *cobra.Command {
	var opts playOptions

	cmd := &cobra.Command{
		Use:   "play <file.wav>",
		Short: "Load a file and control playback from stdin",
		Long: "Starts the playback backend, loads the file and reads transport commands\n" +
			"from stdin, one per line. Type help at the prompt for the command list.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			return runPlay(cmd, cfg, logger, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.timelinePath, "timeline", "t", "", "JSON file with the clip timeline")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics", "", "Serve Prometheus metrics on host:port (overrides config)")
	cmd.Flags().BoolVar(&opts.autoplay, "autoplay", false, "Start playback after loading")
	cmd.Flags().BoolVar(&opts.allPositions, "positions", false, "Print every position report instead of word changes only")
	return cmd
}

func runPlay(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, path string, opts playOptions) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var clips []timeline.Clip
	if opts.timelinePath != "" {
		var err error
		if clips, err = readTimeline(opts.timelinePath); err != nil {
			return err
		}
	}

	transportID := uuid.NewString()
	logger = logger.With(logging.String(logging.FieldTransportID, transportID))

	sessionOpts := []transport.Option{transport.WithLogger(logger)}

	store, err := journal.OpenFromConfig(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "incident journal unavailable", "journal_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "backend incidents will not be recorded"),
		)
	} else {
		defer store.Close()
		sessionOpts = append(sessionOpts, transport.WithJournal(store))
	}

	m := metrics.New()
	sessionOpts = append(sessionOpts, transport.WithMetrics(m))
	listen := opts.metricsListen
	if listen == "" {
		listen = cfg.Metrics.Listen
	}
	if listen != "" {
		srv := metrics.NewServer(listen, m, logger)
		if _, err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics endpoint: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	grace := cfg.Transport.EDLFileGrace()
	if removed, err := spool.Sweep(cfg.Paths.CacheDir, grace, time.Now()); err != nil {
		logger.Warn("edl spool sweep failed", logging.Error(err))
	} else if removed > 0 {
		logger.Info("removed stale edl files", logging.Int("count", removed))
	}
	sp, err := spool.New(cfg.Paths.CacheDir, transportID[:8], spool.WithGrace(grace), spool.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sp.Close()
	sessionOpts = append(sessionOpts, transport.WithSpool(sp))

	launcher, err := supervisor.LauncherFrom(cfg)
	if err != nil {
		return err
	}
	sup := supervisor.New(launcher, supervisor.ConfigFrom(cfg), supervisor.WithLogger(logger))

	settings := transport.SettingsFromConfig(cfg)
	settings.TransportID = transportID
	session, err := transport.New(sup, settings, sessionOpts...)
	if err != nil {
		_ = sup.Dispose()
		return err
	}

	con := newConsole(session, cmd.InOrStdin(), cmd.OutOrStdout())
	con.allPositions = opts.allPositions
	con.interactive = isTerminal(cmd.InOrStdin())
	go con.watch()
	defer func() {
		_ = session.Close()
		<-con.done
	}()

	if err := con.load(ctx, path); err != nil {
		return err
	}
	if len(clips) > 0 {
		if err := session.SetTimeline(ctx, clips); err != nil {
			return fmt.Errorf("set timeline: %w", err)
		}
		con.printf("timeline: %d clips\n", len(clips))
	}
	if opts.autoplay {
		if err := session.Play(ctx); err != nil {
			return err
		}
	}
	return con.run(ctx)
}

func readTimeline(path string) ([]timeline.Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	var clips []timeline.Clip
	if err := json.Unmarshal(data, &clips); err != nil {
		return nil, fmt.Errorf("parse timeline %s: %w", path, err)
	}
	if _, err := timeline.NewMapper(clips); err != nil {
		return nil, err
	}
	return clips, nil
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
