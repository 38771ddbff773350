package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cutline/internal/deps"
	"cutline/internal/journal"
	"cutline/internal/spool"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var sweep bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the backend binary, directories and incident journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			var rows [][]string
			problems := 0
			add := func(s deps.Status) {
				status := "ok"
				if !s.Available {
					status = "missing"
					if s.Optional {
						status = "optional"
					} else {
						problems++
					}
				}
				rows = append(rows, []string{s.Name, status, s.Command, firstNonEmpty(s.Detail, s.Description)})
			}

			for _, s := range deps.CheckBinaries(deps.Requirements(cfg)) {
				add(s)
			}
			for _, s := range deps.CheckDirectories(cfg) {
				add(s)
			}
			add(journalStatus(cmd, cfg.JournalPath()))

			if sweep {
				removed, err := spool.Sweep(cfg.Paths.CacheDir, cfg.Transport.EDLFileGrace(), time.Now())
				s := deps.Status{Name: "EDL sweep", Command: cfg.Paths.CacheDir, Available: err == nil}
				if err != nil {
					s.Detail = err.Error()
				} else {
					s.Description = "removed " + strconv.Itoa(removed) + " stale files"
				}
				add(s)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]column{
					{Title: "Check"},
					{Title: "Status"},
					{Title: "Target"},
					{Title: "Detail", Wrap: detailWrap},
				},
				rows,
			))
			if problems > 0 {
				return fmt.Errorf("%d required checks failed", problems)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sweep, "sweep", false, "Remove EDL files left behind by crashed sessions")
	return cmd
}

func journalStatus(cmd *cobra.Command, path string) deps.Status {
	s := deps.Status{Name: "Journal", Command: path}
	store, err := journal.Open(path)
	if err != nil {
		s.Detail = err.Error()
		return s
	}
	defer store.Close()
	counts, err := store.Counts(cmd.Context())
	if err != nil {
		s.Detail = err.Error()
		return s
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	s.Available = true
	s.Description = strconv.Itoa(total) + " incidents recorded"
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
