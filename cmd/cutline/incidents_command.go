package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cutline/internal/journal"
)

func newIncidentsCommand(ctx *commandContext) *cobra.Command {
	var (
		kind      string
		transport string
		since     time.Duration
		limit     int
		asJSON    bool
		showTail  bool
	)

	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List recorded backend incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			filter := journal.Filter{
				Kind:        journal.Kind(strings.TrimSpace(kind)),
				TransportID: strings.TrimSpace(transport),
				Limit:       limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			incidents, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, incidents)
			}

			out := cmd.OutOrStdout()
			if len(incidents) == 0 {
				fmt.Fprintln(out, "No incidents recorded")
				return nil
			}
			rows := make([][]string, 0, len(incidents))
			for _, inc := range incidents {
				rows = append(rows, []string{
					strconv.FormatInt(inc.ID, 10),
					inc.RecordedAt.Local().Format("2006-01-02 15:04:05"),
					string(inc.Kind),
					shortID(inc.TransportID),
					pidText(inc.PID),
					exitText(inc),
					strconv.Itoa(inc.Attempt),
					inc.Detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]column{
					{Title: "ID", Numeric: true},
					{Title: "Recorded"},
					{Title: "Kind"},
					{Title: "Transport"},
					{Title: "PID", Numeric: true},
					{Title: "Exit"},
					{Title: "Attempt", Numeric: true},
					{Title: "Detail", Wrap: detailWrap},
				},
				rows,
			))
			if showTail {
				for _, inc := range incidents {
					if len(inc.StderrTail) == 0 {
						continue
					}
					fmt.Fprintf(out, "\n#%d stderr:\n", inc.ID)
					for _, line := range inc.StderrTail {
						fmt.Fprintf(out, "  %s\n", line)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Only show incidents of this kind (crash, spawn_failure, restart_exhausted, edl_fallback, load_timeout)")
	cmd.Flags().StringVar(&transport, "transport", "", "Only show incidents for this transport id")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show incidents newer than this age")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of incidents")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&showTail, "stderr", false, "Print captured backend stderr")

	cmd.AddCommand(newIncidentsPruneCommand(ctx))
	return cmd
}

func newIncidentsPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old incidents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d incidents\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove incidents older than this age")
	return cmd
}

func openJournal(ctx *commandContext) (*journal.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return journal.OpenFromConfig(cfg)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func pidText(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func exitText(inc journal.Incident) string {
	switch {
	case inc.Signal != "":
		return inc.Signal
	case inc.ExitCode != nil:
		return strconv.Itoa(*inc.ExitCode)
	default:
		return "-"
	}
}
