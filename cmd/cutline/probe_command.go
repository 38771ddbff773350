package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cutline/internal/media/wav"
)

type probeResult struct {
	Path          string  `json:"path"`
	Loadable      bool    `json:"loadable"`
	Reason        string  `json:"reason,omitempty"`
	SampleRate    uint32  `json:"sampleRate,omitempty"`
	Channels      uint16  `json:"channels,omitempty"`
	BitsPerSample uint16  `json:"bitsPerSample,omitempty"`
	DurationSec   float64 `json:"durationSec,omitempty"`
}

func newProbeCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "probe <file.wav>...",
		Short:       "Report whether WAV files can be loaded by the backend",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]probeResult, 0, len(args))
			failed := 0
			for _, path := range args {
				res := probeFile(path)
				if !res.Loadable {
					failed++
				}
				results = append(results, res)
			}

			if asJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					row := []string{r.Path, yesNo(r.Loadable), "", "", "", "", r.Reason}
					if r.SampleRate > 0 {
						row[2] = strconv.FormatUint(uint64(r.SampleRate), 10)
						row[3] = strconv.Itoa(int(r.Channels))
						row[4] = strconv.Itoa(int(r.BitsPerSample))
						row[5] = strconv.FormatFloat(r.DurationSec, 'f', 3, 64)
					}
					rows = append(rows, row)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{
						{Title: "File"},
						{Title: "Loadable"},
						{Title: "Rate", Numeric: true},
						{Title: "Channels", Numeric: true},
						{Title: "Bits", Numeric: true},
						{Title: "Seconds", Numeric: true},
						{Title: "Reason", Wrap: detailWrap},
					},
					rows,
				))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files cannot be loaded", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func probeFile(path string) probeResult {
	res := probeResult{Path: path}
	h, err := wav.ValidateFile(path)
	if h != (wav.Header{}) {
		res.SampleRate = h.SampleRate
		res.Channels = h.NumChannels
		res.BitsPerSample = h.BitsPerSample
		res.DurationSec = h.Duration()
	}
	if err != nil {
		res.Reason = err.Error()
		if !errors.Is(err, wav.ErrUnsupportedFormat) {
			res.Reason = "cannot read: " + err.Error()
		}
		return res
	}
	res.Loadable = true
	return res
}
