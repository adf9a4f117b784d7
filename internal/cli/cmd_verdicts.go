package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kingrea/qcview/internal/verdict"
)

type verdictRow struct {
	Participant string `json:"participant"`
	Session     string `json:"session"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Time        string `json:"time"`
}

func newVerdictsCmd(global *GlobalOpts) *cobra.Command {
	var jsonOutput bool
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "verdicts <derivatives>",
		Short: "Print the verdicts recorded for a dataset",
		Long: `Print the verdicts recorded for a dataset.
The verdict file is chosen by --user and --dataset (defaults: login name and
the dataset folder name), the same way the viewer chooses it.`,
		Args: requireDerivatives,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *verdict.Status
			if cmd.Flags().Changed("status") {
				status, err := verdict.ParseStatus(statusFilter)
				if err != nil {
					return err
				}
				filter = &status
			}
			s, err := openSession(*global, args[0])
			if err != nil {
				return err
			}
			rows := verdictRows(s.store.Entries(), filter)
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return writeVerdicts(cmd.OutOrStdout(), s.store.Location(), rows, s.store.Summary())
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&statusFilter, "status", "", "only show failed, maybe, passed or unset")
	return cmd
}

func verdictRows(entries []verdict.Entry, filter *verdict.Status) []verdictRow {
	rows := make([]verdictRow, 0, len(entries))
	for _, e := range entries {
		if filter != nil && e.Record.Status != *filter {
			continue
		}
		rows = append(rows, verdictRow{
			Participant: e.Participant,
			Session:     e.Session,
			Status:      e.Record.Status.String(),
			Message:     e.Record.Message,
			Time:        e.Record.Time,
		})
	}
	return rows
}

func writeVerdicts(out io.Writer, location string, rows []verdictRow, summary verdict.Summary) error {
	fmt.Fprintf(out, "%s\n\n", location)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No verdicts recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTICIPANT\tSESSION\tSTATUS\tTIME\tMESSAGE")
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join([]string{
			"sub-" + row.Participant,
			row.Session,
			row.Status,
			row.Time,
			row.Message,
		}, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d passed · %d maybe · %d failed · %d unset\n",
		summary.Passed, summary.Maybe, summary.Failed, summary.Unset)
	return nil
}
