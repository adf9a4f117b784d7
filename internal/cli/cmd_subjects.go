package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kingrea/qcview/internal/step"
	"github.com/kingrea/qcview/internal/verdict"
)

type subjectRow struct {
	Subject string   `json:"subject"`
	Runs    int      `json:"runs"`
	Steps   []string `json:"steps"`
	Passed  int      `json:"passed"`
	Maybe   int      `json:"maybe"`
	Failed  int      `json:"failed"`
}

func newSubjectsCmd(global *GlobalOpts) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "subjects <derivatives>",
		Short: "List subjects with their run counts and verdicts",
		Args:  requireDerivatives,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(*global, args[0])
			if err != nil {
				return err
			}
			rows, err := subjectRows(s)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return writeSubjects(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func subjectRows(s *session) ([]subjectRow, error) {
	subjects, err := s.index.ListSubjects()
	if err != nil {
		return nil, err
	}
	snapshot := s.store.Snapshot()
	rows := make([]subjectRow, 0, len(subjects))
	for _, subject := range subjects {
		runs, err := s.index.ListRuns(subject)
		if err != nil {
			return nil, err
		}
		// union of steps offered across the subject's runs
		var offered []step.Token
		if len(runs) == 0 {
			offered, err = s.index.AvailableSteps(subject, "")
			if err != nil {
				return nil, err
			}
		}
		for _, run := range runs {
			steps, err := s.index.AvailableSteps(subject, run.Value)
			if err != nil {
				return nil, err
			}
			offered = append(offered, steps...)
		}
		row := subjectRow{Subject: subject, Runs: len(runs), Steps: []string{}}
		for _, t := range step.Ordered(offered) {
			row.Steps = append(row.Steps, string(t))
		}
		for _, record := range snapshot[subject] {
			switch record.Status {
			case verdict.Passed:
				row.Passed++
			case verdict.Maybe:
				row.Maybe++
			case verdict.Failed:
				row.Failed++
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeSubjects(out io.Writer, rows []subjectRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tRUNS\tPASSED\tMAYBE\tFAILED\tSTEPS")
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join([]string{
			"sub-" + row.Subject,
			strconv.Itoa(row.Runs),
			strconv.Itoa(row.Passed),
			strconv.Itoa(row.Maybe),
			strconv.Itoa(row.Failed),
			strings.Join(row.Steps, ","),
		}, "\t"))
	}
	return w.Flush()
}
