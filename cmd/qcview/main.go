// Command qcview reviews fMRIPrep QC figures and records per-run verdicts.
package main

import (
	"os"

	"github.com/kingrea/qcview/internal/cli"
	"github.com/kingrea/qcview/internal/qcerr"
)

func main() {
	if err := cli.Execute(os.Stdout, os.Stderr); err != nil {
		qcerr.Print(os.Stderr, err)
		os.Exit(qcerr.ExitCode(err))
	}
}
