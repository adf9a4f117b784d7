package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/qcview/internal/config"
	"github.com/kingrea/qcview/internal/qcerr"
	"github.com/kingrea/qcview/internal/step"
	"github.com/kingrea/qcview/internal/verdict"
)

// executeCmd runs the root command with the given args and returns stdout, stderr, and error.
func executeCmd(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd := NewRootCmd()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	if args == nil {
		args = []string{}
	}
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "ds001", "derivatives", "fmriprep")
	files := []string{
		"sub-01/figures/sub-01_task-rest_run-1_desc-carpetplot_bold.svg",
		"sub-01/figures/sub-01_task-rest_run-1_desc-sdc_bold.svg",
		"sub-01/figures/sub-01_task-rest_run-2_desc-carpetplot_bold.svg",
		"sub-01/figures/sub-01_dseg.svg",
		"sub-02/figures/sub-02_ses-a_task-rest_desc-carpetplot_bold.svg",
	}
	for _, name := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("<svg/>"), 0o644))
	}
	return root
}

func TestRootHelp(t *testing.T) {
	stdout, _, err := executeCmd("--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "qcview")
	for _, name := range []string{"subjects", "verdicts", "--no-server", "--canonical-step", "--save"} {
		assert.Contains(t, stdout, name)
	}
}

func TestRootRequiresDerivatives(t *testing.T) {
	_, _, err := executeCmd()
	require.Error(t, err)
	assert.Equal(t, qcerr.EUsage, qcerr.GetCode(err))
	assert.Equal(t, 2, qcerr.ExitCode(err))
}

func TestMissingDerivativesIsNotFound(t *testing.T) {
	_, _, err := executeCmd("subjects", filepath.Join(t.TempDir(), "missing"), "--home", t.TempDir())
	require.Error(t, err)
	assert.True(t, qcerr.IsNotFound(err))
}

func TestSubjectsListsRunsAndSteps(t *testing.T) {
	root := writeTree(t)
	home := t.TempDir()
	stdout, _, err := executeCmd("subjects", root, "--home", home, "--user", "alice")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "SUBJECT"))
	assert.Contains(t, lines[1], "sub-01")
	assert.Contains(t, lines[1], "sdc,carpetplot,dseg")
	assert.Contains(t, lines[2], "sub-02")

	stdout, _, err = executeCmd("subjects", root, "--home", home, "--json")
	require.NoError(t, err)
	var rows []subjectRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, subjectRow{Subject: "01", Runs: 2, Steps: []string{"sdc", "carpetplot", "dseg"}}, rows[0])
	assert.Equal(t, 1, rows[1].Runs)
}

func TestSaveRemembersReviewerAndCanonicalStep(t *testing.T) {
	root := writeTree(t)
	home := t.TempDir()
	_, _, err := executeCmd("subjects", root, "--home", home,
		"--user", "carol", "--dataset", "other", "--canonical-step", "sdc", "--save")
	require.NoError(t, err)

	cfg, err := config.NewConfig(home, root)
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.Reviewer)
	assert.Equal(t, step.Token("sdc"), cfg.CanonicalStep())
	assert.Equal(t, "ds001", cfg.Dataset, "dataset is per tree and never saved")

	_, _, err = executeCmd("subjects", root, "--home", home, "--user", "dave")
	require.NoError(t, err)
	cfg, err = config.NewConfig(home, root)
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.Reviewer, "without --save flags stay per run")
}

func TestSubjectsRejectsAnatomicalCanonicalStep(t *testing.T) {
	_, _, err := executeCmd("subjects", writeTree(t), "--home", t.TempDir(), "--canonical-step", "dseg")
	require.Error(t, err)
	assert.Equal(t, qcerr.EUsage, qcerr.GetCode(err))
}

func TestVerdictsPrintsRecordedStore(t *testing.T) {
	root := writeTree(t)
	home := t.TempDir()
	store, err := verdict.Open(verdict.Path(home, "alice", "ds001"))
	require.NoError(t, err)
	require.NoError(t, store.RecordVerdict("01", "", verdict.Passed))
	require.NoError(t, store.RecordVerdict("02", "a", verdict.Failed))
	require.NoError(t, store.RecordMessage("02", "a", "ghosting"))

	stdout, _, err := executeCmd("verdicts", root, "--home", home, "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, store.Location())
	assert.Contains(t, stdout, "ghosting")
	assert.Contains(t, stdout, "1 passed · 0 maybe · 1 failed · 0 unset")

	stdout, _, err = executeCmd("verdicts", root, "--home", home, "--user", "alice", "--status", "failed", "--json")
	require.NoError(t, err)
	var rows []verdictRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "02", rows[0].Participant)
	assert.Equal(t, "a", rows[0].Session)
	assert.Equal(t, "ghosting", rows[0].Message)
}

func TestVerdictsAreIsolatedPerReviewer(t *testing.T) {
	root := writeTree(t)
	home := t.TempDir()
	store, err := verdict.Open(verdict.Path(home, "alice", "ds001"))
	require.NoError(t, err)
	require.NoError(t, store.RecordVerdict("01", "", verdict.Passed))

	stdout, _, err := executeCmd("verdicts", root, "--home", home, "--user", "bob")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No verdicts recorded.")
}

func TestVerdictsRejectsUnknownStatus(t *testing.T) {
	_, _, err := executeCmd("verdicts", writeTree(t), "--home", t.TempDir(), "--status", "great")
	require.Error(t, err)
	assert.Equal(t, qcerr.EUsage, qcerr.GetCode(err))
}
