package tui

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/qcview/internal/config"
	"github.com/kingrea/qcview/internal/index"
	"github.com/kingrea/qcview/internal/navigation"
	"github.com/kingrea/qcview/internal/step"
	"github.com/kingrea/qcview/internal/verdict"
)

const (
	run1Carpet = "sub-01_ses-1_task-rest_run-1_desc-carpetplot_bold.svg"
	run1SDC    = "sub-01_ses-1_task-rest_run-1_desc-sdc_bold.svg"
	run2Carpet = "sub-01_ses-1_task-rest_run-2_desc-carpetplot_bold.svg"
	run3Carpet = "sub-01_ses-1_task-rest_run-3_desc-carpetplot_bold.svg"
	anatMNI    = "sub-01_space-MNI152NLin2009cAsym_T1w.svg"
	anatDseg   = "sub-01_dseg.svg"
	sub02Run   = "sub-02_task-rest_desc-carpetplot_bold.svg"
)

func testTree() fstest.MapFS {
	file := &fstest.MapFile{Data: []byte("<svg/>")}
	return fstest.MapFS{
		"sub-01/figures/" + run1Carpet: file,
		"sub-01/figures/" + run1SDC:    file,
		"sub-01/figures/" + run2Carpet: file,
		"sub-01/figures/" + anatMNI:    file,
		"sub-01/figures/" + anatDseg:   file,
		"sub-02/figures/" + sub02Run:   file,
		"sub-03":                       &fstest.MapFile{Mode: fs.ModeDir | 0o755},
	}
}

func newTestApp(t *testing.T, fsys fstest.MapFS, opts ...AppOption) *App {
	t.Helper()
	home := t.TempDir()
	cfg, err := config.NewConfig(home, "/data/ds000114/derivatives/fmriprep")
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	cfg.SetReviewer("tester")
	ix := index.New(cfg.DerivativesRoot, index.WithFS(fsys))
	baseOpts := []AppOption{WithIndex(ix)}
	baseOpts = append(baseOpts, opts...)
	app, err := NewApp(cfg, baseOpts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app
}

func press(t *testing.T, app *App, keys ...string) *App {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "left":
			msg = tea.KeyMsg{Type: tea.KeyLeft}
		case "right":
			msg = tea.KeyMsg{Type: tea.KeyRight}
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "shift+tab":
			msg = tea.KeyMsg{Type: tea.KeyShiftTab}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		switching := !app.editing && key.Matches(msg, app.keys.PrevSubject, app.keys.NextSubject)
		model, cmd := app.Update(msg)
		app = asApp(t, model)
		// subject switches land through their command; deliver it right away
		if switching && cmd != nil {
			model, _ = app.Update(cmd())
			app = asApp(t, model)
		}
	}
	return app
}

func asApp(t *testing.T, model tea.Model) *App {
	t.Helper()
	app, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	return app
}

func runCommands(t *testing.T, model tea.Model, cmd tea.Cmd) *App {
	t.Helper()
	app, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			break
		}
		nextModel, nextCmd := app.Update(msg)
		var ok bool
		app, ok = nextModel.(*App)
		if !ok {
			t.Fatalf("unexpected model type: %T", nextModel)
		}
		cmd = nextCmd
	}
	return app
}

func TestNewAppSelectsFirstSubjectAndRun(t *testing.T) {
	app := newTestApp(t, testTree())
	sel := app.Selection()
	if sel.Subject != "01" || sel.Position != 1 || sel.Count != 2 {
		t.Fatalf("unexpected selection: %+v", sel)
	}
	if sel.RunLabel != "ses-1_task-rest_run-1" {
		t.Fatalf("unexpected run label %q", sel.RunLabel)
	}
	if sel.Step != "sdc" {
		t.Fatalf("expected first functional step, got %q", sel.Step)
	}
	if app.artifact != run1SDC {
		t.Fatalf("artifact = %q, want %q", app.artifact, run1SDC)
	}
}

func TestRunKeysClampAtBothEnds(t *testing.T) {
	app := newTestApp(t, testTree())
	app = press(t, app, "l", "right", "l", "l")
	if got := app.nav.RunIndex; got != 1 {
		t.Fatalf("run index = %d, want 1", got)
	}
	if !app.nav.Valid() {
		t.Fatalf("state must stay valid")
	}
	// run-2 has no sdc figure, so the tab falls back to carpetplot
	if app.nav.Step != "carpetplot" || app.artifact != run2Carpet {
		t.Fatalf("unexpected step/artifact: %q %q", app.nav.Step, app.artifact)
	}
	app = press(t, app, "h", "left", "h")
	if got := app.nav.RunIndex; got != 0 {
		t.Fatalf("run index = %d, want 0", got)
	}
}

func TestSubjectKeysResetRunIndex(t *testing.T) {
	app := newTestApp(t, testTree())
	app = press(t, app, "l", "j")
	sel := app.Selection()
	if sel.Subject != "02" || sel.Position != 1 {
		t.Fatalf("unexpected selection after subject change: %+v", sel)
	}
	if sel.RunLabel != "task-rest" || sel.Session != "" {
		t.Fatalf("unexpected run: %+v", sel)
	}
	app = press(t, app, "down", "down", "down")
	if app.nav.Subject != "03" {
		t.Fatalf("subject should clamp at the last entry, got %q", app.nav.Subject)
	}
	if app.nav.Selection().HasRuns {
		t.Fatalf("sub-03 has no runs")
	}
	if !strings.Contains(app.View(), nothingToDisplay) {
		t.Fatalf("expected empty view to say %q", nothingToDisplay)
	}
	app = press(t, app, "k", "up", "up")
	if app.nav.Subject != "01" {
		t.Fatalf("expected sub-01, got %q", app.nav.Subject)
	}
}

func TestRunKeyDuringSubjectSwitchCarriesOver(t *testing.T) {
	file := &fstest.MapFile{Data: []byte("<svg/>")}
	tree := fstest.MapFS{
		"sub-01/figures/" + run1Carpet: file,
		"sub-01/figures/" + run2Carpet: file,
		"sub-02/figures/sub-02_task-rest_run-1_desc-carpetplot_bold.svg": file,
		"sub-02/figures/sub-02_task-rest_run-2_desc-carpetplot_bold.svg": file,
		"sub-02/figures/sub-02_task-rest_run-3_desc-carpetplot_bold.svg": file,
	}
	app := newTestApp(t, tree)
	app = press(t, app, "l")

	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyDown})
	app = asApp(t, model)
	if cmd == nil {
		t.Fatalf("subject key should return a switch command")
	}
	model, _ = app.Update(tea.KeyMsg{Type: tea.KeyRight})
	app = asApp(t, model)
	if app.nav.Subject != "01" || app.nav.RunIndex != 1 {
		t.Fatalf("run key must wait for the switch, got sub-%s run %d", app.nav.Subject, app.nav.RunIndex)
	}

	model, _ = app.Update(cmd())
	app = asApp(t, model)
	if app.nav.Subject != "02" {
		t.Fatalf("subject = %q, want 02", app.nav.Subject)
	}
	if app.nav.RunIndex != 2 {
		t.Fatalf("held direction should land on run index 2, got %d", app.nav.RunIndex)
	}
	if app.pending != navigation.None || app.requested != -1 {
		t.Fatalf("held direction must be consumed once: pending=%v requested=%d", app.pending, app.requested)
	}

	app = press(t, app, "k")
	if app.nav.Subject != "01" || app.nav.RunIndex != 0 {
		t.Fatalf("plain switch should reset to the first run, got sub-%s run %d", app.nav.Subject, app.nav.RunIndex)
	}
}

func TestSupersededSubjectSwitchIsDropped(t *testing.T) {
	app := newTestApp(t, testTree())
	model, first := app.Update(tea.KeyMsg{Type: tea.KeyDown})
	app = asApp(t, model)
	model, second := app.Update(tea.KeyMsg{Type: tea.KeyDown})
	app = asApp(t, model)
	if first == nil || second == nil {
		t.Fatalf("expected two switch commands")
	}

	model, _ = app.Update(first())
	app = asApp(t, model)
	if app.nav.Subject != "01" {
		t.Fatalf("stale switch should be ignored, got sub-%s", app.nav.Subject)
	}
	model, _ = app.Update(second())
	app = asApp(t, model)
	if app.nav.Subject != "03" {
		t.Fatalf("subject = %q, want 03", app.nav.Subject)
	}
}

func TestFirstAndLastRunKeys(t *testing.T) {
	app := newTestApp(t, testTree())
	app = press(t, app, "G")
	if app.nav.RunIndex != 1 || app.artifact != run2Carpet {
		t.Fatalf("G should select the last run, got %d %q", app.nav.RunIndex, app.artifact)
	}
	app = press(t, app, "g")
	if app.nav.RunIndex != 0 {
		t.Fatalf("g should select the first run, got %d", app.nav.RunIndex)
	}
	app = press(t, app, "j", "j", "G")
	if app.nav.Subject != "03" || app.nav.RunIndex != 0 || !app.nav.Valid() {
		t.Fatalf("G without runs must keep a valid state: %+v", app.nav)
	}
}

func TestStepTabsCycleAndResolve(t *testing.T) {
	app := newTestApp(t, testTree())
	want := []step.Token{"sdc", "carpetplot", "MNI152NLin2009cAsym", "dseg"}
	if len(app.nav.Steps) != len(want) {
		t.Fatalf("steps = %v, want %v", app.nav.Steps, want)
	}
	artifacts := map[step.Token]string{
		"sdc":                 run1SDC,
		"carpetplot":          run1Carpet,
		"MNI152NLin2009cAsym": anatMNI,
		"dseg":                anatDseg,
	}
	for i := 1; i <= len(want); i++ {
		app = press(t, app, "tab")
		expected := want[i%len(want)]
		if app.nav.Step != expected {
			t.Fatalf("after %d tabs step = %q, want %q", i, app.nav.Step, expected)
		}
		if app.artifact != artifacts[expected] {
			t.Fatalf("artifact for %s = %q", expected, app.artifact)
		}
	}
	app = press(t, app, "shift+tab")
	if app.nav.Step != "dseg" {
		t.Fatalf("shift+tab should wrap backwards, got %q", app.nav.Step)
	}
	// anatomical figures stay selected across runs
	app = press(t, app, "l")
	if app.nav.Step != "dseg" || app.artifact != anatDseg {
		t.Fatalf("anatomical step should survive run change: %q %q", app.nav.Step, app.artifact)
	}
}

func TestVerdictKeysPersist(t *testing.T) {
	app := newTestApp(t, testTree())
	app = press(t, app, "3")
	if got := app.store.Current("01", "1").Status; got != verdict.Passed {
		t.Fatalf("status = %q, want passed", got)
	}
	app = press(t, app, "1")
	app = press(t, app, "j", "2")

	reopened, err := verdict.Open(app.store.Location())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if got := reopened.Current("01", "1").Status; got != verdict.Failed {
		t.Fatalf("sub-01 status = %q, want failed", got)
	}
	if got := reopened.Current("02", verdict.DefaultSession).Status; got != verdict.Maybe {
		t.Fatalf("sub-02 status = %q, want maybe", got)
	}
	app = press(t, app, "0")
	if got := app.store.Current("02", "").Status; got != verdict.Unset {
		t.Fatalf("clear should unset, got %q", got)
	}
}

func TestVerdictWithoutRunIsRejected(t *testing.T) {
	app := newTestApp(t, testTree())
	app = press(t, app, "j", "j", "3")
	if app.statusMsg != "No run selected" {
		t.Fatalf("unexpected status %q", app.statusMsg)
	}
	if len(app.store.Entries()) != 0 {
		t.Fatalf("nothing should be recorded")
	}
}

func TestNoteEditing(t *testing.T) {
	app := newTestApp(t, testTree())
	app = press(t, app, "m")
	if !app.editing {
		t.Fatalf("m should start editing")
	}
	// keys are text while editing
	app = press(t, app, "j", "u", "m", "p", "y")
	if app.nav.Subject != "01" {
		t.Fatalf("navigation must be suspended while editing")
	}
	app = press(t, app, "enter")
	if app.editing {
		t.Fatalf("enter should end editing")
	}
	if got := app.store.Current("01", "1").Message; got != "jumpy" {
		t.Fatalf("message = %q, want jumpy", got)
	}

	app = press(t, app, "m", "x", "esc")
	if got := app.store.Current("01", "1").Message; got != "jumpy" {
		t.Fatalf("esc should discard, got %q", got)
	}
}

func TestSaveFailureKeepsNavigationWorking(t *testing.T) {
	app := newTestApp(t, testTree())
	dir := filepath.Dir(app.store.Location())
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove verdict dir: %v", err)
	}
	app = press(t, app, "1")
	if !strings.HasPrefix(app.statusMsg, "save failed:") {
		t.Fatalf("expected save failure in status, got %q", app.statusMsg)
	}
	if got := app.store.Current("01", "1").Status; got != verdict.Unset {
		t.Fatalf("failed write must not change the in-memory verdict, got %q", got)
	}
	app = press(t, app, "l")
	if app.nav.RunIndex != 1 {
		t.Fatalf("navigation should keep working after a save failure")
	}
	if !strings.Contains(app.View(), "save failed") {
		t.Fatalf("view should surface the failure")
	}
}

func TestOpenUsesServerURL(t *testing.T) {
	var gotName string
	var gotArgs []string
	opener := func(name string, args ...string) error {
		gotName = name
		gotArgs = args
		return nil
	}
	app := newTestApp(t, testTree(), WithServerURL("http://127.0.0.1:8050/"), WithOpener(opener))
	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("o")})
	if cmd == nil {
		t.Fatalf("expected open command")
	}
	app = runCommands(t, model, cmd)
	if gotName != "xdg-open" {
		t.Fatalf("viewer = %q", gotName)
	}
	want := "http://127.0.0.1:8050/images/01/" + run1SDC
	if len(gotArgs) != 1 || gotArgs[0] != want {
		t.Fatalf("args = %v, want [%s]", gotArgs, want)
	}
	if app.statusMsg != "Opened "+want {
		t.Fatalf("unexpected status %q", app.statusMsg)
	}
}

func TestOpenWithoutServerUsesFilePath(t *testing.T) {
	var gotArgs []string
	opener := func(name string, args ...string) error {
		gotArgs = args
		return errors.New("no display")
	}
	app := newTestApp(t, testTree(), WithOpener(opener))
	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("o")})
	app = runCommands(t, model, cmd)
	want := filepath.Join(app.config.DerivativesRoot, "sub-01", "figures", run1SDC)
	if len(gotArgs) != 1 || gotArgs[0] != want {
		t.Fatalf("args = %v, want [%s]", gotArgs, want)
	}
	if !strings.HasPrefix(app.statusMsg, "open failed") {
		t.Fatalf("expected open failure, got %q", app.statusMsg)
	}
}

func TestRescanPicksUpNewRuns(t *testing.T) {
	tree := testTree()
	app := newTestApp(t, tree)
	app = press(t, app, "l")
	tree["sub-01/figures/"+run3Carpet] = &fstest.MapFile{Data: []byte("<svg/>")}
	app = press(t, app, "r")
	if got := len(app.nav.Runs); got != 3 {
		t.Fatalf("runs after rescan = %d, want 3", got)
	}
	if app.nav.RunIndex != 1 {
		t.Fatalf("rescan should keep the run index, got %d", app.nav.RunIndex)
	}
	app = press(t, app, "l")
	if app.artifact != run3Carpet {
		t.Fatalf("artifact = %q, want %q", app.artifact, run3Carpet)
	}
}

func TestQuitAndHelp(t *testing.T) {
	app := newTestApp(t, testTree())
	app = press(t, app, "?")
	if !app.help.ShowAll {
		t.Fatalf("? should expand help")
	}
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected quit message")
	}
}

func TestLogPanelShowsJournal(t *testing.T) {
	app := newTestApp(t, testTree())
	app = press(t, app, "3")
	view := app.View()
	if !strings.Contains(view, "LOG · journal.log") {
		t.Fatalf("expected log panel in view")
	}
}
