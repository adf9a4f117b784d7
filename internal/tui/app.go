// internal/tui/app.go
//
// This is the review screen for qcview. It uses bubbletea, which follows The
// Elm Architecture:
//
// 1. Model: the App below (selection, store, journal)
// 2. Update: every key press becomes one navigation event or one store action
// 3. View: renders the selection, step tabs, verdict and log tail
//
// The flow is: Key -> Update -> navigation.Transition -> New State -> View

package tui

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/qcview/internal/config"
	"github.com/kingrea/qcview/internal/imageserver"
	"github.com/kingrea/qcview/internal/index"
	"github.com/kingrea/qcview/internal/locator"
	"github.com/kingrea/qcview/internal/logbook"
	"github.com/kingrea/qcview/internal/navigation"
	"github.com/kingrea/qcview/internal/step"
	"github.com/kingrea/qcview/internal/verdict"
)

const nothingToDisplay = "Nothing to display"

// Opener launches an external program without waiting for it.
type Opener func(name string, args ...string) error

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithIndex replaces the derivatives index built from the config.
func WithIndex(ix *index.Index) AppOption {
	return func(a *App) {
		if ix != nil {
			a.index = ix
		}
	}
}

// WithVerdictStore replaces the store opened from the config.
func WithVerdictStore(store *verdict.Store) AppOption {
	return func(a *App) {
		if store != nil {
			a.store = store
		}
	}
}

// WithLogbook replaces the journal opened from the config.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		if lb != nil {
			a.logbook = lb
		}
	}
}

// WithServerURL makes "o" open figures through the image server.
func WithServerURL(url string) AppOption {
	return func(a *App) {
		a.serverURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

// WithOpener overrides how the viewer command is launched.
func WithOpener(opener Opener) AppOption {
	return func(a *App) {
		if opener != nil {
			a.opener = opener
		}
	}
}

// subjectRequestedMsg completes a subject switch started by the subject keys.
type subjectRequestedMsg struct {
	idx int
}

type viewerOpenedMsg struct {
	target string
	err    error
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	config    *config.Config
	index     *index.Index
	machine   *navigation.Machine
	locator   *locator.Locator
	store     *verdict.Store
	logbook   *logbook.Logbook
	serverURL string
	opener    Opener

	subjects   []string
	subjectIdx int
	nav        navigation.State

	// requested is the subject index of an in-flight switch, -1 when idle.
	// Run keys pressed meanwhile are held in pending.
	requested int
	pending   navigation.Direction

	// artifact is the resolved figure for the selection, "" when none.
	artifact   string
	resolveErr error

	keys    keyMap
	help    help.Model
	note    textinput.Model
	editing bool

	statusMsg string

	width  int
	height int
}

// NewApp opens the index, verdict store and journal described by cfg and
// selects the first subject.
func NewApp(cfg *config.Config, opts ...AppOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tui: config is required")
	}
	app := &App{
		config:    cfg,
		opener:    startDetached,
		requested: -1,
		keys:      defaultKeyMap(),
		help:      help.New(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	if app.logbook == nil {
		if lb, err := logbook.New(cfg.JournalPath()); err == nil {
			app.logbook = lb
		}
	}
	if app.index == nil {
		ixOpts := []index.Option{index.WithCanonicalStep(cfg.CanonicalStep())}
		if app.logbook != nil {
			ixOpts = append(ixOpts, index.WithLogger(app.logbook))
		}
		app.index = index.New(cfg.DerivativesRoot, ixOpts...)
	}
	if app.store == nil {
		store, err := verdict.Open(cfg.VerdictPath())
		if err != nil {
			return nil, err
		}
		app.store = store
	}
	app.locator = locator.New(app.index, app.index.CanonicalStep())
	app.machine = navigation.New(app.index)

	note := textinput.New()
	note.Placeholder = "Note for this run"
	note.Prompt = "note › "
	note.CharLimit = 500
	note.Width = 60
	app.note = note

	subjects, err := app.index.ListSubjects()
	if err != nil {
		return nil, err
	}
	app.subjects = subjects
	if err := app.selectSubject(0, navigation.None); err != nil {
		return nil, err
	}
	app.logInfo("Session opened · %d subjects · reviewer %s · %s",
		len(subjects), cfg.Reviewer, app.store.Location())
	return app, nil
}

// Selection exposes the current navigation projection.
func (a *App) Selection() navigation.Selection {
	return a.nav.Selection()
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Warn(format, args...)
}

func (a *App) logError(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Error(format, args...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		a.note.Width = max(20, msg.Width-20)
		return a, nil

	case subjectRequestedMsg:
		if msg.idx != a.requested {
			return a, nil
		}
		pending := a.pending
		a.requested, a.pending = -1, navigation.None
		if err := a.selectSubject(msg.idx, pending); err != nil {
			a.statusMsg = err.Error()
			a.logWarn("Navigation · %v", err)
		}
		return a, nil

	case viewerOpenedMsg:
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("open failed: %v", msg.err)
			a.logError("Viewer · %s: %v", msg.target, msg.err)
		} else {
			a.statusMsg = fmt.Sprintf("Opened %s", msg.target)
		}
		return a, nil

	case tea.KeyMsg:
		if a.editing {
			return a.updateNote(msg)
		}
		switch {
		case key.Matches(msg, a.keys.Quit):
			a.logInfo("Session closed")
			return a, tea.Quit
		case key.Matches(msg, a.keys.PrevRun):
			a.navigate(navigation.Previous)
		case key.Matches(msg, a.keys.NextRun):
			a.navigate(navigation.Next)
		case key.Matches(msg, a.keys.FirstRun):
			a.apply(navigation.RunSelected{Index: 0})
		case key.Matches(msg, a.keys.LastRun):
			a.apply(navigation.RunSelected{Index: len(a.nav.Runs) - 1})
		case key.Matches(msg, a.keys.PrevSubject):
			return a, a.moveSubject(-1)
		case key.Matches(msg, a.keys.NextSubject):
			return a, a.moveSubject(1)
		case key.Matches(msg, a.keys.NextStep):
			a.cycleStep(1)
		case key.Matches(msg, a.keys.PrevStep):
			a.cycleStep(-1)
		case key.Matches(msg, a.keys.Failed):
			a.recordVerdict(verdict.Failed)
		case key.Matches(msg, a.keys.Maybe):
			a.recordVerdict(verdict.Maybe)
		case key.Matches(msg, a.keys.Passed):
			a.recordVerdict(verdict.Passed)
		case key.Matches(msg, a.keys.Clear):
			a.recordVerdict(verdict.Unset)
		case key.Matches(msg, a.keys.Note):
			return a, a.beginNote()
		case key.Matches(msg, a.keys.Open):
			return a, a.openArtifact()
		case key.Matches(msg, a.keys.Rescan):
			a.rescan()
		case key.Matches(msg, a.keys.Help):
			a.help.ShowAll = !a.help.ShowAll
		}
		return a, nil
	}

	if a.editing {
		var cmd tea.Cmd
		a.note, cmd = a.note.Update(msg)
		return a, cmd
	}
	return a, nil
}

// apply feeds one event through the navigation machine. A failed transition
// leaves the selection untouched.
func (a *App) apply(ev navigation.Event) {
	next, err := a.machine.Transition(a.nav, ev)
	if err != nil {
		a.statusMsg = err.Error()
		a.logWarn("Navigation · %v", err)
		return
	}
	a.nav = next
	a.resolve()
}

// navigate moves the run cursor. During a subject switch the direction is
// held and applied against the incoming subject's runs instead.
func (a *App) navigate(dir navigation.Direction) {
	if a.requested >= 0 {
		a.pending = dir
		return
	}
	a.apply(navigation.Navigate{Direction: dir})
}

func (a *App) selectSubject(idx int, pending navigation.Direction) error {
	if len(a.subjects) == 0 {
		return fmt.Errorf("tui: no subjects")
	}
	idx = clampIndex(idx, len(a.subjects))
	next, err := a.machine.Transition(a.nav, navigation.SubjectChanged{
		Subject: a.subjects[idx],
		Pending: pending,
	})
	if err != nil {
		return err
	}
	a.subjectIdx = idx
	a.nav = next
	a.resolve()
	return nil
}

// moveSubject starts a switch relative to the latest requested subject. The
// switch lands when the returned command's message comes back through Update;
// a newer request supersedes an older one.
func (a *App) moveSubject(delta int) tea.Cmd {
	from := a.subjectIdx
	if a.requested >= 0 {
		from = a.requested
	}
	target := clampIndex(from+delta, len(a.subjects))
	if target == from {
		return nil
	}
	a.requested = target
	return func() tea.Msg {
		return subjectRequestedMsg{idx: target}
	}
}

func (a *App) cycleStep(offset int) {
	if t, ok := a.nav.StepOffset(offset); ok && t != a.nav.Step {
		a.apply(navigation.StepSelected{Step: t})
	}
}

func (a *App) resolve() {
	a.artifact = ""
	a.resolveErr = nil
	if a.nav.Step == "" {
		return
	}
	run, _ := a.nav.CurrentRun()
	name, ok, err := a.locator.Resolve(a.nav.Subject, run.Value, a.nav.Step)
	if err != nil {
		a.resolveErr = err
		a.logWarn("Locate · sub-%s %s: %v", a.nav.Subject, a.nav.Step, err)
		return
	}
	if ok {
		a.artifact = name
	}
}

func (a *App) rescan() {
	subjects, err := a.index.ListSubjects()
	if err != nil {
		a.statusMsg = fmt.Sprintf("rescan failed: %v", err)
		a.logWarn("Rescan · %v", err)
		return
	}
	a.subjects = subjects
	a.requested, a.pending = -1, navigation.None
	idx := indexOf(subjects, a.nav.Subject)
	if idx < 0 {
		if err := a.selectSubject(0, navigation.None); err != nil {
			a.statusMsg = err.Error()
			return
		}
	} else {
		a.subjectIdx = idx
		a.apply(navigation.Refresh{})
	}
	a.statusMsg = fmt.Sprintf("Rescanned · %d subjects · %d runs for sub-%s",
		len(subjects), len(a.nav.Runs), a.nav.Subject)
	a.logInfo("%s", a.statusMsg)
}

// verdictKey returns the participant and session the current run is judged
// under. Subjects without runs cannot be judged.
func (a *App) verdictKey() (string, string, bool) {
	run, ok := a.nav.CurrentRun()
	if !ok {
		return "", "", false
	}
	return a.nav.Subject, run.Session, true
}

func (a *App) recordVerdict(status verdict.Status) {
	participant, session, ok := a.verdictKey()
	if !ok {
		a.statusMsg = "No run selected"
		return
	}
	if err := a.store.RecordVerdict(participant, session, status); err != nil {
		a.statusMsg = fmt.Sprintf("save failed: %v", err)
		a.logError("Verdict · sub-%s/%s: %v", participant, verdict.SessionKey(session), err)
		return
	}
	a.statusMsg = fmt.Sprintf("sub-%s · %s · %s", participant, verdict.SessionKey(session), status)
	a.logInfo("Verdict · %s", a.statusMsg)
}

func (a *App) beginNote() tea.Cmd {
	participant, session, ok := a.verdictKey()
	if !ok {
		a.statusMsg = "No run selected"
		return nil
	}
	a.editing = true
	a.note.SetValue(a.store.Current(participant, session).Message)
	a.note.CursorEnd()
	return a.note.Focus()
}

func (a *App) endNote() {
	a.editing = false
	a.note.Blur()
	a.note.Reset()
}

func (a *App) updateNote(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit
	case "esc":
		a.endNote()
		a.statusMsg = "Note discarded"
		return a, nil
	case "enter":
		text := strings.TrimSpace(a.note.Value())
		a.endNote()
		participant, session, ok := a.verdictKey()
		if !ok {
			return a, nil
		}
		if err := a.store.RecordMessage(participant, session, text); err != nil {
			a.statusMsg = fmt.Sprintf("save failed: %v", err)
			a.logError("Note · sub-%s/%s: %v", participant, verdict.SessionKey(session), err)
			return a, nil
		}
		a.statusMsg = fmt.Sprintf("Note saved for sub-%s · %s", participant, verdict.SessionKey(session))
		a.logInfo("%s", a.statusMsg)
		return a, nil
	}
	var cmd tea.Cmd
	a.note, cmd = a.note.Update(msg)
	return a, cmd
}

// artifactTarget is what the viewer command receives: the image server URL
// when one is running, otherwise the file path.
func (a *App) artifactTarget() (string, error) {
	if a.serverURL != "" {
		return imageserver.ImageURL(a.serverURL, a.nav.Subject, a.artifact), nil
	}
	rel, err := a.index.Locate(a.nav.Subject, a.artifact)
	if err != nil {
		return "", err
	}
	return a.index.Path(rel), nil
}

func (a *App) openArtifact() tea.Cmd {
	if a.artifact == "" {
		a.statusMsg = nothingToDisplay
		return nil
	}
	target, err := a.artifactTarget()
	if err != nil {
		a.statusMsg = fmt.Sprintf("open failed: %v", err)
		return nil
	}
	name, args := a.config.ViewerCommand()
	if name == "" {
		a.statusMsg = "No viewer command configured"
		return nil
	}
	args = append(args, target)
	opener := a.opener
	return func() tea.Msg {
		return viewerOpenedMsg{target: target, err: opener(name, args...)}
	}
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	leftWidth := max(18, width/5)
	rightWidth := width - leftWidth - 4
	if rightWidth < 40 {
		rightWidth = width - 4
		leftWidth = 0
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render(fmt.Sprintf("◉ QCVIEW · %s · %s", a.config.Dataset, a.config.Reviewer))

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1)
	right := panel.Width(max(20, rightWidth)).Render(a.renderReview(rightWidth - 4))
	body := right
	if leftWidth > 0 {
		left := panel.Width(leftWidth).Render(a.renderSubjects())
		body = lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	}

	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer, a.help.View(a.keys))
	return strings.Join(sections, "\n")
}

func (a *App) renderSubjects() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render("SUBJECTS")
	snapshot := a.store.Snapshot()
	lines := []string{title}
	for i, subject := range a.subjects {
		line := fmt.Sprintf("%s sub-%s", statusGlyph(worstStatus(snapshot[subject])), subject)
		if i == a.subjectIdx {
			line = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Render("› " + line)
		} else {
			line = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Render("  " + line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderReview(width int) string {
	sel := a.nav.Selection()
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))

	var runLine string
	if sel.HasRuns {
		runLine = fmt.Sprintf("%s  %s", title.Render(sel.RunLabel), muted.Render(fmt.Sprintf("run %d/%d", sel.Position, sel.Count)))
	} else {
		runLine = muted.Render(fmt.Sprintf("sub-%s has no %s figures", sel.Subject, a.index.CanonicalStep()))
	}

	lines := []string{
		title.Render("sub-" + sel.Subject),
		runLine,
		"",
		a.renderStepTabs(),
		"",
	}

	switch {
	case a.resolveErr != nil:
		lines = append(lines, lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Render(a.resolveErr.Error()))
	case a.artifact == "":
		lines = append(lines, muted.Render(nothingToDisplay))
	default:
		lines = append(lines, lipgloss.NewStyle().Width(max(20, width)).Render(a.artifact))
		if a.serverURL != "" {
			lines = append(lines, muted.Render(imageserver.ImageURL(a.serverURL, sel.Subject, a.artifact)))
		}
	}

	if participant, session, ok := a.verdictKey(); ok {
		record := a.store.Current(participant, session)
		lines = append(lines, "", fmt.Sprintf("Verdict (%s): %s", verdict.SessionKey(session), statusStyle(record.Status).Render(record.Status.String())))
		if record.Message != "" {
			lines = append(lines, muted.Render("Note: "+record.Message))
		}
		if record.Time != "" {
			lines = append(lines, muted.Render("Updated "+record.Time))
		}
	}
	if a.editing {
		lines = append(lines, "", a.note.View())
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderStepTabs() string {
	if len(a.nav.Steps) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("No steps available")
	}
	active := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF")).
		Padding(0, 1)
	inactive := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Padding(0, 1)
	tabs := make([]string, 0, len(a.nav.Steps))
	for _, t := range a.nav.Steps {
		label, err := step.Label(t)
		if err != nil {
			label = string(t)
		}
		if t == a.nav.Step {
			tabs = append(tabs, active.Render(label))
		} else {
			tabs = append(tabs, inactive.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s · %d entries", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

// worstStatus folds a participant's sessions into one mark: failed beats
// maybe beats passed.
func worstStatus(sessions map[string]verdict.Record) verdict.Status {
	rank := map[verdict.Status]int{verdict.Passed: 1, verdict.Maybe: 2, verdict.Failed: 3}
	worst := verdict.Unset
	for _, record := range sessions {
		if rank[record.Status] > rank[worst] {
			worst = record.Status
		}
	}
	return worst
}

func statusGlyph(status verdict.Status) string {
	switch status {
	case verdict.Passed:
		return statusStyle(status).Render("✓")
	case verdict.Maybe:
		return statusStyle(status).Render("?")
	case verdict.Failed:
		return statusStyle(status).Render("✗")
	default:
		return statusStyle(status).Render("·")
	}
}

func statusStyle(status verdict.Status) lipgloss.Style {
	switch status {
	case verdict.Passed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	case verdict.Maybe:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	case verdict.Failed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	}
}

func indexOf(values []string, target string) int {
	for i, value := range values {
		if value == target {
			return i
		}
	}
	return -1
}

func clampIndex(i, count int) int {
	if count <= 0 || i < 0 {
		return 0
	}
	if i >= count {
		return count - 1
	}
	return i
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
