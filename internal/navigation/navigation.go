// Package navigation owns the reviewer's selection: current subject, run
// index and step. Every user action is one event fed through Transition,
// which returns the next state; display values are projections of that state.
package navigation

import (
	"fmt"

	"github.com/kingrea/qcview/internal/index"
	"github.com/kingrea/qcview/internal/qcerr"
	"github.com/kingrea/qcview/internal/step"
)

// Direction is a pending previous/next request.
type Direction int

const (
	None Direction = iota
	Previous
	Next
)

func (d Direction) String() string {
	switch d {
	case Previous:
		return "previous"
	case Next:
		return "next"
	default:
		return "none"
	}
}

func (d Direction) delta() int {
	switch d {
	case Previous:
		return -1
	case Next:
		return 1
	default:
		return 0
	}
}

// Source supplies run and step lists. *index.Index satisfies it; tests pass
// synthetic listings.
type Source interface {
	ListRuns(subject string) ([]index.Run, error)
	AvailableSteps(subject, runValue string) ([]step.Token, error)
}

// Event is one reviewer action.
type Event interface {
	event()
}

// SubjectChanged switches subject. Pending carries a directional key press
// that arrived together with the change.
type SubjectChanged struct {
	Subject string
	Pending Direction
}

// Navigate moves the run index by one, clamped at both ends.
type Navigate struct {
	Direction Direction
}

// RunSelected jumps to a run by position.
type RunSelected struct {
	Index int
}

// StepSelected switches the step tab.
type StepSelected struct {
	Step step.Token
}

// Refresh re-reads the current subject's runs and steps.
type Refresh struct{}

func (SubjectChanged) event() {}
func (Navigate) event()       {}
func (RunSelected) event()    {}
func (StepSelected) event()   {}
func (Refresh) event()        {}

// State is the selection. Runs and Steps are replaced wholesale on refresh,
// never mutated in place.
type State struct {
	Subject  string
	Runs     []index.Run
	RunIndex int
	Steps    []step.Token
	Step     step.Token
	Pending  Direction
}

// Machine applies events against a Source.
type Machine struct {
	source Source
}

// New returns a Machine reading from source.
func New(source Source) *Machine {
	return &Machine{source: source}
}

// Start builds the initial state for subject.
func (m *Machine) Start(subject string) (State, error) {
	return m.Transition(State{}, SubjectChanged{Subject: subject})
}

// Transition applies ev to s. Lists are refreshed first, then the pending
// direction is applied once against the new bounds, then the step is checked
// against the offered steps. On error s is returned unchanged.
func (m *Machine) Transition(s State, ev Event) (State, error) {
	next := s
	next.Pending = None
	target := s.RunIndex

	switch e := ev.(type) {
	case SubjectChanged:
		runs, err := m.source.ListRuns(e.Subject)
		if err != nil {
			return s, fmt.Errorf("navigation: list runs for sub-%s: %w", e.Subject, err)
		}
		next.Subject = e.Subject
		next.Runs = runs
		pending := e.Pending
		if pending == None {
			pending = s.Pending
		}
		if pending == None {
			target = 0
		} else {
			target = s.RunIndex + pending.delta()
		}
	case Navigate:
		target = s.RunIndex + e.Direction.delta()
	case RunSelected:
		target = e.Index
	case StepSelected:
		return m.selectStep(s, e.Step)
	case Refresh:
		runs, err := m.source.ListRuns(s.Subject)
		if err != nil {
			return s, fmt.Errorf("navigation: refresh runs for sub-%s: %w", s.Subject, err)
		}
		next.Runs = runs
		target = s.RunIndex + s.Pending.delta()
	default:
		return s, fmt.Errorf("navigation: unsupported event %T", ev)
	}

	next.RunIndex = clamp(target, len(next.Runs))
	run, _ := next.CurrentRun()
	steps, err := m.source.AvailableSteps(next.Subject, run.Value)
	if err != nil {
		return s, fmt.Errorf("navigation: list steps for sub-%s: %w", next.Subject, err)
	}
	next.Steps = steps
	if !step.Contains(steps, next.Step) {
		next.Step = step.Default(steps)
	}
	return next, nil
}

func (m *Machine) selectStep(s State, t step.Token) (State, error) {
	if !step.Known(t) {
		return s, step.Unknown(t)
	}
	if !step.Contains(s.Steps, t) {
		return s, qcerr.NewWithDetails(qcerr.ENotFound,
			fmt.Sprintf("step %s has no figure for the current run", t),
			map[string]string{"subject": s.Subject, "step": string(t)})
	}
	next := s
	next.Step = t
	next.Pending = None
	return next, nil
}

// CurrentRun returns the selected run, or false when the subject has none.
func (s State) CurrentRun() (index.Run, bool) {
	if len(s.Runs) == 0 {
		return index.Run{}, false
	}
	return s.Runs[clamp(s.RunIndex, len(s.Runs))], true
}

// Valid reports whether the run index invariant holds.
func (s State) Valid() bool {
	return s.RunIndex >= 0 && s.RunIndex < max(1, len(s.Runs))
}

// StepOffset returns the step Offset positions away from the current one in
// the offered list, wrapping around. Tabs wrap; runs do not.
func (s State) StepOffset(offset int) (step.Token, bool) {
	if len(s.Steps) == 0 {
		return "", false
	}
	pos := 0
	for i, t := range s.Steps {
		if t == s.Step {
			pos = i
			break
		}
	}
	n := len(s.Steps)
	return s.Steps[((pos+offset)%n+n)%n], true
}

// Selection is what the front end displays.
type Selection struct {
	Subject   string
	RunLabel  string
	RunValue  string
	Session   string
	Step      step.Token
	StepLabel string
	HasRuns   bool
	Position  int
	Count     int
}

// Selection projects the state into display values.
func (s State) Selection() Selection {
	sel := Selection{
		Subject: s.Subject,
		Step:    s.Step,
		Count:   len(s.Runs),
	}
	if label, err := step.Label(s.Step); err == nil {
		sel.StepLabel = label
	}
	if run, ok := s.CurrentRun(); ok {
		sel.HasRuns = true
		sel.RunLabel = run.Label
		sel.RunValue = run.Value
		sel.Session = run.Session
		sel.Position = clamp(s.RunIndex, len(s.Runs)) + 1
	}
	return sel
}

func clamp(i, count int) int {
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
