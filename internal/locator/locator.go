// Package locator turns a (subject, run, step) selection into the filename of
// the figure to display.
package locator

import (
	"fmt"
	"strings"

	"github.com/kingrea/qcview/internal/qcerr"
	"github.com/kingrea/qcview/internal/step"
)

// ArtifactLister lists a subject's figure filenames in sorted order.
// *index.Index satisfies it.
type ArtifactLister interface {
	Artifacts(subject string) ([]string, error)
}

// Locator resolves artifacts against a lister.
type Locator struct {
	lister    ArtifactLister
	canonical step.Token
}

// New builds a Locator. canonical is the step whose filename each run value
// carries; an empty value falls back to step.Canonical.
func New(lister ArtifactLister, canonical step.Token) *Locator {
	if canonical == "" {
		canonical = step.Canonical
	}
	return &Locator{lister: lister, canonical: canonical}
}

// Resolve returns the artifact to display and whether there is one.
//
// Functional steps are derived from runValue by swapping the canonical step
// token; an empty runValue means the subject has no runs and nothing is shown.
// Anatomical steps are one per subject: the first figure containing the token
// wins and runValue is ignored. Unknown tokens are an UnknownStep error.
func (l *Locator) Resolve(subject, runValue string, t step.Token) (string, bool, error) {
	switch step.KindOf(t) {
	case step.KindFunctional:
		if runValue == "" {
			return "", false, nil
		}
		return SwapStep(runValue, l.canonical, t), true, nil
	case step.KindAnatomical:
		names, err := l.lister.Artifacts(subject)
		if err != nil {
			return "", false, fmt.Errorf("locator: list sub-%s: %w", subject, err)
		}
		for _, name := range names {
			if strings.Contains(name, string(t)) {
				return name, true, nil
			}
		}
		return "", false, qcerr.NewWithDetails(qcerr.ENotFound,
			fmt.Sprintf("no %s figure for sub-%s", t, subject),
			map[string]string{"subject": subject, "step": string(t)})
	default:
		return "", false, step.Unknown(t)
	}
}

// SwapStep replaces the first "-<from>_" in name with "-<to>_".
func SwapStep(name string, from, to step.Token) string {
	return strings.Replace(name, "-"+string(from)+"_", "-"+string(to)+"_", 1)
}
