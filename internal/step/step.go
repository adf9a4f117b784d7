// Package step holds the closed vocabularies of QC steps: functional
// preprocessing figures (one per run) and anatomical figures (one per
// subject). Display order is functional first, then anatomical.
package step

import (
	"fmt"

	"github.com/kingrea/qcview/internal/qcerr"
)

// Token identifies a step as it appears inside an artifact filename.
type Token string

// Kind tells which vocabulary a token belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindFunctional
	KindAnatomical
)

func (k Kind) String() string {
	switch k {
	case KindFunctional:
		return "functional"
	case KindAnatomical:
		return "anatomical"
	default:
		return "unknown"
	}
}

// Canonical is the default step used to enumerate a subject's runs. Every
// fMRIPrep run gets a carpet plot, unlike sdc which needs fieldmaps.
const Canonical Token = "carpetplot"

// Dseg is the anatomical segmentation step; it is matched on the dseg suffix
// rather than a space entity.
const Dseg Token = "dseg"

type entry struct {
	token Token
	label string
}

var functional = []entry{
	{"sdc", "Susceptibility distortion correction"},
	{"bbregister", "Alignment of functional and anatomical MRI data (bbregister)"},
	{"coreg", "Alignment of functional and anatomical MRI data (coregistration)"},
	{"flirtbbr", "Alignment of functional and anatomical MRI data (FLIRT BBR)"},
	{"flirtnobbr", "Alignment of functional and anatomical MRI data (FLIRT)"},
	{"rois", "Brain mask and (temporal/anatomical) CompCor ROIs"},
	{"carpetplot", "BOLD Summary"},
	{"confoundcorr", "Correlations among nuisance regressors"},
	{"aroma", "ICA-AROMA denoising"},
	{"compcorvar", "Variance explained by CompCor components"},
}

var anatomical = []entry{
	{"MNI152NLin2009cAsym", "Spatial normalization (MNI152NLin2009cAsym)"},
	{"MNI152NLin6Asym", "Spatial normalization (MNI152NLin6Asym)"},
	{"MNI152Lin", "Spatial normalization (MNI152Lin)"},
	{"OASIS30ANTs", "Spatial normalization (OASIS30ANTs)"},
	{"dseg", "Brain mask and brain tissue segmentation"},
}

type info struct {
	kind  Kind
	label string
	order int
}

var vocabulary = buildVocabulary()

func buildVocabulary() map[Token]info {
	out := make(map[Token]info, len(functional)+len(anatomical))
	for i, e := range functional {
		out[e.token] = info{kind: KindFunctional, label: e.label, order: i}
	}
	for i, e := range anatomical {
		out[e.token] = info{kind: KindAnatomical, label: e.label, order: len(functional) + i}
	}
	return out
}

// KindOf reports the vocabulary of t.
func KindOf(t Token) Kind {
	return vocabulary[t].kind
}

// Known reports whether t belongs to either vocabulary.
func Known(t Token) bool {
	_, ok := vocabulary[t]
	return ok
}

// IsFunctional reports whether t is a functional step.
func IsFunctional(t Token) bool { return KindOf(t) == KindFunctional }

// IsAnatomical reports whether t is an anatomical step.
func IsAnatomical(t Token) bool { return KindOf(t) == KindAnatomical }

// Label returns the display label for t, or an UnknownStep error.
func Label(t Token) (string, error) {
	inf, ok := vocabulary[t]
	if !ok {
		return "", Unknown(t)
	}
	return inf.label, nil
}

// Unknown builds the error returned for tokens outside both vocabularies.
func Unknown(t Token) error {
	return qcerr.NewWithDetails(qcerr.EUnknownStep,
		fmt.Sprintf("unknown step %q", string(t)),
		map[string]string{"step": string(t)})
}

// Functional returns the functional tokens in display order.
func Functional() []Token { return tokens(functional) }

// Anatomical returns the anatomical tokens in display order.
func Anatomical() []Token { return tokens(anatomical) }

// All returns every known token in display order.
func All() []Token {
	return append(Functional(), Anatomical()...)
}

// Ordered filters candidates to known tokens, drops duplicates and sorts the
// result into display order.
func Ordered(candidates []Token) []Token {
	seen := make(map[Token]struct{}, len(candidates))
	slots := make([]Token, len(vocabulary))
	for _, c := range candidates {
		inf, ok := vocabulary[c]
		if !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		slots[inf.order] = c
	}
	out := make([]Token, 0, len(seen))
	for _, t := range slots {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Default picks the tab shown when the current step is not offered: the first
// functional step, else the first offered step, else "".
func Default(offered []Token) Token {
	for _, t := range offered {
		if IsFunctional(t) {
			return t
		}
	}
	if len(offered) > 0 {
		return offered[0]
	}
	return ""
}

// Contains reports whether t is in list.
func Contains(list []Token, t Token) bool {
	for _, candidate := range list {
		if candidate == t {
			return true
		}
	}
	return false
}

func tokens(entries []entry) []Token {
	out := make([]Token, len(entries))
	for i, e := range entries {
		out[i] = e.token
	}
	return out
}
