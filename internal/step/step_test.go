package step

import (
	"testing"

	"github.com/kingrea/qcview/internal/qcerr"
)

func TestVocabulariesAreDisjoint(t *testing.T) {
	seen := map[Token]bool{}
	for _, tok := range Functional() {
		seen[tok] = true
	}
	for _, tok := range Anatomical() {
		if seen[tok] {
			t.Fatalf("token %s appears in both vocabularies", tok)
		}
	}
}

func TestLabelLookup(t *testing.T) {
	label, err := Label("sdc")
	if err != nil {
		t.Fatalf("label sdc: %v", err)
	}
	if label != "Susceptibility distortion correction" {
		t.Fatalf("label = %q", label)
	}
	if _, err := Label("nonexistent-step"); !qcerr.IsUnknownStep(err) {
		t.Fatalf("expected unknown step error, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	cases := map[Token]Kind{
		"carpetplot":          KindFunctional,
		"MNI152NLin2009cAsym": KindAnatomical,
		"dseg":                KindAnatomical,
		"bogus":               KindUnknown,
	}
	for tok, want := range cases {
		if got := KindOf(tok); got != want {
			t.Fatalf("KindOf(%s) = %s, want %s", tok, got, want)
		}
	}
}

func TestOrderedDropsUnknownAndSorts(t *testing.T) {
	got := Ordered([]Token{"dseg", "bogus", "confoundcorr", "sdc", "sdc", "MNI152NLin6Asym"})
	want := []Token{"sdc", "confoundcorr", "MNI152NLin6Asym", "dseg"}
	if len(got) != len(want) {
		t.Fatalf("Ordered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Ordered = %v, want %v", got, want)
		}
	}
}

func TestDefaultPrefersFunctional(t *testing.T) {
	if got := Default([]Token{"dseg", "rois", "carpetplot"}); got != "rois" {
		t.Fatalf("Default = %s, want rois", got)
	}
	if got := Default([]Token{"dseg"}); got != "dseg" {
		t.Fatalf("Default = %s, want dseg", got)
	}
	if got := Default(nil); got != "" {
		t.Fatalf("Default(nil) = %s", got)
	}
}
