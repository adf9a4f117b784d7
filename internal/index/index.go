// Package index discovers subjects, runs and QC steps from an fMRIPrep
// derivatives tree:
//
//	<root>/sub-<id>/figures/sub-<id>[_ses-x][_task-x][_run-x]_desc-<step>_bold.<ext>
//	<root>/sub-<id>/figures/sub-<id>_space-<template>_T1w.<ext>
//	<root>/sub-<id>/figures/sub-<id>_dseg.<ext>
//
// Every call reads the filesystem again; nothing is cached.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/qcview/internal/bids"
	"github.com/kingrea/qcview/internal/qcerr"
	"github.com/kingrea/qcview/internal/step"
)

const (
	subjectPrefix = "sub-"
	figuresDir    = "figures"
)

// runKeys are the entities that make up a run label, in no particular order;
// labels keep the order found in the filename.
var runKeys = []string{"ses", "task", "run"}

// Run is one entry of a subject's run list.
type Run struct {
	// Label is the composite ses/task/run key shown to the reviewer.
	Label string
	// Value is the filename of the run's canonical artifact.
	Value string
	// Session is the ses entity value, "" when absent.
	Session string
}

// Logger receives warnings about skipped entries.
type Logger interface {
	Warn(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// Index reads the derivatives tree rooted at Root.
type Index struct {
	root      string
	fsys      fs.FS
	canonical step.Token
	logger    Logger
}

// Option customizes an Index.
type Option func(*Index)

// WithFS swaps the filesystem, mainly so tests can inject synthetic listings.
func WithFS(fsys fs.FS) Option {
	return func(ix *Index) {
		if fsys != nil {
			ix.fsys = fsys
		}
	}
}

// WithCanonicalStep overrides the step used to enumerate runs.
func WithCanonicalStep(t step.Token) Option {
	return func(ix *Index) {
		if t != "" {
			ix.canonical = t
		}
	}
}

// WithLogger routes skip warnings to l.
func WithLogger(l Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// New builds an index over root.
func New(root string, opts ...Option) *Index {
	ix := &Index{
		root:      root,
		canonical: step.Canonical,
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	if ix.fsys == nil {
		ix.fsys = os.DirFS(root)
	}
	return ix
}

// Root returns the derivatives root.
func (ix *Index) Root() string { return ix.root }

// FS returns the filesystem the index reads.
func (ix *Index) FS() fs.FS { return ix.fsys }

// CanonicalStep returns the step used to enumerate runs.
func (ix *Index) CanonicalStep() step.Token { return ix.canonical }

// ListSubjects returns the subject ids (without the sub- prefix), sorted.
// A missing root or a root without subjects is a NotFound error.
func (ix *Index) ListSubjects() ([]string, error) {
	entries, err := fs.ReadDir(ix.fsys, ".")
	if err != nil {
		return nil, qcerr.Wrap(qcerr.ENotFound, fmt.Sprintf("derivatives root %s is not readable", ix.root), err)
	}
	var subjects []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, subjectPrefix) {
			continue
		}
		id := strings.TrimPrefix(name, subjectPrefix)
		if id == "" {
			continue
		}
		subjects = append(subjects, id)
	}
	if len(subjects) == 0 {
		return nil, qcerr.Newf(qcerr.ENotFound, "no sub-* directories under %s", ix.root)
	}
	sort.Strings(subjects)
	return subjects, nil
}

// ListRuns returns the subject's runs sorted by filename. A subject without
// canonical artifacts has no runs; that is not an error.
func (ix *Index) ListRuns(subject string) ([]Run, error) {
	names, err := ix.figureNames(subject)
	if err != nil {
		return nil, err
	}
	pattern := fmt.Sprintf("*desc-%s_bold.*", ix.canonical)
	runs := []Run{}
	for _, name := range names {
		if ok, _ := path.Match(pattern, name); !ok {
			continue
		}
		parsed, err := bids.Parse(name)
		if err != nil {
			ix.logger.Warn("index: skipping %s: %v", name, err)
			continue
		}
		if parsed.Subject() != subject {
			ix.logger.Warn("index: skipping %s: belongs to sub-%s", name, parsed.Subject())
			continue
		}
		runs = append(runs, Run{
			Label:   runLabel(parsed),
			Value:   name,
			Session: parsed.Session(),
		})
	}
	return runs, nil
}

// AvailableSteps returns the known steps with an artifact on disk for the
// given run, in display order. A functional figure belongs to the run only
// when everything before its desc entity matches the run's exactly, so echo,
// acq or run siblings are not offered. Anatomical steps are per subject and
// offered for every run.
func (ix *Index) AvailableSteps(subject, runValue string) ([]step.Token, error) {
	names, err := ix.figureNames(subject)
	if err != nil {
		return nil, err
	}
	prefix := RunPrefix(runValue)
	var found []step.Token
	for _, name := range names {
		parsed, err := bids.Parse(name)
		if err != nil {
			ix.logger.Warn("index: skipping %s: %v", name, err)
			continue
		}
		if parsed.Subject() != subject {
			continue
		}
		if tok, ok := anatomicalToken(parsed); ok {
			found = append(found, tok)
			continue
		}
		if prefix == "" || parsed.Suffix != "bold" || RunPrefix(name) != prefix {
			continue
		}
		if desc, ok := parsed.Entity("desc"); ok && step.IsFunctional(step.Token(desc)) {
			found = append(found, step.Token(desc))
		}
	}
	return step.Ordered(found), nil
}

// Artifacts lists the files in the subject's figures directory, sorted.
func (ix *Index) Artifacts(subject string) ([]string, error) {
	return ix.figureNames(subject)
}

// Locate maps a transport request to a path inside FS. Ids that are not plain
// file names, and files that do not exist, are NotFound.
func (ix *Index) Locate(subject, artifact string) (string, error) {
	if !plainName(subject) || !plainName(artifact) {
		return "", qcerr.NewWithDetails(qcerr.ENotFound, "invalid artifact request",
			map[string]string{"subject": subject, "artifact": artifact})
	}
	rel := path.Join(subjectPrefix+subject, figuresDir, artifact)
	info, err := fs.Stat(ix.fsys, rel)
	if err != nil || info.IsDir() {
		return "", qcerr.NewWithDetails(qcerr.ENotFound,
			fmt.Sprintf("artifact %s not found for sub-%s", artifact, subject),
			map[string]string{"subject": subject, "artifact": artifact})
	}
	return rel, nil
}

// Path converts a path relative to FS into an OS path under Root.
func (ix *Index) Path(rel string) string {
	return filepath.Join(ix.root, filepath.FromSlash(rel))
}

// RunPrefix returns the part of a run value before its desc entity, which
// every functional artifact of that run shares.
func RunPrefix(runValue string) string {
	if runValue == "" {
		return ""
	}
	if idx := strings.Index(runValue, "_desc-"); idx >= 0 {
		return runValue[:idx]
	}
	return ""
}

func (ix *Index) figureNames(subject string) ([]string, error) {
	if !plainName(subject) {
		return nil, qcerr.Newf(qcerr.ENotFound, "invalid subject %q", subject)
	}
	dir := path.Join(subjectPrefix+subject, figuresDir)
	entries, err := fs.ReadDir(ix.fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("index: read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func runLabel(n bids.Name) string {
	picked := n.Pick(runKeys...)
	if len(picked) == 0 {
		return subjectPrefix + n.Subject()
	}
	parts := make([]string, len(picked))
	for i, e := range picked {
		parts[i] = e.String()
	}
	return strings.Join(parts, "_")
}

func anatomicalToken(n bids.Name) (step.Token, bool) {
	if n.Suffix == string(step.Dseg) {
		return step.Dseg, true
	}
	if n.Suffix != "T1w" {
		return "", false
	}
	space, ok := n.Entity("space")
	if !ok || !step.IsAnatomical(step.Token(space)) {
		return "", false
	}
	return step.Token(space), true
}

func plainName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
