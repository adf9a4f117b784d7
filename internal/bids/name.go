// Package bids parses the entity-style filenames fMRIPrep writes into each
// subject's figures directory, e.g.
//
//	sub-01_ses-1_task-rest_run-2_desc-carpetplot_bold.svg
//	sub-01_space-MNI152NLin2009cAsym_T1w.svg
package bids

import (
	"fmt"
	"path"
	"strings"

	"github.com/kingrea/qcview/internal/qcerr"
)

// Entity is one key-value pair of a filename, in order of occurrence.
type Entity struct {
	Key   string
	Value string
}

// String renders the entity back as "key-value".
func (e Entity) String() string {
	return e.Key + "-" + e.Value
}

// Name is a parsed artifact filename.
type Name struct {
	Filename string
	Entities []Entity
	Suffix   string
	Ext      string
}

// Parse splits filename into entities, suffix and extension. Only the base
// name is considered. The first entity must be sub-<id>.
func Parse(filename string) (Name, error) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	stem, ext := splitExt(base)
	if stem == "" {
		return Name{}, malformed(base, "empty name")
	}
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return Name{}, malformed(base, "missing suffix")
	}
	suffix := parts[len(parts)-1]
	if suffix == "" || strings.Contains(suffix, "-") {
		return Name{}, malformed(base, fmt.Sprintf("invalid suffix %q", suffix))
	}
	entities := make([]Entity, 0, len(parts)-1)
	for _, part := range parts[:len(parts)-1] {
		key, value, ok := strings.Cut(part, "-")
		if !ok || key == "" || value == "" {
			return Name{}, malformed(base, fmt.Sprintf("invalid entity %q", part))
		}
		entities = append(entities, Entity{Key: key, Value: value})
	}
	if entities[0].Key != "sub" {
		return Name{}, malformed(base, "first entity must be sub")
	}
	return Name{Filename: base, Entities: entities, Suffix: suffix, Ext: ext}, nil
}

// Entity returns the value of key and whether it was present.
func (n Name) Entity(key string) (string, bool) {
	for _, e := range n.Entities {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Subject returns the sub entity value.
func (n Name) Subject() string {
	v, _ := n.Entity("sub")
	return v
}

// Session returns the ses entity value, or "" if absent.
func (n Name) Session() string {
	v, _ := n.Entity("ses")
	return v
}

// Pick returns the entities whose key is in keys, preserving filename order.
func (n Name) Pick(keys ...string) []Entity {
	var out []Entity
	for _, e := range n.Entities {
		for _, k := range keys {
			if e.Key == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func splitExt(base string) (string, string) {
	// Multi-dot extensions such as .nii.gz stay together.
	idx := strings.Index(base, ".")
	if idx < 0 {
		return base, ""
	}
	return base[:idx], base[idx+1:]
}

func malformed(name, reason string) error {
	return qcerr.NewWithDetails(qcerr.EMalformedName,
		fmt.Sprintf("malformed artifact name %q: %s", name, reason),
		map[string]string{"name": name})
}
