// Package verdict persists reviewer QC verdicts for one (user, dataset) pair.
//
// The store is a single JSON file:
//
//	{"<participant>": {"<session>": {"status": "passed", "message": "", "time": "..."}}}
//
// Every mutation rewrites the whole file. There is no inter-process locking:
// two processes writing the same file race and the last write wins, which
// also drops keys the other process added since it loaded the file.
package verdict

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/qcview/internal/qcerr"
)

// DefaultSession keys verdicts for runs without a ses entity.
const DefaultSession = "default"

const timeLayout = time.RFC3339

// Status is the reviewer's judgment.
type Status string

const (
	Unset  Status = ""
	Failed Status = "failed"
	Maybe  Status = "maybe"
	Passed Status = "passed"
)

// ParseStatus accepts "failed", "maybe", "passed" and "" / "unset".
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case Failed:
		return Failed, nil
	case Maybe:
		return Maybe, nil
	case Passed:
		return Passed, nil
	case Unset, "unset":
		return Unset, nil
	}
	return Unset, qcerr.Newf(qcerr.EUsage, "invalid status %q", value)
}

// String returns "unset" for the zero status.
func (s Status) String() string {
	if s == Unset {
		return "unset"
	}
	return string(s)
}

// Record is the verdict for one participant and session.
type Record struct {
	Status  Status `json:"status,omitempty"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// IsZero reports whether nothing was ever recorded.
func (r Record) IsZero() bool {
	return r == Record{}
}

// Mapping is participant -> session -> record.
type Mapping map[string]map[string]Record

// Entry is one flattened record, used for listings.
type Entry struct {
	Participant string
	Session     string
	Record      Record
}

// Summary counts records per status.
type Summary struct {
	Failed int
	Maybe  int
	Passed int
	Unset  int
}

// Total is the number of records.
func (s Summary) Total() int {
	return s.Failed + s.Maybe + s.Passed + s.Unset
}

// Store is the file-backed mapping.
type Store struct {
	path  string
	now   func() time.Time
	write func(path string, data []byte) error

	mu   sync.RWMutex
	data Mapping
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the clock used for record timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Path returns the store location for user and dataset under home.
func Path(home, user, dataset string) string {
	return filepath.Join(home, "verdicts", safeSegment(user), safeSegment(dataset)+".json")
}

// SessionKey maps an empty session to DefaultSession.
func SessionKey(session string) string {
	if strings.TrimSpace(session) == "" {
		return DefaultSession
	}
	return session
}

// Open loads the store at path. A missing file is initialized with an empty
// mapping and written immediately; only a location that cannot be created
// is a StoreInit error.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:  path,
		now:   time.Now,
		write: atomicWrite,
		data:  Mapping{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, qcerr.Wrap(qcerr.EStoreInit, fmt.Sprintf("create verdict directory for %s", path), err)
	}
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.persist(); err != nil {
			return nil, qcerr.Wrap(qcerr.EStoreInit, fmt.Sprintf("initialize %s", path), err)
		}
		return s, nil
	case err != nil:
		return nil, qcerr.Wrap(qcerr.EStoreInit, fmt.Sprintf("read %s", path), err)
	}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, qcerr.Wrap(qcerr.EStoreCorrupt, fmt.Sprintf("parse %s", path), err)
		}
	}
	if s.data == nil {
		s.data = Mapping{}
	}
	return s, nil
}

// Location returns the backing file.
func (s *Store) Location() string { return s.path }

// RecordVerdict sets the status of (participant, session) and refreshes its
// timestamp, leaving the message alone.
func (s *Store) RecordVerdict(participant, session string, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	return s.update(participant, session, func(r *Record) { r.Status = status })
}

// RecordMessage sets the note of (participant, session) and refreshes its
// timestamp, leaving the status alone.
func (s *Store) RecordMessage(participant, session, text string) error {
	return s.update(participant, session, func(r *Record) { r.Message = text })
}

// Current returns the record for (participant, session), or the zero record.
func (s *Store) Current(participant, session string) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[participant][SessionKey(session)]
}

// Snapshot returns a deep copy of the mapping.
func (s *Store) Snapshot() Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMapping(s.data)
}

// Entries returns every record sorted by participant then session.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for participant, sessions := range s.data {
		for session, record := range sessions {
			out = append(out, Entry{Participant: participant, Session: session, Record: record})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Participant != out[j].Participant {
			return out[i].Participant < out[j].Participant
		}
		return out[i].Session < out[j].Session
	})
	return out
}

// Summary counts records per status.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum Summary
	for _, sessions := range s.data {
		for _, record := range sessions {
			switch record.Status {
			case Failed:
				sum.Failed++
			case Maybe:
				sum.Maybe++
			case Passed:
				sum.Passed++
			default:
				sum.Unset++
			}
		}
	}
	return sum
}

func (s *Store) update(participant, session string, mutate func(*Record)) error {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return qcerr.New(qcerr.EUsage, "participant is required")
	}
	session = SessionKey(session)

	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, hadParticipant := s.data[participant]
	if !hadParticipant {
		sessions = map[string]Record{}
		s.data[participant] = sessions
	}
	prev, hadRecord := sessions[session]
	record := prev
	mutate(&record)
	record.Time = s.now().UTC().Format(timeLayout)
	sessions[session] = record

	if err := s.persist(); err != nil {
		if hadRecord {
			sessions[session] = prev
		} else {
			delete(sessions, session)
		}
		if !hadParticipant {
			delete(s.data, participant)
		}
		return qcerr.Wrap(qcerr.EStoreWrite, fmt.Sprintf("save verdict for sub-%s ses %s", participant, session), err)
	}
	return nil
}

// persist writes the full mapping. Callers hold mu or own s exclusively.
func (s *Store) persist() error {
	encoded, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("verdict: encode: %w", err)
	}
	return s.write(s.path, append(encoded, '\n'))
}

// atomicWrite writes data to a sibling temp file and renames it over path.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp." + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func cloneMapping(in Mapping) Mapping {
	out := make(Mapping, len(in))
	for participant, sessions := range in {
		cp := make(map[string]Record, len(sessions))
		for session, record := range sessions {
			cp[session] = record
		}
		out[participant] = cp
	}
	return out
}

func safeSegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(value)
}
