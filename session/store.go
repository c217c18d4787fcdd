// Package session keeps one record per launched client on disk so other
// invocations can list and stop them.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// recordExt is the file extension of record files.
const recordExt = ".msgpack"

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// State is the lifecycle state of a recorded session.
type State string

// Session states.
const (
	StateRunning State = "running"
	StateExited  State = "exited"
	StateFailed  State = "failed"
)

// Record describes one launched client.
type Record struct {
	ID         string     `msgpack:"id" json:"id" yaml:"id"`
	Host       string     `msgpack:"host" json:"host" yaml:"host"`
	PID        int        `msgpack:"pid" json:"pid" yaml:"pid"`
	Transport  string     `msgpack:"transport" json:"transport" yaml:"transport"`
	Endpoint   string     `msgpack:"endpoint" json:"endpoint" yaml:"endpoint"`
	Argv       []string   `msgpack:"argv" json:"argv" yaml:"argv"`
	Fallback   bool       `msgpack:"fallback" json:"fallback" yaml:"fallback"`
	State      State      `msgpack:"state" json:"state" yaml:"state"`
	Result     string     `msgpack:"result,omitempty" json:"result,omitempty" yaml:"result,omitempty"`
	ResultCode int        `msgpack:"result_code" json:"result_code" yaml:"result_code"`
	Error      string     `msgpack:"error,omitempty" json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `msgpack:"started_at" json:"started_at" yaml:"started_at"`
	EndedAt    *time.Time `msgpack:"ended_at,omitempty" json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

// Store persists records as msgpack files in a directory.
type Store struct {
	dir string
}

// DefaultDir returns the per-user state directory for session records.
func DefaultDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "spice-xpi", "sessions"), nil
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate state directory: %w", err)
	}
	return filepath.Join(cache, "spice-xpi", "sessions"), nil
}

// NewStore opens (creating if needed) a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("session store directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", id, err)
	}
	return filepath.Join(s.dir, id+recordExt), nil
}

// Save writes r, replacing any previous record with the same id. The file
// is replaced atomically.
func (s *Store) Save(r *Record) error {
	path, err := s.path(r.ID)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", r.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+r.ID+"-*")
	if err != nil {
		return fmt.Errorf("write session %s: %w", r.ID, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session %s: %w", r.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session %s: %w", r.ID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write session %s: %w", r.ID, err)
	}
	return nil
}

// Load reads the record with the given id.
func (s *Store) Load(id string) (*Record, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}

	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &r, nil
}

// Update loads a record, applies fn and saves it.
func (s *Store) Update(id string, fn func(*Record)) error {
	r, err := s.Load(id)
	if err != nil {
		return err
	}
	fn(r)
	r.ID = id
	return s.Save(r)
}

// Remove deletes the record with the given id.
func (s *Store) Remove(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}

// List returns all records, oldest first. Unreadable files are skipped.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var records []*Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		r, err := s.Load(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		records = append(records, r)
	}

	slices.SortFunc(records, func(a, b *Record) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return records, nil
}

// Filter returns the records in state, or all records when state is empty.
func Filter(records []*Record, state State) []*Record {
	if state == "" {
		return records
	}
	var out []*Record
	for _, r := range records {
		if r.State == state {
			out = append(out, r)
		}
	}
	return out
}
