package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/loykin/medchat/internal/fsutil"
)

// Record is what the supervisor believes is currently running. It is written
// once a background start succeeds and removed on stop or when the PID is
// found dead or recycled.
type Record struct {
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	ProcStartUnix int64     `json:"proc_start_unix,omitempty"` // OS start time of PID; 0 when unknown
	App           string    `json:"app"`
	Port          int       `json:"port"`
	Host          string    `json:"host"`
	Args          []string  `json:"args,omitempty"`
	Command       []string  `json:"command"`
	StdoutLog     string    `json:"stdout_log"`
	StderrLog     string    `json:"stderr_log"`
}

// Validate rejects records that could never describe a live process.
func (r Record) Validate() error {
	if r.PID <= 0 {
		return fmt.Errorf("invalid pid %d", r.PID)
	}
	if r.StdoutLog == "" || r.StderrLog == "" {
		return errors.New("record missing log paths")
	}
	return nil
}

// ErrCorrupt is returned by Load when the record exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt status record")

// Store persists a single Record at a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

func (s *Store) Path() string { return s.path }

// Load returns the current record, or nil when none exists.
func (s *Store) Load() (*Record, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return &r, nil
}

// Save replaces the record atomically.
func (s *Store) Save(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return fsutil.AtomicWriteJSON(s.path, r)
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
