// Package logstore keeps one append-only stdout/stderr file pair per run of
// the managed process. Files are named by the run's timestamp and are never
// truncated or removed by this package.
package logstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/medchat/internal/fsutil"
)

// Stream selects one side of a run's output.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// ParseStream accepts "stdout"/"stderr" (case-insensitive); empty means stdout.
func ParseStream(s string) (Stream, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stdout", "out":
		return Stdout, nil
	case "stderr", "err":
		return Stderr, nil
	default:
		return "", fmt.Errorf("unknown log stream %q (want stdout or stderr)", s)
	}
}

// StampLayout is embedded in every run's file names.
const StampLayout = "20060102_150405.000"

const lastRunFile = "last-run.json"

// Pair names the two files of one run.
type Pair struct {
	Stamp  string `json:"stamp"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Path returns the file for s.
func (p Pair) Path(s Stream) string {
	if s == Stderr {
		return p.Stderr
	}
	return p.Stdout
}

// Store manages run files under Dir, prefixed with Name.
type Store struct {
	Dir  string
	Name string
}

func New(dir, name string) *Store {
	if name == "" {
		name = "app"
	}
	return &Store{Dir: dir, Name: name}
}

// Files is an open run pair ready to hand to a child process.
type Files struct {
	Pair
	Out *os.File
	Err *os.File
}

// Close releases the parent's handles; the child keeps its own copies.
func (f *Files) Close() {
	if f.Out != nil {
		_ = f.Out.Close()
	}
	if f.Err != nil {
		_ = f.Err.Close()
	}
}

// Create opens a fresh pair for a run starting at now. Existing files are
// never reused: on a name clash a numeric suffix is appended.
func (s *Store) Create(now time.Time) (*Files, error) {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	base := now.Format(StampLayout)
	for i := 0; i < 100; i++ {
		stamp := base
		if i > 0 {
			stamp = fmt.Sprintf("%s-%d", base, i)
		}
		p := s.pairFor(stamp)
		out, err := openExclusive(p.Stdout)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		errF, err := openExclusive(p.Stderr)
		if err != nil {
			_ = out.Close()
			_ = os.Remove(p.Stdout)
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, err
		}
		return &Files{Pair: p, Out: out, Err: errF}, nil
	}
	return nil, fmt.Errorf("could not allocate log files for %s in %s", base, s.Dir)
}

func (s *Store) pairFor(stamp string) Pair {
	return Pair{
		Stamp:  stamp,
		Stdout: filepath.Join(s.Dir, fmt.Sprintf("%s_stdout_%s.log", s.Name, stamp)),
		Stderr: filepath.Join(s.Dir, fmt.Sprintf("%s_stderr_%s.log", s.Name, stamp)),
	}
}

func openExclusive(path string) (*os.File, error) {
	// #nosec G304 -- path is built from the configured log dir
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o640)
}

// MarkLast records p as the most recent run. The pointer outlives the status record.
func (s *Store) MarkLast(p Pair) error {
	return fsutil.AtomicWriteJSON(filepath.Join(s.Dir, lastRunFile), p)
}

// Last returns the most recent run: the pointer when present, else the newest
// pair found on disk.
func (s *Store) Last() (Pair, bool) {
	var p Pair
	if err := fsutil.ReadJSON(filepath.Join(s.Dir, lastRunFile), &p); err == nil && p.Stdout != "" {
		return p, true
	}
	return s.newestOnDisk()
}

func (s *Store) newestOnDisk() (Pair, bool) {
	prefix := s.Name + "_stdout_"
	matches, err := filepath.Glob(filepath.Join(s.Dir, prefix+"*.log"))
	if err != nil || len(matches) == 0 {
		return Pair{}, false
	}
	stamps := make([]string, 0, len(matches))
	for _, m := range matches {
		st := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".log")
		stamps = append(stamps, st)
	}
	sort.Slice(stamps, func(i, j int) bool { return stampLess(stamps[i], stamps[j]) })
	return s.pairFor(stamps[len(stamps)-1]), true
}

// stampLess orders run stamps in creation order. StampLayout sorts lexically
// in time order; clash suffixes ("-2", "-10") compare numerically.
func stampLess(a, b string) bool {
	ab, an := splitStamp(a)
	bb, bn := splitStamp(b)
	if ab != bb {
		return ab < bb
	}
	return an < bn
}

func splitStamp(stamp string) (string, int) {
	base, suffix, ok := strings.Cut(stamp, "-")
	if !ok {
		return stamp, 0
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return stamp, 0
	}
	return base, n
}
