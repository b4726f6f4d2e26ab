package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked means another invocation holds the operation lock.
var ErrLocked = errors.New("operation lock held")

const lockRetryDelay = 50 * time.Millisecond

// Holder describes the invocation that owns the lock.
type Holder struct {
	Op    string    `json:"op"`
	PID   int       `json:"pid"`
	Since time.Time `json:"since"`
}

// Lock is an exclusive, cross-process lock next to the status record.
// The owner writes a Holder into the file so that observers can tell
// which operation is in flight.
type Lock struct {
	path string
	fl   *flock.Flock
}

func NewLock(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// TryAcquire takes the lock and records op as the holder. With wait > 0 it
// retries until wait elapses or ctx is done; otherwise it tries exactly once.
// A busy lock yields ErrLocked, wrapped with the current holder when known.
func (l *Lock) TryAcquire(ctx context.Context, op string, wait time.Duration) error {
	var (
		ok  bool
		err error
	)
	if wait > 0 {
		wctx, cancel := context.WithTimeout(ctx, wait)
		ok, err = l.fl.TryLockContext(wctx, lockRetryDelay)
		cancel()
		if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			err = nil
		}
	} else {
		ok, err = l.fl.TryLock()
	}
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	if !ok {
		if h, found := ReadHolder(l.path); found {
			return &BusyError{Holder: h}
		}
		return ErrLocked
	}
	b, _ := json.Marshal(Holder{Op: op, PID: os.Getpid(), Since: time.Now().UTC()})
	// Truncate in place; replacing the file would orphan the flock on the old inode.
	_ = os.WriteFile(l.path, b, 0o600)
	return nil
}

// BusyError carries the holder of a busy lock. It matches ErrLocked with errors.Is.
type BusyError struct {
	Holder Holder
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s: %s by pid %d since %s", ErrLocked, e.Holder.Op, e.Holder.PID, e.Holder.Since.Format(time.RFC3339))
}

func (e *BusyError) Is(target error) bool { return target == ErrLocked }

// Release clears the holder and unlocks. Safe to call when not held.
func (l *Lock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	_ = os.Truncate(l.path, 0)
	return l.fl.Unlock()
}

// ReadHolder returns the holder written into a lock file, if any.
func ReadHolder(path string) (Holder, bool) {
	b, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(b))) == 0 {
		return Holder{}, false
	}
	var h Holder
	if err := json.Unmarshal(b, &h); err != nil || h.Op == "" {
		return Holder{}, false
	}
	return h, true
}
