// Package vmerr implements the error taxonomy of spec §7: out-of-memory,
// fatal VM errors, bad monitor state, illegal thread state, and linkage
// errors. Recoverable kinds wrap with github.com/pkg/errors so callers can
// attach context without losing errors.Is/Cause-compatible identity; the
// out-of-memory sentinel deliberately does not, because raising it must
// never itself allocate.
package vmerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// oomError is its own unexported type so that OutOfMemory can never be
// produced by errors.Wrap (which would require allocating a wrapping
// struct) and so that identity comparison (==) is all callers ever need.
type oomError struct{}

func (oomError) Error() string { return "squawk: out of memory" }

// OutOfMemory is the single pre-allocated OOM sentinel (spec §7, §9). It
// must be returned as-is, never wrapped: "a single pre-allocated singleton
// is used so that the error itself never allocates."
var OutOfMemory error = oomError{}

// IsOutOfMemory reports whether err is (or wraps) the OOM sentinel.
func IsOutOfMemory(err error) bool {
	return errors.Is(err, OutOfMemory)
}

// ErrBadMonitorState is raised when monitor_exit, wait, or notify is
// invoked by a thread that does not own the monitor.
var ErrBadMonitorState = errors.New("squawk: bad monitor state")

// ErrIllegalThreadState is raised for start-on-already-started,
// isolate_join-on-self, negative sleep, and similar misuse.
var ErrIllegalThreadState = errors.New("squawk: illegal thread state")

// ErrLinkage is raised when a class cannot be resolved mid-initialization,
// propagated from the (external) loader through the core.
var ErrLinkage = errors.New("squawk: linkage error")

// ErrInterrupted is raised from sleep or join when another thread signals
// the blocked thread (spec §5 Cancellation & timeouts). It never arises on
// its own; the scheduler only ever raises it in response to an explicit
// interrupt request.
var ErrInterrupted = errors.New("squawk: interrupted")

// FatalError represents an invariant violation that aborts the VM without
// unwinding core state (spec §7: "fatal errors abort the VM without
// unwinding core state — state is inconsistent by definition at that
// point"). The scheduler and memory manager return it as an ordinary error
// value; nothing in the core recovers from it or retries after it.
type FatalError struct {
	Reason string
}

func (f *FatalError) Error() string {
	return fmt.Sprintf("squawk: fatal VM error: %s", f.Reason)
}

// Fatal constructs a FatalError for the named invariant violation.
func Fatal(reason string) *FatalError {
	return &FatalError{Reason: reason}
}

// Fatalf constructs a FatalError with a formatted reason.
func Fatalf(format string, args ...interface{}) *FatalError {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}
