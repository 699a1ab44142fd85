package sched

import (
	"github.com/dougxc/squawk/internal/stackchunk"
)

// State is a thread's position in the state machine of spec §4.6:
//
//	new ── start ──▶ Runnable ── run→return ──▶ Dead
//	                    │
//	     yield/sleep/wait/join/monitor/event
//	                    │
//	                    ▼
//	               (in some queue, State == Waiting)
//	                    │
//	     signal / timer / notify / monitor-free
//	                    ▼
//	                 Runnable
//
// Named and ordered after gccgo's runtime2.go goroutine status constants
// (_Gidle/_Grunnable/_Grunning/_Gwaiting/_Gdead); this scheduler has no
// analogue of _Gsyscall since blocking I/O is entirely external to it.
type State int

const (
	New State = iota
	Runnable
	Running
	Waiting
	Dead
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Thread is one cooperatively-scheduled thread (spec §4.6). A Thread is
// never touched by more than one goroutine; the whole point of the core is
// that exactly one thread's logic ever runs at a time.
type Thread struct {
	id         int64
	Priority   int
	IsolateNum int
	State      State

	chunk *stackchunk.Chunk

	// link threads a Thread through whichever single list currently holds
	// it — the ready queue, the timer queue, a monitor's acquire or
	// condvar queue, or a hibernated-isolate sublist. A thread is only ever
	// a member of one such list at a time (spec §4.6's state machine has
	// exactly one "in some queue" state), so one shared link field, rather
	// than one per list, is sufficient — the same economy gccgo's g.schedlink
	// buys by being reused across run queues and dequeued before a g is
	// parked elsewhere.
	link *Thread

	wakeAtMillis int64
	waitMonitor  *Monitor // non-nil while parked in monitor_wait's timer entry
	waitReason   string

	// restoreDepth, when non-nil, is applied the moment this thread is
	// next dequeued from the ready queue: monitor_wait's resumed thread
	// must see its pre-wait reentrancy depth, but ownership of the monitor
	// itself is granted earlier, when the thread is moved onto the ready
	// queue (by monitor_notify, by a timed-wait's timer firing, or
	// directly if the monitor happened to be free) — not when it actually
	// runs again, which may be scheduler calls later.
	restoreDepth *depthRestore

	joiners     []*Thread
	interrupted bool
}

// depthRestore pairs a monitor with the reentrancy depth monitor_wait must
// restore once its thread actually runs again.
type depthRestore struct {
	mon   *Monitor
	depth int
}

// StackChunk and IsolateID satisfy internal/stackchunk.Owner, letting W
// determine a chunk's liveness without importing internal/sched.
func (t *Thread) StackChunk() *stackchunk.Chunk { return t.chunk }
func (t *Thread) IsolateID() int                { return t.IsolateNum }

// ID returns the thread's scheduler-assigned identity (analogous to
// gccgo's g.goid), stable for the thread's lifetime.
func (t *Thread) ID() int64 { return t.id }

// PushFrame and PopFrame are thin wrappers so callers need not reach past
// the thread into its chunk directly; frame walking itself (oop maps,
// exception dispatch) belongs to the interpreter, out of scope here.
func (t *Thread) PushFrame(f stackchunk.Frame) (int, bool) { return t.chunk.PushFrame(f) }
func (t *Thread) PopFrame()                                { t.chunk.PopFrame() }
