// Package sched implements the Scheduler & Monitor Layer (S): a
// cooperative, single-threaded, priority round-robin scheduler with timer
// and event queues, lazy monitor inflation, join/interrupt semantics, and
// isolate hibernation of thread state (spec §4.6, §5).
package sched

import (
	"time"

	"go.uber.org/zap"

	"github.com/dougxc/squawk/internal/config"
	"github.com/dougxc/squawk/internal/mem"
	"github.com/dougxc/squawk/internal/metrics"
	"github.com/dougxc/squawk/internal/vmerr"
)

// Scheduler is S. Exactly one per VM (spec §5 "Shared-resource policy").
type Scheduler struct {
	heap    *mem.Manager
	logger  *zap.Logger
	metrics *metrics.Registry
	cfg     config.Config

	// Clock returns the current time in milliseconds on an arbitrary but
	// monotonic epoch. Overridable so tests can drive the timer queue
	// without sleeping a real wall clock.
	Clock func() int64

	// PollEvent and WaitForEvent are the two external primitives spec §6
	// names ("the scheduler invokes a get_event() poll and a
	// wait_for_event(ms) blocking primitive"); channel I/O itself is out of
	// scope (spec §1 Non-goals), so both are nil by default: no events are
	// polled, and while waiting for a timer RescheduleNext does not sleep
	// but re-reads Clock in a loop until the timer is due.
	PollEvent    func() (eventID int, ok bool)
	WaitForEvent func(ms int64)

	current *Thread

	readyHead *Thread
	timerHead *Thread
	events    map[int]*Thread

	threads      map[int64]*Thread
	nextThreadID int64

	terminatedIsolates map[int]bool
	hibernated         map[int]*hibernatedIsolate

	pendingMonitors []pendingMonitor
}

// New constructs a Scheduler driving heap's allocator and using heap's own
// logger/metrics/config, mirroring internal/gc.New's wiring.
func New(heap *mem.Manager) *Scheduler {
	return &Scheduler{
		heap:               heap,
		logger:             heap.Logger(),
		metrics:            heap.Metrics(),
		cfg:                heap.Config(),
		Clock:              func() int64 { return time.Now().UnixMilli() },
		events:             make(map[int]*Thread),
		threads:            make(map[int64]*Thread),
		terminatedIsolates: make(map[int]bool),
		hibernated:         make(map[int]*hibernatedIsolate),
	}
}

// NewThread creates a thread in state New, owning a freshly registered
// stack chunk (spec §4.3: "chunks are always registered with W before any
// reference escapes"). Start must be called before it becomes runnable.
func (s *Scheduler) NewThread(priority, isolateID int) *Thread {
	s.nextThreadID++
	t := &Thread{
		id:         s.nextThreadID,
		Priority:   priority,
		IsolateNum: isolateID,
		State:      New,
		chunk:      s.heap.NewStack(),
	}
	t.chunk.Owner = t
	s.threads[t.id] = t
	return t
}

// Start transitions t from New to Runnable and enqueues it (spec §4.6
// state machine: "new ── start ──▶ Runnable"). Starting an
// already-started thread is an illegal thread state (spec §7).
func (s *Scheduler) Start(t *Thread) error {
	if t.State != New {
		return vmerr.ErrIllegalThreadState
	}
	s.insertReady(t)
	s.updateThreadMetrics()
	return nil
}

// Current returns the thread currently selected to run, or nil before the
// first RescheduleNext.
func (s *Scheduler) Current() *Thread { return s.current }

// RescheduleNext is the scheduler main loop (spec §4.6 reschedule_next):
// drain due events and timers onto the ready queue, then pick the next
// thread to run. It waits (via WaitForEvent, when set) only when the ready
// queue is empty and the timer queue or the event table is not; an empty
// ready queue with an empty
// timer queue and no event-table entries is a fatal deadlock (spec §4.6
// step 4).
func (s *Scheduler) RescheduleNext() (*Thread, error) {
	for {
		if s.PollEvent != nil {
			for {
				id, ok := s.PollEvent()
				if !ok {
					break
				}
				s.signalEvent(id)
			}
		}

		now := s.Clock()
		s.drainDueTimers(now, func(t *Thread) {
			if t.waitMonitor != nil {
				mon := t.waitMonitor
				t.waitMonitor = nil
				mon.reacquireOrBlock(s, t)
				return
			}
			s.insertReady(t)
		})

		if next := s.popReady(); next != nil {
			if next.restoreDepth != nil {
				next.restoreDepth.mon.depth = next.restoreDepth.depth
				next.restoreDepth = nil
			}
			next.State = Running
			s.current = next
			s.updateThreadMetrics()
			return next, nil
		}

		if delay, ok := s.nextWakeDelay(now); ok {
			if s.WaitForEvent != nil {
				s.WaitForEvent(delay)
			}
			continue
		}

		if len(s.events) > 0 {
			if s.WaitForEvent != nil {
				s.WaitForEvent(0)
			}
			continue
		}

		return nil, vmerr.Fatal("scheduler deadlock: ready queue, timer queue, and event table all empty")
	}
}

// Reschedule is the context-switch entry point (spec §4.6 reschedule):
// inflate the current thread's pending virtual monitors, then pick and
// install the next thread. The "perform the actual switch of CPU stacks"
// step is an external primitive (the interpreter's own concern, out of
// scope here); this implementation's switch is complete once current is
// updated, since no Go-level execution state is threaded through a Thread
// beyond its stack chunk and queue linkage.
func (s *Scheduler) Reschedule() (*Thread, error) {
	if s.current != nil {
		s.inflatePending(s.current)
	}
	return s.RescheduleNext()
}

// Yield suspends the current thread back onto the ready queue at its
// priority level and switches to the next thread.
func (s *Scheduler) Yield() (*Thread, error) {
	if s.current != nil {
		s.insertReady(s.current)
	}
	return s.Reschedule()
}

// Sleep suspends the current thread for ms milliseconds. A non-positive
// duration is a no-op (spec §5: "a negative or zero sleep is a no-op").
// Returns vmerr.ErrInterrupted if another thread calls Signal on it first.
func (s *Scheduler) Sleep(ms int64) error {
	if ms <= 0 {
		return nil
	}
	t := s.current
	if t == nil {
		return vmerr.Fatal("sleep with no current thread")
	}
	t.State = Waiting
	t.waitReason = "sleep"
	t.wakeAtMillis = s.Clock() + ms
	s.insertTimer(t)
	if _, err := s.Reschedule(); err != nil {
		return err
	}
	if t.interrupted {
		t.interrupted = false
		return vmerr.ErrInterrupted
	}
	return nil
}

// Signal interrupts t if it is sleeping or joining, waking it early with
// vmerr.ErrInterrupted (spec §5 Cancellation). Signalling a thread that is
// runnable, running, or blocked on a monitor/event has no effect, matching
// the spec's "interruption is limited to causing sleep and join to raise
// an interrupted exception".
func (s *Scheduler) Signal(t *Thread) {
	if t.State != Waiting {
		return
	}
	if t.waitReason != "sleep" && t.waitReason != "join" {
		return
	}
	// A join wait has no timer entry; removeTimer is a harmless no-op for
	// it and only does real work when t was sleeping.
	s.removeTimer(t)
	t.interrupted = true
	t.waitMonitor = nil
	s.insertReady(t)
}

// Join blocks the current thread until target reaches Dead. Joining an
// already-dead thread, or oneself, is handled per spec §7 (self-join is an
// illegal thread state; joining a dead thread is a no-op).
func (s *Scheduler) Join(target *Thread) error {
	t := s.current
	if t == nil {
		return vmerr.Fatal("join with no current thread")
	}
	if t == target {
		return vmerr.ErrIllegalThreadState
	}
	if target.State == Dead {
		return nil
	}
	t.State = Waiting
	t.waitReason = "join"
	target.joiners = append(target.joiners, t)
	if _, err := s.Reschedule(); err != nil {
		return err
	}
	if t.interrupted {
		t.interrupted = false
		return vmerr.ErrInterrupted
	}
	return nil
}

// ThreadExit transitions t to Dead ("run→return" in the state machine),
// deregisters its stack chunk's ownership so W may prune it (spec §5
// "Stack-chunk ownership": "S writes [owner] ... at thread death ... to
// null"), and wakes every thread blocked in Join(t).
func (s *Scheduler) ThreadExit(t *Thread) {
	t.State = Dead
	if t.chunk != nil {
		t.chunk.Owner = nil
	}
	joiners := t.joiners
	t.joiners = nil
	for _, j := range joiners {
		s.insertReady(j)
	}
	s.updateThreadMetrics()
}

// TerminateIsolate marks isolateID's threads as no longer live for W's
// prune predicate (spec §4.6 Cancellation: "isolate abort ... marking the
// isolate exited and letting its threads drain out of the scheduler").
// It does not itself kill any thread; already-queued operations observe
// the isolate as dead the next time IsolateAlive is consulted.
func (s *Scheduler) TerminateIsolate(isolateID int) {
	s.terminatedIsolates[isolateID] = true
}

// IsolateAlive reports whether isolateID has not been terminated; a
// hibernated isolate counts as alive. Wired by internal/vm into internal/gc's
// Collector.IsolateAlive field.
func (s *Scheduler) IsolateAlive(isolateID int) bool {
	if s.terminatedIsolates[isolateID] {
		return false
	}
	return true
}

// RunFinalizers drains the memory manager's finalizer queue and invokes
// run once per entry (spec §12: modeled as a concrete queue "drained
// opportunistically ... once per reschedule_next pass when non-empty").
// Called by internal/vm's VM.RescheduleNext after each successful
// scheduler RescheduleNext; Reschedule, Yield, Sleep and the other
// scheduler entry points do not call it.
func (s *Scheduler) RunFinalizers(run func(entry mem.FinalizerEntry)) {
	for _, e := range s.heap.DrainFinalizerQueue() {
		run(e)
	}
}

func (s *Scheduler) updateThreadMetrics() {
	if s.metrics == nil {
		return
	}
	live := 0
	for _, t := range s.threads {
		if t.State != Dead {
			live++
		}
	}
	s.metrics.SetLiveThreads(live)

	depth := 0
	for cur := s.readyHead; cur != nil; cur = cur.link {
		depth++
	}
	s.metrics.SetReadyQueueDepth(depth)
}
