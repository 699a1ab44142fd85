package sched

import (
	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/header"
	"github.com/dougxc/squawk/internal/vmerr"
)

// Monitor is the lazily-allocated descriptor backing one object's lock and
// condition variable (spec §3 Monitor, §4.6). Installed into an object's
// association via internal/mem.Manager.SetMonitor as an interface{}, since
// internal/mem must not import internal/sched.
type Monitor struct {
	owner *Thread
	depth int

	acquireHead, acquireTail *Thread
	condHead, condTail       *Thread

	// hadWaiter records whether monitor_wait was ever called on this
	// monitor, for the smart-monitor retire check (spec §4.6: "if the
	// monitor has no waiters and never had any, retire the monitor").
	hadWaiter bool
}

func enqueue(headp, tailp **Thread, t *Thread) {
	t.link = nil
	if *tailp == nil {
		*headp, *tailp = t, t
		return
	}
	(*tailp).link = t
	*tailp = t
}

func dequeue(headp, tailp **Thread) *Thread {
	t := *headp
	if t == nil {
		return nil
	}
	*headp = t.link
	if *headp == nil {
		*tailp = nil
	}
	t.link = nil
	return t
}

func removeFromList(headp, tailp **Thread, t *Thread) bool {
	if *headp == t {
		*headp = t.link
		if *headp == nil {
			*tailp = nil
		}
		t.link = nil
		return true
	}
	for cur := *headp; cur != nil && cur.link != nil; cur = cur.link {
		if cur.link == t {
			cur.link = t.link
			if *tailp == t {
				*tailp = cur
			}
			t.link = nil
			return true
		}
	}
	return false
}

func (m *Monitor) enqueueAcquire(t *Thread) { enqueue(&m.acquireHead, &m.acquireTail, t) }
func (m *Monitor) dequeueAcquire() *Thread  { return dequeue(&m.acquireHead, &m.acquireTail) }
func (m *Monitor) enqueueCond(t *Thread)    { enqueue(&m.condHead, &m.condTail, t) }
func (m *Monitor) removeCond(t *Thread) bool {
	return removeFromList(&m.condHead, &m.condTail, t)
}
func (m *Monitor) dequeueCond() *Thread { return dequeue(&m.condHead, &m.condTail) }

// pendingMonitor is one entry of the "pending virtual monitors" side list
// (spec §4.6): the interpreter entered o's monitor without forcing
// allocation of a real Monitor; it must be inflated before the next actual
// thread switch.
type pendingMonitor struct {
	owner *Thread
	obj   addr.Address
}

// EnterMonitorPending records that owner has virtually entered o's monitor
// without yet allocating a real descriptor. Reschedule inflates every
// pending entry owned by the current thread before picking the next one
// (spec §4.6 reschedule step 1).
func (s *Scheduler) EnterMonitorPending(owner *Thread, o addr.Address) {
	s.pendingMonitors = append(s.pendingMonitors, pendingMonitor{owner: owner, obj: o})
}

func (s *Scheduler) inflatePending(t *Thread) {
	if len(s.pendingMonitors) == 0 {
		return
	}
	kept := s.pendingMonitors[:0]
	for _, p := range s.pendingMonitors {
		if p.owner != t {
			kept = append(kept, p)
			continue
		}
		// The interpreter already treated this enter as having
		// succeeded; inflating it for an uncontended monitor must not
		// reschedule out from under the caller, so drive the admission
		// logic directly rather than through the blocking MonitorEnter.
		mon := s.monitorFor(p.obj)
		if mon.owner == nil {
			mon.owner, mon.depth = t, 1
		} else if mon.owner == t {
			mon.depth++
		} else {
			mon.enqueueAcquire(t)
			t.State = Waiting
			t.waitReason = "monitor"
		}
	}
	s.pendingMonitors = kept
}

func (s *Scheduler) monitorFor(o addr.Address) *Monitor {
	w0 := s.heap.HeaderWord(o)
	kind := header.ClassifyBlockStart(w0)
	assoc := s.heap.AssociationFor(o, kind)
	if mon, ok := s.heap.Monitor(assoc).(*Monitor); ok && mon != nil {
		return mon
	}
	mon := &Monitor{}
	s.heap.SetMonitor(assoc, mon)
	return mon
}

// MonitorEnter implements monitor_enter(o) (spec §4.6): uncontended ⇒
// owner=t, depth=1; re-entrant ⇒ depth++; otherwise blocks t on the
// monitor's acquire queue and reschedules.
func (s *Scheduler) MonitorEnter(t *Thread, o addr.Address) (*Thread, error) {
	mon := s.monitorFor(o)
	if mon.owner == nil {
		mon.owner, mon.depth = t, 1
		return t, nil
	}
	if mon.owner == t {
		mon.depth++
		return t, nil
	}
	t.State = Waiting
	t.waitReason = "monitor"
	mon.enqueueAcquire(t)
	return s.Reschedule()
}

// MonitorExit implements monitor_exit(o): decrements depth; at zero, hands
// the monitor straight to the head of the acquire queue if any (granting
// ownership immediately, before that thread actually runs again — see
// depthRestore), else marks it unowned and, in smart-monitor mode, retires
// it if it never had a waiter (spec §4.6, §12: "implementers may omit this
// mode for a first cut" — included here, gated by config.Config.SmartMonitors
// so a deployment can disable it for that first cut).
func (s *Scheduler) MonitorExit(t *Thread, o addr.Address) error {
	mon := s.monitorFor(o)
	if mon.owner != t {
		return vmerr.ErrBadMonitorState
	}
	mon.depth--
	if mon.depth > 0 {
		return nil
	}
	if next := mon.dequeueAcquire(); next != nil {
		mon.owner, mon.depth = next, 1
		s.insertReady(next)
		return nil
	}
	mon.owner = nil
	if s.cfg.SmartMonitors && !mon.hadWaiter {
		s.retireMonitor(o)
	}
	return nil
}

func (s *Scheduler) retireMonitor(o addr.Address) {
	w0 := s.heap.HeaderWord(o)
	kind := header.ClassifyBlockStart(w0)
	assoc := s.heap.AssociationFor(o, kind)
	s.heap.SetMonitor(assoc, nil)
}

// MonitorWait implements monitor_wait(o, delta) (spec §4.6): t must own
// o's monitor; its depth is saved for restoration on resumption, it moves
// to the condvar queue (and the timer queue too, if delta>0), the monitor
// is released or handed off, and the scheduler reschedules. Per spec §5,
// wait is not one of the interruptible suspension points (only sleep and
// join are), so unlike Sleep/Join this never returns vmerr.ErrInterrupted.
func (s *Scheduler) MonitorWait(t *Thread, o addr.Address, deltaMillis int64) (*Thread, error) {
	if deltaMillis < 0 {
		return nil, vmerr.ErrIllegalThreadState
	}
	mon := s.monitorFor(o)
	if mon.owner != t {
		return nil, vmerr.ErrBadMonitorState
	}
	t.restoreDepth = &depthRestore{mon: mon, depth: mon.depth}
	mon.hadWaiter = true

	mon.enqueueCond(t)
	t.State = Waiting
	t.waitReason = "wait"
	if deltaMillis > 0 {
		t.waitMonitor = mon
		t.wakeAtMillis = s.Clock() + deltaMillis
		s.insertTimer(t)
	}

	if next := mon.dequeueAcquire(); next != nil {
		mon.owner, mon.depth = next, 1
		s.insertReady(next)
	} else {
		mon.owner = nil
	}

	return s.Reschedule()
}

// Wait is the generic object-wait entry point named in the operation
// inventory: identical to MonitorWait, exposed under the name the spec's
// §5 "wait(timeout?)" suspension point uses at the interpreter boundary.
func (s *Scheduler) Wait(t *Thread, o addr.Address, timeoutMillis int64) (*Thread, error) {
	return s.MonitorWait(t, o, timeoutMillis)
}

// reacquireOrBlock is invoked by RescheduleNext when a timed-wait's timer
// entry fires before any notify: t attempts to reacquire mon exactly as if
// notified, so a timeout "returns normally (indistinguishable from a
// notify for the caller's purposes)" (spec §5).
func (m *Monitor) reacquireOrBlock(s *Scheduler, t *Thread) {
	m.removeCond(t)
	s.acquireOrQueue(t, m)
}

// acquireOrQueue hands mon straight to t if unowned, else queues t on its
// acquire list — the same admission logic MonitorEnter uses, factored out
// so monitor_notify and timed-wait expiry share it.
func (s *Scheduler) acquireOrQueue(t *Thread, mon *Monitor) {
	if mon.owner == nil {
		mon.owner, mon.depth = t, 1
		s.insertReady(t)
		return
	}
	t.State = Waiting
	t.waitReason = "monitor"
	mon.enqueueAcquire(t)
}

// MonitorNotify implements monitor_notify(o, all) (spec §4.6): pops one
// (or, if all, every) thread from the condvar queue, cancels any pending
// timer entry, and moves each to the acquire queue (or onto the ready
// queue, if the monitor happens to be free). It yields at the end if any
// thread was released, matching the spec note "yields at end if any was
// released".
func (s *Scheduler) MonitorNotify(t *Thread, o addr.Address, all bool) (*Thread, error) {
	mon := s.monitorFor(o)
	if mon.owner != t {
		return nil, vmerr.ErrBadMonitorState
	}
	released := false
	for {
		w := mon.dequeueCond()
		if w == nil {
			break
		}
		s.removeTimer(w)
		w.waitMonitor = nil
		s.acquireOrQueue(w, mon)
		released = true
		if !all {
			break
		}
	}
	if released {
		return s.Yield()
	}
	return t, nil
}
