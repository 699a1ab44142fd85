package sched

import (
	"github.com/dougxc/squawk/internal/stackchunk"
	"github.com/dougxc/squawk/internal/vmerr"
)

// hibernatedIsolate holds everything Hibernate pulled out of the live
// scheduler state for one isolate, to be handed back by Unhibernate.
type hibernatedIsolate struct {
	runThreads   []*Thread
	timerThreads []*Thread
	// timerDeltas[i] is the number of milliseconds that remained on
	// timerThreads[i]'s wake timer at the moment of hibernation — restored
	// relative to the unhibernation instant (spec §8 S6: "same pending
	// wake time delta measured from the unhibernation instant").
	timerDeltas []int64
	chunks      []*stackchunk.Chunk
}

// extractReady removes every ready-queue thread match selects, preserving
// the relative order of the rest (reinserted in their original order via
// insertReady, which keeps equal-priority threads in insertion order).
func (s *Scheduler) extractReady(match func(*Thread) bool) []*Thread {
	var removed, kept []*Thread
	for cur := s.readyHead; cur != nil; {
		next := cur.link
		cur.link = nil
		if match(cur) {
			removed = append(removed, cur)
		} else {
			kept = append(kept, cur)
		}
		cur = next
	}
	s.readyHead = nil
	for _, t := range kept {
		s.insertReady(t)
	}
	return removed
}

// extractTimer is extractReady's timer-queue counterpart.
func (s *Scheduler) extractTimer(match func(*Thread) bool) []*Thread {
	var removed, kept []*Thread
	for cur := s.timerHead; cur != nil; {
		next := cur.link
		cur.link = nil
		if match(cur) {
			removed = append(removed, cur)
		} else {
			kept = append(kept, cur)
		}
		cur = next
	}
	s.timerHead = nil
	for _, t := range kept {
		s.insertTimer(t)
	}
	return removed
}

// Hibernate moves every alive thread of isolateID out of the scheduler's
// live ready and timer queues into a per-isolate hibernated record,
// pre-empting the current thread if it belongs to that isolate (spec
// §4.6: "Hibernation moves an entire isolate's alive threads into
// per-isolate hibernated-run and hibernated-timer sublists, and pre-empts
// the current thread if it belongs to that isolate"). Stack chunks owned
// by the isolate's threads are pruned from W in the same call, per spec §8
// S6, and saved so Unhibernate can relink them. Threads blocked on a
// monitor or an event are left where they are — the spec's hibernation
// description only names the run and timer sublists.
//
// Pre-empting the current thread only removes it from scheduler
// bookkeeping; the caller must still call RescheduleNext to actually
// switch away, since Hibernate has no way to unwind whatever call stack is
// presently "running" it.
func (s *Scheduler) Hibernate(isolateID int) error {
	if _, exists := s.hibernated[isolateID]; exists {
		return vmerr.ErrIllegalThreadState
	}

	belongsTo := func(t *Thread) bool { return t.IsolateNum == isolateID }
	now := s.Clock()

	runThreads := s.extractReady(belongsTo)

	timerRemoved := s.extractTimer(belongsTo)
	timerDeltas := make([]int64, len(timerRemoved))
	for i, t := range timerRemoved {
		d := t.wakeAtMillis - now
		if d < 0 {
			d = 0
		}
		timerDeltas[i] = d
	}

	if s.current != nil && belongsTo(s.current) {
		runThreads = append(runThreads, s.current)
		s.current = nil
	}

	for _, t := range runThreads {
		t.State = Waiting
		t.waitReason = "hibernated"
	}
	for _, t := range timerRemoved {
		t.State = Waiting
		t.waitReason = "hibernated"
	}

	removedChunks := s.heap.StackChunks().Prune(
		func(c *stackchunk.Chunk) bool { return c.Owner == nil },
		func(c *stackchunk.Chunk) bool {
			if c.Owner == nil {
				return true
			}
			return c.Owner.IsolateID() != isolateID
		},
	)
	var isolateChunks []*stackchunk.Chunk
	for _, c := range removedChunks {
		if c.Owner != nil && c.Owner.IsolateID() == isolateID {
			isolateChunks = append(isolateChunks, c)
		}
		// Chunks removed for being true orphans (Owner == nil) belong to
		// no isolate and are simply dropped; nothing will ever claim them.
	}

	s.hibernated[isolateID] = &hibernatedIsolate{
		runThreads:   runThreads,
		timerThreads: timerRemoved,
		timerDeltas:  timerDeltas,
		chunks:       isolateChunks,
	}
	s.updateThreadMetrics()
	return nil
}

// Unhibernate reverses Hibernate: every saved thread rejoins the live
// ready or timer queue (timer wake times recomputed from now), and the
// isolate's stack chunks are relinked into W.
func (s *Scheduler) Unhibernate(isolateID int) error {
	rec, ok := s.hibernated[isolateID]
	if !ok {
		return vmerr.ErrIllegalThreadState
	}
	delete(s.hibernated, isolateID)

	for _, t := range rec.runThreads {
		s.insertReady(t)
	}

	now := s.Clock()
	for i, t := range rec.timerThreads {
		t.State = Waiting
		t.wakeAtMillis = now + rec.timerDeltas[i]
		s.insertTimer(t)
	}

	s.heap.StackChunks().Append(rec.chunks)
	s.updateThreadMetrics()
	return nil
}
