// Package stackchunk implements the Stack Chunk Registry (W): the set of
// fixed-size squawk arrays that hold a thread's activation frames. A chunk
// can outlive the thread that owned it, and is pruned from the registry
// once it is orphaned (its owner is nil) or its owner's isolate is no
// longer live (spec §4.3).
package stackchunk

import (
	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/classmeta"
)

// Owner is the (sched.Thread-shaped) claimant of a chunk. The stackchunk
// package only needs to ask an owner which chunk it currently claims and
// which isolate it belongs to — defining the narrow interface here, rather
// than importing internal/sched, is what lets internal/sched import
// internal/stackchunk without a cycle.
type Owner interface {
	StackChunk() *Chunk
	IsolateID() int
}

// Frame is one activation record within a chunk. Slots holds the method's
// parameter and local words, raw; Method.FrameOopMap (spec §4.3, §6) says
// which of them are references for the collector's stack walk.
type Frame struct {
	Method  *classmeta.Method
	PrevFP  int // index of the enclosing frame within the same chunk, -1 if none
	PrevIP  int // bytecode offset to resume the enclosing frame at
	Slots   []addr.UWord
}

// Chunk is one stack chunk: a next-pointer threading it into the registry,
// its current owner (nil once orphaned), the index of its topmost live
// frame, and the frames themselves.
type Chunk struct {
	next    *Chunk
	Owner   Owner
	LastFP  int // index into Frames of the topmost frame, -1 if empty
	Frames  []Frame
}

// NewChunk allocates an empty chunk of the given frame capacity. Appending
// beyond capacity makes PushFrame report failure rather than grow the
// chunk — chunks are fixed-size once allocated, matching their being
// ordinary squawk arrays under the hood (spec §3). Nothing in this module
// links a further chunk in when one is full.
func NewChunk(capacity int) *Chunk {
	return &Chunk{LastFP: -1, Frames: make([]Frame, 0, capacity)}
}

// PushFrame appends an activation frame, returning its index, or false if
// the chunk has no spare capacity.
func (c *Chunk) PushFrame(f Frame) (int, bool) {
	if len(c.Frames) == cap(c.Frames) {
		return 0, false
	}
	f.PrevFP = c.LastFP
	c.Frames = append(c.Frames, f)
	c.LastFP = len(c.Frames) - 1
	return c.LastFP, true
}

// PopFrame discards the topmost frame, unwinding LastFP to the frame below
// it (or -1 if the chunk becomes empty). It does not shrink Frames, so the
// oop map of a just-popped frame stays harmless-zeroed rather than
// dangling; the collector never visits past LastFP.
func (c *Chunk) PopFrame() {
	if c.LastFP < 0 {
		return
	}
	prev := c.Frames[c.LastFP].PrevFP
	c.Frames[c.LastFP] = Frame{}
	c.Frames = c.Frames[:c.LastFP]
	c.LastFP = prev
}

// Registry is the singly linked list of every chunk ever allocated,
// threaded through each chunk's own next field (spec §3: "next-chunk
// pointer ... threaded as a linked list rather than tracked in a side
// table, so the registry itself never allocates").
type Registry struct {
	head *Chunk
	n    int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add links chunk onto the front of the registry. O(1), as required of the
// allocator's hot path (internal/mem calls this from NewStack).
func (r *Registry) Add(c *Chunk) {
	c.next = r.head
	r.head = c
	r.n++
}

// Count returns the number of chunks currently registered.
func (r *Registry) Count() int {
	return r.n
}

// Each calls fn once per registered chunk, in registry (most-recently-added
// first) order. fn must not mutate the registry's linkage; use Prune for
// that.
func (r *Registry) Each(fn func(*Chunk)) {
	for c := r.head; c != nil; c = c.next {
		fn(c)
	}
}

// Prune removes every chunk for which orphan returns true, then every
// remaining chunk for which ownedByLiveIsolate returns false, preserving
// the relative order of the chunks that remain. It returns the removed
// chunks — those rejected by ownedByLiveIsolate first, then the orphans,
// each group in registry order — so the caller (internal/gc, before phase
// 1) can release whatever else referenced them. Orphan chunks (Owner == nil)
// must be evaluated, and removed, before chunks still claimed by a
// suspended isolate — the spec's prune ordering constraint exists because a
// chunk's isolate-ownership predicate may itself consult whether the chunk
// is an orphan of a *different*, now-terminated thread sharing the isolate.
// Prune enforces this by running two passes: orphans first.
func (r *Registry) Prune(orphan, ownedByLiveIsolate func(*Chunk) bool) []*Chunk {
	var removed []*Chunk

	var survivors []*Chunk
	var removedOrphans []*Chunk
	for c := r.head; c != nil; c = c.next {
		if orphan(c) {
			removedOrphans = append(removedOrphans, c)
		} else {
			survivors = append(survivors, c)
		}
	}

	var kept []*Chunk
	for _, c := range survivors {
		if ownedByLiveIsolate(c) {
			kept = append(kept, c)
		} else {
			removed = append(removed, c)
		}
	}
	removed = append(removed, removedOrphans...)

	r.head = nil
	r.n = 0
	for i := len(kept) - 1; i >= 0; i-- {
		r.Add(kept[i])
	}
	return removed
}

// Append relinks a previously pruned sublist (as returned by Prune) back
// onto the front of the registry, in O(length of list) time — used when an
// isolate is unhibernated and its stack chunks become live again.
func (r *Registry) Append(list []*Chunk) {
	for i := len(list) - 1; i >= 0; i-- {
		r.Add(list[i])
	}
}
