// Package gc implements the Garbage Collector (G): a generational,
// mark-compact (Lisp-2 style) collector over the memory manager's RAM
// arena. A collection runs four phases — mark, compute new locations,
// update references, compact — exactly as spec §4.5 describes; the
// alternative "simpler Cheney copying collector" mentioned as an open
// question there is deliberately not implemented (see DESIGN.md).
package gc

import (
	"go.uber.org/zap"

	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/bitmap"
	"github.com/dougxc/squawk/internal/config"
	"github.com/dougxc/squawk/internal/header"
	"github.com/dougxc/squawk/internal/mem"
	"github.com/dougxc/squawk/internal/metrics"
	"github.com/dougxc/squawk/internal/stackchunk"
)

// sliceSizeWords bounds how many compacted words share one slice-table
// entry (spec §4.5's forwarding encoding packs a slice-relative offset,
// not an absolute address, to keep the header word's bit budget small).
// 4096 is small enough that a default-sized heap (config.Default) spans
// several slices, unlike the encodable maximum
// (header.MaxSliceOffsetWords), which a real embedded heap would never
// approach; the small heaps in this package's tests fit in one slice.
const sliceSizeWords = addr.UWord(4096)

// markStackCapacity bounds the explicit mark stack used once the
// recursive mark_object call exceeds its compile-time depth of 4 (spec
// §4.5 step 4). A bounded, rather than growable, stack is what makes the
// "rescan on overflow" strategy (spec §9 Open Question, decided in
// DESIGN.md) something this implementation actually exercises instead of
// sidestepping it by just growing a slice without bound.
const markStackCapacity = 64

const recursionDepthLimit = 4

// Collector is the garbage collector (G). It holds no heap state of its
// own between collections other than its mark bitmap, destination base,
// and self-promotion flag, all derived fresh from the Manager's current
// bounds each run.
type Collector struct {
	heap    *mem.Manager
	logger  *zap.Logger
	metrics *metrics.Registry
	cfg     config.Config

	// IsolateAlive reports whether the isolate owning a suspended stack
	// chunk is still live (spec §4.3 prune predicate). Wired by
	// internal/vm to the scheduler; nil treats every claimed chunk as
	// belonging to a live isolate (no pruning beyond plain orphans).
	IsolateAlive func(isolateID int) bool

	promoteFull bool

	// markBits is the mark bitmap for the current run; destBase is the
	// address compaction is filling from. The slice table of spec §4.5 is
	// not materialized as a slice of base addresses — since every slice is
	// the same fixed size and they tile destBase upward with no gaps, a
	// slice's base is sliceBase(destBase, idx), a closed-form computation
	// rather than a stored table (see compact.go).
	markBits *bitmap.Bitmap
	destBase addr.Address

	markStack   []addr.Address
	overflowed  bool
	recordOrder bool

	liveOrder []addr.Address
	liveInfo  map[addr.Address]liveObject
}

type liveObject struct {
	kind     header.Kind
	classPtr addr.Address
	origW0   header.Word
	size     addr.UWord
	newAddr  addr.Address
}

// New constructs a Collector over heap, using heap's own logger/metrics.
func New(heap *mem.Manager) *Collector {
	return &Collector{
		heap:    heap,
		logger:  heap.Logger(),
		metrics: heap.Metrics(),
		cfg:     heap.Config(),
	}
}

// Collect runs one collection. requestFull forces a full (old+young)
// collection; the collector additionally promotes itself to full whenever
// the previous run's self-promotion flag is set (spec §4.5 Trigger: "if
// the free space ... is less than the ideal young-generation size, the
// next collection is promoted to full").
func (g *Collector) Collect(requestFull bool) (addr.UWord, error) {
	full := requestFull || g.promoteFull
	g.promoteFull = false

	ramStart, heapEnd := g.heap.RAMBounds()
	oldGenEnd := g.heap.OldGenEnd()

	scanStart := oldGenEnd
	destBase := oldGenEnd
	if full {
		scanStart = ramStart
		destBase = ramStart
	}
	scanEnd := g.heap.AllocPointer()

	beforeBytes := addr.UWord(scanEnd.Diff(scanStart))
	g.traceBasic(full, scanStart, scanEnd)

	g.markBits = bitmap.New(ramStart, heapEnd)
	g.liveInfo = make(map[addr.Address]liveObject)
	g.liveOrder = nil
	g.markStack = g.markStack[:0]
	g.overflowed = false

	g.pruneStackChunks()

	g.markRoots(full, scanStart)
	g.rescanUntilStable(scanStart, scanEnd)

	newAP := g.computeNewLocations(scanStart, scanEnd, destBase)
	g.updateReferences(scanStart, scanEnd)
	g.compact()

	g.heap.SetAllocPointer(newAP)
	if full {
		g.heap.SetOldGenEnd(newAP)
	}
	afterBytes := addr.UWord(newAP.Diff(destBase))
	reclaimedBytes := beforeBytes - afterBytes

	g.heap.WriteBarrier().ClearRange(oldGenEnd, heapEnd)

	kind := "young"
	if full {
		kind = "full"
	}
	if g.metrics != nil {
		g.metrics.CollectionRun(kind, uint64(reclaimedBytes))
	}
	g.traceCollection(kind, reclaimedBytes/addr.WordSize)
	g.heap.NoteCollectionRun()

	freeWords := addr.UWord(heapEnd.Diff(g.heap.OldGenEnd())) / addr.WordSize
	if freeWords < g.heap.IdealYoungGenerationWords() {
		g.promoteFull = true
	}

	return reclaimedBytes, nil
}

// pruneStackChunks removes orphaned and dead-isolate-owned chunks from the
// registry before phase 1, per spec §4.3/§4.5 ("W prunes based on
// [owner]; G invokes W.prune(orphan) before phase 1").
func (g *Collector) pruneStackChunks() {
	g.heap.StackChunks().Prune(
		func(c *stackchunk.Chunk) bool { return c.Owner == nil },
		func(c *stackchunk.Chunk) bool {
			if c.Owner == nil || g.IsolateAlive == nil {
				return true
			}
			return g.IsolateAlive(c.Owner.IsolateID())
		},
	)
}
