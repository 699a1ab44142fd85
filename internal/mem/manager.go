// Package mem implements the Memory Manager (M): the RAM/NVM allocators,
// the class and association tables, the object-memory (suite) registry,
// and the write-barrier bitmap. M owns the decision of when to hand off to
// the collector (internal/gc, referenced here only through the narrow
// Collector interface below, to keep the dependency one-directional).
package mem

import (
	"go.uber.org/zap"

	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/bitmap"
	"github.com/dougxc/squawk/internal/classmeta"
	"github.com/dougxc/squawk/internal/config"
	"github.com/dougxc/squawk/internal/metrics"
	"github.com/dougxc/squawk/internal/stackchunk"
	"github.com/dougxc/squawk/internal/vmerr"
)

// Collector is the seam M uses to hand off to the collector without
// importing internal/gc directly — internal/gc imports internal/mem (to
// operate on *Manager), so the dependency would otherwise cycle. Defining
// the interface on the consumer side (M) rather than the producer side (G)
// is the standard way to break that.
type Collector interface {
	// Collect runs one collection (full forces a full rather than
	// young-only collection) and reports the bytes reclaimed.
	Collect(full bool) (bytesReclaimed addr.UWord, err error)
}

// Manager is the memory manager (M). The zero value is not usable;
// construct with New.
type Manager struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Registry

	collector Collector

	// RAM arena: [oldGen (ramStart..oldGenEnd) | young (oldGenEnd..heapEnd)).
	arena      []addr.UWord
	ramStart   addr.Address
	heapEnd    addr.Address
	oldGenEnd  addr.Address // == young generation start
	ap         addr.Address // allocation pointer
	collections uint64

	// NVM: a simple bump allocator, never compacted (spec §4.4).
	nvmArena []addr.UWord
	nvmStart addr.Address
	nvmEnd   addr.Address
	nvmAP    addr.Address

	classTable []*classmeta.Klass
	assocTable []association

	chunks *stackchunk.Registry

	writeBarrier *bitmap.Bitmap

	objectMemories *objectMemoryRegistry

	finalizerQueue []FinalizerEntry

	allocationEnabled bool
	excessiveGC       bool
}

// FinalizerEntry is a pending finalizer invocation, queued by the collector
// when a finalizable object is found unreachable and drained by the
// scheduler's finalizer-runner queue (spec §4.5.6, §12).
type FinalizerEntry struct {
	Class  *classmeta.Klass
	Object addr.Address
}

// New constructs a Manager with a RAM heap and NVM region sized per cfg
// (HeapWords, NVMWords) and the excessive-GC flag taken from
// cfg.ExcessiveGC. The RAM heap starts one word above address 0, since a
// zero address is the null reference and no object may start there.
func New(cfg config.Config, logger *zap.Logger, reg *metrics.Registry) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	heapWords := cfg.HeapWords
	nvmWords := cfg.NVMWords
	m := &Manager{
		cfg:               cfg,
		logger:            logger,
		metrics:           reg,
		arena:             make([]addr.UWord, heapWords),
		ramStart:          addr.Address(addr.WordSize),
		heapEnd:           addr.Address((heapWords + 1) * addr.WordSize),
		nvmArena:          make([]addr.UWord, nvmWords),
		chunks:            stackchunk.NewRegistry(),
		objectMemories:    newObjectMemoryRegistry(),
		allocationEnabled: true,
		excessiveGC:       cfg.ExcessiveGC,
	}
	m.nvmStart = 0
	m.nvmEnd = addr.Address(nvmWords * addr.WordSize)
	m.nvmAP = m.nvmStart
	m.oldGenEnd = m.ramStart // everything starts in the young generation
	m.ap = m.ramStart
	m.writeBarrier = bitmap.New(m.ramStart, m.heapEnd)
	return m
}

// SetCollector installs the collector M hands off to on allocation failure
// or excessive-GC. Called once during VM wiring (internal/vm).
func (m *Manager) SetCollector(c Collector) { m.collector = c }

// SetAllocationEnabled toggles whether Allocate may proceed at all (spec
// §6: "temporarily disabling allocation while a thread is mid-switch").
func (m *Manager) SetAllocationEnabled(enabled bool) { m.allocationEnabled = enabled }

// SetExcessiveGC wires the §6 excessive-GC flag: when true, every
// allocation is preceded by a collection.
func (m *Manager) SetExcessiveGC(excessive bool) { m.excessiveGC = excessive }

// SafeToSwitchThreads reports whether the allocator is in a state where the
// scheduler may switch the running thread — false exactly while allocation
// is disabled through SetAllocationEnabled (spec §6).
func (m *Manager) SafeToSwitchThreads() bool { return m.allocationEnabled }

// Logger exposes the manager's logger for sibling packages wired through
// internal/vm (the collector logs through the same *zap.Logger).
func (m *Manager) Logger() *zap.Logger { return m.logger }

// Metrics exposes the manager's metrics registry (may be nil).
func (m *Manager) Metrics() *metrics.Registry { return m.metrics }

// Config returns the manager's configuration.
func (m *Manager) Config() config.Config { return m.cfg }

// Arena exposes the raw RAM backing slice, for internal/gc's phases. Callers
// outside this module have no business holding onto it across a collection.
func (m *Manager) Arena() []addr.UWord { return m.arena }

// RAMBounds returns the RAM heap's [start, end) range.
func (m *Manager) RAMBounds() (addr.Address, addr.Address) { return m.ramStart, m.heapEnd }

// OldGenEnd returns the current young-generation start.
func (m *Manager) OldGenEnd() addr.Address { return m.oldGenEnd }

// SetOldGenEnd is called by the collector after compaction to record the
// new young-generation boundary.
func (m *Manager) SetOldGenEnd(a addr.Address) { m.oldGenEnd = a }

// AllocPointer returns the current bump-allocation pointer.
func (m *Manager) AllocPointer() addr.Address { return m.ap }

// SetAllocPointer is called by the collector after compaction.
func (m *Manager) SetAllocPointer(a addr.Address) { m.ap = a }

// WriteBarrier exposes the write-barrier (remembered-set) bitmap.
func (m *Manager) WriteBarrier() *bitmap.Bitmap { return m.writeBarrier }

// StackChunks exposes the stack chunk registry (W).
func (m *Manager) StackChunks() *stackchunk.Registry { return m.chunks }

// IdealYoungGenerationWords is the target young-generation size, per §4.4's
// "a percentage of heap, default 10%".
func (m *Manager) IdealYoungGenerationWords() addr.UWord {
	return addr.UWord(m.cfg.IdealYoungGenerationWords())
}

// HeapEnd returns the end of the RAM heap.
func (m *Manager) HeapEnd() addr.Address { return m.heapEnd }

// CollectionsRun returns the number of collections run so far, for the GC
// trace threshold check (spec §6).
func (m *Manager) CollectionsRun() uint64 { return m.collections }

// NoteCollectionRun increments the collection counter; called by
// internal/gc after each run.
func (m *Manager) NoteCollectionRun() { m.collections++ }

// WriteBarrierMark records that a reference slot inside an old-generation
// object now points into the young generation (spec §6 write_barrier,
// §4.2). The interpreter (out of scope) calls this on every reference
// store into a RAM object; here it is the one function other packages call
// directly to exercise the barrier in tests.
func (m *Manager) WriteBarrierMark(slotAddr addr.Address) {
	m.writeBarrier.Set(slotAddr)
}

// reserve bumps ap by sizeWords words if there is room, trying a collection
// first when excessiveGC is set or there isn't enough space, and returns
// the block's start address.
func (m *Manager) reserve(sizeWords addr.UWord) (addr.Address, error) {
	if !m.allocationEnabled {
		return 0, vmerr.Fatal("allocate called while allocation disabled")
	}
	needCollect := m.excessiveGC
	if !needCollect {
		if avail := addr.UWord(m.heapEnd.Diff(m.ap)) / addr.WordSize; avail < sizeWords {
			needCollect = true
		}
	}
	if needCollect && m.collector != nil {
		full := addr.UWord(m.heapEnd.Diff(m.ap))/addr.WordSize < sizeWords
		if _, err := m.collector.Collect(full); err != nil {
			return 0, err
		}
		if addr.UWord(m.heapEnd.Diff(m.ap))/addr.WordSize < sizeWords {
			return 0, vmerr.OutOfMemory
		}
	} else if addr.UWord(m.heapEnd.Diff(m.ap))/addr.WordSize < sizeWords {
		return 0, vmerr.OutOfMemory
	}
	start := m.ap
	m.ap = m.ap.Add(addr.Offset(sizeWords * addr.WordSize))
	return start, nil
}

// Allocate reserves sizeWords words of zeroed RAM and returns its start
// address, retrying once after a collection if the first attempt fails
// (spec §4.4: "after G completes, retry once").
func (m *Manager) Allocate(sizeWords addr.UWord) (addr.Address, error) {
	start, err := m.reserve(sizeWords)
	if err != nil {
		return 0, err
	}
	base := addr.UWord(start.Diff(m.ramStart)) / addr.WordSize
	for i := addr.UWord(0); i < sizeWords; i++ {
		m.arena[base+i] = 0
	}
	return start, nil
}

// AllocateNVM bump-allocates sizeWords words of non-volatile memory, never
// reclaimed by the collector (spec §4.4).
func (m *Manager) AllocateNVM(sizeWords addr.UWord) (addr.Address, error) {
	if addr.UWord(m.nvmEnd.Diff(m.nvmAP))/addr.WordSize < sizeWords {
		return 0, vmerr.OutOfMemory
	}
	start := m.nvmAP
	base := addr.UWord(start.Diff(m.nvmStart)) / addr.WordSize
	for i := addr.UWord(0); i < sizeWords; i++ {
		m.nvmArena[base+i] = 0
	}
	m.nvmAP = m.nvmAP.Add(addr.Offset(sizeWords * addr.WordSize))
	return start, nil
}

// WordAt reads word index i of the RAM arena (i.e. the word at address
// ramStart + i*WordSize).
func (m *Manager) WordAt(a addr.Address) addr.UWord {
	return m.arena[addr.UWord(a.Diff(m.ramStart))/addr.WordSize]
}

// SetWordAt writes the word at address a of the RAM arena.
func (m *Manager) SetWordAt(a addr.Address, v addr.UWord) {
	m.arena[addr.UWord(a.Diff(m.ramStart))/addr.WordSize] = v
}
