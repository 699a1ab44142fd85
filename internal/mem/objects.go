package mem

import (
	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/classmeta"
	"github.com/dougxc/squawk/internal/header"
	"github.com/dougxc/squawk/internal/stackchunk"
	"github.com/dougxc/squawk/internal/vmerr"
)

// NewInstance allocates a one-word-header instance of klass (spec §3, §4.4
// new_instance): [classPointer][instanceWords...]. klass must already be
// installed via RegisterClass.
func (m *Manager) NewInstance(klassPtr addr.Address, klass *classmeta.Klass) (addr.Address, error) {
	total := 1 + klass.InstanceWords
	start, err := m.Allocate(total)
	if err != nil {
		return 0, err
	}
	m.setHeaderWord(start, header.NewDirectPointer(klassPtr))
	return start, nil
}

// NewArray allocates a two-word-header squawk array of klass with the given
// element count (spec §3, §4.4 new_array): [length][classPointer][elements...].
// Every element, reference or primitive, occupies exactly one word — this
// implementation does not model multi-word primitive element kinds (e.g.
// long/double); see DESIGN.md.
func (m *Manager) NewArray(klassPtr addr.Address, klass *classmeta.Klass, length addr.UWord) (addr.Address, error) {
	if length > header.MaxArrayLength {
		return 0, vmerr.Fatalf("array length %d exceeds encodable maximum", length)
	}
	total := 2 + length
	start, err := m.Allocate(total)
	if err != nil {
		return 0, err
	}
	m.setHeaderWord(start, header.NewArrayLengthWord(length))
	m.setHeaderWord(start.Add(addr.Offset(addr.WordSize)), header.NewDirectPointer(klassPtr))
	return start, nil
}

// methodPrefixWords is the fixed number of extra words preceding a method
// body's nested array-style sub-header: just the method-tag word itself
// (see DESIGN.md for why this reconciles the spec's "tagged method header"
// description with its "method bodies are squawk arrays" classification).
const methodPrefixWords = addr.UWord(1)

// NewMethod allocates a method body: a one-word method-tag prefix
// (encoding methodPrefixWords) followed by a standard array sub-header
// (bytecode length, class pointer), followed by the bytecode bytes packed
// into whole words.
func (m *Manager) NewMethod(klassPtr addr.Address, klass *classmeta.Klass, bytecode []byte) (addr.Address, error) {
	lengthWords := addr.RoundUpToWord(addr.UWord(len(bytecode))) / addr.WordSize
	total := methodPrefixWords + 2 + lengthWords
	start, err := m.Allocate(total)
	if err != nil {
		return 0, err
	}
	m.setHeaderWord(start, header.NewMethodHeaderWord(methodPrefixWords))
	subHeader := start.Add(addr.Offset(methodPrefixWords * addr.WordSize))
	m.setHeaderWord(subHeader, header.NewArrayLengthWord(addr.UWord(len(bytecode))))
	m.setHeaderWord(subHeader.Add(addr.Offset(addr.WordSize)), header.NewDirectPointer(klassPtr))
	body := subHeader.Add(addr.Offset(2 * addr.WordSize))
	base := addr.UWord(body.Diff(m.ramStart)) / addr.WordSize
	for i, b := range bytecode {
		wordIdx := base + addr.UWord(i)/addr.WordSize
		shift := (addr.UWord(i) % addr.WordSize) * 8
		m.arena[wordIdx] |= addr.UWord(b) << shift
	}
	return start, nil
}

// NewStack allocates a stack chunk (spec §4.3) holding activation frames,
// registered with the stack chunk registry so the collector can prune and
// walk it. The chunk itself is a Go-level object (internal/stackchunk.Chunk)
// rather than a raw word range in the arena (frames need structured
// oop-map-driven walking the interpreter, not built here, would otherwise
// provide).
func (m *Manager) NewStack() *stackchunk.Chunk {
	c := stackchunk.NewChunk(m.cfg.StackChunkFrameCapacity)
	m.chunks.Add(c)
	return c
}

func (m *Manager) setHeaderWord(a addr.Address, w header.Word) {
	m.SetWordAt(a, addr.UWord(w))
}

func (m *Manager) headerWord(a addr.Address) header.Word {
	return header.Word(m.WordAt(a))
}

// RegisterFinalizer appends a finalizer entry for obj (an instance of
// klass, which must have ModHasFinalizer set) to the finalizer queue right
// away; the collector calls it once it has found obj unreachable (spec
// §4.5.6).
func (m *Manager) RegisterFinalizer(klass *classmeta.Klass, obj addr.Address) {
	if !klass.HasFinalizer() {
		return
	}
	m.finalizerQueue = append(m.finalizerQueue, FinalizerEntry{Class: klass, Object: obj})
}

// DrainFinalizerQueue removes and returns every queued finalizer entry.
// Called by internal/sched's finalizer-runner queue drain (spec §12).
func (m *Manager) DrainFinalizerQueue() []FinalizerEntry {
	q := m.finalizerQueue
	m.finalizerQueue = nil
	return q
}
