package mem

import (
	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/classmeta"
	"github.com/dougxc/squawk/internal/header"
)

// HeaderWord reads the first word of the block starting at a — the word
// the collector's block-start walk classifies via header.ClassifyBlockStart.
func (m *Manager) HeaderWord(a addr.Address) header.Word { return m.headerWord(a) }

// SetHeaderWord overwrites the first word of the block starting at a. Used
// by the collector's compute-new-locations phase to install the forwarded
// encoding, and by the graph copy (CopyObjectGraph) to restore the
// original header word afterward.
func (m *Manager) SetHeaderWord(a addr.Address, w header.Word) { m.setHeaderWord(a, w) }

// ClassOf resolves the class-or-association pointer held in an unforwarded
// class-pointer header word down to the owning Klass.
func (m *Manager) ClassOf(classOrAssocPtr addr.Address) *classmeta.Klass {
	return m.classOf(classOrAssocPtr)
}

// ClassPointerOf returns the raw class-or-association pointer stored in the
// class-pointer slot of the object at blockStart, given its Kind and (for
// an array class-pointer slot, one word further in) its layout.
func (m *Manager) ClassPointerOf(blockStart addr.Address, kind header.Kind) header.Word {
	switch kind {
	case header.KindInstance:
		return m.headerWord(blockStart)
	case header.KindArray:
		return m.headerWord(blockStart.Add(addr.Offset(addr.WordSize)))
	default: // KindMethod: the class pointer is the second word of the
		// nested array-style sub-header, one prefix word plus one length
		// word past blockStart.
		prefix := header.DecodeMethodHeaderWords(m.headerWord(blockStart))
		sub := blockStart.Add(addr.Offset(prefix * addr.WordSize))
		return m.headerWord(sub.Add(addr.Offset(addr.WordSize)))
	}
}

// ObjectWords returns the total size, in words, of the object (including
// its header) starting at blockStart, given its already-classified kind.
// Instances resolve their class to learn the instance size; arrays take
// one word per element from their length word, and method bodies take
// their bytecode length rounded up to whole words.
func (m *Manager) ObjectWords(blockStart addr.Address, kind header.Kind) addr.UWord {
	switch kind {
	case header.KindInstance:
		classPtr := header.DirectPointer(m.headerWord(blockStart))
		k := m.classOf(classPtr)
		return 1 + k.InstanceWords
	case header.KindArray:
		length := header.DecodeArrayLength(m.headerWord(blockStart))
		return 2 + length
	default: // KindMethod
		prefix := header.DecodeMethodHeaderWords(m.headerWord(blockStart))
		sub := blockStart.Add(addr.Offset(prefix * addr.WordSize))
		length := header.DecodeArrayLength(m.headerWord(sub))
		lengthWords := addr.RoundUpToWord(length) / addr.WordSize
		return prefix + 2 + lengthWords
	}
}

// AssociationFor returns the association record backing the object at
// blockStart,
// installing one (copying the class forward) the first time an object
// needs an identity hash or monitor. It also rewrites the object's
// class-pointer header word in place to point at the association.
func (m *Manager) AssociationFor(blockStart addr.Address, kind header.Kind) addr.Address {
	slot := blockStart
	if kind == header.KindArray {
		slot = blockStart.Add(addr.Offset(addr.WordSize))
	} else if kind == header.KindMethod {
		prefix := header.DecodeMethodHeaderWords(m.headerWord(blockStart))
		slot = blockStart.Add(addr.Offset(prefix*addr.WordSize + addr.WordSize))
	}
	cur := header.DirectPointer(m.headerWord(slot))
	assoc := m.associationFor(cur)
	m.setHeaderWord(slot, header.NewDirectPointer(assoc))
	return assoc
}

// IdentityHash returns the (lazily assigned) identity hash of the
// association at assocPtr.
func (m *Manager) IdentityHash(assocPtr addr.Address, next func() uint32) uint32 {
	a := m.association(assocPtr)
	if a.hash == 0 {
		a.hash = next()
	}
	return a.hash
}

// Monitor returns the association's current monitor slot (nil if never
// inflated), and SetMonitor installs one. internal/sched uses these to
// implement lazy monitor inflation (spec §5) without internal/mem knowing
// the scheduler's Monitor type.
func (m *Manager) Monitor(assocPtr addr.Address) interface{} {
	return m.association(assocPtr).monitor
}

func (m *Manager) SetMonitor(assocPtr addr.Address, mon interface{}) {
	m.association(assocPtr).monitor = mon
}
