package mem

import (
	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/classmeta"
	"github.com/dougxc/squawk/internal/header"
)

// classTable holds every installed class descriptor, addressed by table
// index rather than a byte offset (see region.go). Classes are installed
// once by the (out-of-scope) loader and never relocated, so the table only
// ever grows.
//
// assocTable holds the identity/monitor redirection record for any RAM
// object that has acquired one (first identityHash call, or first
// monitor_enter): spec §3's "per-object association slot". An object's
// class-pointer header word is rewritten, once, to point at its
// association instead of directly at its class; the association carries
// the class pointer onward at the same conceptual slot.
type association struct {
	class   *classmeta.Klass
	hash    uint32
	monitor interface{} // set by internal/sched to a *sched.Monitor; mem
	// never inspects it, keeping the scheduler's monitor type out of M.
}

// classOf resolves a class-or-association header pointer (already known to
// be unforwarded) down to the owning Klass, following one extra indirection
// if the pointer names an association rather than a class directly.
func (m *Manager) classOf(p addr.Address) *classmeta.Klass {
	switch m.RegionOf(p) {
	case header.RegionROM:
		return m.classTable[int(p-classTableBase)]
	default:
		return m.assocTable[int(p-assocTableBase)].class
	}
}

// RegisterClass installs k and returns the header-word-ready pointer other
// objects' class slots should store to reference it.
func (m *Manager) RegisterClass(k *classmeta.Klass) addr.Address {
	idx := addr.Address(len(m.classTable))
	m.classTable = append(m.classTable, k)
	return classTableBase + idx
}

// associationFor returns the association for ptr if one already exists, or
// installs a fresh one (class, no hash yet, no monitor) the first time an
// object at classOrAssoc needs an identity hash or a monitor.
func (m *Manager) associationFor(classOrAssoc addr.Address) addr.Address {
	if m.RegionOf(classOrAssoc) != header.RegionROM {
		return classOrAssoc // already an association
	}
	idx := addr.Address(len(m.assocTable))
	m.assocTable = append(m.assocTable, association{class: m.classTable[int(classOrAssoc-classTableBase)]})
	return assocTableBase + idx
}

func (m *Manager) association(p addr.Address) *association {
	return &m.assocTable[int(p-assocTableBase)]
}
