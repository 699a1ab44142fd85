package mem

import (
	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/header"
)

// Classes and associations are not carved out of the same bump-allocated
// RAM arena as ordinary objects — real embedded Squawk images keep class
// metadata in ROM/NVM, off the collected heap entirely (spec §3: "the
// class metadata array for read-only object memories ... is never part of
// any copied object graph"). Rather than encode a literal ROM/NVM byte
// address, this implementation gives the class table and the association
// table their own disjoint base offsets in the same Address number space;
// RegionOf classifies any address by which disjoint range it falls in.
// This stands in for the hardware fact that ROM, NVM, and RAM occupy
// non-overlapping physical ranges on the target device.
const (
	classTableBase = addr.Address(1) << 48
	assocTableBase = addr.Address(1) << 49
)

// RegionOf classifies an address as ROM (class table), NVM (association
// table), or heap (any other address, NVM-arena addresses included).
// Unforwarded class-or-association header words are plain addresses in
// one of these disjoint ranges; the region tag only needs to be computed
// explicitly when a header word is rewritten to its forwarded encoding
// (spec §4.5.2 step 5).
func (m *Manager) RegionOf(a addr.Address) header.Region {
	switch {
	case a >= classTableBase && a < classTableBase+addr.Address(len(m.classTable)):
		return header.RegionROM
	case a >= assocTableBase && a < assocTableBase+addr.Address(len(m.assocTable)):
		return header.RegionNVM // associations live in RAM logically, but are
		// addressed out of the main arena here and take the NVM tag rather
		// than a fourth, reserved tag.
	default:
		return header.RegionHeap
	}
}
