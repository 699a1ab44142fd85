package gc

import (
	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/header"
	"github.com/dougxc/squawk/internal/stackchunk"
)

// markRoots marks every permanent GC root (object-memory roots) and, for a
// young-only collection, every young-generation object reachable from the
// write-barrier's remembered set of old-to-young references (spec §4.5
// step 2: "scan the write-barrier bitmap for old-generation objects with
// set bits; treat their reference slots as additional roots"). Live stack
// chunk frames are also roots (spec §4.3).
func (g *Collector) markRoots(full bool, scanStart addr.Address) {
	for _, om := range g.heap.ObjectMemories() {
		if om.Root.IsZero() {
			continue
		}
		g.markObject(om.Root)
	}

	if !full {
		ramStart, heapEnd := g.heap.RAMBounds()
		it := g.heap.WriteBarrier().Start(ramStart, scanStart)
		for {
			slot, ok := it.Next()
			if !ok {
				break
			}
			target := addr.Address(g.heap.WordAt(slot))
			if scanStart.Hi(target) || target.Hi(heapEnd) || target.IsZero() {
				continue
			}
			g.markObject(target)
		}
	}

	g.heap.StackChunks().Each(func(c *stackchunk.Chunk) {
		if c.Owner == nil {
			return
		}
		for i := 0; i <= c.LastFP; i++ {
			f := c.Frames[i]
			if f.Method == nil {
				continue
			}
			for slot := 0; slot < f.Method.SlotCount() && slot < len(f.Slots); slot++ {
				if !f.Method.FrameOopMap.IsReference(slot) {
					continue
				}
				v := addr.Address(f.Slots[slot])
				if v.IsZero() {
					continue
				}
				g.markObject(v)
			}
		}
	})
}

// markObject marks the object at a (and, transitively, its references) if
// it hasn't been marked already. Recursion is allowed to depth 4 (spec
// §4.5 step 4); beyond that, children are pushed onto the bounded mark
// stack instead, which may overflow and set g.overflowed for a later
// rescan pass.
func (g *Collector) markObject(a addr.Address) {
	g.markObjectDepth(a, 0)
}

func (g *Collector) markObjectDepth(a addr.Address, depth int) {
	if a.IsZero() {
		return
	}
	if g.markBits.TestAndSet(a) {
		return
	}
	if g.recordOrder {
		g.liveOrder = append(g.liveOrder, a)
	}

	w0 := g.heap.HeaderWord(a)
	kind := header.ClassifyBlockStart(w0)

	switch kind {
	case header.KindInstance:
		classPtr := header.DirectPointer(w0)
		k := g.heap.ClassOf(classPtr)
		if k == nil {
			return
		}
		base := a.Add(addr.Offset(addr.WordSize))
		for i := addr.UWord(0); i < k.InstanceWords; i++ {
			if !k.InstanceOopMap.IsReference(int(i)) {
				continue
			}
			v := addr.Address(g.heap.WordAt(base.Add(addr.Offset(i * addr.WordSize))))
			g.pushOrRecurse(v, depth)
		}
	case header.KindArray:
		classPtr := header.DirectPointer(g.heap.HeaderWord(a.Add(addr.Offset(addr.WordSize))))
		k := g.heap.ClassOf(classPtr)
		if k == nil || !k.ElementIsReference {
			return
		}
		length := header.DecodeArrayLength(w0)
		base := a.Add(addr.Offset(2 * addr.WordSize))
		for i := addr.UWord(0); i < length; i++ {
			v := addr.Address(g.heap.WordAt(base.Add(addr.Offset(i * addr.WordSize))))
			g.pushOrRecurse(v, depth)
		}
	case header.KindMethod:
		// A method body's only reference is its own class pointer, into
		// ROM/NVM; classes are permanent and never collected, so a
		// method body has no further references to trace.
	}
}

func (g *Collector) pushOrRecurse(v addr.Address, depth int) {
	if v.IsZero() {
		return
	}
	if depth+1 < recursionDepthLimit {
		g.markObjectDepth(v, depth+1)
		return
	}
	if g.markBits.Test(v) {
		return
	}
	if len(g.markStack) >= markStackCapacity {
		g.overflowed = true
		return
	}
	g.markStack = append(g.markStack, v)
}

// rescanUntilStable drains the explicit mark stack, then — if it ever
// overflowed — repeatedly re-walks every already-marked block in
// [scanStart, scanEnd) looking for newly-reachable children, until a full
// pass completes without a further overflow (spec §9 Open Question,
// decided as the "rescan" strategy in DESIGN.md).
func (g *Collector) rescanUntilStable(scanStart, scanEnd addr.Address) {
	g.drainMarkStack()
	for g.overflowed {
		g.overflowed = false
		cur := scanStart
		for cur.LoEq(scanEnd) && cur != scanEnd {
			w0 := g.heap.HeaderWord(cur)
			if !g.markBits.Test(cur) {
				cur = g.nextBlock(cur, w0)
				continue
			}
			g.rescanChildrenOf(cur, w0)
			cur = g.nextBlock(cur, w0)
		}
		g.drainMarkStack()
	}
}

func (g *Collector) drainMarkStack() {
	for len(g.markStack) > 0 {
		v := g.markStack[len(g.markStack)-1]
		g.markStack = g.markStack[:len(g.markStack)-1]
		if g.markBits.Test(v) {
			continue
		}
		g.markObjectDepth(v, 0)
	}
}

// rescanChildrenOf re-walks an already-marked object's reference slots,
// pushing any unmarked child instead of assuming they were all already
// reached — used only during overflow recovery.
func (g *Collector) rescanChildrenOf(a addr.Address, w0 header.Word) {
	kind := header.ClassifyBlockStart(w0)
	switch kind {
	case header.KindInstance:
		k := g.heap.ClassOf(header.DirectPointer(w0))
		if k == nil {
			return
		}
		base := a.Add(addr.Offset(addr.WordSize))
		for i := addr.UWord(0); i < k.InstanceWords; i++ {
			if !k.InstanceOopMap.IsReference(int(i)) {
				continue
			}
			v := addr.Address(g.heap.WordAt(base.Add(addr.Offset(i * addr.WordSize))))
			if !v.IsZero() && !g.markBits.Test(v) {
				g.markObjectDepth(v, 0)
			}
		}
	case header.KindArray:
		k := g.heap.ClassOf(header.DirectPointer(g.heap.HeaderWord(a.Add(addr.Offset(addr.WordSize)))))
		if k == nil || !k.ElementIsReference {
			return
		}
		length := header.DecodeArrayLength(w0)
		base := a.Add(addr.Offset(2 * addr.WordSize))
		for i := addr.UWord(0); i < length; i++ {
			v := addr.Address(g.heap.WordAt(base.Add(addr.Offset(i * addr.WordSize))))
			if !v.IsZero() && !g.markBits.Test(v) {
				g.markObjectDepth(v, 0)
			}
		}
	}
}

// nextBlock advances past the block starting at a, sized via its class
// metadata (the object hasn't been forwarded yet at this point in the
// scan — mark phase runs entirely before compute-new-locations).
func (g *Collector) nextBlock(a addr.Address, w0 header.Word) addr.Address {
	kind := header.ClassifyBlockStart(w0)
	size := g.heap.ObjectWords(a, kind)
	if size == 0 {
		size = 1
	}
	return a.Add(addr.Offset(size * addr.WordSize))
}
