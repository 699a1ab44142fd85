package gc

import (
	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/header"
	"github.com/dougxc/squawk/internal/stackchunk"
)

// computeNewLocations walks [scanStart, scanEnd) in address order exactly
// once (spec §4.5 phase 2), assigning each live block a new address
// starting at destBase and writing the forwarded encoding into its first
// word so that phase 3 can redirect references to it. In that forwarded
// word, ClassOffsetWords carries the destination slice index and Region is
// always RegionHeap; the class is not encoded there, since the original
// header word is kept in liveInfo and restored by compact. Garbage blocks
// are skipped; garbage whose class has a finalizer is queued for
// finalization by class and address only (see queueFinalizerIfNeeded).
func (g *Collector) computeNewLocations(scanStart, scanEnd, destBase addr.Address) addr.Address {
	g.destBase = destBase
	newLoc := destBase
	cur := scanStart
	for cur.LoEq(scanEnd) && cur != scanEnd {
		w0 := g.heap.HeaderWord(cur)
		kind := header.ClassifyBlockStart(w0)
		size := g.heap.ObjectWords(cur, kind)
		if size == 0 {
			size = 1
		}

		if !g.markBits.Test(cur) {
			g.queueFinalizerIfNeeded(cur, kind, size)
			cur = cur.Add(addr.Offset(size * addr.WordSize))
			continue
		}

		classPtr := g.classPointerOf(cur, kind, w0)
		newAddr := newLoc
		sliceIdx, sliceOff := sliceIndexOffset(newAddr.Diff(destBase))
		g.liveInfo[cur] = liveObject{kind: kind, classPtr: classPtr, origW0: w0, size: size, newAddr: newAddr}
		g.liveOrder = append(g.liveOrder, cur)

		fw := header.EncodeForwarded(header.Forwarded{
			Region:           header.RegionHeap,
			ClassOffsetWords: addr.UWord(sliceIdx),
			SliceOffsetWords: addr.UWord(sliceOff),
		})
		g.heap.SetHeaderWord(cur, fw)

		newLoc = newLoc.Add(addr.Offset(size * addr.WordSize))
		cur = cur.Add(addr.Offset(size * addr.WordSize))
	}
	return newLoc
}

func (g *Collector) classPointerOf(blockStart addr.Address, kind header.Kind, w0 header.Word) addr.Address {
	switch kind {
	case header.KindInstance:
		return header.DirectPointer(w0)
	case header.KindArray:
		return header.DirectPointer(g.heap.HeaderWord(blockStart.Add(addr.Offset(addr.WordSize))))
	default:
		prefix := header.DecodeMethodHeaderWords(w0)
		sub := blockStart.Add(addr.Offset(prefix * addr.WordSize))
		return header.DirectPointer(g.heap.HeaderWord(sub.Add(addr.Offset(addr.WordSize))))
	}
}

// queueFinalizerIfNeeded queues a dead instance whose class declares a
// finalizer (spec §4.5.6), recording its class and its address at the time
// of death. The object is not kept alive for another cycle and its body is
// not copied: compaction in the same run may overwrite that address, so
// the queued address identifies the dead object but no longer holds its
// contents.
func (g *Collector) queueFinalizerIfNeeded(blockStart addr.Address, kind header.Kind, size addr.UWord) {
	if kind != header.KindInstance {
		return
	}
	classPtr := header.DirectPointer(g.heap.HeaderWord(blockStart))
	k := g.heap.ClassOf(classPtr)
	if k == nil || !k.HasFinalizer() {
		return
	}
	g.heap.RegisterFinalizer(k, blockStart)
}

// sliceIndexOffset splits a destination offset (from the destination
// base) into a slice index and an in-slice word offset.
func sliceIndexOffset(destOffset addr.Offset) (int, int) {
	words := addr.UWord(destOffset) / addr.WordSize
	return int(words / sliceSizeWords), int(words % sliceSizeWords)
}

// sliceBase reconstructs a slice's base address given destBase and its
// index.
func sliceBase(destBase addr.Address, idx int) addr.Address {
	return destBase.Add(addr.Offset(addr.UWord(idx) * sliceSizeWords * addr.WordSize))
}

// resolveForwarded follows a forwarded header word back to its new
// absolute address, given the destBase a compaction run used.
func resolveForwarded(destBase addr.Address, w header.Word) addr.Address {
	f := header.DecodeForwarded(w)
	return sliceBase(destBase, int(f.ClassOffsetWords)).Add(addr.Offset(f.SliceOffsetWords * addr.WordSize))
}

// updateReferences walks every live object (in the order recorded by
// computeNewLocations) and rewrites each of its reference slots that
// points at another moved object to that object's new address (spec §4.5
// phase 3), by reading the target's forwarded header word directly —
// mirroring how a real Lisp-2 collector's phase 3 works, rather than
// consulting a side table. Slots pointing outside the moved range (the
// old generation during a young collection, or a non-heap region) are
// left untouched, since header.IsForwarded is false for them.
func (g *Collector) updateReferences(scanStart, scanEnd addr.Address) {
	for _, old := range g.liveOrder {
		info := g.liveInfo[old]
		g.updateSlotsOf(old, info)
	}
	g.updateRootSlots()
	g.updateStackChunkSlots()
}

func (g *Collector) updateSlotsOf(old addr.Address, info liveObject) {
	switch info.kind {
	case header.KindInstance:
		k := g.heap.ClassOf(info.classPtr)
		if k == nil {
			return
		}
		base := old.Add(addr.Offset(addr.WordSize))
		for i := addr.UWord(0); i < k.InstanceWords; i++ {
			if !k.InstanceOopMap.IsReference(int(i)) {
				continue
			}
			g.updateSlot(base.Add(addr.Offset(i * addr.WordSize)))
		}
	case header.KindArray:
		k := g.heap.ClassOf(info.classPtr)
		if k == nil || !k.ElementIsReference {
			return
		}
		length := header.DecodeArrayLength(info.origW0)
		base := old.Add(addr.Offset(2 * addr.WordSize))
		for i := addr.UWord(0); i < length; i++ {
			g.updateSlot(base.Add(addr.Offset(i * addr.WordSize)))
		}
	case header.KindMethod:
		// no reference slots
	}
}

func (g *Collector) updateSlot(slot addr.Address) {
	v := addr.Address(g.heap.WordAt(slot))
	if v.IsZero() {
		return
	}
	w := g.heap.HeaderWord(v)
	if !header.IsForwarded(w) {
		return
	}
	g.heap.SetWordAt(slot, addr.UWord(resolveForwarded(g.destBase, w)))
}

func (g *Collector) updateRootSlots() {
	for _, om := range g.heap.ObjectMemories() {
		if om.Root.IsZero() {
			continue
		}
		w := g.heap.HeaderWord(om.Root)
		if header.IsForwarded(w) {
			om.Root = resolveForwarded(g.destBase, w)
		}
	}
}

func (g *Collector) updateStackChunkSlots() {
	g.heap.StackChunks().Each(func(c *stackchunk.Chunk) {
		for i := 0; i <= c.LastFP; i++ {
			f := &c.Frames[i]
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
				w := g.heap.HeaderWord(v)
				if header.IsForwarded(w) {
					f.Slots[slot] = addr.UWord(resolveForwarded(g.destBase, w))
				}
			}
		}
	})
}

// compact physically moves every live object from its old address to its
// new one, restoring the original header word that the forwarding
// encoding overwrote (spec §4.5 phase 4).
func (g *Collector) compact() {
	arena := g.heap.Arena()
	ramStart, _ := g.heap.RAMBounds()
	for _, old := range g.liveOrder {
		info := g.liveInfo[old]
		oldBase := addr.UWord(old.Diff(ramStart)) / addr.WordSize
		newBase := addr.UWord(info.newAddr.Diff(ramStart)) / addr.WordSize
		copy(arena[newBase:newBase+info.size], arena[oldBase:oldBase+info.size])
		arena[newBase] = addr.UWord(info.origW0)
	}
}
