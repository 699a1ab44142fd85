package gc

import (
	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/bitmap"
	"github.com/dougxc/squawk/internal/header"
	"github.com/dougxc/squawk/internal/mem"
)

// CopyObjectGraph extracts the object graph reachable from root into a
// relocatable, self-contained image — the two-pass serialization entry
// point behind isolate hibernation (spec §4.5.8): pass one marks the
// reachable set (in visitation order, unlike a normal collection's
// linear scan) and assigns each object a local, image-relative address;
// pass two copies each object's words into the image with reference slots
// rewritten to the corresponding local addresses, then restores the real
// heap's headers, since the source objects are not being moved, only
// copied out.
func (g *Collector) CopyObjectGraph(root addr.Address) (mem.PersistentImage, error) {
	ramStart, heapEnd := g.heap.RAMBounds()

	g.markBits = bitmap.New(ramStart, heapEnd)
	g.liveInfo = make(map[addr.Address]liveObject)
	g.liveOrder = nil
	g.markStack = g.markStack[:0]
	g.overflowed = false
	g.recordOrder = true
	defer func() { g.recordOrder = false }()

	g.markObject(root)
	g.drainMarkStackRecordingOrder()

	g.traceGraphCopy(len(g.liveOrder))

	const destBase = addr.Address(0)
	g.destBase = destBase
	newLoc := destBase
	for _, old := range g.liveOrder {
		w0 := g.heap.HeaderWord(old)
		kind := header.ClassifyBlockStart(w0)
		size := g.heap.ObjectWords(old, kind)
		if size == 0 {
			size = 1
		}
		classPtr := g.classPointerOf(old, kind, w0)
		sliceIdx, sliceOff := sliceIndexOffset(newLoc.Diff(destBase))
		g.liveInfo[old] = liveObject{kind: kind, classPtr: classPtr, origW0: w0, size: size, newAddr: newLoc}

		fw := header.EncodeForwarded(header.Forwarded{
			Region:           header.RegionHeap,
			ClassOffsetWords: addr.UWord(sliceIdx),
			SliceOffsetWords: addr.UWord(sliceOff),
		})
		g.heap.SetHeaderWord(old, fw)

		newLoc = newLoc.Add(addr.Offset(size * addr.WordSize))
	}

	totalWords := addr.UWord(newLoc.Diff(destBase)) / addr.WordSize
	img := mem.PersistentImage{
		Words: make([]addr.UWord, totalWords),
		IsRef: make([]bool, totalWords),
	}

	for _, old := range g.liveOrder {
		info := g.liveInfo[old]
		dstBase := addr.UWord(info.newAddr.Diff(destBase)) / addr.WordSize
		g.copyObjectIntoImage(old, info, img.Words[dstBase:dstBase+info.size], img.IsRef[dstBase:dstBase+info.size])
	}

	for _, old := range g.liveOrder {
		g.heap.SetHeaderWord(old, g.liveInfo[old].origW0)
	}

	rootInfo, ok := g.liveInfo[root]
	if ok {
		img.Root = rootInfo.newAddr
	}
	return img, nil
}

func (g *Collector) drainMarkStackRecordingOrder() {
	for len(g.markStack) > 0 {
		v := g.markStack[len(g.markStack)-1]
		g.markStack = g.markStack[:len(g.markStack)-1]
		if g.markBits.Test(v) {
			continue
		}
		g.markObjectDepth(v, 0)
	}
	if g.overflowed {
		// A graph reachable from a single hibernation root rarely
		// approaches the bounded mark stack's capacity; if it ever does,
		// fall back to the same rescan loop a full collection uses.
		g.overflowed = false
		for _, old := range append([]addr.Address(nil), g.liveOrder...) {
			w0 := g.heap.HeaderWord(old)
			g.rescanChildrenOf(old, w0)
		}
		g.drainMarkStackRecordingOrder()
	}
}

// copyObjectIntoImage writes old's header and body words into dst (already
// sized to the object), rewriting any reference slot that points at
// another object in the graph to that object's local image address, and
// marking the corresponding IsRef slot true so a future Load can relocate
// it.
func (g *Collector) copyObjectIntoImage(old addr.Address, info liveObject, dst []addr.UWord, isRef []bool) {
	dst[0] = addr.UWord(info.origW0)
	switch info.kind {
	case header.KindInstance:
		k := g.heap.ClassOf(info.classPtr)
		if k == nil {
			return
		}
		base := old.Add(addr.Offset(addr.WordSize))
		for i := addr.UWord(0); i < k.InstanceWords; i++ {
			v := g.heap.WordAt(base.Add(addr.Offset(i * addr.WordSize)))
			if k.InstanceOopMap.IsReference(int(i)) {
				isRef[1+i] = true
				if ref, ok := g.liveInfo[addr.Address(v)]; ok {
					v = addr.UWord(ref.newAddr)
				}
			}
			dst[1+i] = v
		}
	case header.KindArray:
		k := g.heap.ClassOf(info.classPtr)
		length := header.DecodeArrayLength(info.origW0)
		dst[1] = addr.UWord(g.heap.HeaderWord(old.Add(addr.Offset(addr.WordSize))))
		base := old.Add(addr.Offset(2 * addr.WordSize))
		for i := addr.UWord(0); i < length; i++ {
			v := g.heap.WordAt(base.Add(addr.Offset(i * addr.WordSize)))
			if k != nil && k.ElementIsReference {
				isRef[2+i] = true
				if ref, ok := g.liveInfo[addr.Address(v)]; ok {
					v = addr.UWord(ref.newAddr)
				}
			}
			dst[2+i] = v
		}
	case header.KindMethod:
		for i := addr.UWord(1); i < info.size; i++ {
			dst[i] = g.heap.WordAt(old.Add(addr.Offset(i * addr.WordSize)))
		}
	}
}
