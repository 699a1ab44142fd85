package gc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/classmeta"
	"github.com/dougxc/squawk/internal/gc"
	"github.com/dougxc/squawk/internal/header"
	"github.com/dougxc/squawk/internal/mem"
)

func TestCopyObjectGraphProducesSelfContainedImage(t *testing.T) {
	m := newHeap(t, 64)
	collector := gc.New(m)
	k := refKlass()
	klassPtr := m.RegisterClass(k)

	child, err := m.NewInstance(klassPtr, k)
	require.NoError(t, err)
	parent, err := m.NewInstance(klassPtr, k)
	require.NoError(t, err)
	m.SetWordAt(parent.Add(addr.Offset(addr.WordSize)), addr.UWord(child))

	img, err := collector.CopyObjectGraph(parent)
	require.NoError(t, err)

	// Exactly the two live objects, two words each (header + one slot).
	assert.Len(t, img.Words, 4)
	assert.Equal(t, img.Root, addr.Address(0)) // parent is always copied first

	// The parent's reference slot was rewritten to the child's image-local
	// address, not left pointing at the real heap.
	childLocalAddr := img.Words[1]
	assert.True(t, img.IsRef[1])
	assert.NotEqual(t, addr.UWord(child), childLocalAddr)
	assert.Less(t, uint64(childLocalAddr), uint64(len(img.Words)*addr.WordSize))

	// The real heap's header words are restored, not left forwarded.
	w0 := m.HeaderWord(parent)
	assert.Equal(t, header.KindInstance, header.ClassifyBlockStart(w0))
	assert.Equal(t, klassPtr, header.DirectPointer(w0))
}

func TestCopyObjectGraphThenLoadRewiresReferences(t *testing.T) {
	m := newHeap(t, 64)
	collector := gc.New(m)
	k := refKlass()
	klassPtr := m.RegisterClass(k)

	child, err := m.NewInstance(klassPtr, k)
	require.NoError(t, err)
	parent, err := m.NewInstance(klassPtr, k)
	require.NoError(t, err)
	m.SetWordAt(parent.Add(addr.Offset(addr.WordSize)), addr.UWord(child))

	img, err := collector.CopyObjectGraph(parent)
	require.NoError(t, err)
	img.URL = "urn:example:hibernated"

	data := img.Marshal()
	reloaded, err := mem.Unmarshal(data)
	require.NoError(t, err)

	m2 := newHeap(t, 64)
	newRoot, err := m2.Load(reloaded)
	require.NoError(t, err)

	om, ok := m2.LookupByURL("urn:example:hibernated")
	require.True(t, ok)
	assert.Equal(t, newRoot, om.Root)

	newChild := addr.Address(m2.WordAt(newRoot.Add(addr.Offset(addr.WordSize))))
	assert.False(t, newChild.IsZero())
	assert.NotEqual(t, newRoot, newChild)
	w0 := m2.HeaderWord(newChild)
	assert.Equal(t, klassPtr, header.DirectPointer(w0))
}

func TestCopyObjectGraphOverflowFallsBackToRescan(t *testing.T) {
	m := newHeap(t, 512)
	collector := gc.New(m)
	k := refKlass()
	klassPtr := m.RegisterClass(k)

	arrKlass := &classmeta.Klass{
		ID:                 "demo.RefArray",
		Modifiers:          classmeta.ModArray | classmeta.ModSquawkArray,
		ElementIsReference: true,
	}
	arrKlassPtr := m.RegisterClass(arrKlass)

	// Marking recurses three links below the root and pushes anything
	// deeper onto the bounded mark stack. A three-instance chain ending in a
	// reference array with more elements than the stack holds overflows it,
	// forcing the overflow rescan path in drainMarkStackRecordingOrder.
	const chainLen = 3
	const fanOut = 100
	var head addr.Address
	var prev addr.Address
	for i := 0; i < chainLen; i++ {
		obj, err := m.NewInstance(klassPtr, k)
		require.NoError(t, err)
		if i == 0 {
			head = obj
		} else {
			m.SetWordAt(prev.Add(addr.Offset(addr.WordSize)), addr.UWord(obj))
		}
		prev = obj
	}
	arr, err := m.NewArray(arrKlassPtr, arrKlass, fanOut)
	require.NoError(t, err)
	m.SetWordAt(prev.Add(addr.Offset(addr.WordSize)), addr.UWord(arr))
	for i := addr.UWord(0); i < fanOut; i++ {
		elem, err := m.NewInstance(klassPtr, k)
		require.NoError(t, err)
		m.SetWordAt(arr.Add(addr.Offset((2+i)*addr.WordSize)), addr.UWord(elem))
	}

	img, err := collector.CopyObjectGraph(head)
	require.NoError(t, err)
	// chain instances (2 words each) + array (2 header words + fanOut
	// slots) + fanOut element instances (2 words each)
	assert.Len(t, img.Words, chainLen*2+2+fanOut+fanOut*2)
}

func TestCopyObjectGraphArrayElementsRewritten(t *testing.T) {
	m := newHeap(t, 64)
	collector := gc.New(m)
	elemKlass := refKlass()
	elemKlassPtr := m.RegisterClass(elemKlass)
	arrKlass := &classmeta.Klass{
		ID:                 "demo.RefArray",
		Modifiers:          classmeta.ModArray | classmeta.ModSquawkArray,
		ElementIsReference: true,
	}
	arrKlassPtr := m.RegisterClass(arrKlass)

	elem, err := m.NewInstance(elemKlassPtr, elemKlass)
	require.NoError(t, err)
	arr, err := m.NewArray(arrKlassPtr, arrKlass, 2)
	require.NoError(t, err)
	m.SetWordAt(arr.Add(addr.Offset(2*addr.WordSize)), addr.UWord(elem))

	img, err := collector.CopyObjectGraph(arr)
	require.NoError(t, err)
	require.Len(t, img.Words, 6) // 2 array header words + 2 element slots + the 2-word element instance
	assert.True(t, img.IsRef[2])
	assert.True(t, img.IsRef[3]) // whole element range is ref-typed, even the unset second slot
	assert.NotEqual(t, addr.UWord(elem), img.Words[2])
	assert.Equal(t, addr.UWord(0), img.Words[3])
}
