package mem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/classmeta"
	"github.com/dougxc/squawk/internal/config"
	"github.com/dougxc/squawk/internal/header"
	"github.com/dougxc/squawk/internal/mem"
	"github.com/dougxc/squawk/internal/vmerr"
)

func newManager(t *testing.T, heapWords, nvmWords uint64) *mem.Manager {
	t.Helper()
	cfg := config.Default()
	cfg.HeapWords = heapWords
	cfg.NVMWords = nvmWords
	return mem.New(cfg, nil, nil)
}

func TestAllocateZeroesMemory(t *testing.T) {
	m := newManager(t, 64, 16)
	start, err := m.Allocate(4)
	require.NoError(t, err)
	for i := addr.UWord(0); i < 4; i++ {
		assert.Equal(t, addr.UWord(0), m.WordAt(start.Add(addr.Offset(i*addr.WordSize))))
	}
}

func TestAllocateAdvancesBumpPointer(t *testing.T) {
	m := newManager(t, 64, 16)
	a, err := m.Allocate(4)
	require.NoError(t, err)
	b, err := m.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, addr.Offset(4*addr.WordSize), b.Diff(a))
}

func TestAllocateOutOfMemoryWithNoCollector(t *testing.T) {
	m := newManager(t, 4, 0)
	_, err := m.Allocate(8)
	require.Error(t, err)
	assert.True(t, vmerr.IsOutOfMemory(err))
}

func TestAllocateDisabledIsFatal(t *testing.T) {
	m := newManager(t, 64, 16)
	m.SetAllocationEnabled(false)
	_, err := m.Allocate(1)
	assert.Error(t, err)
}

func TestNewInstanceLayout(t *testing.T) {
	m := newManager(t, 64, 16)
	k := &classmeta.Klass{ID: "demo.Point", InstanceWords: 2}
	klassPtr := m.RegisterClass(k)

	obj, err := m.NewInstance(klassPtr, k)
	require.NoError(t, err)

	w0 := m.HeaderWord(obj)
	assert.Equal(t, header.KindInstance, header.ClassifyBlockStart(w0))
	assert.Equal(t, klassPtr, header.DirectPointer(w0))
	assert.Equal(t, addr.UWord(3), m.ObjectWords(obj, header.KindInstance))
	assert.Same(t, k, m.ClassOf(header.DirectPointer(w0)))
}

func TestNewArrayLayout(t *testing.T) {
	m := newManager(t, 64, 16)
	k := &classmeta.Klass{ID: "demo.IntArray", Modifiers: classmeta.ModArray | classmeta.ModSquawkArray}
	klassPtr := m.RegisterClass(k)

	obj, err := m.NewArray(klassPtr, k, 5)
	require.NoError(t, err)

	w0 := m.HeaderWord(obj)
	assert.Equal(t, header.KindArray, header.ClassifyBlockStart(w0))
	assert.Equal(t, addr.UWord(5), header.DecodeArrayLength(w0))
	assert.Equal(t, addr.UWord(7), m.ObjectWords(obj, header.KindArray)) // 2 header + 5 elements
}

func TestNewMethodLayout(t *testing.T) {
	m := newManager(t, 64, 16)
	k := &classmeta.Klass{ID: "demo.Method", Modifiers: classmeta.ModArray | classmeta.ModSquawkArray}
	klassPtr := m.RegisterClass(k)

	bytecode := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	obj, err := m.NewMethod(klassPtr, k, bytecode)
	require.NoError(t, err)

	w0 := m.HeaderWord(obj)
	assert.Equal(t, header.KindMethod, header.ClassifyBlockStart(w0))
	assert.Equal(t, klassPtr, header.DirectPointer(m.ClassPointerOf(obj, header.KindMethod)))

	lengthWords := addr.RoundUpToWord(addr.UWord(len(bytecode))) / addr.WordSize
	assert.Equal(t, addr.UWord(1+2)+lengthWords, m.ObjectWords(obj, header.KindMethod)) // 1 prefix + 2 sub-header + body words
}

func TestAssociationForIsIdempotentAndRewritesHeader(t *testing.T) {
	m := newManager(t, 64, 16)
	k := &classmeta.Klass{ID: "demo.Obj", InstanceWords: 1}
	klassPtr := m.RegisterClass(k)
	obj, err := m.NewInstance(klassPtr, k)
	require.NoError(t, err)

	assoc1 := m.AssociationFor(obj, header.KindInstance)
	// Header word now points at the association, not the class, directly.
	w0 := m.HeaderWord(obj)
	assert.Equal(t, assoc1, header.DirectPointer(w0))

	assoc2 := m.AssociationFor(obj, header.KindInstance)
	assert.Equal(t, assoc1, assoc2)
	assert.Same(t, k, m.ClassOf(header.DirectPointer(m.HeaderWord(obj))))
}

func TestIdentityHashAssignedOnceAndStable(t *testing.T) {
	m := newManager(t, 64, 16)
	k := &classmeta.Klass{ID: "demo.Obj", InstanceWords: 1}
	klassPtr := m.RegisterClass(k)
	obj, err := m.NewInstance(klassPtr, k)
	require.NoError(t, err)
	assoc := m.AssociationFor(obj, header.KindInstance)

	calls := 0
	next := func() uint32 { calls++; return 77 }
	h1 := m.IdentityHash(assoc, next)
	h2 := m.IdentityHash(assoc, next)
	assert.Equal(t, uint32(77), h1)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, calls)
}

func TestMonitorSlotRoundTrip(t *testing.T) {
	m := newManager(t, 64, 16)
	k := &classmeta.Klass{ID: "demo.Obj", InstanceWords: 1}
	klassPtr := m.RegisterClass(k)
	obj, err := m.NewInstance(klassPtr, k)
	require.NoError(t, err)
	assoc := m.AssociationFor(obj, header.KindInstance)

	assert.Nil(t, m.Monitor(assoc))
	m.SetMonitor(assoc, "fake-monitor")
	assert.Equal(t, "fake-monitor", m.Monitor(assoc))
}

func TestWriteBarrierMark(t *testing.T) {
	m := newManager(t, 64, 16)
	slot := addr.Address(16)
	assert.False(t, m.WriteBarrier().Test(slot))
	m.WriteBarrierMark(slot)
	assert.True(t, m.WriteBarrier().Test(slot))
}

func TestAllocateNVMNeverMovesAndIsSeparate(t *testing.T) {
	m := newManager(t, 16, 16)
	a, err := m.AllocateNVM(2)
	require.NoError(t, err)
	b, err := m.AllocateNVM(2)
	require.NoError(t, err)
	assert.Equal(t, addr.Offset(2*addr.WordSize), b.Diff(a))
}

func TestAllocateNVMOutOfMemory(t *testing.T) {
	m := newManager(t, 16, 2)
	_, err := m.AllocateNVM(8)
	assert.Error(t, err)
}

func TestObjectMemoryRegistryLookup(t *testing.T) {
	m := newManager(t, 64, 16)
	root := addr.Address(0)
	om := m.RegisterObjectMemory("urn:example:suite", root)
	assert.Equal(t, "urn:example:suite", om.URL)

	byURL, ok := m.LookupByURL("urn:example:suite")
	require.True(t, ok)
	assert.Same(t, om, byURL)

	byRoot, ok := m.LookupByRoot(root)
	require.True(t, ok)
	assert.Same(t, om, byRoot)
}

func TestRegisterObjectMemoryAnonymousGetsUUID(t *testing.T) {
	m := newManager(t, 64, 16)
	om := m.RegisterObjectMemory("", addr.Address(8))
	assert.NotEmpty(t, om.URL)
	assert.Contains(t, om.URL, "urn:uuid:")
}

func TestSerializeMarshalUnmarshalRoundTrip(t *testing.T) {
	m := newManager(t, 64, 16)
	start, err := m.Allocate(4)
	require.NoError(t, err)
	m.SetWordAt(start, 0xAAAA)
	m.SetWordAt(start.Add(addr.Offset(addr.WordSize)), 0xBBBB)

	refBits := m.WriteBarrier()
	refSlot := start.Add(addr.Offset(addr.WordSize))
	refBits.Set(refSlot)

	img := m.Serialize("urn:example:suite", start, 4, refBits)
	data := img.Marshal()

	got, err := mem.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, img.URL, got.URL)
	assert.Equal(t, img.Root, got.Root)
	assert.Equal(t, img.Words, got.Words)
	assert.Equal(t, img.IsRef, got.IsRef)
	assert.True(t, got.IsRef[1])
	assert.False(t, got.IsRef[0])
}

func TestLoadRegistersObjectMemory(t *testing.T) {
	m := newManager(t, 64, 16)
	img := mem.PersistentImage{
		URL:   "urn:example:loaded",
		Words: []addr.UWord{1, 2, 3},
		IsRef: []bool{false, false, false},
	}
	root, err := m.Load(img)
	require.NoError(t, err)

	om, ok := m.LookupByURL("urn:example:loaded")
	require.True(t, ok)
	assert.Equal(t, root, om.Root)
	assert.Equal(t, addr.UWord(1), m.WordAt(root))
}

func TestUnmarshalTruncatedData(t *testing.T) {
	_, err := mem.Unmarshal([]byte{1, 2, 3})
	assert.Error(t, err)
}
