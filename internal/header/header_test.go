package header_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/header"
)

func TestDirectPointerRoundTrip(t *testing.T) {
	p := addr.Address(0x1000)
	w := header.NewDirectPointer(p)
	assert.False(t, header.IsForwarded(w))
	assert.False(t, header.IsArrayLengthWord(w))
	assert.False(t, header.IsMethodHeaderWord(w))
	assert.Equal(t, p, header.DirectPointer(w))
	assert.Equal(t, header.KindInstance, header.ClassifyBlockStart(w))
}

func TestArrayLengthWordRoundTrip(t *testing.T) {
	w := header.NewArrayLengthWord(42)
	assert.True(t, header.IsArrayLengthWord(w))
	assert.False(t, header.IsForwarded(w))
	assert.Equal(t, addr.UWord(42), header.DecodeArrayLength(w))
	assert.Equal(t, header.KindArray, header.ClassifyBlockStart(w))
}

func TestArrayLengthZero(t *testing.T) {
	w := header.NewArrayLengthWord(0)
	assert.Equal(t, addr.UWord(0), header.DecodeArrayLength(w))
}

func TestMethodHeaderWordRoundTrip(t *testing.T) {
	w := header.NewMethodHeaderWord(3)
	assert.True(t, header.IsMethodHeaderWord(w))
	assert.Equal(t, addr.UWord(3), header.DecodeMethodHeaderWords(w))
	assert.Equal(t, header.KindMethod, header.ClassifyBlockStart(w))
}

func TestForwardedRoundTrip(t *testing.T) {
	f := header.Forwarded{
		Region:           header.RegionHeap,
		ClassOffsetWords: 1234,
		SliceOffsetWords: 99,
	}
	w := header.EncodeForwarded(f)
	require.True(t, header.IsForwarded(w))
	got := header.DecodeForwarded(w)
	assert.Equal(t, f, got)
}

func TestForwardedAllRegions(t *testing.T) {
	for _, r := range []header.Region{header.RegionHeap, header.RegionNVM, header.RegionROM} {
		w := header.EncodeForwarded(header.Forwarded{Region: r})
		got := header.DecodeForwarded(w)
		assert.Equal(t, r, got.Region)
	}
}

func TestForwardedOffsetBoundaries(t *testing.T) {
	w := header.EncodeForwarded(header.Forwarded{
		ClassOffsetWords: header.MaxClassOffsetWords,
		SliceOffsetWords: header.MaxSliceOffsetWords,
	})
	got := header.DecodeForwarded(w)
	assert.Equal(t, header.MaxClassOffsetWords, got.ClassOffsetWords)
	assert.Equal(t, header.MaxSliceOffsetWords, got.SliceOffsetWords)
}

func TestEncodeForwardedPanicsOnOverflow(t *testing.T) {
	assert.Panics(t, func() {
		header.EncodeForwarded(header.Forwarded{ClassOffsetWords: header.MaxClassOffsetWords + 1})
	})
	assert.Panics(t, func() {
		header.EncodeForwarded(header.Forwarded{SliceOffsetWords: header.MaxSliceOffsetWords + 1})
	})
}

func TestClassifyBlockStartFourWayDisjoint(t *testing.T) {
	direct := header.NewDirectPointer(addr.Address(0x2000))
	forwarded := header.EncodeForwarded(header.Forwarded{})
	array := header.NewArrayLengthWord(1)
	method := header.NewMethodHeaderWord(1)

	assert.Equal(t, header.KindInstance, header.ClassifyBlockStart(direct))
	assert.Equal(t, header.KindInstance, header.ClassifyBlockStart(forwarded))
	assert.Equal(t, header.KindArray, header.ClassifyBlockStart(array))
	assert.Equal(t, header.KindMethod, header.ClassifyBlockStart(method))
}
