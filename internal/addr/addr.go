// Package addr provides the word/byte/address arithmetic primitives (L)
// shared by the header, bitmap, memory manager, and collector packages.
//
// Address, UWord, and Offset are distinct types even though they are all
// backed by an integer: keeping them apart in the type system is what lets
// the rest of the core rely on "an Offset is never accidentally compared
// as unsigned" and vice versa.
package addr

// WordSize is the machine word size in bytes. The collector, the header
// encoding, and the bitmap all derive their constants from this value.
// A 32-bit target would set this to 4; everything in this module is
// written in terms of WordSize/WordBits rather than a hardcoded width.
const WordSize = 8

// WordBits is the number of bits in one machine word.
const WordBits = WordSize * 8

// Address is an absolute memory address within the VM's address spaces
// (RAM, ROM, or NVM). Comparisons between addresses are unsigned.
type Address uintptr

// UWord is an untyped machine word, used for raw header and bitmap words.
type UWord uintptr

// Offset is a signed word or byte displacement. Offsets carry a sign so
// that "distance from B to A" can be negative.
type Offset int64

// Add returns a + Offset(n) (byte displacement).
func (a Address) Add(n Offset) Address {
	return Address(int64(a) + int64(n))
}

// Sub returns a - Offset(n).
func (a Address) Sub(n Offset) Address {
	return Address(int64(a) - int64(n))
}

// Diff returns the signed byte distance from b to a (a - b).
func (a Address) Diff(b Address) Offset {
	return Offset(int64(a) - int64(b))
}

// Hi reports whether a is strictly greater than b (unsigned).
func (a Address) Hi(b Address) bool {
	return uintptr(a) > uintptr(b)
}

// LoEq reports whether a is less than or equal to b (unsigned).
func (a Address) LoEq(b Address) bool {
	return uintptr(a) <= uintptr(b)
}

// IsZero reports whether the address is the null address.
func (a Address) IsZero() bool {
	return a == 0
}

// Words converts a byte offset to a word count, truncating. Callers that
// need an exact word boundary should round first.
func (o Offset) Words() UWord {
	return UWord(o / WordSize)
}

// Bytes converts a word count to a byte offset.
func (w UWord) Bytes() Offset {
	return Offset(w * WordSize)
}

// RoundUpToWord rounds v up to the next multiple of WordSize.
func RoundUpToWord(v UWord) UWord {
	return RoundUp(v, WordSize)
}

// RoundDownToWord rounds v down to the nearest multiple of WordSize.
func RoundDownToWord(v UWord) UWord {
	return RoundDown(v, WordSize)
}

// RoundUp rounds v up to the next multiple of a, which must be a power of two.
func RoundUp(v UWord, a UWord) UWord {
	return (v + a - 1) &^ (a - 1)
}

// RoundDown rounds v down to the nearest multiple of a, which must be a
// power of two.
func RoundDown(v UWord, a UWord) UWord {
	return v &^ (a - 1)
}

// AddressRoundUpToWord rounds an address up to the next word boundary.
func AddressRoundUpToWord(a Address) Address {
	return Address(RoundUp(UWord(a), WordSize))
}

// WordAt reads the word-sized slot at base+wordIndex*WordSize, treating the
// underlying memory as a flat []UWord. Callers outside this package should
// not need raw peek/poke except at object bases and slot offsets; this is
// exposed for the memory manager and collector, which operate on raw
// regions rather than typed objects.
func WordAt(mem []UWord, base Address, wordIndex UWord) UWord {
	return mem[UWord(base)/WordSize+wordIndex]
}

// SetWordAt writes the word-sized slot at base+wordIndex*WordSize.
func SetWordAt(mem []UWord, base Address, wordIndex UWord, v UWord) {
	mem[UWord(base)/WordSize+wordIndex] = v
}
