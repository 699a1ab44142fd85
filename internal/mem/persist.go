package mem

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/bitmap"
	"github.com/dougxc/squawk/internal/vmerr"
)

// PersistentImage is the concrete (de)serialization format for a persistent
// suite (spec §6, §12): a length-prefixed byte image of a contiguous block
// of RAM words, plus a parallel bitmap recording which of those words are
// references (so a later reload can re-run any relocation needed before the
// image is wired back into a live heap).
type PersistentImage struct {
	URL    string
	Root   addr.Address
	Words  []addr.UWord
	IsRef  []bool // parallel to Words; true where the word is a reference
}

// Serialize captures the block of nWords words starting at start as a
// PersistentImage. refBits identifies which of those words hold references
// (obtained from the class/array oop maps the collector already consults
// during marking); it must cover exactly [start, start+nWords*WordSize).
func (m *Manager) Serialize(url string, start addr.Address, nWords addr.UWord, refBits *bitmap.Bitmap) PersistentImage {
	img := PersistentImage{
		URL:   url,
		Root:  start,
		Words: make([]addr.UWord, nWords),
		IsRef: make([]bool, nWords),
	}
	base := addr.UWord(start.Diff(m.ramStart)) / addr.WordSize
	for i := addr.UWord(0); i < nWords; i++ {
		img.Words[i] = m.arena[base+i]
		if refBits != nil {
			img.IsRef[i] = refBits.Test(start.Add(addr.Offset(i * addr.WordSize)))
		}
	}
	return img
}

// Marshal encodes a PersistentImage as a flat byte stream: URL
// length-prefixed, then word count, then the words, then one byte per word
// for the reference bitmap. This is deliberately simple (no compression,
// no varint packing) since its purpose is round-trip correctness for the
// bisimulation property of spec §8, not on-flash density.
func (img PersistentImage) Marshal() []byte {
	urlBytes := []byte(img.URL)
	out := make([]byte, 0, 8+len(urlBytes)+8+len(img.Words)*addr.WordSize+len(img.IsRef))
	var tmp [8]byte

	binary.LittleEndian.PutUint64(tmp[:], uint64(len(urlBytes)))
	out = append(out, tmp[:]...)
	out = append(out, urlBytes...)

	binary.LittleEndian.PutUint64(tmp[:], uint64(img.Root))
	out = append(out, tmp[:]...)

	binary.LittleEndian.PutUint64(tmp[:], uint64(len(img.Words)))
	out = append(out, tmp[:]...)

	for _, w := range img.Words {
		binary.LittleEndian.PutUint64(tmp[:], uint64(w))
		out = append(out, tmp[:]...)
	}
	for _, r := range img.IsRef {
		if r {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

// Unmarshal decodes a byte stream produced by Marshal.
func Unmarshal(data []byte) (PersistentImage, error) {
	var img PersistentImage
	if len(data) < 8 {
		return img, errors.New("mem: persistent image truncated (url length)")
	}
	urlLen := binary.LittleEndian.Uint64(data[:8])
	data = data[8:]
	if uint64(len(data)) < urlLen {
		return img, errors.New("mem: persistent image truncated (url)")
	}
	img.URL = string(data[:urlLen])
	data = data[urlLen:]

	if len(data) < 16 {
		return img, errors.New("mem: persistent image truncated (root/count)")
	}
	img.Root = addr.Address(binary.LittleEndian.Uint64(data[:8]))
	n := binary.LittleEndian.Uint64(data[8:16])
	data = data[16:]

	wordBytes := n * addr.WordSize
	if uint64(len(data)) < wordBytes+n {
		return img, errors.New("mem: persistent image truncated (words/refbits)")
	}
	img.Words = make([]addr.UWord, n)
	for i := uint64(0); i < n; i++ {
		img.Words[i] = addr.UWord(binary.LittleEndian.Uint64(data[i*8 : i*8+8]))
	}
	data = data[wordBytes:]
	img.IsRef = make([]bool, n)
	for i := uint64(0); i < n; i++ {
		img.IsRef[i] = data[i] != 0
	}
	return img, nil
}

// Load installs a PersistentImage as a freshly registered object memory,
// copying its words into a newly allocated block of RAM and returning the
// new root address. Words flagged by IsRef hold image-relative addresses
// (offsets from the image's own base, as CopyObjectGraph produced them);
// each is rebased onto the new block's real address before being written,
// so the reference graph is intact at its new location rather than still
// pointing into the image's coordinate space.
func (m *Manager) Load(img PersistentImage) (addr.Address, error) {
	nWords := addr.UWord(len(img.Words))
	start, err := m.Allocate(nWords)
	if err != nil {
		if vmerr.IsOutOfMemory(err) {
			return 0, err
		}
		return 0, errors.Wrap(err, "mem: loading persistent image")
	}
	base := addr.UWord(start.Diff(m.ramStart)) / addr.WordSize
	for i, w := range img.Words {
		if i < len(img.IsRef) && img.IsRef[i] && w != 0 {
			w = addr.UWord(start.Add(addr.Offset(int64(w))))
		}
		m.arena[base+addr.UWord(i)] = w
	}
	root := start.Add(addr.Offset(int64(img.Root)))
	m.RegisterObjectMemory(img.URL, root)
	return root, nil
}
