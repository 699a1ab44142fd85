package mem

import (
	"github.com/google/uuid"

	"github.com/dougxc/squawk/internal/addr"
)

// ObjectMemory is a read-only object memory ("suite", spec §4.4): an
// installed, immutable graph of objects (typically in ROM or NVM) reached
// by its Root and identified by its URL. Suites created anonymously by
// CopyObjectGraph (hibernation, spec §4.5.8) are assigned a generated UUID
// in place of a URL so the by-URL lookup invariant still holds.
type ObjectMemory struct {
	URL  string
	Root addr.Address
}

type objectMemoryRegistry struct {
	byURL  map[string]*ObjectMemory
	byRoot map[addr.Address]*ObjectMemory
}

func newObjectMemoryRegistry() *objectMemoryRegistry {
	return &objectMemoryRegistry{
		byURL:  make(map[string]*ObjectMemory),
		byRoot: make(map[addr.Address]*ObjectMemory),
	}
}

// RegisterObjectMemory installs a suite rooted at root. If url is empty
// (an anonymous suite), a UUID is generated to stand in for it (spec §10.5).
func (m *Manager) RegisterObjectMemory(url string, root addr.Address) *ObjectMemory {
	if url == "" {
		url = "urn:uuid:" + uuid.NewString()
	}
	om := &ObjectMemory{URL: url, Root: root}
	m.objectMemories.byURL[url] = om
	m.objectMemories.byRoot[root] = om
	return om
}

// LookupByURL returns the suite registered under url, if any.
func (m *Manager) LookupByURL(url string) (*ObjectMemory, bool) {
	om, ok := m.objectMemories.byURL[url]
	return om, ok
}

// LookupByRoot returns the suite rooted at root, if any.
func (m *Manager) LookupByRoot(root addr.Address) (*ObjectMemory, bool) {
	om, ok := m.objectMemories.byRoot[root]
	return om, ok
}

// ObjectMemories returns every registered suite, for the collector's root
// enumeration (spec §4.4: object memories are permanent GC roots).
func (m *Manager) ObjectMemories() []*ObjectMemory {
	out := make([]*ObjectMemory, 0, len(m.objectMemories.byURL))
	for _, om := range m.objectMemories.byURL {
		out = append(out, om)
	}
	return out
}
