// Package classmeta models the class/bytecode loader's contract with the
// core (spec §6): per-class instance oop maps, vtables, static-field
// sizing, and per-method parameter/local oop maps and exception tables.
// The loader and verifier themselves are out of scope (spec §1); this
// package only carries the metadata shape the collector and scheduler read.
// Once installed, this metadata is immutable.
package classmeta

import "github.com/dougxc/squawk/internal/addr"

// Modifier is a bitmask of class-level flags (spec §3 Klass).
type Modifier uint16

const (
	ModReference Modifier = 1 << iota
	ModPrimitive
	ModArray
	ModInterface
	ModSynthetic
	ModDoubleWord
	ModHasFinalizer
	ModHasClinit
	// ModSquawkArray marks any class whose instances are laid out as a
	// "squawk array" (spec GLOSSARY): primitive arrays, reference arrays,
	// stack chunks, global-array class-state objects, method bodies, and
	// the two string variants.
	ModSquawkArray
)

// OopMap is a bitmap of which words of an instance (or which
// parameter/local slots of a method frame) hold references. It is stored
// densely as a []bool for readability; class metadata is installed once
// and never on a hot allocation path, so the memory overhead is immaterial
// next to the bitmap package's packed encoding, which *is* on a hot path.
type OopMap []bool

// IsReference reports whether the word at index i holds a reference.
func (m OopMap) IsReference(i int) bool {
	if i < 0 || i >= len(m) {
		return false
	}
	return m[i]
}

// Klass is a class descriptor (spec §3). A Klass is itself an object in
// the object model; here it is the metadata record the collector treats as
// a root via the object-memory registry (internal/mem).
type Klass struct {
	ID        string
	Modifiers Modifier
	Super     *Klass
	Interfaces []*Klass

	// InstanceOopMap describes which instance words hold references, for
	// instances of this class. Ignored for array/squawk-array classes,
	// which use ElementIsReference instead.
	InstanceOopMap OopMap
	// InstanceWords is the instance size in words (excluding header).
	InstanceWords addr.UWord

	// ElementIsReference is true for classes whose instances are
	// reference-array squawk arrays (each element slot is itself a root).
	ElementIsReference bool

	// StaticRefWords and StaticPrimWords split a class's static storage
	// (its "global array" / class-state object, spec §3) into a
	// reference-typed prefix and a primitive-typed remainder. The
	// reference-typed fields of every installed class state precede the
	// primitive-typed ones (spec invariant).
	StaticRefWords  addr.UWord
	StaticPrimWords addr.UWord

	VTable []*Method
	// InterfaceSlotMap maps an implemented interface to the vtable slot
	// indices satisfying each of its methods, in interface method order.
	InterfaceSlotMap map[*Klass][]int
}

func (k *Klass) HasFinalizer() bool { return k.Modifiers&ModHasFinalizer != 0 }
func (k *Klass) IsArray() bool      { return k.Modifiers&ModArray != 0 }
func (k *Klass) IsInterface() bool  { return k.Modifiers&ModInterface != 0 }
func (k *Klass) IsPrimitive() bool  { return k.Modifiers&ModPrimitive != 0 }
func (k *Klass) IsSquawkArray() bool {
	return k.Modifiers&ModSquawkArray != 0
}

// MethodKind is the tagged-sum-type dispatch the spec's design notes ask
// for: "encode methods as tagged sum types at the metadata level (instance-
// method, static-method, abstract, native)".
type MethodKind int

const (
	MethodInstance MethodKind = iota
	MethodStatic
	MethodAbstract
	MethodNative
)

// ExceptionRange is one entry of a method's exception table: bytecode
// offsets [Start, End) are guarded, exceptions assignable to Klass are
// caught at HandlerPC.
type ExceptionRange struct {
	Start, End, HandlerPC int
	Klass                 *Klass
}

// Method is the per-method metadata the class loader installs: parameter
// and local counts, the oop map covering the parameter+local slot range of
// an activation frame, and the exception table. The collector reads the
// oop map during stack walks (spec §4.3, §4.5.1 step 3).
type Method struct {
	Owner      *Klass
	Kind       MethodKind
	ParamCount int
	LocalCount int
	// FrameOopMap covers parameter slots followed by local slots, in that
	// order, indexed [0, ParamCount+LocalCount).
	FrameOopMap    OopMap
	ExceptionTable []ExceptionRange
}

// SlotCount is the number of parameter+local slots described by FrameOopMap.
func (m *Method) SlotCount() int {
	return m.ParamCount + m.LocalCount
}
