package classmeta_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dougxc/squawk/internal/classmeta"
)

func TestKlassModifierPredicates(t *testing.T) {
	k := &classmeta.Klass{Modifiers: classmeta.ModArray | classmeta.ModHasFinalizer}
	assert.True(t, k.IsArray())
	assert.True(t, k.HasFinalizer())
	assert.False(t, k.IsInterface())
	assert.False(t, k.IsPrimitive())
	assert.False(t, k.IsSquawkArray())
}

func TestOopMapIsReference(t *testing.T) {
	m := classmeta.OopMap{false, true, false, true}
	assert.False(t, m.IsReference(0))
	assert.True(t, m.IsReference(1))
	assert.True(t, m.IsReference(3))
}

func TestOopMapIsReferenceOutOfRange(t *testing.T) {
	m := classmeta.OopMap{true}
	assert.False(t, m.IsReference(-1))
	assert.False(t, m.IsReference(5))
}

func TestMethodSlotCount(t *testing.T) {
	m := &classmeta.Method{ParamCount: 2, LocalCount: 3}
	assert.Equal(t, 5, m.SlotCount())
}
