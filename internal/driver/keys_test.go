package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyValid(t *testing.T) {
	tests := []struct {
		key      Key
		valid    bool
		named    bool
		modifier bool
	}{
		{KeyEnd, true, true, false},
		{KeyF5, true, true, false},
		{KeyInsert, true, true, false},
		{KeyShift, true, true, true},
		{KeyMeta, true, true, true},
		{"a", true, false, false},
		{"!", true, false, false},
		{"é", true, false, false},
		{"ab", false, false, false},
		{"", false, false, false},
		{"Hyper", false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.key.Valid())
			assert.Equal(t, tt.named, tt.key.Named())
			assert.Equal(t, tt.modifier, tt.key.IsModifier())
		})
	}
}

func TestNamedKeysSorted(t *testing.T) {
	keys := NamedKeys()
	assert.Len(t, keys, len(namedKeys))
	assert.IsNonDecreasing(t, keys)
	assert.Contains(t, keys, KeyPageDown)
}

func TestText(t *testing.T) {
	assert.Equal(t, []Key{"h", "é", "!"}, Text("hé!"))
	assert.Empty(t, Text(""))
}

func TestHeldKeys(t *testing.T) {
	h := NewHeldKeys()
	assert.False(t, h.Has(KeyShift))
	assert.Empty(t, h.Modifiers())

	h.Hold(KeyShift)
	h.Hold(KeyControl)
	h.Hold("a")
	assert.True(t, h.Has(KeyShift))
	assert.Equal(t, []Key{KeyControl, KeyShift}, h.Modifiers(), "non-modifiers are not reported")

	h.Release(KeyShift)
	h.Release(KeyShift)
	assert.False(t, h.Has(KeyShift))
	assert.Equal(t, []Key{KeyControl}, h.Modifiers())
}
