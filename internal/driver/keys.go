package driver

import (
	"sort"
	"sync"
	"unicode/utf8"
)

// Key is a single key symbol: either one printable character or a named key
// such as "End" or "Shift". Backends map it onto their own key layouts.
type Key string

// Named keys understood by every backend.
const (
	KeyEnd        Key = "End"
	KeyHome       Key = "Home"
	KeyPageUp     Key = "PageUp"
	KeyPageDown   Key = "PageDown"
	KeyTab        Key = "Tab"
	KeyEscape     Key = "Escape"
	KeyEnter      Key = "Enter"
	KeyBackspace  Key = "Backspace"
	KeyDelete     Key = "Delete"
	KeyInsert     Key = "Insert"
	KeySpace      Key = "Space"
	KeyArrowUp    Key = "ArrowUp"
	KeyArrowDown  Key = "ArrowDown"
	KeyArrowLeft  Key = "ArrowLeft"
	KeyArrowRight Key = "ArrowRight"
	KeyF1         Key = "F1"
	KeyF2         Key = "F2"
	KeyF3         Key = "F3"
	KeyF4         Key = "F4"
	KeyF5         Key = "F5"
	KeyF6         Key = "F6"
	KeyF7         Key = "F7"
	KeyF8         Key = "F8"
	KeyF9         Key = "F9"
	KeyF10        Key = "F10"
	KeyF11        Key = "F11"
	KeyF12        Key = "F12"
	KeyShift      Key = "Shift"
	KeyControl    Key = "Control"
	KeyAlt        Key = "Alt"
	KeyMeta       Key = "Meta"
)

// namedKeys maps each named key to whether it is a modifier.
var namedKeys = map[Key]bool{
	KeyEnd: false, KeyHome: false, KeyPageUp: false, KeyPageDown: false,
	KeyTab: false, KeyEscape: false, KeyEnter: false, KeyBackspace: false,
	KeyDelete: false, KeyInsert: false, KeySpace: false,
	KeyArrowUp: false, KeyArrowDown: false, KeyArrowLeft: false, KeyArrowRight: false,
	KeyF1: false, KeyF2: false, KeyF3: false, KeyF4: false, KeyF5: false, KeyF6: false,
	KeyF7: false, KeyF8: false, KeyF9: false, KeyF10: false, KeyF11: false, KeyF12: false,
	KeyShift: true, KeyControl: true, KeyAlt: true, KeyMeta: true,
}

// NamedKeys returns every named key in sorted order.
func NamedKeys() []Key {
	keys := make([]Key, 0, len(namedKeys))
	for k := range namedKeys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Named reports whether k is one of the named keys.
func (k Key) Named() bool {
	_, ok := namedKeys[k]
	return ok
}

// IsModifier reports whether k is Shift, Control, Alt or Meta.
func (k Key) IsModifier() bool {
	return namedKeys[k]
}

// Valid reports whether k is a named key or exactly one character.
func (k Key) Valid() bool {
	return k.Named() || utf8.RuneCountInString(string(k)) == 1
}

// Text splits s into one Key per character.
func Text(s string) []Key {
	keys := make([]Key, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		keys = append(keys, Key(string(r)))
	}
	return keys
}

// HeldKeys records keys pressed with KeyDown and not yet released. Backends
// update it only after the browser accepted the event.
type HeldKeys struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

// NewHeldKeys returns an empty set.
func NewHeldKeys() *HeldKeys {
	return &HeldKeys{keys: make(map[Key]struct{})}
}

// Hold marks k as pressed.
func (h *HeldKeys) Hold(k Key) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keys[k] = struct{}{}
}

// Release forgets k.
func (h *HeldKeys) Release(k Key) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.keys, k)
}

// Has reports whether k is held.
func (h *HeldKeys) Has(k Key) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.keys[k]
	return ok
}

// Modifiers returns the held modifier keys.
func (h *HeldKeys) Modifiers() []Key {
	h.mu.Lock()
	defer h.mu.Unlock()
	var mods []Key
	for k := range h.keys {
		if k.IsModifier() {
			mods = append(mods, k)
		}
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i] < mods[j] })
	return mods
}
