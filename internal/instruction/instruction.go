// Package instruction is the typed model of one exploration step.
//
// Each action kind is its own variant carrying only the fields it needs; an
// interpreter switches on the concrete type. Instructions are created through
// the New* constructors and never mutated afterwards. They are used by
// pointer, so two instructions with identical fields remain distinct steps.
package instruction

import (
	"fmt"
	"time"

	"pageexplorer/internal/driver"
)

// Action names an instruction kind.
type Action int

const (
	ClearElementsAction Action = iota + 1
	ExecuteScriptAction
	FindElementsAction
	KeyDownAction
	KeyUpAction
	SendKeysAction
	WaitAction
)

var actionNames = map[Action]string{
	ClearElementsAction: "CLEAR_ELEMENTS",
	ExecuteScriptAction: "EXECUTE_SCRIPT",
	FindElementsAction:  "FIND_ELEMENTS",
	KeyDownAction:       "KEY_DOWN",
	KeyUpAction:         "KEY_UP",
	SendKeysAction:      "SEND_KEYS",
	WaitAction:          "WAIT",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction is the inverse of Action.String.
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Key is re-exported so sequences can be written without importing driver.
type Key = driver.Key

// Text splits s into one key per character.
func Text(s string) []Key { return driver.Text(s) }

// Instruction is one executable step. The set of implementations is closed.
type Instruction interface {
	Action() Action
	fmt.Stringer
	sealed()
}

// Sequence is an ordered list of instructions.
type Sequence []Instruction

// Wait suspends execution.
type Wait struct {
	Duration time.Duration
}

// SendKeys types Keys into each selected element, or into the active
// element Runs times when nothing is selected. Delay follows each element or
// repetition.
type SendKeys struct {
	Keys  []Key
	Runs  int
	Delay time.Duration
}

// KeyDown presses and holds a key.
type KeyDown struct {
	Key Key
}

// KeyUp releases a held key.
type KeyUp struct {
	Key Key
}

// ExecuteScript evaluates Source in the page; the result is ignored.
type ExecuteScript struct {
	Source string
}

// FindElements replaces the current element selection with the lookup result.
type FindElements struct {
	Query driver.Query
}

// ClearElements drops the current element selection.
type ClearElements struct {
	_ byte // non-zero size so each instance has its own address
}

func (*Wait) Action() Action          { return WaitAction }
func (*SendKeys) Action() Action      { return SendKeysAction }
func (*KeyDown) Action() Action       { return KeyDownAction }
func (*KeyUp) Action() Action         { return KeyUpAction }
func (*ExecuteScript) Action() Action { return ExecuteScriptAction }
func (*FindElements) Action() Action  { return FindElementsAction }
func (*ClearElements) Action() Action { return ClearElementsAction }

func (*Wait) sealed()          {}
func (*SendKeys) sealed()      {}
func (*KeyDown) sealed()       {}
func (*KeyUp) sealed()         {}
func (*ExecuteScript) sealed() {}
func (*FindElements) sealed()  {}
func (*ClearElements) sealed() {}

func (w *Wait) String() string { return fmt.Sprintf("WAIT(%s)", w.Duration) }

func (s *SendKeys) String() string {
	return fmt.Sprintf("SEND_KEYS(%q, runs=%d, delay=%s)", s.Keys, s.Runs, s.Delay)
}

func (k *KeyDown) String() string { return fmt.Sprintf("KEY_DOWN(%s)", k.Key) }
func (k *KeyUp) String() string   { return fmt.Sprintf("KEY_UP(%s)", k.Key) }

func (e *ExecuteScript) String() string { return fmt.Sprintf("EXECUTE_SCRIPT(%q)", e.Source) }

func (f *FindElements) String() string { return fmt.Sprintf("FIND_ELEMENTS(%s)", f.Query) }
func (*ClearElements) String() string  { return "CLEAR_ELEMENTS" }

// NewWait returns a Wait. Negative durations are clamped to zero.
func NewWait(d time.Duration) *Wait {
	return &Wait{Duration: max(d, 0)}
}

// SendOption adjusts a SendKeys instruction at construction.
type SendOption func(*SendKeys)

// Runs sets the repeat count used when no elements are selected.
func Runs(n int) SendOption {
	return func(s *SendKeys) { s.Runs = n }
}

// Delay sets the pause after each repetition or element.
func Delay(d time.Duration) SendOption {
	return func(s *SendKeys) { s.Delay = d }
}

// NewSendKeys returns a SendKeys with runs=1 and no delay unless overridden.
func NewSendKeys(keys []Key, opts ...SendOption) *SendKeys {
	s := &SendKeys{Keys: append([]Key(nil), keys...), Runs: 1}
	for _, opt := range opts {
		opt(s)
	}
	s.Runs = max(s.Runs, 1)
	s.Delay = max(s.Delay, 0)
	return s
}

// NewKeyDown returns a KeyDown.
func NewKeyDown(k Key) *KeyDown { return &KeyDown{Key: k} }

// NewKeyUp returns a KeyUp.
func NewKeyUp(k Key) *KeyUp { return &KeyUp{Key: k} }

// NewExecuteScript returns an ExecuteScript.
func NewExecuteScript(src string) *ExecuteScript { return &ExecuteScript{Source: src} }

// NewFindElements returns a FindElements.
func NewFindElements(by driver.Strategy, selector string) *FindElements {
	return &FindElements{Query: driver.Query{Strategy: by, Selector: selector}}
}

// NewClearElements returns a ClearElements.
func NewClearElements() *ClearElements { return &ClearElements{} }
