package instruction

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pageexplorer/internal/driver"
)

// sequenceFile is the on-disk layout of a sequence:
//
//	instructions:
//	  - action: SEND_KEYS
//	    value: [End]
//	    runs: 5
//	    delay: 100ms
type sequenceFile struct {
	Instructions []rawInstruction `yaml:"instructions"`
}

type rawInstruction struct {
	Action string    `yaml:"action"`
	Value  yaml.Node `yaml:"value,omitempty"`
	Runs   int       `yaml:"runs,omitempty"`
	Delay  string    `yaml:"delay,omitempty"`
}

// LoadFile reads a YAML sequence file.
func LoadFile(path string) (Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instructions: %w", err)
	}
	seq, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seq, nil
}

// Decode parses a YAML sequence document.
func Decode(data []byte) (Sequence, error) {
	var f sequenceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse instructions: %w", err)
	}
	seq := make(Sequence, 0, len(f.Instructions))
	for i, raw := range f.Instructions {
		ins, err := raw.decode()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		seq = append(seq, ins)
	}
	return seq, nil
}

func (r rawInstruction) decode() (Instruction, error) {
	action, err := ParseAction(r.Action)
	if err != nil {
		return nil, err
	}
	if action != ClearElementsAction && r.Value.Kind == 0 {
		return nil, fmt.Errorf("%s: missing value", action)
	}
	switch action {
	case WaitAction:
		var s string
		if err := r.Value.Decode(&s); err != nil {
			return nil, fmt.Errorf("WAIT value: %w", err)
		}
		d, err := parseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("WAIT value: %w", err)
		}
		return NewWait(d), nil

	case SendKeysAction:
		keys, err := decodeKeys(&r.Value)
		if err != nil {
			return nil, err
		}
		delay := time.Duration(0)
		if r.Delay != "" {
			if delay, err = parseDuration(r.Delay); err != nil {
				return nil, fmt.Errorf("SEND_KEYS delay: %w", err)
			}
		}
		runs := r.Runs
		if runs == 0 {
			runs = 1
		}
		return NewSendKeys(keys, Runs(runs), Delay(delay)), nil

	case KeyDownAction, KeyUpAction:
		var s string
		if err := r.Value.Decode(&s); err != nil {
			return nil, fmt.Errorf("%s value: %w", action, err)
		}
		k := Key(s)
		if !k.Valid() {
			return nil, unknownKey(action.String()+" value", s)
		}
		if action == KeyDownAction {
			return NewKeyDown(k), nil
		}
		return NewKeyUp(k), nil

	case ExecuteScriptAction:
		var s string
		if err := r.Value.Decode(&s); err != nil {
			return nil, fmt.Errorf("EXECUTE_SCRIPT value: %w", err)
		}
		return NewExecuteScript(s), nil

	case FindElementsAction:
		var q driver.Query
		if err := r.Value.Decode(&q); err != nil {
			return nil, fmt.Errorf("FIND_ELEMENTS value: %w", err)
		}
		if q.Strategy != driver.ByCSS && q.Strategy != driver.ByXPath {
			return nil, fmt.Errorf("FIND_ELEMENTS value: unsupported strategy %q", q.Strategy)
		}
		return NewFindElements(q.Strategy, q.Selector), nil

	case ClearElementsAction:
		return NewClearElements(), nil
	}
	return nil, fmt.Errorf("unhandled action %s", action)
}

// decodeKeys accepts a list of key symbols, or a scalar that is either one
// named key or literal text.
func decodeKeys(n *yaml.Node) ([]Key, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return nil, fmt.Errorf("SEND_KEYS value: %w", err)
		}
		keys := make([]Key, 0, len(names))
		for _, name := range names {
			k := Key(name)
			if !k.Valid() {
				return nil, unknownKey("SEND_KEYS value", name)
			}
			keys = append(keys, k)
		}
		return keys, nil
	case yaml.ScalarNode:
		k := Key(n.Value)
		if k.Named() {
			return []Key{k}, nil
		}
		return driver.Text(n.Value), nil
	}
	return nil, fmt.Errorf("SEND_KEYS value: expected key list or text")
}

// parseDuration accepts Go durations ("1.5s") and bare numbers of seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(secs) || math.Abs(secs) > maxSeconds {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// maxSeconds is the largest count of seconds a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// unknownKey reports s together with the named keys a sequence may use.
func unknownKey(field, s string) error {
	keys := driver.NamedKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	return fmt.Errorf("%s: unknown key %q (want one character or one of %s)", field, s, strings.Join(names, ", "))
}

// Encode renders seq in the LoadFile format.
func Encode(seq Sequence) ([]byte, error) {
	f := struct {
		Instructions []map[string]any `yaml:"instructions"`
	}{}
	for _, ins := range seq {
		entry := map[string]any{"action": ins.Action().String()}
		switch in := ins.(type) {
		case *Wait:
			entry["value"] = in.Duration.String()
		case *SendKeys:
			names := make([]string, len(in.Keys))
			for i, k := range in.Keys {
				names[i] = string(k)
			}
			entry["value"] = names
			if in.Runs != 1 {
				entry["runs"] = in.Runs
			}
			if in.Delay > 0 {
				entry["delay"] = in.Delay.String()
			}
		case *KeyDown:
			entry["value"] = string(in.Key)
		case *KeyUp:
			entry["value"] = string(in.Key)
		case *ExecuteScript:
			entry["value"] = in.Source
		case *FindElements:
			entry["value"] = in.Query
		case *ClearElements:
		}
		f.Instructions = append(f.Instructions, entry)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
