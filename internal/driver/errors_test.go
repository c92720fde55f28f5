package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		fatal bool
		local bool
	}{
		{name: "nil", err: nil},
		{name: "unclassified", err: base, fatal: true},
		{name: "fatal", err: Fatal("navigate", base), fatal: true},
		{name: "element local", err: ElementLocal("send_keys", base), local: true},
		{name: "wrapped local", err: fmt.Errorf("outer: %w", ElementLocal("send_keys", base)), local: true},
		{name: "closed", err: ErrClosed, fatal: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsSessionFatal(tt.err))
			assert.Equal(t, tt.local, IsElementLocal(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := Fatal("title", context.Canceled)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsContextDone(err))
	assert.Contains(t, err.Error(), "title (session_fatal)")
	assert.Nil(t, Fatal("noop", nil))
	assert.Nil(t, ElementLocal("noop", nil))
}

func TestClassifyMessage(t *testing.T) {
	assert.Equal(t, KindElementLocal, ClassifyMessage("Could not find object with given id"))
	assert.Equal(t, KindElementLocal, ClassifyMessage("{-32000 No node with given id found }"))
	assert.Equal(t, KindElementLocal, ClassifyMessage("Element is not focusable"))
	assert.Equal(t, KindElementLocal, ClassifyMessage("Node does not have a layout object"))
	assert.Equal(t, KindSessionFatal, ClassifyMessage("websocket: close 1006"))
	assert.Equal(t, KindSessionFatal, ClassifyMessage(""))
}

func TestControlAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:9222", Options{Port: 9222}.ControlAddr())
	assert.Equal(t, "browser:1234", Options{Host: "browser", Port: 1234}.ControlAddr())
	assert.Equal(t, "xpath=.//*", Query{Strategy: ByXPath, Selector: ".//*"}.String())
}
