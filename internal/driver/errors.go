package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind splits session failures into the two buckets the interpreter cares
// about.
type Kind int

const (
	// KindSessionFatal means the control channel or browser is unusable.
	KindSessionFatal Kind = iota
	// KindElementLocal means one element could not be used; the session is fine.
	KindElementLocal
)

func (k Kind) String() string {
	switch k {
	case KindElementLocal:
		return "element_local"
	default:
		return "session_fatal"
	}
}

// Error is a classified failure from a session primitive.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrClosed is returned by every primitive once the session has been quit.
var ErrClosed = &Error{Op: "session", Kind: KindSessionFatal, Err: errors.New("session closed")}

// Fatal wraps err as a session-fatal failure of op.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: KindSessionFatal, Err: err}
}

// ElementLocal wraps err as an element-local failure of op.
func ElementLocal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: KindElementLocal, Err: err}
}

// KindOf reports the classification of err. Unclassified errors are fatal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindSessionFatal
}

// IsElementLocal reports whether err is scoped to a single element.
func IsElementLocal(err error) bool {
	return err != nil && KindOf(err) == KindElementLocal
}

// IsSessionFatal reports whether err means the session is gone.
func IsSessionFatal(err error) bool {
	return err != nil && KindOf(err) == KindSessionFatal
}

// staleMessages are protocol messages that refer to a node or remote object
// that no longer exists. They come from both CDP backends.
var staleMessages = []string{
	"could not find object with given id",
	"could not find node with given id",
	"no node with given id found",
	"node with given id does not belong to the document",
	"node is detached from document",
	"cannot find context with specified id",
}

// notInteractableMessages are protocol messages for nodes that exist but
// cannot take input.
var notInteractableMessages = []string{
	"element is not focusable",
	"not interactable",
	"element is not visible",
	"does not have a layout object",
}

// ClassifyMessage maps a protocol error message onto a Kind. Backends call it
// after their own typed checks.
func ClassifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, m := range staleMessages {
		if strings.Contains(lower, m) {
			return KindElementLocal
		}
	}
	for _, m := range notInteractableMessages {
		if strings.Contains(lower, m) {
			return KindElementLocal
		}
	}
	return KindSessionFatal
}

// IsContextDone reports whether err came from a cancelled or expired context.
func IsContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// DialStage names the step of attaching to a browser that failed.
type DialStage string

const (
	// StageTransport covers reaching the DevTools endpoint at all.
	StageTransport DialStage = "transport"
	// StageProtocol covers the websocket handshake and target attach.
	StageProtocol DialStage = "protocol"
)

// DialError is returned by a Dialer when a session cannot be established.
type DialError struct {
	Stage DialStage
	Addr  string
	Err   error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("%s failure attaching to %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }
