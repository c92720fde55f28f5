// Package driver defines the capability set pageexplorer needs from a remote
// browser-control session, plus the two-kind error model every backend
// reports through.
package driver

import (
	"context"
	"fmt"
	"time"
)

// Strategy is an element lookup strategy.
type Strategy string

const (
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
)

// Query is an element lookup: a strategy plus a selector string.
type Query struct {
	Strategy Strategy `yaml:"by" json:"by"`
	Selector string   `yaml:"value" json:"value"`
}

func (q Query) String() string {
	return fmt.Sprintf("%s=%s", q.Strategy, q.Selector)
}

// PageLoad selects when navigation is considered complete.
type PageLoad string

const (
	// PageLoadNormal waits for the load event.
	PageLoadNormal PageLoad = "normal"
	// PageLoadEager returns once the new document is committed.
	PageLoadEager PageLoad = "eager"
)

// DefaultImplicitWait is the per-command wait budget applied after attach.
const DefaultImplicitWait = 30 * time.Second

// DefaultUnreachableTitle is the title browsers show for an unreachable host.
const DefaultUnreachableTitle = "Server Not Found"

// Options binds a session to a running browser.
type Options struct {
	Binary           string        // browser binary that is already running
	Host             string        // DevTools host, defaults to 127.0.0.1
	Port             int           // DevTools control port
	ImplicitWait     time.Duration // applied by the explorer after attach
	PageLoad         PageLoad
	UnreachableTitle string
}

// ControlAddr returns host:port for the DevTools endpoint.
func (o Options) ControlAddr() string {
	host := o.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, o.Port)
}

// Driver is a live control channel to one running browser.
// Every method may fail; failures carry a Kind (see Classify).
type Driver interface {
	Navigate(ctx context.Context, url string) error
	ExecuteScript(ctx context.Context, source string) error
	FindElements(ctx context.Context, q Query) ([]Element, error)
	// SendKeys types keys into whatever currently has focus.
	SendKeys(ctx context.Context, keys []Key) error
	// KeyDown presses a key and keeps it held for later SendKeys calls.
	KeyDown(ctx context.Context, key Key) error
	KeyUp(ctx context.Context, key Key) error
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	SetImplicitWait(d time.Duration) error
	Quit() error
}

// Element is an opaque handle to a node found by FindElements.
type Element interface {
	SendKeys(ctx context.Context, keys []Key) error
}

// Dialer attaches to a running browser and returns its session.
type Dialer func(ctx context.Context, opts Options) (Driver, error)
