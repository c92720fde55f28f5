// Package cdpdriver implements driver.Driver with chromedp over a remote
// allocator, attached to a browser that is already running.
package cdpdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/go-rod/rod/lib/launcher"

	"pageexplorer/internal/driver"
	"pageexplorer/internal/logging"
)

const (
	discoveryTimeout = 5 * time.Second
	quitTimeout      = 10 * time.Second
)

// Driver is a chromedp-backed session bound to one page target.
type Driver struct {
	opts   driver.Options
	ctx    context.Context // chromedp tab context
	cancel context.CancelFunc
	held   *driver.HeldKeys

	wait   atomic.Int64 // implicit wait, nanoseconds
	closed atomic.Bool
}

var _ driver.Driver = (*Driver)(nil)

// Dial connects through a remote allocator and attaches to the first page
// target, or opens a new tab when there is none.
func Dial(ctx context.Context, opts driver.Options) (driver.Driver, error) {
	addr := opts.ControlAddr()
	logging.DriverDebug("chromedp: attaching to %s (binary=%q)", addr, opts.Binary)

	wsURL, err := launcher.ResolveURL(addr)
	if err != nil {
		return nil, &driver.DialError{Stage: driver.StageTransport, Addr: addr, Err: err}
	}
	targetID, err := findPageTarget(ctx, addr)
	if err != nil {
		return nil, &driver.DialError{Stage: driver.StageTransport, Addr: addr, Err: err}
	}

	// The session outlives the dial context; each primitive attaches its own.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), wsURL)
	var tabOpts []chromedp.ContextOption
	if targetID != "" {
		tabOpts = append(tabOpts, chromedp.WithTargetID(targetID))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, tabOpts...)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run allocates the session and must use the tab context itself;
	// a derived deadline here would tear the connection down with it.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, &driver.DialError{Stage: driver.StageProtocol, Addr: addr, Err: fmt.Errorf("attach: %w", err)}
	}

	d := &Driver{
		opts:   opts,
		ctx:    tabCtx,
		cancel: cancel,
		held:   driver.NewHeldKeys(),
	}
	d.wait.Store(int64(driver.DefaultImplicitWait))
	if opts.PageLoad == driver.PageLoadEager {
		logging.DriverWarn("chromedp: page_load=eager is not supported, waiting for the load event")
	}
	logging.DriverDebug("chromedp: attached to %s target=%q", wsURL, targetID)
	return d, nil
}

// findPageTarget uses the DevTools HTTP API to discover page targets without
// creating a throwaway chromedp session.
func findPageTarget(ctx context.Context, addr string) (target.ID, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/json/list", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var targets []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode target list: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" {
			return target.ID(t.ID), nil
		}
	}
	return "", nil
}

// runWithin runs actions on the session context while honouring the
// caller's cancellation.
func runWithin(caller, session context.Context, actions ...chromedp.Action) error {
	ctx, cancel := context.WithCancel(session)
	defer cancel()
	stop := context.AfterFunc(caller, cancel)
	defer stop()
	return chromedp.Run(ctx, actions...)
}

// run applies the implicit wait budget and runs actions.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	if d.closed.Load() {
		return driver.ErrClosed
	}
	session := d.ctx
	if w := time.Duration(d.wait.Load()); w > 0 {
		var cancel context.CancelFunc
		session, cancel = context.WithTimeout(session, w)
		defer cancel()
	}
	return runWithin(ctx, session, actions...)
}

// Navigate loads url and waits for the load event.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	return classify("navigate", d.run(ctx, chromedp.Navigate(url)))
}

// ExecuteScript runs source as the body of a function in the page.
func (d *Driver) ExecuteScript(ctx context.Context, source string) error {
	expr := "(function() {\n" + source + "\n})()"
	return classify("execute_script", d.run(ctx, chromedp.Evaluate(expr, nil)))
}

// FindElements returns every match for q. No match is not an error.
func (d *Driver) FindElements(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	var by chromedp.QueryOption
	switch q.Strategy {
	case driver.ByCSS:
		by = chromedp.ByQueryAll
	case driver.ByXPath:
		by = chromedp.BySearch
	default:
		return nil, driver.Fatal("find_elements", fmt.Errorf("unsupported strategy %q", q.Strategy))
	}

	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(q.Selector, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, classify("find_elements", err)
	}
	elems := make([]driver.Element, len(nodes))
	for i, n := range nodes {
		elems[i] = &element{d: d, node: n}
	}
	return elems, nil
}

// SendKeys types keys into the focused element.
func (d *Driver) SendKeys(ctx context.Context, keys []driver.Key) error {
	return classify("send_keys", d.run(ctx, d.typeAction(keys)))
}

// typeAction types keys with the held modifiers applied. A modifier inside
// keys stays down until the end of the list.
func (d *Driver) typeAction(keys []driver.Key) chromedp.ActionFunc {
	return func(ctx context.Context) (err error) {
		mods := modifierMask(d.held.Modifiers())
		var inline []driver.Key
		defer func() {
			for i := len(inline) - 1; i >= 0; i-- {
				k := inline[i]
				mods &^= modifierBits[k]
				if uerr := keyPhase(kbKeys[k], true, mods).Do(ctx); err == nil {
					err = uerr
				}
			}
		}()

		for _, k := range keys {
			s, ok := kbKey(k)
			if !ok {
				return fmt.Errorf("unknown key %q", k)
			}
			if bit, isMod := modifierBits[k]; isMod {
				if mods&bit != 0 {
					continue
				}
				mods |= bit
				if err := keyPhase(s, false, mods).Do(ctx); err != nil {
					return err
				}
				inline = append(inline, k)
				continue
			}
			if mods&input.ModifierShift != 0 && !k.Named() {
				s = strings.ToUpper(s)
			}
			if err := chromedp.KeyEvent(s, chromedp.KeyModifiers(mods)).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// keyPhase dispatches only the down or only the up events kb encodes for s.
func keyPhase(s string, up bool, mods input.Modifier) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		for _, r := range s {
			for _, ev := range kb.Encode(r) {
				if (ev.Type == input.KeyUp) != up {
					continue
				}
				if err := ev.WithModifiers(mods).Do(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// KeyDown presses key and keeps it held.
func (d *Driver) KeyDown(ctx context.Context, key driver.Key) error {
	s, ok := kbKey(key)
	if !ok {
		return driver.Fatal("key_down", fmt.Errorf("unknown key %q", key))
	}
	mods := modifierMask(append(d.held.Modifiers(), key))
	if err := d.run(ctx, keyPhase(s, false, mods)); err != nil {
		return classify("key_down", err)
	}
	d.held.Hold(key)
	return nil
}

// KeyUp releases key.
func (d *Driver) KeyUp(ctx context.Context, key driver.Key) error {
	s, ok := kbKey(key)
	if !ok {
		return driver.Fatal("key_up", fmt.Errorf("unknown key %q", key))
	}
	mods := modifierMask(d.held.Modifiers()) &^ modifierBits[key]
	if err := d.run(ctx, keyPhase(s, true, mods)); err != nil {
		return classify("key_up", err)
	}
	d.held.Release(key)
	return nil
}

// Title returns the page title.
func (d *Driver) Title(ctx context.Context) (string, error) {
	var title string
	if err := d.run(ctx, chromedp.Title(&title)); err != nil {
		return "", classify("title", err)
	}
	return title, nil
}

// URL returns the page URL.
func (d *Driver) URL(ctx context.Context) (string, error) {
	var u string
	if err := d.run(ctx, chromedp.Location(&u)); err != nil {
		return "", classify("url", err)
	}
	return u, nil
}

// SetImplicitWait sets the per-command budget after checking the page still
// answers.
func (d *Driver) SetImplicitWait(w time.Duration) error {
	if d.closed.Load() {
		return driver.ErrClosed
	}
	probe := w
	if probe <= 0 {
		probe = driver.DefaultImplicitWait
	}
	ctx, cancel := context.WithTimeout(d.ctx, probe)
	defer cancel()

	var title string
	if err := chromedp.Run(ctx, chromedp.Title(&title)); err != nil {
		return classify("set_implicit_wait", err)
	}
	d.wait.Store(int64(w))
	return nil
}

// Quit closes the browser and tears down the allocator. Only the first call
// does anything.
func (d *Driver) Quit() error {
	if d.closed.Swap(true) {
		return nil
	}
	defer d.cancel()

	c := chromedp.FromContext(d.ctx)
	if c == nil || c.Browser == nil {
		return driver.Fatal("quit", errors.New("session never attached"))
	}
	ctx, cancel := context.WithTimeout(d.ctx, quitTimeout)
	defer cancel()
	if err := browser.Close().Do(cdp.WithExecutor(ctx, c.Browser)); err != nil {
		return driver.Fatal("quit", err)
	}
	return nil
}

type element struct {
	d    *Driver
	node *cdp.Node
}

// SendKeys focuses the node, then types keys into it.
func (e *element) SendKeys(ctx context.Context, keys []driver.Key) error {
	focus := chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.Focus().WithNodeID(e.node.NodeID).Do(ctx)
	})
	return classify("element_send_keys", e.d.run(ctx, focus, e.d.typeAction(keys)))
}

// kbKeys maps named keys onto chromedp's key runes.
var kbKeys = map[driver.Key]string{
	driver.KeyEnd:        kb.End,
	driver.KeyHome:       kb.Home,
	driver.KeyPageUp:     kb.PageUp,
	driver.KeyPageDown:   kb.PageDown,
	driver.KeyTab:        kb.Tab,
	driver.KeyEscape:     kb.Escape,
	driver.KeyEnter:      kb.Enter,
	driver.KeyBackspace:  kb.Backspace,
	driver.KeyDelete:     kb.Delete,
	driver.KeyInsert:     kb.Insert,
	driver.KeySpace:      " ",
	driver.KeyArrowUp:    kb.ArrowUp,
	driver.KeyArrowDown:  kb.ArrowDown,
	driver.KeyArrowLeft:  kb.ArrowLeft,
	driver.KeyArrowRight: kb.ArrowRight,
	driver.KeyF1:         kb.F1,
	driver.KeyF2:         kb.F2,
	driver.KeyF3:         kb.F3,
	driver.KeyF4:         kb.F4,
	driver.KeyF5:         kb.F5,
	driver.KeyF6:         kb.F6,
	driver.KeyF7:         kb.F7,
	driver.KeyF8:         kb.F8,
	driver.KeyF9:         kb.F9,
	driver.KeyF10:        kb.F10,
	driver.KeyF11:        kb.F11,
	driver.KeyF12:        kb.F12,
	driver.KeyShift:      kb.Shift,
	driver.KeyControl:    kb.Control,
	driver.KeyAlt:        kb.Alt,
	driver.KeyMeta:       kb.Meta,
}

var modifierBits = map[driver.Key]input.Modifier{
	driver.KeyShift:   input.ModifierShift,
	driver.KeyControl: input.ModifierCtrl,
	driver.KeyAlt:     input.ModifierAlt,
	driver.KeyMeta:    input.ModifierMeta,
}

// kbKey returns the string chromedp types for k.
func kbKey(k driver.Key) (string, bool) {
	if s, ok := kbKeys[k]; ok {
		return s, true
	}
	if !k.Named() && k.Valid() {
		return string(k), true
	}
	return "", false
}

func modifierMask(keys []driver.Key) input.Modifier {
	var mask input.Modifier
	for _, k := range keys {
		mask |= modifierBits[k]
	}
	return mask
}

// classify tags err with its driver.Kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *driver.Error
	if errors.As(err, &de) {
		return err
	}
	if driver.IsContextDone(err) {
		return driver.Fatal(op, err)
	}
	msg := err.Error()
	var cdpErr *cdproto.Error
	if errors.As(err, &cdpErr) {
		msg = cdpErr.Message
	}
	if driver.ClassifyMessage(msg) == driver.KindElementLocal {
		return driver.ElementLocal(op, err)
	}
	return driver.Fatal(op, err)
}
