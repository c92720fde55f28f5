// Package rodriver implements driver.Driver on top of go-rod, attached to a
// browser that is already running with remote debugging enabled.
package rodriver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"pageexplorer/internal/driver"
	"pageexplorer/internal/logging"
)

// quitTimeout bounds Browser.close when the session is torn down.
const quitTimeout = 10 * time.Second

// Driver is a rod-backed session bound to one page of a running browser.
type Driver struct {
	opts    driver.Options
	browser *rod.Browser
	page    *rod.Page
	held    *driver.HeldKeys

	cancel context.CancelFunc
	wait   atomic.Int64 // implicit wait, nanoseconds
	closed atomic.Bool
}

var _ driver.Driver = (*Driver)(nil)

// Dial resolves the DevTools endpoint at opts.ControlAddr and attaches to the
// first open page, creating a blank one if the browser has none.
func Dial(ctx context.Context, opts driver.Options) (driver.Driver, error) {
	addr := opts.ControlAddr()
	logging.DriverDebug("rod: attaching to %s (binary=%q)", addr, opts.Binary)

	controlURL, err := launcher.ResolveURL(addr)
	if err != nil {
		return nil, &driver.DialError{Stage: driver.StageTransport, Addr: addr, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &driver.DialError{Stage: driver.StageTransport, Addr: addr, Err: err}
	}

	// The session outlives the dial context; each primitive attaches its own.
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	browser := rod.New().ControlURL(controlURL).Context(base)
	if err := browser.Connect(); err != nil {
		cancel()
		return nil, &driver.DialError{Stage: driver.StageProtocol, Addr: addr, Err: fmt.Errorf("connect: %w", err)}
	}

	page, err := attachPage(browser)
	if err != nil {
		_ = browser.Close()
		cancel()
		return nil, &driver.DialError{Stage: driver.StageProtocol, Addr: addr, Err: err}
	}

	d := &Driver{
		opts:    opts,
		browser: browser,
		page:    page,
		held:    driver.NewHeldKeys(),
		cancel:  cancel,
	}
	d.wait.Store(int64(driver.DefaultImplicitWait))
	logging.DriverDebug("rod: attached to %s target=%s", controlURL, page.TargetID)
	return d, nil
}

func attachPage(browser *rod.Browser) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	if page := pages.First(); page != nil {
		return page, nil
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return page, nil
}

// scoped returns the page bound to ctx and the implicit wait budget.
func (d *Driver) scoped(ctx context.Context) (*rod.Page, context.CancelFunc, error) {
	if d.closed.Load() {
		return nil, nil, driver.ErrClosed
	}
	var cancel context.CancelFunc
	if w := time.Duration(d.wait.Load()); w > 0 {
		ctx, cancel = context.WithTimeout(ctx, w)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	return d.page.Context(ctx), cancel, nil
}

// Navigate loads url and waits per the page-load strategy.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	p, cancel, err := d.scoped(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if d.opts.PageLoad == driver.PageLoadEager {
		wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
		if err := p.Navigate(url); err != nil {
			return classify("navigate", err)
		}
		wait()
		return classify("navigate", p.GetContext().Err())
	}

	if err := p.Navigate(url); err != nil {
		return classify("navigate", err)
	}
	return classify("navigate", p.WaitLoad())
}

// ExecuteScript runs source as the body of a function in the page.
func (d *Driver) ExecuteScript(ctx context.Context, source string) error {
	p, cancel, err := d.scoped(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = p.Eval("function() {\n" + source + "\n}")
	return classify("execute_script", err)
}

// FindElements returns every match for q. No match is not an error.
func (d *Driver) FindElements(ctx context.Context, q driver.Query) ([]driver.Element, error) {
	p, cancel, err := d.scoped(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var found rod.Elements
	switch q.Strategy {
	case driver.ByCSS:
		found, err = p.Elements(q.Selector)
	case driver.ByXPath:
		found, err = p.ElementsX(q.Selector)
	default:
		return nil, driver.Fatal("find_elements", fmt.Errorf("unsupported strategy %q", q.Strategy))
	}
	if err != nil {
		return nil, classify("find_elements", err)
	}

	elems := make([]driver.Element, len(found))
	for i, el := range found {
		elems[i] = &element{d: d, el: el}
	}
	return elems, nil
}

// SendKeys types keys into the focused element.
func (d *Driver) SendKeys(ctx context.Context, keys []driver.Key) error {
	p, cancel, err := d.scoped(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return classify("send_keys", d.typeKeys(p, keys))
}

// typeKeys types keys through the page keyboard, which tracks held
// modifiers. A modifier inside keys stays down until the end of the list.
// Characters outside the US layout are inserted as text. The keyboard runs
// on the session context, so key events end with Quit, not the implicit wait.
func (d *Driver) typeKeys(p *rod.Page, keys []driver.Key) error {
	kb := p.Keyboard
	var inline []input.Key
	defer func() {
		for i := len(inline) - 1; i >= 0; i-- {
			_ = kb.Release(inline[i])
		}
	}()

	for _, k := range keys {
		rk, ok := rodKey(k)
		switch {
		case !ok && k.Valid() && !k.Named():
			if err := p.InsertText(string(k)); err != nil {
				return err
			}
		case !ok:
			return fmt.Errorf("unknown key %q", k)
		case k.IsModifier():
			if d.held.Has(k) {
				continue
			}
			if err := kb.Press(rk); err != nil {
				return err
			}
			inline = append(inline, rk)
		default:
			if err := kb.Type(rk); err != nil {
				return err
			}
		}
	}
	return nil
}

// KeyDown presses key and keeps it held.
func (d *Driver) KeyDown(ctx context.Context, key driver.Key) error {
	rk, ok := rodKey(key)
	if !ok {
		return driver.Fatal("key_down", fmt.Errorf("unknown key %q", key))
	}
	_, cancel, err := d.scoped(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	kb := d.page.Keyboard
	if err := kb.Press(rk); err != nil {
		// The keyboard records the key before dispatching; forget it again.
		_ = kb.Release(rk)
		return classify("key_down", err)
	}
	d.held.Hold(key)
	return nil
}

// KeyUp releases key.
func (d *Driver) KeyUp(ctx context.Context, key driver.Key) error {
	rk, ok := rodKey(key)
	if !ok {
		return driver.Fatal("key_up", fmt.Errorf("unknown key %q", key))
	}
	_, cancel, err := d.scoped(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	// The keyboard forgets the key even when the event fails.
	err = d.page.Keyboard.Release(rk)
	d.held.Release(key)
	return classify("key_up", err)
}

// Title returns the page title.
func (d *Driver) Title(ctx context.Context) (string, error) {
	p, cancel, err := d.scoped(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	info, err := p.Info()
	if err != nil {
		return "", classify("title", err)
	}
	return info.Title, nil
}

// URL returns the page URL.
func (d *Driver) URL(ctx context.Context) (string, error) {
	p, cancel, err := d.scoped(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	info, err := p.Info()
	if err != nil {
		return "", classify("url", err)
	}
	return info.URL, nil
}

// SetImplicitWait sets the per-command budget after checking the browser is
// still answering.
func (d *Driver) SetImplicitWait(w time.Duration) error {
	if d.closed.Load() {
		return driver.ErrClosed
	}
	probe := w
	if probe <= 0 {
		probe = driver.DefaultImplicitWait
	}
	ctx, cancel := context.WithTimeout(context.Background(), probe)
	defer cancel()

	if _, err := d.browser.Context(ctx).Version(); err != nil {
		return classify("set_implicit_wait", err)
	}
	d.wait.Store(int64(w))
	return nil
}

// Quit closes the browser and releases the connection. Only the first call
// does anything.
func (d *Driver) Quit() error {
	if d.closed.Swap(true) {
		return nil
	}
	defer d.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()
	if err := d.browser.Context(ctx).Close(); err != nil {
		return driver.Fatal("quit", err)
	}
	return nil
}

type element struct {
	d  *Driver
	el *rod.Element
}

// SendKeys focuses the element through DOM.focus, then types keys into it.
// DOM.focus fails for nodes that cannot take focus, unlike HTMLElement.focus.
func (e *element) SendKeys(ctx context.Context, keys []driver.Key) error {
	p, cancel, err := e.d.scoped(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := (proto.DOMFocus{ObjectID: e.el.Object.ObjectID}).Call(p); err != nil {
		return classify("element_send_keys", err)
	}
	return classify("element_send_keys", e.d.typeKeys(p, keys))
}

// rodKeys maps named keys onto rod's US keyboard layout.
var rodKeys = map[driver.Key]input.Key{
	driver.KeyEnd:        input.End,
	driver.KeyHome:       input.Home,
	driver.KeyPageUp:     input.PageUp,
	driver.KeyPageDown:   input.PageDown,
	driver.KeyTab:        input.Tab,
	driver.KeyEscape:     input.Escape,
	driver.KeyEnter:      input.Enter,
	driver.KeyBackspace:  input.Backspace,
	driver.KeyDelete:     input.Delete,
	driver.KeyInsert:     input.Insert,
	driver.KeySpace:      input.Space,
	driver.KeyArrowUp:    input.ArrowUp,
	driver.KeyArrowDown:  input.ArrowDown,
	driver.KeyArrowLeft:  input.ArrowLeft,
	driver.KeyArrowRight: input.ArrowRight,
	driver.KeyF1:         input.F1,
	driver.KeyF2:         input.F2,
	driver.KeyF3:         input.F3,
	driver.KeyF4:         input.F4,
	driver.KeyF5:         input.F5,
	driver.KeyF6:         input.F6,
	driver.KeyF7:         input.F7,
	driver.KeyF8:         input.F8,
	driver.KeyF9:         input.F9,
	driver.KeyF10:        input.F10,
	driver.KeyF11:        input.F11,
	driver.KeyF12:        input.F12,
	driver.KeyShift:      input.ShiftLeft,
	driver.KeyControl:    input.ControlLeft,
	driver.KeyAlt:        input.AltLeft,
	driver.KeyMeta:       input.MetaLeft,
}

// rodKey resolves k on the US layout. Printable ASCII characters are keys of
// their own; other characters have no key and are not found.
func rodKey(k driver.Key) (input.Key, bool) {
	if rk, ok := rodKeys[k]; ok {
		return rk, true
	}
	if len(k) == 1 && k[0] >= ' ' && k[0] <= '~' {
		return input.Key(k[0]), true
	}
	return 0, false
}

// classify tags err with its driver.Kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if driver.IsContextDone(err) {
		return driver.Fatal(op, err)
	}
	var notFound *rod.ObjectNotFoundError
	if errors.As(err, &notFound) {
		return driver.ElementLocal(op, err)
	}
	msg := err.Error()
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		msg = cdpErr.Message
	}
	if driver.ClassifyMessage(msg) == driver.KindElementLocal {
		return driver.ElementLocal(op, err)
	}
	return driver.Fatal(op, err)
}
