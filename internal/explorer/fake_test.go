package explorer

import (
	"context"
	"errors"
	"sync"
	"time"

	"pageexplorer/internal/driver"
)

var (
	errTransport = errors.New("connection refused")
	errStale     = driver.ElementLocal("element_send_keys", errors.New("Could not find node with given id"))
	errGone      = driver.Fatal("send_keys", errors.New("websocket: close 1006"))
)

// fakeDriver records every primitive call. Once Quit has been called every
// primitive returns driver.ErrClosed.
type fakeDriver struct {
	mu sync.Mutex

	navErr    error
	navigated []string

	scriptErr error
	scripts   []string

	findResult []driver.Element
	findErr    error
	queries    []driver.Query

	sendKeysErr error
	sendKeys    [][]driver.Key

	keyErr error
	downs  []driver.Key
	ups    []driver.Key

	title      string
	titleErrs  []error // consumed in order, then titleErr
	titleErr   error
	titleCalls int

	url    string
	urlErr error

	implicitErr  error
	implicitWait time.Duration

	quitErr error
	quits   int
}

var _ driver.Driver = (*fakeDriver)(nil)

func (f *fakeDriver) closed() bool { return f.quits > 0 }

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed() {
		return driver.ErrClosed
	}
	f.navigated = append(f.navigated, url)
	return f.navErr
}

func (f *fakeDriver) ExecuteScript(_ context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed() {
		return driver.ErrClosed
	}
	f.scripts = append(f.scripts, source)
	return f.scriptErr
}

func (f *fakeDriver) FindElements(_ context.Context, q driver.Query) ([]driver.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed() {
		return nil, driver.ErrClosed
	}
	f.queries = append(f.queries, q)
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.findResult, nil
}

func (f *fakeDriver) SendKeys(_ context.Context, keys []driver.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed() {
		return driver.ErrClosed
	}
	f.sendKeys = append(f.sendKeys, keys)
	return f.sendKeysErr
}

func (f *fakeDriver) KeyDown(_ context.Context, key driver.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed() {
		return driver.ErrClosed
	}
	f.downs = append(f.downs, key)
	return f.keyErr
}

func (f *fakeDriver) KeyUp(_ context.Context, key driver.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed() {
		return driver.ErrClosed
	}
	f.ups = append(f.ups, key)
	return f.keyErr
}

func (f *fakeDriver) Title(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed() {
		return "", driver.ErrClosed
	}
	f.titleCalls++
	if len(f.titleErrs) > 0 {
		err := f.titleErrs[0]
		f.titleErrs = f.titleErrs[1:]
		if err != nil {
			return "", err
		}
		return f.title, nil
	}
	if f.titleErr != nil {
		return "", f.titleErr
	}
	return f.title, nil
}

func (f *fakeDriver) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed() {
		return "", driver.ErrClosed
	}
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return f.url, nil
}

func (f *fakeDriver) SetImplicitWait(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.implicitWait = d
	return f.implicitErr
}

func (f *fakeDriver) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	return f.quitErr
}

type fakeElement struct {
	err  error
	sent [][]driver.Key
}

func (e *fakeElement) SendKeys(_ context.Context, keys []driver.Key) error {
	e.sent = append(e.sent, keys)
	return e.err
}

// dialerFor returns a Dialer that hands out drv, or fails with err.
func dialerFor(drv *fakeDriver, err error) driver.Dialer {
	return func(context.Context, driver.Options) (driver.Driver, error) {
		if err != nil {
			return nil, err
		}
		return drv, nil
	}
}

// waitRecorder is an injectable wait primitive that records durations.
type waitRecorder struct {
	waits []time.Duration
}

func (w *waitRecorder) wait(d time.Duration) { w.waits = append(w.waits, d) }

// tickingClock advances one second on every reading.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Unix(0, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}
