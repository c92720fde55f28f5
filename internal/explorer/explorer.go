// Package explorer attaches to a running browser and drives it through
// instruction sequences.
//
// Every public operation except New and Run reports failure as a value:
// a bool, an ok flag or a Report. Errors from the browser never escape.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"pageexplorer/internal/driver"
	"pageexplorer/internal/instruction"
	"pageexplorer/internal/logging"
	"pageexplorer/internal/observability"
)

// ErrSessionCreation is matched by every error New returns.
var ErrSessionCreation = errors.New("failed to create page explorer")

// CreationError reports that no session could be attached. Transport and
// protocol failures collapse into it; the detail stays in Err.
type CreationError struct {
	Addr string
	Err  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("%v (%s): %v", ErrSessionCreation, e.Addr, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSessionCreation) hold.
func (e *CreationError) Is(target error) bool { return target == ErrSessionCreation }

// Config describes how to attach an Explorer.
type Config struct {
	Dialer  driver.Dialer
	Options driver.Options
	Backend string // recorded in logs and spans
	Metrics *observability.Metrics

	// Clock and Sleep default to time.Now and time.Sleep.
	Clock func() time.Time
	Sleep func(time.Duration)
}

// Explorer owns one browser session. It is not safe for concurrent use;
// explore several browsers with one Explorer each.
type Explorer struct {
	drv     driver.Driver
	opts    driver.Options
	backend string
	metrics *observability.Metrics
	now     func() time.Time
	sleep   func(time.Duration)

	shutdownOnce sync.Once
}

// New attaches to the browser described by cfg.Options and applies the
// implicit wait budget. A failure to apply the budget is logged and ignored.
func New(ctx context.Context, cfg Config) (*Explorer, error) {
	addr := cfg.Options.ControlAddr()
	ctx, span := observability.StartSpan(ctx, "session.create")
	defer span.End()
	span.SetAttributes(
		observability.AttrBackend.String(cfg.Backend),
		observability.AttrControlURL.String(addr),
	)

	if cfg.Dialer == nil {
		return nil, &CreationError{Addr: addr, Err: errors.New("no dialer configured")}
	}

	timer := logging.StartTimer(logging.CategorySession, "attach")
	drv, err := cfg.Dialer(ctx, cfg.Options)
	timer.Stop()
	if err != nil {
		cfg.Metrics.ObserveSession("creation_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "attach failed")
		logging.SessionError("Failed to create driver: %v", err)
		return nil, &CreationError{Addr: addr, Err: err}
	}

	e := &Explorer{
		drv:     drv,
		opts:    cfg.Options,
		backend: cfg.Backend,
		metrics: cfg.Metrics,
		now:     cfg.Clock,
		sleep:   cfg.Sleep,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = time.Sleep
	}
	logging.Session("connected to browser on %s (backend=%s binary=%q)", addr, cfg.Backend, cfg.Options.Binary)

	budget := cfg.Options.ImplicitWait
	if budget <= 0 {
		budget = driver.DefaultImplicitWait
	}
	if err := drv.SetImplicitWait(budget); err != nil {
		// The session may already be gone; later calls will report it.
		logging.SessionWarn("failed to set implicit wait: %v", err)
	}

	cfg.Metrics.ObserveSession("created")
	return e, nil
}

// Run attaches, calls fn and always shuts the session down afterwards,
// including when fn panics.
func Run(ctx context.Context, cfg Config, fn func(*Explorer) error) error {
	e, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Shutdown()
	return fn(e)
}

// Shutdown quits the session. It is safe to call more than once and on a
// nil or partially built Explorer; only the first call does anything.
func (e *Explorer) Shutdown() {
	if e == nil {
		return
	}
	e.shutdownOnce.Do(func() {
		if e.drv == nil {
			return
		}
		if err := e.drv.Quit(); err != nil {
			logging.SessionDebug("suppressing quit failure: %v", err)
		}
		e.metrics.ObserveSession("shutdown")
		logging.Session("session shut down")
	})
}

// IsConnected probes the session by reading the page title.
func (e *Explorer) IsConnected(ctx context.Context) bool {
	if e == nil || e.drv == nil {
		return false
	}
	if _, err := e.drv.Title(ctx); err != nil {
		logging.SessionDebug("connection has closed: %v", err)
		return false
	}
	return true
}

// CurrentURL returns the page URL, or ok=false when it cannot be read.
func (e *Explorer) CurrentURL(ctx context.Context) (url string, ok bool) {
	if e == nil || e.drv == nil {
		return "", false
	}
	u, err := e.drv.URL(ctx)
	if err != nil {
		logging.SessionDebug("current url unavailable: %v", err)
		return "", false
	}
	return u, true
}

// Navigate loads url. It reports true when the load completed and the page
// is not the browser's unreachable-host placeholder.
func (e *Explorer) Navigate(ctx context.Context, url string) bool {
	if e == nil || e.drv == nil {
		return false
	}
	ctx, span := observability.StartSpan(ctx, "session.navigate")
	defer span.End()
	span.SetAttributes(observability.AttrURL.String(url))

	if err := e.drv.Navigate(ctx, url); err != nil {
		e.metrics.ObserveNavigation(observability.NavigationError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation failed")
		logging.SessionDebug("no browser connection: %v", err)
		return false
	}
	title, err := e.drv.Title(ctx)
	if err != nil {
		e.metrics.ObserveNavigation(observability.NavigationError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "title unavailable")
		logging.SessionDebug("no browser connection: %v", err)
		return false
	}

	unreachable := e.opts.UnreachableTitle
	if unreachable == "" {
		unreachable = driver.DefaultUnreachableTitle
	}
	current, _ := e.CurrentURL(ctx)
	logging.SessionDebug("page: %q (%q)", title, current)
	if title == unreachable {
		e.metrics.ObserveNavigation(observability.NavigationUnreachable)
		span.SetStatus(codes.Error, "unreachable")
		return false
	}
	e.metrics.ObserveNavigation(observability.NavigationOK)
	return true
}

// CloseBrowser asks the page to close itself and then polls liveness every
// poll until the session drops or maxWait passes. With maxWait <= 0 it does
// not poll. It never reports failure.
func (e *Explorer) CloseBrowser(ctx context.Context, maxWait, poll time.Duration) {
	if e == nil || e.drv == nil {
		return
	}
	if maxWait < 0 {
		maxWait = 0
	}
	logging.SessionDebug("executing 'window.close()'")
	if err := e.drv.ExecuteScript(ctx, instruction.WindowCloseScript); err != nil {
		logging.SessionDebug("no browser connection: %v", err)
		return
	}
	deadline := e.now().Add(maxWait)
	for deadline.After(e.now()) {
		if !e.IsConnected(ctx) {
			break
		}
		e.sleep(poll)
	}
}
