package explorer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pageexplorer/internal/driver"
	"pageexplorer/internal/instruction"
	"pageexplorer/internal/logging"
	"pageexplorer/internal/observability"
)

// Report is the outcome of one Explore call.
type Report struct {
	RunID string
	// Success is true iff every instruction ran without a session-fatal error.
	Success bool
	// Completed counts instructions that finished.
	Completed int
	Total     int
	// Selected is the element selection left by the last instruction;
	// HasSelection distinguishes "no selection" from an empty one.
	Selected     []driver.Element
	HasSelection bool
	// Err is the error that stopped the run, nil on success.
	Err     error
	Elapsed time.Duration
}

type exploreOptions struct {
	wait  func(time.Duration)
	runID string
}

// Option configures one Explore call.
type Option func(*exploreOptions)

// WithWait replaces the wait primitive used for WAIT and inter-send delays.
func WithWait(fn func(time.Duration)) Option {
	return func(o *exploreOptions) {
		if fn != nil {
			o.wait = fn
		}
	}
}

// WithRunID sets the correlation ID used in logs and spans.
func WithRunID(id string) Option {
	return func(o *exploreOptions) { o.runID = id }
}

// selection is either inactive ("no selection") or a complete element list.
type selection struct {
	active bool
	elems  []driver.Element
}

// Explore runs seq strictly in order against the session. It stops at the
// first error other than an element-local failure while sending keys to a
// selection, and reports how far it got.
func (e *Explorer) Explore(ctx context.Context, seq instruction.Sequence, opts ...Option) Report {
	var o exploreOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	if e == nil || e.drv == nil {
		return Report{RunID: o.runID, Total: len(seq), Err: driver.ErrClosed}
	}
	if o.wait == nil {
		o.wait = e.sleep
	}

	log := logging.WithRequestID(logging.CategoryExplorer, o.runID)
	ctx, span := observability.StartSpan(ctx, "explore")
	defer span.End()
	span.SetAttributes(
		observability.AttrRunID.String(o.runID),
		observability.AttrTotal.Int(len(seq)),
	)

	report := Report{RunID: o.runID, Total: len(seq)}
	start := e.now()
	log.Debug("explore (instructions: %d)", len(seq))

	var sel selection
	for i, ins := range seq {
		if err := ctx.Err(); err != nil {
			report.Err = driver.Fatal("explore", err)
			break
		}
		if err := e.step(ctx, i, ins, &sel, o.wait, log); err != nil {
			report.Err = err
			log.Debug("failed processing instructions: %v", err)
			break
		}
		report.Completed++
	}

	report.Success = report.Err == nil
	report.Selected = sel.elems
	report.HasSelection = sel.active
	report.Elapsed = e.now().Sub(start)

	e.metrics.ObserveExplore(report.Success)
	span.SetAttributes(
		observability.AttrCompleted.Int(report.Completed),
		observability.AttrSelected.Int(len(sel.elems)),
	)
	if report.Err != nil {
		span.RecordError(report.Err)
		span.SetStatus(codes.Error, "explore stopped early")
	}
	log.Debug("%d/%d instructions", report.Completed, report.Total)
	return report
}

func (e *Explorer) step(ctx context.Context, idx int, ins instruction.Instruction, sel *selection, wait func(time.Duration), log *logging.RequestLogger) error {
	if ins == nil {
		return driver.Fatal("explore", fmt.Errorf("instruction %d is nil", idx))
	}
	action := ins.Action().String()
	ctx, span := observability.StartSpan(ctx, "instruction",
		trace.WithAttributes(
			observability.AttrIndex.Int(idx),
			observability.AttrAction.String(action),
		),
	)
	defer span.End()

	started := e.now()
	err := e.execute(ctx, ins, sel, wait, log)

	result := observability.ResultOK
	if err != nil {
		result = observability.ResultFatal
		if driver.IsElementLocal(err) {
			result = observability.ResultElementLocal
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		span.SetAttributes(observability.AttrErrorKind.String(driver.KindOf(err).String()))
	}
	e.metrics.ObserveInstruction(action, result, e.now().Sub(started))
	return err
}

func (e *Explorer) execute(ctx context.Context, ins instruction.Instruction, sel *selection, wait func(time.Duration), log *logging.RequestLogger) error {
	switch in := ins.(type) {
	case *instruction.Wait:
		wait(in.Duration)

	case *instruction.SendKeys:
		if sel.active {
			for _, el := range sel.elems {
				if err := el.SendKeys(ctx, in.Keys); err != nil {
					if !driver.IsElementLocal(err) {
						return err
					}
					e.metrics.ObserveElementError()
					log.Debug("suppressing element failure: %v", err)
				}
				if in.Delay > 0 {
					wait(in.Delay)
				}
			}
			return nil
		}
		for r := 0; r < in.Runs; r++ {
			if err := e.drv.SendKeys(ctx, in.Keys); err != nil {
				return err
			}
			if in.Delay > 0 {
				wait(in.Delay)
			}
		}

	case *instruction.KeyDown:
		return e.drv.KeyDown(ctx, in.Key)

	case *instruction.KeyUp:
		return e.drv.KeyUp(ctx, in.Key)

	case *instruction.ExecuteScript:
		return e.drv.ExecuteScript(ctx, in.Source)

	case *instruction.FindElements:
		elems, err := e.drv.FindElements(ctx, in.Query)
		if err != nil {
			return err
		}
		if len(elems) == 0 {
			log.Debug("no elements found for %s", in.Query)
		}
		*sel = selection{active: true, elems: elems}
		e.metrics.SetSelected(len(elems))

	case *instruction.ClearElements:
		*sel = selection{}
		e.metrics.SetSelected(0)

	default:
		return driver.Fatal("explore", fmt.Errorf("unsupported instruction %T", ins))
	}
	return nil
}
