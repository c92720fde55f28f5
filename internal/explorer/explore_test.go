package explorer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"pageexplorer/internal/driver"
	"pageexplorer/internal/instruction"
	"pageexplorer/internal/observability"
)

var (
	end    = []driver.Key{driver.KeyEnd}
	escape = []driver.Key{driver.KeyEscape}
)

func explore(t *testing.T, drv *fakeDriver, seq instruction.Sequence) (Report, *waitRecorder) {
	t.Helper()
	e := newTestExplorer(t, drv)
	w := &waitRecorder{}
	return e.Explore(context.Background(), seq, WithWait(w.wait)), w
}

func TestExplore_WaitOnly(t *testing.T) {
	seq := instruction.Sequence{
		instruction.NewWait(time.Second),
		instruction.NewWait(2500 * time.Millisecond),
		instruction.NewWait(0),
	}
	drv := &fakeDriver{}
	r, w := explore(t, drv, seq)

	assert.True(t, r.Success)
	assert.Equal(t, 3, r.Completed)
	assert.Equal(t, 3, r.Total)
	assert.NoError(t, r.Err)
	if diff := cmp.Diff([]time.Duration{time.Second, 2500 * time.Millisecond, 0}, w.waits); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, drv.sendKeys)
}

func TestExplore_EmptySequence(t *testing.T) {
	r, w := explore(t, &fakeDriver{}, nil)
	assert.True(t, r.Success)
	assert.Zero(t, r.Completed)
	assert.Empty(t, w.waits)
	assert.False(t, r.HasSelection)
}

func TestExplore_SendKeysRuns(t *testing.T) {
	for _, runs := range []int{1, 3, 25} {
		drv := &fakeDriver{}
		r, w := explore(t, drv, instruction.Sequence{
			instruction.NewSendKeys(end, instruction.Runs(runs), instruction.Delay(100*time.Millisecond)),
		})

		require.True(t, r.Success)
		assert.Len(t, drv.sendKeys, runs)
		assert.Len(t, w.waits, runs)
		for _, keys := range drv.sendKeys {
			assert.Equal(t, end, keys)
		}
	}
}

func TestExplore_SendKeysNoDelayDoesNotWait(t *testing.T) {
	drv := &fakeDriver{}
	r, w := explore(t, drv, instruction.Sequence{instruction.NewSendKeys(end, instruction.Runs(4))})

	assert.True(t, r.Success)
	assert.Len(t, drv.sendKeys, 4)
	assert.Empty(t, w.waits)
}

func TestExplore_EmptySelectionSendsNothing(t *testing.T) {
	drv := &fakeDriver{}
	r, w := explore(t, drv, instruction.Sequence{
		instruction.NewFindElements(driver.ByCSS, ".missing"),
		instruction.NewSendKeys(end, instruction.Runs(5), instruction.Delay(time.Second)),
	})

	assert.True(t, r.Success)
	assert.Equal(t, 2, r.Completed)
	assert.True(t, r.HasSelection)
	assert.Empty(t, r.Selected)
	assert.Empty(t, drv.sendKeys)
	assert.Empty(t, w.waits)
	assert.Equal(t, []driver.Query{{Strategy: driver.ByCSS, Selector: ".missing"}}, drv.queries)
}

func TestExplore_SelectionIgnoresRuns(t *testing.T) {
	a, b := &fakeElement{}, &fakeElement{}
	drv := &fakeDriver{findResult: []driver.Element{a, b}}
	r, w := explore(t, drv, instruction.Sequence{
		instruction.NewFindElements(driver.ByXPath, ".//*"),
		instruction.NewSendKeys(escape, instruction.Runs(25), instruction.Delay(50*time.Millisecond)),
	})

	assert.True(t, r.Success)
	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
	assert.Empty(t, drv.sendKeys)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, w.waits)
	assert.Len(t, r.Selected, 2)
}

func TestExplore_ClearElementsRestoresRuns(t *testing.T) {
	a := &fakeElement{}
	drv := &fakeDriver{findResult: []driver.Element{a}}
	r, _ := explore(t, drv, instruction.Sequence{
		instruction.NewFindElements(driver.ByXPath, ".//*"),
		instruction.NewClearElements(),
		instruction.NewSendKeys(end, instruction.Runs(2)),
	})

	assert.True(t, r.Success)
	assert.Empty(t, a.sent)
	assert.Len(t, drv.sendKeys, 2)
	assert.False(t, r.HasSelection)
	assert.Empty(t, r.Selected)
}

func TestExplore_FindReplacesSelection(t *testing.T) {
	first, second := &fakeElement{}, &fakeElement{}
	drv := &fakeDriver{findResult: []driver.Element{first}}
	e := newTestExplorer(t, drv)
	w := &waitRecorder{}
	ctx := context.Background()

	r := e.Explore(ctx, instruction.Sequence{instruction.NewFindElements(driver.ByCSS, "a")}, WithWait(w.wait))
	require.True(t, r.Success)

	// Selection does not leak across runs.
	drv.findResult = []driver.Element{second}
	r = e.Explore(ctx, instruction.Sequence{
		instruction.NewSendKeys(end),
		instruction.NewFindElements(driver.ByCSS, "b"),
		instruction.NewSendKeys(end),
	}, WithWait(w.wait))

	require.True(t, r.Success)
	assert.Empty(t, first.sent)
	assert.Len(t, second.sent, 1)
	assert.Len(t, drv.sendKeys, 1)
}

func TestExplore_ElementLocalFailureIsAbsorbed(t *testing.T) {
	ok1, bad, ok2 := &fakeElement{}, &fakeElement{err: errStale}, &fakeElement{}
	drv := &fakeDriver{findResult: []driver.Element{ok1, bad, ok2}}
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	e, err := New(context.Background(), Config{Dialer: dialerFor(drv, nil), Metrics: m})
	require.NoError(t, err)
	defer e.Shutdown()

	w := &waitRecorder{}
	r := e.Explore(context.Background(), instruction.Sequence{
		instruction.NewFindElements(driver.ByXPath, ".//*"),
		instruction.NewSendKeys(escape, instruction.Delay(10*time.Millisecond)),
		instruction.NewWait(time.Second),
	}, WithWait(w.wait))

	assert.True(t, r.Success)
	assert.Equal(t, 3, r.Completed)
	assert.Len(t, ok1.sent, 1)
	assert.Len(t, bad.sent, 1)
	assert.Len(t, ok2.sent, 1)
	// The delay still follows the failed element.
	assert.Len(t, w.waits, 4)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ElementErrors))
}

func TestExplore_FatalElementFailureStops(t *testing.T) {
	ok1, bad, ok2 := &fakeElement{}, &fakeElement{err: errGone}, &fakeElement{}
	drv := &fakeDriver{findResult: []driver.Element{ok1, bad, ok2}}
	r, w := explore(t, drv, instruction.Sequence{
		instruction.NewFindElements(driver.ByXPath, ".//*"),
		instruction.NewSendKeys(escape),
		instruction.NewWait(time.Second),
	})

	assert.False(t, r.Success)
	assert.Equal(t, 1, r.Completed)
	assert.Len(t, ok1.sent, 1)
	assert.Len(t, bad.sent, 1)
	assert.Empty(t, ok2.sent)
	assert.Empty(t, w.waits)
	assert.True(t, driver.IsSessionFatal(r.Err))
}

func TestExplore_FatalErrorStopsRun(t *testing.T) {
	tests := []struct {
		name string
		drv  *fakeDriver
		seq  instruction.Sequence
		done int
	}{
		{
			name: "script exception",
			drv:  &fakeDriver{scriptErr: driver.Fatal("execute_script", errors.New("ReferenceError: foo is not defined"))},
			seq: instruction.Sequence{
				instruction.NewWait(time.Second),
				instruction.NewExecuteScript("foo()"),
				instruction.NewWait(time.Second),
			},
			done: 1,
		},
		{
			name: "unclassified send failure",
			drv:  &fakeDriver{sendKeysErr: errors.New("socket closed")},
			seq: instruction.Sequence{
				instruction.NewSendKeys(end, instruction.Runs(3)),
				instruction.NewWait(time.Second),
			},
			done: 0,
		},
		{
			name: "find failure",
			drv:  &fakeDriver{findErr: driver.Fatal("find_elements", errors.New("invalid selector"))},
			seq: instruction.Sequence{
				instruction.NewWait(time.Second),
				instruction.NewWait(time.Second),
				instruction.NewFindElements(driver.ByXPath, "(("),
				instruction.NewWait(time.Second),
			},
			done: 2,
		},
		{
			name: "key down failure",
			drv:  &fakeDriver{keyErr: driver.Fatal("key_down", errors.New("target closed"))},
			seq: instruction.Sequence{
				instruction.NewKeyDown(driver.KeyShift),
				instruction.NewWait(time.Second),
			},
			done: 0,
		},
		{
			name: "element-local error outside a selection",
			drv:  &fakeDriver{findErr: driver.ElementLocal("find_elements", errors.New("stale element reference"))},
			seq: instruction.Sequence{
				instruction.NewFindElements(driver.ByCSS, "div"),
				instruction.NewWait(time.Second),
			},
			done: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, w := explore(t, tt.drv, tt.seq)
			assert.False(t, r.Success)
			assert.Error(t, r.Err)
			assert.Equal(t, tt.done, r.Completed)
			assert.Equal(t, len(tt.seq), r.Total)
			// Only waits before the failure ran.
			for _, ins := range tt.seq[tt.done+1:] {
				_, isWait := ins.(*instruction.Wait)
				assert.True(t, isWait)
			}
			var before int
			for _, ins := range tt.seq[:tt.done] {
				if _, ok := ins.(*instruction.Wait); ok {
					before++
				}
			}
			assert.Len(t, w.waits, before)
		})
	}
}

func TestExplore_SendKeysStopsMidRuns(t *testing.T) {
	drv := &fakeDriver{sendKeysErr: driver.Fatal("send_keys", errors.New("target closed"))}
	r, w := explore(t, drv, instruction.Sequence{
		instruction.NewSendKeys(end, instruction.Runs(5), instruction.Delay(time.Second)),
	})

	assert.False(t, r.Success)
	assert.Len(t, drv.sendKeys, 1)
	assert.Empty(t, w.waits)
}

func TestExplore_KeyDownAndUp(t *testing.T) {
	drv := &fakeDriver{}
	r, _ := explore(t, drv, instruction.Sequence{
		instruction.NewKeyDown(driver.KeyShift),
		instruction.NewSendKeys([]driver.Key{driver.KeyPageDown}),
		instruction.NewKeyUp(driver.KeyShift),
	})

	assert.True(t, r.Success)
	assert.Equal(t, []driver.Key{driver.KeyShift}, drv.downs)
	assert.Equal(t, []driver.Key{driver.KeyShift}, drv.ups)
	assert.Len(t, drv.sendKeys, 1)
}

func TestExplore_NilInstructionIsFatal(t *testing.T) {
	r, _ := explore(t, &fakeDriver{}, instruction.Sequence{instruction.NewWait(0), nil})
	assert.False(t, r.Success)
	assert.Equal(t, 1, r.Completed)
	assert.True(t, driver.IsSessionFatal(r.Err))
}

func TestExplore_CancelledContext(t *testing.T) {
	drv := &fakeDriver{}
	e := newTestExplorer(t, drv)
	ctx, cancel := context.WithCancel(context.Background())

	w := &waitRecorder{}
	r := e.Explore(ctx, instruction.Sequence{
		instruction.NewWait(time.Second),
		instruction.NewSendKeys(end),
	}, WithWait(func(d time.Duration) {
		w.wait(d)
		cancel()
	}))

	assert.False(t, r.Success)
	assert.Equal(t, 1, r.Completed)
	assert.ErrorIs(t, r.Err, context.Canceled)
	assert.Empty(t, drv.sendKeys)
}

func TestExplore_RunID(t *testing.T) {
	e := newTestExplorer(t, &fakeDriver{})
	r := e.Explore(context.Background(), nil, WithRunID("run-7"))
	assert.Equal(t, "run-7", r.RunID)

	r = e.Explore(context.Background(), nil)
	assert.NotEmpty(t, r.RunID)
}

func TestExplore_DefaultScenario(t *testing.T) {
	el := &fakeElement{}
	drv := &fakeDriver{findResult: []driver.Element{el}}
	r, w := explore(t, drv, instruction.Sequence{
		instruction.NewWait(10 * time.Second),
		instruction.NewSendKeys(end, instruction.Runs(5), instruction.Delay(100*time.Millisecond)),
		instruction.NewFindElements(driver.ByXPath, ".//*"),
	})

	assert.True(t, r.Success)
	assert.Equal(t, 3, r.Completed)
	assert.True(t, r.HasSelection)
	require.Len(t, r.Selected, 1)
	assert.Same(t, el, r.Selected[0])
	assert.Len(t, drv.sendKeys, 5)

	want := []time.Duration{10 * time.Second}
	for i := 0; i < 5; i++ {
		want = append(want, 100*time.Millisecond)
	}
	if diff := cmp.Diff(want, w.waits); diff != "" {
		t.Errorf("waits mismatch (-want +got):\n%s", diff)
	}
}

func TestExplore_DefaultSequence(t *testing.T) {
	a, b := &fakeElement{}, &fakeElement{}
	drv := &fakeDriver{findResult: []driver.Element{a, b}}
	seq := instruction.Default()
	r, w := explore(t, drv, seq)

	require.True(t, r.Success, "err: %v", r.Err)
	assert.Equal(t, len(seq), r.Completed)
	assert.False(t, r.HasSelection)
	// 8 WAITs plus the End, PageDown and PageUp inter-send delays.
	assert.Len(t, w.waits, 8+5+10+10)
	// ESCAPE goes once to each element regardless of runs.
	assert.Len(t, a.sent, 1)
	assert.Len(t, b.sent, 1)
	assert.Equal(t, []string{
		instruction.ZoomInScript,
		instruction.ZoomOutScript,
		instruction.ZoomResetScript,
		instruction.MemoryPressureScript,
	}, drv.scripts)
}

func TestExplore_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	drv := &fakeDriver{findResult: []driver.Element{&fakeElement{}, &fakeElement{}}}
	e, err := New(context.Background(), Config{Dialer: dialerFor(drv, nil), Metrics: m})
	require.NoError(t, err)
	defer e.Shutdown()

	noWait := WithWait(func(time.Duration) {})
	r := e.Explore(context.Background(), instruction.Sequence{
		instruction.NewWait(time.Second),
		instruction.NewFindElements(driver.ByXPath, ".//*"),
		instruction.NewSendKeys(escape),
	}, noWait)
	require.True(t, r.Success)

	drv.scriptErr = driver.Fatal("execute_script", errors.New("boom"))
	r = e.Explore(context.Background(), instruction.Sequence{instruction.NewExecuteScript("x()")}, noWait)
	require.False(t, r.Success)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Instructions.WithLabelValues("WAIT", observability.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Instructions.WithLabelValues("FIND_ELEMENTS", observability.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Instructions.WithLabelValues("SEND_KEYS", observability.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Instructions.WithLabelValues("EXECUTE_SCRIPT", observability.ResultFatal)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Explores.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Explores.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SelectedElements))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("created")))
}

func TestExplore_Spans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	drv := &fakeDriver{scriptErr: driver.Fatal("execute_script", errors.New("boom"))}
	r, _ := explore(t, drv, instruction.Sequence{
		instruction.NewWait(0),
		instruction.NewExecuteScript("x()"),
	})
	require.False(t, r.Success)

	var names []string
	for _, s := range exp.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "session.create")
	assert.Contains(t, names, "explore")
	assert.Equal(t, 2, countOf(names, "instruction"))
}

func countOf(names []string, want string) int {
	n := 0
	for _, name := range names {
		if name == want {
			n++
		}
	}
	return n
}
