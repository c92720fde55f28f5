package instruction

import (
	"time"

	"pageexplorer/internal/driver"
)

// Scripts used by the default sequence. Each swallows its own exceptions so
// a page without document.body or a non-fuzzing build does not abort a run.
const (
	ZoomInScript         = "try { document.body.style.zoom='150%' } catch(e) { }"
	ZoomOutScript        = "try { document.body.style.zoom='33%' } catch(e) { }"
	ZoomResetScript      = "try { document.body.style.zoom='100%' } catch(e) { }"
	MemoryPressureScript = "try { FuzzingFunctions.memoryPressure() } catch(e) { }"
	WindowCloseScript    = "try { window.close() } catch(e) { }"
)

// Default returns the curated exploration sequence: load more content,
// scroll to trigger animations, select text, tab across elements, zoom,
// send escape to every element and finally request memory pressure.
// A fresh sequence is built on each call.
func Default() Sequence {
	keys := func(k Key) []Key { return []Key{k} }
	return Sequence{
		// wait for the page to load more content
		NewWait(10 * time.Second),
		// find the end of the page / load more content
		NewSendKeys(keys(driver.KeyEnd), Runs(5), Delay(100*time.Millisecond)),
		NewWait(time.Second),
		// attempt to trigger animations
		NewSendKeys(keys(driver.KeyHome)),
		NewSendKeys(keys(driver.KeyPageDown), Runs(10), Delay(200*time.Millisecond)),
		NewSendKeys(keys(driver.KeyPageUp), Runs(10), Delay(100*time.Millisecond)),
		// select some text
		NewSendKeys(keys(driver.KeyHome)),
		NewKeyDown(driver.KeyShift),
		NewSendKeys(keys(driver.KeyPageDown)),
		NewKeyUp(driver.KeyShift),
		NewSendKeys(keys(driver.KeyHome)),
		NewWait(time.Second),
		// tab across elements
		NewSendKeys(keys(driver.KeyTab), Runs(25)),
		NewWait(time.Second),
		// zoom in/out
		NewSendKeys(keys(driver.KeyHome)),
		NewExecuteScript(ZoomInScript),
		NewWait(time.Second),
		NewExecuteScript(ZoomOutScript),
		NewWait(time.Second),
		NewExecuteScript(ZoomResetScript),
		NewWait(time.Second),
		// find all elements and send ESC
		NewFindElements(driver.ByXPath, ".//*"),
		NewSendKeys(keys(driver.KeyEscape), Runs(25)),
		NewClearElements(),
		// call GC (requires fuzzing builds)
		NewExecuteScript(MemoryPressureScript),
		NewWait(time.Second),
	}
}
