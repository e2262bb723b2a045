/*
Package sandbox provides the JavaScript global scope lecture content runs in.

# Overview

Each lecture view gets one Runtime: a goja VM, the Loop goroutine that owns
it, the Host that arms timers and listeners for it, and the Container holding
the injected markup. Content sees a small browser surface:

  - window, document, console, performance.now
  - setTimeout/setInterval/requestAnimationFrame and their cancel functions
  - addEventListener/removeEventListener on window, document and elements
  - document.getElementById/querySelector/querySelectorAll element proxies
  - lecture.contentId and lecture.onCleanup(fn)
  - window.timeoutsRef and window.intervalsRef when legacy mirrors are on

# Threading

goja is not goroutine-safe. Every VM access is a job on the runtime's Loop.
Timer expiry only enqueues a job, so callbacks never race a running block.
Execute, Eval, Dispatch and ClearMirrors block until their job has run and
must not be called from the loop itself.

# Resource accounting

The Host offers every timer, interval, frame and listener to a Recorder
before arming it. A Recorder that refuses (for example after teardown has
begun) makes the call a no-op that returns handle 0 to script.

# Error isolation

Blocks and callbacks run under a guard: thrown exceptions, Go panics and
timeouts come back as errors and never unwind the loop.

	rt, err := sandbox.New(cfg, container, sandbox.Bindings{Recorder: tracker})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Execute(ctx, sandbox.Block{Index: 0, Name: "inline-0", Source: src}); err != nil {
		logger.Warn("Block failed", zap.Error(err))
	}
*/
package sandbox
