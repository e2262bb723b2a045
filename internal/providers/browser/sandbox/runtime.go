package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ErrTimeout interrupts scripts that exceed Config.Timeout
var ErrTimeout = errors.New("script execution timed out")

// ErrNoTarget is returned when a dispatch selector matches nothing
var ErrNoTarget = errors.New("event target not found")

// Runtime is one lecture's JavaScript global scope. The VM is only touched
// on the runtime's loop; exported methods may be called from any goroutine
// except the loop itself.
type Runtime struct {
	vm        *goja.Runtime
	loop      *Loop
	host      *Host
	container *Container
	config    Config
	bind      Bindings
	logger    *zap.Logger

	// loop goroutine only
	origin       int
	document     *goja.Object
	elements     map[*html.Node]*goja.Object
	timeoutsRef  *goja.Object
	intervalsRef *goja.Object

	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates a runtime whose document is backed by container
func New(config Config, container *Container, bind Bindings) (*Runtime, error) {
	if bind.Logger == nil {
		bind.Logger = zap.NewNop()
	}
	if container == nil {
		container = NewContainer()
	}

	loop := NewLoop()
	r := &Runtime{
		vm:        goja.New(),
		loop:      loop,
		host:      NewHost(loop, bind.Recorder, config.FrameInterval),
		container: container,
		config:    config,
		bind:      bind,
		logger:    bind.Logger,
		origin:    -1,
		elements:  make(map[*html.Node]*goja.Object),
	}
	r.vm.SetMaxCallStackSize(1024)

	if err := r.setupGlobals(); err != nil {
		loop.Close()
		return nil, fmt.Errorf("setup globals: %w", err)
	}
	return r, nil
}

// Execute runs one code block in the shared global scope. Script errors,
// panics and timeouts are returned, never propagated.
func (r *Runtime) Execute(ctx context.Context, block Block) error {
	var runErr error
	err := r.loop.Do(ctx, func() {
		runErr = r.run(ctx, block.Index, func() error {
			_, err := r.vm.RunScript(block.Name, block.Source)
			return err
		})
	})
	if err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("block %d (%s): %w", block.Index, block.Name, runErr)
	}
	return nil
}

// Eval evaluates an expression and exports its value
func (r *Runtime) Eval(ctx context.Context, expr string) (any, error) {
	var out any
	var runErr error
	err := r.loop.Do(ctx, func() {
		runErr = r.run(ctx, -1, func() error {
			v, err := r.vm.RunString(expr)
			if err == nil {
				out = exportValue(v)
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, runErr
}

// Dispatch fires event at target, which is "window", "document" or a CSS
// selector resolved against the container. It returns how many listeners ran.
func (r *Runtime) Dispatch(ctx context.Context, target, event string, detail any) (int, error) {
	var n int
	var dispatchErr error
	err := r.loop.Do(ctx, func() {
		source, this, err := r.resolveTarget(target)
		if err != nil {
			dispatchErr = err
			return
		}
		n = r.host.Dispatch(source, event, eventPayload{typ: event, target: this, detail: detail})
	})
	if err != nil {
		return 0, err
	}
	return n, dispatchErr
}

// Cancel stops a scheduled resource
func (r *Runtime) Cancel(ref Handle) bool {
	return r.host.Cancel(ref)
}

// Release unsubscribes the listener registered as {source, event, ref}
func (r *Runtime) Release(source, event string, ref Handle) bool {
	return r.host.Release(source, event, ref)
}

// Pending reports armed scheduled resources and subscribed listeners
func (r *Runtime) Pending() (scheduled, listeners int) {
	return r.host.Pending()
}

// ClearMirrors empties window.timeoutsRef and window.intervalsRef
func (r *Runtime) ClearMirrors(ctx context.Context) error {
	if !r.config.LegacyMirrors {
		return nil
	}
	return r.loop.Do(ctx, func() {
		for _, arr := range []*goja.Object{r.timeoutsRef, r.intervalsRef} {
			if err := arr.Set("length", 0); err != nil {
				r.logger.Warn("Failed to clear mirror", zap.Error(err))
			}
		}
	})
}

// Console returns a copy of the captured console output
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry(nil), r.console...)
}

// Container returns the document the runtime mutates
func (r *Runtime) Container() *Container {
	return r.container
}

// Close aborts any running script, disarms every host resource and stops
// the loop
func (r *Runtime) Close() error {
	r.vm.Interrupt("runtime closed")
	r.host.Close()
	r.loop.Close()
	return nil
}

// run executes fn with origin as the current block, bounded by the
// configured timeout and ctx. Panics are converted to errors.
func (r *Runtime) run(ctx context.Context, origin int, fn func() error) (err error) {
	prev := r.origin
	r.origin = origin

	var mu sync.Mutex
	finished := false
	interrupt := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		if !finished {
			r.vm.Interrupt(v)
		}
	}

	var watchdog *time.Timer
	if r.config.Timeout > 0 {
		watchdog = time.AfterFunc(r.config.Timeout, func() { interrupt(ErrTimeout) })
	}
	stop := context.AfterFunc(ctx, func() { interrupt(ctx.Err()) })

	defer func() {
		mu.Lock()
		finished = true
		mu.Unlock()
		if watchdog != nil {
			watchdog.Stop()
		}
		stop()
		r.vm.ClearInterrupt()
		r.origin = prev
	}()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	err = fn()
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
	}
	return err
}

// invoke runs a host callback under the same guard as a block. Failures are
// logged and reported, never propagated into the loop.
func (r *Runtime) invoke(origin int, label string, fn func() error) {
	if err := r.run(context.Background(), origin, fn); err != nil {
		r.logger.Warn("Callback failed",
			zap.String("callback", label),
			zap.Int("origin", origin),
			zap.Error(err))
		if r.bind.OnError != nil {
			r.bind.OnError(origin, fmt.Errorf("%s callback: %w", label, err))
		}
	}
}

func (r *Runtime) resolveTarget(target string) (string, goja.Value, error) {
	switch target {
	case "", TargetWindow:
		return TargetWindow, r.vm.GlobalObject(), nil
	case TargetDocument:
		return TargetDocument, r.document, nil
	}

	nodes, err := r.container.Query(target)
	if err != nil {
		return "", nil, err
	}
	if len(nodes) == 0 {
		return "", nil, fmt.Errorf("%w: %s", ErrNoTarget, target)
	}
	return elementSource(nodes[0]), r.element(nodes[0]), nil
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func elementSource(n *html.Node) string {
	return fmt.Sprintf("element:%p", n)
}

func formatArgs(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = arg.String()
	}
	return strings.Join(parts, " ")
}
