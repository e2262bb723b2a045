package sandbox

import (
	"context"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

type eventPayload struct {
	typ    string
	target goja.Value
	detail any
}

// setupGlobals installs the browser surface lecture content relies on
func (r *Runtime) setupGlobals() error {
	vm := r.vm
	global := vm.GlobalObject()

	// no module system or process access
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if err := vm.Set("window", global); err != nil {
		return err
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "debug", "warn", "error"} {
		console.Set(level, r.makeConsoleFunc(level))
	}
	vm.Set("console", console)

	vm.Set("setTimeout", r.scheduleFunc(KindTimer))
	vm.Set("setInterval", r.scheduleFunc(KindInterval))
	vm.Set("clearTimeout", r.cancelFunc)
	vm.Set("clearInterval", r.cancelFunc)
	vm.Set("requestAnimationFrame", r.requestFrame)
	vm.Set("cancelAnimationFrame", r.cancelFunc)

	performance := vm.NewObject()
	performance.Set("now", func(goja.FunctionCall) goja.Value { return vm.ToValue(r.host.Now()) })
	vm.Set("performance", performance)

	global.Set("addEventListener", r.addListenerFunc(TargetWindow, global))
	global.Set("removeEventListener", r.removeListenerFunc(TargetWindow))

	r.document = r.newDocument()
	vm.Set("document", r.document)

	lecture := vm.NewObject()
	lecture.Set("contentId", r.config.ContentID)
	lecture.Set("onCleanup", r.onCleanup)
	vm.Set("lecture", lecture)

	if r.config.LegacyMirrors {
		r.timeoutsRef = vm.NewArray()
		r.intervalsRef = vm.NewArray()
		// write-once: content may read the arrays but not rebind them
		if err := global.DefineDataProperty("timeoutsRef", r.timeoutsRef,
			goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return err
		}
		if err := global.DefineDataProperty("intervalsRef", r.intervalsRef,
			goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return err
		}
	}
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		msg := formatArgs(call.Arguments)

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: msg,
			Block:   r.origin,
			Time:    time.Now(),
		})
		if limit := r.config.ConsoleLimit; limit > 0 && len(r.console) > limit {
			r.console = append([]LogEntry(nil), r.console[len(r.console)-limit:]...)
		}
		r.consoleMu.Unlock()

		fields := []zap.Field{zap.String("level", level), zap.Int("block", r.origin), zap.String("message", msg)}
		if level == "error" || level == "warn" {
			r.logger.Warn("Content console", fields...)
		} else {
			r.logger.Debug("Content console", fields...)
		}
		return goja.Undefined()
	}
}

func (r *Runtime) scheduleFunc(kind Kind) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		cb := r.callbackOf(call.Argument(0), call.Arguments)
		if cb == nil {
			return r.vm.ToValue(0)
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		origin := r.origin

		run := func() { r.invoke(origin, kind.String(), cb) }
		var ref Handle
		if kind == KindInterval {
			ref = r.host.SetInterval(origin, delay, run)
		} else {
			ref = r.host.SetTimeout(origin, delay, run)
		}

		if ref != 0 && r.config.LegacyMirrors {
			mirror := r.timeoutsRef
			if kind == KindInterval {
				mirror = r.intervalsRef
			}
			r.pushMirror(mirror, ref)
		}
		return r.vm.ToValue(uint64(ref))
	}
}

// callbackOf turns a timer handler into a callback. String handlers are
// evaluated as code, matching browser behaviour.
func (r *Runtime) callbackOf(handler goja.Value, args []goja.Value) func() error {
	if fn, ok := goja.AssertFunction(handler); ok {
		var extra []goja.Value
		if len(args) > 2 {
			extra = append(extra, args[2:]...)
		}
		return func() error {
			_, err := fn(goja.Undefined(), extra...)
			return err
		}
	}
	if handler == nil || goja.IsUndefined(handler) || goja.IsNull(handler) {
		return nil
	}
	code := handler.String()
	return func() error {
		_, err := r.vm.RunString(code)
		return err
	}
}

func (r *Runtime) cancelFunc(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return goja.Undefined()
	}
	if ref := arg.ToInteger(); ref > 0 {
		r.host.Cancel(Handle(ref))
	}
	return goja.Undefined()
}

func (r *Runtime) requestFrame(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("requestAnimationFrame: argument is not a function"))
	}
	origin := r.origin
	ref := r.host.RequestFrame(origin, func(ts float64) {
		r.invoke(origin, KindAnimationFrame.String(), func() error {
			_, err := fn(goja.Undefined(), r.vm.ToValue(ts))
			return err
		})
	})
	return r.vm.ToValue(uint64(ref))
}

func (r *Runtime) pushMirror(mirror *goja.Object, ref Handle) {
	push, ok := goja.AssertFunction(mirror.Get("push"))
	if !ok {
		return
	}
	if _, err := push(mirror, r.vm.ToValue(uint64(ref))); err != nil {
		r.logger.Debug("Mirror push failed", zap.Error(err))
	}
}

func (r *Runtime) addListenerFunc(source string, this goja.Value) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		handler := call.Argument(1)
		fn, ok := goja.AssertFunction(handler)
		if !ok {
			return goja.Undefined()
		}
		key := handler.ToObject(r.vm)
		once := false
		if opts, isObj := call.Argument(2).(*goja.Object); isObj {
			once = opts.Get("once") != nil && opts.Get("once").ToBoolean()
		}

		origin := r.origin
		r.host.AddListener(origin, source, event, key, func(payload any) {
			if once {
				r.host.RemoveListener(source, event, key)
			}
			r.invoke(origin, "listener:"+event, func() error {
				_, err := fn(this, r.eventObject(payload))
				return err
			})
		})
		return goja.Undefined()
	}
}

func (r *Runtime) removeListenerFunc(source string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		handler := call.Argument(1)
		if _, ok := goja.AssertFunction(handler); ok {
			r.host.RemoveListener(source, call.Argument(0).String(), handler.ToObject(r.vm))
		}
		return goja.Undefined()
	}
}

func (r *Runtime) eventObject(payload any) goja.Value {
	p, _ := payload.(eventPayload)
	evt := r.vm.NewObject()
	evt.Set("type", p.typ)
	evt.Set("target", p.target)
	evt.Set("currentTarget", p.target)
	evt.Set("detail", p.detail)
	evt.Set("timeStamp", r.host.Now())
	evt.Set("defaultPrevented", false)
	evt.Set("preventDefault", func(goja.FunctionCall) goja.Value {
		evt.Set("defaultPrevented", true)
		return goja.Undefined()
	})
	evt.Set("stopPropagation", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return evt
}

// onCleanup implements lecture.onCleanup(fn). A later registration replaces
// an earlier one.
func (r *Runtime) onCleanup(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("lecture.onCleanup: argument is not a function"))
	}
	if r.bind.OnCleanup == nil {
		return goja.Undefined()
	}

	origin := r.origin
	r.bind.OnCleanup(func() error {
		var runErr error
		err := r.loop.Do(context.Background(), func() {
			runErr = r.run(context.Background(), origin, func() error {
				_, err := fn(goja.Undefined())
				return err
			})
		})
		if err != nil {
			return err
		}
		return runErr
	})
	return goja.Undefined()
}

func (r *Runtime) newDocument() *goja.Object {
	vm := r.vm
	doc := vm.NewObject()
	// content runs after the host page has loaded
	doc.Set("readyState", "complete")
	doc.Set("addEventListener", r.addListenerFunc(TargetDocument, doc))
	doc.Set("removeEventListener", r.removeListenerFunc(TargetDocument))

	doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		id := strings.ReplaceAll(call.Argument(0).String(), `"`, `\"`)
		return r.queryOne(`[id="` + id + `"]`)
	})
	doc.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return r.queryOne(call.Argument(0).String())
	})
	doc.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		nodes, err := r.container.Query(call.Argument(0).String())
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		items := make([]any, len(nodes))
		for i, n := range nodes {
			items[i] = r.element(n)
		}
		return vm.NewArray(items...)
	})
	return doc
}

func (r *Runtime) queryOne(selector string) goja.Value {
	nodes, err := r.container.Query(selector)
	if err != nil {
		panic(r.vm.NewTypeError(err.Error()))
	}
	if len(nodes) == 0 {
		return goja.Null()
	}
	return r.element(nodes[0])
}

// element returns the proxy for n, creating it on first use so repeated
// lookups yield the same object
func (r *Runtime) element(n *html.Node) *goja.Object {
	if obj, ok := r.elements[n]; ok {
		return obj
	}
	el := &element{r: r, node: n, expando: make(map[string]goja.Value)}
	obj := r.vm.NewDynamicObject(el)
	el.self = obj
	r.elements[n] = obj
	return obj
}
