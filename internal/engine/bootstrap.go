package engine

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

//go:embed prelude.js
var preludeJS string

const preludeSpecifier = HarnessScheme + "prelude"

// bootstrap creates the runtime and installs the loader, host calls and
// globals. No module runs before it returns.
func (w *Worker) bootstrap() error {
	w.vm = goja.New()
	w.vm.SetPromiseRejectionTracker(w.trackRejection)
	w.loader = newModuleLoader(w.vm, w.factory.cache, w.perms, w.factory.baseDir, w.formatter)

	ast, err := goja.Parse(preludeSpecifier, preludeJS, parser.WithDisableSourceMaps)
	if err != nil {
		return fmt.Errorf("parse prelude: %w", err)
	}
	prg, err := goja.CompileAST(ast, true)
	if err != nil {
		return fmt.Errorf("compile prelude: %w", err)
	}
	v, err := w.vm.RunProgram(prg)
	if err != nil {
		return fmt.Errorf("run prelude: %w", err)
	}
	install, ok := goja.AssertFunction(v)
	if !ok {
		return fmt.Errorf("prelude did not evaluate to a function")
	}

	dispatch, err := install(goja.Undefined(), w.vm.GlobalObject(), w.natives())
	if err != nil {
		return fmt.Errorf("install globals: %w", err)
	}
	w.dispatch, ok = goja.AssertFunction(dispatch)
	if !ok {
		return fmt.Errorf("prelude returned no dispatch function")
	}

	w.transition(StateBootstrapped)
	return nil
}

// natives builds the object the prelude turns into globals.
func (w *Worker) natives() *goja.Object {
	vm := w.vm
	n := vm.NewObject()

	ops := vm.NewObject()
	if b := w.factory.bridge; b != nil {
		for _, kind := range b.Kinds() {
			_ = ops.Set(kind, w.hostCall(kind))
		}
	}

	set := func(name string, v any) {
		_ = n.Set(name, v)
	}
	set("name", w.name)
	set("ops", ops)
	set("isChild", w.opts.onMessage != nil)
	set("workerData", w.opts.WorkerData)

	set("log", func(level, msg string) {
		switch level {
		case "debug":
			w.logger.Debug(msg, "source", "console")
		case "warn":
			w.logger.Warn(msg, "source", "console")
		case "error":
			w.logger.Error(msg, "source", "console")
		default:
			w.logger.Info(msg, "source", "console")
		}
	})

	set("report", func(payload string) {
		if w.opts.OnReport != nil {
			w.opts.OnReport(payload)
		}
	})

	set("readTextFile", func(call goja.FunctionCall) goja.Value {
		path := call.Argument(0).String()
		if !filepath.IsAbs(path) {
			path = filepath.Join(w.factory.baseDir, path)
		}
		if err := w.perms.CheckRead(path); err != nil {
			panic(vm.NewGoError(err))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(string(data))
	})

	set("env", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if err := w.perms.CheckEnv(name); err != nil {
			panic(vm.NewGoError(err))
		}
		v, ok := os.LookupEnv(name)
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(v)
	})

	set("setTimeout", w.setTimeout)
	set("clearTimeout", w.clearTimeout)
	set("spawnWorker", w.spawnWorker)

	if w.opts.onMessage != nil {
		onMessage := w.opts.onMessage
		set("postMessage", func(payload string) {
			onMessage(payload)
		})
	}

	return n
}

// hostCall wraps one bridge call. The bridge always returns an envelope,
// so nothing thrown here originates in native code.
func (w *Worker) hostCall(kind string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var payload []byte
		switch arg := call.Argument(0); {
		case goja.IsUndefined(arg) || goja.IsNull(arg):
			payload = []byte("{}")
		default:
			if s, ok := arg.Export().(string); ok {
				payload = []byte(s)
			} else {
				b, err := json.Marshal(arg.Export())
				if err != nil {
					panic(w.vm.NewTypeError("%s: arguments are not serializable: %v", kind, err))
				}
				payload = b
			}
		}
		return w.vm.ToValue(string(w.factory.bridge.Dispatch(w.ctx, kind, payload)))
	}
}

func (w *Worker) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(w.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	ms := call.Argument(1).ToInteger()
	if ms < 0 {
		ms = 0
	}

	w.nextTimer++
	id := w.nextTimer
	w.refs++

	t := &timer{fn: fn}
	w.timers[id] = t
	t.t = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		w.post(func() error {
			if _, live := w.timers[id]; !live {
				return nil
			}
			delete(w.timers, id)
			w.refs--
			_, err := t.fn(goja.Undefined())
			return err
		})
	})

	return w.vm.ToValue(id)
}

func (w *Worker) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := w.timers[id]; ok {
		t.t.Stop()
		delete(w.timers, id)
		w.refs--
	}
	return goja.Undefined()
}
