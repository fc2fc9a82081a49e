package engine

import (
	"context"
	"errors"

	"github.com/dop251/goja"
)

type childHandle struct {
	worker *Worker
	cancel context.CancelFunc
}

// spawnWorker starts a child worker on its own goroutine. Events from
// the child (message, error, exit) are delivered to cb on this worker's
// loop goroutine. The parent stays alive until the child exits.
func (w *Worker) spawnWorker(call goja.FunctionCall) goja.Value {
	spec := call.Argument(0).String()
	data := call.Argument(1).String()
	cb, ok := goja.AssertFunction(call.Argument(2))
	if !ok {
		panic(w.vm.NewTypeError("spawnWorker: callback is not a function"))
	}

	deliver := func(kind string, payload goja.Value) task {
		return func() error {
			_, err := cb(goja.Undefined(), w.vm.ToValue(kind), payload)
			return err
		}
	}

	child := w.factory.newChild(w, data, func(payload string) {
		// Runs on the child's goroutine; the string crosses runtimes and
		// is converted on the parent's.
		w.post(func() error {
			return deliver("message", w.vm.ToValue(payload))()
		})
	})

	ctx, cancel := context.WithCancel(w.ctx)
	h := &childHandle{worker: child, cancel: cancel}

	w.childMu.Lock()
	if w.kids == nil {
		w.kids = make(map[uint64]*childHandle)
	}
	w.kids[child.id] = h
	w.childMu.Unlock()

	w.refs++
	w.running.Add(1)
	w.logger.Debug("spawning worker", "child", child.name, "specifier", spec)

	go func() {
		defer w.running.Done()
		err := child.Run(ctx, spec)
		terminated := ctx.Err() != nil
		cancel()

		w.childMu.Lock()
		delete(w.kids, child.id)
		w.childMu.Unlock()

		w.post(func() error {
			w.refs--
			code := 0
			var first error
			if err != nil {
				code = 1
				if !terminated || !isCancellation(err) {
					first = deliver("error", w.vm.ToValue(child.reportable(err)))()
				}
			}
			if exitErr := deliver("exit", w.vm.ToValue(code))(); first == nil {
				first = exitErr
			}
			return first
		})
	}()

	handle := w.vm.NewObject()
	_ = handle.Set("terminate", func() {
		cancel()
	})
	return handle
}

// cancelChildren cancels every running child. Safe from any goroutine.
func (w *Worker) cancelChildren() {
	w.childMu.Lock()
	defer w.childMu.Unlock()
	for _, h := range w.kids {
		h.cancel()
	}
}

// reportable renders a child's error for the parent's onerror.
func (w *Worker) reportable(err error) string {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Stack()
	}
	return err.Error()
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
