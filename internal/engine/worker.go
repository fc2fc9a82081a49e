package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Worker is one execution context: its own goja runtime, module loader,
// permission set, error formatter and event loop.
//
// All script execution happens on the goroutine that calls Run. Timers
// and child workers post tasks back to that goroutine through the queue.
type Worker struct {
	id      uint64
	name    string
	factory *Factory
	opts    WorkerOptions
	perms   Permissions
	logger  *slog.Logger

	mu      sync.Mutex // guards state and history
	state   State
	history []State

	vm        *goja.Runtime
	loader    *moduleLoader
	formatter *Formatter
	queue     *taskQueue
	dispatch  goja.Callable
	ctx       context.Context

	// Loop goroutine only.
	refs      int // outstanding timers and children
	timers    map[int64]*timer
	nextTimer int64
	children  int
	rejected  []*goja.Promise

	childMu sync.Mutex
	kids    map[uint64]*childHandle
	running sync.WaitGroup // child goroutines
}

type timer struct {
	t  *time.Timer
	fn goja.Callable
}

// Name returns the worker's name.
func (w *Worker) Name() string {
	return w.name
}

// Formatter returns the worker's source-map error formatter.
func (w *Worker) Formatter() *Formatter {
	return w.formatter
}

// Run bootstraps the worker, executes the entry module and runs the
// load and unload phases, draining pending work after each.
//
// Every exit path dispatches "load" then "unload" exactly once and ends
// in Terminated. The first error is returned; script exceptions are
// source-mapped *ScriptError values. Cancelling ctx interrupts script
// code and skips the drains, but still dispatches the remaining events.
func (w *Worker) Run(ctx context.Context, specifier string) error {
	if w.State() != StateCreated {
		return ErrAlreadyRun
	}
	defer w.terminate()

	w.ctx = ctx
	if err := w.bootstrap(); err != nil {
		return fmt.Errorf("bootstrap %s: %w", w.name, err)
	}

	done := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			w.vm.Interrupt(ctx.Err())
			w.cancelChildren()
		case <-done:
		}
	}()
	var disarmed bool
	disarm := func() {
		if disarmed {
			return
		}
		disarmed = true
		close(done)
		watcher.Wait()
		w.vm.ClearInterrupt()
	}
	defer disarm()

	var first error
	record := func(err error) {
		if err == nil {
			return
		}
		err = w.formatError(err)
		if first == nil {
			first = err
		} else {
			w.logger.Debug("suppressed worker error", "error", err)
		}
	}

	// Once cancelled, the rest of the lifecycle runs uninterrupted but
	// without waiting for pending work.
	settle := func() bool {
		if ctx.Err() == nil {
			return true
		}
		disarm()
		return false
	}

	w.transition(StateExecuting)
	_, err := w.loader.require(specifier, "")
	record(err)

	for _, event := range []struct {
		state State
		name  string
	}{
		{StateLoadDispatch, "load"},
		{StateUnloadDispatch, "unload"},
	} {
		settle()
		w.transition(event.state)
		record(w.dispatchEvent(event.name))

		w.transition(StateDraining)
		if settle() {
			record(w.drain(ctx))
		}
	}

	return first
}

// dispatchEvent calls the prelude's dispatch function for type.
func (w *Worker) dispatchEvent(eventType string) error {
	_, err := w.dispatch(goja.Undefined(), w.vm.ToValue(eventType))
	return err
}

// drain runs queued tasks until the queue is empty and no timers or
// children are outstanding. Task errors are recorded; draining continues
// so cleanup work still runs. The first error is returned.
func (w *Worker) drain(ctx context.Context) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	for {
		if t, ok := w.queue.TryDequeue(); ok {
			keep(t())
			continue
		}

		keep(w.checkRejections())

		if w.refs == 0 {
			return first
		}

		select {
		case <-ctx.Done():
			keep(ctx.Err())
			return first
		case <-w.queue.Wait():
		}
	}
}

// checkRejections turns promises rejected without a handler into an
// error.
func (w *Worker) checkRejections() error {
	if len(w.rejected) == 0 {
		return nil
	}
	p := w.rejected[0]
	w.rejected = nil

	se := w.formatter.FormatValue(w.name, p.Result())
	se.Message = "Uncaught (in promise) " + se.Message
	return se
}

func (w *Worker) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		w.rejected = append(w.rejected, p)
	case goja.PromiseRejectionHandle:
		for i, r := range w.rejected {
			if r == p {
				w.rejected = append(w.rejected[:i], w.rejected[i+1:]...)
				break
			}
		}
	}
}

// formatError converts engine errors into their reported form.
func (w *Worker) formatError(err error) error {
	var se *ScriptError
	if errors.As(err, &se) {
		return err
	}

	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if cause, ok := ie.Value().(error); ok {
			return fmt.Errorf("worker %s interrupted: %w", w.name, cause)
		}
		return fmt.Errorf("worker %s interrupted: %v", w.name, ie.Value())
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		return w.formatter.FormatException(w.name, exc)
	}
	return err
}

// terminate stops timers, cancels children and waits for them to exit,
// then closes the queue and enters Terminated.
func (w *Worker) terminate() {
	for id, t := range w.timers {
		t.t.Stop()
		delete(w.timers, id)
	}
	w.cancelChildren()
	w.running.Wait()
	w.queue.Close()
	w.transition(StateTerminated)
}

// post enqueues fn to run on the loop goroutine.
func (w *Worker) post(fn task) bool {
	return w.queue.Enqueue(fn)
}

func (w *Worker) nextChild() int {
	w.children++
	return w.children
}
