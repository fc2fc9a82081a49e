package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/roach88/chainharness/internal/filecache"
)

// HostBridge is the native call surface registered in every worker.
// Dispatch must not panic and must return a JSON envelope.
type HostBridge interface {
	Kinds() []string
	Dispatch(ctx context.Context, kind string, payload []byte) []byte
}

// Factory builds workers that share one file cache, one host bridge and
// one default permission set. Child workers spawned from script code are
// built by the same factory, so they receive the same bootstrap.
type Factory struct {
	cache   *filecache.Cache
	bridge  HostBridge
	perms   Permissions
	baseDir string
	logger  *slog.Logger

	ids atomic.Uint64
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithPermissions sets the default permissions of top-level workers.
func WithPermissions(p Permissions) FactoryOption {
	return func(f *Factory) {
		f.perms = p
	}
}

// WithBaseDir sets the directory synthetic modules resolve relative
// specifiers against. Defaults to the working directory.
func WithBaseDir(dir string) FactoryOption {
	return func(f *Factory) {
		f.baseDir = dir
	}
}

// WithLogger sets the logger used for worker diagnostics and console
// output.
func WithLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = l
	}
}

// NewFactory creates a factory. bridge may be nil, in which case
// Harness.ops is empty.
func NewFactory(cache *filecache.Cache, bridge HostBridge, opts ...FactoryOption) *Factory {
	f := &Factory{
		cache:  cache,
		bridge: bridge,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.baseDir == "" {
		if wd, err := os.Getwd(); err == nil {
			f.baseDir = wd
		}
	}
	return f
}

// Cache returns the shared file cache.
func (f *Factory) Cache() *filecache.Cache {
	return f.cache
}

// WorkerOptions configure one worker.
type WorkerOptions struct {
	// Permissions overrides the factory default when non-nil.
	Permissions *Permissions

	// OnReport receives every Harness.report payload, on the worker's
	// loop goroutine.
	OnReport func(payload string)

	// OnTransition observes lifecycle transitions.
	OnTransition func(State)

	// WorkerData is a JSON document exposed to a child as workerData.
	WorkerData string

	// onMessage receives a child's postMessage payloads. Set only for
	// children.
	onMessage func(payload string)
}

// NewWorker creates a worker in the Created state.
func (f *Factory) NewWorker(name string, opts WorkerOptions) *Worker {
	perms := f.perms
	if opts.Permissions != nil {
		perms = *opts.Permissions
	}
	perms = perms.resolve(f.baseDir)

	id := f.ids.Add(1)
	w := &Worker{
		id:      id,
		name:    name,
		factory: f,
		opts:    opts,
		perms:   perms,
		queue:   newTaskQueue(),
		timers:  make(map[int64]*timer),
		logger:  f.logger.With("worker", name, "worker_id", id),
	}
	w.formatter = newFormatter(f.cache, perms)
	w.history = []State{StateCreated}
	return w
}

// newChild builds a worker spawned by parent. Children inherit the
// parent's resolved permissions.
func (f *Factory) newChild(parent *Worker, workerData string, onMessage func(string)) *Worker {
	perms := parent.perms
	return f.NewWorker(fmt.Sprintf("%s/%d", parent.name, parent.nextChild()), WorkerOptions{
		Permissions: &perms,
		OnReport:    parent.opts.OnReport,
		WorkerData:  workerData,
		onMessage:   onMessage,
	})
}
