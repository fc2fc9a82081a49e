package harness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/roach88/chainharness/internal/chain"
	"github.com/roach88/chainharness/internal/config"
	"github.com/roach88/chainharness/internal/engine"
	"github.com/roach88/chainharness/internal/fault"
	"github.com/roach88/chainharness/internal/filecache"
	"github.com/roach88/chainharness/internal/hostcall"
	"github.com/roach88/chainharness/internal/session"
)

// IDGenerator produces run ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable run ids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Options configure a test run.
type Options struct {
	// Root is the project root holding Clarinet.toml.
	Root string

	// Include lists test files or directories relative to Root.
	Include []string

	FailFast bool
	Quiet    bool

	// Filter selects tests by substring, or by regexp when written /re/.
	Filter string

	// AllowEnv lets scripts read environment variables.
	AllowEnv bool

	// Optional collaborators.
	Logger           *slog.Logger
	IDs              IDGenerator
	Loader           config.Loader
	SimulatorFactory chain.Factory
}

// RunTests discovers test modules under opts.Root, runs them in one main
// worker and returns the aggregated report.
//
// With no test modules it returns an empty report without creating a
// worker. A configuration or simulator failure while creating a session
// aborts the run with that error. Test failures are reported in the
// Report, not as an error; see Report.Err.
func RunTests(ctx context.Context, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ids := opts.IDs
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	loader := opts.Loader
	if loader == nil {
		loader = config.TOMLLoader{}
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fault.Config(err, "resolve root %s", opts.Root)
	}

	modules, err := Discover(root, opts.Include)
	if err != nil {
		return nil, fault.Config(err, "discover tests")
	}

	report := newReport(ids.Generate(), modules)
	logger = logger.With("run_id", report.RunID)

	if len(modules) == 0 {
		logger.Info("no test modules found", "root", root)
		return report, nil
	}

	// Fail before starting a worker when the project cannot load at all.
	if _, _, err := loader.Load(root); err != nil {
		return nil, err
	}

	regOpts := []session.Option{session.WithLogger(logger)}
	if opts.SimulatorFactory != nil {
		regOpts = append(regOpts, session.WithSimulatorFactory(opts.SimulatorFactory))
	}
	registry := session.New(regOpts...)
	defer registry.Close()

	bridge := hostcall.New(registry, root,
		hostcall.WithLoader(loader),
		hostcall.WithLogger(logger))

	var filter *string
	if opts.Filter != "" {
		filter = &opts.Filter
	}

	cache := filecache.New()
	cache.InsertCached(RunnerSpecifier, runnerJS, filecache.MediaJavaScript)
	cache.InsertCached(EntrySpecifier, RenderEntry(modules, RunnerOptions{
		FailFast: opts.FailFast,
		Quiet:    opts.Quiet,
		Filter:   filter,
	}), filecache.MediaJavaScript)

	factory := engine.NewFactory(cache, bridge,
		engine.WithBaseDir(root),
		engine.WithLogger(logger),
		engine.WithPermissions(engine.Permissions{
			Read: []string{root},
			Env:  opts.AllowEnv,
		}))

	col := &collector{report: report}
	w := factory.NewWorker("main", engine.WorkerOptions{OnReport: col.add})
	col.format = w.Formatter().FormatStack

	logger.Info("running tests", "modules", len(modules))
	runErr := w.Run(ctx, EntrySpecifier)

	for _, err := range col.bad {
		logger.Warn("ignored report", "error", err)
	}

	if col.abort != nil {
		return report, abortError(col.abort)
	}
	if runErr != nil {
		return report, fmt.Errorf("run tests: %w", runErr)
	}

	logger.Info("tests finished",
		"passed", report.Passed,
		"failed", report.Failed,
		"ignored", report.Ignored,
		"filtered", report.Filtered)

	return report, nil
}

func abortError(res *Result) error {
	if res.Error == nil {
		return &fault.Error{Code: fault.CodeUnknown, Message: "run aborted in " + res.Name}
	}
	return &fault.Error{
		Code:    fault.Code(res.Error.Code),
		Message: fmt.Sprintf("%s (while setting up %q)", res.Error.Message, res.Name),
	}
}
