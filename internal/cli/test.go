package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chainharness/internal/fault"
	"github.com/roach88/chainharness/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Root     string // project root holding Clarinet.toml
	FailFast bool
	Quiet    bool
	Filter   string
	AllowEnv bool

	// run is replaced in tests.
	run func(cmd *cobra.Command, opts harness.Options) (*harness.Report, error)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	return newTestCommand(&TestOptions{RootOptions: rootOpts})
}

func newTestCommand(opts *TestOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test [path...]",
		Short: "Run contract tests",
		Long: `Run JavaScript contract tests against a fresh chain simulator.

Each path is a test module or a directory searched for *_test.js and
*.test.js files. With no paths, <root>/tests is searched.

Exit codes:
  0 - All tests passed
  1 - One or more tests failed, or test code threw outside a test
  2 - Command error (bad flags, missing or malformed project, etc.)

Examples:
  chainharness test
  chainharness test --root ./my-project tests/counter_test.js
  chainharness test --filter "/^counter/" --fail-fast
  chainharness test --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestCommand(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Root, "root", ".", "project root holding Clarinet.toml")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop after the first failed test")
	cmd.Flags().BoolVar(&opts.Quiet, "quiet", false, "only print failures and the summary")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "run tests whose name contains this, or matches /regexp/")
	cmd.Flags().BoolVar(&opts.AllowEnv, "allow-env", false, "allow test code to read environment variables")

	return cmd
}

func runTestCommand(cmd *cobra.Command, opts *TestOptions, args []string) error {
	include := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return WrapExitError(ExitCommandError, "resolve path "+arg, err)
		}
		include = append(include, abs)
	}

	hopts := harness.Options{
		Root:     opts.Root,
		Include:  include,
		FailFast: opts.FailFast,
		Quiet:    opts.Quiet,
		Filter:   opts.Filter,
		AllowEnv: opts.AllowEnv,
		Logger:   opts.Logger,
	}

	run := opts.run
	if run == nil {
		run = func(cmd *cobra.Command, o harness.Options) (*harness.Report, error) {
			return harness.RunTests(cmd.Context(), o)
		}
	}

	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	out.VerboseLog("root: %s, include: %v", opts.Root, include)

	report, err := run(cmd, hopts)
	if err != nil {
		return reportRunError(out, report, err)
	}

	if out.structured() {
		status := "ok"
		if report.Failed > 0 {
			status = "error"
		}
		if werr := out.Respond(status, report); werr != nil {
			return WrapExitError(ExitCommandError, "write report", werr)
		}
	} else {
		writeTextReport(out.Writer, report, opts.Quiet)
	}

	if ferr := report.Err(); ferr != nil {
		return WrapExitError(ExitFailure, "test run failed", ferr)
	}
	return nil
}

// reportRunError prints a run that ended in error and maps it to an
// exit code. An uncaught script error is a test failure; everything else
// is a command error.
func reportRunError(out *OutputFormatter, report *harness.Report, err error) error {
	code := fault.CodeOf(err)
	exit := ExitCommandError
	if code == fault.CodeScript {
		exit = ExitFailure
	}

	if out.structured() {
		var details any
		if report != nil {
			details = report
		}
		if werr := out.Error(string(code), err.Error(), details); werr != nil {
			return WrapExitError(ExitCommandError, "write report", werr)
		}
	} else if report != nil && len(report.Results) > 0 {
		writeTextReport(out.Writer, report, true)
	}

	return WrapExitError(exit, "test run aborted", err)
}

// writeTextReport prints one line per test, then failure details and a
// summary. quiet hides passed tests.
func writeTextReport(w io.Writer, r *harness.Report, quiet bool) {
	if len(r.Modules) == 0 {
		fmt.Fprintln(w, "No test modules found.")
		return
	}

	ran := len(r.Results) - r.Filtered
	fmt.Fprintf(w, "running %d %s from %d %s\n",
		ran, plural(ran, "test", "tests"),
		len(r.Modules), plural(len(r.Modules), "module", "modules"))

	var failed []harness.Result
	for _, res := range r.Results {
		switch res.Status {
		case harness.StatusPassed:
			if !quiet {
				fmt.Fprintf(w, "ok       %s\n", res.Name)
			}
		case harness.StatusFailed:
			fmt.Fprintf(w, "FAILED   %s\n", res.Name)
			failed = append(failed, res)
		case harness.StatusIgnored:
			if !quiet {
				fmt.Fprintf(w, "ignored  %s\n", res.Name)
			}
		}
	}

	if len(failed) > 0 {
		fmt.Fprintln(w, "\nfailures:")
		for _, res := range failed {
			fmt.Fprintf(w, "\n%s\n", res.Name)
			if res.Error == nil {
				continue
			}
			msg := res.Error.Message
			if res.Error.Name != "" {
				msg = res.Error.Name + ": " + msg
			}
			fmt.Fprintf(w, "  %s\n", msg)
			if stack := stackFrames(res.Error.Stack); stack != "" {
				fmt.Fprintln(w, indent(stack, "  "))
			}
		}
	}

	verdict := "ok"
	if r.Failed > 0 {
		verdict = "FAILED"
	}
	fmt.Fprintf(w, "\n%s | %d passed | %d failed | %d ignored | %d filtered\n",
		verdict, r.Passed, r.Failed, r.Ignored, r.Filtered)
}

// stackFrames drops the message line that leads a formatted stack.
func stackFrames(stack string) string {
	lines := strings.Split(strings.TrimRight(stack, "\n"), "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "at ") {
			return strings.Join(lines[i:], "\n")
		}
	}
	return ""
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
