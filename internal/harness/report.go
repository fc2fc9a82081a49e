package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrTestsFailed is wrapped by Report.Err when any test failed.
var ErrTestsFailed = errors.New("tests failed")

// Status is the outcome of one test.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusIgnored  Status = "ignored"
	StatusFiltered Status = "filtered"
	StatusAborted  Status = "aborted"
)

// TestError describes a failed test. Stack is source-mapped.
type TestError struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Message string `json:"message" yaml:"message"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
	Stack   string `json:"stack,omitempty" yaml:"stack,omitempty"`
}

// Result is one reported test.
type Result struct {
	Name   string     `json:"name" yaml:"name"`
	Status Status     `json:"status" yaml:"status"`
	Error  *TestError `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report aggregates a run.
type Report struct {
	RunID    string   `json:"run_id" yaml:"run_id"`
	Modules  []string `json:"modules" yaml:"modules"`
	Results  []Result `json:"results" yaml:"results"`
	Passed   int      `json:"passed" yaml:"passed"`
	Failed   int      `json:"failed" yaml:"failed"`
	Ignored  int      `json:"ignored" yaml:"ignored"`
	Filtered int      `json:"filtered" yaml:"filtered"`
}

func newReport(runID string, modules []string) *Report {
	if modules == nil {
		modules = []string{}
	}
	return &Report{RunID: runID, Modules: modules, Results: []Result{}}
}

// Err returns an error wrapping ErrTestsFailed if any test failed.
func (r *Report) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d", ErrTestsFailed, r.Failed, r.Passed+r.Failed)
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case StatusPassed:
		r.Passed++
	case StatusFailed:
		r.Failed++
	case StatusIgnored:
		r.Ignored++
	case StatusFiltered:
		r.Filtered++
	}
}

// collector receives Harness.report payloads. Child workers report from
// their own goroutines, so it locks.
type collector struct {
	mu     sync.Mutex
	report *Report
	format func(stack string) string
	abort  *Result
	bad    []error
}

func (c *collector) add(payload string) {
	var res Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil || res.Name == "" || res.Status == "" {
		c.mu.Lock()
		c.bad = append(c.bad, fmt.Errorf("malformed report %q", payload))
		c.mu.Unlock()
		return
	}
	if res.Error != nil && res.Error.Stack != "" && c.format != nil {
		res.Error.Stack = c.format(res.Error.Stack)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if res.Status == StatusAborted {
		if c.abort == nil {
			c.abort = &res
		}
		return
	}
	c.report.add(res)
}
