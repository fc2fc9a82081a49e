package harness

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/chainharness/internal/engine"
)

const (
	// EntrySpecifier is the synthetic module the main worker runs.
	EntrySpecifier = engine.HarnessScheme + "$test.js"

	// RunnerSpecifier is the runner library test modules require.
	RunnerSpecifier = engine.HarnessScheme + "runner"
)

//go:embed runner.js
var runnerJS string

// RunnerOptions are passed to runTests in the entry module.
type RunnerOptions struct {
	FailFast bool    `json:"fail_fast"`
	Quiet    bool    `json:"quiet"`
	Filter   *string `json:"filter"`
}

// RenderEntry returns the aggregate entry module for modules. Output is a
// pure function of its inputs.
func RenderEntry(modules []string, opts RunnerOptions) string {
	var b strings.Builder
	b.WriteString("\"use strict\";\n")
	fmt.Fprintf(&b, "const { runTests } = require(%s);\n", jsString(RunnerSpecifier))
	for _, m := range modules {
		fmt.Fprintf(&b, "require(%s);\n", jsString(m))
	}

	// Field order follows the struct, so this is stable.
	o, _ := json.Marshal(opts)
	fmt.Fprintf(&b, "runTests(%s);\n", o)
	return b.String()
}

// jsString quotes s as a JavaScript string literal. encoding/json escapes
// U+2028 and U+2029, so JSON strings are valid JS.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
