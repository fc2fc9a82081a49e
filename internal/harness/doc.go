// Package harness drives a test run.
//
// RunTests discovers test modules under a project root, renders one
// aggregate entry module that requires the runner library and every test
// module, registers both in the file cache under synthetic specifiers,
// and runs them in a single main worker. Per-test outcomes arrive through
// Harness.report and are collected into a Report.
//
// Each test gets a fresh chain session from setup_chain. Sessions live in
// a registry owned by the run and closed when RunTests returns, so
// repeated runs in one process always start again at session 0.
//
// Golden files for the rendered entry module live in testdata/golden.
// To regenerate them:
//
//	go test ./internal/harness -update
package harness
