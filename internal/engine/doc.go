// Package engine runs script code in isolated execution contexts.
//
// A Worker owns one goja runtime and a single-threaded event loop. Before
// any module runs, bootstrap installs:
//
//   - a CommonJS module loader that resolves specifiers through the shared
//     file cache (synthetic "harness:" modules never touch disk) and
//     falls back to disk only where the permission set allows;
//   - a Formatter that rewrites stack frames through source maps;
//   - the host call bridge as Harness.ops.<name>;
//   - timers, microtasks, events, console and the Worker class.
//
// LIFECYCLE:
//
//	Created → Bootstrapped → Executing → EventDispatch(load) → Draining
//	        → EventDispatch(unload) → Draining → Terminated
//
// Run is a scoped acquisition of the worker: whatever happens while
// executing the entry module, "load" and "unload" are each dispatched
// exactly once and the loop drains to quiescence after each, so cleanup
// registered by scripts always runs. The first error wins.
//
// CONCURRENCY:
//
// Script code and host calls run only on the goroutine inside Run.
// Timers and children post tasks into the worker's queue from their own
// goroutines. Child workers are built by the same Factory, run on their
// own goroutines with their own runtimes, inherit the parent's
// permissions and share its host bridge (and therefore its session
// registry). Values cross between runtimes as JSON.
package engine
