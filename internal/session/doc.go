// Package session owns simulated chain state for a test run.
//
// A Registry maps session ids to Sessions. Each Session wraps one chain
// simulator seeded from the project manifest and chain settings. The
// registry is an explicit value owned by the run that creates it, so
// independent runs in one process never observe each other's sessions.
//
// Ids come from a monotonic counter starting at 0 and are never reused,
// even if sessions are later removed. A single mutex serializes every
// registry operation; simulator calls made through With run inside that
// critical section.
package session
