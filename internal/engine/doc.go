// Package engine is the deadline and release engine: it tracks check-in
// deadlines, sweeps for overdue messages, executes each message's
// dissolution action exactly once, and dispatches released content to
// recipients with bounded retries.
//
// An external scheduler calls Tick(now) on a cadence; now is always
// injected, never read from the wall clock, so every decision the engine
// makes is reproducible in tests. Within one tick the coordinator runs
// sweep → release → dispatch → completion, fanning work out over a bounded
// worker pool and fanning in before the tick returns.
//
// Concurrency model: the engine takes no locks of its own. Check-ins racing
// a sweep are serialized per message by the store's compare-and-swap
// version check: whichever write lands second is rejected and retried, so
// a message is never both checked in and released on the same version.
package engine
