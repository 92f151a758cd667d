// Package campaign drives a fuzzing campaign: generate, assemble, execute,
// classify and record, N times.
//
// Generation runs on an errgroup pool of GenWorkers goroutines, each
// planning one sequence at a time against the shared read-only spec store
// and relation graph. Assembled artifacts are handed over a bounded
// channel to ExecSlots execution slots, each owning one Executor and its
// own working directory. Every result is appended to the text run log,
// the SQLite run store and the Prometheus counters.
//
// Test case i draws its seed and mode from (Seed, i) alone, so the corpus
// of a campaign does not depend on worker scheduling.
package campaign
