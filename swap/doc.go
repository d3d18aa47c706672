// Package swap schedules host/device memory transfers for training runs
// whose per-iteration working set does not fit device memory.
//
// # Reading Guide
//
// Start with these three files to understand the engine:
//   - scheduler.go: lifecycle (StartScheduling, hooks, EndScheduling),
//     per-iteration state, the recorder-to-tracer switch
//   - planner.go: the look-ahead pass that turns the recorded trace into
//     per-function swap-in / swap-out / wait schedules under the budget
//   - executor.go: the pre-hook steps that issue the planned transfers
//
// # Architecture
//
// The package defines the interfaces it consumes from the tensor store
// (Array, ArrayRef, Synchronizer in array.go); implementations live
// outside, e.g. swap/devsim provides a simulated store for tests and the
// CLI. The store reports every get/cast/clear through the process-wide
// callback slot (NotifyAccess); the scheduler installs its recorder there
// on iteration 0 and its tracer afterwards.
//
// Iteration 0 records the access trace (recorder.go, identity.go). The
// planner then splits the budget B into B - B/2 of prefetch headroom and
// B/2 of in-flight eviction allowance, and simulates the iteration with a
// counts-in-queue look-ahead window. Later iterations replay the plan
// while the tracer (tracer.go) verifies the live stream, rewriting
// handles on identity substitution and falling back to synchronous
// eviction for anything out of order. doublebuffer.go adapts the
// alternating input tensors of a double-buffered data iterator.
package swap
