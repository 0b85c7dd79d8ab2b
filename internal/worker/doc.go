// Package worker implements the queue worker that drains the persistent
// transcription job queue. The worker is a stopped/running/paused state
// machine around a single sequential drain loop: it claims the oldest
// pending item, runs it through the processing pipeline, records the outcome
// in the store, and publishes lifecycle events. Failures consult a shared
// retry policy; retry timers only ever flip items back to pending and wake
// the drain loop, preserving FIFO order. Crash recovery at start demotes
// items a dead process left in flight.
package worker
