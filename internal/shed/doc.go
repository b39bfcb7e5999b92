// Package shed implements the per-connection request-engine shed: a registry
// of named engines, each holding a FIFO queue of requests handed off by the
// connection, with capacity-gated push and pull, and the teardown bookkeeping
// that reconciles counters when an engine exits or the connection aborts.
//
// All Shed operations are non-blocking and serialized by a single mutex owned
// by the Shed. Engines poll Pull for work; absence of work is reported as
// ErrRetry and the retry policy belongs to the caller.
package shed
