// Package syncutil provides the low-level concurrency primitives the
// kernel's worker loops are built on: a spin lock for very short critical
// sections and a reusable N-party barrier built on top of it (spec
// §4.10, C10).
package syncutil
