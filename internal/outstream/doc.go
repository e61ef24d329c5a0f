// Package outstream implements rollback-safe agent output (spec §4.9,
// C9): writes are tagged with the issuing agent's local virtual time and
// held in memory until GVT passes them, at which point they are
// committed to the real sink. A Rollback discards everything tagged
// after the restored time, exactly mirroring agent state rollback.
//
// Stream is the private, per-agent variant. SharedBuffer is the
// optional collective variant used when several agents want their
// output interleaved in a single, globally-ordered file.
package outstream
