// Package schedq implements the per-worker scheduler queue (spec §4.3,
// C3): a binary min-heap of live events ordered by the kernel's
// deterministic tiebreak, anti-message annihilation on insert, and
// fossil collection of events that have fallen behind GVT.
package schedq
