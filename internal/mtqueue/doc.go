// Package mtqueue implements the kernel's intra-node, producer-many /
// consumer-one bounded queue (spec §4.4 tier 1, C4): four
// interchangeable implementations selectable as a tuning parameter —
// single mutex, single spin lock, receiver-sharded, and lock-free —
// grounded on the reference kernel's SingleBlockingMTQueue,
// MultiBlockingMTQueue and MultiNonBlockingMTQueue.
package mtqueue
