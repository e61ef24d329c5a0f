// Package gvt implements Mattern's distributed snapshot algorithm for
// computing the Global Virtual Time of the simulation (spec §4.5, C5):
// per-worker vector counters, token circulation around a ring of
// workers, and the estimate/acknowledgement round the initiator uses
// to commit a new GVT once every worker has observed it.
package gvt
