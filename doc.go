// Package musesim is the embeddable front door to the simulation
// kernel: construct a Simulation, RegisterAgent every logical process,
// then Run it. cmd/musesim's CLI is a thin wrapper over the same
// internal/manager.Manager this package wraps; link against this
// package directly to drive the kernel from another Go program instead.
package musesim
