// Package types holds the shared value types of the simulation kernel:
// virtual time, agent identifiers, the flat event wire format and the
// GVT control-token wire format described by the kernel's external
// interfaces.
package types
