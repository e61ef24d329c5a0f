// Package agent defines the application-facing contract of the
// simulation kernel (spec §4.2, C2): the Agent interface clients
// implement, the State interface their state objects satisfy, and the
// per-agent History the worker loop uses to snapshot and roll back
// state across virtual time.
package agent
