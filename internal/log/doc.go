// Package log provides structured logging for the simulation kernel
// using zerolog: a global logger, component-scoped child loggers, and a
// handful of convenience wrappers used throughout the worker and GVT
// loops.
package log
