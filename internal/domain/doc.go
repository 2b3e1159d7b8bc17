// Package domain holds the core types, wire formats, error taxonomy, and
// store/service interfaces shared by every subsystem. It has no dependencies
// outside the standard library so that protocol, storage, and transport
// packages can all import it without cycles.
package domain
