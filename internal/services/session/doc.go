// Package session runs the key agreement and per-peer ratchet state, backed
// by encrypted-at-rest stores.
package session
