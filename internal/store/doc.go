// Package store persists identity keys, pre-key pairs, and per-peer sessions
// on disk. Every file holding secret material is sealed in a passphrase
// envelope (scrypt key derivation + ChaCha20-Poly1305), so state is encrypted
// at rest and tamper-evident.
package store
