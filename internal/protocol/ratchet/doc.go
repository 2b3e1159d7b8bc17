// Package ratchet implements the Double Ratchet algorithm following Signal's
// design.
//
// The algorithm maintains a root key and two message chains (send and
// receive). Each message advances a KDF chain so that keys are forward
// secure. When a party changes its DH ratchet public key, both sides derive
// new chain keys from a new root derived via DH.
//
// Out-of-order delivery is tolerated through a bounded skipped-key cache:
// message keys for not-yet-seen indices are derived ahead of time and kept
// until consumed, evicting oldest-first at MaxSkipped entries.
//
// Concurrency: RatchetState is NOT safe for concurrent use. Callers must
// serialise access per peer.
package ratchet
