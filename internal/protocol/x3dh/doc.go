// Package x3dh implements the X3DH key agreement used to bootstrap a Double
// Ratchet session between two parties.
//
// # Flows
//
// Initiator:
//  1. Verify the signed pre-key signature against the peer's signing key.
//  2. Generate an ephemeral X25519 key pair.
//  3. Compute DH(IKa, SPKb), DH(EKa, IKb), DH(EKa, SPKb) and, when the bundle
//     carries a one-time pre-key, DH(EKa, OPKb).
//  4. HKDF-SHA256 over the concatenated DH outputs produces the root key.
//
// Responder:
//  1. Receive the PreKeyRecord (initiator identity key, ephemeral key,
//     SPK id and optional OPK id) on the first inbound message.
//  2. Look up the signed pre-key and, when referenced, consume the one-time
//     pre-key.
//  3. Compute the mirrored DH set and HKDF the same transcript to the
//     identical root key.
//
// Only public material ever crosses the wire. One-time pre-keys, when mixed
// in, are deleted after first use.
package x3dh
