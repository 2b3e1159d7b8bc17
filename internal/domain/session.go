package domain

// RatchetHeader accompanies each ciphertext.
type RatchetHeader struct {
	DHPub []byte `json:"dh_pub"` // sender's current ratchet public, 32 bytes
	PN    uint32 `json:"pn"`     // length of the previous sending chain
	N     uint32 `json:"n"`      // message index in the current chain
}

// RatchetState holds Double Ratchet state for one peer.
//
// SkippedOrder mirrors the insertion order of Skipped so the cache can be
// evicted oldest-first when it reaches its cap.
type RatchetState struct {
	RootKey []byte `json:"root_key"`

	DHPriv    X25519Private `json:"dh_priv"`
	DHPub     X25519Public  `json:"dh_pub"`
	PeerDHPub X25519Public  `json:"peer_dh_pub"`

	SendCK []byte `json:"send_ck,omitempty"`
	RecvCK []byte `json:"recv_ck,omitempty"`

	Ns uint32 `json:"ns"`
	Nr uint32 `json:"nr"`
	PN uint32 `json:"pn"`

	Skipped      map[string][]byte `json:"skipped,omitempty"`
	SkippedOrder []string          `json:"skipped_order,omitempty"`
}

// PreKeyRecord carries the X3DH handshake parameters attached to outbound
// payloads until the first inbound message from the peer confirms their side
// of the session exists.
type PreKeyRecord struct {
	IdentityKey     X25519Public `json:"identity_key"`
	EphemeralKey    X25519Public `json:"ephemeral_key"`
	SignedPreKeyID  PreKeyID     `json:"signed_prekey_id"`
	OneTimePreKeyID PreKeyID     `json:"one_time_prekey_id,omitempty"` // 0 = none
}

// Session is the per-peer cryptographic state. Exactly one exists per peer;
// establish overwrites any prior one. It is single-writer: encrypt and
// decrypt for the same peer must not run concurrently.
type Session struct {
	Peer            PeerID        `json:"peer"`
	State           RatchetState  `json:"state"`
	PeerIdentityKey X25519Public  `json:"peer_identity_key"`
	CreatedUTC      int64         `json:"created_utc"`
	Pending         *PreKeyRecord `json:"pending,omitempty"`
}

// MessagePayload is the opaque output of encrypt, carried as the payload of
// an encrypted_message wire record.
type MessagePayload struct {
	Header     RatchetHeader `json:"header"`
	Ciphertext []byte        `json:"ciphertext"`
	PreKey     *PreKeyRecord `json:"prekey,omitempty"`
}
