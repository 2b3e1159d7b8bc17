package domain

// PeerID identifies a directory-registered participant.
type PeerID string

// String returns the string form of the peer id.
func (p PeerID) String() string { return string(p) }

// PreKeyID identifies a signed or one-time pre-key. IDs are allocated
// monotonically starting at 1; 0 means "absent" on the wire.
type PreKeyID uint32

// SignedPreKeyPair is the full signed pre-key stored locally. The signature
// covers the X25519 public half and is made with the identity signing key.
type SignedPreKeyPair struct {
	ID   PreKeyID      `json:"id"`
	Priv X25519Private `json:"priv"`
	Pub  X25519Public  `json:"pub"`
	Sig  []byte        `json:"sig"`
}

// OneTimePreKeyPair is a full single-use pre-key stored locally. The private
// half is deleted the moment a peer's first message consumes it.
type OneTimePreKeyPair struct {
	ID   PreKeyID      `json:"id"`
	Priv X25519Private `json:"priv"`
	Pub  X25519Public  `json:"pub"`
}

// OneTimePreKeyPublic is only the public half, as published and as returned
// by a bundle fetch.
type OneTimePreKeyPublic struct {
	ID  PreKeyID     `json:"key_id"`
	Pub X25519Public `json:"public_key"`
}

// PreKeyBundle is the published public-key material a peer needs to initiate
// a session with this identity. A directory fetch returns at most one
// one-time pre-key; the server marks it consumed at-most-once.
type PreKeyBundle struct {
	PeerID                PeerID                `json:"peer_id"`
	IdentityKey           X25519Public          `json:"identity_key"`
	SigningKey            Ed25519Public         `json:"signing_key"`
	SignedPreKeyID        PreKeyID              `json:"signed_prekey_id"`
	SignedPreKey          X25519Public          `json:"signed_prekey"`
	SignedPreKeySignature []byte                `json:"prekey_signature"`
	OneTimePreKeys        []OneTimePreKeyPublic `json:"one_time_prekeys,omitempty"`
}

// OneTimePreKey returns the single one-time key of a fetched bundle, or nil.
func (b PreKeyBundle) OneTimePreKey() *OneTimePreKeyPublic {
	if len(b.OneTimePreKeys) == 0 {
		return nil
	}
	return &b.OneTimePreKeys[0]
}
