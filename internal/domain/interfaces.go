package domain

import "context"

// IdentityStore persists the long-term identity keys, encrypted at rest.
type IdentityStore interface {
	SaveIdentity(id Identity) error
	LoadIdentity() (Identity, error)
	HasIdentity() (bool, error)
	DeleteIdentity() error
}

// PreKeyStore manages signed and one-time pre-key pairs, encrypted at rest.
// Load returns a one-time pair without touching it; Consume deletes the
// private half from disk.
type PreKeyStore interface {
	NextPreKeyID() (PreKeyID, error)

	SaveSignedPreKey(pair SignedPreKeyPair) error
	LoadSignedPreKey(id PreKeyID) (SignedPreKeyPair, bool, error)
	SetCurrentSignedPreKeyID(id PreKeyID) error
	CurrentSignedPreKeyID() (PreKeyID, bool, error)

	SaveOneTimePreKeys(pairs []OneTimePreKeyPair) error
	LoadOneTimePreKey(id PreKeyID) (OneTimePreKeyPair, bool, error)
	ConsumeOneTimePreKey(id PreKeyID) (OneTimePreKeyPair, bool, error)
	CountOneTimePreKeys() (int, error)
	ListOneTimePreKeyPublics() ([]OneTimePreKeyPublic, error)
}

// SessionStore persists per-peer sessions, encrypted at rest. A session is
// saved after every encrypt/decrypt mutation.
type SessionStore interface {
	SaveSession(peer PeerID, s Session) error
	LoadSession(peer PeerID) (Session, bool, error)
	DeleteSession(peer PeerID) error
}

// Directory is the external registration/key-distribution service. FetchBundle
// returns at most one one-time pre-key, which the server marks consumed.
type Directory interface {
	PublishBundle(ctx context.Context, b PreKeyBundle) error
	FetchBundle(ctx context.Context, peer PeerID) (PreKeyBundle, error)
}

// SessionManager owns per-peer ratchet state. Encrypt and decrypt serialize
// per peer internally; callers may invoke them from any goroutine.
type SessionManager interface {
	EstablishSession(ctx context.Context, peer PeerID) (Session, error)
	EstablishWithBundle(peer PeerID, bundle PreKeyBundle) (Session, error)
	Encrypt(peer PeerID, plaintext []byte) ([]byte, error)
	Decrypt(peer PeerID, payload []byte) ([]byte, error)
	ResetSession(peer PeerID) error
}

// IdentityService creates and fingerprints the local identity.
type IdentityService interface {
	InitIdentity() (Identity, Fingerprint, error)
	FingerprintIdentity() (Fingerprint, error)
}

// PreKeyService generates, publishes, and tops up pre-key material.
type PreKeyService interface {
	GenerateBundle(ctx context.Context, selfID PeerID, self Identity, oneTimeCount int) (PreKeyBundle, error)
	RefillIfLow(ctx context.Context, selfID PeerID, self Identity, threshold int) (int, error)
}
