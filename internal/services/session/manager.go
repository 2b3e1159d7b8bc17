package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"privcomm/internal/domain"
	"privcomm/internal/protocol/ratchet"
	"privcomm/internal/protocol/x3dh"
	"privcomm/internal/util/memzero"
)

// Manager owns per-peer ratchet sessions. Operations on the same peer are
// serialized by a per-peer lock; the session saved after each successful
// operation is the state of record, so a failed decrypt never advances it.
type Manager struct {
	ids      domain.IdentityStore
	prekeys  domain.PreKeyStore
	sessions domain.SessionStore
	dir      domain.Directory

	mu    sync.Mutex
	locks map[domain.PeerID]*sync.Mutex
	self  *domain.Identity
}

// New returns a session manager over the given stores and directory.
func New(
	ids domain.IdentityStore,
	prekeys domain.PreKeyStore,
	sessions domain.SessionStore,
	dir domain.Directory,
) *Manager {
	return &Manager{
		ids:      ids,
		prekeys:  prekeys,
		sessions: sessions,
		dir:      dir,
		locks:    make(map[domain.PeerID]*sync.Mutex),
	}
}

// EstablishSession fetches peer's bundle from the directory and runs the
// initiator side of the key agreement.
func (m *Manager) EstablishSession(ctx context.Context, peer domain.PeerID) (domain.Session, error) {
	bundle, err := m.dir.FetchBundle(ctx, peer)
	if err != nil {
		return domain.Session{}, fmt.Errorf("fetch bundle for %s: %w", peer, err)
	}
	return m.EstablishWithBundle(peer, bundle)
}

// EstablishWithBundle runs the initiator side of the key agreement against an
// already-fetched bundle. Any existing session with peer is overwritten.
func (m *Manager) EstablishWithBundle(peer domain.PeerID, bundle domain.PreKeyBundle) (domain.Session, error) {
	lock := m.lockFor(peer)
	lock.Lock()
	defer lock.Unlock()

	self, err := m.identity()
	if err != nil {
		return domain.Session{}, err
	}

	root, ephPub, opkID, err := x3dh.InitiatorRoot(self, bundle)
	if err != nil {
		return domain.Session{}, err
	}
	st, err := ratchet.InitAsInitiator(root, bundle.IdentityKey)
	memzero.Zero(root)
	if err != nil {
		return domain.Session{}, err
	}

	sess := domain.Session{
		Peer:            peer,
		State:           st,
		PeerIdentityKey: bundle.IdentityKey,
		CreatedUTC:      time.Now().UTC().Unix(),
		Pending: &domain.PreKeyRecord{
			IdentityKey:     self.XPub,
			EphemeralKey:    ephPub,
			SignedPreKeyID:  bundle.SignedPreKeyID,
			OneTimePreKeyID: opkID,
		},
	}
	if err := m.sessions.SaveSession(peer, sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// Encrypt seals plaintext for peer and returns the serialized message
// payload. Until the first inbound message from peer arrives, the payload
// carries the key agreement parameters so peer can bootstrap its side.
func (m *Manager) Encrypt(peer domain.PeerID, plaintext []byte) ([]byte, error) {
	lock := m.lockFor(peer)
	lock.Lock()
	defer lock.Unlock()

	sess, ok, err := m.sessions.LoadSession(peer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no session with %s", domain.ErrSessionNotEstablished, peer)
	}
	self, err := m.identity()
	if err != nil {
		return nil, err
	}

	header, ct, err := ratchet.Encrypt(&sess.State, identityAD(self.XPub, sess.PeerIdentityKey), plaintext)
	if err != nil {
		return nil, err
	}
	if err := m.sessions.SaveSession(peer, sess); err != nil {
		return nil, err
	}

	payload := domain.MessagePayload{Header: header, Ciphertext: ct, PreKey: sess.Pending}
	return json.Marshal(payload)
}

// Decrypt opens a serialized message payload from peer. A payload carrying
// key agreement parameters can bootstrap a session when none exists. State is
// persisted only on success; a failed decrypt leaves the session untouched.
func (m *Manager) Decrypt(peer domain.PeerID, data []byte) ([]byte, error) {
	lock := m.lockFor(peer)
	lock.Lock()
	defer lock.Unlock()

	var payload domain.MessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", domain.ErrDecryptionFailed)
	}

	sess, ok, err := m.sessions.LoadSession(peer)
	if err != nil {
		return nil, err
	}
	if !ok {
		if payload.PreKey == nil {
			return nil, fmt.Errorf("%w: no session with %s", domain.ErrSessionNotEstablished, peer)
		}
		return m.bootstrapAndDecrypt(peer, payload)
	}

	self, err := m.identity()
	if err != nil {
		return nil, err
	}
	pt, err := ratchet.Decrypt(&sess.State, identityAD(self.XPub, sess.PeerIdentityKey), payload.Header, payload.Ciphertext)
	if err != nil {
		if payload.PreKey != nil {
			// Peer restarted the session. Fall back to a fresh responder
			// bootstrap with the attached parameters.
			return m.bootstrapAndDecrypt(peer, payload)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryptionFailed, err)
	}

	// First inbound confirms peer holds the session; stop attaching the key
	// agreement parameters.
	sess.Pending = nil
	if err := m.sessions.SaveSession(peer, sess); err != nil {
		return nil, err
	}
	return pt, nil
}

// ResetSession discards any session with peer. The next message in either
// direction runs a fresh key agreement.
func (m *Manager) ResetSession(peer domain.PeerID) error {
	lock := m.lockFor(peer)
	lock.Lock()
	defer lock.Unlock()
	return m.sessions.DeleteSession(peer)
}

// bootstrapAndDecrypt runs the responder side of the key agreement from the
// payload's PreKeyRecord and opens the first message. Caller holds the peer
// lock.
func (m *Manager) bootstrapAndDecrypt(peer domain.PeerID, payload domain.MessagePayload) ([]byte, error) {
	rec := *payload.PreKey

	self, err := m.identity()
	if err != nil {
		return nil, err
	}
	spk, ok, err := m.prekeys.LoadSignedPreKey(rec.SignedPreKeyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: unknown signed pre-key %d", domain.ErrDecryptionFailed, rec.SignedPreKeyID)
	}

	// Read the one-time key without consuming it. A payload naming a live key
	// id must not burn it before its ciphertext authenticates.
	var opkPriv *domain.X25519Private
	if rec.OneTimePreKeyID != 0 {
		pair, ok, err := m.prekeys.LoadOneTimePreKey(rec.OneTimePreKeyID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: one-time pre-key %d already used", domain.ErrDecryptionFailed, rec.OneTimePreKeyID)
		}
		opkPriv = &pair.Priv
		defer memzero.Zero(pair.Priv[:])
	}

	root, err := x3dh.ResponderRoot(self, spk.Priv, opkPriv, rec)
	if err != nil {
		return nil, err
	}
	if len(payload.Header.DHPub) != 32 {
		memzero.Zero(root)
		return nil, fmt.Errorf("%w: malformed header", domain.ErrDecryptionFailed)
	}
	var senderRatchet domain.X25519Public
	copy(senderRatchet[:], payload.Header.DHPub)

	st, err := ratchet.InitAsResponder(root, self.XPriv, senderRatchet)
	memzero.Zero(root)
	if err != nil {
		return nil, err
	}

	pt, err := ratchet.Decrypt(&st, identityAD(self.XPub, rec.IdentityKey), payload.Header, payload.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryptionFailed, err)
	}

	// Ciphertext authenticated; now the one-time key is spent for good.
	if rec.OneTimePreKeyID != 0 {
		pair, ok, err := m.prekeys.ConsumeOneTimePreKey(rec.OneTimePreKeyID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: one-time pre-key %d already used", domain.ErrDecryptionFailed, rec.OneTimePreKeyID)
		}
		memzero.Zero(pair.Priv[:])
	}

	sess := domain.Session{
		Peer:            peer,
		State:           st,
		PeerIdentityKey: rec.IdentityKey,
		CreatedUTC:      time.Now().UTC().Unix(),
	}
	if err := m.sessions.SaveSession(peer, sess); err != nil {
		return nil, err
	}
	return pt, nil
}

// lockFor returns the mutex serializing operations for peer.
func (m *Manager) lockFor(peer domain.PeerID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[peer]
	if !ok {
		l = &sync.Mutex{}
		m.locks[peer] = l
	}
	return l
}

// identity loads and caches the local identity.
func (m *Manager) identity() (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.self == nil {
		id, err := m.ids.LoadIdentity()
		if err != nil {
			return domain.Identity{}, err
		}
		m.self = &id
	}
	return *m.self, nil
}

// identityAD binds both parties' identity keys into the AEAD associated data.
// The keys are ordered bytewise so both sides derive the same value.
func identityAD(a, b domain.X25519Public) []byte {
	out := make([]byte, 0, 64)
	if bytes.Compare(a[:], b[:]) <= 0 {
		out = append(out, a[:]...)
		out = append(out, b[:]...)
	} else {
		out = append(out, b[:]...)
		out = append(out, a[:]...)
	}
	return out
}

// Compile-time assertion that Manager implements domain.SessionManager.
var _ domain.SessionManager = (*Manager)(nil)
