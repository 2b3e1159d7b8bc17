package ratchet

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"privcomm/internal/crypto"
	"privcomm/internal/domain"
	"privcomm/internal/util/memzero"
)

const (
	aeadKeySize = 32
	nonceSize   = chacha20poly1305.NonceSize

	// MaxSkipped caps the skipped-message-key cache per session. Oldest
	// entries are evicted first once the cap is reached.
	MaxSkipped = 1000
)

var (
	// ErrSkippedKeyNotFound means the message key for an old counter is gone:
	// already consumed, or evicted beyond the skip window.
	ErrSkippedKeyNotFound = errors.New("skipped message key not found")

	errChainUninitialised = errors.New("ratchet chain key is uninitialised")
)

// InitAsInitiator seeds the sending chain from root using a fresh ratchet key
// pair and the peer's identity public key.
func InitAsInitiator(root []byte, peerIdentity domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}
	dh, err := crypto.DH(priv, peerIdentity)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRK, sendCK := kdfRK(root, dh[:])
	memzero.Zero(dh[:])

	return domain.RatchetState{
		RootKey:   newRK,
		DHPriv:    priv,
		DHPub:     pub,
		PeerDHPub: peerIdentity, // placeholder until the first remote ratchet pub arrives
		SendCK:    sendCK,
		Skipped:   make(map[string][]byte),
	}, nil
}

// InitAsResponder seeds the receiving chain from root using our identity
// private key and the initiator's ratchet public key from the first header.
func InitAsResponder(root []byte, ourIDPriv domain.X25519Private, senderRatchetPub domain.X25519Public) (domain.RatchetState, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.RatchetState{}, err
	}
	dh, err := crypto.DH(ourIDPriv, senderRatchetPub)
	if err != nil {
		return domain.RatchetState{}, err
	}
	newRK, recvCK := kdfRK(root, dh[:])
	memzero.Zero(dh[:])

	return domain.RatchetState{
		RootKey:   newRK,
		DHPriv:    priv,
		DHPub:     pub,
		PeerDHPub: senderRatchetPub,
		RecvCK:    recvCK,
		Skipped:   make(map[string][]byte),
	}, nil
}

// Encrypt advances the sending chain one step, derives a message key, and
// seals the plaintext with the header as associated data. The responder's
// first send performs a DH ratchet step to create its sending chain.
func Encrypt(st *domain.RatchetState, ad, plaintext []byte) (domain.RatchetHeader, []byte, error) {
	if len(st.SendCK) == 0 {
		if err := stepSendRatchet(st); err != nil {
			return domain.RatchetHeader{}, nil, err
		}
	}

	mk, err := kdfCKSend(st)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	h := domain.RatchetHeader{DHPub: st.DHPub.Slice(), PN: st.PN, N: st.Ns}

	ct, err := seal(mk, h, ad, plaintext)
	memzero.Zero(mk)
	if err != nil {
		return domain.RatchetHeader{}, nil, err
	}
	st.Ns++
	return h, ct, nil
}

// Decrypt opens a message, handling skipped keys and DH ratchet steps.
//
// Order of operations:
//  1. Try the skipped-key cache keyed by (header ratchet pub, counter).
//  2. On a new remote ratchet pub, cache the remainder of the old receiving
//     chain, then ratchet both chains forward.
//  3. A counter behind the receiving index with no cached key fails with
//     ErrSkippedKeyNotFound.
//  4. A counter ahead derives and caches the intervening keys, bounded by
//     MaxSkipped, before deriving the target key.
//
// On any error the caller must discard st; persisted state is only advanced
// by saving st after a successful return.
func Decrypt(st *domain.RatchetState, ad []byte, header domain.RatchetHeader, ciphertext []byte) ([]byte, error) {
	if len(header.DHPub) != 32 {
		return nil, errors.New("ratchet header: bad public key length")
	}

	if mk, ok := takeSkipped(st, header.DHPub, header.N); ok {
		pt, err := open(mk, header, ad, ciphertext)
		memzero.Zero(mk)
		return pt, err
	}

	if !equal32(st.PeerDHPub[:], header.DHPub) {
		// Remote ratcheted. Finish caching the old chain up to PN, then step.
		skipUntil(st, header.PN)
		if err := dhRatchet(st, header.DHPub); err != nil {
			return nil, err
		}
	} else if header.N < st.Nr {
		// Old counter on the current chain and no cached key: the message key
		// was consumed or evicted.
		return nil, ErrSkippedKeyNotFound
	}

	skipUntil(st, header.N)
	mk, err := kdfCKRecv(st)
	if err != nil {
		return nil, err
	}
	pt, err := open(mk, header, ad, ciphertext)
	memzero.Zero(mk)
	if err != nil {
		return nil, err
	}
	st.Nr++
	return pt, nil
}

// dhRatchet advances the receiving chain to the new remote pub and then
// immediately steps the sending side with a fresh ratchet key pair.
func dhRatchet(st *domain.RatchetState, remotePub []byte) error {
	var newPeer domain.X25519Public
	copy(newPeer[:], remotePub)

	dh, err := crypto.DH(st.DHPriv, newPeer)
	if err != nil {
		return err
	}
	rk2, recvCK := kdfRK(st.RootKey, dh[:])
	memzero.Zero(dh[:])

	newPriv, newPub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh2, err := crypto.DH(newPriv, newPeer)
	if err != nil {
		return err
	}
	rk3, sendCK := kdfRK(rk2, dh2[:])
	memzero.Zero(dh2[:])

	st.PN = st.Ns
	st.Ns, st.Nr = 0, 0
	st.RootKey = rk3
	st.DHPriv, st.DHPub = newPriv, newPub
	st.PeerDHPub = newPeer
	st.SendCK, st.RecvCK = sendCK, recvCK
	return nil
}

// stepSendRatchet creates the sending chain on a responder's first send.
func stepSendRatchet(st *domain.RatchetState) error {
	st.PN = st.Ns
	st.Ns = 0

	newPriv, newPub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh, err := crypto.DH(newPriv, st.PeerDHPub)
	if err != nil {
		return err
	}
	rk2, sendCK := kdfRK(st.RootKey, dh[:])
	memzero.Zero(dh[:])

	st.RootKey = rk2
	st.DHPriv, st.DHPub = newPriv, newPub
	st.SendCK = sendCK
	return nil
}

// --- AEAD ---

func seal(mk []byte, header domain.RatchetHeader, ad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], header.N)
	return aead.Seal(nil, nonce, plaintext, authData(header, ad)), nil
}

func open(mk []byte, header domain.RatchetHeader, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(mk[:aeadKeySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], header.N)
	return aead.Open(nil, nonce, ciphertext, authData(header, ad))
}

// authData binds the header to the ciphertext alongside caller AD.
func authData(h domain.RatchetHeader, ad []byte) []byte {
	out := make([]byte, 0, len(ad)+len(h.DHPub)+8)
	out = append(out, ad...)
	out = append(out, h.DHPub...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], h.PN)
	out = append(out, b[:]...)
	binary.BigEndian.PutUint32(b[:], h.N)
	out = append(out, b[:]...)
	return out
}

// --- KDF chains (HKDF-SHA256 with labels) ---

func kdfRK(rk, dh []byte) (newRK, ck []byte) {
	r := hkdf.New(sha256.New, dh, rk, []byte("privcomm-dr-rk"))
	newRK = make([]byte, 32)
	ck = make([]byte, 32)
	_, _ = io.ReadFull(r, newRK)
	_, _ = io.ReadFull(r, ck)
	return
}

func kdfCK(ck []byte) (nextCK, mk []byte) {
	r := hkdf.New(sha256.New, ck, nil, []byte("privcomm-dr-ck"))
	nextCK = make([]byte, 32)
	mk = make([]byte, 32)
	_, _ = io.ReadFull(r, nextCK)
	_, _ = io.ReadFull(r, mk)
	return
}

func kdfCKSend(st *domain.RatchetState) ([]byte, error) {
	if len(st.SendCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.SendCK)
	memzero.Zero(st.SendCK)
	st.SendCK = nextCK
	return mk, nil
}

func kdfCKRecv(st *domain.RatchetState) ([]byte, error) {
	if len(st.RecvCK) == 0 {
		return nil, errChainUninitialised
	}
	nextCK, mk := kdfCK(st.RecvCK)
	memzero.Zero(st.RecvCK)
	st.RecvCK = nextCK
	return mk, nil
}

// --- skipped-key cache ---

func skippedKeyID(peerPub []byte, n uint32) string {
	b := make([]byte, 32+4)
	copy(b, peerPub)
	binary.BigEndian.PutUint32(b[32:], n)
	return string(b)
}

// takeSkipped consumes a cached message key for (pub, n) if present.
func takeSkipped(st *domain.RatchetState, pub []byte, n uint32) ([]byte, bool) {
	id := skippedKeyID(pub, n)
	mk, ok := st.Skipped[id]
	if !ok {
		return nil, false
	}
	delete(st.Skipped, id)
	for i, k := range st.SkippedOrder {
		if k == id {
			st.SkippedOrder = append(st.SkippedOrder[:i], st.SkippedOrder[i+1:]...)
			break
		}
	}
	return mk, true
}

// skipUntil derives and caches message keys on the current receiving chain up
// to (but excluding) n, evicting oldest-first at the cap.
func skipUntil(st *domain.RatchetState, n uint32) {
	if len(st.RecvCK) == 0 {
		return
	}
	if st.Skipped == nil {
		st.Skipped = make(map[string][]byte)
	}
	for st.Nr < n {
		mk, err := kdfCKRecv(st)
		if err != nil {
			return
		}
		if len(st.SkippedOrder) >= MaxSkipped {
			oldest := st.SkippedOrder[0]
			st.SkippedOrder = st.SkippedOrder[1:]
			memzero.Zero(st.Skipped[oldest])
			delete(st.Skipped, oldest)
		}
		id := skippedKeyID(st.PeerDHPub[:], st.Nr)
		st.Skipped[id] = mk
		st.SkippedOrder = append(st.SkippedOrder, id)
		st.Nr++
	}
}

func equal32(a, b []byte) bool {
	if len(a) != 32 || len(b) != 32 {
		return false
	}
	var v byte
	for i := 0; i < 32; i++ {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
