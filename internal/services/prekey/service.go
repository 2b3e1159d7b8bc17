package prekey

import (
	"context"
	"fmt"

	"privcomm/internal/crypto"
	"privcomm/internal/domain"
)

// One-time pre-key batch bounds.
const (
	minOneTimeCount = 1
	maxOneTimeCount = 200
)

// Service generates pre-key material and publishes it to the directory.
type Service struct {
	store domain.PreKeyStore
	dir   domain.Directory
}

// New returns a pre-key service backed by the given store and directory.
func New(store domain.PreKeyStore, dir domain.Directory) *Service {
	return &Service{store: store, dir: dir}
}

// GenerateBundle creates a fresh signed pre-key plus oneTimeCount one-time
// pre-keys, persists the private halves, publishes the public bundle, and
// returns it.
func (s *Service) GenerateBundle(
	ctx context.Context,
	selfID domain.PeerID,
	self domain.Identity,
	oneTimeCount int,
) (domain.PreKeyBundle, error) {
	if oneTimeCount < minOneTimeCount || oneTimeCount > maxOneTimeCount {
		return domain.PreKeyBundle{}, fmt.Errorf(
			"one-time pre-key count %d out of range [%d, %d]",
			oneTimeCount, minOneTimeCount, maxOneTimeCount,
		)
	}

	spk, err := s.rotateSignedPreKey(self)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	oneTime, err := s.mintOneTimePreKeys(oneTimeCount)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}

	bundle := domain.PreKeyBundle{
		PeerID:                selfID,
		IdentityKey:           self.XPub,
		SigningKey:            self.EdPub,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Pub,
		SignedPreKeySignature: spk.Sig,
		OneTimePreKeys:        publics(oneTime),
	}
	if err := s.dir.PublishBundle(ctx, bundle); err != nil {
		return domain.PreKeyBundle{}, fmt.Errorf("publish bundle: %w", err)
	}
	return bundle, nil
}

// RefillIfLow tops up the one-time pre-key pool when it has dropped below
// threshold, republishing the bundle with the fresh keys. It reports how many
// keys were minted; zero means the pool was still healthy.
func (s *Service) RefillIfLow(
	ctx context.Context,
	selfID domain.PeerID,
	self domain.Identity,
	threshold int,
) (int, error) {
	n, err := s.store.CountOneTimePreKeys()
	if err != nil {
		return 0, err
	}
	if n >= threshold {
		return 0, nil
	}

	want := threshold - n
	fresh, err := s.mintOneTimePreKeys(want)
	if err != nil {
		return 0, err
	}

	spkID, ok, err := s.store.CurrentSignedPreKeyID()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no current signed pre-key; generate a bundle first")
	}
	spk, ok, err := s.store.LoadSignedPreKey(spkID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("signed pre-key %d missing from store", spkID)
	}

	all, err := s.store.ListOneTimePreKeyPublics()
	if err != nil {
		return 0, err
	}
	bundle := domain.PreKeyBundle{
		PeerID:                selfID,
		IdentityKey:           self.XPub,
		SigningKey:            self.EdPub,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Pub,
		SignedPreKeySignature: spk.Sig,
		OneTimePreKeys:        all,
	}
	if err := s.dir.PublishBundle(ctx, bundle); err != nil {
		return 0, fmt.Errorf("publish bundle: %w", err)
	}
	return len(fresh), nil
}

// rotateSignedPreKey mints a signed pre-key, signs it with the identity's
// signing key, and makes it current.
func (s *Service) rotateSignedPreKey(self domain.Identity) (domain.SignedPreKeyPair, error) {
	id, err := s.store.NextPreKeyID()
	if err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	pair := domain.SignedPreKeyPair{
		ID:   id,
		Priv: priv,
		Pub:  pub,
		Sig:  crypto.SignEd25519(self.EdPriv, pub.Slice()),
	}
	if err := s.store.SaveSignedPreKey(pair); err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	if err := s.store.SetCurrentSignedPreKeyID(id); err != nil {
		return domain.SignedPreKeyPair{}, err
	}
	return pair, nil
}

// mintOneTimePreKeys creates and persists n one-time pre-key pairs.
func (s *Service) mintOneTimePreKeys(n int) ([]domain.OneTimePreKeyPair, error) {
	pairs := make([]domain.OneTimePreKeyPair, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.store.NextPreKeyID()
		if err != nil {
			return nil, err
		}
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, domain.OneTimePreKeyPair{ID: id, Priv: priv, Pub: pub})
	}
	if err := s.store.SaveOneTimePreKeys(pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

func publics(pairs []domain.OneTimePreKeyPair) []domain.OneTimePreKeyPublic {
	out := make([]domain.OneTimePreKeyPublic, len(pairs))
	for i, p := range pairs {
		out[i] = domain.OneTimePreKeyPublic{ID: p.ID, Pub: p.Pub}
	}
	return out
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)
