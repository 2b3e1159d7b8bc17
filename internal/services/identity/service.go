package identity

import (
	"fmt"
	"unicode"

	"privcomm/internal/crypto"
	"privcomm/internal/domain"
)

// minPassphraseLength is the minimum number of characters for a passphrase.
const minPassphraseLength = 12

// ErrWeakPassphrase is returned when a passphrase fails the strength policy.
var ErrWeakPassphrase = fmt.Errorf(
	"passphrase is too weak (must be at least %d characters and include upper, lower, "+
		"number, and symbol)",
	minPassphraseLength,
)

// Service manages identity key creation and access using a backing store.
//
// The identity contains:
//   - X25519 key pair for Diffie-Hellman (key agreement and ratcheting).
//   - Ed25519 key pair for signing (for example, signing the signed pre-key).
type Service struct {
	store domain.IdentityStore
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore) *Service { return &Service{store: s} }

// InitIdentity creates a new identity, saves it through the store, and
// returns the identity plus a short fingerprint of the X25519 public key.
// It refuses to overwrite an existing identity.
func (s *Service) InitIdentity() (domain.Identity, domain.Fingerprint, error) {
	exists, err := s.store.HasIdentity()
	if err != nil {
		return domain.Identity{}, "", err
	}
	if exists {
		return domain.Identity{}, "", domain.ErrIdentityExists
	}

	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, "", err
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Identity{}, "", err
	}

	id := domain.Identity{XPub: xPub, XPriv: xPriv, EdPub: edPub, EdPriv: edPriv}
	if err := s.store.SaveIdentity(id); err != nil {
		return domain.Identity{}, "", err
	}
	return id, domain.Fingerprint(crypto.Fingerprint(id.XPub.Slice())), nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity() (domain.Identity, error) {
	return s.store.LoadIdentity()
}

// FingerprintIdentity returns a short fingerprint of the local X25519 public key.
func (s *Service) FingerprintIdentity() (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity()
	if err != nil {
		return "", err
	}
	return domain.Fingerprint(crypto.Fingerprint(id.XPub.Slice())), nil
}

// ValidatePassphrase enforces the passphrase strength policy. Callers run it
// before constructing a store with the passphrase.
func ValidatePassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase checks length and character class coverage.
func isSecurePassphrase(passphrase string) bool {
	if len(passphrase) < minPassphraseLength {
		return false
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
