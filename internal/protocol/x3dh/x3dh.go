package x3dh

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"privcomm/internal/crypto"
	"privcomm/internal/domain"
	"privcomm/internal/util/memzero"
)

const rootKeySize = 32

// kdfInfo domain-separates the root key derivation.
var kdfInfo = []byte("privcomm-x3dh-v1")

// InitiatorRoot verifies the bundle's signed pre-key and derives the root key
// as the initiator. It returns the root key, the ephemeral public key that
// must travel in the first message's PreKeyRecord, and the id of the one-time
// pre-key that was mixed in (0 when the bundle carried none).
//
// A bad signature returns domain.ErrBundleInvalid; the establishment attempt
// is dead at that point.
func InitiatorRoot(
	id domain.Identity,
	bundle domain.PreKeyBundle,
) (root []byte, ephPub domain.X25519Public, opkID domain.PreKeyID, err error) {
	if !crypto.VerifyEd25519(bundle.SigningKey, bundle.SignedPreKey.Slice(), bundle.SignedPreKeySignature) {
		return nil, ephPub, 0, domain.ErrBundleInvalid
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, ephPub, 0, err
	}
	defer memzero.Zero(ephPriv[:])

	dh1, err := crypto.DH(id.XPriv, bundle.SignedPreKey) // DH(IKa, SPKb)
	if err != nil {
		return nil, ephPub, 0, err
	}
	dh2, err := crypto.DH(ephPriv, bundle.IdentityKey) // DH(EKa, IKb)
	if err != nil {
		return nil, ephPub, 0, err
	}
	dh3, err := crypto.DH(ephPriv, bundle.SignedPreKey) // DH(EKa, SPKb)
	if err != nil {
		return nil, ephPub, 0, err
	}

	transcript := make([]byte, 0, 32*4)
	transcript = append(transcript, dh1[:]...)
	transcript = append(transcript, dh2[:]...)
	transcript = append(transcript, dh3[:]...)

	if opk := bundle.OneTimePreKey(); opk != nil {
		dh4, err := crypto.DH(ephPriv, opk.Pub) // DH(EKa, OPKb)
		if err != nil {
			return nil, ephPub, 0, err
		}
		transcript = append(transcript, dh4[:]...)
		opkID = opk.ID
	}

	root = deriveRoot(transcript)
	memzero.Zero(transcript)
	return root, ephPub, opkID, nil
}

// ResponderRoot derives the same root key on the receiving side from the
// initiator's PreKeyRecord. opkPriv is nil when no one-time pre-key was
// referenced.
func ResponderRoot(
	id domain.Identity,
	spkPriv domain.X25519Private,
	opkPriv *domain.X25519Private,
	rec domain.PreKeyRecord,
) ([]byte, error) {
	dh1, err := crypto.DH(spkPriv, rec.IdentityKey) // DH(SPKb, IKa)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(id.XPriv, rec.EphemeralKey) // DH(IKb, EKa)
	if err != nil {
		return nil, err
	}
	dh3, err := crypto.DH(spkPriv, rec.EphemeralKey) // DH(SPKb, EKa)
	if err != nil {
		return nil, err
	}

	transcript := make([]byte, 0, 32*4)
	transcript = append(transcript, dh1[:]...)
	transcript = append(transcript, dh2[:]...)
	transcript = append(transcript, dh3[:]...)

	if opkPriv != nil {
		dh4, err := crypto.DH(*opkPriv, rec.EphemeralKey) // DH(OPKb, EKa)
		if err != nil {
			return nil, err
		}
		transcript = append(transcript, dh4[:]...)
	}

	root := deriveRoot(transcript)
	memzero.Zero(transcript)
	return root, nil
}

func deriveRoot(transcript []byte) []byte {
	r := hkdf.New(sha256.New, transcript, nil, kdfInfo)
	root := make([]byte, rootKeySize)
	_, _ = io.ReadFull(r, root)
	return root
}
