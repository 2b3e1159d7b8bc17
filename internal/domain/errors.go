package domain

import "errors"

// Error taxonomy. Everything in this core resolves to one of these or to a
// terminal state transition; nothing is fatal to the process.
var (
	// ErrIdentityExists is returned when identity creation runs on a device
	// that already has one.
	ErrIdentityExists = errors.New("identity already exists")

	// ErrBundleInvalid is returned when a fetched pre-key bundle fails
	// signature verification. Fatal to that establishment attempt.
	ErrBundleInvalid = errors.New("prekey bundle signature invalid")

	// ErrSessionNotEstablished is returned by encrypt or decrypt when no
	// session exists for the peer.
	ErrSessionNotEstablished = errors.New("session not established")

	// ErrDecryptionFailed covers MAC mismatch and message keys outside the
	// skip window. It implies possible session desynchronization; the
	// recommended recovery is re-establishment.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrReconnectExhausted is surfaced when the channel gives up after its
	// maximum number of automatic reconnect attempts. Recovery requires
	// fresh credentials and an explicit connect.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrCallInProgress is returned when placing a call while one is active.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrCallStateConflict is returned when a signaling operation does not
	// apply to the current call state.
	ErrCallStateConflict = errors.New("operation invalid in current call state")

	// ErrMediaAcquisitionFailed is returned when local media cannot be
	// acquired; the call aborts.
	ErrMediaAcquisitionFailed = errors.New("media acquisition failed")
)
