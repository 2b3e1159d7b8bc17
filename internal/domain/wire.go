package domain

// MessageKind is the string tag that routes a wire record to its consumer.
type MessageKind string

// Wire message kinds carried over the realtime channel. encrypted_message
// payloads are opaque session ciphertext; the call_* kinds are plaintext
// signaling records.
const (
	KindEncryptedMessage MessageKind = "encrypted_message"
	KindCallOffer        MessageKind = "call_offer"
	KindCallAnswer       MessageKind = "call_answer"
	KindIceCandidate     MessageKind = "ice_candidate"
	KindCallReject       MessageKind = "call_reject"
	KindCallEnd          MessageKind = "call_end"
)

// WireMessage is the JSON record exchanged with the relay. Outbound records
// set RecipientID; the relay rewrites inbound ones to carry SenderID.
type WireMessage struct {
	Kind        MessageKind `json:"type"`
	ID          string      `json:"id,omitempty"`
	RecipientID PeerID      `json:"recipient_id,omitempty"`
	SenderID    PeerID      `json:"sender_id,omitempty"`
	Payload     []byte      `json:"payload,omitempty"`
	SDP         string      `json:"sdp,omitempty"`
	Candidate   string      `json:"candidate,omitempty"`
	Timestamp   string      `json:"timestamp,omitempty"`
}

// Signaler is the outbound surface the call orchestrator needs from the
// realtime layer. Send reports delivery as a boolean so the caller decides
// what to do when the transport is down.
type Signaler interface {
	Send(msg WireMessage) bool
}
