package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"privcomm/internal/domain"
)

// Listener receives decrypted inbound messages.
type Listener func(from domain.PeerID, plaintext []byte)

// Service encrypts outbound messages onto the realtime channel and decrypts
// inbound ones off it.
type Service struct {
	mgr domain.SessionManager
	sig domain.Signaler
	log zerolog.Logger

	listener Listener
}

// Option configures a Service.
type Option func(*Service)

// WithListener registers the sink for decrypted inbound messages.
func WithListener(fn Listener) Option {
	return func(s *Service) { s.listener = fn }
}

// WithLogger sets the service's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New returns a message service sending through sig.
func New(mgr domain.SessionManager, sig domain.Signaler, opts ...Option) *Service {
	s := &Service{mgr: mgr, sig: sig, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send encrypts plaintext for peer and hands it to the channel. When no
// session exists yet, it runs the key agreement first.
func (s *Service) Send(ctx context.Context, peer domain.PeerID, plaintext []byte) error {
	payload, err := s.mgr.Encrypt(peer, plaintext)
	if errors.Is(err, domain.ErrSessionNotEstablished) {
		if _, err := s.mgr.EstablishSession(ctx, peer); err != nil {
			return err
		}
		payload, err = s.mgr.Encrypt(peer, plaintext)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	msg := domain.WireMessage{
		Kind:        domain.KindEncryptedMessage,
		ID:          uuid.NewString(),
		RecipientID: peer,
		Payload:     payload,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if !s.sig.Send(msg) {
		return fmt.Errorf("channel unavailable; message to %s not sent", peer)
	}
	return nil
}

// HandleIncoming decrypts one inbound encrypted_message record and forwards
// the plaintext to the listener. It satisfies the channel handler shape.
func (s *Service) HandleIncoming(msg domain.WireMessage) {
	if msg.SenderID == "" || len(msg.Payload) == 0 {
		s.log.Warn().Str("id", msg.ID).Msg("discarding incomplete inbound message")
		return
	}
	pt, err := s.mgr.Decrypt(msg.SenderID, msg.Payload)
	if err != nil {
		s.log.Error().Err(err).Str("peer", string(msg.SenderID)).Msg("inbound decrypt failed")
		return
	}
	if s.listener != nil {
		s.listener(msg.SenderID, pt)
	}
}
