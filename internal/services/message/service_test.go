package message

import (
	"context"
	"errors"
	"sync"
	"testing"

	"privcomm/internal/domain"
)

type fakeManager struct {
	mu          sync.Mutex
	established map[domain.PeerID]bool
	decryptErr  error
}

func newFakeManager() *fakeManager {
	return &fakeManager{established: make(map[domain.PeerID]bool)}
}

func (m *fakeManager) EstablishSession(_ context.Context, peer domain.PeerID) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.established[peer] = true
	return domain.Session{Peer: peer}, nil
}

func (m *fakeManager) EstablishWithBundle(peer domain.PeerID, _ domain.PreKeyBundle) (domain.Session, error) {
	return domain.Session{Peer: peer}, nil
}

func (m *fakeManager) Encrypt(peer domain.PeerID, plaintext []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.established[peer] {
		return nil, domain.ErrSessionNotEstablished
	}
	return append([]byte("enc:"), plaintext...), nil
}

func (m *fakeManager) Decrypt(_ domain.PeerID, payload []byte) ([]byte, error) {
	if m.decryptErr != nil {
		return nil, m.decryptErr
	}
	return payload[4:], nil
}

func (m *fakeManager) ResetSession(domain.PeerID) error { return nil }

type fakeSignaler struct {
	mu   sync.Mutex
	sent []domain.WireMessage
	ok   bool
}

func (s *fakeSignaler) Send(msg domain.WireMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.ok
}

func TestSendEstablishesOnDemand(t *testing.T) {
	mgr := newFakeManager()
	sig := &fakeSignaler{ok: true}
	svc := New(mgr, sig)

	if err := svc.Send(context.Background(), "bob", []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !mgr.established["bob"] {
		t.Fatal("session was not established")
	}
	if len(sig.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sig.sent))
	}
	msg := sig.sent[0]
	if msg.Kind != domain.KindEncryptedMessage || msg.RecipientID != "bob" || msg.ID == "" {
		t.Fatalf("unexpected wire message: %+v", msg)
	}
	if string(msg.Payload) != "enc:hello" {
		t.Fatalf("payload = %q", msg.Payload)
	}
}

func TestSendFailsWhenChannelDown(t *testing.T) {
	mgr := newFakeManager()
	mgr.established["bob"] = true
	svc := New(mgr, &fakeSignaler{ok: false})

	if err := svc.Send(context.Background(), "bob", []byte("hello")); err == nil {
		t.Fatal("Send succeeded with the channel down")
	}
}

func TestHandleIncoming(t *testing.T) {
	mgr := newFakeManager()

	var mu sync.Mutex
	var gotFrom domain.PeerID
	var gotText string
	svc := New(mgr, &fakeSignaler{ok: true}, WithListener(func(from domain.PeerID, pt []byte) {
		mu.Lock()
		gotFrom, gotText = from, string(pt)
		mu.Unlock()
	}))

	svc.HandleIncoming(domain.WireMessage{
		Kind:     domain.KindEncryptedMessage,
		SenderID: "alice",
		Payload:  []byte("enc:hi there"),
	})

	mu.Lock()
	defer mu.Unlock()
	if gotFrom != "alice" || gotText != "hi there" {
		t.Fatalf("listener got (%q, %q)", gotFrom, gotText)
	}
}

func TestHandleIncomingDecryptFailure(t *testing.T) {
	mgr := newFakeManager()
	mgr.decryptErr = errors.New("boom")

	called := false
	svc := New(mgr, &fakeSignaler{ok: true}, WithListener(func(domain.PeerID, []byte) {
		called = true
	}))

	svc.HandleIncoming(domain.WireMessage{
		Kind:     domain.KindEncryptedMessage,
		SenderID: "alice",
		Payload:  []byte("enc:junk"),
	})
	if called {
		t.Fatal("listener fired for an undecryptable message")
	}
}
