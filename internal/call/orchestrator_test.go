package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"privcomm/internal/domain"
)

type fakeSignaler struct {
	mu   sync.Mutex
	sent []domain.WireMessage
	ok   bool
}

func newFakeSignaler() *fakeSignaler { return &fakeSignaler{ok: true} }

func (s *fakeSignaler) Send(msg domain.WireMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.ok
}

func (s *fakeSignaler) byKind(kind domain.MessageKind) []domain.WireMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WireMessage
	for _, m := range s.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type fakeSession struct {
	mu         sync.Mutex
	remoteSDP  string
	answer     string
	candidates []string
	closed     bool

	onLocalCandidate func(string)
	onConnected      func()
	onFailed         func()
}

func (s *fakeSession) CreateOffer(context.Context) (string, error) { return "offer-sdp", nil }

func (s *fakeSession) CreateAnswer(_ context.Context, remoteSDP string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteSDP = remoteSDP
	return "answer-sdp", nil
}

func (s *fakeSession) SetAnswer(remoteSDP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = remoteSDP
	return nil
}

func (s *fakeSession) AddRemoteCandidate(c string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, c)
	return nil
}

func (s *fakeSession) OnLocalCandidate(fn func(string)) { s.onLocalCandidate = fn }
func (s *fakeSession) OnConnected(fn func())            { s.onConnected = fn }
func (s *fakeSession) OnFailed(fn func())               { s.onFailed = fn }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) candidateList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.candidates))
	copy(out, s.candidates)
	return out
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeEngine struct {
	mu       sync.Mutex
	err      error
	sessions []*fakeSession
}

func (e *fakeEngine) NewSession(context.Context) (MediaSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	s := &fakeSession{}
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) lastSession() *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sessions) == 0 {
		return nil
	}
	return e.sessions[len(e.sessions)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOutgoingCallLifecycle(t *testing.T) {
	sig := newFakeSignaler()
	eng := &fakeEngine{}
	o := New(sig, eng)
	defer o.Close()

	if err := o.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if got := o.State(); got != StateOutgoing {
		t.Fatalf("state = %v, want outgoing", got)
	}

	offers := sig.byKind(domain.KindCallOffer)
	if len(offers) != 1 || offers[0].RecipientID != "bob" || offers[0].SDP != "offer-sdp" {
		t.Fatalf("unexpected offers: %+v", offers)
	}
	callID := offers[0].ID
	if callID == "" {
		t.Fatal("offer has no call id")
	}

	o.HandleSignal(domain.WireMessage{
		Kind: domain.KindCallAnswer, ID: callID, SenderID: "bob", SDP: "remote-answer",
	})
	sess := eng.lastSession()
	waitFor(t, "answer applied", func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.answer == "remote-answer"
	})

	sess.onConnected()
	waitFor(t, "connected", func() bool { return o.State() == StateConnected })

	if err := o.EndCall(); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state after hangup = %v, want idle", got)
	}
	if ends := sig.byKind(domain.KindCallEnd); len(ends) != 1 || ends[0].RecipientID != "bob" {
		t.Fatalf("unexpected call_end signals: %+v", ends)
	}
	if !sess.isClosed() {
		t.Fatal("media session left open")
	}
}

func TestSecondCallRefused(t *testing.T) {
	o := New(newFakeSignaler(), &fakeEngine{})
	defer o.Close()

	if err := o.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := o.StartCall(context.Background(), "carol"); !errors.Is(err, domain.ErrCallInProgress) {
		t.Fatalf("got %v, want ErrCallInProgress", err)
	}
}

func TestIncomingAccept(t *testing.T) {
	sig := newFakeSignaler()
	eng := &fakeEngine{}

	var mu sync.Mutex
	var incomingPeer domain.PeerID
	o := New(sig, eng, WithIncomingListener(func(peer domain.PeerID, _ string) {
		mu.Lock()
		incomingPeer = peer
		mu.Unlock()
	}))
	defer o.Close()

	o.HandleSignal(domain.WireMessage{
		Kind: domain.KindCallOffer, ID: "call-1", SenderID: "alice", SDP: "remote-offer",
	})
	waitFor(t, "incoming state", func() bool { return o.State() == StateIncoming })
	waitFor(t, "incoming listener", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return incomingPeer == "alice"
	})

	if err := o.AcceptCall(context.Background()); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	sess := eng.lastSession()
	sess.mu.Lock()
	remote := sess.remoteSDP
	sess.mu.Unlock()
	if remote != "remote-offer" {
		t.Fatalf("remote offer = %q, want remote-offer", remote)
	}

	answers := sig.byKind(domain.KindCallAnswer)
	if len(answers) != 1 || answers[0].RecipientID != "alice" || answers[0].ID != "call-1" {
		t.Fatalf("unexpected answers: %+v", answers)
	}

	sess.onConnected()
	waitFor(t, "connected", func() bool { return o.State() == StateConnected })
}

func TestUnattendedOfferAnswered(t *testing.T) {
	sig := newFakeSignaler()
	eng := &fakeEngine{}
	o := New(sig, eng)
	defer o.Close()

	// No incoming listener registered, so the offer is answered directly.
	o.HandleSignal(domain.WireMessage{
		Kind: domain.KindCallOffer, ID: "call-7", SenderID: "alice", SDP: "remote-offer",
	})
	waitFor(t, "answer sent", func() bool {
		answers := sig.byKind(domain.KindCallAnswer)
		return len(answers) == 1 && answers[0].RecipientID == "alice" && answers[0].ID == "call-7"
	})
	if got := o.State(); got != StateIncoming {
		t.Fatalf("state = %v, want incoming", got)
	}

	sess := eng.lastSession()
	sess.mu.Lock()
	remote := sess.remoteSDP
	sess.mu.Unlock()
	if remote != "remote-offer" {
		t.Fatalf("remote offer = %q, want remote-offer", remote)
	}

	// Candidates trailing the offer apply straight away.
	o.HandleSignal(domain.WireMessage{Kind: domain.KindIceCandidate, SenderID: "alice", Candidate: "c1"})
	waitFor(t, "candidate applied", func() bool {
		got := sess.candidateList()
		return len(got) == 1 && got[0] == "c1"
	})

	sess.onConnected()
	waitFor(t, "connected", func() bool { return o.State() == StateConnected })
}

func TestUnattendedOfferMediaFailureRejects(t *testing.T) {
	sig := newFakeSignaler()
	o := New(sig, &fakeEngine{err: errors.New("no devices")})
	defer o.Close()

	o.HandleSignal(domain.WireMessage{Kind: domain.KindCallOffer, ID: "call-8", SenderID: "alice"})
	waitFor(t, "offer rejected", func() bool {
		rejects := sig.byKind(domain.KindCallReject)
		return len(rejects) == 1 && rejects[0].RecipientID == "alice" && rejects[0].ID == "call-8"
	})
	waitFor(t, "back to idle", func() bool { return o.State() == StateIdle })
	if len(sig.byKind(domain.KindCallAnswer)) != 0 {
		t.Fatal("answer sent despite media failure")
	}
}

func TestRejectIncoming(t *testing.T) {
	sig := newFakeSignaler()
	o := New(sig, &fakeEngine{}, WithIncomingListener(func(domain.PeerID, string) {}))
	defer o.Close()

	o.HandleSignal(domain.WireMessage{Kind: domain.KindCallOffer, ID: "call-2", SenderID: "alice"})
	waitFor(t, "incoming state", func() bool { return o.State() == StateIncoming })

	if err := o.RejectCall(); err != nil {
		t.Fatalf("RejectCall: %v", err)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	rejects := sig.byKind(domain.KindCallReject)
	if len(rejects) != 1 || rejects[0].RecipientID != "alice" {
		t.Fatalf("unexpected rejects: %+v", rejects)
	}
}

func TestOfferWhileBusyRejected(t *testing.T) {
	sig := newFakeSignaler()
	o := New(sig, &fakeEngine{})
	defer o.Close()

	if err := o.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	o.HandleSignal(domain.WireMessage{Kind: domain.KindCallOffer, ID: "late", SenderID: "carol"})

	waitFor(t, "busy reject", func() bool {
		rejects := sig.byKind(domain.KindCallReject)
		return len(rejects) == 1 && rejects[0].RecipientID == "carol" && rejects[0].ID == "late"
	})
	// The active call is untouched.
	if got := o.State(); got != StateOutgoing {
		t.Fatalf("state = %v, want outgoing", got)
	}
	if peer, _ := o.Peer(); peer != "bob" {
		t.Fatalf("peer = %v, want bob", peer)
	}
}

func TestCandidatesHeldUntilAnswer(t *testing.T) {
	sig := newFakeSignaler()
	eng := &fakeEngine{}
	o := New(sig, eng)
	defer o.Close()

	if err := o.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	sess := eng.lastSession()

	o.HandleSignal(domain.WireMessage{Kind: domain.KindIceCandidate, SenderID: "bob", Candidate: "c1"})
	o.HandleSignal(domain.WireMessage{Kind: domain.KindIceCandidate, SenderID: "bob", Candidate: "c2"})

	// Nothing applied before the remote description.
	time.Sleep(20 * time.Millisecond)
	if got := sess.candidateList(); len(got) != 0 {
		t.Fatalf("candidates applied early: %v", got)
	}

	o.HandleSignal(domain.WireMessage{Kind: domain.KindCallAnswer, SenderID: "bob", SDP: "remote-answer"})
	waitFor(t, "held candidates flushed", func() bool {
		got := sess.candidateList()
		return len(got) == 2 && got[0] == "c1" && got[1] == "c2"
	})

	// Later candidates are applied directly.
	o.HandleSignal(domain.WireMessage{Kind: domain.KindIceCandidate, SenderID: "bob", Candidate: "c3"})
	waitFor(t, "late candidate", func() bool {
		got := sess.candidateList()
		return len(got) == 3 && got[2] == "c3"
	})
}

func TestEndCallIdempotent(t *testing.T) {
	sig := newFakeSignaler()
	o := New(sig, &fakeEngine{})
	defer o.Close()

	// No call at all.
	if err := o.EndCall(); err != nil {
		t.Fatalf("EndCall without call: %v", err)
	}
	if len(sig.byKind(domain.KindCallEnd)) != 0 {
		t.Fatal("call_end sent with no call active")
	}

	if err := o.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := o.EndCall(); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if err := o.EndCall(); err != nil {
		t.Fatalf("repeat EndCall: %v", err)
	}
	if got := len(sig.byKind(domain.KindCallEnd)); got != 1 {
		t.Fatalf("call_end sent %d times, want 1", got)
	}
}

func TestRemoteHangupTearsDown(t *testing.T) {
	sig := newFakeSignaler()
	eng := &fakeEngine{}

	var mu sync.Mutex
	var states []State
	o := New(sig, eng, WithStateListener(func(s State, _ domain.PeerID) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}))
	defer o.Close()

	if err := o.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	o.HandleSignal(domain.WireMessage{Kind: domain.KindCallEnd, SenderID: "bob"})

	waitFor(t, "idle after remote hangup", func() bool { return o.State() == StateIdle })
	if !eng.lastSession().isClosed() {
		t.Fatal("media session left open")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateOutgoing, StateEnded, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", states, want)
		}
	}
}

func TestLocalCandidatesForwarded(t *testing.T) {
	sig := newFakeSignaler()
	eng := &fakeEngine{}
	o := New(sig, eng)
	defer o.Close()

	if err := o.StartCall(context.Background(), "bob"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	eng.lastSession().onLocalCandidate("local-c1")

	waitFor(t, "candidate forwarded", func() bool {
		cands := sig.byKind(domain.KindIceCandidate)
		return len(cands) == 1 && cands[0].RecipientID == "bob" && cands[0].Candidate == "local-c1"
	})
}

func TestMediaFailureOnStart(t *testing.T) {
	eng := &fakeEngine{err: errors.New("no devices")}
	o := New(newFakeSignaler(), eng)
	defer o.Close()

	err := o.StartCall(context.Background(), "bob")
	if !errors.Is(err, domain.ErrMediaAcquisitionFailed) {
		t.Fatalf("got %v, want ErrMediaAcquisitionFailed", err)
	}
	if got := o.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}
