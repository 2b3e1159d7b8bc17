// Package call drives voice/video call setup over the realtime channel. It
// owns the call state machine and bridges SDP and ICE signaling to a media
// engine. Coupling to the transport is via the domain.Signaler interface only.
package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"privcomm/internal/domain"
)

// State is the call lifecycle phase. Ended is transient; the orchestrator
// moves back to Idle on its own after teardown.
type State string

const (
	StateIdle      State = "idle"
	StateOutgoing  State = "outgoing"
	StateIncoming  State = "incoming"
	StateConnected State = "connected"
	StateEnded     State = "ended"
)

// StateListener observes call state transitions.
type StateListener func(s State, peer domain.PeerID)

// IncomingListener fires when a peer offers a call and we are free to take it.
// Registering one defers the answer to the application, which settles the call
// with AcceptCall or RejectCall; without one, offers arriving while idle are
// answered immediately.
type IncomingListener func(peer domain.PeerID, callID string)

// Orchestrator manages at most one call at a time. All state transitions run
// on a single event queue, so signaling and API calls are applied in order.
type Orchestrator struct {
	sig    domain.Signaler
	engine Engine
	log    zerolog.Logger

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	state  State
	peer   domain.PeerID
	callID string

	// Owned by the event loop.
	session           MediaSession
	remoteOffer       string
	remoteDescApplied bool
	pending           []string

	stateFn    StateListener
	incomingFn IncomingListener
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStateListener registers a callback for state transitions.
func WithStateListener(fn StateListener) Option {
	return func(o *Orchestrator) { o.stateFn = fn }
}

// WithIncomingListener registers a callback for incoming call offers.
func WithIncomingListener(fn IncomingListener) Option {
	return func(o *Orchestrator) { o.incomingFn = fn }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New returns an idle Orchestrator and starts its event loop.
func New(sig domain.Signaler, engine Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sig:    sig,
		engine: engine,
		log:    zerolog.Nop(),
		events: make(chan func(), 64),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// State reports the current call phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Peer reports the remote party of the active call, if any.
func (o *Orchestrator) Peer() (domain.PeerID, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peer, o.state != StateIdle
}

// Close stops the event loop and tears down any active call.
func (o *Orchestrator) Close() {
	o.post(func() {
		if o.session != nil {
			o.sendSignal(domain.KindCallEnd, domain.WireMessage{})
			o.teardown()
		}
		o.closeOnce.Do(func() { close(o.done) })
	})
	o.wg.Wait()
}

// StartCall offers a call to peer. Only one call may be active.
func (o *Orchestrator) StartCall(ctx context.Context, peer domain.PeerID) error {
	return o.ask(func() error {
		if o.stateLocked() != StateIdle {
			return domain.ErrCallInProgress
		}
		sess, err := o.engine.NewSession(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMediaAcquisitionFailed, err)
		}
		o.attach(sess)

		sdp, err := sess.CreateOffer(ctx)
		if err != nil {
			sess.Close()
			o.detach()
			return fmt.Errorf("offer: %w", err)
		}

		o.setCall(peer, uuid.NewString())
		o.setState(StateOutgoing)
		o.sendSignal(domain.KindCallOffer, domain.WireMessage{SDP: sdp})
		return nil
	})
}

// AcceptCall answers the pending incoming call.
func (o *Orchestrator) AcceptCall(ctx context.Context) error {
	return o.ask(func() error {
		if o.stateLocked() != StateIncoming || o.session != nil {
			return domain.ErrCallStateConflict
		}
		return o.answer(ctx)
	})
}

// RejectCall declines the pending incoming call.
func (o *Orchestrator) RejectCall() error {
	return o.ask(func() error {
		if o.stateLocked() != StateIncoming {
			return domain.ErrCallStateConflict
		}
		o.sendSignal(domain.KindCallReject, domain.WireMessage{})
		o.teardown()
		return nil
	})
}

// EndCall hangs up the active call. Calling it with no call in progress is a
// no-op.
func (o *Orchestrator) EndCall() error {
	return o.ask(func() error {
		if o.stateLocked() == StateIdle {
			return nil
		}
		o.sendSignal(domain.KindCallEnd, domain.WireMessage{})
		o.teardown()
		return nil
	})
}

// HandleSignal routes one inbound call signaling message. It satisfies the
// channel handler shape, so the channel can deliver call traffic directly.
func (o *Orchestrator) HandleSignal(msg domain.WireMessage) {
	o.post(func() {
		switch msg.Kind {
		case domain.KindCallOffer:
			o.handleOffer(msg)
		case domain.KindCallAnswer:
			o.handleAnswer(msg)
		case domain.KindIceCandidate:
			o.handleCandidate(msg)
		case domain.KindCallReject:
			o.handleRemoteHangup(msg, "rejected")
		case domain.KindCallEnd:
			o.handleRemoteHangup(msg, "ended")
		default:
			o.log.Debug().Str("kind", string(msg.Kind)).Msg("ignoring non-call signal")
		}
	})
}

func (o *Orchestrator) run() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case fn := <-o.events:
			fn()
		}
	}
}

// post queues fn on the event loop without waiting for it.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.events <- fn:
	case <-o.done:
	}
}

// ask queues fn and waits for its result.
func (o *Orchestrator) ask(fn func() error) error {
	reply := make(chan error, 1)
	o.post(func() { reply <- fn() })
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return domain.ErrCallStateConflict
	}
}

func (o *Orchestrator) handleOffer(msg domain.WireMessage) {
	if o.stateLocked() != StateIdle {
		// Busy. Decline the new offer without touching the active call.
		o.log.Info().Str("peer", string(msg.SenderID)).Msg("declining offer while busy")
		o.sig.Send(domain.WireMessage{
			Kind:        domain.KindCallReject,
			ID:          msg.ID,
			RecipientID: msg.SenderID,
		})
		return
	}
	o.setCall(msg.SenderID, msg.ID)
	o.remoteOffer = msg.SDP
	o.setState(StateIncoming)
	if o.incomingFn != nil {
		fn := o.incomingFn
		go fn(msg.SenderID, msg.ID)
		return
	}
	// Nobody to ring; answer the offer on the spot.
	if err := o.answer(context.Background()); err != nil {
		o.log.Error().Err(err).Str("peer", string(msg.SenderID)).Msg("answer offer")
		o.sendSignal(domain.KindCallReject, domain.WireMessage{})
		o.teardown()
	}
}

// answer acquires media, applies the remote offer, and sends the answering
// description. Runs on the event loop with the call already Incoming.
func (o *Orchestrator) answer(ctx context.Context) error {
	sess, err := o.engine.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaAcquisitionFailed, err)
	}
	o.attach(sess)

	sdp, err := sess.CreateAnswer(ctx, o.remoteOffer)
	if err != nil {
		sess.Close()
		o.detach()
		return fmt.Errorf("answer: %w", err)
	}
	o.remoteDescApplied = true
	o.flushCandidates()

	o.sendSignal(domain.KindCallAnswer, domain.WireMessage{SDP: sdp})
	return nil
}

func (o *Orchestrator) handleAnswer(msg domain.WireMessage) {
	if o.stateLocked() != StateOutgoing || msg.SenderID != o.peerLocked() {
		o.log.Warn().Str("peer", string(msg.SenderID)).Msg("unexpected answer")
		return
	}
	if err := o.session.SetAnswer(msg.SDP); err != nil {
		o.log.Error().Err(err).Msg("apply answer")
		o.sendSignal(domain.KindCallEnd, domain.WireMessage{})
		o.teardown()
		return
	}
	o.remoteDescApplied = true
	o.flushCandidates()
}

func (o *Orchestrator) handleCandidate(msg domain.WireMessage) {
	if o.stateLocked() == StateIdle || msg.SenderID != o.peerLocked() {
		return
	}
	if o.session == nil || !o.remoteDescApplied {
		// Candidates can outrun the description. Hold them until it lands.
		o.pending = append(o.pending, msg.Candidate)
		return
	}
	if err := o.session.AddRemoteCandidate(msg.Candidate); err != nil {
		o.log.Warn().Err(err).Msg("apply candidate")
	}
}

func (o *Orchestrator) handleRemoteHangup(msg domain.WireMessage, why string) {
	if o.stateLocked() == StateIdle || msg.SenderID != o.peerLocked() {
		return
	}
	o.log.Info().Str("peer", string(msg.SenderID)).Str("reason", why).Msg("call torn down by peer")
	o.teardown()
}

// attach wires session callbacks onto the event loop.
func (o *Orchestrator) attach(sess MediaSession) {
	o.session = sess
	o.remoteDescApplied = false
	o.pending = nil

	sess.OnLocalCandidate(func(cand string) {
		o.post(func() {
			if o.session != sess {
				return
			}
			o.sendSignal(domain.KindIceCandidate, domain.WireMessage{Candidate: cand})
		})
	})
	sess.OnConnected(func() {
		o.post(func() {
			if o.session != sess {
				return
			}
			o.setState(StateConnected)
		})
	})
	sess.OnFailed(func() {
		o.post(func() {
			if o.session != sess {
				return
			}
			o.log.Warn().Msg("media transport failed")
			o.sendSignal(domain.KindCallEnd, domain.WireMessage{})
			o.teardown()
		})
	})
}

func (o *Orchestrator) detach() {
	o.session = nil
	o.remoteDescApplied = false
	o.pending = nil
}

func (o *Orchestrator) flushCandidates() {
	for _, cand := range o.pending {
		if err := o.session.AddRemoteCandidate(cand); err != nil {
			o.log.Warn().Err(err).Msg("apply held candidate")
		}
	}
	o.pending = nil
}

// teardown closes media, announces Ended, and settles back to Idle.
func (o *Orchestrator) teardown() {
	if o.session != nil {
		o.session.Close()
	}
	o.detach()
	o.remoteOffer = ""
	o.setState(StateEnded)
	o.setCall("", "")
	o.setState(StateIdle)
}

// sendSignal fills in the active call's addressing and sends msg.
func (o *Orchestrator) sendSignal(kind domain.MessageKind, msg domain.WireMessage) {
	o.mu.Lock()
	peer, id := o.peer, o.callID
	o.mu.Unlock()
	msg.Kind = kind
	msg.ID = id
	msg.RecipientID = peer
	if !o.sig.Send(msg) {
		o.log.Warn().Str("kind", string(kind)).Str("peer", string(peer)).Msg("signal not delivered")
	}
}

func (o *Orchestrator) stateLocked() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) peerLocked() domain.PeerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peer
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	if o.state == s {
		o.mu.Unlock()
		return
	}
	o.state = s
	peer := o.peer
	o.mu.Unlock()
	if o.stateFn != nil {
		o.stateFn(s, peer)
	}
}

func (o *Orchestrator) setCall(peer domain.PeerID, id string) {
	o.mu.Lock()
	o.peer = peer
	o.callID = id
	o.mu.Unlock()
}
