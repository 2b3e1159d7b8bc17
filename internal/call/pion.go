package call

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// PionEngine builds receive-capable peer connections with pion/webrtc.
type PionEngine struct {
	stunURLs []string
	log      zerolog.Logger
}

// NewPionEngine returns an Engine using the given STUN servers for ICE.
func NewPionEngine(stunURLs []string, log zerolog.Logger) *PionEngine {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return &PionEngine{stunURLs: stunURLs, log: log}
}

func (e *PionEngine) NewSession(_ context.Context) (MediaSession, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: e.stunURLs}},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	// Local capture is out of scope here. Negotiate receive-only audio and
	// video so remote media still flows.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	s := &pionSession{pc: pc, log: e.log}
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.log.Debug().Str("state", st.String()).Msg("peer connection state")
		switch st {
		case webrtc.PeerConnectionStateConnected:
			if s.onConnected != nil {
				s.onConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			if s.onFailed != nil {
				s.onFailed()
			}
		}
	})
	return s, nil
}

type pionSession struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger

	onConnected func()
	onFailed    func()
}

func (s *pionSession) CreateOffer(context.Context) (string, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

func (s *pionSession) CreateAnswer(_ context.Context, remoteSDP string) (string, error) {
	err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remoteSDP,
	})
	if err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

func (s *pionSession) SetAnswer(remoteSDP string) error {
	return s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  remoteSDP,
	})
}

func (s *pionSession) AddRemoteCandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidate), &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return s.pc.AddICECandidate(init)
}

func (s *pionSession) OnLocalCandidate(fn func(string)) {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			s.log.Error().Err(err).Msg("encode local candidate")
			return
		}
		fn(string(data))
	})
}

func (s *pionSession) OnConnected(fn func()) { s.onConnected = fn }
func (s *pionSession) OnFailed(fn func())    { s.onFailed = fn }

func (s *pionSession) Close() error { return s.pc.Close() }

var _ Engine = (*PionEngine)(nil)
