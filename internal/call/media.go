package call

import "context"

// MediaSession is one peer connection's worth of media transport. Implemented
// by the pion engine; tests substitute their own.
type MediaSession interface {
	// CreateOffer produces the local session description for an outgoing call.
	CreateOffer(ctx context.Context) (string, error)
	// CreateAnswer applies the remote offer and produces the local answer.
	CreateAnswer(ctx context.Context, remoteSDP string) (string, error)
	// SetAnswer applies the remote answer to an outgoing call.
	SetAnswer(remoteSDP string) error
	// AddRemoteCandidate applies one remote ICE candidate. Callers must have
	// applied the remote description first.
	AddRemoteCandidate(candidate string) error
	// OnLocalCandidate registers the sink for locally gathered candidates.
	OnLocalCandidate(fn func(candidate string))
	// OnConnected fires once when media transport is established.
	OnConnected(fn func())
	// OnFailed fires when the transport fails after being established.
	OnFailed(fn func())
	Close() error
}

// Engine creates media sessions.
type Engine interface {
	NewSession(ctx context.Context) (MediaSession, error)
}
