package app

import (
	"privcomm/internal/call"
	"privcomm/internal/channel"
	"privcomm/internal/directory"
	"privcomm/internal/domain"
	identitysvc "privcomm/internal/services/identity"
	messagesvc "privcomm/internal/services/message"
	prekeysvc "privcomm/internal/services/prekey"
	sessionsvc "privcomm/internal/services/session"
	"privcomm/internal/store"
)

// Hooks are the application-level sinks for inbound traffic. Any nil hook is
// simply not wired.
type Hooks struct {
	OnMessage      messagesvc.Listener
	OnChannelState channel.StateListener
	OnCallState    call.StateListener
	OnIncomingCall call.IncomingListener
}

// Wire bundles all stores, services, and transports for the CLI.
type Wire struct {
	Store     *store.FileStore
	Directory domain.Directory
	Identity  *identitysvc.Service
	Prekeys   domain.PreKeyService
	Sessions  domain.SessionManager
	Messages  *messagesvc.Service
	Channel   *channel.Channel
	Calls     *call.Orchestrator
}

// NewWire constructs the dependency graph from cfg and routes the channel's
// inbound kinds to the right services.
func NewWire(cfg Config, hooks Hooks) (*Wire, error) {
	fileStore := store.NewFileStore(cfg.Home, cfg.Passphrase)
	dir := directory.New(cfg.DirectoryURL, cfg.HTTP)

	identitySvc := identitysvc.New(fileStore)
	prekeySvc := prekeysvc.New(fileStore, dir)
	sessionMgr := sessionsvc.New(fileStore, fileStore, fileStore, dir)

	chanOpts := []channel.Option{
		channel.WithBackoff(cfg.BackoffBase, cfg.BackoffCap, cfg.MaxReconnectAttempts),
		channel.WithLogger(cfg.Logger.With().Str("component", "channel").Logger()),
	}
	if hooks.OnChannelState != nil {
		chanOpts = append(chanOpts, channel.WithStateListener(hooks.OnChannelState))
	}
	ch := channel.New(cfg.RelayURL, chanOpts...)

	msgOpts := []messagesvc.Option{
		messagesvc.WithLogger(cfg.Logger.With().Str("component", "message").Logger()),
	}
	if hooks.OnMessage != nil {
		msgOpts = append(msgOpts, messagesvc.WithListener(hooks.OnMessage))
	}
	messageSvc := messagesvc.New(sessionMgr, ch, msgOpts...)

	engine := call.NewPionEngine(cfg.STUNServers, cfg.Logger.With().Str("component", "media").Logger())
	callOpts := []call.Option{
		call.WithLogger(cfg.Logger.With().Str("component", "call").Logger()),
	}
	if hooks.OnCallState != nil {
		callOpts = append(callOpts, call.WithStateListener(hooks.OnCallState))
	}
	if hooks.OnIncomingCall != nil {
		callOpts = append(callOpts, call.WithIncomingListener(hooks.OnIncomingCall))
	}
	calls := call.New(ch, engine, callOpts...)

	ch.Handle(domain.KindEncryptedMessage, messageSvc.HandleIncoming)
	for _, kind := range []domain.MessageKind{
		domain.KindCallOffer,
		domain.KindCallAnswer,
		domain.KindIceCandidate,
		domain.KindCallReject,
		domain.KindCallEnd,
	} {
		ch.Handle(kind, calls.HandleSignal)
	}

	return &Wire{
		Store:     fileStore,
		Directory: dir,
		Identity:  identitySvc,
		Prekeys:   prekeySvc,
		Sessions:  sessionMgr,
		Messages:  messageSvc,
		Channel:   ch,
		Calls:     calls,
	}, nil
}
