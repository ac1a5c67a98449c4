// Package sfuclient is the client side audio engine for the voice server: a
// websocket signalling session plus one pion PeerConnection per joined channel.
package sfuclient

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var ErrAlreadyInitialized = errors.New("engine already initialized")

type Options struct {
	// SignalURL is the server's ws endpoint, e.g. ws://host:8080/api/ws/signal.
	SignalURL   string
	ICEServers  []string
	EventBuffer int
	DialTimeout time.Duration
	Logger      zerolog.Logger
}

var _ core.Engine = (*Engine)(nil)

type Engine struct {
	opts   Options
	log    zerolog.Logger
	events chan core.Event
	done   chan struct{}

	// emitMu lets Destroy close events once no emitter is mid-send.
	emitMu     sync.RWMutex
	eventsShut bool

	mu          sync.Mutex
	api         *webrtc.API
	local       *webrtc.TrackLocalStaticSample
	sess        *session
	muted       bool
	initialized bool
	destroyed   bool
	destroyOnce sync.Once
}

func New(opts Options) *Engine {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &Engine{
		opts:   opts,
		log:    opts.Logger.With().Str("module", "sfuclient").Logger(),
		events: make(chan core.Event, opts.EventBuffer),
		done:   make(chan struct{}),
	}
}

func (e *Engine) Events() <-chan core.Event { return e.events }

// Initialize builds the media engine and the local Opus track. It may be
// called once.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return errors.New("engine destroyed")
	}
	if e.initialized {
		return ErrAlreadyInitialized
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "local",
	)
	if err != nil {
		return fmt.Errorf("local track: %w", err)
	}
	e.api = webrtc.NewAPI(webrtc.WithMediaEngine(m))
	e.local = local
	e.initialized = true
	e.log.Debug().Msg("initialized")
	return nil
}

// JoinChannel dials the signalling server and asks to join channel. An empty
// channel lets the server pick one. The result arrives as events.
func (e *Engine) JoinChannel(channel string, token string) int {
	if token == "" {
		return core.CodeInvalidArgument
	}
	e.mu.Lock()
	switch {
	case !e.initialized || e.destroyed:
		e.mu.Unlock()
		return core.CodeNotInitialized
	case e.sess != nil:
		e.mu.Unlock()
		return core.CodeRefused
	}
	s := newSession(e, channel, token)
	api, local := e.api, e.local
	// reserve the slot so a second join is refused while dialling
	e.sess = s
	e.muted = false
	e.mu.Unlock()

	e.emit(core.ConnectionStateChanged{State: core.EngineConnecting, Reason: core.ReasonConnecting})

	if err := s.open(api, local); err != nil {
		e.log.Error().Err(err).Str("channel", channel).Msg("join failed")
		s.teardown()
		e.mu.Lock()
		if e.sess == s {
			e.sess = nil
		}
		e.mu.Unlock()
		return core.CodeFailed
	}
	if !s.startReading() {
		// left or destroyed while dialling
		return core.CodeFailed
	}
	return core.CodeOK
}

// LeaveChannel closes the session and reports Disconnected.
func (e *Engine) LeaveChannel() int {
	e.mu.Lock()
	s := e.sess
	e.sess = nil
	e.muted = false
	e.mu.Unlock()
	if s == nil {
		return core.CodeOK
	}

	s.leave()
	e.emit(core.ConnectionStateChanged{State: core.EngineDisconnected, Reason: core.ReasonLeaveChannel})
	return core.CodeOK
}

// MuteLocalAudio stops sending the local track and tells the room about it.
// It is refused until the server has confirmed the join.
func (e *Engine) MuteLocalAudio(muted bool) int {
	e.mu.Lock()
	s := e.sess
	if s == nil || !s.isJoined() {
		e.mu.Unlock()
		return core.CodeNotReady
	}
	e.muted = muted
	local := e.local
	e.mu.Unlock()

	if err := s.setMuted(muted, local); err != nil {
		e.log.Warn().Err(err).Bool("muted", muted).Msg("mute")
		return core.CodeFailed
	}
	return core.CodeOK
}

// RenewToken hands the server a fresh token for the current session.
func (e *Engine) RenewToken(token string) int {
	if token == "" {
		return core.CodeInvalidArgument
	}
	e.mu.Lock()
	s := e.sess
	e.mu.Unlock()
	if s == nil {
		return core.CodeNotReady
	}
	if err := s.renew(token); err != nil {
		e.log.Warn().Err(err).Msg("renew token")
		return core.CodeFailed
	}
	return core.CodeOK
}

// Destroy leaves any channel and closes Events. Safe to call more than once.
func (e *Engine) Destroy() {
	e.destroyOnce.Do(func() {
		e.mu.Lock()
		e.destroyed = true
		s := e.sess
		e.sess = nil
		e.mu.Unlock()

		close(e.done)
		if s != nil {
			s.leave()
		}

		e.emitMu.Lock()
		e.eventsShut = true
		close(e.events)
		e.emitMu.Unlock()
		e.log.Debug().Msg("destroyed")
	})
}

func (e *Engine) emit(ev core.Event) {
	e.emitMu.RLock()
	defer e.emitMu.RUnlock()
	if e.eventsShut {
		return
	}
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Muted reports the local mute flag of the current session.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// drop forgets s after the server went away and reports the loss.
func (e *Engine) drop(s *session, reason core.ConnectionChangedReason) {
	e.mu.Lock()
	if e.sess != s {
		e.mu.Unlock()
		return
	}
	e.sess = nil
	e.muted = false
	e.mu.Unlock()

	s.teardown()
	e.emit(core.ConnectionStateChanged{State: core.EngineDisconnected, Reason: reason})
}

// fail is drop for a join the server refused.
func (e *Engine) fail(s *session, reason core.ConnectionChangedReason) {
	e.mu.Lock()
	if e.sess != s {
		e.mu.Unlock()
		return
	}
	e.sess = nil
	e.muted = false
	e.mu.Unlock()

	s.teardown()
	e.emit(core.ConnectionStateChanged{State: core.EngineFailed, Reason: reason})
}

func (e *Engine) dialURL(token string) (string, error) {
	u, err := url.Parse(e.opts.SignalURL)
	if err != nil {
		return "", fmt.Errorf("signal url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *Engine) dialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: e.opts.DialTimeout,
	}
}

func (e *Engine) webrtcConfig() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(e.opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: e.opts.ICEServers}}
	}
	return cfg
}
