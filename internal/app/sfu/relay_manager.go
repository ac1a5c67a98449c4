package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoRelay = errors.New("no relay for speaker")

type RelayManager struct {
	mu     sync.RWMutex
	relays map[core.SessionID]*Relay
	// muted remembers mute requests that arrive before the speaker's track does.
	muted map[core.SessionID]bool
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[core.SessionID]*Relay),
		muted:  make(map[core.SessionID]bool),
	}
}

// StartRelay creates a new Relay for the given speaker SID and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote) {
	logger := log.With().
		Str("module", "relay").
		Str("sid", string(sid)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)

	m.mu.Lock()
	if old, ok := m.relays[sid]; ok {
		logger.Info().Msg("replacing existing relay for sid")
		old.markAllDelete()
		if old.cancel != nil {
			old.cancel()
		}
	}
	relay.SetMuted(m.muted[sid])
	m.relays[sid] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
}

// Subscribe delivers srcSID's audio to dst over mc. streamID lets the
// subscriber tell speakers apart.
func (m *RelayManager) Subscribe(srcSID, dstSID core.SessionID, mc core.MediaConnection, streamID string) error {
	m.mu.RLock()
	relay, ok := m.relays[srcSID]
	m.mu.RUnlock()
	if !ok {
		return ErrNoRelay
	}

	local, err := webrtc.NewTrackLocalStaticRTP(relay.Src.Codec().RTPCodecCapability, "audio", streamID)
	if err != nil {
		return err
	}
	sender, err := mc.AddLocalTrack(local)
	if err != nil {
		return err
	}
	go drainRTCP(sender)

	relay.AddOutTrack(dstSID, NewOutTrack(local, sender))
	log.Info().Str("module", "relay").Str("src", string(srcSID)).Str("dst", string(dstSID)).Msg("subscribed")
	return nil
}

// drainRTCP keeps the interceptors running; pion needs RTCP to be read.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// MuteSource stops forwarding srcSID's audio without tearing down tracks.
func (m *RelayManager) MuteSource(srcSID core.SessionID, muted bool) {
	m.mu.Lock()
	if muted {
		m.muted[srcSID] = true
	} else {
		delete(m.muted, srcSID)
	}
	relay, ok := m.relays[srcSID]
	m.mu.Unlock()
	if ok {
		relay.SetMuted(muted)
	}
}

// MarkSubscriberDelete marks subscriber's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(srcSID, dstSID core.SessionID) {
	m.mu.RLock()
	relay, ok := m.relays[srcSID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.OutTrack(dstSID); ok {
		ot.MarkDelete()
	}
}

// StopRelay stops a relay and forgets everything about the speaker.
func (m *RelayManager) StopRelay(srcSID core.SessionID) {
	m.mu.Lock()
	relay, ok := m.relays[srcSID]
	delete(m.relays, srcSID)
	delete(m.muted, srcSID)
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
}

// HasRelay reports whether a relay exists for sid.
func (m *RelayManager) HasRelay(sid core.SessionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[sid]
	return ok
}
