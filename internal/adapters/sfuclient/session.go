package sfuclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicepresence/internal/adapters/wire"
	"github.com/dkeye/voicepresence/internal/core"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	writeWait   = 5 * time.Second
	frameLength = 20 * time.Millisecond
)

// opusSilence is one 20ms Opus frame of digital silence. Sending it keeps
// the server's relay for this speaker alive without a microphone.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var errNotConnected = errors.New("not connected")

// session is one join: from dial until leave or loss of the server.
type session struct {
	e       *Engine
	channel string
	started time.Time
	done    chan struct{}

	mu        sync.Mutex
	token     string
	ws        *websocket.Conn
	pc        *webrtc.PeerConnection
	sender    *webrtc.RTPSender
	local     *webrtc.TrackLocalStaticSample
	lifetime  context.Context
	cancel    context.CancelFunc
	joined    bool
	offerSent bool
	reading   bool
	closing   bool
	// candidates held until they can be used
	remotePending []webrtc.ICECandidateInit
	localPending  []webrtc.ICECandidateInit

	writeMu sync.Mutex
}

func newSession(e *Engine, channel, token string) *session {
	return &session{
		e:       e,
		channel: channel,
		token:   token,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// open dials the server, prepares the peer connection and sends join. The
// offer follows once the server confirms the join.
func (s *session) open(api *webrtc.API, local *webrtc.TrackLocalStaticSample) error {
	target, err := s.e.dialURL(s.token)
	if err != nil {
		return err
	}
	ws, _, err := s.e.dialer().Dial(target, nil)
	if err != nil {
		return fmt.Errorf("dial signal: %w", err)
	}

	pc, err := api.NewPeerConnection(s.e.webrtcConfig())
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("peer connection: %w", err)
	}
	sender, err := pc.AddTrack(local)
	if err != nil {
		_ = pc.Close()
		_ = ws.Close()
		return fmt.Errorf("add track: %w", err)
	}
	go drainRTCP(sender)
	pc.OnICECandidate(s.onLocalCandidate)
	pc.OnConnectionStateChange(s.onPeerState)
	pc.OnTrack(s.onTrack)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		cancel()
		_ = pc.Close()
		_ = ws.Close()
		return errNotConnected
	}
	s.ws, s.pc, s.sender, s.local = ws, pc, sender, local
	s.lifetime, s.cancel = ctx, cancel
	s.mu.Unlock()

	return s.send(wire.Join{Type: wire.TypeJoin, Room: s.channel})
}

func (s *session) startReading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.reading = true
	go s.readLoop()
	return true
}

func (s *session) readLoop() {
	defer close(s.done)
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !s.isClosing() {
				s.e.log.Warn().Err(err).Str("channel", s.channel).Msg("signalling lost")
				s.e.drop(s, core.ReasonInterrupted)
			}
			return
		}
		s.handle(data)
	}
}

func (s *session) handle(data []byte) {
	typ, err := wire.TypeOf(data)
	if err != nil {
		s.e.log.Warn().Err(err).Msg("bad server message")
		return
	}
	if s.isClosing() {
		return
	}
	log := s.e.log

	switch typ {
	case wire.TypeJoined:
		var m wire.Joined
		if err := json.Unmarshal(data, &m); err != nil {
			log.Error().Err(err).Msg("bad joined")
			return
		}
		s.mu.Lock()
		s.joined = true
		s.mu.Unlock()
		for _, ev := range joinedEvents(m, time.Since(s.started)) {
			s.e.emit(ev)
		}
		if err := s.sendOffer(); err != nil {
			log.Error().Err(err).Msg("send offer")
		}
		s.startSilence()
	case wire.TypeMemberJoined:
		var m wire.MemberJoined
		if err := json.Unmarshal(data, &m); err == nil {
			s.e.emit(core.UserJoined{UID: uidOf(m.UID)})
		}
	case wire.TypeMemberLeft:
		var m wire.MemberLeft
		if err := json.Unmarshal(data, &m); err == nil {
			s.e.emit(core.UserOffline{UID: uidOf(m.UID), Reason: offlineReason(m.Reason)})
		}
	case wire.TypeMemberMuted:
		var m wire.MemberMuted
		if err := json.Unmarshal(data, &m); err == nil {
			s.e.emit(remoteAudio(m.UID, m.Muted))
		}
	case wire.TypeTokenWillExpire:
		s.e.emit(core.TokenWillExpire{Token: s.currentToken()})
	case wire.TypeOffer:
		var m wire.SDP
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		if err := s.answer(m.SDP); err != nil {
			log.Error().Err(err).Msg("answer server offer")
		}
	case wire.TypeAnswer:
		var m wire.SDP
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		if err := s.applyAnswer(m.SDP); err != nil {
			log.Error().Err(err).Msg("apply answer")
		}
	case wire.TypeCandidate:
		var m wire.Candidate
		if err := json.Unmarshal(data, &m); err == nil {
			s.addRemoteCandidate(m.Init())
		}
	case wire.TypeError:
		var m wire.Error
		_ = json.Unmarshal(data, &m)
		log.Warn().Str("error", m.Error).Str("channel", s.channel).Msg("server error")
		if !s.isJoined() {
			s.e.fail(s, core.ReasonJoinFailed)
		}
	case wire.TypeLeft, wire.TypePong:
	default:
		log.Debug().Str("type", typ).Msg("unhandled server message")
	}
}

func (s *session) sendOffer() error {
	pc := s.peer()
	if pc == nil {
		return errNotConnected
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	if err := s.send(wire.SDP{Type: wire.TypeOffer, SDP: offer.SDP}); err != nil {
		return err
	}

	s.mu.Lock()
	s.offerSent = true
	pending := s.localPending
	s.localPending = nil
	s.mu.Unlock()
	for _, c := range pending {
		_ = s.send(wire.NewCandidate(c))
	}
	return nil
}

// answer accepts a server-initiated renegotiation.
func (s *session) answer(sdp string) error {
	pc := s.peer()
	if pc == nil {
		return errNotConnected
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}
	s.flushRemoteCandidates(pc)
	ans, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(ans); err != nil {
		return err
	}
	return s.send(wire.SDP{Type: wire.TypeAnswer, SDP: ans.SDP})
}

func (s *session) applyAnswer(sdp string) error {
	pc := s.peer()
	if pc == nil {
		return errNotConnected
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return err
	}
	s.flushRemoteCandidates(pc)
	return nil
}

func (s *session) addRemoteCandidate(c webrtc.ICECandidateInit) {
	pc := s.peer()
	if pc == nil {
		return
	}
	if pc.RemoteDescription() == nil {
		s.mu.Lock()
		s.remotePending = append(s.remotePending, c)
		s.mu.Unlock()
		return
	}
	if err := pc.AddICECandidate(c); err != nil {
		s.e.log.Warn().Err(err).Msg("add ice candidate")
	}
}

func (s *session) flushRemoteCandidates(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	pending := s.remotePending
	s.remotePending = nil
	s.mu.Unlock()
	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			s.e.log.Warn().Err(err).Msg("add ice candidate")
		}
	}
}

// onLocalCandidate trickles candidates; the server drops any that arrive
// before the offer, so those wait.
func (s *session) onLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	init := c.ToJSON()
	s.mu.Lock()
	if !s.offerSent {
		s.localPending = append(s.localPending, init)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := s.send(wire.NewCandidate(init)); err != nil {
		s.e.log.Debug().Err(err).Msg("send candidate")
	}
}

func (s *session) onPeerState(st webrtc.PeerConnectionState) {
	if s.isClosing() {
		return
	}
	s.e.log.Debug().Str("state", st.String()).Msg("peer state")
	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.isJoined() {
			s.e.emit(core.ConnectionStateChanged{State: core.EngineConnected, Reason: core.ReasonJoinSuccess})
		}
	case webrtc.PeerConnectionStateDisconnected:
		s.e.emit(core.ConnectionStateChanged{State: core.EngineReconnecting, Reason: core.ReasonInterrupted})
	case webrtc.PeerConnectionStateFailed:
		// pion callbacks must not block on Close
		go s.e.drop(s, core.ReasonInterrupted)
	}
}

// onTrack drains a room mate's audio. Playback is left to the host app.
func (s *session) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if uid, ok := core.ParseStreamID(track.StreamID()); !ok {
		s.e.log.Warn().Str("stream", track.StreamID()).Msg("remote track without uid")
	} else {
		s.e.log.Debug().Uint32("uid", uint32(uid)).Str("codec", track.Codec().MimeType).Msg("remote audio")
	}
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func (s *session) setMuted(muted bool, local *webrtc.TrackLocalStaticSample) error {
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return errNotConnected
	}
	var track webrtc.TrackLocal
	if !muted {
		track = local
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	return s.send(wire.Mute{Type: wire.TypeMute, Muted: muted})
}

func (s *session) renew(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return s.send(wire.Renew{Type: wire.TypeRenew, Token: token})
}

// startSilence feeds the local track until the session ends.
func (s *session) startSilence() {
	s.mu.Lock()
	local, ctx := s.local, s.lifetime
	s.mu.Unlock()
	if local == nil || ctx == nil {
		return
	}
	go func() {
		tick := time.NewTicker(frameLength)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := local.WriteSample(media.Sample{Data: opusSilence, Duration: frameLength}); err != nil {
					s.e.log.Debug().Err(err).Msg("write sample")
					return
				}
			}
		}
	}()
}

// leave says goodbye to the server and waits for the read loop to finish,
// so no event of this session follows the caller's own.
func (s *session) leave() {
	s.mu.Lock()
	s.closing = true
	reading := s.reading
	s.mu.Unlock()

	_ = s.send(wire.Envelope{Type: wire.TypeLeave})
	s.closeSocket()
	s.teardown()
	if reading {
		<-s.done
	}
}

func (s *session) closeSocket() {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// teardown releases the socket and the peer connection. It does not wait
// for the read loop.
func (s *session) teardown() {
	s.mu.Lock()
	s.closing = true
	ws, pc, cancel := s.ws, s.pc, s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.e.log.Debug().Err(err).Msg("close peer connection")
		}
	}
	if ws != nil {
		_ = ws.Close()
	}
}

func (s *session) send(v any) error {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return errNotConnected
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

func (s *session) peer() *webrtc.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

func (s *session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *session) isJoined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

func (s *session) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
