package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/voicepresence/internal/adapters/rtc"
	"github.com/dkeye/voicepresence/internal/adapters/wire"
	"github.com/dkeye/voicepresence/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleOffer(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p wire.SDP
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		return
	}
	if _, _, in := ctl.Orch.Registry.RoomOf(sid); !in {
		ctl.sendError(conn, "not_in_room")
		return
	}

	// a client offer on a live connection is a renegotiation
	if mc := sess.Media(); mc != nil && !mc.IsClosed() {
		answer, err := mc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("webrtc re-offer")
			return
		}
		ctl.sendJSON(conn, wire.SDP{Type: wire.TypeAnswer, SDP: answer.SDP})
		return
	}

	wc, err := rtc.NewWebRTCConnection(rtc.DefaultWebRTCConfig(ctl.Opts.STUNURLs...), sid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		return
	}
	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendJSON(conn, wire.NewCandidate(ci))
	})
	ctl.Orch.BindMediaHandlers(wc, sid)

	if err = wc.Start(context.Background()); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		return
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		wc.Close()
		return
	}

	sess.UpdateMedia(wc)
	ctl.sendJSON(conn, wire.SDP{Type: wire.TypeAnswer, SDP: answer.SDP})
	ctl.Orch.OnMediaReady(sid)
}

// handleAnswer completes a server offer and sends the next one if tracks
// changed meanwhile.
func (ctl *SignalWSController) handleAnswer(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p wire.SDP
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok || sess.Media() == nil {
		return
	}
	mc := sess.Media()
	if err := mc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("apply answer")
		return
	}
	if mc.PendingRenegotiation() {
		ctl.Renegotiate(sid)
	}
}

func (ctl *SignalWSController) handleCandidate(sid core.SessionID, data []byte) {
	var p wire.Candidate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}

	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("candidate: no session for")
		return
	}
	mc := sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("candidate: no media connection for")
		return
	}
	if err := mc.AddICECandidate(p.Init()); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}

// Renegotiate sends a server offer to sid.
func (ctl *SignalWSController) Renegotiate(sid core.SessionID) {
	sess, ok := ctl.Orch.Registry.GetSession(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil || mc.IsClosed() {
		return
	}
	offer, err := mc.CreateAndSetOffer()
	if errors.Is(err, core.ErrNegotiationInProgress) {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("renegotiation deferred")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("create offer")
		return
	}
	ctl.sendJSON(sess.Signal(), wire.SDP{Type: wire.TypeOffer, SDP: offer.SDP})
}
