package orch

import (
	"context"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.OnTrack(trackCtx, sid, track)
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid, mc) })
}

// OnMediaDisconnect runs when mc closed on its own. A newer connection that
// already replaced mc is left alone.
func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID, mc core.MediaConnection) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Media() != mc {
		return
	}
	o.cleanupMedia(sid)
}

func (o *Orchestrator) cleanupMedia(sid core.SessionID) {
	if o.Relays != nil {
		o.Relays.StopRelay(sid)
		for _, snap := range o.Registry.RoomMates(sid) {
			o.Relays.MarkSubscriberDelete(snap.SID, sid)
		}
	}

	if sess, ok := o.Registry.GetSession(sid); ok {
		if mc := sess.Media(); mc != nil {
			sess.UpdateMedia(nil)
			mc.Close()
		}
	}
}

// OnTrack is called when a speaker's audio arrives: start relaying it and
// subscribe every room mate that already has media.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, track *webrtc.TrackRemote) {
	if o.Relays == nil {
		return
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok || sess.Media() == nil {
		return
	}
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("kind", track.Kind().String()).Msg("ignoring non-audio track")
		return
	}
	o.Relays.StartRelay(ctx, sid, track)

	streamID := core.StreamIDFor(sess.Meta().UID)
	for _, snap := range o.Registry.RoomMates(sid) {
		mc := snap.Session.Media()
		if mc == nil {
			continue
		}
		if err := o.Relays.Subscribe(sid, snap.SID, mc, streamID); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("src", string(sid)).Str("dst", string(snap.SID)).Msg("subscribe failed")
			continue
		}
		o.renegotiate(snap.SID)
	}
}

// OnMediaReady is called once the session's media connection is negotiated.
// It subscribes the session to every speaker already relaying in the room.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) {
	if o.Relays == nil {
		return
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil {
		return
	}

	added := 0
	for _, snap := range o.Registry.RoomMates(sid) {
		if !o.Relays.HasRelay(snap.SID) {
			continue
		}
		if err := o.Relays.Subscribe(snap.SID, sid, mc, core.StreamIDFor(snap.Session.Meta().UID)); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("src", string(snap.SID)).Str("dst", string(sid)).Msg("subscribe failed")
			continue
		}
		added++
	}
	if added > 0 {
		o.renegotiate(sid)
	}
}

func (o *Orchestrator) renegotiate(sid core.SessionID) {
	if o.Signals != nil {
		o.Signals.Renegotiate(sid)
	}
}
