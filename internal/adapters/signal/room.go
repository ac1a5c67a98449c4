package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/voicepresence/internal/adapters/wire"
	"github.com/dkeye/voicepresence/internal/app"
	"github.com/dkeye/voicepresence/internal/app/orch"
	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxRoomIDLen = 64

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p wire.Join
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if len(p.Room) > maxRoomIDLen {
		ctl.sendError(conn, "bad_room")
		return
	}
	if !ctl.Limiter.Allow(conn.user.ID) {
		ctl.sendError(conn, "rate_limited")
		return
	}

	roomID := domain.ChannelID(p.Room)
	if roomID == "" {
		id, err := app.NewRoomID()
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("room id")
			ctl.sendError(conn, "internal")
			return
		}
		roomID = id
	}

	// switching rooms is a leave followed by a join
	if prev, uid, ok := ctl.Orch.Leave(sid); ok {
		ctl.broadcastRoom(prev, newMemberLeft(uid, wire.ReasonQuit))
	}

	room, uid, err := ctl.Orch.Join(sid, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join")
		if errors.Is(err, orch.ErrUnknownSession) {
			ctl.sendError(conn, "unknown_session")
		} else {
			ctl.sendError(conn, "join_failed")
		}
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Uint32("uid", uint32(uid)).Msg("join")

	snapshot := room.MembersSnapshot()
	members := make([]wire.Member, 0, len(snapshot))
	for _, m := range snapshot {
		members = append(members, wire.Member{
			UID:         uint32(m.UID),
			UserID:      string(m.UserID),
			DisplayName: m.DisplayName,
			Muted:       m.Muted,
		})
	}
	ctl.sendJSON(conn, wire.Joined{
		Type:    wire.TypeJoined,
		Room:    string(roomID),
		UID:     uint32(uid),
		Members: members,
	})
	ctl.broadcastFrom(sid, wire.MemberJoined{
		Type:   wire.TypeMemberJoined,
		UID:    uint32(uid),
		UserID: string(conn.user.ID),
	})
}

// handleLeave leaves the current room; the socket stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID, conn *WsSignalConn) {
	roomID, uid, ok := ctl.Orch.Leave(sid)
	ctl.sendJSON(conn, wire.Envelope{Type: wire.TypeLeft})
	if !ok {
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Msg("leave")
	ctl.broadcastRoom(roomID, newMemberLeft(uid, wire.ReasonQuit))
}

func (ctl *SignalWSController) handleMute(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p wire.Mute
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	roomID, uid, ok := ctl.Orch.SetMuted(sid, p.Muted)
	if !ok {
		ctl.sendError(conn, "not_in_room")
		return
	}
	log.Debug().Str("module", "signal").Str("room", string(roomID)).Uint32("uid", uint32(uid)).Bool("muted", p.Muted).Msg("mute")
	ctl.broadcastFrom(sid, wire.MemberMuted{Type: wire.TypeMemberMuted, UID: uint32(uid), Muted: p.Muted})
}
