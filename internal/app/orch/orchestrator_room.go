package orch

import (
	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join puts sid into the room, creating it on first use, and returns the uid
// the room assigned.
func (o *Orchestrator) Join(sid core.SessionID, id domain.ChannelID) (core.RoomService, domain.SessionUID, error) {
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, 0, ErrUnknownSession
	}
	if _, _, in := o.Registry.RoomOf(sid); in {
		return nil, 0, ErrAlreadyInRoom
	}
	room := o.Rooms.GetOrCreate(id)
	uid := room.AddMember(sid, session)
	o.Registry.UpdateRoom(sid, id)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(id)).Uint32("uid", uint32(uid)).Msg("added to room")
	return room, uid, nil
}

// Leave takes sid out of its room and tears its media down. Empty rooms are
// dropped so their uid counters start over.
func (o *Orchestrator) Leave(sid core.SessionID) (domain.ChannelID, domain.SessionUID, bool) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", 0, false
	}
	o.cleanupMedia(sid)
	uid, removed := o.cleanupMembership(sid, roomID)
	return roomID, uid, removed
}

// SetMuted records the speaker's mute flag and stops forwarding their audio.
func (o *Orchestrator) SetMuted(sid core.SessionID, muted bool) (domain.ChannelID, domain.SessionUID, bool) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", 0, false
	}
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return "", 0, false
	}
	uid, ok := room.SetMuted(sid, muted)
	if !ok {
		return "", 0, false
	}
	if o.Relays != nil {
		o.Relays.MuteSource(sid, muted)
	}
	return roomID, uid, true
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Leave(sid)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID, roomID domain.ChannelID) (domain.SessionUID, bool) {
	o.Registry.RemoveRoom(sid)
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return 0, false
	}
	uid, removed := room.RemoveMember(sid)
	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomID)
		log.Info().Str("module", "orch").Str("room", string(roomID)).Msg("room empty, stopped")
	}
	return uid, removed
}

func (o *Orchestrator) EvictRoom(id domain.ChannelID) {
	for _, snap := range o.Registry.MembersOfRoom(id) {
		o.KickBySID(snap.SID)
	}
	o.Rooms.StopRoom(id)
}
