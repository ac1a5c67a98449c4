package orch

import (
	"errors"

	"github.com/dkeye/voicepresence/internal/app"
	"github.com/dkeye/voicepresence/internal/app/sfu"
	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrAlreadyInRoom  = errors.New("already in a room")
)

// Renegotiator sends a fresh server offer to a session whose set of
// outgoing tracks changed.
type Renegotiator interface {
	Renegotiate(sid core.SessionID)
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Relays   *sfu.RelayManager
	Signals  Renegotiator
}

// Broadcast sends frame to everyone in sid's room except sid.
func (o *Orchestrator) Broadcast(sid core.SessionID, frame core.Frame) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.publish(roomID, sid, frame)
}

// BroadcastRoom sends frame to every member of the room.
func (o *Orchestrator) BroadcastRoom(id domain.ChannelID, frame core.Frame) {
	o.publish(id, "", frame)
}

func (o *Orchestrator) publish(id domain.ChannelID, from core.SessionID, frame core.Frame) {
	room, ok := o.Rooms.GetRoom(id)
	if !ok {
		return
	}
	res := room.Broadcast(from, frame)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			if sid, ok := o.Registry.FindBySession(slow); ok {
				log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("room", string(id)).Msg("kicking slow member")
				// cancelling closes the socket; the signal layer then runs the usual leave path
				o.Registry.Cancel(sid)
			}
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}
