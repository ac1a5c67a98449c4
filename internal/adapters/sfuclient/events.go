package sfuclient

import (
	"time"

	"github.com/dkeye/voicepresence/internal/adapters/wire"
	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
)

// joinedEvents turns the server's join confirmation into the engine callbacks
// a host expects: success first, then one UserJoined per room mate and the
// mute state of those already muted.
func joinedEvents(m wire.Joined, elapsed time.Duration) []core.Event {
	evs := []core.Event{
		core.JoinChannelSuccess{Channel: m.Room, UID: uidOf(m.UID), Elapsed: elapsed},
		core.ConnectionStateChanged{State: core.EngineConnected, Reason: core.ReasonJoinSuccess},
	}
	for _, mem := range m.Members {
		if mem.UID == m.UID {
			continue
		}
		evs = append(evs, core.UserJoined{UID: uidOf(mem.UID)})
		if mem.Muted {
			evs = append(evs, remoteAudio(mem.UID, true))
		}
	}
	return evs
}

func offlineReason(reason string) core.UserOfflineReason {
	if reason == wire.ReasonDropped {
		return core.OfflineDropped
	}
	return core.OfflineQuit
}

func remoteAudio(uid uint32, muted bool) core.RemoteAudioStateChanged {
	if muted {
		return core.RemoteAudioStateChanged{
			UID:    uidOf(uid),
			State:  core.RemoteAudioStopped,
			Reason: core.AudioReasonRemoteMuted,
		}
	}
	return core.RemoteAudioStateChanged{
		UID:    uidOf(uid),
		State:  core.RemoteAudioDecoding,
		Reason: core.AudioReasonRemoteUnmuted,
	}
}

func uidOf(v uint32) domain.SessionUID { return domain.SessionUID(v) }
