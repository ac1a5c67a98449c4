package core

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room    *domain.Room
	mu      sync.RWMutex
	bySID   map[SessionID]MemberSession
	nextUID domain.SessionUID
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

// AddMember hands out uids 1, 2, ... and never reuses one within the room's
// lifetime, so a late event for a departed uid cannot hit a newcomer.
func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) domain.SessionUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.bySID[sid]; ok {
		return prev.Meta().UID
	}
	r.nextUID++
	meta := ms.Meta()
	meta.UID = r.nextUID
	meta.Muted = false
	r.bySID[sid] = ms
	log.Info().Str("module", "core.room").Str("sid", string(sid)).Str("user", string(meta.User.ID)).Uint32("uid", uint32(meta.UID)).Msg("member added")
	return meta.UID
}

func (r *roomImpl) RemoveMember(sid SessionID) (domain.SessionUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return 0, false
	}
	delete(r.bySID, sid)
	uid := ms.Meta().UID
	log.Info().Str("module", "core.room").Str("sid", string(sid)).Uint32("uid", uint32(uid)).Msg("member removed")
	return uid, true
}

func (r *roomImpl) SetMuted(sid SessionID, muted bool) (domain.SessionUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return 0, false
	}
	ms.Meta().Muted = muted
	return ms.Meta().UID, true
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		sig := m.Signal()
		if sig == nil {
			continue
		}
		if err := sig.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for _, ms := range r.bySID {
		m := ms.Meta()
		out = append(out, MemberDTO{
			UID:         m.UID,
			UserID:      m.User.ID,
			DisplayName: m.User.DisplayName,
			Muted:       m.Muted,
		})
	}
	slices.SortFunc(out, func(a, b MemberDTO) int { return cmp.Compare(a.UID, b.UID) })
	return out
}
