package app

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const roomIDLen = 12

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.ChannelID]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.ChannelID]core.RoomService)}
}

// NewRoomID returns a fresh id for clients that join without naming a room.
func NewRoomID() (domain.ChannelID, error) {
	id, err := gonanoid.New(roomIDLen)
	if err != nil {
		return "", err
	}
	return domain.ChannelID(id), nil
}

func (f *RoomManagerImpl) GetOrCreate(id domain.ChannelID) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[id]; ok {
		return room
	}
	room = core.NewRoomService(&domain.Room{ID: id, Name: domain.RoomName(id)})
	f.rooms[id] = room
	return room
}

func (f *RoomManagerImpl) GetRoom(id domain.ChannelID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		out = append(out, core.RoomInfo{ID: id, Name: r.Room().Name, MemberCount: r.MemberCount()})
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (f *RoomManagerImpl) StopRoom(id domain.ChannelID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, id)
}
