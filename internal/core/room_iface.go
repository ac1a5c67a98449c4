package core

import (
	"github.com/dkeye/voicepresence/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	UID         domain.SessionUID `json:"uid"`
	UserID      domain.UserID     `json:"user_id"`
	DisplayName string            `json:"display_name,omitempty"`
	Muted       bool              `json:"muted"`
}

// RoomService is the core-facing API of a room.
// It owns the membership set and the uid counter but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO

	// AddMember admits the session and assigns it a fresh uid.
	AddMember(sid SessionID, ms MemberSession) domain.SessionUID
	RemoveMember(sid SessionID) (domain.SessionUID, bool)
	SetMuted(sid SessionID, muted bool) (domain.SessionUID, bool)
	Broadcast(from SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	ID          domain.ChannelID `json:"id"`
	Name        domain.RoomName  `json:"name"`
	MemberCount int              `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.ChannelID) RoomService
	GetRoom(id domain.ChannelID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id domain.ChannelID)
}
