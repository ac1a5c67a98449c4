package core

import "github.com/dkeye/voicepresence/internal/domain"

// SessionID identifies one signalling connection on the server.
type SessionID string

// Frame is a serialized signalling message.
type Frame []byte

// SignalConnection is the messaging transport of a session.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member to its transports.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	Media() MediaConnection
	UpdateSignal(SignalConnection) MemberSession
	UpdateMedia(MediaConnection) MemberSession
}
