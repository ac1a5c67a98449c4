package core

import (
	"context"
	"errors"

	"github.com/dkeye/voicepresence/internal/domain"
)

var (
	ErrIdentityNotFound = errors.New("identity mapping not found")
	ErrProfileNotFound  = errors.New("profile not found")
)

// PresenceStore is the shared per-channel presence document.
// Writes are last-writer-wins; nothing here is transactional.
type PresenceStore interface {
	// JoinPresence merges user -> uid into the channel record, creating it if absent.
	JoinPresence(ctx context.Context, channel domain.ChannelID, user domain.UserID, uid domain.SessionUID) error
	// LeavePresence deletes the user's key. Deleting a missing key is not an error.
	LeavePresence(ctx context.Context, channel domain.ChannelID, user domain.UserID) error
	Presence(ctx context.Context, channel domain.ChannelID) (domain.PresenceRecord, error)
	// WatchPresence emits the current record and then every change until ctx is done.
	WatchPresence(ctx context.Context, channel domain.ChannelID) (<-chan domain.PresenceRecord, error)
}

// IdentityStore keeps one mapping per application user: their latest session uid.
type IdentityStore interface {
	PutMapping(ctx context.Context, user domain.UserID, uid domain.SessionUID) error
	MappingOf(ctx context.Context, user domain.UserID) (domain.SessionUID, error)
	// ResolveUID is the reverse lookup. It returns ErrIdentityNotFound when no
	// user ever recorded this uid.
	ResolveUID(ctx context.Context, uid domain.SessionUID) (domain.UserID, error)
}

// ProfileStore holds display metadata other clients read after resolving a uid.
type ProfileStore interface {
	PutProfile(ctx context.Context, id domain.Identity) error
	Profile(ctx context.Context, user domain.UserID) (domain.Identity, error)
}
