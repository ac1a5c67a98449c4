package domain

import (
	"cmp"
	"maps"
	"slices"
)

// SessionUID is the numeric handle the audio engine hands out for one joined
// session. It means nothing outside that session.
type SessionUID uint32

// LocalParticipant is one row of the client-side participant table.
// Empty DisplayName/PhotoURL mean the identity has not been resolved.
type LocalParticipant struct {
	UID         SessionUID `json:"uid"`
	Muted       bool       `json:"muted"`
	DisplayName string     `json:"display_name,omitempty"`
	PhotoURL    string     `json:"photo_url,omitempty"`
}

// Resolved reports whether display metadata is known for the row.
func (p LocalParticipant) Resolved() bool {
	return p.DisplayName != "" || p.PhotoURL != ""
}

// ParticipantTable maps session uids to rows. Values handed to observers are
// copies; the owner never shares its live map.
type ParticipantTable map[SessionUID]LocalParticipant

func (t ParticipantTable) Clone() ParticipantTable {
	if t == nil {
		return ParticipantTable{}
	}
	return maps.Clone(t)
}

// Sorted returns rows ordered by uid.
func (t ParticipantTable) Sorted() []LocalParticipant {
	out := slices.Collect(maps.Values(t))
	slices.SortFunc(out, func(a, b LocalParticipant) int { return cmp.Compare(a.UID, b.UID) })
	return out
}

// PresenceRecord is the shared per-channel document: who is in the channel
// and under which session handle.
type PresenceRecord struct {
	ChannelID    ChannelID             `json:"channel_id"`
	Participants map[UserID]SessionUID `json:"participants"`
}

func (r PresenceRecord) Equal(o PresenceRecord) bool {
	return r.ChannelID == o.ChannelID && maps.Equal(r.Participants, o.Participants)
}
