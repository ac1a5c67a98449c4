package store

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", Options{WatchInterval: 20 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPresenceMergeAndDelete(t *testing.T) {
	s := openMemory(t)
	ctx := t.Context()

	require.NoError(t, s.JoinPresence(ctx, "c1", "alice", 1))
	require.NoError(t, s.JoinPresence(ctx, "c1", "bob", 2))
	require.NoError(t, s.JoinPresence(ctx, "c2", "carol", 1))
	// merge overwrites the existing key
	require.NoError(t, s.JoinPresence(ctx, "c1", "alice", 5))

	rec, err := s.Presence(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, map[domain.UserID]domain.SessionUID{"alice": 5, "bob": 2}, rec.Participants)

	require.NoError(t, s.LeavePresence(ctx, "c1", "bob"))
	// deleting a missing key is fine
	require.NoError(t, s.LeavePresence(ctx, "c1", "bob"))

	rec, err = s.Presence(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, map[domain.UserID]domain.SessionUID{"alice": 5}, rec.Participants)

	rec, err = s.Presence(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, rec.Participants, 1)
}

func TestPresenceOfUnknownChannelIsEmpty(t *testing.T) {
	s := openMemory(t)
	rec, err := s.Presence(t.Context(), "nowhere")
	require.NoError(t, err)
	require.Equal(t, domain.ChannelID("nowhere"), rec.ChannelID)
	require.Empty(t, rec.Participants)
}

func TestIdentityMappings(t *testing.T) {
	s := openMemory(t)
	ctx := t.Context()

	_, err := s.MappingOf(ctx, "alice")
	require.ErrorIs(t, err, core.ErrIdentityNotFound)
	_, err = s.ResolveUID(ctx, 3)
	require.ErrorIs(t, err, core.ErrIdentityNotFound)

	require.NoError(t, s.PutMapping(ctx, "alice", 3))
	uid, err := s.MappingOf(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.SessionUID(3), uid)

	user, err := s.ResolveUID(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, domain.UserID("alice"), user)

	// alice moves to a new session, bob takes over uid 3
	require.NoError(t, s.PutMapping(ctx, "alice", 8))
	require.NoError(t, s.PutMapping(ctx, "bob", 3))
	user, err = s.ResolveUID(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, domain.UserID("bob"), user)
	user, err = s.ResolveUID(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, domain.UserID("alice"), user)
}

func TestResolveUIDPrefersLatestWriter(t *testing.T) {
	s := openMemory(t)
	ctx := t.Context()
	require.NoError(t, s.PutMapping(ctx, "alice", 4))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.PutMapping(ctx, "bob", 4))

	user, err := s.ResolveUID(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, domain.UserID("bob"), user)
}

func TestProfiles(t *testing.T) {
	s := openMemory(t)
	ctx := t.Context()

	_, err := s.Profile(ctx, "alice")
	require.ErrorIs(t, err, core.ErrProfileNotFound)

	alice := domain.Identity{ID: "alice", DisplayName: "Alice", PhotoURL: "https://img.example/a.png"}
	require.NoError(t, s.PutProfile(ctx, alice))
	got, err := s.Profile(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, alice, got)

	alice.DisplayName = "Alice L."
	require.NoError(t, s.PutProfile(ctx, alice))
	got, err = s.Profile(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice L.", got.DisplayName)
}

func next(t *testing.T, ch <-chan domain.PresenceRecord) domain.PresenceRecord {
	t.Helper()
	select {
	case rec, ok := <-ch:
		require.True(t, ok, "watch closed")
		return rec
	case <-time.After(time.Second):
		t.Fatal("no presence update")
	}
	return domain.PresenceRecord{}
}

func TestWatchPresence(t *testing.T) {
	s := openMemory(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, s.JoinPresence(ctx, "c1", "alice", 1))
	ch, err := s.WatchPresence(ctx, "c1")
	require.NoError(t, err)

	require.Equal(t, map[domain.UserID]domain.SessionUID{"alice": 1}, next(t, ch).Participants)

	require.NoError(t, s.JoinPresence(ctx, "c1", "bob", 2))
	require.Equal(t, map[domain.UserID]domain.SessionUID{"alice": 1, "bob": 2}, next(t, ch).Participants)

	require.NoError(t, s.LeavePresence(ctx, "c1", "alice"))
	require.Equal(t, map[domain.UserID]domain.SessionUID{"bob": 2}, next(t, ch).Participants)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestWatchIgnoresOtherChannels(t *testing.T) {
	s := openMemory(t)
	ctx := t.Context()

	ch, err := s.WatchPresence(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, next(t, ch).Participants)

	require.NoError(t, s.JoinPresence(ctx, "c2", "bob", 2))
	select {
	case rec := <-ch:
		t.Fatalf("unexpected update %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}
}
