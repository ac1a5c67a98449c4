package app

import (
	"testing"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/stretchr/testify/require"
)

func newSession(id domain.UserID) core.MemberSession {
	return core.NewMemberSession(domain.NewMember(domain.Identity{ID: id}))
}

func TestRegistryRooms(t *testing.T) {
	r := NewRegistry()
	a, b, c := newSession("a"), newSession("b"), newSession("c")
	r.BindSignal("s1", a, nil)
	r.BindSignal("s2", b, nil)
	r.BindSignal("s3", c, nil)

	_, _, ok := r.RoomOf("s1")
	require.False(t, ok)

	require.True(t, r.UpdateRoom("s1", "r1"))
	require.True(t, r.UpdateRoom("s2", "r1"))
	require.True(t, r.UpdateRoom("s3", "r2"))
	require.False(t, r.UpdateRoom("nope", "r1"))

	room, sess, ok := r.RoomOf("s2")
	require.True(t, ok)
	require.Equal(t, domain.ChannelID("r1"), room)
	require.Same(t, b, sess)

	require.Len(t, r.MembersOfRoom("r1"), 2)
	mates := r.RoomMates("s1")
	require.Len(t, mates, 1)
	require.Equal(t, core.SessionID("s2"), mates[0].SID)

	r.RemoveRoom("s2")
	require.Empty(t, r.RoomMates("s1"))
	_, _, ok = r.RoomOf("s2")
	require.False(t, ok)

	sid, ok := r.FindBySession(c)
	require.True(t, ok)
	require.Equal(t, core.SessionID("s3"), sid)

	r.Unbind("s3")
	_, ok = r.FindBySession(c)
	require.False(t, ok)
	require.Equal(t, 2, r.Count())
}

func TestRegistryCancel(t *testing.T) {
	r := NewRegistry()
	called := 0
	r.BindSignal("s1", newSession("a"), func() { called++ })

	require.True(t, r.Cancel("s1"))
	require.Equal(t, 1, called)
	require.False(t, r.Cancel("nope"))
}

func TestRoomManager(t *testing.T) {
	m := NewRoomManager()
	r1 := m.GetOrCreate("b")
	require.Same(t, r1, m.GetOrCreate("b"))
	m.GetOrCreate("a")

	r1.AddMember("s1", newSession("x"))
	list := m.List()
	require.Len(t, list, 2)
	require.Equal(t, domain.ChannelID("a"), list[0].ID)
	require.Equal(t, 1, list[1].MemberCount)

	m.StopRoom("b")
	_, ok := m.GetRoom("b")
	require.False(t, ok)

	// a restarted room counts uids from 1 again
	require.Equal(t, domain.SessionUID(1), m.GetOrCreate("b").AddMember("s2", newSession("y")))
}

func TestNewRoomID(t *testing.T) {
	a, err := NewRoomID()
	require.NoError(t, err)
	b, err := NewRoomID()
	require.NoError(t, err)
	require.Len(t, string(a), roomIDLen)
	require.NotEqual(t, a, b)
}

func TestPolicies(t *testing.T) {
	require.Equal(t, KickMember, SimplePolicy{}.OnBackPressure(nil, nil))
	require.Equal(t, DropFrame, DropPolicy{}.OnBackPressure(nil, nil))
	require.Equal(t, Policy(DropPolicy{}), PolicyByName("drop"))
	require.Equal(t, Policy(SimplePolicy{}), PolicyByName("kick"))
	require.Equal(t, Policy(SimplePolicy{}), PolicyByName(""))
}
