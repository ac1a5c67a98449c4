package sfu

import (
	"testing"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newOutTrack(t *testing.T) *OutTrack {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "1")
	require.NoError(t, err)
	return NewOutTrack(track, nil)
}

func TestOutTrackMuteDoesNotResurrectDeleted(t *testing.T) {
	ot := newOutTrack(t)
	require.Equal(t, TrackStateOk, ot.GetState())

	ot.SetMuted(true)
	require.Equal(t, TrackStateMuted, ot.GetState())
	ot.SetMuted(false)
	require.Equal(t, TrackStateOk, ot.GetState())

	ot.MarkDelete()
	ot.SetMuted(false)
	require.Equal(t, TrackStateDelete, ot.GetState())
	ot.SetMuted(true)
	require.Equal(t, TrackStateDelete, ot.GetState())
}

func TestRelaySetMutedAppliesToSubscribers(t *testing.T) {
	r := NewRelay(nil, nil)
	a, b := newOutTrack(t), newOutTrack(t)
	r.AddOutTrack("a", a)

	r.SetMuted(true)
	require.Equal(t, TrackStateMuted, a.GetState())

	// late subscriber inherits the speaker's mute
	r.AddOutTrack("b", b)
	require.Equal(t, TrackStateMuted, b.GetState())

	r.SetMuted(false)
	require.Equal(t, TrackStateOk, a.GetState())
	require.Equal(t, TrackStateOk, b.GetState())
}

func TestRelayForwardDropsDeletedTracks(t *testing.T) {
	r := NewRelay(nil, nil)
	logger := zerolog.Nop()
	keep, gone := newOutTrack(t), newOutTrack(t)
	r.AddOutTrack("keep", keep)
	r.AddOutTrack("gone", gone)
	gone.MarkDelete()

	r.forward(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}, Payload: []byte{0x1}}, &logger)

	_, ok := r.OutTrack("gone")
	require.False(t, ok)
	_, ok = r.OutTrack("keep")
	require.True(t, ok)
}

func TestRelayReplacesSubscriberTrack(t *testing.T) {
	r := NewRelay(nil, nil)
	first, second := newOutTrack(t), newOutTrack(t)
	r.AddOutTrack("a", first)
	r.AddOutTrack("a", second)

	require.Equal(t, TrackStateDelete, first.GetState())
	got, ok := r.OutTrack("a")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestManagerMuteSourceBeforeAndAfterRelay(t *testing.T) {
	m := NewRelayManager()
	m.MuteSource("spk", true)
	require.True(t, m.muted["spk"])

	relay := NewRelay(nil, nil)
	ot := newOutTrack(t)
	relay.AddOutTrack("dst", ot)
	m.relays["spk"] = relay
	require.True(t, m.HasRelay("spk"))

	m.MuteSource("spk", true)
	require.True(t, relay.Muted())
	require.Equal(t, TrackStateMuted, ot.GetState())

	m.MuteSource("spk", false)
	require.False(t, relay.Muted())
	require.Equal(t, TrackStateOk, ot.GetState())
	require.NotContains(t, m.muted, core.SessionID("spk"))
}

func TestManagerMarkDeleteAndStop(t *testing.T) {
	m := NewRelayManager()
	relay := NewRelay(nil, nil)
	a, b := newOutTrack(t), newOutTrack(t)
	relay.AddOutTrack("a", a)
	relay.AddOutTrack("b", b)
	m.relays["spk"] = relay

	m.MarkSubscriberDelete("spk", "a")
	require.Equal(t, TrackStateDelete, a.GetState())
	require.Equal(t, TrackStateOk, b.GetState())

	m.StopRelay("spk")
	require.False(t, m.HasRelay("spk"))
	require.Equal(t, TrackStateDelete, b.GetState())

	// unknown speakers are ignored
	m.MarkSubscriberDelete("nobody", "a")
	m.StopRelay("nobody")
	require.ErrorIs(t, m.Subscribe("nobody", "a", nil, "1"), ErrNoRelay)
}
