package wire

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	typ, err := TypeOf([]byte(`{"type":"member_left","uid":3,"reason":"quit"}`))
	require.NoError(t, err)
	require.Equal(t, TypeMemberLeft, typ)

	_, err = TypeOf([]byte(`{"uid":3}`))
	require.Error(t, err)
	_, err = TypeOf([]byte(`not json`))
	require.Error(t, err)
}

func TestCandidateKeepsZeroLineIndex(t *testing.T) {
	mid, idx := "0", uint16(0)
	c := NewCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx})

	data, err := json.Marshal(c)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"candidate","candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`, string(data))

	var back Candidate
	require.NoError(t, json.Unmarshal(data, &back))
	init := back.Init()
	require.NotNil(t, init.SDPMLineIndex)
	require.Equal(t, uint16(0), *init.SDPMLineIndex)
}
