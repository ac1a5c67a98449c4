// Package wire defines the JSON signalling messages exchanged between the
// voice server and its clients. Every message carries a "type" field.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Client to server.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeMute      = "mute"
	TypePing      = "ping"
	TypeRenew     = "renew"
)

// Server to client.
const (
	TypeJoined          = "joined"
	TypeLeft            = "left"
	TypeMemberJoined    = "member_joined"
	TypeMemberLeft      = "member_left"
	TypeMemberMuted     = "member_muted"
	TypePong            = "pong"
	TypeError           = "error"
	TypeTokenWillExpire = "token_will_expire"
)

// Reasons carried by member_left.
const (
	ReasonQuit    = "quit"
	ReasonDropped = "dropped"
)

type Envelope struct {
	Type string `json:"type"`
}

type Join struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// SDP is an offer or an answer, depending on Type.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type Mute struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted"`
}

type Renew struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type Member struct {
	UID         uint32 `json:"uid"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Muted       bool   `json:"muted"`
}

type Joined struct {
	Type    string   `json:"type"`
	Room    string   `json:"room"`
	UID     uint32   `json:"uid"`
	Members []Member `json:"members"`
}

type MemberJoined struct {
	Type   string `json:"type"`
	UID    uint32 `json:"uid"`
	UserID string `json:"user_id,omitempty"`
}

type MemberLeft struct {
	Type   string `json:"type"`
	UID    uint32 `json:"uid"`
	Reason string `json:"reason"`
}

type MemberMuted struct {
	Type  string `json:"type"`
	UID   uint32 `json:"uid"`
	Muted bool   `json:"muted"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type TokenWillExpire struct {
	Type      string `json:"type"`
	ExpiresAt int64  `json:"expires_at"`
}

// TypeOf peeks at the discriminator without decoding the rest.
func TypeOf(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("bad envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("bad envelope: missing type")
	}
	return env.Type, nil
}

func NewCandidate(ci webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Type:          TypeCandidate,
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}

func (c Candidate) Init() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}
