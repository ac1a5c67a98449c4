package core

import (
	"time"

	"github.com/dkeye/voicepresence/internal/domain"
)

// Event is a callback raised by the audio engine.
type Event interface {
	engineEvent()
}

// EngineConnectionState follows the numbering most RTC SDKs use.
type EngineConnectionState int

const (
	EngineDisconnected EngineConnectionState = iota + 1
	EngineConnecting
	EngineConnected
	EngineReconnecting
	EngineFailed
)

type ConnectionChangedReason int

const (
	ReasonConnecting ConnectionChangedReason = iota
	ReasonJoinSuccess
	ReasonInterrupted
	ReasonBannedByServer
	ReasonJoinFailed
	ReasonLeaveChannel
	ReasonInvalidToken
	ReasonTokenExpired
)

type UserOfflineReason int

const (
	OfflineQuit UserOfflineReason = iota
	OfflineDropped
)

type RemoteAudioState int

const (
	RemoteAudioStopped RemoteAudioState = iota
	RemoteAudioStarting
	RemoteAudioDecoding
	RemoteAudioFrozen
	RemoteAudioFailed
)

type RemoteAudioReason int

const (
	AudioReasonInternal RemoteAudioReason = iota
	AudioReasonNetworkCongestion
	AudioReasonNetworkRecovery
	AudioReasonLocalMuted
	AudioReasonLocalUnmuted
	AudioReasonRemoteMuted
	AudioReasonRemoteUnmuted
	AudioReasonRemoteOffline
)

type (
	TokenWillExpire struct {
		Token string
	}
	ConnectionStateChanged struct {
		State  EngineConnectionState
		Reason ConnectionChangedReason
	}
	UserJoined struct {
		UID domain.SessionUID
	}
	UserOffline struct {
		UID    domain.SessionUID
		Reason UserOfflineReason
	}
	JoinChannelSuccess struct {
		Channel string
		UID     domain.SessionUID
		Elapsed time.Duration
	}
	RemoteAudioStateChanged struct {
		UID    domain.SessionUID
		State  RemoteAudioState
		Reason RemoteAudioReason
	}
)

func (TokenWillExpire) engineEvent()         {}
func (ConnectionStateChanged) engineEvent()  {}
func (UserJoined) engineEvent()              {}
func (UserOffline) engineEvent()             {}
func (JoinChannelSuccess) engineEvent()      {}
func (RemoteAudioStateChanged) engineEvent() {}
