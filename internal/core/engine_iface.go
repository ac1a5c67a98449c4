package core

// Engine result codes. Zero is success; everything else is a failure the
// caller reports but never retries.
const (
	CodeOK              = 0
	CodeFailed          = -1
	CodeInvalidArgument = -2
	CodeNotReady        = -3
	CodeRefused         = -5
	CodeNotInitialized  = -7
)

// Engine is the real-time audio engine boundary. Commands return a result
// code; everything else the engine has to say arrives on Events.
//
// Events is a bounded channel owned by the engine. It delivers callbacks in a
// single sequence per session and is closed by Destroy.
type Engine interface {
	// Initialize allocates engine resources. Implementations may refuse a
	// second call; callers guard against that themselves.
	Initialize() error
	// JoinChannel joins with an engine-assigned uid.
	JoinChannel(channel string, token string) int
	LeaveChannel() int
	MuteLocalAudio(muted bool) int
	Destroy()
	Events() <-chan Event
}
