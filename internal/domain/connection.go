package domain

// ConnectionState is the single authoritative state of the local voice session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// CanJoin reports whether a join may start from this state.
func (s ConnectionState) CanJoin() bool {
	return s == Disconnected || s == Failed
}
