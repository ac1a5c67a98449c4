package core

import (
	"strconv"

	"github.com/dkeye/voicepresence/internal/domain"
)

// StreamIDFor names the media stream the server forwards for a speaker, so
// subscribers can tell whose audio a track carries.
func StreamIDFor(uid domain.SessionUID) string {
	return strconv.FormatUint(uint64(uid), 10)
}

func ParseStreamID(id string) (domain.SessionUID, bool) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return domain.SessionUID(n), true
}
