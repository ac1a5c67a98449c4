package signal

import (
	"encoding/json"
	"time"

	"github.com/dkeye/voicepresence/internal/adapters/auth"
	"github.com/dkeye/voicepresence/internal/adapters/wire"
	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/rs/zerolog/log"
)

const reasonDropped = wire.ReasonDropped

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, wire.Envelope{Type: wire.TypePong})
}

// handleRenew swaps in a fresh token for the same user and re-arms the
// expiry warning.
func (ctl *SignalWSController) handleRenew(sid core.SessionID, conn *WsSignalConn, data []byte) {
	var p wire.Renew
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	claims, err := auth.ValidateAccessToken(p.Token, ctl.Opts.Secret)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("renew rejected")
		ctl.sendError(conn, "invalid_token")
		return
	}
	if domain.UserID(claims.UserID) != conn.user.ID {
		ctl.sendError(conn, "user_mismatch")
		return
	}
	ctl.armExpiry(sid, conn, claims)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("token renewed")
}

func newTokenWillExpire(exp time.Time) wire.TokenWillExpire {
	return wire.TokenWillExpire{Type: wire.TypeTokenWillExpire, ExpiresAt: exp.Unix()}
}

func newMemberLeft(uid domain.SessionUID, reason string) wire.MemberLeft {
	return wire.MemberLeft{Type: wire.TypeMemberLeft, UID: uint32(uid), Reason: reason}
}
