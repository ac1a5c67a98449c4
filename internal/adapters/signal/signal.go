package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicepresence/internal/adapters/auth"
	"github.com/dkeye/voicepresence/internal/app/orch"
	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	ReadLimit       int64
	PingPeriod      time.Duration
	TokenWarnBefore time.Duration
	// Secret verifies renewed tokens.
	Secret string
	// JoinLimit joins per JoinWindow are allowed per user.
	JoinLimit  int
	JoinWindow time.Duration
	STUNURLs   []string
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.TokenWarnBefore <= 0 {
		o.TokenWarnBefore = time.Minute
	}
	if o.JoinLimit <= 0 {
		o.JoinLimit = 10
	}
	if o.JoinWindow <= 0 {
		o.JoinWindow = time.Minute
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Opts    Options
	Limiter *RoomRateLimiter
}

// NewSignalWSController also registers itself as the orchestrator's renegotiator.
func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	ctl := &SignalWSController{
		Orch:    o,
		Opts:    opts,
		Limiter: NewRoomRateLimiter(opts.JoinLimit, opts.JoinWindow),
	}
	o.Signals = ctl
	return ctl
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	user domain.Identity

	mu     sync.RWMutex
	closed bool
	expiry *time.Timer
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.expiry != nil {
		c.expiry.Stop()
	}
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves one signalling session for
// the user named in claims.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, claims *auth.Claims) {
	user, err := claims.Identity()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
		user: *user,
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("new WS connection")

	sess := core.NewMemberSession(domain.NewMember(*user)).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, sess, func() {
		cancel()
		conn.Close()
	})
	ctl.armExpiry(sid, conn, claims)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

// armExpiry schedules a token_will_expire warning ahead of the token's exp.
func (ctl *SignalWSController) armExpiry(sid core.SessionID, conn *WsSignalConn, claims *auth.Claims) {
	if claims.ExpiresAt == nil {
		return
	}
	exp := claims.ExpiresAt.Time
	wait := max(time.Until(exp)-ctl.Opts.TokenWarnBefore, 0)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return
	}
	if conn.expiry != nil {
		conn.expiry.Stop()
	}
	conn.expiry = time.AfterFunc(wait, func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Time("exp", exp).Msg("token will expire")
		ctl.sendJSON(conn, newTokenWillExpire(exp))
	})
}

// disconnect runs once the socket is gone: leave the room as "dropped" and
// forget the session.
func (ctl *SignalWSController) disconnect(sid core.SessionID) {
	if roomID, uid, ok := ctl.Orch.Leave(sid); ok {
		ctl.broadcastRoom(roomID, newMemberLeft(uid, reasonDropped))
	}
	ctl.Orch.Registry.Cancel(sid)
	ctl.Orch.Registry.Unbind(sid)
}
