package sfuclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/voicepresence/internal/adapters/wire"
	"github.com/dkeye/voicepresence/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const wait = 3 * time.Second

// fakeServer accepts signalling sockets and records what clients send.
type fakeServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	msgs  chan []byte
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		conns: make(chan *websocket.Conn, 4),
		msgs:  make(chan []byte, 256),
	}
	up := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		t.Cleanup(func() { _ = ws.Close() })
		fs.conns <- ws
		go func() {
			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				fs.msgs <- data
			}
		}()
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/api/ws/signal"
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-fs.conns:
		return ws
	case <-time.After(wait):
		t.Fatal("no client connected")
		return nil
	}
}

// expect skips client messages until one of type typ and decodes it.
func (fs *fakeServer) expect(t *testing.T, typ string, out any) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case data := <-fs.msgs:
			got, err := wire.TypeOf(data)
			require.NoError(t, err)
			if got != typ {
				continue
			}
			if out != nil {
				require.NoError(t, json.Unmarshal(data, out))
			}
			return
		case <-deadline:
			t.Fatalf("client never sent %s", typ)
		}
	}
}

func newEngine(t *testing.T, url string) *Engine {
	t.Helper()
	e := New(Options{SignalURL: url, DialTimeout: time.Second, Logger: zerolog.Nop()})
	t.Cleanup(e.Destroy)
	return e
}

func next(t *testing.T, e *Engine) core.Event {
	t.Helper()
	select {
	case ev, ok := <-e.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(wait):
		t.Fatal("no engine event")
		return nil
	}
}

// nextSignal skips transient peer connection flaps, which depend on ICE
// timing.
func nextSignal(t *testing.T, e *Engine) core.Event {
	t.Helper()
	for {
		ev := next(t, e)
		if cs, ok := ev.(core.ConnectionStateChanged); ok && cs.State == core.EngineReconnecting {
			continue
		}
		return ev
	}
}

func joinRoom(t *testing.T, e *Engine, fs *fakeServer, members []wire.Member) *websocket.Conn {
	t.Helper()
	require.Equal(t, core.CodeOK, e.JoinChannel("r1", "tok"))
	require.Equal(t, core.ConnectionStateChanged{State: core.EngineConnecting, Reason: core.ReasonConnecting}, next(t, e))

	ws := fs.accept(t)
	var join wire.Join
	fs.expect(t, wire.TypeJoin, &join)
	require.Equal(t, "r1", join.Room)

	require.NoError(t, ws.WriteJSON(wire.Joined{Type: wire.TypeJoined, Room: "r1", UID: 2, Members: members}))
	success, ok := nextSignal(t, e).(core.JoinChannelSuccess)
	require.True(t, ok)
	require.Equal(t, "r1", success.Channel)
	require.EqualValues(t, 2, success.UID)
	require.Equal(t, core.ConnectionStateChanged{State: core.EngineConnected, Reason: core.ReasonJoinSuccess}, nextSignal(t, e))
	return ws
}

func TestJoinedEvents(t *testing.T) {
	evs := joinedEvents(wire.Joined{
		Room: "r1",
		UID:  2,
		Members: []wire.Member{
			{UID: 1, Muted: true},
			{UID: 2},
			{UID: 3},
		},
	}, time.Second)

	require.Equal(t, []core.Event{
		core.JoinChannelSuccess{Channel: "r1", UID: 2, Elapsed: time.Second},
		core.ConnectionStateChanged{State: core.EngineConnected, Reason: core.ReasonJoinSuccess},
		core.UserJoined{UID: 1},
		core.RemoteAudioStateChanged{UID: 1, State: core.RemoteAudioStopped, Reason: core.AudioReasonRemoteMuted},
		core.UserJoined{UID: 3},
	}, evs)
}

func TestMemberMessageMapping(t *testing.T) {
	require.Equal(t, core.OfflineDropped, offlineReason(wire.ReasonDropped))
	require.Equal(t, core.OfflineQuit, offlineReason(wire.ReasonQuit))
	require.Equal(t, core.OfflineQuit, offlineReason(""))

	require.Equal(t,
		core.RemoteAudioStateChanged{UID: 4, State: core.RemoteAudioDecoding, Reason: core.AudioReasonRemoteUnmuted},
		remoteAudio(4, false))
}

func TestSessionLifecycle(t *testing.T) {
	fs := newFakeServer(t)
	e := newEngine(t, fs.url())
	require.NoError(t, e.Initialize())

	ws := joinRoom(t, e, fs, []wire.Member{{UID: 1, Muted: true}, {UID: 2}})
	require.Equal(t, core.UserJoined{UID: 1}, nextSignal(t, e))
	require.Equal(t, core.RemoteAudioStateChanged{UID: 1, State: core.RemoteAudioStopped, Reason: core.AudioReasonRemoteMuted}, nextSignal(t, e))

	var offer wire.SDP
	fs.expect(t, wire.TypeOffer, &offer)
	require.Contains(t, offer.SDP, "m=audio")

	require.NoError(t, ws.WriteJSON(wire.MemberJoined{Type: wire.TypeMemberJoined, UID: 3}))
	require.NoError(t, ws.WriteJSON(wire.MemberMuted{Type: wire.TypeMemberMuted, UID: 3, Muted: true}))
	require.NoError(t, ws.WriteJSON(wire.MemberLeft{Type: wire.TypeMemberLeft, UID: 1, Reason: wire.ReasonDropped}))
	require.NoError(t, ws.WriteJSON(wire.TokenWillExpire{Type: wire.TypeTokenWillExpire, ExpiresAt: time.Now().Unix()}))

	require.Equal(t, core.UserJoined{UID: 3}, nextSignal(t, e))
	require.Equal(t, core.RemoteAudioStateChanged{UID: 3, State: core.RemoteAudioStopped, Reason: core.AudioReasonRemoteMuted}, nextSignal(t, e))
	require.Equal(t, core.UserOffline{UID: 1, Reason: core.OfflineDropped}, nextSignal(t, e))
	require.Equal(t, core.TokenWillExpire{Token: "tok"}, nextSignal(t, e))

	require.Equal(t, core.CodeOK, e.MuteLocalAudio(true))
	var mute wire.Mute
	fs.expect(t, wire.TypeMute, &mute)
	require.True(t, mute.Muted)
	require.True(t, e.Muted())

	require.Equal(t, core.CodeOK, e.RenewToken("tok2"))
	var renew wire.Renew
	fs.expect(t, wire.TypeRenew, &renew)
	require.Equal(t, "tok2", renew.Token)

	require.Equal(t, core.CodeOK, e.LeaveChannel())
	fs.expect(t, wire.TypeLeave, nil)
	require.Equal(t, core.ConnectionStateChanged{State: core.EngineDisconnected, Reason: core.ReasonLeaveChannel}, nextSignal(t, e))
	require.False(t, e.Muted())

	e.Destroy()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-e.Events():
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, wait, 10*time.Millisecond)
}

func TestServerDropReportsInterrupted(t *testing.T) {
	fs := newFakeServer(t)
	e := newEngine(t, fs.url())
	require.NoError(t, e.Initialize())

	ws := joinRoom(t, e, fs, []wire.Member{{UID: 2}})
	require.NoError(t, ws.Close())
	require.Equal(t, core.ConnectionStateChanged{State: core.EngineDisconnected, Reason: core.ReasonInterrupted}, nextSignal(t, e))

	// the slot is free again
	joinRoom(t, e, fs, []wire.Member{{UID: 2}})
}

func TestJoinRefusedByServer(t *testing.T) {
	fs := newFakeServer(t)
	e := newEngine(t, fs.url())
	require.NoError(t, e.Initialize())

	require.Equal(t, core.CodeOK, e.JoinChannel("r1", "tok"))
	require.Equal(t, core.ConnectionStateChanged{State: core.EngineConnecting, Reason: core.ReasonConnecting}, next(t, e))
	ws := fs.accept(t)
	fs.expect(t, wire.TypeJoin, nil)
	require.Equal(t, core.CodeNotReady, e.MuteLocalAudio(true), "no mute before the join is confirmed")

	require.NoError(t, ws.WriteJSON(wire.Error{Type: wire.TypeError, Error: "rate_limited"}))
	require.Equal(t, core.ConnectionStateChanged{State: core.EngineFailed, Reason: core.ReasonJoinFailed}, nextSignal(t, e))
	require.Equal(t, core.CodeOK, e.JoinChannel("r1", "tok"))
}

func TestCommandCodes(t *testing.T) {
	fs := newFakeServer(t)
	e := newEngine(t, fs.url())

	require.Equal(t, core.CodeNotInitialized, e.JoinChannel("r1", "tok"))
	require.NoError(t, e.Initialize())
	require.ErrorIs(t, e.Initialize(), ErrAlreadyInitialized)

	require.Equal(t, core.CodeInvalidArgument, e.JoinChannel("r1", ""))
	require.Equal(t, core.CodeNotReady, e.MuteLocalAudio(true))
	require.Equal(t, core.CodeNotReady, e.RenewToken("tok"))
	require.Equal(t, core.CodeOK, e.LeaveChannel())

	require.Equal(t, core.CodeOK, e.JoinChannel("r1", "tok"))
	require.Equal(t, core.CodeRefused, e.JoinChannel("r2", "tok"))
}

func TestDialFailure(t *testing.T) {
	fs := newFakeServer(t)
	url := fs.url()
	fs.srv.Close()

	e := newEngine(t, url)
	require.NoError(t, e.Initialize())
	require.Equal(t, core.CodeFailed, e.JoinChannel("r1", "tok"))
	// a failed dial frees the slot
	require.Equal(t, core.CodeFailed, e.JoinChannel("r1", "tok"))
}

func TestDestroyWithoutInitialize(t *testing.T) {
	e := New(Options{Logger: zerolog.Nop()})
	e.Destroy()
	e.Destroy()
	_, ok := <-e.Events()
	require.False(t, ok)
	require.Equal(t, core.CodeNotInitialized, e.JoinChannel("r1", "tok"))
}
