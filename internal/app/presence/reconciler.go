// Package presence keeps a local view of a voice channel in step with the
// audio engine and mirrors it into the shared presence store.
//
// The engine is the source of truth for who is in the call. The presence
// document and identity mappings are best-effort mirrors written in the
// background; they are never updated atomically with the local table.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
	"github.com/dkeye/voicepresence/internal/observable"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const DefaultBackendTimeout = 5 * time.Second

var ErrDestroyed = errors.New("reconciler destroyed")

// Deps wires a Reconciler to its collaborators.
type Deps struct {
	Engine     core.Engine
	Presence   core.PresenceStore
	Identities core.IdentityStore
	Profiles   core.ProfileStore
	Users      core.IdentityProvider
	Logger     zerolog.Logger
	// BackendTimeout bounds every store call. Zero means DefaultBackendTimeout.
	BackendTimeout time.Duration
}

// Reconciler is the only writer of the participant table, the connection
// state and the local mute flag. Readers use the getters or the Watch streams.
type Reconciler struct {
	engine     core.Engine
	presence   core.PresenceStore
	identities core.IdentityStore
	profiles   core.ProfileStore
	users      core.IdentityProvider
	timeout    time.Duration
	log        zerolog.Logger

	// background scope, lives as long as the reconciler
	ctx    context.Context
	cancel context.CancelFunc
	tasks  conc.WaitGroup
	done   chan struct{}

	// cmd serializes public commands. Engine calls are made holding cmd but never mu.
	cmd sync.Mutex
	// writes orders presence writes against the deletes that undo them. A
	// write checks that its session is still current while holding it.
	// Lock order: writes before mu.
	writes sync.Mutex

	mu          sync.Mutex
	initialized bool
	destroyed   bool
	leaving     bool
	epoch       uint64
	channel     domain.ChannelID
	self        domain.UserID
	selfUID     domain.SessionUID
	joined      bool
	table       domain.ParticipantTable
	stateVal    domain.ConnectionState
	mutedVal    bool

	participants *observable.Value[domain.ParticipantTable]
	state        *observable.Value[domain.ConnectionState]
	muted        *observable.Value[bool]
}

// New builds a reconciler and starts consuming engine events right away.
func New(d Deps) *Reconciler {
	timeout := d.BackendTimeout
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		engine:       d.Engine,
		presence:     d.Presence,
		identities:   d.Identities,
		profiles:     d.Profiles,
		users:        d.Users,
		timeout:      timeout,
		log:          d.Logger.With().Str("module", "presence").Logger(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		table:        domain.ParticipantTable{},
		participants: observable.New(domain.ParticipantTable{}),
		state:        observable.New(domain.Disconnected),
		muted:        observable.New(false),
	}
	go r.run(d.Engine.Events())
	return r
}

// Initialize prepares the engine. Repeated calls are no-ops.
func (r *Reconciler) Initialize() error {
	r.cmd.Lock()
	defer r.cmd.Unlock()

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	if r.initialized {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.engine.Initialize(); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()
	r.log.Info().Msg("engine initialized")
	return nil
}

// JoinChannel starts joining channel. The outcome is reported through the
// state stream: Connected on success, Failed if the engine refused.
func (r *Reconciler) JoinChannel(channel domain.ChannelID, token string) {
	r.cmd.Lock()
	defer r.cmd.Unlock()

	r.mu.Lock()
	if !r.initialized || r.destroyed {
		r.mu.Unlock()
		r.log.Warn().Str("channel", string(channel)).Msg("join ignored: engine not initialized")
		return
	}
	if !r.stateVal.CanJoin() {
		state := r.stateVal
		r.mu.Unlock()
		r.log.Warn().Str("channel", string(channel)).Stringer("state", state).Msg("join ignored")
		return
	}
	r.resetSessionLocked()
	r.channel = channel
	r.setStateLocked(domain.Connecting)
	epoch := r.epoch
	r.mu.Unlock()

	code := r.engine.JoinChannel(string(channel), token)
	if code == core.CodeOK {
		return
	}

	r.log.Error().Str("channel", string(channel)).Int("code", code).Msg("engine refused join")
	r.mu.Lock()
	if r.epoch == epoch {
		r.channel = ""
		r.setMutedLocked(false)
		r.setStateLocked(domain.Failed)
	}
	r.mu.Unlock()
}

// LeaveChannel drops the local user out of the channel. Local state is reset
// even when the presence store cannot be reached.
func (r *Reconciler) LeaveChannel() {
	r.cmd.Lock()
	defer r.cmd.Unlock()
	r.leave()
}

func (r *Reconciler) leave() {
	r.mu.Lock()
	if !r.initialized || r.stateVal == domain.Disconnected {
		r.mu.Unlock()
		return
	}
	r.leaving = true
	r.epoch++
	channel, self := r.channel, r.self
	r.mu.Unlock()

	if channel != "" && self != "" {
		// waits for a self-publish already past its epoch check
		r.writes.Lock()
		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		if err := r.presence.LeavePresence(ctx, channel, self); err != nil {
			r.log.Warn().Err(err).Str("channel", string(channel)).Str("user", string(self)).
				Msg("presence cleanup on leave failed")
		}
		cancel()
		r.writes.Unlock()
	}

	if code := r.engine.LeaveChannel(); code != core.CodeOK {
		r.log.Warn().Int("code", code).Msg("engine leave returned error")
	}

	r.mu.Lock()
	r.resetSessionLocked()
	r.setMutedLocked(false)
	r.setStateLocked(domain.Disconnected)
	r.leaving = false
	r.mu.Unlock()
	r.log.Info().Str("channel", string(channel)).Msg("left channel")
}

// ToggleLocalAudioMute flips the local mute flag. The flag only changes if the
// engine accepted the new value.
func (r *Reconciler) ToggleLocalAudioMute() {
	r.cmd.Lock()
	defer r.cmd.Unlock()

	r.mu.Lock()
	if !r.initialized || r.destroyed {
		r.mu.Unlock()
		return
	}
	next := !r.mutedVal
	r.mu.Unlock()

	if code := r.engine.MuteLocalAudio(next); code != core.CodeOK {
		r.log.Warn().Bool("muted", next).Int("code", code).Msg("engine declined mute change")
		return
	}

	r.mu.Lock()
	r.setMutedLocked(next)
	if r.joined {
		if row, ok := r.table[r.selfUID]; ok {
			row.Muted = next
			r.table[r.selfUID] = row
			r.publishLocked()
		}
	}
	r.mu.Unlock()
}

// Destroy leaves the channel, releases the engine and waits for background
// work to finish. It is safe to call more than once.
func (r *Reconciler) Destroy() {
	r.cmd.Lock()
	defer r.cmd.Unlock()

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.leave()

	r.mu.Lock()
	r.destroyed = true
	r.mu.Unlock()

	r.engine.Destroy()
	r.cancel()
	<-r.done
	r.tasks.Wait()
	r.log.Info().Msg("destroyed")
}

func (r *Reconciler) State() domain.ConnectionState { return r.state.Get() }

func (r *Reconciler) Muted() bool { return r.muted.Get() }

// Participants returns a private copy of the current table.
func (r *Reconciler) Participants() domain.ParticipantTable {
	return r.participants.Get().Clone()
}

// Channel is the channel of the current session, empty when not in one.
func (r *Reconciler) Channel() domain.ChannelID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

func (r *Reconciler) WatchState(ctx context.Context) <-chan domain.ConnectionState {
	return r.state.Subscribe(ctx)
}

func (r *Reconciler) WatchMuted(ctx context.Context) <-chan bool {
	return r.muted.Subscribe(ctx)
}

// WatchParticipants streams table snapshots. Snapshots are shared between
// subscribers and must not be modified.
func (r *Reconciler) WatchParticipants(ctx context.Context) <-chan domain.ParticipantTable {
	return r.participants.Subscribe(ctx)
}

// resetSessionLocked forgets the current session and invalidates every
// background result started for it.
func (r *Reconciler) resetSessionLocked() {
	r.epoch++
	r.channel = ""
	r.self = ""
	r.selfUID = 0
	r.joined = false
	if len(r.table) > 0 {
		r.table = domain.ParticipantTable{}
		r.publishLocked()
	}
}

func (r *Reconciler) publishLocked() {
	r.participants.Set(r.table.Clone())
}

func (r *Reconciler) setStateLocked(s domain.ConnectionState) {
	if r.stateVal == s {
		return
	}
	r.log.Debug().Stringer("from", r.stateVal).Stringer("to", s).Msg("connection state")
	r.stateVal = s
	r.state.Set(s)
}

func (r *Reconciler) setMutedLocked(m bool) {
	if r.mutedVal == m {
		return
	}
	r.mutedVal = m
	r.muted.Set(m)
}

// inSessionLocked reports whether remote events still belong to a live session.
func (r *Reconciler) inSessionLocked() bool {
	return !r.leaving && (r.stateVal == domain.Connecting || r.stateVal == domain.Connected)
}
