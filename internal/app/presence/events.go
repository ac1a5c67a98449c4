package presence

import (
	"context"
	"errors"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
)

func (r *Reconciler) run(events <-chan core.Event) {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handle(ev)
		}
	}
}

func (r *Reconciler) handle(ev core.Event) {
	switch e := ev.(type) {
	case core.JoinChannelSuccess:
		r.onJoinSuccess(e)
	case core.UserJoined:
		r.onUserJoined(e.UID)
	case core.UserOffline:
		r.onUserOffline(e.UID, e.Reason)
	case core.RemoteAudioStateChanged:
		r.onRemoteAudio(e)
	case core.ConnectionStateChanged:
		r.onConnectionState(e)
	case core.TokenWillExpire:
		r.log.Warn().Msg("engine token will expire soon; renew it")
	default:
		r.log.Debug().Msgf("unhandled engine event %T", ev)
	}
}

func (r *Reconciler) onJoinSuccess(e core.JoinChannelSuccess) {
	me, known := r.users.CurrentUser()

	r.mu.Lock()
	if !r.inSessionLocked() {
		r.mu.Unlock()
		r.log.Debug().Uint32("uid", uint32(e.UID)).Msg("join success after leave, ignored")
		return
	}
	if e.Channel != "" {
		r.channel = domain.ChannelID(e.Channel)
	}
	r.selfUID = e.UID
	r.joined = true
	row := domain.LocalParticipant{UID: e.UID, Muted: r.mutedVal}
	if known {
		r.self = me.ID
		row.DisplayName = me.DisplayName
		row.PhotoURL = me.PhotoURL
	}
	r.table[e.UID] = row
	r.publishLocked()
	r.setStateLocked(domain.Connected)
	channel, epoch := r.channel, r.epoch

	r.log.Info().Str("channel", string(channel)).Uint32("uid", uint32(e.UID)).
		Dur("elapsed", e.Elapsed).Msg("joined channel")

	if !known {
		r.mu.Unlock()
		r.log.Warn().Msg("no signed-in user; presence not published")
		return
	}
	r.spawnLocked(func(ctx context.Context) {
		r.publishSelf(ctx, epoch, channel, me, e.UID)
	})
	r.mu.Unlock()
}

// publishSelf writes the identity mapping, the profile and the presence entry
// for the local user. Each write stands alone.
func (r *Reconciler) publishSelf(ctx context.Context, epoch uint64, channel domain.ChannelID, me domain.Identity, uid domain.SessionUID) {
	if err := r.call(ctx, func(ctx context.Context) error {
		return r.identities.PutMapping(ctx, me.ID, uid)
	}); err != nil {
		r.log.Warn().Err(err).Str("user", string(me.ID)).Msg("identity mapping write failed")
	}
	if err := r.call(ctx, func(ctx context.Context) error {
		return r.profiles.PutProfile(ctx, me)
	}); err != nil {
		r.log.Warn().Err(err).Str("user", string(me.ID)).Msg("profile write failed")
	}
	wrote, err := r.writeIf(ctx, func() bool { return r.epoch == epoch }, func(ctx context.Context) error {
		return r.presence.JoinPresence(ctx, channel, me.ID, uid)
	})
	if err != nil {
		r.log.Warn().Err(err).Str("channel", string(channel)).Msg("presence join failed")
	} else if !wrote {
		r.log.Debug().Str("channel", string(channel)).Msg("session ended before presence join")
	}
}

func (r *Reconciler) onUserJoined(uid domain.SessionUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inSessionLocked() {
		return
	}
	if _, ok := r.table[uid]; !ok {
		r.table[uid] = domain.LocalParticipant{UID: uid}
		r.publishLocked()
	}
	epoch, channel := r.epoch, r.channel
	r.spawnLocked(func(ctx context.Context) {
		r.resolveRemote(ctx, epoch, channel, uid)
	})
}

// resolveRemote fills in display metadata for uid and mirrors it into the
// presence record, unless the user left or the session ended meanwhile.
func (r *Reconciler) resolveRemote(ctx context.Context, epoch uint64, channel domain.ChannelID, uid domain.SessionUID) {
	var user domain.UserID
	err := r.call(ctx, func(ctx context.Context) (err error) {
		user, err = r.identities.ResolveUID(ctx, uid)
		return err
	})
	if err != nil {
		r.logResolve(err, uid)
		return
	}

	var profile domain.Identity
	profileErr := r.call(ctx, func(ctx context.Context) (err error) {
		profile, err = r.profiles.Profile(ctx, user)
		return err
	})
	if profileErr != nil && !errors.Is(profileErr, core.ErrProfileNotFound) {
		r.log.Warn().Err(profileErr).Str("user", string(user)).Msg("profile read failed")
	}

	r.mu.Lock()
	row, present := r.table[uid]
	if r.epoch != epoch || !present {
		r.mu.Unlock()
		r.log.Debug().Uint32("uid", uint32(uid)).Msg("resolution arrived after user left")
		return
	}
	if profileErr == nil {
		row.DisplayName = profile.DisplayName
		row.PhotoURL = profile.PhotoURL
		r.table[uid] = row
		r.publishLocked()
	}
	r.mu.Unlock()

	if channel == "" {
		return
	}
	stillHere := func() bool {
		_, ok := r.table[uid]
		return r.epoch == epoch && ok
	}
	wrote, err := r.writeIf(ctx, stillHere, func(ctx context.Context) error {
		return r.presence.JoinPresence(ctx, channel, user, uid)
	})
	if err != nil {
		r.log.Warn().Err(err).Str("channel", string(channel)).Str("user", string(user)).
			Msg("presence mirror failed")
	} else if !wrote {
		r.log.Debug().Uint32("uid", uint32(uid)).Msg("user left before presence mirror")
	}
}

func (r *Reconciler) onUserOffline(uid domain.SessionUID, reason core.UserOfflineReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table[uid]; ok {
		delete(r.table, uid)
		r.publishLocked()
	}
	channel := r.channel
	r.log.Debug().Uint32("uid", uint32(uid)).Int("reason", int(reason)).Msg("user offline")
	if channel == "" {
		return
	}
	r.spawnLocked(func(ctx context.Context) {
		var user domain.UserID
		err := r.call(ctx, func(ctx context.Context) (err error) {
			user, err = r.identities.ResolveUID(ctx, uid)
			return err
		})
		if err != nil {
			r.logResolve(err, uid)
			return
		}
		if err := r.remove(ctx, channel, user); err != nil {
			r.log.Warn().Err(err).Str("channel", string(channel)).Str("user", string(user)).
				Msg("presence cleanup for departed user failed")
		}
	})
}

func (r *Reconciler) onRemoteAudio(e core.RemoteAudioStateChanged) {
	var muted bool
	switch e.State {
	case core.RemoteAudioStopped:
		if e.Reason != core.AudioReasonLocalMuted && e.Reason != core.AudioReasonRemoteMuted {
			return
		}
		muted = true
	case core.RemoteAudioStarting, core.RemoteAudioDecoding:
		muted = false
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.table[e.UID]
	if !ok || row.Muted == muted {
		return
	}
	row.Muted = muted
	r.table[e.UID] = row
	r.publishLocked()
}

func (r *Reconciler) onConnectionState(e core.ConnectionStateChanged) {
	next := mapState(e.State)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaving || r.destroyed {
		// leave owns the transition to Disconnected
		return
	}
	prev := r.stateVal
	if next != domain.Disconnected || prev == domain.Disconnected {
		if next == domain.Failed {
			// the engine forgot its mute along with the refused session
			r.setMutedLocked(false)
		}
		r.setStateLocked(next)
		return
	}

	channel, self := r.channel, r.self
	r.log.Warn().Str("channel", string(channel)).Int("reason", int(e.Reason)).
		Stringer("from", prev).Msg("dropped from channel")
	r.resetSessionLocked()
	r.setMutedLocked(false)
	r.setStateLocked(domain.Disconnected)
	if channel == "" || self == "" {
		return
	}
	r.spawnLocked(func(ctx context.Context) {
		if err := r.remove(ctx, channel, self); err != nil {
			r.log.Warn().Err(err).Str("channel", string(channel)).Msg("presence cleanup on drop failed")
		}
	})
}

func mapState(s core.EngineConnectionState) domain.ConnectionState {
	switch s {
	case core.EngineConnecting, core.EngineReconnecting:
		return domain.Connecting
	case core.EngineConnected:
		return domain.Connected
	case core.EngineFailed:
		return domain.Failed
	}
	return domain.Disconnected
}

// spawnLocked runs fn on the background scope unless the reconciler is
// being destroyed. Callers hold r.mu.
func (r *Reconciler) spawnLocked(fn func(ctx context.Context)) {
	if r.destroyed {
		return
	}
	r.tasks.Go(func() { fn(r.ctx) })
}

// call runs one store operation bounded by the backend timeout.
func (r *Reconciler) call(parent context.Context, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()
	return op(ctx)
}

// writeIf runs a presence write only if still, checked under mu, holds. The
// check and the write happen under writes, so a delete queued behind them
// always lands after the write.
func (r *Reconciler) writeIf(ctx context.Context, still func() bool, op func(ctx context.Context) error) (bool, error) {
	r.writes.Lock()
	defer r.writes.Unlock()
	r.mu.Lock()
	ok := still()
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, r.call(ctx, op)
}

// remove deletes user's presence key, ordered after any write in flight.
func (r *Reconciler) remove(ctx context.Context, channel domain.ChannelID, user domain.UserID) error {
	r.writes.Lock()
	defer r.writes.Unlock()
	return r.call(ctx, func(ctx context.Context) error {
		return r.presence.LeavePresence(ctx, channel, user)
	})
}

func (r *Reconciler) logResolve(err error, uid domain.SessionUID) {
	if errors.Is(err, core.ErrIdentityNotFound) {
		r.log.Debug().Uint32("uid", uint32(uid)).Msg("uid has no identity mapping")
		return
	}
	r.log.Warn().Err(err).Uint32("uid", uint32(uid)).Msg("identity lookup failed")
}
