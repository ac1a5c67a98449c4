package presence

import (
	"context"
	"sync"
	"testing"

	"github.com/dkeye/voicepresence/internal/core"
	"github.com/dkeye/voicepresence/internal/domain"
)

type fakeEngine struct {
	mu        sync.Mutex
	events    chan core.Event
	closeOnce sync.Once

	inits, joins, leaves, destroys int
	joinCode, leaveCode, muteCode  int
	muteCalls                      []bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan core.Event, 64)}
}

func (e *fakeEngine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inits++
	return nil
}

func (e *fakeEngine) JoinChannel(string, string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.joins++
	return e.joinCode
}

func (e *fakeEngine) LeaveChannel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leaves++
	return e.leaveCode
}

func (e *fakeEngine) MuteLocalAudio(muted bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muteCalls = append(e.muteCalls, muted)
	return e.muteCode
}

func (e *fakeEngine) Destroy() {
	e.mu.Lock()
	e.destroys++
	e.mu.Unlock()
	e.closeOnce.Do(func() { close(e.events) })
}

func (e *fakeEngine) Events() <-chan core.Event { return e.events }

func (e *fakeEngine) emit(evs ...core.Event) {
	for _, ev := range evs {
		e.events <- ev
	}
}

func (e *fakeEngine) set(fn func(e *fakeEngine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

func (e *fakeEngine) counts() (inits, joins, leaves, destroys int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inits, e.joins, e.leaves, e.destroys
}

// fakeStore backs all three store interfaces with maps.
type fakeStore struct {
	mu       sync.Mutex
	presence map[domain.ChannelID]map[domain.UserID]domain.SessionUID
	mappings map[domain.UserID]domain.SessionUID
	profiles map[domain.UserID]domain.Identity

	leaveErr    error
	resolveGate chan struct{}
	resolves    int

	// joinGate holds JoinPresence for joinGateFor until closed. A held
	// write ignores its context: it is already on the wire.
	joinGate    chan struct{}
	joinGateFor domain.UserID
	joinsHeld   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		presence: map[domain.ChannelID]map[domain.UserID]domain.SessionUID{},
		mappings: map[domain.UserID]domain.SessionUID{},
		profiles: map[domain.UserID]domain.Identity{},
	}
}

func (s *fakeStore) JoinPresence(_ context.Context, ch domain.ChannelID, u domain.UserID, uid domain.SessionUID) error {
	s.mu.Lock()
	gate := s.joinGate
	if gate != nil && u == s.joinGateFor {
		s.joinsHeld++
		s.mu.Unlock()
		<-gate
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.presence[ch] == nil {
		s.presence[ch] = map[domain.UserID]domain.SessionUID{}
	}
	s.presence[ch][u] = uid
	return nil
}

func (s *fakeStore) LeavePresence(_ context.Context, ch domain.ChannelID, u domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaveErr != nil {
		return s.leaveErr
	}
	delete(s.presence[ch], u)
	return nil
}

func (s *fakeStore) Presence(_ context.Context, ch domain.ChannelID) (domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := domain.PresenceRecord{ChannelID: ch, Participants: map[domain.UserID]domain.SessionUID{}}
	for u, uid := range s.presence[ch] {
		out.Participants[u] = uid
	}
	return out, nil
}

func (s *fakeStore) WatchPresence(context.Context, domain.ChannelID) (<-chan domain.PresenceRecord, error) {
	return nil, nil
}

func (s *fakeStore) PutMapping(_ context.Context, u domain.UserID, uid domain.SessionUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[u] = uid
	return nil
}

func (s *fakeStore) MappingOf(_ context.Context, u domain.UserID) (domain.SessionUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.mappings[u]
	if !ok {
		return 0, core.ErrIdentityNotFound
	}
	return uid, nil
}

func (s *fakeStore) ResolveUID(ctx context.Context, uid domain.SessionUID) (domain.UserID, error) {
	s.mu.Lock()
	s.resolves++
	gate := s.resolveGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for u, v := range s.mappings {
		if v == uid {
			return u, nil
		}
	}
	return "", core.ErrIdentityNotFound
}

func (s *fakeStore) PutProfile(_ context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id.ID] = id
	return nil
}

func (s *fakeStore) Profile(_ context.Context, u domain.UserID) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[u]
	if !ok {
		return domain.Identity{}, core.ErrProfileNotFound
	}
	return p, nil
}

func (s *fakeStore) inPresence(ch domain.ChannelID, u domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.presence[ch][u]
	return ok
}

// holdJoins blocks presence writes for u until release is called.
func (s *fakeStore) holdJoins(t *testing.T, u domain.UserID) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.joinGate = gate
	s.joinGateFor = u
	s.mu.Unlock()
	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return release
}

func (s *fakeStore) heldJoins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinsHeld
}

func (s *fakeStore) resolveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolves
}

type staticUser struct {
	id domain.Identity
	ok bool
}

func (u staticUser) CurrentUser() (domain.Identity, bool) { return u.id, u.ok }
