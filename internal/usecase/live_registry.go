package usecase

import (
	"sync"
	"sync/atomic"

	"github.com/V4T54L/schoolpulse/internal/domain"
)

// DefaultSessionBuffer is the outbound backlog of a session before the oldest event is dropped.
const DefaultSessionBuffer = 64

// Session is one open real-time connection. Transports drain Outbound until
// it is closed by Unregister.
type Session struct {
	ID    string
	Owner domain.SessionOwner

	mu     sync.Mutex // guards out and closed
	out    chan domain.Event
	closed bool
	done   chan struct{}

	dropped atomic.Int64

	// guarded by the registry lock
	groups map[string]struct{}
}

func newSession(id string, owner domain.SessionOwner, buffer int) *Session {
	return &Session{
		ID:     id,
		Owner:  owner,
		out:    make(chan domain.Event, buffer),
		done:   make(chan struct{}),
		groups: make(map[string]struct{}),
	}
}

// Outbound is the queue of events awaiting delivery to the client.
func (s *Session) Outbound() <-chan domain.Event { return s.out }

// Done is closed once the session has been unregistered.
func (s *Session) Done() <-chan struct{} { return s.done }

// Dropped returns how many queued events were discarded for this session.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// enqueue appends ev to the backlog, discarding the oldest queued event when
// the backlog is full. It never blocks and is a no-op once the session is closed.
func (s *Session) enqueue(ev domain.Event) (delivered, droppedOldest bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}

	select {
	case s.out <- ev:
		return true, false
	default:
	}

	select {
	case <-s.out:
		droppedOldest = true
		s.dropped.Add(1)
	default:
	}

	select {
	case s.out <- ev:
		return true, droppedOldest
	default:
		s.dropped.Add(1)
		return false, droppedOldest
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
	close(s.done)
}

// RegistryStats is a point-in-time view of a registry's size.
type RegistryStats struct {
	Sessions int `json:"sessions"`
	Users    int `json:"users"`
	Groups   int `json:"groups"`
}

// LiveRegistry tracks open sessions by id, by owning user and by group.
type LiveRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	users    map[int64]map[string]*Session
	groups   map[string]map[string]*Session

	bufferSize int
	onSize     func(sessions int)
}

// NewLiveRegistry creates an empty registry. bufferSize <= 0 selects DefaultSessionBuffer.
func NewLiveRegistry(bufferSize int) *LiveRegistry {
	if bufferSize <= 0 {
		bufferSize = DefaultSessionBuffer
	}
	return &LiveRegistry{
		sessions:   make(map[string]*Session),
		users:      make(map[int64]map[string]*Session),
		groups:     make(map[string]map[string]*Session),
		bufferSize: bufferSize,
	}
}

// Register creates a live session and places it in its implicit user and
// role groups. Registering an existing id returns the existing session.
func (r *LiveRegistry) Register(sessionID string, owner domain.SessionOwner) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		return s
	}

	s := newSession(sessionID, owner, r.bufferSize)
	r.sessions[sessionID] = s

	if owner.UserID != nil {
		uid := *owner.UserID
		list, ok := r.users[uid]
		if !ok {
			list = make(map[string]*Session)
			r.users[uid] = list
		}
		list[sessionID] = s
		r.joinLocked(s, domain.UserGroup(uid))
	}
	if owner.Role != "" {
		r.joinLocked(s, domain.RoleGroup(owner.Role))
	}

	r.reportSizeLocked()
	return s
}

// Join adds a session to a topic group. Role and user groups are implicit and cannot be joined.
func (r *LiveRegistry) Join(sessionID, group string) error {
	if err := validateTopic(group); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	r.joinLocked(s, group)
	return nil
}

// Leave removes a session from a topic group. Leaving a group the session is not in is a no-op.
func (r *LiveRegistry) Leave(sessionID, group string) error {
	if err := validateTopic(group); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	r.leaveLocked(s, group)
	return nil
}

// Unregister removes a session from every group and from its user's list,
// dropping the user entry with the last session. Unknown ids are ignored.
func (r *LiveRegistry) Unregister(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	delete(r.sessions, sessionID)
	for group := range s.groups {
		r.leaveLocked(s, group)
	}
	if s.Owner.UserID != nil {
		uid := *s.Owner.UserID
		if list, ok := r.users[uid]; ok {
			delete(list, sessionID)
			if len(list) == 0 {
				delete(r.users, uid)
			}
		}
	}
	r.reportSizeLocked()
	r.mu.Unlock()

	s.close()
	return true
}

// Members returns a snapshot of the sessions currently in group.
func (r *LiveRegistry) Members(group string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.groups[group]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// UserSessions returns a snapshot of the sessions owned by userID.
func (r *LiveRegistry) UserSessions(userID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.users[userID]
	out := make([]*Session, 0, len(list))
	for _, s := range list {
		out = append(out, s)
	}
	return out
}

// Session looks up a live session by id.
func (r *LiveRegistry) Session(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// GroupsOf returns the groups a session is currently in.
func (r *LiveRegistry) GroupsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	return out
}

// Stats returns the current registry size.
func (r *LiveRegistry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{Sessions: len(r.sessions), Users: len(r.users), Groups: len(r.groups)}
}

func (r *LiveRegistry) joinLocked(s *Session, group string) {
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]*Session)
		r.groups[group] = members
	}
	members[s.ID] = s
	s.groups[group] = struct{}{}
}

func (r *LiveRegistry) leaveLocked(s *Session, group string) {
	delete(s.groups, group)
	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, s.ID)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

func (r *LiveRegistry) reportSizeLocked() {
	if r.onSize != nil {
		r.onSize(len(r.sessions))
	}
}

func validateTopic(group string) error {
	if group == "" || len(group) > 128 {
		return domain.ErrInvalidGroup
	}
	if domain.IsReservedGroup(group) {
		return domain.ErrReservedGroup
	}
	return nil
}

// UnregisterAll removes every session, e.g. on shutdown, and returns how many were live.
func (r *LiveRegistry) UnregisterAll() int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if r.Unregister(id) {
			n++
		}
	}
	return n
}
