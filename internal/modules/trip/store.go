// README: Session store; single mutable session per role, views read snapshots.
package trip

import "sync"

// Store holds the one active session for an engine instance. The Reconciler is
// the only writer (the setters are unexported and only called from this
// package); views read via Snapshot or subscribe via Watch.
type Store struct {
	mu       sync.RWMutex
	session  *Session
	watchers []chan Session
}

func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the active session. The second return is false
// when no session exists (engine idle between trips).
func (st *Store) Snapshot() (Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.session == nil {
		return Session{}, false
	}
	return *st.session, true
}

// Watch returns a channel that receives a session copy after every accepted
// mutation. The channel is buffered; a slow reader misses intermediate
// snapshots but always eventually observes the latest one.
func (st *Store) Watch() <-chan Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	ch := make(chan Session, 16)
	st.watchers = append(st.watchers, ch)
	return ch
}

func (st *Store) put(s *Session) {
	st.mu.Lock()
	st.session = s
	var snap Session
	if s != nil {
		snap = *s
	}
	watchers := st.watchers
	st.mu.Unlock()

	if s == nil {
		return
	}
	for _, ch := range watchers {
		select {
		case ch <- snap:
		default:
			// drop for slow readers; the next mutation re-delivers state
		}
	}
}

func (st *Store) clear() {
	st.put(nil)
}
