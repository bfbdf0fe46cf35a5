package http

import (
	"sync"
	"time"

	"github.com/aescanero/dago-probe/pkg/controller"
	"github.com/google/uuid"
)

// sessionCookie names the cookie that binds a browser to its controller
const sessionCookie = "probe_session"

// session is one page load's controller
type session struct {
	id         string
	controller *controller.Controller
	lastSeen   time.Time
}

// sessionStore keeps per-page controllers in memory, expiring idle ones
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &sessionStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// create registers a new session around ctrl
func (s *sessionStore) create(ctrl *controller.Controller) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	sess := &session{
		id:         uuid.New().String(),
		controller: ctrl,
		lastSeen:   s.now(),
	}
	s.sessions[sess.id] = sess
	return sess
}

// get returns a live session and refreshes its expiry
func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess, true
}

// len returns the number of live sessions
func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *sessionStore) sweepLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
