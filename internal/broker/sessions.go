package broker

import (
	"sync"

	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// sessionSet is the broker's set of live sessions (§3 Broker.sessions); it
// satisfies middleware.Sessions so stages only ever see read snapshots. It
// is mutated only by accept, by the PeerLinker, and by the unregister
// worker (§5 shared-resource policy).
type sessionSet struct {
	mu           sync.RWMutex
	set          map[*session.Session]struct{}
	ownRoutingID func() string
}

func newSessionSet(ownRoutingID func() string) *sessionSet {
	return &sessionSet{set: make(map[*session.Session]struct{}), ownRoutingID: ownRoutingID}
}

func (s *sessionSet) add(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[sess] = struct{}{}
}

func (s *sessionSet) remove(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, sess)
}

// All returns a snapshot of the currently live sessions.
func (s *sessionSet) All() []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session.Session, 0, len(s.set))
	for sess := range s.set {
		out = append(out, sess)
	}
	return out
}

// Send enqueues obj on sess's outbound queue (never blocks the caller).
func (s *sessionSet) Send(sess *session.Session, obj *wire.Object) {
	sess.Send(obj)
}

// Broadcast enqueues obj on every session's outbound queue except one.
func (s *sessionSet) Broadcast(obj *wire.Object, except *session.Session) {
	for _, sess := range s.All() {
		if sess != except {
			sess.Send(obj)
		}
	}
}

// OwnRoutingID returns the broker's own routing-id.
func (s *sessionSet) OwnRoutingID() string {
	return s.ownRoutingID()
}
