package routing

import (
	"log/slog"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(discardWriter), nil))
}

// testSessions is a minimal middleware.Sessions double for routing tests.
type testSessions struct {
	all        []*session.Session
	sent       map[*session.Session][]*wire.Object
	ownRoutingID string
}

func newTestSessions(ownRoutingID string, sessions ...*session.Session) *testSessions {
	return &testSessions{all: sessions, sent: make(map[*session.Session][]*wire.Object), ownRoutingID: ownRoutingID}
}

func (t *testSessions) All() []*session.Session { return t.all }

func (t *testSessions) Send(s *session.Session, obj *wire.Object) {
	t.sent[s] = append(t.sent[s], obj)
}

func (t *testSessions) Broadcast(obj *wire.Object, except *session.Session) {
	for _, s := range t.all {
		if s != except {
			t.Send(s, obj)
		}
	}
}

func (t *testSessions) OwnRoutingID() string { return t.ownRoutingID }

func newTestSession(t *testing.T, routingID string, subscribed bool, rules []string) *session.Session {
	t.Helper()
	_, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	s := session.New(server, session.RoleClient, testLogger(), func(*session.Session, string) {})
	s.SetRoutingID(routingID)
	s.SetSubscribed(subscribed)
	s.SetSubscriptions(rules)
	return s
}

// P4: if our own routing-id is already in the route, no recipient is picked.
func TestLoopSuppression(t *testing.T) {
	r := New(testLogger(), "broker-1")

	recipient := newTestSession(t, "R1", true, []string{"*"})
	sessions := newTestSessions(r.OwnRoutingID(), recipient)

	obj := wire.New(map[string]interface{}{"type": "text/plain", "route": []string{r.OwnRoutingID()}}, nil)
	r.route(obj, nil, sessions)

	require.Empty(t, sessions.sent[recipient])
}

// P5: no object is delivered to a session whose subscribed is false.
func TestSubscriptionGating(t *testing.T) {
	r := New(testLogger(), "broker-1")

	notSubscribed := newTestSession(t, "R1", false, []string{"*"})
	sessions := newTestSessions(r.OwnRoutingID(), notSubscribed)

	obj := wire.New(map[string]interface{}{"type": "text/plain"}, nil)
	r.route(obj, nil, sessions)

	require.Empty(t, sessions.sent[notSubscribed])
}

func TestTargetedDelivery(t *testing.T) {
	r := New(testLogger(), "broker-1")

	c1 := newTestSession(t, "R1", true, nil)
	c2 := newTestSession(t, "R2", true, nil)
	sessions := newTestSessions(r.OwnRoutingID(), c1, c2)

	obj := wire.New(map[string]interface{}{"to": "R1"}, nil)
	r.route(obj, nil, sessions)

	require.Len(t, sessions.sent[c1], 1)
	require.Empty(t, sessions.sent[c2])
}

func TestServerReceivesEverythingNotLoopSuppressed(t *testing.T) {
	r := New(testLogger(), "broker-1")

	peer := newTestSession(t, "P1", true, nil)
	peer.PromoteToServer()
	sessions := newTestSessions(r.OwnRoutingID(), peer)

	obj := wire.New(map[string]interface{}{"type": "text/plain"}, nil)
	r.route(obj, nil, sessions)

	require.Len(t, sessions.sent[peer], 1)
}

func TestAnnouncementsDoNotLeakToClients(t *testing.T) {
	r := New(testLogger(), "broker-1")

	client := newTestSession(t, "C1", true, []string{"*"})
	sessions := newTestSessions(r.OwnRoutingID(), client)

	obj := wire.New(map[string]interface{}{"event": "routing/announcement/neighbors"}, nil)
	r.route(obj, nil, sessions)

	require.Empty(t, sessions.sent[client])
}

func TestServiceDispatchSelectsOneProvider(t *testing.T) {
	r := New(testLogger(), "broker-1")

	p1 := newTestSession(t, "P1", true, nil)
	p1.SetServiceName("svc")
	p2 := newTestSession(t, "P2", true, nil)
	p2.SetServiceName("svc")
	sessions := newTestSessions(r.OwnRoutingID(), p1, p2)

	obj := wire.New(map[string]interface{}{"event": "services/request", "name": "svc"}, nil)
	r.route(obj, nil, sessions)

	total := len(sessions.sent[p1]) + len(sessions.sent[p2])
	require.Equal(t, 1, total)
}
