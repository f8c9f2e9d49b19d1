package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// fakeSessions is a minimal Sessions implementation for stage unit tests.
type fakeSessions struct {
	sent map[*session.Session][]*wire.Object
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sent: make(map[*session.Session][]*wire.Object)}
}

func (f *fakeSessions) All() []*session.Session { return nil }

func (f *fakeSessions) Send(s *session.Session, obj *wire.Object) {
	f.sent[s] = append(f.sent[s], obj)
}

func (f *fakeSessions) Broadcast(obj *wire.Object, except *session.Session) {}

func (f *fakeSessions) OwnRoutingID() string { return "broker-1" }

// An unsubscribed sender's ping gets no pong, but the object still falls
// through to the rest of the chain (§4.4) so Statistics/Checksum still see
// it — only a subscribed sender's ping short-circuits with a reply.
func TestPingPongRepliesOnlyWhenSubscribed(t *testing.T) {
	pp := NewPingPong()
	fs := newFakeSessions()

	unsub := &session.Session{}
	obj := wire.New(map[string]interface{}{"event": "ping", "id": "M1"}, nil)
	result := pp.Handle(obj, unsub, fs)
	require.Same(t, obj, result)
	require.Empty(t, fs.sent)

	sub := &session.Session{}
	sub.SetSubscribed(true)
	ping := wire.New(map[string]interface{}{"event": "ping", "id": "M2"}, nil)
	require.Nil(t, pp.Handle(ping, sub, fs))
	require.Len(t, fs.sent[sub], 1)
	require.Equal(t, "pong", fs.sent[sub][0].Event())
	require.Equal(t, "M2", fs.sent[sub][0].InReplyTo())
}

func TestChecksumPreservesExistingSha1(t *testing.T) {
	cs := NewChecksum()
	obj := wire.New(map[string]interface{}{"sha1": "deadbeef"}, []byte("payload"))

	got := cs.Handle(obj, nil, nil)
	require.Equal(t, "deadbeef", got.Metadata["sha1"])
}

func TestChecksumSetsSha1WhenAbsent(t *testing.T) {
	cs := NewChecksum()
	obj := wire.New(nil, []byte("payload"))

	got := cs.Handle(obj, nil, nil)
	require.NotEmpty(t, got.Metadata["sha1"])
}

func TestChecksumSkipsEmptyPayload(t *testing.T) {
	cs := NewChecksum()
	obj := wire.New(nil, nil)

	got := cs.Handle(obj, nil, nil)
	_, ok := got.Metadata["sha1"]
	require.False(t, ok)
}

func TestLegacyClientsRegisterTranslatesToSubscribe(t *testing.T) {
	l := NewLegacySubscription()
	obj := wire.New(map[string]interface{}{"event": "clients/register", "receive-mode": "no_echo"}, nil)

	got := l.Handle(obj, nil, nil)
	require.Equal(t, "routing/subscribe", got.Event())
	require.Equal(t, false, got.Metadata["echo"])
	require.Equal(t, []string{"*"}, got.Metadata["subscriptions"])
}

func TestLegacyPassesThroughModernSubscribe(t *testing.T) {
	l := NewLegacySubscription()
	obj := wire.New(map[string]interface{}{"event": "routing/subscribe", "subscriptions": []string{"*"}}, nil)

	got := l.Handle(obj, nil, nil)
	require.Equal(t, obj, got)
	_, ok := got.Metadata["echo"]
	require.False(t, ok)
}
