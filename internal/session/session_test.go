package session

import (
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Biomine3000/Objectoplex/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(new(discardWriter), nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// P3: the outbound queue never exceeds its capacity and Send never blocks.
func TestSendDropsOldestWhenFull(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	s := New(server, RoleClient, discardLogger(), func(*Session, string) {})

	for i := 0; i < OutboundQueueCapacity+10; i++ {
		obj := wire.New(map[string]interface{}{"seq": i}, nil)
		s.Send(obj)
	}

	require.LessOrEqual(t, len(s.outbound), OutboundQueueCapacity)

	// The first 10 objects were the oldest and were dropped.
	oldest := <-s.outbound
	require.Equal(t, 10, oldest.Metadata["seq"])
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	var calls int
	var mu sync.Mutex
	s := New(server, RoleClient, discardLogger(), func(*Session, string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	s.Close("first")
	s.Close("second")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestExtraRoutingIDsExcludesOwn(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	s := New(server, RoleClient, discardLogger(), func(*Session, string) {})
	s.SetRoutingID("R1")
	s.SetExtraRoutingIDs([]string{"R1", "R2"})

	ids := s.ExtraRoutingIDs()
	require.NotContains(t, ids, "R1")
	require.Contains(t, ids, "R2")
	require.True(t, s.OwnsRoutingID("R1"))
	require.True(t, s.OwnsRoutingID("R2"))
	require.False(t, s.OwnsRoutingID("R3"))
}
