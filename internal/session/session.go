// Package session owns the per-connection lifecycle: one socket, one bounded
// outbound queue, and the reader/writer goroutines that drive them.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// Role distinguishes an ordinary client connection from a peer broker link.
type Role int

const (
	RoleClient Role = iota
	RolePeer
)

func (r Role) String() string {
	if r == RolePeer {
		return "peer"
	}
	return "client"
}

// OutboundQueueCapacity is the bounded FIFO capacity per session (§4.2, P3).
const OutboundQueueCapacity = 100

// WriterDequeueTimeout is the writer's liveness-polling dequeue timeout.
const WriterDequeueTimeout = 30 * time.Second

// PeerInactivityTimeout closes a peer session that has sent nothing inbound
// for this long. Client sessions have no inactivity close.
const PeerInactivityTimeout = 30 * time.Minute

// CloseFunc is invoked exactly once when a session needs to be torn down;
// the broker supplies this to queue the session onto its unregister worker.
type CloseFunc func(s *Session, reason string)

// Session is one TCP connection's routing state, per spec §3.
type Session struct {
	Conn       net.Conn
	RemoteAddr string
	logger     *slog.Logger

	mu              sync.RWMutex
	role            Role
	routingID       string
	extraRoutingIDs map[string]struct{}
	subscriptions   []string
	echo            bool
	serviceName     string
	subscribed      bool
	subscribedTo    bool

	outbound chan *wire.Object
	closing  sync.Once
	closed   chan struct{}
	onClose  CloseFunc

	lastInboundMu sync.Mutex
	lastInbound   time.Time
}

// New constructs a Session over an already-accepted or already-dialed conn.
func New(conn net.Conn, role Role, logger *slog.Logger, onClose CloseFunc) *Session {
	return &Session{
		Conn:            conn,
		RemoteAddr:      conn.RemoteAddr().String(),
		logger:          logger,
		role:            role,
		extraRoutingIDs: make(map[string]struct{}),
		echo:            true,
		outbound:        make(chan *wire.Object, OutboundQueueCapacity),
		closed:          make(chan struct{}),
		onClose:         onClose,
		lastInbound:     time.Now(),
	}
}

// --- routing-field accessors, all mutex-guarded per §3's lifecycle notes ---

func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) PromoteToServer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = RolePeer
}

func (s *Session) RoutingID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routingID
}

func (s *Session) SetRoutingID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routingID = id
}

func (s *Session) ExtraRoutingIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.extraRoutingIDs))
	for id := range s.extraRoutingIDs {
		out = append(out, id)
	}
	return out
}

func (s *Session) SetExtraRoutingIDs(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraRoutingIDs = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != s.routingID {
			s.extraRoutingIDs[id] = struct{}{}
		}
	}
}

// OwnsRoutingID reports whether id is this session's routing-id or one of
// its extra routing-ids.
func (s *Session) OwnsRoutingID(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.routingID == id {
		return true
	}
	_, ok := s.extraRoutingIDs[id]
	return ok
}

func (s *Session) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.subscriptions...)
}

func (s *Session) SetSubscriptions(rules []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = append([]string(nil), rules...)
}

func (s *Session) Echo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.echo
}

func (s *Session) SetEcho(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.echo = v
}

func (s *Session) ServiceName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serviceName
}

func (s *Session) SetServiceName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviceName = name
}

func (s *Session) Subscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed
}

func (s *Session) SetSubscribed(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = v
}

func (s *Session) SubscribedTo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribedTo
}

func (s *Session) SetSubscribedTo(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribedTo = v
}

func (s *Session) IsServer() bool {
	return s.Role() == RolePeer
}

// Send enqueues obj on the outbound queue. If the queue is full, the oldest
// queued object is dropped (back-pressure drop-oldest policy, §4.2/P3); the
// producer never blocks.
func (s *Session) Send(obj *wire.Object) {
	select {
	case s.outbound <- obj:
		return
	default:
	}

	select {
	case dropped := <-s.outbound:
		s.logger.Warn("outbound queue full, dropping oldest", "session", s.RemoteAddr, "dropped_id", dropped.ID())
	default:
	}

	select {
	case s.outbound <- obj:
	default:
		s.logger.Warn("outbound queue contention, dropping newest", "session", s.RemoteAddr, "dropped_id", obj.ID())
	}
}

// markInbound records the time of the most recent inbound frame, used for
// the peer inactivity timeout.
func (s *Session) markInbound() {
	s.lastInboundMu.Lock()
	s.lastInbound = time.Now()
	s.lastInboundMu.Unlock()
}

func (s *Session) inactiveFor() time.Duration {
	s.lastInboundMu.Lock()
	defer s.lastInboundMu.Unlock()
	return time.Since(s.lastInbound)
}

// Intake is called by the reader loop for each decoded object; it forwards
// to the broker's intake function.
type Intake func(obj *wire.Object, sender *Session)

// Run starts the reader and writer goroutines under a shared errgroup
// context. Whichever side fails first closes the session, which ends the
// other side (the writer through the closed channel, the reader through the
// closed socket); the first real error either side hit is logged once both
// have exited.
func (s *Session) Run(intake Intake) {
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return s.readLoop(ctx, intake)
	})
	g.Go(func() error {
		return s.writeLoop(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("session ended", "session", s.RemoteAddr, "error", err)
	}
}

func (s *Session) readLoop(ctx context.Context, intake Intake) error {
	dec := wire.NewDecoder(s.Conn)

	for {
		select {
		case <-ctx.Done():
			s.Close("paired loop ended")
			return ctx.Err()
		case <-s.closed:
			return nil
		default:
		}

		if s.IsServer() && s.inactiveFor() > PeerInactivityTimeout {
			s.Close("inactivity")
			return nil
		}

		if err := s.Conn.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
			s.Close("deadline error")
			return err
		}

		obj, err := dec.Decode()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Debug("decode error", "session", s.RemoteAddr, "error", err)
			s.Close("decode error")
			return err
		}

		s.markInbound()
		intake(obj, s)
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.Close("paired loop ended")
			return ctx.Err()
		case <-s.closed:
			return nil
		case obj, ok := <-s.outbound:
			if !ok {
				return nil
			}
			if err := wire.WriteObject(s.Conn, obj); err != nil {
				s.logger.Debug("write error", "session", s.RemoteAddr, "error", err)
				s.Close("write error")
				return err
			}
		case <-time.After(WriterDequeueTimeout):
			// liveness poll only; nothing to do.
		}
	}
}

// Close marks the session closing, stops the reader/writer, and hands the
// session to the broker's unregister worker exactly once.
func (s *Session) Close(reason string) {
	s.closing.Do(func() {
		close(s.closed)
		_ = s.Conn.Close()
		if s.onClose != nil {
			s.onClose(s, reason)
		}
	})
}
