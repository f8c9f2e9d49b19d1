// Package broker wires together the session set, the middleware chain, the
// accept loop, peer-link management, and the periodic timer into the
// process-global coordinator described in spec §3/§4.3.
package broker

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Biomine3000/Objectoplex/internal/middleware"
	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// Config configures a Broker.
type Config struct {
	// Bind is the listen address, e.g. ":7890".
	Bind string
	// Peers are the statically configured peer broker addresses to link to.
	Peers []string
	// Chain is the ordered middleware chain; its last stage is responsible
	// for delivery (canonically Routing).
	Chain *middleware.Chain
	// OwnRoutingID returns the broker's own routing-id, used for loop
	// suppression and for identifying this node to peers.
	OwnRoutingID func() string
	Logger       *slog.Logger
}

type unregisterRequest struct {
	sess   *session.Session
	reason string
}

// Broker is the process-global coordinator: it holds the live session set
// and the middleware chain, accepts inbound connections, maintains
// broker-to-broker peer links, and drives the periodic timer.
type Broker struct {
	cfg    Config
	logger *slog.Logger
	chain  *middleware.Chain
	sess   *sessionSet

	listener net.Listener

	unregisterCh chan unregisterRequest
	peers        *peerLinker
	discovery    *discovery

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// New builds a Broker from cfg; it does not start listening until Start is
// called.
func New(cfg Config) *Broker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Broker{
		cfg:          cfg,
		logger:       cfg.Logger,
		chain:        cfg.Chain,
		unregisterCh: make(chan unregisterRequest, 64),
		shutdownCh:   make(chan struct{}),
	}
	b.sess = newSessionSet(cfg.OwnRoutingID)
	b.peers = newPeerLinker(b, cfg.Logger)
	return b
}

// Sessions exposes the live-session view the middleware chain operates over.
func (b *Broker) Sessions() middleware.Sessions { return b.sess }

// Start binds the listener, launches the accept loop, the unregister
// worker, the timer, and the peer linker (queuing every configured peer).
func (b *Broker) Start() error {
	ln, err := net.Listen("tcp", b.cfg.Bind)
	if err != nil {
		return fmt.Errorf("broker listen: %w", err)
	}
	b.listener = ln
	b.logger.Info("broker listening", "addr", b.cfg.Bind)

	b.wg.Add(1)
	go b.acceptLoop()

	b.wg.Add(1)
	go b.unregisterLoop()

	b.wg.Add(1)
	go b.timerLoop()

	b.peers.start()
	for _, target := range b.cfg.Peers {
		b.peers.enqueue(target)
	}

	return nil
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.shutdownCh:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				b.logger.Warn("temporary accept error", "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			b.logger.Error("accept loop exiting", "error", err)
			return
		}

		b.adopt(conn, session.RoleClient, "")
	}
}

// adopt runs connect hooks, registers, and starts a session for an accepted
// or dialed connection. peerTarget is non-empty for outbound peer links, so
// the unregister worker knows to re-queue it on disconnect.
func (b *Broker) adopt(conn net.Conn, role session.Role, peerTarget string) *session.Session {
	sess := session.New(conn, role, b.logger, func(s *session.Session, reason string) {
		b.unregisterCh <- unregisterRequest{sess: s, reason: reason}
	})

	b.chain.Connect(sess, b.sess)
	b.sess.add(sess)

	if peerTarget != "" {
		b.peers.track(sess, peerTarget)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sess.Run(b.intake)
	}()

	return sess
}

func (b *Broker) intake(obj *wire.Object, sender *session.Session) {
	b.chain.Handle(obj, sender, b.sess)
}

func (b *Broker) unregisterLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.shutdownCh:
			return
		case req := <-b.unregisterCh:
			b.sess.remove(req.sess)
			b.chain.Disconnect(req.sess, b.sess)
			if target, ok := b.peers.untrack(req.sess); ok {
				b.peers.enqueue(target)
			}
		}
	}
}

func (b *Broker) timerLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.shutdownCh:
			return
		case <-ticker.C:
			b.chain.Periodical(b.sess)
		}
	}
}

// Shutdown stops accepting, closes every live session, and waits for all
// background goroutines to exit.
func (b *Broker) Shutdown() {
	b.shutdownOnce.Do(func() {
		close(b.shutdownCh)
		if b.listener != nil {
			_ = b.listener.Close()
		}
		b.peers.stop()
		if b.discovery != nil {
			b.discovery.stop()
		}
		for _, sess := range b.sess.All() {
			sess.Close("shutdown")
		}
	})
	b.wg.Wait()
}
