package broker

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/Biomine3000/Objectoplex/internal/session"
)

// peerInitialReconnectInterval is the starting backoff between failed peer
// dials (§4.3, §5); it escalates exponentially per target on repeated
// failures and resets once that target connects successfully.
const peerInitialReconnectInterval = 10 * time.Second

// peerMaxReconnectInterval caps the per-target backoff so a chronically
// unreachable peer is still retried, just rarely.
const peerMaxReconnectInterval = 5 * time.Minute

// peerLinkerIdleTimeout is how long the linker waits for a queued target
// before looping back to check for shutdown (§4.3's "30 s idle timeout").
const peerLinkerIdleTimeout = 30 * time.Second

// newTargetBackOff builds the exponential backoff policy for one peer
// target: starts at peerInitialReconnectInterval, escalates on successive
// NextBackOff calls, caps at peerMaxReconnectInterval, and never gives up.
func newTargetBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = peerInitialReconnectInterval
	b.MaxInterval = peerMaxReconnectInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// peerLinker keeps outbound broker-to-broker TCP sessions alive, dialing
// queued targets and re-queuing on failure with a per-target exponential
// backoff that escalates across repeated failures and resets on success.
type peerLinker struct {
	b      *Broker
	logger *slog.Logger

	queue chan string
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	tracked  map[*session.Session]string
	retriers map[string]backoff.BackOff
}

func newPeerLinker(b *Broker, logger *slog.Logger) *peerLinker {
	return &peerLinker{
		b:        b,
		logger:   logger,
		queue:    make(chan string, 256),
		done:     make(chan struct{}),
		tracked:  make(map[*session.Session]string),
		retriers: make(map[string]backoff.BackOff),
	}
}

func (p *peerLinker) start() {
	p.wg.Add(1)
	go p.run()
}

func (p *peerLinker) stop() {
	close(p.done)
	p.wg.Wait()
}

func (p *peerLinker) enqueue(target string) {
	select {
	case p.queue <- target:
	case <-p.done:
	}
}

// track remembers which peer target produced sess, so untrack can report it
// for reconnection once the session disconnects.
func (p *peerLinker) track(sess *session.Session, target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracked[sess] = target
}

func (p *peerLinker) untrack(sess *session.Session) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.tracked[sess]
	delete(p.tracked, sess)
	return target, ok
}

func (p *peerLinker) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case target := <-p.queue:
			p.dial(target)
		case <-time.After(peerLinkerIdleTimeout):
		}
	}
}

func (p *peerLinker) dial(target string) {
	conn, err := net.DialTimeout("tcp", target, 10*time.Second)
	if err != nil {
		wait := p.nextBackOff(target)
		p.logger.Warn("peer dial failed, backing off", "target", target, "error", err, "wait", wait)
		go func() {
			select {
			case <-time.After(wait):
				p.enqueue(target)
			case <-p.done:
			}
		}()
		return
	}

	p.resetBackOff(target)
	p.logger.Info("peer link established", "target", target)
	p.b.adopt(conn, session.RolePeer, target)
}

// nextBackOff advances target's per-target exponential backoff and returns
// how long to wait before the next dial attempt, creating the policy on
// first failure.
func (p *peerLinker) nextBackOff(target string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	bo, ok := p.retriers[target]
	if !ok {
		bo = newTargetBackOff()
		p.retriers[target] = bo
	}

	wait := bo.NextBackOff()
	if wait == backoff.Stop {
		wait = peerMaxReconnectInterval
	}
	return wait
}

// resetBackOff discards target's backoff state so its next failure starts
// again from peerInitialReconnectInterval.
func (p *peerLinker) resetBackOff(target string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.retriers, target)
}
