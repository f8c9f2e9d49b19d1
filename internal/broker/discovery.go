package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_objectoplex._tcp"
	mdnsDomain      = "local."
)

// discovery advertises this broker over mDNS and browses for sibling
// brokers, feeding anything it finds into the peer linker — supplementing,
// never replacing, the statically configured peer list (SPEC_FULL §5).
// Grounded on the teacher's internal/app/mdns.go, repurposed from device
// discovery to broker-mesh discovery.
type discovery struct {
	logger *slog.Logger
	server *zeroconf.Server
	cancel context.CancelFunc
}

// startDiscovery advertises the broker on the LAN and, if an mDNS resolver
// can be created, starts a background browse that enqueues discovered peers.
func startDiscovery(b *Broker, port int, logger *slog.Logger) (*discovery, error) {
	if port <= 0 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "objectoplex"
	}
	instance := sanitizeInstance(fmt.Sprintf("ObjectoPlex Broker (%s)", hostname))

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, []string{"proto=v1"}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &discovery{logger: logger, server: server, cancel: cancel}

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		logger.Warn("mdns resolver unavailable, discovery limited to advertisement", "error", err)
		return d, nil
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go d.consume(b, entries)
	go func() {
		if err := resolver.Browse(ctx, mdnsServiceType, mdnsDomain, entries); err != nil {
			logger.Warn("mdns browse error", "error", err)
		}
	}()

	logger.Info("mDNS discovery started", "instance", instance, "port", port)
	return d, nil
}

func (d *discovery) consume(b *Broker, entries <-chan *zeroconf.ServiceEntry) {
	for entry := range entries {
		for _, addr := range entry.AddrIPv4 {
			target := net.JoinHostPort(addr.String(), fmt.Sprintf("%d", entry.Port))
			d.logger.Debug("mdns discovered peer", "target", target)
			b.peers.enqueue(target)
		}
	}
}

func (d *discovery) stop() {
	if d == nil {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.server != nil {
		d.server.Shutdown()
	}
	time.Sleep(10 * time.Millisecond)
}

func sanitizeInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	if cleaned == "" {
		cleaned = "ObjectoPlex Broker"
	}
	runes := []rune(cleaned)
	const maxLen = 63
	if len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}

// EnableDiscovery turns on LAN mDNS advertisement/browsing for b, bound to
// the given port (normally the broker's own listen port).
func (b *Broker) EnableDiscovery(port int) error {
	d, err := startDiscovery(b, port, b.logger)
	if err != nil {
		return err
	}
	b.discovery = d
	return nil
}
