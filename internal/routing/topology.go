package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Topology is the observational mesh graph (§4.7): nodes are routing-ids,
// edges come from our own subscriptions (self ↔ subscriber) and from
// neighbor announcements received from peers (node ↔ each listed
// neighbor). It is updated only from announcement, subscribe, and
// disconnect events and is
// never consulted on the hot delivery path — grounded on the original
// source's RoutingState graph tracker.
type Topology struct {
	mu        sync.Mutex
	servers   map[string]struct{}
	neighbors map[string]map[string]struct{}
}

// NewTopology builds an empty topology graph.
func NewTopology() *Topology {
	return &Topology{
		servers:   make(map[string]struct{}),
		neighbors: make(map[string]map[string]struct{}),
	}
}

func (t *Topology) ensureNode(id string) {
	if _, ok := t.neighbors[id]; !ok {
		t.neighbors[id] = make(map[string]struct{})
	}
}

func (t *Topology) link(a, b string) {
	t.ensureNode(a)
	t.ensureNode(b)
	t.neighbors[a][b] = struct{}{}
	t.neighbors[b][a] = struct{}{}
}

// HandleSubscription records an edge between a server's own routing-id and a
// session that just subscribed to it.
func (t *Topology) HandleSubscription(serverRoutingID, subscriberRoutingID string) {
	if serverRoutingID == "" || subscriberRoutingID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.link(serverRoutingID, subscriberRoutingID)
}

// HandleAnnouncement records routingID as a server and links it to every
// listed neighbor.
func (t *Topology) HandleAnnouncement(routingID string, neighborIDs []string) {
	if routingID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.servers[routingID] = struct{}{}
	t.ensureNode(routingID)
	for _, n := range neighborIDs {
		t.link(routingID, n)
	}
}

// HandleDisconnect removes a routing-id and all of its edges from the graph.
func (t *Topology) HandleDisconnect(routingID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.servers, routingID)
	for peer := range t.neighbors[routingID] {
		delete(t.neighbors[peer], routingID)
	}
	delete(t.neighbors, routingID)
}

// Nodes returns every known routing-id, sorted for deterministic output.
func (t *Topology) Nodes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.neighbors))
	for id := range t.neighbors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ShortestPath returns the sequence of routing-ids from source to
// destination (inclusive), or nil if no path exists. Breadth-first, so the
// result has the minimum hop count.
func (t *Topology) ShortestPath(source, destination string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if source == destination {
		return []string{source}
	}
	if _, ok := t.neighbors[source]; !ok {
		return nil
	}

	prev := map[string]string{source: ""}
	queue := []string{source}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		neighborIDs := make([]string, 0, len(t.neighbors[node]))
		for n := range t.neighbors[node] {
			neighborIDs = append(neighborIDs, n)
		}
		sort.Strings(neighborIDs)

		for _, next := range neighborIDs {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = node
			if next == destination {
				return reconstructPath(prev, source, destination)
			}
			queue = append(queue, next)
		}
	}

	return nil
}

func reconstructPath(prev map[string]string, source, destination string) []string {
	var path []string
	for at := destination; ; at = prev[at] {
		path = append([]string{at}, path...)
		if at == source {
			return path
		}
	}
}

// Dump renders a human-readable textual graph, one line per node, listing
// its neighbors — the Go equivalent of the original source's bmgraph dump.
func (t *Topology) Dump() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.neighbors))
	for id := range t.neighbors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		tag := ""
		if _, ok := t.servers[id]; ok {
			tag = " (server)"
		}
		peers := make([]string, 0, len(t.neighbors[id]))
		for p := range t.neighbors[id] {
			peers = append(peers, p)
		}
		sort.Strings(peers)
		fmt.Fprintf(&b, "%s%s -> %s\n", id, tag, strings.Join(peers, ", "))
	}
	return b.String()
}
