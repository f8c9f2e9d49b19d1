package routing

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Biomine3000/Objectoplex/internal/middleware"
	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// AnnouncementInterval is how often the Routing stage broadcasts its own
// neighbor announcement from the periodic tick (§4.5).
const AnnouncementInterval = 5 * time.Minute

// Routing is the terminal middleware stage (§4.5): subscription handling,
// loop-suppressed delivery, service request dispatch, and periodic
// neighbor-topology announcements.
type Routing struct {
	middleware.Base

	logger       *slog.Logger
	ownRoutingID string
	topology     *Topology

	mu               sync.Mutex
	lastAnnouncement time.Time
}

// New builds the Routing stage bound to the broker's own routing-id. If
// routingID is empty, one is generated.
func New(logger *slog.Logger, routingID string) *Routing {
	if routingID == "" {
		routingID = uuid.NewString()
	}
	return &Routing{
		logger:           logger,
		ownRoutingID:     routingID,
		topology:         NewTopology(),
		lastAnnouncement: time.Now(),
	}
}

func (r *Routing) Name() string { return "routing" }

// OwnRoutingID returns the broker's own routing-id.
func (r *Routing) OwnRoutingID() string { return r.ownRoutingID }

// Topology exposes the observational graph for diagnostics.
func (r *Routing) Topology() *Topology { return r.topology }

func (r *Routing) Handle(obj *wire.Object, sender *session.Session, sessions middleware.Sessions) *wire.Object {
	switch {
	case obj.Event() == "routing/subscribe":
		r.handleSubscribe(obj, sender, sessions)
	case obj.Event() == "services/register":
		r.handleServiceRegister(obj, sender, sessions)
	case obj.Event() == "routing/announcement/neighbors":
		r.recordAnnouncement(obj)
		r.route(obj, sender, sessions)
	default:
		r.route(obj, sender, sessions)
	}
	return nil
}

func (r *Routing) recordAnnouncement(obj *wire.Object) {
	node, _ := obj.Metadata["node"].(string)
	var neighborIDs []string
	if raw, ok := obj.Metadata["neighbors"].([]interface{}); ok {
		for _, item := range raw {
			if m, ok := item.(map[string]interface{}); ok {
				if id, ok := m["routing-id"].(string); ok {
					neighborIDs = append(neighborIDs, id)
				}
			}
		}
	}
	r.topology.HandleAnnouncement(node, neighborIDs)
}

// --- subscription handling, §4.5 ---

func (r *Routing) handleSubscribe(obj *wire.Object, sender *session.Session, sessions middleware.Sessions) {
	if sender == nil {
		return
	}

	role, _ := obj.Metadata["role"].(string)
	route := obj.Route()
	_, hasRoute := obj.Metadata["route"]
	isServerSubscription := role == "server" && (!hasRoute || len(route) == 1)

	if isServerSubscription {
		r.handleServerSubscription(obj, sender, sessions)
	} else {
		r.handleClientSubscription(obj, sender, sessions)
	}

	r.topology.HandleSubscription(r.ownRoutingID, sender.RoutingID())
	r.announceNow(sessions)
}

func (r *Routing) handleServerSubscription(obj *wire.Object, sender *session.Session, sessions middleware.Sessions) {
	if id, ok := obj.Metadata["routing-id"].(string); ok {
		sender.SetRoutingID(id)
	}
	applyExtraRoutingIDs(obj, sender, r.logger)
	sender.SetSubscriptions(obj.Subscriptions())
	sender.SetEcho(false)
	sender.SetSubscribed(true)
	sender.PromoteToServer()

	if !sender.SubscribedTo() {
		ours := wire.New(map[string]interface{}{
			"event":         "routing/subscribe",
			"routing-id":    r.ownRoutingID,
			"role":          "server",
			"receive":       "all",
			"subscriptions": []string{"*"},
		}, nil)
		sessions.Send(sender, ours)
		sender.SetSubscribedTo(true)
	}

	reply := wire.Reply("routing/subscribe/reply", obj, map[string]interface{}{
		"role": "server",
	})
	sessions.Send(sender, reply)

	notify := wire.New(map[string]interface{}{
		"event":      "routing/subscribe/notification",
		"routing-id": sender.RoutingID(),
		"role":       "server",
	}, nil)
	sessions.Broadcast(notify, sender)
}

func (r *Routing) handleClientSubscription(obj *wire.Object, sender *session.Session, sessions middleware.Sessions) {
	if sender.RoutingID() == "" {
		sender.SetRoutingID(uuid.NewString())
	}
	applyExtraRoutingIDs(obj, sender, r.logger)
	sender.SetSubscriptions(obj.Subscriptions())

	echo := true
	if v, ok := obj.Metadata["echo"].(bool); ok {
		echo = v
	}
	sender.SetEcho(echo)
	sender.SetSubscribed(true)

	reply := wire.Reply("routing/subscribe/reply", obj, map[string]interface{}{
		"routing-id": sender.RoutingID(),
	})
	sessions.Send(sender, reply)

	notify := wire.New(map[string]interface{}{
		"event":      "routing/subscribe/notification",
		"routing-id": sender.RoutingID(),
	}, nil)
	sessions.Broadcast(notify, sender)
}

func applyExtraRoutingIDs(obj *wire.Object, sender *session.Session, logger *slog.Logger) {
	raw, ok := obj.Metadata["routing-ids"]
	if !ok {
		return
	}
	switch v := raw.(type) {
	case []interface{}:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
		sender.SetExtraRoutingIDs(ids)
	case []string:
		sender.SetExtraRoutingIDs(v)
	default:
		logger.Warn("routing-ids must be an array of strings, ignoring scalar", "value", raw)
	}
}

// --- service registration and dispatch, §4.5 ---

func (r *Routing) handleServiceRegister(obj *wire.Object, sender *session.Session, sessions middleware.Sessions) {
	if sender == nil || !sender.Subscribed() {
		r.logger.Warn("services/register from unsubscribed session, dropping")
		return
	}

	name, ok := obj.Metadata["name"].(string)
	if !ok || name == "" {
		r.logger.Warn("services/register missing name, dropping")
		return
	}

	sender.SetServiceName(name)

	reply := wire.Reply("services/register/reply", obj, map[string]interface{}{"name": name})
	sessions.Send(sender, reply)

	notify := wire.New(map[string]interface{}{
		"event": "services/register/notify",
		"name":  name,
	}, nil)
	sessions.Broadcast(notify, sender)
}

// dispatchService delivers a "services/request" to one uniformly-random
// session advertising the requested service name. It reports whether a
// provider was found and the object delivered.
func (r *Routing) dispatchService(obj *wire.Object, sessions middleware.Sessions) bool {
	name, ok := obj.Metadata["name"].(string)
	if !ok || name == "" {
		return false
	}

	var candidates []*session.Session
	for _, s := range sessions.All() {
		if s.Subscribed() && s.ServiceName() == name {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return false
	}

	chosen := candidates[rand.Intn(len(candidates))]
	sessions.Send(chosen, obj)
	return true
}

// --- normal routing algorithm, §4.5 ---

func (r *Routing) route(obj *wire.Object, sender *session.Session, sessions middleware.Sessions) {
	if sender != nil && !sender.Subscribed() {
		r.logger.Warn("routed message from unsubscribed session, dropping")
		return
	}

	route := obj.Route()
	if containsString(route, r.ownRoutingID) {
		return // loop suppression: we've already seen this object
	}

	if len(route) == 0 && sender != nil {
		route = append(route, sender.RoutingID())
	}
	route = append(route, r.ownRoutingID)
	obj.SetRoute(route)

	if strings.HasPrefix(obj.Event(), "services/request") {
		if r.dispatchService(obj, sessions) {
			return
		}
	}

	for _, s := range sessions.All() {
		if r.shouldDeliver(obj, sender, s) {
			sessions.Send(s, obj)
		}
	}
}

// shouldDeliver implements the precedence-ordered decision from §4.5; the
// first matching rule wins.
func (r *Routing) shouldDeliver(obj *wire.Object, sender *session.Session, s *session.Session) bool {
	if !s.Subscribed() {
		return false
	}

	route := obj.Route()
	if len(route) > 2 && containsString(route, s.RoutingID()) {
		return false
	}

	if strings.HasPrefix(obj.Event(), "routing/") && sender != nil && containsString(route, sender.RoutingID()) {
		return false
	}

	if s.IsServer() {
		return true
	}

	if strings.HasPrefix(obj.Event(), "routing/announcement/") {
		return false
	}

	if to := obj.To(); len(to) > 0 {
		for _, id := range to {
			if s.OwnsRoutingID(id) {
				return true
			}
		}
		return false
	}

	if sender == s && !s.Echo() {
		return false
	}

	return Decide(obj, s.Subscriptions())
}

// --- periodic announcements and disconnect, §4.5 ---

func (r *Routing) Periodical(sessions middleware.Sessions) {
	r.mu.Lock()
	due := time.Since(r.lastAnnouncement) >= AnnouncementInterval
	if due {
		r.lastAnnouncement = time.Now()
	}
	r.mu.Unlock()

	if due {
		r.announceNow(sessions)
	}
}

func (r *Routing) announceNow(sessions middleware.Sessions) {
	neighbors := make([]interface{}, 0)
	for _, s := range sessions.All() {
		if id := s.RoutingID(); id != "" {
			neighbors = append(neighbors, map[string]interface{}{"routing-id": id})
		}
	}

	obj := wire.New(map[string]interface{}{
		"event":     "routing/announcement/neighbors",
		"node":      r.ownRoutingID,
		"neighbors": neighbors,
	}, nil)

	r.route(obj, nil, sessions)
}

func (r *Routing) Disconnect(s *session.Session, sessions middleware.Sessions) {
	r.topology.HandleDisconnect(s.RoutingID())

	if !s.Subscribed() {
		return
	}

	obj := wire.New(map[string]interface{}{
		"event":      "routing/disconnect",
		"routing-id": s.RoutingID(),
	}, nil)
	r.route(obj, nil, sessions)
}

func containsString(haystack []string, needle string) bool {
	if needle == "" {
		return false
	}
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
