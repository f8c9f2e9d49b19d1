// Package middleware implements the ordered processing chain every inbound
// object passes through before routing: each stage may mutate the object,
// synthesize replies, or short-circuit the chain.
package middleware

import (
	"log/slog"

	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// Sessions is a read-only snapshot of the broker's live sessions, handed to
// every hook so middleware never touches the broker's session set directly.
type Sessions interface {
	All() []*session.Session
	Send(s *session.Session, obj *wire.Object)
	Broadcast(obj *wire.Object, except *session.Session)
	OwnRoutingID() string
}

// Middleware is one stage of the chain. Any hook may be a no-op; embed Base
// to get no-op defaults and only override what a stage needs.
type Middleware interface {
	Handle(obj *wire.Object, sender *session.Session, sessions Sessions) *wire.Object
	Connect(s *session.Session, sessions Sessions)
	Disconnect(s *session.Session, sessions Sessions)
	Periodical(sessions Sessions)
	Name() string
}

// Base gives every hook a no-op default so concrete stages only implement
// what they need.
type Base struct{}

func (Base) Handle(obj *wire.Object, _ *session.Session, _ Sessions) *wire.Object { return obj }
func (Base) Connect(*session.Session, Sessions)                                  {}
func (Base) Disconnect(*session.Session, Sessions)                               {}
func (Base) Periodical(Sessions)                                                 {}

// Chain runs an ordered sequence of stages over one inbound object.
type Chain struct {
	stages []Middleware
	logger *slog.Logger
}

// NewChain builds a Chain in the given order. The terminal stage (by
// canonical convention, Routing) is responsible for delivery.
func NewChain(logger *slog.Logger, stages ...Middleware) *Chain {
	return &Chain{stages: stages, logger: logger}
}

// Stages returns the configured stages, in order.
func (c *Chain) Stages() []Middleware {
	return c.stages
}

// Handle runs obj through every stage in order. A stage returning nil stops
// the chain. A panicking stage is recovered, logged, and the chain continues
// with the object unchanged — except the Routing stage, whose panic drops
// the object outright (§7 MiddlewareException contract).
func (c *Chain) Handle(obj *wire.Object, sender *session.Session, sessions Sessions) {
	current := obj
	for _, stage := range c.stages {
		next, ok := c.runStage(stage, current, sender, sessions)
		if !ok {
			return
		}
		if next == nil {
			return
		}
		current = next
	}
}

func (c *Chain) runStage(stage Middleware, obj *wire.Object, sender *session.Session, sessions Sessions) (result *wire.Object, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("middleware panic", "stage", stage.Name(), "panic", r)
			if isTerminal(stage, c.stages) {
				result, ok = nil, false
				return
			}
			result, ok = obj, true
		}
	}()
	return stage.Handle(obj, sender, sessions), true
}

func isTerminal(stage Middleware, stages []Middleware) bool {
	return len(stages) > 0 && stages[len(stages)-1] == stage
}

// Connect runs every stage's connect hook, in order.
func (c *Chain) Connect(s *session.Session, sessions Sessions) {
	for _, stage := range c.stages {
		c.safeConnect(stage, s, sessions)
	}
}

func (c *Chain) safeConnect(stage Middleware, s *session.Session, sessions Sessions) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("middleware connect panic", "stage", stage.Name(), "panic", r)
		}
	}()
	stage.Connect(s, sessions)
}

// Disconnect runs every stage's disconnect hook, in order.
func (c *Chain) Disconnect(s *session.Session, sessions Sessions) {
	for _, stage := range c.stages {
		c.safeDisconnect(stage, s, sessions)
	}
}

func (c *Chain) safeDisconnect(stage Middleware, s *session.Session, sessions Sessions) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("middleware disconnect panic", "stage", stage.Name(), "panic", r)
		}
	}()
	stage.Disconnect(s, sessions)
}

// Periodical runs every stage's periodical hook, in order.
func (c *Chain) Periodical(sessions Sessions) {
	for _, stage := range c.stages {
		c.safePeriodical(stage, sessions)
	}
}

func (c *Chain) safePeriodical(stage Middleware, sessions Sessions) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("middleware periodical panic", "stage", stage.Name(), "panic", r)
		}
	}()
	stage.Periodical(sessions)
}
