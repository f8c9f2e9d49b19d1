package middleware

import (
	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// PingPong replies "pong" to a subscribed sender's "ping" and stops the
// chain; an unsubscribed sender's ping gets no reply, but still falls through
// to the rest of the chain so Statistics/Checksum still see it (§4.4, S2).
type PingPong struct {
	Base
}

func NewPingPong() *PingPong { return &PingPong{} }

func (p *PingPong) Name() string { return "pingpong" }

func (p *PingPong) Handle(obj *wire.Object, sender *session.Session, sessions Sessions) *wire.Object {
	if obj.Event() != "ping" {
		return obj
	}
	if sender == nil || !sender.Subscribed() {
		return obj
	}

	reply := wire.Reply("pong", obj, nil)
	sessions.Send(sender, reply)
	return nil
}
