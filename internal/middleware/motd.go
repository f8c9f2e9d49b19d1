package middleware

import (
	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// MOTD enqueues a banner text object to every newly connected session.
// Optional (§4.4) — not part of the default chain; a broker opts in by
// adding it to its middleware list.
type MOTD struct {
	Base
	banner string
}

func NewMOTD(banner string) *MOTD {
	return &MOTD{banner: banner}
}

func (m *MOTD) Name() string { return "motd" }

func (m *MOTD) Connect(s *session.Session, sessions Sessions) {
	if m.banner == "" {
		return
	}
	obj := wire.New(map[string]interface{}{
		"type":  "text/plain; charset=UTF-8",
		"event": "server/motd",
	}, []byte(m.banner))
	sessions.Send(s, obj)
}
