package middleware

import (
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// Statistics counts received objects and bytes, broken down by content type
// and event, and answers "server/statistics" requests directly (§4.4).
type Statistics struct {
	Base

	mu           sync.Mutex
	objectsTotal int
	bytesTotal   int
	byType       map[string]int
	byEvent      map[string]int
}

func NewStatistics() *Statistics {
	return &Statistics{
		byType:  make(map[string]int),
		byEvent: make(map[string]int),
	}
}

func (s *Statistics) Name() string { return "statistics" }

func (s *Statistics) Handle(obj *wire.Object, sender *session.Session, sessions Sessions) *wire.Object {
	if obj.Event() == "server/statistics" {
		sessions.Send(sender, s.reply(obj))
		return nil
	}

	s.mu.Lock()
	s.objectsTotal++
	s.bytesTotal += obj.Size()
	if t := obj.Type(); t != "" {
		s.byType[t]++
	}
	if e := obj.Event(); e != "" {
		s.byEvent[e]++
	}
	s.mu.Unlock()

	return obj
}

func (s *Statistics) reply(req *wire.Object) *wire.Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[string]interface{}, len(s.byType))
	for k, v := range s.byType {
		byType[k] = v
	}
	byEvent := make(map[string]interface{}, len(s.byEvent))
	for k, v := range s.byEvent {
		byEvent[k] = v
	}

	return wire.Reply("server/statistics/reply", req, map[string]interface{}{
		"objects in":     s.objectsTotal,
		"bytes in":       s.bytesTotal,
		"bytes_in_human": humanize.Bytes(uint64(s.bytesTotal)),
		"by_type":        byType,
		"by_event":       byEvent,
	})
}
