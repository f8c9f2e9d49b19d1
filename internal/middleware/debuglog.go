package middleware

import (
	"log/slog"

	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// DebugLog logs every object's sender, event, and content type at debug
// level. Optional — grounded on the original StdErrMiddleware, re-expressed
// through structured logging rather than a direct stderr write; a broker
// opts in for local development.
type DebugLog struct {
	Base
	logger *slog.Logger
}

func NewDebugLog(logger *slog.Logger) *DebugLog {
	return &DebugLog{logger: logger}
}

func (d *DebugLog) Name() string { return "debug-log" }

func (d *DebugLog) Handle(obj *wire.Object, sender *session.Session, _ Sessions) *wire.Object {
	remote := ""
	if sender != nil {
		remote = sender.RemoteAddr
	}
	d.logger.Debug("object", "sender", remote, "event", obj.Event(), "type", obj.Type(), "id", obj.ID())
	return obj
}
