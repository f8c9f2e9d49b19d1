package middleware

import (
	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// LegacySubscription translates a legacy `clients/register` object, or a
// `routing/subscribe` carrying a legacy `receive`/`receive-mode` key, into
// the modern subscription shape and forwards it downstream so Routing's
// single subscribe handler stays the one source of truth for reply,
// broadcast, and announcement behavior (§4.4).
//
// It also writes a transient metadata["echo"] hint that Routing's client
// subscription path reads (defaulting to true if absent) to resolve the
// default-echo open question: legacy no_echo suppresses self-delivery,
// every other legacy mode and every modern subscribe defaults to echoing.
type LegacySubscription struct {
	Base
}

func NewLegacySubscription() *LegacySubscription { return &LegacySubscription{} }

func (l *LegacySubscription) Name() string { return "legacy-subscription" }

func (l *LegacySubscription) Handle(obj *wire.Object, _ *session.Session, _ Sessions) *wire.Object {
	event := obj.Event()
	if event != "clients/register" {
		if event != "routing/subscribe" {
			return obj
		}
		if !hasLegacyReceiveKey(obj) {
			return obj
		}
	}

	mode := legacyReceiveMode(obj)
	typesMode, _ := obj.Metadata["types"].(string)

	obj.Metadata["event"] = "routing/subscribe"
	obj.Metadata["echo"] = mode != "no_echo"

	if _, ok := obj.Metadata["subscriptions"]; !ok {
		switch {
		case mode == "none" || typesMode == "none":
			obj.Metadata["subscriptions"] = []string{}
		case mode == "events_only":
			obj.Metadata["subscriptions"] = []string{"@*"}
		default:
			obj.Metadata["subscriptions"] = []string{"*"}
		}
	}

	return obj
}

func hasLegacyReceiveKey(obj *wire.Object) bool {
	if _, ok := obj.Metadata["receive-mode"]; ok {
		return true
	}
	_, ok := obj.Metadata["receive"]
	return ok
}

func legacyReceiveMode(obj *wire.Object) string {
	if v, ok := obj.Metadata["receive-mode"].(string); ok {
		return v
	}
	if v, ok := obj.Metadata["receive"].(string); ok {
		return v
	}
	return "all"
}
