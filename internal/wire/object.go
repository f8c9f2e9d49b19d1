// Package wire implements the framed business-object protocol: a JSON
// metadata header terminated by a NUL byte, followed by a raw payload of
// exactly metadata.size bytes.
package wire

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ContentType is the parsed form of a "type/subtype[; charset=...]" media type.
type ContentType struct {
	Type    string
	Subtype string
	Charset string
}

// String renders the content type back to its wire form.
func (c ContentType) String() string {
	if c.Type == "" {
		return ""
	}
	s := c.Type + "/" + c.Subtype
	if c.Charset != "" {
		s += "; charset=" + c.Charset
	}
	return s
}

// ParseContentType parses a "type/subtype[; charset=...]" string. A malformed
// string yields the zero ContentType and ok=false; callers treat that as "no
// content_type" per the wire codec contract.
func ParseContentType(s string) (ContentType, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ContentType{}, false
	}

	main := s
	charset := ""
	if idx := strings.Index(s, ";"); idx >= 0 {
		main = strings.TrimSpace(s[:idx])
		params := s[idx+1:]
		const key = "charset="
		if ci := strings.Index(strings.ToLower(params), key); ci >= 0 {
			charset = strings.TrimSpace(params[ci+len(key):])
		}
	}

	slash := strings.Index(main, "/")
	if slash <= 0 || slash == len(main)-1 {
		return ContentType{}, false
	}

	return ContentType{Type: main[:slash], Subtype: main[slash+1:], Charset: charset}, true
}

// DefaultContentType is the type assigned to an object whose caller never
// set one, so every encoded object carries id, size, and type (§4.1, P1).
const DefaultContentType = "application/octet-stream"

// Object is a BusinessObject: self-describing framed message consisting of
// JSON metadata, a NUL terminator, and a raw payload.
type Object struct {
	Metadata map[string]interface{}
	Payload  []byte
}

// New builds an Object, assigning an id and a type if the caller didn't
// supply them, and deriving size from the payload length.
func New(metadata map[string]interface{}, payload []byte) *Object {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	o := &Object{Metadata: metadata, Payload: payload}
	if _, ok := o.Metadata["id"]; !ok {
		o.Metadata["id"] = uuid.NewString()
	}
	if _, ok := o.Metadata["type"]; !ok {
		o.Metadata["type"] = DefaultContentType
	}
	o.Metadata["size"] = len(payload)
	return o
}

// ID returns metadata["id"], generating and storing one if absent.
func (o *Object) ID() string {
	if v, ok := o.Metadata["id"].(string); ok && v != "" {
		return v
	}
	id := uuid.NewString()
	o.Metadata["id"] = id
	return id
}

// Size returns the declared payload size (kept in sync with len(Payload)).
func (o *Object) Size() int {
	return len(o.Payload)
}

// Event returns metadata["event"], or "" if absent.
func (o *Object) Event() string {
	v, _ := o.Metadata["event"].(string)
	return v
}

// EventStartsWith reports whether Event() has the given prefix.
func (o *Object) EventStartsWith(prefix string) bool {
	return strings.HasPrefix(o.Event(), prefix)
}

// Type returns the raw metadata["type"] string, or "" if absent.
func (o *Object) Type() string {
	v, _ := o.Metadata["type"].(string)
	return v
}

// ContentType parses metadata["type"]; ok is false if absent or malformed.
func (o *Object) ContentType() (ContentType, bool) {
	t := o.Type()
	if t == "" {
		return ContentType{}, false
	}
	return ParseContentType(t)
}

// Route returns the route vector, normalizing absence to an empty slice.
func (o *Object) Route() []string {
	raw, ok := o.Metadata["route"]
	if !ok {
		return nil
	}
	return toStringSlice(raw)
}

// SetRoute overwrites the route vector.
func (o *Object) SetRoute(route []string) {
	o.Metadata["route"] = route
}

// To returns the targeted-delivery routing-ids, normalizing a scalar string
// or an array of strings into a slice.
func (o *Object) To() []string {
	raw, ok := o.Metadata["to"]
	if !ok {
		return nil
	}
	return toStringSlice(raw)
}

// Natures returns metadata["natures"] normalized to a string slice.
func (o *Object) Natures() []string {
	raw, ok := o.Metadata["natures"]
	if !ok {
		return nil
	}
	return toStringSlice(raw)
}

// Subscriptions returns metadata["subscriptions"] normalized to a string slice.
func (o *Object) Subscriptions() []string {
	raw, ok := o.Metadata["subscriptions"]
	if !ok {
		return nil
	}
	return toStringSlice(raw)
}

// InReplyTo returns the id this object replies to, or "".
func (o *Object) InReplyTo() string {
	v, _ := o.Metadata["in-reply-to"].(string)
	return v
}

func toStringSlice(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Reply builds a new Object with the given event, carrying in-reply-to set to
// the original object's id plus any extra metadata keys.
func Reply(event string, inReplyTo *Object, extra map[string]interface{}) *Object {
	meta := map[string]interface{}{
		"event": event,
	}
	if inReplyTo != nil {
		meta["in-reply-to"] = inReplyTo.ID()
	}
	for k, v := range extra {
		meta[k] = v
	}
	return New(meta, nil)
}

// InvalidObjectError reports a malformed or timed-out decode.
type InvalidObjectError struct {
	Reason string
}

func (e *InvalidObjectError) Error() string {
	return fmt.Sprintf("invalid object: %s", e.Reason)
}
