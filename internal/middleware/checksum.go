package middleware

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/Biomine3000/Objectoplex/internal/session"
	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// Checksum sets metadata.sha1 on objects that carry a payload and don't
// already have one. It never overwrites an existing sha1 (§4.4, P6).
type Checksum struct {
	Base
}

func NewChecksum() *Checksum { return &Checksum{} }

func (c *Checksum) Name() string { return "checksum" }

func (c *Checksum) Handle(obj *wire.Object, _ *session.Session, _ Sessions) *wire.Object {
	if obj.Size() == 0 {
		return obj
	}
	if _, ok := obj.Metadata["sha1"]; ok {
		return obj
	}

	sum := sha1.Sum(obj.Payload)
	obj.Metadata["sha1"] = hex.EncodeToString(sum[:])
	return obj
}
