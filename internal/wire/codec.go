package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxMetadataBytes is the cap on metadata bytes read before the NUL
// terminator; exceeding it aborts the decode with InvalidObjectError.
const MaxMetadataBytes = 2048

const (
	// DefaultIdleTimeout is the per-byte idle cutoff while reading a frame.
	DefaultIdleTimeout = 5 * time.Second
	// DefaultTotalTimeout bounds the whole decode, metadata and payload.
	DefaultTotalTimeout = 120 * time.Second
)

// Encode serializes obj to the wire form: JSON metadata, NUL, payload. It
// guarantees id, size, and type are all present in the encoded metadata
// (§4.1, P1), regardless of how obj.Metadata was assembled.
func Encode(obj *Object) ([]byte, error) {
	obj.Metadata["id"] = obj.ID()
	obj.Metadata["size"] = len(obj.Payload)
	if _, ok := obj.Metadata["type"]; !ok {
		obj.Metadata["type"] = DefaultContentType
	}

	data, err := json.Marshal(obj.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	out := make([]byte, 0, len(data)+1+len(obj.Payload))
	out = append(out, data...)
	out = append(out, 0x00)
	if len(obj.Payload) > 0 {
		out = append(out, obj.Payload...)
	}
	return out, nil
}

// WriteObject encodes obj and writes it to w, looping until every byte is
// sent. A zero-length Write with no error is treated as a broken connection.
func WriteObject(w io.Writer, obj *Object) error {
	data, err := Encode(obj)
	if err != nil {
		return err
	}

	total := 0
	for total < len(data) {
		n, err := w.Write(data[total:])
		if err != nil {
			return fmt.Errorf("write object: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("write object: connection broken")
		}
		total += n
	}
	return nil
}

// Decoder reads framed Objects off a net.Conn, applying the idle/total
// timeouts from §4.1/§5 of the protocol design.
type Decoder struct {
	conn         net.Conn
	r            *bufio.Reader
	idleTimeout  time.Duration
	totalTimeout time.Duration
}

// NewDecoder builds a Decoder with the default idle/total timeouts.
func NewDecoder(conn net.Conn) *Decoder {
	return &Decoder{
		conn:         conn,
		r:            bufio.NewReader(conn),
		idleTimeout:  DefaultIdleTimeout,
		totalTimeout: DefaultTotalTimeout,
	}
}

// Decode reads one framed Object. The first byte is read under whatever
// deadline the caller already set on the connection (the reader loop's 30 s
// liveness wait); a timeout waiting for that first byte is returned as-is so
// the caller can distinguish "nothing arrived yet" from a real decode
// failure. Once a frame is in progress the idle/total timeouts (§4.1) govern
// the rest of the read, and any violation is reported as
// *InvalidObjectError.
func (d *Decoder) Decode() (*Object, error) {
	first, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}

	started := time.Now()

	var metadata []byte
	if first == 0x00 {
		metadata = nil
	} else {
		metadata, err = d.readUntilNUL(started, []byte{first})
		if err != nil {
			return nil, err
		}
	}

	var metaMap map[string]interface{}
	if err := json.Unmarshal(metadata, &metaMap); err != nil {
		return nil, &InvalidObjectError{Reason: fmt.Sprintf("malformed metadata json: %v", err)}
	}

	size := 0
	if raw, ok := metaMap["size"]; ok {
		switch v := raw.(type) {
		case float64:
			size = int(v)
		}
	}

	var payload []byte
	if size > 0 {
		payload, err = d.readPayload(started, size)
		if err != nil {
			return nil, err
		}
	}

	return &Object{Metadata: metaMap, Payload: payload}, nil
}

func (d *Decoder) readUntilNUL(started time.Time, buf []byte) ([]byte, error) {
	lastActivity := time.Now()

	for {
		if len(buf) > MaxMetadataBytes {
			return nil, &InvalidObjectError{Reason: "metadata exceeds 2048 bytes"}
		}
		if err := d.checkDeadlines(started, lastActivity); err != nil {
			return nil, err
		}

		if err := d.conn.SetReadDeadline(time.Now().Add(d.idleTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}

		b, err := d.r.ReadByte()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, err
		}
		lastActivity = time.Now()

		if b == 0x00 {
			return buf, nil
		}
		buf = append(buf, b)
	}
}

func (d *Decoder) readPayload(started time.Time, size int) ([]byte, error) {
	payload := make([]byte, 0, size)
	lastActivity := time.Now()

	for len(payload) < size {
		if err := d.checkDeadlines(started, lastActivity); err != nil {
			return nil, err
		}

		if err := d.conn.SetReadDeadline(time.Now().Add(d.idleTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}

		chunk := make([]byte, size-len(payload))
		n, err := d.r.Read(chunk)
		if n > 0 {
			payload = append(payload, chunk[:n]...)
			lastActivity = time.Now()
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, err
		}
	}
	return payload, nil
}

func (d *Decoder) checkDeadlines(started, lastActivity time.Time) error {
	now := time.Now()
	if now.Sub(lastActivity) > d.idleTimeout {
		return &InvalidObjectError{Reason: "timed out reading: idle"}
	}
	if now.Sub(started) > d.totalTimeout {
		return &InvalidObjectError{Reason: "timed out reading: total"}
	}
	return nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
