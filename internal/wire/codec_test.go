package wire

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// P1: encode then decode yields an equal object, with id/size/type populated.
func TestFramingRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	obj := New(map[string]interface{}{"type": "text/plain"}, []byte("hello"))

	go func() {
		require.NoError(t, WriteObject(client, obj))
	}()

	dec := NewDecoder(server)
	got, err := dec.Decode()
	require.NoError(t, err)

	require.Equal(t, obj.ID(), got.ID())
	require.Equal(t, 5, got.Size())
	require.Equal(t, "text/plain", got.Type())
	require.Equal(t, []byte("hello"), got.Payload)
}

func TestFramingRoundTripNoPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	obj := New(map[string]interface{}{"event": "ping"}, nil)

	go func() {
		require.NoError(t, WriteObject(client, obj))
	}()

	dec := NewDecoder(server)
	got, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, "ping", got.Event())
	require.Equal(t, 0, got.Size())
}

// P2: oversize metadata is rejected without blocking forever on further reads.
func TestOversizeMetadataRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	huge := "{\"pad\":\"" + strings.Repeat("x", MaxMetadataBytes+10) + "\"}"

	go func() {
		_, _ = client.Write([]byte(huge))
	}()

	dec := NewDecoder(server)
	dec.idleTimeout = 50 * time.Millisecond
	dec.totalTimeout = time.Second

	_, err := dec.Decode()
	require.Error(t, err)
	var invalid *InvalidObjectError
	require.ErrorAs(t, err, &invalid)
}

// P1: an object built without an explicit type still round-trips with one.
func TestEncodeDefaultsMissingType(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	obj := New(map[string]interface{}{"event": "routing/subscribe"}, nil)
	require.Equal(t, DefaultContentType, obj.Type())

	go func() {
		require.NoError(t, WriteObject(client, obj))
	}()

	dec := NewDecoder(server)
	got, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, DefaultContentType, got.Type())
	require.NotEmpty(t, got.ID())
	require.Equal(t, 0, got.Size())
}

func TestContentTypeParsing(t *testing.T) {
	ct, ok := ParseContentType("text/plain; charset=UTF-8")
	require.True(t, ok)
	require.Equal(t, "text", ct.Type)
	require.Equal(t, "plain", ct.Subtype)
	require.Equal(t, "UTF-8", ct.Charset)

	_, ok = ParseContentType("not-a-type")
	require.False(t, ok)
}

func TestToNormalization(t *testing.T) {
	o := New(map[string]interface{}{"to": "R1"}, nil)
	require.Equal(t, []string{"R1"}, o.To())

	o2 := New(map[string]interface{}{"to": []interface{}{"R1", "R2"}}, nil)
	require.Equal(t, []string{"R1", "R2"}, o2.To())
}
