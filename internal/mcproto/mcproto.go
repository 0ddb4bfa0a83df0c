// Package mcproto implements the tiny slice of the Minecraft wire protocol
// a status scan needs: VarInt framing, the handshake + status-request
// payload, and reassembly of the status-response JSON.
package mcproto

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// ErrInvalid marks a response that completed at the TCP level but is not a
// well-formed status response. Targets producing these are "bad servers";
// they are reported for diagnostics but never classified.
var ErrInvalid = errors.New("mcproto: invalid response")

// IncompleteError means more TCP segments are needed before the
// length-prefixed message can be decoded.
type IncompleteError struct {
	Expected int // total payload bytes the length prefix promised
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("mcproto: incomplete response, expected %d bytes", e.Expected)
}

// WriteVarInt appends a protocol VarInt encoding of value.
func WriteVarInt(buf []byte, value int32) []byte {
	if value == 0 {
		return append(buf, 0)
	}
	v := uint32(value)
	for v != 0 {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}

// ReadVarInt decodes a VarInt from data, returning the value and the number
// of bytes consumed. n == 0 means the input was truncated or overlong.
func ReadVarInt(data []byte) (value int32, n int) {
	var result int32
	for i := 0; i < 5; i++ {
		if i >= len(data) {
			return 0, 0
		}
		b := data[i]
		result |= int32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return result, i + 1
		}
	}
	return 0, 0
}

// BuildStatusRequest builds the handshake packet (next-state = status)
// followed by an empty status-request packet, each length-prefixed.
func BuildStatusRequest(hostname string, port uint16, protocolVersion int32) []byte {
	return buildHandshake(hostname, port, protocolVersion, 0x01, []byte{
		0x01, // length of the status request packet
		0x00, // packet id 0: status request
	})
}

// BuildLoginProbe builds a handshake with next-state = login followed by a
// deliberately malformed login-start packet. Servers answer with a kick
// whose error text identifies the implementation.
func BuildLoginProbe(hostname string, port uint16, protocolVersion int32) []byte {
	return buildHandshake(hostname, port, protocolVersion, 0x02, []byte{
		0x04, // length of the login start packet
		0x00, // packet id 0: login start
		0x00, // empty username
		0x00, // no uuid
		0x00, // trailing byte, invalid on every version
	})
}

func buildHandshake(hostname string, port uint16, protocolVersion int32, nextState byte, follow []byte) []byte {
	// handshake body: id, protocol version, hostname, port, next state.
	// Some implementations insist on a plausible hostname and port even
	// though the vanilla server ignores them.
	body := []byte{0x00}
	body = WriteVarInt(body, protocolVersion)
	body = WriteVarInt(body, int32(len(hostname)))
	body = append(body, hostname...)
	body = append(body, byte(port>>8), byte(port), nextState)

	out := WriteVarInt(nil, int32(len(body)))
	out = append(out, body...)
	return append(out, follow...)
}

// ParseStatusResponse decodes an assembled (possibly partial) status
// response. On success it returns the raw JSON document. A nil error with
// more segments pending is never returned: the caller gets either the
// document, *IncompleteError, or ErrInvalid.
func ParseStatusResponse(data []byte) ([]byte, error) {
	// packet length prefix; we trust the inner string length instead
	_, n := ReadVarInt(data)
	if n == 0 {
		return nil, &IncompleteError{Expected: 5}
	}
	rest := data[n:]

	packetID, n := ReadVarInt(rest)
	if n == 0 {
		return nil, &IncompleteError{Expected: 5}
	}
	rest = rest[n:]

	strLen, n := ReadVarInt(rest)
	if n == 0 {
		return nil, &IncompleteError{Expected: 5}
	}
	rest = rest[n:]

	if packetID != 0x00 || strLen < 0 {
		return nil, ErrInvalid
	}
	if len(rest) < int(strLen) {
		return nil, &IncompleteError{Expected: int(strLen)}
	}
	body := rest[:strLen]

	// a compressed body shows up as a zlib stream instead of JSON
	if len(body) >= 2 && body[0] == 0x78 {
		inflated, err := inflate(body)
		if err == nil {
			body = inflated
		}
	}

	if len(body) == 0 || body[0] != '{' {
		return nil, ErrInvalid
	}
	return body, nil
}

const maxInflatedSize = 4 << 20

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxInflatedSize))
	if err != nil {
		return nil, err
	}
	return out, nil
}
