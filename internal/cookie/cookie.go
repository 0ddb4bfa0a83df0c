// Package cookie derives TCP initial sequence numbers that prove, without
// any per-target state, that an inbound SYN-ACK answers a probe this
// process actually sent. Legitimacy is recomputed per packet from a
// rotating secret, never looked up.
package cookie

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// Secret is the process-scoped keying material for cookie generation.
// It is created at scan start and read concurrently by the transmit and
// receive flows; rotation happens implicitly through the epoch value, so
// there is no mutable state to synchronize.
type Secret struct {
	key      uint64
	rotation time.Duration
}

// NewSecret draws fresh keying material. rotation is the epoch length;
// validation accepts the current and the immediately preceding epoch.
func NewSecret(rotation time.Duration) Secret {
	var b [8]byte
	rand.Read(b[:])
	return Secret{
		key:      binary.LittleEndian.Uint64(b[:]),
		rotation: rotation,
	}
}

// NewSecretWithKey builds a secret from a fixed key, for tests and for
// resuming a scan with a known seed.
func NewSecretWithKey(key uint64, rotation time.Duration) Secret {
	return Secret{key: key, rotation: rotation}
}

// Epoch returns the rotation epoch for the given time.
func (s Secret) Epoch(now time.Time) uint64 {
	return uint64(now.UnixNano()) / uint64(s.rotation.Nanoseconds())
}

// Generate derives the 32-bit sequence number for a probe to (dstIP,
// dstPort) from srcIP during the given epoch.
func (s Secret) Generate(srcIP, dstIP uint32, dstPort uint16, epoch uint64) uint32 {
	h := s.key
	h = mix(h ^ (uint64(srcIP)<<32 | uint64(dstIP)))
	h = mix(h ^ (uint64(dstPort)<<48 | epoch&0xffffffffffff))
	return uint32(h)
}

// Validate checks an acknowledgement number from an inbound SYN-ACK.
// A SYN consumes one sequence number, so the peer acks cookie+1. Both the
// current and the previous epoch are accepted to tolerate in-flight delay
// across a rotation boundary. Returns the matching epoch.
func (s Secret) Validate(observedAck uint32, srcIP, dstIP uint32, dstPort uint16, now time.Time) (uint64, bool) {
	seq := observedAck - 1
	epoch := s.Epoch(now)
	if s.Generate(srcIP, dstIP, dstPort, epoch) == seq {
		return epoch, true
	}
	if epoch > 0 && s.Generate(srcIP, dstIP, dstPort, epoch-1) == seq {
		return epoch - 1, true
	}
	return 0, false
}

// ValidateData checks the ack on the first data segment of a connection we
// hold no state for: the peer has acked the SYN plus payloadLen bytes of
// the application hello.
func (s Secret) ValidateData(observedAck uint32, srcIP, dstIP uint32, dstPort uint16, payloadLen int, now time.Time) (uint64, bool) {
	return s.Validate(observedAck-uint32(payloadLen), srcIP, dstIP, dstPort, now)
}

// mix is the murmur3 64-bit finalizer.
func mix(v uint64) uint64 {
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	v *= 0xc4ceb9fe1a85ec53
	v ^= v >> 33
	return v
}
