//go:build linux

package sender

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// batchSize is the number of frames submitted per sendmmsg call.
const batchSize = 256

// mmsghdr mirrors struct mmsghdr for the sendmmsg syscall.
type mmsghdr struct {
	Hdr unix.Msghdr
	Len uint32
	_   [4]byte
}

// BatchWriter submits prebuilt Ethernet frames to a PF_PACKET socket in
// sendmmsg batches, cutting the syscall count by batchSize on the hot
// path. Frames are copied on Queue; Flush submits everything queued.
// Not safe for concurrent use.
type BatchWriter struct {
	fd     int
	frames [][]byte
	hdrs   []mmsghdr
	iovs   []unix.Iovec
}

// NewBatchWriter opens a PF_PACKET socket bound to the interface with
// the given index. The socket bypasses qdisc and carries a 16MB send
// buffer so the batcher, not the kernel queue, is the backpressure point.
func NewBatchWriter(ifindex int) (*BatchWriter, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("packet socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_QDISC_BYPASS, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("qdisc bypass: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 16*1024*1024); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("sndbuf: %w", err)
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifindex,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind ifindex %d: %w", ifindex, err)
	}
	return &BatchWriter{
		fd:     fd,
		frames: make([][]byte, 0, batchSize),
		hdrs:   make([]mmsghdr, batchSize),
		iovs:   make([]unix.Iovec, batchSize),
	}, nil
}

// WritePacketData copies a frame into the pending batch, flushing first
// when full. The caller drives tail flushes through Flush.
func (b *BatchWriter) WritePacketData(frame []byte) error {
	if len(b.frames) == batchSize {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	b.frames = append(b.frames, cp)
	return nil
}

// Flush submits all queued frames. Partial sends retry the remainder.
func (b *BatchWriter) Flush() error {
	for len(b.frames) > 0 {
		n := len(b.frames)
		for i := 0; i < n; i++ {
			b.iovs[i].Base = &b.frames[i][0]
			b.iovs[i].SetLen(len(b.frames[i]))
			b.hdrs[i].Hdr.Iov = &b.iovs[i]
			b.hdrs[i].Hdr.Iovlen = 1
		}
		sent, _, errno := unix.Syscall6(unix.SYS_SENDMMSG,
			uintptr(b.fd),
			uintptr(unsafe.Pointer(&b.hdrs[0])),
			uintptr(n), 0, 0, 0)
		if errno != 0 {
			return fmt.Errorf("sendmmsg: %w", errno)
		}
		if int(sent) == 0 {
			return fmt.Errorf("sendmmsg: no progress on %d frames", n)
		}
		b.frames = b.frames[:copy(b.frames, b.frames[sent:])]
	}
	b.frames = b.frames[:0]
	return nil
}

func (b *BatchWriter) Close() {
	b.Flush()
	unix.Close(b.fd)
}

// OpenBatchHandle opens a batched injection handle for probe SYNs. Frames
// queue until a sendmmsg batch fills or the transmit loop flushes, so it
// must not carry latency-sensitive replies.
func OpenBatchHandle(iface string) (*Handle, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", iface, err)
	}
	bw, err := NewBatchWriter(ifi.Index)
	if err != nil {
		return nil, err
	}
	return NewHandle(bw), nil
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
