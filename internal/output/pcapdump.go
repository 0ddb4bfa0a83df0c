package output

import (
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapDump appends raw frames to a pcap file. The receiver routes frames
// here when they fail to decode, so odd responses can be replayed offline.
type PcapDump struct {
	mu sync.Mutex
	f  *os.File
	w  *pcapgo.Writer
}

func NewPcapDump(path string) (*PcapDump, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, err
	}
	return &PcapDump{f: f, w: w}, nil
}

func (d *PcapDump) WriteFrame(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return d.w.WritePacket(ci, data)
}

func (d *PcapDump) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
