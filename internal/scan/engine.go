// Package scan wires the transmit flow, the receive flow, and the sweep
// task into scan cycles. The transmit flow never blocks on receive-path
// work; the pending-handshake table and the token bucket are the only
// structures shared across the flows.
package scan

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mat-1/matscan/internal/config"
	"github.com/mat-1/matscan/internal/cookie"
	"github.com/mat-1/matscan/internal/limiter"
	"github.com/mat-1/matscan/internal/output"
	"github.com/mat-1/matscan/internal/packet"
	"github.com/mat-1/matscan/internal/receiver"
	"github.com/mat-1/matscan/internal/rescan"
	"github.com/mat-1/matscan/internal/results"
	"github.com/mat-1/matscan/internal/sender"
	"github.com/mat-1/matscan/internal/targets"
	"github.com/mat-1/matscan/internal/tracker"
)

const (
	sweepInterval    = time.Second
	sweepBatch       = 4096
	progressInterval = 10 * time.Second
	// sll framing prepended by pcap cooked capture on tunnel interfaces
	sllHeaderLen = 16
)

// Deps are the process-level collaborators the engine doesn't own: the
// injection handle, the capture handle, and the result sinks.
type Deps struct {
	Handle *sender.Handle
	// Probes, when non-nil, carries probe SYNs on a batched writer while
	// Handle keeps serving latency-sensitive replies.
	Probes  *sender.Handle
	Capture receiver.CaptureHandle
	UseSLL  bool
	// Stats reports capture socket counters (received, dropped); may be nil.
	Stats func() (uint64, uint64)

	Sink    output.RecordWriter // server + alias records
	Players output.RecordWriter // player records, may be nil
	Sniper  *output.Sniper      // may be nil
	Dump    *output.PcapDump    // undecodable frames, may be nil

	SrcIP  net.IP
	SrcMAC net.HardwareAddr // nil for tunnel interfaces
	GwMAC  net.HardwareAddr
}

// Engine runs scan cycles over the configured target space.
type Engine struct {
	cfg  *config.Config
	deps Deps
	log  zerolog.Logger

	secret cookie.Secret
	table  *tracker.Table
	bucket *limiter.TokenBucket
	alias  *results.AliasTracker
	rescan *rescan.Controller

	srcIP uint32
	ports []uint16

	// receive flow state, owned by the receive goroutine
	decoder *packet.Decoder
	replies *packet.Builder

	synAcks  atomic.Uint64
	records  atomic.Uint64
	bad      atomic.Uint64
	timeouts atomic.Uint64
	evicted  atomic.Uint64
}

// New validates the configuration and assembles an engine.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) (*Engine, error) {
	ports, err := targets.ParsePorts(cfg.Scan.Ports)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if deps.SrcIP == nil || deps.SrcIP.To4() == nil {
		return nil, errors.New("scan: source IP must be IPv4")
	}

	return &Engine{
		cfg:  cfg,
		deps: deps,
		log:  log,

		secret: cookie.NewSecret(cfg.Scan.SecretRotation.Duration),
		table:  tracker.NewTable(cfg.Scan.MaxPending),
		bucket: limiter.NewTokenBucket(float64(cfg.Scan.Rate), int64(cfg.Scan.Rate)/100+1),
		alias:  results.NewAliasTracker(cfg.Scan.AliasThreshold),
		rescan: rescan.New(cfg.Rescan, cfg.Scan.DefaultPort, ports),

		srcIP: targets.IPToUint32(deps.SrcIP),
		ports: ports,

		decoder: packet.NewDecoder(!deps.UseSLL && deps.SrcMAC != nil),
		replies: packet.NewBuilder(deps.SrcMAC, deps.GwMAC, deps.SrcIP),
	}, nil
}

// LoadAliases seeds the alias tracker from persisted records.
func (e *Engine) LoadAliases(records []results.AliasedIPRecord) {
	e.alias.Load(records)
}

// Run executes scan cycles until the context is cancelled. The receive
// flow and the sweep task run for the whole lifetime; transmit restarts
// per cycle with a fresh permutation seed. A cycle error cancels the
// background flows so Run never waits on goroutines with nothing left
// to stop them.
func (e *Engine) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); e.receiveLoop(ctx) }()
	go func() { defer wg.Done(); e.sweepLoop(ctx) }()

	done := make(chan struct{})
	defer close(done)
	go e.progressLoop(ctx, done)

	var err error
	for cycle := 0; ctx.Err() == nil; cycle++ {
		if err = e.runCycle(ctx, cycle); err != nil {
			break
		}
	}

	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return parent.Err()
}

func (e *Engine) runCycle(ctx context.Context, cycle int) error {
	now := time.Now()

	// priority targets first: bias probes and due rescans
	extras := e.rescan.Due(now)
	static, err := e.buildRanges()
	if err != nil {
		return err
	}

	if len(extras) == 0 && static.Count == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
			return nil
		}
	}

	e.log.Info().
		Int("cycle", cycle).
		Int("rescan_targets", len(extras)).
		Uint64("cold_targets", static.Count).
		Msg("cycle start")

	skip := e.aliasSkip()

	tx := e.newTransmitter()
	for i, t := range extras {
		if skip(t) {
			continue
		}
		e.bucket.Wait(1)
		if err := tx.SendSYN(t); err != nil {
			e.log.Debug().Err(err).Str("target", t.Addr()).Msg("rescan probe failed")
		}
		if i%1024 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := e.probeHandle().Flush(); err != nil {
		return err
	}

	if static.Count > 0 {
		session := targets.NewScanSession(static, randomSeed())
		shards := session.Split(e.cfg.Scan.Shards)

		var wg sync.WaitGroup
		errs := make([]error, len(shards))
		for i, shard := range shards {
			wg.Add(1)
			go func(i int, shard *targets.ScanSession) {
				defer wg.Done()
				errs[i] = e.newTransmitter().Run(ctx, shard, skip)
			}(i, shard)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}

	// let in-flight handshakes complete before the next permutation
	select {
	case <-ctx.Done():
	case <-time.After(e.cfg.Scan.PingTimeout.Duration):
	}

	e.log.Info().
		Int("cycle", cycle).
		Uint64("records", e.records.Load()).
		Uint64("bad_servers", e.bad.Load()).
		Uint64("timeouts", e.timeouts.Load()).
		Int("tracked", e.rescan.Tracked()).
		Msg("cycle done")
	return nil
}

func (e *Engine) newTransmitter() *sender.Transmitter {
	builder := packet.NewBuilder(e.deps.SrcMAC, e.deps.GwMAC, e.deps.SrcIP)
	return sender.NewTransmitter(e.probeHandle(), builder, e.bucket, e.secret,
		e.srcIP, e.cfg.Scan.SourcePortMin, e.cfg.Scan.SourcePortMax)
}

func (e *Engine) probeHandle() *sender.Handle {
	if e.deps.Probes != nil {
		return e.deps.Probes
	}
	return e.deps.Handle
}

// buildRanges resolves include targets, applies exclusions, and freezes
// the result for indexed permutation.
func (e *Engine) buildRanges() (*targets.StaticScanRanges, error) {
	var ranges targets.ScanRanges
	for _, spec := range e.cfg.Scan.Targets.Include {
		rs, err := targets.ParseInclude(spec, e.ports)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ranges.Extend(rs...)
	}

	if len(e.cfg.Scan.Targets.Exclude) > 0 {
		exs, err := targets.ParseExcludeList(e.cfg.Scan.Targets.Exclude)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ranges.ExcludeAll(exs)
	}
	if e.cfg.Scan.Targets.ExcludeFile != "" {
		exs, err := targets.ParseExcludeFile(e.cfg.Scan.Targets.ExcludeFile)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ranges.ExcludeAll(exs)
	}
	return ranges.Static(), nil
}

// aliasSkip suppresses probes to aliased IPs on everything except their
// allowed port.
func (e *Engine) aliasSkip() func(targets.Target) bool {
	return func(t targets.Target) bool {
		allowed, ok := e.alias.AllowedPort(t.IP)
		return ok && t.Port != allowed
	}
}

func randomSeed() uint64 {
	var b [8]byte
	crand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := e.table.Sweep(e.cfg.Scan.PingTimeout.Duration, sweepBatch)
			if len(expired) > 0 {
				e.timeouts.Add(uint64(len(expired)))
				tracker.Release(expired...)
			}
		}
	}
}

func (e *Engine) progressLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			ev := e.log.Info().
				Float64("pps", e.bucket.ObservedRate()).
				Int64("sent", e.bucket.TotalSent()).
				Uint64("syn_acks", e.synAcks.Load()).
				Uint64("records", e.records.Load()).
				Int("pending", e.table.Len())
			if e.deps.Stats != nil {
				received, dropped := e.deps.Stats()
				ev = ev.Uint64("rx", received).Uint64("rx_dropped", dropped)
			}
			ev.Msg("progress")
		}
	}
}
