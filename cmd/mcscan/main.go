// Command mcscan runs the stateless Minecraft server scanner: it reads a
// YAML config, discovers interface addressing, opens the raw injection and
// capture handles, and drives scan cycles until interrupted.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/mat-1/matscan/internal/config"
	"github.com/mat-1/matscan/internal/output"
	"github.com/mat-1/matscan/internal/receiver"
	"github.com/mat-1/matscan/internal/results"
	"github.com/mat-1/matscan/internal/scan"
	"github.com/mat-1/matscan/internal/sender"
	"github.com/mat-1/matscan/internal/utils/netinfo"
)

func main() {
	configPath := flag.String("c", "config.yml", "path to the YAML config file")
	flag.Parse()

	logger := newLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("loading config")
	}
	if lvl, perr := zerolog.ParseLevel(cfg.Logging.Level); perr == nil {
		logger = logger.Level(lvl)
	}

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("scan failed")
	}
}

func newLogger() zerolog.Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	details, err := netinfo.GetDetails(cfg.Scan.Interface)
	if err != nil {
		return fmt.Errorf("discovering %s: %w", cfg.Scan.Interface, err)
	}
	if cfg.Scan.SourceIP != "" {
		ip := net.ParseIP(cfg.Scan.SourceIP)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid source_ip %q", cfg.Scan.SourceIP)
		}
		details.SrcIP = ip.To4()
	}
	if cfg.Scan.GwMAC != "" {
		mac, merr := net.ParseMAC(cfg.Scan.GwMAC)
		if merr != nil {
			return fmt.Errorf("invalid gw_mac %q: %w", cfg.Scan.GwMAC, merr)
		}
		details.GatewayMAC = mac
	}
	logger.Info().
		Str("iface", cfg.Scan.Interface).
		Str("src_ip", details.SrcIP.String()).
		Bool("tunnel", details.IsTUN).
		Msg("network discovered")

	// the kernel has no socket for our flows and will RST every SYN-ACK
	// unless the source port range is firewalled
	if !checkRSTSuppression() {
		logger.Warn().
			Str("hint", rstSuppressionHint(cfg.Scan.SourcePortMin, cfg.Scan.SourcePortMax)).
			Msg("no RST suppression rule found, the kernel will kill handshakes")
	}

	handle, err := sender.OpenHandle(cfg.Scan.Interface, details.IsTUN)
	if err != nil {
		return fmt.Errorf("opening injection handle: %w", err)
	}
	defer handle.Close()

	var probes *sender.Handle
	if cfg.Scan.BatchSend {
		if details.IsTUN {
			logger.Warn().Msg("batch_send ignored on tunnel interfaces")
		} else {
			probes, err = sender.OpenBatchHandle(cfg.Scan.Interface)
			if err != nil {
				return fmt.Errorf("opening batched handle: %w", err)
			}
			defer probes.Close()
		}
	}

	var recv *receiver.Listener
	if details.IsTUN {
		recv, err = receiver.NewTunnelListener(cfg.Scan.Interface)
	} else {
		recv, err = receiver.NewListener(cfg.Scan.Interface)
	}
	if err != nil {
		return fmt.Errorf("opening capture handle: %w", err)
	}
	defer recv.Close()

	filter := receiver.Filter(details.SrcIP.String(), cfg.Scan.SourcePortMin, cfg.Scan.SourcePortMax)
	if err := recv.SetBPF(filter); err != nil {
		return fmt.Errorf("installing BPF filter: %w", err)
	}

	sink := output.NewSink()
	defer sink.Close()
	if cfg.Output.File != "" {
		w, werr := output.NewWriter(cfg.Output.File)
		if werr != nil {
			return fmt.Errorf("opening output file: %w", werr)
		}
		sink.Add(w)
	}
	if cfg.Output.Stdout {
		sink.Add(output.NewStdoutWriter(0))
	}
	if cfg.Output.Webhook != nil {
		sink.Add(output.NewWebhookWriter(output.WebhookConfig{
			URL:        cfg.Output.Webhook.URL,
			BatchSize:  cfg.Output.Webhook.BatchSize,
			Timeout:    cfg.Output.Webhook.Timeout.Duration,
			MaxRetries: cfg.Output.Webhook.MaxRetries,
			Headers:    cfg.Output.Webhook.Headers,
		}))
	}

	var players output.RecordWriter
	if cfg.Output.Players != "" {
		w, werr := output.NewWriter(cfg.Output.Players)
		if werr != nil {
			return fmt.Errorf("opening players file: %w", werr)
		}
		defer w.Close()
		players = w
	}

	var dump *output.PcapDump
	if cfg.Output.DebugPcap != "" {
		dump, err = output.NewPcapDump(cfg.Output.DebugPcap)
		if err != nil {
			return fmt.Errorf("opening debug pcap: %w", err)
		}
		defer dump.Close()
	}

	var sniper *output.Sniper
	if cfg.Snipe.Enabled {
		sniper = output.NewSniper(cfg.Snipe.Usernames, cfg.Snipe.AnonPlayers, cfg.Snipe.WebhookURL, nil)
		defer sniper.Close()
	}

	engine, err := scan.New(cfg, scan.Deps{
		Handle:  handle,
		Probes:  probes,
		Capture: recv.Handle,
		UseSLL:  recv.UseSLL,
		Stats:   recv.SocketStats,
		Sink:    sink,
		Players: players,
		Sniper:  sniper,
		Dump:    dump,
		SrcIP:   details.SrcIP,
		SrcMAC:  details.SrcMAC,
		GwMAC:   details.GatewayMAC,
	}, logger)
	if err != nil {
		return err
	}

	if cfg.Output.File != "" {
		aliases, lerr := loadAliasRecords(cfg.Output.File)
		if lerr != nil {
			logger.Warn().Err(lerr).Msg("could not seed alias records")
		} else if len(aliases) > 0 {
			engine.LoadAliases(aliases)
			logger.Info().Int("count", len(aliases)).Msg("seeded alias records")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Int("rate", cfg.Scan.Rate).Str("ports", cfg.Scan.Ports).Msg("starting scan")
	start := time.Now()
	err = engine.Run(ctx)
	logger.Info().Dur("elapsed", time.Since(start)).Msg("stopped")
	return err
}

// loadAliasRecords replays the JSONL output file and collects alias
// promotions so a restart doesn't re-flood the sinks with duplicate ports.
func loadAliasRecords(path string) ([]results.AliasedIPRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []results.AliasedIPRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<22)
	for sc.Scan() {
		var rec results.AliasedIPRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		// server records share the "ip" key; only promotions carry a port
		// range collapsed onto allowed_port
		if rec.AllowedPort == 0 || rec.FirstSeen.IsZero() {
			continue
		}
		records = append(records, rec)
	}
	return records, sc.Err()
}
