package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Scan    ScanConfig    `yaml:"scan"`
	Rescan  RescanConfig  `yaml:"rescan"`
	Snipe   SnipeConfig   `yaml:"snipe"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// ScanConfig holds all settings related to the scanning process.
type ScanConfig struct {
	Targets     TargetsConfig `yaml:"targets"`
	Ports       string        `yaml:"ports"`        // e.g. "25565,25560-25570"
	DefaultPort uint16        `yaml:"default_port"` // port favored by alias/adaptive logic
	Interface   string        `yaml:"interface"`    // network interface
	SourceIP    string        `yaml:"source_ip"`    // source IP override
	GwMAC       string        `yaml:"gw_mac"`       // gateway MAC override
	Rate        int           `yaml:"rate"`         // packets per second
	Shards      int           `yaml:"shards"`       // sender threads
	BatchSend   bool          `yaml:"batch_send"`   // sendmmsg probe batching (linux, non-tunnel)

	// SourcePortMin/Max define the local port range SYNs are sent from.
	// Firewall it so the kernel doesn't RST our connections, e.g.
	// iptables -A INPUT -p tcp --dport 61000 -j DROP
	SourcePortMin uint16 `yaml:"source_port_min"`
	SourcePortMax uint16 `yaml:"source_port_max"`

	// ProtocolVersion is the Minecraft protocol version sent in the
	// handshake (e.g. 767). It only matters for a few strict servers.
	ProtocolVersion int    `yaml:"protocol_version"`
	Hostname        string `yaml:"hostname"` // hostname claimed in the handshake

	// Fingerprinting switches the application payload from a status ping
	// to the active login-error probe.
	Fingerprinting bool `yaml:"fingerprinting"`

	PingTimeout    Duration `yaml:"ping_timeout"`    // idle eviction timeout
	SecretRotation Duration `yaml:"secret_rotation"` // cookie epoch length
	MaxPending     int      `yaml:"max_pending"`     // pending handshake cap
	AliasThreshold int      `yaml:"alias_threshold"` // identical ports before an IP is aliased
}

// TargetsConfig defines included target ranges and the exclusion source.
type TargetsConfig struct {
	Include     []string `yaml:"include"`      // CIDR, IP, or a-b range
	Exclude     []string `yaml:"exclude"`      // inline exclusions
	ExcludeFile string   `yaml:"exclude_file"` // one CIDR/range/IP per line, # comments
}

// RescanConfig tunes how previously seen servers are fed into new cycles.
type RescanConfig struct {
	Enabled             bool     `yaml:"enabled"`
	RescanEvery         Duration `yaml:"rescan_every"`          // baseline interval
	PlayersOnlineEvery  Duration `yaml:"players_online_every"`  // interval when players were seen recently
	PlayersOnlineWindow Duration `yaml:"players_online_window"` // how recent "recently" is
	LargeServerPlayers  int      `yaml:"large_server_players"`  // max_players above which a server is hot
	DeadAfterFailures   int      `yaml:"dead_after_failures"`   // drop after this many silent cycles
	Limit               int      `yaml:"limit"`                 // max rescan targets per cycle
}

// SnipeConfig controls player join/leave webhook notifications.
type SnipeConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Usernames   []string `yaml:"usernames"`
	AnonPlayers bool     `yaml:"anon_players"`
	WebhookURL  string   `yaml:"webhook_url"`
}

// OutputConfig controls how results are reported.
type OutputConfig struct {
	File      string         `yaml:"file"`       // JSONL server records
	Players   string         `yaml:"players"`    // JSONL player records
	Stdout    bool           `yaml:"stdout"`     // stream JSONL to stdout
	Webhook   *WebhookOutput `yaml:"webhook"`    // webhook HTTP POST sink
	DebugPcap string         `yaml:"debug_pcap"` // dump undecodable frames here
}

// WebhookOutput configures the webhook output sink.
type WebhookOutput struct {
	URL        string            `yaml:"url"`
	BatchSize  int               `yaml:"batch_size"`
	Timeout    Duration          `yaml:"timeout"`
	MaxRetries int               `yaml:"max_retries"`
	Headers    map[string]string `yaml:"headers"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level string `yaml:"level"` // trace, debug, info, warn, error
}

// Duration wraps time.Duration for YAML unmarshalling from strings like "5s", "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Load reads a YAML configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if len(cfg.Scan.Targets.Include) == 0 && !cfg.Rescan.Enabled {
		return nil, fmt.Errorf("config: no targets and rescan disabled")
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scan.Ports == "" {
		c.Scan.Ports = "25565"
	}
	if c.Scan.DefaultPort == 0 {
		c.Scan.DefaultPort = 25565
	}
	if c.Scan.Rate <= 0 {
		c.Scan.Rate = 10000
	}
	if c.Scan.Shards <= 0 {
		c.Scan.Shards = 1
	}
	if c.Scan.SourcePortMin == 0 {
		c.Scan.SourcePortMin = 61000
	}
	if c.Scan.SourcePortMax < c.Scan.SourcePortMin {
		c.Scan.SourcePortMax = c.Scan.SourcePortMin
	}
	if c.Scan.ProtocolVersion == 0 {
		c.Scan.ProtocolVersion = 767
	}
	if c.Scan.Hostname == "" {
		c.Scan.Hostname = "localhost"
	}
	if c.Scan.PingTimeout.Duration == 0 {
		c.Scan.PingTimeout.Duration = 30 * time.Second
	}
	if c.Scan.SecretRotation.Duration == 0 {
		c.Scan.SecretRotation.Duration = 2 * time.Minute
	}
	if c.Scan.MaxPending <= 0 {
		c.Scan.MaxPending = 1 << 20
	}
	if c.Scan.AliasThreshold <= 0 {
		c.Scan.AliasThreshold = 5
	}
	if c.Rescan.RescanEvery.Duration == 0 {
		c.Rescan.RescanEvery.Duration = 6 * time.Hour
	}
	if c.Rescan.PlayersOnlineEvery.Duration == 0 {
		c.Rescan.PlayersOnlineEvery.Duration = 30 * time.Minute
	}
	if c.Rescan.PlayersOnlineWindow.Duration == 0 {
		c.Rescan.PlayersOnlineWindow.Duration = 24 * time.Hour
	}
	if c.Rescan.DeadAfterFailures <= 0 {
		c.Rescan.DeadAfterFailures = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
