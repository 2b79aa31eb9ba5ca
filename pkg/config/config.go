package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const DefaultConfigPath = "bandwire.toml"

const (
	SourceUDP  = "udp"
	SourceTCP  = "tcp"
	SourcePCAP = "pcap"
)

type Config struct {
	Source     SourceConfig   `toml:"source"`
	Stats      StatsConfig    `toml:"stats"`
	Record     RecordConfig   `toml:"record"`
	Foxglove   FoxgloveConfig `toml:"foxglove"`
	Metrics    MetricsConfig  `toml:"metrics"`
	Logging    LoggingConfig  `toml:"logging"`
	Send       SendConfig     `toml:"send"`
	configPath string         `toml:"-"`
}

type SourceConfig struct {
	Kind        string  `toml:"kind"`
	UDPAddr     string  `toml:"udp_addr"`
	ReadTimeout string  `toml:"read_timeout"`
	Buf         int     `toml:"buf"`
	RcvBuf      int     `toml:"rcvbuf"`
	TCPAddr     string  `toml:"tcp_addr,omitempty"`
	Reconnect   string  `toml:"reconnect"`
	PCAPPath    string  `toml:"pcap_path,omitempty"`
	PCAPPort    int     `toml:"pcap_port"`
	Realtime    bool    `toml:"realtime"`
	Speed       float64 `toml:"speed"`
}

type StatsConfig struct {
	Interval string `toml:"interval"`
}

type RecordConfig struct {
	Path     string `toml:"path,omitempty"`
	Interval string `toml:"interval"`
}

type FoxgloveConfig struct {
	Enabled   bool   `toml:"enabled"`
	WSAddr    string `toml:"ws_addr"`
	Name      string `toml:"name"`
	Topic     string `toml:"topic"`
	RateTopic string `toml:"rate_topic"`
	Interval  string `toml:"interval"`
}

type MetricsConfig struct {
	Addr string `toml:"addr,omitempty"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type SendConfig struct {
	Addr         string `toml:"addr"`
	Hz           int    `toml:"hz"`
	Bands        int    `toml:"bands"`
	Interpolated bool   `toml:"interpolated"`
}

func Default() Config {
	return Config{
		Source: SourceConfig{
			Kind:        SourceUDP,
			UDPAddr:     "0.0.0.0:8080",
			ReadTimeout: "100ms",
			Buf:         2048,
			Reconnect:   "1s",
			PCAPPort:    8080,
			Speed:       1,
		},
		Stats: StatsConfig{
			Interval: "1s",
		},
		Record: RecordConfig{
			Interval: "16ms",
		},
		Foxglove: FoxgloveConfig{
			WSAddr:    "127.0.0.1:8765",
			Name:      "bandwire",
			Topic:     "/spectrum",
			RateTopic: "/spectrum/rate",
			Interval:  "33ms",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Send: SendConfig{
			Addr:         "127.0.0.1:8080",
			Hz:           60,
			Bands:        64,
			Interpolated: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault returns the defaults when path does not exist; the bool
// reports whether a file was read.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	switch cfg.Source.Kind {
	case SourceUDP:
		if _, _, err := net.SplitHostPort(cfg.Source.UDPAddr); err != nil {
			return fmt.Errorf("source.udp_addr: %w", err)
		}
	case SourceTCP:
		if _, _, err := net.SplitHostPort(cfg.Source.TCPAddr); err != nil {
			return fmt.Errorf("source.tcp_addr: %w", err)
		}
	case SourcePCAP:
		if cfg.Source.PCAPPath == "" {
			return fmt.Errorf("source.pcap_path is required for kind %q", SourcePCAP)
		}
	default:
		return fmt.Errorf("source.kind must be one of udp, tcp, pcap: got %q", cfg.Source.Kind)
	}
	if cfg.Source.Buf < 9 {
		return fmt.Errorf("source.buf too small: %d", cfg.Source.Buf)
	}
	if cfg.Source.PCAPPort < 0 || cfg.Source.PCAPPort > 0xFFFF {
		return fmt.Errorf("source.pcap_port out of range: %d", cfg.Source.PCAPPort)
	}
	if cfg.Source.Speed <= 0 {
		return fmt.Errorf("source.speed must be positive: %v", cfg.Source.Speed)
	}

	durations := map[string]string{
		"source.read_timeout": cfg.Source.ReadTimeout,
		"source.reconnect":    cfg.Source.Reconnect,
		"stats.interval":      cfg.Stats.Interval,
		"record.interval":     cfg.Record.Interval,
		"foxglove.interval":   cfg.Foxglove.Interval,
	}
	for key, value := range durations {
		if _, err := parsePositiveDuration(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	if cfg.Send.Hz <= 0 {
		return fmt.Errorf("send.hz must be positive: %d", cfg.Send.Hz)
	}
	if cfg.Send.Bands < 1 || cfg.Send.Bands > 255 {
		return fmt.Errorf("send.bands out of range 1..255: %d", cfg.Send.Bands)
	}
	return nil
}

func (cfg *Config) normalize(path string) {
	def := Default()

	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = def.Source.Kind
	}
	if cfg.Source.UDPAddr == "" {
		cfg.Source.UDPAddr = def.Source.UDPAddr
	}
	if cfg.Source.ReadTimeout == "" {
		cfg.Source.ReadTimeout = def.Source.ReadTimeout
	}
	if cfg.Source.Buf <= 0 {
		cfg.Source.Buf = def.Source.Buf
	}
	if cfg.Source.Reconnect == "" {
		cfg.Source.Reconnect = def.Source.Reconnect
	}
	if cfg.Source.Speed == 0 {
		cfg.Source.Speed = def.Source.Speed
	}

	if cfg.Stats.Interval == "" {
		cfg.Stats.Interval = def.Stats.Interval
	}
	if cfg.Record.Interval == "" {
		cfg.Record.Interval = def.Record.Interval
	}

	if cfg.Foxglove.WSAddr == "" {
		cfg.Foxglove.WSAddr = def.Foxglove.WSAddr
	}
	if cfg.Foxglove.Name == "" {
		cfg.Foxglove.Name = def.Foxglove.Name
	}
	if cfg.Foxglove.Topic == "" {
		cfg.Foxglove.Topic = def.Foxglove.Topic
	}
	if cfg.Foxglove.RateTopic == "" {
		cfg.Foxglove.RateTopic = def.Foxglove.RateTopic
	}
	if cfg.Foxglove.Interval == "" {
		cfg.Foxglove.Interval = def.Foxglove.Interval
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}

	if cfg.Send.Addr == "" {
		cfg.Send.Addr = def.Send.Addr
	}
	if cfg.Send.Hz == 0 {
		cfg.Send.Hz = def.Send.Hz
	}
	if cfg.Send.Bands == 0 {
		cfg.Send.Bands = def.Send.Bands
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path

	// Relative capture paths are resolved against the config file.
	if cfg.Source.PCAPPath != "" && !filepath.IsAbs(cfg.Source.PCAPPath) {
		cfg.Source.PCAPPath = filepath.Clean(filepath.Join(filepath.Dir(path), cfg.Source.PCAPPath))
	}
}

func (s SourceConfig) ReadTimeoutDuration() time.Duration { return mustDuration(s.ReadTimeout) }
func (s SourceConfig) ReconnectDuration() time.Duration   { return mustDuration(s.Reconnect) }
func (s StatsConfig) IntervalDuration() time.Duration     { return mustDuration(s.Interval) }
func (r RecordConfig) IntervalDuration() time.Duration    { return mustDuration(r.Interval) }
func (f FoxgloveConfig) IntervalDuration() time.Duration  { return mustDuration(f.Interval) }

// mustDuration is only used on validated configs; invalid input yields zero.
func mustDuration(value string) time.Duration {
	d, _ := parsePositiveDuration(value)
	return d
}

func parsePositiveDuration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %s", value)
	}
	return d, nil
}
