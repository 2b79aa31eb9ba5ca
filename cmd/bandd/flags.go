package main

import (
	"flag"
	"fmt"
	"time"

	"bandwire/pkg/config"
)

// pipelineFlags override the config file for the receiving commands. Only
// flags given on the command line take effect.
type pipelineFlags struct {
	configPath  string
	udpAddr     string
	tcpAddr     string
	pcapPath    string
	port        int
	realtime    bool
	speed       float64
	record      string
	foxglove    bool
	wsAddr      string
	metricsAddr string
	stats       time.Duration
	logLevel    string
	logFormat   string
}

func (f *pipelineFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", config.DefaultConfigPath, "TOML config path")
	fs.StringVar(&f.udpAddr, "udp", "", "UDP listen address")
	fs.StringVar(&f.tcpAddr, "tcp", "", "TCP source address (COBS framed)")
	fs.StringVar(&f.pcapPath, "pcap", "", "pcap capture to replay")
	fs.IntVar(&f.port, "port", 0, "UDP destination port to replay from the capture (0 = all)")
	fs.BoolVar(&f.realtime, "realtime", false, "pace replay by capture timestamps")
	fs.Float64Var(&f.speed, "speed", 1, "replay speed factor")
	fs.StringVar(&f.record, "record", "", "JSONL output path (- for stdout)")
	fs.BoolVar(&f.foxglove, "foxglove", false, "enable the foxglove websocket bridge")
	fs.StringVar(&f.wsAddr, "ws", "", "foxglove websocket address (implies --foxglove)")
	fs.StringVar(&f.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	fs.DurationVar(&f.stats, "stats", 0, "stats report interval")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
}

func (f *pipelineFlags) load(fs *flag.FlagSet) (config.Config, error) {
	cfg, _, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return config.Config{}, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "udp":
			cfg.Source.Kind = config.SourceUDP
			cfg.Source.UDPAddr = f.udpAddr
		case "tcp":
			cfg.Source.Kind = config.SourceTCP
			cfg.Source.TCPAddr = f.tcpAddr
		case "pcap":
			cfg.Source.Kind = config.SourcePCAP
			cfg.Source.PCAPPath = f.pcapPath
		case "port":
			cfg.Source.PCAPPort = f.port
		case "realtime":
			cfg.Source.Realtime = f.realtime
		case "speed":
			cfg.Source.Speed = f.speed
		case "record":
			cfg.Record.Path = f.record
		case "foxglove":
			cfg.Foxglove.Enabled = f.foxglove
		case "ws":
			cfg.Foxglove.Enabled = true
			cfg.Foxglove.WSAddr = f.wsAddr
		case "metrics":
			cfg.Metrics.Addr = f.metricsAddr
		case "stats":
			cfg.Stats.Interval = f.stats.String()
		case "log-level":
			cfg.Logging.Level = f.logLevel
		case "log-format":
			cfg.Logging.Format = f.logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("config %s: %w", cfg.ConfigPath(), err)
	}
	return cfg, nil
}
