package foxglove

import "time"

const SpectrumSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object", "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } } },
    "sender_timestamp": { "type": "integer" },
    "version": { "type": "integer" },
    "flags": { "type": "integer" },
    "interpolated": { "type": "boolean" },
    "bands": { "type": "array", "items": { "type": "integer" } },
    "normalized": { "type": "array", "items": { "type": "number" } },
    "peak": { "type": "number" },
    "mean": { "type": "number" }
  },
  "required": ["bands", "normalized"]
}`

const RateSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object", "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } } },
    "raw_total": { "type": "integer" },
    "decoded_total": { "type": "integer" },
    "raw_cumulative": { "type": "number" },
    "raw_windowed": { "type": "number" },
    "decoded_cumulative": { "type": "number" },
    "decoded_windowed": { "type": "number" },
    "decode_errors": { "type": "object", "additionalProperties": { "type": "integer" } }
  }
}`

type Config struct {
	WSAddr        string
	Name          string
	Topic         string
	ChannelID     uint64
	RateTopic     string
	RateChannelID uint64
	SchemaName    string
	RateSchema    string
	Encoding      string
	SendBuf       int
	// Interval is how often the bridge drains its slot.
	Interval time.Duration
	// RateInterval is how often rate messages are published.
	RateInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		WSAddr:        "127.0.0.1:8765",
		Name:          "bandwire",
		Topic:         "/spectrum",
		ChannelID:     1,
		RateTopic:     "/spectrum/rate",
		RateChannelID: 2,
		SchemaName:    "bandwire.Spectrum",
		RateSchema:    "bandwire.Rate",
		Encoding:      "json",
		SendBuf:       256,
		Interval:      33 * time.Millisecond,
		RateInterval:  time.Second,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.WSAddr == "" {
		cfg.WSAddr = def.WSAddr
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.ChannelID == 0 {
		cfg.ChannelID = def.ChannelID
	}
	if cfg.RateTopic == "" {
		cfg.RateTopic = def.RateTopic
	}
	if cfg.RateChannelID == 0 || cfg.RateChannelID == cfg.ChannelID {
		cfg.RateChannelID = cfg.ChannelID + 1
	}
	if cfg.SchemaName == "" {
		cfg.SchemaName = def.SchemaName
	}
	if cfg.RateSchema == "" {
		cfg.RateSchema = def.RateSchema
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = def.SendBuf
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = def.RateInterval
	}
	return cfg
}
