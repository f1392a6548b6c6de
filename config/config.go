package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/regio/decode"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Device families understood by cmd/regpoll.
const (
	FamilyAnalogInput = "analog_input"
	FamilyInverter    = "inverter"
)

// Defaults applied to omitted device settings.
const (
	DefaultMaxReadLength = 125
	DefaultInterval      = time.Second
	DefaultTimeout       = 5 * time.Second
)

// Endpoint modes.
const (
	ModeTCP = "tcp"
	ModeRTU = "rtu"
	ModeSim = "sim"
)

// EndpointConfig describes how to reach a Modbus slave over TCP or a serial
// RTU line. Mode "sim" serves an in-memory register image instead; Seed and
// FailureRate only apply there.
type EndpointConfig struct {
	Mode        string   `yaml:"mode,omitempty"`
	Address     string   `yaml:"address"`
	UnitID      uint8    `yaml:"unit_id"`
	Timeout     Duration `yaml:"timeout,omitempty"`
	BaudRate    int      `yaml:"baud_rate,omitempty"`
	DataBits    int      `yaml:"data_bits,omitempty"`
	Parity      string   `yaml:"parity,omitempty"`
	StopBits    int      `yaml:"stop_bits,omitempty"`
	Seed        *int64   `yaml:"seed,omitempty"`
	FailureRate float64  `yaml:"failure_rate,omitempty"`
}

// IsRTU reports whether the endpoint is a serial line.
func (e EndpointConfig) IsRTU() bool {
	return strings.EqualFold(e.Mode, ModeRTU)
}

// IsSim reports whether the endpoint is simulated.
func (e EndpointConfig) IsSim() bool {
	return strings.EqualFold(e.Mode, ModeSim)
}

// ChannelConfig selects the input range of one analog channel. Expression,
// when set, overrides Input with a formula over raw.
type ChannelConfig struct {
	Input      string `yaml:"input"`
	Expression string `yaml:"expression,omitempty"`
	Places     int32  `yaml:"places,omitempty"`
}

// DeviceConfig describes one polled device.
type DeviceConfig struct {
	Name          string          `yaml:"name"`
	Family        string          `yaml:"family"`
	Endpoint      EndpointConfig  `yaml:"endpoint"`
	Function      string          `yaml:"function,omitempty"`
	MaxReadLength int             `yaml:"max_read_length,omitempty"`
	Interval      Duration        `yaml:"interval,omitempty"`
	Purposes      []string        `yaml:"purposes,omitempty"`
	Channels      []ChannelConfig `yaml:"channels,omitempty"`
	Disable       bool            `yaml:"disable,omitempty"`
}

// PollInterval returns the configured polling interval.
func (d DeviceConfig) PollInterval() time.Duration {
	if d.Interval.Duration <= 0 {
		return DefaultInterval
	}
	return d.Interval.Duration
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
	Listen   string `yaml:"listen,omitempty"`
}

// Config is the root configuration structure of the poll tool. With
// HotReload set, the tool rebuilds its devices when the file changes.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	HotReload bool            `yaml:"hot_reload,omitempty"`
	MQTT      *MQTTConfig     `yaml:"mqtt,omitempty"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// DefaultTopicPrefix is the MQTT topic prefix used when none is configured.
const DefaultTopicPrefix = "regio"

// MQTTConfig enables publishing of decoded device values to a broker. Each
// device reports to <topic_prefix>/<device name>.
type MQTTConfig struct {
	Broker      string   `yaml:"broker"`
	ClientID    string   `yaml:"client_id,omitempty"`
	TopicPrefix string   `yaml:"topic_prefix,omitempty"`
	QoS         byte     `yaml:"qos,omitempty"`
	Retain      bool     `yaml:"retain,omitempty"`
	Username    string   `yaml:"username,omitempty"`
	Password    string   `yaml:"password,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
}

// Load reads, validates and decodes the configuration file from disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, raw)
}

// Parse validates raw YAML against the configuration schema and decodes it.
// name is only used in error messages.
func Parse(name string, raw []byte) (*Config, error) {
	if err := Validate(name, raw); err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.checkNames(); err != nil {
		return nil, err
	}
	if err := cfg.checkChannels(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MQTT != nil {
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = DefaultTopicPrefix
		}
		if c.MQTT.Timeout.Duration <= 0 {
			c.MQTT.Timeout.Duration = DefaultTimeout
		}
	}
	for i := range c.Devices {
		dev := &c.Devices[i]
		if dev.Endpoint.Mode == "" {
			dev.Endpoint.Mode = ModeTCP
		}
		if dev.Endpoint.Timeout.Duration <= 0 {
			dev.Endpoint.Timeout.Duration = DefaultTimeout
		}
		if dev.Function == "" {
			dev.Function = "holding"
		}
		if dev.MaxReadLength == 0 {
			dev.MaxReadLength = DefaultMaxReadLength
		}
	}
}

// checkChannels compiles every channel formula so a broken expression is
// reported when the file is loaded rather than when the device is built.
func (c *Config) checkChannels() error {
	for _, dev := range c.Devices {
		for i, ch := range dev.Channels {
			if strings.TrimSpace(ch.Expression) == "" {
				if ch.Input == "custom" {
					return fmt.Errorf("device %s: channel %d: custom input needs an expression", dev.Name, i)
				}
				continue
			}
			if _, err := decode.NewExpression(ch.Expression, ch.Places); err != nil {
				return fmt.Errorf("device %s: channel %d: %w", dev.Name, i, err)
			}
		}
	}
	return nil
}

func (c *Config) checkNames() error {
	seen := make(map[string]struct{}, len(c.Devices))
	for _, dev := range c.Devices {
		if _, ok := seen[dev.Name]; ok {
			return fmt.Errorf("device %s declared more than once", dev.Name)
		}
		seen[dev.Name] = struct{}{}
	}
	return nil
}
