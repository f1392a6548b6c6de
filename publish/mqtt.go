package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/timzifer/regio/config"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt: operation timed out")

// MQTT publishes every report as JSON to <prefix>/<device>.
type MQTT struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	retain  bool
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMQTT connects to the configured broker.
func NewMQTT(cfg config.MQTTConfig, logger zerolog.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = config.DefaultTopicPrefix
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt: connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}
	logger.Info().Str("broker", cfg.Broker).Str("prefix", prefix).Msg("mqtt: connected")
	return &MQTT{
		client:  client,
		prefix:  prefix,
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Topic returns the topic reports of device are published to.
func (m *MQTT) Topic(device string) string {
	return m.prefix + "/" + device
}

// Publish sends report and waits for the broker's acknowledgement.
func (m *MQTT) Publish(report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("mqtt: encode report: %w", err)
	}
	topic := m.Topic(report.Device)
	token := m.client.Publish(topic, m.qos, m.retain, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt: publish %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	m.logger.Trace().Str("topic", topic).Int("bytes", len(payload)).Msg("mqtt: report published")
	return nil
}

// Close disconnects after giving in-flight messages a short grace period.
func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
