package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `logging:
  level: debug
  format: text
telemetry:
  enabled: true
  listen: ":9102"
devices:
  - name: ai1
    family: analog_input
    endpoint:
      address: 127.0.0.1:502
      unit_id: 3
    max_read_length: 8
    interval: 250ms
    channels:
      - input: thermocouple_j
      - input: mv_150
      - input: custom
        expression: raw * 0.1
        places: 1
  - name: inv
    family: inverter
    function: holding
    purposes: [data]
    endpoint:
      mode: rtu
      address: /dev/ttyUSB0
      baud_rate: 9600
      parity: E
      stop_bits: 1
      timeout: 2s
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Telemetry.Enabled)
	require.Len(t, cfg.Devices, 2)

	ai := cfg.Devices[0]
	require.Equal(t, FamilyAnalogInput, ai.Family)
	require.Equal(t, "tcp", ai.Endpoint.Mode)
	require.False(t, ai.Endpoint.IsRTU())
	require.Equal(t, uint8(3), ai.Endpoint.UnitID)
	require.Equal(t, DefaultTimeout, ai.Endpoint.Timeout.Duration)
	require.Equal(t, "holding", ai.Function)
	require.Equal(t, 8, ai.MaxReadLength)
	require.Equal(t, 250*time.Millisecond, ai.PollInterval())
	require.Len(t, ai.Channels, 3)
	require.Equal(t, "raw * 0.1", ai.Channels[2].Expression)
	require.Equal(t, int32(1), ai.Channels[2].Places)

	inv := cfg.Devices[1]
	require.True(t, inv.Endpoint.IsRTU())
	require.Equal(t, 9600, inv.Endpoint.BaudRate)
	require.Equal(t, 2*time.Second, inv.Endpoint.Timeout.Duration)
	require.Equal(t, DefaultMaxReadLength, inv.MaxReadLength)
	require.Equal(t, DefaultInterval, inv.PollInterval())
	require.Equal(t, []string{"data"}, inv.Purposes)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown family": `devices:
  - name: x
    family: toaster
    endpoint: {address: "h:502"}
`,
		"read length too large": `devices:
  - name: x
    family: inverter
    max_read_length: 200
    endpoint: {address: "h:502"}
`,
		"unknown field": `devices:
  - name: x
    family: inverter
    endpoint: {address: "h:502"}
    retries: 3
`,
		"missing address": `devices:
  - name: x
    family: inverter
    endpoint: {unit_id: 1}
`,
		"no devices": `devices: []
`,
		"bad purpose": `devices:
  - name: x
    family: inverter
    purposes: [everything]
    endpoint: {address: "h:502"}
`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(name+".yaml", []byte(raw))
			require.Error(t, err)
		})
	}
}

func TestParseRejectsDuplicateDevices(t *testing.T) {
	raw := `devices:
  - name: x
    family: inverter
    endpoint: {address: "a:502"}
  - name: x
    family: analog_input
    endpoint: {address: "b:502"}
`
	_, err := Parse("dup.yaml", []byte(raw))
	require.ErrorContains(t, err, "declared more than once")
}

func TestParseRejectsBadDuration(t *testing.T) {
	raw := `devices:
  - name: x
    family: inverter
    interval: soon
    endpoint: {address: "a:502"}
`
	_, err := Parse("duration.yaml", []byte(raw))
	require.ErrorContains(t, err, "parse duration")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
	_, err = Load("")
	require.Error(t, err)
}

func TestParseSimEndpoint(t *testing.T) {
	raw := `hot_reload: true
devices:
  - name: demo
    family: analog_input
    endpoint:
      mode: sim
      address: demo
      seed: 42
      failure_rate: 0.25
`
	cfg, err := Parse("sim.yaml", []byte(raw))
	require.NoError(t, err)
	require.True(t, cfg.HotReload)
	ep := cfg.Devices[0].Endpoint
	require.True(t, ep.IsSim())
	require.False(t, ep.IsRTU())
	require.NotNil(t, ep.Seed)
	require.Equal(t, int64(42), *ep.Seed)
	require.Equal(t, 0.25, ep.FailureRate)

	_, err = Parse("sim.yaml", []byte(`devices:
  - name: demo
    family: analog_input
    endpoint: {mode: sim, address: demo, failure_rate: 2}
`))
	require.Error(t, err)
}

func TestParseMQTT(t *testing.T) {
	raw := `mqtt:
  broker: tcp://localhost:1883
  qos: 1
devices:
  - name: demo
    family: inverter
    endpoint: {mode: sim, address: demo}
`
	cfg, err := Parse("mqtt.yaml", []byte(raw))
	require.NoError(t, err)
	require.NotNil(t, cfg.MQTT)
	require.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	require.Equal(t, byte(1), cfg.MQTT.QoS)
	require.Equal(t, DefaultTopicPrefix, cfg.MQTT.TopicPrefix)
	require.Equal(t, DefaultTimeout, cfg.MQTT.Timeout.Duration)

	_, err = Parse("mqtt.yaml", []byte(`mqtt: {broker: "localhost:1883"}
devices:
  - name: demo
    family: inverter
    endpoint: {mode: sim, address: demo}
`))
	require.Error(t, err)
}

func TestParseRejectsUnbuildableChannels(t *testing.T) {
	cases := map[string]string{
		"unknown input": `devices:
  - name: ai
    family: analog_input
    endpoint: {address: "h:502"}
    channels:
      - input: bogus
`,
		"too many channels": `devices:
  - name: ai
    family: analog_input
    endpoint: {address: "h:502"}
    channels: [{input: mv_150}, {input: mv_150}, {input: mv_150}, {input: mv_150},
      {input: mv_150}, {input: mv_150}, {input: mv_150}, {input: mv_150}, {input: mv_150}]
`,
		"custom without expression": `devices:
  - name: ai
    family: analog_input
    endpoint: {address: "h:502"}
    channels:
      - input: custom
`,
		"expression does not compile": `devices:
  - name: ai
    family: analog_input
    endpoint: {address: "h:502"}
    channels:
      - input: custom
        expression: "raw *"
`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(name+".yaml", []byte(raw))
			require.Error(t, err)
		})
	}

	_, err := Parse("expr.yaml", []byte(cases["expression does not compile"]))
	require.ErrorContains(t, err, "device ai: channel 0")
}
