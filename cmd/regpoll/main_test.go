package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/regio/config"
	"github.com/timzifer/regio/publish"
	"github.com/timzifer/regio/telemetry"
	"github.com/timzifer/regio/transport/modbus"
)

type fakeClient struct {
	registers map[uint16]uint16
	fail      bool
}

func (c *fakeClient) read(address, quantity uint16) ([]byte, error) {
	if c.fail {
		return nil, errors.New("device offline")
	}
	out := make([]byte, 0, int(quantity)*2)
	for i := uint16(0); i < quantity; i++ {
		v := c.registers[address+i]
		out = append(out, byte(v>>8), byte(v))
	}
	return out, nil
}

func (c *fakeClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return c.read(address, quantity)
}

func (c *fakeClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return c.read(address, quantity)
}

func (c *fakeClient) Close() error { return nil }

const pollConfig = `devices:
  - name: ai1
    family: analog_input
    max_read_length: 8
    endpoint: {address: "ai:502"}
    channels:
      - input: mv_150
  - name: inv
    family: inverter
    purposes: [data]
    endpoint: {address: "inv:502"}
  - name: spare
    family: inverter
    disable: true
    endpoint: {address: "spare:502"}
`

func TestBuildDevicesAndPollOnce(t *testing.T) {
	cfg, err := config.Parse("poll.yaml", []byte(pollConfig))
	require.NoError(t, err)

	clients := map[string]*fakeClient{
		"ai:502":  {registers: map[uint16]uint16{0: 684, 200: 0x4149}},
		"inv:502": {registers: map[uint16]uint16{40071: 1234, 40075: 0xFFFE, 40083: 0x8000, 40108: 4}},
	}
	var opened []string
	factory := func(ep config.EndpointConfig) (modbus.Client, error) {
		opened = append(opened, ep.Address)
		return clients[ep.Address], nil
	}

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	devices, err := buildDevices(cfg, modbus.ClientFactory(factory), logger, telemetry.Noop())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	defer closeDevices(devices)

	require.NoError(t, pollOnce(context.Background(), devices, logger, publish.Nop()))
	require.ElementsMatch(t, []string{"ai:502", "inv:502"}, opened)
	require.True(t, devices[0].infoRead)
	require.False(t, devices[1].infoRead)

	out := buf.String()
	require.Contains(t, out, `"ch0":"0.00157 V"`)
	require.Contains(t, out, `"module":"AI"`)
	require.Contains(t, out, `"ac_current":"12.34 A"`)
	require.Contains(t, out, `"state":"mppt"`)
	require.Contains(t, out, `"ac_power":"unavailable"`)
}

func TestPollOnceReportsFailures(t *testing.T) {
	cfg, err := config.Parse("poll.yaml", []byte(pollConfig))
	require.NoError(t, err)
	factory := func(config.EndpointConfig) (modbus.Client, error) {
		return &fakeClient{fail: true}, nil
	}
	devices, err := buildDevices(cfg, factory, zerolog.Nop(), telemetry.Noop())
	require.NoError(t, err)

	err = pollOnce(context.Background(), devices, zerolog.Nop(), publish.Nop())
	require.ErrorContains(t, err, "device offline")
	require.ErrorContains(t, err, "device ai1")
	require.ErrorContains(t, err, "device inv")
	require.False(t, devices[0].infoRead)
}

func TestNewTelemetryCollector(t *testing.T) {
	collector, err := newTelemetryCollector(config.TelemetryConfig{})
	require.NoError(t, err)
	require.Equal(t, telemetry.Noop(), collector)

	_, err = newTelemetryCollector(config.TelemetryConfig{Enabled: true, Provider: "statsd"})
	require.Error(t, err)
}

const simConfig = `devices:
  - name: demo-ai
    family: analog_input
    endpoint: {mode: sim, address: demo, seed: 7}
  - name: demo-inv
    family: inverter
    endpoint: {mode: sim, address: demo, seed: 7}
`

func TestBuildSimulatedDevices(t *testing.T) {
	cfg, err := config.Parse("sim.yaml", []byte(simConfig))
	require.NoError(t, err)
	factory := func(config.EndpointConfig) (modbus.Client, error) {
		return nil, errors.New("simulated devices must not dial")
	}

	var buf bytes.Buffer
	devices, err := buildDevices(cfg, factory, zerolog.New(&buf), telemetry.Noop())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	require.Nil(t, devices[0].closer)

	require.NoError(t, pollOnce(context.Background(), devices, zerolog.New(&buf), publish.Nop()))
	out := buf.String()
	require.Contains(t, out, `"module":"AI-8 SIM"`)
	require.Contains(t, out, `"serial":"SIM0001"`)
	require.Contains(t, out, `"state":"mppt"`)
	require.NotContains(t, out, `"ch0":"unavailable"`)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// replaceFile swaps the content of path in one rename so the watcher never
// sees a half-written file.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestServeReloadsConfiguration(t *testing.T) {
	previous := reloadInterval
	reloadInterval = 10 * time.Millisecond
	t.Cleanup(func() { reloadInterval = previous })

	first := `hot_reload: true
devices:
  - name: first
    family: inverter
    interval: 20ms
    endpoint: {mode: sim, address: a}
`
	second := first + `  - name: second
    family: analog_input
    interval: 20ms
    endpoint: {mode: sim, address: b}
`
	path := filepath.Join(t.TempDir(), "regio.yaml")
	replaceFile(t, path, first)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	var buf syncBuffer
	logger := zerolog.New(&buf)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, path, cfg, nil, logger, telemetry.Noop())
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), `"device":"first"`)
	}, 2*time.Second, 10*time.Millisecond)

	replaceFile(t, path, "devices: not-a-list\n")
	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "configuration change rejected")
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("serve stopped on a rejected change: %v", err)
	default:
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	unreachable := "tcp://" + l.Addr().String()
	require.NoError(t, l.Close())
	brokerDown := "mqtt: {broker: \"" + unreachable + "\", timeout: 200ms}\n" + second
	replaceFile(t, path, brokerDown)
	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "configuration change rejected") >= 2
	}, 3*time.Second, 10*time.Millisecond)

	unbuildable := first + `  - name: broken
    family: analog_input
    endpoint: {mode: sim, address: c}
    channels:
      - input: bogus
`
	replaceFile(t, path, unbuildable)
	require.Eventually(t, func() bool {
		return strings.Count(buf.String(), "configuration change rejected") >= 3
	}, 2*time.Second, 10*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("serve stopped on a rejected change: %v", err)
	default:
	}
	require.NotContains(t, buf.String(), `"device":"broken"`)

	replaceFile(t, path, second)
	require.Eventually(t, func() bool {
		out := buf.String()
		return strings.Contains(out, "configuration reloaded") && strings.Contains(out, `"device":"second"`)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop")
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	reports []publish.Report
	err     error
}

func (p *recordingPublisher) Publish(r publish.Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.reports = append(p.reports, r)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestPollPublishesReports(t *testing.T) {
	cfg, err := config.Parse("sim.yaml", []byte(simConfig))
	require.NoError(t, err)
	devices, err := buildDevices(cfg, nil, zerolog.Nop(), telemetry.Noop())
	require.NoError(t, err)

	pub := &recordingPublisher{}
	require.NoError(t, pollOnce(context.Background(), devices, zerolog.Nop(), pub))
	require.Len(t, pub.reports, 2)
	require.Equal(t, "demo-ai", pub.reports[0].Device)
	require.Equal(t, "AI-8 SIM", pub.reports[0].Values["module"])
	require.False(t, pub.reports[0].DataTimestamp.IsZero())
	require.Equal(t, "mppt", pub.reports[1].Values["state"])
	require.Equal(t, "100000 Wh", pub.reports[1].Values["energy"])

	pub.err = errors.New("broker gone")
	err = pollOnce(context.Background(), devices, zerolog.Nop(), pub)
	require.ErrorContains(t, err, "broker gone")
	require.ErrorContains(t, err, "device demo-inv")
}

func TestNewPublisherWithoutMQTT(t *testing.T) {
	pub, err := newPublisher(nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, publish.Nop(), pub)
}
