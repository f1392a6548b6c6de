package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/regio/accessor"
	"github.com/timzifer/regio/config"
	"github.com/timzifer/regio/devices/analogin"
	"github.com/timzifer/regio/devices/inverter"
	"github.com/timzifer/regio/publish"
	"github.com/timzifer/regio/telemetry"
	"github.com/timzifer/regio/transport/modbus"
	"github.com/timzifer/regio/transport/sim"
)

// polledDevice couples a device accessor with its schedule and a reporter
// that logs decoded values.
type polledDevice struct {
	device   accessor.Device
	purposes []accessor.Purpose
	interval time.Duration
	report   func() map[string]any
	closer   io.Closer
	infoRead bool
}

func buildDevices(cfg *config.Config, factory modbus.ClientFactory, logger zerolog.Logger, collector telemetry.Collector) ([]*polledDevice, error) {
	out := make([]*polledDevice, 0, len(cfg.Devices))
	for _, devCfg := range cfg.Devices {
		if devCfg.Disable {
			logger.Info().Str("device", devCfg.Name).Msg("device disabled")
			continue
		}
		dev, err := buildDevice(devCfg, factory, logger, collector)
		if err != nil {
			closeDevices(out)
			return nil, fmt.Errorf("device %s: %w", devCfg.Name, err)
		}
		out = append(out, dev)
	}
	return out, nil
}

func buildTransport(cfg config.DeviceConfig, factory modbus.ClientFactory, logger zerolog.Logger) (accessor.Transport, io.Closer, *sim.Transport, error) {
	if cfg.Endpoint.IsSim() {
		opts := []sim.Option{sim.WithMaxReadLength(cfg.MaxReadLength), sim.WithFailureRate(cfg.Endpoint.FailureRate)}
		if cfg.Endpoint.Seed != nil {
			opts = append(opts, sim.WithSeed(*cfg.Endpoint.Seed))
		}
		simulated, err := sim.New(opts...)
		if err != nil {
			return nil, nil, nil, err
		}
		return simulated, nil, simulated, nil
	}
	fn, err := modbus.ParseFunction(cfg.Function)
	if err != nil {
		return nil, nil, nil, err
	}
	transport, err := modbus.New(cfg.Endpoint,
		modbus.WithClientFactory(factory),
		modbus.WithFunction(fn),
		modbus.WithMaxReadLength(cfg.MaxReadLength),
		modbus.WithLogger(logger.With().Str("device", cfg.Name).Logger()),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	return transport, transport, nil, nil
}

func buildDevice(cfg config.DeviceConfig, factory modbus.ClientFactory, logger zerolog.Logger, collector telemetry.Collector) (*polledDevice, error) {
	transport, closer, simulated, err := buildTransport(cfg, factory, logger)
	if err != nil {
		return nil, err
	}
	opts := []accessor.Option{accessor.WithLogger(logger), accessor.WithCollector(collector)}

	dev := &polledDevice{interval: cfg.PollInterval(), closer: closer}
	switch cfg.Family {
	case config.FamilyAnalogInput:
		setups, err := analogin.SetupFromConfig(cfg.Channels)
		if err != nil {
			return nil, err
		}
		module, err := analogin.New(cfg.Name, setups, transport, opts...)
		if err != nil {
			return nil, err
		}
		dev.device = module
		dev.report = analogInReport(module)
		if simulated != nil {
			simulateAnalogIn(simulated)
		}
	case config.FamilyInverter:
		inv, err := inverter.New(cfg.Name, transport, opts...)
		if err != nil {
			return nil, err
		}
		dev.device = inv
		dev.report = inverterReport(inv)
		if simulated != nil {
			simulateInverter(simulated)
		}
	default:
		return nil, fmt.Errorf("unsupported device family %q", cfg.Family)
	}

	dev.purposes = []accessor.Purpose{accessor.PurposeInfo, accessor.PurposeData}
	if len(cfg.Purposes) > 0 {
		dev.purposes = dev.purposes[:0]
		for _, p := range cfg.Purposes {
			dev.purposes = append(dev.purposes, accessor.Purpose(p))
		}
	}
	return dev, nil
}

const unavailable = "unavailable"

// poll updates every purpose of the device and hands the decoded values to
// pub. The info block is static, so it is only read until the first
// successful update.
func (d *polledDevice) poll(ctx context.Context, logger zerolog.Logger, pub publish.Publisher) error {
	for _, purpose := range d.purposes {
		if purpose == accessor.PurposeInfo && d.infoRead {
			continue
		}
		changed, err := d.device.Update(ctx, purpose)
		if err != nil {
			return err
		}
		if purpose == accessor.PurposeInfo {
			d.infoRead = true
		}
		logger.Debug().Str("device", d.device.Name()).Str("purpose", string(purpose)).Bool("changed", changed).Msg("device updated")
	}
	report := publish.Report{
		Device:        d.device.Name(),
		DataTimestamp: d.device.DataTimestamp(),
		Values:        d.report(),
	}
	logger.Info().Str("device", report.Device).Time("data_timestamp", report.DataTimestamp).Fields(report.Values).Msg("device values")
	if err := pub.Publish(report); err != nil {
		return fmt.Errorf("device %s: %w", report.Device, err)
	}
	return nil
}

func closeDevices(devices []*polledDevice) {
	for _, dev := range devices {
		if dev.closer != nil {
			_ = dev.closer.Close()
		}
	}
}

func analogInReport(m *analogin.Module) func() map[string]any {
	return func() map[string]any {
		values := make(map[string]any, analogin.ChannelCount+2)
		if name, ok := m.ModuleName(); ok {
			values["module"] = name
		}
		if fw, ok := m.Firmware(); ok {
			values["firmware"] = fw
		}
		for i := 0; i < analogin.ChannelCount; i++ {
			key := fmt.Sprintf("ch%d", i)
			if v, ok := m.Channel(i); ok {
				values[key] = v.String() + " " + m.Unit(i)
			} else {
				values[key] = unavailable
			}
		}
		return values
	}
}

func inverterReport(inv *inverter.Inverter) func() map[string]any {
	return func() map[string]any {
		values := make(map[string]any, len(inverter.Quantities)+2)
		if serial, ok := inv.Serial(); ok {
			values["serial"] = serial
		}
		if state, ok := inv.State(); ok {
			values["state"] = state.String()
		}
		for _, q := range inverter.Quantities {
			if v, ok := inv.Value(q); ok {
				values[string(q)] = v.String() + " " + inv.Unit(q)
			} else {
				values[string(q)] = unavailable
			}
		}
		return values
	}
}

func simulateAnalogIn(t *sim.Transport) {
	t.SetText(analogin.NameAddress, analogin.NameWords, "AI-8 SIM")
	t.SetText(analogin.FirmwareAddress, analogin.FirmwareWords, "0.0")
	for i := 0; i < analogin.ChannelCount; i++ {
		_ = t.SetNoise(analogin.ChannelAddress+i, 0, 0x7FFF)
	}
}

func simulateInverter(t *sim.Transport) {
	t.SetText(inverter.ManufacturerAddress, 16, "regio")
	t.SetText(inverter.ModelAddress, 16, "SIM-INVERTER")
	t.SetText(inverter.VersionAddress, 8, "0.0")
	t.SetText(inverter.SerialAddress, 16, "SIM0001")
	t.Set(inverter.ACCurrentSFAddress, 0xFFFE)
	t.Set(inverter.ACVoltageSFAddress, 0xFFFF)
	t.Set(inverter.FrequencySFAddress, 0xFFFE)
	t.Set(inverter.TemperatureSFAddress, 0xFFFF)
	t.Set(inverter.EnergyAddress, 0, 0, 0x0001, 0x86A0)
	t.Set(inverter.StateAddress, uint16(inverter.StateMPPT))
	_ = t.SetNoise(inverter.ACCurrentAddress, 1000, 1500)
	_ = t.SetNoise(inverter.ACVoltageAddress, 2250, 2350)
	_ = t.SetNoise(inverter.ACPowerAddress, 2000, 3500)
	_ = t.SetNoise(inverter.FrequencyAddress, 4990, 5010)
	_ = t.SetNoise(inverter.DCPowerAddress+1, 2100, 3700)
	_ = t.SetNoise(inverter.TemperatureAddress, 300, 600)
}
