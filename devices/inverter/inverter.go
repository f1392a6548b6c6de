// Package inverter reads SunSpec-style PV inverters. Measured values are
// published as integers next to a signed power-of-ten scale factor register.
package inverter

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/timzifer/regio/accessor"
	"github.com/timzifer/regio/decode"
	"github.com/timzifer/regio/regset"
)

// Register layout. Text blocks are NUL padded.
const (
	ManufacturerAddress = 40004
	ModelAddress        = 40020
	VersionAddress      = 40044
	SerialAddress       = 40052

	ACCurrentAddress     = 40071
	ACCurrentSFAddress   = 40075
	ACVoltageAddress     = 40079
	ACVoltageSFAddress   = 40082
	ACPowerAddress       = 40083
	ACPowerSFAddress     = 40084
	FrequencyAddress     = 40085
	FrequencySFAddress   = 40086
	EnergyAddress        = 40093
	EnergySFAddress      = 40097
	DCPowerAddress       = 40100
	DCPowerSFAddress     = 40102
	TemperatureAddress   = 40103
	TemperatureSFAddress = 40107
	StateAddress         = 40108
)

// Quantity names a scaled measurement.
type Quantity string

const (
	ACCurrent   Quantity = "ac_current"
	ACVoltage   Quantity = "ac_voltage"
	ACPower     Quantity = "ac_power"
	Frequency   Quantity = "frequency"
	Energy      Quantity = "energy"
	DCPower     Quantity = "dc_power"
	Temperature Quantity = "temperature"
)

// Quantities lists every measurement in display order.
var Quantities = []Quantity{ACCurrent, ACVoltage, ACPower, Frequency, Energy, DCPower, Temperature}

type measurement struct {
	value accessor.Field
	scale accessor.Field
}

func scaled(q Quantity, addr int, dt decode.DataType, sfAddr int, unit string) measurement {
	return measurement{
		value: accessor.Field{Name: string(q), Address: addr, Type: dt, Unit: unit},
		scale: accessor.Field{Name: string(q) + "_sf", Address: sfAddr, Type: decode.Int16},
	}
}

var measurements = map[Quantity]measurement{
	ACCurrent:   scaled(ACCurrent, ACCurrentAddress, decode.UInt16, ACCurrentSFAddress, "A"),
	ACVoltage:   scaled(ACVoltage, ACVoltageAddress, decode.UInt16, ACVoltageSFAddress, "V"),
	ACPower:     scaled(ACPower, ACPowerAddress, decode.Int16, ACPowerSFAddress, "W"),
	Frequency:   scaled(Frequency, FrequencyAddress, decode.UInt16, FrequencySFAddress, "Hz"),
	Energy:      scaled(Energy, EnergyAddress, decode.UInt64, EnergySFAddress, "Wh"),
	DCPower:     scaled(DCPower, DCPowerAddress, decode.Int32, DCPowerSFAddress, "W"),
	Temperature: scaled(Temperature, TemperatureAddress, decode.Int16, TemperatureSFAddress, "°C"),
}

// State is the operating state reported by the inverter.
type State uint16

const (
	StateOff          State = 1
	StateSleeping     State = 2
	StateStarting     State = 3
	StateMPPT         State = 4
	StateThrottled    State = 5
	StateShuttingDown State = 6
	StateFault        State = 7
	StateStandby      State = 8
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateSleeping:
		return "sleeping"
	case StateStarting:
		return "starting"
	case StateMPPT:
		return "mppt"
	case StateThrottled:
		return "throttled"
	case StateShuttingDown:
		return "shutting_down"
	case StateFault:
		return "fault"
	case StateStandby:
		return "standby"
	default:
		return fmt.Sprintf("state(%d)", uint16(s))
	}
}

var textBlocks = []accessor.Field{
	{Name: "manufacturer", Address: ManufacturerAddress, Kind: accessor.KindASCII, Words: 16},
	{Name: "model", Address: ModelAddress, Kind: accessor.KindASCII, Words: 16},
	{Name: "version", Address: VersionAddress, Kind: accessor.KindASCII, Words: 8},
	{Name: "serial", Address: SerialAddress, Kind: accessor.KindASCII, Words: 16},
}

var stateField = accessor.Field{Name: "state", Address: StateAddress, Type: decode.UInt16}

// Definition returns the register table of an inverter named name.
func Definition(name string) accessor.Definition {
	info := regset.NewAddressSet()
	for _, f := range textBlocks {
		info.AddRange(f.Address, f.Words)
	}
	data := regset.NewAddressSet().AddRange(stateField.Address, 1)
	fields := append([]accessor.Field(nil), textBlocks...)
	fields = append(fields, stateField)
	for _, q := range Quantities {
		m := measurements[q]
		data.AddRange(m.value.Address, m.value.Type.Width).AddRange(m.scale.Address, 1)
		fields = append(fields, m.value, m.scale)
	}
	return accessor.Definition{
		Name: name,
		Sets: []accessor.SetDefinition{
			{Purpose: accessor.PurposeInfo, Set: info, Mode: regset.ModeStrict},
			{Purpose: accessor.PurposeData, Set: data, Mode: regset.ModeReduceRequests},
		},
		Fields: fields,
	}
}

// Inverter is an accessor for one inverter.
type Inverter struct {
	acc *accessor.Accessor
}

// New builds an inverter accessor reading through transport.
func New(name string, transport accessor.Transport, opts ...accessor.Option) (*Inverter, error) {
	acc, err := accessor.New(Definition(name), transport, opts...)
	if err != nil {
		return nil, err
	}
	return &Inverter{acc: acc}, nil
}

// Accessor exposes the generic accessor.
func (i *Inverter) Accessor() *accessor.Accessor {
	return i.acc
}

// Name returns the configured device name.
func (i *Inverter) Name() string {
	return i.acc.Name()
}

// DataTimestamp returns the time of the last successful update.
func (i *Inverter) DataTimestamp() time.Time {
	return i.acc.DataTimestamp()
}

// Update refreshes the registers of purpose.
func (i *Inverter) Update(ctx context.Context, purpose accessor.Purpose) (bool, error) {
	return i.acc.Update(ctx, purpose)
}

func (i *Inverter) Manufacturer() (string, bool) { return i.acc.ASCII("manufacturer", true) }
func (i *Inverter) Model() (string, bool)        { return i.acc.ASCII("model", true) }
func (i *Inverter) Version() (string, bool)      { return i.acc.ASCII("version", true) }
func (i *Inverter) Serial() (string, bool)       { return i.acc.ASCII("serial", true) }

// Value returns q scaled by its scale factor register. A sentinel in either
// register makes the value unavailable.
func (i *Inverter) Value(q Quantity) (decimal.Decimal, bool) {
	m, ok := measurements[q]
	if !ok {
		return decimal.Zero, false
	}
	raw, ok := i.acc.GetNumber(m.value)
	if !ok || raw.IsSentinel() {
		return decimal.Zero, false
	}
	sf, ok := i.acc.GetNumber(m.scale)
	if !ok || sf.IsSentinel() {
		return decimal.Zero, false
	}
	exp := sf.Int64()
	if exp < -10 || exp > 10 {
		return decimal.Zero, false
	}
	return raw.Decimal().Shift(int32(exp)), true
}

// Unit returns the physical unit of q.
func (i *Inverter) Unit(q Quantity) string {
	return measurements[q].value.Unit
}

// State returns the operating state.
func (i *Inverter) State() (State, bool) {
	n, ok := i.acc.GetNumber(stateField)
	if !ok || n.IsSentinel() {
		return 0, false
	}
	return State(n.Uint64()), true
}

var _ accessor.Device = (*Inverter)(nil)
