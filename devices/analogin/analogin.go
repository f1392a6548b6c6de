// Package analogin reads 8-channel analog input modules.
//
// The module exposes its channel readings at holding registers 0..7 and an
// identification block at 200..220:
//
//	200..207  module name, ASCII
//	210..213  firmware version, ASCII
//	220       status word, bit n set means channel n is faulted
package analogin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/timzifer/regio/accessor"
	"github.com/timzifer/regio/config"
	"github.com/timzifer/regio/decode"
	"github.com/timzifer/regio/regset"
)

const (
	ChannelCount    = 8
	ChannelAddress  = 0
	NameAddress     = 200
	NameWords       = 8
	FirmwareAddress = 210
	FirmwareWords   = 4
	StatusAddress   = 220
)

// Input is the measuring range a channel is configured for.
type Input string

const (
	InputMillivolt150        Input = "mv_150"
	InputMillivolt150Bipolar Input = "mv_pm150"
	InputVolt10Bipolar       Input = "v_pm10"
	InputCurrent4to20        Input = "ma_4_20"
	InputThermocoupleJ       Input = "thermocouple_j"
	InputThermocoupleK       Input = "thermocouple_k"
	InputThermocoupleE       Input = "thermocouple_e"
	InputCustom              Input = "custom"
)

// ParseInput normalises an input range name.
func ParseInput(value string) (Input, error) {
	in := Input(strings.ToLower(strings.TrimSpace(value)))
	switch in {
	case InputMillivolt150, InputMillivolt150Bipolar, InputVolt10Bipolar, InputCurrent4to20,
		InputThermocoupleJ, InputThermocoupleK, InputThermocoupleE, InputCustom:
		return in, nil
	case "":
		return InputMillivolt150Bipolar, nil
	default:
		return "", fmt.Errorf("%w: unknown analog input range %q", accessor.ErrConfiguration, value)
	}
}

// ChannelSetup configures one channel. Expression is required for
// InputCustom and evaluated over the signed raw reading.
type ChannelSetup struct {
	Input      Input
	Expression string
	Places     int32
}

var (
	volts150m  = decimal.RequireFromString("0.150")
	volts10    = decimal.NewFromInt(10)
	milliamp4  = decimal.NewFromInt(4)
	milliamp20 = decimal.NewFromInt(20)
)

// field builds the calibrated field for channel index.
func (c ChannelSetup) field(index int) (accessor.Field, error) {
	f := accessor.Field{Name: fmt.Sprintf("channel%d", index), Address: ChannelAddress + index}
	places := func(def int32) int32 {
		if c.Places > 0 {
			return c.Places
		}
		return def
	}
	switch c.Input {
	case InputMillivolt150:
		// Unipolar ranges use the full 16 bits, so 0xFFFF is a valid reading.
		f.Type = decode.UInt16.WithoutSentinel()
		f.Curve = decode.Linear{RawMin: 0, RawMax: 65535, PhysMin: decimal.Zero, PhysMax: volts150m, Places: places(5)}
		f.Unit = "V"
	case InputMillivolt150Bipolar, "":
		f.Type = decode.Int16
		f.Curve = decode.Linear{RawMin: -32767, RawMax: 32767, PhysMin: volts150m.Neg(), PhysMax: volts150m, Places: places(5)}
		f.Unit = "V"
	case InputVolt10Bipolar:
		f.Type = decode.Int16
		f.Curve = decode.Linear{RawMin: -32767, RawMax: 32767, PhysMin: volts10.Neg(), PhysMax: volts10, Places: places(4)}
		f.Unit = "V"
	case InputCurrent4to20:
		f.Type = decode.UInt16.WithoutSentinel()
		f.Curve = decode.Linear{RawMin: 0, RawMax: 65535, PhysMin: milliamp4, PhysMax: milliamp20, Places: places(4)}
		f.Unit = "mA"
	case InputThermocoupleJ, InputThermocoupleK, InputThermocoupleE:
		table := map[Input]decode.Table{
			InputThermocoupleJ: decode.ThermocoupleJ,
			InputThermocoupleK: decode.ThermocoupleK,
			InputThermocoupleE: decode.ThermocoupleE,
		}[c.Input]
		if c.Places > 0 {
			table.Places = c.Places
		}
		f.Type = decode.Int16
		f.Curve = table
		f.Unit = table.Unit
	case InputCustom:
		if c.Expression == "" {
			return accessor.Field{}, fmt.Errorf("%w: channel %d: custom input needs an expression", accessor.ErrConfiguration, index)
		}
		expr, err := decode.NewExpression(c.Expression, places(4))
		if err != nil {
			return accessor.Field{}, fmt.Errorf("%w: channel %d: %w", accessor.ErrConfiguration, index, err)
		}
		f.Type = decode.Int16
		f.Curve = expr
	default:
		return accessor.Field{}, fmt.Errorf("%w: channel %d: unknown input %q", accessor.ErrConfiguration, index, c.Input)
	}
	return f, nil
}

// SetupFromConfig converts channel configuration entries.
func SetupFromConfig(channels []config.ChannelConfig) ([]ChannelSetup, error) {
	out := make([]ChannelSetup, 0, len(channels))
	for i, ch := range channels {
		in, err := ParseInput(ch.Input)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		if ch.Expression != "" {
			in = InputCustom
		}
		out = append(out, ChannelSetup{Input: in, Expression: ch.Expression, Places: ch.Places})
	}
	return out, nil
}

// Definition returns the register table of a module named name. Channels
// without a setup default to the bipolar 150 mV range.
func Definition(name string, channels []ChannelSetup) (accessor.Definition, error) {
	if len(channels) > ChannelCount {
		return accessor.Definition{}, fmt.Errorf("%w: module has %d channels, got %d setups", accessor.ErrConfiguration, ChannelCount, len(channels))
	}
	def := accessor.Definition{
		Name: name,
		Sets: []accessor.SetDefinition{
			{
				Purpose: accessor.PurposeInfo,
				Set:     regset.NewAddressSet().AddRange(NameAddress, NameWords).AddRange(FirmwareAddress, FirmwareWords).Add(StatusAddress),
				Mode:    regset.ModeStrict,
			},
			{
				Purpose: accessor.PurposeData,
				Set:     regset.NewAddressSet().AddRange(ChannelAddress, ChannelCount),
				Mode:    regset.ModeReduceRequests,
			},
		},
		Fields: []accessor.Field{
			{Name: "name", Address: NameAddress, Kind: accessor.KindASCII, Words: NameWords},
			{Name: "firmware", Address: FirmwareAddress, Kind: accessor.KindASCII, Words: FirmwareWords},
			{Name: "status", Address: StatusAddress, Type: decode.UInt16.WithoutSentinel()},
		},
	}
	for i := 0; i < ChannelCount; i++ {
		var setup ChannelSetup
		if i < len(channels) {
			setup = channels[i]
		}
		f, err := setup.field(i)
		if err != nil {
			return accessor.Definition{}, err
		}
		def.Channels = append(def.Channels, accessor.Channel{Index: i, Field: f})
	}
	return def, nil
}

// Module is an accessor for one analog input module.
type Module struct {
	acc *accessor.Accessor
}

// New builds a module accessor reading through transport.
func New(name string, channels []ChannelSetup, transport accessor.Transport, opts ...accessor.Option) (*Module, error) {
	def, err := Definition(name, channels)
	if err != nil {
		return nil, err
	}
	acc, err := accessor.New(def, transport, opts...)
	if err != nil {
		return nil, err
	}
	return &Module{acc: acc}, nil
}

// Accessor exposes the generic accessor.
func (m *Module) Accessor() *accessor.Accessor {
	return m.acc
}

// Name returns the configured device name.
func (m *Module) Name() string {
	return m.acc.Name()
}

// DataTimestamp returns the time of the last successful update.
func (m *Module) DataTimestamp() time.Time {
	return m.acc.DataTimestamp()
}

// Update refreshes the registers of purpose.
func (m *Module) Update(ctx context.Context, purpose accessor.Purpose) (bool, error) {
	return m.acc.Update(ctx, purpose)
}

// ModuleName returns the product name reported by the module.
func (m *Module) ModuleName() (string, bool) {
	return m.acc.ASCII("name", true)
}

// Firmware returns the firmware version string.
func (m *Module) Firmware() (string, bool) {
	return m.acc.ASCII("firmware", true)
}

// Status returns the raw status word.
func (m *Module) Status() (uint16, bool) {
	n, ok := m.acc.Number("status")
	if !ok {
		return 0, false
	}
	return uint16(n.Uint64()), true
}

// ChannelFaulted reports whether the status word flags channel index.
func (m *Module) ChannelFaulted(index int) (bool, bool) {
	if index < 0 || index >= ChannelCount {
		return false, false
	}
	status, ok := m.Status()
	if !ok {
		return false, false
	}
	return status&(1<<uint(index)) != 0, true
}

// Channel returns the calibrated reading of channel index.
func (m *Module) Channel(index int) (decimal.Decimal, bool) {
	return m.acc.ChannelValue(index)
}

// Unit returns the physical unit of channel index.
func (m *Module) Unit(index int) string {
	f, ok := m.acc.ChannelField(index)
	if !ok {
		return ""
	}
	return f.Unit
}

var _ accessor.Device = (*Module)(nil)
