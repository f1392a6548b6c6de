package decode

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidType is returned for malformed data type declarations.
var ErrInvalidType = errors.New("invalid data type")

// WordSource is anything that can look up register words, typically a
// *snapshot.Snapshot.
type WordSource interface {
	Word(addr int) (uint16, bool)
}

// DataType describes how consecutive register words form one integer.
type DataType struct {
	Name   string
	Width  int
	Signed bool
	// Sentinel is the bit pattern the device reports for "no reading". It is
	// only consulted when HasSentinel is set.
	Sentinel    uint64
	HasSentinel bool
}

var (
	Int16  = DataType{Name: "int16", Width: 1, Signed: true, Sentinel: 0x8000, HasSentinel: true}
	UInt16 = DataType{Name: "uint16", Width: 1, Sentinel: 0xFFFF, HasSentinel: true}
	Int32  = DataType{Name: "int32", Width: 2, Signed: true, Sentinel: 0x80000000, HasSentinel: true}
	UInt32 = DataType{Name: "uint32", Width: 2, Sentinel: 0xFFFFFFFF, HasSentinel: true}
	Int64  = DataType{Name: "int64", Width: 4, Signed: true}
	UInt64 = DataType{Name: "uint64", Width: 4, Sentinel: ^uint64(0), HasSentinel: true}
)

// ParseDataType resolves a type name such as "uint32" or "int16".
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int16", "i16", "s16":
		return Int16, nil
	case "uint16", "u16", "":
		return UInt16, nil
	case "int32", "i32", "s32":
		return Int32, nil
	case "uint32", "u32":
		return UInt32, nil
	case "int64", "i64", "s64":
		return Int64, nil
	case "uint64", "u64":
		return UInt64, nil
	default:
		return DataType{}, fmt.Errorf("%w: unknown type %q", ErrInvalidType, name)
	}
}

// WithoutSentinel returns a copy of d for devices where every bit pattern is a
// valid reading.
func (d DataType) WithoutSentinel() DataType {
	d.HasSentinel = false
	d.Sentinel = 0
	return d
}

// Bits returns the integer width in bits.
func (d DataType) Bits() int {
	return d.Width * 16
}

// Validate checks the word width.
func (d DataType) Validate() error {
	switch d.Width {
	case 1, 2, 4:
		return nil
	default:
		return fmt.Errorf("%w: %s has width %d words, want 1, 2 or 4", ErrInvalidType, d.Name, d.Width)
	}
}

func (d DataType) mask() uint64 {
	if d.Width >= 4 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(d.Bits())) - 1
}

// IsSentinelUnavailable reports whether raw is exactly the bit pattern d uses
// for "device reports unavailable". Only the low d.Bits() bits of raw are
// compared, so sign-extended inputs match as well.
func IsSentinelUnavailable(raw uint64, d DataType) bool {
	if !d.HasSentinel {
		return false
	}
	return raw&d.mask() == d.Sentinel
}

// Number is a successfully decoded integer together with its type.
type Number struct {
	Raw  uint64
	Type DataType
}

// Uint64 returns the raw bits.
func (n Number) Uint64() uint64 {
	return n.Raw
}

// Int64 returns the value sign-extended for signed types. Unsigned 64-bit
// values above math.MaxInt64 wrap; use Uint64 or Decimal for those.
func (n Number) Int64() int64 {
	if !n.Type.Signed || n.Type.Width >= 4 {
		return int64(n.Raw)
	}
	shift := uint(64 - n.Type.Bits())
	return int64(n.Raw<<shift) >> shift
}

// IsSentinel reports whether the value is the device's "no reading" pattern.
func (n Number) IsSentinel() bool {
	return IsSentinelUnavailable(n.Raw, n.Type)
}

// Decimal returns the exact value as a decimal.
func (n Number) Decimal() decimal.Decimal {
	if n.Type.Signed {
		return decimal.NewFromInt(n.Int64())
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(n.Raw), 0)
}

func (n Number) String() string {
	if n.Type.Signed {
		return strconv.FormatInt(n.Int64(), 10)
	}
	return strconv.FormatUint(n.Raw, 10)
}
