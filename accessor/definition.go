package accessor

import (
	"fmt"

	"github.com/timzifer/regio/decode"
	"github.com/timzifer/regio/regset"
)

// Purpose names one address set of a device, for example "info" or "data".
type Purpose string

const (
	PurposeInfo Purpose = "info"
	PurposeData Purpose = "data"
)

// SetDefinition declares the addresses polled together for one purpose and
// how they are turned into reads. MaxGap limits gap bridging in
// ModeReduceRequests to holes of at most *MaxGap words, so zero only joins
// contiguous addresses. Nil or negative means unlimited.
type SetDefinition struct {
	Purpose Purpose
	Set     *regset.AddressSet
	Mode    regset.Mode
	MaxGap  *int
}

// Kind distinguishes numeric fields from text blocks.
type Kind int

const (
	KindNumber Kind = iota
	KindASCII
)

// Field describes one exposed attribute of a device.
//
// Numeric fields take their width from Type. ASCII fields span Words
// registers. Curve is optional and only used by calibrated reads.
type Field struct {
	Name    string
	Address int
	Kind    Kind
	Type    decode.DataType
	Words   int
	Curve   decode.Curve
	Unit    string
}

// WordCount returns the number of registers the field occupies.
func (f Field) WordCount() int {
	if f.Kind == KindASCII {
		return f.Words
	}
	return f.Type.Width
}

// Validate checks the field declaration.
func (f Field) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: field at %d has no name", ErrConfiguration, f.Address)
	}
	if f.Address < 0 {
		return fmt.Errorf("%w: field %s: negative address %d", ErrConfiguration, f.Name, f.Address)
	}
	switch f.Kind {
	case KindNumber:
		if err := f.Type.Validate(); err != nil {
			return fmt.Errorf("%w: field %s: %w", ErrConfiguration, f.Name, err)
		}
	case KindASCII:
		if f.Words < 1 {
			return fmt.Errorf("%w: field %s: ascii block needs at least one word", ErrConfiguration, f.Name)
		}
	default:
		return fmt.Errorf("%w: field %s: unknown kind %d", ErrConfiguration, f.Name, f.Kind)
	}
	if v, ok := f.Curve.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: field %s: %w", ErrConfiguration, f.Name, err)
		}
	}
	return nil
}

// Channel binds a calibrated numeric field to a channel index.
type Channel struct {
	Index int
	Field Field
}

// Definition is the static register table of one device instance.
type Definition struct {
	Name     string
	Sets     []SetDefinition
	Fields   []Field
	Channels []Channel
}
