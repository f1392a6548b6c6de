package accessor

import (
	"errors"
	"fmt"

	"github.com/timzifer/regio/regset"
)

// ErrConfiguration marks invalid static declarations. It is reported when a
// device is constructed, never from Update or the getters.
var ErrConfiguration = regset.ErrConfiguration

// ErrShortRead is wrapped by a TransportError when the transport returned
// fewer words than requested.
var ErrShortRead = errors.New("short read")

// TransportError reports a failed read of one range during Update. The
// snapshot is left exactly as it was before the call.
type TransportError struct {
	Device  string
	Purpose Purpose
	Range   regset.Range
	Err     error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Range.Length == 0 {
		return fmt.Sprintf("device %s: update %s: %v", e.Device, e.Purpose, e.Err)
	}
	return fmt.Sprintf("device %s: update %s: read %s: %v", e.Device, e.Purpose, e.Range, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransportError reports whether err carries a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
