package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/timzifer/regio/accessor"
	"github.com/timzifer/regio/config"
)

// MaxRegisters is the protocol limit for one read holding/input registers
// request.
const MaxRegisters = 125

// ErrInvalidRequest is returned for reads outside the 16-bit register space
// or above the configured read length.
var ErrInvalidRequest = errors.New("invalid modbus request")

// Function selects the register table a transport reads.
type Function string

const (
	HoldingRegisters Function = "holding"
	InputRegisters   Function = "input"
)

// ParseFunction normalises a function name from configuration.
func ParseFunction(value string) (Function, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "holding", "holding_registers":
		return HoldingRegisters, nil
	case "input", "input_registers":
		return InputRegisters, nil
	default:
		return "", fmt.Errorf("unsupported modbus function %q", value)
	}
}

// Transport reads register words from one Modbus slave. The connection is
// opened on first use and dropped after any failed read so the next read
// reconnects. Reads are serialised.
type Transport struct {
	mu        sync.Mutex
	endpoint  config.EndpointConfig
	factory   ClientFactory
	client    Client
	function  Function
	maxLength int
	logger    zerolog.Logger
}

// Option customises a Transport.
type Option func(*Transport)

// WithClientFactory replaces the factory used to open connections.
func WithClientFactory(factory ClientFactory) Option {
	return func(t *Transport) {
		if factory != nil {
			t.factory = factory
		}
	}
}

// WithFunction selects holding or input registers.
func WithFunction(fn Function) Option {
	return func(t *Transport) {
		t.function = fn
	}
}

// WithMaxReadLength lowers the number of registers read per request.
func WithMaxReadLength(n int) Option {
	return func(t *Transport) {
		t.maxLength = n
	}
}

// WithLogger sets the logger for connection events.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// New returns a transport for endpoint. No connection is made until the
// first read.
func New(endpoint config.EndpointConfig, opts ...Option) (*Transport, error) {
	t := &Transport{
		endpoint:  endpoint,
		factory:   NewClientFactory(),
		function:  HoldingRegisters,
		maxLength: MaxRegisters,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.function != HoldingRegisters && t.function != InputRegisters {
		return nil, fmt.Errorf("unsupported modbus function %q", t.function)
	}
	if t.maxLength < 1 || t.maxLength > MaxRegisters {
		return nil, fmt.Errorf("max read length %d outside 1..%d", t.maxLength, MaxRegisters)
	}
	return t, nil
}

// MaxReadLength implements accessor.Transport.
func (t *Transport) MaxReadLength() int {
	return t.maxLength
}

// ReadWords implements accessor.Transport. Registers arrive big-endian.
func (t *Transport) ReadWords(ctx context.Context, start, count int) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count < 1 || count > t.maxLength {
		return nil, fmt.Errorf("%w: count %d outside 1..%d", ErrInvalidRequest, count, t.maxLength)
	}
	if start < 0 || start+count-1 > 0xFFFF {
		return nil, fmt.Errorf("%w: range %d+%d outside register space", ErrInvalidRequest, start, count)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	client, err := t.ensureClient()
	if err != nil {
		return nil, err
	}
	var raw []byte
	switch t.function {
	case InputRegisters:
		raw, err = client.ReadInputRegisters(uint16(start), uint16(count))
	default:
		raw, err = client.ReadHoldingRegisters(uint16(start), uint16(count))
	}
	if err != nil {
		t.closeClient()
		return nil, fmt.Errorf("read %s registers %d+%d: %w", t.function, start, count, err)
	}
	if len(raw) != count*2 {
		t.closeClient()
		return nil, fmt.Errorf("read %s registers %d+%d: %w: got %d bytes", t.function, start, count, accessor.ErrShortRead, len(raw))
	}
	words := make([]uint16, count)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(raw[i*2:])
	}
	return words, nil
}

func (t *Transport) ensureClient() (Client, error) {
	if t.client != nil {
		return t.client, nil
	}
	t.logger.Trace().Str("address", t.endpoint.Address).Str("mode", t.endpoint.Mode).Msg("creating modbus client")
	client, err := t.factory(t.endpoint)
	if err != nil {
		t.logger.Error().Err(err).Str("address", t.endpoint.Address).Msg("modbus connection failed")
		return nil, err
	}
	t.client = client
	return client, nil
}

func (t *Transport) closeClient() {
	if t.client == nil {
		return
	}
	if err := t.client.Close(); err != nil {
		t.logger.Debug().Err(err).Str("address", t.endpoint.Address).Msg("closing modbus client failed")
	}
	t.client = nil
}

// Close drops the connection, if any.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeClient()
	return nil
}

var _ accessor.Transport = (*Transport)(nil)
