package modbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/regio/accessor"
	"github.com/timzifer/regio/config"
	"github.com/timzifer/regio/regset"
)

type readInvocation struct {
	function Function
	start    uint16
	length   uint16
}

type testClient struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	calls     []readInvocation
	err       error
	truncate  bool
	closed    int
}

func (c *testClient) read(fn Function, address, quantity uint16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, readInvocation{function: fn, start: address, length: quantity})
	if c.err != nil {
		return nil, c.err
	}
	out := make([]byte, 0, int(quantity)*2)
	for i := uint16(0); i < quantity; i++ {
		v := c.registers[address+i]
		out = append(out, byte(v>>8), byte(v))
	}
	if c.truncate {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (c *testClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return c.read(HoldingRegisters, address, quantity)
}

func (c *testClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return c.read(InputRegisters, address, quantity)
}

func (c *testClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func newTestTransport(t *testing.T, client *testClient, opts ...Option) (*Transport, *int) {
	t.Helper()
	created := 0
	factory := func(config.EndpointConfig) (Client, error) {
		created++
		return client, nil
	}
	tr, err := New(config.EndpointConfig{Address: "test:502"}, append([]Option{WithClientFactory(factory)}, opts...)...)
	require.NoError(t, err)
	return tr, &created
}

func TestTransportReadsHoldingRegistersBigEndian(t *testing.T) {
	client := &testClient{registers: map[uint16]uint16{10: 0x0ACB, 11: 0x5EC7, 12: 0x8000}}
	tr, created := newTestTransport(t, client)
	require.Equal(t, MaxRegisters, tr.MaxReadLength())

	words, err := tr.ReadWords(context.Background(), 10, 3)
	require.NoError(t, err)
	require.Equal(t, []uint16{0x0ACB, 0x5EC7, 0x8000}, words)
	require.Equal(t, []readInvocation{{function: HoldingRegisters, start: 10, length: 3}}, client.calls)

	_, err = tr.ReadWords(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, *created, "connection is reused")
}

func TestTransportReadsInputRegisters(t *testing.T) {
	client := &testClient{registers: map[uint16]uint16{0: 7}}
	tr, _ := newTestTransport(t, client, WithFunction(InputRegisters), WithMaxReadLength(8))
	require.Equal(t, 8, tr.MaxReadLength())

	words, err := tr.ReadWords(context.Background(), 0, 8)
	require.NoError(t, err)
	require.Equal(t, uint16(7), words[0])
	require.Equal(t, InputRegisters, client.calls[0].function)
}

func TestTransportReconnectsAfterFailure(t *testing.T) {
	client := &testClient{err: errors.New("broken pipe")}
	tr, created := newTestTransport(t, client)

	_, err := tr.ReadWords(context.Background(), 0, 2)
	require.ErrorContains(t, err, "broken pipe")
	require.Equal(t, 1, client.closed)

	client.err = nil
	_, err = tr.ReadWords(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Equal(t, 2, *created)

	require.NoError(t, tr.Close())
	require.Equal(t, 2, client.closed)
}

func TestTransportRejectsShortPayload(t *testing.T) {
	client := &testClient{truncate: true}
	tr, _ := newTestTransport(t, client)
	_, err := tr.ReadWords(context.Background(), 0, 2)
	require.ErrorIs(t, err, accessor.ErrShortRead)
}

func TestTransportValidatesRequests(t *testing.T) {
	client := &testClient{}
	tr, created := newTestTransport(t, client, WithMaxReadLength(10))

	for _, tc := range []struct{ start, count int }{{0, 0}, {0, 11}, {-1, 1}, {0xFFFF, 2}} {
		_, err := tr.ReadWords(context.Background(), tc.start, tc.count)
		require.ErrorIs(t, err, ErrInvalidRequest, "start=%d count=%d", tc.start, tc.count)
	}
	_, err := tr.ReadWords(context.Background(), 0xFFFF, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.ReadWords(ctx, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, *created)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(config.EndpointConfig{}, WithMaxReadLength(0))
	require.Error(t, err)
	_, err = New(config.EndpointConfig{}, WithMaxReadLength(126))
	require.Error(t, err)
	_, err = New(config.EndpointConfig{}, WithFunction("coils"))
	require.Error(t, err)
}

func TestParseFunction(t *testing.T) {
	fn, err := ParseFunction("")
	require.NoError(t, err)
	require.Equal(t, HoldingRegisters, fn)
	fn, err = ParseFunction("Input")
	require.NoError(t, err)
	require.Equal(t, InputRegisters, fn)
	_, err = ParseFunction("discrete")
	require.Error(t, err)
}

func TestTransportFeedsAccessor(t *testing.T) {
	client := &testClient{registers: map[uint16]uint16{100: 0x0AC1, 101: 0x50C7}}
	tr, _ := newTestTransport(t, client, WithMaxReadLength(4))
	acc, err := accessor.New(accessor.Definition{
		Name: "meter",
		Sets: []accessor.SetDefinition{{Purpose: accessor.PurposeData, Set: regset.NewAddressSet(100, 101, 104)}},
	}, tr)
	require.NoError(t, err)

	changed, err := acc.Update(context.Background(), accessor.PurposeData)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, client.calls, 2)
	word, ok := acc.Snapshot().Word(101)
	require.True(t, ok)
	require.Equal(t, uint16(0x50C7), word)
}
