package modbus

import (
	"net"
	"testing"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/regio/config"
)

func TestNewTCPClientFactoryRequiresAddress(t *testing.T) {
	_, err := NewTCPClientFactory()(config.EndpointConfig{})
	require.Error(t, err)
}

func TestNewTCPClientFactoryConnectsAndConfigures(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	connected := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		close(connected)
		conn.Close()
	}()

	endpoint := config.EndpointConfig{Address: ln.Addr().String(), UnitID: 17}
	client, err := NewTCPClientFactory()(endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("expected connection to be established")
	}

	hc, ok := client.(*handlerClient)
	require.True(t, ok, "got %T", client)
	tcp, ok := hc.handler.(*gomodbus.TCPClientHandler)
	require.True(t, ok, "got %T", hc.handler)
	require.Equal(t, endpoint.UnitID, tcp.SlaveId)
	require.Equal(t, config.DefaultTimeout, tcp.Timeout)
}

func TestNewTCPClientFactoryConnectionFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewTCPClientFactory()(config.EndpointConfig{Address: addr})
	require.Error(t, err)
}

func TestNewRTUHandlerAppliesLineSettings(t *testing.T) {
	handler, err := newRTUHandler(config.EndpointConfig{Mode: "rtu", Address: "/dev/ttyUSB0", UnitID: 4})
	require.NoError(t, err)
	require.Equal(t, byte(4), handler.SlaveId)
	require.Equal(t, 19200, handler.BaudRate)
	require.Equal(t, 8, handler.DataBits)
	require.Equal(t, 1, handler.StopBits)
	require.Equal(t, "E", handler.Parity)
	require.Equal(t, config.DefaultTimeout, handler.Timeout)

	handler, err = newRTUHandler(config.EndpointConfig{
		Mode: "rtu", Address: "/dev/ttyS1", BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "n",
		Timeout: config.Duration{Duration: 250 * time.Millisecond},
	})
	require.NoError(t, err)
	require.Equal(t, 9600, handler.BaudRate)
	require.Equal(t, 7, handler.DataBits)
	require.Equal(t, 2, handler.StopBits)
	require.Equal(t, "N", handler.Parity)
	require.Equal(t, 250*time.Millisecond, handler.Timeout)
}

func TestNewRTUHandlerRejectsInvalidSettings(t *testing.T) {
	_, err := newRTUHandler(config.EndpointConfig{Mode: "rtu"})
	require.Error(t, err)
	_, err = newRTUHandler(config.EndpointConfig{Mode: "rtu", Address: "/dev/ttyS0", Parity: "M"})
	require.ErrorContains(t, err, "parity")
}
