package modbus

import (
	"fmt"
	"strings"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"github.com/timzifer/regio/config"
)

// Client defines the subset of Modbus operations needed for register reads.
type Client interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	Close() error
}

// ClientFactory is responsible for creating connected Modbus clients.
type ClientFactory func(cfg config.EndpointConfig) (Client, error)

type closer interface {
	Close() error
}

type handlerClient struct {
	handler closer
	client  gomodbus.Client
}

func (c *handlerClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return c.client.ReadHoldingRegisters(address, quantity)
}

func (c *handlerClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return c.client.ReadInputRegisters(address, quantity)
}

func (c *handlerClient) Close() error {
	if c.handler != nil {
		return c.handler.Close()
	}
	return nil
}

func timeoutOf(cfg config.EndpointConfig) time.Duration {
	if cfg.Timeout.Duration <= 0 {
		return config.DefaultTimeout
	}
	return cfg.Timeout.Duration
}

// NewTCPClientFactory returns a factory that creates Modbus TCP clients.
func NewTCPClientFactory() ClientFactory {
	return func(cfg config.EndpointConfig) (Client, error) {
		if cfg.Address == "" {
			return nil, fmt.Errorf("endpoint address is required")
		}
		handler := gomodbus.NewTCPClientHandler(cfg.Address)
		handler.SlaveId = cfg.UnitID
		handler.Timeout = timeoutOf(cfg)
		if err := handler.Connect(); err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.Address, err)
		}
		return &handlerClient{handler: handler, client: gomodbus.NewClient(handler)}, nil
	}
}

// NewRTUClientFactory returns a factory that creates Modbus RTU clients on a
// serial device. Unset line parameters default to 19200 8E1.
func NewRTUClientFactory() ClientFactory {
	return func(cfg config.EndpointConfig) (Client, error) {
		handler, err := newRTUHandler(cfg)
		if err != nil {
			return nil, err
		}
		if err := handler.Connect(); err != nil {
			return nil, fmt.Errorf("open serial %s: %w", cfg.Address, err)
		}
		return &handlerClient{handler: handler, client: gomodbus.NewClient(handler)}, nil
	}
}

func newRTUHandler(cfg config.EndpointConfig) (*gomodbus.RTUClientHandler, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	handler := gomodbus.NewRTUClientHandler(cfg.Address)
	handler.SlaveId = cfg.UnitID
	handler.Timeout = timeoutOf(cfg)
	handler.BaudRate = 19200
	handler.DataBits = 8
	handler.StopBits = 1
	handler.Parity = "E"
	if cfg.BaudRate > 0 {
		handler.BaudRate = cfg.BaudRate
	}
	if cfg.DataBits > 0 {
		handler.DataBits = cfg.DataBits
	}
	if cfg.StopBits > 0 {
		handler.StopBits = cfg.StopBits
	}
	switch parity := strings.ToUpper(cfg.Parity); parity {
	case "":
	case "N", "E", "O":
		handler.Parity = parity
	default:
		return nil, fmt.Errorf("unsupported parity %q", cfg.Parity)
	}
	return handler, nil
}

// NewClientFactory picks the TCP or RTU factory based on the endpoint mode.
func NewClientFactory() ClientFactory {
	tcp := NewTCPClientFactory()
	rtu := NewRTUClientFactory()
	return func(cfg config.EndpointConfig) (Client, error) {
		if cfg.IsRTU() {
			return rtu(cfg)
		}
		return tcp(cfg)
	}
}
