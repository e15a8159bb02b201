// Package gpioexpander implements a 16-pin I2C GPIO expander driver
// (spec §4.4, grounded in the original pcf8575_driver.h/.cpp): each of
// the chip's 16 pins is exposed as a named Enable channel, read and
// written as two whole bytes at a time since the chip has no per-pin
// addressing over the wire.
package gpioexpander

import (
	"encoding/json"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
)

const Name = "gpioexpander_driver"
const PinCount = 16

type Config struct {
	Address uint8             `json:"address"`
	Port    string            `json:"i2c_port"`
	SDA     int               `json:"sda"`
	SCL     int               `json:"scl"`
	FreqHz  int               `json:"freq_hz"`
	Pins    map[string]uint8  `json:"pins"` // channel name -> bit index 0..15
}

type Driver struct {
	cfg   Config
	i2c   *arbiter.I2CHandle
	state uint16 // shadow copy of the expander's output latch
}

func init() { registry.RegisterBuilder(Name, build) }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	for name, bit := range c.Pins {
		if bit >= PinCount {
			return nil, errcode.New("build", errcode.MalformedInput, "bit index out of range for "+name)
		}
	}
	if arb == nil {
		return nil, errcode.New("build", errcode.OperationFailed, "gpio expander requires an arbiter")
	}
	i2c, err := arb.AcquireI2C(c.Port, c.SDA, c.SCL, c.FreqHz)
	if err != nil {
		return nil, err
	}
	return &Driver{cfg: c, i2c: i2c, state: 0xFFFF}, nil
}

func (d *Driver) GetInfo() registry.Info {
	channels := make([]string, 0, len(d.cfg.Pins))
	for name := range d.cfg.Pins {
		channels = append(channels, name)
	}
	return registry.Info{DriverName: Name, Channels: channels}
}

func (d *Driver) WriteValue(channel string, v device.Value) error {
	bit, ok := d.cfg.Pins[channel]
	if !ok {
		return errcode.New("write_value", errcode.NotSupported, "unknown channel")
	}
	on, ok := device.GetAs[bool](v, device.Enable)
	if !ok {
		return errcode.New("write_value", errcode.MalformedInput, "expected enable value")
	}
	next := d.state
	if on {
		next |= 1 << bit
	} else {
		next &^= 1 << bit
	}
	if err := d.writeLatch(next); err != nil {
		return err
	}
	d.state = next
	return nil
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	bit, ok := d.cfg.Pins[channel]
	if !ok {
		return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
	}
	latch, err := d.readLatch()
	if err != nil {
		return device.Value{}, err
	}
	return device.EnableVal(latch&(1<<bit) != 0), nil
}

func (d *Driver) CallAction(action string, args []byte) error {
	return errcode.New("call_device_action", errcode.NotSupported, "gpio expander has no actions")
}

func (d *Driver) UpdateRuntimeData() error { return nil }

func (d *Driver) writeLatch(v uint16) error {
	if d.i2c == nil || d.i2c.Bus() == nil {
		return errcode.New("write_latch", errcode.OperationFailed, "no i2c bus available")
	}
	return d.i2c.Bus().Tx(uint16(d.cfg.Address), []byte{byte(v), byte(v >> 8)}, nil)
}

func (d *Driver) readLatch() (uint16, error) {
	if d.i2c == nil || d.i2c.Bus() == nil {
		return 0, errcode.New("read_latch", errcode.OperationFailed, "no i2c bus available")
	}
	buf := make([]byte, 2)
	if err := d.i2c.Bus().Tx(uint16(d.cfg.Address), nil, buf); err != nil {
		return 0, errcode.Wrap("read_latch", errcode.OperationFailed, err)
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func (d *Driver) Close() error {
	if d.i2c != nil {
		d.i2c.Release()
	}
	return nil
}
