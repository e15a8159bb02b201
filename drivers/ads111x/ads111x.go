// Package ads111x implements a 4-channel I2C analog-to-digital converter
// driver (spec §4.4, grounded in the original ads111x_driver.h/.cpp): one
// sample.Container per channel smooths readings, and the chip's I2C
// address is reserved process-wide so two instances never claim the same
// address on the same bus.
package ads111x

import (
	"encoding/json"
	"time"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/drivers/internal/addrset"
	"aquacore/errcode"
	"aquacore/registry"
	"aquacore/sample"
)

const Name = "ads111x_driver"
const MaxChannels = 4

var addresses = addrset.New[uint8]()

// Config is the JSON payload stored in device.Config.Bytes.
type Config struct {
	Address uint8  `json:"address"` // one of 0x48-0x4B
	Port    string `json:"i2c_port"`
	SDA     int    `json:"sda"`
	SCL     int    `json:"scl"`
	FreqHz  int    `json:"freq_hz"`
}

type Driver struct {
	cfg      Config
	i2c      *arbiter.I2CHandle
	readings [MaxChannels]*sample.Container
}

func init() {
	registry.RegisterBuilder(Name, build)
}

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	if !addresses.Claim(c.Address) {
		return nil, errcode.New("build", errcode.AddressCollision, "ads111x address already in use")
	}
	if arb == nil {
		addresses.Release(c.Address)
		return nil, errcode.New("build", errcode.OperationFailed, "ads111x driver requires an arbiter")
	}

	i2c, err := arb.AcquireI2C(c.Port, c.SDA, c.SCL, c.FreqHz)
	if err != nil {
		addresses.Release(c.Address)
		return nil, err
	}

	d := &Driver{cfg: c, i2c: i2c}
	for i := range d.readings {
		d.readings[i] = sample.New(16, 3)
	}
	return d, nil
}

func channelIndex(channel string) (int, bool) {
	switch channel {
	case "ch0":
		return 0, true
	case "ch1":
		return 1, true
	case "ch2":
		return 2, true
	case "ch3":
		return 3, true
	}
	return 0, false
}

func (d *Driver) GetInfo() registry.Info {
	return registry.Info{DriverName: Name, Channels: []string{"ch0", "ch1", "ch2", "ch3"}}
}

func (d *Driver) WriteValue(channel string, v device.Value) error {
	return errcode.New("write_value", errcode.NotSupported, "ads111x channels are read-only")
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	idx, ok := channelIndex(channel)
	if !ok {
		return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
	}
	last, ok := d.readings[idx].Last()
	if !ok {
		return device.Value{}, errcode.New("read_value", errcode.OperationFailed, "no reading yet")
	}
	return device.AnalogVal(uint16(last.Value)), nil
}

func (d *Driver) CallAction(action string, args []byte) error {
	return errcode.New("call_device_action", errcode.NotSupported, "ads111x driver has no actions")
}

// UpdateRuntimeData performs one conversion read per channel over I2C and
// feeds it through that channel's sample container (spec §4.4 "background
// polling"). A single read failure is reported but does not block the
// other channels.
func (d *Driver) UpdateRuntimeData() error {
	var firstErr error
	for i := 0; i < MaxChannels; i++ {
		raw, err := d.readChannel(i)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.readings[i].PutSample(float64(raw), time.Now())
	}
	return firstErr
}

func (d *Driver) readChannel(ch int) (uint16, error) {
	if d.i2c == nil || d.i2c.Bus() == nil {
		return 0, errcode.New("read_channel", errcode.OperationFailed, "no i2c bus available")
	}
	config := []byte{0x01, byte(0x80 | (ch << 4)), 0xE3}
	result := make([]byte, 2)
	if err := d.i2c.Bus().Tx(uint16(d.cfg.Address), config, nil); err != nil {
		return 0, errcode.Wrap("read_channel", errcode.OperationFailed, err)
	}
	if err := d.i2c.Bus().Tx(uint16(d.cfg.Address), []byte{0x00}, result); err != nil {
		return 0, errcode.Wrap("read_channel", errcode.OperationFailed, err)
	}
	return uint16(result[0])<<8 | uint16(result[1]), nil
}

func (d *Driver) Close() error {
	addresses.Release(d.cfg.Address)
	if d.i2c != nil {
		d.i2c.Release()
	}
	return nil
}
