// Package dhtxx implements a single-GPIO temperature/humidity sensor
// driver (spec §4.4, grounded in the original dhtxx_driver.h/.cpp). The
// chip's single-wire timing protocol is abstracted behind a Transceiver
// so the driver itself is agnostic to how the bit-level handshake is
// actually performed on a given platform.
package dhtxx

import (
	"encoding/json"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
)

const Name = "dhtxx_driver"

// Transceiver performs the DHTxx single-wire handshake on pin and
// returns raw temperature (in tenths of a degree C) and humidity (in
// tenths of a percent), matching the sensor's native fixed-point output.
type Transceiver interface {
	Read(pin int) (tempTenths int16, humidityTenths uint16, err error)
}

type Config struct {
	GPIO int `json:"gpio"`
}

type Driver struct {
	cfg   Config
	gpio  *arbiter.GPIOHandle
	tx    Transceiver
	temp  device.Value
	hum   device.Value
	ready bool
}

func init() { registry.RegisterBuilder(Name, build) }

// defaultTransceiver is overridden by platform wiring in boot; absent a
// real implementation it reports a failure rather than fabricating data.
var defaultTransceiver Transceiver

// SetTransceiver installs the platform-specific bit-bang implementation.
func SetTransceiver(t Transceiver) { defaultTransceiver = t }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	if arb == nil {
		return nil, errcode.New("build", errcode.OperationFailed, "dhtxx driver requires an arbiter")
	}
	gpio, err := arb.AcquireGPIO(c.GPIO, arbiter.PurposeGPIO)
	if err != nil {
		return nil, err
	}
	return &Driver{cfg: c, gpio: gpio, tx: defaultTransceiver}, nil
}

func (d *Driver) GetInfo() registry.Info {
	return registry.Info{DriverName: Name, Channels: []string{"temperature", "humidity"}}
}

func (d *Driver) WriteValue(channel string, v device.Value) error {
	return errcode.New("write_value", errcode.NotSupported, "dhtxx channels are read-only")
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	if !d.ready {
		return device.Value{}, errcode.New("read_value", errcode.OperationFailed, "no reading yet")
	}
	switch channel {
	case "temperature":
		return d.temp, nil
	case "humidity":
		return d.hum, nil
	}
	return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
}

func (d *Driver) CallAction(action string, args []byte) error {
	return errcode.New("call_device_action", errcode.NotSupported, "dhtxx driver has no actions")
}

func (d *Driver) UpdateRuntimeData() error {
	if d.tx == nil {
		return errcode.New("update_runtime_data", errcode.OperationFailed, "no transceiver configured")
	}
	tempTenths, humTenths, err := d.tx.Read(d.cfg.GPIO)
	if err != nil {
		return errcode.Wrap("update_runtime_data", errcode.OperationFailed, err)
	}
	d.temp = device.Temp(float32(tempTenths) / 10)
	d.hum = device.Hum(float32(humTenths) / 10)
	d.ready = true
	return nil
}

func (d *Driver) Close() error {
	if d.gpio != nil {
		d.gpio.Release()
	}
	return nil
}
