// Package ds18x20 implements a single 1-Wire temperature probe driver
// (spec §4.4, grounded in the original ds18x20_driver.h/.cpp): one probe,
// addressed by its 64-bit ROM code, on a shared 1-Wire GPIO line. The
// probe's ROM address is reserved process-wide so two slots never target
// the same physical sensor.
package ds18x20

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

const Name = "ds18x20_driver"

var addresses = addrset.New[uint64]()

// Bus performs a 1-Wire convert-and-read-scratchpad transaction for one
// ROM address on pin and returns the raw reading in tenths of a degree C
// (the chip's native fixed-point resolution). Platform wiring supplies
// the concrete bit-bang implementation; tests supply a fake.
type Bus interface {
	ReadTemperature(pin int, romCode uint64) (tenths int16, err error)
}

// Config is the JSON payload stored in device.Config.Bytes.
type Config struct {
	GPIO    int    `json:"gpio_num"`
	ROMCode uint64 `json:"rom_code"`
}

type Driver struct {
	cfg  Config
	gpio *arbiter.GPIOHandle
	bus  Bus
	temp *sample.Container
}

func init() { registry.RegisterBuilder(Name, build) }

var defaultBus Bus

// SetBus installs the platform-specific 1-Wire transceiver used by every
// ds18x20 instance built from then on.
func SetBus(b Bus) { defaultBus = b }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	if !addresses.Claim(c.ROMCode) {
		return nil, errcode.New("build", errcode.AddressCollision, "ds18x20 rom code already in use")
	}
	if arb == nil {
		addresses.Release(c.ROMCode)
		return nil, errcode.New("build", errcode.OperationFailed, "ds18x20 driver requires an arbiter")
	}

	// The 1-Wire line is shared among every probe on the same pin, so it
	// is acquired in bus purpose rather than exclusively owned.
	gpio, err := arb.AcquireGPIO(c.GPIO, arbiter.PurposeBus)
	if err != nil {
		addresses.Release(c.ROMCode)
		return nil, err
	}

	return &Driver{cfg: c, gpio: gpio, bus: defaultBus, temp: sample.New(16, 3)}, nil
}

func (d *Driver) GetInfo() registry.Info {
	return registry.Info{DriverName: Name, Channels: []string{"temperature"}}
}

func (d *Driver) WriteValue(channel string, v device.Value) error {
	return errcode.New("write_value", errcode.NotSupported, "ds18x20 channels are read-only")
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	if channel != "temperature" {
		return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
	}
	s, ok := d.temp.Last()
	if !ok {
		return device.Value{}, errcode.New("read_value", errcode.OperationFailed, "no reading yet")
	}
	return device.Temp(float32(s.Value)), nil
}

func (d *Driver) CallAction(action string, args []byte) error {
	return errcode.New("call_device_action", errcode.NotSupported, "ds18x20 driver has no actions")
}

func (d *Driver) UpdateRuntimeData() error {
	if d.bus == nil {
		return errcode.New("update_runtime_data", errcode.OperationFailed, "no 1-wire bus configured")
	}
	tenths, err := d.bus.ReadTemperature(d.cfg.GPIO, d.cfg.ROMCode)
	if err != nil {
		return errcode.Wrap("update_runtime_data", errcode.OperationFailed, err)
	}
	d.temp.PutSample(float64(tenths)/10, time.Now())
	return nil
}

func (d *Driver) Close() error {
	addresses.Release(d.cfg.ROMCode)
	if d.gpio != nil {
		d.gpio.Release()
	}
	return nil
}
