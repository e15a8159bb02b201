// Package loadcell implements an HX711-style load cell scale driver
// (spec §4.4, grounded in the original scale_driver.h/.cpp): raw counts
// are converted to grams via a linear calibration (scale factor plus
// zero offset) and smoothed through a sample container, with a tare
// action to re-zero against the currently loaded weight.
package loadcell

import (
	"encoding/json"
	"time"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
	"aquacore/sample"
)

const Name = "loadcell_driver"

// Reader performs the clock/data bit-bang protocol against the ADC and
// returns one raw 24-bit-ish count. Platform wiring supplies the
// concrete GPIO-driven implementation.
type Reader interface {
	ReadRaw(clockPin, dataPin int) (int32, error)
}

type Config struct {
	ClockGPIO   int     `json:"clock_gpio"`
	DataGPIO    int     `json:"data_gpio"`
	ScaleFactor float64 `json:"scale_factor"` // grams per raw count
	ZeroOffset  int32   `json:"zero_offset"`
}

type Driver struct {
	cfg     Config
	clock   *arbiter.GPIOHandle
	data    *arbiter.GPIOHandle
	reader  Reader
	weight  *sample.Container
}

func init() { registry.RegisterBuilder(Name, build) }

var defaultReader Reader

// SetReader installs the platform-specific HX711 bit-bang implementation.
func SetReader(r Reader) { defaultReader = r }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	if c.ScaleFactor == 0 {
		c.ScaleFactor = 1
	}
	if arb == nil {
		return nil, errcode.New("build", errcode.OperationFailed, "load cell driver requires an arbiter")
	}
	clock, err := arb.AcquireGPIO(c.ClockGPIO, arbiter.PurposeGPIO)
	if err != nil {
		return nil, err
	}
	data, err := arb.AcquireGPIO(c.DataGPIO, arbiter.PurposeGPIO)
	if err != nil {
		clock.Release()
		return nil, err
	}
	return &Driver{cfg: c, clock: clock, data: data, reader: defaultReader, weight: sample.New(16, 3)}, nil
}

func (d *Driver) GetInfo() registry.Info {
	return registry.Info{DriverName: Name, Channels: []string{"weight"}}
}

func (d *Driver) WriteValue(channel string, v device.Value) error {
	return errcode.New("write_value", errcode.NotSupported, "loadcell channels are read-only")
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	if channel != "weight" {
		return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
	}
	s, ok := d.weight.Last()
	if !ok {
		return device.Value{}, errcode.New("read_value", errcode.OperationFailed, "no reading yet")
	}
	return device.MilliG(clampToInt16(s.Value)), nil
}

func clampToInt16(mg float64) int16 {
	if mg > 32767 {
		return 32767
	}
	if mg < -32768 {
		return -32768
	}
	return int16(mg)
}

// CallAction("tare", nil) sets the zero offset to the most recent raw
// reading, so the current load reads as zero going forward.
func (d *Driver) CallAction(action string, args []byte) error {
	if action != "tare" {
		return errcode.New("call_device_action", errcode.NotSupported, "unknown action")
	}
	if d.reader == nil {
		return errcode.New("call_device_action", errcode.OperationFailed, "no reader configured")
	}
	raw, err := d.reader.ReadRaw(d.cfg.ClockGPIO, d.cfg.DataGPIO)
	if err != nil {
		return errcode.Wrap("call_device_action", errcode.OperationFailed, err)
	}
	d.cfg.ZeroOffset = raw
	return nil
}

func (d *Driver) UpdateRuntimeData() error {
	if d.reader == nil {
		return errcode.New("update_runtime_data", errcode.OperationFailed, "no reader configured")
	}
	raw, err := d.reader.ReadRaw(d.cfg.ClockGPIO, d.cfg.DataGPIO)
	if err != nil {
		return errcode.Wrap("update_runtime_data", errcode.OperationFailed, err)
	}
	milligrams := float64(raw-d.cfg.ZeroOffset) * d.cfg.ScaleFactor * 1000
	d.weight.PutSample(milligrams, time.Now())
	return nil
}

func (d *Driver) Close() error {
	d.data.Release()
	d.clock.Release()
	return nil
}
