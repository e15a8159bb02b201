// Package phprobe implements an analog pH probe driver (spec §4.4,
// grounded in the original ph_probe_driver.h/.cpp): it does not own an
// ADC itself but reads a voltage channel from another already-configured
// device (typically an ads111x channel) through the registry, and
// converts volts to pH with the configured linear slope and intercept.
// It has no calibration actions: the slope and intercept change only
// through its configuration.
package phprobe

import (
	"encoding/json"
	"time"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
	"aquacore/sample"
)

const Name = "phprobe_driver"

type Config struct {
	SourceDevice  string  `json:"source_device"`
	SourceChannel string  `json:"source_channel"`
	Slope         float64 `json:"slope"`     // pH per volt
	Intercept     float64 `json:"intercept"` // pH at 0V
}

// Source is the subset of registry.Registry this driver needs, so tests
// can supply a fake without building a full registry. Resolution is by
// device name, not slot index: source_device is a persisted cross-device
// reference that should keep working across a restore even if devices are
// re-created in a different order (see DESIGN.md).
type Source interface {
	ReadValueByName(deviceName, channel string) (device.Value, error)
}

type Driver struct {
	cfg    Config
	source Source
	ph     *sample.Container
}

func init() { registry.RegisterBuilder(Name, build) }

// sourceRegistry is set by boot wiring once the registry exists; the
// registry and every driver it builds are constructed together, so this
// indirection breaks the otherwise-circular dependency.
var sourceRegistry Source

// SetSourceRegistry installs the registry used to resolve source_device.
func SetSourceRegistry(s Source) { sourceRegistry = s }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	if c.Slope == 0 {
		return nil, errcode.New("build", errcode.MalformedInput, "slope must be non-zero")
	}
	return &Driver{cfg: c, source: sourceRegistry, ph: sample.New(16, 3)}, nil
}

func (d *Driver) GetInfo() registry.Info {
	return registry.Info{DriverName: Name, Channels: []string{"ph"}}
}

func (d *Driver) WriteValue(channel string, v device.Value) error {
	return errcode.New("write_value", errcode.NotSupported, "phprobe channels are read-only")
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	if channel != "ph" {
		return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
	}
	s, ok := d.ph.Last()
	if !ok {
		return device.Value{}, errcode.New("read_value", errcode.OperationFailed, "no reading yet")
	}
	return device.PHValue(float32(s.Value)), nil
}

// CallAction("calibrate", args) is not implemented as a free-form JSON
// payload here; recalibration is expected to happen by re-creating the
// device with new Config slope/intercept values via the registry.
func (d *Driver) CallAction(action string, args []byte) error {
	return errcode.New("call_device_action", errcode.NotSupported, "recalibrate via device reconfiguration")
}

func (d *Driver) UpdateRuntimeData() error {
	if d.source == nil {
		return errcode.New("update_runtime_data", errcode.OperationFailed, "no source registry configured")
	}
	v, err := d.source.ReadValueByName(d.cfg.SourceDevice, d.cfg.SourceChannel)
	if err != nil {
		return err
	}
	volts, ok := v.AsFloat64()
	if !ok {
		return errcode.New("update_runtime_data", errcode.MalformedInput, "source channel is not numeric")
	}
	ph := d.cfg.Slope*volts + d.cfg.Intercept
	d.ph.PutSample(ph, time.Now())
	return nil
}

func (d *Driver) Close() error { return nil }
