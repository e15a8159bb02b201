// Package dosingpump implements the logical dosing pump driver of spec
// §4.4, grounded in the original dosing_pump_driver.h/.cpp: it owns no
// hardware of its own. A "dose" write in millilitres is converted to a
// whole number of stepper pulses via a calibration constant, and that
// step count is written downstream to another configured device (e.g.
// a drv8825 stepper, or a pico companion channel) through the registry,
// deferred onto the task pool so the HTTP handler issuing the dose does
// not block on the downstream write.
package dosingpump

import (
	"encoding/json"
	"math"
	"sync"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
	"aquacore/taskpool"
)

const Name = "dosingpump_driver"

// Config calibrates the ml-to-steps conversion and names the downstream
// device/channel the computed step count is written to (spec §4.4
// "converts a milliliter value to generic_unsigned_integral steps using
// a calibration units_times_ten_per_ml").
type Config struct {
	TargetDevice       string  `json:"target_device"`
	TargetChannel      string  `json:"target_channel"`
	UnitsTimesTenPerML float64 `json:"units_times_ten_per_ml"`
}

// Sink is the subset of registry.Registry this driver needs to perform
// its deferred downstream write, narrowed so tests can supply a fake.
// Resolution is by device name, not slot index: target_device is a
// persisted cross-device reference that should keep working across a
// restore even if devices are re-created in a different order (see
// DESIGN.md).
type Sink interface {
	WriteValueByName(name, channel string, v device.Value) error
}

// sinkRegistry is set by boot wiring once the registry exists, the same
// late-binding indirection phprobe's SetSourceRegistry uses to break the
// registry/driver construction cycle.
var sinkRegistry Sink

// SetSinkRegistry installs the registry used to resolve target_device.
func SetSinkRegistry(s Sink) { sinkRegistry = s }

var pool = taskpool.New()

// Configure lets boot wiring install the process-wide task pool the
// deferred downstream write is scheduled on.
func Configure(p *taskpool.Pool) { pool = p }

type Driver struct {
	cfg  Config
	sink Sink
	pool *taskpool.Pool

	mu        sync.Mutex
	totalML   float32
	lastSteps uint16
}

func init() { registry.RegisterBuilder(Name, build) }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	if c.UnitsTimesTenPerML <= 0 {
		return nil, errcode.New("build", errcode.MalformedInput, "units_times_ten_per_ml must be positive")
	}
	if c.TargetDevice == "" || c.TargetChannel == "" {
		return nil, errcode.New("build", errcode.MalformedInput, "target_device and target_channel are required")
	}
	return &Driver{cfg: c, sink: sinkRegistry, pool: pool}, nil
}

func (d *Driver) GetInfo() registry.Info {
	return registry.Info{DriverName: Name, Channels: []string{"dose"}}
}

// WriteValue on "dose" (Milliliter) converts ml to a step count and
// enqueues a deferred write of it to the configured downstream device
// (spec §8 scenario F: units_times_ten_per_ml=2000, 1.5ml -> steps=300).
func (d *Driver) WriteValue(channel string, v device.Value) error {
	if channel != "dose" {
		return errcode.New("write_value", errcode.NotSupported, "unknown channel")
	}
	ml, ok := device.GetAs[float32](v, device.Milliliter)
	if !ok {
		return errcode.New("write_value", errcode.MalformedInput, "expected milliliter value")
	}
	if ml <= 0 {
		return nil
	}
	if d.sink == nil {
		return errcode.New("write_value", errcode.OperationFailed, "no downstream registry configured")
	}

	steps := uint16(math.Round(float64(ml) * d.cfg.UnitsTimesTenPerML / 10))

	d.mu.Lock()
	d.totalML += ml
	d.lastSteps = steps
	d.mu.Unlock()

	target, channelName := d.cfg.TargetDevice, d.cfg.TargetChannel
	sink := d.sink
	d.pool.ScheduleOnce(0, func() {
		_ = sink.WriteValueByName(target, channelName, device.UIntVal(steps))
	})
	return nil
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	if channel != "dose" {
		return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return device.MilliL(d.totalML), nil
}

func (d *Driver) CallAction(action string, args []byte) error {
	return errcode.New("call_device_action", errcode.NotSupported, "unknown action")
}

func (d *Driver) UpdateRuntimeData() error { return nil }

func (d *Driver) Close() error { return nil }
