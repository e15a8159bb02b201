// Package drv8825 implements a DRV8825 stepper-motor driver (spec §4.4,
// grounded in the original drv8825_driver.h/.cpp): step and direction
// GPIO lines plus an optional enable line, with an action to move a
// signed number of steps and a channel reporting absolute position.
package drv8825

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
)

const Name = "drv8825_driver"

type Config struct {
	StepGPIO   int           `json:"step_gpio"`
	DirGPIO    int           `json:"dir_gpio"`
	EnableGPIO int           `json:"enable_gpio"` // -1 if unused
	StepDelay  time.Duration `json:"step_delay"`
}

type Driver struct {
	cfg      Config
	step     *arbiter.GPIOHandle
	dir      *arbiter.GPIOHandle
	enable   *arbiter.GPIOHandle
	position int64
}

func init() { registry.RegisterBuilder(Name, build) }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	if arb == nil {
		return nil, errcode.New("build", errcode.OperationFailed, "drv8825 driver requires an arbiter")
	}

	step, err := arb.AcquireGPIO(c.StepGPIO, arbiter.PurposeGPIO)
	if err != nil {
		return nil, err
	}
	dir, err := arb.AcquireGPIO(c.DirGPIO, arbiter.PurposeGPIO)
	if err != nil {
		step.Release()
		return nil, err
	}
	var enable *arbiter.GPIOHandle
	if c.EnableGPIO >= 0 {
		enable, err = arb.AcquireGPIO(c.EnableGPIO, arbiter.PurposeGPIO)
		if err != nil {
			step.Release()
			dir.Release()
			return nil, err
		}
		_ = enable.Line().ConfigureOutput(false)
	}

	_ = step.Line().ConfigureOutput(false)
	_ = dir.Line().ConfigureOutput(false)

	return &Driver{cfg: c, step: step, dir: dir, enable: enable}, nil
}

func (d *Driver) GetInfo() registry.Info {
	return registry.Info{DriverName: Name, Channels: []string{"position"}}
}

func (d *Driver) WriteValue(channel string, v device.Value) error {
	return errcode.New("write_value", errcode.NotSupported, "use the move_steps action to drive the motor")
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	if channel != "position" {
		return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
	}
	return device.UIntVal(uint16(d.position & 0xFFFF)), nil
}

// CallAction("move_steps", args) moves the motor by a signed step count
// encoded as a little-endian int32 in args.
func (d *Driver) CallAction(action string, args []byte) error {
	if action != "move_steps" {
		return errcode.New("call_device_action", errcode.NotSupported, "unknown action")
	}
	if len(args) < 4 {
		return errcode.New("call_device_action", errcode.MalformedInput, "expected a 4-byte step count")
	}
	steps := int32(binary.LittleEndian.Uint32(args))

	if d.enable != nil {
		d.enable.Line().Set(true)
		defer d.enable.Line().Set(false)
	}
	d.dir.Line().Set(steps >= 0)

	n := steps
	if n < 0 {
		n = -n
	}
	delay := d.cfg.StepDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	for i := int32(0); i < n; i++ {
		d.step.Line().Set(true)
		time.Sleep(delay / 2)
		d.step.Line().Set(false)
		time.Sleep(delay / 2)
	}
	d.position += int64(steps)
	return nil
}

func (d *Driver) UpdateRuntimeData() error { return nil }

func (d *Driver) Close() error {
	if d.enable != nil {
		d.enable.Release()
	}
	d.dir.Release()
	d.step.Release()
	return nil
}
