// Package pin implements a single GPIO line driver (spec §4.4, grounded
// in the original pin_driver.cpp): a line opened as a plain digital
// input/output, a PWM output sharing an arbiter timer+channel, or a
// timed output that reverts to its rest level after a configured
// duration.
package pin

import (
	"encoding/json"
	"sync"
	"time"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
	"aquacore/taskpool"
	"aquacore/x/mathx"
	"aquacore/x/ramp"
)

const Name = "pin_driver"

// Kind mirrors the original PinType enum.
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
	KindPWM    Kind = "pwm"
	KindTimed  Kind = "timed"
)

// Config is the JSON-encoded payload stored in device.Config.Bytes.
type Config struct {
	Kind      Kind               `json:"kind"`
	GPIO      int                `json:"gpio"`
	Invert    bool               `json:"invert"`
	FreqHz    int                `json:"freq_hz"`
	Resolution int               `json:"resolution_bits"`
	TimerNum  int                `json:"timer_num"`
	RestHigh  bool               `json:"rest_high"`
	TimedFor  time.Duration      `json:"timed_for"`
	RampMs    uint32             `json:"ramp_ms"`
}

type Driver struct {
	cfg     Config
	gpio    *arbiter.GPIOHandle
	timer   *arbiter.TimerHandle
	channel *arbiter.ChannelHandle
	pool    *taskpool.Pool
	tracker *taskpool.Tracker

	mu      sync.Mutex
	current device.Value
	rampGen uint64
}

func init() {
	registry.RegisterBuilder(Name, build)
}

// pools is the shared task pool timed-output reversion is scheduled on;
// boot wiring may replace it with Configure for a per-process pool.
var pools = taskpool.New()

// Configure lets boot wiring install the process-wide task pool this
// package's timed outputs schedule their reversion on.
func Configure(p *taskpool.Pool) { pools = p }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}

	d := &Driver{cfg: c, pool: pools}
	if arb == nil {
		return nil, errcode.New("build", errcode.OperationFailed, "pin driver requires an arbiter")
	}

	purpose := arbiter.PurposeGPIO
	gpioHandle, err := arb.AcquireGPIO(c.GPIO, purpose)
	if err != nil {
		return nil, err
	}
	d.gpio = gpioHandle

	switch c.Kind {
	case KindInput:
		if err := gpioHandle.Line().ConfigureInput(false); err != nil {
			return nil, errcode.Wrap("build", errcode.OperationFailed, err)
		}
	case KindOutput, KindTimed:
		if err := gpioHandle.Line().ConfigureOutput(c.RestHigh); err != nil {
			return nil, errcode.Wrap("build", errcode.OperationFailed, err)
		}
		d.current = device.EnableVal(c.RestHigh)
	case KindPWM:
		if err := gpioHandle.Line().ConfigureOutput(false); err != nil {
			return nil, errcode.Wrap("build", errcode.OperationFailed, err)
		}
		timerHandle, err := arb.AcquireTimer(arbiter.TimerConfig{
			FreqHz: c.FreqHz, ResolutionBits: c.Resolution, TimerNumber: c.TimerNum,
		})
		if err != nil {
			gpioHandle.Release()
			return nil, err
		}
		channelHandle, err := arb.AcquireChannel()
		if err != nil {
			timerHandle.Release()
			gpioHandle.Release()
			return nil, err
		}
		d.timer = timerHandle
		d.channel = channelHandle
		d.current = device.PWMVal(0)
	default:
		gpioHandle.Release()
		return nil, errcode.New("build", errcode.MalformedInput, "unknown pin kind")
	}

	return d, nil
}

func (d *Driver) GetInfo() registry.Info {
	return registry.Info{DriverName: Name, Channels: []string{"value"}}
}

func (d *Driver) WriteValue(channel string, v device.Value) error {
	if channel != "value" {
		return errcode.New("write_value", errcode.NotSupported, "unknown channel")
	}
	switch d.cfg.Kind {
	case KindOutput:
		on, ok := device.GetAs[bool](v, device.Enable)
		if !ok {
			return errcode.New("write_value", errcode.MalformedInput, "expected enable value")
		}
		d.gpio.Line().Set(d.applyInvert(on))
		d.mu.Lock()
		d.current = v
		d.mu.Unlock()
		return nil
	case KindTimed:
		on, ok := device.GetAs[bool](v, device.Enable)
		if !ok {
			return errcode.New("write_value", errcode.MalformedInput, "expected enable value")
		}
		d.gpio.Line().Set(d.applyInvert(on))
		d.mu.Lock()
		d.current = v
		d.mu.Unlock()
		if d.tracker != nil {
			d.tracker.Cancel()
		}
		if on && d.cfg.TimedFor > 0 {
			d.tracker = d.pool.ScheduleOnce(d.cfg.TimedFor, func() {
				d.gpio.Line().Set(d.applyInvert(d.cfg.RestHigh))
				d.mu.Lock()
				d.current = device.EnableVal(d.cfg.RestHigh)
				d.mu.Unlock()
			})
		}
		return nil
	case KindPWM:
		if duty, ok := device.GetAs[uint16](v, device.PWM); ok {
			d.startRamp(duty)
			return nil
		}
		if pct, ok := device.GetAs[uint8](v, device.Percentage); ok {
			d.startRamp(d.dutyFromPercentage(pct))
			return nil
		}
		return errcode.New("write_value", errcode.MalformedInput, "expected pwm or percentage value")
	default:
		return errcode.New("write_value", errcode.NotSupported, "input pins are read-only")
	}
}

func (d *Driver) ReadValue(channel string) (device.Value, error) {
	if channel != "value" {
		return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown channel")
	}
	if d.cfg.Kind == KindInput {
		return device.EnableVal(d.applyInvert(d.gpio.Line().Get())), nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

func (d *Driver) CallAction(action string, args []byte) error {
	return errcode.New("call_device_action", errcode.NotSupported, "pin driver has no actions")
}

func (d *Driver) UpdateRuntimeData() error { return nil }

func (d *Driver) Close() error {
	d.mu.Lock()
	d.rampGen++ // cancel any in-flight PWM ramp
	d.mu.Unlock()
	if d.tracker != nil {
		d.tracker.Cancel()
	}
	if d.channel != nil {
		d.channel.Release()
	}
	if d.timer != nil {
		d.timer.Release()
	}
	if d.gpio != nil {
		d.gpio.Release()
	}
	return nil
}

func (d *Driver) applyInvert(level bool) bool {
	if d.cfg.Invert {
		return !level
	}
	return level
}

// rampSteps is how finely a timed PWM ramp subdivides its travel; the
// timer/channel resource itself has no duty-cycle write hook (spec §4.4
// models PWM resource ownership, not a concrete hardware backend), so the
// ramp only ever advances d.current, same as an immediate write would.
const rampSteps = 32

// pwmTop is the maximum duty value for the driver's configured resolution,
// defaulting to 16-bit range when no resolution was configured.
func (d *Driver) pwmTop() uint16 {
	if d.cfg.Resolution <= 0 || d.cfg.Resolution >= 16 {
		return 0xFFFF
	}
	return uint16(1<<uint(d.cfg.Resolution)) - 1
}

// dutyFromPercentage scales a 0-100 percentage to the configured duty
// range (spec §4.4: PWM writes accept duty "from generic_pwm or converted
// from percentage"), honouring Invert so 100% maps to the lowest duty on an
// inverted pin.
func (d *Driver) dutyFromPercentage(pct uint8) uint16 {
	if pct > 100 {
		pct = 100
	}
	top := d.pwmTop()
	duty := uint16((uint32(top)*uint32(pct) + 50) / 100)
	if d.cfg.Invert {
		return top - duty
	}
	return duty
}

// startRamp moves the PWM output from its current duty to target. With
// RampMs set it steps there over that duration on its own goroutine,
// superseding any ramp already in flight; with RampMs unset it snaps
// immediately, matching ramp.StartLinear's own zero-duration behaviour.
func (d *Driver) startRamp(target uint16) {
	d.mu.Lock()
	cur, _ := device.GetAs[uint16](d.current, device.PWM)
	d.rampGen++
	gen := d.rampGen
	d.mu.Unlock()

	top := d.pwmTop()
	if d.cfg.RampMs == 0 {
		d.mu.Lock()
		d.current = device.PWMVal(mathx.Min(target, top))
		d.mu.Unlock()
		return
	}

	go ramp.StartLinear(cur, target, top, d.cfg.RampMs, rampSteps,
		func(step time.Duration) bool {
			time.Sleep(step)
			d.mu.Lock()
			defer d.mu.Unlock()
			return gen == d.rampGen
		},
		func(level uint16) {
			d.mu.Lock()
			if gen == d.rampGen {
				d.current = device.PWMVal(level)
			}
			d.mu.Unlock()
		},
	)
}
