// Package picocompanion implements the Pico companion driver of spec
// §4.4 (grounded in the original pico_driver.h/.cpp): a single I2C
// peripheral exposing a heterogeneous list of logical sub-devices (PWM
// outputs, ADC inputs, a stepper position, plain digital outputs) packed
// into one contiguous memory map, each keyed by a short tag such as
// "FPWM" or "A". A write updates the in-memory copy and pushes only the
// affected byte range back over the bus; a read refreshes the whole map
// before decoding the requested tag, since the wire protocol has no
// per-field addressing.
package picocompanion

import (
	"encoding/binary"
	"encoding/json"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/registry"
)

const Name = "picocompanion_driver"

// Kind selects how a sub-device's bytes in the memory map are encoded
// and which device.Unit its value is exposed as.
type Kind string

const (
	KindPWM     Kind = "pwm"     // 2 bytes LE, generic_pwm
	KindADC     Kind = "adc"     // 2 bytes LE, generic_analog, read-only
	KindStepper Kind = "stepper" // 4 bytes LE signed, generic_unsigned_integral (absolute steps)
	KindOutput  Kind = "output"  // 1 byte, enable
)

func (k Kind) width() int {
	switch k {
	case KindPWM, KindADC:
		return 2
	case KindStepper:
		return 4
	case KindOutput:
		return 1
	default:
		return 0
	}
}

// SubDevice describes one entry of the memory map.
type SubDevice struct {
	Tag    string `json:"tag"`
	Kind   Kind   `json:"kind"`
	Offset int    `json:"offset"`
}

// Config is the JSON payload stored in device.Config.Bytes.
type Config struct {
	Address uint8       `json:"address"`
	Port    string      `json:"i2c_port"`
	SDA     int         `json:"sda"`
	SCL     int         `json:"scl"`
	FreqHz  int         `json:"freq_hz"`
	Devices []SubDevice `json:"devices"`
}

type Driver struct {
	cfg     Config
	i2c     *arbiter.I2CHandle
	memMap  []byte
	byTag   map[string]SubDevice
	mapSize int
}

func init() { registry.RegisterBuilder(Name, build) }

func build(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
	var c Config
	if err := json.Unmarshal(cfg.Payload(), &c); err != nil {
		return nil, errcode.Wrap("build", errcode.MalformedInput, err)
	}
	if len(c.Devices) == 0 {
		return nil, errcode.New("build", errcode.MalformedInput, "picocompanion requires at least one sub-device")
	}

	byTag := make(map[string]SubDevice, len(c.Devices))
	size := 0
	for _, sd := range c.Devices {
		w := sd.Kind.width()
		if w == 0 {
			return nil, errcode.New("build", errcode.MalformedInput, "unknown sub-device kind: "+string(sd.Kind))
		}
		if _, dup := byTag[sd.Tag]; dup {
			return nil, errcode.New("build", errcode.MalformedInput, "duplicate sub-device tag: "+sd.Tag)
		}
		byTag[sd.Tag] = sd
		if end := sd.Offset + w; end > size {
			size = end
		}
	}

	if arb == nil {
		return nil, errcode.New("build", errcode.OperationFailed, "picocompanion driver requires an arbiter")
	}
	i2c, err := arb.AcquireI2C(c.Port, c.SDA, c.SCL, c.FreqHz)
	if err != nil {
		return nil, err
	}

	return &Driver{cfg: c, i2c: i2c, memMap: make([]byte, size), byTag: byTag, mapSize: size}, nil
}

func (d *Driver) GetInfo() registry.Info {
	channels := make([]string, 0, len(d.cfg.Devices))
	for _, sd := range d.cfg.Devices {
		channels = append(channels, sd.Tag)
	}
	return registry.Info{DriverName: Name, Channels: channels}
}

func (d *Driver) WriteValue(what string, v device.Value) error {
	sd, ok := d.byTag[what]
	if !ok {
		return errcode.New("write_value", errcode.NotSupported, "unknown sub-device tag: "+what)
	}
	if sd.Kind == KindADC {
		return errcode.New("write_value", errcode.NotSupported, "adc sub-devices are read-only")
	}

	w := sd.Kind.width()
	buf := make([]byte, w)
	switch sd.Kind {
	case KindPWM:
		val, ok := device.GetAs[uint16](v, device.PWM)
		if !ok {
			return errcode.New("write_value", errcode.MalformedInput, "expected pwm value")
		}
		binary.LittleEndian.PutUint16(buf, val)
	case KindStepper:
		val, ok := device.GetAs[uint16](v, device.UnsignedIntegral)
		if !ok {
			return errcode.New("write_value", errcode.MalformedInput, "expected generic_unsigned_integral value")
		}
		binary.LittleEndian.PutUint32(buf, uint32(val))
	case KindOutput:
		on, ok := device.GetAs[bool](v, device.Enable)
		if !ok {
			return errcode.New("write_value", errcode.MalformedInput, "expected enable value")
		}
		if on {
			buf[0] = 1
		}
	}

	copy(d.memMap[sd.Offset:sd.Offset+w], buf)
	return d.writeRange(sd.Offset, buf)
}

func (d *Driver) ReadValue(what string) (device.Value, error) {
	sd, ok := d.byTag[what]
	if !ok {
		return device.Value{}, errcode.New("read_value", errcode.NotSupported, "unknown sub-device tag: "+what)
	}
	if err := d.refresh(); err != nil {
		return device.Value{}, err
	}
	return decode(sd, d.memMap)
}

func decode(sd SubDevice, memMap []byte) (device.Value, error) {
	w := sd.Kind.width()
	buf := memMap[sd.Offset : sd.Offset+w]
	switch sd.Kind {
	case KindPWM:
		return device.PWMVal(binary.LittleEndian.Uint16(buf)), nil
	case KindADC:
		return device.AnalogVal(binary.LittleEndian.Uint16(buf)), nil
	case KindStepper:
		return device.UIntVal(uint16(binary.LittleEndian.Uint32(buf))), nil
	case KindOutput:
		return device.EnableVal(buf[0] != 0), nil
	}
	return device.Value{}, errcode.New("decode", errcode.OperationFailed, "unknown sub-device kind")
}

// CallAction supports "dump" (refreshes the memory map from the bus, a
// no-op beyond that since this driver has no out-of-band info buffer)
// and "discover" (re-reads the whole map without decoding anything, used
// after a Pico reboot to resynchronize the host's cached copy).
func (d *Driver) CallAction(action string, args []byte) error {
	switch action {
	case "dump", "discover":
		return d.refresh()
	}
	return errcode.New("call_device_action", errcode.NotSupported, "unknown action: "+action)
}

func (d *Driver) UpdateRuntimeData() error {
	return d.refresh()
}

func (d *Driver) refresh() error {
	if d.i2c == nil || d.i2c.Bus() == nil {
		return errcode.New("refresh", errcode.OperationFailed, "no i2c bus available")
	}
	buf := make([]byte, d.mapSize)
	if err := d.i2c.Bus().Tx(uint16(d.cfg.Address), nil, buf); err != nil {
		return errcode.Wrap("refresh", errcode.OperationFailed, err)
	}
	d.memMap = buf
	return nil
}

func (d *Driver) writeRange(offset int, data []byte) error {
	if d.i2c == nil || d.i2c.Bus() == nil {
		return errcode.New("write_range", errcode.OperationFailed, "no i2c bus available")
	}
	// The register address precedes the payload, mirroring the original
	// driver's "offset byte + data" write framing for partial updates.
	w := append([]byte{byte(offset)}, data...)
	return d.i2c.Bus().Tx(uint16(d.cfg.Address), w, nil)
}

func (d *Driver) Close() error {
	if d.i2c != nil {
		d.i2c.Release()
	}
	return nil
}
