// Package arbiter implements the resource arbiter of spec §4.1: a
// process-wide table of nominal hardware resources (GPIOs, PWM timers, PWM
// channels, I²C ports) and their current ownership, handed out as
// reference-counted shares for resources that can be shared (bus-purpose
// GPIOs, PWM timers with identical configuration, I²C ports) or as
// single-owner handles for resources that cannot (gpio-purpose GPIOs, PWM
// channels).
//
// All errors are reported to the caller; there are no retries, and
// concurrent acquisition is serialized by the Arbiter's own lock (spec
// §4.1 "Failure semantics").
package arbiter

import (
	"sync"

	"aquacore/errcode"
)

// Purpose distinguishes a GPIO claimed for bus wiring (shareable, e.g. an
// I²C SDA/SCL line feeding multiple logical ports) from one claimed as a
// plain single-owner digital line.
type Purpose uint8

const (
	PurposeGPIO Purpose = iota
	PurposeBus
)

// Line is the hardware-facing view of a claimed GPIO. The gpiod-backed
// host implementation is in host_gpio.go of this package; tests supply
// their own in-memory fakes.
type Line interface {
	ConfigureInput(pullUp bool) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Close() error
}

// LineProvider opens a hardware line for a given pin number.
type LineProvider interface {
	OpenLine(pin int) (Line, error)
}

// I2CBus is the hardware-facing view of a claimed I²C port.
type I2CBus interface {
	Tx(addr uint16, w, r []byte) error
	Close() error
}

// I2CProvider opens an I²C bus for a given port/pin combination.
type I2CProvider interface {
	OpenPort(port string, sda, scl int, freqHz int) (I2CBus, error)
}

// TimerConfig is the PWM timer configuration tuple of spec §3: two timers
// are shareable iff their tuples compare equal.
type TimerConfig struct {
	SpeedMode      int
	ResolutionBits int
	FreqHz         int
	TimerNumber    int
}

// Limits bounds the compile-time-fixed resource pools, mirroring the
// microcontroller's fixed peripheral count.
type Limits struct {
	MaxTimers   int
	MaxChannels int
}

var defaultLimits = Limits{MaxTimers: 4, MaxChannels: 16}

type gpioOwner struct {
	purpose Purpose
	shares  int
}

type timerSlot struct {
	cfg    TimerConfig
	inUse  bool
	shares int
}

type i2cOwner struct {
	port   string
	sda    int
	scl    int
	freqHz int
	bus    I2CBus
	shares int
}

// Arbiter is the process-wide resource table.
type Arbiter struct {
	mu sync.Mutex

	lines LineProvider
	i2c   I2CProvider

	gpios       map[int]*gpioOwner
	timers      []timerSlot
	channelFree []bool
	i2cPorts    map[string]*i2cOwner
}

// New constructs an Arbiter backed by the given hardware providers. Either
// may be nil: ownership is then still tracked, but a GPIO handle acquired
// without a LineProvider has a nil Line, and an I²C handle acquired without
// an I2CProvider has a nil Bus.
func New(lines LineProvider, i2c I2CProvider, limits Limits) *Arbiter {
	if limits.MaxTimers <= 0 {
		limits.MaxTimers = defaultLimits.MaxTimers
	}
	if limits.MaxChannels <= 0 {
		limits.MaxChannels = defaultLimits.MaxChannels
	}
	return &Arbiter{
		lines:       lines,
		i2c:         i2c,
		gpios:       make(map[int]*gpioOwner),
		timers:      make([]timerSlot, limits.MaxTimers),
		channelFree: make([]bool, limits.MaxChannels),
		i2cPorts:    make(map[string]*i2cOwner),
	}
}

// GPIOHandle is the ownership token for a claimed GPIO. Exclusive
// (purpose=GPIO) handles are move-only in spirit: Release must be called
// exactly once, and callers must not hold a handle past Release.
type GPIOHandle struct {
	arb     *Arbiter
	pin     int
	purpose Purpose
	line    Line
	closed  bool
}

func (h *GPIOHandle) Pin() int   { return h.pin }
func (h *GPIOHandle) Line() Line { return h.line }

// Release returns the pin to unowned (or drops one share); the hardware
// line itself is only physically closed once the last share is released.
func (h *GPIOHandle) Release() {
	if h == nil || h.closed {
		return
	}
	h.closed = true
	h.arb.releaseGPIO(h.pin)
}

// AcquireGPIO returns a handle if pin is unowned, or if it is owned with
// purpose==PurposeBus and the request is also PurposeBus (spec §4.1).
func (a *Arbiter) AcquireGPIO(pin int, purpose Purpose) (*GPIOHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	owner, exists := a.gpios[pin]
	if exists {
		if purpose != PurposeBus || owner.purpose != PurposeBus {
			return nil, errcode.New("acquire_gpio", errcode.ResourceBusy, "pin already owned")
		}
		owner.shares++
		return &GPIOHandle{arb: a, pin: pin, purpose: purpose}, nil
	}

	var line Line
	if a.lines != nil {
		l, err := a.lines.OpenLine(pin)
		if err != nil {
			return nil, errcode.Wrap("acquire_gpio", errcode.ResourceBusy, err)
		}
		line = l
	}
	a.gpios[pin] = &gpioOwner{purpose: purpose, shares: 1}
	return &GPIOHandle{arb: a, pin: pin, purpose: purpose, line: line}, nil
}

func (a *Arbiter) releaseGPIO(pin int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.gpios[pin]
	if !ok {
		return
	}
	owner.shares--
	if owner.shares <= 0 {
		delete(a.gpios, pin)
	}
}

// TimerHandle is a shared ownership token for a PWM timer slot.
type TimerHandle struct {
	arb    *Arbiter
	slot   int
	closed bool
}

func (h *TimerHandle) SlotNumber() int { return h.slot }

func (h *TimerHandle) Release() {
	if h == nil || h.closed {
		return
	}
	h.closed = true
	h.arb.releaseTimer(h.slot)
}

// AcquireTimer returns a shared handle to an existing timer slot whose
// configuration equals cfg, or programs a free slot with cfg (spec §4.1).
func (a *Arbiter) AcquireTimer(cfg TimerConfig) (*TimerHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.timers {
		if a.timers[i].inUse && a.timers[i].cfg == cfg {
			a.timers[i].shares++
			return &TimerHandle{arb: a, slot: i}, nil
		}
	}
	for i := range a.timers {
		if !a.timers[i].inUse {
			a.timers[i] = timerSlot{cfg: cfg, inUse: true, shares: 1}
			return &TimerHandle{arb: a, slot: i}, nil
		}
	}
	return nil, errcode.New("acquire_timer", errcode.ResourceBusy, "no free timer slot")
}

func (a *Arbiter) releaseTimer(slot int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot < 0 || slot >= len(a.timers) || !a.timers[slot].inUse {
		return
	}
	a.timers[slot].shares--
	if a.timers[slot].shares <= 0 {
		a.timers[slot] = timerSlot{}
	}
}

// ChannelHandle is an exclusive ownership token for a PWM channel.
type ChannelHandle struct {
	arb     *Arbiter
	channel int
	closed  bool
}

func (h *ChannelHandle) ChannelNumber() int { return h.channel }

func (h *ChannelHandle) Release() {
	if h == nil || h.closed {
		return
	}
	h.closed = true
	h.arb.releaseChannel(h.channel)
}

// AcquireChannel returns a handle to any free PWM channel.
func (a *Arbiter) AcquireChannel() (*ChannelHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, used := range a.channelFree {
		if !used {
			a.channelFree[i] = true
			return &ChannelHandle{arb: a, channel: i}, nil
		}
	}
	return nil, errcode.New("acquire_channel", errcode.ResourceBusy, "no free pwm channel")
}

func (a *Arbiter) releaseChannel(channel int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if channel < 0 || channel >= len(a.channelFree) {
		return
	}
	a.channelFree[channel] = false
}

// I2CHandle is a shared ownership token for an I²C port. Its SDA/SCL pins
// are held in bus purpose for the port's lifetime (spec §3).
type I2CHandle struct {
	arb    *Arbiter
	port   string
	bus    I2CBus
	sda    *GPIOHandle
	scl    *GPIOHandle
	closed bool
}

func (h *I2CHandle) Bus() I2CBus { return h.bus }

func (h *I2CHandle) Release() {
	if h == nil || h.closed {
		return
	}
	h.closed = true
	h.arb.releaseI2C(h.port)
}

// AcquireI2C returns the existing handle for port if any; otherwise it
// acquires sda/scl in bus purpose and opens a new port (spec §4.1).
func (a *Arbiter) AcquireI2C(port string, sda, scl int, freqHz int) (*I2CHandle, error) {
	a.mu.Lock()
	if owner, ok := a.i2cPorts[port]; ok {
		owner.shares++
		bus := owner.bus
		a.mu.Unlock()
		return &I2CHandle{arb: a, port: port, bus: bus}, nil
	}
	a.mu.Unlock()

	sdaHandle, err := a.AcquireGPIO(sda, PurposeBus)
	if err != nil {
		return nil, err
	}
	sclHandle, err := a.AcquireGPIO(scl, PurposeBus)
	if err != nil {
		sdaHandle.Release()
		return nil, err
	}

	var bus I2CBus
	if a.i2c != nil {
		bus, err = a.i2c.OpenPort(port, sda, scl, freqHz)
		if err != nil {
			sdaHandle.Release()
			sclHandle.Release()
			return nil, errcode.Wrap("acquire_i2c", errcode.ResourceBusy, err)
		}
	}

	a.mu.Lock()
	if owner, ok := a.i2cPorts[port]; ok {
		// Raced with another acquirer; drop our freshly-opened resources.
		owner.shares++
		existingBus := owner.bus
		a.mu.Unlock()
		sdaHandle.Release()
		sclHandle.Release()
		return &I2CHandle{arb: a, port: port, bus: existingBus}, nil
	}
	a.i2cPorts[port] = &i2cOwner{port: port, sda: sda, scl: scl, freqHz: freqHz, bus: bus, shares: 1}
	a.mu.Unlock()

	return &I2CHandle{arb: a, port: port, bus: bus, sda: sdaHandle, scl: sclHandle}, nil
}

func (a *Arbiter) releaseI2C(port string) {
	a.mu.Lock()
	owner, ok := a.i2cPorts[port]
	if !ok {
		a.mu.Unlock()
		return
	}
	owner.shares--
	last := owner.shares <= 0
	if last {
		delete(a.i2cPorts, port)
	}
	a.mu.Unlock()
	if last && owner.bus != nil {
		_ = owner.bus.Close()
	}
	if last {
		a.releaseGPIO(owner.sda)
		a.releaseGPIO(owner.scl)
	}
}
