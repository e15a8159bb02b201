// Package switchctrl implements the switch controller of spec §4.7: a
// single goroutine per controlled channel that periodically compares a
// device's current value against a target and writes the difference,
// deferring persistence of the new value to the event store's debounced
// writer (mirrors the teacher's single-thread "watch, compare, apply"
// switch driver loop).
package switchctrl

import (
	"context"
	"time"

	"aquacore/device"
	"aquacore/registry"
	"aquacore/store"
	"aquacore/x/logx"
)

const (
	minInterval = 1 * time.Second
	maxInterval = 5 * time.Second
)

// TargetFunc computes the desired value for a channel at a given instant.
type TargetFunc func(now time.Time) (device.Value, bool, error)

// Controller drives one device channel toward whatever TargetFunc reports.
// The registry is addressed by DeviceIndex (its slot, resolved once at
// wiring time); DeviceName is kept only as the store's value-cache key,
// which is name-keyed independently of registry slot addressing.
type Controller struct {
	DeviceIndex int
	DeviceName  string
	Channel     string

	registry *registry.Registry
	store    *store.Store
	target   TargetFunc
	interval time.Duration
	log      interface {
		Error(string, ...any)
		Debug(string, ...any)
	}

	stop chan struct{}
	done chan struct{}
}

// New creates a Controller. interval is clamped into [1s, 5s] (spec §4.7).
func New(reg *registry.Registry, st *store.Store, deviceIndex int, deviceName, channel string, interval time.Duration, target TargetFunc) *Controller {
	if interval < minInterval {
		interval = minInterval
	}
	if interval > maxInterval {
		interval = maxInterval
	}
	return &Controller{
		DeviceIndex: deviceIndex,
		DeviceName:  deviceName,
		Channel:     channel,
		registry:    reg,
		store:       st,
		target:      target,
		interval:    interval,
		log:         logx.For("switchctrl"),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run drives the controller's loop until ctx is cancelled or Stop is
// called. Intended to be launched with `go c.Run(ctx)`.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

// Stop requests the loop to exit and waits for it to do so.
func (c *Controller) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}

func (c *Controller) tick(now time.Time) {
	want, ok, err := c.target(now)
	if err != nil {
		c.log.Error("compute target", "device", c.DeviceName, "channel", c.Channel, "err", err)
		return
	}
	if !ok {
		return
	}

	current, err := c.registry.ReadValue(c.DeviceIndex, c.Channel)
	if err != nil {
		c.log.Error("read current value", "device", c.DeviceName, "channel", c.Channel, "err", err)
		return
	}

	if equalValues(current, want) {
		return
	}

	if err := c.registry.WriteValue(c.DeviceIndex, c.Channel, want); err != nil {
		c.log.Error("write value", "device", c.DeviceName, "channel", c.Channel, "err", err)
		return
	}
	if c.store != nil {
		if err := c.store.SetDeviceValue(c.DeviceName, c.Channel, want, true); err != nil {
			c.log.Error("persist value", "device", c.DeviceName, "channel", c.Channel, "err", err)
		}
	}
	c.log.Debug("applied new target", "device", c.DeviceName, "channel", c.Channel)
}

func equalValues(a, b device.Value) bool {
	av, aok := a.AsFloat64()
	bv, bok := b.AsFloat64()
	if aok != bok {
		return false
	}
	if !aok {
		return true
	}
	return av == bv
}
