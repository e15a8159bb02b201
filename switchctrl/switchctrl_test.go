package switchctrl

import (
	"testing"
	"time"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/registry"
	"aquacore/store"
)

type toggleDriver struct {
	value device.Value
}

func (d *toggleDriver) GetInfo() registry.Info {
	return registry.Info{DriverName: "switch_test_driver", Channels: []string{"out"}}
}
func (d *toggleDriver) WriteValue(channel string, v device.Value) error { d.value = v; return nil }
func (d *toggleDriver) ReadValue(channel string) (device.Value, error)  { return d.value, nil }
func (d *toggleDriver) CallAction(action string, args []byte) error     { return nil }
func (d *toggleDriver) UpdateRuntimeData() error                       { return nil }
func (d *toggleDriver) Close() error                                    { return nil }

func init() {
	registry.RegisterBuilder("switch_test_driver", func(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
		return &toggleDriver{value: device.EnableVal(false)}, nil
	})
}

func TestControllerAppliesDifferingTarget(t *testing.T) {
	reg := registry.New(nil, 4)
	idx, err := reg.CreateDevice(nil, "relay", device.Config{DriverName: "switch_test_driver"})
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(nil, nil)

	target := func(now time.Time) (device.Value, bool, error) {
		return device.EnableVal(true), true, nil
	}
	c := New(reg, st, idx, "relay", "out", 0, target)

	c.tick(time.Now())

	got, err := reg.ReadValue(idx, "out")
	if err != nil {
		t.Fatal(err)
	}
	on, ok := device.GetAs[bool](got, device.Enable)
	if !ok || !on {
		t.Fatalf("expected relay to be switched on, got %v ok=%v", on, ok)
	}

	persisted, err := st.GetDeviceValue("relay", "out")
	if err != nil {
		t.Fatal(err)
	}
	if pOn, _ := device.GetAs[bool](persisted, device.Enable); !pOn {
		t.Fatal("expected the new value to be recorded in the store too")
	}
}

func TestControllerSkipsWriteWhenAlreadyAtTarget(t *testing.T) {
	reg := registry.New(nil, 4)
	idx, _ := reg.CreateDevice(nil, "relay2", device.Config{DriverName: "switch_test_driver"})
	reg.WriteValue(idx, "out", device.EnableVal(true))

	calls := 0
	target := func(now time.Time) (device.Value, bool, error) {
		calls++
		return device.EnableVal(true), true, nil
	}
	st := store.New(nil, nil)
	c := New(reg, st, idx, "relay2", "out", 0, target)
	c.tick(time.Now())
	if calls != 1 {
		t.Fatalf("expected target evaluated once, got %d", calls)
	}
	if _, err := st.GetDeviceValue("relay2", "out"); err == nil {
		t.Fatal("expected no write to be recorded when the device is already at target")
	}
}

func TestIntervalClampedIntoBounds(t *testing.T) {
	c := New(nil, nil, 0, "x", "y", 100*time.Millisecond, nil)
	if c.interval != minInterval {
		t.Fatalf("expected interval clamped to %v, got %v", minInterval, c.interval)
	}
	c2 := New(nil, nil, 0, "x", "y", time.Hour, nil)
	if c2.interval != maxInterval {
		t.Fatalf("expected interval clamped to %v, got %v", maxInterval, c2.interval)
	}
}
