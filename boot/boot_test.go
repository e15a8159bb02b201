package boot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/registry"
)

type fakeBootDriver struct{}

func (f *fakeBootDriver) GetInfo() registry.Info {
	return registry.Info{DriverName: "fake_boot_test_driver"}
}
func (f *fakeBootDriver) WriteValue(string, device.Value) error  { return nil }
func (f *fakeBootDriver) ReadValue(string) (device.Value, error) { return device.Value{}, nil }
func (f *fakeBootDriver) CallAction(string, []byte) error        { return nil }
func (f *fakeBootDriver) UpdateRuntimeData() error                { return nil }
func (f *fakeBootDriver) Close() error                            { return nil }

func init() {
	registry.RegisterBuilder("fake_boot_test_driver", func(cfg device.Config, arb *arbiter.Arbiter) (registry.Driver, error) {
		return &fakeBootDriver{}, nil
	})
}

func TestWireBootsWithoutHardware(t *testing.T) {
	dir := t.TempDir()
	env := Environment{
		MountPoint: dir,
		HTTPAddr:   "127.0.0.1:0",
		MaintTick:  50 * time.Millisecond,
	}

	sys, err := Wire(env)
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	}()

	if _, err := sys.Registry.CreateDevice(nil, "heater", device.Config{DriverName: "pin_driver"}); err == nil {
		t.Fatal("expected pin_driver to fail without a GPIO provider in a hardware-less test environment")
	}

	if _, err := os.Stat(filepath.Join(dir, "values.bin")); err == nil {
		t.Fatal("did not expect values.bin before any deferred flush")
	}
}

func TestWirePersistsAndRestoresDeviceTable(t *testing.T) {
	dir := t.TempDir()
	env := Environment{MountPoint: dir, HTTPAddr: "127.0.0.1:0", MaintTick: time.Second}

	sys, err := Wire(env)
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	if _, err := sys.Registry.CreateDevice(nil, "probe", device.Config{DriverName: "fake_boot_test_driver"}); err != nil {
		t.Fatalf("create device: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sys.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "devices.bin")); err != nil {
		t.Fatalf("expected devices.bin to have been written: %v", err)
	}

	sys2, err := Wire(env)
	if err != nil {
		t.Fatalf("re-wire: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sys2.Shutdown(ctx)
	}()
	if _, err := sys2.Registry.IndexByName("probe"); err != nil {
		t.Fatalf("expected probe device restored from devices.bin, got: %v", err)
	}
}

type switchFakeSensor struct{ value float64 }

func (f *switchFakeSensor) GetInfo() registry.Info         { return registry.Info{DriverName: "switch_fake_sensor"} }
func (f *switchFakeSensor) ReadValue(string) (device.Value, error) {
	return device.Temp(float32(f.value)), nil
}
func (f *switchFakeSensor) WriteValue(string, device.Value) error { return nil }
func (f *switchFakeSensor) CallAction(string, []byte) error       { return nil }
func (f *switchFakeSensor) UpdateRuntimeData() error               { return nil }
func (f *switchFakeSensor) Close() error                           { return nil }

type switchFakeActuator struct{ last device.Value }

func (f *switchFakeActuator) GetInfo() registry.Info { return registry.Info{DriverName: "switch_fake_actuator"} }
func (f *switchFakeActuator) WriteValue(_ string, v device.Value) error {
	f.last = v
	return nil
}
func (f *switchFakeActuator) ReadValue(string) (device.Value, error) { return f.last, nil }
func (f *switchFakeActuator) CallAction(string, []byte) error        { return nil }
func (f *switchFakeActuator) UpdateRuntimeData() error                { return nil }
func (f *switchFakeActuator) Close() error                            { return nil }

func TestWireSwitchesCommandsLowAboveTargetAndHighBelow(t *testing.T) {
	sensor := &switchFakeSensor{value: 26.0}
	actuator := &switchFakeActuator{}
	registry.RegisterBuilder("switch_fake_sensor_"+t.Name(), func(device.Config, *arbiter.Arbiter) (registry.Driver, error) {
		return sensor, nil
	})
	registry.RegisterBuilder("switch_fake_actuator_"+t.Name(), func(device.Config, *arbiter.Arbiter) (registry.Driver, error) {
		return actuator, nil
	})

	reg := registry.New(nil, 4)
	if _, err := reg.CreateDevice(nil, "tank_sensor", device.Config{DriverName: "switch_fake_sensor_" + t.Name()}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CreateDevice(nil, "tank_heater", device.Config{DriverName: "switch_fake_actuator_" + t.Name()}); err != nil {
		t.Fatal(err)
	}

	env := Environment{Switches: []SwitchSpec{{
		WriteDevice: "tank_heater", WriteChannel: "enable",
		ReadDevice: "tank_sensor", ReadChannel: "temperature",
		Target: 25, Allowed: 0.5, Low: 0, High: 1,
		Interval: time.Second,
	}}}

	runOnce := func() {
		controllers, err := wireSwitches(env, reg, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(controllers) != 1 {
			t.Fatalf("expected 1 controller, got %d", len(controllers))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
		defer cancel()
		go controllers[0].Run(ctx)
		<-ctx.Done()
		controllers[0].Stop()
	}

	runOnce()
	// 26.0C is above target+allowed: spec §4.7 says diff<0 selects low.
	got, ok := actuator.last.AsFloat64()
	if !ok || got != 0 {
		t.Fatalf("expected low value (0) commanded above target, got %+v", actuator.last)
	}

	sensor.value = 24.0
	runOnce()
	got, ok = actuator.last.AsFloat64()
	if !ok || got != 1 {
		t.Fatalf("expected high value (1) commanded below target, got %+v", actuator.last)
	}
}

func TestWireSwitchesRejectsSelfLoop(t *testing.T) {
	reg := registry.New(nil, 4)
	reg.CreateDevice(nil, "tank_heater", device.Config{DriverName: "fake_boot_test_driver"})

	env := Environment{Switches: []SwitchSpec{{
		WriteDevice: "tank_heater", WriteChannel: "enable",
		ReadDevice: "tank_heater", ReadChannel: "enable",
		Target: 25, Allowed: 0.5, Low: 0, High: 1,
		Interval: time.Second,
	}}}

	if _, err := wireSwitches(env, reg, nil); err == nil {
		t.Fatal("expected a switch reading and writing the same device to be rejected as a self-loop")
	}
}

func TestWireSwitchesRejectsUnknownDevice(t *testing.T) {
	reg := registry.New(nil, 4)
	reg.CreateDevice(nil, "tank_heater", device.Config{DriverName: "fake_boot_test_driver"})

	env := Environment{Switches: []SwitchSpec{{
		WriteDevice: "tank_heater", WriteChannel: "enable",
		ReadDevice: "no_such_device", ReadChannel: "temperature",
		Target: 25, Allowed: 0.5, Low: 0, High: 1,
		Interval: time.Second,
	}}}

	if _, err := wireSwitches(env, reg, nil); err == nil {
		t.Fatal("expected a switch referencing a nonexistent read device to be rejected")
	}
}

func TestValidateSwitchSpecRejectsUnknownWriteUnit(t *testing.T) {
	spec := SwitchSpec{ReadDevice: "sensor", WriteDevice: "actuator", WriteUnit: "not_a_unit"}
	if _, err := validateSwitchSpec(spec); err == nil {
		t.Fatal("expected unrecognised write_unit to be rejected")
	}
}

func TestLoadEnvironmentAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.yaml")
	if err := os.WriteFile(path, []byte("hostname: tank1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	env, err := LoadEnvironment(path)
	if err != nil {
		t.Fatal(err)
	}
	if env.Hostname != "tank1" {
		t.Fatalf("expected hostname tank1, got %q", env.Hostname)
	}
	if env.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", env.HTTPAddr)
	}
	if env.MaintTick != 5*time.Second {
		t.Fatalf("expected default maintenance tick, got %v", env.MaintTick)
	}
}
