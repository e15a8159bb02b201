package registry

import (
	"testing"

	"aquacore/arbiter"
	"aquacore/device"
)

type fakeDriver struct {
	channel string
	value   device.Value
	closed  bool
	updates int
}

func (f *fakeDriver) GetInfo() Info { return Info{DriverName: "fake_test_driver", Channels: []string{"out"}} }
func (f *fakeDriver) WriteValue(channel string, v device.Value) error {
	f.channel = channel
	f.value = v
	return nil
}
func (f *fakeDriver) ReadValue(channel string) (device.Value, error) { return f.value, nil }
func (f *fakeDriver) CallAction(action string, args []byte) error   { return nil }
func (f *fakeDriver) UpdateRuntimeData() error                      { f.updates++; return nil }
func (f *fakeDriver) Close() error                                  { f.closed = true; return nil }

func init() {
	RegisterBuilder("fake_test_driver", func(cfg device.Config, arb *arbiter.Arbiter) (Driver, error) {
		return &fakeDriver{}, nil
	})
}

func TestCreateWriteReadDevice(t *testing.T) {
	r := New(nil, 4)
	idx, err := r.CreateDevice(nil, "heater", device.Config{DriverName: "fake_test_driver"})
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("expected first device to land at index 0, got %d", idx)
	}
	if err := r.WriteValue(idx, "out", device.EnableVal(true)); err != nil {
		t.Fatal(err)
	}
	v, err := r.ReadValue(idx, "out")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := device.GetAs[bool](v, device.Enable)
	if !ok || !got {
		t.Fatalf("expected enable=true, got %v ok=%v", got, ok)
	}
}

func TestCreateWithExplicitIndex(t *testing.T) {
	r := New(nil, 4)
	explicit := 3
	idx, err := r.CreateDevice(&explicit, "heater", device.Config{DriverName: "fake_test_driver"})
	if err != nil {
		t.Fatal(err)
	}
	if idx != 3 {
		t.Fatalf("expected device to land at the requested index 3, got %d", idx)
	}
	if _, err := r.Info(3); err != nil {
		t.Fatalf("expected device at index 3, got: %v", err)
	}
}

func TestCreateWithOutOfRangeIndexFails(t *testing.T) {
	r := New(nil, 4)
	bad := 10
	if _, err := r.CreateDevice(&bad, "heater", device.Config{DriverName: "fake_test_driver"}); err == nil {
		t.Fatal("expected out-of-range index to fail")
	}
}

func TestCreateUnknownDriverFails(t *testing.T) {
	r := New(nil, 4)
	if _, err := r.CreateDevice(nil, "x", device.Config{DriverName: "no_such_driver"}); err == nil {
		t.Fatal("expected unknown driver type to fail")
	}
}

func TestRemoveDeviceClosesDriver(t *testing.T) {
	r := New(nil, 4)
	idx, _ := r.CreateDevice(nil, "heater", device.Config{DriverName: "fake_test_driver"})
	e, _ := r.array.GetAt(idx)
	fd := e.driver.(*fakeDriver)
	if err := r.RemoveDevice(idx); err != nil {
		t.Fatal(err)
	}
	if !fd.closed {
		t.Fatal("expected driver to be closed on removal")
	}
}

func TestRemoveThenReadFromDeviceReturnsIndexInvalid(t *testing.T) {
	r := New(nil, 4)
	idx, _ := r.CreateDevice(nil, "heater", device.Config{DriverName: "fake_test_driver"})
	if err := r.RemoveDevice(idx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadValue(idx, "out"); err == nil {
		t.Fatal("expected read of removed device to fail with index_invalid")
	}
}

func TestIndexByNameResolvesAfterCreate(t *testing.T) {
	r := New(nil, 4)
	idx, _ := r.CreateDevice(nil, "probe", device.Config{DriverName: "fake_test_driver"})
	got, err := r.IndexByName("probe")
	if err != nil || got != idx {
		t.Fatalf("expected IndexByName to resolve to %d, got %d err=%v", idx, got, err)
	}
}

func TestRunMaintenanceUpdatesAllDrivers(t *testing.T) {
	r := New(nil, 4)
	ia, _ := r.CreateDevice(nil, "a", device.Config{DriverName: "fake_test_driver"})
	ib, _ := r.CreateDevice(nil, "b", device.Config{DriverName: "fake_test_driver"})
	r.RunMaintenance()
	a, _ := r.array.GetAt(ia)
	b, _ := r.array.GetAt(ib)
	if a.driver.(*fakeDriver).updates != 1 || b.driver.(*fakeDriver).updates != 1 {
		t.Fatal("expected both drivers to receive one maintenance update")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	r := New(nil, 4)
	cfg := device.Config{DriverName: "fake_test_driver"}
	idx, err := r.CreateDevice(nil, "heater", cfg)
	if err != nil {
		t.Fatal(err)
	}

	entries := r.Snapshot()
	if len(entries) != 1 || entries[0].Name != "heater" || entries[0].Config.DriverName != "fake_test_driver" {
		t.Fatalf("unexpected snapshot: %+v", entries)
	}

	fresh := New(nil, 4)
	fresh.Restore(entries)
	if _, err := fresh.Info(idx); err != nil {
		t.Fatalf("expected restored device to land back at index %d, got error: %v", idx, err)
	}
}

func TestRestoreSkipsDeviceWithUnknownDriver(t *testing.T) {
	entries := []ConfigEntry{
		{Name: "good", Config: device.Config{DriverName: "fake_test_driver"}},
		{Name: "bad", Config: device.Config{DriverName: "no_such_driver"}},
	}
	r := New(nil, 4)
	r.Restore(entries)
	if _, err := r.IndexByName("good"); err != nil {
		t.Fatal("expected good device to be restored")
	}
	if _, err := r.IndexByName("bad"); err == nil {
		t.Fatal("expected bad device to be skipped, not restored")
	}
}
