package store

import (
	"sync"
	"testing"
	"time"

	"aquacore/device"
)

type recordingPersister[S any] struct {
	mu    sync.Mutex
	saves int
	last  S
}

func (p *recordingPersister[S]) Save(s S) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.last = s
	return nil
}

func (p *recordingPersister[S]) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func TestImmediateWritePersistsSynchronously(t *testing.T) {
	p := &recordingPersister[DeviceStates]{}
	s := New(p, nil)
	if err := s.SetDeviceValue("heater", "out", device.EnableVal(true), false); err != nil {
		t.Fatal(err)
	}
	if p.count() != 1 {
		t.Fatalf("expected 1 synchronous save, got %d", p.count())
	}
}

func TestDeferredWritesCoalesce(t *testing.T) {
	p := &recordingPersister[DeviceStates]{}
	s := New(p, nil)
	s.Devices.debounce = 30 * time.Millisecond
	for i := 0; i < 5; i++ {
		if err := s.SetDeviceValue("heater", "out", device.Pct(uint8(i)), true); err != nil {
			t.Fatal(err)
		}
	}
	if p.count() != 0 {
		t.Fatalf("expected no synchronous saves yet, got %d", p.count())
	}
	time.Sleep(80 * time.Millisecond)
	if p.count() != 1 {
		t.Fatalf("expected exactly one coalesced save, got %d", p.count())
	}
}

func TestGetDeviceValueRoundTrip(t *testing.T) {
	s := New(nil, nil)
	s.SetDeviceValue("probe", "ph", device.PHValue(7.2), false)
	v, err := s.GetDeviceValue("probe", "ph")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := device.GetAs[float32](v, device.PH)
	if !ok || got < 7.1 || got > 7.3 {
		t.Fatalf("unexpected value %v ok=%v", got, ok)
	}
}

func TestGetMissingDeviceValueFails(t *testing.T) {
	s := New(nil, nil)
	if _, err := s.GetDeviceValue("missing", "x"); err == nil {
		t.Fatal("expected error for missing device")
	}
}

func TestRemoveDeviceDropsState(t *testing.T) {
	s := New(nil, nil)
	s.SetDeviceValue("probe", "ph", device.PHValue(7.0), false)
	s.RemoveDevice("probe", false)
	if _, err := s.GetDeviceValue("probe", "ph"); err == nil {
		t.Fatal("expected value to be gone after removal")
	}
}

type seededPersister[S any] struct {
	recordingPersister[S]
	seed S
}

func (p *seededPersister[S]) Load() (S, error) { return p.seed, nil }

func TestNewFromPersistedSeedsInitialState(t *testing.T) {
	devices := &seededPersister[DeviceStates]{seed: DeviceStates{"probe": {"ph": device.PHValue(6.5)}}}
	settings := &seededPersister[Settings]{seed: Settings{"units": "metric"}}

	s, err := NewFromPersisted(devices, settings)
	if err != nil {
		t.Fatal(err)
	}
	v, err := s.GetDeviceValue("probe", "ph")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := device.GetAs[float32](v, device.PH); !ok || got < 6.4 || got > 6.6 {
		t.Fatalf("expected seeded ph value, got %v ok=%v", got, ok)
	}
	var units string
	s.Settings.ReadEvent(func(set Settings) { units = set["units"] })
	if units != "metric" {
		t.Fatalf("expected seeded settings, got %q", units)
	}
}

func TestNewFromPersistedWithNilPersistersStartsEmpty(t *testing.T) {
	s, err := NewFromPersisted(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDeviceValue("anything", "x"); err == nil {
		t.Fatal("expected empty store with no recorded values")
	}
}
