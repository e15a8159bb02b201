package store

import (
	"time"

	"aquacore/device"
	"aquacore/errcode"
)

// DeviceStates holds the last known value of every device channel,
// keyed by device name then channel name.
type DeviceStates map[string]map[string]device.Value

func (d DeviceStates) clone() DeviceStates {
	out := make(DeviceStates, len(d))
	for name, channels := range d {
		cc := make(map[string]device.Value, len(channels))
		for ch, v := range channels {
			cc[ch] = v
		}
		out[name] = cc
	}
	return out
}

// Store is the top-level event store of spec §4.5: the fixed tuple of
// independently-typed, independently-persisted sub-stores that make up
// all shared runtime state.
type Store struct {
	Devices  *SingleTypeStore[DeviceStates]
	Settings *SingleTypeStore[Settings]
}

// New constructs a Store with the given persisters (either may be nil to
// disable persistence for that sub-store, e.g. in tests).
func New(devicePersist Persister[DeviceStates], settingsPersist Persister[Settings]) *Store {
	return &Store{
		Devices:  NewSingleTypeStore(DeviceStates{}, devicePersist, 2*time.Second),
		Settings: NewSingleTypeStore(Settings{}, settingsPersist, 2*time.Second),
	}
}

// SetDeviceValue records a channel's latest value, creating the device's
// entry on first write.
func (s *Store) SetDeviceValue(name, channel string, v device.Value, deferPersist bool) error {
	return s.Devices.WriteEvent(func(d *DeviceStates) {
		m, ok := (*d)[name]
		if !ok {
			m = map[string]device.Value{}
			(*d)[name] = m
		}
		m[channel] = v
	}, deferPersist)
}

// GetDeviceValue returns the last recorded value for a device channel.
func (s *Store) GetDeviceValue(name, channel string) (device.Value, error) {
	var out device.Value
	found := false
	s.Devices.ReadEvent(func(d DeviceStates) {
		if m, ok := d[name]; ok {
			if v, ok := m[channel]; ok {
				out, found = v, true
			}
		}
	})
	if !found {
		return device.Value{}, errcode.New("get_device_value", errcode.IndexInvalid, "no recorded value for "+name+"/"+channel)
	}
	return out, nil
}

// RemoveDevice drops all recorded channel values for a device, e.g. when
// the device is deleted from the registry.
func (s *Store) RemoveDevice(name string, deferPersist bool) error {
	return s.Devices.WriteEvent(func(d *DeviceStates) {
		delete(*d, name)
	}, deferPersist)
}

// Flush forces both sub-stores' pending deferred writes to disk.
func (s *Store) Flush() {
	s.Devices.Flush()
	s.Settings.Flush()
}

// snapshotLoader is the subset of persistence.SnapshotPersister[S] a
// sub-store needs to seed itself from disk at boot.
type snapshotLoader[S any] interface {
	Persister[S]
	Load() (S, error)
}

// NewFromPersisted constructs a Store whose sub-stores are pre-seeded by
// loading from their persisters (spec §4.5: state is "populated from the
// persistence layer" the first time each sub-store is touched), rather
// than starting from the zero value the way New does. Either persister
// may be nil, in which case that sub-store starts empty exactly as New's
// does.
func NewFromPersisted(devicePersist snapshotLoader[DeviceStates], settingsPersist snapshotLoader[Settings]) (*Store, error) {
	devices := DeviceStates{}
	if devicePersist != nil {
		loaded, err := devicePersist.Load()
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			devices = loaded
		}
	}
	settings := Settings{}
	if settingsPersist != nil {
		loaded, err := settingsPersist.Load()
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			settings = loaded
		}
	}
	return &Store{
		Devices:  NewSingleTypeStore(devices, devicePersist, 2*time.Second),
		Settings: NewSingleTypeStore(settings, settingsPersist, 2*time.Second),
	}, nil
}
